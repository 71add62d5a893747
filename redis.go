package sessionware

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStore keeps each session as a JSON string and indexes session IDs in
// a sorted set scored by expiry, so expired sessions can be swept in one
// range query.
type RedisStore struct {
	client *redis.Client
	prefix string
}

// RedisConfig holds configuration for the Redis store.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	Prefix   string `yaml:"prefix"`
}

type redisRecord struct {
	ID       string          `json:"id"`
	Data     json.RawMessage `json:"data"`
	CreateAt int64           `json:"create_at"`
	ExpiryTo int64           `json:"expiry_to"`
}

// NewRedisStore connects to Redis and checks the connection.
func NewRedisStore(cfg RedisConfig) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to ping redis: %w", err)
	}

	return NewRedisStoreWithClient(client, cfg.Prefix), nil
}

// NewRedisStoreWithClient wraps an existing client.
func NewRedisStoreWithClient(client *redis.Client, prefix string) *RedisStore {
	if prefix == "" {
		prefix = "session:"
	}
	return &RedisStore{client: client, prefix: prefix}
}

func (s *RedisStore) key(id string) string {
	return s.prefix + id
}

func (s *RedisStore) indexKey() string {
	return s.prefix + "expiry"
}

// Sync only acts with force, removing every session under the prefix.
func (s *RedisStore) Sync(ctx context.Context, force bool) error {
	if !force {
		return nil
	}
	ids, err := s.client.ZRange(ctx, s.indexKey(), 0, -1).Result()
	if err != nil {
		return fmt.Errorf("failed to list sessions: %w", err)
	}
	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, id := range ids {
			pipe.Del(ctx, s.key(id))
		}
		pipe.Del(ctx, s.indexKey())
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to reset sessions: %w", err)
	}
	return nil
}

func (s *RedisStore) Find(ctx context.Context, id string) (*Record, error) {
	val, err := s.client.Get(ctx, s.key(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get from redis: %w", err)
	}

	var rr redisRecord
	if err := json.Unmarshal(val, &rr); err != nil {
		return nil, fmt.Errorf("failed to decode session record: %w", err)
	}
	return &Record{
		ID:       rr.ID,
		Data:     []byte(rr.Data),
		CreateAt: time.UnixMilli(rr.CreateAt).UTC(),
		ExpiryTo: time.UnixMilli(rr.ExpiryTo).UTC(),
	}, nil
}

func (s *RedisStore) Insert(ctx context.Context, r *Record) error {
	val, err := s.encode(r)
	if err != nil {
		return err
	}
	ok, err := s.client.SetNX(ctx, s.key(r.ID), val, 0).Result()
	if err != nil {
		return fmt.Errorf("failed to save to redis: %w", err)
	}
	if !ok {
		return fmt.Errorf("failed to insert session: duplicate id %q", r.ID)
	}
	if err := s.index(ctx, r); err != nil {
		return err
	}
	return nil
}

// Update overwrites an existing session. A session swept in the meantime
// is not resurrected.
func (s *RedisStore) Update(ctx context.Context, r *Record) error {
	val, err := s.encode(r)
	if err != nil {
		return err
	}
	ok, err := s.client.SetXX(ctx, s.key(r.ID), val, 0).Result()
	if err != nil {
		return fmt.Errorf("failed to save to redis: %w", err)
	}
	if !ok {
		return nil
	}
	return s.index(ctx, r)
}

func (s *RedisStore) index(ctx context.Context, r *Record) error {
	err := s.client.ZAdd(ctx, s.indexKey(), redis.Z{
		Score:  float64(r.ExpiryTo.UnixMilli()),
		Member: r.ID,
	}).Err()
	if err != nil {
		return fmt.Errorf("failed to index session expiry: %w", err)
	}
	return nil
}

func (s *RedisStore) encode(r *Record) ([]byte, error) {
	data := r.Data
	if len(data) == 0 {
		data = []byte("{}")
	}
	val, err := json.Marshal(redisRecord{
		ID:       r.ID,
		Data:     data,
		CreateAt: r.CreateAt.UnixMilli(),
		ExpiryTo: r.ExpiryTo.UnixMilli(),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to encode session record: %w", err)
	}
	return val, nil
}

func (s *RedisStore) Delete(ctx context.Context, id string) error {
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, s.key(id))
		pipe.ZRem(ctx, s.indexKey(), id)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to delete from redis: %w", err)
	}
	return nil
}

func (s *RedisStore) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	limit := "(" + strconv.FormatInt(now.UnixMilli(), 10)
	ids, err := s.client.ZRangeByScore(ctx, s.indexKey(), &redis.ZRangeBy{
		Min: "-inf",
		Max: limit,
	}).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to list expired sessions: %w", err)
	}
	if len(ids) == 0 {
		return 0, nil
	}

	keys := make([]string, len(ids))
	members := make([]any, len(ids))
	for i, id := range ids {
		keys[i] = s.key(id)
		members[i] = id
	}

	var del *redis.IntCmd
	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		del = pipe.Del(ctx, keys...)
		pipe.ZRem(ctx, s.indexKey(), members...)
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("failed to cleanup expired sessions: %w", err)
	}
	return del.Val(), nil
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}
