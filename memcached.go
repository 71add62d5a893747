package sessionware

import (
	"bytes"
	"context"
	"encoding/gob"
	"errors"
	"fmt"
	"time"

	"github.com/bradfitz/gomemcache/memcache"
)

// MemcachedStore implements the Store interface using Memcached.
//
// Memcached has no schema and no way to enumerate keys. Items are given an
// expiration matching the session expiry plus Retain, so the server evicts
// expired sessions itself and DeleteExpired always reports zero.
type MemcachedStore struct {
	client *memcache.Client
	prefix string
	retain time.Duration
}

// MemcachedConfig holds configuration for the Memcached store.
type MemcachedConfig struct {
	Servers []string
	// Prefix is prepended to every session ID to form the item key.
	Prefix string
	// Retain keeps items around after the session expired. Memcached cannot
	// be swept, so expired sessions stay readable by Find until the server
	// evicts them, and GC always reports zero deletions.
	Retain  time.Duration
	Timeout time.Duration // Timeout for Memcached operations. Defaults to 0 (no timeout) if not set.
}

// NewMemcachedStore creates a new MemcachedStore.
func NewMemcachedStore(servers ...string) *MemcachedStore {
	return NewMemcachedStoreWithConfig(MemcachedConfig{
		Servers: servers,
		// 1 second is usually sufficient for local/network cache.
		Timeout: 1 * time.Second,
	})
}

// NewMemcachedStoreWithConfig creates a new MemcachedStore with custom configuration.
func NewMemcachedStoreWithConfig(cfg MemcachedConfig) *MemcachedStore {
	client := memcache.New(cfg.Servers...)
	client.Timeout = cfg.Timeout

	if cfg.Prefix == "" {
		cfg.Prefix = "session:"
	}

	return &MemcachedStore{
		client: client,
		prefix: cfg.Prefix,
		retain: cfg.Retain,
	}
}

func init() {
	gob.Register(Record{})
}

func (s *MemcachedStore) key(id string) string {
	return s.prefix + id
}

// Sync is a no-op: Memcached has no schema. With force the whole cache is
// flushed.
func (s *MemcachedStore) Sync(ctx context.Context, force bool) error {
	if !force {
		return nil
	}
	if err := s.client.FlushAll(); err != nil {
		return fmt.Errorf("failed to flush memcached: %w", err)
	}
	return nil
}

// Find retrieves a session from Memcached.
func (s *MemcachedStore) Find(ctx context.Context, id string) (*Record, error) {
	item, err := s.client.Get(s.key(id))
	if err == memcache.ErrCacheMiss {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get from memcached: %w", err)
	}

	reader := readerPool.Get().(*bytes.Reader)
	reader.Reset(item.Value)
	defer readerPool.Put(reader)

	var rec Record
	if err := gob.NewDecoder(reader).Decode(&rec); err != nil {
		return nil, fmt.Errorf("failed to decode session record: %w", err)
	}
	return &rec, nil
}

// Insert adds a session that must not exist yet.
func (s *MemcachedStore) Insert(ctx context.Context, r *Record) error {
	item, err := s.item(r)
	if err != nil {
		return err
	}
	if err := s.client.Add(item); err != nil {
		if errors.Is(err, memcache.ErrNotStored) {
			return fmt.Errorf("failed to insert session: duplicate id %q", r.ID)
		}
		return fmt.Errorf("failed to save to memcached: %w", err)
	}
	return nil
}

// Update overwrites an existing session. A session that was evicted in the
// meantime is not resurrected.
func (s *MemcachedStore) Update(ctx context.Context, r *Record) error {
	item, err := s.item(r)
	if err != nil {
		return err
	}
	if err := s.client.Replace(item); err != nil && !errors.Is(err, memcache.ErrNotStored) {
		return fmt.Errorf("failed to save to memcached: %w", err)
	}
	return nil
}

func (s *MemcachedStore) item(r *Record) (*memcache.Item, error) {
	buf := getBuffer()
	defer PutBuffer(buf)

	if err := gob.NewEncoder(buf).Encode(r); err != nil {
		return nil, fmt.Errorf("failed to encode session record: %w", err)
	}

	return &memcache.Item{
		Key:        s.key(r.ID),
		Value:      append([]byte(nil), buf.Bytes()...),
		Expiration: calculateMemcachedExpiration(time.Now(), r.ExpiryTo.Add(s.retain)),
	}, nil
}

// Delete removes a session from Memcached.
func (s *MemcachedStore) Delete(ctx context.Context, id string) error {
	err := s.client.Delete(s.key(id))
	if err != nil && err != memcache.ErrCacheMiss {
		return fmt.Errorf("failed to delete from memcached: %w", err)
	}
	return nil
}

// DeleteExpired reports zero: Memcached evicts expired items on its own.
func (s *MemcachedStore) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	return 0, nil
}

// Close releases idle connections.
func (s *MemcachedStore) Close() error {
	return s.client.Close()
}

// calculateMemcachedExpiration calculates the expiration value for Memcached.
// Memcached treats values > 30 days (60*60*24*30 seconds) as absolute Unix timestamps.
// Values <= 30 days are treated as a delta from the current time.
func calculateMemcachedExpiration(now time.Time, expiresAt time.Time) int32 {
	const maxDelta = 30 * 24 * 60 * 60 // 30 days in seconds

	duration := expiresAt.Sub(now)

	// Otherwise, Memcached will interpret a large delta as a timestamp in 1970 (expired).
	if duration > maxDelta*time.Second {
		return int32(expiresAt.Unix())
	}

	// Memcached reads 0 as "never expires"; keep already expired items for
	// one second instead.
	if duration < time.Second {
		return 1
	}
	return int32(duration.Seconds())
}
