package sessionware

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq"
)

// PostgreSQLStore keeps sessions in a PostgreSQL table. The payload column
// is JSON rather than JSONB so it is returned exactly as written.
type PostgreSQLStore struct {
	db    *sql.DB
	table string

	findQuery    string
	insertQuery  string
	updateQuery  string
	deleteQuery  string
	cleanupQuery string
}

// PostgreSQLConfig holds configuration for the PostgreSQL store.
type PostgreSQLConfig struct {
	DSN             string
	TableName       string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
}

// NewPostgreSQLStore creates a new PostgreSQL store with default configuration.
func NewPostgreSQLStore(dsn string) (*PostgreSQLStore, error) {
	return NewPostgreSQLStoreWithConfig(PostgreSQLConfig{
		DSN:             dsn,
		MaxOpenConns:    25,
		MaxIdleConns:    5,
		ConnMaxLifetime: 5 * time.Minute,
		ConnMaxIdleTime: 1 * time.Minute,
	})
}

// NewPostgreSQLStoreWithConfig creates a new PostgreSQL store with custom configuration.
func NewPostgreSQLStoreWithConfig(cfg PostgreSQLConfig) (*PostgreSQLStore, error) {
	table, err := tableName(cfg.TableName)
	if err != nil {
		return nil, err
	}

	db, err := sql.Open("postgres", cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to open postgresql database: %w", err)
	}

	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}
	if cfg.ConnMaxIdleTime > 0 {
		db.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping postgresql database: %w", err)
	}

	return &PostgreSQLStore{
		db:           db,
		table:        table,
		findQuery:    fmt.Sprintf(`SELECT id, data, create_at, expiry_to FROM %q WHERE id = $1`, table),
		insertQuery:  fmt.Sprintf(`INSERT INTO %q (id, data, create_at, expiry_to) VALUES ($1, $2, $3, $4)`, table),
		updateQuery:  fmt.Sprintf(`UPDATE %q SET data = $1, expiry_to = $2 WHERE id = $3`, table),
		deleteQuery:  fmt.Sprintf(`DELETE FROM %q WHERE id = $1`, table),
		cleanupQuery: fmt.Sprintf(`DELETE FROM %q WHERE expiry_to < $1`, table),
	}, nil
}

func (s *PostgreSQLStore) Sync(ctx context.Context, force bool) error {
	if force {
		if _, err := s.db.ExecContext(ctx, fmt.Sprintf(`DROP TABLE IF EXISTS %q`, s.table)); err != nil {
			return fmt.Errorf("failed to drop sessions table: %w", err)
		}
	}

	query := fmt.Sprintf(`
	CREATE TABLE IF NOT EXISTS %[1]q (
		id CHAR(36) PRIMARY KEY,
		data JSON NOT NULL DEFAULT '{}',
		create_at TIMESTAMP WITH TIME ZONE NOT NULL,
		expiry_to TIMESTAMP WITH TIME ZONE NOT NULL
	);
	CREATE INDEX IF NOT EXISTS %[2]q ON %[1]q(expiry_to);
	`, s.table, "idx_"+s.table+"_expiry_to")
	if _, err := s.db.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("failed to create sessions table: %w", err)
	}
	return nil
}

func (s *PostgreSQLStore) Find(ctx context.Context, id string) (*Record, error) {
	var rec Record
	err := s.db.QueryRowContext(ctx, s.findQuery, id).Scan(&rec.ID, &rec.Data, &rec.CreateAt, &rec.ExpiryTo)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query session: %w", err)
	}
	rec.CreateAt = rec.CreateAt.UTC()
	rec.ExpiryTo = rec.ExpiryTo.UTC()
	return &rec, nil
}

func (s *PostgreSQLStore) Insert(ctx context.Context, r *Record) error {
	_, err := s.db.ExecContext(ctx, s.insertQuery, r.ID, string(r.Data), r.CreateAt, r.ExpiryTo)
	if err != nil {
		return fmt.Errorf("failed to insert session: %w", err)
	}
	return nil
}

func (s *PostgreSQLStore) Update(ctx context.Context, r *Record) error {
	_, err := s.db.ExecContext(ctx, s.updateQuery, string(r.Data), r.ExpiryTo, r.ID)
	if err != nil {
		return fmt.Errorf("failed to update session: %w", err)
	}
	return nil
}

func (s *PostgreSQLStore) Delete(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, s.deleteQuery, id)
	if err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	return nil
}

func (s *PostgreSQLStore) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, s.cleanupQuery, now)
	if err != nil {
		return 0, fmt.Errorf("failed to cleanup expired sessions: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to count expired sessions: %w", err)
	}
	return n, nil
}

func (s *PostgreSQLStore) Close() error {
	return s.db.Close()
}
