package sessionware

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteStore keeps sessions in an SQLite table. Timestamps are stored as
// Unix milliseconds.
type SQLiteStore struct {
	db    *sql.DB
	mu    sync.Mutex // Serializes writes to avoid SQLITE_BUSY
	table string

	findQuery    string
	insertQuery  string
	updateQuery  string
	deleteQuery  string
	cleanupQuery string
}

// SQLiteConfig holds configuration for the SQLite store.
type SQLiteConfig struct {
	DSN             string
	TableName       string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

func NewSQLiteStore(dsn string) (*SQLiteStore, error) {
	return NewSQLiteStoreWithConfig(SQLiteConfig{
		DSN:          dsn,
		MaxOpenConns: 16, // Allow concurrent readers (writers are serialized by mutex)
		MaxIdleConns: 16,
	})
}

func NewSQLiteStoreWithConfig(cfg SQLiteConfig) (*SQLiteStore, error) {
	table, err := tableName(cfg.TableName)
	if err != nil {
		return nil, err
	}

	// PRAGMAs go into the DSN so they apply to every pooled connection.
	if !strings.Contains(cfg.DSN, "synchronous") {
		cfg.DSN = withPragma(cfg.DSN, "synchronous=NORMAL")
	}
	if !strings.Contains(cfg.DSN, "busy_timeout") {
		cfg.DSN = withPragma(cfg.DSN, "busy_timeout=5000")
	}

	db, err := sql.Open("sqlite", cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite database: %w", err)
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

	// WAL mode is persistent for the database file, so executing it once is sufficient.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	return &SQLiteStore{
		db:           db,
		table:        table,
		findQuery:    fmt.Sprintf(`SELECT id, data, create_at, expiry_to FROM %q WHERE id = ?`, table),
		insertQuery:  fmt.Sprintf(`INSERT INTO %q (id, data, create_at, expiry_to) VALUES (?, ?, ?, ?)`, table),
		updateQuery:  fmt.Sprintf(`UPDATE %q SET data = ?, expiry_to = ? WHERE id = ?`, table),
		deleteQuery:  fmt.Sprintf(`DELETE FROM %q WHERE id = ?`, table),
		cleanupQuery: fmt.Sprintf(`DELETE FROM %q WHERE expiry_to < ?`, table),
	}, nil
}

func withPragma(dsn, pragma string) string {
	separator := "?"
	if strings.Contains(dsn, "?") {
		separator = "&"
	}
	return dsn + separator + "_pragma=" + pragma
}

func (s *SQLiteStore) Sync(ctx context.Context, force bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if force {
		if _, err := s.db.ExecContext(ctx, fmt.Sprintf(`DROP TABLE IF EXISTS %q`, s.table)); err != nil {
			return fmt.Errorf("failed to drop sessions table: %w", err)
		}
	}

	query := fmt.Sprintf(`
	CREATE TABLE IF NOT EXISTS %[1]q (
		id CHAR(36) PRIMARY KEY,
		data TEXT NOT NULL DEFAULT '{}',
		create_at INTEGER NOT NULL,
		expiry_to INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS %[2]q ON %[1]q(expiry_to);
	`, s.table, "idx_"+s.table+"_expiry_to")
	if _, err := s.db.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("failed to create sessions table: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Find(ctx context.Context, id string) (*Record, error) {
	var (
		rec                Record
		data               string
		createAt, expiryTo int64
	)
	err := s.db.QueryRowContext(ctx, s.findQuery, id).Scan(&rec.ID, &data, &createAt, &expiryTo)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query session: %w", err)
	}
	rec.Data = []byte(data)
	rec.CreateAt = time.UnixMilli(createAt).UTC()
	rec.ExpiryTo = time.UnixMilli(expiryTo).UTC()
	return &rec, nil
}

func (s *SQLiteStore) Insert(ctx context.Context, r *Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.ExecContext(ctx, s.insertQuery, r.ID, string(r.Data), r.CreateAt.UnixMilli(), r.ExpiryTo.UnixMilli())
	if err != nil {
		return fmt.Errorf("failed to insert session: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Update(ctx context.Context, r *Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.ExecContext(ctx, s.updateQuery, string(r.Data), r.ExpiryTo.UnixMilli(), r.ID)
	if err != nil {
		return fmt.Errorf("failed to update session: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.ExecContext(ctx, s.deleteQuery, id)
	if err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	return nil
}

func (s *SQLiteStore) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	res, err := s.db.ExecContext(ctx, s.cleanupQuery, now.UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("failed to cleanup expired sessions: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to count expired sessions: %w", err)
	}
	return n, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
