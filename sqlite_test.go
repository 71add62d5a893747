package sessionware

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"
)

func newTestSQLiteStore(t *testing.T) *SQLiteStore {
	t.Helper()
	store, err := NewSQLiteStore(filepath.Join(t.TempDir(), "sessions.db"))
	if err != nil {
		t.Fatalf("failed to open sqlite store: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func TestSQLiteStore(t *testing.T) {
	testStoreContract(t, newTestSQLiteStore(t), true)
}

func TestSQLiteStore_RoundTrip(t *testing.T) {
	testStoreRoundTrip(t, newTestSQLiteStore(t))
}

func TestSQLiteStore_TableName(t *testing.T) {
	dsn := filepath.Join(t.TempDir(), "sessions.db")

	store, err := NewSQLiteStoreWithConfig(SQLiteConfig{DSN: dsn, TableName: "web_sessions"})
	if err != nil {
		t.Fatalf("failed to open sqlite store: %v", err)
	}
	defer store.Close()
	testStoreContract(t, store, true)

	var count int
	err = store.db.QueryRow(`SELECT count(*) FROM sqlite_master WHERE type = 'table' AND name = 'web_sessions'`).Scan(&count)
	if err != nil {
		t.Fatalf("failed to inspect schema: %v", err)
	}
	if count != 1 {
		t.Errorf("expected table web_sessions to exist")
	}

	for _, name := range []string{"sessions; DROP TABLE users", "1abc", "a-b"} {
		if _, err := NewSQLiteStoreWithConfig(SQLiteConfig{DSN: dsn, TableName: name}); !errors.Is(err, ErrInvalidTableName) {
			t.Errorf("table name %q: expected ErrInvalidTableName, got %v", name, err)
		}
	}
}

func TestSQLiteStore_ForceSyncDropsRecords(t *testing.T) {
	store := newTestSQLiteStore(t)
	ctx := context.Background()
	if err := store.Sync(ctx, false); err != nil {
		t.Fatalf("failed to sync: %v", err)
	}

	now := time.Now().UTC()
	rec := &Record{ID: "0b8f6c52-1f8e-4b8e-a4f4-5c5d2f3b9a10", Data: []byte(`{}`), CreateAt: now, ExpiryTo: now.Add(time.Hour)}
	if err := store.Insert(ctx, rec); err != nil {
		t.Fatalf("failed to insert: %v", err)
	}

	if err := store.Sync(ctx, false); err != nil {
		t.Fatalf("failed to sync: %v", err)
	}
	if got, _ := store.Find(ctx, rec.ID); got == nil {
		t.Fatal("plain sync must keep existing records")
	}

	if err := store.Sync(ctx, true); err != nil {
		t.Fatalf("failed to force sync: %v", err)
	}
	if got, _ := store.Find(ctx, rec.ID); got != nil {
		t.Error("force sync must drop existing records")
	}
}

func TestWithPragma(t *testing.T) {
	tests := []struct {
		dsn  string
		want string
	}{
		{"sessions.db", "sessions.db?_pragma=busy_timeout=5000"},
		{"file:sessions.db?mode=rwc", "file:sessions.db?mode=rwc&_pragma=busy_timeout=5000"},
	}
	for _, tt := range tests {
		if got := withPragma(tt.dsn, "busy_timeout=5000"); got != tt.want {
			t.Errorf("withPragma(%q) = %q, want %q", tt.dsn, got, tt.want)
		}
	}
}

func BenchmarkSQLiteStore_Find(b *testing.B) {
	store, err := NewSQLiteStore(filepath.Join(b.TempDir(), "sessions.db"))
	if err != nil {
		b.Fatalf("failed to open sqlite store: %v", err)
	}
	defer store.Close()

	ctx := context.Background()
	if err := store.Sync(ctx, false); err != nil {
		b.Fatalf("failed to sync: %v", err)
	}
	now := time.Now().UTC()
	rec := &Record{ID: "6f1d3a2e-9c4b-4f7e-8a1d-2b3c4d5e6f70", Data: []byte(`{"key":"value"}`), CreateAt: now, ExpiryTo: now.Add(time.Hour)}
	if err := store.Insert(ctx, rec); err != nil {
		b.Fatalf("failed to insert: %v", err)
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := store.Find(ctx, rec.ID); err != nil {
			b.Fatalf("failed to find: %v", err)
		}
	}
}

func TestSQLiteStore_SubMillisecondExpirySurvivesReload(t *testing.T) {
	store := newTestSQLiteStore(t)
	mw := newTestMiddleware(t, store, Options{Sync: SyncOptions{Enable: true, Force: true}})
	ctx := context.Background()

	s, err := mw.NewSession()
	if err != nil {
		t.Fatalf("failed to create session: %v", err)
	}
	s.SetExpiry(time.Hour + 1500*time.Microsecond)
	want := s.ExpiryTo()
	if got := s.Expiry(); got != time.Hour+time.Millisecond {
		t.Fatalf("expected expiry truncated to 1h1ms, got %v", got)
	}

	if err := mw.Commit(ctx, newRecorder(), newRequest(), s); err != nil {
		t.Fatalf("failed to commit: %v", err)
	}

	loaded, err := mw.Resolve(ctx, s.ID())
	if err != nil {
		t.Fatalf("failed to resolve: %v", err)
	}
	if loaded.ID() != s.ID() {
		t.Fatalf("expected the saved session back, got %s", loaded.ID())
	}
	if !loaded.ExpiryTo().Equal(want) {
		t.Errorf("expiry changed across reload: got %v, want %v", loaded.ExpiryTo(), want)
	}
	if loaded.Expiry() != s.Expiry() {
		t.Errorf("lifetime changed across reload: got %v, want %v", loaded.Expiry(), s.Expiry())
	}
}
