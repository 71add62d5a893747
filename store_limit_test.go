package sessionware

import (
	"context"
	"errors"
	"net/http"
	"path/filepath"
	"strings"
	"testing"
)

func TestMiddleware_MaxSessionBytes(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "test_limit.db")
	ctx := context.Background()

	store, err := NewSQLiteStore(dbPath)
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	defer store.Close()

	// 1. Save a large session through an unlimited middleware.
	unlimited := newTestMiddleware(t, store, Options{Sync: SyncOptions{Enable: true}})
	large := strings.Repeat("A", 1024)

	s, err := unlimited.NewSession()
	if err != nil {
		t.Fatalf("NewSession failed: %v", err)
	}
	s.Data().Set("data", large)
	if err := unlimited.Commit(ctx, newRecorder(), newRequest(), s); err != nil {
		t.Fatalf("failed to save large session: %v", err)
	}

	// 2. The encoded payload of {"data": 1KB} is over 500 bytes.
	limited := newTestMiddleware(t, store, Options{MaxSessionBytes: 500})

	// 3. Loading it is refused.
	if _, err := limited.Resolve(ctx, s.ID()); !errors.Is(err, ErrSessionTooLarge) {
		t.Errorf("expected ErrSessionTooLarge on load, got: %v", err)
	}

	// 4. Saving it is refused, and nothing reaches the store.
	big, err := limited.NewSession()
	if err != nil {
		t.Fatalf("NewSession failed: %v", err)
	}
	big.Data().Set("data", large)
	w := newRecorder()
	if err := limited.Commit(ctx, w, newRequest(), big); !errors.Is(err, ErrSessionTooLarge) {
		t.Errorf("expected ErrSessionTooLarge on save, got: %v", err)
	}
	if got, _ := store.Find(ctx, big.ID()); got != nil {
		t.Error("oversized session must not be stored")
	}
	if len(w.Header().Values("Set-Cookie")) != 0 {
		t.Error("no cookie may be issued for an unsaved session")
	}

	// 5. Small sessions still work.
	small, _ := limited.NewSession()
	small.Data().Set("data", "ok")
	if err := limited.Commit(ctx, newRecorder(), newRequest(), small); err != nil {
		t.Errorf("small session rejected: %v", err)
	}
}

func TestMiddleware_MaxSessionBytesOverHTTP(t *testing.T) {
	store := NewMockStore()
	mw := newTestMiddleware(t, store, Options{MaxSessionBytes: 64})

	rec := serve(mw.Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		FromContext(r.Context()).Data().Set("blob", strings.Repeat("x", 128))
	})))

	if rec.Code != http.StatusInternalServerError {
		t.Errorf("expected 500, got %d", rec.Code)
	}
	if store.inserts != 0 {
		t.Errorf("expected no insert, got %d", store.inserts)
	}
}
