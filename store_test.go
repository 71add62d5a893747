package sessionware

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/google/uuid"
)

// testStoreContract exercises the behaviour every Store must share. The
// store is synced with force first, so it must point at a scratch schema.
func testStoreContract(t *testing.T, store Store, sweeps bool) {
	t.Helper()
	ctx := context.Background()

	if err := store.Sync(ctx, true); err != nil {
		t.Fatalf("failed to sync: %v", err)
	}
	// A second sync keeps the schema.
	if err := store.Sync(ctx, false); err != nil {
		t.Fatalf("failed to re-sync: %v", err)
	}

	now := time.Now().UTC().Truncate(time.Millisecond)
	live := &Record{
		ID:       uuid.NewString(),
		Data:     []byte(`{"a":{"b":[1,{"c":"x"}]},"n":1.50}`),
		CreateAt: now,
		ExpiryTo: now.Add(time.Hour),
	}

	t.Run("find missing", func(t *testing.T) {
		got, err := store.Find(ctx, uuid.NewString())
		if err != nil {
			t.Fatalf("failed to find: %v", err)
		}
		if got != nil {
			t.Errorf("expected no record, got %+v", got)
		}
	})

	t.Run("insert and find", func(t *testing.T) {
		if err := store.Insert(ctx, live); err != nil {
			t.Fatalf("failed to insert: %v", err)
		}
		got, err := store.Find(ctx, live.ID)
		if err != nil {
			t.Fatalf("failed to find: %v", err)
		}
		if got == nil {
			t.Fatal("record not found")
		}
		if got.ID != live.ID {
			t.Errorf("expected ID %s, got %s", live.ID, got.ID)
		}
		if string(got.Data) != string(live.Data) {
			t.Errorf("payload changed in storage: %s", got.Data)
		}
		if !got.CreateAt.Equal(live.CreateAt) || !got.ExpiryTo.Equal(live.ExpiryTo) {
			t.Errorf("timestamps changed: got %v/%v, want %v/%v", got.CreateAt, got.ExpiryTo, live.CreateAt, live.ExpiryTo)
		}
	})

	t.Run("duplicate insert fails", func(t *testing.T) {
		if err := store.Insert(ctx, live); err == nil {
			t.Error("expected error on duplicate insert")
		}
	})

	t.Run("update", func(t *testing.T) {
		updated := *live
		updated.Data = []byte(`{"a":2}`)
		updated.ExpiryTo = now.Add(2 * time.Hour)
		if err := store.Update(ctx, &updated); err != nil {
			t.Fatalf("failed to update: %v", err)
		}
		got, err := store.Find(ctx, live.ID)
		if err != nil || got == nil {
			t.Fatalf("failed to find updated record: %v", err)
		}
		if string(got.Data) != `{"a":2}` {
			t.Errorf("unexpected payload %s", got.Data)
		}
		if !got.ExpiryTo.Equal(updated.ExpiryTo) {
			t.Errorf("expected expiry %v, got %v", updated.ExpiryTo, got.ExpiryTo)
		}
		if !got.CreateAt.Equal(live.CreateAt) {
			t.Errorf("create_at must not change on update, got %v", got.CreateAt)
		}
	})

	t.Run("update missing is a no-op", func(t *testing.T) {
		ghost := &Record{ID: uuid.NewString(), Data: []byte(`{}`), CreateAt: now, ExpiryTo: now.Add(time.Hour)}
		if err := store.Update(ctx, ghost); err != nil {
			t.Fatalf("failed to update missing record: %v", err)
		}
		got, err := store.Find(ctx, ghost.ID)
		if err != nil {
			t.Fatalf("failed to find: %v", err)
		}
		if got != nil {
			t.Error("update must not create a record")
		}
	})

	t.Run("expired records are still found", func(t *testing.T) {
		old := &Record{
			ID:       uuid.NewString(),
			Data:     []byte(`{}`),
			CreateAt: now.Add(-2 * time.Hour),
			ExpiryTo: now.Add(-time.Hour),
		}
		if err := store.Insert(ctx, old); err != nil {
			t.Fatalf("failed to insert expired record: %v", err)
		}
		got, err := store.Find(ctx, old.ID)
		if err != nil {
			t.Fatalf("failed to find: %v", err)
		}
		if got == nil {
			t.Fatal("expired record must be returned by Find")
		}

		if !sweeps {
			return
		}
		n, err := store.DeleteExpired(ctx, now)
		if err != nil {
			t.Fatalf("failed to delete expired: %v", err)
		}
		if n != 1 {
			t.Errorf("expected 1 expired record removed, got %d", n)
		}
		if got, _ := store.Find(ctx, old.ID); got != nil {
			t.Error("expected expired record to be removed")
		}
		if got, _ := store.Find(ctx, live.ID); got == nil {
			t.Error("live record must survive the sweep")
		}
	})

	t.Run("delete", func(t *testing.T) {
		if err := store.Delete(ctx, live.ID); err != nil {
			t.Fatalf("failed to delete: %v", err)
		}
		got, err := store.Find(ctx, live.ID)
		if err != nil {
			t.Fatalf("failed to find after delete: %v", err)
		}
		if got != nil {
			t.Error("expected record to be deleted")
		}
		if err := store.Delete(ctx, live.ID); err != nil {
			t.Errorf("deleting a missing record must not fail: %v", err)
		}
	})
}

// testStoreRoundTrip runs two requests through a real store: the first
// creates a session, the second reads and mutates it.
func testStoreRoundTrip(t *testing.T, store Store) {
	t.Helper()
	mw := newTestMiddleware(t, store, Options{Sync: SyncOptions{Enable: true, Force: true}})

	h := mw.Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		data := FromContext(r.Context()).Data()
		n, _ := data.Int("counter")
		data.Set("counter", n+1)
	}))

	first := serve(h)
	cookies := cookiesNamed(first, DefaultSessKey)
	if len(cookies) != 1 {
		t.Fatalf("expected one session cookie, got %d", len(cookies))
	}
	id := cookies[0].Value

	second := serve(h, cookies[0])
	if got := cookiesNamed(second, DefaultSessKey); len(got) != 0 {
		t.Errorf("existing session must not be re-issued, got %v", got)
	}

	rec, err := store.Find(context.Background(), id)
	if err != nil || rec == nil {
		t.Fatalf("failed to find session %s: %v", id, err)
	}
	if string(rec.Data) != `{"counter":2}` {
		t.Errorf("unexpected payload %s", rec.Data)
	}
}
