package sessionware

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Field names a persisted column whose dirtiness is tracked separately.
type Field string

const (
	FieldData     Field = "data"
	FieldExpiryTo Field = "expiry_to"
)

// Session is the per-request session record.
//
// A Session is bound to a single request and is not safe for concurrent use.
type Session struct {
	id       string
	createAt time.Time
	expiryTo time.Time
	data     map[string]any

	isNew     bool
	destroyed bool
	changed   map[Field]bool
	// prevID is the stored ID replaced by Regenerate, deleted on commit.
	prevID string

	store Store
}

// Record is the storage representation of a Session.
// Data holds the JSON encoding of the session payload.
type Record struct {
	ID       string
	Data     []byte
	CreateAt time.Time
	ExpiryTo time.Time
}

// Store defines the interface for session persistence.
type Store interface {
	// Sync creates the session schema. With force, an existing schema is
	// dropped and recreated.
	Sync(ctx context.Context, force bool) error
	// Find retrieves a record by its ID, expired or not. It returns nil, nil
	// when no record exists.
	Find(ctx context.Context, id string) (*Record, error)
	// Insert stores a new record.
	Insert(ctx context.Context, r *Record) error
	// Update rewrites the data and expiry of an existing record.
	Update(ctx context.Context, r *Record) error
	// Delete removes a record by its ID.
	Delete(ctx context.Context, id string) error
	// DeleteExpired removes every record whose expiry is before now and
	// reports how many were removed.
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
	// Close closes the store.
	Close() error
}

func newSession(id string, now time.Time, expiry time.Duration, store Store) *Session {
	return &Session{
		id:       id,
		createAt: now,
		expiryTo: now.Add(expiry),
		data:     make(map[string]any),
		isNew:    true,
		changed:  make(map[Field]bool),
		store:    store,
	}
}

func (s *Session) ID() string { return s.id }

func (s *Session) CreateAt() time.Time { return s.createAt }

func (s *Session) ExpiryTo() time.Time { return s.expiryTo }

// SetExpiryTo moves the expiry instant, truncated to the millisecond
// precision every store keeps. Setting the current instant again leaves the
// record clean.
func (s *Session) SetExpiryTo(t time.Time) {
	t = t.UTC().Truncate(time.Millisecond)
	if t.Equal(s.expiryTo) {
		return
	}
	s.expiryTo = t
	s.changed[FieldExpiryTo] = true
}

// Expiry returns the lifetime of the session, measured from its creation.
func (s *Session) Expiry() time.Duration {
	return s.expiryTo.Sub(s.createAt)
}

// SetExpiry sets the lifetime of the session, measured from its creation.
func (s *Session) SetExpiry(d time.Duration) {
	s.SetExpiryTo(s.createAt.Add(d))
}

// Data returns a tracked view of the session payload. Writes through the
// view, at any depth, mark the data field dirty.
func (s *Session) Data() *Document {
	return &Document{owner: s, values: s.data}
}

// SetData replaces the whole payload.
func (s *Session) SetData(values map[string]any) {
	if values == nil {
		values = make(map[string]any)
	}
	s.data = values
	s.markChanged(FieldData)
}

// IsNewRecord reports whether the session has never been stored.
func (s *Session) IsNewRecord() bool { return s.isNew }

// Changed reports whether any field is dirty.
func (s *Session) Changed() bool {
	return len(s.changed) > 0 || s.destroyed
}

// FieldChanged reports whether the given field is dirty.
func (s *Session) FieldChanged(f Field) bool {
	return s.changed[f]
}

// Expired reports whether the session expiry is at or before now.
func (s *Session) Expired(now time.Time) bool {
	return !s.expiryTo.After(now)
}

// Destroy marks the session for removal. The stored record is deleted and
// the cookie cleared when the request is finalized.
func (s *Session) Destroy() {
	s.destroyed = true
}

// Regenerate moves the session to a fresh ID, keeping its payload and
// expiry. The record is stored under the new ID on commit, the old record
// is deleted, and the cookie is re-issued. Call it when the privilege level
// of the session changes, such as after login.
func (s *Session) Regenerate() error {
	id, err := uuid.NewRandom()
	if err != nil {
		return err
	}
	if !s.isNew && s.prevID == "" {
		s.prevID = s.id
	}
	s.id = id.String()
	s.isNew = true
	s.markChanged(FieldData)
	return nil
}

// Destroyed reports whether Destroy was called.
func (s *Session) Destroyed() bool { return s.destroyed }

// GC removes every expired session from the store the session belongs to.
func (s *Session) GC(ctx context.Context) (int64, error) {
	return s.store.DeleteExpired(ctx, time.Now().UTC())
}

func (s *Session) markChanged(f Field) {
	s.changed[f] = true
}

func (s *Session) markClean() {
	s.isNew = false
	s.prevID = ""
	clear(s.changed)
}
