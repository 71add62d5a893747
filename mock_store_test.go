package sessionware

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// MockStore is an in-memory Store that counts calls and can be told to fail.
type MockStore struct {
	mu      sync.Mutex
	records map[string]Record

	syncs   []bool
	finds   int
	inserts int
	updates int
	deletes int
	sweeps  int

	syncErr   error
	findErr   error
	saveErr   error
	deleteErr error
	sweepErr  error
}

func NewMockStore() *MockStore {
	return &MockStore{records: make(map[string]Record)}
}

func (m *MockStore) put(r Record) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records[r.ID] = r
}

func (m *MockStore) get(id string) (Record, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.records[id]
	return r, ok
}

func (m *MockStore) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.records)
}

func (m *MockStore) writes() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.inserts + m.updates + m.deletes
}

func (m *MockStore) Sync(ctx context.Context, force bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.syncs = append(m.syncs, force)
	if m.syncErr != nil {
		return m.syncErr
	}
	if force {
		clear(m.records)
	}
	return nil
}

func (m *MockStore) Find(ctx context.Context, id string) (*Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.finds++
	if m.findErr != nil {
		return nil, m.findErr
	}
	r, ok := m.records[id]
	if !ok {
		return nil, nil
	}
	r.Data = append([]byte(nil), r.Data...)
	return &r, nil
}

func (m *MockStore) Insert(ctx context.Context, r *Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.inserts++
	if m.saveErr != nil {
		return m.saveErr
	}
	if _, ok := m.records[r.ID]; ok {
		return fmt.Errorf("duplicate id %q", r.ID)
	}
	m.records[r.ID] = *r
	return nil
}

func (m *MockStore) Update(ctx context.Context, r *Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.updates++
	if m.saveErr != nil {
		return m.saveErr
	}
	if _, ok := m.records[r.ID]; ok {
		m.records[r.ID] = *r
	}
	return nil
}

func (m *MockStore) Delete(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.deletes++
	if m.deleteErr != nil {
		return m.deleteErr
	}
	delete(m.records, id)
	return nil
}

func (m *MockStore) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sweeps++
	if m.sweepErr != nil {
		return 0, m.sweepErr
	}
	var n int64
	for id, r := range m.records {
		if r.ExpiryTo.Before(now) {
			delete(m.records, id)
			n++
		}
	}
	return n, nil
}

func (m *MockStore) Close() error { return nil }
