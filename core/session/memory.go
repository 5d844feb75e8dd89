package session

import (
	"context"
	"sync"
	"time"

	"github.com/m3rciful/paybot/core/identity"
)

type memoryStore struct {
	mu   sync.RWMutex
	recs map[identity.Identity]Session
}

// NewMemoryStore constructs an in-memory Store implementation for tests and development.
func NewMemoryStore() Store {
	return &memoryStore{recs: make(map[identity.Identity]Session)}
}

// Get returns the stored session or the default session at version 0.
func (m *memoryStore) Get(_ context.Context, id identity.Identity) (Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if s, ok := m.recs[id]; ok {
		return s, nil
	}
	return NewDefault(time.Now()), nil
}

// CompareAndSet applies the same version discipline as the durable store.
func (m *memoryStore) CompareAndSet(_ context.Context, id identity.Identity, expected int64, next Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.recs[id]
	switch {
	case !ok && expected != 0:
		return ErrConflict
	case ok && cur.Version != expected:
		return ErrConflict
	}
	next.Version = expected + 1
	next.UpdatedAt = time.Now().UTC()
	m.recs[id] = next
	return nil
}

// Delete removes the record for id.
func (m *memoryStore) Delete(_ context.Context, id identity.Identity) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.recs, id)
	return nil
}
