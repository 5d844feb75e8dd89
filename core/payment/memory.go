package payment

import (
	"context"
	"sync"
	"time"

	"github.com/m3rciful/paybot/core/identity"
)

type memoryStore struct {
	mu   sync.Mutex
	byID map[string]Request
}

// NewMemoryStore constructs an in-memory Store implementation for tests and development.
func NewMemoryStore() Store {
	return &memoryStore{byID: make(map[string]Request)}
}

func (m *memoryStore) Create(_ context.Context, req Request) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.byID {
		if r.Token == req.Token {
			return ErrDuplicateToken
		}
		if r.Requester == req.Requester && !r.State.Terminal() {
			return ErrActiveExists
		}
	}
	req.CreatedAt = req.CreatedAt.UTC()
	req.UpdatedAt = time.Now().UTC()
	m.byID[req.ID] = req
	return nil
}

func (m *memoryStore) Get(_ context.Context, id string) (Request, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.byID[id]
	if !ok {
		return Request{}, ErrNotFound
	}
	return r, nil
}

func (m *memoryStore) GetByToken(_ context.Context, token string) (Request, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.byID {
		if r.Token == token {
			return r, nil
		}
	}
	return Request{}, ErrNotFound
}

func (m *memoryStore) ActiveFor(_ context.Context, requester identity.Identity) (Request, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.byID {
		if r.Requester == requester && !r.State.Terminal() {
			return r, true, nil
		}
	}
	return Request{}, false, nil
}

func (m *memoryStore) Transition(_ context.Context, id string, from, to State, upd Update) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.byID[id]
	if !ok {
		return ErrNotFound
	}
	if r.State != from || !from.CanTransition(to) {
		return ErrStale
	}
	r.State = to
	if upd.ReceiptID != "" {
		r.ReceiptID = upd.ReceiptID
	}
	if upd.FailReason != "" {
		r.FailReason = upd.FailReason
	}
	r.UpdatedAt = time.Now().UTC()
	m.byID[id] = r
	return nil
}

func (m *memoryStore) SetReceipt(_ context.Context, id, receiptID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.byID[id]
	if !ok {
		return ErrNotFound
	}
	if r.State != StateSubmitted {
		return ErrStale
	}
	r.ReceiptID = receiptID
	r.UpdatedAt = time.Now().UTC()
	m.byID[id] = r
	return nil
}

func (m *memoryStore) ExpireOlderThan(_ context.Context, cutoff time.Time) ([]Request, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var expired []Request
	for id, r := range m.byID {
		if (r.State == StateRequested || r.State == StateAwaitingConfirmation) && r.CreatedAt.Before(cutoff) {
			r.State = StateExpired
			r.UpdatedAt = time.Now().UTC()
			m.byID[id] = r
			expired = append(expired, r)
		}
	}
	return expired, nil
}

func (m *memoryStore) ListByState(_ context.Context, state State) ([]Request, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Request
	for _, r := range m.byID {
		if r.State == state {
			out = append(out, r)
		}
	}
	return out, nil
}
