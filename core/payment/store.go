package payment

import (
	"context"
	"errors"
	"time"

	"github.com/m3rciful/paybot/core/identity"
)

var (
	// ErrNotFound is returned when no request matches the lookup.
	ErrNotFound = errors.New("payment: request not found")
	// ErrDuplicateToken is returned when a request with the same
	// idempotency token already exists.
	ErrDuplicateToken = errors.New("payment: duplicate idempotency token")
	// ErrActiveExists is returned when the requester already has a
	// non-terminal request.
	ErrActiveExists = errors.New("payment: active request exists")
	// ErrStale is returned when a guarded transition lost to another
	// writer or the request is no longer in the expected state.
	ErrStale = errors.New("payment: stale transition")
)

// Update carries the fields a transition may set alongside the new state.
type Update struct {
	ReceiptID  string
	FailReason string
}

// Store is the durable payment-request store. All state changes go through
// Transition, guarded by the expected current state so a transition is
// applied at most once.
type Store interface {
	// Create persists a new request. It fails with ErrDuplicateToken when
	// the token was seen before and ErrActiveExists when the requester
	// already has a non-terminal request.
	Create(ctx context.Context, req Request) error
	Get(ctx context.Context, id string) (Request, error)
	GetByToken(ctx context.Context, token string) (Request, error)
	// ActiveFor returns the requester's non-terminal request, if any.
	ActiveFor(ctx context.Context, requester identity.Identity) (Request, bool, error)
	// Transition moves id from state from to state to, applying upd.
	// Returns ErrStale when the request is not in from anymore.
	Transition(ctx context.Context, id string, from, to State, upd Update) error
	// SetReceipt records the ledger receipt on a SUBMITTED request.
	SetReceipt(ctx context.Context, id, receiptID string) error
	// ExpireOlderThan marks confirmable requests created before cutoff as
	// EXPIRED and returns them. Each request is expired exactly once.
	ExpireOlderThan(ctx context.Context, cutoff time.Time) ([]Request, error)
	// ListByState returns all requests currently in state.
	ListByState(ctx context.Context, state State) ([]Request, error)
}
