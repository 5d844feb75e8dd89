// Package payment owns the multi-step payment state machine: a request is
// created, confirmed by its requester, submitted to the ledger exactly
// once, and then observed until settlement. Requests survive process
// restarts; a request left SUBMITTED resumes polling instead of being
// submitted again.
package payment

import (
	"time"

	"github.com/m3rciful/paybot/core/identity"
)

// State is a payment request's position in its lifecycle.
type State string

const (
	// StateRequested is the initial state right after validation.
	StateRequested State = "REQUESTED"
	// StateAwaitingConfirmation means the confirmation prompt went out.
	StateAwaitingConfirmation State = "AWAITING_CONFIRMATION"
	// StateSubmitted means the ledger accepted the submit call.
	StateSubmitted State = "SUBMITTED"
	// StateSettled means the ledger reported finality. Terminal.
	StateSettled State = "SETTLED"
	// StateFailed means rejection or an unrecoverable error. Terminal.
	StateFailed State = "FAILED"
	// StateExpired means the confirmation window elapsed. Terminal.
	StateExpired State = "EXPIRED"
)

// Terminal reports whether no further transition is permitted.
func (s State) Terminal() bool {
	switch s {
	case StateSettled, StateFailed, StateExpired:
		return true
	}
	return false
}

// CanTransition reports whether the machine permits moving to next.
// Transitions are monotonic; FAILED and EXPIRED are reachable from any
// non-terminal state.
func (s State) CanTransition(next State) bool {
	if s.Terminal() {
		return false
	}
	if next == StateFailed || next == StateExpired {
		return true
	}
	switch s {
	case StateRequested:
		return next == StateAwaitingConfirmation
	case StateAwaitingConfirmation:
		return next == StateSubmitted
	case StateSubmitted:
		return next == StateSettled
	}
	return false
}

// Request is an in-flight payment. Amount is immutable after creation and
// always in integer minor units. Serialized form is field-tagged JSON.
type Request struct {
	ID           string            `json:"id" db:"id"`
	Requester    identity.Identity `json:"requester" db:"requester"`
	Counterparty identity.Identity `json:"counterparty" db:"counterparty"`
	// Amount is in minor units; never a float.
	Amount int64 `json:"amount" db:"amount"`
	// FromAddress and ToAddress are encoded payment tokens.
	FromAddress string `json:"from_address" db:"from_address"`
	ToAddress   string `json:"to_address" db:"to_address"`
	State       State  `json:"state" db:"state"`
	// Token is the idempotency token; one request per token, ever.
	Token      string    `json:"token" db:"token"`
	ReceiptID  string    `json:"receipt_id,omitempty" db:"receipt_id"`
	FailReason string    `json:"fail_reason,omitempty" db:"fail_reason"`
	CreatedAt  time.Time `json:"created_at" db:"created_at"`
	UpdatedAt  time.Time `json:"updated_at" db:"updated_at"`
}
