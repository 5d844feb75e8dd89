// Package session owns durable per-identity conversational state. All
// mutation goes through a compare-and-set on the record version; a stale
// write loses and the caller re-reads and retries.
package session

import (
	"time"
)

// Session is the mutable per-identity record. The zero value plus a
// CreatedAt stamp is the default for first contact. Serialized form is
// field-tagged JSON so fields can be added without migrating old rows.
type Session struct {
	// Version increases by one on every successful write; 0 means the
	// record has never been persisted.
	Version int64 `json:"-"`

	// LastCommand is the most recent command name processed for this user.
	LastCommand string `json:"last_command,omitempty"`
	// PendingPayment is the id of an in-flight payment request awaiting a
	// multi-turn continuation, or empty.
	PendingPayment string `json:"pending_payment,omitempty"`
	// LedgerAddress is the user's registered payment token, or empty.
	LedgerAddress string `json:"ledger_address,omitempty"`
	// DisplayName is the profile name last seen for this user.
	DisplayName string `json:"display_name,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at,omitempty"`
}

// NewDefault returns the fresh session handed out on first contact.
func NewDefault(now time.Time) Session {
	return Session{CreatedAt: now.UTC()}
}

// AwaitingContinuation reports whether the session points at an
// outstanding multi-turn command.
func (s Session) AwaitingContinuation() bool {
	return s.PendingPayment != ""
}
