// Package ledger defines the payment backend contract consumed by the
// coordinator, and an HTTP client speaking the backend's JSON-RPC surface.
// The backend validates and finalizes payments; this core only submits and
// observes.
package ledger

import (
	"context"
	"fmt"
)

// Status is the backend's view of a submitted payment.
type Status string

const (
	// StatusPending means the transaction is not yet final.
	StatusPending Status = "PENDING"
	// StatusFinal means the transaction reached finality.
	StatusFinal Status = "FINAL"
	// StatusRejected means the backend discarded the transaction.
	StatusRejected Status = "REJECTED"
)

// Rejection is a definitive backend refusal, as opposed to a transient
// delivery failure. A rejected submit must not be retried.
type Rejection struct {
	Reason string
}

// Error renders the refusal reason.
func (r *Rejection) Error() string {
	return fmt.Sprintf("ledger rejected: %s", r.Reason)
}

// Backend is the ledger collaborator contract. The idempotency token is
// forwarded on submit so a retried call has no duplicate effect at the
// backend boundary.
type Backend interface {
	// Submit queues a payment and returns a receipt id, or a *Rejection.
	Submit(ctx context.Context, idempotencyToken, fromAddr, toAddr string, amount int64) (receiptID string, err error)
	// GetStatus reports finality for a previously returned receipt id.
	GetStatus(ctx context.Context, receiptID string) (Status, error)
	// GetBalance reports the spendable balance of an address in minor units.
	GetBalance(ctx context.Context, addr string) (int64, error)
}
