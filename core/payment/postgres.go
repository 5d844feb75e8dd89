package payment

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/m3rciful/paybot/core/identity"
)

// PostgresStore persists payment requests in the payment_requests table.
// The idempotency token carries a unique constraint; a partial unique
// index on (requester) over non-terminal rows enforces single-flight at
// the storage layer (see migrations).
type PostgresStore struct {
	db *sqlx.DB
}

// NewPostgresStore wraps an open database handle.
func NewPostgresStore(db *sqlx.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const requestColumns = `id, requester, counterparty, amount, from_address, to_address, state, token, receipt_id, fail_reason, created_at, updated_at`

// Create persists a new request, mapping constraint violations to the
// store's sentinel errors.
func (s *PostgresStore) Create(ctx context.Context, req Request) error {
	req.UpdatedAt = time.Now().UTC()
	_, err := s.db.NamedExecContext(ctx, `
		INSERT INTO payment_requests (`+requestColumns+`)
		VALUES (:id, :requester, :counterparty, :amount, :from_address, :to_address, :state, :token, :receipt_id, :fail_reason, :created_at, :updated_at)`,
		req)
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == "23505" {
		switch pqErr.Constraint {
		case "payment_requests_token_key":
			return ErrDuplicateToken
		case "payment_requests_one_active_per_requester":
			return ErrActiveExists
		}
		return ErrDuplicateToken
	}
	if err != nil {
		return fmt.Errorf("payment create: %w", err)
	}
	return nil
}

// Get loads a request by id.
func (s *PostgresStore) Get(ctx context.Context, id string) (Request, error) {
	var req Request
	err := s.db.GetContext(ctx, &req,
		`SELECT `+requestColumns+` FROM payment_requests WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return Request{}, ErrNotFound
	}
	if err != nil {
		return Request{}, fmt.Errorf("payment get: %w", err)
	}
	return req, nil
}

// GetByToken loads a request by its idempotency token.
func (s *PostgresStore) GetByToken(ctx context.Context, token string) (Request, error) {
	var req Request
	err := s.db.GetContext(ctx, &req,
		`SELECT `+requestColumns+` FROM payment_requests WHERE token = $1`, token)
	if errors.Is(err, sql.ErrNoRows) {
		return Request{}, ErrNotFound
	}
	if err != nil {
		return Request{}, fmt.Errorf("payment get: %w", err)
	}
	return req, nil
}

// ActiveFor returns the requester's non-terminal request, if any.
func (s *PostgresStore) ActiveFor(ctx context.Context, requester identity.Identity) (Request, bool, error) {
	var req Request
	err := s.db.GetContext(ctx, &req,
		`SELECT `+requestColumns+` FROM payment_requests
		 WHERE requester = $1 AND state NOT IN ('SETTLED', 'FAILED', 'EXPIRED')`,
		requester.String())
	if errors.Is(err, sql.ErrNoRows) {
		return Request{}, false, nil
	}
	if err != nil {
		return Request{}, false, fmt.Errorf("payment active: %w", err)
	}
	return req, true, nil
}

// Transition applies a guarded state change; the WHERE clause on the
// current state makes each transition apply at most once.
func (s *PostgresStore) Transition(ctx context.Context, id string, from, to State, upd Update) error {
	if !from.CanTransition(to) {
		return ErrStale
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE payment_requests
		SET state = $3,
		    receipt_id = CASE WHEN $4 <> '' THEN $4 ELSE receipt_id END,
		    fail_reason = CASE WHEN $5 <> '' THEN $5 ELSE fail_reason END,
		    updated_at = $6
		WHERE id = $1 AND state = $2`,
		id, from, to, upd.ReceiptID, upd.FailReason, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("payment transition: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("payment transition: %w", err)
	}
	if n == 0 {
		return ErrStale
	}
	return nil
}

// SetReceipt records the ledger receipt on a request still SUBMITTED.
func (s *PostgresStore) SetReceipt(ctx context.Context, id, receiptID string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE payment_requests
		SET receipt_id = $2, updated_at = $3
		WHERE id = $1 AND state = 'SUBMITTED'`,
		id, receiptID, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("payment receipt: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("payment receipt: %w", err)
	}
	if n == 0 {
		return ErrStale
	}
	return nil
}

// ExpireOlderThan marks stale confirmable requests EXPIRED and returns them.
func (s *PostgresStore) ExpireOlderThan(ctx context.Context, cutoff time.Time) ([]Request, error) {
	var expired []Request
	err := s.db.SelectContext(ctx, &expired, `
		UPDATE payment_requests
		SET state = 'EXPIRED', updated_at = $2
		WHERE state IN ('REQUESTED', 'AWAITING_CONFIRMATION') AND created_at < $1
		RETURNING `+requestColumns,
		cutoff, time.Now().UTC())
	if err != nil {
		return nil, fmt.Errorf("payment expire: %w", err)
	}
	return expired, nil
}

// ListByState returns all requests currently in state.
func (s *PostgresStore) ListByState(ctx context.Context, state State) ([]Request, error) {
	var out []Request
	if err := s.db.SelectContext(ctx, &out,
		`SELECT `+requestColumns+` FROM payment_requests WHERE state = $1`, state); err != nil {
		return nil, fmt.Errorf("payment list: %w", err)
	}
	return out, nil
}
