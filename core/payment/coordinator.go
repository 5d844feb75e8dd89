package payment

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/m3rciful/paybot/core/address"
	"github.com/m3rciful/paybot/core/fault"
	"github.com/m3rciful/paybot/core/identity"
	"github.com/m3rciful/paybot/core/ledger"
	"github.com/m3rciful/paybot/core/logger"
)

// Notifier delivers a message to a user outside the request/response flow
// of the dispatch loop, used for settlement and expiry notices.
type Notifier interface {
	Notify(ctx context.Context, to identity.Identity, text string)
}

// Locker serializes concurrent confirm deliveries for the same token.
// The cache package satisfies this; a nil Locker disables the guard.
type Locker interface {
	AcquireConfirmLock(ctx context.Context, token string) (bool, error)
	ReleaseConfirmLock(ctx context.Context, token string)
}

// Options tunes the coordinator's timing behaviour.
type Options struct {
	// ConfirmTTL is how long a request may await confirmation.
	ConfirmTTL time.Duration
	// PollInterval is the pause between settlement status checks.
	PollInterval time.Duration
	// PollTimeout bounds total settlement polling per request; past it the
	// request is failed as unreachable rather than left SUBMITTED forever.
	PollTimeout time.Duration
	// SweepInterval is the pause between expiry sweeps.
	SweepInterval time.Duration
}

func (o *Options) applyDefaults() {
	if o.ConfirmTTL <= 0 {
		o.ConfirmTTL = 5 * time.Minute
	}
	if o.PollInterval <= 0 {
		o.PollInterval = 2 * time.Second
	}
	if o.PollTimeout <= 0 {
		o.PollTimeout = 10 * time.Minute
	}
	if o.SweepInterval <= 0 {
		o.SweepInterval = 30 * time.Second
	}
}

// Coordinator drives payment requests through their state machine. One
// coordinator instance owns all background settlement polling and expiry
// sweeping for the process.
type Coordinator struct {
	store   Store
	backend ledger.Backend
	notify  Notifier
	locks   Locker
	opts    Options

	// baseCtx scopes background watchers to the coordinator's lifetime
	// rather than the triggering message's handler context.
	baseCtx context.Context

	wg sync.WaitGroup
}

// NewCoordinator wires a coordinator; locks may be nil.
func NewCoordinator(store Store, backend ledger.Backend, notify Notifier, locks Locker, opts Options) *Coordinator {
	opts.applyDefaults()
	return &Coordinator{
		store:   store,
		backend: backend,
		notify:  notify,
		locks:   locks,
		opts:    opts,
		baseCtx: context.Background(),
	}
}

// Start resumes polling for requests left SUBMITTED by a previous run and
// launches the expiry sweeper. Background work stops when ctx is done;
// Close waits for it.
func (c *Coordinator) Start(ctx context.Context) error {
	c.baseCtx = ctx
	resumed, err := c.store.ListByState(ctx, StateSubmitted)
	if err != nil {
		return fmt.Errorf("payment resume: %w", err)
	}
	for _, req := range resumed {
		c.spawnSettlement(req)
	}
	if len(resumed) > 0 {
		logger.PAY.Info("resumed submitted requests",
			slog.String("event", "payment.resume"),
			slog.Int("count", len(resumed)),
		)
	}

	c.wg.Add(1)
	go c.sweepLoop(ctx)
	return nil
}

// Close waits for background settlement and sweep tasks to finish. Rows
// stay durably SUBMITTED, so nothing is lost if a poller is interrupted.
func (c *Coordinator) Close() {
	c.wg.Wait()
}

// CreateRequest validates and persists a new payment request and moves it
// to AWAITING_CONFIRMATION. Invalid input fails fast with a validation
// error and persists nothing.
func (c *Coordinator) CreateRequest(ctx context.Context, requester identity.Identity, fromAddr string, counterparty identity.Identity, toAddr string, amount int64) (Request, error) {
	if amount <= 0 {
		return Request{}, fault.Validationf("amount must be a positive whole number")
	}
	if _, err := address.Decode(fromAddr); err != nil {
		return Request{}, fault.Validationf("you have no usable payment address; set one with the address command")
	}
	if _, err := address.Decode(toAddr); err != nil {
		return Request{}, fault.Validationf("recipient has no usable payment address")
	}
	if requester == counterparty {
		return Request{}, fault.Validationf("cannot pay yourself")
	}

	if _, active, err := c.store.ActiveFor(ctx, requester); err != nil {
		return Request{}, err
	} else if active {
		return Request{}, fault.Wrap(fault.KindValidation, ErrActiveExists, "a pending request exists; confirm or cancel it first")
	}

	now := time.Now().UTC()
	req := Request{
		ID:           uuid.NewString(),
		Requester:    requester,
		Counterparty: counterparty,
		Amount:       amount,
		FromAddress:  fromAddr,
		ToAddress:    toAddr,
		State:        StateRequested,
		Token:        uuid.NewString(),
		CreatedAt:    now,
	}
	if err := c.store.Create(ctx, req); err != nil {
		if errors.Is(err, ErrActiveExists) {
			return Request{}, fault.Wrap(fault.KindValidation, err, "a pending request exists; confirm or cancel it first")
		}
		return Request{}, err
	}

	if err := c.store.Transition(ctx, req.ID, StateRequested, StateAwaitingConfirmation, Update{}); err != nil {
		return Request{}, err
	}
	req.State = StateAwaitingConfirmation

	logger.PAY.Info("request created",
		slog.String("event", "payment.create"),
		slog.String("payment_id", req.ID),
		slog.String("identity", requester.String()),
		slog.String("counterparty", counterparty.String()),
		slog.Int64("amount", amount),
	)
	return req, nil
}

// Confirm processes a confirm token from its requester. The ledger submit
// call happens exactly once per request: the state flips to SUBMITTED
// before the call, and a re-delivered confirm for an already-submitted
// request is a no-op that re-reports the current state.
func (c *Coordinator) Confirm(ctx context.Context, requester identity.Identity, token string) (Request, error) {
	if c.locks != nil {
		ok, err := c.locks.AcquireConfirmLock(ctx, token)
		if err != nil {
			logger.PAY.Warn("confirm lock unavailable",
				slog.String("event", "payment.confirm"),
				slog.String("err", err.Error()),
			)
		} else if !ok {
			// a concurrent delivery of the same confirm is in flight;
			// report whatever state it leaves behind
			return c.reportCurrent(ctx, requester, token)
		} else {
			defer c.locks.ReleaseConfirmLock(ctx, token)
		}
	}

	req, err := c.store.GetByToken(ctx, token)
	if errors.Is(err, ErrNotFound) {
		return Request{}, fault.Validationf("unknown confirmation code")
	}
	if err != nil {
		return Request{}, err
	}
	if req.Requester != requester {
		return Request{}, fault.Validationf("unknown confirmation code")
	}

	if req.State != StateAwaitingConfirmation {
		// duplicate or late confirm: no-op, current state speaks
		return req, nil
	}

	// Flip before submitting so a crash cannot cause a double submit; a
	// row left SUBMITTED without a receipt is re-driven on restart with
	// the same idempotency token.
	if err := c.store.Transition(ctx, req.ID, StateAwaitingConfirmation, StateSubmitted, Update{}); err != nil {
		if errors.Is(err, ErrStale) {
			return c.reportCurrent(ctx, requester, token)
		}
		return Request{}, err
	}
	req.State = StateSubmitted

	return c.submit(ctx, req)
}

// submit invokes the ledger backend for a request already flipped to
// SUBMITTED and records the outcome.
func (c *Coordinator) submit(ctx context.Context, req Request) (Request, error) {
	receipt, err := c.backend.Submit(ctx, req.Token, req.FromAddress, req.ToAddress, req.Amount)
	if err != nil {
		var rej *ledger.Rejection
		reason := "ledger unreachable"
		if errors.As(err, &rej) {
			reason = rej.Reason
		}
		if terr := c.store.Transition(ctx, req.ID, StateSubmitted, StateFailed, Update{FailReason: reason}); terr != nil {
			logger.PAY.Error("fail transition lost",
				slog.String("event", "payment.submit"),
				slog.String("payment_id", req.ID),
				slog.String("err", terr.Error()),
			)
		}
		req.State = StateFailed
		req.FailReason = reason
		logger.PAY.Warn("submit failed",
			slog.String("event", "payment.submit"),
			slog.String("status", "fail"),
			slog.String("payment_id", req.ID),
			slog.String("cause", reason),
		)
		return req, nil
	}

	if err := c.store.SetReceipt(ctx, req.ID, receipt); err != nil {
		logger.PAY.Error("receipt record failed",
			slog.String("event", "payment.submit"),
			slog.String("payment_id", req.ID),
			slog.String("err", err.Error()),
		)
	}
	req.ReceiptID = receipt
	req.UpdatedAt = time.Now().UTC()

	logger.PAY.Info("submitted",
		slog.String("event", "payment.submit"),
		slog.String("status", "ok"),
		slog.String("payment_id", req.ID),
		slog.String("receipt_id", receipt),
	)

	c.spawnSettlement(req)
	return req, nil
}

// Cancel aborts the requester's pending request before submission.
func (c *Coordinator) Cancel(ctx context.Context, requester identity.Identity) (Request, error) {
	req, active, err := c.store.ActiveFor(ctx, requester)
	if err != nil {
		return Request{}, err
	}
	if !active {
		return Request{}, fault.Validationf("no pending payment request")
	}
	if req.State == StateSubmitted {
		return Request{}, fault.Validationf("payment already submitted; it can no longer be cancelled")
	}
	if err := c.store.Transition(ctx, req.ID, req.State, StateFailed, Update{FailReason: "cancelled by user"}); err != nil {
		if errors.Is(err, ErrStale) {
			return Request{}, fault.Conflictf("request changed, please retry")
		}
		return Request{}, err
	}
	req.State = StateFailed
	req.FailReason = "cancelled by user"
	return req, nil
}

// Active returns the requester's current non-terminal request, if any.
func (c *Coordinator) Active(ctx context.Context, requester identity.Identity) (Request, bool, error) {
	return c.store.ActiveFor(ctx, requester)
}

func (c *Coordinator) reportCurrent(ctx context.Context, requester identity.Identity, token string) (Request, error) {
	req, err := c.store.GetByToken(ctx, token)
	if errors.Is(err, ErrNotFound) {
		return Request{}, fault.Validationf("unknown confirmation code")
	}
	if err != nil {
		return Request{}, err
	}
	if req.Requester != requester {
		return Request{}, fault.Validationf("unknown confirmation code")
	}
	return req, nil
}

func (c *Coordinator) spawnSettlement(req Request) {
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		c.watchSettlement(c.baseCtx, req)
	}()
}

// watchSettlement polls the backend until the request settles, is
// rejected, or the hard deadline passes. A cancelled context leaves the
// row durably SUBMITTED so the next run resumes it.
func (c *Coordinator) watchSettlement(ctx context.Context, req Request) {
	// A row flipped to SUBMITTED whose submit call never completed is
	// re-driven with the same idempotency token.
	if req.ReceiptID == "" {
		var err error
		req, err = c.submit(ctx, req)
		if err != nil || req.State != StateSubmitted {
			return
		}
		// submit already spawned a fresh watcher for the receipt
		return
	}

	deadline := req.UpdatedAt.Add(c.opts.PollTimeout)
	ticker := time.NewTicker(c.opts.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.PAY.Info("settlement watch checkpointed",
				slog.String("event", "payment.settle"),
				slog.String("status", "cancelled"),
				slog.String("payment_id", req.ID),
			)
			return
		case <-ticker.C:
		}

		if time.Now().After(deadline) {
			c.failSubmitted(ctx, req, "ledger unreachable: settlement timed out")
			return
		}

		status, err := c.backend.GetStatus(ctx, req.ReceiptID)
		if err != nil {
			logger.PAY.Debug("status poll failed",
				slog.String("event", "payment.settle"),
				slog.String("status", "retry"),
				slog.String("payment_id", req.ID),
				slog.String("err", err.Error()),
			)
			continue
		}

		switch status {
		case ledger.StatusPending:
			continue
		case ledger.StatusFinal:
			if err := c.store.Transition(ctx, req.ID, StateSubmitted, StateSettled, Update{}); err != nil {
				return
			}
			logger.PAY.Info("settled",
				slog.String("event", "payment.settle"),
				slog.String("status", "ok"),
				slog.String("payment_id", req.ID),
				slog.String("receipt_id", req.ReceiptID),
			)
			if c.notify != nil {
				c.notify.Notify(ctx, req.Requester,
					fmt.Sprintf("Payment settled. Receipt: %s", req.ReceiptID))
			}
			return
		case ledger.StatusRejected:
			c.failSubmitted(ctx, req, "rejected by ledger")
			return
		}
	}
}

func (c *Coordinator) failSubmitted(ctx context.Context, req Request, reason string) {
	if err := c.store.Transition(ctx, req.ID, StateSubmitted, StateFailed, Update{FailReason: reason}); err != nil {
		return
	}
	logger.PAY.Warn("request failed",
		slog.String("event", "payment.settle"),
		slog.String("status", "fail"),
		slog.String("payment_id", req.ID),
		slog.String("cause", reason),
	)
	if c.notify != nil {
		c.notify.Notify(ctx, req.Requester, fmt.Sprintf("Payment failed: %s", reason))
	}
}

func (c *Coordinator) sweepLoop(ctx context.Context) {
	defer c.wg.Done()
	ticker := time.NewTicker(c.opts.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		cutoff := time.Now().UTC().Add(-c.opts.ConfirmTTL)
		expired, err := c.store.ExpireOlderThan(ctx, cutoff)
		if err != nil {
			logger.PAY.Error("expiry sweep failed",
				slog.String("event", "payment.expire"),
				slog.String("err", err.Error()),
			)
			continue
		}
		for _, req := range expired {
			logger.PAY.Info("request expired",
				slog.String("event", "payment.expire"),
				slog.String("payment_id", req.ID),
				slog.String("identity", req.Requester.String()),
			)
			if c.notify != nil {
				c.notify.Notify(ctx, req.Requester, "Your payment request expired without confirmation.")
			}
		}
	}
}
