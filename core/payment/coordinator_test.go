package payment

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/m3rciful/paybot/core/address"
	"github.com/m3rciful/paybot/core/fault"
	"github.com/m3rciful/paybot/core/identity"
	"github.com/m3rciful/paybot/core/ledger"
)

const (
	alice = identity.Identity("+16505550100")
	bob   = identity.Identity("+16505550101")
)

type fakeBackend struct {
	mu      sync.Mutex
	submits int
	status  ledger.Status
	reject  *ledger.Rejection
}

func (f *fakeBackend) Submit(_ context.Context, token, _, _ string, _ int64) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.submits++
	if f.reject != nil {
		return "", f.reject
	}
	return "receipt-" + token, nil
}

func (f *fakeBackend) GetStatus(context.Context, string) (ledger.Status, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.status, nil
}

func (f *fakeBackend) GetBalance(context.Context, string) (int64, error) {
	return 0, nil
}

func (f *fakeBackend) submitCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.submits
}

type fakeNotifier struct {
	mu   sync.Mutex
	sent []string
}

func (f *fakeNotifier) Notify(_ context.Context, _ identity.Identity, text string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, text)
}

func (f *fakeNotifier) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent)
}

func testAddr(t *testing.T, seed byte) string {
	t.Helper()
	view := make([]byte, 32)
	spend := make([]byte, 32)
	view[0] = seed
	spend[0] = seed + 1
	a, err := address.New(view, spend)
	require.NoError(t, err)
	return address.Encode(a)
}

func fastOpts() Options {
	return Options{
		ConfirmTTL:    time.Minute,
		PollInterval:  5 * time.Millisecond,
		PollTimeout:   time.Second,
		SweepInterval: time.Hour,
	}
}

func TestCreateConfirmSettles(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	store := NewMemoryStore()
	backend := &fakeBackend{status: ledger.StatusFinal}
	notes := &fakeNotifier{}
	c := NewCoordinator(store, backend, notes, nil, fastOpts())
	require.NoError(t, c.Start(ctx))

	req, err := c.CreateRequest(ctx, alice, testAddr(t, 1), bob, testAddr(t, 3), 500)
	require.NoError(t, err)
	require.Equal(t, StateAwaitingConfirmation, req.State)
	require.NotEmpty(t, req.Token)

	got, err := c.Confirm(ctx, alice, req.Token)
	require.NoError(t, err)
	require.Equal(t, StateSubmitted, got.State)
	require.Equal(t, "receipt-"+req.Token, got.ReceiptID)
	require.Equal(t, 1, backend.submitCount())

	require.Eventually(t, func() bool {
		r, err := store.Get(ctx, req.ID)
		return err == nil && r.State == StateSettled
	}, time.Second, 5*time.Millisecond)

	require.Eventually(t, func() bool { return notes.count() == 1 }, time.Second, 5*time.Millisecond)
	require.Contains(t, notes.sent[0], got.ReceiptID)

	cancel()
	c.Close()
}

func TestConfirmIdempotent(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	store := NewMemoryStore()
	backend := &fakeBackend{status: ledger.StatusPending}
	c := NewCoordinator(store, backend, nil, nil, fastOpts())

	req, err := c.CreateRequest(ctx, alice, testAddr(t, 1), bob, testAddr(t, 3), 500)
	require.NoError(t, err)

	first, err := c.Confirm(ctx, alice, req.Token)
	require.NoError(t, err)
	second, err := c.Confirm(ctx, alice, req.Token)
	require.NoError(t, err)

	require.Equal(t, 1, backend.submitCount())
	require.Equal(t, first.State, second.State)
	require.Equal(t, first.ReceiptID, second.ReceiptID)

	cancel()
	c.Close()
}

func TestCreateSingleFlight(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	c := NewCoordinator(store, &fakeBackend{}, nil, nil, fastOpts())

	_, err := c.CreateRequest(ctx, alice, testAddr(t, 1), bob, testAddr(t, 3), 500)
	require.NoError(t, err)

	_, err = c.CreateRequest(ctx, alice, testAddr(t, 1), bob, testAddr(t, 3), 200)
	require.Error(t, err)
	require.True(t, fault.IsValidation(err))
	require.ErrorIs(t, err, ErrActiveExists)
}

func TestCreateValidation(t *testing.T) {
	ctx := context.Background()
	c := NewCoordinator(NewMemoryStore(), &fakeBackend{}, nil, nil, fastOpts())

	_, err := c.CreateRequest(ctx, alice, testAddr(t, 1), bob, testAddr(t, 3), 0)
	require.True(t, fault.IsValidation(err))

	_, err = c.CreateRequest(ctx, alice, "not-a-token", bob, testAddr(t, 3), 500)
	require.True(t, fault.IsValidation(err))

	_, err = c.CreateRequest(ctx, alice, testAddr(t, 1), bob, "not-a-token", 500)
	require.True(t, fault.IsValidation(err))

	_, err = c.CreateRequest(ctx, alice, testAddr(t, 1), alice, testAddr(t, 1), 500)
	require.True(t, fault.IsValidation(err))
}

func TestConfirmUnknownToken(t *testing.T) {
	ctx := context.Background()
	c := NewCoordinator(NewMemoryStore(), &fakeBackend{}, nil, nil, fastOpts())

	_, err := c.Confirm(ctx, alice, "nope")
	require.True(t, fault.IsValidation(err))

	req, err := c.CreateRequest(ctx, alice, testAddr(t, 1), bob, testAddr(t, 3), 500)
	require.NoError(t, err)

	// a token is only valid from its own requester
	_, err = c.Confirm(ctx, bob, req.Token)
	require.True(t, fault.IsValidation(err))
}

func TestLedgerRejectionFailsRequest(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	backend := &fakeBackend{reject: &ledger.Rejection{Reason: "insufficient funds"}}
	c := NewCoordinator(store, backend, nil, nil, fastOpts())

	req, err := c.CreateRequest(ctx, alice, testAddr(t, 1), bob, testAddr(t, 3), 500)
	require.NoError(t, err)

	got, err := c.Confirm(ctx, alice, req.Token)
	require.NoError(t, err)
	require.Equal(t, StateFailed, got.State)
	require.Equal(t, "insufficient funds", got.FailReason)
	require.Equal(t, 1, backend.submitCount())

	// a later confirm re-reports the failure without another submit
	again, err := c.Confirm(ctx, alice, req.Token)
	require.NoError(t, err)
	require.Equal(t, StateFailed, again.State)
	require.Equal(t, 1, backend.submitCount())
}

func TestRejectedStatusFailsAfterSubmit(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	store := NewMemoryStore()
	backend := &fakeBackend{status: ledger.StatusRejected}
	notes := &fakeNotifier{}
	c := NewCoordinator(store, backend, notes, nil, fastOpts())
	require.NoError(t, c.Start(ctx))

	req, err := c.CreateRequest(ctx, alice, testAddr(t, 1), bob, testAddr(t, 3), 500)
	require.NoError(t, err)
	_, err = c.Confirm(ctx, alice, req.Token)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		r, err := store.Get(ctx, req.ID)
		return err == nil && r.State == StateFailed
	}, time.Second, 5*time.Millisecond)

	cancel()
	c.Close()
}

func TestExpirySweepExactlyOnce(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	store := NewMemoryStore()
	backend := &fakeBackend{}
	notes := &fakeNotifier{}
	opts := fastOpts()
	opts.ConfirmTTL = time.Millisecond
	opts.SweepInterval = 5 * time.Millisecond
	c := NewCoordinator(store, backend, notes, nil, opts)

	req, err := c.CreateRequest(ctx, alice, testAddr(t, 1), bob, testAddr(t, 3), 500)
	require.NoError(t, err)

	require.NoError(t, c.Start(ctx))

	require.Eventually(t, func() bool {
		r, err := store.Get(ctx, req.ID)
		return err == nil && r.State == StateExpired
	}, time.Second, 5*time.Millisecond)

	// let several more sweeps pass; the notice must not repeat
	time.Sleep(30 * time.Millisecond)
	require.Equal(t, 1, notes.count())

	// confirming an expired request is a no-op that reports expiry
	got, err := c.Confirm(ctx, alice, req.Token)
	require.NoError(t, err)
	require.Equal(t, StateExpired, got.State)
	require.Equal(t, 0, backend.submitCount())

	cancel()
	c.Close()
}

func TestResumeSubmittedDoesNotResubmit(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	store := NewMemoryStore()
	backend := &fakeBackend{status: ledger.StatusFinal}

	seeded := Request{
		ID:           "req-1",
		Requester:    alice,
		Counterparty: bob,
		Amount:       500,
		FromAddress:  testAddr(t, 1),
		ToAddress:    testAddr(t, 3),
		State:        StateRequested,
		Token:        "tok-1",
		CreatedAt:    time.Now().UTC(),
	}
	require.NoError(t, store.Create(ctx, seeded))
	require.NoError(t, store.Transition(ctx, seeded.ID, StateRequested, StateAwaitingConfirmation, Update{}))
	require.NoError(t, store.Transition(ctx, seeded.ID, StateAwaitingConfirmation, StateSubmitted, Update{ReceiptID: "receipt-tok-1"}))

	c := NewCoordinator(store, backend, nil, nil, fastOpts())
	require.NoError(t, c.Start(ctx))

	require.Eventually(t, func() bool {
		r, err := store.Get(ctx, seeded.ID)
		return err == nil && r.State == StateSettled
	}, time.Second, 5*time.Millisecond)
	require.Equal(t, 0, backend.submitCount())

	cancel()
	c.Close()
}

func TestResumeSubmittedWithoutReceiptRetriesSameToken(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	store := NewMemoryStore()
	backend := &fakeBackend{status: ledger.StatusFinal}

	seeded := Request{
		ID:           "req-2",
		Requester:    alice,
		Counterparty: bob,
		Amount:       500,
		FromAddress:  testAddr(t, 1),
		ToAddress:    testAddr(t, 3),
		State:        StateRequested,
		Token:        "tok-2",
		CreatedAt:    time.Now().UTC(),
	}
	require.NoError(t, store.Create(ctx, seeded))
	require.NoError(t, store.Transition(ctx, seeded.ID, StateRequested, StateAwaitingConfirmation, Update{}))
	require.NoError(t, store.Transition(ctx, seeded.ID, StateAwaitingConfirmation, StateSubmitted, Update{}))

	c := NewCoordinator(store, backend, nil, nil, fastOpts())
	require.NoError(t, c.Start(ctx))

	require.Eventually(t, func() bool {
		r, err := store.Get(ctx, seeded.ID)
		return err == nil && r.State == StateSettled && r.ReceiptID == "receipt-tok-2"
	}, time.Second, 5*time.Millisecond)
	require.Equal(t, 1, backend.submitCount())

	cancel()
	c.Close()
}

func TestSettlementTimeoutFails(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	store := NewMemoryStore()
	backend := &fakeBackend{status: ledger.StatusPending}
	notes := &fakeNotifier{}
	opts := fastOpts()
	opts.PollTimeout = 20 * time.Millisecond
	c := NewCoordinator(store, backend, notes, nil, opts)
	require.NoError(t, c.Start(ctx))

	req, err := c.CreateRequest(ctx, alice, testAddr(t, 1), bob, testAddr(t, 3), 500)
	require.NoError(t, err)
	_, err = c.Confirm(ctx, alice, req.Token)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		r, err := store.Get(ctx, req.ID)
		return err == nil && r.State == StateFailed
	}, time.Second, 5*time.Millisecond)

	r, err := store.Get(ctx, req.ID)
	require.NoError(t, err)
	require.Contains(t, r.FailReason, "ledger unreachable")

	cancel()
	c.Close()
}

func TestCancel(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	c := NewCoordinator(store, &fakeBackend{status: ledger.StatusPending}, nil, nil, fastOpts())

	_, err := c.Cancel(ctx, alice)
	require.True(t, fault.IsValidation(err))

	req, err := c.CreateRequest(ctx, alice, testAddr(t, 1), bob, testAddr(t, 3), 500)
	require.NoError(t, err)

	got, err := c.Cancel(ctx, alice)
	require.NoError(t, err)
	require.Equal(t, StateFailed, got.State)
	require.Equal(t, "cancelled by user", got.FailReason)

	// a fresh request is allowed once the old one is terminal
	_, err = c.CreateRequest(ctx, alice, testAddr(t, 1), bob, testAddr(t, 3), 200)
	require.NoError(t, err)

	// but not after submission
	fresh, _, err := c.Active(ctx, alice)
	require.NoError(t, err)
	_, err = c.Confirm(ctx, alice, fresh.Token)
	require.NoError(t, err)
	_, err = c.Cancel(ctx, alice)
	require.True(t, fault.IsValidation(err))
	_ = req

	c.Close()
}

func TestStateMachineGuards(t *testing.T) {
	require.True(t, StateRequested.CanTransition(StateAwaitingConfirmation))
	require.True(t, StateAwaitingConfirmation.CanTransition(StateSubmitted))
	require.True(t, StateSubmitted.CanTransition(StateSettled))
	require.True(t, StateAwaitingConfirmation.CanTransition(StateExpired))
	require.True(t, StateSubmitted.CanTransition(StateFailed))

	require.False(t, StateSettled.CanTransition(StateFailed))
	require.False(t, StateExpired.CanTransition(StateSubmitted))
	require.False(t, StateSubmitted.CanTransition(StateAwaitingConfirmation))
	require.False(t, StateRequested.CanTransition(StateSubmitted))

	require.True(t, errors.Is(ErrStale, ErrStale))
}
