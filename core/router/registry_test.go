package router

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/m3rciful/paybot/core/bot"
	"github.com/m3rciful/paybot/core/fault"
	"github.com/m3rciful/paybot/core/identity"
	"github.com/m3rciful/paybot/core/session"
)

const (
	alice = identity.Identity("+16505550100")
	bob   = identity.Identity("+16505550101")
)

type captureTransport struct {
	mu   sync.Mutex
	sent []bot.OutboundMessage
}

func (t *captureTransport) Subscribe(context.Context) (<-chan bot.InboundEvent, error) {
	return nil, nil
}

func (t *captureTransport) Send(_ context.Context, msg bot.OutboundMessage) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.sent = append(t.sent, msg)
	return nil
}

func (t *captureTransport) last(tb testing.TB) bot.OutboundMessage {
	tb.Helper()
	deadline := time.Now().Add(time.Second)
	for {
		t.mu.Lock()
		n := len(t.sent)
		t.mu.Unlock()
		if n > 0 {
			break
		}
		if time.Now().After(deadline) {
			tb.Fatal("no message sent")
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.sent[len(t.sent)-1]
}

func newTestContext(tr *captureTransport, sender identity.Identity, text string) (*bot.Context, *bot.Sender) {
	out := bot.NewSender(tr, bot.SenderOptions{})
	return bot.NewContext(context.Background(), bot.InboundEvent{Sender: sender, Text: text}, out), out
}

func TestRegistryLookup(t *testing.T) {
	reg := NewRegistry()
	noop := func(c *bot.Context) error { return nil }

	reg.Register("pay", Command{Handler: noop, Description: "send a payment", Aliases: []string{"send"}})
	reg.Register("balance", Command{Handler: noop, Description: "show balance"})

	name, _, ok := reg.Lookup("pay")
	require.True(t, ok)
	require.Equal(t, "pay", name)

	// aliases resolve to the canonical name
	name, _, ok = reg.Lookup("send")
	require.True(t, ok)
	require.Equal(t, "pay", name)

	// case-insensitive, leading slash tolerated
	_, _, ok = reg.Lookup("PAY")
	require.True(t, ok)
	_, _, ok = reg.Lookup("/balance")
	require.True(t, ok)

	_, _, ok = reg.Lookup("tip")
	require.False(t, ok)
}

func TestRegistryRejectsInvalid(t *testing.T) {
	reg := NewRegistry()
	noop := func(c *bot.Context) error { return nil }

	reg.Register("", Command{Handler: noop, Description: "x"})
	reg.Register("pay", Command{Description: "no handler"})
	reg.Register("two words", Command{Handler: noop, Description: "x"})
	require.Empty(t, reg.Commands())

	reg.Register("pay", Command{Handler: noop, Description: "first"})
	reg.Register("pay", Command{Handler: noop, Description: "second"})
	require.Len(t, reg.Commands(), 1)
	require.Equal(t, "first", reg.Commands()["pay"].Description)
}

func TestRegistryListHidesAdminAndHidden(t *testing.T) {
	reg := NewRegistry()
	noop := func(c *bot.Context) error { return nil }

	reg.Register("pay", Command{Handler: noop, Description: "send a payment"})
	reg.Register("eval", Command{Handler: noop, Description: "admin eval", AdminOnly: true})
	reg.Register("debug", Command{Handler: noop, Description: "debug dump", Hidden: true})

	visible := reg.List(true)
	require.Len(t, visible, 1)
	require.Equal(t, "pay", visible[0].Name)

	require.Len(t, reg.List(false), 3)
	require.Contains(t, reg.HelpText(), "pay - send a payment")
	require.NotContains(t, reg.HelpText(), "eval")
}

func TestDispatchRoutesCommandWithArgs(t *testing.T) {
	reg := NewRegistry()
	var gotArgs []string
	reg.Register("pay", Command{
		Handler: func(c *bot.Context) error {
			gotArgs = c.Args()
			return nil
		},
		Description: "send a payment",
	})

	tr := &captureTransport{}
	c, out := newTestContext(tr, alice, "pay bob 500")
	defer out.Close()

	h := Dispatch(reg, session.NewMemoryStore(), Options{})
	require.NoError(t, h(c))
	require.Equal(t, []string{"bob", "500"}, gotArgs)
}

func TestDispatchUnknownFallsBackToHelp(t *testing.T) {
	reg := NewRegistry()
	reg.Register("pay", Command{
		Handler:     func(c *bot.Context) error { return nil },
		Description: "send a payment",
	})

	tr := &captureTransport{}
	c, out := newTestContext(tr, alice, "frobnicate")
	defer out.Close()

	h := Dispatch(reg, session.NewMemoryStore(), Options{})
	require.NoError(t, h(c))
	require.Contains(t, tr.last(t).Text, "Available commands")
}

func TestDispatchContinuation(t *testing.T) {
	reg := NewRegistry()
	var contText []string
	reg.Register("pay", Command{
		Handler: func(c *bot.Context) error { return nil },
		Continuation: func(c *bot.Context) error {
			contText = c.Args()
			return nil
		},
		Description: "send a payment",
	})

	sessions := session.NewMemoryStore()
	ctx := context.Background()
	_, err := session.Mutate(ctx, sessions, alice, 3, func(s *session.Session) error {
		s.LastCommand = "pay"
		s.PendingPayment = "req-1"
		return nil
	})
	require.NoError(t, err)

	tr := &captureTransport{}
	c, out := newTestContext(tr, alice, "yes please")
	defer out.Close()

	h := Dispatch(reg, sessions, Options{})
	require.NoError(t, h(c))
	require.Equal(t, []string{"yes", "please"}, contText)

	// a user with no pending continuation gets the help fallback instead
	c2, out2 := newTestContext(tr, bob, "yes please")
	defer out2.Close()
	require.NoError(t, h(c2))
	require.Contains(t, tr.last(t).Text, "Available commands")
}

func TestDispatchCommandBeatsContinuation(t *testing.T) {
	reg := NewRegistry()
	var handled string
	reg.Register("pay", Command{
		Handler: func(c *bot.Context) error { handled = "pay"; return nil },
		Continuation: func(c *bot.Context) error {
			handled = "continuation"
			return nil
		},
		Description: "send a payment",
	})
	reg.Register("cancel", Command{
		Handler:     func(c *bot.Context) error { handled = "cancel"; return nil },
		Description: "cancel the pending payment",
	})

	sessions := session.NewMemoryStore()
	_, err := session.Mutate(context.Background(), sessions, alice, 3, func(s *session.Session) error {
		s.LastCommand = "pay"
		s.PendingPayment = "req-1"
		return nil
	})
	require.NoError(t, err)

	tr := &captureTransport{}
	c, out := newTestContext(tr, alice, "cancel")
	defer out.Close()

	h := Dispatch(reg, sessions, Options{})
	require.NoError(t, h(c))
	require.Equal(t, "cancel", handled)
}

func TestDispatchAdminOnly(t *testing.T) {
	reg := NewRegistry()
	var handled int
	reg.Register("eval", Command{
		Handler:     func(c *bot.Context) error { handled++; return nil },
		Description: "admin eval",
		AdminOnly:   true,
	})

	tr := &captureTransport{}
	h := Dispatch(reg, session.NewMemoryStore(), Options{Admin: alice})

	c, out := newTestContext(tr, alice, "eval 1+1")
	defer out.Close()
	require.NoError(t, h(c))
	require.Equal(t, 1, handled)

	c2, out2 := newTestContext(tr, bob, "eval 1+1")
	defer out2.Close()
	require.NoError(t, h(c2))
	require.Equal(t, 1, handled)
}

func TestDispatchValidationErrorRepliesToUser(t *testing.T) {
	reg := NewRegistry()
	reg.Register("pay", Command{
		Handler: func(c *bot.Context) error {
			return fault.Validationf("amount must be a positive whole number")
		},
		Description: "send a payment",
	})

	tr := &captureTransport{}
	c, out := newTestContext(tr, alice, "pay bob -5")
	defer out.Close()

	h := Dispatch(reg, session.NewMemoryStore(), Options{})
	require.NoError(t, h(c))
	require.Contains(t, tr.last(t).Text, "amount must be a positive whole number")
}

func TestDispatchConflictErrorAsksUserToRetry(t *testing.T) {
	reg := NewRegistry()
	reg.Register("address", Command{
		Handler: func(c *bot.Context) error {
			return fault.Conflictf("session update lost 3 races")
		},
		Description: "set your address",
	})

	tr := &captureTransport{}
	c, out := newTestContext(tr, alice, "address abc")
	defer out.Close()

	h := Dispatch(reg, session.NewMemoryStore(), Options{})
	require.NoError(t, h(c))
	require.Contains(t, tr.last(t).Text, "try again")
}
