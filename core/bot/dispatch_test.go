package bot

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/m3rciful/paybot/core/identity"
)

type fakeTransport struct {
	events chan InboundEvent

	mu   sync.Mutex
	sent []OutboundMessage
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{events: make(chan InboundEvent, 64)}
}

func (f *fakeTransport) Subscribe(context.Context) (<-chan InboundEvent, error) {
	return f.events, nil
}

func (f *fakeTransport) Send(_ context.Context, msg OutboundMessage) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, msg)
	return nil
}

const (
	userA = identity.Identity("+16505550100")
	userB = identity.Identity("+16505550101")
)

func TestDispatchOrderPerIdentity(t *testing.T) {
	tr := newFakeTransport()
	out := NewSender(tr, SenderOptions{})
	defer out.Close()

	var (
		mu      sync.Mutex
		handled []string
	)
	handler := func(c *Context) error {
		mu.Lock()
		handled = append(handled, c.Text())
		mu.Unlock()
		return nil
	}

	d := NewDispatcher(tr, out, handler, DispatchOptions{})
	ctx, cancel := context.WithCancel(context.Background())

	for _, text := range []string{"one", "two", "three", "four", "five"} {
		tr.events <- InboundEvent{Sender: userA, Text: text}
	}
	close(tr.events)

	require.NoError(t, d.Run(ctx))
	cancel()

	require.Equal(t, []string{"one", "two", "three", "four", "five"}, handled)
}

func TestDispatchIdentitiesRunConcurrently(t *testing.T) {
	tr := newFakeTransport()
	out := NewSender(tr, SenderOptions{})
	defer out.Close()

	blockA := make(chan struct{})
	bDone := make(chan struct{})
	handler := func(c *Context) error {
		switch c.Sender() {
		case userA:
			<-blockA
		case userB:
			close(bDone)
		}
		return nil
	}

	d := NewDispatcher(tr, out, handler, DispatchOptions{})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan struct{})
	go func() {
		_ = d.Run(ctx)
		close(done)
	}()

	tr.events <- InboundEvent{Sender: userA, Text: "slow"}
	tr.events <- InboundEvent{Sender: userB, Text: "fast"}

	// B must complete while A's lane is still blocked
	select {
	case <-bDone:
	case <-time.After(time.Second):
		t.Fatal("second identity starved by first")
	}

	close(blockA)
	close(tr.events)
	<-done
}

func TestDispatchPanicIsolation(t *testing.T) {
	tr := newFakeTransport()
	out := NewSender(tr, SenderOptions{})
	defer out.Close()

	var (
		mu      sync.Mutex
		handled []string
	)
	handler := RecoverMiddleware(func(c *Context) error {
		if c.Text() == "boom" {
			panic("poisoned event")
		}
		mu.Lock()
		handled = append(handled, c.Text())
		mu.Unlock()
		return nil
	})

	d := NewDispatcher(tr, out, handler, DispatchOptions{})

	tr.events <- InboundEvent{Sender: userA, Text: "before"}
	tr.events <- InboundEvent{Sender: userA, Text: "boom"}
	tr.events <- InboundEvent{Sender: userA, Text: "after"}
	close(tr.events)

	require.NoError(t, d.Run(context.Background()))
	require.Equal(t, []string{"before", "after"}, handled)
}

func TestDispatchGracefulStop(t *testing.T) {
	tr := newFakeTransport()
	out := NewSender(tr, SenderOptions{})
	defer out.Close()

	handlerStarted := make(chan struct{}, 1)
	var (
		mu        sync.Mutex
		completed int
	)
	handler := func(c *Context) error {
		select {
		case handlerStarted <- struct{}{}:
		default:
		}
		time.Sleep(20 * time.Millisecond)
		mu.Lock()
		completed++
		mu.Unlock()
		return nil
	}

	d := NewDispatcher(tr, out, handler, DispatchOptions{})
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		_ = d.Run(ctx)
		close(done)
	}()

	tr.events <- InboundEvent{Sender: userA, Text: "in-flight"}
	<-handlerStarted
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("dispatcher did not stop")
	}

	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, 1, completed, "in-flight handler must complete before stop")
}

func TestDispatchDropsSenderlessEvents(t *testing.T) {
	tr := newFakeTransport()
	out := NewSender(tr, SenderOptions{})
	defer out.Close()

	var (
		mu      sync.Mutex
		handled int
	)
	handler := func(c *Context) error {
		mu.Lock()
		handled++
		mu.Unlock()
		return nil
	}

	d := NewDispatcher(tr, out, handler, DispatchOptions{})

	tr.events <- InboundEvent{Text: "no sender"}
	tr.events <- InboundEvent{Sender: userA, Text: "ok"}
	close(tr.events)

	require.NoError(t, d.Run(context.Background()))
	require.Equal(t, 1, handled)
}

func TestRateLimitMiddleware(t *testing.T) {
	tr := newFakeTransport()
	out := NewSender(tr, SenderOptions{})
	defer out.Close()

	var limited, handled int
	mw := RateLimitMiddleware(RateLimitOptions{
		Interval: time.Hour,
		OnLimited: func(c *Context) error {
			limited++
			return nil
		},
	})
	h := mw(func(c *Context) error {
		handled++
		return nil
	})

	c := NewContext(context.Background(), InboundEvent{Sender: userA, Text: "hi"}, out)
	require.NoError(t, h(c))
	require.NoError(t, h(c))

	require.Equal(t, 1, handled)
	require.Equal(t, 1, limited)

	// a different identity is not affected
	other := NewContext(context.Background(), InboundEvent{Sender: userB, Text: "hi"}, out)
	require.NoError(t, h(other))
	require.Equal(t, 2, handled)
}

func TestAdminOnlyMiddleware(t *testing.T) {
	tr := newFakeTransport()
	out := NewSender(tr, SenderOptions{})
	defer out.Close()

	var handled, rejected int
	mw := AdminOnlyMiddleware(AdminOptions{
		Admin: userA,
		OnReject: func(c *Context) error {
			rejected++
			return nil
		},
	})
	h := mw(func(c *Context) error {
		handled++
		return nil
	})

	require.NoError(t, h(NewContext(context.Background(), InboundEvent{Sender: userA}, out)))
	require.NoError(t, h(NewContext(context.Background(), InboundEvent{Sender: userB}, out)))

	require.Equal(t, 1, handled)
	require.Equal(t, 1, rejected)
}
