package bot

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/m3rciful/paybot/core/identity"
	"github.com/m3rciful/paybot/core/logger"
)

// DispatchOptions tunes the dispatch loop.
type DispatchOptions struct {
	// LaneBuffer is the queue depth of one identity's lane.
	LaneBuffer int
}

// Dispatcher fans inbound events out to per-identity lanes. Events from
// the same identity are handled strictly in arrival order on a single
// goroutine; events from different identities run concurrently.
type Dispatcher struct {
	transport Transport
	handler   HandlerFunc
	out       *Sender
	opts      DispatchOptions

	mu    sync.Mutex
	lanes map[identity.Identity]chan InboundEvent
	wg    sync.WaitGroup
	seq   atomic.Int64
}

// NewDispatcher wires the dispatch loop around a transport and the
// composed handler chain.
func NewDispatcher(transport Transport, out *Sender, handler HandlerFunc, opts DispatchOptions) *Dispatcher {
	if opts.LaneBuffer <= 0 {
		opts.LaneBuffer = 32
	}
	return &Dispatcher{
		transport: transport,
		handler:   handler,
		out:       out,
		opts:      opts,
		lanes:     make(map[identity.Identity]chan InboundEvent),
	}
}

// Run consumes the transport's event stream until ctx is done, then closes
// all lanes and waits for accepted events to finish handling. Events with
// no usable sender are dropped at intake.
func (d *Dispatcher) Run(ctx context.Context) error {
	events, err := d.transport.Subscribe(ctx)
	if err != nil {
		return err
	}

	logger.DISP.Info("dispatch loop started",
		slog.String("event", "dispatch.start"),
	)

	for {
		select {
		case <-ctx.Done():
			d.drain()
			return nil
		case ev, ok := <-events:
			if !ok {
				d.drain()
				return nil
			}
			d.route(ev)
		}
	}
}

func (d *Dispatcher) route(ev InboundEvent) {
	if ev.Sender.IsZero() {
		logger.DISP.Warn("event without sender dropped",
			slog.String("event", "dispatch.drop"),
		)
		return
	}
	if ev.ID == 0 {
		ev.ID = d.seq.Add(1)
	}

	d.mu.Lock()
	lane, ok := d.lanes[ev.Sender]
	if !ok {
		lane = make(chan InboundEvent, d.opts.LaneBuffer)
		d.lanes[ev.Sender] = lane
		d.wg.Add(1)
		go d.runLane(ev.Sender, lane)
	}
	d.mu.Unlock()

	// A full lane means this one identity is flooding; dropping here
	// keeps intake moving for everyone else.
	select {
	case lane <- ev:
	default:
		logger.DISP.Warn("lane full, event dropped",
			slog.String("event", "dispatch.drop"),
			slog.String("identity", ev.Sender.String()),
			slog.Int("queue_depth", d.opts.LaneBuffer),
		)
	}
}

// runLane handles one identity's events in order. Handler contexts are
// detached from the run context so an in-flight handler is never aborted
// mid-write during shutdown.
func (d *Dispatcher) runLane(id identity.Identity, lane <-chan InboundEvent) {
	defer d.wg.Done()
	for ev := range lane {
		c := NewContext(context.Background(), ev, d.out)
		if err := d.handler(c); err != nil {
			logger.DISP.Error("handler failed",
				slog.String("event", "dispatch.handle"),
				slog.String("status", "fail"),
				slog.String("identity", id.String()),
				slog.Int64("event_id", ev.ID),
				slog.String("err", err.Error()),
			)
		}
	}
}

// drain closes every lane and waits for accepted events to be handled.
func (d *Dispatcher) drain() {
	d.mu.Lock()
	for id, lane := range d.lanes {
		close(lane)
		delete(d.lanes, id)
	}
	d.mu.Unlock()
	d.wg.Wait()

	logger.DISP.Info("dispatch loop stopped",
		slog.String("event", "dispatch.stop"),
	)
}
