package bot

import (
	"context"
	"crypto/tls"
	"errors"
	"log/slog"
	"net"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/m3rciful/paybot/core/identity"
	"github.com/m3rciful/paybot/core/logger"
	"github.com/m3rciful/paybot/core/netutil"
)

var (
	// ErrQueueClosed is returned when enqueue is attempted after sender stop.
	ErrQueueClosed = errors.New("bot sender: queue closed")
	// ErrQueueFull indicates the queue is saturated and the message was not accepted.
	ErrQueueFull = errors.New("bot sender: queue full")
)

// SenderOptions controls the behaviour of the outbound send queue.
type SenderOptions struct {
	QueueSize    int
	Workers      int
	MaxRetries   int
	RetryBackoff time.Duration
	// MaxDuration bounds the time spent retrying a single message.
	MaxDuration time.Duration
}

type sendJob struct {
	ctx context.Context
	msg OutboundMessage
}

// Sender delivers outbound messages asynchronously with retries, so a slow
// transport never blocks a dispatch lane.
type Sender struct {
	transport Transport
	opts      SenderOptions
	jobs      chan sendJob
	stop      chan struct{}
	once      sync.Once
	wg        sync.WaitGroup
	errs      atomic.Uint64
}

// NewSender starts a sender with sane defaults if options are zeroed.
func NewSender(transport Transport, opts SenderOptions) *Sender {
	if opts.QueueSize <= 0 {
		opts.QueueSize = 256
	}
	if opts.Workers <= 0 {
		opts.Workers = 4
	}
	if opts.MaxRetries < 0 {
		opts.MaxRetries = 0
	}
	if opts.RetryBackoff <= 0 {
		opts.RetryBackoff = 2 * time.Second
	}
	if opts.MaxDuration <= 0 {
		opts.MaxDuration = 12 * time.Second
	}

	s := &Sender{
		transport: transport,
		opts:      opts,
		jobs:      make(chan sendJob, opts.QueueSize),
		stop:      make(chan struct{}),
	}

	s.wg.Add(opts.Workers)
	for i := 0; i < opts.Workers; i++ {
		go s.worker()
	}

	return s
}

// Send queues one message for asynchronous delivery.
func (s *Sender) Send(ctx context.Context, msg OutboundMessage) error {
	if msg.Recipient.IsZero() {
		return errors.New("bot sender: empty recipient")
	}
	select {
	case <-s.stop:
		return ErrQueueClosed
	default:
	}

	select {
	case s.jobs <- sendJob{ctx: ctx, msg: msg}:
		return nil
	default:
		return ErrQueueFull
	}
}

// Notify satisfies the payment coordinator's notifier contract. Delivery
// failures are counted and logged, not surfaced.
func (s *Sender) Notify(ctx context.Context, to identity.Identity, text string) {
	if err := s.Send(ctx, OutboundMessage{Recipient: to, Text: text}); err != nil {
		logger.SEND.Warn("notify dropped",
			slog.String("event", "send.drop"),
			slog.String("counterparty", to.String()),
			slog.String("err", err.Error()),
		)
	}
}

// ErrorCount returns the number of messages that exhausted their retries.
func (s *Sender) ErrorCount() uint64 {
	return s.errs.Load()
}

// Close stops workers and waits for them to finish delivering queued messages.
func (s *Sender) Close() {
	s.once.Do(func() {
		close(s.stop)
		close(s.jobs)
		s.wg.Wait()
	})
}

func (s *Sender) worker() {
	defer s.wg.Done()
	for j := range s.jobs {
		s.deliver(j)
	}
}

func (s *Sender) deliver(j sendJob) {
	ctx := j.ctx
	if ctx == nil {
		ctx = context.Background()
	}

	deadlineCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.opts.MaxDuration)
	defer cancel()

	start := time.Now()
	attempts := s.opts.MaxRetries + 1

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err := deadlineCtx.Err(); err != nil {
			lastErr = err
			break
		}

		err := s.transport.Send(deadlineCtx, j.msg)
		if err == nil {
			if attempt > 1 {
				logger.Info(ctx, "dispatch.send", "send.retry.success",
					append(s.logAttrs(ctx, j),
						slog.Int("attempts", attempt),
						slog.Int64("duration_ms", time.Since(start).Milliseconds()),
					)...,
				)
			} else {
				logger.Debug(ctx, "dispatch.send", "send.success",
					append(s.logAttrs(ctx, j),
						slog.Int64("duration_ms", time.Since(start).Milliseconds()),
					)...,
				)
			}
			return
		}

		lastErr = err
		if !netutil.ShouldRetry(err) || attempt == attempts {
			break
		}

		delay := s.opts.RetryBackoff * time.Duration(attempt)
		timer := time.NewTimer(delay)
		select {
		case <-deadlineCtx.Done():
			timer.Stop()
			lastErr = deadlineCtx.Err()
		case <-timer.C:
			logger.Debug(ctx, "dispatch.send", "send.retry.backoff",
				append(s.logAttrs(ctx, j),
					slog.Int("attempts", attempt),
					slog.Int64("backoff_ms", delay.Milliseconds()),
				)...,
			)
			continue
		}
		break
	}

	s.errs.Add(1)
	logger.Error(ctx, "dispatch.send", "send.fail",
		append(s.logAttrs(ctx, j),
			slog.String("err", lastErr.Error()),
			slog.String("err_kind", classifySendError(lastErr)),
			slog.Int("attempts", attempts),
			slog.Int64("duration_ms", time.Since(start).Milliseconds()),
		)...,
	)
}

func (s *Sender) logAttrs(ctx context.Context, j sendJob) []slog.Attr {
	attrs := []slog.Attr{
		slog.String("counterparty", j.msg.Recipient.String()),
	}
	if len(j.msg.Image) > 0 {
		attrs = append(attrs, slog.Int("payload", len(j.msg.Image)))
	}
	if rid := logger.RIDFrom(ctx); rid != "" {
		attrs = append(attrs, slog.String("rid", rid))
	}
	return attrs
}

func classifySendError(err error) string {
	if err == nil {
		return ""
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return "timeout"
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		if dnsErr.IsTimeout {
			return "timeout"
		}
		return "dns"
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return "timeout"
	}

	var opErr *net.OpError
	if errors.As(err, &opErr) {
		if opErr.Timeout() {
			return "timeout"
		}
		if opErr.Op == "dial" {
			return "dial"
		}
	}

	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		if urlErr.Timeout() {
			return "timeout"
		}
	}

	var alertErr tls.AlertError
	if errors.As(err, &alertErr) {
		return "tls"
	}

	return "unknown"
}
