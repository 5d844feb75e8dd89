package bot

import (
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"github.com/m3rciful/paybot/core/identity"
	"github.com/m3rciful/paybot/core/logger"
)

// RecoverMiddleware catches panics in handlers so one poisoned event
// cannot take down the dispatch lane.
func RecoverMiddleware(next HandlerFunc) HandlerFunc {
	return func(c *Context) error {
		defer func() {
			if r := recover(); r != nil {
				logger.DISP.Error("panic recovered",
					slog.String("event", "dispatch.panic"),
					slog.String("identity", c.Sender().String()),
					slog.Any("err", r),
					slog.String("stack", string(debug.Stack())),
				)
			}
		}()
		return next(c)
	}
}

// LoggerMiddleware sets up the rid and log metadata for one event and
// logs a single receipt line.
func LoggerMiddleware(next HandlerFunc) HandlerFunc {
	return func(c *Context) error {
		ev := c.Event()
		rid := logger.BuildRID(ev.ID, ev.Sender.String())

		ctx := logger.WithRID(c.Ctx(), rid)
		ctx = logger.WithEventMeta(ctx, ev.ID, ev.Sender.String())
		ctx = logger.WithLogger(ctx, logger.Component("dispatch"))
		c.WithCtx(ctx)
		c.Set("rid", rid)
		c.Set("event_start", time.Now())

		if logger.ShouldSampleDebug() {
			attrs := []slog.Attr{
				slog.String("status", "ok"),
				slog.String("rid", rid),
				slog.String("identity", ev.Sender.String()),
			}
			if ev.Text != "" {
				attrs = append(attrs, slog.String("payload", logger.SanitizeLimit(ev.Text, 256)))
			}
			if len(ev.Attachment) > 0 {
				attrs = append(attrs, slog.Int("count", len(ev.Attachment)))
			}
			logger.LogEvent(ctx, logger.Component("dispatch"), slog.LevelDebug, "event.received", attrs...)
		}

		return next(c)
	}
}

// RateLimitOptions configures behaviour of the rate limit middleware.
type RateLimitOptions struct {
	Interval  time.Duration
	OnLimited HandlerFunc
}

// RateLimitMiddleware returns a middleware that enforces a minimum
// interval between messages from the same identity.
func RateLimitMiddleware(opts RateLimitOptions) MiddlewareFunc {
	var (
		lastSeen   = make(map[identity.Identity]time.Time)
		lastSeenMu sync.Mutex
	)
	return func(next HandlerFunc) HandlerFunc {
		return func(c *Context) error {
			if opts.Interval <= 0 {
				return next(c)
			}

			now := time.Now()
			sender := c.Sender()

			lastSeenMu.Lock()
			if last, ok := lastSeen[sender]; ok && now.Sub(last) < opts.Interval {
				lastSeenMu.Unlock()
				logger.DISP.Warn("rate limit",
					slog.String("event", "dispatch.rate_limit"),
					slog.String("identity", sender.String()),
				)
				if opts.OnLimited != nil {
					_ = opts.OnLimited(c)
				}
				return nil
			}
			lastSeen[sender] = now
			lastSeenMu.Unlock()
			return next(c)
		}
	}
}

// AdminOptions configures the admin gate.
type AdminOptions struct {
	Admin    identity.Identity
	OnReject HandlerFunc
}

// AdminOnlyMiddleware limits a handler to the configured admin identity.
func AdminOnlyMiddleware(opts AdminOptions) MiddlewareFunc {
	return func(next HandlerFunc) HandlerFunc {
		return func(c *Context) error {
			if !opts.Admin.IsZero() && c.Sender() == opts.Admin {
				return next(c)
			}
			logger.DISP.Warn("admin gate",
				slog.String("event", "dispatch.admin_reject"),
				slog.String("identity", c.Sender().String()),
			)
			if opts.OnReject != nil {
				return opts.OnReject(c)
			}
			return nil
		}
	}
}
