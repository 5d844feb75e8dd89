package router

import (
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/m3rciful/paybot/core/bot"
	"github.com/m3rciful/paybot/core/fault"
	"github.com/m3rciful/paybot/core/identity"
	"github.com/m3rciful/paybot/core/logger"
	"github.com/m3rciful/paybot/core/session"
)

// Options configures routing behaviour.
type Options struct {
	Admin         identity.Identity
	OnAdminReject bot.HandlerFunc
}

// Dispatch builds the routing handler: first word resolved against the
// registry, then the session's pending continuation, then the help
// fallback. Validation errors from handlers are replied to the user and
// not treated as failures.
func Dispatch(reg *Registry, sessions session.Store, opts Options) bot.HandlerFunc {
	admin := bot.AdminOnlyMiddleware(bot.AdminOptions{
		Admin:    opts.Admin,
		OnReject: opts.OnAdminReject,
	})

	return func(c *bot.Context) error {
		start := time.Now()
		text := strings.TrimSpace(c.Text())
		word, rest := splitCommand(text)

		if name, cmd, ok := reg.Lookup(word); ok {
			c.SetArgs(strings.Fields(rest))
			h := cmd.Handler
			if cmd.AdminOnly {
				h = admin(h)
			}
			return handleWithSummary(c, name, start, h)
		}

		// no command matched; a session awaiting a multi-turn answer gets
		// the raw text as the continuation input
		sess, err := sessions.Get(c.Ctx(), c.Sender())
		if err == nil && sess.AwaitingContinuation() {
			if _, cmd, ok := reg.Lookup(sess.LastCommand); ok && cmd.Continuation != nil {
				c.SetArgs(strings.Fields(text))
				return handleWithSummary(c, sess.LastCommand+".continue", start, cmd.Continuation)
			}
		}

		return handleWithSummary(c, "help.fallback", start, reg.HelpFallback())
	}
}

func splitCommand(text string) (word, rest string) {
	if text == "" {
		return "", ""
	}
	parts := strings.SplitN(text, " ", 2)
	word = parts[0]
	if len(parts) == 2 {
		rest = parts[1]
	}
	return word, rest
}

// handleWithSummary runs the handler and logs a single summary line. A
// validation error becomes a reply to the user and an "ok" outcome with
// the rejection recorded; anything else is a failure.
func handleWithSummary(c *bot.Context, handlerName string, start time.Time, h bot.HandlerFunc) error {
	ctx := logger.WithHandler(c.Ctx(), handlerName)
	c.WithCtx(ctx)

	err := h(c)

	status, outcome := "ok", "ok"
	attrs := []slog.Attr{
		slog.String("handler", handlerName),
	}
	if err != nil {
		if fault.IsValidation(err) {
			outcome = "rejected"
			attrs = append(attrs, slog.String("cause", logger.SanitizeLimit(err.Error(), 256)))
			if sendErr := c.Reply(userMessage(err)); sendErr != nil {
				status = "fail"
				attrs = append(attrs, slog.String("err", sendErr.Error()))
			}
			err = nil
		} else if fault.IsConflict(err) {
			outcome = "conflict"
			attrs = append(attrs, slog.String("cause", logger.SanitizeLimit(err.Error(), 256)))
			if sendErr := c.Reply("Something changed while I was working. Please try again."); sendErr != nil {
				status = "fail"
				attrs = append(attrs, slog.String("err", sendErr.Error()))
			}
			err = nil
		} else {
			status, outcome = "fail", "fail"
			attrs = append(attrs,
				slog.String("err", logger.SanitizeLimit(err.Error(), 256)),
				slog.String("err_kind", fault.KindOf(err).String()),
			)
		}
	}
	attrs = append(attrs,
		slog.String("status", status),
		slog.String("outcome", outcome),
		slog.Int64("duration_ms", logger.RoundMS(time.Since(start)).Milliseconds()),
	)
	logger.LogEvent(ctx, logger.Component("dispatch"), slog.LevelInfo, "handler.handled", attrs...)
	return err
}

// userMessage strips wrapping from a validation error so the reply reads
// like a sentence, not a log line.
func userMessage(err error) string {
	var fe *fault.Error
	if errors.As(err, &fe) && fe.Msg != "" {
		return fe.Msg
	}
	return err.Error()
}
