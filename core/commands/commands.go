// Package commands holds the bot's user-facing command handlers and their
// registration table.
package commands

import (
	"time"

	"github.com/m3rciful/paybot/core/address"
	"github.com/m3rciful/paybot/core/bot"
	"github.com/m3rciful/paybot/core/cache"
	"github.com/m3rciful/paybot/core/identity"
	"github.com/m3rciful/paybot/core/ledger"
	"github.com/m3rciful/paybot/core/payment"
	"github.com/m3rciful/paybot/core/router"
	"github.com/m3rciful/paybot/core/session"
)

// Deps bundles the collaborators handlers need. Cache and QR are optional;
// handlers degrade to identity-only lookups and text-only addresses when
// they are nil.
type Deps struct {
	Sessions    session.Store
	Coordinator *payment.Coordinator
	Ledger      ledger.Backend
	Cache       *cache.Cache
	QR          address.ImageCodec

	Region     string
	Admin      identity.Identity
	ConfirmTTL time.Duration
	CASRetries int
}

// Register wires every command into the registry.
func Register(reg *router.Registry, d Deps) {
	reg.Register("pay", router.Command{
		Handler:      d.pay,
		Continuation: d.payContinuation,
		Description:  "send a payment: pay <recipient> <amount>",
		Aliases:      []string{"send"},
	})
	reg.Register("confirm", router.Command{
		Handler:     d.confirm,
		Description: "confirm a pending payment: confirm <code>",
	})
	reg.Register("cancel", router.Command{
		Handler:     d.cancel,
		Description: "cancel your pending payment",
	})
	reg.Register("balance", router.Command{
		Handler:     d.balance,
		Description: "show your spendable balance",
	})
	reg.Register("address", router.Command{
		Handler:     d.address,
		Description: "show or set your payment address",
		Aliases:     []string{"addr"},
	})
	reg.Register("help", router.Command{
		Handler:     func(c *bot.Context) error { return c.Reply(reg.HelpText()) },
		Description: "list available commands",
	})
	reg.Register("reset", router.Command{
		Handler:     d.reset,
		Description: "forget everything stored about you",
		Hidden:      true,
	})
	reg.Register("announce", router.Command{
		Handler:     d.announce,
		Description: "message a user as the bot: announce <recipient> <text>",
		AdminOnly:   true,
	})
}

// WithNameCache records the sender's profile name so other users can
// address them by it.
func WithNameCache(c *cache.Cache) bot.MiddlewareFunc {
	return func(next bot.HandlerFunc) bot.HandlerFunc {
		return func(ctx *bot.Context) error {
			if c != nil {
				ev := ctx.Event()
				if ev.SenderName != "" {
					_ = c.SetDisplayName(ctx.Ctx(), ev.Sender.String(), ev.SenderName)
				}
			}
			return next(ctx)
		}
	}
}

// mutateSession applies fn to the sender's session with bounded CAS retries.
func (d Deps) mutateSession(c *bot.Context, fn func(*session.Session) error) error {
	retries := d.CASRetries
	if retries <= 0 {
		retries = 3
	}
	_, err := session.Mutate(c.Ctx(), d.Sessions, c.Sender(), retries, fn)
	return err
}
