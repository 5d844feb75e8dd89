package commands

import (
	"errors"
	"strings"

	"github.com/m3rciful/paybot/core/bot"
	"github.com/m3rciful/paybot/core/fault"
)

// reset forgets everything stored about the sender. A pending request, if
// any, is cancelled first so no orphan keeps the single-flight slot.
func (d Deps) reset(c *bot.Context) error {
	if _, err := d.Coordinator.Cancel(c.Ctx(), c.Sender()); err != nil && !fault.IsValidation(err) {
		return err
	}
	if err := d.Sessions.Delete(c.Ctx(), c.Sender()); err != nil {
		return err
	}
	return c.Reply("Done. I have forgotten everything about you.")
}

// announce lets the admin message a user as the bot.
func (d Deps) announce(c *bot.Context) error {
	args := c.Args()
	if len(args) < 2 {
		return fault.Validationf("usage: announce <recipient> <text>")
	}
	to, err := d.resolveRecipient(c, args[0])
	if err != nil {
		return err
	}
	text := strings.Join(args[1:], " ")
	if err := c.Message(to, text); err != nil {
		if errors.Is(err, bot.ErrQueueFull) {
			return fault.Wrap(fault.KindTransport, err, "outbound queue is saturated, try again shortly")
		}
		return err
	}
	return c.Reply("Sent.")
}
