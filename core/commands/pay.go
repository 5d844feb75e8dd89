package commands

import (
	"fmt"
	"strings"

	"github.com/m3rciful/paybot/core/bot"
	"github.com/m3rciful/paybot/core/fault"
	"github.com/m3rciful/paybot/core/identity"
	"github.com/m3rciful/paybot/core/payment"
	"github.com/m3rciful/paybot/core/session"
)

// pay starts a payment: resolves the recipient, validates both sides'
// addresses, creates the request, and asks the sender for confirmation.
func (d Deps) pay(c *bot.Context) error {
	args := c.Args()
	if len(args) < 2 {
		return fault.Validationf("usage: pay <recipient> <amount>")
	}
	amountArg := args[len(args)-1]
	recipientArg := strings.Join(args[:len(args)-1], " ")

	amount, err := ParseAmount(amountArg)
	if err != nil {
		return err
	}

	counterparty, err := d.resolveRecipient(c, recipientArg)
	if err != nil {
		return err
	}

	own, err := d.Sessions.Get(c.Ctx(), c.Sender())
	if err != nil {
		return err
	}
	if own.LedgerAddress == "" {
		return fault.Validationf("you have no payment address yet; set one with the address command")
	}

	theirs, err := d.Sessions.Get(c.Ctx(), counterparty)
	if err != nil {
		return err
	}
	if theirs.LedgerAddress == "" {
		return fault.Validationf("%s has no payment address registered yet", recipientArg)
	}

	req, err := d.Coordinator.CreateRequest(c.Ctx(), c.Sender(), own.LedgerAddress, counterparty, theirs.LedgerAddress, amount)
	if err != nil {
		return err
	}

	if err := d.mutateSession(c, func(s *session.Session) error {
		s.LastCommand = "pay"
		s.PendingPayment = req.ID
		return nil
	}); err != nil {
		return err
	}

	ttl := d.ConfirmTTL
	return c.Reply(fmt.Sprintf(
		"Sending %s to %s (plus a %s network fee).\nReply \"confirm %s\" within %d minutes to send it, or \"cancel\" to abort.",
		FormatAmount(amount), recipientArg, FormatAmount(networkFee), req.Token, int(ttl.Minutes()),
	))
}

// payContinuation consumes the free-form reply to a pending request: the
// confirm code on its own, a bare yes, or a no.
func (d Deps) payContinuation(c *bot.Context) error {
	args := c.Args()
	if len(args) == 0 {
		return fault.Validationf("reply with the confirm code, or \"cancel\"")
	}

	word := strings.ToLower(args[0])
	switch word {
	case "no", "cancel", "abort":
		return d.cancel(c)
	case "yes", "y":
		active, ok, err := d.Coordinator.Active(c.Ctx(), c.Sender())
		if err != nil {
			return err
		}
		if !ok {
			return fault.Validationf("no pending payment request")
		}
		return d.finishConfirm(c, active.Token)
	default:
		return d.finishConfirm(c, args[0])
	}
}

// confirm handles the explicit confirm command.
func (d Deps) confirm(c *bot.Context) error {
	args := c.Args()
	if len(args) != 1 {
		return fault.Validationf("usage: confirm <code>")
	}
	return d.finishConfirm(c, args[0])
}

func (d Deps) finishConfirm(c *bot.Context, token string) error {
	req, err := d.Coordinator.Confirm(c.Ctx(), c.Sender(), token)
	if err != nil {
		return err
	}

	if req.State.Terminal() || req.State == payment.StateSubmitted {
		if err := d.mutateSession(c, func(s *session.Session) error {
			s.PendingPayment = ""
			return nil
		}); err != nil {
			return err
		}
	}

	return c.Reply(confirmReply(req))
}

// confirmReply renders the acknowledgement for a request's current state.
// Re-delivered confirms reach this with the same state and get the same
// text.
func confirmReply(req payment.Request) string {
	switch req.State {
	case payment.StateSubmitted:
		return fmt.Sprintf("Payment of %s submitted. You will get a message when it settles.", FormatAmount(req.Amount))
	case payment.StateSettled:
		return fmt.Sprintf("Payment settled. Receipt: %s", req.ReceiptID)
	case payment.StateFailed:
		return fmt.Sprintf("Payment failed: %s", req.FailReason)
	case payment.StateExpired:
		return "That payment request expired. Start over with the pay command."
	default:
		return "That payment request is still being prepared; try again in a moment."
	}
}

// cancel aborts the pending request.
func (d Deps) cancel(c *bot.Context) error {
	req, err := d.Coordinator.Cancel(c.Ctx(), c.Sender())
	if err != nil {
		return err
	}
	if err := d.mutateSession(c, func(s *session.Session) error {
		s.PendingPayment = ""
		return nil
	}); err != nil {
		return err
	}
	return c.Reply(fmt.Sprintf("Cancelled the payment of %s.", FormatAmount(req.Amount)))
}

// resolveRecipient turns a phone number or a cached display name into an
// identity.
func (d Deps) resolveRecipient(c *bot.Context, raw string) (identity.Identity, error) {
	if id, err := identity.Parse(raw, d.Region); err == nil {
		return id, nil
	}
	if d.Cache != nil {
		if found, err := d.Cache.LookupIdentity(c.Ctx(), raw); err == nil {
			if id, err := identity.Parse(found, d.Region); err == nil {
				return id, nil
			}
		}
	}
	return "", fault.Validationf("I don't know %q; use their phone number", raw)
}
