package commands

import (
	"fmt"

	"github.com/m3rciful/paybot/core/address"
	"github.com/m3rciful/paybot/core/bot"
	"github.com/m3rciful/paybot/core/fault"
	"github.com/m3rciful/paybot/core/session"
)

// address shows the sender's registered payment address, or registers a
// new one from a pasted token or an attached QR code image.
func (d Deps) address(c *bot.Context) error {
	args := c.Args()
	ev := c.Event()

	switch {
	case len(args) >= 1:
		return d.setAddress(c, args[0])
	case len(ev.Attachment) > 0:
		if d.QR == nil {
			return fault.Validationf("I can't read QR images here; paste the address as text")
		}
		token, err := d.QR.ScanImage(ev.Attachment)
		if err != nil {
			return fault.Wrap(fault.KindValidation, err, "that image does not contain a readable address QR")
		}
		return d.setAddress(c, token)
	default:
		return d.showAddress(c)
	}
}

func (d Deps) setAddress(c *bot.Context, token string) error {
	if _, err := address.Decode(token); err != nil {
		return fault.Wrap(fault.KindValidation, err, "that is not a valid payment address")
	}
	if err := d.mutateSession(c, func(s *session.Session) error {
		s.LedgerAddress = token
		return nil
	}); err != nil {
		return err
	}
	return c.Reply("Payment address saved.")
}

func (d Deps) showAddress(c *bot.Context) error {
	sess, err := d.Sessions.Get(c.Ctx(), c.Sender())
	if err != nil {
		return err
	}
	if sess.LedgerAddress == "" {
		return c.Reply("You have no payment address yet. Send one as text or as a QR image.")
	}

	text := fmt.Sprintf("Your payment address:\n%s", sess.LedgerAddress)
	if d.QR != nil {
		if img, err := d.QR.RenderImage(sess.LedgerAddress); err == nil {
			return c.ReplyImage(text, img)
		}
	}
	return c.Reply(text)
}
