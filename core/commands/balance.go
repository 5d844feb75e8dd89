package commands

import (
	"fmt"

	"github.com/m3rciful/paybot/core/bot"
	"github.com/m3rciful/paybot/core/fault"
)

// balance reports the spendable balance of the sender's address.
func (d Deps) balance(c *bot.Context) error {
	sess, err := d.Sessions.Get(c.Ctx(), c.Sender())
	if err != nil {
		return err
	}
	if sess.LedgerAddress == "" {
		return fault.Validationf("you have no payment address yet; set one with the address command")
	}

	amount, err := d.Ledger.GetBalance(c.Ctx(), sess.LedgerAddress)
	if err != nil {
		return err
	}
	return c.Reply(fmt.Sprintf("Balance: %s", FormatAmount(amount)))
}
