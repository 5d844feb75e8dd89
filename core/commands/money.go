package commands

import (
	"strconv"
	"strings"

	"github.com/m3rciful/paybot/core/fault"
)

// picoPerMOB is the number of minor units in one MOB. All amounts move
// through the system in minor units; decimals exist only at the UI edge.
const picoPerMOB = 1_000_000_000_000

// networkFee is the fixed ledger transaction fee in minor units (0.0004 MOB),
// paid by the sender on top of the transferred amount.
const networkFee = 400_000_000

// ParseAmount converts a user-entered MOB decimal into minor units.
func ParseAmount(s string) (int64, error) {
	s = strings.TrimSpace(s)
	if s == "" || strings.HasPrefix(s, "-") || strings.HasPrefix(s, "+") {
		return 0, fault.Validationf("amount must be a positive number, e.g. 0.5")
	}

	whole, frac := s, ""
	if i := strings.IndexByte(s, '.'); i >= 0 {
		whole, frac = s[:i], s[i+1:]
	}
	if whole == "" {
		whole = "0"
	}
	if len(frac) > 12 {
		return 0, fault.Validationf("amount has too many decimal places; 12 is the most the ledger resolves")
	}

	w, err := strconv.ParseInt(whole, 10, 64)
	if err != nil {
		return 0, fault.Validationf("amount must be a positive number, e.g. 0.5")
	}

	var f int64
	if frac != "" {
		f, err = strconv.ParseInt(frac+strings.Repeat("0", 12-len(frac)), 10, 64)
		if err != nil {
			return 0, fault.Validationf("amount must be a positive number, e.g. 0.5")
		}
	}

	const maxWhole = (1<<63 - 1) / picoPerMOB
	if w > maxWhole || w*picoPerMOB > (1<<63-1)-f {
		return 0, fault.Validationf("amount is too large")
	}

	p := w*picoPerMOB + f
	if p <= 0 {
		return 0, fault.Validationf("amount must be a positive number, e.g. 0.5")
	}
	return p, nil
}

// FormatAmount renders minor units as a MOB decimal with trailing zeros
// trimmed.
func FormatAmount(p int64) string {
	neg := p < 0
	if neg {
		p = -p
	}
	whole := p / picoPerMOB
	frac := p % picoPerMOB

	out := strconv.FormatInt(whole, 10)
	if frac != 0 {
		fs := strconv.FormatInt(frac, 10)
		fs = strings.Repeat("0", 12-len(fs)) + fs
		fs = strings.TrimRight(fs, "0")
		out += "." + fs
	}
	if neg {
		out = "-" + out
	}
	return out + " MOB"
}
