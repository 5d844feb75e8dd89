// Package identity defines the stable handle used as the key for all
// per-user state. Handles are derived from phone numbers normalized to
// E.164, or accepted verbatim when the transport supplies an account UUID.
package identity

import (
	"strings"

	"github.com/google/uuid"
	"github.com/nyaruka/phonenumbers"

	"github.com/m3rciful/paybot/core/fault"
)

// Identity is an immutable chat-participant handle.
type Identity string

// String returns the raw handle.
func (id Identity) String() string { return string(id) }

// IsZero reports whether the handle is empty.
func (id Identity) IsZero() bool { return id == "" }

// Parse normalizes raw into an Identity. Phone numbers are parsed with the
// given default region and canonicalized to E.164; account UUIDs pass
// through lowercased. Anything else is rejected as bad input.
func Parse(raw, defaultRegion string) (Identity, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", fault.Validationf("empty identity")
	}
	if u, err := uuid.Parse(raw); err == nil {
		return Identity(u.String()), nil
	}
	num, err := phonenumbers.Parse(raw, defaultRegion)
	if err != nil {
		return "", fault.Wrap(fault.KindValidation, err, "unparseable identity %q", raw)
	}
	if !phonenumbers.IsValidNumber(num) {
		return "", fault.Validationf("invalid phone number %q", raw)
	}
	return Identity(phonenumbers.Format(num, phonenumbers.E164)), nil
}

// MustParse is Parse for trusted inputs such as configuration.
func MustParse(raw, defaultRegion string) Identity {
	id, err := Parse(raw, defaultRegion)
	if err != nil {
		panic(err)
	}
	return id
}
