// Package address converts between ledger addresses and the transportable
// payment-request tokens users exchange in chat. A token is the base58
// encoding of version byte || view key || spend key || 4-byte checksum,
// where the checksum is the first four bytes of double-SHA256 over the
// preceding bytes. Rendering a token as a scannable image is delegated to
// the QR collaborator; the token wire format is owned here.
package address

import (
	"bytes"
	"crypto/sha256"
	"errors"

	"github.com/mr-tron/base58"

	"github.com/m3rciful/paybot/core/fault"
)

const (
	// TokenVersion is the only address version this codec understands.
	TokenVersion byte = 0x01

	keyLen      = 32
	checksumLen = 4
	payloadLen  = 1 + 2*keyLen
	tokenRawLen = payloadLen + checksumLen
)

var (
	// ErrBadChecksum indicates the token was corrupted in transit.
	ErrBadChecksum = errors.New("address: bad checksum")
	// ErrBadLength indicates a truncated or padded token.
	ErrBadLength = errors.New("address: wrong length")
	// ErrBadVersion indicates an address version this build cannot handle.
	ErrBadVersion = errors.New("address: unsupported version")
	// ErrBadEncoding indicates the token is not valid base58.
	ErrBadEncoding = errors.New("address: not base58")
)

// Address is a ledger public address: a view key and a spend key.
type Address struct {
	ViewKey  [keyLen]byte
	SpendKey [keyLen]byte
}

// New assembles an Address from raw key material.
func New(viewKey, spendKey []byte) (Address, error) {
	var a Address
	if len(viewKey) != keyLen || len(spendKey) != keyLen {
		return a, fault.Wrap(fault.KindValidation, ErrBadLength, "keys must be %d bytes", keyLen)
	}
	copy(a.ViewKey[:], viewKey)
	copy(a.SpendKey[:], spendKey)
	return a, nil
}

// Encode renders the address as a checksummed base58 token.
func Encode(a Address) string {
	raw := make([]byte, 0, tokenRawLen)
	raw = append(raw, TokenVersion)
	raw = append(raw, a.ViewKey[:]...)
	raw = append(raw, a.SpendKey[:]...)
	raw = append(raw, checksum(raw)...)
	return base58.Encode(raw)
}

// Decode parses a token back into an Address. Malformed tokens yield a
// validation error wrapping one of the Err* sentinels; Decode never panics.
func Decode(token string) (Address, error) {
	var a Address
	raw, err := base58.Decode(token)
	if err != nil {
		return a, fault.Wrap(fault.KindValidation, ErrBadEncoding, "token %q", clip(token))
	}
	if len(raw) != tokenRawLen {
		return a, fault.Wrap(fault.KindValidation, ErrBadLength, "got %d bytes, want %d", len(raw), tokenRawLen)
	}
	payload, sum := raw[:payloadLen], raw[payloadLen:]
	if !bytes.Equal(sum, checksum(payload)) {
		return a, fault.Wrap(fault.KindValidation, ErrBadChecksum, "token %q", clip(token))
	}
	if payload[0] != TokenVersion {
		return a, fault.Wrap(fault.KindValidation, ErrBadVersion, "version 0x%02x", payload[0])
	}
	copy(a.ViewKey[:], payload[1:1+keyLen])
	copy(a.SpendKey[:], payload[1+keyLen:])
	return a, nil
}

func checksum(payload []byte) []byte {
	first := sha256.Sum256(payload)
	second := sha256.Sum256(first[:])
	return second[:checksumLen]
}

func clip(s string) string {
	const max = 16
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}
