package address

import (
	"crypto/rand"
	"testing"

	"github.com/mr-tron/base58"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/m3rciful/paybot/core/fault"
)

func randomAddress(t *testing.T) Address {
	t.Helper()
	var view, spend [keyLen]byte
	_, err := rand.Read(view[:])
	require.NoError(t, err)
	_, err = rand.Read(spend[:])
	require.NoError(t, err)
	return Address{ViewKey: view, SpendKey: spend}
}

func TestRoundTrip(t *testing.T) {
	for i := 0; i < 64; i++ {
		a := randomAddress(t)
		got, err := Decode(Encode(a))
		require.NoError(t, err)
		assert.Equal(t, a, got)
	}
}

func TestEncodeDeterministic(t *testing.T) {
	a := randomAddress(t)
	assert.Equal(t, Encode(a), Encode(a))
}

func TestDecodeBadChecksum(t *testing.T) {
	a := randomAddress(t)
	raw, err := base58.Decode(Encode(a))
	require.NoError(t, err)
	raw[len(raw)-1] ^= 0xFF
	_, err = Decode(base58.Encode(raw))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrBadChecksum)
	assert.True(t, fault.IsValidation(err))
}

func TestDecodeBadVersion(t *testing.T) {
	a := randomAddress(t)
	raw, err := base58.Decode(Encode(a))
	require.NoError(t, err)
	raw[0] = 0x7F
	// recompute checksum so only the version is wrong
	copy(raw[payloadLen:], checksum(raw[:payloadLen]))
	_, err = Decode(base58.Encode(raw))
	assert.ErrorIs(t, err, ErrBadVersion)
}

func TestDecodeBadLength(t *testing.T) {
	_, err := Decode(base58.Encode([]byte{0x01, 0x02, 0x03}))
	assert.ErrorIs(t, err, ErrBadLength)
}

func TestDecodeNotBase58(t *testing.T) {
	_, err := Decode("0OIl+/=")
	assert.ErrorIs(t, err, ErrBadEncoding)
}

func TestDecodeNeverPanics(t *testing.T) {
	inputs := []string{"", "z", "1111111111", "☃☃☃", string(make([]byte, 512))}
	for _, in := range inputs {
		_, err := Decode(in)
		assert.Error(t, err, "input %q", in)
		assert.True(t, fault.IsValidation(err), "input %q", in)
	}
}
