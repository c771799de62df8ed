package crypto

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

const testKeyHex = "000102030405060708090a0b0c0d0e0f101112131415161718191a1b1c1d1e1f"

func TestSealOpen_RoundTrip(t *testing.T) {
	key, err := ParseKey(testKeyHex)
	require.NoError(t, err)
	aead, err := NewAESGCM(key)
	require.NoError(t, err)

	a, err := Seal(aead, []byte("What are residential rates?"))
	require.NoError(t, err)
	b, err := Seal(aead, []byte("What are residential rates?"))
	require.NoError(t, err)
	require.NotEqual(t, a, b, "nonces differ")

	plain, err := Open(aead, a)
	require.NoError(t, err)
	require.Equal(t, "What are residential rates?", string(plain))
}

func TestOpen_RejectsTampering(t *testing.T) {
	key, _ := ParseKey(testKeyHex)
	aead, _ := NewAESGCM(key)
	otherKey, _ := ParseKey(strings.Repeat("ab", 32))
	other, _ := NewAESGCM(otherKey)

	sealed, err := Seal(aead, []byte("secret"))
	require.NoError(t, err)

	_, err = Open(other, sealed)
	require.ErrorIs(t, err, ErrAuthenticationFailed)
	_, err = Open(aead, "AAAA")
	require.ErrorIs(t, err, ErrInvalidCiphertext)
	_, err = Open(aead, "%%%")
	require.ErrorIs(t, err, ErrInvalidCiphertext)
}

func TestParseKey(t *testing.T) {
	_, err := ParseKey("abcd")
	require.ErrorIs(t, err, ErrInvalidKeySize)
	_, err = ParseKey("zz")
	require.ErrorIs(t, err, ErrInvalidKeySize)
}
