package secure

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"
)

var testKey = []byte("0123456789abcdef")

func TestSealOpenRoundTrip(t *testing.T) {
	c, err := NewCipher(testKey)
	require.NoError(t, err)

	plaintext := []byte("the quick brown fox")
	iv, tag, ct, err := c.Seal(plaintext)
	require.NoError(t, err)
	require.Len(t, iv, IVSize)
	require.Len(t, tag, TagSize)
	require.Len(t, ct, len(plaintext))
	require.NotEqual(t, plaintext, ct)

	got, err := c.Open(iv, tag, ct)
	require.NoError(t, err)
	require.Equal(t, plaintext, got)
}

func TestOpenRejectsTampering(t *testing.T) {
	c, err := NewCipher(testKey)
	require.NoError(t, err)

	iv, tag, ct, err := c.Seal([]byte("payload under test"))
	require.NoError(t, err)

	flipped := append([]byte(nil), ct...)
	flipped[0] ^= 0x01
	_, err = c.Open(iv, tag, flipped)
	require.ErrorIs(t, err, ErrIntegrity)

	badTag := append([]byte(nil), tag...)
	badTag[5] ^= 0x80
	_, err = c.Open(iv, badTag, ct)
	require.ErrorIs(t, err, ErrIntegrity)

	badIV := append([]byte(nil), iv...)
	badIV[11] ^= 0xFF
	_, err = c.Open(badIV, tag, ct)
	require.ErrorIs(t, err, ErrIntegrity)
}

func TestSealUsesFreshIVs(t *testing.T) {
	c, err := NewCipher(testKey)
	require.NoError(t, err)

	seen := make(map[string]bool)
	for i := 0; i < 64; i++ {
		iv, _, _, err := c.Seal([]byte("same plaintext"))
		require.NoError(t, err)
		require.False(t, seen[string(iv)], "iv reused")
		seen[string(iv)] = true
	}
}

func TestNewCipherKeySize(t *testing.T) {
	_, err := NewCipher([]byte("short"))
	require.Error(t, err)
	_, err = NewCipher(bytes.Repeat([]byte{1}, 32))
	require.Error(t, err)
}

func TestEmptyPlaintext(t *testing.T) {
	c, err := NewCipher(testKey)
	require.NoError(t, err)
	iv, tag, ct, err := c.Seal(nil)
	require.NoError(t, err)
	require.Empty(t, ct)
	got, err := c.Open(iv, tag, ct)
	require.NoError(t, err)
	require.Empty(t, got)
}
