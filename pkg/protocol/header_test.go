package protocol

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestHeaderRoundTrip(t *testing.T) {
	var sid [SessionIDSize]byte
	for i := range sid {
		sid[i] = byte(i + 1)
	}
	h := NewHeader(KindUploadRequest, sid, 1234)
	b := h.Encode()
	require.Len(t, b, HeaderSize)

	got, err := DecodeHeader(b)
	require.NoError(t, err)
	require.Equal(t, h, got)
}

func TestDecodeHeaderRejects(t *testing.T) {
	valid := NewHeader(KindHandshakeRequest, [SessionIDSize]byte{}, 1).Encode()

	tests := []struct {
		name   string
		mutate func(b []byte) []byte
	}{
		{"short buffer", func(b []byte) []byte { return b[:HeaderSize-1] }},
		{"bad magic", func(b []byte) []byte { b[0] = 0xFF; return b }},
		{"bad version", func(b []byte) []byte { b[2] = 9; return b }},
		{"unknown tag", func(b []byte) []byte { b[3] = 200; return b }},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			b := append([]byte(nil), valid...)
			_, err := DecodeHeader(tc.mutate(b))
			require.ErrorIs(t, err, ErrMalformed)
		})
	}
}

func TestKindString(t *testing.T) {
	require.Equal(t, "FileChunk", KindFileChunk.String())
	require.Equal(t, "Unknown", Kind(99).String())
	require.False(t, Kind(99).Valid())
}
