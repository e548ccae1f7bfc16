package protocol

import (
	"encoding/binary"
	"fmt"
)

// Header is the fixed 24-byte packet header, little-endian on the wire:
// magic(2) version(1) kind(1) session_id(16) payload_length(4).
type Header struct {
	Magic         uint16
	Version       uint8
	Kind          Kind
	SessionID     [SessionIDSize]byte
	PayloadLength uint32
}

// NewHeader builds a header for the given kind and payload length with the
// current protocol magic and version.
func NewHeader(kind Kind, sessionID [SessionIDSize]byte, payloadLen uint32) Header {
	return Header{
		Magic:         Magic,
		Version:       Version,
		Kind:          kind,
		SessionID:     sessionID,
		PayloadLength: payloadLen,
	}
}

// Encode serializes the header into a fresh 24-byte slice.
func (h Header) Encode() []byte {
	b := make([]byte, HeaderSize)
	binary.LittleEndian.PutUint16(b[0:2], h.Magic)
	b[2] = h.Version
	b[3] = byte(h.Kind)
	copy(b[4:20], h.SessionID[:])
	binary.LittleEndian.PutUint32(b[20:24], h.PayloadLength)
	return b
}

// DecodeHeader parses and validates the first 24 bytes of b.
func DecodeHeader(b []byte) (Header, error) {
	if len(b) < HeaderSize {
		return Header{}, fmt.Errorf("%w: header needs %d bytes, have %d", ErrMalformed, HeaderSize, len(b))
	}
	var h Header
	h.Magic = binary.LittleEndian.Uint16(b[0:2])
	h.Version = b[2]
	h.Kind = Kind(b[3])
	copy(h.SessionID[:], b[4:20])
	h.PayloadLength = binary.LittleEndian.Uint32(b[20:24])
	if err := h.Validate(); err != nil {
		return Header{}, err
	}
	return h, nil
}

// Validate checks magic, version and tag before the payload is touched.
func (h Header) Validate() error {
	if h.Magic != Magic {
		return fmt.Errorf("%w: bad magic 0x%04X", ErrMalformed, h.Magic)
	}
	if h.Version != Version {
		return fmt.Errorf("%w: unsupported version %d", ErrMalformed, h.Version)
	}
	if !h.Kind.Valid() {
		return fmt.Errorf("%w: unknown packet tag %d", ErrMalformed, uint8(h.Kind))
	}
	return nil
}
