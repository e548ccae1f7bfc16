package frame

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/zwire/zwire/internal/secure"
	"github.com/zwire/zwire/pkg/protocol"
)

const prefixSize = 4

// ErrUnexpectedPacket is returned by Expect when the server answers with a
// packet kind the dialog does not allow at that point.
var ErrUnexpectedPacket = fmt.Errorf("%w: unexpected packet kind", protocol.ErrMalformed)

// Channel frames packets over a byte stream. Every frame is
// prefix(u32) ∥ IV(12) ∥ tag(16) ∥ ciphertext of header∥payload, with the
// ciphertext sealed by AES-128-GCM under the shared key.
type Channel struct {
	rw     io.ReadWriter
	cipher *secure.Cipher
}

// NewChannel wraps rw with the packet framing.
func NewChannel(rw io.ReadWriter, cipher *secure.Cipher) *Channel {
	return &Channel{rw: rw, cipher: cipher}
}

// WritePacket serializes, encrypts and sends one packet.
func (c *Channel) WritePacket(sessionID [protocol.SessionIDSize]byte, p protocol.Payload) error {
	payload, err := p.Encode()
	if err != nil {
		return fmt.Errorf("encode %s: %w", p.Kind(), err)
	}
	header := protocol.NewHeader(p.Kind(), sessionID, uint32(len(payload)))

	plain := append(header.Encode(), payload...)
	iv, tag, ciphertext, err := c.cipher.Seal(plain)
	if err != nil {
		return fmt.Errorf("seal %s: %w", p.Kind(), err)
	}

	total := len(iv) + len(tag) + len(ciphertext)
	if total > protocol.MaxEncryptedLength {
		return fmt.Errorf("%w: frame of %d bytes exceeds limit", protocol.ErrInvalidArgument, total)
	}

	out := make([]byte, 0, prefixSize+total)
	out = binary.LittleEndian.AppendUint32(out, uint32(total))
	out = append(out, iv...)
	out = append(out, tag...)
	out = append(out, ciphertext...)

	if _, err := c.rw.Write(out); err != nil {
		return fmt.Errorf("write %s frame: %w", p.Kind(), err)
	}
	return nil
}

// ReadPacket receives, decrypts and validates one packet, returning its
// header and raw payload bytes. The prefix bound is enforced before any
// decryption is attempted.
func (c *Channel) ReadPacket() (protocol.Header, []byte, error) {
	var prefixBuf [prefixSize]byte
	if _, err := io.ReadFull(c.rw, prefixBuf[:]); err != nil {
		return protocol.Header{}, nil, fmt.Errorf("read frame prefix: %w", err)
	}
	prefix := binary.LittleEndian.Uint32(prefixBuf[:])
	if prefix > protocol.MaxEncryptedLength {
		return protocol.Header{}, nil, fmt.Errorf("%w: frame prefix %d exceeds limit %d",
			protocol.ErrMalformed, prefix, protocol.MaxEncryptedLength)
	}
	if prefix < secure.IVSize+secure.TagSize {
		return protocol.Header{}, nil, fmt.Errorf("%w: frame prefix %d too small", protocol.ErrMalformed, prefix)
	}

	body := make([]byte, prefix)
	if _, err := io.ReadFull(c.rw, body); err != nil {
		return protocol.Header{}, nil, fmt.Errorf("read frame body: %w", err)
	}

	iv := body[:secure.IVSize]
	tag := body[secure.IVSize : secure.IVSize+secure.TagSize]
	ciphertext := body[secure.IVSize+secure.TagSize:]

	plain, err := c.cipher.Open(iv, tag, ciphertext)
	if err != nil {
		return protocol.Header{}, nil, fmt.Errorf("decrypt frame: %w", err)
	}

	header, err := protocol.DecodeHeader(plain)
	if err != nil {
		return protocol.Header{}, nil, err
	}
	payload := plain[protocol.HeaderSize:]
	if uint32(len(payload)) != header.PayloadLength {
		return protocol.Header{}, nil, fmt.Errorf("%w: payload is %d bytes, header declares %d",
			protocol.ErrMalformed, len(payload), header.PayloadLength)
	}
	return header, payload, nil
}

// Expect reads one packet and requires it to be of the given kind. A
// server Error packet is decoded and surfaced as *protocol.RemoteError no
// matter what kind the caller expected.
func (c *Channel) Expect(kind protocol.Kind) ([]byte, error) {
	header, payload, err := c.ReadPacket()
	if err != nil {
		return nil, err
	}
	if header.Kind == protocol.KindError {
		ep, err := protocol.DecodeErrorPacket(payload)
		if err != nil {
			return nil, err
		}
		return nil, &protocol.RemoteError{Code: ep.Code, Message: ep.Message}
	}
	if header.Kind != kind {
		return nil, fmt.Errorf("%w: got %s, want %s", ErrUnexpectedPacket, header.Kind, kind)
	}
	return payload, nil
}
