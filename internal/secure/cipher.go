package secure

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"errors"
	"fmt"
)

const (
	// KeySize is fixed: the protocol runs AES-128-GCM.
	KeySize = 16
	IVSize  = 12
	TagSize = 16
)

// ErrIntegrity is returned when authenticated decryption fails. Decryption
// is fail-closed: no plaintext is ever returned alongside it.
var ErrIntegrity = errors.New("integrity check failed")

// Cipher seals and opens packet frames with AES-128-GCM under a single
// pre-shared key. A fresh random IV is drawn for every Seal call; callers
// must never reuse one.
type Cipher struct {
	aead cipher.AEAD
}

// NewCipher builds a Cipher from a 16-byte key.
func NewCipher(key []byte) (*Cipher, error) {
	if len(key) != KeySize {
		return nil, fmt.Errorf("key must be exactly %d bytes, got %d", KeySize, len(key))
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("init aes: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("init gcm: %w", err)
	}
	return &Cipher{aead: aead}, nil
}

// Seal encrypts plaintext under a freshly generated IV and returns the IV,
// the 16-byte authentication tag and the ciphertext separately, matching
// the on-wire envelope layout.
func (c *Cipher) Seal(plaintext []byte) (iv, tag, ciphertext []byte, err error) {
	iv = make([]byte, IVSize)
	if _, err := rand.Read(iv); err != nil {
		return nil, nil, nil, fmt.Errorf("generate iv: %w", err)
	}
	sealed := c.aead.Seal(nil, iv, plaintext, nil)
	// GCM appends the tag to the ciphertext; the wire wants it in front.
	split := len(sealed) - TagSize
	return iv, sealed[split:], sealed[:split], nil
}

// Open decrypts ciphertext with the given IV and tag. A tampered frame or
// wrong key yields ErrIntegrity.
func (c *Cipher) Open(iv, tag, ciphertext []byte) ([]byte, error) {
	if len(iv) != IVSize || len(tag) != TagSize {
		return nil, fmt.Errorf("%w: bad iv or tag length", ErrIntegrity)
	}
	sealed := make([]byte, 0, len(ciphertext)+TagSize)
	sealed = append(sealed, ciphertext...)
	sealed = append(sealed, tag...)
	plaintext, err := c.aead.Open(nil, iv, sealed, nil)
	if err != nil {
		return nil, ErrIntegrity
	}
	return plaintext, nil
}
