// Package secrets provides the encrypt-at-rest primitive used to protect
// queued payloads in local storage. It wraps ChaCha20-Poly1305 with a
// random nonce prepended to each ciphertext.
package secrets

import (
	"crypto/rand"
	"errors"
	"fmt"

	"golang.org/x/crypto/chacha20poly1305"
)

// Cipher encrypts and decrypts small byte slices. Implementations must
// be safe for concurrent use.
type Cipher interface {
	Encrypt(plaintext []byte) ([]byte, error)
	Decrypt(ciphertext []byte) ([]byte, error)
}

// KeySize is the required key length in bytes.
const KeySize = chacha20poly1305.KeySize

var errShortCiphertext = errors.New("ciphertext shorter than nonce")

// AEADCipher is a Cipher backed by ChaCha20-Poly1305.
type AEADCipher struct {
	key []byte
}

var _ Cipher = (*AEADCipher)(nil)

// NewAEADCipher creates a cipher from a 32-byte key.
func NewAEADCipher(key []byte) (*AEADCipher, error) {
	if len(key) != KeySize {
		return nil, fmt.Errorf("key must be %d bytes, got %d", KeySize, len(key))
	}
	k := make([]byte, KeySize)
	copy(k, key)
	return &AEADCipher{key: k}, nil
}

// GenerateKey returns a new random key.
func GenerateKey() ([]byte, error) {
	key := make([]byte, KeySize)
	if _, err := rand.Read(key); err != nil {
		return nil, fmt.Errorf("failed to generate key: %w", err)
	}
	return key, nil
}

// Encrypt seals plaintext and prepends the random nonce.
func (c *AEADCipher) Encrypt(plaintext []byte) ([]byte, error) {
	aead, err := chacha20poly1305.New(c.key)
	if err != nil {
		return nil, err
	}

	nonce := make([]byte, aead.NonceSize(), aead.NonceSize()+len(plaintext)+aead.Overhead())
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("failed to generate nonce: %w", err)
	}

	return aead.Seal(nonce, nonce, plaintext, nil), nil
}

// Decrypt opens a ciphertext produced by Encrypt.
func (c *AEADCipher) Decrypt(ciphertext []byte) ([]byte, error) {
	aead, err := chacha20poly1305.New(c.key)
	if err != nil {
		return nil, err
	}

	if len(ciphertext) < aead.NonceSize() {
		return nil, errShortCiphertext
	}

	nonce, sealed := ciphertext[:aead.NonceSize()], ciphertext[aead.NonceSize():]
	plaintext, err := aead.Open(nil, nonce, sealed, nil)
	if err != nil {
		return nil, fmt.Errorf("decryption failed: %w", err)
	}
	return plaintext, nil
}

// Noop is a Cipher that passes data through unchanged. Used when
// encryption at rest is disabled.
type Noop struct{}

var _ Cipher = Noop{}

func (Noop) Encrypt(plaintext []byte) ([]byte, error)  { return plaintext, nil }
func (Noop) Decrypt(ciphertext []byte) ([]byte, error) { return ciphertext, nil }
