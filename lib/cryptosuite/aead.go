// Package cryptosuite implements HoneyLink's wire-level cryptography:
// ChaCha20-Poly1305 AEAD framing bound to the session via additional
// authenticated data, and Ed25519 proof-of-possession tokens.
package cryptosuite

import (
	"crypto/cipher"
	"crypto/rand"

	"github.com/gravitational/trace"
	"golang.org/x/crypto/chacha20poly1305"
)

// MaxPlaintextSize bounds a single AEAD frame's plaintext.
const MaxPlaintextSize = 1 << 20

// NonceSize is the ChaCha20-Poly1305 nonce length.
const NonceSize = chacha20poly1305.NonceSize

// Cipher encrypts/decrypts frames for a single key version. Callers
// rotate to a new Cipher when the key hierarchy rotates.
type Cipher struct {
	aead cipher.AEAD
}

// NewCipher constructs a Cipher from a 32-byte key.
func NewCipher(key []byte) (*Cipher, error) {
	aead, err := chacha20poly1305.New(key)
	if err != nil {
		return nil, trace.Wrap(err, "invalid AEAD key")
	}
	return &Cipher{aead: aead}, nil
}

// Encrypt seals plaintext, binding it to aad (typically the session id),
// and returns nonce||ciphertext||tag.
func (c *Cipher) Encrypt(plaintext, aad []byte) ([]byte, error) {
	if len(plaintext) > MaxPlaintextSize {
		return nil, trace.BadParameter("plaintext exceeds maximum frame size of %d bytes", MaxPlaintextSize)
	}
	nonce := make([]byte, NonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return nil, trace.Wrap(err, "failed to generate nonce")
	}
	sealed := c.aead.Seal(nil, nonce, plaintext, aad)
	out := make([]byte, 0, len(nonce)+len(sealed))
	out = append(out, nonce...)
	out = append(out, sealed...)
	return out, nil
}

// Decrypt opens a frame produced by Encrypt, verifying it against aad.
func (c *Cipher) Decrypt(frame, aad []byte) ([]byte, error) {
	if len(frame) < NonceSize {
		return nil, trace.BadParameter("frame too short to contain a nonce")
	}
	nonce, ciphertext := frame[:NonceSize], frame[NonceSize:]
	plaintext, err := c.aead.Open(nil, nonce, ciphertext, aad)
	if err != nil {
		return nil, trace.Wrap(err, "AEAD authentication failed")
	}
	return plaintext, nil
}
