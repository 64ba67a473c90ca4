package keyhierarchy

import (
	"crypto/sha512"
	"io"

	"github.com/gravitational/trace"
	"golang.org/x/crypto/hkdf"
)

// Derive produces n bytes of key material from parent under the given
// context using HKDF-SHA512, with no extraction salt (the parent key is
// assumed already uniformly random, matching the original KDF module).
func Derive(parent []byte, ctx DeriveContext, n int) (Secret, error) {
	if len(parent) == 0 {
		return Secret{}, trace.BadParameter("parent key material is empty")
	}
	if n <= 0 {
		return Secret{}, trace.BadParameter("derived key length must be positive")
	}
	r := hkdf.New(sha512.New, parent, nil, ctx.Encode())
	out := make([]byte, n)
	if _, err := io.ReadFull(r, out); err != nil {
		return Secret{}, trace.Wrap(err, "hkdf expand failed")
	}
	return NewSecret(out), nil
}

// DeriveSessionKey is a convenience wrapper deriving a 32-byte session key
// from a device master key.
func DeriveSessionKey(deviceMaster []byte, deviceID, sessionID string) (Secret, error) {
	return Derive(deviceMaster, SessionContext(deviceID, sessionID), 32)
}

// DeriveStreamKey is a convenience wrapper deriving a 32-byte stream key
// from a session key.
func DeriveStreamKey(sessionKey []byte, sessionID, streamID string) (Secret, error) {
	return Derive(sessionKey, StreamContext(sessionID, streamID), 32)
}
