// Package keyhierarchy implements HoneyLink's hierarchical key derivation
// and rotation: a root key derives per-device master keys, which derive
// per-session keys, which derive per-stream keys, each scope on its own
// rotation policy with a grace period for in-flight traffic.
package keyhierarchy

// Secret is a fixed-size key material buffer that never prints its
// contents. Callers must call Zero() once the key is no longer needed.
type Secret struct {
	b []byte
}

// NewSecret takes ownership of b.
func NewSecret(b []byte) Secret {
	return Secret{b: b}
}

// Bytes returns the underlying key material. The slice aliases the
// Secret's storage; callers must not retain it past a Zero() call.
func (s Secret) Bytes() []byte {
	return s.b
}

// Len returns the key length in bytes.
func (s Secret) Len() int {
	return len(s.b)
}

// Zero overwrites the key material in place.
func (s Secret) Zero() {
	for i := range s.b {
		s.b[i] = 0
	}
}

// String never renders key material.
func (s Secret) String() string {
	return "[REDACTED]"
}

// GoString never renders key material (used by %#v and debuggers).
func (s Secret) GoString() string {
	return "keyhierarchy.Secret([REDACTED])"
}
