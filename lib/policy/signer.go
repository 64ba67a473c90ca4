package policy

import (
	"crypto/ed25519"
	"crypto/rand"

	"github.com/gravitational/trace"
)

// Signer Ed25519-signs Profile and Update instances before they are
// persisted or published, the same scheme the audit trail uses for its
// records.
type Signer struct {
	priv ed25519.PrivateKey
	pub  ed25519.PublicKey
}

// NewSigner generates a fresh Ed25519 keypair.
func NewSigner() (*Signer, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	return &Signer{priv: priv, pub: pub}, nil
}

// NewSignerFromSeed constructs a Signer from a fixed 32-byte seed, for
// deployments that need the signing key to survive a restart.
func NewSignerFromSeed(seed []byte) *Signer {
	priv := ed25519.NewKeyFromSeed(seed)
	return &Signer{priv: priv, pub: priv.Public().(ed25519.PublicKey)}
}

// PublicKey returns the verification key.
func (s *Signer) PublicKey() ed25519.PublicKey {
	return s.pub
}

// SignProfile signs p's canonical message and stores the signature on p.
func (s *Signer) SignProfile(p *Profile) {
	p.Signature = ed25519.Sign(s.priv, p.CanonicalMessage())
}

// SignUpdate signs u's canonical message and stores the signature on u.
func (s *Signer) SignUpdate(u *Update) {
	u.Signature = ed25519.Sign(s.priv, u.CanonicalMessage())
}

// VerifyUpdate reports whether u's signature matches its canonical
// message under this signer's key.
func (s *Signer) VerifyUpdate(u *Update) bool {
	return ed25519.Verify(s.pub, u.CanonicalMessage(), u.Signature)
}
