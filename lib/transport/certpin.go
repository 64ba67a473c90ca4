package transport

import (
	"crypto/sha256"
	"crypto/tls"
	"crypto/x509"
	"encoding/hex"
	"strings"
	"sync"

	"github.com/gravitational/trace"

	"github.com/honeylink/core/api/types"
)

// CertPinVerifier enforces certificate pinning as defense-in-depth on
// top of ordinary chain verification: a peer certificate must match one
// of the configured SHA-256 fingerprints, in addition to passing normal
// X.509 verification. An empty pin set allows any certificate that
// passes chain verification (pinning disabled).
type CertPinVerifier struct {
	mu     sync.RWMutex
	pins   map[string]struct{}
}

// NewCertPinVerifier constructs a verifier with the given hex-encoded
// SHA-256 fingerprints (case-insensitive).
func NewCertPinVerifier(fingerprints ...string) *CertPinVerifier {
	v := &CertPinVerifier{pins: make(map[string]struct{})}
	for _, fp := range fingerprints {
		v.pins[strings.ToLower(fp)] = struct{}{}
	}
	return v
}

// IsPinningEnabled reports whether any pins are configured.
func (v *CertPinVerifier) IsPinningEnabled() bool {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return len(v.pins) > 0
}

// Fingerprint computes the lowercase hex SHA-256 fingerprint of a
// certificate's raw DER bytes.
func Fingerprint(cert *x509.Certificate) string {
	sum := sha256.Sum256(cert.Raw)
	return hex.EncodeToString(sum[:])
}

// ValidatePin reports whether cert matches a configured pin, or true if
// pinning is disabled.
func (v *CertPinVerifier) ValidatePin(cert *x509.Certificate) bool {
	v.mu.RLock()
	defer v.mu.RUnlock()
	if len(v.pins) == 0 {
		return true
	}
	_, ok := v.pins[Fingerprint(cert)]
	return ok
}

// VerifyPeerCertificate is installed as tls.Config.VerifyPeerCertificate:
// normal chain verification already ran by the time this is called (when
// InsecureSkipVerify is false), so this only needs to additionally check
// the pin.
func (v *CertPinVerifier) VerifyPeerCertificate(rawCerts [][]byte, _ [][]*x509.Certificate) error {
	if !v.IsPinningEnabled() {
		return nil
	}
	if len(rawCerts) == 0 {
		return types.NewError(types.KindSignatureInvalid, nil, "no peer certificate presented")
	}
	leaf, err := x509.ParseCertificate(rawCerts[0])
	if err != nil {
		return trace.Wrap(err, "failed to parse peer certificate")
	}
	if !v.ValidatePin(leaf) {
		return types.NewError(types.KindSignatureInvalid, nil, "peer certificate does not match a pinned fingerprint")
	}
	return nil
}

// ClientTLSConfig returns a tls.Config wired to enforce this verifier's
// pins in addition to standard chain verification.
func (v *CertPinVerifier) ClientTLSConfig(base *tls.Config) *tls.Config {
	cfg := base.Clone()
	cfg.VerifyPeerCertificate = v.VerifyPeerCertificate
	return cfg
}
