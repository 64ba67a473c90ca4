package cryptosuite

import (
	"crypto/ed25519"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"time"

	"github.com/gravitational/trace"
	"github.com/jonboulle/clockwork"
)

// MaxTokenTTL bounds how far in the future a PoP token's expiry may be
// set, and how long a nonce is retained for replay detection.
const MaxTokenTTL = 5 * time.Minute

// PopClaims are the signed claims embedded in a proof-of-possession
// token, binding a request to a specific session and, optionally, a
// specific HTTP method/URL (DPoP-style).
type PopClaims struct {
	SessionID string `json:"session_id"`
	DeviceID  string `json:"device_id"`
	IssuedAt  int64  `json:"iat"`
	ExpiresAt int64  `json:"exp"`
	Nonce     string `json:"nonce"`
	HTTPMethod string `json:"htm,omitempty"`
	HTTPURL    string `json:"htu,omitempty"`
}

// IsExpired reports whether the claims have passed their expiry as of now.
func (c PopClaims) IsExpired(now time.Time) bool {
	return now.Unix() >= c.ExpiresAt
}

// PopToken is a signed, compact-serializable proof-of-possession token.
type PopToken struct {
	Claims    PopClaims
	Signature []byte
}

func generateNonce() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", trace.Wrap(err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

// signingKeyFor derives the Ed25519 signing key bound to a session key,
// so PoP verification never needs a separate key-distribution step: any
// party holding the session key can derive the same signer.
func signingKeyFor(sessionKey []byte) ed25519.PrivateKey {
	h := sha256.New()
	h.Write([]byte("HoneyLink-PoP-v1|"))
	h.Write(sessionKey)
	seed := h.Sum(nil)[:ed25519.SeedSize]
	return ed25519.NewKeyFromSeed(seed)
}

// PopTokenGenerator issues and verifies PoP tokens for a single session.
type PopTokenGenerator struct {
	clock  clockwork.Clock
	signer ed25519.PrivateKey
	replay ReplayStore
}

// NewPopTokenGenerator constructs a generator bound to sessionKey.
func NewPopTokenGenerator(clock clockwork.Clock, sessionKey []byte, replay ReplayStore) *PopTokenGenerator {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &PopTokenGenerator{clock: clock, signer: signingKeyFor(sessionKey), replay: replay}
}

// Generate mints a token valid for ttl (capped at MaxTokenTTL).
func (g *PopTokenGenerator) Generate(sessionID, deviceID string, ttl time.Duration, httpMethod, httpURL string) (*PopToken, error) {
	if ttl <= 0 || ttl > MaxTokenTTL {
		ttl = MaxTokenTTL
	}
	nonce, err := generateNonce()
	if err != nil {
		return nil, trace.Wrap(err)
	}
	now := g.clock.Now()
	claims := PopClaims{
		SessionID:  sessionID,
		DeviceID:   deviceID,
		IssuedAt:   now.Unix(),
		ExpiresAt:  now.Add(ttl).Unix(),
		Nonce:      nonce,
		HTTPMethod: httpMethod,
		HTTPURL:    httpURL,
	}
	payload, err := json.Marshal(claims)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	sig := ed25519.Sign(g.signer, payload)
	return &PopToken{Claims: claims, Signature: sig}, nil
}

// ToCompact renders base64url(claims-json).base64url(signature).
func (t *PopToken) ToCompact() (string, error) {
	payload, err := json.Marshal(t.Claims)
	if err != nil {
		return "", trace.Wrap(err)
	}
	return base64.RawURLEncoding.EncodeToString(payload) + "." + base64.RawURLEncoding.EncodeToString(t.Signature), nil
}

// PopTokenFromCompact parses the compact representation without
// verifying it; call Verify to check expiry, signature and replay.
func PopTokenFromCompact(compact string) (*PopToken, error) {
	var sep int = -1
	for i := 0; i < len(compact); i++ {
		if compact[i] == '.' {
			sep = i
			break
		}
	}
	if sep < 0 {
		return nil, trace.BadParameter("malformed PoP token")
	}
	rawClaims, err := base64.RawURLEncoding.DecodeString(compact[:sep])
	if err != nil {
		return nil, trace.Wrap(err, "malformed PoP token claims")
	}
	sig, err := base64.RawURLEncoding.DecodeString(compact[sep+1:])
	if err != nil {
		return nil, trace.Wrap(err, "malformed PoP token signature")
	}
	var claims PopClaims
	if err := json.Unmarshal(rawClaims, &claims); err != nil {
		return nil, trace.Wrap(err, "malformed PoP token claims")
	}
	return &PopToken{Claims: claims, Signature: sig}, nil
}

// Verify checks expiry, re-derives the expected signing key from
// sessionKey, verifies the signature, and rejects a replayed nonce.
func (g *PopTokenGenerator) Verify(t *PopToken) error {
	now := g.clock.Now()
	if t.Claims.IsExpired(now) {
		return trace.AccessDenied("PoP token has expired")
	}
	payload, err := json.Marshal(t.Claims)
	if err != nil {
		return trace.Wrap(err)
	}
	pub := g.signer.Public().(ed25519.PublicKey)
	if !ed25519.Verify(pub, payload, t.Signature) {
		return trace.AccessDenied("PoP token signature is invalid")
	}
	seen, err := g.replay.SeenOrMark(t.Claims.SessionID+"|"+t.Claims.Nonce, MaxTokenTTL)
	if err != nil {
		return trace.Wrap(err)
	}
	if seen {
		return trace.AccessDenied("PoP token nonce has already been used")
	}
	return nil
}
