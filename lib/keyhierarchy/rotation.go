package keyhierarchy

import (
	"strconv"
	"sync"
	"time"

	"github.com/gravitational/trace"
	"github.com/jonboulle/clockwork"
)

// VersionedKey is a single generation of key material for a given scope.
type VersionedKey struct {
	Version         uint64
	Material        Secret
	CreatedAt       time.Time
	ActiveFrom      time.Time
	DeprecatedAfter time.Time
	ExpiresAt       time.Time
	Scope           Scope
}

// IsActive reports whether this version is the current signing/encrypting
// key as of now.
func (k VersionedKey) IsActive(now time.Time) bool {
	return !now.Before(k.ActiveFrom) && now.Before(k.DeprecatedAfter)
}

// IsInGracePeriod reports whether this version may still be used to
// decrypt/verify in-flight traffic, past its active window.
func (k VersionedKey) IsInGracePeriod(now time.Time) bool {
	return !now.Before(k.DeprecatedAfter) && now.Before(k.ExpiresAt)
}

// IsUsable reports whether this version may still be used for anything
// (signing or verifying), i.e. active or within grace.
func (k VersionedKey) IsUsable(now time.Time) bool {
	return k.IsActive(now) || k.IsInGracePeriod(now)
}

// IsExpired reports whether this version must no longer be used at all.
func (k VersionedKey) IsExpired(now time.Time) bool {
	return !now.Before(k.ExpiresAt)
}

// RotationPolicy controls how long a scope's key remains active, how
// long the previous version remains usable afterwards, and (if any) the
// cadence at which the scheduler proactively rotates it.
type RotationPolicy struct {
	// ActiveDuration is how long a key is the current signing/encrypting
	// key before it is deprecated.
	ActiveDuration time.Duration
	// GracePeriod is how long a deprecated key remains usable for
	// decrypt/verify before it expires outright.
	GracePeriod time.Duration
	// RotationInterval is the cadence the background scheduler rotates
	// this scope on. Zero means manual/emergency rotation only — no
	// scheduled interval.
	RotationInterval time.Duration
}

// RootDefault is the rotation policy for the root key: 5 years active,
// 30 days grace, manual rotation only.
func RootDefault() RotationPolicy {
	return RotationPolicy{ActiveDuration: 5 * 365 * 24 * time.Hour, GracePeriod: 30 * 24 * time.Hour}
}

// DeviceDefault is the rotation policy for device master keys: 90 days
// active, 7 days grace, scheduled every 90 days.
func DeviceDefault() RotationPolicy {
	return RotationPolicy{ActiveDuration: 90 * 24 * time.Hour, GracePeriod: 7 * 24 * time.Hour, RotationInterval: 90 * 24 * time.Hour}
}

// SessionDefault is the rotation policy for session keys: 24 hours
// active, 1 hour grace, scheduled every 24 hours.
func SessionDefault() RotationPolicy {
	return RotationPolicy{ActiveDuration: 24 * time.Hour, GracePeriod: time.Hour, RotationInterval: 24 * time.Hour}
}

// StreamDefault is the rotation policy for stream keys: 1 hour active
// (connection lifetime), no grace, per-connection rotation only.
func StreamDefault() RotationPolicy {
	return RotationPolicy{ActiveDuration: time.Hour}
}

// RotationStatus summarizes the current state of a scope's key chain.
type RotationStatus struct {
	ActiveVersion  uint64
	UsableVersions int
	NeedsRotation  bool
	NextRotationAt time.Time
}

// KeyRotationManager owns the version chain for a single key scope
// (one root key, one per device master, one per session, one per
// stream) and performs rotation against an injected clock so tests run
// deterministically.
type KeyRotationManager struct {
	mu       sync.Mutex
	clock    clockwork.Clock
	policy   RotationPolicy
	scope    Scope
	versions []VersionedKey
}

// NewKeyRotationManager seeds the chain with an initial key version.
func NewKeyRotationManager(clock clockwork.Clock, scope Scope, policy RotationPolicy, initial []byte) *KeyRotationManager {
	now := clock.Now()
	m := &KeyRotationManager{clock: clock, policy: policy, scope: scope}
	m.versions = append(m.versions, VersionedKey{
		Version:         1,
		Material:        NewSecret(initial),
		CreatedAt:       now,
		ActiveFrom:      now,
		DeprecatedAfter: now.Add(policy.ActiveDuration),
		ExpiresAt:       now.Add(policy.ActiveDuration).Add(policy.GracePeriod),
		Scope:           scope,
	})
	return m
}

// GetActiveKey returns the highest-versioned key that is currently
// active, or a KindKeyNotFound-ish error if none is (should not happen
// under normal operation).
func (m *KeyRotationManager) GetActiveKey() (VersionedKey, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.clock.Now()
	var best *VersionedKey
	for i := range m.versions {
		v := &m.versions[i]
		if v.IsActive(now) && (best == nil || v.Version > best.Version) {
			best = v
		}
	}
	if best == nil {
		return VersionedKey{}, trace.NotFound("no active key version for scope %s", m.scope)
	}
	return *best, nil
}

// GetUsableKeys returns every version still usable for decrypt/verify,
// newest first.
func (m *KeyRotationManager) GetUsableKeys() []VersionedKey {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.clock.Now()
	var out []VersionedKey
	for i := len(m.versions) - 1; i >= 0; i-- {
		if m.versions[i].IsUsable(now) {
			out = append(out, m.versions[i])
		}
	}
	return out
}

// NeedsRotation reports whether the scheduler should rotate this scope
// now: false for scopes with no RotationInterval (manual/emergency-only
// rotation), true if no version is currently active, or true once the
// active version has stood for at least RotationInterval.
func (m *KeyRotationManager) NeedsRotation() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.policy.RotationInterval == 0 {
		return false
	}
	now := m.clock.Now()
	var active *VersionedKey
	for i := range m.versions {
		v := &m.versions[i]
		if v.IsActive(now) && (active == nil || v.Version > active.Version) {
			active = v
		}
	}
	if active == nil {
		return true
	}
	return now.Sub(active.CreatedAt) >= m.policy.RotationInterval
}

// deriveNext computes the material for the next version from the
// current latest version, via the plain hierarchy KDF with a
// Custom("rotate", version) context — this keeps successive generations
// cryptographically independent without requiring an external entropy
// source.
func (m *KeyRotationManager) deriveNext(latest VersionedKey) (Secret, error) {
	return Derive(latest.Material.Bytes(), CustomContext("rotate", strconv.FormatUint(latest.Version, 10)), latest.Material.Len())
}

// Rotate appends a new key version, independent of whether the current
// one still needs it (callers should check NeedsRotation first for
// scheduled rotation; emergency rotation calls this unconditionally).
func (m *KeyRotationManager) Rotate() (VersionedKey, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(m.versions) == 0 {
		return VersionedKey{}, trace.BadParameter("key rotation manager has no seed version")
	}
	latest := m.versions[len(m.versions)-1]
	next, err := m.deriveNext(latest)
	if err != nil {
		return VersionedKey{}, trace.Wrap(err)
	}

	now := m.clock.Now()
	nv := VersionedKey{
		Version:         latest.Version + 1,
		Material:        next,
		CreatedAt:       now,
		ActiveFrom:      now,
		DeprecatedAfter: now.Add(m.policy.ActiveDuration),
		ExpiresAt:       now.Add(m.policy.ActiveDuration).Add(m.policy.GracePeriod),
		Scope:           m.scope,
	}
	m.versions = append(m.versions, nv)
	return nv, nil
}

// CleanupExpired zeroes and drops every version whose expiry has passed,
// returning the number removed.
func (m *KeyRotationManager) CleanupExpired() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.clock.Now()
	kept := m.versions[:0]
	removed := 0
	for _, v := range m.versions {
		if v.IsExpired(now) {
			v.Material.Zero()
			removed++
			continue
		}
		kept = append(kept, v)
	}
	m.versions = kept
	return removed
}

// GetStatus reports a snapshot of the chain's rotation state.
func (m *KeyRotationManager) GetStatus() RotationStatus {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.clock.Now()
	st := RotationStatus{}
	for _, v := range m.versions {
		if v.IsUsable(now) {
			st.UsableVersions++
		}
		if v.IsActive(now) && v.Version > st.ActiveVersion {
			st.ActiveVersion = v.Version
			st.NextRotationAt = v.DeprecatedAfter
		}
	}
	st.NeedsRotation = st.ActiveVersion == 0 || now.After(st.NextRotationAt) || now.Equal(st.NextRotationAt)
	return st
}
