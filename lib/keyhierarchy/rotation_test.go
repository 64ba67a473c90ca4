package keyhierarchy

import (
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/require"
)

func TestVersionedKeyLifecycle(t *testing.T) {
	now := time.Now()
	k := VersionedKey{
		ActiveFrom:      now,
		DeprecatedAfter: now.Add(time.Hour),
		ExpiresAt:       now.Add(2 * time.Hour),
	}
	require.True(t, k.IsActive(now))
	require.True(t, k.IsUsable(now))
	require.False(t, k.IsInGracePeriod(now))

	inGrace := now.Add(90 * time.Minute)
	require.False(t, k.IsActive(inGrace))
	require.True(t, k.IsInGracePeriod(inGrace))
	require.True(t, k.IsUsable(inGrace))

	expired := now.Add(3 * time.Hour)
	require.True(t, k.IsExpired(expired))
	require.False(t, k.IsUsable(expired))
}

func TestKeyRotationManagerRotate(t *testing.T) {
	clock := clockwork.NewFakeClock()
	seed := make([]byte, 32)
	m := NewKeyRotationManager(clock, ScopeSession, RotationPolicy{ActiveDuration: time.Hour, GracePeriod: 10 * time.Minute, RotationInterval: time.Hour}, seed)

	active, err := m.GetActiveKey()
	require.NoError(t, err)
	require.EqualValues(t, 1, active.Version)
	require.False(t, m.NeedsRotation())

	clock.Advance(time.Hour + time.Second)
	require.True(t, m.NeedsRotation())

	nv, err := m.Rotate()
	require.NoError(t, err)
	require.EqualValues(t, 2, nv.Version)

	active, err = m.GetActiveKey()
	require.NoError(t, err)
	require.EqualValues(t, 2, active.Version)

	usable := m.GetUsableKeys()
	require.Len(t, usable, 2, "old version should still be usable during its grace period")

	clock.Advance(11 * time.Minute)
	usable = m.GetUsableKeys()
	require.Len(t, usable, 1, "old version should drop out once its grace period ends")

	removed := m.CleanupExpired()
	require.Equal(t, 1, removed)
}

func TestDerivedKeysAreDeterministic(t *testing.T) {
	parent := []byte("0123456789abcdef0123456789abcdef")
	s1, err := Derive(parent, SessionContext("dev-1", "sess-1"), 32)
	require.NoError(t, err)
	s2, err := Derive(parent, SessionContext("dev-1", "sess-1"), 32)
	require.NoError(t, err)
	require.Equal(t, s1.Bytes(), s2.Bytes())

	s3, err := Derive(parent, SessionContext("dev-1", "sess-2"), 32)
	require.NoError(t, err)
	require.NotEqual(t, s1.Bytes(), s3.Bytes())
}
