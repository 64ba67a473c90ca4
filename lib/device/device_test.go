package device

import (
	"strings"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/require"

	"github.com/honeylink/core/api/types"
)

func TestGeneratePairingCodeFormat(t *testing.T) {
	code, err := GeneratePairingCode()
	require.NoError(t, err)
	parts := strings.Split(code, "-")
	require.Len(t, parts, 3)
	for _, p := range parts {
		require.Len(t, p, 4)
		for _, c := range p {
			require.NotContains(t, "0O1IL", string(c))
		}
	}
}

func TestRegisterRejectsInvalidFirmwareVersion(t *testing.T) {
	store := NewStore(clockwork.NewFakeClock())
	_, err := store.Register("dev-1", [32]byte{}, "not-a-version", nil)
	require.Error(t, err)
}

func TestRegisterThenPairSucceeds(t *testing.T) {
	clock := clockwork.NewFakeClock()
	store := NewStore(clock)

	reg, err := store.Register("dev-1", [32]byte{1, 2, 3}, "1.0.0", nil)
	require.NoError(t, err)
	require.NotEmpty(t, reg.PairingCode)
	require.NotEmpty(t, reg.DeviceToken)

	dev, err := store.Pair("dev-1", strings.ToLower(reg.PairingCode))
	require.NoError(t, err)
	require.Equal(t, types.DeviceID("dev-1"), dev.ID)
	require.False(t, dev.PairedAt.IsZero())
}

func TestPairFailsWithWrongCode(t *testing.T) {
	clock := clockwork.NewFakeClock()
	store := NewStore(clock)
	_, err := store.Register("dev-2", [32]byte{1}, "1.0.0", nil)
	require.NoError(t, err)

	_, err = store.Pair("dev-2", "ZZZZ-ZZZZ-ZZZZ")
	require.Error(t, err)
}

func TestPairFailsAfterExpiry(t *testing.T) {
	clock := clockwork.NewFakeClock()
	store := NewStore(clock)
	reg, err := store.Register("dev-3", [32]byte{1}, "1.0.0", nil)
	require.NoError(t, err)

	clock.Advance(PairingCodeTTL + time.Second)
	_, err = store.Pair("dev-3", reg.PairingCode)
	require.Error(t, err)
}

func TestPairFailsOnceConsumed(t *testing.T) {
	clock := clockwork.NewFakeClock()
	store := NewStore(clock)
	reg, err := store.Register("dev-4", [32]byte{1}, "1.0.0", nil)
	require.NoError(t, err)

	_, err = store.Pair("dev-4", reg.PairingCode)
	require.NoError(t, err)

	_, err = store.Pair("dev-4", reg.PairingCode)
	require.Error(t, err)
}

func TestRegisterRejectsConflictingPublicKey(t *testing.T) {
	clock := clockwork.NewFakeClock()
	store := NewStore(clock)
	_, err := store.Register("dev-5", [32]byte{1}, "1.0.0", nil)
	require.NoError(t, err)

	_, err = store.Register("dev-5", [32]byte{2}, "1.0.1", nil)
	require.Error(t, err)
}

func TestGetUnknownDevice(t *testing.T) {
	store := NewStore(clockwork.NewFakeClock())
	_, err := store.Get("missing")
	require.Error(t, err)
}
