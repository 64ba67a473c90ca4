package policy

import (
	"testing"
	"time"

	"github.com/coreos/go-semver/semver"
	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"
)

func TestPresetsValidate(t *testing.T) {
	for _, p := range Presets(time.Now()) {
		require.NoError(t, p.Validate(), p.ProfileID)
	}
}

func TestInMemoryProfileStoreCRUD(t *testing.T) {
	store := NewInMemoryProfileStore()
	require.NoError(t, LoadPresets(store, Presets(time.Now())))

	p, err := store.Get("prof_iot_lowpower_v2")
	require.NoError(t, err)
	require.Equal(t, UseCaseIoT, p.UseCase)

	_, err = store.Get("prof_does_not_exist")
	require.Error(t, err)

	p.BandwidthCeilingMbps = 0.5
	require.NoError(t, store.Update(p))
	got, _ := store.Get(p.ProfileID)
	require.Equal(t, 0.5, got.BandwidthCeilingMbps)

	require.NoError(t, store.Delete(p.ProfileID))
	_, err = store.Get(p.ProfileID)
	require.Error(t, err)
}

func TestInMemoryProfileStoreGetReturnsIndependentCopy(t *testing.T) {
	store := NewInMemoryProfileStore()
	require.NoError(t, LoadPresets(store, Presets(time.Now())))

	first, err := store.Get("prof_gaming_input_v1")
	require.NoError(t, err)
	first.BandwidthCeilingMbps = 999

	second, err := store.Get("prof_gaming_input_v1")
	require.NoError(t, err)
	if diff := cmp.Diff(50.0, second.BandwidthCeilingMbps); diff != "" {
		t.Errorf("mutating a Get() result leaked into the store (-want +got):\n%s", diff)
	}
}

func TestUpdateCompatibility(t *testing.T) {
	u := &Update{SchemaVersion: semver.New("2.3.0")}
	require.True(t, u.IsCompatibleWith(semver.New("2.0.0")))
	require.True(t, u.IsCompatibleWith(semver.New("2.3.0")))
	require.False(t, u.IsCompatibleWith(semver.New("2.4.0")))
	require.False(t, u.IsCompatibleWith(semver.New("3.0.0")))
}

func TestEventBusRollback(t *testing.T) {
	bus := NewEventBus()
	ch, unsub := bus.Subscribe()
	defer unsub()

	u := &Update{PolicyID: "pol_abc", SchemaVersion: semver.New("1.0.0"), SessionID: "sess-1"}
	require.NoError(t, bus.Publish(u))
	ev := <-ch
	require.Equal(t, EventUpdate, ev.Kind)

	require.Error(t, bus.PublishRollback("pol_missing"))

	require.NoError(t, bus.PublishRollback("pol_abc"))
	ev = <-ch
	require.Equal(t, EventRollback, ev.Kind)
	require.Equal(t, u, ev.Snapshot)

	require.NoError(t, bus.PublishInvalidate("pol_abc"))
	ev = <-ch
	require.Equal(t, EventInvalidate, ev.Kind)
	_, ok := bus.Snapshot("pol_abc")
	require.False(t, ok)
}
