package keyhierarchy

import (
	"context"
	"testing"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/require"
)

func TestRotateEmergencySucceedsWithinBudget(t *testing.T) {
	clock := clockwork.NewFakeClock()
	var events []RotationEvent
	s := NewScheduler(clock, func(ev RotationEvent) { events = append(events, ev) })

	m := NewKeyRotationManager(clock, ScopeDevice, DeviceDefault(), make([]byte, 32))
	s.Register(ScopeDevice, m)

	err := s.RotateEmergency(ScopeDevice, "suspected compromise")
	require.NoError(t, err)
	require.Len(t, events, 1)
	require.Equal(t, TriggerCompromised, events[0].Trigger)
}

func TestRotateEmergencyUnknownScope(t *testing.T) {
	clock := clockwork.NewFakeClock()
	s := NewScheduler(clock, nil)
	err := s.RotateEmergency(ScopeDevice, "compromise")
	require.Error(t, err)
}

func TestSchedulerStartStopIdempotent(t *testing.T) {
	s := NewScheduler(clockwork.NewFakeClock(), nil)
	require.False(t, s.Running())
	require.NoError(t, s.Start(context.Background()))
	require.True(t, s.Running())
	s.Stop()
	s.Stop()
	require.False(t, s.Running())
}
