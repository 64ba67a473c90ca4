package session

import (
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/require"

	"github.com/honeylink/core/api/types"
	"github.com/honeylink/core/lib/keyhierarchy"
)

func TestStateMachineTransitions(t *testing.T) {
	m := NewMachine()
	require.Equal(t, StatePending, m.Current())

	_, err := m.Transition(EventActivate)
	require.Error(t, err, "Activate is not valid from Pending")
	require.Equal(t, StatePending, m.Current(), "failed transition leaves state unchanged")

	next, err := m.Transition(EventPairingComplete)
	require.NoError(t, err)
	require.Equal(t, StatePaired, next)

	next, err = m.Transition(EventActivate)
	require.NoError(t, err)
	require.Equal(t, StateActive, next)

	next, err = m.Transition(EventSuspend)
	require.NoError(t, err)
	require.Equal(t, StateSuspended, next)

	next, err = m.Transition(EventResume)
	require.NoError(t, err)
	require.Equal(t, StateActive, next)

	next, err = m.Transition(EventClose)
	require.NoError(t, err)
	require.Equal(t, StateClosed, next)
	require.True(t, m.IsTerminal())

	_, err = m.Transition(EventActivate)
	require.Error(t, err, "Closed is terminal")
}

func newTestOrchestrator(t *testing.T, clock clockwork.FakeClock) *Orchestrator {
	t.Helper()
	keys := keyhierarchy.NewKeyRotationManager(clock, keyhierarchy.ScopeDevice, keyhierarchy.DeviceDefault(), make([]byte, 32))
	o, err := NewOrchestrator(Config{Clock: clock, Store: NewInMemoryStore(), Keys: keys})
	require.NoError(t, err)
	return o
}

func TestOrchestratorPairAndActivate(t *testing.T) {
	clock := clockwork.NewFakeClock()
	o := newTestOrchestrator(t, clock)

	sess, err := o.Pair(types.DeviceID("dev-1"))
	require.NoError(t, err)
	require.Equal(t, string(StatePending), sess.State)

	sess, err = o.Apply(sess.ID, EventPairingComplete)
	require.NoError(t, err)
	require.Equal(t, string(StatePaired), sess.State)

	sess, err = o.Apply(sess.ID, EventActivate)
	require.NoError(t, err)
	require.Equal(t, string(StateActive), sess.State)
}

func TestOrchestratorTTLSweepClosesExpiredPending(t *testing.T) {
	clock := clockwork.NewFakeClock()
	o := newTestOrchestrator(t, clock)

	sess, err := o.Pair(types.DeviceID("dev-1"))
	require.NoError(t, err)

	clock.Advance(DefaultPairingTTL + time.Second)
	n, err := o.sweepExpiredOnce()
	require.NoError(t, err)
	require.Equal(t, 1, n)

	_, err = o.store.Get(sess.ID)
	require.Error(t, err, "expired session should have been removed by the sweep")
}
