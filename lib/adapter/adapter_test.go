package adapter

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

type fakeLayer struct {
	t Type
	q Quality
	err error
}

func (f *fakeLayer) Type() Type { return f.t }
func (f *fakeLayer) Quality(ctx context.Context) (Quality, error) { return f.q, f.err }
func (f *fakeLayer) SetPowerMode(ctx context.Context, profile string) error { return nil }

func TestQualityIsDegraded(t *testing.T) {
	require.True(t, Quality{Up: false}.IsDegraded())
	require.True(t, Quality{Up: true, RSSI: -90}.IsDegraded())
	require.True(t, Quality{Up: true, RSSI: -50, LossRate: 0.2}.IsDegraded())
	require.False(t, Quality{Up: true, RSSI: -50, LossRate: 0.01}.IsDegraded())
}

func TestEvaluateHotSwapSwitchesOnDegradation(t *testing.T) {
	var events []SwapEvent
	r := NewRegistry(StrategyHighestRSSI, func(ev SwapEvent) { events = append(events, ev) })

	bad := &fakeLayer{t: TypeWiFi6E, q: Quality{Up: true, RSSI: -90}}
	good := &fakeLayer{t: TypeFiveG, q: Quality{Up: true, RSSI: -40}}
	r.Register(bad)
	r.Register(good)
	require.Equal(t, TypeWiFi6E, r.Active())

	require.NoError(t, r.EvaluateHotSwap(context.Background()))
	require.Equal(t, TypeFiveG, r.Active())
	require.Len(t, events, 1)
	require.Equal(t, TypeWiFi6E, events[0].From)
	require.Equal(t, TypeFiveG, events[0].To)
}

func TestEvaluateHotSwapNoopWhenHealthy(t *testing.T) {
	r := NewRegistry(StrategyHighestRSSI, nil)
	r.Register(&fakeLayer{t: TypeWiFi6E, q: Quality{Up: true, RSSI: -40}})
	require.NoError(t, r.EvaluateHotSwap(context.Background()))
	require.Equal(t, TypeWiFi6E, r.Active())
}
