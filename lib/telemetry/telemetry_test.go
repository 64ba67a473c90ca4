package telemetry

import (
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/require"

	"github.com/honeylink/core/lib/telemetry/storagepipe"
)

func TestThresholdEvaluation(t *testing.T) {
	d := BuiltinDefinitions()[0] // session_establishment_latency_p95: 400/500/800
	require.Equal(t, Green, d.Evaluate(300))
	require.Equal(t, Yellow, d.Evaluate(450))
	require.Equal(t, Orange, d.Evaluate(600))
	require.Equal(t, Red, d.Evaluate(900))
}

func TestBreachStateRequiresConsecutiveBreaches(t *testing.T) {
	d := BuiltinDefinitions()[0]
	s := &BreachState{}
	now := time.Now()

	s.Record(Orange, now)
	require.False(t, s.ShouldAlert(d))
	s.Record(Orange, now.Add(time.Second))
	require.False(t, s.ShouldAlert(d))
	s.Record(Orange, now.Add(2*time.Second))
	require.True(t, s.ShouldAlert(d))

	s.Record(Green, now.Add(3*time.Second))
	require.False(t, s.ShouldAlert(d))
	require.Equal(t, 0, s.ConsecutiveBreaches)
}

func TestBreachStateLevelChangeResetsStreak(t *testing.T) {
	d := BuiltinDefinitions()[0]
	s := &BreachState{}
	now := time.Now()
	s.Record(Yellow, now)
	s.Record(Yellow, now)
	s.Record(Orange, now)
	require.Equal(t, 1, s.ConsecutiveBreaches, "switching severity restarts the streak")
	require.False(t, s.ShouldAlert(d))
}

type fakeNotifier struct {
	calls []Channel
}

func (f *fakeNotifier) Notify(channel Channel, ev Event) error {
	f.calls = append(f.calls, channel)
	return nil
}

func TestAlertRouterDefaultRouting(t *testing.T) {
	n := &fakeNotifier{}
	r := NewRouter(RouterConfig{}, n)

	ev := NewEventFromBreach("packet_loss_rate", Red, 0.3, 0.2, time.Now())
	require.NoError(t, r.Route(ev))
	require.Equal(t, []Channel{ChannelBoth}, n.calls)
	require.Len(t, r.History(), 1)
}

func TestAlertRouterTestModeSuppressesDelivery(t *testing.T) {
	n := &fakeNotifier{}
	r := NewRouter(RouterConfig{TestMode: true}, n)
	ev := NewEventFromBreach("packet_loss_rate", Red, 0.3, 0.2, time.Now())
	require.NoError(t, r.Route(ev))
	require.Empty(t, n.calls)
	require.Len(t, r.History(), 1)
}

func TestBufferDropsOldestOnOverflow(t *testing.T) {
	cfg := storagepipe.DefaultConfig()
	cfg.MaxBufferSizeBytes = 64
	cfg.EnablePIIDetection = false
	b := storagepipe.NewBuffer(cfg)

	for i := 0; i < 20; i++ {
		b.Push(storagepipe.Metric{Name: "m", Value: float64(i), Timestamp: time.Now()})
	}
	require.Greater(t, b.TotalDropped(), uint64(0))
	remaining := b.DrainAll()
	require.NotEmpty(t, remaining)
	require.InDelta(t, 19, remaining[len(remaining)-1].Value, 0.01, "newest sample must survive eviction")
}

func TestBufferStripsPIILabels(t *testing.T) {
	cfg := storagepipe.DefaultConfig()
	b := storagepipe.NewBuffer(cfg)
	b.Push(storagepipe.Metric{
		Name:   "session_established",
		Labels: map[string]string{"device_serial": "abc123", "region": "us-east"},
	})
	got := b.DrainAll()
	require.Len(t, got, 1)
	require.NotContains(t, got[0].Labels, "device_serial")
	require.Equal(t, "us-east", got[0].Labels["region"])
}

func TestSamplerStrideMatchesRatio(t *testing.T) {
	cfg := storagepipe.DefaultConfig()
	cfg.NormalSamplingRatio = 0.2
	s := storagepipe.NewSampler(cfg)

	kept := 0
	for i := uint64(0); i < 100; i++ {
		if s.ShouldSample(i, false) {
			kept++
		}
	}
	require.Equal(t, 20, kept)
}

func TestSamplerFailureModeKeepsEverything(t *testing.T) {
	cfg := storagepipe.DefaultConfig()
	s := storagepipe.NewSampler(cfg)
	for i := uint64(0); i < 10; i++ {
		require.True(t, s.ShouldSample(i, true))
	}
}

func TestPipelineRecordTracksBreachAndAlerts(t *testing.T) {
	clock := clockwork.NewFakeClock()
	p := NewPipeline(PipelineConfig{
		Definitions: BuiltinDefinitions(),
		Buffer:      storagepipe.DefaultConfig(),
	}, clock)

	var level ThresholdLevel
	var alert bool
	var err error
	for i := 0; i < 3; i++ {
		level, alert, err = p.Record("encryption_latency_p95", 60, nil, "")
		require.NoError(t, err)
		clock.Advance(time.Second)
	}
	require.Equal(t, Red, level)
	require.True(t, alert)
}

func TestPipelineRecordUnknownSLI(t *testing.T) {
	p := NewPipeline(PipelineConfig{Definitions: BuiltinDefinitions(), Buffer: storagepipe.DefaultConfig()}, nil)
	_, _, err := p.Record("not_a_real_sli", 1, nil, "")
	require.Error(t, err)
}
