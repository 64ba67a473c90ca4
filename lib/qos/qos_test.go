package qos

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/honeylink/core/lib/policy"
)

func TestAllocateStreamsPreservesCallerOrder(t *testing.T) {
	s := NewScheduler(DefaultConfig())
	reqs := []Request{
		{Name: "control", Priority: policy.PriorityLatency, BandwidthKbps: 10},
		{Name: "bulk", Priority: policy.PriorityBurst, BandwidthKbps: 20},
		{Name: "telemetry", Priority: policy.PriorityNormal, BandwidthKbps: 5},
	}
	allocs, err := s.AllocateStreams("sess-1", reqs)
	require.NoError(t, err)
	require.Len(t, allocs, 3)
	require.Equal(t, "control", allocs[0].Name)
	require.Equal(t, "bulk", allocs[1].Name)
	require.Equal(t, "telemetry", allocs[2].Name)

	// conn ids assigned in priority order: burst(bulk) < normal(telemetry) < latency(control)
	require.Equal(t, "conn-000", allocs[1].ConnectionID)
	require.Equal(t, "conn-001", allocs[2].ConnectionID)
	require.Equal(t, "conn-002", allocs[0].ConnectionID)
}

func TestAllocateStreamsDerivesFecFromPriority(t *testing.T) {
	s := NewScheduler(DefaultConfig())
	reqs := []Request{
		{Name: "telemetry", Priority: policy.PriorityNormal, BandwidthKbps: 100},
		{Name: "video", Priority: policy.PriorityBurst, BandwidthKbps: 5000},
	}
	allocs, err := s.AllocateStreams("sess-1", reqs)
	require.NoError(t, err)
	require.Equal(t, 10, allocs[0].DataShards)
	require.Equal(t, 2, allocs[0].ParityShards)
	require.Equal(t, 10, allocs[1].DataShards)
	require.Equal(t, 5, allocs[1].ParityShards)
}

func TestAllocateStreamsRejectsOverBudget(t *testing.T) {
	s := NewScheduler(Config{TotalBandwidthKbps: 10, MaxStreams: 16})
	_, err := s.AllocateStreams("sess-1", []Request{{Name: "x", BandwidthKbps: 11}})
	require.Error(t, err)
}

func TestAllocateStreamsRejectsTooManyStreams(t *testing.T) {
	s := NewScheduler(Config{TotalBandwidthKbps: 1_000_000, MaxStreams: 1})
	_, err := s.AllocateStreams("sess-1", []Request{{Name: "a"}, {Name: "b"}})
	require.Error(t, err)
}

func TestReleaseSessionFreesBandwidth(t *testing.T) {
	s := NewScheduler(DefaultConfig())
	_, err := s.AllocateStreams("sess-1", []Request{{Name: "a", BandwidthKbps: 1000}})
	require.NoError(t, err)
	require.EqualValues(t, 1000, s.GetStats().AllocatedBandwidthKbps)

	s.ReleaseSession("sess-1")
	require.EqualValues(t, 0, s.GetStats().AllocatedBandwidthKbps)
}
