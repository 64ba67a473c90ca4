// Package qos implements the bandwidth-admission scheduler: given a set
// of stream requests for a connection, it admits or rejects them against
// a total bandwidth budget and a maximum stream count. Admission is
// all-or-nothing; admitted streams are ordered Burst, then Normal, then
// Latency.
package qos

import (
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/honeylink/core/api/types"
	"github.com/honeylink/core/lib/policy"
)

// Config bounds the scheduler's admission control.
type Config struct {
	TotalBandwidthKbps uint64
	MaxStreams         int
}

// DefaultConfig matches the reference scheduler's defaults: 100 Mbps
// total budget, 16 concurrent streams.
func DefaultConfig() Config {
	return Config{TotalBandwidthKbps: 100_000, MaxStreams: 16}
}

// priorityRank orders Burst before Normal before Latency when assigning
// connection ids; streams of equal priority keep the caller's request
// order.
var priorityRank = map[policy.Priority]int{
	policy.PriorityBurst:   0,
	policy.PriorityNormal:  1,
	policy.PriorityLatency: 2,
}

// fecShards derives a stream's forward-error-correction shard counts from
// its priority: Burst gets 10 data + 5 parity shards (50% redundancy),
// Normal 10+2 (20%), Latency 10+1 (10%).
func fecShards(p policy.Priority) (dataShards, parityShards int) {
	switch p {
	case policy.PriorityBurst:
		return 10, 5
	case policy.PriorityLatency:
		return 10, 1
	default:
		return 10, 2
	}
}

// Request is a single stream's bandwidth ask.
type Request struct {
	Name          string
	Mode          string
	Priority      policy.Priority
	BandwidthKbps uint64
}

// Allocation is the scheduler's grant for one admitted stream.
type Allocation struct {
	StreamID             string
	Name                 string
	ConnectionID         string
	Priority             policy.Priority
	AllocatedBandwidthKbps uint64
	DataShards           int
	ParityShards         int
}

// Stats summarizes the scheduler's current load.
type Stats struct {
	TotalBandwidthKbps     uint64
	AllocatedBandwidthKbps uint64
	ActiveStreams          int
	MaxStreams             int
}

// Scheduler admits stream requests for a set of sessions against a
// shared bandwidth and stream-count budget.
type Scheduler struct {
	mu        sync.Mutex
	cfg       Config
	allocated uint64
	// bySession maps a session id to its currently held allocations so
	// ReleaseSession can free them all at session close.
	bySession map[string][]Allocation
	nextConn  int
}

// NewScheduler constructs a Scheduler bounded by cfg.
func NewScheduler(cfg Config) *Scheduler {
	if cfg.TotalBandwidthKbps == 0 {
		cfg = DefaultConfig()
	}
	return &Scheduler{cfg: cfg, bySession: make(map[string][]Allocation)}
}

// AllocateStreams admits requests as a single all-or-nothing batch:
// it rejects the whole batch if there are too many streams or not
// enough bandwidth, otherwise assigns connection ids in priority order
// (Burst, then Normal, then Latency) while returning allocations in the
// caller's original request order.
func (s *Scheduler) AllocateStreams(sessionID string, requests []Request) ([]Allocation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(requests) > s.cfg.MaxStreams {
		return nil, types.NewError(types.KindResourceExhausted, nil,
			fmt.Sprintf("requested %d streams exceeds the maximum of %d", len(requests), s.cfg.MaxStreams))
	}
	var total uint64
	for _, r := range requests {
		total += r.BandwidthKbps
	}
	available := s.cfg.TotalBandwidthKbps - s.allocated
	if total > available {
		return nil, types.NewError(types.KindResourceExhausted, nil,
			fmt.Sprintf("requested %d kbps exceeds available %d kbps", total, available))
	}

	type indexed struct {
		idx int
		req Request
	}
	ordered := make([]indexed, len(requests))
	for i, r := range requests {
		ordered[i] = indexed{idx: i, req: r}
	}
	sort.SliceStable(ordered, func(i, j int) bool {
		return priorityRank[ordered[i].req.Priority] < priorityRank[ordered[j].req.Priority]
	})

	results := make([]Allocation, len(requests))
	for _, item := range ordered {
		connID := fmt.Sprintf("conn-%03d", s.nextConn)
		s.nextConn++
		streamID, err := uuid.NewV7()
		if err != nil {
			return nil, types.NewError(types.KindInternal, err, "failed to mint stream id")
		}
		dataShards, parityShards := fecShards(item.req.Priority)
		alloc := Allocation{
			StreamID:               streamID.String(),
			Name:                   item.req.Name,
			ConnectionID:           connID,
			Priority:               item.req.Priority,
			AllocatedBandwidthKbps: item.req.BandwidthKbps,
			DataShards:             dataShards,
			ParityShards:           parityShards,
		}
		results[item.idx] = alloc
		s.allocated += item.req.BandwidthKbps
	}
	s.bySession[sessionID] = append(s.bySession[sessionID], results...)
	return results, nil
}

// ReleaseStream frees a single stream's bandwidth reservation.
func (s *Scheduler) ReleaseStream(sessionID, streamID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	allocs := s.bySession[sessionID]
	for i, a := range allocs {
		if a.StreamID == streamID {
			s.allocated = saturatingSub(s.allocated, a.AllocatedBandwidthKbps)
			s.bySession[sessionID] = append(allocs[:i], allocs[i+1:]...)
			return
		}
	}
}

// ReleaseSession frees every allocation held by sessionID, e.g. on
// session close.
func (s *Scheduler) ReleaseSession(sessionID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, a := range s.bySession[sessionID] {
		s.allocated = saturatingSub(s.allocated, a.AllocatedBandwidthKbps)
	}
	delete(s.bySession, sessionID)
}

// GetStats returns a snapshot of current load.
func (s *Scheduler) GetStats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	active := 0
	for _, allocs := range s.bySession {
		active += len(allocs)
	}
	return Stats{
		TotalBandwidthKbps:     s.cfg.TotalBandwidthKbps,
		AllocatedBandwidthKbps: s.allocated,
		ActiveStreams:          active,
		MaxStreams:             s.cfg.MaxStreams,
	}
}

func saturatingSub(a, b uint64) uint64 {
	if b > a {
		return 0
	}
	return a - b
}
