package adapter

import (
	"context"
	"sync"
	"time"

	"github.com/gravitational/trace"
	log "github.com/sirupsen/logrus"

	honeylink "github.com/honeylink/core"
)

// Strategy selects how the registry picks a replacement adapter during
// hot-swap.
type Strategy string

const (
	StrategyHighestRSSI      Strategy = "highest_rssi"
	StrategyLowestLossRate   Strategy = "lowest_loss_rate"
	StrategyHighestBandwidth Strategy = "highest_bandwidth"
	StrategyManual           Strategy = "manual"
)

// MonitorInterval is how often the registry polls link quality.
const MonitorInterval = 5 * time.Second

// SwapEvent is emitted whenever the active adapter changes.
type SwapEvent struct {
	From, To Type
	Reason   string
	At       time.Time
}

// Registry tracks the set of available physical adapters and the one
// currently active, and hot-swaps the active adapter when its quality
// degrades.
type Registry struct {
	mu       sync.Mutex
	adapters map[Type]Layer
	active   Type
	strategy Strategy
	onSwap   func(SwapEvent)
	log      *log.Entry
	cancel   context.CancelFunc
}

// NewRegistry constructs an empty Registry using strategy to pick a
// replacement adapter during hot-swap.
func NewRegistry(strategy Strategy, onSwap func(SwapEvent)) *Registry {
	return &Registry{
		adapters: make(map[Type]Layer),
		strategy: strategy,
		onSwap:   onSwap,
		log:      log.WithField(trace.Component, honeylink.Component("adapter")),
	}
}

// Register adds an adapter. The first adapter registered becomes active.
func (r *Registry) Register(a Layer) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.adapters[a.Type()] = a
	if r.active == "" {
		r.active = a.Type()
	}
}

// Active returns the currently active adapter's type.
func (r *Registry) Active() Type {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.active
}

// EvaluateHotSwap checks the active adapter's quality and switches away
// from it if it is down or degraded; querying failure is treated the
// same as "down" (force-switch).
func (r *Registry) EvaluateHotSwap(ctx context.Context) error {
	r.mu.Lock()
	active, ok := r.adapters[r.active]
	r.mu.Unlock()
	if !ok {
		return trace.NotFound("no active adapter registered")
	}

	q, err := active.Quality(ctx)
	degraded := err != nil || q.IsDegraded()
	if !degraded {
		return nil
	}
	return r.switchToBest(ctx, "active link degraded or unreachable")
}

// switchToBest evaluates every registered adapter other than the current
// active one and switches to whichever scores best under r.strategy.
func (r *Registry) switchToBest(ctx context.Context, reason string) error {
	r.mu.Lock()
	candidates := make(map[Type]Layer, len(r.adapters))
	for t, a := range r.adapters {
		candidates[t] = a
	}
	current := r.active
	r.mu.Unlock()

	var best Type
	var bestScore float64
	haveBest := false
	for t, a := range candidates {
		if t == current {
			continue
		}
		q, err := a.Quality(ctx)
		if err != nil || !q.Up {
			continue
		}
		score := r.score(t, q)
		if !haveBest || score > bestScore {
			best, bestScore = t, score
			haveBest = true
		}
	}
	if !haveBest {
		return trace.ConnectionProblem(nil, "no healthy alternate adapter available for hot-swap")
	}

	r.mu.Lock()
	r.active = best
	r.mu.Unlock()

	r.log.WithField("from", current).WithField("to", best).Warn("hot-swapped active adapter")
	if r.onSwap != nil {
		r.onSwap(SwapEvent{From: current, To: best, Reason: reason, At: time.Now()})
	}
	return nil
}

func (r *Registry) score(t Type, q Quality) float64 {
	switch r.strategy {
	case StrategyLowestLossRate:
		return -q.LossRate
	case StrategyHighestBandwidth:
		return t.TypicalBandwidthMbps()
	default: // StrategyHighestRSSI and StrategyManual fall back to RSSI
		return q.RSSI
	}
}

// StartMonitoring polls EvaluateHotSwap every MonitorInterval until ctx
// is canceled or Stop is called.
func (r *Registry) StartMonitoring(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	r.mu.Lock()
	r.cancel = cancel
	r.mu.Unlock()

	go func() {
		ticker := time.NewTicker(MonitorInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := r.EvaluateHotSwap(ctx); err != nil {
					r.log.WithError(err).Debug("hot-swap evaluation found no action to take")
				}
			}
		}
	}()
}

// Stop halts StartMonitoring's background loop.
func (r *Registry) Stop() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cancel != nil {
		r.cancel()
		r.cancel = nil
	}
}
