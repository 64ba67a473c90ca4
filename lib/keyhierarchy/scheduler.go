package keyhierarchy

import (
	"context"
	"sync"
	"time"

	"github.com/gravitational/trace"
	"github.com/jonboulle/clockwork"
	"github.com/robfig/cron/v3"
	log "github.com/sirupsen/logrus"

	honeylink "github.com/honeylink/core"
	"github.com/honeylink/core/api/types"
)

// EmergencyRotationBudget bounds how long an emergency rotation (key
// compromise response) is allowed to take before it is reported as a
// KindEmergencyTimeout error. The new key version is still committed
// before the budget is checked: a slow emergency rotation is a paged
// incident, not a rolled-back operation.
const EmergencyRotationBudget = 30 * time.Minute

// RotationTrigger records why a rotation happened, for the audit trail.
type RotationTrigger string

const (
	TriggerScheduled     RotationTrigger = "scheduled"
	TriggerCompromised   RotationTrigger = "compromised"
	TriggerManual        RotationTrigger = "manual"
	TriggerPolicyChange  RotationTrigger = "policy_change"
)

// RotationEvent is emitted on every rotation, scheduled or emergency.
type RotationEvent struct {
	Scope    Scope
	Version  uint64
	Trigger  RotationTrigger
	At       time.Time
	Duration time.Duration
}

// Scheduler runs scheduled background rotation for a set of managers and
// supports an out-of-band emergency rotation path.
type Scheduler struct {
	clock clockwork.Clock
	log   *log.Entry

	mu       sync.Mutex
	managers map[Scope]*KeyRotationManager
	cronJob  *cron.Cron
	onEvent  func(RotationEvent)
	running  bool
}

// NewScheduler constructs a Scheduler. onEvent, if non-nil, is invoked
// (synchronously) after every rotation for audit logging.
func NewScheduler(clock clockwork.Clock, onEvent func(RotationEvent)) *Scheduler {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Scheduler{
		clock:    clock,
		log:      log.WithField(trace.Component, honeylink.Component("keyhierarchy")),
		managers: make(map[Scope]*KeyRotationManager),
		onEvent:  onEvent,
	}
}

// Register adds a scope's manager to the scheduler's purview.
func (s *Scheduler) Register(scope Scope, m *KeyRotationManager) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.managers[scope] = m
}

// Start launches the background cron loop (hourly check, matching the
// original scheduler's check_interval). Stop is idempotent.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return nil
	}
	c := cron.New()
	if _, err := c.AddFunc("@hourly", func() { s.checkAll(TriggerScheduled) }); err != nil {
		return trace.Wrap(err)
	}
	c.Start()
	s.cronJob = c
	s.running = true
	go func() {
		<-ctx.Done()
		s.Stop()
	}()
	return nil
}

// Stop halts the background cron loop. Safe to call multiple times.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		return
	}
	if s.cronJob != nil {
		s.cronJob.Stop()
	}
	s.running = false
}

// Running reports whether the background loop is active.
func (s *Scheduler) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

func (s *Scheduler) checkAll(trigger RotationTrigger) {
	s.mu.Lock()
	managers := make(map[Scope]*KeyRotationManager, len(s.managers))
	for k, v := range s.managers {
		managers[k] = v
	}
	s.mu.Unlock()

	for scope, m := range managers {
		if !m.NeedsRotation() {
			continue
		}
		start := s.clock.Now()
		nv, err := m.Rotate()
		if err != nil {
			s.log.WithError(err).WithField("scope", scope).Warn("scheduled key rotation failed")
			continue
		}
		s.emit(RotationEvent{Scope: scope, Version: nv.Version, Trigger: trigger, At: s.clock.Now(), Duration: s.clock.Now().Sub(start)})
	}
}

// RotateEmergency rotates a single scope immediately, regardless of its
// normal schedule, and returns a KindEmergencyTimeout error (after the
// new key is already committed) if it took longer than
// EmergencyRotationBudget.
func (s *Scheduler) RotateEmergency(scope Scope, reason string) error {
	s.mu.Lock()
	m, ok := s.managers[scope]
	s.mu.Unlock()
	if !ok {
		return types.NewError(types.KindKeyNotFound, nil, "no rotation manager registered for scope "+string(scope))
	}

	start := s.clock.Now()
	nv, err := m.Rotate()
	if err != nil {
		return types.NewError(types.KindRotationFailed, err, "emergency rotation failed for scope "+string(scope))
	}
	elapsed := s.clock.Now().Sub(start)
	s.emit(RotationEvent{Scope: scope, Version: nv.Version, Trigger: TriggerCompromised, At: s.clock.Now(), Duration: elapsed})

	if elapsed > EmergencyRotationBudget {
		return types.NewError(types.KindEmergencyTimeout, nil,
			"emergency rotation for scope "+string(scope)+" exceeded its time budget")
	}
	return nil
}

func (s *Scheduler) emit(ev RotationEvent) {
	if s.onEvent != nil {
		s.onEvent(ev)
	}
}
