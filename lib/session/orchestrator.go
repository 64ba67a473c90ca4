package session

import (
	"sync"
	"time"

	"github.com/gravitational/trace"
	"github.com/jonboulle/clockwork"
	"github.com/robfig/cron/v3"
	log "github.com/sirupsen/logrus"

	honeylink "github.com/honeylink/core"
	"github.com/honeylink/core/api/types"
	"github.com/honeylink/core/lib/keyhierarchy"
	"github.com/honeylink/core/lib/policy"
	"github.com/honeylink/core/lib/qos"
)

// DefaultPairingTTL bounds how long a session may remain Pending/Paired
// before it is force-closed.
const DefaultPairingTTL = 10 * time.Minute

// DefaultSuspendTTL bounds how long a session may remain Suspended
// before it is force-closed.
const DefaultSuspendTTL = 5 * time.Minute

// AuditRecorder receives a record for every session state transition
// that reaches Closed (or that a caller otherwise wants on the trail).
type AuditRecorder interface {
	Record(ev types.AuditEvent) error
}

// Orchestrator coordinates the session state machine with key
// derivation, policy application, and stream allocation.
type Orchestrator struct {
	clock     clockwork.Clock
	log       *log.Entry
	store     Store
	keys      *keyhierarchy.KeyRotationManager
	profiles  policy.ProfileStore
	bus       *policy.EventBus
	scheduler *qos.Scheduler
	audit     AuditRecorder
	cronJob   *cron.Cron

	mu          sync.Mutex
	sessionKeys map[types.SessionID][]byte
}

// Config bundles the Orchestrator's collaborators.
type Config struct {
	Clock     clockwork.Clock
	Store     Store
	Keys      *keyhierarchy.KeyRotationManager
	Profiles  policy.ProfileStore
	Bus       *policy.EventBus
	Scheduler *qos.Scheduler
	Audit     AuditRecorder
}

// CheckAndSetDefaults validates cfg and fills in defaults.
func (c *Config) CheckAndSetDefaults() error {
	if c.Store == nil {
		return trace.BadParameter("session store is required")
	}
	if c.Keys == nil {
		return trace.BadParameter("key rotation manager is required")
	}
	if c.Clock == nil {
		c.Clock = clockwork.NewRealClock()
	}
	if c.Scheduler == nil {
		c.Scheduler = qos.NewScheduler(qos.DefaultConfig())
	}
	return nil
}

// NewOrchestrator constructs an Orchestrator from cfg.
func NewOrchestrator(cfg Config) (*Orchestrator, error) {
	if err := cfg.CheckAndSetDefaults(); err != nil {
		return nil, trace.Wrap(err)
	}
	return &Orchestrator{
		clock:       cfg.Clock,
		log:         log.WithField(trace.Component, honeylink.Component("session")),
		store:       cfg.Store,
		keys:        cfg.Keys,
		profiles:    cfg.Profiles,
		bus:         cfg.Bus,
		scheduler:   cfg.Scheduler,
		audit:       cfg.Audit,
		sessionKeys: make(map[types.SessionID][]byte),
	}, nil
}

// Pair creates a new Pending session for deviceID, recording its pairing
// TTL.
func (o *Orchestrator) Pair(deviceID types.DeviceID) (*types.Session, error) {
	id, err := types.NewSessionID()
	if err != nil {
		return nil, trace.Wrap(err)
	}
	now := o.clock.Now()
	sess := &types.Session{
		ID:            id,
		DeviceID:      deviceID,
		State:         string(StatePending),
		CreatedAt:     now,
		UpdatedAt:     now,
		PairingExpiry: now.Add(DefaultPairingTTL),
	}
	if err := o.store.Create(sess); err != nil {
		return nil, trace.Wrap(err)
	}
	return sess, nil
}

// Apply drives the session's state machine with event, persists the
// result, and runs the side effects §4.4 assigns to each transition.
func (o *Orchestrator) Apply(id types.SessionID, event Event) (*types.Session, error) {
	sess, err := o.store.Get(id)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	m := NewMachineAt(State(sess.State))
	next, err := m.Transition(event)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	sess.State = string(next)
	sess.UpdatedAt = o.clock.Now()

	switch next {
	case StatePaired:
		active, err := o.keys.GetActiveKey()
		if err != nil {
			return nil, trace.Wrap(err, "no active device master key")
		}
		sessionKey, err := keyhierarchy.DeriveSessionKey(active.Material.Bytes(), string(sess.DeviceID), sess.ID.String())
		if err != nil {
			return nil, trace.Wrap(err, "failed to derive session key")
		}
		o.mu.Lock()
		o.sessionKeys[sess.ID] = sessionKey.Bytes()
		o.mu.Unlock()
	case StateSuspended:
		sess.SuspendDeadline = sess.UpdatedAt.Add(DefaultSuspendTTL)
	case StateClosed:
		if len(sess.Streams) > 0 && o.scheduler != nil {
			o.scheduler.ReleaseSession(sess.ID.String())
		}
		o.mu.Lock()
		delete(o.sessionKeys, sess.ID)
		o.mu.Unlock()
		o.recordClosed(sess, string(event))
	}

	if err := o.store.Update(sess); err != nil {
		return nil, trace.Wrap(err)
	}
	return sess, nil
}

// StreamGrant is one admitted stream's full grant: its QoS allocation
// plus the stream key derived for it, disclosed to the caller exactly
// once (at session-creation response time).
type StreamGrant struct {
	qos.Allocation
	KeyMaterial []byte
}

// RequestStreams allocates transport streams for sess via the QoS
// scheduler, derives a stream key for each from the session's key
// (session key must already exist, i.e. sess is Paired or later), and
// records the grants on the session, matching the Paired→Active
// responsibility of requesting streams per the policy's per-stream
// priority and bandwidth. It does not itself transition the session;
// callers apply EventActivate separately once streams are allocated.
func (o *Orchestrator) RequestStreams(id types.SessionID, reqs []qos.Request) ([]StreamGrant, error) {
	sess, err := o.store.Get(id)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	o.mu.Lock()
	sessionKey, ok := o.sessionKeys[id]
	o.mu.Unlock()
	if !ok {
		return nil, trace.BadParameter("no session key for session %s; session must be Paired first", id)
	}

	allocations, err := o.scheduler.AllocateStreams(sess.ID.String(), reqs)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	streams := make([]types.StreamConfig, len(allocations))
	grants := make([]StreamGrant, len(allocations))
	for i, a := range allocations {
		mode := ""
		if i < len(reqs) {
			mode = reqs[i].Mode
		}
		streams[i] = types.StreamConfig{
			Name:          a.Name,
			Mode:          mode,
			Priority:      string(a.Priority),
			BandwidthKbps: uint32(a.AllocatedBandwidthKbps),
		}
		streamKey, err := keyhierarchy.DeriveStreamKey(sessionKey, sess.ID.String(), a.StreamID)
		if err != nil {
			return nil, trace.Wrap(err, "failed to derive stream key")
		}
		grants[i] = StreamGrant{Allocation: a, KeyMaterial: streamKey.Bytes()}
	}
	sess.Streams = streams
	sess.UpdatedAt = o.clock.Now()
	if err := o.store.Update(sess); err != nil {
		return nil, trace.Wrap(err)
	}
	return grants, nil
}

func (o *Orchestrator) recordClosed(sess *types.Session, reason string) {
	if o.audit == nil {
		return
	}
	ev := types.AuditEvent{
		ID:        "evt_" + sess.ID.String(),
		Type:      "session.closed",
		SessionID: sess.ID.String(),
		DeviceID:  string(sess.DeviceID),
		Detail:    reason,
		Timestamp: o.clock.Now(),
	}
	if err := o.audit.Record(ev); err != nil {
		o.log.WithError(err).Warn("failed to record session-closed audit event")
	}
}

// StartTTLSweeper runs the expiry sweep on a cron schedule ("@every 1m" by
// default) until StopTTLSweeper is called.
func (o *Orchestrator) StartTTLSweeper(spec string) error {
	if spec == "" {
		spec = "@every 1m"
	}
	c := cron.New()
	if _, err := c.AddFunc(spec, func() {
		if _, err := o.sweepExpiredOnce(); err != nil {
			o.log.WithError(err).Warn("ttl sweep failed")
		}
	}); err != nil {
		return trace.Wrap(err)
	}
	c.Start()
	o.cronJob = c
	return nil
}

// StopTTLSweeper halts the background sweep. Safe to call when not
// started.
func (o *Orchestrator) StopTTLSweeper() {
	if o.cronJob != nil {
		o.cronJob.Stop()
		o.cronJob = nil
	}
}

func (o *Orchestrator) sweepExpiredOnce() (int, error) {
	expired, err := o.store.CleanupExpired(o.clock.Now())
	if err != nil {
		return 0, trace.Wrap(err)
	}
	for _, sess := range expired {
		var event Event
		switch State(sess.State) {
		case StateSuspended:
			event = EventSuspendTimeout
		default:
			event = EventTtlExpired
		}
		m := NewMachineAt(State(sess.State))
		if _, err := m.Transition(event); err == nil {
			o.recordClosed(sess, string(event))
		}
	}
	return len(expired), nil
}
