package transport

import (
	"context"
	"sync"
	"time"

	"github.com/gravitational/trace"
	log "github.com/sirupsen/logrus"

	honeylink "github.com/honeylink/core"
	"github.com/honeylink/core/api/types"
)

// poolEntry tracks an idle pooled connection and when it was last used,
// for staleness eviction.
type poolEntry struct {
	conn     Connection
	lastUsed time.Time
}

// ManagerConfig configures a Manager.
type ManagerConfig struct {
	Strategy       Strategy
	DefaultTimeout time.Duration
	IdleTimeout    time.Duration
}

// CheckAndSetDefaults validates cfg and fills in defaults.
func (c *ManagerConfig) CheckAndSetDefaults() error {
	if c.Strategy == "" {
		c.Strategy = StrategyPreferQuic
	}
	if c.DefaultTimeout == 0 {
		c.DefaultTimeout = 10 * time.Second
	}
	if c.IdleTimeout == 0 {
		c.IdleTimeout = 2 * time.Minute
	}
	return nil
}

// Manager owns the registered transport backends, a connection pool
// keyed by remote address, and the strategy used to pick a backend for
// a new outbound connection.
type Manager struct {
	cfg       ManagerConfig
	log       *log.Entry
	mu        sync.Mutex
	protocols map[ProtocolType]Protocol
	pool      map[string]poolEntry
}

// NewManager constructs a Manager from cfg.
func NewManager(cfg ManagerConfig) (*Manager, error) {
	if err := cfg.CheckAndSetDefaults(); err != nil {
		return nil, trace.Wrap(err)
	}
	return &Manager{
		cfg:       cfg,
		log:       log.WithField(trace.Component, honeylink.Component("transport")),
		protocols: make(map[ProtocolType]Protocol),
		pool:      make(map[string]poolEntry),
	}, nil
}

// RegisterProtocol adds a backend. Registering the same ProtocolType
// twice replaces the previous registration.
func (m *Manager) RegisterProtocol(p Protocol) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.protocols[p.Type()] = p
}

// candidateOrder returns the protocol types to try, in order, for the
// manager's configured strategy.
func (m *Manager) candidateOrder() []ProtocolType {
	switch m.cfg.Strategy {
	case StrategyQuicOnly:
		return []ProtocolType{ProtocolTLSALPN}
	case StrategyWebRTCOnly:
		return []ProtocolType{ProtocolWebRTC}
	case StrategyPreferWebRTC:
		return []ProtocolType{ProtocolWebRTC, ProtocolTLSALPN}
	case StrategyAll, StrategyPreferQuic:
		fallthrough
	default:
		return []ProtocolType{ProtocolTLSALPN, ProtocolWebRTC}
	}
}

// Connect returns (and removes from the pool) a pooled connection to addr
// if one is pooled, without checking that it is still usable; otherwise it
// dials a fresh one using the first available protocol in strategy order.
func (m *Manager) Connect(ctx context.Context, addr string) (Connection, error) {
	m.mu.Lock()
	if e, ok := m.pool[addr]; ok {
		delete(m.pool, addr)
		m.mu.Unlock()
		return e.conn, nil
	}
	m.mu.Unlock()

	var lastErr error
	for _, pt := range m.candidateOrder() {
		m.mu.Lock()
		proto, ok := m.protocols[pt]
		m.mu.Unlock()
		if !ok {
			continue
		}
		dialCtx, cancel := context.WithTimeout(ctx, m.cfg.DefaultTimeout)
		conn, err := proto.Dial(dialCtx, addr)
		cancel()
		if err != nil {
			lastErr = err
			continue
		}
		return conn, nil
	}
	if lastErr != nil {
		return nil, types.NewError(types.KindDependencyFailure, lastErr, "no registered transport protocol could reach "+addr)
	}
	return nil, types.NewError(types.KindProtocolNotSupported, nil, "no transport protocol registered for strategy "+string(m.cfg.Strategy))
}

// Release returns conn to the pool for reuse, keyed by its remote
// address.
func (m *Manager) Release(conn Connection) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pool[conn.RemoteAddr().String()] = poolEntry{conn: conn, lastUsed: time.Now()}
}

// EvictStale closes and removes pooled connections idle longer than
// cfg.IdleTimeout, returning the number evicted.
func (m *Manager) EvictStale(now time.Time) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	evicted := 0
	for addr, e := range m.pool {
		if now.Sub(e.lastUsed) > m.cfg.IdleTimeout {
			e.conn.Close()
			delete(m.pool, addr)
			evicted++
		}
	}
	return evicted
}
