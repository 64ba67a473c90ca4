package session

import (
	"sync"
	"time"

	"github.com/honeylink/core/api/types"
)

// Store persists Session aggregates.
type Store interface {
	Create(s *types.Session) error
	Get(id types.SessionID) (*types.Session, error)
	Update(s *types.Session) error
	Delete(id types.SessionID) error
	ListByDevice(deviceID types.DeviceID) ([]*types.Session, error)
	ListByState(state string) ([]*types.Session, error)
	CountActive() (int, error)
	CleanupExpired(now time.Time) ([]*types.Session, error)
}

// InMemoryStore is a Store backed by a mutex-guarded map.
type InMemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]*types.Session
}

// NewInMemoryStore constructs an empty store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{sessions: make(map[string]*types.Session)}
}

// Create implements Store.
func (s *InMemoryStore) Create(sess *types.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := sess.ID.String()
	if _, ok := s.sessions[id]; ok {
		return types.NewError(types.KindConflict, nil, "session "+id+" already exists")
	}
	cp := *sess
	s.sessions[id] = &cp
	return nil
}

// Get implements Store.
func (s *InMemoryStore) Get(id types.SessionID) (*types.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.sessions[id.String()]
	if !ok {
		return nil, types.NewError(types.KindNotFound, nil, "session "+id.String()+" not found")
	}
	cp := *sess
	return &cp, nil
}

// Update implements Store.
func (s *InMemoryStore) Update(sess *types.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := sess.ID.String()
	if _, ok := s.sessions[id]; !ok {
		return types.NewError(types.KindNotFound, nil, "session "+id+" not found")
	}
	cp := *sess
	s.sessions[id] = &cp
	return nil
}

// Delete implements Store.
func (s *InMemoryStore) Delete(id types.SessionID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := id.String()
	if _, ok := s.sessions[key]; !ok {
		return types.NewError(types.KindNotFound, nil, "session "+key+" not found")
	}
	delete(s.sessions, key)
	return nil
}

// ListByDevice implements Store.
func (s *InMemoryStore) ListByDevice(deviceID types.DeviceID) ([]*types.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*types.Session
	for _, sess := range s.sessions {
		if sess.DeviceID == deviceID {
			cp := *sess
			out = append(out, &cp)
		}
	}
	return out, nil
}

// ListByState implements Store.
func (s *InMemoryStore) ListByState(state string) ([]*types.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*types.Session
	for _, sess := range s.sessions {
		if sess.State == state {
			cp := *sess
			out = append(out, &cp)
		}
	}
	return out, nil
}

// CountActive implements Store.
func (s *InMemoryStore) CountActive() (int, error) {
	sessions, _ := s.ListByState(string(StateActive))
	return len(sessions), nil
}

// CleanupExpired removes sessions whose pairing TTL or suspend deadline
// has passed and returns the removed sessions (for the caller to drive
// TtlExpired/SuspendTimeout transitions and emit audit records).
func (s *InMemoryStore) CleanupExpired(now time.Time) ([]*types.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var expired []*types.Session
	for key, sess := range s.sessions {
		switch State(sess.State) {
		case StatePending, StatePaired:
			if !sess.PairingExpiry.IsZero() && now.After(sess.PairingExpiry) {
				cp := *sess
				expired = append(expired, &cp)
				delete(s.sessions, key)
			}
		case StateSuspended:
			if !sess.SuspendDeadline.IsZero() && now.After(sess.SuspendDeadline) {
				cp := *sess
				expired = append(expired, &cp)
				delete(s.sessions, key)
			}
		}
	}
	return expired, nil
}
