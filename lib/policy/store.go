package policy

import (
	"sync"

	"github.com/gravitational/trace"

	"github.com/honeylink/core/api/types"
)

// ProfileStore persists profile templates.
type ProfileStore interface {
	Create(p *Profile) error
	Get(profileID string) (*Profile, error)
	Update(p *Profile) error
	Delete(profileID string) error
	List() ([]*Profile, error)
}

// InMemoryProfileStore is a ProfileStore backed by a mutex-guarded map,
// used in tests and as the default store for single-instance deployments.
type InMemoryProfileStore struct {
	mu       sync.RWMutex
	profiles map[string]*Profile
}

// NewInMemoryProfileStore constructs an empty store.
func NewInMemoryProfileStore() *InMemoryProfileStore {
	return &InMemoryProfileStore{profiles: make(map[string]*Profile)}
}

// Create implements ProfileStore.
func (s *InMemoryProfileStore) Create(p *Profile) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.profiles[p.ProfileID]; ok {
		return types.NewError(types.KindConflict, nil, "profile "+p.ProfileID+" already exists")
	}
	cp := *p
	s.profiles[p.ProfileID] = &cp
	return nil
}

// Get implements ProfileStore.
func (s *InMemoryProfileStore) Get(profileID string) (*Profile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.profiles[profileID]
	if !ok {
		return nil, types.NewError(types.KindNotFound, nil, "profile "+profileID+" not found")
	}
	cp := *p
	return &cp, nil
}

// Update implements ProfileStore.
func (s *InMemoryProfileStore) Update(p *Profile) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.profiles[p.ProfileID]; !ok {
		return types.NewError(types.KindNotFound, nil, "profile "+p.ProfileID+" not found")
	}
	cp := *p
	s.profiles[p.ProfileID] = &cp
	return nil
}

// Delete implements ProfileStore.
func (s *InMemoryProfileStore) Delete(profileID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.profiles[profileID]; !ok {
		return types.NewError(types.KindNotFound, nil, "profile "+profileID+" not found")
	}
	delete(s.profiles, profileID)
	return nil
}

// List implements ProfileStore.
func (s *InMemoryProfileStore) List() ([]*Profile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*Profile, 0, len(s.profiles))
	for _, p := range s.profiles {
		cp := *p
		out = append(out, &cp)
	}
	return out, nil
}

// LoadPresets seeds a store with the built-in preset profiles; intended
// for first-run bootstrap.
func LoadPresets(store ProfileStore, presets []*Profile) error {
	for _, p := range presets {
		if err := p.Validate(); err != nil {
			return trace.Wrap(err, "invalid preset %s", p.ProfileID)
		}
		if err := store.Create(p); err != nil {
			return trace.Wrap(err)
		}
	}
	return nil
}
