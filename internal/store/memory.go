package store

import (
	"context"
	"sync"
	"time"
)

// MemoryStore is an in-process AlertStore with the same conditional-update
// semantics as the Mongo implementation. Used by tests and demo runs.
type MemoryStore struct {
	mu     sync.RWMutex
	alerts map[string]PriceAlert
}

func NewMemoryStore(seed ...PriceAlert) *MemoryStore {
	s := &MemoryStore{alerts: make(map[string]PriceAlert, len(seed))}
	for _, a := range seed {
		s.alerts[a.ID] = a
	}
	return s
}

func (s *MemoryStore) List(_ context.Context, f Filter) ([]PriceAlert, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []PriceAlert
	for _, a := range s.alerts {
		if f.UserID != "" && a.UserID != f.UserID {
			continue
		}
		if f.Market != "" && a.Market != f.Market {
			continue
		}
		if f.ActiveOnly && !a.IsActive {
			continue
		}
		if f.UntriggeredOnly && a.IsTriggered {
			continue
		}
		out = append(out, a)
	}
	return out, nil
}

func (s *MemoryStore) Update(_ context.Context, id string, p Patch) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.alerts[id]
	if !ok {
		return nil // deleted meanwhile: no-op
	}
	if p.IsActive != nil {
		a.IsActive = *p.IsActive
	}
	if p.IsTriggered != nil {
		a.IsTriggered = *p.IsTriggered
		if !*p.IsTriggered {
			a.TriggeredAt = nil
		}
	}
	if p.TargetPrice != nil {
		a.TargetPrice = *p.TargetPrice
	}
	s.alerts[id] = a
	return nil
}

func (s *MemoryStore) MarkTriggered(_ context.Context, id string, at time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.alerts[id]
	if !ok || a.IsTriggered {
		return false, nil
	}
	a.IsTriggered = true
	t := at
	a.TriggeredAt = &t
	s.alerts[id] = a
	return true, nil
}

func (s *MemoryStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.alerts, id)
	return nil
}

// Get returns a copy of one alert, for tests.
func (s *MemoryStore) Get(id string) (PriceAlert, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.alerts[id]
	return a, ok
}

var _ AlertStore = (*MemoryStore)(nil)
