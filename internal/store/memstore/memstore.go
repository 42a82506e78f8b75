// Package memstore provides an in-memory implementation of core.EventStore.
package memstore

import (
	"context"
	"sort"
	"sync"

	"github.com/JonMunkholm/cdmtriage/internal/core"
)

// Store holds events in memory. Suitable for dev/testing.
type Store struct {
	mu     sync.RWMutex
	events map[string]core.Event // event ID -> event
}

// New initializes a new in-memory Store.
func New() *Store {
	return &Store{events: make(map[string]core.Event)}
}

// FetchAll returns copies of every event ordered by id.
func (s *Store) FetchAll(_ context.Context) ([]core.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]core.Event, 0, len(s.events))
	for _, ev := range s.events {
		out = append(out, ev.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// Get retrieves an event by id. Returns a copy.
func (s *Store) Get(_ context.Context, id string) (*core.Event, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ev, ok := s.events[id]
	if !ok {
		return nil, false, nil
	}
	cp := ev.Clone()
	return &cp, true, nil
}

// BulkUpsert stores copies of events under one lock, so readers never see a
// partial batch.
func (s *Store) BulkUpsert(ctx context.Context, events []core.Event) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range events {
		s.events[events[i].ID] = events[i].Clone()
	}
	return nil
}

// Clear removes every event.
func (s *Store) Clear(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = make(map[string]core.Event)
	return nil
}

// Len returns the number of stored events.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.events)
}
