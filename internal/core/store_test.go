package core

import (
	"context"
	"sort"
	"sync"
)

// fakeStore is an in-memory EventStore that records every batch it is given.
type fakeStore struct {
	mu      sync.Mutex
	events  map[string]Event
	batches []int
	failAt  int // 1-indexed batch that fails; 0 never fails
	failErr error
}

func newFakeStore() *fakeStore {
	return &fakeStore{events: make(map[string]Event)}
}

func (s *fakeStore) FetchAll(ctx context.Context) ([]Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Event, 0, len(s.events))
	for _, ev := range s.events {
		out = append(out, ev.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *fakeStore) Get(ctx context.Context, id string) (*Event, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ev, ok := s.events[id]
	if !ok {
		return nil, false, nil
	}
	c := ev.Clone()
	return &c, true, nil
}

func (s *fakeStore) BulkUpsert(ctx context.Context, events []Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failAt > 0 && len(s.batches)+1 == s.failAt {
		return s.failErr
	}
	s.batches = append(s.batches, len(events))
	for _, ev := range events {
		s.events[ev.ID] = ev.Clone()
	}
	return nil
}

func (s *fakeStore) Clear(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = make(map[string]Event)
	return nil
}

func (s *fakeStore) batchSizes() []int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]int(nil), s.batches...)
}

func (s *fakeStore) len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.events)
}
