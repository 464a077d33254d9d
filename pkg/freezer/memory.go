package freezer

import (
	"context"
	"slices"
	"sync"

	"github.com/withregard/regard-go/pkg/event"
)

// MemoryStore keeps snapshots in process memory. It is useful for tests and
// for trackers that should not touch the disk.
type MemoryStore struct {
	mu    sync.RWMutex
	snaps map[event.Key][]event.Event
	saves int
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{snaps: make(map[event.Key][]event.Event)}
}

func (s *MemoryStore) Save(_ context.Context, key event.Key, events []event.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.saves++
	if len(events) == 0 {
		delete(s.snaps, key)
		return nil
	}
	s.snaps[key] = slices.Clone(events)
	return nil
}

func (s *MemoryStore) Load(_ context.Context, key event.Key) ([]event.Event, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	events, ok := s.snaps[key]
	if !ok {
		return nil, false, nil
	}
	return slices.Clone(events), true, nil
}

// Saves returns how many times Save has been called.
func (s *MemoryStore) Saves() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.saves
}
