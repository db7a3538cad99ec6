package events

import (
	"context"
	"sync"

	"github.com/stagehall/stagehall/internal/domain"
)

// MemoryStore keeps events and payments in process memory. Used in
// tests and single-node dev runs without a database.
type MemoryStore struct {
	mu     sync.RWMutex
	events map[domain.EventID]domain.Event
	paid   map[string]bool
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		events: make(map[domain.EventID]domain.Event),
		paid:   make(map[string]bool),
	}
}

func paymentKey(eventID domain.EventID, userID domain.UserID) string {
	return string(eventID) + ":" + string(userID)
}

func (s *MemoryStore) PutEvent(ev domain.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events[ev.ID] = ev
}

func (s *MemoryStore) MarkPaid(eventID domain.EventID, userID domain.UserID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.paid[paymentKey(eventID, userID)] = true
}

func (s *MemoryStore) Event(_ context.Context, id domain.EventID) (*domain.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ev, ok := s.events[id]
	if !ok {
		return nil, ErrEventNotFound
	}
	return &ev, nil
}

func (s *MemoryStore) HasPaid(_ context.Context, eventID domain.EventID, userID domain.UserID) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.paid[paymentKey(eventID, userID)], nil
}
