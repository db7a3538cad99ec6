// Package status persists the "is this event currently live" fact so
// clients that are not connected yet can poll it over REST.
package status

import (
	"context"
	"sync"

	"github.com/stagehall/stagehall/internal/domain"
)

// Livestream is the externally visible broadcast status of one event.
type Livestream struct {
	Live        bool          `json:"live"`
	Broadcaster domain.UserID `json:"broadcaster,omitempty"`
}

type Store interface {
	SetLive(ctx context.Context, eventID domain.EventID, broadcaster domain.UserID) error
	SetEnded(ctx context.Context, eventID domain.EventID) error
	Get(ctx context.Context, eventID domain.EventID) (Livestream, error)
}

// MemoryStore is the in-process implementation, used in tests and
// deployments without Redis.
type MemoryStore struct {
	mu     sync.RWMutex
	status map[domain.EventID]Livestream
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{status: make(map[domain.EventID]Livestream)}
}

func (s *MemoryStore) SetLive(_ context.Context, eventID domain.EventID, broadcaster domain.UserID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.status[eventID] = Livestream{Live: true, Broadcaster: broadcaster}
	return nil
}

func (s *MemoryStore) SetEnded(_ context.Context, eventID domain.EventID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.status[eventID] = Livestream{}
	return nil
}

func (s *MemoryStore) Get(_ context.Context, eventID domain.EventID) (Livestream, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.status[eventID], nil
}
