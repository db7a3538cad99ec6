// Package attach stores attachment bytes out of band. Rooms only ever
// see the AttachmentRef this package produces.
package attach

import (
	"context"
	"errors"
	"sync"

	"github.com/google/uuid"

	"github.com/stagehall/stagehall/internal/domain"
)

var ErrNotFound = errors.New("attachment not found")

type Store interface {
	Put(ctx context.Context, eventID domain.EventID, name, contentType string, data []byte) (domain.AttachmentRef, error)
	Get(ctx context.Context, eventID domain.EventID, name string) ([]byte, domain.AttachmentRef, error)
}

type memEntry struct {
	ref  domain.AttachmentRef
	data []byte
}

// MemoryStore keeps attachment bytes in process memory.
type MemoryStore struct {
	mu    sync.RWMutex
	blobs map[string]memEntry
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{blobs: make(map[string]memEntry)}
}

func blobKey(eventID domain.EventID, name string) string {
	return string(eventID) + "/" + name
}

func (s *MemoryStore) Put(_ context.Context, eventID domain.EventID, name, contentType string, data []byte) (domain.AttachmentRef, error) {
	ref := domain.AttachmentRef{
		Name:        name,
		ContentType: contentType,
		Size:        int64(len(data)),
		Token:       uuid.NewString(),
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.blobs[blobKey(eventID, name)] = memEntry{ref: ref, data: data}
	return ref, nil
}

func (s *MemoryStore) Get(_ context.Context, eventID domain.EventID, name string) ([]byte, domain.AttachmentRef, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	entry, ok := s.blobs[blobKey(eventID, name)]
	if !ok {
		return nil, domain.AttachmentRef{}, ErrNotFound
	}
	return entry.data, entry.ref, nil
}
