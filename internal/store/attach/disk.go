package attach

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"

	"github.com/stagehall/stagehall/internal/domain"
)

// DiskStore writes attachments under root/<eventID>/. Each blob gets a
// sidecar .meta.json carrying its AttachmentRef, so content type and
// token survive restarts.
type DiskStore struct {
	root string
}

func NewDiskStore(root string) (*DiskStore, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create attachment dir: %w", err)
	}
	return &DiskStore{root: root}, nil
}

func (s *DiskStore) paths(eventID domain.EventID, name string) (dir, blob, meta string) {
	// filepath.Base strips any path traversal in client-supplied names.
	safe := filepath.Base(name)
	dir = filepath.Join(s.root, filepath.Base(string(eventID)))
	blob = filepath.Join(dir, safe)
	meta = blob + ".meta.json"
	return
}

func (s *DiskStore) Put(_ context.Context, eventID domain.EventID, name, contentType string, data []byte) (domain.AttachmentRef, error) {
	dir, blob, meta := s.paths(eventID, name)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return domain.AttachmentRef{}, fmt.Errorf("failed to create event dir: %w", err)
	}

	ref := domain.AttachmentRef{
		Name:        filepath.Base(name),
		ContentType: contentType,
		Size:        int64(len(data)),
		Token:       uuid.NewString(),
	}

	if err := os.WriteFile(blob, data, 0o644); err != nil {
		return domain.AttachmentRef{}, fmt.Errorf("failed to write attachment: %w", err)
	}
	metaBytes, err := json.Marshal(ref)
	if err != nil {
		return domain.AttachmentRef{}, err
	}
	if err := os.WriteFile(meta, metaBytes, 0o644); err != nil {
		return domain.AttachmentRef{}, fmt.Errorf("failed to write attachment meta: %w", err)
	}
	return ref, nil
}

func (s *DiskStore) Get(_ context.Context, eventID domain.EventID, name string) ([]byte, domain.AttachmentRef, error) {
	_, blob, meta := s.paths(eventID, name)

	metaBytes, err := os.ReadFile(meta)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, domain.AttachmentRef{}, ErrNotFound
		}
		return nil, domain.AttachmentRef{}, fmt.Errorf("failed to read attachment meta: %w", err)
	}
	var ref domain.AttachmentRef
	if err := json.Unmarshal(metaBytes, &ref); err != nil {
		return nil, domain.AttachmentRef{}, fmt.Errorf("failed to decode attachment meta: %w", err)
	}

	data, err := os.ReadFile(blob)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, domain.AttachmentRef{}, ErrNotFound
		}
		return nil, domain.AttachmentRef{}, fmt.Errorf("failed to read attachment: %w", err)
	}
	return data, ref, nil
}
