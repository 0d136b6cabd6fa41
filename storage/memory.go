package storage

import (
	"context"
	"sync"

	"github.com/ruteri/keystream/interfaces"
)

// MemoryBackend keeps attachments in process memory. Sessions survive
// connection loss but not a restart.
type MemoryBackend struct {
	mu          sync.RWMutex
	attachments map[string]interfaces.Attachment
}

func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{
		attachments: make(map[string]interfaces.Attachment),
	}
}

func (b *MemoryBackend) Load(ctx context.Context, sessionID string) (*interfaces.Attachment, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	a, ok := b.attachments[sessionID]
	if !ok {
		return nil, interfaces.ErrAttachmentNotFound
	}
	return &a, nil
}

func (b *MemoryBackend) Save(ctx context.Context, attachment *interfaces.Attachment) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.attachments[attachment.SessionID] = *attachment
	return nil
}

func (b *MemoryBackend) Delete(ctx context.Context, sessionID string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	delete(b.attachments, sessionID)
	return nil
}

func (b *MemoryBackend) Available(ctx context.Context) bool {
	return true
}

func (b *MemoryBackend) Name() string {
	return "memory"
}

func (b *MemoryBackend) LocationURI() string {
	return "memory://"
}
