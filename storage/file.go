package storage

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/ruteri/keystream/interfaces"
)

// FileBackend implements an attachment store on the local file system.
// Each attachment is one JSON file in the sessions subdirectory.
type FileBackend struct {
	baseDir     string
	sessionDir  string
	log         *slog.Logger
	locationURI string
}

// NewFileBackend creates a file attachment store rooted at baseDir, creating
// the directory layout if needed.
func NewFileBackend(baseDir string, log *slog.Logger) (*FileBackend, error) {
	sessionDir := filepath.Join(baseDir, "sessions")
	if err := os.MkdirAll(sessionDir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create sessions directory: %w", err)
	}

	return &FileBackend{
		baseDir:     baseDir,
		sessionDir:  sessionDir,
		log:         log,
		locationURI: fmt.Sprintf("file://%s", baseDir),
	}, nil
}

// Load reads the attachment for sessionID.
func (b *FileBackend) Load(ctx context.Context, sessionID string) (*interfaces.Attachment, error) {
	filePath := b.getFilePath(sessionID)

	data, err := os.ReadFile(filePath)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, interfaces.ErrAttachmentNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read attachment: %w", err)
	}

	b.log.Debug("Loaded attachment from file",
		slog.String("path", filePath),
		slog.String("sessionID", sessionID))

	return decodeAttachment(data, sessionID)
}

// Save writes the attachment atomically via a temporary file and rename.
func (b *FileBackend) Save(ctx context.Context, attachment *interfaces.Attachment) error {
	data, err := encodeAttachment(attachment)
	if err != nil {
		return err
	}

	filePath := b.getFilePath(attachment.SessionID)
	tmp, err := os.CreateTemp(b.sessionDir, ".attachment-*")
	if err != nil {
		return fmt.Errorf("failed to create temporary file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write attachment: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to write attachment: %w", err)
	}
	if err := os.Rename(tmp.Name(), filePath); err != nil {
		return fmt.Errorf("failed to store attachment: %w", err)
	}

	b.log.Debug("Stored attachment in file",
		slog.String("path", filePath),
		slog.String("sessionID", attachment.SessionID))

	return nil
}

// Delete removes the attachment file if present.
func (b *FileBackend) Delete(ctx context.Context, sessionID string) error {
	err := os.Remove(b.getFilePath(sessionID))
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to delete attachment: %w", err)
	}
	return nil
}

// Available checks that the sessions directory still exists.
func (b *FileBackend) Available(ctx context.Context) bool {
	_, err := os.Stat(b.sessionDir)
	if err != nil {
		b.log.Debug("File backend unavailable", "err", err)
		return false
	}
	return true
}

// Name returns a unique identifier for this storage backend.
func (b *FileBackend) Name() string {
	return fmt.Sprintf("file-%s", filepath.Base(b.baseDir))
}

// LocationURI returns the URI that identifies this storage backend.
func (b *FileBackend) LocationURI() string {
	return b.locationURI
}

func (b *FileBackend) getFilePath(sessionID string) string {
	return filepath.Join(b.sessionDir, attachmentKey(sessionID)+".json")
}
