package interfaces

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrAttachmentNotFound is returned when no attachment exists for a session id.
	ErrAttachmentNotFound = errors.New("attachment not found")

	// ErrBackendUnavailable is returned when the attachment store cannot be reached.
	ErrBackendUnavailable = errors.New("attachment backend unavailable")

	// ErrInvalidLocationURI is returned for malformed attachment store URIs.
	ErrInvalidLocationURI = errors.New("invalid attachment store location URI")
)

// Role labels the participant on a session. It only affects logging.
type Role string

const (
	RoleSender   Role = "sender"
	RoleReceiver Role = "receiver"
)

// DefaultRole is assigned when the client does not name one.
const DefaultRole = RoleSender

// Attachment is the durable part of a key-delivery session: identity and
// counters. It must never carry key material.
type Attachment struct {
	SessionID       string    `json:"session_id"`
	Role            Role      `json:"role"`
	ChunksGenerated int64     `json:"chunks_generated"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// AttachmentStore persists session attachments so a suspended session can be
// resumed with its identity and counters intact.
type AttachmentStore interface {
	// Load returns the attachment for sessionID or ErrAttachmentNotFound.
	Load(ctx context.Context, sessionID string) (*Attachment, error)

	// Save creates or replaces the attachment.
	Save(ctx context.Context, attachment *Attachment) error

	// Delete removes the attachment. Deleting a missing attachment is not an error.
	Delete(ctx context.Context, sessionID string) error

	// Available reports whether the backend is reachable.
	Available(ctx context.Context) bool

	// Name returns a short identifier for logs.
	Name() string

	// LocationURI returns the URI the store was created from.
	LocationURI() string
}
