package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/ruteri/keystream/interfaces"
	"github.com/ruteri/keystream/metrics"
	"go.uber.org/atomic"
)

// MaxSessionIDLength bounds client supplied session ids.
const MaxSessionIDLength = 128

var (
	// ErrInvalidSessionID is returned for empty, oversized or non-printable ids.
	ErrInvalidSessionID = errors.New("invalid session id")

	// ErrInvalidRole is returned for role labels other than sender and receiver.
	ErrInvalidRole = errors.New("invalid role")
)

// ParseRole validates a role label. The empty string selects DefaultRole.
func ParseRole(role string) (interfaces.Role, error) {
	switch interfaces.Role(role) {
	case "":
		return interfaces.DefaultRole, nil
	case interfaces.RoleSender, interfaces.RoleReceiver:
		return interfaces.Role(role), nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidRole, role)
	}
}

// ValidateSessionID checks that id can be used as a registry key and in logs.
func ValidateSessionID(id string) error {
	if id == "" || len(id) > MaxSessionIDLength {
		return ErrInvalidSessionID
	}
	for _, r := range id {
		if r < 0x21 || r > 0x7e {
			return ErrInvalidSessionID
		}
	}
	return nil
}

// Registry maps session ids to live sessions and resumes suspended sessions
// from the attachment store. At most one live session exists per id: a new
// connection for a live id evicts the old one.
type Registry struct {
	cfg   *Config
	store interfaces.AttachmentStore
	log   *slog.Logger

	mu   sync.Mutex
	live map[string]*Session

	// loading holds ids whose attachment is being loaded; the channel is
	// closed once the id is registered or the load failed.
	loading map[string]chan struct{}

	// suspended tracks when sessions were last detached so the janitor can
	// expire their attachments.
	suspended map[string]time.Time

	opened  atomic.Int64
	resumed atomic.Int64
	evicted atomic.Int64
	expired atomic.Int64
}

// NewRegistry creates a registry persisting attachments in store.
func NewRegistry(cfg *Config, store interfaces.AttachmentStore) *Registry {
	log := cfg.Log
	if log == nil {
		log = slog.Default()
	}
	return &Registry{
		cfg:       cfg,
		store:     store,
		log:       log,
		live:      make(map[string]*Session),
		loading:   make(map[string]chan struct{}),
		suspended: make(map[string]time.Time),
	}
}

// Open binds transport to the session id, creating the session or resuming it
// from its stored attachment. role may be empty, in which case a resumed
// session keeps its stored role and a new one gets DefaultRole. The caller
// must call Run on the returned session.
func (r *Registry) Open(ctx context.Context, id string, role interfaces.Role, transport Transport) (*Session, error) {
	if err := ValidateSessionID(id); err != nil {
		return nil, err
	}

	loaded, err := r.reserve(ctx, id)
	if err != nil {
		return nil, err
	}

	// The store is accessed without r.mu so a slow backend only delays
	// this id.
	attachment, err := r.store.Load(ctx, id)
	switch {
	case err == nil:
		if role != "" && role != attachment.Role {
			r.log.Debug("Keeping stored role on resume", "sessionID", id, "stored", attachment.Role, "requested", role)
		}
		r.resumed.Inc()
	case errors.Is(err, interfaces.ErrAttachmentNotFound):
		if role == "" {
			role = interfaces.DefaultRole
		}
		attachment = &interfaces.Attachment{
			SessionID: id,
			Role:      role,
			UpdatedAt: time.Now().UTC(),
		}
		r.opened.Inc()
	default:
		r.mu.Lock()
		delete(r.loading, id)
		r.mu.Unlock()
		close(loaded)
		return nil, fmt.Errorf("could not load attachment for session %s: %w", id, err)
	}

	s := New(r.cfg, ModeSession, *attachment, transport, r.store)
	s.onClose = r.release

	r.mu.Lock()
	delete(r.loading, id)
	r.live[id] = s
	delete(r.suspended, id)
	r.mu.Unlock()
	close(loaded)

	r.cfg.Metrics.SessionOpened(metrics.ModeSession)
	return s, nil
}

// reserve evicts any live session for id, waits for concurrent opens of the
// same id, and marks id as loading. The returned channel must be closed once
// the open completes.
func (r *Registry) reserve(ctx context.Context, id string) (chan struct{}, error) {
	for {
		r.mu.Lock()
		if pending, isLoading := r.loading[id]; isLoading {
			r.mu.Unlock()
			select {
			case <-pending:
				continue
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}

		old, isLive := r.live[id]
		if !isLive {
			loaded := make(chan struct{})
			r.loading[id] = loaded
			delete(r.suspended, id)
			r.mu.Unlock()
			return loaded, nil
		}
		r.mu.Unlock()

		r.log.Info("Session taken over by new connection", "sessionID", id)
		r.evicted.Inc()
		old.Evict()

		select {
		case <-old.Done():
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// release is called by a session once it has finished.
func (r *Registry) release(s *Session) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.live[s.ID()] == s {
		delete(r.live, s.ID())
		if !s.ended {
			r.suspended[s.ID()] = time.Now()
		}
	}
	r.cfg.Metrics.SessionClosed()
}

// Lookup returns the live session for id.
func (r *Registry) Lookup(id string) (*Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.live[id]
	return s, ok
}

// Active returns the number of live sessions.
func (r *Registry) Active() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.live)
}

// Stats is a snapshot of registry counters.
type Stats struct {
	Active    int   `json:"active"`
	Suspended int   `json:"suspended"`
	Opened    int64 `json:"opened"`
	Resumed   int64 `json:"resumed"`
	Evicted   int64 `json:"evicted"`
	Expired   int64 `json:"expired"`
}

// Stats returns a snapshot of registry counters.
func (r *Registry) Stats() Stats {
	r.mu.Lock()
	active, suspended := len(r.live), len(r.suspended)
	r.mu.Unlock()

	return Stats{
		Active:    active,
		Suspended: suspended,
		Opened:    r.opened.Load(),
		Resumed:   r.resumed.Load(),
		Evicted:   r.evicted.Load(),
		Expired:   r.expired.Load(),
	}
}

// Expire deletes attachments of sessions suspended for longer than ttl and
// returns how many were removed. Only sessions suspended by this process are
// tracked; attachments left by a previous process stay until resumed and ended.
func (r *Registry) Expire(ctx context.Context, ttl time.Duration) int {
	cutoff := time.Now().Add(-ttl)

	r.mu.Lock()
	var stale []string
	for id, at := range r.suspended {
		if at.Before(cutoff) {
			stale = append(stale, id)
			delete(r.suspended, id)
		}
	}
	r.mu.Unlock()

	removed := 0
	for _, id := range stale {
		if err := r.store.Delete(ctx, id); err != nil {
			r.log.Warn("Failed to expire attachment", "sessionID", id, "err", err)
			continue
		}
		removed++
	}
	r.expired.Add(int64(removed))

	if removed > 0 {
		r.log.Info("Expired suspended sessions", "count", removed)
	}
	return removed
}

// Janitor runs Expire every interval until ctx is cancelled.
func (r *Registry) Janitor(ctx context.Context, ttl, interval time.Duration) {
	if ttl <= 0 || interval <= 0 {
		return
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.Expire(ctx, ttl)
		}
	}
}
