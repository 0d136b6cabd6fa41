package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/ruteri/keystream/interfaces"
	"github.com/ruteri/keystream/keygen"
	"github.com/ruteri/keystream/metrics"
	"github.com/ruteri/keystream/pacing"
	"github.com/ruteri/keystream/wire"
	"go.uber.org/atomic"
)

// State is the lifecycle state of a Session.
type State int32

const (
	// StateIdle means the session exists and no request is in flight.
	StateIdle State = iota

	// StateGenerating means a request_key transaction is being served.
	StateGenerating

	// StateClosed is terminal.
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateGenerating:
		return "generating"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Mode selects how chunks are framed.
type Mode int

const (
	// ModeSession frames chunks as base64 key_chunk JSON messages and
	// announces itself with a connected message.
	ModeSession Mode = iota

	// ModeStateless frames chunks as raw binary messages.
	ModeStateless
)

func (m Mode) metricsLabel() string {
	if m == ModeStateless {
		return metrics.ModeStream
	}
	return metrics.ModeSession
}

// Close codes and reasons used when the service ends a connection.
const (
	CloseNormal         = 1000
	CloseGoingAway      = 1001
	CloseServiceRestart = 1012

	ReasonSessionComplete = "session_complete"
	ReasonResumed         = "session resumed elsewhere"
	ReasonShutdown        = "server shutting down"
)

// Client facing error messages.
const (
	MsgGenerationFailed  = "Random generation failed"
	MsgRequestInProgress = "request already in progress"
)

var (
	// ErrSessionClosed is returned by Deliver after the session has closed.
	ErrSessionClosed = errors.New("session closed")

	errEndRequested = errors.New("end_session received")
	errDisconnected = errors.New("transport disconnected")
	errEvicted      = errors.New("session resumed elsewhere")
)

// Transport writes frames to the client. Write methods are only called from
// the goroutine running Session.Run; Close may be called from any goroutine
// and must be idempotent.
type Transport interface {
	WriteText(frame []byte) error
	WriteBinary(frame []byte) error
	Close(code int, reason string) error
}

// Config holds the dependencies shared by all sessions.
type Config struct {
	// Pacer drives chunk generation; it may be shared between sessions.
	Pacer *pacing.Controller

	// MaxChunks is the per-request ceiling; larger requests are clamped.
	MaxChunks int64

	// StrictProtocol answers malformed or unknown client messages with an
	// error message instead of ignoring them.
	StrictProtocol bool

	Log     *slog.Logger
	Metrics *metrics.Metrics
}

type inbound struct {
	msg wire.ClientMessage
	err error
}

// Session is the state machine for one key-delivery session bound to one
// connection. All protocol work happens on the goroutine executing Run; the
// connection reader feeds it through Deliver and Disconnect.
type Session struct {
	cfg       *Config
	mode      Mode
	transport Transport
	store     interfaces.AttachmentStore
	encoder   *wire.Encoder
	log       *slog.Logger

	mu         sync.Mutex
	attachment interfaces.Attachment

	state atomic.Int32

	events         chan inbound
	disconnected   chan struct{}
	disconnectOnce sync.Once
	evicted        chan struct{}
	evictOnce      sync.Once
	ended          bool

	ctx  context.Context
	done chan struct{}

	onClose func(*Session)
}

// New creates a session for attachment. store may be nil, in which case the
// attachment is never persisted (stateless streaming).
func New(cfg *Config, mode Mode, attachment interfaces.Attachment, transport Transport, store interfaces.AttachmentStore) *Session {
	log := cfg.Log
	if log == nil {
		log = slog.Default()
	}
	return &Session{
		cfg:          cfg,
		mode:         mode,
		transport:    transport,
		store:        store,
		encoder:      wire.NewEncoder(cfg.Pacer.ChunkSize()),
		log:          log.With("sessionID", attachment.SessionID, "role", string(attachment.Role)),
		attachment:   attachment,
		events:       make(chan inbound, 16),
		disconnected: make(chan struct{}),
		evicted:      make(chan struct{}),
		done:         make(chan struct{}),
	}
}

// ID returns the session id.
func (s *Session) ID() string {
	return s.attachment.SessionID
}

// Role returns the role label.
func (s *Session) Role() interfaces.Role {
	return s.attachment.Role
}

// State returns the current lifecycle state.
func (s *Session) State() State {
	return State(s.state.Load())
}

// Attachment returns a copy of the durable session data.
func (s *Session) Attachment() interfaces.Attachment {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.attachment
}

// ChunksGenerated returns the number of chunks emitted over the session's lifetime.
func (s *Session) ChunksGenerated() int64 {
	return s.Attachment().ChunksGenerated
}

// Done is closed once Run has returned and the attachment has been persisted
// or deleted.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// Deliver parses one inbound text frame and queues it for the session. Parse
// failures are queued too, so the session decides how to treat them. Deliver
// blocks while the queue is full, which throttles a client flooding control
// messages.
func (s *Session) Deliver(data []byte) error {
	msg, err := wire.ParseClientMessage(data)
	ev := inbound{msg: msg, err: err}

	select {
	case <-s.done:
		return ErrSessionClosed
	default:
	}

	select {
	case s.events <- ev:
		return nil
	case <-s.done:
		return ErrSessionClosed
	case <-s.disconnected:
		return ErrSessionClosed
	case <-s.evicted:
		return ErrSessionClosed
	}
}

// Disconnect reports that the underlying connection is gone. The session
// stops at the next chunk boundary and is suspended, not ended.
func (s *Session) Disconnect() {
	s.disconnectOnce.Do(func() {
		close(s.disconnected)
	})
}

// Evict stops the session because another connection took over its id.
func (s *Session) Evict() {
	s.evictOnce.Do(func() {
		close(s.evicted)
		_ = s.transport.Close(CloseServiceRestart, ReasonResumed)
	})
}

func (s *Session) isEvicted() bool {
	select {
	case <-s.evicted:
		return true
	default:
		return false
	}
}

// Run serves the session until the client ends it, the connection goes away,
// ctx is cancelled or the session is evicted. It must be called exactly once.
func (s *Session) Run(ctx context.Context) {
	s.ctx = ctx
	defer s.finish()

	if s.isEvicted() {
		return
	}

	s.state.Store(int32(StateIdle))
	s.log.Info("Session connected", "chunksGenerated", s.ChunksGenerated())

	if s.mode == ModeSession {
		if err := s.send(wire.Connected{SessionID: s.ID(), Role: string(s.Role())}); err != nil {
			s.log.Debug("Failed to send connected message", "err", err)
			return
		}
	}

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-s.disconnected:
			return
		case <-s.evicted:
			return
		case ev := <-s.events:
			if closed := s.handleIdle(ev); closed {
				return
			}
		}
	}
}

// handleIdle processes one event in StateIdle. It reports whether the session
// reached StateClosed.
func (s *Session) handleIdle(ev inbound) bool {
	if ev.err != nil {
		return s.protocolViolation(ev.err) != nil
	}

	switch msg := ev.msg.(type) {
	case wire.Ping:
		return s.send(wire.Pong{}) != nil
	case wire.EndSession:
		s.end()
		return true
	case wire.RequestKey:
		return s.serveRequest(msg.ChunkCount)
	default:
		s.log.Warn("Unhandled client message", "type", fmt.Sprintf("%T", ev.msg))
		return false
	}
}

// serveRequest runs one request_key transaction and reports whether the
// session closed during it.
func (s *Session) serveRequest(requested int64) bool {
	total := pacing.Clamp(requested, s.cfg.MaxChunks)
	s.state.Store(int32(StateGenerating))

	s.log.Debug("Generating key chunks",
		"requested", requested,
		"count", total,
		"size", humanize.IBytes(uint64(total)*uint64(s.cfg.Pacer.ChunkSize())))

	start := time.Now()
	sent, err := s.cfg.Pacer.Run(s.ctx, total, &sessionSink{s: s, total: total})

	s.mu.Lock()
	s.attachment.ChunksGenerated += sent
	s.mu.Unlock()
	s.cfg.Metrics.ChunksSent(s.mode.metricsLabel(), sent)

	switch {
	case err == nil:
		s.log.Info("Sent key chunks", "count", sent, "duration", time.Since(start))
		s.persist()
		s.state.Store(int32(StateIdle))
		return s.send(wire.SessionComplete{TotalChunks: total}) != nil

	case errors.Is(err, keygen.ErrEntropyUnavailable):
		s.log.Error("Key generation failed", "err", err, "sent", sent, "count", total)
		s.cfg.Metrics.EntropyFailure()
		s.persist()
		s.state.Store(int32(StateIdle))
		return s.send(wire.Error{Message: MsgGenerationFailed}) != nil

	case errors.Is(err, errEndRequested):
		s.log.Info("Session ended during generation", "sent", sent, "count", total)
		s.end()
		return true

	default:
		// Cancellation, disconnect or a failed write: the connection is
		// unusable, the session gets suspended by Run.
		s.log.Info("Key delivery interrupted", "reason", err, "sent", sent, "count", total)
		return true
	}
}

// end handles end_session: acknowledge, close normally, forget the session.
func (s *Session) end() {
	s.ended = true
	s.state.Store(int32(StateClosed))
	_ = s.send(wire.SessionComplete{TotalChunks: 0})
	_ = s.transport.Close(CloseNormal, ReasonSessionComplete)

	if s.store != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.store.Delete(ctx, s.ID()); err != nil {
			s.log.Warn("Failed to delete attachment", "err", err)
		}
	}
}

// persist saves the attachment so the session can be resumed.
func (s *Session) persist() {
	if s.store == nil {
		return
	}

	s.mu.Lock()
	s.attachment.UpdatedAt = time.Now().UTC()
	attachment := s.attachment
	s.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.store.Save(ctx, &attachment); err != nil {
		s.log.Warn("Failed to persist attachment", "err", err)
	}
}

func (s *Session) finish() {
	s.state.Store(int32(StateClosed))
	s.encoder.Wipe()

	if !s.ended {
		s.persist()

		switch {
		case s.isEvicted():
			// Evict already closed the transport.
		case s.ctx.Err() != nil:
			_ = s.transport.Close(CloseGoingAway, ReasonShutdown)
		default:
			_ = s.transport.Close(CloseGoingAway, "")
		}
		s.log.Info("Session suspended", "chunksGenerated", s.ChunksGenerated())
	} else {
		s.log.Info("Session ended", "chunksGenerated", s.ChunksGenerated())
	}

	if s.onClose != nil {
		s.onClose(s)
	}
	close(s.done)
}

func (s *Session) protocolViolation(err error) error {
	s.cfg.Metrics.ProtocolViolation()
	s.log.Debug("Ignoring invalid client message", "err", err)
	if !s.cfg.StrictProtocol {
		return nil
	}
	return s.send(wire.Error{Message: err.Error()})
}

func (s *Session) send(msg wire.ServerMessage) error {
	frame, err := wire.MarshalServerMessage(msg)
	if err != nil {
		return err
	}
	return s.transport.WriteText(frame)
}

// sessionSink adapts a Session to pacing.Sink.
type sessionSink struct {
	s     *Session
	total int64
}

// Yield handles control messages that arrived while generating. It never
// blocks: if nothing is queued generation continues immediately.
func (k *sessionSink) Yield() error {
	s := k.s
	for {
		select {
		case <-s.disconnected:
			return errDisconnected
		case <-s.evicted:
			return errEvicted
		case ev := <-s.events:
			if ev.err != nil {
				if err := s.protocolViolation(ev.err); err != nil {
					return err
				}
				continue
			}
			switch ev.msg.(type) {
			case wire.Ping:
				if err := s.send(wire.Pong{}); err != nil {
					return err
				}
			case wire.EndSession:
				return errEndRequested
			case wire.RequestKey:
				// One transaction at a time; a second request gets its own
				// terminal error and never interleaves indices.
				if err := s.send(wire.Error{Message: MsgRequestInProgress}); err != nil {
					return err
				}
			}
		default:
			return nil
		}
	}
}

func (k *sessionSink) Chunk(index int64, chunk []byte) error {
	s := k.s
	if s.mode == ModeStateless {
		return s.transport.WriteBinary(s.encoder.EncodeBinary(chunk))
	}

	frame := s.encoder.EncodeKeyChunk(index, chunk)
	err := s.transport.WriteText(frame)
	s.encoder.Wipe()
	return err
}

func (k *sessionSink) Progress(current, total int64) error {
	return k.s.send(wire.Progress{Current: current, Total: total})
}
