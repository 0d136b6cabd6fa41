package streamhandler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/ruteri/keystream/api"
	"github.com/ruteri/keystream/interfaces"
	"github.com/ruteri/keystream/metrics"
	"github.com/ruteri/keystream/session"
)

// MaxControlMessageSize is the read limit for inbound frames. Clients only
// send small control messages.
const MaxControlMessageSize = 4096

// Close code used when a session could not be set up after the upgrade.
const closeInternalError = 1011

// Config configures the websocket transport.
type Config struct {
	// Session is used for stateless streams; the registry carries its own.
	Session *session.Config

	// WriteTimeout bounds every frame write. Zero disables the deadline.
	WriteTimeout time.Duration

	// PingInterval enables keepalive pings. A connection that stays silent
	// for two intervals is dropped. Zero disables keepalive.
	PingInterval time.Duration
}

// Handler upgrades HTTP requests to websocket connections and runs a key
// delivery session on each of them.
type Handler struct {
	cfg      *Config
	registry *session.Registry
	upgrader websocket.Upgrader
	metrics  *metrics.Metrics
	log      *slog.Logger

	// baseCtx is cancelled by Close to stop every running session.
	baseCtx context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// NewHandler creates a websocket handler. registry serves /session routes.
func NewHandler(cfg *Config, registry *session.Registry, log *slog.Logger) *Handler {
	ctx, cancel := context.WithCancel(context.Background())
	return &Handler{
		cfg:      cfg,
		registry: registry,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  MaxControlMessageSize,
			WriteBufferSize: 32 * 1024,
			// Key material is useless without the keyA half held by the
			// client, any origin may connect.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		metrics: cfg.Session.Metrics,
		log:     log,
		baseCtx: ctx,
		cancel:  cancel,
	}
}

func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/stream", h.HandleStream)
	r.Get("/session/{session_id}", h.HandleSession)
}

// Close cancels all running sessions and waits for them to finish. Session
// scoped connections are suspended, not ended, so clients can resume them on
// another instance sharing the attachment store.
func (h *Handler) Close() {
	h.cancel()
	h.wg.Wait()
}

// HandleStream serves a stateless stream: binary chunk frames, no connected
// message, nothing persisted.
//
// URL format: GET /stream (websocket upgrade required)
func (h *Handler) HandleStream(w http.ResponseWriter, r *http.Request) {
	if !websocket.IsWebSocketUpgrade(r) {
		http.Error(w, api.ErrBodyWebSocketRequired, http.StatusBadRequest)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Debug("WebSocket upgrade failed", "err", err)
		return
	}
	transport := newConnTransport(conn, h.cfg.WriteTimeout)

	attachment := interfaces.Attachment{
		SessionID: uuid.NewString(),
		Role:      interfaces.DefaultRole,
		UpdatedAt: time.Now().UTC(),
	}
	s := session.New(h.cfg.Session, session.ModeStateless, attachment, transport, nil)

	h.metrics.SessionOpened(metrics.ModeStream)
	defer h.metrics.SessionClosed()

	h.serve(r.Context(), conn, s)
}

// HandleSession serves a resumable session identified by the client.
//
// URL format: GET /session/{session_id}?role=sender|receiver
// The role defaults to sender for new sessions; a resumed session keeps the
// role it was created with.
func (h *Handler) HandleSession(w http.ResponseWriter, r *http.Request) {
	if !websocket.IsWebSocketUpgrade(r) {
		http.Error(w, api.ErrBodyWebSocketRequired, http.StatusBadRequest)
		return
	}

	id := r.PathValue("session_id")
	if err := session.ValidateSessionID(id); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	var role interfaces.Role
	if param := r.URL.Query().Get("role"); param != "" {
		var err error
		role, err = session.ParseRole(param)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Debug("WebSocket upgrade failed", "sessionID", id, "err", err)
		return
	}
	transport := newConnTransport(conn, h.cfg.WriteTimeout)

	s, err := h.registry.Open(r.Context(), id, role, transport)
	if err != nil {
		h.log.Error("Could not open session", "sessionID", id, "err", err)
		transport.Close(closeInternalError, "could not open session")
		return
	}

	h.serve(r.Context(), conn, s)
}

// serve runs s on the calling goroutine and feeds it from a reader goroutine.
func (h *Handler) serve(reqCtx context.Context, conn *websocket.Conn, s *session.Session) {
	h.wg.Add(1)
	defer h.wg.Done()

	ctx, cancel := context.WithCancel(reqCtx)
	defer cancel()
	stop := context.AfterFunc(h.baseCtx, cancel)
	defer stop()

	conn.SetReadLimit(MaxControlMessageSize)
	h.startKeepalive(ctx, conn)

	go h.readLoop(conn, s)
	s.Run(ctx)
}

func (h *Handler) readLoop(conn *websocket.Conn, s *session.Session) {
	defer s.Disconnect()

	for {
		messageType, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseNoStatusReceived) {
				h.log.Debug("WebSocket read failed", "sessionID", s.ID(), "err", err)
			}
			return
		}
		if messageType != websocket.TextMessage {
			continue
		}
		if err := s.Deliver(data); err != nil {
			if !errors.Is(err, session.ErrSessionClosed) {
				h.log.Debug("Could not deliver message", "sessionID", s.ID(), "err", err)
			}
			return
		}
	}
}

// startKeepalive pings the client every PingInterval and drops connections
// that stop answering. Without an interval it clears the read deadline the
// HTTP server may have set before the upgrade.
func (h *Handler) startKeepalive(ctx context.Context, conn *websocket.Conn) {
	interval := h.cfg.PingInterval
	if interval <= 0 {
		conn.SetReadDeadline(time.Time{})
		return
	}

	wait := 2 * interval
	conn.SetReadDeadline(time.Now().Add(wait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(wait))
	})

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(interval)); err != nil {
					return
				}
			}
		}
	}()
}
