package httpserver

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/flashbots/go-utils/httplogger"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/ruteri/keystream/api"
	"github.com/ruteri/keystream/api/keyhandler"
	"github.com/ruteri/keystream/api/streamhandler"
	"github.com/ruteri/keystream/common"
	"github.com/ruteri/keystream/interfaces"
	"github.com/ruteri/keystream/keygen"
	"github.com/ruteri/keystream/metrics"
	"github.com/ruteri/keystream/pacing"
	"github.com/ruteri/keystream/session"
	"go.uber.org/atomic"
)

// janitorInterval is how often suspended sessions are checked for expiry.
const janitorInterval = time.Minute

type Server struct {
	cfg     *api.HTTPServerConfig
	keyCfg  *api.KeyServiceConfig
	isReady atomic.Bool
	log     *slog.Logger

	srv        *http.Server
	metricsSrv *metrics.MetricsServer

	store    interfaces.AttachmentStore
	registry *session.Registry
	keys     *keyhandler.Handler
	streams  *streamhandler.Handler

	stopJanitor context.CancelFunc
}

// New wires the key service: entropy source, pacing controller, session
// registry backed by store, and both transports.
func New(cfg *api.HTTPServerConfig, keyCfg *api.KeyServiceConfig, store interfaces.AttachmentStore) (srv *Server, err error) {
	metricsSrv, err := metrics.New(common.PackageName, cfg.MetricsAddr)
	if err != nil {
		return nil, err
	}

	source, err := keygen.NewSource(keyCfg.EntropySource)
	if err != nil {
		return nil, err
	}

	cadence := keyCfg.ProgressEvery
	if cadence <= 0 {
		cadence = pacing.DefaultCadence
	}
	pacer := pacing.NewController(keygen.NewGenerator(source), cadence)

	sessionCfg := &session.Config{
		Pacer:          pacer,
		MaxChunks:      keyCfg.MaxStreamChunks,
		StrictProtocol: keyCfg.StrictProtocol,
		Log:            cfg.Log,
		Metrics:        metricsSrv.Metrics(),
	}
	registry := session.NewRegistry(sessionCfg, store)

	srv = &Server{
		cfg:        cfg,
		keyCfg:     keyCfg,
		log:        cfg.Log,
		srv:        nil,
		metricsSrv: metricsSrv,
		store:      store,
		registry:   registry,
		keys:       keyhandler.NewHandler(pacer, keyCfg.MaxBulkChunks, metricsSrv.Metrics(), cfg.Log),
		streams: streamhandler.NewHandler(&streamhandler.Config{
			Session:      sessionCfg,
			WriteTimeout: keyCfg.StreamWriteTimeout,
			PingInterval: keyCfg.StreamPingInterval,
		}, registry, cfg.Log),
	}
	srv.isReady.Store(true)

	srv.srv = &http.Server{
		Addr:    cfg.ListenAddr,
		Handler: srv.getRouter(),
		// ReadTimeout would also cut off hijacked websocket connections.
		ReadHeaderTimeout: cfg.ReadTimeout,
		WriteTimeout:      cfg.WriteTimeout,
	}

	cfg.Log.Info("Key service configured",
		"entropySource", keyCfg.EntropySource,
		"attachmentStore", store.Name(),
		"maxBulkChunks", keyCfg.MaxBulkChunks,
		"maxStreamChunks", keyCfg.MaxStreamChunks,
		"progressEvery", cadence,
		"strictProtocol", keyCfg.StrictProtocol)

	return srv, nil
}

func (srv *Server) getRouter() http.Handler {
	mux := chi.NewRouter()
	mux.Use(keyhandler.CORS)
	mux.NotFound(keyhandler.HandleNotFound)

	mux.Group(func(r chi.Router) {
		r.Use(srv.httpLogger)
		srv.keys.RegisterRoutes(r)

		// Health and diagnostic endpoints
		r.Get("/livez", srv.handleLivenessCheck)
		r.Get("/readyz", srv.handleReadinessCheck)
		r.Get("/drain", srv.handleDrain)
		r.Get("/undrain", srv.handleUndrain)
	})

	// The access log middleware wraps the ResponseWriter in a way that
	// cannot be hijacked, websocket routes go without it.
	srv.streams.RegisterRoutes(mux)

	if srv.cfg.EnablePprof {
		srv.log.Info("pprof API enabled")
		mux.Mount("/debug", middleware.Profiler())
	}
	return mux
}

func (srv *Server) httpLogger(next http.Handler) http.Handler {
	return httplogger.LoggingMiddlewareSlog(srv.log, next)
}

// Handler returns the API router, mainly for tests.
func (srv *Server) Handler() http.Handler {
	return srv.srv.Handler
}

// Registry returns the session registry.
func (srv *Server) Registry() *session.Registry {
	return srv.registry
}

func (srv *Server) handleLivenessCheck(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(`{"status":"alive"}`))
}

func (srv *Server) handleReadinessCheck(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	if !srv.isReady.Load() {
		w.WriteHeader(http.StatusServiceUnavailable)
		w.Write([]byte(`{"status":"not ready"}`))
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()
	if !srv.store.Available(ctx) {
		w.WriteHeader(http.StatusServiceUnavailable)
		w.Write([]byte(`{"status":"attachment store unavailable"}`))
		return
	}

	w.WriteHeader(http.StatusOK)
	fmt.Fprintf(w, `{"status":"ready","sessions":%d}`, srv.registry.Active())
}

func (srv *Server) handleDrain(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	if !srv.isReady.Swap(false) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"already draining"}`))
		return
	}

	srv.log.Info("Server marked as not ready", "activeSessions", srv.registry.Active())

	w.WriteHeader(http.StatusOK)
	w.Write([]byte(`{"status":"draining"}`))
}

func (srv *Server) handleUndrain(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	if srv.isReady.Swap(true) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"already ready"}`))
		return
	}

	srv.log.Info("Server marked as ready")

	w.WriteHeader(http.StatusOK)
	w.Write([]byte(`{"status":"ready"}`))
}

func (srv *Server) RunInBackground() {
	// metrics
	if srv.cfg.MetricsAddr != "" {
		go func() {
			srv.log.With("metricsAddress", srv.cfg.MetricsAddr).Info("Starting metrics server")
			err := srv.metricsSrv.ListenAndServe()
			if err != nil && !errors.Is(err, http.ErrServerClosed) {
				srv.log.Error("HTTP server failed", "err", err)
			}
		}()
	}

	// suspended session expiry
	ctx, cancel := context.WithCancel(context.Background())
	srv.stopJanitor = cancel
	if srv.keyCfg.AttachmentTTL > 0 {
		go srv.registry.Janitor(ctx, srv.keyCfg.AttachmentTTL, janitorInterval)
	}

	// api
	go func() {
		srv.log.Info("Starting HTTP server", "listenAddress", srv.cfg.ListenAddr)
		if err := srv.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			srv.log.Error("HTTP server failed", "err", err)
		}
	}()
}

// Shutdown marks the server not ready, waits DrainDuration, stops accepting
// requests and finally suspends all websocket sessions.
func (srv *Server) Shutdown() {
	if srv.isReady.Swap(false) && srv.cfg.DrainDuration > 0 {
		srv.log.Info("Draining before shutdown", "duration", srv.cfg.DrainDuration)
		time.Sleep(srv.cfg.DrainDuration)
	}

	// api
	ctx, cancel := context.WithTimeout(context.Background(), srv.cfg.GracefulShutdownDuration)
	defer cancel()
	if err := srv.srv.Shutdown(ctx); err != nil {
		srv.log.Error("Graceful HTTP server shutdown failed", "err", err)
	} else {
		srv.log.Info("HTTP server gracefully stopped")
	}

	// websocket sessions are hijacked and not covered by http.Server.Shutdown
	srv.streams.Close()
	srv.log.Info("Websocket sessions suspended", "stats", srv.registry.Stats())

	if srv.stopJanitor != nil {
		srv.stopJanitor()
	}

	// metrics
	if len(srv.cfg.MetricsAddr) != 0 {
		ctx, cancel := context.WithTimeout(context.Background(), srv.cfg.GracefulShutdownDuration)
		defer cancel()

		if err := srv.metricsSrv.Shutdown(ctx); err != nil {
			srv.log.Error("Graceful metrics server shutdown failed", "err", err)
		} else {
			srv.log.Info("Metrics server gracefully stopped")
		}
	}
}
