// Package metrics exposes Prometheus counters for key delivery and serves
// them on a dedicated listener, separate from the public API.
//
// Counters only ever describe volumes and outcomes; nothing derived from key
// material is exported. All recording methods are safe on a nil *Metrics so
// components can run without instrumentation in tests.
package metrics

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Delivery modes used as label values.
const (
	ModeBulk    = "bulk"
	ModeStream  = "stream"
	ModeSession = "session"
)

// Metrics holds the service collectors.
type Metrics struct {
	registry *prometheus.Registry

	sessionsActive     prometheus.Gauge
	sessionsTotal      *prometheus.CounterVec
	chunksTotal        *prometheus.CounterVec
	entropyFailures    prometheus.Counter
	bulkRequests       prometheus.Counter
	protocolViolations prometheus.Counter
}

// NewMetrics registers all collectors in a fresh registry under namespace.
func NewMetrics(namespace string) *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		sessionsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "sessions_active",
			Help:      "Streaming sessions currently attached to a connection.",
		}),
		sessionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_total",
			Help:      "Streaming sessions opened, by mode.",
		}, []string{"mode"}),
		chunksTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "chunks_total",
			Help:      "Key chunks transmitted, by delivery mode.",
		}, []string{"mode"}),
		entropyFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "entropy_failures_total",
			Help:      "Requests aborted because the random source failed.",
		}),
		bulkRequests: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bulk_requests_total",
			Help:      "Bulk key requests served.",
		}),
		protocolViolations: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "protocol_violations_total",
			Help:      "Malformed or unknown client control messages.",
		}),
	}

	m.registry.MustRegister(
		m.sessionsActive,
		m.sessionsTotal,
		m.chunksTotal,
		m.entropyFailures,
		m.bulkRequests,
		m.protocolViolations,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Registry returns the underlying Prometheus registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

func (m *Metrics) SessionOpened(mode string) {
	if m == nil {
		return
	}
	m.sessionsActive.Inc()
	m.sessionsTotal.WithLabelValues(mode).Inc()
}

func (m *Metrics) SessionClosed() {
	if m == nil {
		return
	}
	m.sessionsActive.Dec()
}

func (m *Metrics) ChunksSent(mode string, n int64) {
	if m == nil || n <= 0 {
		return
	}
	m.chunksTotal.WithLabelValues(mode).Add(float64(n))
}

func (m *Metrics) EntropyFailure() {
	if m == nil {
		return
	}
	m.entropyFailures.Inc()
}

func (m *Metrics) BulkRequest() {
	if m == nil {
		return
	}
	m.bulkRequests.Inc()
}

func (m *Metrics) ProtocolViolation() {
	if m == nil {
		return
	}
	m.protocolViolations.Inc()
}

// MetricsServer serves /metrics on its own address.
type MetricsServer struct {
	metrics *Metrics
	srv     *http.Server
}

// New creates the metrics collectors and the server exposing them on addr.
func New(namespace, addr string) (*MetricsServer, error) {
	m := NewMetrics(namespace)

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{}))

	return &MetricsServer{
		metrics: m,
		srv: &http.Server{
			Addr:              addr,
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		},
	}, nil
}

// Metrics returns the collectors served by this server.
func (s *MetricsServer) Metrics() *Metrics {
	return s.metrics
}

// Handler returns the HTTP handler serving /metrics.
func (s *MetricsServer) Handler() http.Handler {
	return s.srv.Handler
}

func (s *MetricsServer) ListenAndServe() error {
	return s.srv.ListenAndServe()
}

func (s *MetricsServer) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}
