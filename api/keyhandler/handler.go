package keyhandler

import (
	"errors"
	"log/slog"
	"math"
	"net/http"
	"strconv"

	"github.com/dustin/go-humanize"
	"github.com/go-chi/chi/v5"
	"github.com/ruteri/keystream/api"
	"github.com/ruteri/keystream/keygen"
	"github.com/ruteri/keystream/metrics"
	"github.com/ruteri/keystream/pacing"
)

// Handler serves bulk key material over plain HTTP.
//
// A bulk response is produced by the same pacing controller the websocket
// transport uses: every chunk is generated into a locked buffer, written to
// the response and wiped before the next one. The full payload is never held
// in memory.
type Handler struct {
	pacer     *pacing.Controller
	maxChunks int64
	metrics   *metrics.Metrics
	log       *slog.Logger
}

// NewHandler creates a bulk handler. maxChunks caps the count of a single
// request; oversized requests are clamped.
func NewHandler(pacer *pacing.Controller, maxChunks int64, m *metrics.Metrics, log *slog.Logger) *Handler {
	return &Handler{
		pacer:     pacer,
		maxChunks: maxChunks,
		metrics:   m,
		log:       log,
	}
}

func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/key/{count}", h.HandleKey)
	r.Get("/key/", h.HandleKey)
	r.Get("/health", h.HandleHealth)
}

// CORS adds Access-Control-Allow-Origin to every response and answers any
// OPTIONS request as a preflight. It only sets headers and never wraps the
// ResponseWriter, so websocket upgrades pass through.
func CORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		if r.Method == http.MethodOptions {
			w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// HandleNotFound is the catch-all for unknown paths.
func HandleNotFound(w http.ResponseWriter, r *http.Request) {
	http.Error(w, api.ErrBodyNotFound, http.StatusNotFound)
}

// HandleHealth reports liveness in the plain text format clients expect.
func (h *Handler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(api.HealthBody))
}

// HandleKey returns count chunks of fresh random bytes.
//
// URL format: GET /key/{count}
// A count that is not a non-negative integer is treated as 1. Counts above
// the configured maximum are clamped.
//
// Response headers: Content-Type application/octet-stream, Cache-Control
// no-store, X-Chunk-Count, X-Chunk-Size and Content-Length. If the random
// source fails before the first chunk the response is 500 "Random generation
// failed"; a failure later truncates the body, which clients detect through
// Content-Length.
func (h *Handler) HandleKey(w http.ResponseWriter, r *http.Request) {
	requested := ParseCount(r.PathValue("count"))
	count := pacing.Clamp(requested, h.maxChunks)
	h.metrics.BulkRequest()

	sink := &responseSink{
		w:         w,
		r:         r,
		count:     count,
		chunkSize: int64(h.pacer.ChunkSize()),
	}
	sent, err := h.pacer.Run(r.Context(), count, sink)
	h.metrics.ChunksSent(metrics.ModeBulk, sent)

	switch {
	case err == nil:
		sink.writeHeader()
		h.log.Debug("Served bulk key",
			"requested", requested,
			"count", count,
			"size", humanize.IBytes(uint64(count)*uint64(sink.chunkSize)))

	case errors.Is(err, keygen.ErrEntropyUnavailable):
		h.metrics.EntropyFailure()
		h.log.Error("Key generation failed", "err", err, "sent", sent, "count", count)
		if !sink.wroteHeader {
			http.Error(w, api.ErrBodyGenerationFailed, http.StatusInternalServerError)
		}

	default:
		h.log.Debug("Bulk key delivery interrupted", "err", err, "sent", sent, "count", count)
	}
}

// ParseCount parses the {count} path segment. Anything that is not a
// non-negative integer fitting in 64 bits counts as a request for one chunk.
// The result is not clamped.
func ParseCount(s string) int64 {
	n, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return 1
	}
	if n > math.MaxInt64 {
		return math.MaxInt64
	}
	return int64(n)
}

// responseSink writes chunks straight into the HTTP response. Headers are
// sent together with the first chunk so that a failure to generate it can
// still become a 500.
type responseSink struct {
	w           http.ResponseWriter
	r           *http.Request
	count       int64
	chunkSize   int64
	wroteHeader bool
}

func (s *responseSink) writeHeader() {
	if s.wroteHeader {
		return
	}
	s.wroteHeader = true

	header := s.w.Header()
	header.Set("Content-Type", "application/octet-stream")
	header.Set("Cache-Control", "no-store")
	header.Set("Content-Length", strconv.FormatInt(s.count*s.chunkSize, 10))
	header.Set(api.HeaderChunkCount, strconv.FormatInt(s.count, 10))
	header.Set(api.HeaderChunkSize, strconv.FormatInt(s.chunkSize, 10))
	s.w.WriteHeader(http.StatusOK)
}

func (s *responseSink) Yield() error {
	return s.r.Context().Err()
}

func (s *responseSink) Chunk(index int64, chunk []byte) error {
	s.writeHeader()
	_, err := s.w.Write(chunk)
	return err
}

// Progress flushes the response at every cadence boundary so clients see a
// steady stream instead of one burst per buffer fill.
func (s *responseSink) Progress(current, total int64) error {
	if f, ok := s.w.(http.Flusher); ok {
		f.Flush()
	}
	return nil
}
