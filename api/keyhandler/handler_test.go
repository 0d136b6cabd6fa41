package keyhandler

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/ruteri/keystream/api"
	"github.com/ruteri/keystream/keygen"
	"github.com/ruteri/keystream/pacing"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testChunkSize = 64

// failAfterSource succeeds n times and then fails.
type failAfterSource struct {
	n int
}

func (f *failAfterSource) Fill(p []byte) error {
	if f.n == 0 {
		return errors.New("rng offline")
	}
	f.n--
	return keygen.SystemSource{}.Fill(p)
}

func newTestRouter(source keygen.Source, chunkSize int, maxChunks int64) http.Handler {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	pacer := pacing.NewController(keygen.NewGeneratorWithSize(source, chunkSize), pacing.DefaultCadence)
	handler := NewHandler(pacer, maxChunks, nil, logger)

	mux := chi.NewRouter()
	mux.Use(CORS)
	handler.RegisterRoutes(mux)
	mux.NotFound(HandleNotFound)
	return mux
}

func serve(t *testing.T, h http.Handler, method, path string) (*http.Response, []byte) {
	t.Helper()
	req := httptest.NewRequest(method, path, nil)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)

	resp := w.Result()
	t.Cleanup(func() { resp.Body.Close() })
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, body
}

func TestHandleKey_TwoChunks(t *testing.T) {
	router := newTestRouter(nil, keygen.ChunkSize, pacing.MaxBulkChunks)

	resp, body := serve(t, router, http.MethodGet, "/key/2")

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Len(t, body, 32768)
	assert.Equal(t, "application/octet-stream", resp.Header.Get("Content-Type"))
	assert.Equal(t, "no-store", resp.Header.Get("Cache-Control"))
	assert.Equal(t, "*", resp.Header.Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "2", resp.Header.Get(api.HeaderChunkCount))
	assert.Equal(t, "16384", resp.Header.Get(api.HeaderChunkSize))
	assert.Equal(t, "32768", resp.Header.Get("Content-Length"))

	assert.False(t, bytes.Equal(body[:keygen.ChunkSize], body[keygen.ChunkSize:]))
	assert.False(t, bytes.Equal(body[:keygen.ChunkSize], make([]byte, keygen.ChunkSize)))
}

func TestHandleKey_ResponsesAreDistinct(t *testing.T) {
	router := newTestRouter(nil, testChunkSize, pacing.MaxBulkChunks)

	_, first := serve(t, router, http.MethodGet, "/key/4")
	_, second := serve(t, router, http.MethodGet, "/key/4")
	assert.Len(t, first, 4*testChunkSize)
	assert.NotEqual(t, first, second)
}

func TestHandleKey_Counts(t *testing.T) {
	tests := []struct {
		name      string
		path      string
		wantCount int64
	}{
		{"plain", "/key/7", 7},
		{"clamped", "/key/5000", 10},
		{"overflow", "/key/99999999999999999999999", 1},
		{"zero", "/key/0", 0},
		{"not a number", "/key/abc", 1},
		{"negative", "/key/-5", 1},
		{"fraction", "/key/2.5", 1},
		{"empty", "/key/", 1},
	}

	router := newTestRouter(nil, testChunkSize, 10)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, body := serve(t, router, http.MethodGet, tt.path)
			require.Equal(t, http.StatusOK, resp.StatusCode)
			assert.Equal(t, strconv.FormatInt(tt.wantCount, 10), resp.Header.Get(api.HeaderChunkCount))
			assert.Len(t, body, int(tt.wantCount)*testChunkSize)
		})
	}
}

func TestHandleKey_ClampIsIdempotent(t *testing.T) {
	router := newTestRouter(nil, testChunkSize, 10)

	resp1, body1 := serve(t, router, http.MethodGet, "/key/100000")
	resp2, body2 := serve(t, router, http.MethodGet, "/key/10")
	assert.Equal(t, resp1.Header.Get(api.HeaderChunkCount), resp2.Header.Get(api.HeaderChunkCount))
	assert.Equal(t, len(body1), len(body2))
}

func TestHandleKey_EntropyFailureBeforeFirstChunk(t *testing.T) {
	router := newTestRouter(&failAfterSource{n: 0}, testChunkSize, pacing.MaxBulkChunks)

	resp, body := serve(t, router, http.MethodGet, "/key/3")

	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
	assert.Equal(t, api.ErrBodyGenerationFailed+"\n", string(body))
	assert.Equal(t, "*", resp.Header.Get("Access-Control-Allow-Origin"))
	assert.Empty(t, resp.Header.Get(api.HeaderChunkCount))
}

func TestHandleKey_EntropyFailureTruncatesBody(t *testing.T) {
	router := newTestRouter(&failAfterSource{n: 2}, testChunkSize, pacing.MaxBulkChunks)

	resp, body := serve(t, router, http.MethodGet, "/key/5")

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, strconv.Itoa(5*testChunkSize), resp.Header.Get("Content-Length"))
	assert.Len(t, body, 2*testChunkSize)
}

func TestCORSPreflight(t *testing.T) {
	router := newTestRouter(nil, testChunkSize, pacing.MaxBulkChunks)

	for _, path := range []string{"/key/3", "/anything", "/session/abc"} {
		resp, body := serve(t, router, http.MethodOptions, path)
		assert.Equal(t, http.StatusOK, resp.StatusCode, path)
		assert.Empty(t, body, path)
		assert.Equal(t, "*", resp.Header.Get("Access-Control-Allow-Origin"))
		assert.Equal(t, "GET, OPTIONS", resp.Header.Get("Access-Control-Allow-Methods"))
		assert.Equal(t, "Content-Type", resp.Header.Get("Access-Control-Allow-Headers"))
	}
}

func TestNotFound(t *testing.T) {
	router := newTestRouter(nil, testChunkSize, pacing.MaxBulkChunks)

	resp, body := serve(t, router, http.MethodGet, "/nope")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, "Not Found\n", string(body))
	assert.Equal(t, "*", resp.Header.Get("Access-Control-Allow-Origin"))
}

func TestHandleHealth(t *testing.T) {
	router := newTestRouter(nil, testChunkSize, pacing.MaxBulkChunks)

	resp, body := serve(t, router, http.MethodGet, "/health")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "keystream OK", string(body))
	assert.Equal(t, "*", resp.Header.Get("Access-Control-Allow-Origin"))
}

func TestKeyProvider(t *testing.T) {
	srv := httptest.NewServer(newTestRouter(nil, testChunkSize, 10))
	defer srv.Close()

	provider := &KeyProvider{Client: srv.Client()}

	key, err := provider.Key(context.Background(), srv.URL, 3)
	require.NoError(t, err)
	assert.Equal(t, int64(3), key.ChunkCount)
	assert.Equal(t, int64(testChunkSize), key.ChunkSize)
	assert.Len(t, key.Data, 3*testChunkSize)
	assert.NotEqual(t, key.Chunk(0), key.Chunk(2))

	clamped, err := provider.Key(context.Background(), srv.URL, 50)
	require.NoError(t, err)
	assert.Equal(t, int64(10), clamped.ChunkCount)

	assert.NoError(t, provider.Health(context.Background(), srv.URL))
}

func TestKeyProvider_ShortBody(t *testing.T) {
	srv := httptest.NewServer(newTestRouter(&failAfterSource{n: 1}, testChunkSize, 10))
	defer srv.Close()

	_, err := DefaultKeyProvider.Key(context.Background(), srv.URL, 4)
	assert.ErrorIs(t, err, ErrShortKey)
}

func TestKeyProvider_ServerError(t *testing.T) {
	srv := httptest.NewServer(newTestRouter(&failAfterSource{n: 0}, testChunkSize, 10))
	defer srv.Close()

	_, err := DefaultKeyProvider.Key(context.Background(), srv.URL, 4)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "500")
	assert.Contains(t, err.Error(), api.ErrBodyGenerationFailed)
}
