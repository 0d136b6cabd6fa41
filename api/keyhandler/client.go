package keyhandler

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/ruteri/keystream/api"
)

// ErrShortKey is returned when the service ended a bulk response before
// delivering every announced chunk.
var ErrShortKey = errors.New("key response shorter than announced")

// KeyProvider implements a client for the bulk key endpoint.
type KeyProvider struct {
	Client *http.Client
}

// DefaultKeyProvider is a pre-configured KeyProvider using http.DefaultClient.
var DefaultKeyProvider = &KeyProvider{
	Client: http.DefaultClient,
}

// BulkKey is the decoded response of GET /key/{count}.
type BulkKey struct {
	ChunkCount int64
	ChunkSize  int64
	Data       []byte
}

// Chunk returns chunk i of the key.
func (k *BulkKey) Chunk(i int64) []byte {
	return k.Data[i*k.ChunkSize : (i+1)*k.ChunkSize]
}

// Key requests count chunks and returns them in memory.
func (p *KeyProvider) Key(ctx context.Context, url string, count int64) (*BulkKey, error) {
	var buf bytes.Buffer
	chunkCount, chunkSize, err := p.KeyTo(ctx, url, count, &buf)
	if err != nil {
		return nil, err
	}
	return &BulkKey{ChunkCount: chunkCount, ChunkSize: chunkSize, Data: buf.Bytes()}, nil
}

// KeyTo requests count chunks and copies them to w as they arrive. It returns
// the chunk count and size announced by the service, which may be lower than
// requested because of clamping.
func (p *KeyProvider) KeyTo(ctx context.Context, url string, count int64, w io.Writer) (chunkCount, chunkSize int64, err error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fmt.Sprintf("%s/key/%d", strings.TrimRight(url, "/"), count), nil)
	if err != nil {
		return 0, 0, fmt.Errorf("could not initialize request: %w", err)
	}

	resp, err := p.client().Do(req)
	if err != nil {
		return 0, 0, fmt.Errorf("could not request key: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return 0, 0, fmt.Errorf("key service returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	chunkCount, err = strconv.ParseInt(resp.Header.Get(api.HeaderChunkCount), 10, 64)
	if err != nil {
		return 0, 0, fmt.Errorf("invalid %s header: %w", api.HeaderChunkCount, err)
	}
	chunkSize, err = strconv.ParseInt(resp.Header.Get(api.HeaderChunkSize), 10, 64)
	if err != nil {
		return 0, 0, fmt.Errorf("invalid %s header: %w", api.HeaderChunkSize, err)
	}

	want := chunkCount * chunkSize
	n, err := io.Copy(w, resp.Body)
	if err != nil && n != want {
		return chunkCount, chunkSize, fmt.Errorf("%w: got %d of %d bytes: %v", ErrShortKey, n, want, err)
	}
	if n != want {
		return chunkCount, chunkSize, fmt.Errorf("%w: got %d of %d bytes", ErrShortKey, n, want)
	}

	return chunkCount, chunkSize, nil
}

// Health checks GET /health.
func (p *KeyProvider) Health(ctx context.Context, url string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, strings.TrimRight(url, "/")+"/health", nil)
	if err != nil {
		return fmt.Errorf("could not initialize request: %w", err)
	}

	resp, err := p.client().Do(req)
	if err != nil {
		return fmt.Errorf("could not reach key service: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1024))
	if err != nil {
		return fmt.Errorf("could not read health response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("key service unhealthy (%d): %s", resp.StatusCode, string(body))
	}
	return nil
}

func (p *KeyProvider) client() *http.Client {
	if p.Client == nil {
		return http.DefaultClient
	}
	return p.Client
}
