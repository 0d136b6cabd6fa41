package api

import (
	"log/slog"
	"time"
)

// HTTPServerConfig contains all configuration parameters for the HTTP server.
type HTTPServerConfig struct {
	// ListenAddr is the address and port the HTTP server will listen on.
	ListenAddr string

	// MetricsAddr is the address and port for the metrics server.
	// If empty, metrics server will not be started.
	MetricsAddr string

	// EnablePprof enables the pprof debugging API when true.
	EnablePprof bool

	// Log is the structured logger for server operations.
	Log *slog.Logger

	// DrainDuration is the time to wait after marking server not ready
	// before shutting down, allowing load balancers to detect the change.
	DrainDuration time.Duration

	// GracefulShutdownDuration is the maximum time to wait for in-flight
	// requests to complete during shutdown. Websocket sessions are not
	// tracked by net/http and are cancelled when it elapses.
	GracefulShutdownDuration time.Duration

	// ReadTimeout is the maximum duration for reading the request headers.
	ReadTimeout time.Duration

	// WriteTimeout is the maximum duration before timing out writes of a
	// bulk response. Large bulk responses need a generous value.
	WriteTimeout time.Duration
}

// KeyServiceConfig contains the key generation and delivery parameters.
type KeyServiceConfig struct {
	// EntropySource names the keygen source: "system" or "chacha20".
	EntropySource string

	// MaxBulkChunks caps GET /key/{count}.
	MaxBulkChunks int64

	// MaxStreamChunks caps a single request_key on a websocket.
	MaxStreamChunks int64

	// ProgressEvery is the number of chunks between progress messages.
	ProgressEvery int64

	// StrictProtocol answers malformed client messages with an error message
	// instead of ignoring them.
	StrictProtocol bool

	// AttachmentStoreURI selects where session attachments are kept, see
	// storage.AttachmentStoreFactory.
	AttachmentStoreURI string

	// AttachmentTTL is how long a suspended session can be resumed.
	// Zero disables expiry.
	AttachmentTTL time.Duration

	// StreamWriteTimeout bounds every websocket frame write.
	StreamWriteTimeout time.Duration

	// StreamPingInterval enables websocket keepalive pings. Zero disables them.
	StreamPingInterval time.Duration
}
