package flags

import (
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/ruteri/keystream/api"
	"github.com/ruteri/keystream/common"
	"github.com/ruteri/keystream/pacing"
	"github.com/urfave/cli/v2"
)

func envVar(name string) []string {
	return []string{"KEYSTREAM_" + name}
}

func SetupLogger(cCtx *cli.Context) (log *slog.Logger) {
	logJSON := cCtx.Bool(LogJsonFlag.Name)
	logDebug := cCtx.Bool(LogDebugFlag.Name)
	logUID := cCtx.Bool(LogUidFlag.Name)
	logService := cCtx.String("log-service")

	logger := common.SetupLogger(&common.LoggingOpts{
		Debug:   logDebug,
		JSON:    logJSON,
		Service: logService,
		Version: common.Version,
	})

	if logUID {
		id := uuid.Must(uuid.NewRandom())
		logger = logger.With("uid", id.String())
	}
	return logger
}

func ConfigureServer(cCtx *cli.Context, logger *slog.Logger) *api.HTTPServerConfig {
	return &api.HTTPServerConfig{
		ListenAddr:               cCtx.String(ListenAddrFlag.Name),
		MetricsAddr:              cCtx.String(MetricsAddrFlag.Name),
		Log:                      logger,
		EnablePprof:              cCtx.Bool(PprofFlag.Name),
		DrainDuration:            time.Duration(cCtx.Int64(DrainSecondsFlag.Name)) * time.Second,
		GracefulShutdownDuration: 30 * time.Second,
		ReadTimeout:              60 * time.Second,
		WriteTimeout:             cCtx.Duration(BulkWriteTimeoutFlag.Name),
	}
}

func ConfigureKeyService(cCtx *cli.Context) *api.KeyServiceConfig {
	return &api.KeyServiceConfig{
		EntropySource:      cCtx.String(EntropySourceFlag.Name),
		MaxBulkChunks:      cCtx.Int64(MaxBulkChunksFlag.Name),
		MaxStreamChunks:    cCtx.Int64(MaxStreamChunksFlag.Name),
		ProgressEvery:      cCtx.Int64(ProgressEveryFlag.Name),
		StrictProtocol:     cCtx.Bool(StrictProtocolFlag.Name),
		AttachmentStoreURI: cCtx.String(AttachmentStoreFlag.Name),
		AttachmentTTL:      cCtx.Duration(AttachmentTTLFlag.Name),
		StreamWriteTimeout: cCtx.Duration(StreamWriteTimeoutFlag.Name),
		StreamPingInterval: cCtx.Duration(StreamPingIntervalFlag.Name),
	}
}

var ListenAddrFlag = &cli.StringFlag{
	Name:    "listen-addr",
	Value:   "127.0.0.1:8080",
	Usage:   "address to listen on for API",
	EnvVars: envVar("LISTEN_ADDR"),
}

var ServerURLFlag = &cli.StringFlag{
	Name:    "server",
	Value:   "http://127.0.0.1:8080",
	Usage:   "base URL of the key service",
	EnvVars: envVar("SERVER"),
}

var EntropySourceFlag = &cli.StringFlag{
	Name:    "entropy-source",
	Value:   "system",
	Usage:   "random source for key chunks: 'system' (OS CSPRNG) or 'chacha20' (XChaCha20 keystream reseeded from the OS per chunk)",
	EnvVars: envVar("ENTROPY_SOURCE"),
}

var MaxBulkChunksFlag = &cli.Int64Flag{
	Name:    "max-bulk-chunks",
	Value:   pacing.MaxBulkChunks,
	Usage:   "maximum chunks served by one GET /key/{count}; larger counts are clamped",
	EnvVars: envVar("MAX_BULK_CHUNKS"),
}

var MaxStreamChunksFlag = &cli.Int64Flag{
	Name:    "max-stream-chunks",
	Value:   pacing.MaxStreamChunks,
	Usage:   "maximum chunks served by one websocket request_key; larger counts are clamped",
	EnvVars: envVar("MAX_STREAM_CHUNKS"),
}

var ProgressEveryFlag = &cli.Int64Flag{
	Name:    "progress-every",
	Value:   pacing.DefaultCadence,
	Usage:   "chunks between progress messages",
	EnvVars: envVar("PROGRESS_EVERY"),
}

var StrictProtocolFlag = &cli.BoolFlag{
	Name:    "strict-protocol",
	Value:   false,
	Usage:   "answer malformed client messages with an error message instead of ignoring them",
	EnvVars: envVar("STRICT_PROTOCOL"),
}

var AttachmentStoreFlag = &cli.StringFlag{
	Name:    "attachment-store",
	Value:   "memory://",
	Usage:   "where resumable session attachments are kept: memory://, file:///dir, s3://bucket/prefix, vault://host:port/mount/path",
	EnvVars: envVar("ATTACHMENT_STORE"),
}

var AttachmentTTLFlag = &cli.DurationFlag{
	Name:    "attachment-ttl",
	Value:   24 * time.Hour,
	Usage:   "how long a suspended session can be resumed (0 keeps attachments forever)",
	EnvVars: envVar("ATTACHMENT_TTL"),
}

var StreamWriteTimeoutFlag = &cli.DurationFlag{
	Name:    "stream-write-timeout",
	Value:   30 * time.Second,
	Usage:   "deadline for writing a single websocket frame",
	EnvVars: envVar("STREAM_WRITE_TIMEOUT"),
}

var StreamPingIntervalFlag = &cli.DurationFlag{
	Name:    "stream-ping-interval",
	Value:   30 * time.Second,
	Usage:   "websocket keepalive ping interval (0 disables keepalive)",
	EnvVars: envVar("STREAM_PING_INTERVAL"),
}

var BulkWriteTimeoutFlag = &cli.DurationFlag{
	Name:    "bulk-write-timeout",
	Value:   5 * time.Minute,
	Usage:   "deadline for writing a complete bulk response",
	EnvVars: envVar("BULK_WRITE_TIMEOUT"),
}

var LogJsonFlag = &cli.BoolFlag{
	Name:    "log-json",
	Value:   false,
	Usage:   "log in JSON format",
	EnvVars: envVar("LOG_JSON"),
}
var LogDebugFlag = &cli.BoolFlag{
	Name:    "log-debug",
	Value:   false,
	Usage:   "log debug messages",
	EnvVars: envVar("LOG_DEBUG"),
}
var LogUidFlag = &cli.BoolFlag{
	Name:    "log-uid",
	Value:   false,
	Usage:   "generate a uuid and add to all log messages",
	EnvVars: envVar("LOG_UID"),
}

var LogServiceFlagFn = func(service string) *cli.StringFlag {
	return &cli.StringFlag{
		Name:    "log-service",
		Value:   service,
		Usage:   "add 'service' tag to logs",
		EnvVars: envVar("LOG_SERVICE"),
	}
}

var PprofFlag = &cli.BoolFlag{
	Name:    "pprof",
	Value:   false,
	Usage:   "enable pprof debug endpoint",
	EnvVars: envVar("PPROF"),
}
var DrainSecondsFlag = &cli.Int64Flag{
	Name:    "drain-seconds",
	Value:   45,
	Usage:   "seconds to stay not-ready before shutting down",
	EnvVars: envVar("DRAIN_SECONDS"),
}
var MetricsAddrFlag = &cli.StringFlag{
	Name:    "metrics-addr",
	Value:   "127.0.0.1:8090",
	Usage:   "address to listen on for Prometheus metrics",
	EnvVars: envVar("METRICS_ADDR"),
}

var CommonFlags = []cli.Flag{
	LogJsonFlag,
	LogDebugFlag,
	LogUidFlag,
}

var ServerFlags = []cli.Flag{
	ListenAddrFlag,
	MetricsAddrFlag,
	PprofFlag,
	DrainSecondsFlag,
	BulkWriteTimeoutFlag,
	EntropySourceFlag,
	MaxBulkChunksFlag,
	MaxStreamChunksFlag,
	ProgressEveryFlag,
	StrictProtocolFlag,
	AttachmentStoreFlag,
	AttachmentTTLFlag,
	StreamWriteTimeoutFlag,
	StreamPingIntervalFlag,
}
