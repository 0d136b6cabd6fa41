// Package common holds process-wide helpers shared by the keystream binaries:
// logger construction and build metadata.
package common

import (
	"log/slog"
	"os"
)

// PackageName is used as the namespace for exported metrics.
const PackageName = "keystream"

// Version is overwritten at build time via -ldflags.
var Version = "dev"

// LoggingOpts configures the process logger.
type LoggingOpts struct {
	Debug   bool
	JSON    bool
	Service string
	Version string
}

// SetupLogger builds the structured logger used throughout the service.
// Key material must never be passed to the returned logger.
func SetupLogger(opts *LoggingOpts) (log *slog.Logger) {
	logLevel := slog.LevelInfo
	if opts.Debug {
		logLevel = slog.LevelDebug
	}

	if opts.JSON {
		log = slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel}))
	} else {
		log = slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel}))
	}

	if opts.Service != "" {
		log = log.With("service", opts.Service)
	}

	if opts.Version != "" {
		log = log.With("version", opts.Version)
	}

	return log
}
