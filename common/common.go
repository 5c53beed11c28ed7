// Package common holds shared service plumbing: structured logger setup and
// build metadata used by every binary in this repository.
package common

import (
	"log/slog"
	"os"
)

// Version is set at build time via -ldflags.
var Version = "dev"

// PackageName tags logs and user agents emitted by this module.
const PackageName = "trustagent"

// LoggingOpts configures the process-wide slog logger.
type LoggingOpts struct {
	// Debug enables debug-level messages.
	Debug bool

	// JSON switches the handler to JSON output (text otherwise).
	JSON bool

	// Service is added as a "service" attribute to all messages.
	Service string

	// Version is added as a "version" attribute to all messages.
	Version string
}

// SetupLogger creates a slog logger according to opts, writing to stderr.
func SetupLogger(opts *LoggingOpts) *slog.Logger {
	logLevel := slog.LevelInfo
	if opts.Debug {
		logLevel = slog.LevelDebug
	}

	var handler slog.Handler
	if opts.JSON {
		handler = slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel})
	} else {
		handler = slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel})
	}

	logger := slog.New(handler)
	if opts.Service != "" {
		logger = logger.With("service", opts.Service)
	}
	if opts.Version != "" {
		logger = logger.With("version", opts.Version)
	}
	return logger
}
