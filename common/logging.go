// Package common holds process-wide helpers shared by the binaries.
package common

import (
	"log/slog"
	"os"
)

// PackageName is used as the service name of exported metrics.
const PackageName = "resource-store"

// Version is overridden at build time with -ldflags "-X ...common.Version=...".
var Version = "dev"

type LoggingOpts struct {
	Debug   bool
	JSON    bool
	Service string
	Version string
}

// SetupLogger returns a slog logger writing to stdout, optionally as JSON,
// with service and version attached to every record.
func SetupLogger(opts *LoggingOpts) *slog.Logger {
	level := slog.LevelInfo
	if opts.Debug {
		level = slog.LevelDebug
	}
	handlerOpts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler
	if opts.JSON {
		handler = slog.NewJSONHandler(os.Stdout, handlerOpts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, handlerOpts)
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
