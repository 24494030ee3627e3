package main

import (
	"context"
	"log/slog"

	"github.com/cindermc/cinder/internal/observability"
	"github.com/cindermc/cinder/internal/plugin"
)

// ServeDeps contains injectable dependencies for the serve command.
// All fields with nil values will use their default implementations.
type ServeDeps struct {
	// ObservabilityServerFactory creates the metrics/health server.
	// Default: observability.NewServer
	ObservabilityServerFactory func(addr string, readinessChecker observability.ReadinessChecker) ObservabilityServer

	// LoaderFactory returns the artifact loaders to register, in probe
	// order. Default: native then lua.
	LoaderFactory func(log *slog.Logger) []plugin.Loader
}

// ObservabilityServer interface wraps the methods used from observability.Server.
type ObservabilityServer interface {
	Start() (<-chan error, error)
	Stop(ctx context.Context) error
	Addr() string
}
