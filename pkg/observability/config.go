// Package observability wires OpenTelemetry tracing and metrics together with
// structured logging for the bridge binaries.
package observability

import "log/slog"

// AppMode identifies how the binary was launched.
type AppMode string

const (
	// ModeCLI is a one-shot analysis run.
	ModeCLI AppMode = "cli"
	// ModeLSP is the interactive language server.
	ModeLSP AppMode = "lsp"
)

const (
	defaultServiceName        = "jsbridge"
	defaultShutdownTimeoutSec = 5
)

// Config holds all observability configuration.
type Config struct {
	// ServiceName is the OTel resource service name.
	ServiceName string

	// ServiceVersion is the version of the running binary.
	ServiceVersion string

	// Environment is the deployment environment.
	Environment string

	Mode AppMode

	// OTLPEndpoint is the OTLP gRPC collector address. Empty disables export.
	OTLPEndpoint string

	// OTLPHeaders are extra gRPC metadata headers for the exporters.
	OTLPHeaders map[string]string

	OTLPInsecure bool

	// SampleRatio is the trace sampling ratio. Zero samples everything.
	SampleRatio float64

	// Prometheus attaches a Prometheus reader and exposes Providers.MetricsHandler.
	Prometheus bool

	LogLevel slog.Level
	LogJSON  bool

	// ShutdownTimeoutSec bounds the final flush.
	ShutdownTimeoutSec int
}

// DefaultConfig returns a Config usable without any setup.
func DefaultConfig() Config {
	return Config{
		ServiceName:        defaultServiceName,
		Mode:               ModeCLI,
		LogLevel:           slog.LevelInfo,
		ShutdownTimeoutSec: defaultShutdownTimeoutSec,
	}
}
