package observability

import (
	"context"
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel/trace"
)

const (
	attrTraceID = "trace_id"
	attrSpanID  = "span_id"
	attrService = "service"
	attrMode    = "mode"
	attrEnv     = "env"

	attrComponent = "component"
)

// Components tag log records with the bridge layer that emitted them.
const (
	ComponentEngine   = "engine"
	ComponentBridge   = "bridge"
	ComponentTsConfig = "tsconfig"
	ComponentAnalysis = "analysis"
	ComponentSession  = "session"
)

// ForComponent returns a logger whose records carry the component name, so
// engine lifecycle lines can be told apart from per-file analysis lines.
func ForComponent(logger *slog.Logger, component string) *slog.Logger {
	return logger.With(attrComponent, component)
}

// TracingHandler is an [slog.Handler] adding the active trace and span IDs to
// every record, on top of fixed service attributes.
type TracingHandler struct {
	inner slog.Handler
}

// NewTracingHandler wraps inner. The service attributes are attached before
// any group so they stay at the top level.
func NewTracingHandler(inner slog.Handler, service, env string, mode AppMode) *TracingHandler {
	attrs := []slog.Attr{
		slog.String(attrService, service),
		slog.String(attrMode, string(mode)),
	}

	if env != "" {
		attrs = append(attrs, slog.String(attrEnv, env))
	}

	return &TracingHandler{inner: inner.WithAttrs(attrs)}
}

// Enabled delegates to the inner handler.
func (th *TracingHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return th.inner.Enabled(ctx, level)
}

// Handle adds trace context, then delegates.
func (th *TracingHandler) Handle(ctx context.Context, record slog.Record) error {
	if sc := trace.SpanContextFromContext(ctx); sc.IsValid() {
		record.AddAttrs(
			slog.String(attrTraceID, sc.TraceID().String()),
			slog.String(attrSpanID, sc.SpanID().String()),
		)
	}

	err := th.inner.Handle(ctx, record)
	if err != nil {
		return fmt.Errorf("tracing handler: %w", err)
	}

	return nil
}

// WithAttrs implements [slog.Handler].
func (th *TracingHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &TracingHandler{inner: th.inner.WithAttrs(attrs)}
}

// WithGroup implements [slog.Handler].
func (th *TracingHandler) WithGroup(name string) slog.Handler {
	return &TracingHandler{inner: th.inner.WithGroup(name)}
}
