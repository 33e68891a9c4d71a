package observability

import (
	"fmt"
	"net/http"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
)

// httpStatusClientError is the lowest status treated as a failed call.
const httpStatusClientError = 400

// TracingTransport is an [http.RoundTripper] creating a client span per
// request and propagating the trace context to the engine.
type TracingTransport struct {
	base   http.RoundTripper
	tracer trace.Tracer
}

// NewTracingTransport wraps base, defaulting to [http.DefaultTransport].
func NewTracingTransport(base http.RoundTripper, tracer trace.Tracer) *TracingTransport {
	if base == nil {
		base = http.DefaultTransport
	}

	if tracer == nil {
		tracer = otel.Tracer(instrumentationName)
	}

	return &TracingTransport{base: base, tracer: tracer}
}

// RoundTrip implements [http.RoundTripper].
func (tt *TracingTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	ctx, span := tt.tracer.Start(req.Context(), req.Method+" "+req.URL.Path,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			semconv.HTTPRequestMethodKey.String(req.Method),
			attribute.String("url.path", req.URL.Path),
		),
	)
	defer span.End()

	req = req.Clone(ctx)
	otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(req.Header))

	resp, err := tt.base.RoundTrip(req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())

		return nil, fmt.Errorf("round trip %s: %w", req.URL.Path, err)
	}

	span.SetAttributes(semconv.HTTPResponseStatusCode(resp.StatusCode))

	if resp.StatusCode >= httpStatusClientError {
		span.SetStatus(codes.Error, http.StatusText(resp.StatusCode))
	}

	return resp, nil
}
