package observability

import (
	"net/http"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
)

// recorder remembers the first status a diagnostics handler wrote.
type recorder struct {
	http.ResponseWriter

	code int
}

func (r *recorder) WriteHeader(code int) {
	if r.code == 0 {
		r.code = code
	}

	r.ResponseWriter.WriteHeader(code)
}

func (r *recorder) Write(buf []byte) (int, error) {
	if r.code == 0 {
		r.code = http.StatusOK
	}

	return r.ResponseWriter.Write(buf) //nolint:wrapcheck // passthrough writer.
}

func (r *recorder) status() int {
	if r.code == 0 {
		return http.StatusOK
	}

	return r.code
}

// traceProbes starts a server span for every probe or scrape.
func traceProbes(tracer trace.Tracer, next http.Handler) http.Handler {
	return http.HandlerFunc(func(rw http.ResponseWriter, hr *http.Request) {
		ctx := otel.GetTextMapPropagator().Extract(hr.Context(), propagation.HeaderCarrier(hr.Header))

		ctx, span := tracer.Start(ctx, "probe "+hr.URL.Path,
			trace.WithSpanKind(trace.SpanKindServer),
			trace.WithAttributes(
				semconv.HTTPRequestMethodKey.String(hr.Method),
				semconv.URLPath(hr.URL.Path),
			),
		)
		defer span.End()

		rec := &recorder{ResponseWriter: rw}
		next.ServeHTTP(rec, hr.WithContext(ctx))

		code := rec.status()
		span.SetAttributes(semconv.HTTPResponseStatusCode(code))

		if code >= http.StatusInternalServerError {
			span.SetStatus(codes.Error, http.StatusText(code))
		}
	})
}
