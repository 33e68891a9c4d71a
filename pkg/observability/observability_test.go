package observability_test

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/codes"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/Sumatoshi-tech/jsbridge/pkg/observability"
)

func collect(t *testing.T, reader *sdkmetric.ManualReader) metricdata.ResourceMetrics {
	t.Helper()

	var rm metricdata.ResourceMetrics

	require.NoError(t, reader.Collect(context.Background(), &rm))

	return rm
}

func sumOf(rm metricdata.ResourceMetrics, name string) int64 {
	var total int64

	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name != name {
				continue
			}

			if sum, ok := m.Data.(metricdata.Sum[int64]); ok {
				for _, dp := range sum.DataPoints {
					total += dp.Value
				}
			}
		}
	}

	return total
}

func TestREDMetrics_RecordRequest(t *testing.T) {
	t.Parallel()

	reader := sdkmetric.NewManualReader()
	meter := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader)).Meter("test")

	red, err := observability.NewREDMetrics(meter)
	require.NoError(t, err)

	ctx := context.Background()
	done := red.TrackInflight(ctx, "analyze-jsts")
	red.RecordRequest(ctx, "analyze-jsts", observability.StatusOK, 20*time.Millisecond)
	red.RecordRequest(ctx, "analyze-jsts", observability.StatusError, time.Second)
	done()

	rm := collect(t, reader)
	assert.Equal(t, int64(2), sumOf(rm, "jsbridge.engine.requests.total"))
	assert.Equal(t, int64(1), sumOf(rm, "jsbridge.engine.errors.total"))
	assert.Equal(t, int64(0), sumOf(rm, "jsbridge.engine.inflight.requests"))
}

func TestMetrics_NilReceiversAreNoops(t *testing.T) {
	t.Parallel()

	var red *observability.REDMetrics

	var am *observability.AnalysisMetrics

	ctx := context.Background()

	red.RecordRequest(ctx, "x", observability.StatusOK, time.Second)
	red.TrackInflight(ctx, "x")()
	am.FileAnalyzed(ctx, "ok")
	am.IssuesSaved(ctx, 3)
	am.ItemDropped(ctx, "highlight")
	am.CacheLookup(ctx, true)
	am.ParseError(ctx)
}

func TestAnalysisMetrics_Counts(t *testing.T) {
	t.Parallel()

	reader := sdkmetric.NewManualReader()
	meter := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader)).Meter("test")

	am, err := observability.NewAnalysisMetrics(meter)
	require.NoError(t, err)

	ctx := context.Background()
	am.FileAnalyzed(ctx, "ok")
	am.IssuesSaved(ctx, 4)
	am.ItemDropped(ctx, "cpd")
	am.CacheLookup(ctx, true)
	am.CacheLookup(ctx, false)
	am.ParseError(ctx)

	rm := collect(t, reader)
	assert.Equal(t, int64(1), sumOf(rm, "jsbridge.analysis.files.total"))
	assert.Equal(t, int64(4), sumOf(rm, "jsbridge.analysis.issues.total"))
	assert.Equal(t, int64(1), sumOf(rm, "jsbridge.analysis.dropped.total"))
	assert.Equal(t, int64(1), sumOf(rm, "jsbridge.analysis.cache.hits.total"))
	assert.Equal(t, int64(1), sumOf(rm, "jsbridge.analysis.cache.misses.total"))
	assert.Equal(t, int64(1), sumOf(rm, "jsbridge.analysis.parse_errors.total"))
}

func TestTracingHandler_InjectsSpanContext(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer

	handler := observability.NewTracingHandler(slog.NewJSONHandler(&buf, nil), "jsbridge", "test", observability.ModeCLI)
	logger := slog.New(handler)

	tp := sdktrace.NewTracerProvider()
	ctx, span := tp.Tracer("test").Start(context.Background(), "op")
	logger.InfoContext(ctx, "hello")
	span.End()

	out := buf.String()
	assert.Contains(t, out, `"trace_id":"`+span.SpanContext().TraceID().String()+`"`)
	assert.Contains(t, out, `"service":"jsbridge"`)
	assert.Contains(t, out, `"mode":"cli"`)
	assert.Contains(t, out, `"env":"test"`)
}

func TestTracingHandler_NoSpanNoTraceID(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer

	logger := slog.New(observability.NewTracingHandler(slog.NewTextHandler(&buf, nil), "svc", "", observability.ModeLSP))
	logger.WithGroup("g").Info("plain", "k", "v")

	assert.NotContains(t, buf.String(), "trace_id")
	assert.Contains(t, buf.String(), "g.k=v")
	assert.NotContains(t, buf.String(), "env=")
}

func TestForComponent_TagsRecords(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer

	base := slog.New(observability.NewTracingHandler(slog.NewJSONHandler(&buf, nil), "jsbridge", "", observability.ModeCLI))
	observability.ForComponent(base, observability.ComponentEngine).Info("analysis engine started", "port", 4242)

	out := buf.String()
	assert.Contains(t, out, `"component":"engine"`)
	assert.Contains(t, out, `"service":"jsbridge"`)
	assert.Contains(t, out, `"port":4242`)

	buf.Reset()
	base.Info("no component")
	assert.NotContains(t, buf.String(), "component")
}

func TestHealthAndReadyHandlers(t *testing.T) {
	t.Parallel()

	rec := httptest.NewRecorder()
	observability.HealthHandler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", http.NoBody))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())

	failing := func(context.Context) error { return errors.New("engine down") }

	rec = httptest.NewRecorder()
	observability.ReadyHandler(failing).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", http.NoBody))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.JSONEq(t, `{"status":"unavailable","reason":"engine down"}`, rec.Body.String())
}

func TestDiagnosticsMux_ServesMetrics(t *testing.T) {
	t.Parallel()

	cfg := observability.DefaultConfig()
	cfg.Prometheus = true

	providers, err := observability.Init(cfg)
	require.NoError(t, err)

	defer func() { require.NoError(t, providers.Shutdown(context.Background())) }()

	require.NotNil(t, providers.MetricsHandler)

	srv := httptest.NewServer(observability.NewDiagnosticsMux(providers))
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/metrics")
	require.NoError(t, err)

	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp2, err := http.Get(srv.URL + "/healthz")
	require.NoError(t, err)

	defer resp2.Body.Close()

	assert.Equal(t, http.StatusOK, resp2.StatusCode)
}

func TestInit_NoopWithoutExporters(t *testing.T) {
	t.Parallel()

	providers, err := observability.Init(observability.DefaultConfig())
	require.NoError(t, err)

	assert.NotNil(t, providers.Tracer)
	assert.NotNil(t, providers.Meter)
	assert.NotNil(t, providers.Logger)
	assert.Nil(t, providers.MetricsHandler)
	require.NoError(t, providers.Shutdown(context.Background()))
}

func TestTracingTransport_PropagatesContext(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))
	defer srv.Close()

	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))

	transport := observability.NewTracingTransport(nil, tp.Tracer("test"))
	client := &http.Client{Transport: transport}

	req, err := http.NewRequestWithContext(context.Background(), http.MethodGet, srv.URL+"/status", http.NoBody)
	require.NoError(t, err)

	resp, err := client.Do(req)
	require.NoError(t, err)

	_, _ = io.Copy(io.Discard, resp.Body)
	resp.Body.Close()

	spans := recorder.Ended()
	require.Len(t, spans, 1)
	assert.Equal(t, "GET /status", spans[0].Name())
	assert.Equal(t, codes.Error, spans[0].Status().Code)
}

func TestParseOTLPHeaders(t *testing.T) {
	t.Parallel()

	assert.Nil(t, observability.ParseOTLPHeaders(""))
	assert.Nil(t, observability.ParseOTLPHeaders("garbage,=x"))
	assert.Equal(t, map[string]string{"a": "1", "b": "2"}, observability.ParseOTLPHeaders(" a=1 , b = 2"))
	assert.Equal(t, "jsbridge", observability.DefaultConfig().ServiceName)
}
