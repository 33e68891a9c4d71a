package observability

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const (
	metricRequestsTotal    = "jsbridge.engine.requests.total"
	metricRequestDuration  = "jsbridge.engine.request.duration.seconds"
	metricErrorsTotal      = "jsbridge.engine.errors.total"
	metricInflightRequests = "jsbridge.engine.inflight.requests"

	metricFilesTotal    = "jsbridge.analysis.files.total"
	metricIssuesTotal   = "jsbridge.analysis.issues.total"
	metricDroppedTotal  = "jsbridge.analysis.dropped.total"
	metricCacheHits     = "jsbridge.analysis.cache.hits.total"
	metricCacheMisses   = "jsbridge.analysis.cache.misses.total"
	metricParseFailures = "jsbridge.analysis.parse_errors.total"

	attrOp      = "op"
	attrStatus  = "status"
	attrOutcome = "outcome"
	attrKind    = "kind"

	// StatusOK marks a successful engine request.
	StatusOK = "ok"
	// StatusError marks a failed engine request.
	StatusError = "error"
)

// durationBucketBoundaries spans quick per-file requests up to whole-project runs.
var durationBucketBoundaries = []float64{0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 300}

// REDMetrics holds rate, error and duration instruments for engine requests.
type REDMetrics struct {
	requestsTotal    metric.Int64Counter
	requestDuration  metric.Float64Histogram
	errorsTotal      metric.Int64Counter
	inflightRequests metric.Int64UpDownCounter
}

// NewREDMetrics creates the engine request instruments.
func NewREDMetrics(mt metric.Meter) (*REDMetrics, error) {
	reqTotal, err := mt.Int64Counter(metricRequestsTotal,
		metric.WithDescription("Engine requests by endpoint"),
		metric.WithUnit("{request}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create %s: %w", metricRequestsTotal, err)
	}

	reqDuration, err := mt.Float64Histogram(metricRequestDuration,
		metric.WithDescription("Engine request duration in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(durationBucketBoundaries...),
	)
	if err != nil {
		return nil, fmt.Errorf("create %s: %w", metricRequestDuration, err)
	}

	errTotal, err := mt.Int64Counter(metricErrorsTotal,
		metric.WithDescription("Failed engine requests"),
		metric.WithUnit("{error}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create %s: %w", metricErrorsTotal, err)
	}

	inflight, err := mt.Int64UpDownCounter(metricInflightRequests,
		metric.WithDescription("Engine requests in flight"),
		metric.WithUnit("{request}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create %s: %w", metricInflightRequests, err)
	}

	return &REDMetrics{
		requestsTotal:    reqTotal,
		requestDuration:  reqDuration,
		errorsTotal:      errTotal,
		inflightRequests: inflight,
	}, nil
}

// RecordRequest records one finished request. Safe on a nil receiver.
func (rm *REDMetrics) RecordRequest(ctx context.Context, op, status string, duration time.Duration) {
	if rm == nil {
		return
	}

	attrs := metric.WithAttributes(
		attribute.String(attrOp, op),
		attribute.String(attrStatus, status),
	)

	rm.requestsTotal.Add(ctx, 1, attrs)
	rm.requestDuration.Record(ctx, duration.Seconds(), attrs)

	if status == StatusError {
		rm.errorsTotal.Add(ctx, 1, metric.WithAttributes(attribute.String(attrOp, op)))
	}
}

// TrackInflight increments the in-flight gauge and returns its decrement.
func (rm *REDMetrics) TrackInflight(ctx context.Context, op string) func() {
	if rm == nil {
		return func() {}
	}

	attrs := metric.WithAttributes(attribute.String(attrOp, op))
	rm.inflightRequests.Add(ctx, 1, attrs)

	return func() {
		rm.inflightRequests.Add(ctx, -1, attrs)
	}
}

// AnalysisMetrics counts analysis outcomes.
type AnalysisMetrics struct {
	files       metric.Int64Counter
	issues      metric.Int64Counter
	dropped     metric.Int64Counter
	cacheHits   metric.Int64Counter
	cacheMisses metric.Int64Counter
	parseErrors metric.Int64Counter
}

// NewAnalysisMetrics creates the analysis instruments.
func NewAnalysisMetrics(mt metric.Meter) (*AnalysisMetrics, error) {
	specs := []struct {
		name, desc, unit string
	}{
		{metricFilesTotal, "Files analyzed by outcome", "{file}"},
		{metricIssuesTotal, "Issues saved", "{issue}"},
		{metricDroppedTotal, "Malformed result items dropped", "{item}"},
		{metricCacheHits, "Files served from cache", "{file}"},
		{metricCacheMisses, "Files not found in cache", "{file}"},
		{metricParseFailures, "Files that failed to parse", "{file}"},
	}

	am := &AnalysisMetrics{}
	dsts := []*metric.Int64Counter{&am.files, &am.issues, &am.dropped, &am.cacheHits, &am.cacheMisses, &am.parseErrors}

	for idx, spec := range specs {
		counter, err := mt.Int64Counter(spec.name, metric.WithDescription(spec.desc), metric.WithUnit(spec.unit))
		if err != nil {
			return nil, fmt.Errorf("create %s: %w", spec.name, err)
		}

		*dsts[idx] = counter
	}

	return am, nil
}

// FileAnalyzed counts a file with its outcome. Safe on a nil receiver.
func (am *AnalysisMetrics) FileAnalyzed(ctx context.Context, outcome string) {
	if am == nil {
		return
	}

	am.files.Add(ctx, 1, metric.WithAttributes(attribute.String(attrOutcome, outcome)))
}

// IssuesSaved counts saved issues. Safe on a nil receiver.
func (am *AnalysisMetrics) IssuesSaved(ctx context.Context, n int) {
	if am == nil || n == 0 {
		return
	}

	am.issues.Add(ctx, int64(n))
}

// ItemDropped counts a malformed item of the given kind. Safe on a nil receiver.
func (am *AnalysisMetrics) ItemDropped(ctx context.Context, kind string) {
	if am == nil {
		return
	}

	am.dropped.Add(ctx, 1, metric.WithAttributes(attribute.String(attrKind, kind)))
}

// CacheLookup counts a cache hit or miss. Safe on a nil receiver.
func (am *AnalysisMetrics) CacheLookup(ctx context.Context, hit bool) {
	if am == nil {
		return
	}

	if hit {
		am.cacheHits.Add(ctx, 1)
	} else {
		am.cacheMisses.Add(ctx, 1)
	}
}

// ParseError counts a file that failed to parse. Safe on a nil receiver.
func (am *AnalysisMetrics) ParseError(ctx context.Context) {
	if am == nil {
		return
	}

	am.parseErrors.Add(ctx, 1)
}
