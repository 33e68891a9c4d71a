// Package bridge is the protocol client of the analysis engine: per-file
// HTTP requests, program lifecycle calls and the whole-project WebSocket
// stream.
package bridge

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/Sumatoshi-tech/jsbridge/pkg/host"
	"github.com/Sumatoshi-tech/jsbridge/pkg/observability"
)

// Sentinel errors.
var (
	// ErrTransport indicates an I/O failure or unexpected status talking to the engine.
	ErrTransport = errors.New("engine transport failure")
	// ErrEngineReported indicates the engine reported a fatal error.
	ErrEngineReported = errors.New("engine reported an error")
	// ErrCancelled indicates the host cancelled the analysis.
	ErrCancelled = errors.New("analysis cancelled")
	// ErrUnsupportedLanguage indicates no endpoint serves the language.
	ErrUnsupportedLanguage = errors.New("unsupported language")
)

// Engine endpoints.
const (
	pathAnalyzeJSTS        = "/analyze-jsts"
	pathAnalyzeCSS         = "/analyze-css"
	pathAnalyzeYAML        = "/analyze-yaml"
	pathAnalyzeHTML        = "/analyze-html"
	pathTsConfigFiles      = "/tsconfig-files"
	pathCreateProgram      = "/create-program"
	pathDeleteProgram      = "/delete-program"
	pathCreateTsConfigFile = "/create-tsconfig-file"
	pathNewTsConfig        = "/new-tsconfig"
	pathInitLinter         = "/init-linter"
	pathStatus             = "/status"
	pathClose              = "/close"
	pathWebSocket          = "/ws"
)

const (
	// DefaultTimeout bounds a single engine request.
	DefaultTimeout = 5 * time.Minute
	// maxErrorBody bounds how much of an error response is kept.
	maxErrorBody    = 512
	contentTypeJSON = "application/json"
)

// Endpoint locates a running engine, starting it when needed.
type Endpoint interface {
	EnsureStarted(ctx context.Context) error
	BaseURL() string
}

// Client talks to the analysis engine.
type Client struct {
	endpoint Endpoint
	http     *http.Client
	logger   *slog.Logger
	tracer   trace.Tracer
	metrics  *observability.REDMetrics
	dialer   *websocket.Dialer
	poll     time.Duration
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) { c.logger = logger }
}

// WithTracer sets the tracer for request spans.
func WithTracer(tracer trace.Tracer) Option {
	return func(c *Client) { c.tracer = tracer }
}

// WithMetrics records RED metrics per endpoint.
func WithMetrics(metrics *observability.REDMetrics) Option {
	return func(c *Client) { c.metrics = metrics }
}

// WithCancelPoll sets how often a streaming wait checks for cancellation.
func WithCancelPoll(interval time.Duration) Option {
	return func(c *Client) { c.poll = interval }
}

// New creates a client for endpoint.
func New(endpoint Endpoint, opts ...Option) *Client {
	c := &Client{
		endpoint: endpoint,
		logger:   slog.Default(),
		tracer:   otel.Tracer("github.com/Sumatoshi-tech/jsbridge/pkg/bridge"),
		poll:     defaultCancelPoll,
	}

	for _, opt := range opts {
		opt(c)
	}

	if c.http == nil {
		c.http = &http.Client{
			Timeout:   DefaultTimeout,
			Transport: observability.NewTracingTransport(nil, c.tracer),
		}
	}

	return c
}

// endpointPath maps a language to its analysis endpoint.
func endpointPath(lang host.Language) (string, error) {
	switch lang {
	case host.LangJS, host.LangTS, "":
		return pathAnalyzeJSTS, nil
	case host.LangCSS:
		return pathAnalyzeCSS, nil
	case host.LangYAML:
		return pathAnalyzeYAML, nil
	case host.LangHTML:
		return pathAnalyzeHTML, nil
	default:
		return "", fmt.Errorf("%w: %s", ErrUnsupportedLanguage, lang)
	}
}

// Analyze sends one JS/TS, YAML or HTML file to the endpoint matching its language.
func (c *Client) Analyze(ctx context.Context, req AnalysisRequest) (AnalysisResponse, error) {
	path, err := endpointPath(req.Language)
	if err != nil {
		return AnalysisResponse{}, err
	}

	if path == pathAnalyzeCSS {
		return AnalysisResponse{}, fmt.Errorf("%w: use AnalyzeCSS for stylesheets", ErrUnsupportedLanguage)
	}

	return c.analyze(ctx, path, req)
}

// AnalyzeCSS sends one stylesheet.
func (c *Client) AnalyzeCSS(ctx context.Context, req CSSAnalysisRequest) (AnalysisResponse, error) {
	return c.analyze(ctx, pathAnalyzeCSS, req)
}

func (c *Client) analyze(ctx context.Context, path string, payload any) (AnalysisResponse, error) {
	var resp AnalysisResponse

	err := c.call(ctx, path, payload, func(r *http.Response) error {
		decoded, decodeErr := decodeAnalysis(r)
		resp = decoded

		return decodeErr
	})
	if err != nil {
		return AnalysisResponse{}, err
	}

	resp.Normalize()

	return resp, nil
}

// TsConfigFiles asks the engine which files and references a tsconfig resolves to.
func (c *Client) TsConfigFiles(ctx context.Context, tsconfig string) (TsConfigResponse, error) {
	var out TsConfigResponse

	err := c.callJSON(ctx, pathTsConfigFiles, map[string]string{"tsconfig": tsconfig}, &out)
	if err != nil {
		return TsConfigResponse{}, err
	}

	return out, nil
}

// CreateProgram builds a program for a tsconfig.
func (c *Client) CreateProgram(ctx context.Context, tsconfig string) (TsProgram, error) {
	var out TsProgram

	err := c.callJSON(ctx, pathCreateProgram, TsProgramRequest{TsConfig: tsconfig}, &out)
	if err != nil {
		return TsProgram{}, err
	}

	return out, nil
}

// DeleteProgram frees a program.
func (c *Client) DeleteProgram(ctx context.Context, programID string) error {
	return c.callJSON(ctx, pathDeleteProgram, map[string]string{"programId": programID}, nil)
}

// CreateTsConfigFile writes a tsconfig with the given content on the engine
// side and returns its path.
func (c *Client) CreateTsConfigFile(ctx context.Context, content string) (string, error) {
	var out struct {
		Filename string `json:"filename"`
	}

	err := c.call(ctx, pathCreateTsConfigFile, json.RawMessage(content), func(r *http.Response) error {
		return decodeJSON(r.Body, &out)
	})
	if err != nil {
		return "", err
	}

	return out.Filename, nil
}

// WriteTsConfig lets the engine store generated configurations.
func (c *Client) WriteTsConfig(ctx context.Context, content []byte) (string, error) {
	return c.CreateTsConfigFile(ctx, string(content))
}

// NewTsConfig resets the engine's knowledge of tsconfig files.
func (c *Client) NewTsConfig(ctx context.Context) error {
	return c.callJSON(ctx, pathNewTsConfig, struct{}{}, nil)
}

// InitLinter configures the linter used by later requests.
func (c *Client) InitLinter(ctx context.Context, req InitLinterRequest) error {
	return c.callJSON(ctx, pathInitLinter, req, nil)
}

// Status returns the engine status body.
func (c *Client) Status(ctx context.Context) (string, error) {
	var body string

	err := c.do(ctx, http.MethodGet, pathStatus, nil, func(r *http.Response) error {
		data, readErr := io.ReadAll(r.Body)
		body = strings.TrimSpace(string(data))

		return readErr
	})
	if err != nil {
		return "", err
	}

	return body, nil
}

// Close asks the engine to shut down. Failures are ignored.
func (c *Client) Close(ctx context.Context) {
	err := c.do(ctx, http.MethodPost, pathClose, nil, func(*http.Response) error { return nil })
	if err != nil {
		c.logger.Debug("engine close request failed", "error", err)
	}
}

func (c *Client) callJSON(ctx context.Context, path string, payload, out any) error {
	return c.call(ctx, path, payload, func(r *http.Response) error {
		if out == nil {
			_, err := io.Copy(io.Discard, r.Body)

			return err
		}

		return decodeJSON(r.Body, out)
	})
}

func (c *Client) call(ctx context.Context, path string, payload any, handle func(*http.Response) error) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode %s request: %w", path, err)
	}

	return c.do(ctx, http.MethodPost, path, body, handle)
}

func (c *Client) do(ctx context.Context, method, path string, body []byte, handle func(*http.Response) error) (err error) {
	op := strings.TrimPrefix(path, "/")

	ctx, span := c.tracer.Start(ctx, "bridge."+op, trace.WithAttributes(attribute.String("engine.endpoint", path)))
	defer span.End()

	done := c.metrics.TrackInflight(ctx, op)
	start := time.Now()

	defer func() {
		done()

		status := observability.StatusOK
		if err != nil {
			status = observability.StatusError

			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}

		c.metrics.RecordRequest(ctx, op, status, time.Since(start))
	}()

	startErr := c.endpoint.EnsureStarted(ctx)
	if startErr != nil {
		return startErr
	}

	var reader io.Reader = http.NoBody
	if body != nil {
		reader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.endpoint.BaseURL()+path, reader)
	if err != nil {
		return fmt.Errorf("%w: build %s request: %w", ErrTransport, path, err)
	}

	if body != nil {
		req.Header.Set("Content-Type", contentTypeJSON)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %s: %w", ErrTransport, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))

		return fmt.Errorf("%w: %s returned %d: %s", ErrTransport, path, resp.StatusCode, strings.TrimSpace(string(snippet)))
	}

	handleErr := handle(resp)
	if handleErr != nil {
		return fmt.Errorf("%w: read %s response: %w", ErrTransport, path, handleErr)
	}

	return nil
}

func decodeJSON(r io.Reader, out any) error {
	err := json.NewDecoder(r).Decode(out)
	if err != nil {
		return fmt.Errorf("decode json: %w", err)
	}

	return nil
}
