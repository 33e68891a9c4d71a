package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.opentelemetry.io/otel/codes"

	"github.com/Sumatoshi-tech/jsbridge/pkg/host"
	"github.com/Sumatoshi-tech/jsbridge/pkg/observability"
)

const defaultCancelPoll = 200 * time.Millisecond

// Stream message types.
const (
	msgFileResult = "fileResult"
	msgMeta       = "meta"
	msgError      = "error"
	msgCancelled  = "cancelled"
)

var cancelFrame = []byte(`{"type":"cancel"}`)

// ProjectHandler receives the messages of a project analysis in arrival order.
type ProjectHandler interface {
	// FileResult handles the result for one file. A non-nil error aborts
	// the analysis.
	FileResult(filename string, resp AnalysisResponse) error
	Meta(meta ProjectMeta)
}

// WithDialer replaces the WebSocket dialer.
func WithDialer(dialer *websocket.Dialer) Option {
	return func(c *Client) { c.dialer = dialer }
}

type envelope struct {
	MessageType string          `json:"messageType"`
	Filename    string          `json:"filename"`
	Error       json.RawMessage `json:"error"`
}

type frame struct {
	kind string
	name string
	raw  []byte
	err  error
}

// AnalyzeProject streams a whole-project analysis. It returns once the
// engine sends its meta message, reports an error, the connection drops,
// or the host cancels. Cancellation is polled through cancelled and ctx.
func (c *Client) AnalyzeProject(
	ctx context.Context, req ProjectAnalysisRequest, handler ProjectHandler, cancelled host.CancelCheck,
) (meta ProjectMeta, err error) {
	if cancelled == nil {
		cancelled = host.NeverCancel
	}

	startErr := c.endpoint.EnsureStarted(ctx)
	if startErr != nil {
		return ProjectMeta{}, startErr
	}

	ctx, span := c.tracer.Start(ctx, "bridge.analyze-project")
	defer span.End()

	done := c.metrics.TrackInflight(ctx, "analyze-project")
	start := time.Now()

	defer func() {
		done()

		status := observability.StatusOK
		if err != nil && !IsCancelled(err) {
			status = observability.StatusError

			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}

		c.metrics.RecordRequest(ctx, "analyze-project", status, time.Since(start))
	}()

	dialer := c.dialer
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}

	conn, resp, err := dialer.DialContext(ctx, websocketURL(c.endpoint.BaseURL()), nil)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}

	if err != nil {
		return ProjectMeta{}, fmt.Errorf("%w: dial engine stream: %w", ErrTransport, err)
	}

	s := &stream{conn: conn, frames: make(chan frame), stop: make(chan struct{})}
	defer s.close()

	writeErr := conn.WriteJSON(req)
	if writeErr != nil {
		return ProjectMeta{}, fmt.Errorf("%w: send project request: %w", ErrTransport, writeErr)
	}

	go s.read()

	return c.consume(ctx, s, handler, cancelled)
}

func (c *Client) consume(ctx context.Context, s *stream, handler ProjectHandler, cancelled host.CancelCheck) (ProjectMeta, error) {
	ticker := time.NewTicker(c.poll)
	defer ticker.Stop()

	for {
		if cancelled() {
			return ProjectMeta{}, c.cancel(s)
		}

		select {
		case <-ctx.Done():
			c.cancel(s)

			return ProjectMeta{}, fmt.Errorf("%w: %w", ErrCancelled, ctx.Err())
		case <-ticker.C:
		case f := <-s.frames:
			if f.err != nil {
				return ProjectMeta{}, fmt.Errorf("%w: stream closed before completion: %w", ErrTransport, f.err)
			}

			meta, finished, err := c.dispatch(s, f, handler)
			if finished || err != nil {
				return meta, err
			}
		}
	}
}

func (c *Client) dispatch(s *stream, f frame, handler ProjectHandler) (ProjectMeta, bool, error) {
	switch f.kind {
	case msgFileResult:
		var resp AnalysisResponse

		err := json.Unmarshal(f.raw, &resp)
		if err != nil {
			return ProjectMeta{}, true, fmt.Errorf("%w: decode result for %s: %w", ErrTransport, f.name, err)
		}

		resp.Normalize()

		handleErr := handler.FileResult(f.name, resp)
		if handleErr != nil {
			s.sendCancel()

			return ProjectMeta{}, true, handleErr
		}

		return ProjectMeta{}, false, nil
	case msgMeta:
		var meta ProjectMeta

		err := json.Unmarshal(f.raw, &meta)
		if err != nil {
			return ProjectMeta{}, true, fmt.Errorf("%w: decode meta: %w", ErrTransport, err)
		}

		handler.Meta(meta)

		return meta, true, nil
	case msgError:
		var env envelope

		_ = json.Unmarshal(f.raw, &env)

		return ProjectMeta{}, true, fmt.Errorf("%w: %s", ErrEngineReported, strings.TrimSpace(string(env.Error)))
	case msgCancelled:
		return ProjectMeta{}, true, ErrCancelled
	default:
		c.logger.Debug("ignoring engine stream message", "type", f.kind)

		return ProjectMeta{}, false, nil
	}
}

func (c *Client) cancel(s *stream) error {
	c.logger.Info("analysis cancelled, notifying engine")
	s.sendCancel()

	return ErrCancelled
}

type stream struct {
	conn      *websocket.Conn
	frames    chan frame
	stop      chan struct{}
	closeOnce sync.Once
}

func (s *stream) read() {
	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			s.emit(frame{err: err})

			return
		}

		var env envelope

		decodeErr := json.Unmarshal(data, &env)
		if decodeErr != nil {
			s.emit(frame{err: fmt.Errorf("malformed message: %w", decodeErr)})

			return
		}

		if !s.emit(frame{kind: env.MessageType, name: env.Filename, raw: data}) {
			return
		}
	}
}

func (s *stream) emit(f frame) bool {
	select {
	case s.frames <- f:
		return true
	case <-s.stop:
		return false
	}
}

func (s *stream) sendCancel() {
	_ = s.conn.SetWriteDeadline(time.Now().Add(time.Second))
	_ = s.conn.WriteMessage(websocket.TextMessage, cancelFrame)
}

func (s *stream) close() {
	s.closeOnce.Do(func() {
		close(s.stop)

		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
		_ = s.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
		_ = s.conn.Close()
	})
}

func websocketURL(base string) string {
	switch {
	case strings.HasPrefix(base, "https://"):
		return "wss://" + strings.TrimPrefix(base, "https://") + pathWebSocket
	case strings.HasPrefix(base, "http://"):
		return "ws://" + strings.TrimPrefix(base, "http://") + pathWebSocket
	default:
		return base + pathWebSocket
	}
}

// IsCancelled reports whether err stems from a host cancellation.
func IsCancelled(err error) bool {
	return errors.Is(err, ErrCancelled)
}
