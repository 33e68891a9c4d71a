package bridge_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Sumatoshi-tech/jsbridge/pkg/bridge"
)

type recordingHandler struct {
	mu      sync.Mutex
	files   []string
	metas   int
	failOn  string
	failErr error
}

func (h *recordingHandler) FileResult(name string, _ bridge.AnalysisResponse) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.files = append(h.files, name)
	if name == h.failOn {
		return h.failErr
	}

	return nil
}

func (h *recordingHandler) Meta(bridge.ProjectMeta) {
	h.mu.Lock()
	h.metas++
	h.mu.Unlock()
}

// streamServer answers a project request with the given messages, then runs after.
func streamServer(t *testing.T, messages []string, after func(*websocket.Conn)) *bridge.Client {
	t.Helper()

	upgrader := websocket.Upgrader{}

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if !assert.NoError(t, err) {
			return
		}
		defer conn.Close()

		var req bridge.ProjectAnalysisRequest
		if !assert.NoError(t, conn.ReadJSON(&req)) {
			return
		}

		for _, msg := range messages {
			if conn.WriteMessage(websocket.TextMessage, []byte(msg)) != nil {
				return
			}
		}

		if after != nil {
			after(conn)
		}
	})

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	return bridge.New(&fakeEndpoint{url: srv.URL}, bridge.WithCancelPoll(10*time.Millisecond))
}

func projectRequest() bridge.ProjectAnalysisRequest {
	return bridge.ProjectAnalysisRequest{
		Files: map[string]bridge.ProjectFile{
			"/p/a.js": {FilePath: "/p/a.js", FileType: "MAIN"},
			"/p/b.js": {FilePath: "/p/b.js", FileType: "MAIN"},
		},
		Configuration: bridge.ProjectConfiguration{BaseDir: "/p"},
	}
}

func TestAnalyzeProjectDeliversResultsThenMeta(t *testing.T) {
	t.Parallel()

	client := streamServer(t, []string{
		`{"messageType":"fileResult","filename":"/p/a.js","issues":[]}`,
		`{"messageType":"unrelated_event"}`,
		`{"messageType":"fileResult","filename":"/p/b.js","issues":[]}`,
		`{"messageType":"meta","warnings":["w1"],"dependencies":[{"name":"react","version":"18.0.0"}]}`,
	}, nil)

	handler := &recordingHandler{}

	meta, err := client.AnalyzeProject(context.Background(), projectRequest(), handler, nil)
	require.NoError(t, err)

	assert.Equal(t, []string{"/p/a.js", "/p/b.js"}, handler.files)
	assert.Equal(t, 1, handler.metas)
	assert.Equal(t, []string{"w1"}, meta.Warnings)
	require.Len(t, meta.Dependencies, 1)
	assert.Equal(t, "react", meta.Dependencies[0].Name)
}

func TestAnalyzeProjectEngineError(t *testing.T) {
	t.Parallel()

	client := streamServer(t, []string{
		`{"messageType":"error","error":{"message":"kaboom"}}`,
	}, nil)

	handler := &recordingHandler{}

	_, err := client.AnalyzeProject(context.Background(), projectRequest(), handler, nil)
	require.ErrorIs(t, err, bridge.ErrEngineReported)
	assert.Contains(t, err.Error(), "kaboom")
	assert.Zero(t, handler.metas)
}

func TestAnalyzeProjectEngineCancelled(t *testing.T) {
	t.Parallel()

	client := streamServer(t, []string{`{"messageType":"cancelled"}`}, nil)

	_, err := client.AnalyzeProject(context.Background(), projectRequest(), &recordingHandler{}, nil)
	require.ErrorIs(t, err, bridge.ErrCancelled)
	assert.True(t, bridge.IsCancelled(err))
}

func TestAnalyzeProjectClosedBeforeMeta(t *testing.T) {
	t.Parallel()

	client := streamServer(t, []string{
		`{"messageType":"fileResult","filename":"/p/a.js"}`,
	}, nil)

	handler := &recordingHandler{}

	_, err := client.AnalyzeProject(context.Background(), projectRequest(), handler, nil)
	require.ErrorIs(t, err, bridge.ErrTransport)
	assert.Equal(t, []string{"/p/a.js"}, handler.files)
	assert.Zero(t, handler.metas)
}

func TestAnalyzeProjectHostCancellationSendsCancelFrame(t *testing.T) {
	t.Parallel()

	frames := make(chan string, 1)

	client := streamServer(t, []string{
		`{"messageType":"fileResult","filename":"/p/a.js"}`,
	}, func(conn *websocket.Conn) {
		_, data, err := conn.ReadMessage()
		if err == nil {
			frames <- string(data)
		}
	})

	var cancelled atomic.Bool

	handler := &recordingHandler{}
	check := func() bool {
		handler.mu.Lock()
		defer handler.mu.Unlock()

		if len(handler.files) > 0 {
			cancelled.Store(true)
		}

		return cancelled.Load()
	}

	_, err := client.AnalyzeProject(context.Background(), projectRequest(), handler, check)
	require.ErrorIs(t, err, bridge.ErrCancelled)

	select {
	case frame := <-frames:
		assert.JSONEq(t, `{"type":"cancel"}`, frame)
	case <-time.After(5 * time.Second):
		t.Fatal("cancel frame not received")
	}
}

func TestAnalyzeProjectHandlerErrorAborts(t *testing.T) {
	t.Parallel()

	errStop := errors.New("stop")

	client := streamServer(t, []string{
		`{"messageType":"fileResult","filename":"/p/a.js"}`,
		`{"messageType":"fileResult","filename":"/p/b.js"}`,
		`{"messageType":"meta","warnings":[]}`,
	}, nil)

	handler := &recordingHandler{failOn: "/p/a.js", failErr: errStop}

	_, err := client.AnalyzeProject(context.Background(), projectRequest(), handler, nil)
	require.ErrorIs(t, err, errStop)
	assert.Equal(t, []string{"/p/a.js"}, handler.files)
	assert.Zero(t, handler.metas)
}

func TestAnalyzeProjectContextCancelled(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})
	client := streamServer(t, nil, func(*websocket.Conn) { <-release })

	t.Cleanup(func() { close(release) })

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := client.AnalyzeProject(ctx, projectRequest(), &recordingHandler{}, nil)
	require.ErrorIs(t, err, bridge.ErrCancelled)
	require.ErrorIs(t, err, context.DeadlineExceeded)
}
