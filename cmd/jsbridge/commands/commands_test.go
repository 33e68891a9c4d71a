package commands

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Sumatoshi-tech/jsbridge/pkg/analysis"
	"github.com/Sumatoshi-tech/jsbridge/pkg/config"
	"github.com/Sumatoshi-tech/jsbridge/pkg/engine"
	"github.com/Sumatoshi-tech/jsbridge/pkg/host"
	"github.com/Sumatoshi-tech/jsbridge/pkg/observability"
)

func writeTree(t *testing.T, root string, files ...string) {
	t.Helper()

	for _, name := range files {
		path := filepath.Join(root, filepath.FromSlash(name))
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
		require.NoError(t, os.WriteFile(path, []byte("x"), 0o600))
	}
}

func TestCollectFiles(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	writeTree(t, root,
		"src/app.ts",
		"src/app.test.ts",
		"src/style.css",
		"src/notes.md",
		"node_modules/lib/index.js",
		"dist/bundle.js",
		"public/jquery.min.js",
	)
	require.NoError(t, os.WriteFile(filepath.Join(root, "src", "blob.js"), []byte{0, 1, 2}, 0o600))

	files, err := CollectFiles(root, defaultExcludes, nil)
	require.NoError(t, err)

	byPath := make(map[string]host.InputFile, len(files))
	for _, f := range files {
		rel, relErr := filepath.Rel(root, f.Path)
		require.NoError(t, relErr)

		byPath[filepath.ToSlash(rel)] = f
	}

	assert.Len(t, byPath, 3)
	assert.Equal(t, host.TypeMain, byPath["src/app.ts"].Type)
	assert.Equal(t, host.LangTS, byPath["src/app.ts"].Language)
	assert.Equal(t, host.TypeTest, byPath["src/app.test.ts"].Type)
	assert.Equal(t, host.LangCSS, byPath["src/style.css"].Language)
	assert.Equal(t, host.StatusChanged, byPath["src/app.ts"].Status)
}

func TestCollectFilesCached(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	writeTree(t, root, "same.js", "edited.js")

	cache, err := analysis.NewCPDCache(8)
	require.NoError(t, err)

	same := filepath.Join(root, "same.js")
	edited := filepath.Join(root, "edited.js")
	cache.Put(same, []byte("x"), nil)
	cache.Put(edited, []byte("old content"), nil)

	files, err := CollectFiles(root, nil, cache)
	require.NoError(t, err)
	require.Len(t, files, 2)

	status := map[string]host.FileStatus{}
	for _, f := range files {
		status[f.Path] = f.Status
	}

	assert.Equal(t, host.StatusSame, status[same])
	assert.Equal(t, host.StatusChanged, status[edited])
	assert.Zero(t, cache.Hits()+cache.Misses())
}

func TestCollectFilesMissingRoot(t *testing.T) {
	t.Parallel()

	_, err := CollectFiles(filepath.Join(t.TempDir(), "absent"), nil, nil)
	require.Error(t, err)
}

func TestExcluded(t *testing.T) {
	t.Parallel()

	tests := []struct {
		rel  string
		dir  bool
		want bool
	}{
		{".", true, false},
		{"node_modules", true, true},
		{"pkg/node_modules", true, true},
		{"src", true, false},
		{"src/app.js", false, false},
		{"lib/app.min.js", false, true},
		{"dist/app.js", false, true},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, excluded(tt.rel, tt.dir, defaultExcludes), tt.rel)
	}
}

func TestRenderStatus(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer

	RenderStatus(&buf, StatusRow{
		Telemetry: engine.Telemetry{Executable: "/usr/bin/node", Origin: engine.OriginPath, Version: "v20.11.0"},
		Command:   "/usr/bin/node server.mjs 41234",
		Status:    "OK!",
	}, true)

	out := buf.String()
	assert.Contains(t, out, "/usr/bin/node")
	assert.Contains(t, out, "path")
	assert.Contains(t, out, "v20.11.0")
	assert.Contains(t, out, "OK")
	assert.NotContains(t, out, "FAIL")
}

func TestRenderStatusFailure(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer

	RenderStatus(&buf, StatusRow{Err: errors.New("engine exited")}, true)

	assert.Contains(t, buf.String(), "FAIL: engine exited")
}

func TestAnalyzeRejectsUnknownFormat(t *testing.T) {
	t.Parallel()

	cmd := NewAnalyzeCommand(&GlobalOptions{})
	cmd.SetArgs([]string{"--format", "xml", t.TempDir()})
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})

	err := cmd.Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "xml")
}

func TestParsingRuleActive(t *testing.T) {
	t.Parallel()

	rt := &Runtime{Config: testConfig("S2260")}
	assert.True(t, rt.parsingRuleActive())

	rt.rules = []host.Rule{{Key: "S1234"}}
	assert.False(t, rt.parsingRuleActive())

	rt.rules = append(rt.rules, host.Rule{Key: "S2260"})
	assert.True(t, rt.parsingRuleActive())

	rt = &Runtime{Config: testConfig("")}
	assert.False(t, rt.parsingRuleActive())
}

func testConfig(parsingRule string) *config.Config {
	return &config.Config{Analysis: config.AnalysisConfig{ParsingErrorRule: parsingRule}}
}

func TestAnalyzeSuggestsFormat(t *testing.T) {
	t.Parallel()

	cmd := NewAnalyzeCommand(&GlobalOptions{})
	cmd.SetArgs([]string{"--format", "jsno", t.TempDir()})
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})

	err := cmd.Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), `did you mean "json"`)
}

// newEngineDouble serves the endpoints a config-mode run needs and reports
// one issue per analyzed file.
func newEngineDouble(t *testing.T, analyzed *atomic.Int32) int {
	t.Helper()

	mux := http.NewServeMux()
	mux.HandleFunc("/status", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("OK!"))
	})
	mux.HandleFunc("/init-linter", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("OK!"))
	})
	mux.HandleFunc("/analyze-jsts", func(w http.ResponseWriter, _ *http.Request) {
		analyzed.Add(1)

		_, _ = w.Write([]byte(`{"issues":[{"line":1,"column":0,"endLine":1,"endColumn":5,` +
			`"message":"Remove this constant","ruleId":"no-const"}],` +
			`"cpdTokens":[{"location":{"startLine":1,"startCol":0,"endLine":1,"endCol":5},"image":"const"}]}`))
	})

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	addr, ok := srv.Listener.Addr().(*net.TCPAddr)
	require.True(t, ok)

	return addr.Port
}

func TestRuntimeAnalyze_SecondRunKeepsIssues(t *testing.T) {
	t.Parallel()

	var analyzed atomic.Int32

	port := newEngineDouble(t, &analyzed)

	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "app.js"), []byte("const a = 1;\n"), 0o600))

	cfgPath := filepath.Join(t.TempDir(), "jsbridge.yaml")
	cfg := fmt.Sprintf("engine:\n  existing_port: %d\n  heartbeat_interval: 1h\n"+
		"analysis:\n  mode: config\n  type_checking: false\n"+
		"logging:\n  level: error\n", port)
	require.NoError(t, os.WriteFile(cfgPath, []byte(cfg), 0o600))

	run := func() int {
		rt, err := NewRuntime(GlobalOptions{ConfigPath: cfgPath}, root, observability.ModeCLI)
		require.NoError(t, err)
		defer rt.Close(context.Background())

		rep, err := rt.Analyze(context.Background(), defaultExcludes)
		require.NoError(t, err)

		return rep.IssueCount()
	}

	first := run()
	second := run()

	assert.Equal(t, 1, first)
	assert.Equal(t, first, second)
	assert.Equal(t, int32(2), analyzed.Load())
	assert.FileExists(t, filepath.Join(root, config.DefaultCacheDirectory, "cpd-tokens.json.lz4"))
}
