// Package lsp serves analysis results to editors over the Language Server
// Protocol. Every open, change or save of a JS/TS/CSS/YAML/HTML buffer runs a
// lightweight analysis of that buffer and publishes its issues as diagnostics.
package lsp

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"path/filepath"

	"github.com/tliron/glsp"
	protocol "github.com/tliron/glsp/protocol_3_16"
	"github.com/tliron/glsp/server"

	"github.com/Sumatoshi-tech/jsbridge/pkg/host"
	"github.com/Sumatoshi-tech/jsbridge/pkg/report"
)

const (
	serverName           = "jsbridge"
	methodDiagnostics    = "textDocument/publishDiagnostics"
	fileScheme           = "file"
	defaultServerVersion = "dev"
)

// AnalyzeFunc analyzes files and saves the findings on sink.
type AnalyzeFunc func(ctx context.Context, sink host.Sink, files []host.InputFile) error

// EventSink receives file-system changes reported by the editor.
type EventSink interface {
	DigestEvents(events []host.FileEvent)
}

// Server is the analysis language server.
type Server struct {
	store   *DocumentStore
	analyze AnalyzeFunc
	events  EventSink
	logger  *slog.Logger
	version string
	ctx     context.Context //nolint:containedctx // server lifetime.
	onExit  func()
	handler protocol.Handler
}

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(srv *Server) { srv.logger = logger }
}

// WithEventSink forwards watched file changes to events.
func WithEventSink(events EventSink) Option {
	return func(srv *Server) { srv.events = events }
}

// WithVersion sets the version announced on initialize.
func WithVersion(version string) Option {
	return func(srv *Server) { srv.version = version }
}

// WithShutdown runs fn when the editor asks the server to shut down.
func WithShutdown(fn func()) Option {
	return func(srv *Server) { srv.onExit = fn }
}

// NewServer creates a server running analyze on every buffer update.
func NewServer(analyze AnalyzeFunc, opts ...Option) *Server {
	srv := &Server{
		store:   NewDocumentStore(),
		analyze: analyze,
		logger:  slog.Default(),
		version: defaultServerVersion,
		ctx:     context.Background(),
		onExit:  func() {},
	}

	for _, opt := range opts {
		opt(srv)
	}

	srv.handler = protocol.Handler{
		Initialize:                     srv.initialize,
		Initialized:                    srv.initialized,
		Shutdown:                       srv.shutdown,
		SetTrace:                       srv.setTrace,
		TextDocumentDidOpen:            srv.didOpen,
		TextDocumentDidChange:          srv.didChange,
		TextDocumentDidSave:            srv.didSave,
		TextDocumentDidClose:           srv.didClose,
		TextDocumentCodeAction:         srv.codeAction,
		WorkspaceDidChangeWatchedFiles: srv.didChangeWatchedFiles,
	}

	return srv
}

// Run serves on stdio until the editor disconnects or ctx is done.
func (srv *Server) Run(ctx context.Context) error {
	srv.ctx = ctx

	lspServer := server.NewServer(&srv.handler, serverName, false)

	err := lspServer.RunStdio()
	if err != nil {
		return fmt.Errorf("lsp server: %w", err)
	}

	return nil
}

func (srv *Server) initialize(_ *glsp.Context, _ *protocol.InitializeParams) (any, error) {
	capabilities := srv.handler.CreateServerCapabilities()
	capabilities.TextDocumentSync = protocol.TextDocumentSyncKindFull

	return protocol.InitializeResult{
		Capabilities: capabilities,
		ServerInfo: &protocol.InitializeResultServerInfo{
			Name:    serverName,
			Version: &srv.version,
		},
	}, nil
}

func (srv *Server) initialized(_ *glsp.Context, _ *protocol.InitializedParams) error {
	return nil
}

func (srv *Server) shutdown(_ *glsp.Context) error {
	protocol.SetTraceValue(protocol.TraceValueOff)
	srv.onExit()

	return nil
}

func (srv *Server) setTrace(_ *glsp.Context, params *protocol.SetTraceParams) error {
	protocol.SetTraceValue(params.Value)

	return nil
}

func (srv *Server) didOpen(ctx *glsp.Context, params *protocol.DidOpenTextDocumentParams) error {
	uri := params.TextDocument.URI

	srv.store.Set(uri, params.TextDocument.Text)
	srv.publishDiagnostics(ctx, uri)

	return nil
}

func (srv *Server) didChange(ctx *glsp.Context, params *protocol.DidChangeTextDocumentParams) error {
	uri := params.TextDocument.URI

	text, ok := lastWholeText(params.ContentChanges)
	if !ok {
		return nil
	}

	srv.store.Set(uri, text)
	srv.publishDiagnostics(ctx, uri)

	return nil
}

// lastWholeText returns the final full-document text among changes.
func lastWholeText(changes []any) (string, bool) {
	for idx := len(changes) - 1; idx >= 0; idx-- {
		switch change := changes[idx].(type) {
		case protocol.TextDocumentContentChangeEventWhole:
			return change.Text, true
		case protocol.TextDocumentContentChangeEvent:
			if change.Range == nil {
				return change.Text, true
			}
		case map[string]any:
			if text, ok := change["text"].(string); ok {
				return text, true
			}
		}
	}

	return "", false
}

func (srv *Server) didSave(ctx *glsp.Context, params *protocol.DidSaveTextDocumentParams) error {
	uri := params.TextDocument.URI

	if params.Text != nil {
		srv.store.Set(uri, *params.Text)
	}

	if _, ok := srv.store.Get(uri); ok {
		srv.publishDiagnostics(ctx, uri)
	}

	return nil
}

func (srv *Server) didClose(ctx *glsp.Context, params *protocol.DidCloseTextDocumentParams) error {
	uri := params.TextDocument.URI
	srv.store.Delete(uri)

	ctx.Notify(methodDiagnostics, &protocol.PublishDiagnosticsParams{URI: uri, Diagnostics: []protocol.Diagnostic{}})

	return nil
}

func (srv *Server) codeAction(_ *glsp.Context, params *protocol.CodeActionParams) (any, error) {
	uri := params.TextDocument.URI

	return codeActions(uri, srv.store.Issues(uri), params.Range), nil
}

func (srv *Server) didChangeWatchedFiles(_ *glsp.Context, params *protocol.DidChangeWatchedFilesParams) error {
	if srv.events == nil {
		return nil
	}

	events := make([]host.FileEvent, 0, len(params.Changes))

	for _, change := range params.Changes {
		path, ok := uriToPath(change.URI)
		if !ok {
			continue
		}

		events = append(events, host.FileEvent{Path: path, Kind: eventKind(change.Type)})
	}

	srv.logger.Debug("watched files changed", "count", len(events))
	srv.events.DigestEvents(events)

	return nil
}

func eventKind(kind protocol.UInteger) host.EventKind {
	switch kind {
	case protocol.FileChangeTypeCreated:
		return host.EventCreated
	case protocol.FileChangeTypeDeleted:
		return host.EventDeleted
	default:
		return host.EventModified
	}
}

// publishDiagnostics analyzes uri and publishes its findings. Unsupported
// files get an empty list.
func (srv *Server) publishDiagnostics(ctx *glsp.Context, uri string) {
	diags := []protocol.Diagnostic{}

	if file, ok := srv.inputFile(uri); ok {
		sink := report.NewCollector()

		err := srv.analyze(srv.ctx, sink, []host.InputFile{file})
		if err != nil {
			srv.logger.Warn("analysis failed", "uri", uri, "error", err)
		}

		srv.store.SetIssues(uri, sink.Issues(file.Path))
		diags = diagnostics(uri, file.Path, sink.Snapshot())
	}

	ctx.Notify(methodDiagnostics, &protocol.PublishDiagnosticsParams{URI: uri, Diagnostics: diags})
}

// inputFile builds the analysis input for an open buffer.
func (srv *Server) inputFile(uri string) (host.InputFile, bool) {
	text, ok := srv.store.Get(uri)
	if !ok {
		return host.InputFile{}, false
	}

	path, ok := uriToPath(uri)
	if !ok {
		return host.InputFile{}, false
	}

	lang, ok := host.DetectLanguage(path)
	if !ok {
		srv.logger.Debug("unsupported document", "uri", uri)

		return host.InputFile{}, false
	}

	fileType := host.TypeMain
	if host.IsTestPath(path) {
		fileType = host.TypeTest
	}

	return host.InputFile{
		Path:     path,
		Content:  []byte(text),
		Type:     fileType,
		Status:   host.StatusChanged,
		Language: lang,
	}, true
}

func uriToPath(uri string) (string, bool) {
	parsed, err := url.Parse(uri)
	if err != nil || parsed.Scheme != fileScheme {
		return "", false
	}

	return filepath.FromSlash(parsed.Path), true
}
