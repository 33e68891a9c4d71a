package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"

	"github.com/Sumatoshi-tech/jsbridge/pkg/bridge"
	"github.com/Sumatoshi-tech/jsbridge/pkg/host"
)

const msgProjectFailed = "Failed to analyze the project: %s"

// runStream sends every pending file in one project request and processes
// results as the engine streams them back.
func (s *Session) runStream(ctx context.Context, files []host.InputFile) error {
	s.moveTo(StateRequested)

	if len(files) == 0 {
		return nil
	}

	req := bridge.ProjectAnalysisRequest{
		Files: make(map[string]bridge.ProjectFile, len(files)),
		Rules: engineRules(s.settings.Rules),
		Configuration: bridge.ProjectConfiguration{
			BaseDir:                 s.settings.BaseDir,
			TsConfigPaths:           s.settings.TsConfigPaths,
			Environments:            s.settings.Environments,
			Globals:                 s.settings.Globals,
			SkipAST:                 s.settings.SkipAST,
			Lightweight:             s.settings.Capabilities.Lightweight,
			CanAccessFileSystem:     true,
			MaxFilesForTypeChecking: s.settings.MaxFiles,
		},
	}

	handler := &streamHandler{session: s, ctx: ctx, files: make(map[string]host.InputFile, len(files))}

	for _, file := range files {
		content, err := file.ContentForEngine(s.settings.Capabilities.Lightweight)
		if err != nil {
			s.logger.Warn("skipping unreadable file", "file", file.Path, "error", err)
			s.sink.AddAnalysisError(file.Path, err.Error(), 0)

			continue
		}

		req.Files[file.Path] = bridge.ProjectFile{
			FilePath:    file.Path,
			FileType:    file.Type,
			FileStatus:  file.Status,
			Language:    file.Language,
			FileContent: content,
		}
		handler.files[filepath.Clean(file.Path)] = file
	}

	s.moveTo(StateStreaming)

	_, err := s.engine.AnalyzeProject(ctx, req, handler, s.cancelled)

	switch {
	case err == nil:
		return nil
	case errors.Is(err, bridge.ErrEngineReported) && !s.settings.FailFast:
		s.warn(fmt.Sprintf(msgProjectFailed, err))

		return nil
	default:
		return err
	}
}

// streamHandler routes streamed messages back into the session.
type streamHandler struct {
	session *Session
	ctx     context.Context //nolint:containedctx // scoped to one AnalyzeProject call.
	files   map[string]host.InputFile
	once    sync.Once
}

// FileResult implements bridge.ProjectHandler.
func (h *streamHandler) FileResult(filename string, resp bridge.AnalysisResponse) error {
	file, ok := h.files[filepath.Clean(filename)]
	if !ok {
		h.session.logger.Debug("result for a file outside the request", "file", filename)

		return nil
	}

	h.session.markAnalyzed(file.Path)

	return h.session.processor.Process(h.ctx, h.session.sink, file, resp)
}

// Meta implements bridge.ProjectHandler.
func (h *streamHandler) Meta(meta bridge.ProjectMeta) {
	h.once.Do(func() {
		for _, warning := range meta.Warnings {
			h.session.warn(warning)
		}

		h.session.mu.Lock()
		h.session.dependencies = append(h.session.dependencies, meta.Dependencies...)
		h.session.mu.Unlock()
	})
}
