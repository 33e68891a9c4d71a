package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"

	"github.com/Sumatoshi-tech/jsbridge/pkg/bridge"
	"github.com/Sumatoshi-tech/jsbridge/pkg/host"
)

// orphanConfig is the tsconfig written for files no program claimed.
type orphanConfig struct {
	CompilerOptions map[string]any `json:"compilerOptions"`
	Files           []string       `json:"files"`
}

// runPrograms walks the tsconfig worklist, analyzing each file with the first
// program that lists it, then handles files no program claimed.
func (s *Session) runPrograms(ctx context.Context, tsconfigs []string, files []host.InputFile) error {
	byPath := make(map[string]host.InputFile, len(files))
	for _, file := range files {
		byPath[filepath.Clean(file.Path)] = file
	}

	queue := append([]string(nil), tsconfigs...)
	seen := make(map[string]struct{}, len(queue))

	for len(queue) > 0 {
		path := filepath.Clean(queue[0])
		queue = queue[1:]

		if _, dup := seen[path]; dup {
			continue
		}

		seen[path] = struct{}{}

		refs, err := s.runProgram(ctx, path, byPath, false)
		if err != nil {
			return err
		}

		queue = append(queue, refs...)
	}

	var orphans []host.InputFile

	for _, file := range files {
		if !s.isAnalyzed(file.Path) {
			orphans = append(orphans, file)
		}
	}

	if len(orphans) == 0 {
		return nil
	}

	return s.runOrphans(ctx, orphans)
}

// runProgram creates one program, analyzes the listed input files and
// returns its project references. The program is deleted on every path out.
func (s *Session) runProgram(
	ctx context.Context, tsconfig string, byPath map[string]host.InputFile, orphan bool,
) ([]string, error) {
	if s.isCancelled(ctx) {
		return nil, bridge.ErrCancelled
	}

	program, err := s.engine.CreateProgram(ctx, tsconfig)
	if err != nil {
		if isFatal(err) || s.settings.FailFast {
			return nil, err
		}

		s.logger.Debug("create program failed", "tsconfig", tsconfig, "error", err)
		s.warn(fmt.Sprintf(msgProgramFailed, tsconfig, err))

		return nil, nil
	}

	program.Orphan = orphan

	if program.Error != "" {
		s.warn(fmt.Sprintf(msgProgramFailed, tsconfig, program.Error))

		return nil, nil
	}

	defer func() {
		delErr := s.engine.DeleteProgram(context.WithoutCancel(ctx), program.ProgramID)
		if delErr != nil {
			s.logger.Debug("delete program failed", "program", program.ProgramID, "error", delErr)
		}
	}()

	if program.MissingTsConfig {
		s.warn(msgMissingConfig)
	}

	s.logger.Debug("analyzing program", "tsconfig", tsconfig, "program", program.ProgramID,
		"files", len(program.Files), "orphan", program.Orphan)

	for _, listed := range program.Files {
		file, ok := byPath[filepath.Clean(listed)]
		if !ok {
			continue
		}

		analyzeErr := s.analyzeFile(ctx, file, nil, program.ProgramID)
		if analyzeErr != nil {
			return nil, analyzeErr
		}
	}

	return program.ProjectReferences, nil
}

// runOrphans analyzes files outside every tsconfig through a generated
// configuration, or one by one when the engine cannot create it.
func (s *Session) runOrphans(ctx context.Context, orphans []host.InputFile) error {
	s.warn(fmt.Sprintf(msgOrphans, len(orphans)))

	paths := make([]string, len(orphans))
	byPath := make(map[string]host.InputFile, len(orphans))

	for idx, file := range orphans {
		paths[idx] = filepath.ToSlash(file.Path)
		byPath[filepath.Clean(file.Path)] = file
	}

	content, err := json.Marshal(orphanConfig{
		CompilerOptions: map[string]any{"allowJs": true, "noImplicitAny": true},
		Files:           paths,
	})
	if err != nil {
		return fmt.Errorf("encode orphan tsconfig: %w", err)
	}

	tsconfig, createErr := s.engine.CreateTsConfigFile(ctx, string(content))

	switch {
	case createErr != nil && isFatal(createErr):
		return createErr
	case createErr != nil:
		s.logger.Debug("orphan tsconfig not created, analyzing files individually", "error", createErr)
	default:
		_, progErr := s.runProgram(ctx, tsconfig, byPath, true)
		if progErr != nil {
			return progErr
		}
	}

	for _, file := range orphans {
		analyzeErr := s.analyzeFile(ctx, file, nil, "")
		if analyzeErr != nil {
			return analyzeErr
		}
	}

	return nil
}
