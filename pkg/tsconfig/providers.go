package tsconfig

import (
	"context"
	"encoding/json"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/bmatcuk/doublestar"
	"github.com/src-d/enry/v2"
)

// DefaultMaxFiles is the project size above which the wildcard fallback is not used.
const DefaultMaxFiles = 20000

// configFileName is the file collected by the lookup walk.
const configFileName = "tsconfig.json"

// globMeta are the characters that turn a property entry into a pattern.
const globMeta = "*?[{"

// excludedDirs are never descended into by the lookup walk.
var excludedDirs = map[string]struct{}{
	"node_modules":     {},
	"bower_components": {},
	".git":             {},
	".svn":             {},
	".hg":              {},
	".scannerwork":     {},
	".sonar":           {},
	"dist":             {},
	"vendor":           {},
	"external":         {},
}

// sourceLanguages are the enry languages counted towards the project size.
var sourceLanguages = map[string]struct{}{
	"JavaScript": {},
	"TypeScript": {},
	"TSX":        {},
	"JSX":        {},
	"Vue":        {},
}

// Request carries what providers need to produce a configuration list.
type Request struct {
	// BaseDir is the project root.
	BaseDir string
	// InputFiles are the files selected for analysis.
	InputFiles []string
	// Interactive marks a lightweight session.
	Interactive bool
}

// Provider produces configuration paths for one origin.
type Provider interface {
	Origin() Origin
	Provide(ctx context.Context, req Request) ([]string, error)
}

// PropertyProvider expands the comma-separated tsconfig paths property.
type PropertyProvider struct {
	raw    string
	logger *slog.Logger
}

// NewPropertyProvider creates a provider for the given property value.
func NewPropertyProvider(raw string, logger *slog.Logger) *PropertyProvider {
	return &PropertyProvider{raw: raw, logger: logger}
}

// Origin implements Provider.
func (p *PropertyProvider) Origin() Origin { return OriginProperty }

// Provide resolves literal entries against the base directory and expands
// patterns. Entry order is kept; duplicates are dropped.
func (p *PropertyProvider) Provide(_ context.Context, req Request) ([]string, error) {
	var result []string

	seen := make(map[string]struct{})
	add := func(path string) {
		path = filepath.Clean(path)
		if _, dup := seen[path]; dup {
			return
		}

		seen[path] = struct{}{}
		result = append(result, path)
	}

	for entry := range strings.SplitSeq(p.raw, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}

		if !filepath.IsAbs(entry) {
			entry = filepath.Join(req.BaseDir, entry)
		}

		if !strings.ContainsAny(entry, globMeta) {
			if _, err := os.Stat(entry); err != nil {
				p.logger.Debug("tsconfig from property not found", "path", entry)

				continue
			}

			add(entry)

			continue
		}

		matches, err := doublestar.Glob(entry)
		if err != nil {
			return nil, fmt.Errorf("expand tsconfig pattern %q: %w", entry, err)
		}

		slices.Sort(matches)

		for _, m := range matches {
			add(m)
		}
	}

	p.logger.Debug("resolved tsconfig property", "count", len(result))

	return result, nil
}

// LookupProvider walks the project tree for tsconfig.json files.
type LookupProvider struct {
	logger      *slog.Logger
	projectSize atomic.Int64
	walked      atomic.Bool
}

// NewLookupProvider creates a lookup provider.
func NewLookupProvider(logger *slog.Logger) *LookupProvider {
	return &LookupProvider{logger: logger}
}

// Origin implements Provider.
func (p *LookupProvider) Origin() Origin { return OriginLookup }

// Provide walks req.BaseDir, skipping dependency and VCS directories, and
// counts JS/TS sources on the way.
func (p *LookupProvider) Provide(ctx context.Context, req Request) ([]string, error) {
	var (
		found []string
		size  int64
	)

	walkErr := filepath.WalkDir(req.BaseDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if path == req.BaseDir {
				return err
			}

			return nil
		}

		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}

		if d.IsDir() {
			if _, skip := excludedDirs[d.Name()]; skip && path != req.BaseDir {
				return filepath.SkipDir
			}

			return nil
		}

		if d.Name() == configFileName {
			found = append(found, path)
		}

		if isSourceName(d.Name()) {
			size++
		}

		return nil
	})
	if walkErr != nil {
		return nil, fmt.Errorf("walk %s: %w", req.BaseDir, walkErr)
	}

	p.projectSize.Store(size)
	p.walked.Store(true)
	p.logger.Debug("tsconfig lookup finished", "found", len(found), "sources", size)

	return found, nil
}

// ProjectSize returns the number of JS/TS sources seen by the last walk, or -1
// before any walk.
func (p *LookupProvider) ProjectSize() int {
	if !p.walked.Load() {
		return -1
	}

	return int(p.projectSize.Load())
}

// sourceExtensions covers extensions enry reports as ambiguous.
var sourceExtensions = map[string]struct{}{
	".js": {}, ".jsx": {}, ".mjs": {}, ".cjs": {},
	".ts": {}, ".tsx": {}, ".mts": {}, ".cts": {}, ".vue": {},
}

func isSourceName(name string) bool {
	lang, _ := enry.GetLanguageByExtension(name)
	if _, ok := sourceLanguages[lang]; ok {
		return true
	}

	_, ok := sourceExtensions[strings.ToLower(filepath.Ext(name))]

	return ok
}

// Writer persists a generated configuration and returns its path.
type Writer interface {
	WriteTsConfig(ctx context.Context, content []byte) (string, error)
}

// TempWriter writes generated configurations into a directory.
type TempWriter struct {
	Dir string
}

// WriteTsConfig implements Writer.
func (w TempWriter) WriteTsConfig(_ context.Context, content []byte) (string, error) {
	file, err := os.CreateTemp(w.Dir, "tsconfig-*.json")
	if err != nil {
		return "", fmt.Errorf("create tsconfig: %w", err)
	}
	defer file.Close()

	_, writeErr := file.Write(content)
	if writeErr != nil {
		return "", fmt.Errorf("write tsconfig: %w", writeErr)
	}

	return file.Name(), nil
}

// generatedConfig is the JSON shape of a synthetic configuration.
type generatedConfig struct {
	CompilerOptions map[string]any `json:"compilerOptions"`
	Files           []string       `json:"files,omitempty"`
	Include         []string       `json:"include,omitempty"`
}

func defaultCompilerOptions() map[string]any {
	return map[string]any{"allowJs": true, "noImplicitAny": true}
}

// FallbackProvider synthesizes a configuration when no other origin found one.
type FallbackProvider struct {
	writer      Writer
	maxFiles    int
	projectSize func() int
	logger      *slog.Logger
	warn        func(string)
	warnOnce    sync.Once
}

// NewFallbackProvider creates a fallback provider. projectSize reports the
// number of sources in the project, or a negative value when unknown.
func NewFallbackProvider(writer Writer, maxFiles int, projectSize func() int, logger *slog.Logger) *FallbackProvider {
	if maxFiles <= 0 {
		maxFiles = DefaultMaxFiles
	}

	return &FallbackProvider{
		writer:      writer,
		maxFiles:    maxFiles,
		projectSize: projectSize,
		logger:      logger,
		warn:        func(string) {},
	}
}

// Origin implements Provider.
func (p *FallbackProvider) Origin() Origin { return OriginFallback }

// OnWarning routes the project size warning to fn.
func (p *FallbackProvider) OnWarning(fn func(string)) {
	p.warn = fn
}

// Provide writes a configuration listing the input files, or in interactive
// sessions a wildcard configuration over the whole base directory. Projects
// at or above the size ceiling get ErrTypeCheckingDisabled instead.
func (p *FallbackProvider) Provide(ctx context.Context, req Request) ([]string, error) {
	cfg := generatedConfig{CompilerOptions: defaultCompilerOptions()}

	if req.Interactive {
		size := req.projectSize(p.projectSize)
		if size >= p.maxFiles {
			p.warnOnce.Do(func() {
				p.warn(fmt.Sprintf("Turning off type-checking of JavaScript files due to the project size exceeding %d "+
					"source files. Set property 'sonar.javascript.sonarlint.typechecking.maxfiles' to a higher value "+
					"to enable type-checking.", p.maxFiles))
			})

			return nil, ErrTypeCheckingDisabled
		}

		cfg.Include = []string{filepath.ToSlash(req.BaseDir) + "/**/*"}
	} else {
		if len(req.InputFiles) == 0 {
			return nil, nil
		}

		cfg.Files = req.InputFiles
	}

	content, err := json.Marshal(cfg)
	if err != nil {
		return nil, fmt.Errorf("encode fallback tsconfig: %w", err)
	}

	path, err := p.writer.WriteTsConfig(ctx, content)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConfigResolution, err)
	}

	p.logger.Debug("using generated tsconfig", "path", path, "interactive", req.Interactive)

	return []string{path}, nil
}

func (req Request) projectSize(fn func() int) int {
	if fn != nil {
		if size := fn(); size >= 0 {
			return size
		}
	}

	return len(req.InputFiles)
}
