// Package orchestrator drives one analysis session: it selects files,
// resolves TypeScript configurations, sends requests to the engine in one of
// three modes and hands the results to the processor, moving through an
// explicit state machine.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/Sumatoshi-tech/jsbridge/pkg/analysis"
	"github.com/Sumatoshi-tech/jsbridge/pkg/bridge"
	"github.com/Sumatoshi-tech/jsbridge/pkg/engine"
	"github.com/Sumatoshi-tech/jsbridge/pkg/host"
	"github.com/Sumatoshi-tech/jsbridge/pkg/observability"
	"github.com/Sumatoshi-tech/jsbridge/pkg/tsconfig"
)

var _ Engine = (*bridge.Client)(nil)

// ErrSessionUsed is returned when Run is called twice on one session.
var ErrSessionUsed = errors.New("session already ran")

// Mode selects how files are sent to the engine.
type Mode string

// Request modes.
const (
	// ModeProgram builds one engine program per tsconfig and analyzes its files.
	ModeProgram Mode = "program"
	// ModeConfig analyzes files one by one with the tsconfig owning each.
	ModeConfig Mode = "config"
	// ModeStream sends the whole project over one streaming connection.
	ModeStream Mode = "stream"
)

const (
	defaultLinterID = "default"

	msgNoFiles        = "No input files found for analysis"
	msgCancelled      = "Analysis interrupted because the host requested cancellation"
	msgEngineDown     = "The analysis engine could not be started. Install Node.js (>= %s) or set the property 'sonar.nodejs.executable' to a Node.js executable."
	msgMissingConfig  = "At least one tsconfig.json was not found in the project. Please run 'npm install' for a more complete analysis. Check analysis logs for more details."
	msgOrphans        = "%d file(s) were not part of any tsconfig and were analyzed without complete type information."
	msgProgramFailed  = "Failed to create TypeScript program with TSConfig file %s: %s"
	msgParseFailures  = "Failed to parse %d file(s). Check analysis logs for more details."
	msgTransportError = "Failed to analyze file [%s]: the analysis engine did not answer."
)

// Engine is the subset of the bridge client a session needs.
type Engine interface {
	InitLinter(ctx context.Context, req bridge.InitLinterRequest) error
	Analyze(ctx context.Context, req bridge.AnalysisRequest) (bridge.AnalysisResponse, error)
	AnalyzeCSS(ctx context.Context, req bridge.CSSAnalysisRequest) (bridge.AnalysisResponse, error)
	CreateProgram(ctx context.Context, tsconfig string) (bridge.TsProgram, error)
	DeleteProgram(ctx context.Context, programID string) error
	CreateTsConfigFile(ctx context.Context, content string) (string, error)
	NewTsConfig(ctx context.Context) error
	AnalyzeProject(ctx context.Context, req bridge.ProjectAnalysisRequest, handler bridge.ProjectHandler,
		cancelled host.CancelCheck) (bridge.ProjectMeta, error)
}

// Runtime describes the engine runtime for telemetry.
type Runtime interface {
	Telemetry() engine.Telemetry
}

// Settings are the session-wide analysis settings.
type Settings struct {
	BaseDir      string
	Mode         Mode
	Capabilities host.Capabilities
	Rules        []host.Rule
	Environments []string
	Globals      []string
	// TsConfigPaths are forwarded to the engine in streaming mode.
	TsConfigPaths []string
	TypeChecking  bool
	SkipAST       bool
	FailFast      bool
	MaxFiles      int
	LinterID      string
}

// Session runs one analysis. It is not reusable.
type Session struct {
	settings  Settings
	engine    Engine
	resolver  *tsconfig.Resolver
	processor *analysis.Processor
	cpd       *analysis.CPDCache
	sink      host.Sink
	cancelled host.CancelCheck
	runtime   Runtime
	logger    *slog.Logger
	metrics   *observability.AnalysisMetrics

	mu          sync.Mutex
	state       State
	transitions []State
	ran         bool

	warned        map[string]struct{}
	analyzed      map[string]struct{}
	dependencies  []bridge.Dependency
	telemetry     Telemetry
	telemetryOnce sync.Once
}

// Option configures a Session.
type Option func(*Session)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Session) { s.logger = logger }
}

// WithResolver enables tsconfig resolution.
func WithResolver(resolver *tsconfig.Resolver) Option {
	return func(s *Session) { s.resolver = resolver }
}

// WithProcessor replaces the result processor.
func WithProcessor(processor *analysis.Processor) Option {
	return func(s *Session) { s.processor = processor }
}

// WithCPDCache serves unchanged files from cache.
func WithCPDCache(cache *analysis.CPDCache) Option {
	return func(s *Session) { s.cpd = cache }
}

// WithCancel sets the host cancellation check.
func WithCancel(cancelled host.CancelCheck) Option {
	return func(s *Session) { s.cancelled = cancelled }
}

// WithRuntime reports runtime telemetry from rt.
func WithRuntime(rt Runtime) Option {
	return func(s *Session) { s.runtime = rt }
}

// WithMetrics records cache lookups.
func WithMetrics(metrics *observability.AnalysisMetrics) Option {
	return func(s *Session) { s.metrics = metrics }
}

// New creates a session.
func New(eng Engine, sink host.Sink, settings Settings, opts ...Option) *Session {
	if settings.Mode == "" {
		settings.Mode = ModeProgram
	}

	if settings.LinterID == "" {
		settings.LinterID = defaultLinterID
	}

	s := &Session{
		settings:    settings,
		engine:      eng,
		sink:        sink,
		cancelled:   host.NeverCancel,
		logger:      slog.Default(),
		transitions: []State{StateIdle},
		warned:      make(map[string]struct{}),
		analyzed:    make(map[string]struct{}),
	}

	for _, opt := range opts {
		opt(s)
	}

	if s.processor == nil {
		s.processor = analysis.NewProcessor(
			analysis.WithLogger(s.logger),
			analysis.WithCapabilities(settings.Capabilities),
			analysis.WithFailFast(settings.FailFast),
			analysis.WithRules(settings.Rules),
			analysis.WithCPDCache(s.cpd),
			analysis.WithMetrics(s.metrics),
		)
	}

	return s
}

// State returns the current state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.state
}

// Transitions returns every state visited, in order.
func (s *Session) Transitions() []State {
	s.mu.Lock()
	defer s.mu.Unlock()

	return append([]State(nil), s.transitions...)
}

// Telemetry returns what was recorded at the end of the session.
func (s *Session) Telemetry() Telemetry {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.telemetry
}

func (s *Session) moveTo(next State) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state.Terminal() || s.state == next {
		return
	}

	s.state = next
	s.transitions = append(s.transitions, next)
}

// Run analyzes files. It returns nil on completion, bridge.ErrCancelled
// when the host cancelled, and the failure otherwise.
func (s *Session) Run(ctx context.Context, files []host.InputFile) error {
	s.mu.Lock()
	if s.ran {
		s.mu.Unlock()

		return ErrSessionUsed
	}

	s.ran = true
	s.mu.Unlock()

	if len(files) == 0 {
		s.logger.Info(msgNoFiles)
		s.moveTo(StateCompleted)

		return nil
	}

	s.moveTo(StateFilesSelected)

	err := s.run(ctx, files)
	if err != nil {
		return s.fail(err)
	}

	s.finish()
	s.moveTo(StateCompleted)

	return nil
}

func (s *Session) run(ctx context.Context, files []host.InputFile) error {
	if s.isCancelled(ctx) {
		return bridge.ErrCancelled
	}

	initErr := s.engine.InitLinter(ctx, bridge.InitLinterRequest{
		Rules:        engineRules(s.settings.Rules),
		Environments: s.settings.Environments,
		Globals:      s.settings.Globals,
		BaseDir:      s.settings.BaseDir,
		LinterID:     s.settings.LinterID,
	})
	if initErr != nil {
		return initErr
	}

	pending := s.selectPending(ctx, files)

	var scripts, others []host.InputFile

	for _, file := range pending {
		if isScript(file) {
			scripts = append(scripts, file)
		} else {
			others = append(others, file)
		}
	}

	if s.settings.Mode == ModeStream {
		s.moveTo(StateConfigResolved)

		return s.runStream(ctx, pending)
	}

	resolution, resolveErr := s.resolve(ctx, scripts)
	if resolveErr != nil {
		return resolveErr
	}

	s.moveTo(StateConfigResolved)
	s.moveTo(StateRequested)

	var err error

	if s.settings.Mode == ModeProgram && resolution.TypeChecking && len(resolution.Paths) > 0 {
		err = s.runPrograms(ctx, resolution.Paths, scripts)
	} else {
		err = s.runPerFile(ctx, scripts, resolution.TypeChecking)
	}

	if err != nil {
		return err
	}

	return s.analyzeAll(ctx, others, nil)
}

// selectPending replays cached files and returns those needing the engine.
func (s *Session) selectPending(ctx context.Context, files []host.InputFile) []host.InputFile {
	pending := make([]host.InputFile, 0, len(files))

	for _, file := range files {
		strategy, tokens := s.cpd.StrategyFor(file, s.settings.Capabilities.SkipUnchanged)

		if s.cpd != nil && s.settings.Capabilities.SkipUnchanged && file.Status == host.StatusSame {
			s.metrics.CacheLookup(ctx, strategy == analysis.StrategyReadAndWrite)
		}

		if strategy.AnalysisRequired() {
			pending = append(pending, file)

			continue
		}

		s.processor.Replay(ctx, s.sink, file, tokens)
		s.markAnalyzed(file.Path)
	}

	return pending
}

func (s *Session) resolve(ctx context.Context, scripts []host.InputFile) (tsconfig.Resolution, error) {
	if s.resolver == nil || !s.settings.TypeChecking || len(scripts) == 0 {
		return tsconfig.Resolution{TypeChecking: s.settings.TypeChecking}, nil
	}

	if s.resolver.Cache().ShouldClearDependencyCache() {
		s.logger.Debug("package.json changed, resetting engine tsconfig state")

		resetErr := s.engine.NewTsConfig(ctx)
		if resetErr != nil && isFatal(resetErr) {
			return tsconfig.Resolution{}, resetErr
		}
	}

	paths := make([]string, len(scripts))
	for idx, file := range scripts {
		paths[idx] = file.Path
	}

	resolution, err := s.resolver.Resolve(ctx, tsconfig.Request{
		BaseDir:     s.settings.BaseDir,
		InputFiles:  paths,
		Interactive: s.settings.Capabilities.Lightweight,
	})
	if err != nil {
		if isFatal(err) {
			return tsconfig.Resolution{}, err
		}

		s.warn(fmt.Sprintf("Failed to resolve tsconfig files: %v", err))

		return tsconfig.Resolution{TypeChecking: true}, nil
	}

	return resolution, nil
}

// runPerFile analyzes each file with the tsconfig owning it, if any.
// Files no tsconfig owns are still analyzed, and counted in one warning.
func (s *Session) runPerFile(ctx context.Context, files []host.InputFile, typeChecking bool) error {
	orphans := 0

	for _, file := range files {
		var configs []string

		if typeChecking && s.resolver != nil {
			if owner := s.resolver.Cache().ConfigForFile(ctx, file.Path); owner != nil {
				configs = []string{owner.Path()}
			} else {
				orphans++
			}
		}

		err := s.analyzeFile(ctx, file, configs, "")
		if err != nil {
			return err
		}
	}

	if orphans > 0 {
		s.warn(fmt.Sprintf(msgOrphans, orphans))
	}

	return nil
}

func (s *Session) analyzeAll(ctx context.Context, files []host.InputFile, configs []string) error {
	for _, file := range files {
		err := s.analyzeFile(ctx, file, configs, "")
		if err != nil {
			return err
		}
	}

	return nil
}

// analyzeFile sends one file and processes the result. Transport failures
// degrade to a warning unless the session fails fast.
func (s *Session) analyzeFile(ctx context.Context, file host.InputFile, configs []string, programID string) error {
	if s.isCancelled(ctx) {
		return bridge.ErrCancelled
	}

	if s.isAnalyzed(file.Path) {
		return nil
	}

	content, err := file.ContentForEngine(s.settings.Capabilities.Lightweight)
	if err != nil {
		s.logger.Warn("skipping unreadable file", "file", file.Path, "error", err)
		s.sink.AddAnalysisError(file.Path, err.Error(), 0)
		s.markAnalyzed(file.Path)

		return nil
	}

	var resp bridge.AnalysisResponse

	if file.Language == host.LangCSS {
		resp, err = s.engine.AnalyzeCSS(ctx, bridge.CSSAnalysisRequest{
			FilePath:    file.Path,
			FileContent: content,
			Rules:       cssRules(s.settings.Rules),
		})
	} else {
		resp, err = s.engine.Analyze(ctx, bridge.AnalysisRequest{
			FilePath:    file.Path,
			FileType:    file.Type,
			Language:    file.Language,
			FileContent: content,
			TsConfigs:   configs,
			ProgramID:   programID,
			LinterID:    s.settings.LinterID,
			SkipAST:     s.settings.SkipAST,
		})
	}

	s.markAnalyzed(file.Path)

	if err != nil {
		if isFatal(err) || s.settings.FailFast {
			return err
		}

		s.logger.Debug("engine request failed", "file", file.Path, "error", err)
		s.warn(fmt.Sprintf(msgTransportError, file.Path))
		s.sink.AddAnalysisError(file.Path, err.Error(), 0)

		return nil
	}

	return s.processor.Process(ctx, s.sink, file, resp)
}

// fail moves to a terminal state matching err and logs it once.
func (s *Session) fail(err error) error {
	switch {
	case errors.Is(err, bridge.ErrCancelled) || errors.Is(err, context.Canceled):
		s.logger.Info(msgCancelled)
		s.moveTo(StateCancelled)

		return bridge.ErrCancelled
	case errors.Is(err, engine.ErrEngineAlreadyFailed):
		s.logger.Debug("skipping analysis, the analysis engine failed earlier in this session")
	case errors.Is(err, engine.ErrEngineUnavailable):
		s.logger.Error(fmt.Sprintf(msgEngineDown, engine.DefaultMinVersion), "error", err)
	default:
		s.logger.Error("analysis failed", "error", err)
	}

	s.moveTo(StateFailed)

	return err
}

func (s *Session) finish() {
	if n := s.processor.ParseFailures(); n > 0 {
		s.warn(fmt.Sprintf(msgParseFailures, n))
	}

	s.recordTelemetry()
}

func (s *Session) isCancelled(ctx context.Context) bool {
	return ctx.Err() != nil || s.cancelled()
}

// warn records a warning once per session.
func (s *Session) warn(message string) {
	s.mu.Lock()
	_, dup := s.warned[message]
	s.warned[message] = struct{}{}
	s.mu.Unlock()

	if dup {
		return
	}

	s.logger.Warn(message)
	s.sink.AddWarning(message)
}

func (s *Session) markAnalyzed(path string) {
	s.mu.Lock()
	s.analyzed[path] = struct{}{}
	s.mu.Unlock()
}

func (s *Session) isAnalyzed(path string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, ok := s.analyzed[path]

	return ok
}

// isFatal reports errors that end the session regardless of fail-fast.
func isFatal(err error) bool {
	return errors.Is(err, engine.ErrEngineUnavailable) ||
		errors.Is(err, engine.ErrEngineAlreadyFailed) ||
		errors.Is(err, bridge.ErrCancelled) ||
		errors.Is(err, context.Canceled) ||
		errors.Is(err, analysis.ErrParse)
}

func isScript(file host.InputFile) bool {
	return file.Language == host.LangJS || file.Language == host.LangTS || file.Language == ""
}

func engineRules(rules []host.Rule) []bridge.EngineRule {
	out := make([]bridge.EngineRule, 0, len(rules))

	for _, rule := range rules {
		if rule.Language == host.LangCSS {
			continue
		}

		targets := make([]string, len(rule.FileTypes))
		for idx, ft := range rule.FileTypes {
			targets[idx] = string(ft)
		}

		if len(targets) == 0 {
			targets = []string{string(host.TypeMain)}
		}

		params := rule.Params
		if params == nil {
			params = []any{}
		}

		out = append(out, bridge.EngineRule{
			Key:             engineKey(rule),
			Configurations:  params,
			FileTypeTargets: targets,
			Language:        string(rule.Language),
		})
	}

	return out
}

func cssRules(rules []host.Rule) []bridge.CSSRule {
	var out []bridge.CSSRule

	for _, rule := range rules {
		if rule.Language != host.LangCSS {
			continue
		}

		params := rule.Params
		if params == nil {
			params = []any{}
		}

		out = append(out, bridge.CSSRule{Key: engineKey(rule), Configurations: params})
	}

	return out
}

func engineKey(rule host.Rule) string {
	if rule.EngineKey != "" {
		return rule.EngineKey
	}

	return rule.Key
}
