// Package commands implements the jsbridge CLI commands.
package commands

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/Sumatoshi-tech/jsbridge/pkg/analysis"
	"github.com/Sumatoshi-tech/jsbridge/pkg/bridge"
	"github.com/Sumatoshi-tech/jsbridge/pkg/config"
	"github.com/Sumatoshi-tech/jsbridge/pkg/engine"
	"github.com/Sumatoshi-tech/jsbridge/pkg/host"
	"github.com/Sumatoshi-tech/jsbridge/pkg/observability"
	"github.com/Sumatoshi-tech/jsbridge/pkg/orchestrator"
	"github.com/Sumatoshi-tech/jsbridge/pkg/tsconfig"
	"github.com/Sumatoshi-tech/jsbridge/pkg/version"
)

const diagnosticsReadHeaderTimeout = 5 * time.Second

// GlobalOptions are the flags shared by every command.
type GlobalOptions struct {
	ConfigPath string
	Properties []string
	Verbose    bool
}

// Runtime wires configuration, telemetry, the engine and the tsconfig
// resolver for one command invocation.
type Runtime struct {
	Config     *config.Config
	BaseDir    string
	Logger     *slog.Logger
	Supervisor *engine.Supervisor
	Client     *bridge.Client
	Resolver   *tsconfig.Resolver
	CPD        *analysis.CPDCache

	providers   observability.Providers
	analysis    *observability.AnalysisMetrics
	diagnostics *http.Server
	rules       []host.Rule
}

// NewRuntime loads configuration for baseDir and builds the runtime.
func NewRuntime(opts GlobalOptions, baseDir string, mode observability.AppMode) (*Runtime, error) {
	props := make(map[string]string, len(opts.Properties))

	for _, raw := range opts.Properties {
		key, value, err := config.ParseProperty(raw)
		if err != nil {
			return nil, err
		}

		props[key] = value
	}

	absDir, err := filepath.Abs(baseDir)
	if err != nil {
		return nil, fmt.Errorf("resolve %s: %w", baseDir, err)
	}

	cfg, err := config.Load(opts.ConfigPath, props)
	if err != nil {
		return nil, err
	}

	if opts.Verbose {
		cfg.Logging.Level = "debug"
	}

	providers, err := observability.Init(cfg.ObservabilitySettings(mode, version.Version))
	if err != nil {
		return nil, err
	}

	rt := &Runtime{Config: cfg, BaseDir: absDir, Logger: providers.Logger, providers: providers}

	buildErr := rt.build()
	if buildErr != nil {
		return nil, errors.Join(buildErr, providers.Shutdown(context.Background()))
	}

	return rt, nil
}

func (rt *Runtime) build() error {
	cfg := rt.Config

	red, err := observability.NewREDMetrics(rt.providers.Meter)
	if err != nil {
		return err
	}

	rt.analysis, err = observability.NewAnalysisMetrics(rt.providers.Meter)
	if err != nil {
		return err
	}

	rt.Supervisor = engine.New(cfg.EngineSettings(rt.BaseDir),
		engine.WithLogger(observability.ForComponent(rt.Logger, observability.ComponentEngine)))
	rt.Client = bridge.New(rt.Supervisor,
		bridge.WithLogger(observability.ForComponent(rt.Logger, observability.ComponentBridge)),
		bridge.WithTracer(rt.providers.Tracer),
		bridge.WithMetrics(red),
		bridge.WithHTTPClient(&http.Client{
			Timeout:   cfg.Engine.RequestTimeout,
			Transport: observability.NewTracingTransport(nil, rt.providers.Tracer),
		}),
	)

	tsLogger := observability.ForComponent(rt.Logger, observability.ComponentTsConfig)
	warn := func(msg string) { tsLogger.Warn(msg) }

	cache := tsconfig.NewCache(orchestrator.EngineLoader(rt.Client),
		tsconfig.WithCacheLogger(tsLogger), tsconfig.WithWarnings(warn))
	lookup := tsconfig.NewLookupProvider(tsLogger)
	fallback := tsconfig.NewFallbackProvider(rt.Client, cfg.TsConfig.MaxFiles, lookup.ProjectSize, tsLogger)
	fallback.OnWarning(warn)

	rt.Resolver = tsconfig.NewResolver(cache, tsLogger,
		tsconfig.NewPropertyProvider(strings.Join(cfg.TsConfig.Paths, ","), tsLogger),
		lookup,
		fallback,
	)

	rt.rules = cfg.Analysis.HostRules()

	if cfg.Cache.Enabled {
		rt.CPD, err = analysis.NewCPDCache(cfg.Cache.Size)
		if err != nil {
			return err
		}

		loaded, loadErr := rt.CPD.Load(rt.cacheDir())
		if loadErr != nil {
			rt.Logger.Warn("ignoring unreadable analysis cache", "error", loadErr)
		} else {
			rt.Logger.Debug("analysis cache loaded", "entries", loaded)
		}
	}

	if cfg.Telemetry.MetricsAddr != "" {
		rt.startDiagnostics(cfg.Telemetry.MetricsAddr)
	}

	return nil
}

func (rt *Runtime) cacheDir() string {
	dir := rt.Config.Cache.Directory
	if filepath.IsAbs(dir) {
		return dir
	}

	return filepath.Join(rt.BaseDir, dir)
}

// startDiagnostics serves health, readiness and metrics endpoints.
func (rt *Runtime) startDiagnostics(addr string) {
	ready := func(context.Context) error {
		return rt.Supervisor.Failure()
	}

	rt.diagnostics = &http.Server{
		Addr:              addr,
		Handler:           observability.NewDiagnosticsMux(rt.providers, ready),
		ReadHeaderTimeout: diagnosticsReadHeaderTimeout,
	}

	go func() {
		err := rt.diagnostics.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			rt.Logger.Warn("diagnostics server stopped", "addr", addr, "error", err)
		}
	}()

	rt.Logger.Info("diagnostics server listening", "addr", addr)
}

// Capabilities returns what this host supports. Findings are not kept
// between runs, so unchanged files are never skipped.
func (rt *Runtime) Capabilities(lightweight bool) host.Capabilities {
	return host.Capabilities{
		QuickFixes:  rt.Config.Analysis.QuickFixes,
		Telemetry:   true,
		Lightweight: lightweight,
	}
}

// NewSession creates an analysis session saving findings on sink.
func (rt *Runtime) NewSession(
	sink host.Sink, caps host.Capabilities, mode orchestrator.Mode, cancelled host.CancelCheck,
) *orchestrator.Session {
	cfg := rt.Config

	procOpts := []analysis.Option{
		analysis.WithLogger(observability.ForComponent(rt.Logger, observability.ComponentAnalysis)),
		analysis.WithCapabilities(caps),
		analysis.WithMetrics(rt.analysis),
		analysis.WithCPDCache(rt.CPD),
		analysis.WithFailFast(cfg.Analysis.FailFast),
		analysis.WithRules(rt.rules),
	}

	if rt.parsingRuleActive() {
		procOpts = append(procOpts, analysis.WithParsingErrorRule(cfg.Analysis.ParsingErrorRule))
	}

	settings := orchestrator.Settings{
		BaseDir:       rt.BaseDir,
		Mode:          mode,
		Capabilities:  caps,
		Rules:         rt.rules,
		Environments:  cfg.Analysis.Environments,
		Globals:       cfg.Analysis.Globals,
		TsConfigPaths: cfg.TsConfig.Paths,
		TypeChecking:  cfg.Analysis.TypeChecking,
		SkipAST:       cfg.Analysis.SkipAST,
		FailFast:      cfg.Analysis.FailFast,
		MaxFiles:      cfg.TsConfig.MaxFiles,
	}

	return orchestrator.New(rt.Client, sink, settings,
		orchestrator.WithLogger(observability.ForComponent(rt.Logger, observability.ComponentSession)),
		orchestrator.WithResolver(rt.Resolver),
		orchestrator.WithProcessor(analysis.NewProcessor(procOpts...)),
		orchestrator.WithCPDCache(rt.CPD),
		orchestrator.WithCancel(cancelled),
		orchestrator.WithRuntime(rt.Supervisor),
		orchestrator.WithMetrics(rt.analysis),
	)
}

// parsingRuleActive reports whether parse errors are raised as issues: always
// without a rule list, otherwise only when the list names the rule.
func (rt *Runtime) parsingRuleActive() bool {
	key := rt.Config.Analysis.ParsingErrorRule
	if key == "" {
		return false
	}

	if len(rt.rules) == 0 {
		return true
	}

	return slices.ContainsFunc(rt.rules, func(r host.Rule) bool { return r.Key == key })
}

// Close persists the cache, stops the engine and flushes telemetry.
func (rt *Runtime) Close(ctx context.Context) {
	if rt.CPD != nil {
		err := rt.CPD.Save(rt.cacheDir())
		if err != nil {
			rt.Logger.Warn("analysis cache not saved", "error", err)
		}
	}

	stopErr := rt.Supervisor.Stop(ctx)
	if stopErr != nil {
		rt.Logger.Debug("engine stop", "error", stopErr)
	}

	if rt.diagnostics != nil {
		shutdownErr := rt.diagnostics.Shutdown(ctx)
		if shutdownErr != nil {
			rt.Logger.Debug("diagnostics server shutdown", "error", shutdownErr)
		}
	}

	flushErr := rt.providers.Shutdown(ctx)
	if flushErr != nil {
		rt.Logger.Warn("observability shutdown failed", "error", flushErr)
	}
}
