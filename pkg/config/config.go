// Package config loads jsbridge configuration from defaults, a .jsbridge.yaml
// file, a .env file, JSBRIDGE_* environment variables and host properties,
// in increasing order of precedence.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/Sumatoshi-tech/jsbridge/pkg/engine"
	"github.com/Sumatoshi-tech/jsbridge/pkg/host"
	"github.com/Sumatoshi-tech/jsbridge/pkg/levenshtein"
	"github.com/Sumatoshi-tech/jsbridge/pkg/observability"
)

// Sentinel validation errors.
var (
	ErrInvalidMaxFiles  = errors.New("tsconfig max files must be positive")
	ErrInvalidMode      = errors.New("unknown analysis mode")
	ErrInvalidPort      = errors.New("invalid existing engine port")
	ErrInvalidCacheSize = errors.New("cache size must be positive")
	ErrInvalidLogLevel  = errors.New("unknown log level")
	ErrInvalidLogFormat = errors.New("unknown log format")
	ErrInvalidTimeout   = errors.New("timeouts must be positive")
)

// Analysis modes.
const (
	// ModeProgram analyzes files through engine-side programs built per tsconfig.
	ModeProgram = "program"
	// ModeConfig analyzes files one by one with the tsconfig that owns them.
	ModeConfig = "config"
	// ModeStream sends the whole project over one streaming connection.
	ModeStream = "stream"
)

const (
	envPrefix     = "JSBRIDGE"
	configName    = ".jsbridge"
	configType    = "yaml"
	maxPort       = 65535
	disabledPort  = -1
	logFormatJSON = "json"
	logFormatText = "text"
)

// Config holds all jsbridge configuration.
type Config struct {
	Engine    EngineConfig    `mapstructure:"engine"`
	TsConfig  TsConfigConfig  `mapstructure:"tsconfig"`
	Analysis  AnalysisConfig  `mapstructure:"analysis"`
	Cache     CacheConfig     `mapstructure:"cache"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Telemetry TelemetryConfig `mapstructure:"telemetry"`
}

// EngineConfig configures the engine process.
type EngineConfig struct {
	Executable        string        `mapstructure:"executable"`
	EmbeddedDir       string        `mapstructure:"embedded_dir"`
	ServerScript      string        `mapstructure:"server_script"`
	Host              string        `mapstructure:"host"`
	MinVersion        string        `mapstructure:"min_version"`
	Args              []string      `mapstructure:"args"`
	StartTimeout      time.Duration `mapstructure:"start_timeout"`
	HeartbeatInterval time.Duration `mapstructure:"heartbeat_interval"`
	RequestTimeout    time.Duration `mapstructure:"request_timeout"`
	MaxOldSpaceMB     int           `mapstructure:"max_old_space_mb"`
	// ExistingPort attaches to a running engine. Zero falls back to the
	// environment, -1 never attaches.
	ExistingPort int  `mapstructure:"existing_port"`
	Debug        bool `mapstructure:"debug"`
}

// TsConfigConfig configures tsconfig resolution.
type TsConfigConfig struct {
	Paths    []string `mapstructure:"paths"`
	MaxFiles int      `mapstructure:"max_files"`
	Watch    bool     `mapstructure:"watch"`
}

// AnalysisConfig configures the analysis session.
type AnalysisConfig struct {
	Mode             string       `mapstructure:"mode"`
	ParsingErrorRule string       `mapstructure:"parsing_error_rule"`
	Environments     []string     `mapstructure:"environments"`
	Globals          []string     `mapstructure:"globals"`
	Rules            []RuleConfig `mapstructure:"rules"`
	TypeChecking     bool         `mapstructure:"type_checking"`
	QuickFixes       bool         `mapstructure:"quick_fixes"`
	SkipAST          bool         `mapstructure:"skip_ast"`
	FailFast         bool         `mapstructure:"fail_fast"`
}

// RuleConfig is one active rule.
type RuleConfig struct {
	Key       string   `mapstructure:"key"`
	EngineKey string   `mapstructure:"engine_key"`
	Language  string   `mapstructure:"language"`
	FileTypes []string `mapstructure:"file_types"`
	Params    []any    `mapstructure:"params"`
}

// HostRules converts the configured rules. A rule without an engine key uses
// its host key on both sides.
func (a AnalysisConfig) HostRules() []host.Rule {
	rules := make([]host.Rule, 0, len(a.Rules))

	for _, rc := range a.Rules {
		rule := host.Rule{
			Key:       rc.Key,
			EngineKey: rc.EngineKey,
			Params:    rc.Params,
			Language:  host.Language(rc.Language),
		}

		if rule.EngineKey == "" {
			rule.EngineKey = rc.Key
		}

		if rule.Language == "" {
			rule.Language = host.LangJS
		}

		for _, ft := range rc.FileTypes {
			rule.FileTypes = append(rule.FileTypes, host.FileType(strings.ToUpper(ft)))
		}

		rules = append(rules, rule)
	}

	return rules
}

// CacheConfig configures the duplication token cache.
type CacheConfig struct {
	Directory string `mapstructure:"directory"`
	Size      int    `mapstructure:"size"`
	Enabled   bool   `mapstructure:"enabled"`
}

// LoggingConfig configures logging.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// TelemetryConfig configures tracing and metrics export.
type TelemetryConfig struct {
	OTLPEndpoint string  `mapstructure:"otlp_endpoint"`
	OTLPHeaders  string  `mapstructure:"otlp_headers"`
	MetricsAddr  string  `mapstructure:"metrics_addr"`
	SampleRatio  float64 `mapstructure:"sample_ratio"`
	OTLPInsecure bool    `mapstructure:"otlp_insecure"`
}

// Load reads configuration. An empty configPath searches for .jsbridge.yaml
// in the working directory and the user's home. Properties are host
// settings given as sonar.* keys and override everything else.
func Load(configPath string, properties map[string]string) (*Config, error) {
	// A missing .env file is fine.
	_ = godotenv.Load()

	v := viper.New()
	applyDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName(configName)
		v.SetConfigType(configType)
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME")
	}

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	readErr := v.ReadInConfig()
	if readErr != nil {
		var notFoundErr viper.ConfigFileNotFoundError
		if !errors.As(readErr, &notFoundErr) {
			return nil, fmt.Errorf("failed to read config file: %w", readErr)
		}
	}

	propErr := ApplyProperties(v, properties)
	if propErr != nil {
		return nil, propErr
	}

	var cfg Config

	unmarshalErr := v.Unmarshal(&cfg)
	if unmarshalErr != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", unmarshalErr)
	}

	validateErr := cfg.Validate()
	if validateErr != nil {
		return nil, fmt.Errorf("invalid configuration: %w", validateErr)
	}

	return &cfg, nil
}

// Validate checks value ranges.
func (c *Config) Validate() error {
	if c.TsConfig.MaxFiles <= 0 {
		return fmt.Errorf("%w: %d", ErrInvalidMaxFiles, c.TsConfig.MaxFiles)
	}

	switch c.Analysis.Mode {
	case ModeProgram, ModeConfig, ModeStream:
	default:
		return fmt.Errorf("%w: %q%s", ErrInvalidMode, c.Analysis.Mode,
			levenshtein.Suggest(c.Analysis.Mode, []string{ModeProgram, ModeConfig, ModeStream}))
	}

	if c.Engine.ExistingPort < disabledPort || c.Engine.ExistingPort > maxPort {
		return fmt.Errorf("%w: %d", ErrInvalidPort, c.Engine.ExistingPort)
	}

	if c.Engine.StartTimeout <= 0 || c.Engine.RequestTimeout <= 0 {
		return ErrInvalidTimeout
	}

	if c.Cache.Enabled && c.Cache.Size <= 0 {
		return fmt.Errorf("%w: %d", ErrInvalidCacheSize, c.Cache.Size)
	}

	_, levelErr := c.Logging.SlogLevel()
	if levelErr != nil {
		return levelErr
	}

	switch c.Logging.Format {
	case logFormatJSON, logFormatText:
	default:
		return fmt.Errorf("%w: %q", ErrInvalidLogFormat, c.Logging.Format)
	}

	return nil
}

// SlogLevel parses the configured level.
func (l LoggingConfig) SlogLevel() (slog.Level, error) {
	var level slog.Level

	err := level.UnmarshalText([]byte(l.Level))
	if err != nil {
		return slog.LevelInfo, fmt.Errorf("%w: %q", ErrInvalidLogLevel, l.Level)
	}

	return level, nil
}

// EngineSettings converts the engine section for the supervisor.
func (c *Config) EngineSettings(workDir string) engine.Config {
	return engine.Config{
		Executable:        c.Engine.Executable,
		EmbeddedDir:       c.Engine.EmbeddedDir,
		ServerScript:      c.Engine.ServerScript,
		WorkDir:           workDir,
		Host:              c.Engine.Host,
		MinVersion:        c.Engine.MinVersion,
		RuntimeArgs:       c.Engine.Args,
		MaxOldSpaceMB:     c.Engine.MaxOldSpaceMB,
		ExistingPort:      c.Engine.ExistingPort,
		StartTimeout:      c.Engine.StartTimeout,
		HeartbeatInterval: c.Engine.HeartbeatInterval,
		Debug:             c.Engine.Debug,
	}
}

// ObservabilitySettings converts the logging and telemetry sections.
func (c *Config) ObservabilitySettings(mode observability.AppMode, version string) observability.Config {
	obs := observability.DefaultConfig()
	obs.Mode = mode
	obs.ServiceVersion = version
	obs.OTLPEndpoint = c.Telemetry.OTLPEndpoint
	obs.OTLPHeaders = observability.ParseOTLPHeaders(c.Telemetry.OTLPHeaders)
	obs.OTLPInsecure = c.Telemetry.OTLPInsecure
	obs.SampleRatio = c.Telemetry.SampleRatio
	obs.Prometheus = c.Telemetry.MetricsAddr != ""
	obs.LogJSON = c.Logging.Format == logFormatJSON

	level, err := c.Logging.SlogLevel()
	if err == nil {
		obs.LogLevel = level
	}

	return obs
}
