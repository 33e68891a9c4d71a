package config

import (
	"github.com/spf13/viper"

	"github.com/Sumatoshi-tech/jsbridge/pkg/analysis"
	"github.com/Sumatoshi-tech/jsbridge/pkg/engine"
	"github.com/Sumatoshi-tech/jsbridge/pkg/tsconfig"
)

// Default configuration values.
const (
	DefaultParsingErrorRule = "S2260"
	DefaultRequestTimeout   = "5m"
	DefaultCacheDirectory   = ".jsbridge/cache"
)

func applyDefaults(v *viper.Viper) {
	v.SetDefault("engine.executable", "")
	v.SetDefault("engine.embedded_dir", "")
	v.SetDefault("engine.server_script", "")
	v.SetDefault("engine.host", engine.DefaultHost)
	v.SetDefault("engine.min_version", engine.DefaultMinVersion)
	v.SetDefault("engine.args", []string{})
	v.SetDefault("engine.start_timeout", engine.DefaultStartTimeout)
	v.SetDefault("engine.heartbeat_interval", engine.DefaultHeartbeatInterval)
	v.SetDefault("engine.request_timeout", DefaultRequestTimeout)
	v.SetDefault("engine.max_old_space_mb", 0)
	v.SetDefault("engine.existing_port", 0)
	v.SetDefault("engine.debug", false)

	v.SetDefault("tsconfig.paths", []string{})
	v.SetDefault("tsconfig.max_files", tsconfig.DefaultMaxFiles)
	v.SetDefault("tsconfig.watch", false)

	v.SetDefault("analysis.mode", ModeProgram)
	v.SetDefault("analysis.parsing_error_rule", DefaultParsingErrorRule)
	v.SetDefault("analysis.environments", []string{})
	v.SetDefault("analysis.globals", []string{})
	v.SetDefault("analysis.type_checking", true)
	v.SetDefault("analysis.quick_fixes", false)
	v.SetDefault("analysis.skip_ast", true)
	v.SetDefault("analysis.fail_fast", false)

	v.SetDefault("cache.enabled", true)
	v.SetDefault("cache.directory", DefaultCacheDirectory)
	v.SetDefault("cache.size", analysis.DefaultCPDCacheSize)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", logFormatText)

	v.SetDefault("telemetry.otlp_endpoint", "")
	v.SetDefault("telemetry.otlp_headers", "")
	v.SetDefault("telemetry.otlp_insecure", false)
	v.SetDefault("telemetry.sample_ratio", 1.0)
	v.SetDefault("telemetry.metrics_addr", "")
}
