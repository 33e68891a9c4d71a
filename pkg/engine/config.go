// Package engine supervises the external analysis engine process: it
// resolves the runtime, spawns the server, probes its health and keeps a
// sticky failure flag for the rest of the session.
package engine

import (
	"os"
	"strconv"
	"time"
)

// EnvExistingPort names a port of an already running engine to connect to.
const EnvExistingPort = "SONARJS_EXISTING_NODE_PROCESS_PORT"

const (
	// DefaultHost is the loopback address the engine binds to.
	DefaultHost = "127.0.0.1"
	// DefaultStartTimeout bounds the wait for the engine to answer its first status probe.
	DefaultStartTimeout = 60 * time.Second
	// DefaultHeartbeatInterval is the period between liveness probes.
	DefaultHeartbeatInterval = 5 * time.Second
)

// Config controls how the engine process is located and launched.
type Config struct {
	// Executable overrides the runtime executable.
	Executable string
	// EmbeddedDir is the root of a bundled runtime.
	EmbeddedDir string
	// ServerScript is the engine entry point passed to the runtime.
	ServerScript string
	// WorkDir is the engine working directory.
	WorkDir string
	// Host is the interface the engine binds to.
	Host string
	// MinVersion is the minimum runtime version.
	MinVersion string
	// RuntimeArgs are extra runtime flags placed before the script.
	RuntimeArgs []string
	// MaxOldSpaceMB sets the runtime heap limit when positive.
	MaxOldSpaceMB int
	// ExistingPort connects to an already running engine instead of spawning one.
	ExistingPort int
	// StartTimeout bounds the wait for the first successful status probe.
	StartTimeout time.Duration
	// HeartbeatInterval is the liveness probe period. Zero disables it.
	HeartbeatInterval time.Duration
	// Debug enables engine timing output.
	Debug bool
}

// withDefaults fills zero fields and reads the existing-port env var.
func (c Config) withDefaults() Config {
	if c.Host == "" {
		c.Host = DefaultHost
	}

	if c.StartTimeout <= 0 {
		c.StartTimeout = DefaultStartTimeout
	}

	if c.MinVersion == "" {
		c.MinVersion = DefaultMinVersion
	}

	if c.ExistingPort == 0 {
		if port, err := strconv.Atoi(os.Getenv(EnvExistingPort)); err == nil && port > 0 {
			c.ExistingPort = port
		}
	}

	return c
}
