package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"

	goversion "github.com/hashicorp/go-version"
)

// Origin tells where the runtime executable was found.
type Origin string

const (
	// OriginProperty is an executable set through configuration.
	OriginProperty Origin = "property"
	// OriginEmbedded is the runtime bundled next to the engine.
	OriginEmbedded Origin = "embedded"
	// OriginPath is an executable auto-detected on PATH.
	OriginPath Origin = "path"
)

// defaultExecutable is the runtime looked up on PATH.
const defaultExecutable = "node"

// Env vars passed to the engine process.
const (
	envIgnoreOldBrowsersData = "BROWSERSLIST_IGNORE_OLD_DATA=true"
	envTimingAll             = "TIMING=all"
)

// Command is a fully resolved engine command line.
type Command struct {
	Executable string
	Args       []string
	Env        []string
	Dir        string
	Origin     Origin
	Version    *goversion.Version
	Port       int
}

// String renders the command line for diagnostics.
func (c Command) String() string {
	parts := append([]string{c.Executable}, c.Args...)

	return strings.Join(parts, " ")
}

// VersionProbe runs the executable and returns its version output.
type VersionProbe func(ctx context.Context, executable string) (string, error)

func runVersion(ctx context.Context, executable string) (string, error) {
	out, err := exec.CommandContext(ctx, executable, "-v").Output()
	if err != nil {
		return "", fmt.Errorf("run %s -v: %w", executable, err)
	}

	return string(out), nil
}

// CommandBuilder resolves the runtime executable and assembles the engine command.
type CommandBuilder struct {
	cfg      Config
	lookPath func(string) (string, error)
	probe    VersionProbe
	logger   *slog.Logger
}

// NewCommandBuilder creates a builder using PATH lookup and `-v` version probing.
func NewCommandBuilder(cfg Config, logger *slog.Logger) *CommandBuilder {
	return &CommandBuilder{
		cfg:      cfg,
		lookPath: exec.LookPath,
		probe:    runVersion,
		logger:   logger,
	}
}

// Resolve finds the executable, probes its version and enforces the minimum.
func (b *CommandBuilder) Resolve(ctx context.Context) (Command, error) {
	executable, origin, err := b.locate()
	if err != nil {
		return Command{}, err
	}

	out, probeErr := b.probe(ctx, executable)
	if probeErr != nil {
		return Command{}, fmt.Errorf("%w: %w", ErrEngineUnavailable, probeErr)
	}

	ver, parseErr := ParseRuntimeVersion(out)
	if parseErr != nil {
		return Command{}, parseErr
	}

	minVersion := b.cfg.MinVersion
	if minVersion == "" {
		minVersion = DefaultMinVersion
	}

	checkErr := CheckMinVersion(ver, minVersion)
	if checkErr != nil {
		return Command{}, fmt.Errorf("%w: %w", ErrEngineUnavailable, checkErr)
	}

	b.logger.Debug("resolved runtime", "executable", executable, "origin", origin, "version", ver.String())

	return Command{
		Executable: executable,
		Origin:     origin,
		Version:    ver,
		Dir:        b.cfg.WorkDir,
	}, nil
}

// Build resolves the executable and binds the command to a port.
func (b *CommandBuilder) Build(ctx context.Context, port int) (Command, error) {
	if b.cfg.ServerScript == "" {
		return Command{}, fmt.Errorf("%w: engine server script is not configured", ErrEngineUnavailable)
	}

	cmd, err := b.Resolve(ctx)
	if err != nil {
		return Command{}, err
	}

	args := make([]string, 0, len(b.cfg.RuntimeArgs)+4)
	args = append(args, b.cfg.RuntimeArgs...)

	if b.cfg.MaxOldSpaceMB > 0 {
		args = append(args, "--max-old-space-size="+strconv.Itoa(b.cfg.MaxOldSpaceMB))
	}

	args = append(args, b.cfg.ServerScript, strconv.Itoa(port), b.cfg.Host, b.cfg.WorkDir)

	cmd.Args = args
	cmd.Port = port
	cmd.Env = b.environment()

	return cmd, nil
}

func (b *CommandBuilder) environment() []string {
	env := append(os.Environ(), envIgnoreOldBrowsersData)
	if b.cfg.Debug {
		env = append(env, envTimingAll)
	}

	return env
}

func (b *CommandBuilder) locate() (string, Origin, error) {
	if b.cfg.Executable != "" {
		info, err := os.Stat(b.cfg.Executable)
		if err != nil || info.IsDir() {
			return "", "", fmt.Errorf("%w: configured executable %q does not exist", ErrEngineUnavailable, b.cfg.Executable)
		}

		return b.cfg.Executable, OriginProperty, nil
	}

	if b.cfg.EmbeddedDir != "" {
		candidate := filepath.Join(b.cfg.EmbeddedDir, "bin", runtimeBinary())

		_, err := os.Stat(candidate)
		if err == nil {
			return candidate, OriginEmbedded, nil
		}

		b.logger.Debug("embedded runtime not found", "path", candidate)
	}

	path, err := b.lookPath(defaultExecutable)
	if err != nil {
		if errors.Is(err, exec.ErrNotFound) {
			return "", "", fmt.Errorf("%w: %s not found in PATH", ErrEngineUnavailable, defaultExecutable)
		}

		return "", "", fmt.Errorf("%w: %w", ErrEngineUnavailable, err)
	}

	return path, OriginPath, nil
}

func runtimeBinary() string {
	if runtime.GOOS == "windows" {
		return defaultExecutable + ".exe"
	}

	return defaultExecutable
}
