package engine

import (
	"bufio"
	"fmt"
	"io"
	"log/slog"
	"strings"
)

// Prefixes the engine uses to tag log lines.
const (
	prefixDebug = "DEBUG "
	prefixWarn  = "WARN "
)

// maxLineBytes bounds a single engine output line.
const maxLineBytes = 1 << 20

// routeLine logs one engine output line at the level its prefix selects.
func routeLine(logger *slog.Logger, line string) {
	switch {
	case strings.HasPrefix(line, prefixDebug):
		logger.Debug(strings.TrimPrefix(line, prefixDebug))
	case strings.HasPrefix(line, prefixWarn):
		logger.Warn(strings.TrimPrefix(line, prefixWarn))
	default:
		logger.Info(line)
	}
}

// pumpOutput forwards every line of r to the logger until EOF.
func pumpOutput(r io.Reader, logger *slog.Logger) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, bufio.MaxScanTokenSize), maxLineBytes)

	for scanner.Scan() {
		routeLine(logger, scanner.Text())
	}

	err := scanner.Err()
	if err != nil {
		return fmt.Errorf("read engine output: %w", err)
	}

	return nil
}
