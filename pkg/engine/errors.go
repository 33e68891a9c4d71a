package engine

import (
	"errors"
	"fmt"
)

// Sentinel errors for engine lifecycle failures.
var (
	// ErrEngineUnavailable indicates the engine process could not be started.
	ErrEngineUnavailable = errors.New("analysis engine unavailable")
	// ErrEngineAlreadyFailed indicates a previous start failed in this session.
	ErrEngineAlreadyFailed = errors.New("analysis engine already failed")
	// ErrUnsupportedVersion indicates the runtime is older than the minimum.
	ErrUnsupportedVersion = errors.New("unsupported runtime version")
)

// StartError describes a failed engine start together with the command used.
type StartError struct {
	Command string
	Err     error
}

func (e *StartError) Error() string {
	if e.Command == "" {
		return fmt.Sprintf("start analysis engine: %v", e.Err)
	}

	return fmt.Sprintf("start analysis engine (%s): %v", e.Command, e.Err)
}

// Unwrap returns the underlying cause.
func (e *StartError) Unwrap() error {
	return e.Err
}

// Is makes every StartError match ErrEngineUnavailable.
func (e *StartError) Is(target error) bool {
	return target == ErrEngineUnavailable
}
