package orchestrator

import "strconv"

// State is a step of the session lifecycle.
type State int

// Session states. Completed, Failed and Cancelled are terminal.
const (
	StateIdle State = iota
	StateFilesSelected
	StateConfigResolved
	StateRequested
	StateStreaming
	StateCompleted
	StateFailed
	StateCancelled
)

var stateNames = [...]string{
	StateIdle:           "Idle",
	StateFilesSelected:  "FilesSelected",
	StateConfigResolved: "ConfigResolved",
	StateRequested:      "Requested",
	StateStreaming:      "Streaming",
	StateCompleted:      "Completed",
	StateFailed:         "Failed",
	StateCancelled:      "Cancelled",
}

func (s State) String() string {
	if s >= 0 && int(s) < len(stateNames) {
		return stateNames[s]
	}

	return "State(" + strconv.Itoa(int(s)) + ")"
}

// Terminal reports whether no further transition can happen.
func (s State) Terminal() bool {
	return s == StateCompleted || s == StateFailed || s == StateCancelled
}
