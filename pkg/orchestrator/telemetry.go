package orchestrator

import (
	"github.com/Sumatoshi-tech/jsbridge/pkg/bridge"
)

// Telemetry keys reported to the host.
const (
	keyRuntimeVersion   = "javascript.runtime.version"
	keyRuntimeOrigin    = "javascript.runtime.origin"
	keyDependencyPrefix = "javascript.dependency."
)

// Telemetry is what a session learned about the runtime and the project.
type Telemetry struct {
	RuntimeVersion string
	RuntimeOrigin  string
	Dependencies   []bridge.Dependency
}

// recordTelemetry reports telemetry to the sink at most once per session.
func (s *Session) recordTelemetry() {
	s.telemetryOnce.Do(func() {
		var tel Telemetry

		if s.runtime != nil {
			rt := s.runtime.Telemetry()
			tel.RuntimeVersion = rt.Version
			tel.RuntimeOrigin = string(rt.Origin)
		}

		s.mu.Lock()
		tel.Dependencies = append([]bridge.Dependency(nil), s.dependencies...)
		s.telemetry = tel
		s.mu.Unlock()

		if !s.settings.Capabilities.Telemetry {
			return
		}

		if tel.RuntimeVersion != "" {
			s.sink.AddTelemetry(keyRuntimeVersion, tel.RuntimeVersion)
		}

		if tel.RuntimeOrigin != "" {
			s.sink.AddTelemetry(keyRuntimeOrigin, tel.RuntimeOrigin)
		}

		for _, dep := range tel.Dependencies {
			s.sink.AddTelemetry(keyDependencyPrefix+dep.Name, dep.Version)
		}
	})
}
