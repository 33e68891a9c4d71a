package observability

import (
	"context"
	"encoding/json"
	"net/http"
)

const (
	healthStatusOK          = "ok"
	healthStatusUnavailable = "unavailable"
)

// ReadyCheck returns nil when a subsystem is ready.
type ReadyCheck func(ctx context.Context) error

// HealthHandler answers liveness probes with {"status":"ok"}.
func HealthHandler() http.Handler {
	return http.HandlerFunc(func(rw http.ResponseWriter, _ *http.Request) {
		writeHealth(rw, http.StatusOK, healthStatusOK, "")
	})
}

// ReadyHandler answers 503 with the failing reason when any check fails.
func ReadyHandler(checks ...ReadyCheck) http.Handler {
	return http.HandlerFunc(func(rw http.ResponseWriter, hr *http.Request) {
		for _, check := range checks {
			if err := check(hr.Context()); err != nil {
				writeHealth(rw, http.StatusServiceUnavailable, healthStatusUnavailable, err.Error())

				return
			}
		}

		writeHealth(rw, http.StatusOK, healthStatusOK, "")
	})
}

// NewDiagnosticsMux serves /healthz, /readyz and, when available, /metrics.
func NewDiagnosticsMux(p Providers, checks ...ReadyCheck) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/healthz", HealthHandler())
	mux.Handle("/readyz", ReadyHandler(checks...))

	if p.MetricsHandler != nil {
		mux.Handle("/metrics", p.MetricsHandler)
	}

	if p.Tracer == nil {
		return mux
	}

	return traceProbes(p.Tracer, mux)
}

func writeHealth(rw http.ResponseWriter, code int, status, reason string) {
	body := map[string]string{"status": status}
	if reason != "" {
		body["reason"] = reason
	}

	rw.Header().Set("Content-Type", "application/json")
	rw.WriteHeader(code)

	err := json.NewEncoder(rw).Encode(body)
	if err != nil {
		return
	}
}
