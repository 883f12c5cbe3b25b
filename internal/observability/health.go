package observability

import (
	"context"
	"encoding/json"
	"net/http"
	"sort"
	"time"

	"github.com/valperai/valper-gateway/internal/health"
)

// Version is reported by the health endpoints
const Version = "1.0.0"

// HealthStatus represents the health status of the service
type HealthStatus struct {
	Status           string                      `json:"status"`
	Service          string                      `json:"service"`
	Version          string                      `json:"version"`
	Timestamp        string                      `json:"timestamp"`
	RecognitionReady bool                        `json:"recognition_ready"`
	GenerationReady  bool                        `json:"generation_ready"`
	SynthesisReady   bool                        `json:"synthesis_ready"`
	Dependencies     map[string]DependencyStatus `json:"dependencies,omitempty"`
}

// DependencyStatus represents the status of a dependency
type DependencyStatus struct {
	Status    string `json:"status"`
	Message   string `json:"message,omitempty"`
	LatencyMs int64  `json:"latency_ms,omitempty"`
}

// HealthCheckFunc probes one external dependency
type HealthCheckFunc func(ctx context.Context) (bool, error)

func newHealthStatus(gate *health.Gate) HealthStatus {
	return HealthStatus{
		Status:           "healthy",
		Service:          serviceName,
		Version:          Version,
		Timestamp:        time.Now().UTC().Format(time.RFC3339),
		RecognitionReady: gate.IsReady(health.Recognition),
		GenerationReady:  gate.IsReady(health.Generation),
		SynthesisReady:   gate.IsReady(health.Synthesis),
	}
}

// HealthCheckHandler reports liveness together with per-subsystem readiness.
// It always answers 200 while the process is up.
func HealthCheckHandler(gate *health.Gate) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, newHealthStatus(gate))
	}
}

// ReadinessHandler answers 200 once recognition and generation are ready and
// every dependency probe passes. Synthesis is optional: without it turns
// complete degraded, with text only.
func ReadinessHandler(gate *health.Gate, checks map[string]HealthCheckFunc) http.HandlerFunc {
	names := make([]string, 0, len(checks))
	for name := range checks {
		names = append(names, name)
	}
	sort.Strings(names)

	return func(w http.ResponseWriter, r *http.Request) {
		status := newHealthStatus(gate)
		status.Status = "ready"
		allHealthy := status.RecognitionReady && status.GenerationReady

		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()

		if len(names) > 0 {
			status.Dependencies = make(map[string]DependencyStatus, len(names))
		}
		for _, name := range names {
			start := time.Now()
			healthy, err := checks[name](ctx)
			dep := DependencyStatus{
				Status:    "healthy",
				LatencyMs: time.Since(start).Milliseconds(),
			}
			if err != nil || !healthy {
				dep.Status = "unhealthy"
				allHealthy = false
				if err != nil {
					dep.Message = err.Error()
				}
			}
			status.Dependencies[name] = dep
		}

		code := http.StatusOK
		if !allHealthy {
			status.Status = "not_ready"
			code = http.StatusServiceUnavailable
		}
		writeJSON(w, code, status)
	}
}

// TrackGate mirrors gate transitions into the readiness gauge and the log
func TrackGate(gate *health.Gate) {
	logger := ComponentLogger("health")
	for _, s := range gate.Snapshot() {
		SetSubsystemReady(string(s.Subsystem), s.Ready())
	}
	gate.OnTransition(func(st health.Status) {
		SetSubsystemReady(string(st.Subsystem), st.Ready())
		if st.Ready() {
			logger.Info().Str("subsystem", string(st.Subsystem)).Msg("Subsystem ready")
			return
		}
		logger.Error().Str("subsystem", string(st.Subsystem)).Str("error", st.LastError).Msg("Subsystem unavailable")
	})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}
