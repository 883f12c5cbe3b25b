package observability

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/valperai/valper-gateway/internal/health"
)

func TestHealthCheckHandler(t *testing.T) {
	gate := health.NewGate()
	gate.MarkReady(health.Recognition, nil)

	rec := httptest.NewRecorder()
	HealthCheckHandler(gate)(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", rec.Code)
	}

	var body HealthStatus
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("Failed to decode body: %v", err)
	}
	if body.Status != "healthy" {
		t.Errorf("Expected status 'healthy', got '%s'", body.Status)
	}
	if !body.RecognitionReady || body.GenerationReady || body.SynthesisReady {
		t.Errorf("Unexpected readiness flags %+v", body)
	}
}

func TestReadinessHandler(t *testing.T) {
	tests := []struct {
		name     string
		ready    []health.Subsystem
		checks   map[string]HealthCheckFunc
		expected int
	}{
		{
			name:     "nothing ready",
			expected: http.StatusServiceUnavailable,
		},
		{
			name:     "recognition and generation ready",
			ready:    []health.Subsystem{health.Recognition, health.Generation},
			expected: http.StatusOK,
		},
		{
			name:     "generation missing",
			ready:    []health.Subsystem{health.Recognition, health.Synthesis},
			expected: http.StatusServiceUnavailable,
		},
		{
			name:  "failing dependency probe",
			ready: []health.Subsystem{health.Recognition, health.Generation},
			checks: map[string]HealthCheckFunc{
				"generator": func(ctx context.Context) (bool, error) { return false, errors.New("not serving") },
			},
			expected: http.StatusServiceUnavailable,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gate := health.NewGate()
			for _, s := range tt.ready {
				gate.MarkReady(s, nil)
			}

			rec := httptest.NewRecorder()
			ReadinessHandler(gate, tt.checks)(rec, httptest.NewRequest(http.MethodGet, "/ready", nil))

			if rec.Code != tt.expected {
				t.Errorf("Expected status %d, got %d", tt.expected, rec.Code)
			}
			if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
				t.Errorf("Expected JSON content type, got '%s'", ct)
			}
		})
	}
}

func TestReadinessHandler_DependencyMessage(t *testing.T) {
	gate := health.NewGate()
	gate.MarkReady(health.Recognition, nil)
	gate.MarkReady(health.Generation, nil)

	checks := map[string]HealthCheckFunc{
		"generator": func(ctx context.Context) (bool, error) { return false, errors.New("not serving") },
	}
	rec := httptest.NewRecorder()
	ReadinessHandler(gate, checks)(rec, httptest.NewRequest(http.MethodGet, "/ready", nil))

	var body HealthStatus
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("Failed to decode body: %v", err)
	}
	dep, ok := body.Dependencies["generator"]
	if !ok {
		t.Fatal("Expected generator dependency in body")
	}
	if dep.Status != "unhealthy" || dep.Message != "not serving" {
		t.Errorf("Unexpected dependency status %+v", dep)
	}
}
