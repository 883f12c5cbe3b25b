package observability

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Turn metrics
	turnsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "valper_turns_total",
		Help: "Conversation turns by terminal outcome",
	}, []string{"outcome"})

	turnFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "valper_turn_failures_total",
		Help: "Failed or degraded turns by pipeline stage",
	}, []string{"stage"})

	turnDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "valper_turn_duration_seconds",
		Help:    "End-to-end duration of a conversation turn",
		Buckets: []float64{0.5, 1, 2, 5, 10, 20, 30, 60, 120},
	})

	stageLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "valper_stage_latency_seconds",
		Help:    "Latency of each pipeline stage",
		Buckets: []float64{0.1, 0.25, 0.5, 1.0, 2.0, 5.0, 10.0, 30.0},
	}, []string{"stage"})

	// Recognition metrics
	recognitionAttempts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "valper_recognition_attempts_total",
		Help: "Recognition attempts by engine and classified result",
	}, []string{"engine", "result"})

	// Synthesis metrics
	synthesizedChunks = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "valper_synthesized_chunks_total",
		Help: "Text chunks sent to the synthesizer by result",
	}, []string{"engine", "result"})

	// Audio metrics
	audioBytesProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "valper_audio_bytes_total",
		Help: "Total audio bytes processed",
	}, []string{"direction"}) // direction: "in" or "out"

	// Circuit breaker metrics
	circuitBreakerState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "valper_circuit_breaker_state",
		Help: "Circuit breaker state (0=closed, 1=open, 2=half-open)",
	}, []string{"engine"})

	// Readiness
	subsystemReady = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "valper_subsystem_ready",
		Help: "Subsystem readiness (1=ready, 0=not ready)",
	}, []string{"subsystem"})

	// Sessions and artifacts
	activeSessions = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "valper_active_sessions",
		Help: "Number of open websocket conversation sessions",
	})

	artifactEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "valper_artifacts_total",
		Help: "Audio artifact lifecycle events",
	}, []string{"event"}) // stored, served, expired, discarded, uploaded
)

// TurnMetrics tracks stage timings for a single conversation turn
type TurnMetrics struct {
	startTime time.Time
	stages    map[string]time.Time
	mu        sync.Mutex
}

// NewTurnMetrics starts timing a turn
func NewTurnMetrics() *TurnMetrics {
	return &TurnMetrics{
		startTime: time.Now(),
		stages:    make(map[string]time.Time),
	}
}

// StageStart records the start of a pipeline stage
func (m *TurnMetrics) StageStart(stage string) {
	m.mu.Lock()
	m.stages[stage] = time.Now()
	m.mu.Unlock()
}

// StageEnd observes the latency of a stage started with StageStart
func (m *TurnMetrics) StageEnd(stage string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if start, ok := m.stages[stage]; ok {
		stageLatency.WithLabelValues(stage).Observe(time.Since(start).Seconds())
		delete(m.stages, stage)
	}
}

// RecordOutcome records the terminal outcome of the turn.
// stage is empty for completed turns.
func (m *TurnMetrics) RecordOutcome(outcome, stage string) {
	turnsTotal.WithLabelValues(outcome).Inc()
	if stage != "" {
		turnFailures.WithLabelValues(stage).Inc()
	}
	turnDuration.Observe(time.Since(m.startTime).Seconds())
}

// RecordRecognitionAttempt counts one cascade attempt
func RecordRecognitionAttempt(engine, result string) {
	recognitionAttempts.WithLabelValues(engine, result).Inc()
}

// RecordSynthesizedChunk counts one chunk synthesis
func RecordSynthesizedChunk(engine string, success bool) {
	result := "success"
	if !success {
		result = "error"
	}
	synthesizedChunks.WithLabelValues(engine, result).Inc()
}

// RecordAudioBytes records audio bytes processed
func RecordAudioBytes(direction string, bytes int) {
	audioBytesProcessed.WithLabelValues(direction).Add(float64(bytes))
}

// UpdateCircuitBreakerState updates circuit breaker state metric
func UpdateCircuitBreakerState(engine string, state int) {
	circuitBreakerState.WithLabelValues(engine).Set(float64(state))
}

// SetSubsystemReady updates the readiness gauge
func SetSubsystemReady(subsystem string, ready bool) {
	v := 0.0
	if ready {
		v = 1.0
	}
	subsystemReady.WithLabelValues(subsystem).Set(v)
}

// SessionOpened increments the active session gauge
func SessionOpened() {
	activeSessions.Inc()
}

// SessionClosed decrements the active session gauge
func SessionClosed() {
	activeSessions.Dec()
}

// RecordArtifactEvent counts an artifact lifecycle event
func RecordArtifactEvent(event string) {
	artifactEvents.WithLabelValues(event).Inc()
}
