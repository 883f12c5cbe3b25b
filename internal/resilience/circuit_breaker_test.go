package resilience

import (
	"errors"
	"testing"
	"time"
)

func tripBreaker(cb *CircuitBreaker, failures int) {
	for i := 0; i < failures; i++ {
		cb.RecordResult(false)
	}
}

func TestCircuitBreaker_StateClosed(t *testing.T) {
	cb := NewCircuitBreaker("deepgram", 3, 1*time.Second)

	if cb.GetState() != StateClosed {
		t.Errorf("Expected initial state to be closed, got %s", cb.GetState())
	}
	if !cb.Allow() {
		t.Error("Expected to allow request in closed state")
	}
	if cb.Name() != "deepgram" {
		t.Errorf("Expected name 'deepgram', got '%s'", cb.Name())
	}
}

func TestCircuitBreaker_OpenAfterFailures(t *testing.T) {
	cb := NewCircuitBreaker("test", 3, 1*time.Second)

	tripBreaker(cb, 2)
	if cb.GetState() != StateClosed {
		t.Error("Expected state to still be closed after 2 failures")
	}

	cb.RecordResult(false)
	if cb.GetState() != StateOpen {
		t.Error("Expected state to be open after 3 failures")
	}
	if cb.Allow() {
		t.Error("Expected to reject request in open state")
	}
}

func TestCircuitBreaker_SuccessResetsFailureCount(t *testing.T) {
	cb := NewCircuitBreaker("test", 3, 1*time.Second)

	tripBreaker(cb, 2)
	cb.RecordResult(true)
	tripBreaker(cb, 2)

	if cb.GetState() != StateClosed {
		t.Error("Expected non-consecutive failures not to open the circuit")
	}
}

func TestCircuitBreaker_HalfOpen(t *testing.T) {
	cb := NewCircuitBreaker("test", 3, 50*time.Millisecond)
	tripBreaker(cb, 3)

	time.Sleep(80 * time.Millisecond)

	if !cb.Allow() {
		t.Fatal("Expected to allow request after timeout")
	}
	if cb.GetState() != StateHalfOpen {
		t.Errorf("Expected state half-open, got %s", cb.GetState())
	}

	// halfOpenMax trial requests in total
	if !cb.Allow() || !cb.Allow() {
		t.Error("Expected remaining trial requests to be allowed")
	}
	if cb.Allow() {
		t.Error("Expected trial budget to be exhausted")
	}
}

func TestCircuitBreaker_CloseAfterSuccess(t *testing.T) {
	cb := NewCircuitBreaker("test", 3, 50*time.Millisecond)
	tripBreaker(cb, 3)
	time.Sleep(80 * time.Millisecond)

	for i := 0; i < 3; i++ {
		if !cb.Allow() {
			t.Fatalf("Expected trial request %d to be allowed", i)
		}
		cb.RecordResult(true)
	}

	if cb.GetState() != StateClosed {
		t.Error("Expected state to be closed after successes in half-open")
	}
}

func TestCircuitBreaker_OpenAfterFailureInHalfOpen(t *testing.T) {
	cb := NewCircuitBreaker("test", 3, 50*time.Millisecond)
	tripBreaker(cb, 3)
	time.Sleep(80 * time.Millisecond)

	cb.Allow()
	cb.RecordResult(false)

	if cb.GetState() != StateOpen {
		t.Error("Expected state to be open after failure in half-open")
	}
}

func TestCircuitBreaker_Call(t *testing.T) {
	cb := NewCircuitBreaker("test", 3, 1*time.Second)

	if err := cb.Call(func() error { return nil }, nil); err != nil {
		t.Errorf("Expected no error, got %v", err)
	}

	testErr := errors.New("test error")
	if err := cb.Call(func() error { return testErr }, nil); !errors.Is(err, testErr) {
		t.Errorf("Expected wrapped call error, got %v", err)
	}
}

func TestCircuitBreaker_CallOpen(t *testing.T) {
	cb := NewCircuitBreaker("test", 1, 1*time.Second)
	cb.RecordResult(false)

	called := false
	err := cb.Call(func() error {
		called = true
		return nil
	}, nil)
	if !errors.Is(err, ErrCircuitOpen) {
		t.Errorf("Expected ErrCircuitOpen, got %v", err)
	}
	if called {
		t.Error("Expected function not to run while open")
	}
}

func TestCircuitBreaker_CallClassifiesFailures(t *testing.T) {
	cb := NewCircuitBreaker("test", 2, 1*time.Second)
	rejected := errors.New("bad input")

	for i := 0; i < 5; i++ {
		cb.Call(func() error { return rejected }, IsUnavailable)
	}
	if cb.GetState() != StateClosed {
		t.Fatal("Expected content errors not to open the circuit")
	}

	outage := Unavailable(errors.New("engine down"))
	for i := 0; i < 2; i++ {
		cb.Call(func() error { return outage }, IsUnavailable)
	}
	if cb.GetState() != StateOpen {
		t.Error("Expected outages to open the circuit")
	}
}

func TestCircuitBreaker_DisabledWithZeroMaxFailures(t *testing.T) {
	cb := NewCircuitBreaker("test", 0, 1*time.Second)
	tripBreaker(cb, 100)

	if cb.GetState() != StateClosed {
		t.Error("Expected breaker with maxFailures 0 never to open")
	}
}

func TestCircuitBreaker_OnStateChange(t *testing.T) {
	cb := NewCircuitBreaker("whisper", 2, 50*time.Millisecond)
	var seen []CircuitState
	cb.OnStateChange(func(name string, state CircuitState) {
		if name != "whisper" {
			t.Errorf("Expected name 'whisper', got '%s'", name)
		}
		seen = append(seen, state)
	})

	tripBreaker(cb, 2)
	time.Sleep(80 * time.Millisecond)
	cb.Allow()
	cb.Reset()

	expected := []CircuitState{StateOpen, StateHalfOpen, StateClosed}
	if len(seen) != len(expected) {
		t.Fatalf("Expected transitions %v, got %v", expected, seen)
	}
	for i := range expected {
		if seen[i] != expected[i] {
			t.Errorf("Expected transition %d to be %s, got %s", i, expected[i], seen[i])
		}
	}
}

func TestCircuitBreaker_GetStats(t *testing.T) {
	cb := NewCircuitBreaker("test", 3, 1*time.Second)

	cb.RecordResult(true)
	cb.RecordResult(true)
	cb.RecordResult(false)

	state, requestCount, failureCount, failureRate := cb.GetStats()

	if state != StateClosed {
		t.Errorf("Expected state closed, got %s", state)
	}
	if requestCount != 3 {
		t.Errorf("Expected 3 requests, got %d", requestCount)
	}
	if failureCount != 1 {
		t.Errorf("Expected 1 failure, got %d", failureCount)
	}
	if failureRate < 33.0 || failureRate > 34.0 {
		t.Errorf("Expected failure rate around 33.33%%, got %.2f%%", failureRate)
	}
}

func TestCircuitBreaker_Reset(t *testing.T) {
	cb := NewCircuitBreaker("test", 3, 1*time.Second)
	tripBreaker(cb, 3)

	if cb.GetState() != StateOpen {
		t.Fatal("Expected circuit to be open")
	}

	cb.Reset()

	if cb.GetState() != StateClosed {
		t.Error("Expected state to be closed after reset")
	}
	if !cb.Allow() {
		t.Error("Expected requests to be allowed after reset")
	}
}

func TestCircuitState_String(t *testing.T) {
	tests := map[CircuitState]string{
		StateClosed:      "closed",
		StateOpen:        "open",
		StateHalfOpen:    "half-open",
		CircuitState(42): "unknown",
	}
	for state, want := range tests {
		if got := state.String(); got != want {
			t.Errorf("Expected %q, got %q", want, got)
		}
	}
}
