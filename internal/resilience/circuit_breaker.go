package resilience

import (
	"errors"
	"sync"
	"time"
)

// ErrCircuitOpen is returned by Call while the breaker rejects requests
var ErrCircuitOpen = errors.New("circuit breaker is open")

// CircuitState represents the state of a circuit breaker
type CircuitState int

const (
	StateClosed   CircuitState = iota // Normal operation
	StateOpen                         // Circuit is open, requests fail immediately
	StateHalfOpen                     // Testing if engine has recovered
)

func (s CircuitState) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	}
	return "unknown"
}

// CircuitBreaker guards one external engine.
// Failures are counted only for outcomes that indicate the engine itself is
// unhealthy; callers decide that by what they pass to RecordResult.
type CircuitBreaker struct {
	name         string
	maxFailures  int           // Number of failures before opening circuit
	resetTimeout time.Duration // Time to wait before attempting half-open
	halfOpenMax  int           // Max trial requests in half-open state
	onChange     func(name string, state CircuitState)

	mu                sync.Mutex
	state             CircuitState
	failureCount      int
	halfOpenCount     int
	successCount      int
	lastFailTime      time.Time
	requestCount      int64
	failureCountTotal int64
}

// NewCircuitBreaker creates a new circuit breaker.
// maxFailures <= 0 disables tripping.
func NewCircuitBreaker(name string, maxFailures int, resetTimeout time.Duration) *CircuitBreaker {
	return &CircuitBreaker{
		name:         name,
		maxFailures:  maxFailures,
		resetTimeout: resetTimeout,
		halfOpenMax:  3,
		state:        StateClosed,
	}
}

// Name returns the guarded engine name
func (cb *CircuitBreaker) Name() string {
	return cb.name
}

// OnStateChange registers a callback for state transitions.
// Must be set before the breaker is shared between goroutines.
func (cb *CircuitBreaker) OnStateChange(fn func(name string, state CircuitState)) {
	cb.onChange = fn
}

// Call executes fn if the breaker allows it. isFailure picks the errors that
// count against the circuit; nil counts every error.
func (cb *CircuitBreaker) Call(fn func() error, isFailure func(error) bool) error {
	if !cb.Allow() {
		return ErrCircuitOpen
	}
	err := fn()
	failed := err != nil
	if failed && isFailure != nil {
		failed = isFailure(err)
	}
	cb.RecordResult(!failed)
	return err
}

// Allow reports whether a request may proceed, moving an expired open
// circuit to half-open. A true result must be followed by RecordResult.
func (cb *CircuitBreaker) Allow() bool {
	cb.mu.Lock()
	var changed bool
	defer func() {
		cb.mu.Unlock()
		if changed {
			cb.notify(StateHalfOpen)
		}
	}()

	switch cb.state {
	case StateClosed:
		return true

	case StateOpen:
		if time.Since(cb.lastFailTime) < cb.resetTimeout {
			return false
		}
		cb.state = StateHalfOpen
		cb.halfOpenCount = 1
		cb.successCount = 0
		changed = true
		return true

	case StateHalfOpen:
		if cb.halfOpenCount < cb.halfOpenMax {
			cb.halfOpenCount++
			return true
		}
		return false
	}
	return false
}

// RecordResult records the outcome of an allowed request
func (cb *CircuitBreaker) RecordResult(success bool) {
	cb.mu.Lock()
	before := cb.state
	cb.requestCount++
	if success {
		cb.recordSuccess()
	} else {
		cb.recordFailure()
	}
	after := cb.state
	cb.mu.Unlock()

	if before != after {
		cb.notify(after)
	}
}

func (cb *CircuitBreaker) recordSuccess() {
	switch cb.state {
	case StateClosed:
		cb.failureCount = 0

	case StateHalfOpen:
		cb.successCount++
		if cb.successCount >= cb.halfOpenMax {
			cb.state = StateClosed
			cb.failureCount = 0
			cb.halfOpenCount = 0
			cb.successCount = 0
		}
	}
}

func (cb *CircuitBreaker) recordFailure() {
	cb.failureCountTotal++
	cb.lastFailTime = time.Now()

	switch cb.state {
	case StateClosed:
		cb.failureCount++
		if cb.maxFailures > 0 && cb.failureCount >= cb.maxFailures {
			cb.state = StateOpen
		}

	case StateHalfOpen:
		// Any failure in half-open immediately reopens the circuit
		cb.state = StateOpen
		cb.halfOpenCount = 0
		cb.successCount = 0
	}
}

func (cb *CircuitBreaker) notify(state CircuitState) {
	if cb.onChange != nil {
		cb.onChange(cb.name, state)
	}
}

// GetState returns the current state of the circuit breaker
func (cb *CircuitBreaker) GetState() CircuitState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// GetStats returns statistics about the circuit breaker
func (cb *CircuitBreaker) GetStats() (state CircuitState, requestCount, failureCount int64, failureRate float64) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	state = cb.state
	requestCount = cb.requestCount
	failureCount = cb.failureCountTotal

	if requestCount > 0 {
		failureRate = float64(failureCount) / float64(requestCount) * 100.0
	}
	return
}

// Reset manually resets the circuit breaker to closed state
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	before := cb.state
	cb.state = StateClosed
	cb.failureCount = 0
	cb.halfOpenCount = 0
	cb.successCount = 0
	cb.mu.Unlock()

	if before != StateClosed {
		cb.notify(StateClosed)
	}
}
