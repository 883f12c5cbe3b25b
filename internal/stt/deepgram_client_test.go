package stt

import (
	"errors"
	"net/http"
	"testing"

	interfaces "github.com/deepgram/deepgram-go-sdk/v3/pkg/client/interfaces"

	"github.com/valperai/valper-gateway/internal/resilience"
)

func TestWrapDeepgramError(t *testing.T) {
	tests := []struct {
		name     string
		status   int
		expected Outcome
	}{
		{name: "unauthorized", status: http.StatusUnauthorized, expected: OutcomeUnavailable},
		{name: "rate limited", status: http.StatusTooManyRequests, expected: OutcomeUnavailable},
		{name: "server error", status: http.StatusInternalServerError, expected: OutcomeUnavailable},
		{name: "bad gateway", status: http.StatusBadGateway, expected: OutcomeUnavailable},
		{name: "service unavailable", status: http.StatusServiceUnavailable, expected: OutcomeUnavailable},
		{name: "bad request", status: http.StatusBadRequest, expected: OutcomeError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := wrapDeepgramError(&interfaces.StatusError{
				Resp:          &http.Response{StatusCode: tt.status},
				DeepgramError: &interfaces.DeepgramError{ErrMsg: "boom"},
			})

			var status *resilience.StatusError
			if !errors.As(err, &status) || status.StatusCode != tt.status {
				t.Fatalf("Expected status %d carried, got %v", tt.status, err)
			}
			if outcome, _ := classify("", err); outcome != tt.expected {
				t.Errorf("Expected %s, got %s", tt.expected, outcome)
			}
		})
	}
}

func TestWrapDeepgramErrorWithoutStatus(t *testing.T) {
	err := wrapDeepgramError(errors.New("malformed response"))
	if outcome, _ := classify("", err); outcome != OutcomeError {
		t.Errorf("Expected error outcome, got %s", outcome)
	}
}
