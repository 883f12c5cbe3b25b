package openaicompat

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/valperai/valper-gateway/internal/resilience"
)

func TestWrapError(t *testing.T) {
	tests := []struct {
		name        string
		err         error
		unavailable bool
	}{
		{"server error", &openai.APIError{HTTPStatusCode: 503, Message: "overloaded"}, true},
		{"rate limit", &openai.APIError{HTTPStatusCode: 429, Message: "slow down"}, true},
		{"bad request", &openai.APIError{HTTPStatusCode: 400, Message: "bad input"}, false},
		{"request error", &openai.RequestError{HTTPStatusCode: 502, Err: errors.New("bad gateway")}, true},
		{"plain", errors.New("something odd"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := WrapError("llm", tt.err)
			if got := resilience.IsUnavailable(err); got != tt.unavailable {
				t.Errorf("Expected unavailable=%v, got %v (%v)", tt.unavailable, got, err)
			}
		})
	}

	if WrapError("llm", nil) != nil {
		t.Error("Expected nil for nil error")
	}
}

func TestNewClient_UsesBaseURL(t *testing.T) {
	var path string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path = r.URL.Path
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"object":"list","data":[]}`))
	}))
	defer server.Close()

	client := NewClient("key", server.URL+"/v1", 5*time.Second)
	if _, err := client.ListModels(context.Background()); err != nil {
		t.Fatalf("ListModels failed: %v", err)
	}
	if path != "/v1/models" {
		t.Errorf("Expected request to /v1/models, got %s", path)
	}
}
