// Package openaicompat builds go-openai clients for OpenAI-compatible
// endpoints and maps their failures onto resilience errors.
package openaicompat

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/valperai/valper-gateway/internal/resilience"
)

// NewClient creates a client for baseURL. An empty baseURL keeps the
// library default. timeout bounds every HTTP exchange.
func NewClient(apiKey, baseURL string, timeout time.Duration) *openai.Client {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	cfg.HTTPClient = &http.Client{
		Timeout:   timeout,
		Transport: otelhttp.NewTransport(http.DefaultTransport),
	}
	return openai.NewClientWithConfig(cfg)
}

// WrapError annotates err with the service name. HTTP status failures become
// resilience.StatusError so callers can classify them.
func WrapError(service string, err error) error {
	if err == nil {
		return nil
	}

	var apiErr *openai.APIError
	if errors.As(err, &apiErr) && apiErr.HTTPStatusCode != 0 {
		return fmt.Errorf("%s: %w", service, &resilience.StatusError{
			Service:    service,
			StatusCode: apiErr.HTTPStatusCode,
			Body:       apiErr.Message,
		})
	}

	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) && reqErr.HTTPStatusCode != 0 {
		return fmt.Errorf("%s: %w", service, &resilience.StatusError{
			Service:    service,
			StatusCode: reqErr.HTTPStatusCode,
			Body:       reqErr.Error(),
		})
	}

	return fmt.Errorf("%s: %w", service, err)
}
