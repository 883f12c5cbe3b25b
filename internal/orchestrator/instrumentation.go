package orchestrator

import "go.opentelemetry.io/otel"

const scopeName = "github.com/valperai/valper-gateway/internal/orchestrator"

var tracer = otel.Tracer(scopeName)
