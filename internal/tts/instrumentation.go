package tts

import "go.opentelemetry.io/otel"

const scopeName = "github.com/valperai/valper-gateway/internal/tts"

var tracer = otel.Tracer(scopeName)
