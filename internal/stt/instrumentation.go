package stt

import "go.opentelemetry.io/otel"

const scopeName = "github.com/valperai/valper-gateway/internal/stt"

var tracer = otel.Tracer(scopeName)
