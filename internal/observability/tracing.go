package observability

import (
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

const tracerPrefix = "github.com/danmuck/webext/"

// Tracer returns a tracer from the global provider. Without an installed
// provider spans are no-ops.
func Tracer(component string) trace.Tracer {
	return otel.Tracer(tracerPrefix + component)
}
