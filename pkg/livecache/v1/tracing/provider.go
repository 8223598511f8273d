package tracing

import (
	"context"

	"go.opentelemetry.io/otel/trace"
)

// TracerProvider defines the interface for accessing the tracer used to wrap
// cache writes in spans. It lets consumers plug livecache into an existing
// OpenTelemetry setup.
type TracerProvider interface {
	// GetTracer returns a Tracer instance with the specified name and options.
	GetTracer(name string, opts ...trace.TracerOption) trace.Tracer

	// Shutdown flushes buffered spans and stops the provider. Implementations
	// with nothing to flush (e.g. the no-op provider) return nil.
	Shutdown(ctx context.Context) error
}
