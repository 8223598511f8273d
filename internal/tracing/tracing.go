package tracing

import (
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	oteltrace "go.opentelemetry.io/otel/trace"
)

// TracerName is the instrumentation name caches request their tracer under.
const TracerName = "github.com/gxo-labs/livecache"

// SpanWrite is the name of the span wrapping every cache write.
const SpanWrite = "livecache.write"

// Attribute keys set on write spans.
const (
	AttrCacheName     = attribute.Key("livecache.cache.name")
	AttrMutationCount = attribute.Key("livecache.mutation.count")
	AttrChangeCount   = attribute.Key("livecache.change.count")
	AttrWriteSource   = attribute.Key("livecache.write.source")
)

// RecordError records err on span and marks the span as failed. It does
// nothing if err is nil or the span is not recording.
func RecordError(span oteltrace.Span, err error) {
	if err == nil || span == nil || !span.IsRecording() {
		return
	}
	span.RecordError(err, oteltrace.WithStackTrace(true))
	span.SetStatus(codes.Error, err.Error())
}
