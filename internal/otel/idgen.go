package otel

import (
	"context"
	"crypto/rand"

	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
)

// FixedTraceIDGenerator puts every root span into one trace and draws span
// IDs at random.
type FixedTraceIDGenerator struct {
	traceID trace.TraceID
}

var _ sdktrace.IDGenerator = (*FixedTraceIDGenerator)(nil)

// NewFixedTraceIDGenerator returns a generator for traceID.
func NewFixedTraceIDGenerator(traceID trace.TraceID) *FixedTraceIDGenerator {
	return &FixedTraceIDGenerator{traceID: traceID}
}

// NewIDs implements sdktrace.IDGenerator.
func (g *FixedTraceIDGenerator) NewIDs(ctx context.Context) (trace.TraceID, trace.SpanID) {
	return g.traceID, g.NewSpanID(ctx, g.traceID)
}

// NewSpanID implements sdktrace.IDGenerator.
func (g *FixedTraceIDGenerator) NewSpanID(context.Context, trace.TraceID) trace.SpanID {
	var sid trace.SpanID
	for !sid.IsValid() {
		_, _ = rand.Read(sid[:]) //nolint:errcheck // crypto/rand.Read does not fail on Linux
	}
	return sid
}
