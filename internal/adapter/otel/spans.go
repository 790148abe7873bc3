package otel

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "argus"

// StartAnalysisSpan starts a span for the run-end analysis pass.
func StartAnalysisSpan(ctx context.Context, runID string, eventCount int) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, "analysis",
		trace.WithAttributes(
			attribute.String("run.id", runID),
			attribute.Int("run.event_count", eventCount),
		),
	)
}

// StartIngestSpan starts a span for an event ingestion batch.
func StartIngestSpan(ctx context.Context, runID string, batchSize int) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, "ingest",
		trace.WithAttributes(
			attribute.String("run.id", runID),
			attribute.Int("ingest.batch_size", batchSize),
		),
	)
}
