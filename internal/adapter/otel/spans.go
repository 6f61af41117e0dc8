package otel

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "verdikt"

// StartTransitionSpan starts a span for an escrow task transition.
func StartTransitionSpan(ctx context.Context, taskID, transition string) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, "task.transition",
		trace.WithAttributes(
			attribute.String("task.id", taskID),
			attribute.String("task.transition", transition),
		),
	)
}

// StartConsensusSpan starts a span for a jury consensus operation.
func StartConsensusSpan(ctx context.Context, taskID, op string) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, "jury."+op,
		trace.WithAttributes(attribute.String("consensus_task.id", taskID)),
	)
}
