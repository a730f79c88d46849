package otel

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "harrier"

// StartTaskSpan starts a span covering one task's effort and verification.
func StartTaskSpan(ctx context.Context, taskID, title string) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, "task",
		trace.WithAttributes(
			attribute.String("task.id", taskID),
			attribute.String("task.title", title),
		),
	)
}

// StartGateSpan starts a span for the verification battery.
func StartGateSpan(ctx context.Context, taskID string) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, "gates",
		trace.WithAttributes(attribute.String("task.id", taskID)),
	)
}
