package otel

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "scmrelay"

// StartRegistrationSpan starts a span covering one bulk registration run.
func StartRegistrationSpan(ctx context.Context, orgID, integrationID string) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, "registration.run",
		trace.WithAttributes(
			attribute.String("organization.id", orgID),
			attribute.String("integration.id", integrationID),
		),
	)
}

// StartEventSpan starts a span for handling one inbound event.
func StartEventSpan(ctx context.Context, source, kind string) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, "event.handle",
		trace.WithAttributes(
			attribute.String("event.source", source),
			attribute.String("event.kind", kind),
		),
	)
}
