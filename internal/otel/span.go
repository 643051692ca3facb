// Package otel provides OpenTelemetry span helpers shared by the bridge packages.
package otel

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Attribute keys shared by sync and CLI spans.
const (
	AttrCommand    = attribute.Key("joplin.command")
	AttrConfigKey  = attribute.Key("joplin.config_key")
	AttrRunID      = attribute.Key("joplin.run_id")
	AttrExitCode   = attribute.Key("joplin.exit_code")
	AttrSyncMode   = attribute.Key("sync.mode")
	AttrSyncResult = attribute.Key("sync.success")
)

// StartSpan starts a new span if the tracer is non-nil, otherwise returns a no-op span.
func StartSpan(
	ctx context.Context,
	tracer trace.Tracer,
	name string,
	opts ...trace.SpanStartOption,
) (context.Context, trace.Span) {
	if tracer == nil {
		return ctx, trace.SpanFromContext(ctx)
	}
	return tracer.Start(ctx, name, opts...)
}

// RecordError records err on span and marks it failed. The status description
// stays generic because CLI stderr may contain profile paths; the full error
// is kept in the span event.
func RecordError(span trace.Span, err error) {
	if err != nil && span != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "operation failed")
	}
}
