// Package tracing wraps OpenTelemetry span handling for workflow and upgrade operations.
package tracing

import (
	"context"
	"io"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
)

// Common attribute keys.
const (
	ObjectUIDKey  = "limscore.object.uid"
	PortalTypeKey = "limscore.object.portal_type"
	ActionKey     = "limscore.workflow.action"
	WorkflowKey   = "limscore.workflow.id"
	OutcomeKey    = "limscore.workflow.outcome"
	ProductKey    = "limscore.upgrade.product"
	VersionKey    = "limscore.upgrade.version"
	ProcedureKey  = "limscore.upgrade.procedure"
)

const instrumentationName = "limscore"

// Tracer returns the named tracer from the global provider.
//
//nolint:ireturn // OpenTelemetry tracers are interfaces
func Tracer(name string) trace.Tracer {
	return otel.Tracer(instrumentationName + "/" + name)
}

// StartSpan starts a span carrying attrs.
//
//nolint:ireturn,spancheck // callers end the span
func StartSpan(ctx context.Context, tracer trace.Tracer, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return tracer.Start(ctx, name, trace.WithAttributes(attrs...))
}

// SetError marks the span as failed.
func SetError(span trace.Span, err error, attrs ...attribute.KeyValue) {
	if err == nil {
		return
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	span.AddEvent("error_occurred", trace.WithAttributes(attrs...))
}

// SetupWriter installs a global provider exporting spans as JSON to w and
// returns its shutdown function.
func SetupWriter(w io.Writer) (func(context.Context) error, error) {
	exporter, err := stdouttrace.New(stdouttrace.WithWriter(w))
	if err != nil {
		return nil, err
	}
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithSyncer(exporter),
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
	)
	otel.SetTracerProvider(tp)
	return tp.Shutdown, nil
}
