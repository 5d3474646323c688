// Package tracing bootstraps an OpenTelemetry tracer provider for the
// system and session daemons, and provides a small helper for recording an
// error on a span.
package tracing

import (
	"context"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
)

var provider *sdktrace.TracerProvider

// Bootstrap installs a global [trace.TracerProvider].
//
// When enabled is false, a provider configured to never sample is
// installed; tracing calls remain cheap no-ops rather than needing to be
// guarded at every call site.
func Bootstrap(ctx context.Context, enabled bool) {
	var opts []sdktrace.TracerProviderOption
	if enabled {
		opts = append(opts, sdktrace.WithSampler(sdktrace.AlwaysSample()))
	} else {
		opts = append(opts, sdktrace.WithSampler(sdktrace.NeverSample()))
	}
	provider = sdktrace.NewTracerProvider(opts...)
	otel.SetTracerProvider(provider)
	slog.InfoContext(ctx, "tracing bootstrapped", "enabled", enabled)
}

// GetTracer returns the named tracer from the installed global provider.
func GetTracer(name string) trace.Tracer {
	if provider == nil {
		return otel.Tracer(name)
	}
	return provider.Tracer(name)
}

// Shutdown flushes and releases resources held by the installed provider.
func Shutdown(ctx context.Context) error {
	if provider == nil {
		return nil
	}
	return provider.Shutdown(ctx)
}

// HandleError records err on span, if non-nil, as an error event and
// the span's error status, and returns err unchanged so call sites can
// write `return tracing.HandleError(err, span)`.
func HandleError(err error, span trace.Span) error {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return err
}
