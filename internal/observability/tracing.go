// Package observability configures trace export for the gateway.
package observability

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

// SetupTracing installs a tracer provider exporting spans to stderr and
// returns a shutdown function that flushes pending spans. When disabled,
// the default no-op provider stays in place and the returned shutdown does
// nothing, so callers can defer it unconditionally.
func SetupTracing(enabled bool) (func(context.Context) error, error) {
	if !enabled {
		return func(context.Context) error { return nil }, nil
	}

	// stderr keeps span output away from anything parsing stdout.
	exporter, err := stdouttrace.New(stdouttrace.WithWriter(stderrWriter{}))
	if err != nil {
		return nil, fmt.Errorf("create trace exporter: %w", err)
	}

	provider := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
	)
	otel.SetTracerProvider(provider)

	return provider.Shutdown, nil
}
