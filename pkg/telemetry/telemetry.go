// Package telemetry wires OpenTelemetry tracing for Stepwise processes.
package telemetry

import (
	"context"
	"errors"
	"io"
	"os"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"github.com/stepwise-hub/stepwise/pkg/logger"
)

// Config controls tracing behaviour.
type Config struct {
	ServiceName    string
	ServiceVersion string
	Environment    string

	// Enabled turns tracing on. When off, Init installs nothing and the
	// global no-op tracer stays in place.
	Enabled bool

	// Exporter is "stdout" or "none".
	Exporter string

	// SampleRatio is the parent-based sampling ratio (0..1).
	SampleRatio float64

	// Output for the stdout exporter. Defaults to os.Stdout.
	Output io.Writer
}

// ShutdownFunc flushes and stops the tracer provider.
type ShutdownFunc func(context.Context) error

// ErrUnknownExporter is returned for unsupported exporter names.
var ErrUnknownExporter = errors.New("telemetry: unknown trace exporter")

// Init installs a global tracer provider. The returned shutdown must be
// called on exit; it is a no-op when tracing is disabled.
func Init(ctx context.Context, cfg Config, log *logger.Logger) (ShutdownFunc, error) {
	noop := func(context.Context) error { return nil }
	if !cfg.Enabled {
		return noop, nil
	}

	res, err := resource.New(ctx, resource.WithAttributes(
		attribute.String("service.name", cfg.ServiceName),
		attribute.String("service.version", cfg.ServiceVersion),
		attribute.String("deployment.environment", cfg.Environment),
	))
	if err != nil {
		log.Warn("otel resource init failed (continuing)", logger.Err(err))
	}

	opts := []sdktrace.TracerProviderOption{
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(cfg.SampleRatio))),
		sdktrace.WithResource(res),
	}

	switch strings.ToLower(cfg.Exporter) {
	case "", "stdout":
		out := cfg.Output
		if out == nil {
			out = os.Stdout
		}
		exp, err := stdouttrace.New(stdouttrace.WithWriter(out))
		if err != nil {
			return noop, err
		}
		opts = append(opts, sdktrace.WithBatcher(exp, sdktrace.WithBatchTimeout(5*time.Second)))
	case "none":
	default:
		return noop, ErrUnknownExporter
	}

	tp := sdktrace.NewTracerProvider(opts...)
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	log.Info("otel tracing initialized",
		logger.String("service", cfg.ServiceName),
		logger.String("exporter", cfg.Exporter),
	)

	return tp.Shutdown, nil
}
