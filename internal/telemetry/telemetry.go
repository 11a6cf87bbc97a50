package telemetry

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/smallbiznis/accounts-auth/internal/config"
)

const setupTimeout = 10 * time.Second

// Provider owns the tracing pipeline. Without an OTLP endpoint configured it
// degrades to a noop tracer so instrumented code paths need no guards.
type Provider struct {
	scope string
	tp    *sdktrace.TracerProvider
}

// Tracer returns a tracer scoped to the service name.
func (p *Provider) Tracer() trace.Tracer {
	if p == nil || p.tp == nil {
		return otel.GetTracerProvider().Tracer("accounts-auth")
	}
	return p.tp.Tracer(p.scope)
}

// Shutdown flushes any buffered spans.
func (p *Provider) Shutdown(ctx context.Context) error {
	if p == nil || p.tp == nil {
		return nil
	}
	return p.tp.Shutdown(ctx)
}

// New configures OpenTelemetry tracing from config and installs the global
// provider and propagators.
func New(ctx context.Context, cfg config.Config, logger *zap.Logger) (*Provider, error) {
	if cfg.TelemetryEndpoint == "" {
		otel.SetTracerProvider(trace.NewNoopTracerProvider())
		otel.SetTextMapPropagator(propagation.TraceContext{})
		return &Provider{scope: cfg.ServiceName}, nil
	}

	ctx, cancel := context.WithTimeout(ctx, setupTimeout)
	defer cancel()

	exp, err := newExporter(ctx, cfg)
	if err != nil {
		return nil, err
	}
	res, err := newResource(ctx, cfg)
	if err != nil {
		return nil, err
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithResource(res),
		sdktrace.WithBatcher(exp),
	)

	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	if logger != nil {
		logger.Info("telemetry enabled",
			zap.String("endpoint", cfg.TelemetryEndpoint),
			zap.String("service", cfg.ServiceName),
		)
	}

	return &Provider{scope: cfg.ServiceName, tp: tp}, nil
}

func newExporter(ctx context.Context, cfg config.Config) (*otlptrace.Exporter, error) {
	opts := []otlptracehttp.Option{
		otlptracehttp.WithEndpoint(cfg.TelemetryEndpoint),
	}
	if cfg.TelemetryInsecure {
		opts = append(opts, otlptracehttp.WithInsecure())
	}
	exp, err := otlptracehttp.New(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("create otlp exporter: %w", err)
	}
	return exp, nil
}

func newResource(ctx context.Context, cfg config.Config) (*resource.Resource, error) {
	res, err := resource.New(ctx,
		resource.WithFromEnv(),
		resource.WithTelemetrySDK(),
		resource.WithProcess(),
		resource.WithAttributes(
			semconv.ServiceName(cfg.ServiceName),
			semconv.DeploymentEnvironment(cfg.Environment),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("build telemetry resource: %w", err)
	}
	return res, nil
}
