// Package telemetry installs OpenTelemetry trace and metric providers that
// export over OTLP/gRPC.
//
// The pipeline and signing packages record spans and counters through the
// otel globals; until Init runs those globals are no-ops.
package telemetry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
)

// ServiceName is reported as service.name on every exported signal.
const ServiceName = "releasepost"

const setupTimeout = 5 * time.Second

// Config selects the collector.
type Config struct {
	Endpoint string
	Insecure bool

	// Attributes are added to the resource alongside service.name.
	Attributes map[string]string
}

// Shutdown flushes and stops the installed providers.
type Shutdown func(ctx context.Context) error

// Resource builds the resource shared by traces and metrics.
func Resource(cfg Config) *resource.Resource {
	attrs := make([]attribute.KeyValue, 0, len(cfg.Attributes)+1)
	attrs = append(attrs, semconv.ServiceName(ServiceName))
	for k, v := range cfg.Attributes {
		attrs = append(attrs, attribute.String(k, v))
	}
	return resource.NewWithAttributes(semconv.SchemaURL, attrs...)
}

// Init creates the OTLP exporters and installs the providers as the otel
// globals. The returned Shutdown restores nothing; callers run it once at exit.
func Init(ctx context.Context, logger *slog.Logger, cfg Config) (Shutdown, error) {
	if cfg.Endpoint == "" {
		return nil, errors.New("telemetry: endpoint is required")
	}
	ctx, cancel := context.WithTimeout(ctx, setupTimeout)
	defer cancel()

	traceOpts := []otlptracegrpc.Option{otlptracegrpc.WithEndpoint(cfg.Endpoint)}
	metricOpts := []otlpmetricgrpc.Option{otlpmetricgrpc.WithEndpoint(cfg.Endpoint)}
	if cfg.Insecure {
		traceOpts = append(traceOpts, otlptracegrpc.WithInsecure())
		metricOpts = append(metricOpts, otlpmetricgrpc.WithInsecure())
	}

	traceExporter, err := otlptracegrpc.New(ctx, traceOpts...)
	if err != nil {
		return nil, fmt.Errorf("creating trace exporter: %w", err)
	}
	metricExporter, err := otlpmetricgrpc.New(ctx, metricOpts...)
	if err != nil {
		_ = traceExporter.Shutdown(context.Background())
		return nil, fmt.Errorf("creating metric exporter: %w", err)
	}

	res := Resource(cfg)
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(traceExporter, sdktrace.WithBatchTimeout(setupTimeout)),
		sdktrace.WithResource(res),
	)
	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(metricExporter)),
		sdkmetric.WithResource(res),
	)
	Install(tp, mp)

	logger.Debug("telemetry enabled", slog.String("endpoint", cfg.Endpoint), slog.Bool("insecure", cfg.Insecure))

	return func(ctx context.Context) error {
		var errs []error
		if err := tp.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("shutting down tracer provider: %w", err))
		}
		if err := mp.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("shutting down meter provider: %w", err))
		}
		return errors.Join(errs...)
	}, nil
}

// Install sets tp and mp as the otel globals along with the W3C propagators.
func Install(tp *sdktrace.TracerProvider, mp *sdkmetric.MeterProvider) {
	otel.SetTracerProvider(tp)
	otel.SetMeterProvider(mp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))
}
