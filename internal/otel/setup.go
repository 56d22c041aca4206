package otel

import (
	"context"
	"fmt"
	"os"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/stdout/stdoutmetric"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"go.opentelemetry.io/otel/trace"
)

// metricInterval is the periodic reader's export cadence. The SDK
// default of 60s is too coarse to see short admission bursts.
const metricInterval = 30 * time.Second

// requestDurationBuckets are the histogram boundaries (ms) for
// RequestDurationInstrument. The low end resolves cache hits, the high
// end covers upstream generation.
var requestDurationBuckets = []float64{1, 2.5, 5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000, 10000, 30000}

// Setup installs global tracer and meter providers backed by stdout
// exporters and returns a shutdown function that flushes both. With
// enabled false nothing is installed and shutdown is a no-op.
// Production backends get an OTLP option here later; the instrumentation
// call sites don't change.
func Setup(serviceName, version string, enabled bool) (shutdown func(context.Context) error, err error) {
	if !enabled {
		return func(ctx context.Context) error { return nil }, nil
	}

	ctx := context.Background()
	res, err := newResource(ctx, serviceName, version)
	if err != nil {
		return nil, err
	}

	tp, err := newTracerProvider(res)
	if err != nil {
		return nil, err
	}
	mp, err := newMeterProvider(res)
	if err != nil {
		_ = tp.Shutdown(ctx)
		return nil, err
	}

	otel.SetTracerProvider(tp)
	otel.SetMeterProvider(mp)

	return func(ctx context.Context) error {
		var firstErr error
		if err := tp.Shutdown(ctx); err != nil {
			firstErr = err
		}
		if err := mp.Shutdown(ctx); err != nil && firstErr == nil {
			firstErr = err
		}
		return firstErr
	}, nil
}

func newResource(ctx context.Context, serviceName, version string) (*resource.Resource, error) {
	opts := []resource.Option{
		resource.WithHost(),
		resource.WithAttributes(
			semconv.ServiceName(serviceName),
			semconv.ServiceVersion(version),
		),
	}
	if env := os.Getenv("FOYER_ENV"); env != "" {
		opts = append(opts, resource.WithAttributes(semconv.DeploymentEnvironment(env)))
	}
	res, err := resource.New(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("building resource: %w", err)
	}
	return res, nil
}

func newTracerProvider(res *resource.Resource) (*sdktrace.TracerProvider, error) {
	exporter, err := stdouttrace.New(stdouttrace.WithPrettyPrint())
	if err != nil {
		return nil, fmt.Errorf("creating trace exporter: %w", err)
	}
	return sdktrace.NewTracerProvider(
		sdktrace.WithResource(res),
		sdktrace.WithBatcher(exporter),
	), nil
}

func newMeterProvider(res *resource.Resource) (*sdkmetric.MeterProvider, error) {
	exporter, err := stdoutmetric.New(stdoutmetric.WithPrettyPrint())
	if err != nil {
		return nil, fmt.Errorf("creating metric exporter: %w", err)
	}
	// The request histogram gets explicit buckets; everything else keeps
	// the SDK defaults.
	durationView := sdkmetric.NewView(
		sdkmetric.Instrument{Name: RequestDurationInstrument},
		sdkmetric.Stream{Aggregation: sdkmetric.AggregationExplicitBucketHistogram{
			Boundaries: requestDurationBuckets,
		}},
	)
	return sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exporter, sdkmetric.WithInterval(metricInterval))),
		sdkmetric.WithView(durationView),
	), nil
}

// Tracer returns a tracer for the given instrumentation scope, usually
// the importing package's path.
func Tracer(scope string) trace.Tracer {
	return otel.Tracer(scope)
}
