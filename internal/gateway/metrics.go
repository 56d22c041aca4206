package gateway

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "github.com/foyerhq/foyer/internal/gateway"

var (
	admissionCounter  metric.Int64Counter
	cacheCounter      metric.Int64Counter
	coalescedCounter  metric.Int64Counter
	metricsOnce       sync.Once
	metricsRegistered bool
)

func initMetrics() {
	meter := otel.Meter(meterName)
	var err error
	admissionCounter, err = meter.Int64Counter(
		"foyer.admission.checks",
		metric.WithDescription("Admission decisions by outcome"),
	)
	if err != nil {
		return
	}
	cacheCounter, err = meter.Int64Counter(
		"foyer.cache.lookups",
		metric.WithDescription("Cache lookups by partition and outcome"),
	)
	if err != nil {
		return
	}
	coalescedCounter, err = meter.Int64Counter(
		"foyer.coalesce.shared",
		metric.WithDescription("Fetches that shared another caller's in-flight execution"),
	)
	if err != nil {
		return
	}
	metricsRegistered = true
}

func recordAdmission(ctx context.Context, identity string, admitted bool) {
	metricsOnce.Do(initMetrics)
	if !metricsRegistered {
		return
	}
	admissionCounter.Add(ctx, 1, metric.WithAttributes(
		attribute.String("identity", identity),
		attribute.Bool("admitted", admitted),
	))
}

func recordCacheLookup(ctx context.Context, p Partition, hit bool) {
	metricsOnce.Do(initMetrics)
	if !metricsRegistered {
		return
	}
	part := "collections"
	if p == PartitionItems {
		part = "items"
	}
	cacheCounter.Add(ctx, 1, metric.WithAttributes(
		attribute.String("partition", part),
		attribute.Bool("hit", hit),
	))
}

func recordCoalesced(ctx context.Context) {
	metricsOnce.Do(initMetrics)
	if !metricsRegistered {
		return
	}
	coalescedCounter.Add(ctx, 1)
}
