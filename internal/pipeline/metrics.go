package pipeline

import (
	"context"
	"log"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	otelmetric "go.opentelemetry.io/otel/metric"
)

var (
	pipelineMetricsOnce sync.Once
	unitsProcessed      otelmetric.Int64Counter
	retriesProcessed    otelmetric.Int64Counter
)

func initPipelineMetrics() {
	meter := otel.Meter("alphapipe/pipeline")
	var err error
	unitsProcessed, err = meter.Int64Counter(
		"pipeline_units_processed_total",
		otelmetric.WithDescription("Work units processed, labeled by outcome status"),
	)
	if err != nil {
		log.Printf("pipeline metrics init: pipeline_units_processed_total: %v", err)
	}
	retriesProcessed, err = meter.Int64Counter(
		"pipeline_retries_processed_total",
		otelmetric.WithDescription("Quarantine retries replayed through the pipeline"),
	)
	if err != nil {
		log.Printf("pipeline metrics init: pipeline_retries_processed_total: %v", err)
	}
}

func recordUnitProcessed(ctx context.Context, status string) {
	pipelineMetricsOnce.Do(initPipelineMetrics)
	if unitsProcessed != nil {
		unitsProcessed.Add(ctx, 1, otelmetric.WithAttributes(attribute.String("status", status)))
	}
}

func recordRetryProcessed(ctx context.Context, resolved bool) {
	pipelineMetricsOnce.Do(initPipelineMetrics)
	if retriesProcessed != nil {
		retriesProcessed.Add(ctx, 1, otelmetric.WithAttributes(attribute.Bool("resolved", resolved)))
	}
}
