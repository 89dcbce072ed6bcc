package quarantine

import (
	"context"
	"log"
	"sync"

	"go.opentelemetry.io/otel"
	otelmetric "go.opentelemetry.io/otel/metric"
)

var (
	quarantineMetricsOnce sync.Once
	recordsAdded          otelmetric.Int64Counter
	recordsEscalated      otelmetric.Int64Counter
	recordsSweptStale     otelmetric.Int64Counter
	retriesScheduled      otelmetric.Int64Counter
)

func initQuarantineMetrics() {
	meter := otel.Meter("alphapipe/quarantine")
	var err error
	recordsAdded, err = meter.Int64Counter(
		"quarantine_records_added_total",
		otelmetric.WithDescription("Failed work units quarantined"),
	)
	if err != nil {
		log.Printf("quarantine metrics init: quarantine_records_added_total: %v", err)
	}
	recordsEscalated, err = meter.Int64Counter(
		"quarantine_records_escalated_total",
		otelmetric.WithDescription("Quarantine records escalated to human review"),
	)
	if err != nil {
		log.Printf("quarantine metrics init: quarantine_records_escalated_total: %v", err)
	}
	recordsSweptStale, err = meter.Int64Counter(
		"quarantine_records_swept_total",
		otelmetric.WithDescription("Quarantine records dismissed as stale by the sweeper"),
	)
	if err != nil {
		log.Printf("quarantine metrics init: quarantine_records_swept_total: %v", err)
	}
	retriesScheduled, err = meter.Int64Counter(
		"quarantine_retries_scheduled_total",
		otelmetric.WithDescription("Retry attempts scheduled with backoff"),
	)
	if err != nil {
		log.Printf("quarantine metrics init: quarantine_retries_scheduled_total: %v", err)
	}
}

func recordAdded(ctx context.Context) {
	quarantineMetricsOnce.Do(initQuarantineMetrics)
	if recordsAdded != nil {
		recordsAdded.Add(ctx, 1)
	}
}

func recordEscalated(ctx context.Context) {
	quarantineMetricsOnce.Do(initQuarantineMetrics)
	if recordsEscalated != nil {
		recordsEscalated.Add(ctx, 1)
	}
}

func recordSweptStale(ctx context.Context) {
	quarantineMetricsOnce.Do(initQuarantineMetrics)
	if recordsSweptStale != nil {
		recordsSweptStale.Add(ctx, 1)
	}
}

func retryScheduled(ctx context.Context) {
	quarantineMetricsOnce.Do(initQuarantineMetrics)
	if retriesScheduled != nil {
		retriesScheduled.Add(ctx, 1)
	}
}
