package budget

import (
	"context"
	"log"
	"sync"

	"go.opentelemetry.io/otel"
	otelmetric "go.opentelemetry.io/otel/metric"
)

var (
	budgetMetricsOnce sync.Once
	runsStarted       otelmetric.Int64Counter
	usageRecords      otelmetric.Int64Counter
	llmDenials        otelmetric.Int64Counter
)

func initBudgetMetrics() {
	meter := otel.Meter("alphapipe/budget")
	var err error
	runsStarted, err = meter.Int64Counter(
		"budget_runs_started_total",
		otelmetric.WithDescription("Run budgets initialized in the ledger"),
	)
	if err != nil {
		log.Printf("budget metrics init: budget_runs_started_total: %v", err)
	}
	usageRecords, err = meter.Int64Counter(
		"budget_usage_records_total",
		otelmetric.WithDescription("Usage measurements recorded against run budgets"),
	)
	if err != nil {
		log.Printf("budget metrics init: budget_usage_records_total: %v", err)
	}
	llmDenials, err = meter.Int64Counter(
		"budget_llm_denials_total",
		otelmetric.WithDescription("LLM execution requests denied by the ledger"),
	)
	if err != nil {
		log.Printf("budget metrics init: budget_llm_denials_total: %v", err)
	}
}

func recordRunStarted(ctx context.Context) {
	budgetMetricsOnce.Do(initBudgetMetrics)
	if runsStarted != nil {
		runsStarted.Add(ctx, 1)
	}
}

func recordUsageObserved(ctx context.Context) {
	budgetMetricsOnce.Do(initBudgetMetrics)
	if usageRecords != nil {
		usageRecords.Add(ctx, 1)
	}
}

func recordLLMDenial(ctx context.Context) {
	budgetMetricsOnce.Do(initBudgetMetrics)
	if llmDenials != nil {
		llmDenials.Add(ctx, 1)
	}
}
