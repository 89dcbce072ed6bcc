package budget

import "testing"

func testDefaults(tokens int64, cost float64, seconds int64, warn float64) Config {
	return Config{
		MaxTotalTokens:       &tokens,
		MaxTotalCost:         &cost,
		MaxTotalTimeSeconds:  &seconds,
		WarnThresholdPercent: &warn,
	}
}

func TestCanExecuteCodeAlwaysAllowed(t *testing.T) {
	l := NewLedger(testDefaults(10000, 1.0, 60, 70))
	if d := l.CanExecute("missing", KindCode); !d.Allowed {
		t.Fatalf("code execution must be allowed for uninitialized runs")
	}

	l.InitRun("run-1", Config{})
	l.RecordUsage("run-1", Usage{TokensIn: 20000})
	if d := l.CanExecute("run-1", KindCode); !d.Allowed {
		t.Fatalf("code execution must be allowed for exceeded runs")
	}
}

func TestCanExecuteLLM(t *testing.T) {
	l := NewLedger(testDefaults(10000, 1.0, 60, 70))

	if d := l.CanExecute("missing", KindLLM); d.Allowed || d.Reason != ReasonNotInitialized {
		t.Fatalf("expected uninitialized denial, got %+v", d)
	}

	l.InitRun("run-1", Config{})
	if d := l.CanExecute("run-1", KindLLM); !d.Allowed {
		t.Fatalf("fresh run should allow llm calls: %+v", d)
	}
}

func TestTokenLimitExceeded(t *testing.T) {
	l := NewLedger(testDefaults(10000, 100.0, 600, 70))
	l.InitRun("run-1", Config{})
	l.RecordUsage("run-1", Usage{TokensIn: 6000, TokensOut: 5000})

	st := l.State("run-1")
	if st == nil {
		t.Fatalf("expected state for run-1")
	}
	if !st.IsExceeded {
		t.Fatalf("expected budget exceeded")
	}
	if st.ExceededReason != ReasonTokenLimit {
		t.Fatalf("expected %s, got %s", ReasonTokenLimit, st.ExceededReason)
	}

	if d := l.CanExecute("run-1", KindLLM); d.Allowed || d.Reason != ReasonTokenLimit {
		t.Fatalf("expected token limit denial, got %+v", d)
	}
}

func TestFirstBreachWinsAndSticky(t *testing.T) {
	l := NewLedger(testDefaults(1000, 0.5, 600, 70))
	l.InitRun("run-1", Config{})
	// One call breaches both token and cost ceilings; token is checked first.
	l.RecordUsage("run-1", Usage{TokensIn: 2000, Cost: 5.0})
	if st := l.State("run-1"); st.ExceededReason != ReasonTokenLimit {
		t.Fatalf("expected token reason on simultaneous breach, got %s", st.ExceededReason)
	}

	// A later cost-only breach must not rewrite the reason.
	l.RecordUsage("run-1", Usage{Cost: 10.0})
	if st := l.State("run-1"); st.ExceededReason != ReasonTokenLimit {
		t.Fatalf("exceeded reason must be sticky, got %s", st.ExceededReason)
	}
}

func TestCumulativeCounters(t *testing.T) {
	l := NewLedger(testDefaults(100000, 100.0, 600, 70))
	l.InitRun("run-1", Config{})
	l.RecordUsage("run-1", Usage{TokensIn: 100, TokensOut: 50, Cost: 0.1, LatencyMS: 250})
	l.RecordUsage("run-1", Usage{TokensIn: 200, TokensOut: 25, Cost: 0.2, LatencyMS: 750})

	st := l.State("run-1")
	if st.TokensUsed != 375 {
		t.Fatalf("expected 375 tokens used, got %d", st.TokensUsed)
	}
	if st.CostUsed < 0.299 || st.CostUsed > 0.301 {
		t.Fatalf("expected ~0.3 cost used, got %f", st.CostUsed)
	}
	if st.TimeUsedMS != 1000 {
		t.Fatalf("expected 1000ms used, got %d", st.TimeUsedMS)
	}
}

func TestRecordUsageUnknownRunIsNoop(t *testing.T) {
	l := NewLedger(testDefaults(10000, 1.0, 60, 70))
	if alerts := l.RecordUsage("missing", Usage{TokensIn: 100}); alerts != nil {
		t.Fatalf("unknown run should yield no alerts")
	}
	if st := l.State("missing"); st != nil {
		t.Fatalf("unknown run should have no state")
	}
}

func TestCostAlertBoundaries(t *testing.T) {
	l := NewLedger(testDefaults(1000000, 1.0, 6000, 70))
	l.InitRun("run-1", Config{})

	if alerts := l.RecordUsage("run-1", Usage{Cost: 0.5}); len(alerts) != 0 {
		t.Fatalf("expected no alerts below warn threshold, got %+v", alerts)
	}

	// Exactly 70% is inclusive.
	alerts := l.RecordUsage("run-1", Usage{Cost: 0.2})
	if len(alerts) != 1 || alerts[0].Severity != AlertWarning || alerts[0].Dimension != "cost" {
		t.Fatalf("expected cost warning at 70%%, got %+v", alerts)
	}

	// Exactly 90% escalates to critical.
	alerts = l.RecordUsage("run-1", Usage{Cost: 0.2})
	if len(alerts) != 1 || alerts[0].Severity != AlertCritical {
		t.Fatalf("expected cost critical at 90%%, got %+v", alerts)
	}

	// No duplicate alerts once past both thresholds.
	if alerts := l.RecordUsage("run-1", Usage{Cost: 0.01}); len(alerts) != 0 {
		t.Fatalf("expected no repeat alerts, got %+v", alerts)
	}
}

func TestCostAlertToleratesAccumulationDrift(t *testing.T) {
	l := NewLedger(testDefaults(1000000, 1.0, 6000, 70))
	l.InitRun("run-1", Config{})

	// 0.5+0.2+0.2 accumulates to 0.8999999999999999 in float64; the
	// threshold comparison must still treat the sum as 90% of the limit.
	l.RecordUsage("run-1", Usage{Cost: 0.5})
	l.RecordUsage("run-1", Usage{Cost: 0.2})
	alerts := l.RecordUsage("run-1", Usage{Cost: 0.2})
	if len(alerts) != 1 || alerts[0].Severity != AlertCritical || alerts[0].Dimension != "cost" {
		t.Fatalf("expected cost critical despite accumulation drift, got %+v", alerts)
	}

	// The rounded extended state agrees with the alert at the boundary.
	ext := l.ExtendedState("run-1")
	if ext == nil || ext.CostUsedPercent != 90 {
		t.Fatalf("expected 90%% cost used, got %+v", ext)
	}
}

func TestExtendedState(t *testing.T) {
	l := NewLedger(testDefaults(10000, 1.0, 60, 70))
	l.InitRun("run-1", Config{})
	l.RecordUsage("run-1", Usage{TokensIn: 2000, Cost: 0.3, LatencyMS: 10000})

	ext := l.ExtendedState("run-1")
	if ext == nil {
		t.Fatalf("expected extended state")
	}
	if ext.IsExceeded {
		t.Fatalf("budget should not be exceeded")
	}
	if ext.TokensRemaining != 8000 {
		t.Fatalf("expected 8000 tokens remaining, got %d", ext.TokensRemaining)
	}
	if ext.CostRemaining < 0.699 || ext.CostRemaining > 0.701 {
		t.Fatalf("expected ~0.7 cost remaining, got %f", ext.CostRemaining)
	}
	if ext.TimeRemainingMS != 50000 {
		t.Fatalf("expected 50000ms remaining, got %d", ext.TimeRemainingMS)
	}
	if ext.TokensUsedPercent != 20 {
		t.Fatalf("expected 20%% tokens used, got %d", ext.TokensUsedPercent)
	}
	if !ext.LLMCallsAllowed {
		t.Fatalf("expected llm calls allowed")
	}
}

func TestRemainingClampedAtZero(t *testing.T) {
	l := NewLedger(testDefaults(1000, 1.0, 60, 70))
	l.InitRun("run-1", Config{})
	l.RecordUsage("run-1", Usage{TokensIn: 5000, Cost: 4.0, LatencyMS: 120000})

	ext := l.ExtendedState("run-1")
	if ext.TokensRemaining != 0 || ext.CostRemaining != 0 || ext.TimeRemainingMS != 0 {
		t.Fatalf("remaining values must clamp at zero, got %+v", ext)
	}
	if ext.LLMCallsAllowed {
		t.Fatalf("exceeded run must not allow llm calls")
	}
}

func TestFinalizeRunIdempotent(t *testing.T) {
	l := NewLedger(testDefaults(10000, 1.0, 60, 70))
	l.InitRun("run-1", Config{})
	l.RecordUsage("run-1", Usage{TokensIn: 100})

	final := l.FinalizeRun("run-1")
	if final == nil || final.TokensUsed != 100 {
		t.Fatalf("expected final snapshot with usage, got %+v", final)
	}
	if again := l.FinalizeRun("run-1"); again != nil {
		t.Fatalf("second finalize must return nil")
	}

	// Finalization acts as cooperative cancellation for in-flight units.
	if d := l.CanExecute("run-1", KindLLM); d.Allowed || d.Reason != ReasonNotInitialized {
		t.Fatalf("finalized run should read as uninitialized, got %+v", d)
	}
}

func TestReInitResetsCounters(t *testing.T) {
	l := NewLedger(testDefaults(1000, 1.0, 60, 70))
	l.InitRun("run-1", Config{})
	l.RecordUsage("run-1", Usage{TokensIn: 5000})
	if st := l.State("run-1"); !st.IsExceeded {
		t.Fatalf("expected exceeded before re-init")
	}

	l.InitRun("run-1", Config{})
	st := l.State("run-1")
	if st.TokensUsed != 0 || st.IsExceeded {
		t.Fatalf("re-init must reset counters, got %+v", st)
	}
}

func TestGlobalStats(t *testing.T) {
	l := NewLedger(testDefaults(1000, 1.0, 60, 70))
	l.InitRun("run-1", Config{})
	l.InitRun("run-2", Config{})
	l.RecordUsage("run-1", Usage{TokensIn: 5000})
	l.RecordUsage("run-2", Usage{TokensIn: 10})
	l.RecordUsage("missing", Usage{TokensIn: 10})

	stats := l.Stats()
	if stats.ActiveRuns != 2 {
		t.Fatalf("expected 2 active runs, got %d", stats.ActiveRuns)
	}
	if stats.ExceededRuns != 1 {
		t.Fatalf("expected 1 exceeded run, got %d", stats.ExceededRuns)
	}
	if stats.UsageRecords != 3 {
		t.Fatalf("expected 3 usage records observed, got %d", stats.UsageRecords)
	}
}

func TestPerRunOverride(t *testing.T) {
	l := NewLedger(testDefaults(10000, 1.0, 60, 70))
	tokens := int64(100)
	l.InitRun("run-1", Config{MaxTotalTokens: &tokens})
	l.RecordUsage("run-1", Usage{TokensIn: 150})
	if st := l.State("run-1"); !st.IsExceeded || st.ExceededReason != ReasonTokenLimit {
		t.Fatalf("override limit should apply, got %+v", st)
	}
}
