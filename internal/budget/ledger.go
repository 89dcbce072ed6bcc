package budget

import (
	"context"
	"math"
	"sync"
	"time"
)

const criticalThresholdPercent = 90.0

// percentEpsilon absorbs float64 accumulation drift so usage that is
// mathematically on a threshold still counts as reaching it (0.5+0.2+0.2
// sums to 0.8999999999999999 against a 1.0 limit).
const percentEpsilon = 1e-9

// runBudget is the live accounting row for one orchestration run.
type runBudget struct {
	runID     string
	limits    Config
	tokens    int64
	cost      float64
	timeMS    int64
	exceeded  bool
	reason    string
	createdAt time.Time
	updatedAt time.Time
}

// State is an immutable snapshot of a run budget.
type State struct {
	RunID                string
	MaxTokens            int64
	MaxCost              float64
	MaxTimeSeconds       int64
	WarnThresholdPercent float64
	TokensUsed           int64
	CostUsed             float64
	TimeUsedMS           int64
	IsExceeded           bool
	ExceededReason       string
	CreatedAt            time.Time
	UpdatedAt            time.Time
}

// ExtendedState adds remaining-budget values (clamped at zero), rounded usage
// percentages, and the mirror of CanExecute for LLM calls.
type ExtendedState struct {
	State
	TokensRemaining   int64
	CostRemaining     float64
	TimeRemainingMS   int64
	TokensUsedPercent int
	CostUsedPercent   int
	TimeUsedPercent   int
	LLMCallsAllowed   bool
}

// GlobalStats aggregates ledger-wide counters for operational dashboards.
type GlobalStats struct {
	ActiveRuns   int
	ExceededRuns int
	UsageRecords int64
}

// Ledger owns the live table of run budgets. It is constructed once at
// process start and shared by reference; all methods are safe for concurrent
// use and none of them ever return an error or panic on bookkeeping misses
// (fail open on bookkeeping, fail closed on spend).
type Ledger struct {
	mu           sync.Mutex
	defaults     Config
	runs         map[string]*runBudget
	usageRecords int64
}

// NewLedger creates a Ledger with the given global default limits.
func NewLedger(defaults Config) *Ledger {
	return &Ledger{
		defaults: defaults.Clone(),
		runs:     make(map[string]*runBudget),
	}
}

// InitRun creates (or resets) the budget row for a run, merging the per-run
// override onto the global defaults. Always succeeds.
func (l *Ledger) InitRun(runID string, override Config) {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := time.Now().UTC()
	l.runs[runID] = &runBudget{
		runID:     runID,
		limits:    Merge(l.defaults, override),
		createdAt: now,
		updatedAt: now,
	}
	recordRunStarted(context.Background())
}

// CanExecute reports whether a run may consume the given execution kind.
// Deterministic code steps are always free; LLM steps are denied for unknown
// runs and for runs that already exceeded a ceiling.
func (l *Ledger) CanExecute(runID, kind string) Decision {
	if kind != KindLLM {
		return Decision{Allowed: true}
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	rb, ok := l.runs[runID]
	if !ok {
		recordLLMDenial(context.Background())
		return Decision{Allowed: false, Reason: ReasonNotInitialized}
	}
	if rb.exceeded {
		recordLLMDenial(context.Background())
		return Decision{Allowed: false, Reason: rb.reason}
	}
	return Decision{Allowed: true}
}

// RecordUsage adds a usage measurement to the run's cumulative counters and
// re-evaluates the ceilings in fixed order (tokens, cost, time; first breach
// wins). Unknown runs are a silent no-op. The returned alerts mark threshold
// crossings that occurred during this call.
func (l *Ledger) RecordUsage(runID string, usage Usage) []Alert {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.usageRecords++
	recordUsageObserved(context.Background())

	rb, ok := l.runs[runID]
	if !ok {
		return nil
	}

	prevTokens := percentOf(float64(rb.tokens), float64(limitOrZero(rb.limits.MaxTotalTokens)))
	prevCost := percentOf(rb.cost, valueOrZero(rb.limits.MaxTotalCost))
	prevTime := percentOf(float64(rb.timeMS), float64(limitOrZero(rb.limits.MaxTotalTimeSeconds)*1000))

	rb.tokens += usage.Tokens()
	rb.cost += usage.Cost
	rb.timeMS += usage.LatencyMS
	rb.updatedAt = time.Now().UTC()

	if !rb.exceeded {
		switch {
		case breachedInt(rb.tokens, rb.limits.MaxTotalTokens):
			rb.exceeded = true
			rb.reason = ReasonTokenLimit
		case breachedFloat(rb.cost, rb.limits.MaxTotalCost):
			rb.exceeded = true
			rb.reason = ReasonCostLimit
		case breachedInt(rb.timeMS, secondsToMS(rb.limits.MaxTotalTimeSeconds)):
			rb.exceeded = true
			rb.reason = ReasonTimeLimit
		}
	}

	warn := criticalThresholdPercent
	if rb.limits.WarnThresholdPercent != nil && *rb.limits.WarnThresholdPercent > 0 {
		warn = *rb.limits.WarnThresholdPercent
	}

	var alerts []Alert
	alerts = appendAlert(alerts, runID, "tokens", prevTokens,
		percentOf(float64(rb.tokens), float64(limitOrZero(rb.limits.MaxTotalTokens))), warn)
	alerts = appendAlert(alerts, runID, "cost", prevCost,
		percentOf(rb.cost, valueOrZero(rb.limits.MaxTotalCost)), warn)
	alerts = appendAlert(alerts, runID, "time", prevTime,
		percentOf(float64(rb.timeMS), float64(limitOrZero(rb.limits.MaxTotalTimeSeconds)*1000)), warn)
	return alerts
}

// State returns a read-only snapshot, or nil for unknown runs.
func (l *Ledger) State(runID string) *State {
	l.mu.Lock()
	defer l.mu.Unlock()
	rb, ok := l.runs[runID]
	if !ok {
		return nil
	}
	s := rb.snapshot()
	return &s
}

// ExtendedState returns the snapshot plus remaining values, rounded usage
// percentages and the LLM admission flag, or nil for unknown runs.
func (l *Ledger) ExtendedState(runID string) *ExtendedState {
	l.mu.Lock()
	defer l.mu.Unlock()
	rb, ok := l.runs[runID]
	if !ok {
		return nil
	}
	s := rb.snapshot()
	ext := ExtendedState{
		State:             s,
		TokensRemaining:   clampInt64(s.MaxTokens - s.TokensUsed),
		CostRemaining:     clampFloat(s.MaxCost - s.CostUsed),
		TimeRemainingMS:   clampInt64(s.MaxTimeSeconds*1000 - s.TimeUsedMS),
		TokensUsedPercent: roundPercent(float64(s.TokensUsed), float64(s.MaxTokens)),
		CostUsedPercent:   roundPercent(s.CostUsed, s.MaxCost),
		TimeUsedPercent:   roundPercent(float64(s.TimeUsedMS), float64(s.MaxTimeSeconds*1000)),
		LLMCallsAllowed:   !rb.exceeded,
	}
	return &ext
}

// FinalizeRun evicts the run from the live table and returns its final
// snapshot. Returns nil when the run is unknown or already finalized.
func (l *Ledger) FinalizeRun(runID string) *State {
	l.mu.Lock()
	defer l.mu.Unlock()
	rb, ok := l.runs[runID]
	if !ok {
		return nil
	}
	delete(l.runs, runID)
	s := rb.snapshot()
	return &s
}

// Stats returns ledger-wide aggregate counters.
func (l *Ledger) Stats() GlobalStats {
	l.mu.Lock()
	defer l.mu.Unlock()
	stats := GlobalStats{ActiveRuns: len(l.runs), UsageRecords: l.usageRecords}
	for _, rb := range l.runs {
		if rb.exceeded {
			stats.ExceededRuns++
		}
	}
	return stats
}

func (rb *runBudget) snapshot() State {
	return State{
		RunID:                rb.runID,
		MaxTokens:            limitOrZero(rb.limits.MaxTotalTokens),
		MaxCost:              valueOrZero(rb.limits.MaxTotalCost),
		MaxTimeSeconds:       limitOrZero(rb.limits.MaxTotalTimeSeconds),
		WarnThresholdPercent: valueOrZero(rb.limits.WarnThresholdPercent),
		TokensUsed:           rb.tokens,
		CostUsed:             rb.cost,
		TimeUsedMS:           rb.timeMS,
		IsExceeded:           rb.exceeded,
		ExceededReason:       rb.reason,
		CreatedAt:            rb.createdAt,
		UpdatedAt:            rb.updatedAt,
	}
}

func appendAlert(alerts []Alert, runID, dimension string, prev, cur, warn float64) []Alert {
	switch {
	case reachesPercent(cur, criticalThresholdPercent) && !reachesPercent(prev, criticalThresholdPercent):
		return append(alerts, Alert{RunID: runID, Dimension: dimension, Severity: AlertCritical, Percent: cur})
	case reachesPercent(cur, warn) && !reachesPercent(prev, warn):
		return append(alerts, Alert{RunID: runID, Dimension: dimension, Severity: AlertWarning, Percent: cur})
	}
	return alerts
}

func reachesPercent(percent, threshold float64) bool {
	return percent >= threshold-percentEpsilon
}

func breachedInt(used int64, limit *int64) bool {
	return limit != nil && *limit > 0 && used > *limit
}

func breachedFloat(used float64, limit *float64) bool {
	return limit != nil && *limit > 0 && used > *limit
}

func secondsToMS(limit *int64) *int64 {
	if limit == nil {
		return nil
	}
	ms := *limit * 1000
	return &ms
}

func percentOf(used, limit float64) float64 {
	if limit <= 0 {
		return 0
	}
	return used / limit * 100
}

func roundPercent(used, limit float64) int {
	return int(math.Round(percentOf(used, limit)))
}

func limitOrZero(v *int64) int64 {
	if v == nil {
		return 0
	}
	return *v
}

func valueOrZero(v *float64) float64 {
	if v == nil {
		return 0
	}
	return *v
}

func clampInt64(v int64) int64 {
	if v < 0 {
		return 0
	}
	return v
}

func clampFloat(v float64) float64 {
	if v < 0 {
		return 0
	}
	return v
}
