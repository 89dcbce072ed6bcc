package pipeline

import (
	"context"
	"fmt"
	"log"

	"github.com/quantbrief/alphapipe/internal/budget"
	"github.com/quantbrief/alphapipe/internal/gates"
	"github.com/quantbrief/alphapipe/internal/quarantine"
	"github.com/quantbrief/alphapipe/internal/scoring"
)

// WorkUnit is one idea-in-progress flowing through the pipeline.
type WorkUnit struct {
	ID          string
	RunID       string
	StepID      string
	StepVersion string
	Ticker      string
	Payload     map[string]interface{}
}

// StepResult is what the external collaborator produced for a work unit.
type StepResult struct {
	Context   gates.Context
	Usage     budget.Usage
	RawOutput string
}

// StepRunner invokes the external LLM/data-fetch step. It is the only
// suspension point in the pipeline besides retry scheduling; aborting a
// long-running call is the runner's responsibility, the governance layer only
// enforces the budget.
type StepRunner interface {
	RunStep(ctx context.Context, unit WorkUnit) (StepResult, error)
}

// Idea is the persisted shape of an admitted work unit.
type Idea struct {
	UnitID       string
	RunID        string
	Ticker       string
	TotalScore   float64
	NoveltyScore float64
	RankScore    float64
	GateScores   map[string]float64
}

// Rejection is the persisted shape of a permanently rejected work unit.
type Rejection struct {
	UnitID    string
	RunID     string
	Ticker    string
	Reason    string
	Errors    []string
	Overrides []string
}

// Rejection reasons.
const (
	RejectStructural     = "structural_validation_failure"
	RejectBinaryOverride = "binary_override"
)

// Sink is the durable persistence collaborator. The governance core treats
// it as an opaque create/get surface.
type Sink interface {
	CreateIdea(ctx context.Context, idea Idea) error
	CreateRejection(ctx context.Context, rej Rejection) error
}

// NoveltyProvider supplies per-ticker history summaries for novelty scoring.
type NoveltyProvider interface {
	NoveltyInputs(ctx context.Context, ticker string) (scoring.NoveltyInputs, error)
}

// Notifier publishes rejection events for operator tooling; nil-safe.
type Notifier interface {
	Publish(ctx context.Context, eventType string, payload interface{}) (string, error)
}

// Unit processing statuses reported by Process.
const (
	StatusCompleted   = "completed"
	StatusRejected    = "rejected"
	StatusQuarantined = "quarantined"
)

// Outcome is the typed result of processing one work unit. Expected failure
// modes (budget exhaustion, gate failure) are states here, never errors.
type Outcome struct {
	UnitID       string
	Status       string
	Reason       string
	RankScore    float64
	QuarantineID string
	Report       gates.Report
}

// Orchestrator is the composition root: it consults the budget ledger, runs
// the external step, validates the result through the gates, and routes the
// unit to scoring or quarantine. It holds no persistent state of its own.
type Orchestrator struct {
	ledger     *budget.Ledger
	gates      *gates.Runner
	quarantine *quarantine.Store
	runner     StepRunner
	sink       Sink
	history    NoveltyProvider
	notifier   Notifier
	policy     scoring.Policy
	logger     *log.Logger
}

// Option configures optional orchestrator collaborators.
type Option func(*Orchestrator)

// WithNoveltyProvider attaches an idea-history source for novelty scoring.
func WithNoveltyProvider(p NoveltyProvider) Option {
	return func(o *Orchestrator) { o.history = p }
}

// WithNotifier attaches a rejection event publisher.
func WithNotifier(n Notifier) Option {
	return func(o *Orchestrator) { o.notifier = n }
}

// NewOrchestrator wires the governance components together.
func NewOrchestrator(
	ledger *budget.Ledger,
	gateRunner *gates.Runner,
	store *quarantine.Store,
	runner StepRunner,
	sink Sink,
	policy scoring.Policy,
	logger *log.Logger,
	opts ...Option,
) *Orchestrator {
	if logger == nil {
		logger = log.New(log.Writer(), "[ORCH] ", log.LstdFlags)
	}
	o := &Orchestrator{
		ledger:     ledger,
		gates:      gateRunner,
		quarantine: store,
		runner:     runner,
		sink:       sink,
		policy:     policy,
		logger:     logger,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Process runs one work unit through the full governance flow. Errors are
// returned only for collaborator failures (persistence, history); everything
// the pipeline expects to happen is encoded in the Outcome.
func (o *Orchestrator) Process(ctx context.Context, unit WorkUnit) (Outcome, error) {
	decision := o.ledger.CanExecute(unit.RunID, budget.KindLLM)
	if !decision.Allowed {
		// Budget exhaustion is run-scoped, not unit-scoped: the quarantined
		// unit only becomes retryable once the run is re-funded or swept.
		rec := o.quarantineUnit(unit, decision.Reason)
		o.logger.Printf("unit %s denied by budget (%s), quarantined as %s", unit.ID, decision.Reason, rec.ID)
		recordUnitProcessed(ctx, StatusQuarantined)
		return Outcome{UnitID: unit.ID, Status: StatusQuarantined, Reason: decision.Reason, QuarantineID: rec.ID}, nil
	}

	result, err := o.runner.RunStep(ctx, unit)
	if err != nil {
		rec := o.quarantineUnit(unit, fmt.Sprintf("step failed: %v", err))
		recordUnitProcessed(ctx, StatusQuarantined)
		return Outcome{UnitID: unit.ID, Status: StatusQuarantined, Reason: err.Error(), QuarantineID: rec.ID}, nil
	}

	alerts := o.ledger.RecordUsage(unit.RunID, result.Usage)
	for _, alert := range alerts {
		o.logger.Printf("warn: run %s %s usage at %.0f%% (%s)", alert.RunID, alert.Dimension, alert.Percent, alert.Severity)
	}

	report := o.gates.Run(result.Context)
	if report.Admitted {
		outcome, err := o.admit(ctx, unit, report)
		return outcome, err
	}
	return o.routeFailure(ctx, unit, result, report)
}

func (o *Orchestrator) admit(ctx context.Context, unit WorkUnit, report gates.Report) (Outcome, error) {
	novelty := scoring.NoveltyInputs{}
	if o.history != nil {
		var err error
		novelty, err = o.history.NoveltyInputs(ctx, unit.Ticker)
		if err != nil {
			return Outcome{}, fmt.Errorf("novelty inputs for %s: %w", unit.Ticker, err)
		}
	}
	noveltyScore := o.policy.NoveltyScore(novelty)
	components := deriveComponents(report)
	total := scoring.TotalScore(components)
	rankScore := o.policy.RankScore(total, noveltyScore)

	idea := Idea{
		UnitID:       unit.ID,
		RunID:        unit.RunID,
		Ticker:       unit.Ticker,
		TotalScore:   total,
		NoveltyScore: noveltyScore,
		RankScore:    rankScore,
		GateScores:   gateScores(report),
	}
	if err := o.sink.CreateIdea(ctx, idea); err != nil {
		return Outcome{}, fmt.Errorf("persist idea %s: %w", unit.ID, err)
	}
	o.logger.Printf("unit %s admitted (rank score %.1f)", unit.ID, rankScore)
	recordUnitProcessed(ctx, StatusCompleted)
	return Outcome{UnitID: unit.ID, Status: StatusCompleted, RankScore: rankScore, Report: report}, nil
}

func (o *Orchestrator) routeFailure(ctx context.Context, unit WorkUnit, result StepResult, report gates.Report) (Outcome, error) {
	if report.Structural || report.Overridden() {
		reason := RejectStructural
		if report.Overridden() {
			reason = RejectBinaryOverride
		}
		rej := Rejection{
			UnitID:    unit.ID,
			RunID:     unit.RunID,
			Ticker:    unit.Ticker,
			Reason:    reason,
			Errors:    report.Errors(),
			Overrides: report.BinaryOverrides,
		}
		if err := o.sink.CreateRejection(ctx, rej); err != nil {
			return Outcome{}, fmt.Errorf("persist rejection %s: %w", unit.ID, err)
		}
		if o.notifier != nil {
			if _, err := o.notifier.Publish(ctx, "pipeline.rejected", rej); err != nil {
				o.logger.Printf("warn: publish rejection for %s failed: %v", unit.ID, err)
			}
		}
		o.logger.Printf("unit %s permanently rejected (%s)", unit.ID, reason)
		recordUnitProcessed(ctx, StatusRejected)
		return Outcome{UnitID: unit.ID, Status: StatusRejected, Reason: reason, Report: report}, nil
	}

	rec := o.quarantineUnitWithReport(unit, result, report)
	o.logger.Printf("unit %s quarantined as %s (first failing gate %d)", unit.ID, rec.ID, report.FirstFailed)
	recordUnitProcessed(ctx, StatusQuarantined)
	return Outcome{UnitID: unit.ID, Status: StatusQuarantined, QuarantineID: rec.ID, Report: report}, nil
}

func (o *Orchestrator) quarantineUnit(unit WorkUnit, reason string) quarantine.Record {
	return o.quarantine.Add(quarantine.Record{
		RunID:            unit.RunID,
		StepID:           unit.StepID,
		StepVersion:      unit.StepVersion,
		ValidationErrors: []string{reason},
		Context: map[string]string{
			"unit_id": unit.ID,
			"ticker":  unit.Ticker,
		},
	})
}

func (o *Orchestrator) quarantineUnitWithReport(unit WorkUnit, result StepResult, report gates.Report) quarantine.Record {
	return o.quarantine.Add(quarantine.Record{
		RunID:            unit.RunID,
		StepID:           unit.StepID,
		StepVersion:      unit.StepVersion,
		RawOutput:        result.RawOutput,
		ValidationErrors: report.Errors(),
		Context: map[string]string{
			"unit_id": unit.ID,
			"ticker":  unit.Ticker,
		},
	})
}

// Retry re-enters the pipeline for a quarantined record. Returns true when
// the retry resolved the record.
func (o *Orchestrator) Retry(ctx context.Context, rec quarantine.Record) bool {
	decision := o.ledger.CanExecute(rec.RunID, budget.KindLLM)
	if !decision.Allowed {
		// Leave the record pending; the budget denial is run-scoped and a
		// retry attempt would burn the record's bounded retry budget for
		// nothing.
		o.logger.Printf("retry of %s skipped: %s", rec.ID, decision.Reason)
		return false
	}
	if !o.quarantine.MarkForRetry(rec.ID) {
		return false
	}

	unit := WorkUnit{
		ID:          rec.Context["unit_id"],
		RunID:       rec.RunID,
		StepID:      rec.StepID,
		StepVersion: rec.StepVersion,
		Ticker:      rec.Context["ticker"],
	}
	result, err := o.runner.RunStep(ctx, unit)
	if err != nil {
		o.quarantine.RecordRetryResult(rec.ID, false)
		recordRetryProcessed(ctx, false)
		return false
	}
	o.ledger.RecordUsage(rec.RunID, result.Usage)

	report := o.gates.Run(result.Context)
	if !report.Admitted {
		o.quarantine.RecordRetryResult(rec.ID, false)
		recordRetryProcessed(ctx, false)
		return false
	}
	if _, err := o.admit(ctx, unit, report); err != nil {
		o.logger.Printf("warn: admit after retry of %s failed: %v", rec.ID, err)
		o.quarantine.RecordRetryResult(rec.ID, false)
		recordRetryProcessed(ctx, false)
		return false
	}
	o.quarantine.RecordRetryResult(rec.ID, true)
	recordRetryProcessed(ctx, true)
	return true
}

// deriveComponents converts gate outcomes into score components. This is
// deterministic arithmetic: each gate's score scales its component's cap.
func deriveComponents(report gates.Report) scoring.Components {
	scores := gateScores(report)
	c := scoring.Components{
		Fundamentals:       scores[gates.GateDataSufficiency] * 30,
		Catalyst:           scores[gates.GateCoherence] * 15,
		Edge:               scores[gates.GateEdgeClaim] * 20,
		DownsideProtection: scores[gates.GateDownsideSanity] * 15,
		StyleAlignment:     scores[gates.GateStyleFit] * 10,
	}
	sum := 0.0
	for _, s := range scores {
		sum += s
	}
	if n := len(scores); n > 0 {
		c.Conviction = sum / float64(n) * 10
	}
	return c
}

func gateScores(report gates.Report) map[string]float64 {
	scores := make(map[string]float64, len(report.Outcomes))
	for _, out := range report.Outcomes {
		scores[out.Gate] = out.Score
	}
	return scores
}
