package gates

// gateFunc is a pure function from work-unit context to outcome.
type gateFunc func(Context, Thresholds) Outcome

// standardGates is the fixed execution order.
var standardGates = []gateFunc{
	dataSufficiency,
	coherence,
	edgeClaim,
	downsideSanity,
	styleFit,
}

// Report aggregates the ordered gate outcomes for one work unit.
type Report struct {
	Outcomes []Outcome
	// Admitted is true only when all gates pass with no binary override
	// triggered anywhere.
	Admitted bool
	// FirstFailed is the index of the first failing gate, -1 when admitted.
	FirstFailed int
	// Structural marks failures caused by missing required upstream data;
	// retrying without new data cannot succeed, so the orchestrator rejects
	// these permanently instead of quarantining.
	Structural bool
	// BinaryOverrides aggregates override identifiers across all gates for
	// audit and reporting.
	BinaryOverrides []string
}

// Errors collects all blocking error strings across outcomes.
func (r Report) Errors() []string {
	var errs []string
	for _, out := range r.Outcomes {
		errs = append(errs, out.Errors...)
	}
	return errs
}

// Overridden reports whether any gate triggered a binary override.
func (r Report) Overridden() bool {
	return len(r.BinaryOverrides) > 0
}

// Runner executes the standard gate sequence. It holds no mutable state and
// is safe for concurrent use across work units.
type Runner struct {
	thresholds Thresholds
}

// NewRunner builds a Runner with the supplied thresholds.
func NewRunner(th Thresholds) *Runner {
	return &Runner{thresholds: th}
}

// Run executes all gates in fixed order and aggregates the outcomes. The
// runner never retries; deciding between quarantine and permanent rejection
// is the orchestrator's call.
func (r *Runner) Run(ctx Context) Report {
	report := Report{
		Outcomes:    make([]Outcome, 0, len(standardGates)),
		Admitted:    true,
		FirstFailed: -1,
	}
	for i, gate := range standardGates {
		out := gate(ctx, r.thresholds)
		report.Outcomes = append(report.Outcomes, out)
		report.BinaryOverrides = append(report.BinaryOverrides, out.BinaryOverrides...)
		if !out.Passed {
			report.Admitted = false
			if report.FirstFailed == -1 {
				report.FirstFailed = i
			}
			if out.Gate == GateDataSufficiency {
				report.Structural = true
			}
		}
	}
	return report
}
