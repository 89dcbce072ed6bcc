package budget

import (
	"fmt"

	"github.com/quantbrief/alphapipe/config"
)

// Exceeded reasons reported by the ledger. The check order in RecordUsage is
// tokens, cost, time; the first ceiling breached wins and the reason is sticky
// for the remainder of the run.
const (
	ReasonTokenLimit = "token_limit_exceeded"
	ReasonCostLimit  = "cost_limit_exceeded"
	ReasonTimeLimit  = "time_limit_exceeded"

	// ReasonNotInitialized is returned by CanExecute for unknown runs.
	ReasonNotInitialized = "budget not initialized"
)

// Execution kinds understood by CanExecute.
const (
	KindCode = "code"
	KindLLM  = "llm"
)

// Config defines budget guardrails for a single run. Nil fields inherit from
// the merged base; a resolved limit of zero means unlimited.
type Config struct {
	MaxTotalTokens       *int64
	MaxTotalCost         *float64
	MaxTotalTimeSeconds  *int64
	WarnThresholdPercent *float64
}

// Validate ensures the budget values are sane before use.
func (c Config) Validate() error {
	if c.MaxTotalTokens != nil && *c.MaxTotalTokens < 0 {
		return fmt.Errorf("max_total_tokens cannot be negative")
	}
	if c.MaxTotalCost != nil && *c.MaxTotalCost < 0 {
		return fmt.Errorf("max_total_cost cannot be negative")
	}
	if c.MaxTotalTimeSeconds != nil && *c.MaxTotalTimeSeconds < 0 {
		return fmt.Errorf("max_total_time_seconds cannot be negative")
	}
	if c.WarnThresholdPercent != nil && (*c.WarnThresholdPercent < 0 || *c.WarnThresholdPercent > 100) {
		return fmt.Errorf("warn_threshold_percent must be within [0,100]")
	}
	return nil
}

// Clone produces a deep copy of the config.
func (c Config) Clone() Config {
	clone := Config{}
	if c.MaxTotalTokens != nil {
		v := *c.MaxTotalTokens
		clone.MaxTotalTokens = &v
	}
	if c.MaxTotalCost != nil {
		v := *c.MaxTotalCost
		clone.MaxTotalCost = &v
	}
	if c.MaxTotalTimeSeconds != nil {
		v := *c.MaxTotalTimeSeconds
		clone.MaxTotalTimeSeconds = &v
	}
	if c.WarnThresholdPercent != nil {
		v := *c.WarnThresholdPercent
		clone.WarnThresholdPercent = &v
	}
	return clone
}

// Merge overlays non-nil values from override onto base.
func Merge(base Config, override Config) Config {
	result := base.Clone()
	if override.MaxTotalTokens != nil {
		v := *override.MaxTotalTokens
		result.MaxTotalTokens = &v
	}
	if override.MaxTotalCost != nil {
		v := *override.MaxTotalCost
		result.MaxTotalCost = &v
	}
	if override.MaxTotalTimeSeconds != nil {
		v := *override.MaxTotalTimeSeconds
		result.MaxTotalTimeSeconds = &v
	}
	if override.WarnThresholdPercent != nil {
		v := *override.WarnThresholdPercent
		result.WarnThresholdPercent = &v
	}
	return result
}

// DefaultsFromConfig lifts the global app config section into a budget Config.
func DefaultsFromConfig(cfg config.BudgetConfig) Config {
	tokens := cfg.MaxTotalTokens
	cost := cfg.MaxTotalCost
	seconds := cfg.MaxTotalTimeSeconds
	warn := cfg.WarnThresholdPercent
	return Config{
		MaxTotalTokens:       &tokens,
		MaxTotalCost:         &cost,
		MaxTotalTimeSeconds:  &seconds,
		WarnThresholdPercent: &warn,
	}
}

// Usage is a single caller-reported usage measurement for one external step.
type Usage struct {
	TokensIn  int64
	TokensOut int64
	Cost      float64
	LatencyMS int64
}

// Tokens returns the combined token count for the measurement.
func (u Usage) Tokens() int64 {
	return u.TokensIn + u.TokensOut
}

// Alert severities emitted when a usage dimension crosses a threshold.
const (
	AlertWarning  = "warning"
	AlertCritical = "critical"
)

// Alert signals that a run crossed the warn (configurable) or critical (90%)
// usage threshold on one dimension during a RecordUsage call.
type Alert struct {
	RunID     string
	Dimension string // tokens | cost | time
	Severity  string
	Percent   float64
}

// Decision is the answer to a can-this-run-spend question. Never an error:
// budget checks sit on a hot path and degrade to "not allowed" instead of
// aborting the pipeline.
type Decision struct {
	Allowed bool
	Reason  string
}
