package gates

import (
	"github.com/quantbrief/alphapipe/config"
)

// Gate names, in execution order. Order matters: later gates assume earlier
// data presence and reporting always lists the first failing gate index.
const (
	GateDataSufficiency = "data_sufficiency"
	GateCoherence       = "coherence"
	GateEdgeClaim       = "edge_claim"
	GateDownsideSanity  = "downside_sanity"
	GateStyleFit        = "style_fit"
)

// Binary override identifiers carried by the downside gate. Any of these
// forces a fail regardless of score; the business layer treats them as hard
// stop conditions that are never waivable.
const (
	OverrideLeverageRisk   = "dominant_leverage_risk"
	OverrideLiquidityRisk  = "dominant_liquidity_risk"
	OverrideRegulatoryRisk = "dominant_regulatory_risk"
)

// Style tags recognized by the style-fit gate.
const (
	StyleQuality   = "quality"
	StyleGARP      = "garp"
	StyleDeepValue = "deep_value"
)

// Catalyst is a stated event expected to unlock the thesis.
type Catalyst struct {
	Description  string
	WindowMonths int
}

// Context is the immutable per-work-unit input handed to every gate. Gates
// never mutate it and may run concurrently across work units.
type Context struct {
	Ticker       string
	CompanyName  string
	Sector       string
	CurrentPrice float64

	// Financials maps metric names (see requiredMetrics) to reported values.
	Financials      map[string]float64
	HasPriceHistory bool

	Thesis               string
	BullCase             string
	BearCase             string
	Catalysts            []Catalyst
	HoldingHorizonMonths int

	EdgeTypes       []string
	EdgeExplanation string

	BearTarget             float64
	Risks                  []string
	DominantLeverageRisk   bool
	DominantLiquidityRisk  bool
	DominantRegulatoryRisk bool

	Style        string
	StyleMetrics map[string]float64
}

// Outcome is the immutable result of one gate over one work unit. If any
// binary override is present, Passed is false regardless of the error list.
type Outcome struct {
	Gate            string
	Passed          bool
	Score           float64
	Errors          []string
	Warnings        []string
	Metrics         map[string]float64
	BinaryOverrides []string
}

// finalize derives Passed and Score from the accumulated errors, warnings and
// overrides. Score: 1.0 clean, 0.7 pass-with-warnings, 0.0 fail.
func (o Outcome) finalize() Outcome {
	switch {
	case len(o.BinaryOverrides) > 0 || len(o.Errors) > 0:
		o.Passed = false
		o.Score = 0.0
	case len(o.Warnings) > 0:
		o.Passed = true
		o.Score = 0.7
	default:
		o.Passed = true
		o.Score = 1.0
	}
	return o
}

// Thresholds carries the numeric policy constants the gates compare against.
type Thresholds struct {
	MinThesisLength          int
	MinEdgeExplanationLength int
	NarrativeSimilarityWarn  float64
	DownsideWarnPercent      float64
	DownsideErrorPercent     float64
	QualityMinROIC           float64
	GARPMaxPEG               float64
	DeepValueMaxEVEBITDA     float64
	DeepValueMinFCFYield     float64
}

// DefaultThresholds mirrors the config defaults for callers that construct a
// runner without loading configuration (tests, mostly).
func DefaultThresholds() Thresholds {
	return Thresholds{
		MinThesisLength:          200,
		MinEdgeExplanationLength: 80,
		NarrativeSimilarityWarn:  0.6,
		DownsideWarnPercent:      30,
		DownsideErrorPercent:     60,
		QualityMinROIC:           12,
		GARPMaxPEG:               1.5,
		DeepValueMaxEVEBITDA:     7,
		DeepValueMinFCFYield:     7,
	}
}

// ThresholdsFromConfig lifts the gates config section into a Thresholds value.
func ThresholdsFromConfig(cfg config.GatesConfig) Thresholds {
	return Thresholds{
		MinThesisLength:          cfg.MinThesisLength,
		MinEdgeExplanationLength: cfg.MinEdgeExplanationLength,
		NarrativeSimilarityWarn:  cfg.NarrativeSimilarityWarn,
		DownsideWarnPercent:      cfg.DownsideWarnPercent,
		DownsideErrorPercent:     cfg.DownsideErrorPercent,
		QualityMinROIC:           cfg.QualityMinROIC,
		GARPMaxPEG:               cfg.GARPMaxPEG,
		DeepValueMaxEVEBITDA:     cfg.DeepValueMaxEVEBITDA,
		DeepValueMinFCFYield:     cfg.DeepValueMinFCFYield,
	}
}
