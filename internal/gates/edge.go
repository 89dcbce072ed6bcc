package gates

import (
	"fmt"
	"strings"
)

// testableMarkers are phrases that make an edge claim falsifiable: a concrete
// expectation that future data can confirm or refute.
var testableMarkers = []string{
	"we expect",
	"should show",
	"versus consensus",
	"within",
	"by q",
	"measurable",
	"falsifiable",
	"testable",
}

// commonKnowledgePhrases flag explanations that restate what the market
// already prices.
var commonKnowledgePhrases = []string{
	"market leader",
	"strong brand",
	"great management",
	"secular tailwind",
	"industry is growing",
	"well positioned",
}

// edgeClaim requires at least one declared edge type and a substantive
// explanation, and warns when the explanation is untestable or generic.
func edgeClaim(ctx Context, th Thresholds) Outcome {
	out := Outcome{Gate: GateEdgeClaim, Metrics: map[string]float64{}}
	out.Metrics["edge_types"] = float64(len(ctx.EdgeTypes))

	if len(ctx.EdgeTypes) == 0 {
		out.Errors = append(out.Errors, "no edge type declared")
	}
	explanation := strings.TrimSpace(ctx.EdgeExplanation)
	if len(explanation) < th.MinEdgeExplanationLength {
		out.Errors = append(out.Errors,
			fmt.Sprintf("edge explanation too short: %d chars, need %d", len(explanation), th.MinEdgeExplanationLength))
	}

	lower := strings.ToLower(explanation)
	if explanation != "" && !containsAny(lower, testableMarkers) {
		out.Warnings = append(out.Warnings, "edge explanation lacks a testable or falsifiable claim")
	}
	for _, phrase := range commonKnowledgePhrases {
		if strings.Contains(lower, phrase) {
			out.Warnings = append(out.Warnings, fmt.Sprintf("edge explanation reads as common knowledge: %q", phrase))
		}
	}

	return out.finalize()
}

func containsAny(s string, phrases []string) bool {
	for _, p := range phrases {
		if strings.Contains(s, p) {
			return true
		}
	}
	return false
}
