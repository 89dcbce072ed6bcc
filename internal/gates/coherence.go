package gates

import (
	"fmt"
	"strings"
)

// catalystHorizonSlack is how far a catalyst window may run past the stated
// holding horizon before the gate considers it incoherent.
const catalystHorizonSlack = 1.5

// coherence checks that the thesis is substantive and internally consistent:
// a bull narrative that reads like the bear narrative, or catalysts that land
// long after the holding horizon, both draw warnings.
func coherence(ctx Context, th Thresholds) Outcome {
	out := Outcome{Gate: GateCoherence, Metrics: map[string]float64{}}

	if len(strings.TrimSpace(ctx.Thesis)) < th.MinThesisLength {
		out.Errors = append(out.Errors,
			fmt.Sprintf("thesis too short: %d chars, need %d", len(strings.TrimSpace(ctx.Thesis)), th.MinThesisLength))
	}

	if ctx.BullCase != "" && ctx.BearCase != "" {
		sim := tokenSimilarity(ctx.BullCase, ctx.BearCase)
		out.Metrics["narrative_similarity"] = sim
		if sim > th.NarrativeSimilarityWarn {
			out.Warnings = append(out.Warnings,
				fmt.Sprintf("bull and bear narratives overlap heavily (similarity %.2f)", sim))
		}
	}

	if ctx.HoldingHorizonMonths > 0 {
		limit := float64(ctx.HoldingHorizonMonths) * catalystHorizonSlack
		for _, cat := range ctx.Catalysts {
			if float64(cat.WindowMonths) > limit {
				out.Warnings = append(out.Warnings,
					fmt.Sprintf("catalyst %q window (%dm) substantially exceeds holding horizon (%dm)",
						cat.Description, cat.WindowMonths, ctx.HoldingHorizonMonths))
			}
		}
	}

	return out.finalize()
}

// tokenSimilarity computes intersection-over-union of the lowercased token
// sets of two narratives.
func tokenSimilarity(a, b string) float64 {
	setA := tokenSet(a)
	setB := tokenSet(b)
	if len(setA) == 0 || len(setB) == 0 {
		return 0
	}
	intersection := 0
	for tok := range setA {
		if _, ok := setB[tok]; ok {
			intersection++
		}
	}
	union := len(setA) + len(setB) - intersection
	if union == 0 {
		return 0
	}
	return float64(intersection) / float64(union)
}

func tokenSet(s string) map[string]struct{} {
	set := make(map[string]struct{})
	for _, tok := range strings.Fields(strings.ToLower(s)) {
		tok = strings.Trim(tok, ".,;:!?()\"'")
		if tok != "" {
			set[tok] = struct{}{}
		}
	}
	return set
}
