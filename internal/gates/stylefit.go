package gates

import "fmt"

// styleFit branches on the work unit's style tag and applies that variant's
// numeric thresholds. Threshold misses are warnings, not failures; only a
// missing or unknown style tag is a hard error.
func styleFit(ctx Context, th Thresholds) Outcome {
	out := Outcome{Gate: GateStyleFit, Metrics: map[string]float64{}}

	switch ctx.Style {
	case StyleQuality:
		roic, ok := ctx.StyleMetrics["roic"]
		if !ok {
			out.Warnings = append(out.Warnings, "quality style: roic not provided")
			break
		}
		out.Metrics["roic"] = roic
		if roic < th.QualityMinROIC {
			out.Warnings = append(out.Warnings,
				fmt.Sprintf("quality style: roic %.1f%% below floor %.1f%%", roic, th.QualityMinROIC))
		}
	case StyleGARP:
		peg, ok := ctx.StyleMetrics["peg"]
		if !ok {
			out.Warnings = append(out.Warnings, "garp style: peg not provided")
			break
		}
		out.Metrics["peg"] = peg
		if peg > th.GARPMaxPEG {
			out.Warnings = append(out.Warnings,
				fmt.Sprintf("garp style: peg %.2f above ceiling %.2f", peg, th.GARPMaxPEG))
		}
	case StyleDeepValue:
		if ev, ok := ctx.StyleMetrics["ev_ebitda"]; !ok {
			out.Warnings = append(out.Warnings, "deep value style: ev_ebitda not provided")
		} else {
			out.Metrics["ev_ebitda"] = ev
			if ev > th.DeepValueMaxEVEBITDA {
				out.Warnings = append(out.Warnings,
					fmt.Sprintf("deep value style: ev/ebitda %.1f above ceiling %.1f", ev, th.DeepValueMaxEVEBITDA))
			}
		}
		if fcfYield, ok := ctx.StyleMetrics["fcf_yield"]; !ok {
			out.Warnings = append(out.Warnings, "deep value style: fcf_yield not provided")
		} else {
			out.Metrics["fcf_yield"] = fcfYield
			if fcfYield < th.DeepValueMinFCFYield {
				out.Warnings = append(out.Warnings,
					fmt.Sprintf("deep value style: fcf yield %.1f%% below floor %.1f%%", fcfYield, th.DeepValueMinFCFYield))
			}
		}
	case "":
		out.Errors = append(out.Errors, "style tag missing")
	default:
		out.Errors = append(out.Errors, fmt.Sprintf("unknown style tag: %s", ctx.Style))
	}

	return out.finalize()
}
