package gates

import "fmt"

// downsideSanity validates the bear case: a bear-case price target must
// exist, the implied downside must stay inside policy bounds, and at least
// one risk must be identified. Dominant leverage/liquidity/regulatory risks
// are binary overrides: hard stop conditions reported distinctly from
// ordinary errors and never waivable by score.
func downsideSanity(ctx Context, th Thresholds) Outcome {
	out := Outcome{Gate: GateDownsideSanity, Metrics: map[string]float64{}}

	if ctx.BearTarget <= 0 {
		out.Errors = append(out.Errors, "bear-case price target missing")
	} else if ctx.CurrentPrice > 0 {
		downside := (ctx.CurrentPrice - ctx.BearTarget) / ctx.CurrentPrice * 100
		out.Metrics["downside_percent"] = downside
		switch {
		case downside >= th.DownsideErrorPercent:
			out.Errors = append(out.Errors,
				fmt.Sprintf("catastrophic downside: %.1f%% (limit %.1f%%)", downside, th.DownsideErrorPercent))
		case downside >= th.DownsideWarnPercent:
			out.Warnings = append(out.Warnings,
				fmt.Sprintf("heavy downside: %.1f%% (warn at %.1f%%)", downside, th.DownsideWarnPercent))
		}
	}

	if len(ctx.Risks) == 0 {
		out.Errors = append(out.Errors, "no risks identified")
	}
	out.Metrics["risks_identified"] = float64(len(ctx.Risks))

	if ctx.DominantLeverageRisk {
		out.BinaryOverrides = append(out.BinaryOverrides, OverrideLeverageRisk)
	}
	if ctx.DominantLiquidityRisk {
		out.BinaryOverrides = append(out.BinaryOverrides, OverrideLiquidityRisk)
	}
	if ctx.DominantRegulatoryRisk {
		out.BinaryOverrides = append(out.BinaryOverrides, OverrideRegulatoryRisk)
	}

	return out.finalize()
}
