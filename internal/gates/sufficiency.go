package gates

import "fmt"

// requiredMetrics is the fixed financial metric set a work unit must carry
// before it may reach an expensive stage.
var requiredMetrics = []string{
	"revenue",
	"gross_margin",
	"operating_margin",
	"free_cash_flow",
	"net_debt",
}

// optionalMetrics improve later gates when present but only warn when absent.
var optionalMetrics = []string{
	"eps_growth",
	"capex",
	"share_count",
}

// dataSufficiency verifies the minimum field set: company profile, the fixed
// financial metric list, and price data. Missing required fields are errors
// (structural; retrying without new data cannot succeed), missing optional
// fields are warnings.
func dataSufficiency(ctx Context, _ Thresholds) Outcome {
	out := Outcome{Gate: GateDataSufficiency, Metrics: map[string]float64{}}

	if ctx.CompanyName == "" {
		out.Errors = append(out.Errors, "company profile missing: company_name")
	}
	if ctx.Sector == "" {
		out.Errors = append(out.Errors, "company profile missing: sector")
	}
	if ctx.CurrentPrice <= 0 {
		out.Errors = append(out.Errors, "price data missing: current_price")
	}

	present := 0
	for _, name := range requiredMetrics {
		if _, ok := ctx.Financials[name]; !ok {
			out.Errors = append(out.Errors, fmt.Sprintf("required metric missing: %s", name))
			continue
		}
		present++
	}
	for _, name := range optionalMetrics {
		if _, ok := ctx.Financials[name]; !ok {
			out.Warnings = append(out.Warnings, fmt.Sprintf("optional metric missing: %s", name))
		}
	}
	if !ctx.HasPriceHistory {
		out.Warnings = append(out.Warnings, "price history not available")
	}

	out.Metrics["required_metrics_present"] = float64(present)
	out.Metrics["required_metrics_total"] = float64(len(requiredMetrics))
	return out.finalize()
}
