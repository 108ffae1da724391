package monitor

import (
	"fmt"
	"strings"
)

// formatDriftReport builds the alert body for a cycle with breaches: one line
// per drifted instrument plus a total line.
func formatDriftReport(result CheckResult) string {
	var b strings.Builder
	for _, rec := range result.Breaches() {
		fmt.Fprintf(&b, "%s: %.1f%% vs target %.1f%% (off by %.1f%%) → %s ~$%.0f\n",
			rec.Symbol, rec.ActualPct, rec.TargetPct, rec.DriftPct, rec.Action, rec.DollarAmount)
	}
	fmt.Fprintf(&b, "Portfolio value: $%.2f", result.TotalValue)
	return b.String()
}

// formatTargetsSummary renders the solved target weights for the startup
// notification, e.g. "AAPL 35.0%, GLD 25.0%, TLT 40.0%".
func formatTargetsSummary(symbols []string, targets map[string]float64) string {
	parts := make([]string, 0, len(symbols))
	for _, sym := range symbols {
		parts = append(parts, fmt.Sprintf("%s %.1f%%", sym, targets[sym]*100))
	}
	return strings.Join(parts, ", ")
}
