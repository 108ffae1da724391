// Package monitor runs the periodic drift check: it compares live portfolio
// weights against the risk-parity targets and raises an alert when any
// instrument drifts beyond the configured threshold.
package monitor

import (
	"fmt"
	"math"
	"sort"
	"time"
)

// Rebalance directions.
const (
	ActionBuy  = "BUY"
	ActionSell = "SELL"
)

// Holding is one portfolio position the monitor tracks.
type Holding struct {
	Conid    int64
	Symbol   string
	Quantity float64
}

// DriftRecord is the evaluated state of one instrument in a check cycle.
type DriftRecord struct {
	Symbol       string  `json:"symbol" msgpack:"symbol"`
	Price        float64 `json:"price" msgpack:"price"`
	Value        float64 `json:"value" msgpack:"value"`
	ActualPct    float64 `json:"actual_pct" msgpack:"actual_pct"`
	TargetPct    float64 `json:"target_pct" msgpack:"target_pct"`
	DriftPct     float64 `json:"drift_pct" msgpack:"drift_pct"`
	DollarAmount float64 `json:"dollar_amount" msgpack:"dollar_amount"`
	Action       string  `json:"action,omitempty" msgpack:"action,omitempty"`
	Breached     bool    `json:"breached" msgpack:"breached"`
}

// CheckResult is the outcome of one drift-check cycle. A skipped cycle
// carries the reason and no records.
type CheckResult struct {
	CheckedAt  time.Time     `json:"checked_at"`
	Skipped    bool          `json:"skipped"`
	Reason     string        `json:"reason,omitempty"`
	TotalValue float64       `json:"total_value"`
	Records    []DriftRecord `json:"records,omitempty"`
}

// Breaches returns the records whose drift exceeds the threshold.
func (r CheckResult) Breaches() []DriftRecord {
	var out []DriftRecord
	for _, rec := range r.Records {
		if rec.Breached {
			out = append(out, rec)
		}
	}
	return out
}

// MissingPriceError indicates no usable price was available for an
// instrument, so the cycle cannot value the portfolio.
type MissingPriceError struct {
	Symbol string
}

func (e *MissingPriceError) Error() string {
	return fmt.Sprintf("no usable price for %s", e.Symbol)
}

// evaluate values the holdings at the given prices and compares actual weights
// against targets. Pure function: all gateway interaction happens before it.
// Target weights are fractions (0..1); percentages in the result are 0..100.
func evaluate(holdings []Holding, prices map[int64]float64, targets map[string]float64, thresholdPct float64, now time.Time) (CheckResult, error) {
	result := CheckResult{CheckedAt: now}

	// Keyed by conid, not symbol: distinct contracts can share a description.
	total := 0.0
	values := make(map[int64]float64, len(holdings))
	for _, h := range holdings {
		price, ok := prices[h.Conid]
		if !ok || math.IsNaN(price) || price <= 0 {
			return CheckResult{}, &MissingPriceError{Symbol: h.Symbol}
		}
		v := h.Quantity * price
		values[h.Conid] = v
		total += v
	}

	if total <= 0 {
		result.Skipped = true
		result.Reason = "portfolio value is zero"
		return result, nil
	}
	result.TotalValue = total

	for _, h := range holdings {
		value := values[h.Conid]
		actualPct := value / total * 100
		targetPct := targets[h.Symbol] * 100
		driftPct := actualPct - targetPct

		rec := DriftRecord{
			Symbol:    h.Symbol,
			Price:     prices[h.Conid],
			Value:     value,
			ActualPct: actualPct,
			TargetPct: targetPct,
			DriftPct:  driftPct,
		}
		if math.Abs(driftPct) > thresholdPct {
			rec.Breached = true
			rec.DollarAmount = math.Abs(driftPct) / 100 * total
			if driftPct < 0 {
				rec.Action = ActionBuy
			} else {
				rec.Action = ActionSell
			}
		}
		result.Records = append(result.Records, rec)
	}

	sort.Slice(result.Records, func(i, j int) bool {
		return result.Records[i].Symbol < result.Records[j].Symbol
	})
	return result, nil
}
