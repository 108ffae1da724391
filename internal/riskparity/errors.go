package riskparity

import "fmt"

// InsufficientDataError reports price history too short to estimate a
// covariance matrix: a specific instrument with fewer than two observations
// (Symbol names it), fewer than two instruments overall, or an inner join
// across all series that left fewer than two overlapping observations.
type InsufficientDataError struct {
	Symbol       string // instrument at fault, empty when the problem is global
	Instruments  int
	Observations int
}

func (e *InsufficientDataError) Error() string {
	if e.Symbol != "" {
		return fmt.Sprintf("insufficient data for covariance: %s has %d observations (need at least 2)",
			e.Symbol, e.Observations)
	}
	return fmt.Sprintf("insufficient data for covariance: %d instruments, %d overlapping observations (need at least 2 of each)",
		e.Instruments, e.Observations)
}

// DegenerateCovarianceError reports a covariance matrix the risk-parity
// objective cannot be evaluated on: a zero or negative diagonal variance, or a
// numerically singular matrix that drives portfolio variance to zero.
type DegenerateCovarianceError struct {
	Reason string
}

func (e *DegenerateCovarianceError) Error() string {
	return "degenerate covariance matrix: " + e.Reason
}
