// Package riskparity computes equal-risk-contribution portfolio weights from
// historical closing prices. The pipeline is: align daily closes across all
// instruments (inner join on date), derive simple returns, estimate an unbiased
// sample covariance matrix, then solve a constrained minimization so every
// asset contributes the same share of total portfolio variance.
package riskparity

import (
	"sort"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
)

// PricePoint is one daily closing price observation.
// Date uses the YYYY-MM-DD format so lexicographic order is chronological.
type PricePoint struct {
	Date  string
	Close float64
}

// Covariance is a sample covariance matrix of daily returns, indexed by symbol.
// Symbols are held in sorted order so the matrix layout does not depend on the
// order instruments were supplied in.
type Covariance struct {
	Symbols []string
	matrix  *mat.SymDense
}

// Dim returns the number of instruments.
func (c *Covariance) Dim() int {
	return len(c.Symbols)
}

// At returns the covariance between instruments i and j in Symbols order.
func (c *Covariance) At(i, j int) float64 {
	return c.matrix.At(i, j)
}

// Sym exposes the underlying symmetric matrix for matrix-vector products.
func (c *Covariance) Sym() *mat.SymDense {
	return c.matrix
}

// NewCovariance builds a Covariance from an explicit symbol list and row-major
// matrix data. Intended for tests and callers that already hold a matrix;
// symbols are sorted and the rows/columns permuted to match.
func NewCovariance(symbols []string, data [][]float64) *Covariance {
	order := make([]int, len(symbols))
	for i := range order {
		order[i] = i
	}
	sort.Slice(order, func(a, b int) bool { return symbols[order[a]] < symbols[order[b]] })

	sorted := make([]string, len(symbols))
	m := mat.NewSymDense(len(symbols), nil)
	for i, oi := range order {
		sorted[i] = symbols[oi]
		for j, oj := range order {
			if j >= i {
				m.SetSym(i, j, data[oi][oj])
			}
		}
	}
	return &Covariance{Symbols: sorted, matrix: m}
}

// ComputeCovariance aligns the given price series on their common dates,
// computes simple percentage returns per instrument, and returns the unbiased
// (T-1 denominator) sample covariance matrix of the aligned return matrix.
//
// The alignment is a single inner join across all series at once: any date
// missing from any instrument is dropped for every instrument, so each column
// of the return matrix covers the identical date range.
//
// Pure function of its inputs. Returns *InsufficientDataError when any
// instrument has fewer than two observations (named in the error — it is never
// silently dropped), when fewer than two instruments are supplied, or when
// alignment leaves fewer than two return observations.
func ComputeCovariance(series map[string][]PricePoint) (*Covariance, error) {
	symbols := make([]string, 0, len(series))
	for sym, pts := range series {
		if len(pts) < 2 {
			return nil, &InsufficientDataError{
				Symbol:       sym,
				Instruments:  len(series),
				Observations: len(pts),
			}
		}
		symbols = append(symbols, sym)
	}
	if len(symbols) < 2 {
		return nil, &InsufficientDataError{Instruments: len(symbols)}
	}
	sort.Strings(symbols)

	dates := alignDates(series, symbols)
	// T aligned prices yield T-1 returns; the unbiased covariance needs at
	// least 2 returns, hence 3 aligned observations.
	if len(dates) < 3 {
		return nil, &InsufficientDataError{Instruments: len(symbols), Observations: len(dates)}
	}

	closes := make(map[string][]float64, len(symbols))
	for _, sym := range symbols {
		byDate := make(map[string]float64, len(series[sym]))
		for _, p := range series[sym] {
			byDate[p.Date] = p.Close
		}
		col := make([]float64, len(dates))
		for i, d := range dates {
			col[i] = byDate[d]
		}
		closes[sym] = col
	}

	// Simple returns: (p[t] - p[t-1]) / p[t-1], one row shorter than prices.
	n := len(symbols)
	rows := len(dates) - 1
	returns := mat.NewDense(rows, n, nil)
	for j, sym := range symbols {
		prices := closes[sym]
		for t := 1; t < len(prices); t++ {
			returns.Set(t-1, j, (prices[t]-prices[t-1])/prices[t-1])
		}
	}

	cov := mat.NewSymDense(n, nil)
	stat.CovarianceMatrix(cov, returns, nil)

	return &Covariance{Symbols: symbols, matrix: cov}, nil
}

// alignDates returns the sorted dates present in every listed series.
func alignDates(series map[string][]PricePoint, symbols []string) []string {
	counts := make(map[string]int)
	for _, sym := range symbols {
		seen := make(map[string]bool, len(series[sym]))
		for _, p := range series[sym] {
			if !seen[p.Date] {
				seen[p.Date] = true
				counts[p.Date]++
			}
		}
	}

	var dates []string
	for d, c := range counts {
		if c == len(symbols) {
			dates = append(dates, d)
		}
	}
	sort.Strings(dates)
	return dates
}
