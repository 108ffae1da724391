package riskparity

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/optimize"
)

// Solver tolerances and penalty weights. The sum-to-one constraint is enforced
// with a quadratic penalty during optimization and exact normalization
// afterwards, so WeightSumTolerance is a documentation of the guarantee rather
// than a knob.
const (
	WeightSumTolerance = 1e-4
	penaltyWeight      = 1000.0
	minVariance        = 1e-18
)

// Solve computes risk-parity weights for the given covariance matrix.
//
// Objective: minimize Σ (RC_i - mean(RC))² where RC_i = w_i·(Σw)_i / wᵀΣw is
// asset i's fractional contribution to portfolio variance. Constraints: weights
// sum to 1 (quadratic penalty) and each weight lies in [0, 1] (projection).
//
// The starting point is always equal weights 1/N and the search is a
// deterministic Nelder-Mead simplex. The objective is non-convex in general,
// so the result is a local minimum; with a fixed start and no randomized
// restarts, identical inputs always produce identical output.
func Solve(cov *Covariance) (map[string]float64, error) {
	n := cov.Dim()
	if n == 0 {
		return nil, fmt.Errorf("empty covariance matrix")
	}
	if n == 1 {
		return map[string]float64{cov.Symbols[0]: 1.0}, nil
	}

	for i := 0; i < n; i++ {
		if v := cov.At(i, i); v <= 0 || math.IsNaN(v) {
			return nil, &DegenerateCovarianceError{
				Reason: fmt.Sprintf("variance of %s is %v", cov.Symbols[i], v),
			}
		}
	}

	initial := make([]float64, n)
	for i := range initial {
		initial[i] = 1.0 / float64(n)
	}

	// The portfolio-variance denominator must be meaningful at the start
	// point, otherwise the objective is undefined everywhere we would search.
	if portfolioVariance(initial, cov) < minVariance {
		return nil, &DegenerateCovarianceError{Reason: "portfolio variance is zero at equal weights"}
	}

	problem := optimize.Problem{
		Func: func(x []float64) float64 {
			w := projectToBox(x)

			variance := portfolioVariance(w, cov)
			if variance < minVariance {
				// Stay finite so the optimizer backs away from the
				// degenerate region instead of propagating NaN.
				return math.MaxFloat64
			}

			rc := riskContributions(w, cov, variance)
			mean := 0.0
			for _, c := range rc {
				mean += c
			}
			mean /= float64(n)

			obj := 0.0
			for _, c := range rc {
				obj += (c - mean) * (c - mean)
			}

			sum := 0.0
			for _, wi := range w {
				sum += wi
			}
			obj += penaltyWeight * (sum - 1.0) * (sum - 1.0)

			return obj
		},
	}

	// Nelder-Mead needs no gradient: the box projection makes the objective
	// non-smooth at the bounds, so gradient-based methods are unsuitable here.
	result, err := optimize.Minimize(problem, initial, &optimize.Settings{}, &optimize.NelderMead{})
	if err != nil {
		return nil, fmt.Errorf("optimization failed: %w", err)
	}
	if !converged(result.Status) {
		return nil, fmt.Errorf("optimization did not converge: status=%v", result.Status)
	}

	final := projectToBox(result.X)
	sum := 0.0
	for _, w := range final {
		sum += w
	}
	if sum < minVariance || math.IsNaN(sum) {
		return nil, fmt.Errorf("optimizer produced invalid weight sum: %v", sum)
	}

	weights := make(map[string]float64, n)
	for i, sym := range cov.Symbols {
		weights[sym] = final[i] / sum
	}
	return weights, nil
}

// RiskContributions returns each asset's fractional contribution to total
// portfolio variance under the given weights. Contributions sum to 1.
func RiskContributions(weights map[string]float64, cov *Covariance) (map[string]float64, error) {
	w := make([]float64, cov.Dim())
	for i, sym := range cov.Symbols {
		w[i] = weights[sym]
	}

	variance := portfolioVariance(w, cov)
	if variance < minVariance {
		return nil, &DegenerateCovarianceError{Reason: "portfolio variance is zero"}
	}

	rc := riskContributions(w, cov, variance)
	out := make(map[string]float64, len(rc))
	for i, sym := range cov.Symbols {
		out[sym] = rc[i]
	}
	return out, nil
}

// portfolioVariance computes wᵀΣw.
func portfolioVariance(w []float64, cov *Covariance) float64 {
	v := mat.NewVecDense(len(w), w)
	var sw mat.VecDense
	sw.MulVec(cov.Sym(), v)
	return mat.Dot(v, &sw)
}

// riskContributions computes w_i·(Σw)_i / variance for each asset.
func riskContributions(w []float64, cov *Covariance, variance float64) []float64 {
	v := mat.NewVecDense(len(w), w)
	var sw mat.VecDense
	sw.MulVec(cov.Sym(), v)

	rc := make([]float64, len(w))
	for i := range rc {
		rc[i] = w[i] * sw.AtVec(i) / variance
	}
	return rc
}

// projectToBox clamps every weight into [0, 1].
func projectToBox(x []float64) []float64 {
	proj := make([]float64, len(x))
	for i, v := range x {
		proj[i] = math.Max(0.0, math.Min(1.0, v))
	}
	return proj
}

func converged(status optimize.Status) bool {
	switch status {
	case optimize.Success, optimize.GradientThreshold, optimize.FunctionConvergence, optimize.FunctionThreshold:
		return true
	}
	return false
}
