package riskparity

import (
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func diagCovariance(symbols []string, variances []float64) *Covariance {
	data := make([][]float64, len(symbols))
	for i := range data {
		data[i] = make([]float64, len(symbols))
		data[i][i] = variances[i]
	}
	return NewCovariance(symbols, data)
}

func assertValidWeights(t *testing.T, weights map[string]float64) {
	t.Helper()
	sum := 0.0
	for sym, w := range weights {
		assert.GreaterOrEqual(t, w, 0.0, "weight of %s below zero", sym)
		assert.LessOrEqual(t, w, 1.0, "weight of %s above one", sym)
		sum += w
	}
	assert.InDelta(t, 1.0, sum, WeightSumTolerance)
}

func TestSolve_EqualVarianceGivesEqualWeights(t *testing.T) {
	cov := diagCovariance([]string{"A", "B", "C", "D"}, []float64{0.04, 0.04, 0.04, 0.04})

	weights, err := Solve(cov)
	require.NoError(t, err)
	assertValidWeights(t, weights)

	for sym, w := range weights {
		assert.InDelta(t, 0.25, w, 1e-3, "weight of %s", sym)
	}
}

func TestSolve_InverseVolatilityForUncorrelatedAssets(t *testing.T) {
	// A has 4x the variance of B (2x the volatility) and zero correlation.
	// Risk parity weights are proportional to inverse volatility:
	// wA/wB = sigmaB/sigmaA = 0.5, i.e. wA = 1/3, wB = 2/3.
	cov := diagCovariance([]string{"A", "B"}, []float64{0.04, 0.01})

	weights, err := Solve(cov)
	require.NoError(t, err)
	assertValidWeights(t, weights)

	assert.Less(t, weights["A"], weights["B"])
	assert.InDelta(t, 0.5, weights["A"]/weights["B"], 0.02)
	assert.InDelta(t, 1.0/3.0, weights["A"], 0.01)
}

func TestSolve_CorrelatedAssetsEqualizeRiskContributions(t *testing.T) {
	cov := NewCovariance([]string{"A", "B", "C"}, [][]float64{
		{0.0400, 0.0060, 0.0010},
		{0.0060, 0.0100, 0.0008},
		{0.0010, 0.0008, 0.0025},
	})

	weights, err := Solve(cov)
	require.NoError(t, err)
	assertValidWeights(t, weights)

	rc, err := RiskContributions(weights, cov)
	require.NoError(t, err)

	total := 0.0
	for _, c := range rc {
		total += c
	}
	assert.InDelta(t, 1.0, total, 1e-9)

	for sym, c := range rc {
		assert.InDelta(t, 1.0/3.0, c, 0.02, "risk contribution of %s", sym)
	}
}

func TestSolve_Deterministic(t *testing.T) {
	cov := NewCovariance([]string{"A", "B", "C"}, [][]float64{
		{0.0400, 0.0060, 0.0010},
		{0.0060, 0.0100, 0.0008},
		{0.0010, 0.0008, 0.0025},
	})

	first, err := Solve(cov)
	require.NoError(t, err)
	second, err := Solve(cov)
	require.NoError(t, err)

	for sym := range first {
		assert.Equal(t, first[sym], second[sym], "weight of %s changed between runs", sym)
	}
}

func TestSolve_ZeroVarianceIsDegenerate(t *testing.T) {
	cov := diagCovariance([]string{"A", "B"}, []float64{0.04, 0.0})

	_, err := Solve(cov)
	require.Error(t, err)

	var degenerate *DegenerateCovarianceError
	assert.True(t, errors.As(err, &degenerate))
}

func TestSolve_NaNVarianceIsDegenerate(t *testing.T) {
	cov := diagCovariance([]string{"A", "B"}, []float64{0.04, math.NaN()})

	_, err := Solve(cov)
	var degenerate *DegenerateCovarianceError
	assert.True(t, errors.As(err, &degenerate))
}

func TestSolve_SingleAsset(t *testing.T) {
	cov := diagCovariance([]string{"ONLY"}, []float64{0.04})

	weights, err := Solve(cov)
	require.NoError(t, err)
	assert.Equal(t, map[string]float64{"ONLY": 1.0}, weights)
}

func TestRiskContributions_ZeroWeightsDegenerate(t *testing.T) {
	cov := diagCovariance([]string{"A", "B"}, []float64{0.04, 0.01})

	_, err := RiskContributions(map[string]float64{"A": 0, "B": 0}, cov)
	var degenerate *DegenerateCovarianceError
	assert.True(t, errors.As(err, &degenerate))
}
