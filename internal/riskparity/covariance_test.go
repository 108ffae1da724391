package riskparity

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestComputeCovariance_TwoAssets(t *testing.T) {
	series := map[string][]PricePoint{
		"AAA": {
			{Date: "2024-01-01", Close: 100},
			{Date: "2024-01-02", Close: 110},
			{Date: "2024-01-03", Close: 99},
			{Date: "2024-01-04", Close: 108.9},
		},
		"BBB": {
			{Date: "2024-01-01", Close: 50},
			{Date: "2024-01-02", Close: 55},
			{Date: "2024-01-03", Close: 49.5},
			{Date: "2024-01-04", Close: 54.45},
		},
	}

	cov, err := ComputeCovariance(series)
	require.NoError(t, err)
	require.Equal(t, 2, cov.Dim())
	assert.Equal(t, []string{"AAA", "BBB"}, cov.Symbols)

	// Both series move +10%, -10%, +10%: identical returns, so every entry
	// of the matrix equals the variance of {0.1, -0.1, 0.1}.
	// mean = 1/30; sample variance = sum((r-mean)^2)/2 = 0.01333...
	expected := 0.0133333333
	for i := 0; i < 2; i++ {
		for j := 0; j < 2; j++ {
			assert.InDelta(t, expected, cov.At(i, j), 1e-6)
		}
	}
}

func TestComputeCovariance_OrderInvariant(t *testing.T) {
	a := []PricePoint{
		{Date: "2024-01-01", Close: 10}, {Date: "2024-01-02", Close: 12},
		{Date: "2024-01-03", Close: 11}, {Date: "2024-01-04", Close: 13},
	}
	b := []PricePoint{
		{Date: "2024-01-01", Close: 20}, {Date: "2024-01-02", Close: 19},
		{Date: "2024-01-03", Close: 21}, {Date: "2024-01-04", Close: 22},
	}
	c := []PricePoint{
		{Date: "2024-01-01", Close: 5}, {Date: "2024-01-02", Close: 5.5},
		{Date: "2024-01-03", Close: 5.2}, {Date: "2024-01-04", Close: 5.9},
	}

	cov1, err := ComputeCovariance(map[string][]PricePoint{"X": a, "Y": b, "Z": c})
	require.NoError(t, err)
	cov2, err := ComputeCovariance(map[string][]PricePoint{"Z": c, "X": a, "Y": b})
	require.NoError(t, err)

	require.Equal(t, cov1.Symbols, cov2.Symbols)
	for i := 0; i < cov1.Dim(); i++ {
		for j := 0; j < cov1.Dim(); j++ {
			assert.InDelta(t, cov1.At(i, j), cov2.At(i, j), 1e-12)
		}
	}
}

func TestComputeCovariance_InnerJoinDropsMissingDates(t *testing.T) {
	// BBB is missing 2024-01-03; that date must be dropped for AAA too.
	series := map[string][]PricePoint{
		"AAA": {
			{Date: "2024-01-01", Close: 100},
			{Date: "2024-01-02", Close: 101},
			{Date: "2024-01-03", Close: 500}, // outlier that must not survive alignment
			{Date: "2024-01-04", Close: 102},
			{Date: "2024-01-05", Close: 103},
		},
		"BBB": {
			{Date: "2024-01-01", Close: 10},
			{Date: "2024-01-02", Close: 11},
			{Date: "2024-01-04", Close: 12},
			{Date: "2024-01-05", Close: 13},
		},
	}

	cov, err := ComputeCovariance(series)
	require.NoError(t, err)

	// If the outlier date had leaked into AAA's returns, its variance would
	// be enormous; aligned returns are all ~1%, so variance stays tiny.
	assert.Less(t, cov.At(0, 0), 0.01)
}

func TestComputeCovariance_InsufficientOverlap(t *testing.T) {
	series := map[string][]PricePoint{
		"AAA": {
			{Date: "2024-01-01", Close: 100},
			{Date: "2024-01-02", Close: 101},
		},
		"BBB": {
			{Date: "2024-01-02", Close: 50},
			{Date: "2024-01-03", Close: 51},
		},
	}

	_, err := ComputeCovariance(series)
	require.Error(t, err)

	var insufficient *InsufficientDataError
	require.True(t, errors.As(err, &insufficient))
	assert.Equal(t, 1, insufficient.Observations)
}

func TestComputeCovariance_SingleInstrument(t *testing.T) {
	series := map[string][]PricePoint{
		"AAA": {
			{Date: "2024-01-01", Close: 100},
			{Date: "2024-01-02", Close: 101},
			{Date: "2024-01-03", Close: 102},
		},
	}

	_, err := ComputeCovariance(series)
	var insufficient *InsufficientDataError
	require.True(t, errors.As(err, &insufficient))
	assert.Equal(t, 1, insufficient.Instruments)
}

func TestComputeCovariance_ShortSeriesIsError(t *testing.T) {
	// An instrument with fewer than 2 observations cannot produce returns.
	// It must surface as an error naming the instrument, never be dropped
	// while the remaining instruments proceed to a smaller matrix.
	series := map[string][]PricePoint{
		"AAA": {
			{Date: "2024-01-01", Close: 100},
			{Date: "2024-01-02", Close: 101},
			{Date: "2024-01-03", Close: 102},
			{Date: "2024-01-04", Close: 103},
		},
		"BBB": {
			{Date: "2024-01-01", Close: 50},
			{Date: "2024-01-02", Close: 51},
			{Date: "2024-01-03", Close: 52},
			{Date: "2024-01-04", Close: 53},
		},
		"CCC": {{Date: "2024-01-04", Close: 10}},
	}

	cov, err := ComputeCovariance(series)
	require.Error(t, err)
	assert.Nil(t, cov)

	var insufficient *InsufficientDataError
	require.True(t, errors.As(err, &insufficient))
	assert.Equal(t, "CCC", insufficient.Symbol)
	assert.Equal(t, 1, insufficient.Observations)
	assert.Contains(t, err.Error(), "CCC")
}
