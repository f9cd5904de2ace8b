package stats

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"phenostats/internal/models"
)

func TestOneAgainstManyZScore(t *testing.T) {
	wt := matrix("wt", []float64{1, 0}, []float64{3, 0}, []float64{1, 0}, []float64{3, 0})
	n1, err := NewOneAgainstMany(wt)
	require.NoError(t, err)

	got, err := n1.ProcessMutant([]float64{4, 0})
	require.NoError(t, err)
	// mean 2, population std 1
	assert.InDelta(t, 2.0, got[0], 1e-12)
	assert.Equal(t, 0.0, got[1])
}

func TestOneAgainstManyZeroVariance(t *testing.T) {
	wt := matrix("wt", []float64{1}, []float64{1}, []float64{1}, []float64{1})
	n1, err := NewOneAgainstMany(wt)
	require.NoError(t, err)

	for _, tc := range []struct {
		value, want float64
	}{
		{5, ZeroVarianceScore},
		{-3, -ZeroVarianceScore},
		{1, 0},
	} {
		got, err := n1.ProcessMutant([]float64{tc.value})
		require.NoError(t, err)
		assert.Equal(t, tc.want, got[0])
		assert.False(t, math.IsNaN(got[0]) || math.IsInf(got[0], 0))
	}
}

func TestOneAgainstManySizeMismatch(t *testing.T) {
	n1, err := NewOneAgainstMany(matrix("wt", []float64{1, 2}))
	require.NoError(t, err)
	_, err = n1.ProcessMutant([]float64{1})
	assert.ErrorIs(t, err, models.ErrSizeMismatch)

	_, err = NewOneAgainstMany(&models.MaskedMatrix{})
	assert.ErrorIs(t, err, models.ErrTooFewSpecimens)
}

func TestOneAgainstManyAngularWraps(t *testing.T) {
	// wildtype clustered either side of +/-pi
	wt := matrix("wt", []float64{math.Pi - 0.1}, []float64{-math.Pi + 0.1}, []float64{math.Pi - 0.05}, []float64{-math.Pi + 0.05})
	n1, err := NewOneAgainstManyAngular(wt)
	require.NoError(t, err)

	near, err := n1.ProcessMutant([]float64{math.Pi})
	require.NoError(t, err)
	far, err := n1.ProcessMutant([]float64{0})
	require.NoError(t, err)

	assert.Less(t, math.Abs(near[0]), 0.1, "a value at the circular mean must score near zero")
	assert.Greater(t, math.Abs(far[0]), 10.0)

	// a linear z-score sees these as far apart around a mean of zero
	lin, err := NewOneAgainstMany(wt)
	require.NoError(t, err)
	linNear, err := lin.ProcessMutant([]float64{math.Pi})
	require.NoError(t, err)
	assert.Greater(t, math.Abs(linNear[0]), 0.9)
}

func TestOneAgainstManyAngularZeroSpread(t *testing.T) {
	wt := matrix("wt", []float64{1}, []float64{1}, []float64{1})
	n1, err := NewOneAgainstManyAngular(wt)
	require.NoError(t, err)
	got, err := n1.ProcessMutant([]float64{1 + 2*math.Pi})
	require.NoError(t, err)
	assert.InDelta(t, 0, got[0], 1e-9)
}

func TestWrapAngle(t *testing.T) {
	assert.InDelta(t, math.Pi, WrapAngle(-math.Pi), 1e-12)
	assert.InDelta(t, math.Pi, WrapAngle(math.Pi), 1e-12)
	assert.InDelta(t, -math.Pi/2, WrapAngle(3*math.Pi/2), 1e-12)
	assert.InDelta(t, 0.5, WrapAngle(0.5+4*math.Pi), 1e-12)
}
