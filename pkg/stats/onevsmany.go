package stats

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/stat"

	"phenostats/internal/models"
)

// ZeroVarianceScore is the deviation reported when the wildtype population
// has no spread at a voxel but the specimen differs from it.
const ZeroVarianceScore = 50.0

// OneAgainstMany scores individual mutants against the wildtype
// distribution at each voxel. The scores are exploratory and uncorrected.
type OneAgainstMany struct {
	centre  []float64
	spread  []float64
	angular bool
}

// NewOneAgainstMany summarises the wildtype population by its per-voxel mean
// and population standard deviation.
func NewOneAgainstMany(wt *models.MaskedMatrix) (*OneAgainstMany, error) {
	return newOneAgainstMany(wt, false)
}

// NewOneAgainstManyAngular is NewOneAgainstMany for angles in radians. The
// wildtype is summarised by its circular mean and circular standard
// deviation and differences are wrapped to (-pi, pi].
func NewOneAgainstManyAngular(wt *models.MaskedMatrix) (*OneAgainstMany, error) {
	return newOneAgainstMany(wt, true)
}

func newOneAgainstMany(wt *models.MaskedMatrix, angular bool) (*OneAgainstMany, error) {
	if wt.Len() == 0 {
		return nil, fmt.Errorf("%w: no wildtype specimens", models.ErrTooFewSpecimens)
	}
	n := wt.Columns()
	o := &OneAgainstMany{centre: make([]float64, n), spread: make([]float64, n), angular: angular}
	col := make([]float64, wt.Len())
	for v := 0; v < n; v++ {
		column(wt, v, col)
		if angular {
			o.centre[v], o.spread[v] = circularMeanStd(col)
		} else {
			mean, variance := stat.PopMeanVariance(col, nil)
			o.centre[v], o.spread[v] = mean, math.Sqrt(variance)
		}
	}
	return o, nil
}

// ProcessMutant returns the deviation of one mutant specimen at every voxel.
func (o *OneAgainstMany) ProcessMutant(row []float64) ([]float64, error) {
	if len(row) != len(o.centre) {
		return nil, fmt.Errorf("%w: mutant has %d voxels, wildtype %d", models.ErrSizeMismatch, len(row), len(o.centre))
	}
	out := make([]float64, len(row))
	for v, x := range row {
		diff := x - o.centre[v]
		if o.angular {
			diff = WrapAngle(diff)
		}
		out[v] = score(diff, o.spread[v])
	}
	return out, nil
}

func score(diff, spread float64) float64 {
	if spread > 0 {
		return diff / spread
	}
	switch {
	case math.Abs(diff) < 1e-9:
		return 0
	case diff > 0:
		return ZeroVarianceScore
	case diff < 0:
		return -ZeroVarianceScore
	default:
		return 0
	}
}

// WrapAngle maps an angle in radians onto (-pi, pi].
func WrapAngle(a float64) float64 {
	a = math.Remainder(a, 2*math.Pi)
	if a <= -math.Pi {
		a += 2 * math.Pi
	}
	return a
}

func circularMeanStd(angles []float64) (mean, std float64) {
	var s, c float64
	for _, a := range angles {
		s += math.Sin(a)
		c += math.Cos(a)
	}
	n := float64(len(angles))
	mean = math.Atan2(s, c)
	r := math.Hypot(s, c) / n
	if r >= 1-1e-12 {
		return mean, 0
	}
	return mean, math.Sqrt(-2 * math.Log(r))
}
