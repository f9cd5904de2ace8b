package stats

import (
	"context"
	"math"

	"gonum.org/v1/gonum/stat"

	"phenostats/internal/models"
	"phenostats/pkg/groups"
)

// TTest is the in-process two-sample Welch t-test. Voxels are independent;
// positive statistics mean the mutant mean is above the wildtype mean.
type TTest struct {
	// Workers bounds the number of goroutines; 0 uses all CPUs.
	Workers int
}

// Name implements ModelBackend.
func (TTest) Name() string { return "ttest" }

// UsesFormula implements ModelBackend. The t-test ignores formulas and runs
// once per analysis.
func (TTest) UsesFormula() bool { return false }

// Run implements ModelBackend.
func (tt TTest) Run(ctx context.Context, wt, mut *models.MaskedMatrix, _ string, _ *groups.Table) (*models.TestResult, error) {
	if err := checkPopulations(wt, mut, 2); err != nil {
		return nil, err
	}
	n := wt.Columns()
	res := &models.TestResult{TStat: make([]float64, n), PVal: make([]float64, n)}
	err := forEachChunk(ctx, n, tt.Workers, func(lo, hi int) error {
		a := make([]float64, wt.Len())
		b := make([]float64, mut.Len())
		for v := lo; v < hi; v++ {
			column(wt, v, a)
			column(mut, v, b)
			res.TStat[v], res.PVal[v] = Welch(b, a)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}

// Welch returns Welch's t statistic for mean(x) - mean(y) and its two-tailed
// p-value using the Welch-Satterthwaite degrees of freedom.
func Welch(x, y []float64) (t, p float64) {
	nx, ny := float64(len(x)), float64(len(y))
	mx, vx := stat.MeanVariance(x, nil)
	my, vy := stat.MeanVariance(y, nil)

	sx, sy := vx/nx, vy/ny
	se2 := sx + sy
	diff := mx - my
	if !(se2 > 0) {
		return degenerate(diff)
	}
	t = diff / math.Sqrt(se2)
	df := se2 * se2 / (sx*sx/(nx-1) + sy*sy/(ny-1))
	return t, TwoTailedP(t, df)
}
