// Package stats computes voxel-wise statistics: population comparisons
// through interchangeable ModelBackends and per-specimen deviation maps.
package stats

import (
	"context"
	"fmt"
	"math"
	"runtime"

	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/stat/distuv"

	"phenostats/internal/models"
	"phenostats/pkg/groups"
)

// columnChunk is the number of voxels handed to one worker at a time.
const columnChunk = 4096

// ModelBackend compares a wildtype and a mutant population voxel by voxel.
// The returned arrays follow the column order of the input matrices. QVal
// may be nil, in which case the caller applies FDR correction.
type ModelBackend interface {
	// Name is used for output directories and file names.
	Name() string

	// UsesFormula reports whether Run should be called once per formula.
	UsesFormula() bool

	Run(ctx context.Context, wt, mut *models.MaskedMatrix, formula string, table *groups.Table) (*models.TestResult, error)
}

func checkPopulations(wt, mut *models.MaskedMatrix, minEach int) error {
	if wt.Len() < minEach || mut.Len() < minEach {
		return fmt.Errorf("%w: %d wildtype and %d mutant specimens, need at least %d of each",
			models.ErrTooFewSpecimens, wt.Len(), mut.Len(), minEach)
	}
	n := wt.Columns()
	for _, m := range []*models.MaskedMatrix{wt, mut} {
		for i, row := range m.Rows {
			if len(row) != n {
				return fmt.Errorf("%w: specimen %s has %d voxels, expected %d", models.ErrSizeMismatch, m.IDs[i], len(row), n)
			}
		}
	}
	return nil
}

// column copies voxel v of every specimen into dst.
func column(m *models.MaskedMatrix, v int, dst []float64) {
	for i, row := range m.Rows {
		dst[i] = row[v]
	}
}

// forEachChunk splits [0, n) into chunks and runs fn on them with at most
// workers goroutines. Chunks never overlap so fn may write its own range of
// shared output slices.
func forEachChunk(ctx context.Context, n, workers int, fn func(lo, hi int) error) error {
	if workers < 1 {
		workers = runtime.NumCPU()
	}
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for lo := 0; lo < n; lo += columnChunk {
		lo, hi := lo, min(lo+columnChunk, n)
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			return fn(lo, hi)
		})
	}
	return g.Wait()
}

// TwoTailedP returns the two-tailed p-value of t under a Student's t
// distribution with df degrees of freedom.
func TwoTailedP(t, df float64) float64 {
	if math.IsNaN(t) || !(df > 0) {
		return 1
	}
	if math.IsInf(t, 0) {
		return 0
	}
	dist := distuv.StudentsT{Mu: 0, Sigma: 1, Nu: df}
	return math.Min(1, 2*dist.Survival(math.Abs(t)))
}

// degenerate handles a zero standard error: no difference gives t = 0 and
// p = 1, any difference an infinite t with p = 0.
func degenerate(diff float64) (t, p float64) {
	switch {
	case diff > 0:
		return math.Inf(1), 0
	case diff < 0:
		return math.Inf(-1), 0
	default:
		return 0, 1
	}
}
