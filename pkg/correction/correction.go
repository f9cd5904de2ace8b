// Package correction applies multiple testing correction and the t-statistic
// filters used before results are written.
//
// None of the functions mutate their inputs.
package correction

import (
	"fmt"
	"math"
	"sort"

	"phenostats/internal/models"
)

const (
	// DefaultTStatLimit bounds t-statistics so extreme values do not dominate
	// the display range of result maps.
	DefaultTStatLimit = 50.0

	// DefaultFDRCutoff is the q-value above which statistics are zeroed.
	DefaultFDRCutoff = 0.05
)

// BenjaminiHochberg converts p-values to false discovery rate q-values.
// All values of one test must be corrected together. NaN p-values are
// treated as 1.
func BenjaminiHochberg(pvals []float64) []float64 {
	n := len(pvals)
	q := make([]float64, n)
	if n == 0 {
		return q
	}

	p := make([]float64, n)
	order := make([]int, n)
	for i, v := range pvals {
		if math.IsNaN(v) {
			v = 1
		}
		p[i] = v
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool { return p[order[a]] < p[order[b]] })

	// Walk from the largest p-value down, keeping the running minimum of
	// p * n / rank so q is monotone in p.
	running := 1.0
	for k := n - 1; k >= 0; k-- {
		idx := order[k]
		v := p[idx] * float64(n) / float64(k+1)
		if v < running {
			running = v
		}
		q[idx] = math.Max(0, running)
	}
	return q
}

// Bonferroni multiplies each p-value by the number of tests, capped at 1.
func Bonferroni(pvals []float64) []float64 {
	out := make([]float64, len(pvals))
	for i, p := range pvals {
		out[i] = math.Min(1, p*float64(len(pvals)))
	}
	return out
}

// ClampTStat returns a copy of tstat with values limited to [-limit, limit].
// NaN becomes 0.
func ClampTStat(tstat []float64, limit float64) []float64 {
	out := make([]float64, len(tstat))
	for i, t := range tstat {
		switch {
		case math.IsNaN(t):
			out[i] = 0
		case t > limit:
			out[i] = limit
		case t < -limit:
			out[i] = -limit
		default:
			out[i] = t
		}
	}
	return out
}

// SignificanceFilter returns a copy of tstat with every position whose
// q-value exceeds cutoff or is NaN set to zero.
func SignificanceFilter(tstat, qval []float64, cutoff float64) ([]float64, error) {
	if len(tstat) != len(qval) {
		return nil, fmt.Errorf("%w: %d t-statistics, %d q-values", models.ErrSizeMismatch, len(tstat), len(qval))
	}
	out := make([]float64, len(tstat))
	for i, t := range tstat {
		if math.IsNaN(qval[i]) || qval[i] > cutoff {
			continue
		}
		out[i] = t
	}
	return out, nil
}
