package stats

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"

	"gonum.org/v1/gonum/mat"

	"phenostats/internal/models"
	"phenostats/pkg/groups"
)

// DefaultFormula is used when no formula is configured.
const DefaultFormula = groups.GenotypeColumn

// LinearModel fits data ~ formula by ordinary least squares at every voxel
// and reports the t-statistic of the first formula term. Categorical terms
// are dummy coded against "wildtype" when present, otherwise against their
// first level in sorted order.
type LinearModel struct {
	Workers int
}

// Name implements ModelBackend.
func (LinearModel) Name() string { return "LM" }

// UsesFormula implements ModelBackend.
func (LinearModel) UsesFormula() bool { return true }

// Run implements ModelBackend. formula lists the independent variables
// separated by commas, e.g. "genotype,crl".
func (lm LinearModel) Run(ctx context.Context, wt, mut *models.MaskedMatrix, formula string, table *groups.Table) (*models.TestResult, error) {
	if err := checkPopulations(wt, mut, 1); err != nil {
		return nil, err
	}
	if table == nil {
		table = groups.Default(wt.IDs, mut.IDs, nil, nil)
	}

	ids := append(append([]string{}, wt.IDs...), mut.IDs...)
	rows := append(append([][]float64{}, wt.Rows...), mut.Rows...)
	x, coef, err := DesignMatrix(ids, ParseTerms(formula), table)
	if err != nil {
		return nil, err
	}
	n, p := x.Dims()
	df := n - p
	if df < 1 {
		return nil, fmt.Errorf("%w: %d specimens for %d model parameters", models.ErrTooFewSpecimens, n, p)
	}

	var xtx, inv mat.Dense
	xtx.Mul(x.T(), x)
	if err := inv.Inverse(&xtx); err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrSingularDesign, err)
	}
	// hat maps the responses of one voxel to its coefficients
	var hat mat.Dense
	hat.Mul(&inv, x.T())
	scale := inv.At(coef, coef)

	nvox := wt.Columns()
	res := &models.TestResult{TStat: make([]float64, nvox), PVal: make([]float64, nvox)}
	err = forEachChunk(ctx, nvox, lm.Workers, func(lo, hi int) error {
		width := hi - lo
		y := mat.NewDense(n, width, nil)
		for i, row := range rows {
			y.SetRow(i, row[lo:hi])
		}
		var beta, fitted mat.Dense
		beta.Mul(&hat, y)
		fitted.Mul(x, &beta)
		for c := 0; c < width; c++ {
			var rss float64
			for i := 0; i < n; i++ {
				r := y.At(i, c) - fitted.At(i, c)
				rss += r * r
			}
			b := beta.At(coef, c)
			se := math.Sqrt(rss / float64(df) * scale)
			v := lo + c
			if !(se > 1e-12*math.Max(1, math.Abs(b))) {
				res.TStat[v], res.PVal[v] = degenerate(roundOff(b))
				continue
			}
			res.TStat[v] = b / se
			res.PVal[v] = TwoTailedP(res.TStat[v], float64(df))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}

// roundOff treats coefficients within floating point noise of zero as zero.
func roundOff(b float64) float64 {
	if math.Abs(b) < 1e-12 {
		return 0
	}
	return b
}

// ParseTerms splits a reduced formula ("genotype,crl") into its terms.
func ParseTerms(formula string) []string {
	var terms []string
	for _, t := range strings.Split(formula, ",") {
		if t = strings.TrimSpace(t); t != "" {
			terms = append(terms, t)
		}
	}
	if len(terms) == 0 {
		terms = []string{DefaultFormula}
	}
	return terms
}

// DesignMatrix builds the model matrix for the given specimens: an intercept
// followed by one column per numeric term and one dummy column per
// non-reference level of each categorical term. coef is the column of the
// first term's first coefficient.
func DesignMatrix(ids, terms []string, table *groups.Table) (x *mat.Dense, coef int, err error) {
	n := len(ids)
	cols := [][]float64{ones(n)}
	coef = -1
	for ti, term := range terms {
		values := make([]string, n)
		for i, id := range ids {
			row, ok := table.Lookup(id)
			if !ok {
				return nil, 0, fmt.Errorf("%w: specimen %s is not in the groups table", models.ErrMissingCovariate, id)
			}
			v, ok := row[term]
			if !ok || v == "" {
				return nil, 0, fmt.Errorf("%w: specimen %s has no value for %q", models.ErrMissingCovariate, id, term)
			}
			values[i] = v
		}
		added := encodeTerm(values)
		if len(added) == 0 {
			return nil, 0, fmt.Errorf("%w: term %q has a single level", models.ErrSingularDesign, term)
		}
		if ti == 0 {
			coef = len(cols)
		}
		cols = append(cols, added...)
	}

	x = mat.NewDense(n, len(cols), nil)
	for j, c := range cols {
		x.SetCol(j, c)
	}
	return x, coef, nil
}

func encodeTerm(values []string) [][]float64 {
	numeric := make([]float64, len(values))
	isNumeric := true
	for i, v := range values {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			isNumeric = false
			break
		}
		numeric[i] = f
	}
	if isNumeric {
		return [][]float64{numeric}
	}

	seen := make(map[string]bool)
	var levels []string
	for _, v := range values {
		if !seen[v] {
			seen[v] = true
			levels = append(levels, v)
		}
	}
	sort.Strings(levels)
	reference := levels[0]
	if seen[groups.Wildtype] {
		reference = groups.Wildtype
	}

	var cols [][]float64
	for _, level := range levels {
		if level == reference {
			continue
		}
		c := make([]float64, len(values))
		for i, v := range values {
			if v == level {
				c[i] = 1
			}
		}
		cols = append(cols, c)
	}
	return cols
}

func ones(n int) []float64 {
	c := make([]float64, n)
	for i := range c {
		c[i] = 1
	}
	return c
}
