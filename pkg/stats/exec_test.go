package stats

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"phenostats/internal/models"
	"phenostats/pkg/groups"
)

// TestHelperProcess plays the external model runtime. It writes the mean
// difference as the statistic and a constant p value. The formula selects
// failure modes.
func TestHelperProcess(t *testing.T) {
	if os.Getenv("GO_WANT_HELPER_PROCESS") != "1" {
		return
	}
	req, err := ReadRequest(os.Args[len(os.Args)-1])
	if err != nil {
		os.Exit(2)
	}
	switch req.Formula {
	case "crash":
		os.Exit(1)
	case "slow":
		time.Sleep(10 * time.Second)
	}
	wt, err := ReadMatrix(req.WT)
	if err != nil {
		os.Exit(3)
	}
	mut, err := ReadMatrix(req.Mut)
	if err != nil {
		os.Exit(3)
	}
	if _, err := groups.Load(req.Groups); err != nil {
		os.Exit(4)
	}
	n := req.WT.Cols
	if req.Formula == "short" {
		n--
	}
	tstats := make([]float64, n)
	pvals := make([]float64, n)
	for v := range tstats {
		var a, b float64
		for _, row := range wt {
			a += row[v] / float64(len(wt))
		}
		for _, row := range mut {
			b += row[v] / float64(len(mut))
		}
		tstats[v] = b - a
		pvals[v] = 0.5
	}
	_ = WriteVector(req.TStats, tstats)
	_ = WriteVector(req.PVals, pvals)
	os.Exit(0)
}

func helperBackend(t *testing.T) *ExecBackend {
	t.Setenv("GO_WANT_HELPER_PROCESS", "1")
	return &ExecBackend{
		Command: os.Args[0],
		Args:    []string{"-test.run=TestHelperProcess", "--"},
		TempDir: t.TempDir(),
	}
}

func TestExecBackendRun(t *testing.T) {
	b := helperBackend(t)
	wt := matrix("wt", []float64{1, 2}, []float64{3, 2})
	mut := matrix("mut", []float64{5, 2}, []float64{7, 2})

	res, err := b.Run(context.Background(), wt, mut, "genotype", nil)
	require.NoError(t, err)
	assert.Equal(t, []float64{4, 0}, res.TStat)
	assert.Equal(t, []float64{0.5, 0.5}, res.PVal)
	assert.Nil(t, res.QVal)

	// exchange directories are cleaned up
	entries, err := os.ReadDir(b.TempDir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestExecBackendFailures(t *testing.T) {
	b := helperBackend(t)
	wt := matrix("wt", []float64{1}, []float64{2})
	mut := matrix("mut", []float64{3}, []float64{4})

	_, err := b.Run(context.Background(), wt, mut, "crash", nil)
	assert.ErrorIs(t, err, models.ErrBackendUnavailable)

	_, err = b.Run(context.Background(), wt, mut, "short", nil)
	assert.ErrorIs(t, err, models.ErrLengthMismatch)

	b.Timeout = 200 * time.Millisecond
	_, err = b.Run(context.Background(), wt, mut, "slow", nil)
	assert.ErrorIs(t, err, models.ErrBackendUnavailable)
}

func TestExecBackendMissingCommand(t *testing.T) {
	b := &ExecBackend{Command: "phenostats-no-such-runtime"}
	assert.ErrorIs(t, b.Available(), models.ErrBackendUnavailable)

	_, err := b.Run(context.Background(), matrix("wt", []float64{1}), matrix("mut", []float64{2}), "genotype", nil)
	assert.ErrorIs(t, err, models.ErrBackendUnavailable)
}

func TestRequestRoundTrip(t *testing.T) {
	dir := t.TempDir()
	rows := [][]float64{{1, 2, 3}, {4, 5, 6}}
	mf := MatrixFile{Path: filepath.Join(dir, "m.f64"), Rows: 2, Cols: 3, IDs: []string{"a", "b"}}
	require.NoError(t, WriteMatrix(mf.Path, rows))

	req := &Request{Formula: "genotype,crl", WT: mf, TStats: "t.f64"}
	path := filepath.Join(dir, RequestFile)
	require.NoError(t, WriteRequest(path, req))

	got, err := ReadRequest(path)
	require.NoError(t, err)
	assert.Equal(t, req, got)
	assert.Nil(t, got.Mut.IDs)

	back, err := ReadMatrix(got.WT)
	require.NoError(t, err)
	assert.Equal(t, rows, back)

	mf.Cols = 4
	_, err = ReadMatrix(mf)
	assert.ErrorIs(t, err, models.ErrLengthMismatch)
}
