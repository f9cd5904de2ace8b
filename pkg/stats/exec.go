package stats

import (
	"bufio"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"phenostats/internal/models"
	"phenostats/pkg/groups"
)

// RequestFile is the name of the manifest handed to an external model.
const RequestFile = "request.yaml"

// MatrixFile describes a specimens x voxels matrix stored as little-endian
// float64 values in row-major order.
type MatrixFile struct {
	Path string   `yaml:"path"`
	Rows int      `yaml:"rows"`
	Cols int      `yaml:"cols"`
	IDs  []string `yaml:"ids,omitempty"`
}

// Request is the contract between ExecBackend and an external statistical
// runtime. The process receives the manifest path as its last argument and
// must write TStats and PVals (QVals optionally) as little-endian float64
// vectors with one value per voxel column.
type Request struct {
	Formula string     `yaml:"formula"`
	Groups  string     `yaml:"groups"`
	WT      MatrixFile `yaml:"wt"`
	Mut     MatrixFile `yaml:"mut"`
	TStats  string     `yaml:"tstats"`
	PVals   string     `yaml:"pvals"`
	QVals   string     `yaml:"qvals"`
}

// ExecBackend delegates formula models to an external process.
type ExecBackend struct {
	Command string
	Args    []string

	// Timeout bounds one invocation; zero means no limit.
	Timeout time.Duration

	// TempDir is the parent of per-call exchange directories.
	TempDir string

	Log *slog.Logger
}

// Name implements ModelBackend.
func (*ExecBackend) Name() string { return "LM" }

// UsesFormula implements ModelBackend.
func (*ExecBackend) UsesFormula() bool { return true }

// Available reports whether the configured command can be found.
func (b *ExecBackend) Available() error {
	if _, err := exec.LookPath(b.Command); err != nil {
		return fmt.Errorf("%w: %v", models.ErrBackendUnavailable, err)
	}
	return nil
}

// Run implements ModelBackend.
func (b *ExecBackend) Run(ctx context.Context, wt, mut *models.MaskedMatrix, formula string, table *groups.Table) (*models.TestResult, error) {
	if err := checkPopulations(wt, mut, 1); err != nil {
		return nil, err
	}
	if err := b.Available(); err != nil {
		return nil, err
	}

	dir, err := os.MkdirTemp(b.TempDir, "model-*")
	if err != nil {
		return nil, fmt.Errorf("failed to create exchange directory: %w", err)
	}
	defer os.RemoveAll(dir)

	if table == nil {
		table = groups.Default(wt.IDs, mut.IDs, nil, nil)
	}
	req := &Request{
		Formula: formula,
		Groups:  filepath.Join(dir, "groups.csv"),
		WT:      MatrixFile{Path: filepath.Join(dir, "wt.f64"), Rows: wt.Len(), Cols: wt.Columns(), IDs: wt.IDs},
		Mut:     MatrixFile{Path: filepath.Join(dir, "mut.f64"), Rows: mut.Len(), Cols: mut.Columns(), IDs: mut.IDs},
		TStats:  filepath.Join(dir, "tstats.f64"),
		PVals:   filepath.Join(dir, "pvals.f64"),
		QVals:   filepath.Join(dir, "qvals.f64"),
	}
	if err := table.Write(req.Groups); err != nil {
		return nil, err
	}
	if err := WriteMatrix(req.WT.Path, wt.Rows); err != nil {
		return nil, err
	}
	if err := WriteMatrix(req.Mut.Path, mut.Rows); err != nil {
		return nil, err
	}
	reqPath := filepath.Join(dir, RequestFile)
	if err := WriteRequest(reqPath, req); err != nil {
		return nil, err
	}

	if b.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, b.Timeout)
		defer cancel()
	}
	cmd := exec.CommandContext(ctx, b.Command, append(append([]string{}, b.Args...), reqPath)...)
	start := time.Now()
	out, err := cmd.CombinedOutput()
	if err != nil {
		if ctx.Err() != nil {
			err = ctx.Err()
		}
		return nil, fmt.Errorf("%w: %s: %v: %s", models.ErrBackendUnavailable, b.Command, err, tail(out, 512))
	}
	if b.Log != nil {
		b.Log.Debug("external model finished", "command", b.Command, "formula", formula, "elapsed", time.Since(start))
	}

	cols := wt.Columns()
	res := &models.TestResult{}
	if res.TStat, err = readResult(req.TStats, cols); err != nil {
		return nil, err
	}
	if res.PVal, err = readResult(req.PVals, cols); err != nil {
		return nil, err
	}
	if _, statErr := os.Stat(req.QVals); statErr == nil {
		if res.QVal, err = readResult(req.QVals, cols); err != nil {
			return nil, err
		}
	}
	return res, nil
}

func readResult(path string, want int) ([]float64, error) {
	v, err := ReadVector(path)
	if err != nil {
		return nil, fmt.Errorf("%w: missing model output: %v", models.ErrBackendUnavailable, err)
	}
	if len(v) != want {
		return nil, fmt.Errorf("%w: %s has %d values, expected %d", models.ErrLengthMismatch, filepath.Base(path), len(v), want)
	}
	return v, nil
}

func tail(out []byte, n int) string {
	s := strings.TrimSpace(string(out))
	if len(s) > n {
		s = "..." + s[len(s)-n:]
	}
	return s
}

// WriteRequest stores a request manifest as YAML.
func WriteRequest(path string, req *Request) error {
	data, err := yaml.Marshal(req)
	if err != nil {
		return fmt.Errorf("error marshaling model request: %w", err)
	}
	return os.WriteFile(path, data, 0644)
}

// ReadRequest loads a request manifest.
func ReadRequest(path string) (*Request, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var req Request
	if err := yaml.Unmarshal(data, &req); err != nil {
		return nil, fmt.Errorf("error parsing model request: %w", err)
	}
	return &req, nil
}

// WriteMatrix stores rows back to back as little-endian float64.
func WriteMatrix(path string, rows [][]float64) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	w := bufio.NewWriter(f)
	for _, row := range rows {
		if err := writeFloats(w, row); err != nil {
			f.Close()
			return err
		}
	}
	if err := w.Flush(); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// WriteVector stores one vector as little-endian float64.
func WriteVector(path string, v []float64) error {
	return WriteMatrix(path, [][]float64{v})
}

// ReadMatrix loads a matrix written by WriteMatrix.
func ReadMatrix(mf MatrixFile) ([][]float64, error) {
	flat, err := ReadVector(mf.Path)
	if err != nil {
		return nil, err
	}
	if len(flat) != mf.Rows*mf.Cols {
		return nil, fmt.Errorf("%w: %s holds %d values, expected %dx%d", models.ErrLengthMismatch, mf.Path, len(flat), mf.Rows, mf.Cols)
	}
	rows := make([][]float64, mf.Rows)
	for i := range rows {
		rows[i] = flat[i*mf.Cols : (i+1)*mf.Cols]
	}
	return rows, nil
}

// ReadVector loads little-endian float64 values.
func ReadVector(path string) ([]float64, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if len(data)%8 != 0 {
		return nil, errors.New("truncated float64 data in " + path)
	}
	v := make([]float64, len(data)/8)
	for i := range v {
		v[i] = math.Float64frombits(binary.LittleEndian.Uint64(data[i*8:]))
	}
	return v, nil
}

func writeFloats(w io.Writer, v []float64) error {
	buf := make([]byte, 8*len(v))
	for i, f := range v {
		binary.LittleEndian.PutUint64(buf[i*8:], math.Float64bits(f))
	}
	_, err := w.Write(buf)
	return err
}
