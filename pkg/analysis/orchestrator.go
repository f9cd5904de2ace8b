// Package analysis runs the configured analyses one after another: loading
// and masking the specimens, testing the populations, correcting,
// reconstructing and writing the result volumes, and releasing the data
// before the next analysis starts.
package analysis

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"phenostats/internal/models"
	"phenostats/pkg/assembly"
	"phenostats/pkg/correction"
	"phenostats/pkg/groups"
	"phenostats/pkg/invert"
	"phenostats/pkg/npz"
	"phenostats/pkg/organvolumes"
	"phenostats/pkg/reconstruction"
	"phenostats/pkg/stats"
	"phenostats/pkg/visualization"
	"phenostats/pkg/volumeio"
)

// Analysis is one entry of the data section. Name selects the Kind.
type Analysis struct {
	Name  string
	WT    string
	Mut   string
	Tests []string

	// Subsample adds a block-reduced run with this chunk size.
	Subsample int

	// ROI and BlurFWHM only apply to kinds that allow normalisation.
	ROI      *assembly.ROI
	BlurFWHM float64
}

// Settings are shared by every analysis of a run.
type Settings struct {
	Mask      *models.Mask
	VoxelSize float64

	WTSubset  []string
	MutSubset []string

	// Formulas are comma-joined covariate lists, one backend run each.
	Formulas []string

	N1          bool
	ProjectName string

	// Groups is built from the first analysis when nil.
	Groups    *groups.Table
	WTGroups  string
	MutGroups string

	InvertConfig string

	// LabelMap enables per-organ annotation of the filtered maps.
	LabelMap   *models.Volume
	LabelNames map[int]string

	QCPreviews bool
}

// Orchestrator drives the per-analysis state machine.
type Orchestrator struct {
	Store    volumeio.Store
	Backends map[string]stats.ModelBackend

	// Inverter is optional; inversion also needs Settings.InvertConfig.
	Inverter invert.Inverter

	Settings Settings
}

// availability is implemented by backends that depend on an external tool.
type availability interface {
	Available() error
}

// Run processes the analyses in order. A failure is recorded in the summary
// and the run continues with the next analysis or formula.
func (o *Orchestrator) Run(ctx context.Context, rc *RunContext, analyses []Analysis) *Summary {
	sum := &Summary{}
	table := o.Settings.Groups
	if table == nil {
		var first *Analysis
		if len(analyses) > 0 {
			first = &analyses[0]
		}
		table = BuildGroups(o.Settings.WTGroups, o.Settings.MutGroups, first, o.Settings.WTSubset, o.Settings.MutSubset, rc.Log.Slog())
	}

	for _, a := range analyses {
		if err := ctx.Err(); err != nil {
			sum.Failed = append(sum.Failed, Failure{Analysis: a.Name, Stage: StageLoadData, Err: err})
			continue
		}
		o.runAnalysis(ctx, rc, a, table, sum)
	}
	return sum
}

func (o *Orchestrator) runAnalysis(ctx context.Context, rc *RunContext, a Analysis, table *groups.Table, sum *Summary) {
	dir := filepath.Join(rc.OutDir, a.Name)
	log, err := rc.Log.Tee(filepath.Join(dir, LogFile))
	if err != nil {
		sum.Failed = append(sum.Failed, Failure{Analysis: a.Name, Stage: StageLoadData, Err: err})
		rc.Metrics.AnalysisFinished(a.Name, "failed")
		return
	}
	defer log.Close()

	kind, ok := LookupKind(a.Name)
	if !ok {
		kind = Kind{Name: a.Name}
	}
	r := &analysisRun{
		o:     o,
		rc:    rc,
		a:     a,
		kind:  kind,
		dir:   dir,
		table: table,
		sum:   sum,
		log:   log.Slog().With("analysis", a.Name),
	}
	before := len(sum.Failed)
	r.log.Info("starting analysis", "wt", a.WT, "mut", a.Mut, "tests", strings.Join(a.Tests, ","))
	r.execute(ctx)

	status := "ok"
	if len(sum.Failed) > before {
		status = "failed"
	}
	rc.Metrics.AnalysisFinished(a.Name, status)
	r.log.Info("finished analysis", "status", status)
}

// analysisRun is the state of one analysis between LOAD_DATA and RELEASE.
type analysisRun struct {
	o     *Orchestrator
	rc    *RunContext
	a     Analysis
	kind  Kind
	dir   string
	table *groups.Table
	sum   *Summary
	log   *slog.Logger

	// toInvert collects result volumes by the directory they belong to.
	toInvert map[string][]string
	dirs     []string
}

// decodeFunc maps a masked result vector back to a full resolution volume.
type decodeFunc func(r *reconstruction.Reconstructor, vec []float64) (*models.Volume, error)

func (r *analysisRun) fail(test, formula string, stage Stage, err error) {
	f := Failure{Analysis: r.a.Name, Test: test, Formula: formula, Stage: stage, Err: err}
	r.log.Error("analysis step failed", "test", test, "formula", formula, "stage", stage, "error", err)
	r.sum.Failed = append(r.sum.Failed, f)
}

func (r *analysisRun) execute(ctx context.Context) {
	if err := os.MkdirAll(r.dir, 0755); err != nil {
		r.fail("", "", StageLoadData, err)
		return
	}
	if err := r.table.Write(filepath.Join(r.dir, GroupsFile)); err != nil {
		r.fail("", "", StageLoadData, err)
		return
	}
	if r.kind.OrganVolumes {
		r.organVolumes(ctx)
		return
	}

	ds, err := r.load(ctx)
	if err != nil {
		r.fail("", "", StageLoadData, err)
		return
	}
	defer r.release(ds)

	full := func(rec *reconstruction.Reconstructor, vec []float64) (*models.Volume, error) {
		return rec.ToVolume(vec, ds.Mask)
	}
	if ds.Selection != nil {
		full = func(rec *reconstruction.Reconstructor, vec []float64) (*models.Volume, error) {
			return rec.ToVolumeSubsampled(vec, ds.Selection, *ds.Spec)
		}
	}

	for _, test := range r.a.Tests {
		backend, ok := r.o.Backends[test]
		if !ok {
			r.fail(test, "", StageManyAgainstMany, fmt.Errorf("unknown test %q", test))
			continue
		}
		if av, ok := backend.(availability); ok {
			if err := av.Available(); err != nil {
				r.log.Warn("skipping test, backend not available", "test", test, "error", err)
				r.sum.Skipped = append(r.sum.Skipped, r.a.Name+"/"+test)
				continue
			}
		}

		for _, formula := range r.formulas(backend) {
			if err := ctx.Err(); err != nil {
				r.fail(test, formula, StageManyAgainstMany, err)
				return
			}
			if stage, err := r.test(ctx, backend, formula, ds.WT, ds.Mut, backend.Name(), full); err != nil {
				r.fail(test, formula, stage, err)
				continue
			}

			if sub := ds.Subsampled; sub != nil {
				decode := func(rec *reconstruction.Reconstructor, vec []float64) (*models.Volume, error) {
					return rec.ToVolumeSubsampled(vec, sub.Selection, sub.Spec)
				}
				name := SubsampledName(backend.Name(), sub.Spec.ChunkSize)
				if stage, err := r.test(ctx, backend, formula, sub.WT, sub.Mut, name, decode); err != nil {
					r.fail(test, formula, stage, err)
				}
			}
		}
	}

	if r.o.Settings.N1 && !r.kind.BlockInput {
		if err := r.oneAgainstMany(ds); err != nil {
			r.fail("n1", "", StageOneAgainstMany, err)
		}
	}
	r.invertResults(ctx)
}

func (r *analysisRun) formulas(b stats.ModelBackend) []string {
	if !b.UsesFormula() {
		return []string{""}
	}
	if len(r.o.Settings.Formulas) == 0 {
		return []string{stats.DefaultFormula}
	}
	return r.o.Settings.Formulas
}

func (r *analysisRun) load(ctx context.Context) (*assembly.Dataset, error) {
	defer r.rc.Metrics.ObserveStage(string(StageLoadData), time.Now())

	s := r.o.Settings
	opts := assembly.Options{
		Mask:      s.Mask,
		Order:     r.table.Order,
		WTSubset:  s.WTSubset,
		MutSubset: s.MutSubset,
		VoxelSize: s.VoxelSize,
		Subsample: r.a.Subsample,
	}
	if r.kind.Normalise {
		opts.ROI = r.a.ROI
		opts.BlurFWHM = r.a.BlurFWHM
	}
	if r.kind.BlockInput {
		spec, err := ReadBlockSpec(r.a.WT)
		if err != nil {
			return nil, err
		}
		opts.Blocks = &spec
		opts.Subsample = 0
	}

	asm := assembly.NewAssembler(r.o.Store, r.log)
	asm.OnLoad = func(pop assembly.Population) {
		r.rc.Metrics.SpecimenLoaded(string(pop))
	}
	ds, err := asm.Assemble(ctx, r.a.WT, r.a.Mut, opts)
	if err != nil {
		return nil, err
	}
	r.log.Info("data loaded", "stage", StageLoadData,
		"wildtypes", ds.WT.Len(), "mutants", ds.Mut.Len(),
		"voxels", ds.WT.Columns(), "memory", humanize.Bytes(ds.Bytes()))
	return ds, nil
}

// test runs one backend on one pair of matrices and writes its outputs.
// The returned stage names where a failure happened.
func (r *analysisRun) test(ctx context.Context, backend stats.ModelBackend, formula string, wt, mut *models.MaskedMatrix, statsName string, decode decodeFunc) (Stage, error) {
	metrics := r.rc.Metrics
	log := r.log.With("test", statsName, "formula", formula)

	start := time.Now()
	res, err := backend.Run(ctx, wt, mut, formula, r.table)
	metrics.ObserveStage(string(StageManyAgainstMany), start)
	if err != nil {
		return StageManyAgainstMany, err
	}
	metrics.VoxelsTested(r.a.Name, len(res.TStat))

	start = time.Now()
	if len(res.PVal) != len(res.TStat) {
		return StageCorrect, fmt.Errorf("%w: %d t-statistics, %d p-values", models.ErrSizeMismatch, len(res.TStat), len(res.PVal))
	}
	if res.QVal == nil {
		res.QVal = correction.BenjaminiHochberg(res.PVal)
	}
	filtered, err := correction.SignificanceFilter(correction.ClampTStat(res.TStat, correction.DefaultTStatLimit), res.QVal, correction.DefaultFDRCutoff)
	metrics.ObserveStage(string(StageCorrect), start)
	if err != nil {
		return StageCorrect, err
	}

	start = time.Now()
	clamped := reconstruction.NewReconstructor(correction.DefaultTStatLimit)
	raw := reconstruction.NewReconstructor(0)
	tvol, err := decode(clamped, res.TStat)
	if err != nil {
		return StageReconstruct, err
	}
	pvol, err := decode(raw, res.PVal)
	if err != nil {
		return StageReconstruct, err
	}
	fvol, err := decode(raw, filtered)
	if err != nil {
		return StageReconstruct, err
	}
	metrics.ObserveStage(string(StageReconstruct), start)

	start = time.Now()
	out := NewOutputPaths(r.dir, r.o.Settings.ProjectName, r.a.Name, statsName, formula)
	if err := os.MkdirAll(out.Dir, 0755); err != nil {
		return StageWrite, err
	}
	if err := npz.Write(out.Archive, npz.Array{Name: "tvals", Data: res.TStat}, npz.Array{Name: "qvals", Data: res.QVal}); err != nil {
		return StageWrite, err
	}
	for _, v := range []struct {
		vol  *models.Volume
		path string
	}{{tvol, out.TStats}, {pvol, out.PVals}, {fvol, out.Filtered}} {
		if err := r.save(v.vol, v.path); err != nil {
			return StageWrite, err
		}
	}
	r.sum.Written = append(r.sum.Written, out.TStats, out.PVals, out.Filtered)
	r.queueInversion(out.Dir, out.TStats, out.Filtered)

	if r.o.Settings.QCPreviews {
		prefix := strings.TrimSuffix(filepath.Base(out.Filtered), ".nrrd")
		if _, err := visualization.NewViewer(fvol, correction.DefaultTStatLimit).SaveOrthogonalPreviews(filepath.Join(out.Dir, qcDir), prefix); err != nil {
			log.Warn("cannot write QC previews", "error", err)
		}
	}
	if lm := r.o.Settings.LabelMap; lm != nil {
		r.annotate(lm, fvol, out, log)
	}
	metrics.ObserveStage(string(StageWrite), start)

	significant := 0
	for _, t := range filtered {
		if t != 0 {
			significant++
		}
	}
	log.Info("results written", "stage", StageWrite, "voxels", len(res.TStat), "significant", significant, "dir", out.Dir)
	return "", nil
}

func (r *analysisRun) annotate(labels, filtered *models.Volume, out OutputPaths, log *slog.Logger) {
	var m *models.Mask
	if filtered.Shape() == r.o.Settings.maskShape() {
		m = r.o.Settings.Mask
	}
	rows, err := organvolumes.Annotate(labels, filtered, m, r.o.Settings.LabelNames)
	if err != nil {
		log.Warn("cannot annotate results", "error", err)
		return
	}
	path := strings.TrimSuffix(out.Filtered, ".nrrd") + "_" + organvolumes.AnnotationFile
	if err := organvolumes.WriteAnnotations(path, rows); err != nil {
		log.Warn("cannot write annotation", "error", err)
	}
}

func (s Settings) maskShape() models.Shape {
	if s.Mask == nil {
		return models.Shape{}
	}
	return s.Mask.Shape()
}

func (r *analysisRun) oneAgainstMany(ds *assembly.Dataset) error {
	defer r.rc.Metrics.ObserveStage(string(StageOneAgainstMany), time.Now())

	var tester *stats.OneAgainstMany
	var err error
	if r.kind.Angular {
		tester, err = stats.NewOneAgainstManyAngular(ds.WT)
	} else {
		tester, err = stats.NewOneAgainstMany(ds.WT)
	}
	if err != nil {
		return err
	}

	rec := reconstruction.NewReconstructor(0)
	var written []string
	for i, row := range ds.Mut.Rows {
		scores, err := tester.ProcessMutant(row)
		if err != nil {
			return fmt.Errorf("%s: %w", ds.Mut.IDs[i], err)
		}
		vol, err := rec.ToVolume(scores, ds.Mask)
		if err != nil {
			return fmt.Errorf("%s: %w", ds.Mut.IDs[i], err)
		}
		path := N1Path(r.dir, r.a.Name, ds.Mut.Paths[i])
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return err
		}
		if err := r.save(vol, path); err != nil {
			return err
		}
		written = append(written, path)
	}
	r.sum.Written = append(r.sum.Written, written...)
	if len(written) > 0 {
		r.queueInversion(filepath.Dir(written[0]), written...)
	}
	r.log.Info("one against many maps written", "stage", StageOneAgainstMany, "mutants", len(written))
	return nil
}

func (r *analysisRun) save(vol *models.Volume, path string) error {
	if s := r.o.Settings.VoxelSize; s > 0 {
		vol.VoxelSize.X, vol.VoxelSize.Y, vol.VoxelSize.Z = s, s, s
	}
	return r.o.Store.Save(vol, path)
}

func (r *analysisRun) queueInversion(dir string, paths ...string) {
	if r.toInvert == nil {
		r.toInvert = make(map[string][]string)
	}
	if _, ok := r.toInvert[dir]; !ok {
		r.dirs = append(r.dirs, dir)
	}
	r.toInvert[dir] = append(r.toInvert[dir], paths...)
}

// invertResults maps every written result back onto the specimens. Results
// of each output directory go to its inverted subdirectory.
func (r *analysisRun) invertResults(ctx context.Context) {
	cfg := r.o.Settings.InvertConfig
	if cfg == "" || r.o.Inverter == nil || len(r.dirs) == 0 {
		return
	}
	defer r.rc.Metrics.ObserveStage(string(StageInvert), time.Now())

	for _, dir := range r.dirs {
		dst := filepath.Join(dir, invertedDir)
		if err := os.MkdirAll(dst, 0755); err != nil {
			r.fail("", "", StageInvert, err)
			return
		}
		written, err := invert.Files(ctx, r.o.Inverter, r.o.Store, cfg, dst, r.toInvert[dir])
		r.sum.Written = append(r.sum.Written, written...)
		if err != nil {
			r.fail("", "", StageInvert, err)
			if errors.Is(err, context.Canceled) {
				return
			}
			continue
		}
		r.log.Info("results inverted", "stage", StageInvert, "dir", dst, "volumes", len(written))
	}
}

func (r *analysisRun) release(ds *assembly.Dataset) {
	freed := ds.Release()
	r.toInvert, r.dirs = nil, nil
	r.log.Info("analysis data released", "stage", StageRelease, "memory", humanize.Bytes(freed))
}

func (r *analysisRun) organVolumes(ctx context.Context) {
	defer r.rc.Metrics.ObserveStage(string(StageManyAgainstMany), time.Now())

	an := &organvolumes.Analyser{Store: r.o.Store, Log: r.log, Names: r.o.Settings.LabelNames}
	res, err := an.Run(ctx, r.a.WT, r.a.Mut, r.dir, r.o.Settings.WTSubset, r.o.Settings.MutSubset)
	if err != nil {
		r.fail("", "", StageManyAgainstMany, err)
		return
	}
	r.rc.Metrics.VoxelsTested(r.a.Name, len(res.Labels))
	r.sum.Written = append(r.sum.Written,
		filepath.Join(r.dir, organvolumes.TTestFile),
		filepath.Join(r.dir, organvolumes.ZScoreFile))
}
