// Package assembly builds the masked specimen matrices that the statistics
// backends consume from folders of wildtype and mutant volumes.
package assembly

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"

	"phenostats/internal/models"
	"phenostats/pkg/mask"
	"phenostats/pkg/subsample"
	"phenostats/pkg/volumeio"
)

// Population identifies the wildtype or mutant half of a dataset.
type Population string

const (
	PopulationWT  Population = "wildtype"
	PopulationMut Population = "mutant"
)

// Options controls how a dataset is assembled.
type Options struct {
	// Mask selects the voxels to test. A nil mask covers the whole volume.
	Mask *models.Mask

	// Order is the canonical specimen order, usually the groups file rows.
	Order []string

	WTSubset  []string
	MutSubset []string

	// ROI enables intensity normalisation before masking.
	ROI *ROI

	// BlurFWHM enables Gaussian smoothing; VoxelSize is in the same unit.
	BlurFWHM  float64
	VoxelSize float64

	// Subsample adds a block-reduced copy of the data for a secondary run.
	Subsample int

	// Blocks marks the input volumes as block feature vectors laid out in
	// block traversal order over Blocks.OriginalShape.
	Blocks *models.SubsampleSpec
}

// Dataset holds the masked matrices of both populations.
type Dataset struct {
	WT  *models.MaskedMatrix
	Mut *models.MaskedMatrix

	// Shape is the full resolution shape the vectors decode into.
	Shape models.Shape
	Mask  *models.Mask

	// Selection is the block validity sequence when the inputs are block
	// vectors (Options.Blocks) and nil otherwise.
	Selection []bool
	Spec      *models.SubsampleSpec

	// Subsampled is set when Options.Subsample requested a block-reduced copy.
	Subsampled *SubsampledData
}

// SubsampledData is the block-reduced view of a Dataset.
type SubsampledData struct {
	Spec      models.SubsampleSpec
	Selection []bool
	WT        *models.MaskedMatrix
	Mut       *models.MaskedMatrix
}

// Bytes is the approximate memory held by the matrices.
func (d *Dataset) Bytes() uint64 {
	if d == nil {
		return 0
	}
	n := d.WT.Bytes() + d.Mut.Bytes()
	if d.Subsampled != nil {
		n += d.Subsampled.WT.Bytes() + d.Subsampled.Mut.Bytes()
	}
	return n
}

// Release drops the matrices and returns the approximate bytes freed.
func (d *Dataset) Release() uint64 {
	n := d.Bytes()
	if d != nil {
		d.WT, d.Mut, d.Subsampled = nil, nil, nil
	}
	return n
}

// Assembler loads volumes through a Store and masks them.
type Assembler struct {
	Store volumeio.Store
	Log   *slog.Logger

	// OnLoad, when set, is called after each specimen is loaded.
	OnLoad func(pop Population)
}

// NewAssembler returns an assembler reading from store.
func NewAssembler(store volumeio.Store, log *slog.Logger) *Assembler {
	if log == nil {
		log = slog.Default()
	}
	return &Assembler{Store: store, Log: log}
}

// Assemble lists, filters, loads and masks both populations.
func (a *Assembler) Assemble(ctx context.Context, wtDir, mutDir string, opts Options) (*Dataset, error) {
	wtPaths, err := a.paths(wtDir, opts.Order, opts.WTSubset)
	if err != nil {
		return nil, fmt.Errorf("wildtype: %w", err)
	}
	mutPaths, err := a.paths(mutDir, opts.Order, opts.MutSubset)
	if err != nil {
		return nil, fmt.Errorf("mutant: %w", err)
	}

	ds := &Dataset{Mask: opts.Mask, Spec: opts.Blocks}
	if opts.Blocks != nil {
		ds.Shape = opts.Blocks.OriginalShape
		if ds.Mask == nil {
			ds.Mask = models.NewMask(ds.Shape)
		}
		flags, err := subsample.BlockMask(ds.Mask, *opts.Blocks)
		if err != nil {
			return nil, err
		}
		ds.Selection = subsample.Selection(flags)
	}

	if ds.WT, err = a.load(ctx, PopulationWT, wtPaths, ds, opts); err != nil {
		return nil, err
	}
	if ds.Mut, err = a.load(ctx, PopulationMut, mutPaths, ds, opts); err != nil {
		return nil, err
	}
	if ds.WT.Columns() != ds.Mut.Columns() {
		return nil, fmt.Errorf("%w: wildtype rows have %d values, mutant rows %d", models.ErrSizeMismatch, ds.WT.Columns(), ds.Mut.Columns())
	}
	return ds, nil
}

func (a *Assembler) paths(dir string, order, subset []string) ([]string, error) {
	all, err := ListSpecimens(dir, order)
	if err != nil {
		return nil, err
	}
	if len(all) == 0 {
		return nil, fmt.Errorf("%w: no volumes found in %s", models.ErrNoMatchingSpecimens, dir)
	}
	return SelectSubset(all, subset)
}

// load reads every path of one population. Unreadable volumes are skipped;
// the population fails only when none can be read.
func (a *Assembler) load(ctx context.Context, pop Population, paths []string, ds *Dataset, opts Options) (*models.MaskedMatrix, error) {
	out := &models.MaskedMatrix{}
	var lastErr error
	for _, path := range paths {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		row, sub, err := a.loadOne(path, ds, opts)
		if errors.Is(err, models.ErrIO) {
			a.Log.Warn("skipping unreadable volume", "population", pop, "path", path, "error", err)
			lastErr = err
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("%s: %w", filepath.Base(path), err)
		}
		out.Append(models.SpecimenID(path), path, row)
		if sub != nil {
			ds.Subsampled.appendRow(pop, models.SpecimenID(path), path, sub)
		}
		if a.OnLoad != nil {
			a.OnLoad(pop)
		}
	}
	if out.Len() == 0 {
		return nil, fmt.Errorf("%w: all %d %s volumes failed to load: %v", models.ErrIO, len(paths), pop, lastErr)
	}
	a.Log.Info("loaded population", "population", pop, "specimens", out.Len(), "voxels", out.Columns())
	return out, nil
}

func (a *Assembler) loadOne(path string, ds *Dataset, opts Options) (row, sub []float64, err error) {
	vol, err := a.Store.Load(path)
	if err != nil {
		return nil, nil, err
	}
	if err := vol.Validate(); err != nil {
		return nil, nil, fmt.Errorf("%w: %v", models.ErrIO, err)
	}

	if ds.Selection != nil {
		row, err = mask.EncodeFlat(vol.Data, ds.Selection)
		return row, nil, err
	}

	vol = VectorMagnitude(vol)
	if opts.ROI != nil {
		if vol, err = Normalise(vol, *opts.ROI); err != nil {
			return nil, nil, err
		}
	}
	if opts.BlurFWHM > 0 {
		vol = Smooth(vol, opts.BlurFWHM, opts.VoxelSize)
	}

	if ds.Mask == nil {
		ds.Mask = models.NewMask(vol.Shape())
	}
	if ds.Shape == (models.Shape{}) {
		ds.Shape = ds.Mask.Shape()
	}
	row, err = mask.Encode(vol, ds.Mask)
	if err != nil {
		return nil, nil, err
	}

	if opts.Subsample > 0 {
		if ds.Subsampled == nil {
			spec := models.SubsampleSpec{ChunkSize: opts.Subsample, OriginalShape: ds.Shape}
			flags, err := subsample.BlockMask(ds.Mask, spec)
			if err != nil {
				return nil, nil, err
			}
			ds.Subsampled = &SubsampledData{
				Spec:      spec,
				Selection: subsample.Selection(flags),
				WT:        &models.MaskedMatrix{},
				Mut:       &models.MaskedMatrix{},
			}
		}
		blocks, err := subsample.Reduce(vol, ds.Subsampled.Spec)
		if err != nil {
			return nil, nil, err
		}
		if sub, err = mask.EncodeFlat(blocks, ds.Subsampled.Selection); err != nil {
			return nil, nil, err
		}
	}
	return row, sub, nil
}

func (s *SubsampledData) appendRow(pop Population, id, path string, row []float64) {
	if pop == PopulationWT {
		s.WT.Append(id, path, row)
		return
	}
	s.Mut.Append(id, path, row)
}
