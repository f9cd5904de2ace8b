package analysis

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"phenostats/internal/models"
	"phenostats/pkg/correction"
)

const (
	// LogFile is written in every analysis directory.
	LogFile = "phenostats.log"

	// GroupsFile is the combined groups table copied into each analysis
	// directory.
	GroupsFile = "combined_groups.csv"

	// BlockSpecFile describes the block grid of block feature inputs.
	BlockSpecFile = "glcm.yaml"

	n1Dir       = "n1"
	invertedDir = "inverted"
	qcDir       = "qc"
	statsSuffix = "_stats_"
)

// OutputPaths names the files written for one test result.
type OutputPaths struct {
	Dir      string
	Archive  string
	TStats   string
	PVals    string
	Filtered string
}

// NewOutputPaths builds the output names of one (analysis, test, formula)
// result under analysisDir. statsName is the backend name, with a
// "_subsampled_<chunk>" suffix for block-reduced runs.
func NewOutputPaths(analysisDir, project, analysis, statsName, formula string) OutputPaths {
	prefix := project + "_" + analysis
	f := ""
	if formula != "" {
		prefix += "_" + formula
		f = "_" + formula
	}
	dir := filepath.Join(analysisDir, statsName)
	base := prefix + "_" + statsName
	return OutputPaths{
		Dir:      dir,
		Archive:  filepath.Join(dir, base+"_t_q_stats.npz"),
		TStats:   filepath.Join(dir, base+"_Tstats"+f+statsSuffix+".nrrd"),
		PVals:    filepath.Join(dir, base+"_pvals"+f+statsSuffix+".nrrd"),
		Filtered: filepath.Join(dir, fmt.Sprintf("%s%s_FDR_%g%s.nrrd", base, f, correction.DefaultFDRCutoff, statsSuffix)),
	}
}

// SubsampledName is the stats name of a block-reduced run.
func SubsampledName(statsName string, chunk int) string {
	return fmt.Sprintf("%s_subsampled_%d", statsName, chunk)
}

// N1Path names the one-against-many map of one mutant specimen.
func N1Path(analysisDir, analysis, specimenPath string) string {
	return filepath.Join(analysisDir, n1Dir, analysis+statsSuffix+models.SpecimenID(specimenPath)+".nrrd")
}

type blockSpecFile struct {
	ChunkSize     int   `yaml:"chunksize"`
	OriginalShape []int `yaml:"original_shape"`
}

// ReadBlockSpec reads the block grid of a folder of block feature volumes.
// original_shape is given as (z, y, x).
func ReadBlockSpec(dir string) (models.SubsampleSpec, error) {
	data, err := os.ReadFile(filepath.Join(dir, BlockSpecFile))
	if err != nil {
		return models.SubsampleSpec{}, fmt.Errorf("%w: %v", models.ErrIO, err)
	}
	var f blockSpecFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return models.SubsampleSpec{}, fmt.Errorf("error parsing %s: %w", BlockSpecFile, err)
	}
	if f.ChunkSize < 1 || len(f.OriginalShape) != 3 {
		return models.SubsampleSpec{}, fmt.Errorf("%s needs chunksize and a 3D original_shape", BlockSpecFile)
	}
	return models.SubsampleSpec{
		ChunkSize: f.ChunkSize,
		OriginalShape: models.Shape{
			Depth:  f.OriginalShape[0],
			Height: f.OriginalShape[1],
			Width:  f.OriginalShape[2],
		},
	}, nil
}

// WriteBlockSpec stores spec in dir in the layout ReadBlockSpec expects.
func WriteBlockSpec(dir string, spec models.SubsampleSpec) error {
	s := spec.OriginalShape
	data, err := yaml.Marshal(blockSpecFile{ChunkSize: spec.ChunkSize, OriginalShape: []int{s.Depth, s.Height, s.Width}})
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(dir, BlockSpecFile), data, 0644)
}
