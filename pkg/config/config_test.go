package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const statsYAML = `
fixed_mask: mask.nrrd
formulas:
  - data ~ genotype + crl
n1: true
wt_groups: groups/wt.csv
invert_config_file: /abs/invert.yaml
backend:
  command: Rscript
  args: [lm.R]
  timeout: 90s
data:
  jacobians:
    wt: wt/jac
    mut: mut/jac
    tests: [LM]
  intensity:
    wt: wt/int
    mut: mut/int
    tests: [ttest, LM]
    subsample: 8
    blur_fwhm: 100
    normalisation_roi:
      start: [1, 2, 3]
      end: [4, 5, 6]
`

func TestLoadConfig(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "stats.yaml")
	require.NoError(t, os.WriteFile(path, []byte(statsYAML), 0644))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, filepath.Join(dir, "mask.nrrd"), cfg.FixedMask)
	assert.Equal(t, filepath.Join(dir, "groups/wt.csv"), cfg.WTGroups)
	assert.Equal(t, "/abs/invert.yaml", cfg.InvertConfigFile)
	assert.Empty(t, cfg.MutGroups)
	assert.Equal(t, filepath.Join(dir, DefaultLogFile), cfg.Log.File)

	assert.Equal(t, DefaultVoxelSize, cfg.VoxelSize)
	assert.Equal(t, DefaultProjectName, cfg.ProjectName)
	assert.True(t, cfg.N1)
	assert.Equal(t, []string{"data ~ genotype + crl"}, cfg.Formulas)
	assert.Equal(t, 90*time.Second, cfg.Backend.Timeout)
	assert.Equal(t, []string{"lm.R"}, cfg.Backend.Args)

	require.Len(t, cfg.Data, 2)
	assert.Equal(t, "jacobians", cfg.Data[0].Name)
	assert.Equal(t, "intensity", cfg.Data[1].Name)
	assert.Equal(t, filepath.Join(dir, "wt/int"), cfg.Data[1].WT)
	assert.Equal(t, []string{"ttest", "LM"}, cfg.Data[1].Tests)
	assert.Equal(t, 8, cfg.Data[1].Subsample)
	require.NotNil(t, cfg.Data[1].NormalisationROI)
	assert.Equal(t, [3]int{4, 5, 6}, cfg.Data[1].NormalisationROI.End)
	assert.Nil(t, cfg.Data[0].NormalisationROI)
}

func TestLoadConfigRequiresData(t *testing.T) {
	path := filepath.Join(t.TempDir(), "stats.yaml")
	require.NoError(t, os.WriteFile(path, []byte("voxel_size: 14\n"), 0644))

	_, err := LoadConfig(path)
	assert.ErrorIs(t, err, ErrNoData)

	_, err = LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestParseFormulas(t *testing.T) {
	got := ParseFormulas([]string{"data ~ genotype", "data ~ genotype + crl + sex", "nothing"})
	assert.Equal(t, []string{"genotype", "genotype,crl,sex"}, got)
	assert.Nil(t, ParseFormulas(nil))
}

func TestCreateDefaultConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "new", "stats.yaml")
	require.NoError(t, CreateDefaultConfigFile(path))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	require.Len(t, cfg.Data, 2)
	assert.Equal(t, "intensity", cfg.Data[0].Name)
	assert.Equal(t, []string{DefaultFormula}, cfg.Formulas)
	assert.Equal(t, []string{"genotype"}, ParseFormulas(cfg.Formulas))
}
