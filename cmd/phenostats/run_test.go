package main

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"phenostats/internal/models"
	"phenostats/pkg/config"
	"phenostats/pkg/logging"
	"phenostats/pkg/stats"
	"phenostats/pkg/volumeio"
)

func TestBuildBackends(t *testing.T) {
	log := logging.Discard().Slog()
	cfg := config.DefaultConfig()
	cfg.NumCores = 3

	backends := buildBackends(cfg, log)
	assert.Equal(t, stats.TTest{Workers: 3}, backends["ttest"])
	assert.Equal(t, stats.LinearModel{Workers: 3}, backends["LM"])

	cfg.Backend = config.CommandConfig{Command: "Rscript", Args: []string{"lm.R"}, Timeout: time.Minute}
	backends = buildBackends(cfg, log)
	exec, ok := backends["LM"].(*stats.ExecBackend)
	require.True(t, ok)
	assert.Equal(t, "Rscript", exec.Command)
	assert.Equal(t, time.Minute, exec.Timeout)
}

func TestBuildInverter(t *testing.T) {
	log := logging.Discard().Slog()
	cfg := config.DefaultConfig()
	assert.Nil(t, buildInverter(cfg, volumeio.NRRDStore{}, log))

	cfg.InvertConfigFile = "invert.yaml"
	assert.Nil(t, buildInverter(cfg, volumeio.NRRDStore{}, log))

	cfg.Inverter.Command = "invert_volumes"
	assert.NotNil(t, buildInverter(cfg, volumeio.NRRDStore{}, log))
}

func TestBuildSettings(t *testing.T) {
	log := logging.Discard().Slog()
	dir := t.TempDir()
	store := volumeio.NRRDStore{}

	cfg := config.DefaultConfig()
	cfg.FixedMask = filepath.Join(dir, "missing.nrrd")
	cfg.Formulas = []string{"data ~ genotype + crl"}
	cfg.WTSubsetFile = filepath.Join(dir, "wt_subset.txt")
	require.NoError(t, os.WriteFile(cfg.WTSubsetFile, []byte("wt1\nwt2.nrrd\n"), 0644))

	s, err := buildSettings(cfg, store, log)
	require.NoError(t, err)
	assert.Nil(t, s.Mask)
	assert.Equal(t, []string{"genotype,crl"}, s.Formulas)
	assert.Equal(t, []string{"wt1", "wt2"}, s.WTSubset)
	assert.Equal(t, config.DefaultProjectName, s.ProjectName)

	maskVol := models.NewVolume(models.Shape{Depth: 2, Height: 2, Width: 2})
	maskVol.Data[0] = 1
	require.NoError(t, store.Save(maskVol, cfg.FixedMask))
	s, err = buildSettings(cfg, store, log)
	require.NoError(t, err)
	require.NotNil(t, s.Mask)
	assert.Equal(t, 1, s.Mask.Count())

	cfg.MutSubsetFile = filepath.Join(dir, "nope.txt")
	_, err = buildSettings(cfg, store, log)
	assert.Error(t, err)
}

func TestAnalyses(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Data = config.DataSection{
		{Name: "intensity", Analysis: config.Analysis{
			WT: "/wt", Mut: "/mut", Tests: []string{"LM"},
			NormalisationROI: &config.ROI{Start: [3]int{1, 2, 3}, End: [3]int{4, 5, 6}},
			BlurFWHM:         100,
		}},
		{Name: "jacobians", Analysis: config.Analysis{WT: "/wtj", Mut: "/mutj", Tests: []string{"ttest"}, Subsample: 8}},
	}

	got := analyses(cfg, logging.Discard().Slog())
	require.Len(t, got, 2)
	assert.Equal(t, "intensity", got[0].Name)
	require.NotNil(t, got[0].ROI)
	assert.Equal(t, [3]int{4, 5, 6}, got[0].ROI.End)
	assert.Equal(t, 100.0, got[0].BlurFWHM)
	assert.Nil(t, got[1].ROI)
	assert.Equal(t, 8, got[1].Subsample)
}

func TestInitConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "stats.yaml")
	require.NoError(t, runInitConfig(nil, []string{path}))

	cfg, err := config.LoadConfig(path)
	require.NoError(t, err)
	assert.NotEmpty(t, cfg.Data)
}
