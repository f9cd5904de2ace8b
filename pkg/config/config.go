// Package config provides configuration loading and management for phenostats.
// It handles loading the stats YAML file and provides default values.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	// DefaultVoxelSize is used when the config does not set voxel_size.
	DefaultVoxelSize = 28.0

	// DefaultProjectName prefixes output files when project_name is unset.
	DefaultProjectName = "_"

	// DefaultFormula compares genotypes only.
	DefaultFormula = "data ~ genotype"

	// DefaultLogFile is created next to the config file.
	DefaultLogFile = "stats.log"
)

// ErrNoData is returned when a config has no data section.
var ErrNoData = errors.New("stats config needs a 'data' entry")

// Config represents the stats configuration loaded from YAML. Paths are
// relative to the directory of the config file until LoadConfig resolves
// them.
type Config struct {
	// FixedMask is the population average mask. Voxels outside it are not tested.
	FixedMask string `yaml:"fixed_mask"`

	// VoxelSize is the physical voxel edge length, used for smoothing.
	VoxelSize float64 `yaml:"voxel_size"`

	// Formulas are R-style model formulas such as "data ~ genotype + crl".
	Formulas []string `yaml:"formulas"`

	// N1 enables the one-against-many pass.
	N1 bool `yaml:"n1"`

	ProjectName string `yaml:"project_name"`

	Log LogConfig `yaml:"log"`

	WTGroups      string `yaml:"wt_groups,omitempty"`
	MutGroups     string `yaml:"mut_groups,omitempty"`
	WTSubsetFile  string `yaml:"wt_subset_file,omitempty"`
	MutSubsetFile string `yaml:"mut_subset_file,omitempty"`

	InvertConfigFile string `yaml:"invert_config_file,omitempty"`

	// LabelMap and LabelNames enable organ annotation of filtered results.
	LabelMap   string `yaml:"label_map,omitempty"`
	LabelNames string `yaml:"label_names,omitempty"`

	// NumCores bounds the workers used per statistical test.
	NumCores int `yaml:"num_cores"`

	MetricsFile string `yaml:"metrics_file,omitempty"`

	// QCPreviews writes PNG mid-slice previews of each filtered result.
	QCPreviews bool `yaml:"qc_previews"`

	// Backend runs formula models out of process when Command is set.
	Backend CommandConfig `yaml:"backend,omitempty"`

	// Inverter maps results back onto specimens when invert_config_file is set.
	Inverter CommandConfig `yaml:"inverter,omitempty"`

	Data DataSection `yaml:"data"`
}

// LogConfig controls the run log.
type LogConfig struct {
	File       string `yaml:"file"`
	Level      string `yaml:"level"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxAgeDays int    `yaml:"max_age_days"`
}

// CommandConfig describes an external program.
type CommandConfig struct {
	Command string        `yaml:"command,omitempty"`
	Args    []string      `yaml:"args,omitempty"`
	Timeout time.Duration `yaml:"timeout,omitempty"`
}

// ROI is a normalisation box in voxel coordinates (x, y, z), end exclusive.
type ROI struct {
	Start [3]int `yaml:"start"`
	End   [3]int `yaml:"end"`
}

// Analysis configures one data type.
type Analysis struct {
	WT    string   `yaml:"wt"`
	Mut   string   `yaml:"mut"`
	Tests []string `yaml:"tests"`

	// Subsample adds a block-reduced run with this chunk size.
	Subsample int `yaml:"subsample,omitempty"`

	NormalisationROI *ROI    `yaml:"normalisation_roi,omitempty"`
	BlurFWHM         float64 `yaml:"blur_fwhm,omitempty"`
}

// NamedAnalysis is one entry of the data section.
type NamedAnalysis struct {
	Name string
	Analysis
}

// DataSection keeps the analyses in the order they appear in the file.
type DataSection []NamedAnalysis

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *DataSection) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.MappingNode {
		return fmt.Errorf("line %d: data must be a mapping of analysis names", node.Line)
	}
	out := make(DataSection, 0, len(node.Content)/2)
	for i := 0; i+1 < len(node.Content); i += 2 {
		var a Analysis
		if err := node.Content[i+1].Decode(&a); err != nil {
			return fmt.Errorf("analysis %s: %w", node.Content[i].Value, err)
		}
		out = append(out, NamedAnalysis{Name: node.Content[i].Value, Analysis: a})
	}
	*d = out
	return nil
}

// MarshalYAML implements yaml.Marshaler.
func (d DataSection) MarshalYAML() (interface{}, error) {
	node := &yaml.Node{Kind: yaml.MappingNode}
	for _, a := range d {
		value := &yaml.Node{}
		if err := value.Encode(a.Analysis); err != nil {
			return nil, err
		}
		node.Content = append(node.Content, &yaml.Node{Kind: yaml.ScalarNode, Value: a.Name}, value)
	}
	return node, nil
}

// DefaultConfig returns a configuration with default values
func DefaultConfig() *Config {
	cfg := &Config{}

	cfg.VoxelSize = DefaultVoxelSize
	cfg.Formulas = []string{DefaultFormula}
	cfg.ProjectName = DefaultProjectName
	cfg.NumCores = runtime.NumCPU() // Use all available cores by default

	cfg.Log.Level = "info"
	cfg.Log.MaxSizeMB = 100
	cfg.Log.MaxAgeDays = 30

	return cfg
}

// exampleConfig is written by CreateDefaultConfigFile.
func exampleConfig() *Config {
	cfg := DefaultConfig()
	cfg.FixedMask = "mask.nrrd"
	cfg.N1 = true
	cfg.Data = DataSection{
		{Name: "intensity", Analysis: Analysis{WT: "wildtype/intensity", Mut: "mutant/intensity", Tests: []string{"ttest", "LM"}}},
		{Name: "jacobians", Analysis: Analysis{WT: "wildtype/jacobians", Mut: "mutant/jacobians", Tests: []string{"LM"}}},
	}
	return cfg
}

// LoadConfig loads configuration from a YAML file and resolves every path
// against the directory holding it.
func LoadConfig(configPath string) (*Config, error) {
	cfg := DefaultConfig()

	// Read config file
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	// Parse YAML
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("error parsing config file: %w", err)
	}
	if len(cfg.Data) == 0 {
		return nil, ErrNoData
	}

	if cfg.VoxelSize <= 0 {
		cfg.VoxelSize = DefaultVoxelSize
	}
	if cfg.ProjectName == "" {
		cfg.ProjectName = DefaultProjectName
	}
	if cfg.NumCores < 1 {
		cfg.NumCores = runtime.NumCPU()
	}
	if cfg.Log.File == "" {
		cfg.Log.File = DefaultLogFile
	}

	dir := filepath.Dir(configPath)
	for _, p := range []*string{
		&cfg.FixedMask, &cfg.WTGroups, &cfg.MutGroups, &cfg.WTSubsetFile, &cfg.MutSubsetFile,
		&cfg.InvertConfigFile, &cfg.LabelMap, &cfg.LabelNames, &cfg.MetricsFile, &cfg.Log.File,
	} {
		*p = resolve(dir, *p)
	}
	for i := range cfg.Data {
		cfg.Data[i].WT = resolve(dir, cfg.Data[i].WT)
		cfg.Data[i].Mut = resolve(dir, cfg.Data[i].Mut)
	}
	return cfg, nil
}

// resolve makes p relative to dir. Empty and absolute paths are kept.
func resolve(dir, p string) string {
	if p == "" || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(dir, p)
}

// ParseFormulas reduces "data ~ a + b" formulas to the comma separated
// independent variables "a,b".
func ParseFormulas(formulas []string) []string {
	var out []string
	for _, f := range formulas {
		fields := strings.Fields(f)
		var terms []string
		for i := 2; i < len(fields); i += 2 {
			terms = append(terms, fields[i])
		}
		if len(terms) > 0 {
			out = append(out, strings.Join(terms, ","))
		}
	}
	return out
}

// SaveConfig saves the configuration to a YAML file
func SaveConfig(cfg *Config, configPath string) error {
	// Create directory if it doesn't exist
	dir := filepath.Dir(configPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("error creating config directory: %w", err)
	}

	// Marshal config to YAML
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("error marshaling config: %w", err)
	}

	// Write to file
	if err := os.WriteFile(configPath, data, 0644); err != nil {
		return fmt.Errorf("error writing config file: %w", err)
	}

	return nil
}

// CreateDefaultConfigFile writes an example configuration at the specified path
func CreateDefaultConfigFile(configPath string) error {
	return SaveConfig(exampleConfig(), configPath)
}
