package main

import (
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"phenostats/internal/models"
	"phenostats/pkg/analysis"
	"phenostats/pkg/assembly"
	"phenostats/pkg/config"
	"phenostats/pkg/groups"
	"phenostats/pkg/invert"
	"phenostats/pkg/logging"
	"phenostats/pkg/metrics"
	"phenostats/pkg/organvolumes"
	"phenostats/pkg/stats"
	"phenostats/pkg/volumeio"
)

func runInitConfig(_ *cobra.Command, args []string) error {
	if err := config.CreateDefaultConfigFile(args[0]); err != nil {
		return err
	}
	fmt.Printf("Example config written to %s\n", args[0])
	return nil
}

func runStats(cmd *cobra.Command, _ []string) error {
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return err
	}
	if numCores > 0 {
		cfg.NumCores = numCores
	}
	if logLevel != "" {
		cfg.Log.Level = logLevel
	}
	if metricsFile != "" {
		cfg.MetricsFile = metricsFile
	}
	out := outDir
	if out == "" {
		out = filepath.Dir(configPath)
	}

	logger, err := logging.New(logging.Config{
		Level:      cfg.Log.Level,
		File:       cfg.Log.File,
		MaxSizeMB:  cfg.Log.MaxSizeMB,
		MaxAgeDays: cfg.Log.MaxAgeDays,
	})
	if err != nil {
		return err
	}
	defer logger.Close()
	log := logger.Slog()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
	defer stop()

	fmt.Println("================================")
	fmt.Println("PHENOSTATS VOXEL-WISE PHENOTYPE STATISTICS")
	fmt.Println("================================")

	store := volumeio.NRRDStore{Compress: true}
	settings, err := buildSettings(cfg, store, log)
	if err != nil {
		return err
	}
	o := &analysis.Orchestrator{
		Store:    store,
		Backends: buildBackends(cfg, log),
		Inverter: buildInverter(cfg, store, log),
		Settings: settings,
	}

	rec := metrics.NewRecorder()
	rc := analysis.NewRunContext(out, logger, rec)
	rc.Log.Slog().Info("starting stats run", "config", configPath, "out", out, "cores", cfg.NumCores, "analyses", len(cfg.Data))

	startTime := time.Now()
	sum := o.Run(ctx, rc, analyses(cfg, log))
	elapsed := time.Since(startTime)

	if cfg.MetricsFile != "" {
		if err := rec.WriteTextfile(cfg.MetricsFile); err != nil {
			log.Warn("cannot write metrics file", "path", cfg.MetricsFile, "error", err)
		}
	}

	fmt.Printf("\nStats finished in %.2f seconds\n", elapsed.Seconds())
	fmt.Printf("Volumes written: %d\n", len(sum.Written))
	if len(sum.Skipped) > 0 {
		fmt.Printf("Tests skipped: %s\n", strings.Join(sum.Skipped, ", "))
	}
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("stats run interrupted: %w", err)
	}
	if !sum.OK() {
		for _, f := range sum.Failed {
			fmt.Fprintf(os.Stderr, "  %v\n", f)
		}
		return fmt.Errorf("%d analysis steps failed", len(sum.Failed))
	}
	return nil
}

func buildSettings(cfg *config.Config, store volumeio.Store, log *slog.Logger) (analysis.Settings, error) {
	s := analysis.Settings{
		VoxelSize:    cfg.VoxelSize,
		Formulas:     config.ParseFormulas(cfg.Formulas),
		N1:           cfg.N1,
		ProjectName:  cfg.ProjectName,
		WTGroups:     cfg.WTGroups,
		MutGroups:    cfg.MutGroups,
		InvertConfig: cfg.InvertConfigFile,
		QCPreviews:   cfg.QCPreviews,
	}

	if cfg.FixedMask == "" {
		log.Warn("no fixed_mask set, testing every voxel")
	} else if vol, err := store.Load(cfg.FixedMask); err != nil {
		log.Warn("cannot load mask, testing every voxel", "path", cfg.FixedMask, "error", err)
	} else {
		s.Mask = models.MaskFromVolume(vol)
		log.Info("mask loaded", "path", cfg.FixedMask, "voxels", s.Mask.Count())
	}

	var err error
	if cfg.WTSubsetFile != "" {
		if s.WTSubset, err = groups.ReadSubset(cfg.WTSubsetFile); err != nil {
			return s, err
		}
	}
	if cfg.MutSubsetFile != "" {
		if s.MutSubset, err = groups.ReadSubset(cfg.MutSubsetFile); err != nil {
			return s, err
		}
	}

	if cfg.LabelMap != "" {
		if s.LabelMap, err = store.Load(cfg.LabelMap); err != nil {
			return s, fmt.Errorf("label map: %w", err)
		}
	}
	if cfg.LabelNames != "" {
		if s.LabelNames, err = organvolumes.LoadNames(cfg.LabelNames); err != nil {
			return s, err
		}
	}
	return s, nil
}

func buildBackends(cfg *config.Config, log *slog.Logger) map[string]stats.ModelBackend {
	backends := map[string]stats.ModelBackend{
		"ttest": stats.TTest{Workers: cfg.NumCores},
		"LM":    stats.LinearModel{Workers: cfg.NumCores},
	}
	if b := cfg.Backend; b.Command != "" {
		backends["LM"] = &stats.ExecBackend{
			Command: b.Command,
			Args:    b.Args,
			Timeout: b.Timeout,
			Log:     log,
		}
	}
	return backends
}

func buildInverter(cfg *config.Config, store volumeio.Store, log *slog.Logger) invert.Inverter {
	if cfg.InvertConfigFile == "" {
		return nil
	}
	c := cfg.Inverter
	if c.Command == "" {
		log.Warn("invert_config_file is set but no inverter command is configured, results will not be inverted")
		return nil
	}
	return &invert.ExecInverter{
		Command: c.Command,
		Args:    c.Args,
		Timeout: c.Timeout,
		Store:   store,
		Log:     log,
	}
}

func analyses(cfg *config.Config, log *slog.Logger) []analysis.Analysis {
	out := make([]analysis.Analysis, 0, len(cfg.Data))
	for _, d := range cfg.Data {
		if _, ok := analysis.LookupKind(d.Name); !ok {
			log.Warn("unknown analysis type, treating data as scalar volumes", "analysis", d.Name, "known", strings.Join(analysis.KindNames(), ","))
		}
		a := analysis.Analysis{
			Name:      d.Name,
			WT:        d.WT,
			Mut:       d.Mut,
			Tests:     d.Tests,
			Subsample: d.Subsample,
			BlurFWHM:  d.BlurFWHM,
		}
		if r := d.NormalisationROI; r != nil {
			a.ROI = &assembly.ROI{Start: r.Start, End: r.End}
		}
		out = append(out, a)
	}
	return out
}
