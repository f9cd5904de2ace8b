package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	rootCmd = &cobra.Command{
		Use:   "phenostats",
		Short: "Voxel-wise phenotype statistics for registered mouse embryo volumes",
		Long: `phenostats compares wildtype and mutant volumes in a common space
voxel by voxel and writes t-statistic, p-value and FDR-filtered maps.`,
		SilenceUsage: true,
	}

	runCmd = &cobra.Command{
		Use:   "run",
		Short: "Run every analysis listed in a stats config",
		RunE:  runStats, // Defined in run.go
	}

	initConfigCmd = &cobra.Command{
		Use:   "init-config [path]",
		Short: "Write an example stats config",
		Args:  cobra.ExactArgs(1),
		RunE:  runInitConfig, // Defined in run.go
	}
)

var (
	configPath  string
	outDir      string
	numCores    int
	logLevel    string
	metricsFile string
)

func init() {
	runCmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to the stats config YAML")
	runCmd.Flags().StringVarP(&outDir, "out", "o", "", "Output directory (default: the config file directory)")
	runCmd.Flags().IntVar(&numCores, "cores", 0, "Number of CPU cores to use (default: num_cores from the config)")
	runCmd.Flags().StringVar(&logLevel, "log-level", "", "Log level: debug, info, warn or error")
	runCmd.Flags().StringVar(&metricsFile, "metrics-file", "", "Write run metrics in Prometheus text format to this file")
	_ = runCmd.MarkFlagRequired("config")

	rootCmd.AddCommand(runCmd, initConfigCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
