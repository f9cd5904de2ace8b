// Package metrics records counters and timings of a stats run on a private
// Prometheus registry, written out once as a node-exporter textfile.
package metrics

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "phenostats"

// Recorder holds the run metrics. A nil *Recorder records nothing.
type Recorder struct {
	registry *prometheus.Registry

	analyses  *prometheus.CounterVec
	voxels    *prometheus.CounterVec
	specimens *prometheus.CounterVec
	stages    *prometheus.HistogramVec
}

// NewRecorder creates a recorder with its own registry.
func NewRecorder() *Recorder {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)
	return &Recorder{
		registry: reg,

		// Labels: analysis, status (ok, failed, skipped)
		analyses: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "analyses_total",
			Help:      "Statistical analyses finished, by outcome",
		}, []string{"analysis", "status"}),

		voxels: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "voxels_tested_total",
			Help:      "Voxels passed to a model backend",
		}, []string{"analysis"}),

		specimens: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "specimens_loaded_total",
			Help:      "Specimen volumes loaded and masked",
		}, []string{"population"}),

		stages: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "stage_duration_seconds",
			Help:      "Time spent in each analysis stage",
			Buckets:   []float64{0.01, 0.1, 0.5, 1, 5, 15, 60, 300, 900},
		}, []string{"stage"}),
	}
}

// AnalysisFinished counts one analysis or formula outcome.
func (r *Recorder) AnalysisFinished(analysis, status string) {
	if r == nil {
		return
	}
	r.analyses.WithLabelValues(analysis, status).Inc()
}

// VoxelsTested adds n tested voxels.
func (r *Recorder) VoxelsTested(analysis string, n int) {
	if r == nil {
		return
	}
	r.voxels.WithLabelValues(analysis).Add(float64(n))
}

// SpecimenLoaded counts one loaded volume.
func (r *Recorder) SpecimenLoaded(population string) {
	if r == nil {
		return
	}
	r.specimens.WithLabelValues(population).Inc()
}

// ObserveStage records the time since start against stage.
func (r *Recorder) ObserveStage(stage string, start time.Time) {
	if r == nil {
		return
	}
	r.stages.WithLabelValues(stage).Observe(time.Since(start).Seconds())
}

// WriteTextfile writes every metric in the Prometheus text format.
func (r *Recorder) WriteTextfile(path string) error {
	if r == nil {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("creating metrics directory: %w", err)
	}
	if err := prometheus.WriteToTextfile(path, r.registry); err != nil {
		return fmt.Errorf("writing metrics: %w", err)
	}
	return nil
}
