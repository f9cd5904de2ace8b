package analysis

import (
	"fmt"
	"strings"

	"github.com/google/uuid"

	"phenostats/pkg/logging"
	"phenostats/pkg/metrics"
)

// Stage is a step of the per-analysis state machine.
type Stage string

const (
	StageLoadData        Stage = "LOAD_DATA"
	StageManyAgainstMany Stage = "RUN_MANY_AGAINST_MANY"
	StageCorrect         Stage = "CORRECT"
	StageReconstruct     Stage = "RECONSTRUCT"
	StageWrite           Stage = "WRITE"
	StageOneAgainstMany  Stage = "RUN_ONE_AGAINST_MANY"
	StageInvert          Stage = "INVERT"
	StageRelease         Stage = "RELEASE"
)

// RunContext carries the per-run sinks into every analysis. Nothing in the
// pipeline logs or records metrics through globals.
type RunContext struct {
	RunID   string
	OutDir  string
	Log     *logging.Logger
	Metrics *metrics.Recorder
}

// NewRunContext creates a context with a fresh run id. A nil log discards.
func NewRunContext(outDir string, log *logging.Logger, rec *metrics.Recorder) *RunContext {
	if log == nil {
		log = logging.Discard()
	}
	id := uuid.NewString()
	return &RunContext{
		RunID:   id,
		OutDir:  outDir,
		Log:     log.With("run_id", id),
		Metrics: rec,
	}
}

// Failure records an analysis, test or formula that did not complete.
type Failure struct {
	Analysis string
	Test     string
	Formula  string
	Stage    Stage
	Err      error
}

func (f Failure) Error() string {
	parts := []string{f.Analysis}
	if f.Test != "" {
		parts = append(parts, f.Test)
	}
	if f.Formula != "" {
		parts = append(parts, f.Formula)
	}
	return fmt.Sprintf("%s at %s: %v", strings.Join(parts, "/"), f.Stage, f.Err)
}

func (f Failure) Unwrap() error { return f.Err }

// Summary is the outcome of a run.
type Summary struct {
	// Written lists every result volume path written.
	Written []string

	// Skipped lists tests left out because their backend is not available.
	Skipped []string

	Failed []Failure
}

// OK reports whether every analysis completed.
func (s *Summary) OK() bool {
	return len(s.Failed) == 0
}
