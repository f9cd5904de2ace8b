// Package organvolumes compares per-organ voxel counts taken from inverted
// label maps between wildtype and mutant specimens.
package organvolumes

import (
	"context"
	"encoding/csv"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"phenostats/internal/models"
	"phenostats/pkg/assembly"
	"phenostats/pkg/correction"
	"phenostats/pkg/stats"
	"phenostats/pkg/volumeio"
)

const (
	// LabelPrefix is prepended to specimen ids by the label inversion step.
	LabelPrefix = "seg_"

	TTestFile  = "Organ_volume_ttest.csv"
	ZScoreFile = "Organ_volume_z_scores.csv"
)

// Result holds one row per label, in ascending label order.
type Result struct {
	Labels    []int
	Names     []string
	TStat     []float64
	PVal      []float64
	Corrected []float64

	// ZScores has one row per mutant specimen and one column per label.
	Specimens []string
	ZScores   [][]float64
}

// CountLabels returns the number of voxels carrying each non-zero label.
func CountLabels(vol *models.Volume) map[int]float64 {
	counts := make(map[int]float64)
	for _, v := range vol.Data {
		if label := int(v); label != 0 {
			counts[label]++
		}
	}
	return counts
}

// Analyser runs the organ volume comparison.
type Analyser struct {
	Store volumeio.Store
	Log   *slog.Logger

	// Names maps label numbers to organ names; missing labels use label_<n>.
	Names map[int]string
}

// Run counts labels for every specimen in wtDir and mutDir, runs a Welch
// t-test per label, applies Bonferroni correction and writes the CSV
// reports to outDir. Subset ids are matched with LabelPrefix prepended.
func (a *Analyser) Run(ctx context.Context, wtDir, mutDir, outDir string, wtSubset, mutSubset []string) (*Result, error) {
	wt, err := a.population(ctx, wtDir, wtSubset)
	if err != nil {
		return nil, fmt.Errorf("wildtype: %w", err)
	}
	mut, err := a.population(ctx, mutDir, mutSubset)
	if err != nil {
		return nil, fmt.Errorf("mutant: %w", err)
	}

	labels := unionLabels(wt, mut)
	wtMat := toMatrix(wt, labels)
	mutMat := toMatrix(mut, labels)

	tt, err := stats.TTest{}.Run(ctx, wtMat, mutMat, "", nil)
	if err != nil {
		return nil, err
	}
	res := &Result{
		Labels:    labels,
		TStat:     tt.TStat,
		PVal:      tt.PVal,
		Corrected: correction.Bonferroni(tt.PVal),
		Specimens: mutMat.IDs,
	}
	for _, l := range labels {
		res.Names = append(res.Names, a.name(l))
	}

	z, err := stats.NewOneAgainstMany(wtMat)
	if err != nil {
		return nil, err
	}
	for _, row := range mutMat.Rows {
		scores, err := z.ProcessMutant(row)
		if err != nil {
			return nil, err
		}
		res.ZScores = append(res.ZScores, scores)
	}

	if err := os.MkdirAll(outDir, 0755); err != nil {
		return nil, fmt.Errorf("creating output directory: %w", err)
	}
	if err := res.writeTTest(filepath.Join(outDir, TTestFile)); err != nil {
		return nil, err
	}
	if err := res.writeZScores(filepath.Join(outDir, ZScoreFile)); err != nil {
		return nil, err
	}
	if a.Log != nil {
		a.Log.Info("organ volume stats written", "labels", len(labels), "wildtypes", wtMat.Len(), "mutants", mutMat.Len())
	}
	return res, nil
}

type specimenCounts struct {
	id, path string
	counts   map[int]float64
}

func (a *Analyser) population(ctx context.Context, dir string, subset []string) ([]specimenCounts, error) {
	paths, err := assembly.ListSpecimens(dir, nil)
	if err != nil {
		return nil, err
	}
	var prefixed []string
	for _, id := range subset {
		prefixed = append(prefixed, LabelPrefix+models.SpecimenID(id))
	}
	if paths, err = assembly.SelectSubset(paths, prefixed); err != nil {
		return nil, err
	}

	var out []specimenCounts
	for _, p := range paths {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		vol, err := a.Store.Load(p)
		if err != nil {
			if a.Log != nil {
				a.Log.Warn("skipping unreadable label map", "path", p, "error", err)
			}
			continue
		}
		out = append(out, specimenCounts{id: models.SpecimenID(p), path: p, counts: CountLabels(vol)})
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("%w: no label maps could be read from %s", models.ErrIO, dir)
	}
	return out, nil
}

func (a *Analyser) name(label int) string {
	if n, ok := a.Names[label]; ok {
		return n
	}
	return fmt.Sprintf("label_%d", label)
}

func unionLabels(pops ...[]specimenCounts) []int {
	seen := make(map[int]bool)
	var labels []int
	for _, pop := range pops {
		for _, s := range pop {
			for l := range s.counts {
				if !seen[l] {
					seen[l] = true
					labels = append(labels, l)
				}
			}
		}
	}
	sort.Ints(labels)
	return labels
}

func toMatrix(pop []specimenCounts, labels []int) *models.MaskedMatrix {
	m := &models.MaskedMatrix{}
	for _, s := range pop {
		row := make([]float64, len(labels))
		for i, l := range labels {
			row[i] = s.counts[l]
		}
		m.Append(s.id, s.path, row)
	}
	return m
}

// writeTTest writes one row per organ, most significant first.
func (r *Result) writeTTest(path string) error {
	idx := make([]int, len(r.Labels))
	for i := range idx {
		idx[i] = i
	}
	sort.SliceStable(idx, func(a, b int) bool { return r.Corrected[idx[a]] < r.Corrected[idx[b]] })

	records := [][]string{{"organ", "label", "raw_p", "corrected_p", "t", "significant"}}
	for _, i := range idx {
		sig := "no"
		if r.Corrected[i] <= correction.DefaultFDRCutoff {
			sig = "yes"
		}
		records = append(records, []string{
			r.Names[i], strconv.Itoa(r.Labels[i]),
			formatFloat(r.PVal[i]), formatFloat(r.Corrected[i]), formatFloat(r.TStat[i]), sig,
		})
	}
	return writeCSV(path, records)
}

func (r *Result) writeZScores(path string) error {
	records := [][]string{append([]string{"specimen"}, r.Names...)}
	for i, id := range r.Specimens {
		rec := []string{id}
		for _, z := range r.ZScores[i] {
			rec = append(rec, formatFloat(z))
		}
		records = append(records, rec)
	}
	return writeCSV(path, records)
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'g', 6, 64)
}

func writeCSV(path string, records [][]string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("error creating %s: %w", filepath.Base(path), err)
	}
	defer f.Close()
	w := csv.NewWriter(f)
	if err := w.WriteAll(records); err != nil {
		return fmt.Errorf("error writing %s: %w", filepath.Base(path), err)
	}
	return nil
}

// LoadNames reads a label names CSV of "label,name" rows. Rows whose first
// field is not an integer, such as a header, are skipped.
func LoadNames(path string) (map[int]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("error opening label names: %w", err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1
	records, err := r.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("error reading label names %s: %w", path, err)
	}
	names := make(map[int]string, len(records))
	for _, rec := range records {
		if len(rec) < 2 {
			continue
		}
		label, err := strconv.Atoi(strings.TrimSpace(rec[0]))
		if err != nil {
			continue
		}
		names[label] = strings.TrimSpace(rec[1])
	}
	return names, nil
}
