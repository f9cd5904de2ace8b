package organvolumes

import (
	"fmt"
	"math"
	"sort"
	"strconv"

	"phenostats/internal/models"
)

// AnnotationFile is written next to the filtered statistics.
const AnnotationFile = "annotation.csv"

// Annotation summarises significant voxels inside one labelled organ.
type Annotation struct {
	Label       int
	Name        string
	Voxels      int
	Significant int
	MeanT       float64
}

// Annotate overlays a significance-filtered t-map on a label map of the same
// shape. Voxels outside m are ignored; m may be nil.
func Annotate(labels, filtered *models.Volume, m *models.Mask, names map[int]string) ([]Annotation, error) {
	if labels.Shape() != filtered.Shape() {
		return nil, fmt.Errorf("%w: label map %v, statistics %v", models.ErrShapeMismatch, labels.Shape(), filtered.Shape())
	}
	byLabel := make(map[int]*Annotation)
	for i, v := range labels.Data {
		if m != nil && !m.Valid[i] {
			continue
		}
		label := int(v)
		if label == 0 {
			continue
		}
		a, ok := byLabel[label]
		if !ok {
			name, found := names[label]
			if !found {
				name = fmt.Sprintf("label_%d", label)
			}
			a = &Annotation{Label: label, Name: name}
			byLabel[label] = a
		}
		a.Voxels++
		if t := filtered.Data[i]; t != 0 {
			a.Significant++
			a.MeanT += t
		}
	}

	out := make([]Annotation, 0, len(byLabel))
	for _, a := range byLabel {
		if a.Significant > 0 {
			a.MeanT /= float64(a.Significant)
		}
		out = append(out, *a)
	}
	sort.Slice(out, func(i, j int) bool {
		fi, fj := out[i].fraction(), out[j].fraction()
		if fi != fj {
			return fi > fj
		}
		return out[i].Label < out[j].Label
	})
	return out, nil
}

func (a Annotation) fraction() float64 {
	if a.Voxels == 0 {
		return 0
	}
	return float64(a.Significant) / float64(a.Voxels)
}

// WriteAnnotations stores annotations as CSV.
func WriteAnnotations(path string, rows []Annotation) error {
	records := [][]string{{"organ", "label", "voxels", "significant_voxels", "fraction", "mean_t"}}
	for _, a := range rows {
		mean := a.MeanT
		if a.Significant == 0 {
			mean = math.NaN()
		}
		records = append(records, []string{
			a.Name, strconv.Itoa(a.Label), strconv.Itoa(a.Voxels), strconv.Itoa(a.Significant),
			formatFloat(a.fraction()), formatFloat(mean),
		})
	}
	return writeCSV(path, records)
}
