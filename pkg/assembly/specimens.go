package assembly

import (
	"fmt"
	"io/fs"
	"path/filepath"
	"sort"
	"strings"

	"phenostats/internal/models"
)

// volumeExt lists the file types picked up when listing a population folder.
var volumeExt = []string{".nrrd", ".nhdr"}

// ListSpecimens walks dir and returns the paths of all volume files.
//
// When order is non-empty the paths follow it (matched by specimen id), and
// files missing from order keep their directory order at the end. Without an
// order the lexical directory order is used.
func ListSpecimens(dir string, order []string) ([]string, error) {
	var paths []string
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		name := strings.ToLower(d.Name())
		for _, ext := range volumeExt {
			if strings.HasSuffix(name, ext) {
				paths = append(paths, path)
				break
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: listing %s: %v", models.ErrIO, dir, err)
	}
	if len(order) == 0 {
		return paths, nil
	}

	rank := make(map[string]int, len(order))
	for i, id := range order {
		rank[models.SpecimenID(id)] = i
	}
	pos := func(p string) int {
		if r, ok := rank[models.SpecimenID(p)]; ok {
			return r
		}
		return len(order)
	}
	sort.SliceStable(paths, func(i, j int) bool {
		return pos(paths[i]) < pos(paths[j])
	})
	return paths, nil
}

// SelectSubset keeps the paths whose specimen id is in subset. An empty
// subset keeps everything. An empty result is ErrNoMatchingSpecimens.
func SelectSubset(paths, subset []string) ([]string, error) {
	if len(subset) == 0 {
		if len(paths) == 0 {
			return nil, models.ErrNoMatchingSpecimens
		}
		return paths, nil
	}
	keep := make(map[string]bool, len(subset))
	for _, id := range subset {
		keep[models.SpecimenID(id)] = true
	}
	var out []string
	for _, p := range paths {
		if keep[models.SpecimenID(p)] {
			out = append(out, p)
		}
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("%w: none of %d volumes are in the subset %v", models.ErrNoMatchingSpecimens, len(paths), subset)
	}
	return out, nil
}
