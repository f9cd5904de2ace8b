package analysis

import (
	"log/slog"
	"os"
	"path/filepath"

	"phenostats/pkg/assembly"
	"phenostats/pkg/groups"
)

// BuildGroups returns the group table used by every analysis of a run.
//
// When both group files exist and share a header they are combined.
// Otherwise a default genotype-only table is built from the volumes of the
// first analysis, restricted to the subsets.
func BuildGroups(wtGroups, mutGroups string, first *Analysis, wtSubset, mutSubset []string, log *slog.Logger) *groups.Table {
	if exists(wtGroups) && exists(mutGroups) {
		table, err := groups.Combine(wtGroups, mutGroups)
		if err == nil {
			return table
		}
		log.Warn("cannot combine groups files, using default groups", "error", err)
	} else if wtGroups != "" || mutGroups != "" {
		log.Warn("groups files missing, using default groups", "wt_groups", wtGroups, "mut_groups", mutGroups)
	}

	if first == nil {
		return groups.Default(nil, nil, nil, nil)
	}
	wt := listNames(first.WT, log)
	mut := listNames(first.Mut, log)
	return groups.Default(wt, mut, wtSubset, mutSubset)
}

func listNames(dir string, log *slog.Logger) []string {
	paths, err := assembly.ListSpecimens(dir, nil)
	if err != nil {
		log.Warn("cannot list volumes for default groups", "dir", dir, "error", err)
		return nil
	}
	names := make([]string, len(paths))
	for i, p := range paths {
		names[i] = filepath.Base(p)
	}
	return names
}

func exists(path string) bool {
	if path == "" {
		return false
	}
	_, err := os.Stat(path)
	return err == nil
}
