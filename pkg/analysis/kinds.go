package analysis

import "sort"

// Kind describes how one data type is loaded and tested.
type Kind struct {
	Name string

	// Normalise allows intensity normalisation and smoothing before masking.
	Normalise bool

	// Angular selects the circular one-against-many tester.
	Angular bool

	// BlockInput marks block feature vectors over the grid described by
	// glcm.yaml in the wildtype folder. One-against-many is not run.
	BlockInput bool

	// OrganVolumes replaces the voxel pipeline with per-label statistics.
	OrganVolumes bool
}

var kinds = map[string]Kind{
	"intensity":     {Name: "intensity", Normalise: true},
	"deformations":  {Name: "deformations"},
	"jacobians":     {Name: "jacobians"},
	"angular":       {Name: "angular", Angular: true},
	"glcm":          {Name: "glcm", BlockInput: true},
	"organ_volumes": {Name: "organ_volumes", OrganVolumes: true},
}

// LookupKind returns the kind registered under name.
func LookupKind(name string) (Kind, bool) {
	k, ok := kinds[name]
	return k, ok
}

// KindNames lists the registered kinds in sorted order.
func KindNames() []string {
	names := make([]string, 0, len(kinds))
	for n := range kinds {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
