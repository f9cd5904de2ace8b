package models

import (
	"path/filepath"
	"strings"
)

var volumeExtensions = []string{".nii.gz", ".nrrd", ".nhdr", ".nii", ".mhd", ".tif"}

// SpecimenID derives a specimen id from a volume path or file name by
// dropping the directory and any known volume extension.
func SpecimenID(path string) string {
	base := filepath.Base(path)
	lower := strings.ToLower(base)
	for _, ext := range volumeExtensions {
		if strings.HasSuffix(lower, ext) {
			return base[:len(base)-len(ext)]
		}
	}
	return base
}
