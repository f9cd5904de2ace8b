package models

// MaskedMatrix holds one masked vector per specimen. Row order matches IDs
// and Paths, which are used for output naming.
type MaskedMatrix struct {
	IDs   []string
	Paths []string
	Rows  [][]float64
}

// Len returns the number of specimens.
func (m *MaskedMatrix) Len() int {
	if m == nil {
		return 0
	}
	return len(m.Rows)
}

// Columns returns the number of masked voxels per row.
func (m *MaskedMatrix) Columns() int {
	if m == nil || len(m.Rows) == 0 {
		return 0
	}
	return len(m.Rows[0])
}

// Bytes is the approximate memory held by the rows.
func (m *MaskedMatrix) Bytes() uint64 {
	return uint64(m.Len()) * uint64(m.Columns()) * 8
}

// Append adds a specimen row.
func (m *MaskedMatrix) Append(id, path string, row []float64) {
	m.IDs = append(m.IDs, id)
	m.Paths = append(m.Paths, path)
	m.Rows = append(m.Rows, row)
}

// SubsampleSpec defines a block grid of ChunkSize cubes over OriginalShape.
type SubsampleSpec struct {
	ChunkSize     int
	OriginalShape Shape
}

// TestResult is the per-voxel output of one statistical test. QVal is nil
// until multiple testing correction has run, unless the backend supplies it.
type TestResult struct {
	TStat []float64
	PVal  []float64
	QVal  []float64
}
