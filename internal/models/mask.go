package models

// Mask marks the voxels that take part in statistics. Valid is laid out in
// the same row-major order as Volume.Data.
type Mask struct {
	Valid  []bool
	Width  int
	Height int
	Depth  int
}

// NewMask returns a mask of the given shape with every voxel valid.
func NewMask(shape Shape) *Mask {
	valid := make([]bool, shape.Len())
	for i := range valid {
		valid[i] = true
	}
	return &Mask{Valid: valid, Width: shape.Width, Height: shape.Height, Depth: shape.Depth}
}

// MaskFromVolume builds a mask from a volume: any non-zero voxel is valid.
func MaskFromVolume(v *Volume) *Mask {
	valid := make([]bool, len(v.Data))
	for i, value := range v.Data {
		valid[i] = value != 0
	}
	return &Mask{Valid: valid, Width: v.Width, Height: v.Height, Depth: v.Depth}
}

// Shape returns the voxel extent of the mask.
func (m *Mask) Shape() Shape {
	return Shape{Depth: m.Depth, Height: m.Height, Width: m.Width}
}

// Count returns the number of valid voxels.
func (m *Mask) Count() int {
	n := 0
	for _, ok := range m.Valid {
		if ok {
			n++
		}
	}
	return n
}

// At reports whether voxel (x, y, z) is valid.
func (m *Mask) At(x, y, z int) bool {
	return m.Valid[z*m.Width*m.Height+y*m.Width+x]
}
