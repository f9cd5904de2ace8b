package models

import "fmt"

// Shape is the extent of a volume in voxels. The canonical tuple order is
// (Z, Y, X), matching the flat row-major layout of Volume.Data.
type Shape struct {
	Depth  int // Z
	Height int // Y
	Width  int // X
}

// Len returns the number of voxels covered by the shape.
func (s Shape) Len() int {
	return s.Depth * s.Height * s.Width
}

func (s Shape) String() string {
	return fmt.Sprintf("(%d,%d,%d)", s.Depth, s.Height, s.Width)
}

// Volume represents a 3D image volume (intensities, displacement magnitudes,
// jacobian determinants or label ids).
type Volume struct {
	// Data is the 3D volume data as a 1D array in row-major order
	// (Z outer, Y middle, X inner). Vector volumes interleave their
	// components at each voxel.
	Data []float64

	// Width is the width of the volume in voxels (X)
	Width int

	// Height is the height of the volume in voxels (Y)
	Height int

	// Depth is the depth of the volume in voxels (Z)
	Depth int

	// Components is the number of values per voxel; 0 and 1 both mean scalar.
	Components int

	// VoxelSize is the physical size of each voxel
	VoxelSize struct {
		X, Y, Z float64
	}
}

// NewVolume allocates a zero-filled scalar volume.
func NewVolume(shape Shape) *Volume {
	return &Volume{
		Data:   make([]float64, shape.Len()),
		Width:  shape.Width,
		Height: shape.Height,
		Depth:  shape.Depth,
	}
}

// Shape returns the voxel extent of the volume.
func (v *Volume) Shape() Shape {
	return Shape{Depth: v.Depth, Height: v.Height, Width: v.Width}
}

// NumComponents returns the number of values stored per voxel.
func (v *Volume) NumComponents() int {
	if v.Components < 1 {
		return 1
	}
	return v.Components
}

// Index returns the flat offset of voxel (x, y, z) for a scalar volume.
func (v *Volume) Index(x, y, z int) int {
	return z*v.Width*v.Height + y*v.Width + x
}

// At returns the scalar value at (x, y, z).
func (v *Volume) At(x, y, z int) float64 {
	return v.Data[v.Index(x, y, z)]
}

// Set assigns the scalar value at (x, y, z).
func (v *Volume) Set(x, y, z int, value float64) {
	v.Data[v.Index(x, y, z)] = value
}

// Validate checks that Data holds exactly one value per voxel component.
func (v *Volume) Validate() error {
	want := v.Shape().Len() * v.NumComponents()
	if len(v.Data) != want {
		return fmt.Errorf("%w: volume %v with %d components holds %d values, want %d",
			ErrLengthMismatch, v.Shape(), v.NumComponents(), len(v.Data), want)
	}
	return nil
}
