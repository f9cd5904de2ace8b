package reconstruction

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"phenostats/internal/models"
)

func TestToVolume(t *testing.T) {
	m := models.NewMask(models.Shape{Depth: 1, Height: 2, Width: 3})
	m.Valid[1] = false
	m.Valid[4] = false

	r := NewReconstructor(50)
	vec := []float64{120, -3, -80, 7}
	vol, err := r.ToVolume(vec, m)
	require.NoError(t, err)

	assert.Equal(t, []float64{50, 0, -3, -50, 0, 7}, vol.Data)
	// input vector is left alone
	assert.Equal(t, 120.0, vec[0])
}

func TestToVolumeWithoutLimit(t *testing.T) {
	m := models.NewMask(models.Shape{Depth: 1, Height: 1, Width: 2})
	vol, err := NewReconstructor(0).ToVolume([]float64{0.5, 99}, m)
	require.NoError(t, err)
	assert.Equal(t, []float64{0.5, 99}, vol.Data)
}

func TestToVolumeLengthMismatch(t *testing.T) {
	m := models.NewMask(models.Shape{Depth: 2, Height: 2, Width: 2})
	_, err := NewReconstructor(50).ToVolume(make([]float64, 7), m)
	assert.ErrorIs(t, err, models.ErrLengthMismatch)
}

func TestToVolumeSubsampled(t *testing.T) {
	spec := models.SubsampleSpec{ChunkSize: 4, OriginalShape: models.Shape{Depth: 12, Height: 12, Width: 12}}
	selection := []bool{true, false, false, false, false, false, false, true}

	vol, err := NewReconstructor(50).ToVolumeSubsampled([]float64{99, -2}, selection, spec)
	require.NoError(t, err)
	assert.Equal(t, spec.OriginalShape, vol.Shape())

	// first block in traversal order starts at the origin, the last at (4,4,4)
	assert.Equal(t, 50.0, vol.At(0, 0, 0))
	assert.Equal(t, 50.0, vol.At(3, 3, 3))
	assert.Equal(t, -2.0, vol.At(4, 4, 4))
	assert.Equal(t, -2.0, vol.At(7, 7, 7))
	assert.Equal(t, 0.0, vol.At(4, 0, 0))
	// trailing partial blocks are not part of the grid
	assert.Equal(t, 0.0, vol.At(11, 11, 11))
}

func TestToVolumeSubsampledBadSelection(t *testing.T) {
	spec := models.SubsampleSpec{ChunkSize: 4, OriginalShape: models.Shape{Depth: 12, Height: 12, Width: 12}}
	r := NewReconstructor(50)

	_, err := r.ToVolumeSubsampled([]float64{1}, []bool{true}, spec)
	assert.ErrorIs(t, err, models.ErrLengthMismatch)

	_, err = r.ToVolumeSubsampled([]float64{1}, make([]bool, 8), spec)
	assert.ErrorIs(t, err, models.ErrLengthMismatch)
}
