package mask

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"phenostats/internal/models"
)

func randomVolumeAndMask(r *rand.Rand, shape models.Shape) (*models.Volume, *models.Mask) {
	vol := models.NewVolume(shape)
	m := models.NewMask(shape)
	for i := range vol.Data {
		vol.Data[i] = r.NormFloat64() * 10
		m.Valid[i] = r.Intn(3) != 0
	}
	return vol, m
}

// TestRoundTrip checks decode(encode(v, m), m) reproduces v inside the mask
// and the fill value outside it.
func TestRoundTrip(t *testing.T) {
	r := rand.New(rand.NewSource(7))
	shapes := []models.Shape{
		{Depth: 1, Height: 1, Width: 1},
		{Depth: 3, Height: 4, Width: 5},
		{Depth: 8, Height: 2, Width: 9},
	}
	for _, shape := range shapes {
		for trial := 0; trial < 5; trial++ {
			vol, m := randomVolumeAndMask(r, shape)
			fill := float64(trial) - 2

			vec, err := Encode(vol, m)
			require.NoError(t, err)
			assert.Len(t, vec, m.Count())

			out, err := Decode(vec, m, fill)
			require.NoError(t, err)
			assert.Equal(t, shape, out.Shape())
			for i := range vol.Data {
				if m.Valid[i] {
					assert.Equal(t, vol.Data[i], out.Data[i])
				} else {
					assert.Equal(t, fill, out.Data[i])
				}
			}
		}
	}
}

func TestEncodeOrderIsRowMajor(t *testing.T) {
	shape := models.Shape{Depth: 2, Height: 2, Width: 2}
	vol := models.NewVolume(shape)
	for z := 0; z < 2; z++ {
		for y := 0; y < 2; y++ {
			for x := 0; x < 2; x++ {
				vol.Set(x, y, z, float64(100*z+10*y+x))
			}
		}
	}
	vec, err := Encode(vol, models.NewMask(shape))
	require.NoError(t, err)
	assert.Equal(t, []float64{0, 1, 10, 11, 100, 101, 110, 111}, vec)
}

func TestEncodeShapeMismatch(t *testing.T) {
	vol := models.NewVolume(models.Shape{Depth: 2, Height: 3, Width: 4})
	m := models.NewMask(models.Shape{Depth: 2, Height: 4, Width: 3})
	_, err := Encode(vol, m)
	assert.ErrorIs(t, err, models.ErrShapeMismatch)
}

func TestDecodeLengthMismatch(t *testing.T) {
	m := models.NewMask(models.Shape{Depth: 2, Height: 2, Width: 2})
	m.Valid[3] = false
	_, err := Decode(make([]float64, 8), m, 0)
	assert.ErrorIs(t, err, models.ErrLengthMismatch)

	_, err = Decode(make([]float64, 7), m, 0)
	assert.NoError(t, err)
}
