// Package mask compresses volumes into vectors of their valid voxels and
// expands statistic vectors back into volumes.
package mask

import (
	"fmt"

	"phenostats/internal/models"
)

// Encode returns the values of vol at every valid mask position, in flat
// row-major order.
func Encode(vol *models.Volume, m *models.Mask) ([]float64, error) {
	if vol.Shape() != m.Shape() {
		return nil, fmt.Errorf("%w: volume %v, mask %v", models.ErrShapeMismatch, vol.Shape(), m.Shape())
	}
	if vol.NumComponents() != 1 {
		return nil, fmt.Errorf("%w: cannot mask a %d-component volume", models.ErrShapeMismatch, vol.NumComponents())
	}
	return EncodeFlat(vol.Data, m.Valid)
}

// Decode allocates a volume of the mask's shape filled with fill and writes
// successive vector elements into the valid positions.
func Decode(vector []float64, m *models.Mask, fill float64) (*models.Volume, error) {
	data, err := DecodeFlat(vector, m.Valid, fill)
	if err != nil {
		return nil, err
	}
	vol := models.NewVolume(m.Shape())
	vol.Data = data
	return vol, nil
}

// EncodeFlat is Encode over an already flattened array and validity sequence.
func EncodeFlat(data []float64, valid []bool) ([]float64, error) {
	if len(data) != len(valid) {
		return nil, fmt.Errorf("%w: %d values against %d mask positions", models.ErrShapeMismatch, len(data), len(valid))
	}
	out := make([]float64, 0, countValid(valid))
	for i, ok := range valid {
		if ok {
			out = append(out, data[i])
		}
	}
	return out, nil
}

// DecodeFlat is Decode into a flat array of len(valid).
func DecodeFlat(vector []float64, valid []bool, fill float64) ([]float64, error) {
	if n := countValid(valid); len(vector) != n {
		return nil, fmt.Errorf("%w: vector has %d values, mask has %d valid positions", models.ErrLengthMismatch, len(vector), n)
	}
	out := make([]float64, len(valid))
	j := 0
	for i, ok := range valid {
		if ok {
			out[i] = vector[j]
			j++
		} else {
			out[i] = fill
		}
	}
	return out, nil
}

func countValid(valid []bool) int {
	n := 0
	for _, ok := range valid {
		if ok {
			n++
		}
	}
	return n
}
