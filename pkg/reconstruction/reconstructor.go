// Package reconstruction turns masked statistic vectors back into full
// resolution volumes.
package reconstruction

import (
	"fmt"

	"phenostats/internal/models"
	"phenostats/pkg/correction"
	"phenostats/pkg/mask"
	"phenostats/pkg/subsample"
)

// Reconstructor clamps statistic vectors and decodes them against a mask or
// a block grid. Masked-out voxels are always 0.
//
// Clamping runs on the masked vector, before decoding, so a fill value can
// never be mistaken for a clamped extreme.
type Reconstructor struct {
	// Limit bounds statistics to [-Limit, Limit]. Zero disables clamping,
	// which is used for p and q values.
	Limit float64
}

// NewReconstructor returns a Reconstructor clamping at limit.
func NewReconstructor(limit float64) *Reconstructor {
	return &Reconstructor{Limit: limit}
}

func (r *Reconstructor) clamp(vec []float64) []float64 {
	if r.Limit <= 0 {
		return vec
	}
	return correction.ClampTStat(vec, r.Limit)
}

// ToVolume decodes a full resolution statistic vector.
func (r *Reconstructor) ToVolume(vec []float64, m *models.Mask) (*models.Volume, error) {
	vol, err := mask.Decode(r.clamp(vec), m, 0)
	if err != nil {
		return nil, fmt.Errorf("reconstructing volume: %w", err)
	}
	return vol, nil
}

// ToVolumeSubsampled decodes a vector over the selected blocks of spec and
// paints each block at full resolution.
func (r *Reconstructor) ToVolumeSubsampled(vec []float64, selection []bool, spec models.SubsampleSpec) (*models.Volume, error) {
	if len(selection) != subsample.BlockCount(spec) {
		return nil, fmt.Errorf("%w: selection covers %d blocks, grid has %d",
			models.ErrLengthMismatch, len(selection), subsample.BlockCount(spec))
	}
	blocks, err := mask.DecodeFlat(r.clamp(vec), selection, 0)
	if err != nil {
		return nil, fmt.Errorf("reconstructing block vector: %w", err)
	}
	vol, err := subsample.Expand(blocks, spec)
	if err != nil {
		return nil, fmt.Errorf("expanding blocks: %w", err)
	}
	return vol, nil
}
