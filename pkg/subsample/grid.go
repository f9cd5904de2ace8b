// Package subsample maps between full resolution volumes and a grid of
// fixed-size cubic blocks.
//
// Blocks start at 0, chunk, 2*chunk ... and stop before dim-chunk on every
// axis, so no block crosses the high edge. Blocks are visited X outer, Y
// middle, Z inner. This order differs from the voxel order used by masks and
// every reader and writer of block data must use Blocks to enumerate them.
package subsample

import (
	"fmt"

	"gonum.org/v1/gonum/floats"

	"phenostats/internal/models"
)

// Block validity flags as produced by BlockMask. A block is flagged
// BlockForeground (0) when any of its voxels is valid in the full mask.
const (
	BlockForeground uint8 = 0
	BlockBackground uint8 = 1
)

// Block is one cube of the grid; X, Y and Z are its lowest voxel coordinates.
type Block struct {
	X, Y, Z int
}

// steps returns the number of block origins along an axis of length dim.
func steps(dim, chunk int) int {
	if dim <= chunk {
		return 0
	}
	return (dim - chunk + chunk - 1) / chunk
}

func validate(spec models.SubsampleSpec) error {
	if spec.ChunkSize < 1 {
		return fmt.Errorf("invalid chunk size %d", spec.ChunkSize)
	}
	return nil
}

// BlockCount returns the number of blocks in the grid. Each axis holds
// ceil((dim-chunk)/chunk) blocks, one per origin below dim-chunk.
func BlockCount(spec models.SubsampleSpec) int {
	if spec.ChunkSize < 1 {
		return 0
	}
	s := spec.OriginalShape
	return steps(s.Depth, spec.ChunkSize) * steps(s.Height, spec.ChunkSize) * steps(s.Width, spec.ChunkSize)
}

// Blocks enumerates the grid in canonical traversal order.
func Blocks(spec models.SubsampleSpec) []Block {
	c := spec.ChunkSize
	if c < 1 {
		return nil
	}
	s := spec.OriginalShape
	blocks := make([]Block, 0, BlockCount(spec))
	for x := 0; x < s.Width-c; x += c {
		for y := 0; y < s.Height-c; y += c {
			for z := 0; z < s.Depth-c; z += c {
				blocks = append(blocks, Block{X: x, Y: y, Z: z})
			}
		}
	}
	return blocks
}

// BlockMask flags every block of the grid. Blocks overlapping at least one
// valid voxel of m are BlockForeground, the rest BlockBackground.
func BlockMask(m *models.Mask, spec models.SubsampleSpec) ([]uint8, error) {
	if err := validate(spec); err != nil {
		return nil, err
	}
	if m.Shape() != spec.OriginalShape {
		return nil, fmt.Errorf("%w: mask %v, grid %v", models.ErrShapeMismatch, m.Shape(), spec.OriginalShape)
	}
	c := spec.ChunkSize
	blocks := Blocks(spec)
	flags := make([]uint8, len(blocks))
	for i, b := range blocks {
		flags[i] = BlockBackground
	scan:
		for z := b.Z; z < b.Z+c; z++ {
			for y := b.Y; y < b.Y+c; y++ {
				for x := b.X; x < b.X+c; x++ {
					if m.At(x, y, z) {
						flags[i] = BlockForeground
						break scan
					}
				}
			}
		}
	}
	return flags, nil
}

// Selection converts block flags into the validity sequence used to mask
// block vectors: foreground blocks take part in the analysis.
func Selection(flags []uint8) []bool {
	sel := make([]bool, len(flags))
	for i, f := range flags {
		sel[i] = f == BlockForeground
	}
	return sel
}

// Expand paints each block of a zero-filled volume of the original shape with
// the corresponding value of blockVector.
func Expand(blockVector []float64, spec models.SubsampleSpec) (*models.Volume, error) {
	if err := validate(spec); err != nil {
		return nil, err
	}
	blocks := Blocks(spec)
	if len(blockVector) != len(blocks) {
		return nil, fmt.Errorf("%w: %d block values for %d blocks", models.ErrLengthMismatch, len(blockVector), len(blocks))
	}
	c := spec.ChunkSize
	out := models.NewVolume(spec.OriginalShape)
	for i, b := range blocks {
		value := blockVector[i]
		for z := b.Z; z < b.Z+c; z++ {
			for y := b.Y; y < b.Y+c; y++ {
				row := out.Index(b.X, y, z)
				for x := 0; x < c; x++ {
					out.Data[row+x] = value
				}
			}
		}
	}
	return out, nil
}

// Reduce represents each block of vol by the mean of its voxels.
func Reduce(vol *models.Volume, spec models.SubsampleSpec) ([]float64, error) {
	if err := validate(spec); err != nil {
		return nil, err
	}
	if vol.Shape() != spec.OriginalShape {
		return nil, fmt.Errorf("%w: volume %v, grid %v", models.ErrShapeMismatch, vol.Shape(), spec.OriginalShape)
	}
	c := spec.ChunkSize
	blocks := Blocks(spec)
	out := make([]float64, len(blocks))
	for i, b := range blocks {
		var sum float64
		for z := b.Z; z < b.Z+c; z++ {
			for y := b.Y; y < b.Y+c; y++ {
				row := vol.Index(b.X, y, z)
				sum += floats.Sum(vol.Data[row : row+c])
			}
		}
		out[i] = sum / float64(c*c*c)
	}
	return out, nil
}
