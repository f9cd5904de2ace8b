package subsample

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"phenostats/internal/models"
)

func cube(n, chunk int) models.SubsampleSpec {
	return models.SubsampleSpec{ChunkSize: chunk, OriginalShape: models.Shape{Depth: n, Height: n, Width: n}}
}

func TestBlockCount(t *testing.T) {
	tests := []struct {
		name  string
		spec  models.SubsampleSpec
		count int
	}{
		{"12 cube chunk 4", cube(12, 4), 8},
		{"13 cube chunk 4", cube(13, 4), 27},
		{"smaller than chunk", cube(3, 4), 0},
		{"equal to chunk", cube(4, 4), 0},
		{"anisotropic", models.SubsampleSpec{ChunkSize: 2, OriginalShape: models.Shape{Depth: 5, Height: 7, Width: 3}}, 2 * 3 * 1},
		{"invalid chunk", cube(12, 0), 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.count, BlockCount(tt.spec))
			assert.Len(t, Blocks(tt.spec), tt.count)
		})
	}
}

func TestBlockOriginsStopBeforeHighEdge(t *testing.T) {
	// (13-4)/4 truncates to 2 but origins 0, 4 and 8 all lie below 13-4.
	assert.Equal(t, 3, steps(13, 4))
	assert.Equal(t, 2, steps(12, 4))

	var xs []int
	for _, b := range Blocks(cube(13, 4)) {
		if b.Y == 0 && b.Z == 0 {
			xs = append(xs, b.X)
		}
	}
	assert.Equal(t, []int{0, 4, 8}, xs)
}

func TestBlocksTraversalXOuterZInner(t *testing.T) {
	blocks := Blocks(cube(12, 4))
	want := []Block{
		{X: 0, Y: 0, Z: 0}, {X: 0, Y: 0, Z: 4},
		{X: 0, Y: 4, Z: 0}, {X: 0, Y: 4, Z: 4},
		{X: 4, Y: 0, Z: 0}, {X: 4, Y: 0, Z: 4},
		{X: 4, Y: 4, Z: 0}, {X: 4, Y: 4, Z: 4},
	}
	assert.Equal(t, want, blocks)
}

func TestBlockMaskFlagsForegroundAsZero(t *testing.T) {
	spec := cube(12, 4)
	m := &models.Mask{Valid: make([]bool, 12*12*12), Width: 12, Height: 12, Depth: 12}
	// a single valid voxel inside block (x=4, y=0, z=4)
	m.Valid[6*144+1*12+5] = true

	flags, err := BlockMask(m, spec)
	require.NoError(t, err)
	require.Len(t, flags, 8)
	for i, f := range flags {
		if i == 5 {
			assert.Equal(t, BlockForeground, f)
		} else {
			assert.Equal(t, BlockBackground, f, "block %d", i)
		}
	}
	sel := Selection(flags)
	assert.Equal(t, []bool{false, false, false, false, false, true, false, false}, sel)
}

func TestBlockMaskShapeMismatch(t *testing.T) {
	m := models.NewMask(models.Shape{Depth: 8, Height: 8, Width: 8})
	_, err := BlockMask(m, cube(12, 4))
	assert.ErrorIs(t, err, models.ErrShapeMismatch)
}

// TestReduceExpandRoundTrip checks that a block-uniform volume survives a
// reduce/expand cycle exactly inside the tiled region.
func TestReduceExpandRoundTrip(t *testing.T) {
	spec := cube(12, 4)
	vol := models.NewVolume(spec.OriginalShape)
	for i, b := range Blocks(spec) {
		for z := b.Z; z < b.Z+4; z++ {
			for y := b.Y; y < b.Y+4; y++ {
				for x := b.X; x < b.X+4; x++ {
					vol.Set(x, y, z, float64(i+1)*1.5)
				}
			}
		}
	}

	reduced, err := Reduce(vol, spec)
	require.NoError(t, err)
	assert.Len(t, reduced, 8)

	expanded, err := Expand(reduced, spec)
	require.NoError(t, err)
	assert.Equal(t, vol.Data, expanded.Data)
}

func TestReduceMean(t *testing.T) {
	spec := models.SubsampleSpec{ChunkSize: 2, OriginalShape: models.Shape{Depth: 3, Height: 3, Width: 3}}
	vol := models.NewVolume(spec.OriginalShape)
	for i := range vol.Data {
		vol.Data[i] = float64(i)
	}
	reduced, err := Reduce(vol, spec)
	require.NoError(t, err)
	require.Len(t, reduced, 1)
	// voxels 0,1,3,4,9,10,12,13
	assert.InDelta(t, 52.0/8.0, reduced[0], 1e-12)
}

func TestExpandLengthMismatch(t *testing.T) {
	_, err := Expand(make([]float64, 7), cube(12, 4))
	assert.ErrorIs(t, err, models.ErrLengthMismatch)
}
