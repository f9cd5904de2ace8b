package volumeio

import (
	"bytes"
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"phenostats/internal/models"
)

func testVolume() *models.Volume {
	vol := models.NewVolume(models.Shape{Depth: 3, Height: 4, Width: 5})
	for i := range vol.Data {
		vol.Data[i] = float64(i) * 0.5
	}
	vol.VoxelSize.X, vol.VoxelSize.Y, vol.VoxelSize.Z = 28, 28, 28
	return vol
}

func TestNRRDRoundTrip(t *testing.T) {
	for _, compress := range []bool{false, true} {
		store := NRRDStore{Compress: compress}
		path := filepath.Join(t.TempDir(), "vol.nrrd")
		vol := testVolume()

		require.NoError(t, store.Save(vol, path))
		got, err := store.Load(path)
		require.NoError(t, err)

		assert.Equal(t, vol.Shape(), got.Shape())
		assert.Equal(t, 1, got.NumComponents())
		assert.InDelta(t, 28.0, got.VoxelSize.Z, 1e-9)
		assert.InDeltaSlice(t, vol.Data, got.Data, 1e-6)
	}
}

func TestNRRDVectorRoundTrip(t *testing.T) {
	vol := &models.Volume{Width: 2, Height: 2, Depth: 2, Components: 3}
	vol.Data = make([]float64, 8*3)
	for i := range vol.Data {
		vol.Data[i] = float64(i)
	}
	path := filepath.Join(t.TempDir(), "def.nrrd")

	require.NoError(t, NRRDStore{Compress: true}.Save(vol, path))
	got, err := NRRDStore{}.Load(path)
	require.NoError(t, err)

	assert.Equal(t, 3, got.Components)
	assert.Equal(t, vol.Shape(), got.Shape())
	assert.InDeltaSlice(t, vol.Data, got.Data, 1e-6)
}

func TestNRRDLoadBigEndianShort(t *testing.T) {
	var buf bytes.Buffer
	buf.WriteString("NRRD0004\n# label map\ntype: short\ndimension: 3\nsizes: 2 1 1\n")
	buf.WriteString("endian: big\nencoding: raw\nspacings: 0.5 0.5 2\n\n")
	require.NoError(t, binary.Write(&buf, binary.BigEndian, []int16{-3, 300}))

	path := filepath.Join(t.TempDir(), "labels.nrrd")
	require.NoError(t, os.WriteFile(path, buf.Bytes(), 0644))

	vol, err := NRRDStore{}.Load(path)
	require.NoError(t, err)
	assert.Equal(t, []float64{-3, 300}, vol.Data)
	assert.Equal(t, 2.0, vol.VoxelSize.Z)
}

func TestNRRDLoadErrors(t *testing.T) {
	dir := t.TempDir()

	_, err := NRRDStore{}.Load(filepath.Join(dir, "missing.nrrd"))
	assert.ErrorIs(t, err, models.ErrIO)

	notNRRD := filepath.Join(dir, "bad.nrrd")
	require.NoError(t, os.WriteFile(notNRRD, []byte("hello\n"), 0644))
	_, err = NRRDStore{}.Load(notNRRD)
	assert.ErrorIs(t, err, models.ErrIO)

	truncated := filepath.Join(dir, "short.nrrd")
	require.NoError(t, os.WriteFile(truncated, []byte("NRRD0004\ntype: float\nsizes: 4 4 4\n\n\x00\x00"), 0644))
	_, err = NRRDStore{}.Load(truncated)
	assert.ErrorIs(t, err, models.ErrIO)

	for _, sizes := range []string{"-4 4 4", "0 4 4"} {
		bad := filepath.Join(dir, "sizes.nrrd")
		require.NoError(t, os.WriteFile(bad, []byte("NRRD0004\ntype: float\nsizes: "+sizes+"\nencoding: raw\n\n"), 0644))
		_, err = NRRDStore{}.Load(bad)
		assert.ErrorIs(t, err, models.ErrIO, sizes)
	}
}

func TestNRRDSaveRejectsBadVolume(t *testing.T) {
	vol := &models.Volume{Width: 2, Height: 2, Depth: 2, Data: make([]float64, 3)}
	err := NRRDStore{}.Save(vol, filepath.Join(t.TempDir(), "x.nrrd"))
	assert.ErrorIs(t, err, models.ErrLengthMismatch)
}
