// Package visualization renders QC previews of statistic volumes.
package visualization

import (
	"fmt"
	"image"
	"image/color"
	"image/png"
	"math"
	"os"
	"path/filepath"

	"phenostats/internal/models"
)

// Viewer renders slices of a signed statistic volume with a diverging
// colour map: negative values blue, positive values red, zero black.
type Viewer struct {
	vol *models.Volume

	// limit is the magnitude mapped to full colour intensity
	limit float64
}

// NewViewer creates a viewer. A non-positive limit uses the largest absolute
// value in the volume.
func NewViewer(vol *models.Volume, limit float64) *Viewer {
	if limit <= 0 {
		for _, v := range vol.Data {
			if a := math.Abs(v); a > limit && !math.IsInf(a, 0) {
				limit = a
			}
		}
	}
	if limit <= 0 {
		limit = 1
	}
	return &Viewer{vol: vol, limit: limit}
}

// Colour maps a statistic to the diverging colour map.
func (v *Viewer) Colour(value float64) color.RGBA {
	if math.IsNaN(value) {
		return color.RGBA{A: 255}
	}
	a := math.Max(-1, math.Min(1, value/v.limit))
	level := uint8(math.Round(math.Abs(a) * 255))
	if a > 0 {
		return color.RGBA{R: level, A: 255}
	}
	return color.RGBA{B: level, A: 255}
}

// ExtractSlice extracts a 2D slice from the volume along the specified axis
func (v *Viewer) ExtractSlice(axis string, position int) (image.Image, error) {
	if position < 0 {
		return nil, fmt.Errorf("position must be non-negative")
	}
	w, h, d := v.vol.Width, v.vol.Height, v.vol.Depth

	var img *image.RGBA
	switch axis {
	case "x", "X":
		// Extract slice along YZ plane
		if position >= w {
			return nil, fmt.Errorf("position %d exceeds width %d", position, w)
		}
		img = image.NewRGBA(image.Rect(0, 0, d, h))
		for y := 0; y < h; y++ {
			for z := 0; z < d; z++ {
				img.SetRGBA(z, y, v.Colour(v.vol.At(position, y, z)))
			}
		}

	case "y", "Y":
		// Extract slice along XZ plane
		if position >= h {
			return nil, fmt.Errorf("position %d exceeds height %d", position, h)
		}
		img = image.NewRGBA(image.Rect(0, 0, w, d))
		for z := 0; z < d; z++ {
			for x := 0; x < w; x++ {
				img.SetRGBA(x, z, v.Colour(v.vol.At(x, position, z)))
			}
		}

	case "z", "Z":
		// Extract slice along XY plane
		if position >= d {
			return nil, fmt.Errorf("position %d exceeds depth %d", position, d)
		}
		img = image.NewRGBA(image.Rect(0, 0, w, h))
		for y := 0; y < h; y++ {
			for x := 0; x < w; x++ {
				img.SetRGBA(x, y, v.Colour(v.vol.At(x, y, position)))
			}
		}

	default:
		return nil, fmt.Errorf("invalid axis: %s (must be x, y, or z)", axis)
	}
	return img, nil
}

// SaveSlice saves an extracted slice as a PNG image
func (v *Viewer) SaveSlice(img image.Image, filename string) error {
	file, err := os.Create(filename)
	if err != nil {
		return err
	}
	if err := png.Encode(file, img); err != nil {
		file.Close()
		return err
	}
	return file.Close()
}

// SaveOrthogonalPreviews writes the middle slice along each axis to
// <outputDir>/<prefix>_{x,y,z}.png and returns the paths.
func (v *Viewer) SaveOrthogonalPreviews(outputDir, prefix string) ([]string, error) {
	if err := os.MkdirAll(outputDir, 0755); err != nil {
		return nil, err
	}
	mid := map[string]int{"x": v.vol.Width / 2, "y": v.vol.Height / 2, "z": v.vol.Depth / 2}

	var paths []string
	for _, axis := range []string{"x", "y", "z"} {
		img, err := v.ExtractSlice(axis, mid[axis])
		if err != nil {
			return paths, err
		}
		filename := filepath.Join(outputDir, fmt.Sprintf("%s_%s.png", prefix, axis))
		if err := v.SaveSlice(img, filename); err != nil {
			return paths, err
		}
		paths = append(paths, filename)
	}
	return paths, nil
}
