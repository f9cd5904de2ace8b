package assembly

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"

	"phenostats/internal/models"
)

// ROI is an inclusive-exclusive box in voxel coordinates used for intensity
// normalisation.
type ROI struct {
	Start [3]int `yaml:"start"` // x, y, z
	End   [3]int `yaml:"end"`
}

// fwhmToSigma converts a full width at half maximum to a standard deviation.
var fwhmToSigma = 1 / (2 * math.Sqrt(2*math.Ln2))

// Normalise subtracts the mean intensity inside roi from every voxel.
func Normalise(vol *models.Volume, roi ROI) (*models.Volume, error) {
	for axis, size := range []int{vol.Width, vol.Height, vol.Depth} {
		if roi.Start[axis] < 0 || roi.End[axis] > size || roi.Start[axis] >= roi.End[axis] {
			return nil, fmt.Errorf("%w: normalisation roi %v-%v outside volume %v", models.ErrShapeMismatch, roi.Start, roi.End, vol.Shape())
		}
	}
	var sum float64
	var n int
	for z := roi.Start[2]; z < roi.End[2]; z++ {
		for y := roi.Start[1]; y < roi.End[1]; y++ {
			row := vol.Index(roi.Start[0], y, z)
			sum += floats.Sum(vol.Data[row : row+roi.End[0]-roi.Start[0]])
			n += roi.End[0] - roi.Start[0]
		}
	}
	out := *vol
	out.Data = make([]float64, len(vol.Data))
	copy(out.Data, vol.Data)
	floats.AddConst(-sum/float64(n), out.Data)
	return &out, nil
}

// Smooth applies a separable Gaussian blur. fwhm and voxelSize share the
// same physical unit. Edges are extended with the nearest voxel.
func Smooth(vol *models.Volume, fwhm, voxelSize float64) *models.Volume {
	out := *vol
	out.Data = make([]float64, len(vol.Data))
	copy(out.Data, vol.Data)
	if fwhm <= 0 || voxelSize <= 0 {
		return &out
	}
	kernel := gaussianKernel(fwhm * fwhmToSigma / voxelSize)
	if len(kernel) == 1 {
		return &out
	}

	scratch := make([]float64, len(out.Data))
	w, h, d := vol.Width, vol.Height, vol.Depth
	// x, y then z; each pass reads out and writes scratch, then swaps.
	passes := []struct{ n, stride int }{{w, 1}, {h, w}, {d, w * h}}
	for _, p := range passes {
		convolveAxis(out.Data, scratch, kernel, p.n, p.stride)
		out.Data, scratch = scratch, out.Data
	}
	return &out
}

func gaussianKernel(sigma float64) []float64 {
	radius := int(math.Ceil(3 * sigma))
	k := make([]float64, 2*radius+1)
	for i := range k {
		x := float64(i - radius)
		k[i] = math.Exp(-x * x / (2 * sigma * sigma))
	}
	floats.Scale(1/floats.Sum(k), k)
	return k
}

// convolveAxis blurs every line of n voxels spaced stride apart.
func convolveAxis(src, dst, kernel []float64, n, stride int) {
	radius := len(kernel) / 2
	for start := range src {
		// start must be the first voxel of a line along this axis
		if (start/stride)%n != 0 {
			continue
		}
		for i := 0; i < n; i++ {
			var acc float64
			for k, weight := range kernel {
				j := i + k - radius
				if j < 0 {
					j = 0
				} else if j >= n {
					j = n - 1
				}
				acc += weight * src[start+j*stride]
			}
			dst[start+i*stride] = acc
		}
	}
}

// VectorMagnitude collapses a multi-component volume to the euclidean norm
// of each voxel. Scalar volumes are returned unchanged.
func VectorMagnitude(vol *models.Volume) *models.Volume {
	c := vol.NumComponents()
	if c == 1 {
		return vol
	}
	out := models.NewVolume(vol.Shape())
	out.VoxelSize = vol.VoxelSize
	for i := range out.Data {
		out.Data[i] = floats.Norm(vol.Data[i*c:(i+1)*c], 2)
	}
	return out
}
