// Package volumeio loads and saves 3D volumes. The analysis pipeline only
// depends on the Store interface; NRRDStore is the concrete on-disk format.
package volumeio

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/klauspost/compress/gzip"

	"phenostats/internal/models"
)

// Store reads and writes volumes by path.
type Store interface {
	Load(path string) (*models.Volume, error)
	Save(vol *models.Volume, path string) error
}

// NRRDStore reads attached-header NRRD files with raw or gzip encoding and
// writes float32 NRRD files.
type NRRDStore struct {
	// Compress selects gzip encoding for saved volumes.
	Compress bool
}

const nrrdMagic = "NRRD000"

type nrrdHeader struct {
	sampleType string
	sizes      []int
	encoding   string
	order      binary.ByteOrder
	spacing    []float64
}

// Load reads a scalar (dimension 3) or vector (dimension 4, component axis
// first) volume.
func (s NRRDStore) Load(path string) (*models.Volume, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrIO, err)
	}
	defer f.Close()

	r := bufio.NewReader(f)
	hdr, err := readHeader(r)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", models.ErrIO, path, err)
	}

	vol := &models.Volume{Components: 1}
	axes := hdr.sizes
	spacing := hdr.spacing
	switch len(axes) {
	case 3:
	case 4:
		vol.Components = axes[0]
		axes = axes[1:]
		if len(spacing) == 4 {
			spacing = spacing[1:]
		}
	default:
		return nil, fmt.Errorf("%w: %s: unsupported dimension %d", models.ErrIO, path, len(axes))
	}
	vol.Width, vol.Height, vol.Depth = axes[0], axes[1], axes[2]
	if len(spacing) == 3 {
		vol.VoxelSize.X, vol.VoxelSize.Y, vol.VoxelSize.Z = spacing[0], spacing[1], spacing[2]
	}

	var body io.Reader = r
	switch hdr.encoding {
	case "raw":
	case "gzip", "gz":
		zr, err := gzip.NewReader(r)
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %v", models.ErrIO, path, err)
		}
		defer zr.Close()
		body = zr
	default:
		return nil, fmt.Errorf("%w: %s: unsupported encoding %q", models.ErrIO, path, hdr.encoding)
	}

	n := vol.Shape().Len() * vol.NumComponents()
	vol.Data, err = readSamples(body, hdr.sampleType, hdr.order, n)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", models.ErrIO, path, err)
	}
	return vol, nil
}

// Save writes vol as float32 samples, creating parent directories as needed.
func (s NRRDStore) Save(vol *models.Volume, path string) error {
	if err := vol.Validate(); err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("%w: %v", models.ErrIO, err)
	}

	var hdr bytes.Buffer
	hdr.WriteString("NRRD0004\n")
	hdr.WriteString("type: float\n")
	sx, sy, sz := spacingOrOne(vol)
	if vol.NumComponents() > 1 {
		fmt.Fprintf(&hdr, "dimension: 4\nsizes: %d %d %d %d\n", vol.NumComponents(), vol.Width, vol.Height, vol.Depth)
		fmt.Fprintf(&hdr, "kinds: vector domain domain domain\n")
		fmt.Fprintf(&hdr, "space directions: none (%g,0,0) (0,%g,0) (0,0,%g)\n", sx, sy, sz)
	} else {
		fmt.Fprintf(&hdr, "dimension: 3\nsizes: %d %d %d\n", vol.Width, vol.Height, vol.Depth)
		fmt.Fprintf(&hdr, "space directions: (%g,0,0) (0,%g,0) (0,0,%g)\n", sx, sy, sz)
	}
	hdr.WriteString("space: left-posterior-superior\n")
	hdr.WriteString("endian: little\n")
	if s.Compress {
		hdr.WriteString("encoding: gzip\n")
	} else {
		hdr.WriteString("encoding: raw\n")
	}
	hdr.WriteString("\n")

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("%w: %v", models.ErrIO, err)
	}
	w := bufio.NewWriter(f)
	if _, err := w.Write(hdr.Bytes()); err != nil {
		f.Close()
		return fmt.Errorf("%w: %s: %v", models.ErrIO, path, err)
	}

	var body io.Writer = w
	var zw *gzip.Writer
	if s.Compress {
		zw = gzip.NewWriter(w)
		body = zw
	}
	buf := make([]byte, 4)
	for _, v := range vol.Data {
		binary.LittleEndian.PutUint32(buf, math.Float32bits(float32(v)))
		if _, err := body.Write(buf); err != nil {
			f.Close()
			return fmt.Errorf("%w: %s: %v", models.ErrIO, path, err)
		}
	}
	if zw != nil {
		if err := zw.Close(); err != nil {
			f.Close()
			return fmt.Errorf("%w: %s: %v", models.ErrIO, path, err)
		}
	}
	if err := w.Flush(); err != nil {
		f.Close()
		return fmt.Errorf("%w: %s: %v", models.ErrIO, path, err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("%w: %s: %v", models.ErrIO, path, err)
	}
	return nil
}

func spacingOrOne(vol *models.Volume) (float64, float64, float64) {
	x, y, z := vol.VoxelSize.X, vol.VoxelSize.Y, vol.VoxelSize.Z
	if x == 0 || y == 0 || z == 0 {
		return 1, 1, 1
	}
	return x, y, z
}

func readHeader(r *bufio.Reader) (*nrrdHeader, error) {
	magic, err := r.ReadString('\n')
	if err != nil {
		return nil, fmt.Errorf("reading magic: %v", err)
	}
	if !strings.HasPrefix(magic, nrrdMagic) {
		return nil, fmt.Errorf("not an NRRD file")
	}

	hdr := &nrrdHeader{encoding: "raw", order: binary.LittleEndian}
	for {
		line, err := r.ReadString('\n')
		if err != nil {
			return nil, fmt.Errorf("truncated header: %v", err)
		}
		line = strings.TrimRight(line, "\r\n")
		if line == "" {
			break
		}
		if strings.HasPrefix(line, "#") || strings.Contains(line, ":=") {
			continue
		}
		key, value, ok := strings.Cut(line, ":")
		if !ok {
			return nil, fmt.Errorf("malformed header line %q", line)
		}
		value = strings.TrimSpace(value)

		switch strings.ToLower(strings.TrimSpace(key)) {
		case "type":
			hdr.sampleType = canonicalType(value)
		case "sizes":
			for _, field := range strings.Fields(value) {
				n, err := strconv.Atoi(field)
				if err != nil || n < 1 {
					return nil, fmt.Errorf("bad size %q", field)
				}
				hdr.sizes = append(hdr.sizes, n)
			}
		case "encoding":
			hdr.encoding = strings.ToLower(value)
		case "endian":
			if strings.ToLower(value) == "big" {
				hdr.order = binary.BigEndian
			}
		case "spacings":
			hdr.spacing = hdr.spacing[:0]
			for _, field := range strings.Fields(value) {
				v, err := strconv.ParseFloat(field, 64)
				if err != nil {
					v = math.NaN()
				}
				hdr.spacing = append(hdr.spacing, v)
			}
		case "space directions":
			hdr.spacing = parseDirections(value)
		case "data file", "datafile":
			return nil, fmt.Errorf("detached data files are not supported")
		}
	}
	if hdr.sampleType == "" {
		return nil, fmt.Errorf("missing type field")
	}
	if len(hdr.sizes) == 0 {
		return nil, fmt.Errorf("missing sizes field")
	}
	return hdr, nil
}

// parseDirections turns "(a,0,0) (0,b,0) (0,0,c)" into the vector norms.
// A "none" entry (the component axis of vector volumes) yields NaN.
func parseDirections(value string) []float64 {
	var out []float64
	for _, field := range strings.Fields(value) {
		if field == "none" {
			out = append(out, math.NaN())
			continue
		}
		field = strings.Trim(field, "()")
		var sum float64
		for _, c := range strings.Split(field, ",") {
			v, err := strconv.ParseFloat(strings.TrimSpace(c), 64)
			if err != nil {
				continue
			}
			sum += v * v
		}
		out = append(out, math.Sqrt(sum))
	}
	return out
}

func canonicalType(t string) string {
	switch strings.ToLower(t) {
	case "signed char", "int8", "int8_t":
		return "int8"
	case "uchar", "unsigned char", "uint8", "uint8_t":
		return "uint8"
	case "short", "short int", "signed short", "signed short int", "int16", "int16_t":
		return "int16"
	case "ushort", "unsigned short", "unsigned short int", "uint16", "uint16_t":
		return "uint16"
	case "int", "signed int", "int32", "int32_t":
		return "int32"
	case "uint", "unsigned int", "uint32", "uint32_t":
		return "uint32"
	case "longlong", "long long", "long long int", "signed long long", "signed long long int", "int64", "int64_t":
		return "int64"
	case "ulonglong", "unsigned long long", "unsigned long long int", "uint64", "uint64_t":
		return "uint64"
	case "float":
		return "float32"
	case "double":
		return "float64"
	}
	return t
}

func sampleSize(t string) int {
	switch t {
	case "int8", "uint8":
		return 1
	case "int16", "uint16":
		return 2
	case "int32", "uint32", "float32":
		return 4
	case "int64", "uint64", "float64":
		return 8
	}
	return 0
}

func readSamples(r io.Reader, sampleType string, order binary.ByteOrder, n int) ([]float64, error) {
	size := sampleSize(sampleType)
	if size == 0 {
		return nil, fmt.Errorf("unsupported sample type %q", sampleType)
	}
	raw := make([]byte, n*size)
	if _, err := io.ReadFull(r, raw); err != nil {
		return nil, fmt.Errorf("reading %d samples: %v", n, err)
	}

	out := make([]float64, n)
	for i := range out {
		b := raw[i*size : (i+1)*size]
		switch sampleType {
		case "int8":
			out[i] = float64(int8(b[0]))
		case "uint8":
			out[i] = float64(b[0])
		case "int16":
			out[i] = float64(int16(order.Uint16(b)))
		case "uint16":
			out[i] = float64(order.Uint16(b))
		case "int32":
			out[i] = float64(int32(order.Uint32(b)))
		case "uint32":
			out[i] = float64(order.Uint32(b))
		case "int64":
			out[i] = float64(int64(order.Uint64(b)))
		case "uint64":
			out[i] = float64(order.Uint64(b))
		case "float32":
			out[i] = float64(math.Float32frombits(order.Uint32(b)))
		case "float64":
			out[i] = math.Float64frombits(order.Uint64(b))
		}
	}
	return out, nil
}
