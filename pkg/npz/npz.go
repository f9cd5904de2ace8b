// Package npz writes and reads uncompressed .npz archives of 1D float64
// arrays, the raw statistics format consumed by downstream tooling.
package npz

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"github.com/klauspost/compress/zip"
)

// Array is a named vector stored as <Name>.npy inside the archive.
type Array struct {
	Name string
	Data []float64
}

var npyMagic = []byte("\x93NUMPY")

// Write stores arrays in order without compression.
func Write(path string, arrays ...Array) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("creating archive directory: %w", err)
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating archive: %w", err)
	}

	zw := zip.NewWriter(f)
	for _, a := range arrays {
		w, err := zw.CreateHeader(&zip.FileHeader{Name: a.Name + ".npy", Method: zip.Store})
		if err != nil {
			f.Close()
			return fmt.Errorf("adding %s: %w", a.Name, err)
		}
		if err := writeNPY(w, a.Data); err != nil {
			f.Close()
			return fmt.Errorf("writing %s: %w", a.Name, err)
		}
	}
	if err := zw.Close(); err != nil {
		f.Close()
		return fmt.Errorf("finalising archive: %w", err)
	}
	return f.Close()
}

// Read returns every array in the archive keyed by name.
func Read(path string) (map[string][]float64, error) {
	zr, err := zip.OpenReader(path)
	if err != nil {
		return nil, fmt.Errorf("opening archive: %w", err)
	}
	defer zr.Close()

	out := make(map[string][]float64, len(zr.File))
	for _, file := range zr.File {
		rc, err := file.Open()
		if err != nil {
			return nil, fmt.Errorf("opening %s: %w", file.Name, err)
		}
		data, err := readNPY(rc)
		rc.Close()
		if err != nil {
			return nil, fmt.Errorf("reading %s: %w", file.Name, err)
		}
		out[strings.TrimSuffix(file.Name, ".npy")] = data
	}
	return out, nil
}

func writeNPY(w io.Writer, data []float64) error {
	dict := fmt.Sprintf("{'descr': '<f8', 'fortran_order': False, 'shape': (%d,), }", len(data))
	// magic(6) + version(2) + length(2) + dict + newline is padded to 64 bytes.
	total := 10 + len(dict) + 1
	if rem := total % 64; rem != 0 {
		dict += strings.Repeat(" ", 64-rem)
	}
	dict += "\n"

	var hdr bytes.Buffer
	hdr.Write(npyMagic)
	hdr.Write([]byte{1, 0})
	binary.Write(&hdr, binary.LittleEndian, uint16(len(dict)))
	hdr.WriteString(dict)
	if _, err := w.Write(hdr.Bytes()); err != nil {
		return err
	}

	buf := make([]byte, 8*len(data))
	for i, v := range data {
		binary.LittleEndian.PutUint64(buf[i*8:], math.Float64bits(v))
	}
	_, err := w.Write(buf)
	return err
}

var shapeRE = regexp.MustCompile(`'shape':\s*\((\d*),?\s*\)`)

func readNPY(r io.Reader) ([]float64, error) {
	pre := make([]byte, 10)
	if _, err := io.ReadFull(r, pre); err != nil {
		return nil, err
	}
	if !bytes.Equal(pre[:6], npyMagic) {
		return nil, fmt.Errorf("not an npy array")
	}
	var hlen int
	switch pre[6] {
	case 1:
		hlen = int(binary.LittleEndian.Uint16(pre[8:10]))
	case 2, 3:
		ext := make([]byte, 2)
		if _, err := io.ReadFull(r, ext); err != nil {
			return nil, err
		}
		hlen = int(binary.LittleEndian.Uint32(append(pre[8:10:10], ext...)))
	default:
		return nil, fmt.Errorf("unsupported npy version %d", pre[6])
	}

	dict := make([]byte, hlen)
	if _, err := io.ReadFull(r, dict); err != nil {
		return nil, err
	}
	header := string(dict)
	if !strings.Contains(header, "'<f8'") {
		return nil, fmt.Errorf("unsupported dtype in header %q", strings.TrimSpace(header))
	}
	m := shapeRE.FindStringSubmatch(header)
	if m == nil {
		return nil, fmt.Errorf("unsupported shape in header %q", strings.TrimSpace(header))
	}
	n := 1
	if m[1] != "" {
		var err error
		if n, err = strconv.Atoi(m[1]); err != nil {
			return nil, err
		}
	}

	buf := make([]byte, 8*n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, err
	}
	out := make([]float64, n)
	for i := range out {
		out[i] = math.Float64frombits(binary.LittleEndian.Uint64(buf[i*8:]))
	}
	return out, nil
}
