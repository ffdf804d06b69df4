// Package npz reads and writes NumPy .npz archives: zip files holding one
// .npy array per entry. Only little-endian uint16, int16, uint32 and float32
// arrays in C order are supported, which covers compiled target files.
package npz

import (
	"archive/zip"
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"strconv"
	"strings"
)

const npyMagic = "\x93NUMPY"

// Archive errors.
var (
	ErrInvalidMagic     = errors.New("invalid npy magic")
	ErrUnsupportedDType = errors.New("unsupported npy dtype")
	ErrMissingArray     = errors.New("array not found in archive")
	ErrTruncated        = errors.New("truncated npy data")
)

// DTypes understood by the reader and writer.
const (
	Uint16  = "<u2"
	Int16   = "<i2"
	Uint32  = "<u4"
	Float32 = "<f4"
)

func itemSize(dtype string) int {
	switch dtype {
	case Uint16, Int16:
		return 2
	case Uint32, Float32:
		return 4
	default:
		return 0
	}
}

// Array is one decoded .npy entry.
type Array struct {
	Name  string
	DType string
	Shape []int
	Data  []byte // raw little-endian payload
}

// Len returns the number of elements.
func (a *Array) Len() int {
	n := 1
	for _, d := range a.Shape {
		n *= d
	}
	return n
}

// Archive represents an opened .npz archive.
type Archive struct {
	arrays map[string]*Array
}

// Open reads a .npz archive from disk.
func Open(path string) (*Archive, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("opening file: %w", err)
	}
	return Read(data)
}

// Read decodes a .npz archive held in memory.
func Read(data []byte) (*Archive, error) {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("reading zip directory: %w", err)
	}

	archive := &Archive{arrays: make(map[string]*Array)}
	for _, f := range zr.File {
		rc, err := f.Open()
		if err != nil {
			return nil, fmt.Errorf("opening %s: %w", f.Name, err)
		}
		raw, err := io.ReadAll(rc)
		rc.Close()
		if err != nil {
			return nil, fmt.Errorf("reading %s: %w", f.Name, err)
		}

		name := strings.TrimSuffix(f.Name, ".npy")
		arr, err := parseNPY(name, raw)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", f.Name, err)
		}
		archive.arrays[name] = arr
	}
	return archive, nil
}

// List returns the array names in the archive.
func (a *Archive) List() []string {
	result := make([]string, 0, len(a.arrays))
	for name := range a.arrays {
		result = append(result, name)
	}
	return result
}

// Contains checks if an array exists.
func (a *Archive) Contains(name string) bool {
	_, ok := a.arrays[name]
	return ok
}

// Array returns the named array.
func (a *Archive) Array(name string) (*Array, error) {
	arr, ok := a.arrays[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrMissingArray, name)
	}
	return arr, nil
}

// Uint32s returns the named integer array widened to uint32. Both uint16
// and uint32 payloads are accepted.
func (a *Archive) Uint32s(name string) ([]uint32, error) {
	arr, err := a.Array(name)
	if err != nil {
		return nil, err
	}
	n := arr.Len()
	out := make([]uint32, n)
	switch arr.DType {
	case Uint16:
		for i := range out {
			out[i] = uint32(binary.LittleEndian.Uint16(arr.Data[i*2:]))
		}
	case Uint32:
		for i := range out {
			out[i] = binary.LittleEndian.Uint32(arr.Data[i*4:])
		}
	default:
		return nil, fmt.Errorf("%w: %s is %s, want unsigned", ErrUnsupportedDType, name, arr.DType)
	}
	return out, nil
}

// Int16s returns the named int16 array.
func (a *Archive) Int16s(name string) ([]int16, error) {
	arr, err := a.Array(name)
	if err != nil {
		return nil, err
	}
	if arr.DType != Int16 {
		return nil, fmt.Errorf("%w: %s is %s, want %s", ErrUnsupportedDType, name, arr.DType, Int16)
	}
	out := make([]int16, arr.Len())
	for i := range out {
		out[i] = int16(binary.LittleEndian.Uint16(arr.Data[i*2:]))
	}
	return out, nil
}

// Float32s returns the named float32 array.
func (a *Archive) Float32s(name string) ([]float32, error) {
	arr, err := a.Array(name)
	if err != nil {
		return nil, err
	}
	if arr.DType != Float32 {
		return nil, fmt.Errorf("%w: %s is %s, want %s", ErrUnsupportedDType, name, arr.DType, Float32)
	}
	out := make([]float32, arr.Len())
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(arr.Data[i*4:]))
	}
	return out, nil
}

func parseNPY(name string, raw []byte) (*Array, error) {
	if len(raw) < 10 || string(raw[:6]) != npyMagic {
		return nil, ErrInvalidMagic
	}
	major := raw[6]
	var headerLen, offset int
	switch major {
	case 1:
		headerLen = int(binary.LittleEndian.Uint16(raw[8:]))
		offset = 10
	case 2, 3:
		if len(raw) < 12 {
			return nil, ErrTruncated
		}
		headerLen = int(binary.LittleEndian.Uint32(raw[8:]))
		offset = 12
	default:
		return nil, fmt.Errorf("unsupported npy version %d", major)
	}
	if offset+headerLen > len(raw) {
		return nil, ErrTruncated
	}
	header := string(raw[offset : offset+headerLen])

	dtype, err := headerValue(header, "descr")
	if err != nil {
		return nil, err
	}
	dtype = strings.Trim(dtype, "'\"")
	// Single-byte types carry '|' instead of an endianness marker.
	if itemSize(dtype) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedDType, dtype)
	}
	if order, err := headerValue(header, "fortran_order"); err == nil && order == "True" {
		return nil, fmt.Errorf("%w: fortran order", ErrUnsupportedDType)
	}
	shapeStr, err := headerValue(header, "shape")
	if err != nil {
		return nil, err
	}
	shape, err := parseShape(shapeStr)
	if err != nil {
		return nil, err
	}

	arr := &Array{Name: name, DType: dtype, Shape: shape}
	size := arr.Len() * itemSize(dtype)
	body := raw[offset+headerLen:]
	if len(body) < size {
		return nil, ErrTruncated
	}
	arr.Data = body[:size]
	return arr, nil
}

// headerValue extracts the textual value for key from a npy header dict.
func headerValue(header, key string) (string, error) {
	idx := strings.Index(header, "'"+key+"'")
	if idx < 0 {
		return "", fmt.Errorf("npy header missing %q", key)
	}
	rest := header[idx+len(key)+2:]
	colon := strings.IndexByte(rest, ':')
	if colon < 0 {
		return "", fmt.Errorf("npy header malformed near %q", key)
	}
	rest = strings.TrimSpace(rest[colon+1:])
	if strings.HasPrefix(rest, "(") {
		end := strings.IndexByte(rest, ')')
		if end < 0 {
			return "", fmt.Errorf("npy header malformed shape")
		}
		return rest[:end+1], nil
	}
	end := strings.IndexAny(rest, ",}")
	if end < 0 {
		end = len(rest)
	}
	return strings.TrimSpace(rest[:end]), nil
}

func parseShape(s string) ([]int, error) {
	s = strings.Trim(s, "() ")
	if s == "" {
		return []int{}, nil
	}
	var shape []int
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		n, err := strconv.Atoi(part)
		if err != nil {
			return nil, fmt.Errorf("npy shape %q: %w", s, err)
		}
		shape = append(shape, n)
	}
	return shape, nil
}
