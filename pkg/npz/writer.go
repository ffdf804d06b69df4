package npz

import (
	"archive/zip"
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"strings"
)

// Writer builds a .npz archive entry by entry.
type Writer struct {
	zw *zip.Writer
}

// NewWriter returns a Writer that writes the archive to w.
func NewWriter(w io.Writer) *Writer {
	return &Writer{zw: zip.NewWriter(w)}
}

// Close finishes the zip directory. It does not close the underlying writer.
func (w *Writer) Close() error {
	return w.zw.Close()
}

// WriteUint16s stores a uint16 array with the given shape.
func (w *Writer) WriteUint16s(name string, shape []int, data []uint16) error {
	buf := make([]byte, len(data)*2)
	for i, v := range data {
		binary.LittleEndian.PutUint16(buf[i*2:], v)
	}
	return w.write(name, Uint16, shape, buf)
}

// WriteUint32s stores a uint32 array with the given shape.
func (w *Writer) WriteUint32s(name string, shape []int, data []uint32) error {
	buf := make([]byte, len(data)*4)
	for i, v := range data {
		binary.LittleEndian.PutUint32(buf[i*4:], v)
	}
	return w.write(name, Uint32, shape, buf)
}

// WriteInt16s stores an int16 array with the given shape.
func (w *Writer) WriteInt16s(name string, shape []int, data []int16) error {
	buf := make([]byte, len(data)*2)
	for i, v := range data {
		binary.LittleEndian.PutUint16(buf[i*2:], uint16(v))
	}
	return w.write(name, Int16, shape, buf)
}

// WriteFloat32s stores a float32 array with the given shape. An empty shape
// stores a scalar.
func (w *Writer) WriteFloat32s(name string, shape []int, data []float32) error {
	buf := make([]byte, len(data)*4)
	for i, v := range data {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(v))
	}
	return w.write(name, Float32, shape, buf)
}

func (w *Writer) write(name, dtype string, shape []int, payload []byte) error {
	n := 1
	for _, d := range shape {
		n *= d
	}
	if n*itemSize(dtype) != len(payload) {
		return fmt.Errorf("npz: %s: shape %v does not match %d bytes", name, shape, len(payload))
	}

	f, err := w.zw.Create(name + ".npy")
	if err != nil {
		return err
	}
	if _, err := f.Write(npyHeader(dtype, shape)); err != nil {
		return err
	}
	_, err = f.Write(payload)
	return err
}

// npyHeader renders a version 1.0 header padded to a 64-byte boundary.
func npyHeader(dtype string, shape []int) []byte {
	dims := make([]string, len(shape))
	for i, d := range shape {
		dims[i] = fmt.Sprint(d)
	}
	shapeStr := strings.Join(dims, ", ")
	if len(shape) == 1 {
		shapeStr += ","
	}
	dict := fmt.Sprintf("{'descr': '%s', 'fortran_order': False, 'shape': (%s), }", dtype, shapeStr)

	const preamble = 10
	total := preamble + len(dict) + 1
	pad := (64 - total%64) % 64
	dict += strings.Repeat(" ", pad) + "\n"

	var buf bytes.Buffer
	buf.WriteString(npyMagic)
	buf.WriteByte(1)
	buf.WriteByte(0)
	binary.Write(&buf, binary.LittleEndian, uint16(len(dict)))
	buf.WriteString(dict)
	return buf.Bytes()
}
