package targets

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"github.com/Faultbox/mhcore/pkg/math"
	"github.com/Faultbox/mhcore/pkg/npz"
)

// Array names inside a compiled target archive.
const (
	arrayVerts = "vrtx"
	arrayData  = "data"
	arrayScale = "scale"
)

// decodeBinary builds a target from a compiled archive.
func decodeBinary(key string, data []byte, numVerts int) (*Target, error) {
	ar, err := npz.Read(data)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrMalformedTarget, key, err)
	}
	verts, err := ar.Uint32s(arrayVerts)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrMalformedTarget, key, err)
	}
	raw, err := ar.Int16s(arrayData)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrMalformedTarget, key, err)
	}
	scale := DeltaScale
	if ar.Contains(arrayScale) {
		s, err := ar.Float32s(arrayScale)
		if err != nil || len(s) != 1 {
			return nil, fmt.Errorf("%w: %s: bad scale array", ErrMalformedTarget, key)
		}
		scale = s[0]
	}
	if len(raw) != len(verts)*3 {
		return nil, fmt.Errorf("%w: %s: %d indices, %d delta values", ErrMalformedTarget, key, len(verts), len(raw))
	}
	deltas := make([]math.Vec3, len(verts))
	for k := range deltas {
		deltas[k] = math.Vec3{
			X: float32(raw[k*3]) * scale,
			Y: float32(raw[k*3+1]) * scale,
			Z: float32(raw[k*3+2]) * scale,
		}
	}
	return New(key, verts, deltas, numVerts)
}

// encodeBinary renders the compiled form. quantised holds the int16 deltas,
// three per vertex.
func encodeBinary(verts []uint32, quantised []int16) ([]byte, error) {
	var buf bytes.Buffer
	w := npz.NewWriter(&buf)

	shape := []int{len(verts)}
	wide := len(verts) > 0 && verts[len(verts)-1] > 0xFFFF
	if wide {
		if err := w.WriteUint32s(arrayVerts, shape, verts); err != nil {
			return nil, err
		}
	} else {
		narrow := make([]uint16, len(verts))
		for i, v := range verts {
			narrow[i] = uint16(v)
		}
		if err := w.WriteUint16s(arrayVerts, shape, narrow); err != nil {
			return nil, err
		}
	}
	if err := w.WriteInt16s(arrayData, []int{len(verts), 3}, quantised); err != nil {
		return nil, err
	}
	if err := w.WriteFloat32s(arrayScale, nil, []float32{DeltaScale}); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// writeFileAtomic writes data next to path and renames it into place so
// concurrent readers never observe a partial archive.
func writeFileAtomic(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), ".target-*.tmp")
	if err != nil {
		return err
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), path)
}
