// Package targets loads, validates and caches sparse vertex-delta targets.
package targets

import (
	"errors"
	"fmt"
	stdmath "math"
	"sort"
	"time"

	"github.com/Faultbox/mhcore/pkg/math"
)

// Target errors.
var (
	ErrMalformedTarget = errors.New("malformed target")
	ErrUnknownTarget   = errors.New("unknown target")
)

// DeltaScale is the fixed scale of quantised int16 deltas. Text targets are
// quantised with the same scale so both forms decode to identical floats.
const DeltaScale float32 = 1e-3

// Target is an immutable sparse vertex delta. Verts is strictly increasing.
type Target struct {
	Path  string
	Verts []uint32
	Data  []math.Vec3
}

// New validates verts and data against a mesh of numVerts vertices.
func New(path string, verts []uint32, data []math.Vec3, numVerts int) (*Target, error) {
	t := &Target{Path: path, Verts: verts, Data: data}
	if err := t.Validate(numVerts); err != nil {
		return nil, err
	}
	return t, nil
}

// Validate checks length agreement, strict monotonicity and index range.
func (t *Target) Validate(numVerts int) error {
	if len(t.Verts) != len(t.Data) {
		return fmt.Errorf("%w: %s: %d indices, %d deltas", ErrMalformedTarget, t.Path, len(t.Verts), len(t.Data))
	}
	for k, v := range t.Verts {
		if k > 0 && v <= t.Verts[k-1] {
			return fmt.Errorf("%w: %s: index %d at position %d not above %d", ErrMalformedTarget, t.Path, v, k, t.Verts[k-1])
		}
		if int(v) >= numVerts {
			return fmt.Errorf("%w: %s: index %d out of range [0,%d)", ErrMalformedTarget, t.Path, v, numVerts)
		}
	}
	return nil
}

// Len returns the number of displaced vertices.
func (t *Target) Len() int { return len(t.Verts) }

// Search returns the first position k with Verts[k] >= v.
func (t *Target) Search(v uint32) int {
	return sort.Search(len(t.Verts), func(k int) bool { return t.Verts[k] >= v })
}

// Delta returns the delta of vertex v, if the target displaces it.
func (t *Target) Delta(v uint32) (math.Vec3, bool) {
	k := t.Search(v)
	if k < len(t.Verts) && t.Verts[k] == v {
		return t.Data[k], true
	}
	return math.Vec3{}, false
}

// Sum returns the sum of all deltas.
func (t *Target) Sum() math.Vec3 {
	var s math.Vec3
	for _, d := range t.Data {
		s = s.Add(d)
	}
	return s
}

// quantize maps a text delta onto the binary grid. ok is false when the
// value does not fit an int16, in which case the parsed value is kept.
func quantize(x float32) (q int16, v float32, ok bool) {
	r := stdmath.Round(float64(x) / float64(DeltaScale))
	if r < stdmath.MinInt16 || r > stdmath.MaxInt16 {
		return 0, x, false
	}
	q = int16(r)
	return q, float32(q) * DeltaScale, true
}

// IsStale reports whether a compiled cache written at cacheMtime must be
// rebuilt from a source modified at srcMtime.
func IsStale(srcMtime, cacheMtime time.Time) bool {
	return srcMtime.After(cacheMtime)
}
