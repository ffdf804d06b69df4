// Package warp rescales deltas authored against a reference character to
// the current character. Three axis factors come from the extent of three
// keypoint pairs, measured along their axis on both characters.
package warp

import (
	"github.com/chewxy/math32"

	"github.com/Faultbox/mhcore/internal/engine/targets"
	"github.com/Faultbox/mhcore/pkg/math"
)

// MinExtent is the smallest reference keypoint extent treated as non-zero.
// Smaller extents give a factor of 1 on that axis.
const MinExtent = 1e-6

// Weighted is a target with its accumulated weight.
type Weighted struct {
	Target *targets.Target
	Weight float32
}

// Position returns rest displaced by every weighted target touching vertex
// v, accumulated in the given order.
func Position(rest math.Vec3, v uint32, stack []Weighted) math.Vec3 {
	p := rest
	for _, w := range stack {
		if d, ok := w.Target.Delta(v); ok {
			p = p.MulAdd(d, w.Weight)
		}
	}
	return p
}

// Keypoints evaluates the six keypoint positions.
func Keypoints(kp [6]uint32, rest []math.Vec3, stack []Weighted) [6]math.Vec3 {
	var out [6]math.Vec3
	for i, v := range kp {
		out[i] = Position(rest[v], v, stack)
	}
	return out
}

// Factors returns s_axis = |current extent| / |reference extent| where the
// extent of axis a is the a-component distance of keypoints 2a and 2a+1.
func Factors(current, reference [6]math.Vec3) math.Vec3 {
	var s [3]float32
	for a := 0; a < 3; a++ {
		ref := math32.Abs(reference[2*a].Axis(a) - reference[2*a+1].Axis(a))
		if ref < MinExtent {
			s[a] = 1
			continue
		}
		cur := math32.Abs(current[2*a].Axis(a) - current[2*a+1].Axis(a))
		s[a] = cur / ref
	}
	return math.Vec3{X: s[0], Y: s[1], Z: s[2]}
}

// Scale applies per-axis factors to an authored delta.
func Scale(d, s math.Vec3) math.Vec3 {
	return math.Vec3{X: float32(d.X * s.X), Y: float32(d.Y * s.Y), Z: float32(d.Z * s.Z)}
}

// Identity is the factor triple of an unwarped delta.
var Identity = math.Vec3{X: 1, Y: 1, Z: 1}
