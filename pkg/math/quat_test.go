package math

import (
	"math"
	"testing"
)

func TestQuatIdentity(t *testing.T) {
	q := QuatIdentity()
	if q.X != 0 || q.Y != 0 || q.Z != 0 || q.W != 1 {
		t.Errorf("Identity quaternion should be (0,0,0,1), got (%v,%v,%v,%v)", q.X, q.Y, q.Z, q.W)
	}
	if !q.IsIdentity(0) {
		t.Error("IsIdentity(0) should hold for the identity")
	}
}

func TestQuatNormalize(t *testing.T) {
	n := Quat{X: 1, Y: 2, Z: 3, W: 4}.Normalize()
	length := float32(math.Sqrt(float64(n.X*n.X + n.Y*n.Y + n.Z*n.Z + n.W*n.W)))
	if abs(length-1) > 0.0001 {
		t.Errorf("Normalized quaternion length should be 1, got %v", length)
	}
}

func TestQuatSlerp(t *testing.T) {
	q1 := QuatIdentity()
	q2 := QuatFromAxisAngle(Vec3{X: 0, Y: 1, Z: 0}, float32(math.Pi/2))

	if r := q1.Slerp(q2, 0); abs(r.W-q1.W) > 0.001 {
		t.Errorf("Slerp at t=0 should equal q1")
	}
	if r := q1.Slerp(q2, 1); abs(r.W-q2.W) > 0.001 {
		t.Errorf("Slerp at t=1 should equal q2")
	}
	expectedW := float32(math.Cos(math.Pi / 8))
	if r := q1.Slerp(q2, 0.5); abs(r.W-expectedW) > 0.01 {
		t.Errorf("Slerp at t=0.5: expected W ~%v, got %v", expectedW, r.W)
	}
}

func TestQuatToMat4MatchesRotateAxis(t *testing.T) {
	axis := Vec3{1, 2, 2}.Normalize()
	q := QuatFromAxisAngle(axis, 0.9)
	if !q.ToMat4().ApproxEqual(RotateAxis(axis, 0.9), 1e-6) {
		t.Error("quaternion matrix should match axis-angle matrix")
	}
}

func TestQuatFromMat4RoundTrip(t *testing.T) {
	tests := []struct {
		name  string
		axis  Vec3
		angle float32
	}{
		{"small", Vec3{0, 0, 1}, 0.1},
		{"x half turn", Vec3{1, 0, 0}, float32(math.Pi) - 0.01},
		{"y large", Vec3{0, 1, 0}, 2.5},
		{"oblique", Vec3{1, 1, 1}.Normalize(), 1.7},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := RotateAxis(tt.axis, tt.angle)
			got := QuatFromMat4(m).ToMat4()
			if !got.ApproxEqual(m, 1e-5) {
				t.Errorf("round trip = %v, want %v", got, m)
			}
		})
	}
}
