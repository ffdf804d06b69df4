package math

import "github.com/chewxy/math32"

// Quat represents a quaternion for 3D rotations.
// Components are stored as X, Y, Z, W where W is the scalar part.
type Quat struct {
	X, Y, Z, W float32
}

// QuatIdentity returns an identity quaternion (no rotation).
func QuatIdentity() Quat {
	return Quat{X: 0, Y: 0, Z: 0, W: 1}
}

// QuatFromAxisAngle creates a quaternion from axis-angle rotation.
// axis should be normalized, angle is in radians.
func QuatFromAxisAngle(axis Vec3, angle float32) Quat {
	s := math32.Sin(angle / 2)
	return Quat{
		X: axis.X * s,
		Y: axis.Y * s,
		Z: axis.Z * s,
		W: math32.Cos(angle / 2),
	}
}

// QuatFromMat4 extracts the rotation of an orthonormal matrix.
func QuatFromMat4(m Mat4) Quat {
	// Row/column accessors for readability: r(row, col).
	r := func(row, col int) float32 { return m[col*4+row] }

	trace := r(0, 0) + r(1, 1) + r(2, 2)
	var q Quat
	switch {
	case trace > 0:
		s := math32.Sqrt(trace+1) * 2
		q = Quat{
			W: s / 4,
			X: (r(2, 1) - r(1, 2)) / s,
			Y: (r(0, 2) - r(2, 0)) / s,
			Z: (r(1, 0) - r(0, 1)) / s,
		}
	case r(0, 0) > r(1, 1) && r(0, 0) > r(2, 2):
		s := math32.Sqrt(1+r(0, 0)-r(1, 1)-r(2, 2)) * 2
		q = Quat{
			W: (r(2, 1) - r(1, 2)) / s,
			X: s / 4,
			Y: (r(0, 1) + r(1, 0)) / s,
			Z: (r(0, 2) + r(2, 0)) / s,
		}
	case r(1, 1) > r(2, 2):
		s := math32.Sqrt(1+r(1, 1)-r(0, 0)-r(2, 2)) * 2
		q = Quat{
			W: (r(0, 2) - r(2, 0)) / s,
			X: (r(0, 1) + r(1, 0)) / s,
			Y: s / 4,
			Z: (r(1, 2) + r(2, 1)) / s,
		}
	default:
		s := math32.Sqrt(1+r(2, 2)-r(0, 0)-r(1, 1)) * 2
		q = Quat{
			W: (r(1, 0) - r(0, 1)) / s,
			X: (r(0, 2) + r(2, 0)) / s,
			Y: (r(1, 2) + r(2, 1)) / s,
			Z: s / 4,
		}
	}
	return q.Normalize()
}

// Normalize returns a normalized quaternion.
func (q Quat) Normalize() Quat {
	length := math32.Sqrt(q.X*q.X + q.Y*q.Y + q.Z*q.Z + q.W*q.W)
	if length < 0.0001 {
		return QuatIdentity()
	}
	invLen := 1.0 / length
	return Quat{
		X: q.X * invLen,
		Y: q.Y * invLen,
		Z: q.Z * invLen,
		W: q.W * invLen,
	}
}

// Conjugate returns the inverse rotation of a unit quaternion.
func (q Quat) Conjugate() Quat {
	return Quat{X: -q.X, Y: -q.Y, Z: -q.Z, W: q.W}
}

// Dot returns the dot product of two quaternions.
func (q Quat) Dot(other Quat) float32 {
	return q.X*other.X + q.Y*other.Y + q.Z*other.Z + q.W*other.W
}

// IsIdentity reports whether q is within tol of the identity rotation.
func (q Quat) IsIdentity(tol float32) bool {
	return math32.Abs(q.X) <= tol && math32.Abs(q.Y) <= tol && math32.Abs(q.Z) <= tol &&
		math32.Abs(math32.Abs(q.W)-1) <= tol
}

// Slerp performs spherical linear interpolation between two quaternions.
// t should be in range [0, 1].
func (q Quat) Slerp(other Quat, t float32) Quat {
	dot := q.Dot(other)

	// Take the shorter path.
	if dot < 0 {
		other = Quat{X: -other.X, Y: -other.Y, Z: -other.Z, W: -other.W}
		dot = -dot
	}

	// Nearly parallel: fall back to lerp to avoid dividing by sin(0).
	if dot > 0.9995 {
		return q.Lerp(other, t)
	}

	theta0 := math32.Acos(dot)
	theta := theta0 * t
	sinTheta := math32.Sin(theta)
	sinTheta0 := math32.Sin(theta0)

	s0 := math32.Cos(theta) - dot*sinTheta/sinTheta0
	s1 := sinTheta / sinTheta0

	return Quat{
		X: q.X*s0 + other.X*s1,
		Y: q.Y*s0 + other.Y*s1,
		Z: q.Z*s0 + other.Z*s1,
		W: q.W*s0 + other.W*s1,
	}
}

// Lerp performs normalized linear interpolation between two quaternions.
func (q Quat) Lerp(other Quat, t float32) Quat {
	return Quat{
		X: q.X + t*(other.X-q.X),
		Y: q.Y + t*(other.Y-q.Y),
		Z: q.Z + t*(other.Z-q.Z),
		W: q.W + t*(other.W-q.W),
	}.Normalize()
}

// ToMat4 converts the quaternion to a 4x4 rotation matrix.
func (q Quat) ToMat4() Mat4 {
	q = q.Normalize()

	xx := q.X * q.X
	xy := q.X * q.Y
	xz := q.X * q.Z
	xw := q.X * q.W
	yy := q.Y * q.Y
	yz := q.Y * q.Z
	yw := q.Y * q.W
	zz := q.Z * q.Z
	zw := q.Z * q.W

	return Mat4{
		1 - 2*(yy+zz), 2 * (xy + zw), 2 * (xz - yw), 0,
		2 * (xy - zw), 1 - 2*(xx+zz), 2 * (yz + xw), 0,
		2 * (xz + yw), 2 * (yz - xw), 1 - 2*(xx+yy), 0,
		0, 0, 0, 1,
	}
}

// Mul multiplies two quaternions (q applied after other).
func (q Quat) Mul(other Quat) Quat {
	return Quat{
		X: q.W*other.X + q.X*other.W + q.Y*other.Z - q.Z*other.Y,
		Y: q.W*other.Y - q.X*other.Z + q.Y*other.W + q.Z*other.X,
		Z: q.W*other.Z + q.X*other.Y - q.Y*other.X + q.Z*other.W,
		W: q.W*other.W - q.X*other.X - q.Y*other.Y - q.Z*other.Z,
	}
}

// LerpVec3 performs linear interpolation between two 3D vectors.
func LerpVec3(a, b Vec3, t float32) Vec3 {
	return Vec3{
		a.X + t*(b.X-a.X),
		a.Y + t*(b.Y-a.Y),
		a.Z + t*(b.Z-a.Z),
	}
}
