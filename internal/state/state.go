// Package state defines the 19-scalar pose-tracking state vector and
// typed views onto its sub-blocks.
//
// Layout (fixed, never reordered):
//
//	0..2   Position     p  (world frame)
//	3..6   Rotation     q  (unit quaternion w,x,y,z, object->world)
//	7..9   Velocity     v  (world frame)
//	10..12 AngularVel   w  (object frame)
//	13..15 Accel        a  (world frame)
//	16..18 GyroBias     b  (object frame)
package state

import (
	"math"

	"gonum.org/v1/gonum/mat"
)

// Dim is the fixed dimension of the state vector.
const Dim = 19

const (
	IdxPos      = 0
	IdxRot      = 3
	IdxVel      = 7
	IdxAngVel   = 10
	IdxAccel    = 13
	IdxGyroBias = 16
)

// Vector is the 19-scalar state buffer backing every tracker instance.
type Vector = mat.VecDense

// New allocates a zeroed 19-vector with the identity quaternion seeded
// at index 3 (w=1), matching the tracker's initialization invariant.
func New() *Vector {
	v := mat.NewVecDense(Dim, nil)
	v.SetVec(IdxRot, 1)
	return v
}

// Position returns the world-frame position (indices 0..2).
func Position(x mat.Vector) (px, py, pz float64) {
	return x.AtVec(IdxPos), x.AtVec(IdxPos + 1), x.AtVec(IdxPos + 2)
}

// Rotation returns the unit quaternion (w, x, y, z) at indices 3..6.
func Rotation(x mat.Vector) (qw, qx, qy, qz float64) {
	return x.AtVec(IdxRot), x.AtVec(IdxRot + 1), x.AtVec(IdxRot + 2), x.AtVec(IdxRot + 3)
}

// Pose returns the concatenated (position, quaternion) 7-tuple.
func Pose(x mat.Vector) [7]float64 {
	var out [7]float64
	for i := 0; i < 7; i++ {
		out[i] = x.AtVec(i)
	}
	return out
}

// Velocity returns the world-frame linear velocity (indices 7..9).
func Velocity(x mat.Vector) (vx, vy, vz float64) {
	return x.AtVec(IdxVel), x.AtVec(IdxVel + 1), x.AtVec(IdxVel + 2)
}

// AngularVelocity returns the object-frame angular velocity (indices 10..12).
func AngularVelocity(x mat.Vector) (wx, wy, wz float64) {
	return x.AtVec(IdxAngVel), x.AtVec(IdxAngVel + 1), x.AtVec(IdxAngVel + 2)
}

// Accel returns the world-frame linear acceleration (indices 13..15).
func Accel(x mat.Vector) (ax, ay, az float64) {
	return x.AtVec(IdxAccel), x.AtVec(IdxAccel + 1), x.AtVec(IdxAccel + 2)
}

// GyroBias returns the object-frame gyro bias (indices 16..18).
func GyroBias(x mat.Vector) (bx, by, bz float64) {
	return x.AtVec(IdxGyroBias), x.AtVec(IdxGyroBias + 1), x.AtVec(IdxGyroBias + 2)
}

// SetRotation writes a quaternion into x, renormalizing it first so the
// ||q||=1 invariant holds for whatever the caller writes.
func SetRotation(x *Vector, qw, qx, qy, qz float64) {
	qw, qx, qy, qz = NormalizeQuat(qw, qx, qy, qz)
	x.SetVec(IdxRot, qw)
	x.SetVec(IdxRot+1, qx)
	x.SetVec(IdxRot+2, qy)
	x.SetVec(IdxRot+3, qz)
}

// NormalizeQuat rescales a quaternion to unit norm. A near-zero input
// (which should never occur given the filter's invariants) falls back
// to the identity quaternion rather than dividing by ~0.
func NormalizeQuat(qw, qx, qy, qz float64) (float64, float64, float64, float64) {
	n := math.Sqrt(qw*qw + qx*qx + qy*qy + qz*qz)
	if n < 1e-12 {
		return 1, 0, 0, 0
	}
	return qw / n, qx / n, qy / n, qz / n
}

// Normalize renormalizes the quaternion block of x in place. Every
// integrate-* call on the tracker must invoke this before reporting.
func Normalize(x *Vector) {
	qw, qx, qy, qz := Rotation(x)
	qw, qx, qy, qz = NormalizeQuat(qw, qx, qy, qz)
	x.SetVec(IdxRot, qw)
	x.SetVec(IdxRot+1, qx)
	x.SetVec(IdxRot+2, qy)
	x.SetVec(IdxRot+3, qz)
}

// QuatNorm reports the current norm of the rotation block; tests use
// this to assert the ||q||=1 invariant directly.
func QuatNorm(x mat.Vector) float64 {
	qw, qx, qy, qz := Rotation(x)
	return math.Sqrt(qw*qw + qx*qx + qy*qy + qz*qz)
}

// Submatrix extracts the covariance block for the contiguous index
// range [i, j) from the full 19x19 covariance P.
func Submatrix(p mat.Symmetric, i, j int) *mat.Dense {
	n := j - i
	out := mat.NewDense(n, n, nil)
	for r := 0; r < n; r++ {
		for c := 0; c < n; c++ {
			out.Set(r, c, p.At(i+r, i+c))
		}
	}
	return out
}
