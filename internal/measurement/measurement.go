// Package measurement implements the three observation models the
// tracker fuses: pose-solver (7-D), IMU (6-D accel+gyro), and lightcap
// sweep angle (1-D, via an external reprojection oracle).
package measurement

import (
	"math"

	"gonum.org/v1/gonum/diff/fd"
	"gonum.org/v1/gonum/mat"

	"github.com/survivekalman/posetrack/internal/state"
)

// StandardGravity is the accelerometer normalization constant used by
// the gravity model below (survive_kalman_tracker.c's `9.80665`).
const StandardGravity = 9.80665

// Pose returns the 7-D pose observation function h(x) = (p, q), the
// identity projection of the state's first 7 scalars.
func Pose(x mat.Vector) *mat.VecDense {
	p := state.Pose(x)
	return mat.NewVecDense(7, p[:])
}

// PoseJacobian returns H = [I7 | 0] for the pose model, a constant
// 7x19 matrix.
func PoseJacobian() *mat.Dense {
	h := mat.NewDense(7, state.Dim, nil)
	for i := 0; i < 7; i++ {
		h.Set(i, i, 1)
	}
	return h
}

// IMU returns the 6-D IMU observation function: predicted
// accelerometer reading (gravity-compensated, object frame) stacked
// with the gyro reading (angular velocity plus bias, object frame).
//
//	a_pred = R(q)^-1 * (a/g + [0,0,1])
//	g_pred = R(q)^-1 * ω + b
func IMU(x mat.Vector) *mat.VecDense {
	qw, qx, qy, qz := state.Rotation(x)
	ax, ay, az := state.Accel(x)
	wx, wy, wz := state.AngularVelocity(x)
	bx, by, bz := state.GyroBias(x)

	// World-frame specific force including gravity, normalized.
	gx, gy, gz := ax/StandardGravity, ay/StandardGravity, az/StandardGravity+1

	// Rotate into the object frame via the quaternion conjugate (q^-1
	// for a unit quaternion), i.e. R(q)^-1 * v = conj(q) ⊗ v ⊗ q.
	px, py, pz := rotateByConjugate(qw, qx, qy, qz, gx, gy, gz)
	ox, oy, oz := rotateByConjugate(qw, qx, qy, qz, wx, wy, wz)

	out := mat.NewVecDense(6, nil)
	out.SetVec(0, px)
	out.SetVec(1, py)
	out.SetVec(2, pz)
	out.SetVec(3, ox+bx)
	out.SetVec(4, oy+by)
	out.SetVec(5, oz+bz)
	return out
}

// IMUJacobian returns the 6x19 Jacobian of IMU at x, via central
// finite differences over the full state vector (gonum's diff/fd, the
// same differencing machinery the reference EKF kernel uses to build
// its propagation and observation Jacobians).
func IMUJacobian(x mat.Vector) *mat.Dense {
	h := mat.NewDense(6, state.Dim, nil)
	fFn := func(y, xNow []float64) {
		xv := mat.NewVecDense(len(xNow), xNow)
		z := IMU(xv)
		for i := 0; i < 6; i++ {
			y[i] = z.AtVec(i)
		}
	}
	fd.Jacobian(h, fFn, mat.Col(nil, 0, x), &fd.JacobianSettings{
		Formula:    fd.Central,
		Concurrent: true,
	})
	return h
}

// rotateByConjugate rotates vector v by the inverse of unit quaternion q.
func rotateByConjugate(qw, qx, qy, qz, vx, vy, vz float64) (float64, float64, float64) {
	// conj(q) ⊗ (0,v) ⊗ q, expanded and simplified to the standard
	// rotation-matrix-free form.
	cw, cx, cy, cz := qw, -qx, -qy, -qz
	// t = conj(q) ⊗ (0,v)
	tw := -cx*vx - cy*vy - cz*vz
	tx := cw*vx + cy*vz - cz*vy
	ty := cw*vy - cx*vz + cz*vx
	tz := cw*vz + cx*vy - cy*vx
	// r = t ⊗ q
	rx := tw*qx + tx*qw + ty*qz - tz*qy
	ry := tw*qy - tx*qz + ty*qw + tz*qx
	rz := tw*qz + tx*qy - ty*qx + tz*qw
	return rx, ry, rz
}

// Reprojector models the external lightcap reprojection oracle
// (internal/reproject implements this): given a full 7-D pose and a
// sensor/basestation pairing, it returns the predicted sweep angle and
// its Jacobian with respect to the pose.
type Reprojector interface {
	ProjectAxis(pose [7]float64, sensorID int, lighthouse int, axis int) (angle float64, jac [7]float64)
}

// Light returns the 1-D predicted lightcap sweep angle for the given
// sensor/lighthouse/axis, by delegating to the reprojection oracle.
func Light(x mat.Vector, r Reprojector, sensorID, lighthouse, axis int) float64 {
	angle, _ := r.ProjectAxis(state.Pose(x), sensorID, lighthouse, axis)
	return angle
}

// LightJacobian returns the 1x19 Jacobian of the lightcap model. The
// first 7 columns come directly from the oracle; the rest of the
// state (velocity, angular velocity, accel, gyro bias) does not
// influence the sweep-angle projection and is left zero.
//
// If the oracle returns a non-finite Jacobian entry the caller is
// expected to reject the observation (spec.md §7's "non-finite
// Jacobian" failure mode) — LightJacobian reports that via ok=false
// rather than silently propagating NaN/Inf into the covariance update.
func LightJacobian(x mat.Vector, r Reprojector, sensorID, lighthouse, axis int) (h *mat.Dense, ok bool) {
	_, jac := r.ProjectAxis(state.Pose(x), sensorID, lighthouse, axis)
	out := mat.NewDense(1, state.Dim, nil)
	for i, v := range jac {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return nil, false
		}
		out.Set(0, i, v)
	}
	return out, true
}
