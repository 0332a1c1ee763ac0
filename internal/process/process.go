// Package process implements the non-linear state propagation model:
// closed-form prediction, its state-transition Jacobian F(Δt,x), and
// the time-varying process noise covariance Q(Δt,x).
//
// The continuous-time intent is a triple integrator for position
// (accel -> velocity -> position), quaternion kinematics for
// orientation, and random walks for angular velocity, acceleration,
// and gyro bias. See survive_kalman_tracker.c's model_predict /
// model_q_fn for the source this is ported from.
package process

import (
	"math"

	"gonum.org/v1/gonum/mat"

	"github.com/survivekalman/posetrack/internal/state"
)

// Weights holds the five process-noise intensities from spec.md §6.4.
type Weights struct {
	Acc    float64 // process-weight-acc
	AngVel float64 // process-weight-ang-vel
	Vel    float64 // process-weight-vel
	Pos    float64 // process-weight-pos
	Rot    float64 // process-weight-rot
}

// Predict advances the state by Δt using closed-form kinematics:
//
//	p' = p + v*Δt + a*Δt²/2
//	v' = v + a*Δt
//	q' = normalize(q ⊗ exp_quat(ω*Δt/2))
//	ω', a', b' unchanged
//
// Δt must be > 0; callers wanting a no-op prediction should special
// case Δt == 0 themselves (Predict(0, x) already returns x unchanged,
// but the kernel treats Δt==0 specially for the Jacobian, see
// StateJacobian).
func Predict(dt float64, x mat.Vector) *state.Vector {
	out := mat.NewVecDense(state.Dim, nil)
	out.CopyVec(x)

	px, py, pz := state.Position(x)
	vx, vy, vz := state.Velocity(x)
	ax, ay, az := state.Accel(x)
	qw, qx, qy, qz := state.Rotation(x)
	wx, wy, wz := state.AngularVelocity(x)

	out.SetVec(state.IdxPos, px+vx*dt+0.5*ax*dt*dt)
	out.SetVec(state.IdxPos+1, py+vy*dt+0.5*ay*dt*dt)
	out.SetVec(state.IdxPos+2, pz+vz*dt+0.5*az*dt*dt)

	out.SetVec(state.IdxVel, vx+ax*dt)
	out.SetVec(state.IdxVel+1, vy+ay*dt)
	out.SetVec(state.IdxVel+2, vz+az*dt)

	rw, rx, ry, rz := expQuat(wx*dt/2, wy*dt/2, wz*dt/2)
	nqw, nqx, nqy, nqz := quatMul(qw, qx, qy, qz, rw, rx, ry, rz)
	nqw, nqx, nqy, nqz = state.NormalizeQuat(nqw, nqx, nqy, nqz)
	out.SetVec(state.IdxRot, nqw)
	out.SetVec(state.IdxRot+1, nqx)
	out.SetVec(state.IdxRot+2, nqy)
	out.SetVec(state.IdxRot+3, nqz)

	return out
}

// StateJacobian returns F = ∂X'/∂X at the given Δt and state x. At
// Δt == 0, F is the identity matrix — this is a required special
// case, not an edge effect of the formulas below (mirrors
// model_predict_jac's `if (t == 0) arr_eye_diag(...)`).
func StateJacobian(dt float64, x mat.Vector) *mat.Dense {
	f := mat.NewDense(state.Dim, state.Dim, nil)
	for i := 0; i < state.Dim; i++ {
		f.Set(i, i, 1)
	}
	if dt == 0 {
		return f
	}

	// Position block.
	for i := 0; i < 3; i++ {
		f.Set(state.IdxPos+i, state.IdxVel+i, dt)
		f.Set(state.IdxPos+i, state.IdxAccel+i, 0.5*dt*dt)
		f.Set(state.IdxVel+i, state.IdxAccel+i, dt)
	}

	// Quaternion block: q' = L(q) * r, r = exp_quat(ω*Δt/2).
	qw, qx, qy, qz := state.Rotation(x)
	wx, wy, wz := state.AngularVelocity(x)
	rw, rx, ry, rz := expQuat(wx*dt/2, wy*dt/2, wz*dt/2)

	// ∂q'/∂q = R(r) - n*qᵀ for unit q: R(r) is the right-multiplication
	// matrix of r, and n*qᵀ (n = normalized q ⊗ r) removes the
	// component along q that the renormalization in Predict cancels.
	rmat := [4][4]float64{
		{rw, -rx, -ry, -rz},
		{rx, rw, rz, -ry},
		{ry, -rz, rw, rx},
		{rz, ry, -rx, rw},
	}
	nw, nx, ny, nz := state.NormalizeQuat(quatMul(qw, qx, qy, qz, rw, rx, ry, rz))
	n, qv := [4]float64{nw, nx, ny, nz}, [4]float64{qw, qx, qy, qz}
	for i := 0; i < 4; i++ {
		for j := 0; j < 4; j++ {
			f.Set(state.IdxRot+i, state.IdxRot+j, rmat[i][j]-n[i]*qv[j])
		}
	}

	// ∂q'/∂ω ≈ (Δt/2) * (Ξ(q) - q*vᵀ), v = ω*Δt/2, exact to first order
	// in v; Ξ(q) is the same antisymmetric coupling matrix used in the
	// Q[rot,ang_vel] cross block (spec.md §4.2.2).
	xi := quatAngVelJacobian(qw, qx, qy, qz)
	vs := [3]float64{wx * dt / 2, wy * dt / 2, wz * dt / 2}
	for i := 0; i < 4; i++ {
		for j := 0; j < 3; j++ {
			f.Set(state.IdxRot+i, state.IdxAngVel+j, 0.5*dt*(xi[i][j]-qv[i]*vs[j]))
		}
	}

	return f
}

// quatAngVelJacobian returns the 4x3 matrix mapping an angular
// velocity perturbation into quaternion-space, evaluated at q.
func quatAngVelJacobian(qw, qx, qy, qz float64) [4][3]float64 {
	return [4][3]float64{
		{-qx, -qy, -qz},
		{qw, -qz, qy},
		{qz, qw, -qx},
		{-qy, qx, qw},
	}
}

// ProcessNoise builds the 19x19 symmetric process-noise covariance
// Q(Δt,x) per spec.md §4.2.2: a discrete-time triple-integrator noise
// model for the positional block (Bar-Shalom tracking & navigation
// text) and a quaternion/angular-velocity noise model for the
// rotational block, plus an independent slow random walk on gyro bias.
func ProcessNoise(dt float64, x mat.Vector, w Weights) *mat.SymDense {
	q := mat.NewSymDense(state.Dim, nil)
	if dt < 0 {
		dt = 0
	}

	t := dt
	t2, t3, t4, t5 := t*t, t*t*t, t*t*t*t, t*t*t*t*t

	qAcc := [6]float64{t5 / 20, t4 / 8, t3 / 6, t3 / 3, t2 / 2, t}
	qVel := [3]float64{t3 / 3, t2 / 2, t}

	pp := w.Acc*qAcc[0] + w.Vel*qVel[0] + w.Pos*t
	pv := w.Acc*qAcc[1] + w.Vel*qVel[1]
	pa := w.Acc * qAcc[2]
	vv := w.Acc*qAcc[3] + w.Vel*qVel[2]
	va := w.Acc * qAcc[4]
	aa := w.Acc * qAcc[5]

	for i := 0; i < 3; i++ {
		pIdx, vIdx, aIdx := state.IdxPos+i, state.IdxVel+i, state.IdxAccel+i
		q.SetSym(pIdx, pIdx, pp)
		q.SetSym(pIdx, vIdx, pv)
		q.SetSym(pIdx, aIdx, pa)
		q.SetSym(vIdx, vIdx, vv)
		q.SetSym(vIdx, aIdx, va)
		q.SetSym(aIdx, aIdx, aa)
	}

	// Rotational block.
	sw := w.AngVel
	sf := sw * t3 / 12
	ss := sw * t2 / 4
	qw, qx, qy, qz := state.Rotation(x)
	qSq := qw*qw + qx*qx + qy*qy + qz*qz
	rv := w.Rot * t

	comps := [4]float64{qw, qx, qy, qz}
	for i := 0; i < 4; i++ {
		for j := 0; j < 4; j++ {
			qi, qj := state.IdxRot+i, state.IdxRot+j
			if i == j {
				q.SetSym(qi, qj, rv+sf*(qSq-comps[i]*comps[i]))
			} else if j > i {
				q.SetSym(qi, qj, -sf*comps[i]*comps[j])
			}
		}
	}

	xi := quatAngVelJacobian(qw, qx, qy, qz)
	for i := 0; i < 4; i++ {
		for j := 0; j < 3; j++ {
			q.SetSym(state.IdxRot+i, state.IdxAngVel+j, ss*xi[i][j])
		}
	}

	for i := 0; i < 3; i++ {
		q.SetSym(state.IdxAngVel+i, state.IdxAngVel+i, sw*t)
	}

	// Gyro bias: slow random walk.
	for i := 0; i < 3; i++ {
		q.SetSym(state.IdxGyroBias+i, state.IdxGyroBias+i, 1e-10*t)
	}

	return q
}

// expQuat computes the quaternion exponential map of a pure-vector
// (angle/2-scaled) input v: exp_quat(v) = (cos|v|, sin|v| * v/|v|).
func expQuat(vx, vy, vz float64) (qw, qx, qy, qz float64) {
	theta := math.Sqrt(vx*vx + vy*vy + vz*vz)
	if theta < 1e-9 {
		// First-order expansion: cosθ≈1, sinθ/θ≈1.
		return 1, vx, vy, vz
	}
	s := math.Sin(theta) / theta
	return math.Cos(theta), vx * s, vy * s, vz * s
}

// quatMul computes the Hamilton product q ⊗ r.
func quatMul(qw, qx, qy, qz, rw, rx, ry, rz float64) (float64, float64, float64, float64) {
	return qw*rw - qx*rx - qy*ry - qz*rz,
		qw*rx + qx*rw + qy*rz - qz*ry,
		qw*ry - qx*rz + qy*rw + qz*rx,
		qw*rz + qx*ry - qy*rx + qz*rw
}
