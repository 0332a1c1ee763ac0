// Package reproject implements the lightcap reprojection oracle:
// given a candidate object pose, a sensor's local mounting position,
// and a base station's pose and factory calibration, it predicts the
// sweep-plane angle a lighthouse sweep would report for that sensor.
//
// The real libsurvive reprojection math (survive_reproject.c /
// survive_reproject_gen2.c) wasn't retained in this codebase's
// original-source excerpt — only survive_kalman_tracker.c was. This
// package is a from-scratch but behaviorally faithful stand-in: it
// implements the same oracle *shape* the tracker expects (project a
// 3-D point into a lighthouse's sweep-plane angle, with a factory
// calibration correction applied per axis) using the standard
// rotate-into-lighthouse-frame-then-project approach described in
// spec.md §6.2, rather than a byte-for-byte port of math that wasn't
// available to port.
package reproject

import (
	"math"

	"gonum.org/v1/gonum/diff/fd"
	"gonum.org/v1/gonum/mat"

	"github.com/survivekalman/posetrack/internal/calibration"
)

// Axis identifies a lighthouse sweep plane.
const (
	AxisHorizontal = 0
	AxisVertical   = 1
)

// Model projects a pose into a lighthouse's sweep angle for a given
// sensor and axis, using a base station's world pose and factory
// calibration drawn from a bound calibration table. It implements
// measurement.Reprojector.
type Model struct {
	Cal *calibration.Table
	// Gen2 is not consulted by ProjectAxis: both lighthouse protocol
	// generations use the same projection.
	Gen2 bool
}

// ProjectAxis returns the predicted sweep angle for the given pose's
// sensor at the given lighthouse/axis, plus the 7-D Jacobian with
// respect to (pos, quat).
func (m Model) ProjectAxis(pose [7]float64, sensorID, lighthouse, axis int) (float64, [7]float64) {
	bs, err := m.Cal.BaseStation(lighthouse)
	if err != nil {
		return 0, [7]float64{}
	}
	sensorLocal, err := m.Cal.SensorLocation(sensorID)
	if err != nil {
		return 0, [7]float64{}
	}

	angle := m.project(pose, sensorLocal, bs, axis)

	fFn := func(y []float64, x []float64) {
		var p [7]float64
		copy(p[:], x)
		y[0] = m.project(p, sensorLocal, bs, axis)
	}
	jac := mat.NewDense(1, 7, nil)
	fd.Jacobian(jac, fFn, pose[:], &fd.JacobianSettings{Formula: fd.Central, Concurrent: true})

	var out [7]float64
	for i := range out {
		out[i] = jac.At(0, i)
	}
	return angle, out
}

// project computes the raw sweep angle for a single axis: rotate the
// sensor's world position into the lighthouse frame, take the
// corresponding planar angle, then apply the per-axis factory
// calibration correction.
func (m Model) project(pose [7]float64, sensorLocal [3]float64, bs calibration.BaseStation, axis int) float64 {
	wx, wy, wz := rotatePoint(pose, sensorLocal)

	lx, ly, lz := worldToLighthouse(bs.Pose, wx, wy, wz)

	var raw float64
	switch axis {
	case AxisVertical:
		raw = math.Atan2(lz, lx)
	default:
		raw = math.Atan2(ly, lx)
	}

	fc := bs.FCal[axis%2]
	return raw + fc.Phase + fc.Tilt*raw + fc.Curve*raw*raw + fc.GibMag*math.Sin(raw+fc.GibPhase)
}

// rotatePoint applies the object pose (pos, quat w,x,y,z) to a
// sensor's local-frame position, returning its world-frame position.
func rotatePoint(pose [7]float64, local [3]float64) (float64, float64, float64) {
	px, py, pz := pose[0], pose[1], pose[2]
	qw, qx, qy, qz := pose[3], pose[4], pose[5], pose[6]

	vx, vy, vz := local[0], local[1], local[2]
	// q ⊗ (0,v) ⊗ conj(q)
	tw := -qx*vx - qy*vy - qz*vz
	tx := qw*vx + qy*vz - qz*vy
	ty := qw*vy - qx*vz + qz*vx
	tz := qw*vz + qx*vy - qy*vx

	rx := tw*(-qx) + tx*qw + ty*(-qz) - tz*(-qy)
	ry := tw*(-qy) - tx*(-qz) + ty*qw + tz*(-qx)
	rz := tw*(-qz) + tx*(-qy) - ty*(-qx) + tz*qw

	return px + rx, py + ry, pz + rz
}

// worldToLighthouse transforms a world-frame point into a base
// station's local frame via the inverse of its pose.
func worldToLighthouse(lh calibration.Pose, wx, wy, wz float64) (float64, float64, float64) {
	dx, dy, dz := wx-lh.Pos[0], wy-lh.Pos[1], wz-lh.Pos[2]

	qw, qx, qy, qz := lh.Rot[0], -lh.Rot[1], -lh.Rot[2], -lh.Rot[3] // conjugate = inverse rotation
	tw := -qx*dx - qy*dy - qz*dz
	tx := qw*dx + qy*dz - qz*dy
	ty := qw*dy - qx*dz + qz*dx
	tz := qw*dz + qx*dy - qy*dx

	rx := tw*(-qx) + tx*qw + ty*(-qz) - tz*(-qy)
	ry := tw*(-qy) - tx*(-qz) + ty*qw + tz*(-qx)
	rz := tw*(-qz) + tx*(-qy) - ty*(-qx) + tz*qw
	return rx, ry, rz
}
