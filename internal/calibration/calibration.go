// Package calibration holds the read-only external data the tracker
// consumes but never mutates: base station poses and per-sensor
// mounting locations on a tracked object (spec.md §6's calibration
// data boundary).
package calibration

import "fmt"

// Pose is a rigid 6-DoF transform: world-frame position plus unit
// quaternion orientation (w,x,y,z).
type Pose struct {
	Pos [3]float64
	Rot [4]float64
}

// BaseStation is one lighthouse base station's known pose and
// calibration state. PositionSet mirrors the original's
// `ctx->bsd[lh].PositionSet` gate: a lightcap observation from a
// base station whose position hasn't been solved yet must be dropped.
type BaseStation struct {
	Pose        Pose
	PositionSet bool
	// FCal holds the per-axis factory calibration coefficients (phase,
	// tilt, curve, gibphase, gibmag) consumed by the reprojection
	// oracle; index 0 is the horizontal sweep, 1 the vertical sweep.
	FCal [2]FactoryCalibration
}

// FactoryCalibration is the per-axis lighthouse calibration fit.
type FactoryCalibration struct {
	Phase    float64
	Tilt     float64
	Curve    float64
	GibPhase float64
	GibMag   float64
}

// Table is the calibration data for one tracked object: its known
// base stations, indexed by lighthouse ID, and its sensor mounting
// locations, indexed by sensor ID.
type Table struct {
	BaseStations    map[int]BaseStation
	SensorLocations [][3]float64
}

// BaseStation looks up a base station by lighthouse ID.
func (t *Table) BaseStation(lighthouse int) (BaseStation, error) {
	bs, ok := t.BaseStations[lighthouse]
	if !ok {
		return BaseStation{}, fmt.Errorf("calibration: unknown lighthouse %d", lighthouse)
	}
	return bs, nil
}

// SensorLocation looks up a sensor's mounting position in the
// object's local frame.
func (t *Table) SensorLocation(sensorID int) ([3]float64, error) {
	if sensorID < 0 || sensorID >= len(t.SensorLocations) {
		return [3]float64{}, fmt.Errorf("calibration: sensor id %d out of range [0,%d)", sensorID, len(t.SensorLocations))
	}
	return t.SensorLocations[sensorID], nil
}
