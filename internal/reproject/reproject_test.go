package reproject

import (
	"math"
	"testing"

	"github.com/survivekalman/posetrack/internal/calibration"
)

func testCalibration() *calibration.Table {
	return &calibration.Table{
		BaseStations: map[int]calibration.BaseStation{
			0: {
				Pose:        calibration.Pose{Pos: [3]float64{0, 0, 2}, Rot: [4]float64{1, 0, 0, 0}},
				PositionSet: true,
			},
		},
		SensorLocations: [][3]float64{{0, 0, 0}},
	}
}

func TestProjectAxis_IdentityPoseProducesFiniteAngle(t *testing.T) {
	m := Model{Cal: testCalibration()}
	pose := [7]float64{1, 0, 0, 1, 0, 0, 0}
	angle, jac := m.ProjectAxis(pose, 0, 0, AxisHorizontal)
	if math.IsNaN(angle) || math.IsInf(angle, 0) {
		t.Fatalf("expected finite angle, got %f", angle)
	}
	for i, v := range jac {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			t.Fatalf("expected finite jacobian entry %d, got %f", i, v)
		}
	}
}

func TestProjectAxis_UnknownLighthouseReturnsZero(t *testing.T) {
	m := Model{Cal: testCalibration()}
	pose := [7]float64{0, 0, 0, 1, 0, 0, 0}
	angle, jac := m.ProjectAxis(pose, 0, 5, AxisHorizontal)
	if angle != 0 || jac != [7]float64{} {
		t.Fatalf("expected zero-value result for unknown lighthouse, got %f %v", angle, jac)
	}
}
