package kalman

import (
	"math"
	"testing"

	"gonum.org/v1/gonum/mat"

	"github.com/survivekalman/posetrack/internal/measurement"
	"github.com/survivekalman/posetrack/internal/process"
	"github.com/survivekalman/posetrack/internal/state"
)

func TestStateInit_SeedsDiagonalCovariance(t *testing.T) {
	_, p := StateInit(10)
	for i := 0; i < state.Dim; i++ {
		if p.At(i, i) != 10 {
			t.Fatalf("expected diagonal 10 at %d, got %f", i, p.At(i, i))
		}
	}
}

func TestPredictUpdateState_PosePullsStateTowardMeasurement(t *testing.T) {
	x, p := StateInit(1)
	xPred, pPred := PredictState(0.01, x, p, process.Weights{Acc: 1e-3, AngVel: 1e-3, Vel: 1e-3, Pos: 1e-4, Rot: 1e-4})

	z := mat.NewVecDense(7, []float64{1, 0, 0, 1, 0, 0, 0})
	h := measurement.PoseJacobian()
	r := mat.NewSymDense(7, nil)
	for i := 0; i < 7; i++ {
		r.SetSym(i, i, 0.01)
	}

	xNew, _, err := PredictUpdateState(xPred, pPred, z, h, r)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	px, _, _ := state.Position(xNew)
	if px <= 0 || px > 1 {
		t.Fatalf("expected position pulled toward measurement in (0,1], got %f", px)
	}
}

func TestPredictUpdateStateExtendedAdaptive_RStaysAboveFloor(t *testing.T) {
	x, p := StateInit(1)
	xPred, pPred := PredictState(0.01, x, p, process.Weights{Acc: 1e-3, AngVel: 1e-3, Vel: 1e-3, Pos: 1e-4, Rot: 1e-4})

	z := measurement.IMU(xPred)
	z.SetVec(0, z.AtVec(0)+0.2) // inject innovation
	h := measurement.IMUJacobian(xPred)
	r := mat.NewSymDense(6, nil)
	for i := 0; i < 6; i++ {
		r.SetSym(i, i, 0.05)
	}

	hx := measurement.IMU(xPred)
	_, _, rNext, err := PredictUpdateStateExtendedAdaptive(xPred, pPred, z, hx, h, r, AdaptiveR{Alpha: 0.9, Floor: 1e-6})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for i := 0; i < 6; i++ {
		if rNext.At(i, i) < 1e-6-1e-12 {
			t.Fatalf("R diagonal %d fell below floor: %g", i, rNext.At(i, i))
		}
	}
}

func TestPredictState_PropagatesQuaternionNorm(t *testing.T) {
	x, p := StateInit(1)
	x.SetVec(state.IdxAngVel, 2)
	xNext, _ := PredictState(0.05, x, p, process.Weights{Acc: 1, AngVel: 1, Vel: 1, Pos: 1, Rot: 1})
	if n := state.QuatNorm(xNext); math.Abs(n-1) > 1e-6 {
		t.Fatalf("expected near-unit quaternion, got %f", n)
	}
}
