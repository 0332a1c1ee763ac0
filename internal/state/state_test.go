package state

import (
	"math"
	"testing"
)

func TestNew_SeedsIdentityQuaternion(t *testing.T) {
	x := New()
	qw, qx, qy, qz := Rotation(x)
	if qw != 1 || qx != 0 || qy != 0 || qz != 0 {
		t.Fatalf("expected identity quaternion, got (%f,%f,%f,%f)", qw, qx, qy, qz)
	}
	if x.Len() != Dim {
		t.Fatalf("expected dim %d, got %d", Dim, x.Len())
	}
}

func TestNormalize_RescalesToUnitNorm(t *testing.T) {
	x := New()
	x.SetVec(IdxRot, 1.01)
	Normalize(x)
	n := QuatNorm(x)
	if math.Abs(n-1) > 1e-9 {
		t.Fatalf("expected unit norm after Normalize, got %f", n)
	}
}

func TestAccessors_RoundTripFields(t *testing.T) {
	x := New()
	x.SetVec(IdxPos, 1)
	x.SetVec(IdxPos+1, 2)
	x.SetVec(IdxPos+2, 3)
	x.SetVec(IdxVel, 4)
	x.SetVec(IdxAngVel+2, 5)

	px, py, pz := Position(x)
	if px != 1 || py != 2 || pz != 3 {
		t.Fatalf("position mismatch: %v %v %v", px, py, pz)
	}
	vx, _, _ := Velocity(x)
	if vx != 4 {
		t.Fatalf("velocity mismatch: %v", vx)
	}
	_, _, wz := AngularVelocity(x)
	if wz != 5 {
		t.Fatalf("angular velocity mismatch: %v", wz)
	}
}
