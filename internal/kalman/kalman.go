// Package kalman is the Kalman filtering kernel the tracker treats as
// an external dependency (spec.md §6.1): state/covariance prediction,
// linear and extended measurement updates, and an adaptive-R variant
// of the extended update.
//
// The update pattern (Joseph-form covariance correction, gain via
// explicit Pyy inverse) is ported from the reference EKF kernel in
// the retrieval pack (milosgajdos/go-estimate's kalman/ekf package);
// this package specializes it to the fixed 19-D state/process model
// in internal/state and internal/process instead of that package's
// generic filter.Model interface, since the process model here has a
// closed-form Jacobian rather than one derived by finite differences.
package kalman

import (
	"fmt"

	"gonum.org/v1/gonum/mat"

	"github.com/survivekalman/posetrack/internal/process"
	"github.com/survivekalman/posetrack/internal/state"
)

// StateInit returns a freshly seeded state vector and an initial
// covariance of scale*I19.
func StateInit(scale float64) (*state.Vector, *mat.SymDense) {
	x := state.New()
	p := mat.NewSymDense(state.Dim, nil)
	for i := 0; i < state.Dim; i++ {
		p.SetSym(i, i, scale)
	}
	return x, p
}

// PredictState propagates (x, P) forward by Δt using the process
// model: x' = Predict(Δt,x), P' = F P F' + Q.
func PredictState(dt float64, x mat.Vector, p mat.Symmetric, w process.Weights) (*state.Vector, *mat.SymDense) {
	xNext := process.Predict(dt, x)
	f := process.StateJacobian(dt, x)
	q := process.ProcessNoise(dt, x, w)

	fp := &mat.Dense{}
	fp.Mul(f, p)
	fpft := &mat.Dense{}
	fpft.Mul(fp, f.T())

	pNext := mat.NewSymDense(state.Dim, nil)
	n, _ := fpft.Dims()
	for i := 0; i < n; i++ {
		for j := i; j < n; j++ {
			pNext.SetSym(i, j, fpft.At(i, j)+q.At(i, j))
		}
	}
	return xNext, pNext
}

// PredictUpdateState performs a linear measurement update: the
// observation model is exactly z = H*x (e.g. the pose model), so no
// separate nonlinear evaluation is needed — innovation is z - H*xPred.
func PredictUpdateState(xPred *state.Vector, pPred *mat.SymDense, z mat.Vector, h *mat.Dense, r mat.Symmetric) (*state.Vector, *mat.SymDense, error) {
	hx := &mat.Dense{}
	hx.Mul(h, xPred)
	innovation := mat.NewVecDense(z.Len(), nil)
	for i := 0; i < z.Len(); i++ {
		innovation.SetVec(i, z.AtVec(i)-hx.At(i, 0))
	}
	return josephUpdate(xPred, pPred, innovation, h, r)
}

// PredictUpdateStateAdaptive behaves like PredictUpdateState but
// additionally re-estimates R from the realized innovation
// covariance, by delegating to PredictUpdateStateExtendedAdaptive
// with hx = H*xPred (the linear measurement model is just the
// non-linear one evaluated at a constant Jacobian).
func PredictUpdateStateAdaptive(xPred *state.Vector, pPred *mat.SymDense, z mat.Vector, h *mat.Dense, r *mat.SymDense, cfg AdaptiveR) (*state.Vector, *mat.SymDense, *mat.SymDense, error) {
	hx := &mat.Dense{}
	hx.Mul(h, xPred)
	hxVec := mat.NewVecDense(z.Len(), nil)
	for i := 0; i < z.Len(); i++ {
		hxVec.SetVec(i, hx.At(i, 0))
	}
	return PredictUpdateStateExtendedAdaptive(xPred, pPred, z, hxVec, h, r, cfg)
}

// PredictUpdateStateExtended performs a non-linear measurement update
// given the predicted observation hx = h(xPred) (computed by the
// caller from internal/measurement, since h itself is model-specific)
// and the Jacobian H evaluated at xPred.
func PredictUpdateStateExtended(xPred *state.Vector, pPred *mat.SymDense, z, hx mat.Vector, h *mat.Dense, r mat.Symmetric) (*state.Vector, *mat.SymDense, *mat.VecDense, error) {
	innovation := mat.NewVecDense(z.Len(), nil)
	innovation.SubVec(z, hx)
	xNew, pNew, err := josephUpdate(xPred, pPred, innovation, h, r)
	return xNew, pNew, innovation, err
}

// AdaptiveR holds the exponential-smoothing state for
// PredictUpdateStateExtendedAdaptive.
type AdaptiveR struct {
	Alpha float64 // smoothing factor in [0,1); 0 disables adaptation
	Floor float64 // minimum diagonal variance, prevents R collapsing to 0
}

// PredictUpdateStateExtendedAdaptive behaves like
// PredictUpdateStateExtended but additionally re-estimates R from the
// realized innovation covariance:
//
//	R' = α*R + (1-α)*(innovation·innovationᵀ - H·Pᵖʳᵉᵈ·Hᵀ)
//
// clamped so the diagonal never drops below Floor. This mirrors the
// "observation R is recomputed from trailing innovations" behavior
// noted in spec.md's design notes for the adaptive tracker mode.
func PredictUpdateStateExtendedAdaptive(xPred *state.Vector, pPred *mat.SymDense, z, hx mat.Vector, h *mat.Dense, r *mat.SymDense, cfg AdaptiveR) (*state.Vector, *mat.SymDense, *mat.SymDense, error) {
	xNew, pNew, innovation, err := PredictUpdateStateExtended(xPred, pPred, z, hx, h, r)
	if err != nil {
		return nil, nil, nil, err
	}

	ny := innovation.Len()
	hp := &mat.Dense{}
	hp.Mul(h, pPred)
	hpht := &mat.Dense{}
	hpht.Mul(hp, h.T())

	rNext := mat.NewSymDense(ny, nil)
	for i := 0; i < ny; i++ {
		for j := i; j < ny; j++ {
			est := innovation.AtVec(i)*innovation.AtVec(j) - hpht.At(i, j)
			v := cfg.Alpha*r.At(i, j) + (1-cfg.Alpha)*est
			if i == j && v < cfg.Floor {
				v = cfg.Floor
			}
			rNext.SetSym(i, j, v)
		}
	}
	return xNew, pNew, rNext, nil
}

// josephUpdate applies the numerically stable Joseph-form covariance
// correction: P' = (I-KH)P(I-KH)' + KRK'.
func josephUpdate(xPred *state.Vector, pPred *mat.SymDense, innovation *mat.VecDense, h *mat.Dense, r mat.Symmetric) (*state.Vector, *mat.SymDense, error) {
	nx := xPred.Len()

	pht := &mat.Dense{}
	pht.Mul(pPred, h.T())

	pyy := &mat.Dense{}
	pyy.Mul(h, pht)
	pyy.Add(pyy, r)

	pyyInv := &mat.Dense{}
	if err := pyyInv.Inverse(pyy); err != nil {
		return nil, nil, fmt.Errorf("kalman: innovation covariance not invertible: %w", err)
	}

	gain := &mat.Dense{}
	gain.Mul(pht, pyyInv)

	corr := &mat.Dense{}
	corr.Mul(gain, innovation)

	xNew := mat.NewVecDense(nx, nil)
	for i := 0; i < nx; i++ {
		xNew.SetVec(i, xPred.AtVec(i)+corr.At(i, 0))
	}

	eye := mat.NewDiagDense(nx, nil)
	for i := 0; i < nx; i++ {
		eye.SetDiag(i, 1)
	}
	kh := &mat.Dense{}
	kh.Mul(gain, h)
	imkh := &mat.Dense{}
	imkh.Sub(eye, kh)

	left := &mat.Dense{}
	left.Mul(imkh, pPred)
	left.Mul(left, imkh.T())

	kr := &mat.Dense{}
	kr.Mul(gain, r)
	krkt := &mat.Dense{}
	krkt.Mul(kr, gain.T())

	pNew := mat.NewSymDense(nx, nil)
	for i := 0; i < nx; i++ {
		for j := i; j < nx; j++ {
			pNew.SetSym(i, j, left.At(i, j)+krkt.At(i, j))
		}
	}

	return xNew, pNew, nil
}
