// Package tracker is the orchestrator: it owns one tracked device's
// running state estimate and drives the Kalman kernel from the three
// input streams (IMU samples, pose-solver observations, lightcap
// sweep angles), applying the gating/clamping rules from
// survive_kalman_tracker.c's integrate_* functions.
package tracker

import (
	"context"
	"math"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"gonum.org/v1/gonum/mat"

	"github.com/survivekalman/posetrack/internal/calibration"
	"github.com/survivekalman/posetrack/internal/config"
	"github.com/survivekalman/posetrack/internal/device"
	"github.com/survivekalman/posetrack/internal/kalman"
	"github.com/survivekalman/posetrack/internal/measurement"
	"github.com/survivekalman/posetrack/internal/obsmetrics"
	"github.com/survivekalman/posetrack/internal/process"
	"github.com/survivekalman/posetrack/internal/state"
	"github.com/survivekalman/posetrack/pkg/utils"
)

// Stats mirrors survive_kalman_tracker.c's `stats` struct: running
// totals the tracker reports at teardown, alongside whatever
// Prometheus counters are wired via obsmetrics.
type Stats struct {
	LateIMUDropped   uint64
	LateLightDropped uint64

	ObsCount, LightcapCount, IMUCount uint64
	ObsTotalError                     float64
	LightcapTotalError                float64
	IMUTotalError                     float64
}

// Report is a fused pose+velocity sample handed to whatever consumer
// is registered via Tracker.OnReport (livefeed, telemetry, ...).
type Report struct {
	Time     float64
	Pose     [7]float64
	Velocity [6]float64
}

// obsAdaptiveR and imuAdaptiveR are the exponential-smoothing
// parameters for the pose-observation and IMU adaptive-R updates
// (spec.md §4.3.1/§4.3.2's "adaptive variant is used"). The floors
// keep either R from collapsing to zero after a long run of
// tightly-agreeing measurements.
var (
	obsAdaptiveR = kalman.AdaptiveR{Alpha: 0.3, Floor: 1e-9}
	imuAdaptiveR = kalman.AdaptiveR{Alpha: 0.3, Floor: 1e-9}
)

// Tracker estimates one tracked device's pose.
type Tracker struct {
	Device *device.TrackedDevice
	cfg    *config.Live

	x *state.Vector
	p *mat.SymDense
	t float64

	reproject measurement.Reprojector

	// imuR/obsR are the adaptive-path cached measurement noise
	// matrices. obsR is intentionally built with the ROTATION-first
	// axis ordering survive_kalman_tracker_init uses for tracker->Obs_R,
	// while the literal per-call R a caller passes to
	// IntegrateObservation is taken as POSITION-first and used as given
	// — the same ordering mismatch present in
	// survive_kalman_tracker.c, preserved rather than silently fixed.
	imuR *mat.SymDense
	obsR *mat.SymDense

	Stats   Stats
	metrics *obsmetrics.Set
	log     *logrus.Entry
	tracer  trace.Tracer

	OnReport func(Report)
}

// New constructs a tracker for dev with the given live configuration
// and reprojection oracle. metrics may be nil to skip Prometheus
// instrumentation.
func New(dev *device.TrackedDevice, cfg *config.Live, reproject measurement.Reprojector, metrics *obsmetrics.Set) *Tracker {
	x := state.New()
	p := mat.NewSymDense(state.Dim, nil)
	for i := 0; i < 7; i++ {
		p.SetSym(i, i, 1e3)
	}
	for i := state.IdxGyroBias; i < state.Dim; i++ {
		p.SetSym(i, i, 1)
	}

	c := cfg.Snapshot()
	obsR := mat.NewSymDense(7, nil)
	rotRot := []float64{c.ObsRotVariance, c.ObsRotVariance, c.ObsRotVariance, c.ObsRotVariance,
		c.ObsPosVariance, c.ObsPosVariance, c.ObsPosVariance}
	for i, v := range rotRot {
		obsR.SetSym(i, i, v)
	}

	imuR := mat.NewSymDense(6, nil)
	imuDiag := []float64{c.IMUAccVariance, c.IMUAccVariance, c.IMUAccVariance,
		c.IMUGyroVariance, c.IMUGyroVariance, c.IMUGyroVariance}
	for i, v := range imuDiag {
		imuR.SetSym(i, i, v)
	}

	return &Tracker{
		Device:    dev,
		cfg:       cfg,
		x:         x,
		p:         p,
		reproject: reproject,
		imuR:      imuR,
		obsR:      obsR,
		metrics:   metrics,
		log:       utils.Component("tracker").WithField("device", dev.Name),
		tracer:    otel.Tracer("posetrack/tracker"),
	}
}

func (tr *Tracker) weights() process.Weights {
	c := tr.cfg.Snapshot()
	return process.Weights{
		Acc:    c.ProcessWeightAcc,
		AngVel: c.ProcessWeightAngVel,
		Vel:    c.ProcessWeightVel,
		Pos:    c.ProcessWeightPos,
		Rot:    c.ProcessWeightRot,
	}
}

// positionFound reports whether the summed positional covariance
// diagonal (indices 0..6) is below the 0.1 variance gate
// survive_kalman_tracker_position_found uses.
func (tr *Tracker) positionFound() bool {
	var v float64
	for i := 0; i < 7; i++ {
		v += math.Abs(tr.p.At(i, i))
	}
	if v > .1 {
		tr.log.WithField("pos_variance", v).Warn("position variance too high")
		return false
	}
	return true
}

// IntegrateObservation fuses a 7-D pose-solver observation at the
// given device timecode. If literalR is non-nil it is used directly
// (position-first ordering, matching survive_imu_integrate_pose's
// explicit-R call site); if nil, the adaptive path using the cached
// obsR (rotation-first ordering) is used instead.
func (tr *Tracker) IntegrateObservation(ctx context.Context, timecode uint64, pose [7]float64, literalR *[7]float64) {
	_, span := tr.tracer.Start(ctx, "tracker.integrate_observation")
	defer span.End()

	time := tr.Device.TimeSeconds(timecode)
	if tr.t == 0 {
		tr.t = time
	}

	if d := time - tr.t; d < 0 {
		if d <= -0.1 {
			tr.Stats.LateLightDropped++
			if tr.metrics != nil {
				tr.metrics.LateLightDropped.Inc()
			}
			return
		}
		// Between -0.1 and 0: clamp to the current model time rather
		// than rewinding it (spec.md §4.4.1, "no rewind").
		time = tr.t
	}

	c := tr.cfg.Snapshot()
	if c.ObsPosVariance < 0 || c.ObsRotVariance < 0 {
		return
	}

	xPred, pPred := kalman.PredictState(time-tr.t, tr.x, tr.p, tr.weights())
	z := mat.NewVecDense(7, pose[:])
	h := measurement.PoseJacobian()

	var xNew *state.Vector
	var pNew *mat.SymDense
	var err error
	if literalR != nil {
		r := mat.NewSymDense(7, nil)
		for i, v := range literalR {
			r.SetSym(i, i, v)
		}
		xNew, pNew, err = kalman.PredictUpdateState(xPred, pPred, z, h, r)
	} else {
		var rNext *mat.SymDense
		xNew, pNew, rNext, err = kalman.PredictUpdateStateAdaptive(xPred, pPred, z, h, tr.obsR, obsAdaptiveR)
		if err == nil {
			tr.obsR = rNext
		}
	}
	if err != nil {
		tr.log.WithError(err).Warn("observation update failed")
		return
	}

	hx := &mat.Dense{}
	hx.Mul(h, xPred)
	var errMag float64
	for i := 0; i < 7; i++ {
		errMag += math.Abs(z.AtVec(i) - hx.At(i, 0))
	}

	tr.commit(xNew, pNew, time)
	tr.Stats.ObsTotalError += errMag
	tr.Stats.ObsCount++
	if tr.metrics != nil {
		tr.metrics.ObsCount.Inc()
		tr.metrics.ObsTotalError.Add(errMag)
	}
	tr.ReportState(timecode)
}

// IntegrateIMU fuses a 6-D IMU sample (accel, gyro) at the given
// device timecode, following survive_kalman_tracker_integrate_imu:
// samples more than 0.01s older than the model time are dropped as
// late, a gap above 0.5s only logs a warning (the sample is still
// integrated), and the accelerometer channel is used only while
// P[0][0] < 1.
func (tr *Tracker) IntegrateIMU(ctx context.Context, timecode uint64, accel, gyro [3]float64) {
	_, span := tr.tracer.Start(ctx, "tracker.integrate_imu")
	defer span.End()

	if tr.t == 0 {
		return
	}

	time := tr.Device.TimeSeconds(timecode)
	diff := time - tr.t
	if diff < -0.01 {
		tr.Stats.LateIMUDropped++
		if tr.metrics != nil {
			tr.metrics.LateIMUDropped.Inc()
		}
		return
	}
	if diff > 0.5 {
		tr.log.WithField("time_diff", diff).Warn("probably dropping IMU packets")
	}

	c := tr.cfg.Snapshot()
	useAccel := c.IMUAccVariance >= 0 && math.Abs(tr.p.At(0, 0)) < 1
	useGyro := c.IMUGyroVariance >= 0

	if useAccel || useGyro {
		xPred, pPred := kalman.PredictState(diff, tr.x, tr.p, tr.weights())

		z := mat.NewVecDense(6, nil)
		for i := 0; i < 3; i++ {
			z.SetVec(i, accel[i])
			z.SetVec(3+i, gyro[i])
		}
		hx := measurement.IMU(xPred)
		h := measurement.IMUJacobian(xPred)

		// Effective R for this call: the adaptive-path cached diagonal,
		// with disabled channels pinned to the sentinel 1e5 variance
		// (spec.md §4.4.2's "effectively a no-op row") rather than fed
		// into the adaptive re-estimation.
		r := mat.NewSymDense(6, nil)
		for i := 0; i < 6; i++ {
			for j := i; j < 6; j++ {
				r.SetSym(i, j, tr.imuR.At(i, j))
			}
		}
		for i := 0; i < 3; i++ {
			if !useAccel {
				r.SetSym(i, i, 1e5)
			}
		}
		for i := 3; i < 6; i++ {
			if !useGyro {
				r.SetSym(i, i, 1e5)
			}
		}

		xNew, pNew, rNext, err := kalman.PredictUpdateStateExtendedAdaptive(xPred, pPred, z, hx, h, r, imuAdaptiveR)
		if err != nil {
			tr.log.WithError(err).Warn("imu update failed")
			return
		}

		// Persist the re-estimated R back for next call, but only for
		// the channels that actually participated — a disabled
		// channel's sentinel must never overwrite its real persisted
		// variance.
		for i := 0; i < 3; i++ {
			if useAccel {
				tr.imuR.SetSym(i, i, rNext.At(i, i))
			}
		}
		for i := 3; i < 6; i++ {
			if useGyro {
				tr.imuR.SetSym(i, i, rNext.At(i, i))
			}
		}

		innovation := mat.NewVecDense(6, nil)
		innovation.SubVec(z, hx)
		var errMag float64
		for i := 0; i < 6; i++ {
			errMag += math.Abs(innovation.AtVec(i))
		}

		tr.commit(xNew, pNew, time)
		tr.Stats.IMUTotalError += errMag
		tr.Stats.IMUCount++
		if tr.metrics != nil {
			tr.metrics.IMUCount.Inc()
			tr.metrics.IMUTotalError.Add(errMag)
		}
	}

	tr.ReportState(timecode)
}

// IntegrateLightcap fuses a single lightcap sweep-angle measurement.
// A single reading only constrains the pose along a plane, so it's
// only accepted once the filter already has a confident position
// (positionFound) and the reporting base station's pose is solved.
func (tr *Tracker) IntegrateLightcap(ctx context.Context, timecode uint64, lighthouse, sensorID, axis int, angle float64, cal *calibration.Table) {
	_, span := tr.tracer.Start(ctx, "tracker.integrate_light")
	defer span.End()

	if !tr.positionFound() {
		return
	}
	bs, err := cal.BaseStation(lighthouse)
	if err != nil || !bs.PositionSet {
		return
	}

	c := tr.cfg.Snapshot()
	if c.LightVariance < 0 {
		return
	}

	time := tr.Device.TimeSeconds(timecode)
	xPred, pPred := kalman.PredictState(time-tr.t, tr.x, tr.p, tr.weights())

	z := mat.NewVecDense(1, []float64{angle})
	hxVal := measurement.Light(xPred, tr.reproject, sensorID, lighthouse, axis)
	hx := mat.NewVecDense(1, []float64{hxVal})
	h, ok := measurement.LightJacobian(xPred, tr.reproject, sensorID, lighthouse, axis)
	if !ok {
		tr.log.Warn("non-finite lightcap jacobian, dropping sample")
		return
	}
	r := mat.NewSymDense(1, []float64{c.LightVariance})

	xNew, pNew, innovation, err := kalman.PredictUpdateStateExtended(xPred, pPred, z, hx, h, r)
	if err != nil {
		tr.log.WithError(err).Warn("lightcap update failed")
		return
	}

	tr.commit(xNew, pNew, time)
	tr.Stats.LightcapTotalError += math.Abs(innovation.AtVec(0))
	tr.Stats.LightcapCount++
	if tr.metrics != nil {
		tr.metrics.LightcapCount.Inc()
		tr.metrics.LightcapTotalErr.Add(math.Abs(innovation.AtVec(0)))
	}
	tr.ReportState(timecode)
}

// commit writes a post-update (state, covariance) pair back into the
// tracker and renormalizes the quaternion block.
func (tr *Tracker) commit(x *state.Vector, p *mat.SymDense, t float64) {
	state.Normalize(x)
	tr.x = x
	tr.p = p
	tr.t = t
	if tr.metrics != nil {
		var v float64
		for i := 0; i < 7; i++ {
			v += math.Abs(p.At(i, i))
		}
		tr.metrics.PositionVariance.Set(v)
	}
}

// PredictTo returns the predicted pose at time t without mutating the
// tracker's persisted state — a read-only forward projection, mirror
// of survive_kalman_tracker_predict.
func (tr *Tracker) PredictTo(t float64) [7]float64 {
	if tr.t == 0 {
		return [7]float64{}
	}
	xNext := process.Predict(t-tr.t, tr.x)
	state.Normalize(xNext)
	return state.Pose(xNext)
}

// Velocity returns the current linear and angular velocity, read
// directly off the state vector (no time shift is needed: the
// original predicts with Δt=0, which is the identity).
func (tr *Tracker) Velocity() [6]float64 {
	vx, vy, vz := state.Velocity(tr.x)
	wx, wy, wz := state.AngularVelocity(tr.x)
	return [6]float64{vx, vy, vz, wx, wy, wz}
}

// Time returns the tracker's current model time cursor (the sentinel
// 0 means uninitialized, per spec.md §3).
func (tr *Tracker) Time() float64 {
	return tr.t
}

// Pose returns the state's current pose block without advancing time
// (equivalent to PredictTo(tr.Time()), since Δt=0 prediction is the
// identity) — a convenience for read-only status reporting.
func (tr *Tracker) Pose() [7]float64 {
	return state.Pose(tr.x)
}

// ReportState predicts the pose forward to the report timecode (or
// clamps to the current model time if it's in the past), and if the
// position-variance gate passes, invokes OnReport with the fused
// pose+velocity.
func (tr *Tracker) ReportState(timecode uint64) {
	t := tr.Device.TimeSeconds(timecode)
	if t < tr.t {
		t = tr.t
	}

	pose := tr.PredictTo(t)
	if !tr.positionFound() {
		return
	}
	if tr.OnReport != nil {
		tr.OnReport(Report{Time: t, Pose: pose, Velocity: tr.Velocity()})
	}
}

// Close logs the per-field teardown statistics
// survive_kalman_tracker_free reports (R diagonals, gyro bias, mean
// innovation per measurement type) beyond the raw counters.
func (tr *Tracker) Close() {
	bx, by, bz := state.GyroBias(tr.x)
	tr.log.WithFields(logrus.Fields{
		"late_imu_dropped":   tr.Stats.LateIMUDropped,
		"late_light_dropped": tr.Stats.LateLightDropped,
		"obs_mean_error":     safeDiv(tr.Stats.ObsTotalError, tr.Stats.ObsCount),
		"lightcap_mean_error": safeDiv(tr.Stats.LightcapTotalError, tr.Stats.LightcapCount),
		"imu_mean_error":     safeDiv(tr.Stats.IMUTotalError, tr.Stats.IMUCount),
		"gyro_bias":          [3]float64{bx, by, bz},
	}).Info("tracker statistics")

	for i := 0; i < 6; i++ {
		tr.log.WithField("diag", tr.imuR.At(i, i)).Debug("IMU R diagonal")
	}
	for i := 0; i < 7; i++ {
		tr.log.WithField("diag", tr.obsR.At(i, i)).Debug("observation R diagonal")
	}
}

func safeDiv(total float64, count uint64) float64 {
	if count == 0 {
		return 0
	}
	return total / float64(count)
}
