package tracker

import (
	"context"
	"math"
	"testing"

	"github.com/survivekalman/posetrack/internal/calibration"
	"github.com/survivekalman/posetrack/internal/config"
	"github.com/survivekalman/posetrack/internal/device"
	"github.com/survivekalman/posetrack/internal/state"
)

type stubReprojector struct{}

func (stubReprojector) ProjectAxis(pose [7]float64, sensorID, lighthouse, axis int) (float64, [7]float64) {
	return 0, [7]float64{}
}

func newTestTracker() *Tracker {
	dev := device.New("test-device", &calibration.Table{
		BaseStations: map[int]calibration.BaseStation{
			0: {PositionSet: true},
		},
		SensorLocations: [][3]float64{{0, 0, 0}},
	}, 1000)
	return New(dev, config.NewLive(config.Default()), stubReprojector{}, nil)
}

func TestIntegrateObservation_BootstrapsModelTime(t *testing.T) {
	tr := newTestTracker()
	if tr.t != 0 {
		t.Fatalf("expected zero initial model time")
	}
	tr.IntegrateObservation(context.Background(), 1000, [7]float64{1, 0, 0, 1, 0, 0, 0}, nil)
	if tr.t == 0 {
		t.Fatalf("expected model time to bootstrap from first observation")
	}
	if n := state.QuatNorm(tr.x); math.Abs(n-1) > 1e-6 {
		t.Fatalf("expected unit quaternion after observation, got %f", n)
	}
}

func TestIntegrateIMU_IgnoredBeforeBootstrap(t *testing.T) {
	tr := newTestTracker()
	tr.IntegrateIMU(context.Background(), 1000, [3]float64{0, 0, 9.80665}, [3]float64{0, 0, 0})
	if tr.Stats.IMUCount != 0 {
		t.Fatalf("expected IMU samples ignored before any observation bootstraps model time")
	}
}

func TestIntegrateIMU_DropsLateSamples(t *testing.T) {
	tr := newTestTracker()
	tr.IntegrateObservation(context.Background(), 1000, [7]float64{0, 0, 0, 1, 0, 0, 0}, nil)

	// 1000 timecode at 1000Hz = 1.0s; going 0.1s into the past exceeds
	// the -0.01s acceptance window and must be dropped.
	tr.IntegrateIMU(context.Background(), 900, [3]float64{0, 0, 9.80665}, [3]float64{0, 0, 0})
	if tr.Stats.LateIMUDropped != 1 {
		t.Fatalf("expected late IMU sample dropped, got drop count %d", tr.Stats.LateIMUDropped)
	}
	if tr.Stats.IMUCount != 0 {
		t.Fatalf("expected dropped sample not counted as integrated")
	}
}

func TestIntegrateObservation_LiteralAndAdaptiveR_OrderingMismatch(t *testing.T) {
	// Pins the deliberately-preserved R-ordering discrepancy: the
	// literal per-call R is position-first, but the cached adaptive
	// obsR is rotation-first, exactly mirroring
	// survive_kalman_tracker.c's Obs_R initialization vs. the R array
	// built inline in survive_kalman_tracker_integrate_observation.
	tr := newTestTracker()
	cfg := tr.cfg.Snapshot()

	literal := [7]float64{cfg.ObsPosVariance, cfg.ObsPosVariance, cfg.ObsPosVariance,
		cfg.ObsRotVariance, cfg.ObsRotVariance, cfg.ObsRotVariance, cfg.ObsRotVariance}

	for i := 0; i < 3; i++ {
		if tr.obsR.At(i, i) != cfg.ObsRotVariance {
			t.Fatalf("expected obsR[%d] to be rotation variance (rot-first order), got %f", i, tr.obsR.At(i, i))
		}
	}
	for i := 4; i < 7; i++ {
		if tr.obsR.At(i, i) != cfg.ObsPosVariance {
			t.Fatalf("expected obsR[%d] to be position variance (rot-first order), got %f", i, tr.obsR.At(i, i))
		}
	}
	if literal[0] != cfg.ObsPosVariance || literal[3] != cfg.ObsRotVariance {
		t.Fatalf("expected literal R to be position-first, contradicting obsR's rotation-first order")
	}
}

func TestIntegrateLightcap_RequiresPositionFound(t *testing.T) {
	tr := newTestTracker()
	// Fresh tracker has P[i][i]=1e3 for i<7, so positionFound() is
	// false and any lightcap sample must be rejected outright.
	before := tr.Stats.LightcapCount
	tr.IntegrateLightcap(context.Background(), 1000, 0, 0, 0, 0.1, tr.Device.Calibration)
	if tr.Stats.LightcapCount != before {
		t.Fatalf("expected lightcap sample rejected while position variance is high")
	}
}
