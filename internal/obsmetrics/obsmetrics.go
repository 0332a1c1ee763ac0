// Package obsmetrics exposes the tracker's per-device integration
// statistics (spec.md §3's Tracker.stats) as Prometheus instruments,
// in addition to the in-memory counters the tracker keeps for its own
// teardown report.
package obsmetrics

import "github.com/prometheus/client_golang/prometheus"

// Set holds one device's worth of counters/gauges, all labeled by
// device name so a single registry can serve multiple tracked
// objects.
type Set struct {
	IMUCount          prometheus.Counter
	ObsCount          prometheus.Counter
	LightcapCount     prometheus.Counter
	LateIMUDropped    prometheus.Counter
	LateLightDropped  prometheus.Counter
	IMUTotalError     prometheus.Counter
	ObsTotalError     prometheus.Counter
	LightcapTotalErr  prometheus.Counter
	PositionVariance  prometheus.Gauge
}

// NewSet registers a fresh instrument set labeled for the given
// device name against reg.
func NewSet(reg prometheus.Registerer, device string) *Set {
	constLabels := prometheus.Labels{"device": device}
	s := &Set{
		IMUCount: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "posetrack_imu_samples_total", Help: "IMU samples integrated", ConstLabels: constLabels,
		}),
		ObsCount: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "posetrack_pose_observations_total", Help: "Pose-solver observations integrated", ConstLabels: constLabels,
		}),
		LightcapCount: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "posetrack_lightcap_samples_total", Help: "Lightcap sweep samples integrated", ConstLabels: constLabels,
		}),
		LateIMUDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "posetrack_late_imu_dropped_total", Help: "IMU samples dropped for arriving too late", ConstLabels: constLabels,
		}),
		LateLightDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "posetrack_late_light_dropped_total", Help: "Pose observations dropped for arriving too late", ConstLabels: constLabels,
		}),
		IMUTotalError: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "posetrack_imu_innovation_total", Help: "Cumulative IMU innovation magnitude", ConstLabels: constLabels,
		}),
		ObsTotalError: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "posetrack_obs_innovation_total", Help: "Cumulative pose-observation innovation magnitude", ConstLabels: constLabels,
		}),
		LightcapTotalErr: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "posetrack_lightcap_innovation_total", Help: "Cumulative lightcap innovation magnitude", ConstLabels: constLabels,
		}),
		PositionVariance: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "posetrack_position_variance", Help: "Summed positional covariance diagonal", ConstLabels: constLabels,
		}),
	}
	reg.MustRegister(s.IMUCount, s.ObsCount, s.LightcapCount, s.LateIMUDropped, s.LateLightDropped,
		s.IMUTotalError, s.ObsTotalError, s.LightcapTotalErr, s.PositionVariance)
	return s
}
