// Package device models a tracked object: its stable identity and a
// reference to its calibration data (sensor geometry, known base
// stations).
package device

import (
	"github.com/google/uuid"

	"github.com/survivekalman/posetrack/internal/calibration"
)

// TrackedDevice is one physical object being pose-tracked.
type TrackedDevice struct {
	ID          uuid.UUID
	Name        string
	Calibration *calibration.Table
	TimebaseHz  float64
}

// New constructs a tracked device with a freshly generated identity.
func New(name string, cal *calibration.Table, timebaseHz float64) *TrackedDevice {
	return &TrackedDevice{
		ID:          uuid.New(),
		Name:        name,
		Calibration: cal,
		TimebaseHz:  timebaseHz,
	}
}

// TimeSeconds converts a raw device timecode into seconds using the
// device's timebase, mirroring `timecode / timebase_hz` in the
// original tracker's time handling.
func (d *TrackedDevice) TimeSeconds(timecode uint64) float64 {
	return float64(timecode) / d.TimebaseHz
}
