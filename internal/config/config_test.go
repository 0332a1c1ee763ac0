package config

import "testing"

func TestDefault_MatchesOriginalTunableDefaults(t *testing.T) {
	cfg := Default()
	if cfg.ProcessWeightAcc != 10 {
		t.Fatalf("expected process-weight-acc=10, got %f", cfg.ProcessWeightAcc)
	}
	if cfg.IMUGyroVariance != 1e-2 {
		t.Fatalf("expected imu-gyro-variance=1e-2, got %f", cfg.IMUGyroVariance)
	}
	if cfg.ObsPosVariance != .02 {
		t.Fatalf("expected obs-pos-variance=.02, got %f", cfg.ObsPosVariance)
	}
}

func TestLive_ReconfigureAppliesByTag(t *testing.T) {
	l := NewLive(Default())
	l.Reconfigure(TagIMUAccVariance, 1e-3)
	if got := l.Snapshot().IMUAccVariance; got != 1e-3 {
		t.Fatalf("expected updated imu-acc-variance=1e-3, got %f", got)
	}
}

func TestLive_ReconfigureUnknownTagIsNoop(t *testing.T) {
	l := NewLive(Default())
	before := l.Snapshot()
	l.Reconfigure("not-a-real-tag", 99)
	if l.Snapshot() != before {
		t.Fatalf("expected unknown tag to be a no-op")
	}
}
