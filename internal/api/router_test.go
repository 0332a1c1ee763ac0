package api

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/golang-jwt/jwt/v5"

	"github.com/survivekalman/posetrack/internal/api/middleware"
	"github.com/survivekalman/posetrack/internal/calibration"
	"github.com/survivekalman/posetrack/internal/config"
	"github.com/survivekalman/posetrack/internal/device"
	"github.com/survivekalman/posetrack/internal/tracker"
)

type stubReprojector struct{}

func (stubReprojector) ProjectAxis(pose [7]float64, sensorID, lighthouse, axis int) (float64, [7]float64) {
	return 0, [7]float64{}
}

func newTestRegistry() (Registry, *config.Live) {
	dev := device.New("rig-1", &calibration.Table{}, 1000)
	cfg := config.NewLive(config.Default())
	tr := tracker.New(dev, cfg, stubReprojector{}, nil)
	tr.IntegrateObservation(context.Background(), 1000, [7]float64{1, 2, 3, 1, 0, 0, 0}, nil)
	return Registry{"rig-1": tr}, cfg
}

func TestDeviceStatus_UnknownDeviceIs404(t *testing.T) {
	reg, cfg := newTestRegistry()
	srv := httptest.NewServer(NewRouter(reg, cfg, nil, []byte("test-secret-at-least-256-bits!!")))
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/api/v1/devices/nope/status")
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown device, got %d", resp.StatusCode)
	}
}

func TestDevicePose_KnownDeviceReturnsPose(t *testing.T) {
	reg, cfg := newTestRegistry()
	srv := httptest.NewServer(NewRouter(reg, cfg, nil, []byte("test-secret-at-least-256-bits!!")))
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/api/v1/devices/rig-1/pose")
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
}

func TestReconfigure_RequiresBearerToken(t *testing.T) {
	reg, cfg := newTestRegistry()
	srv := httptest.NewServer(NewRouter(reg, cfg, nil, []byte("test-secret-at-least-256-bits!!")))
	defer srv.Close()

	resp, err := http.Post(srv.URL+"/api/v1/config/reconfigure", "application/json", nil)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 without a bearer token, got %d", resp.StatusCode)
	}
}

func TestReconfigure_AppliesWithValidToken(t *testing.T) {
	reg, cfg := newTestRegistry()
	secret := []byte("test-secret-at-least-256-bits!!")
	srv := httptest.NewServer(NewRouter(reg, cfg, nil, secret))
	defer srv.Close()

	claims := middleware.Claims{CanReconfigure: true}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(secret)
	if err != nil {
		t.Fatalf("failed to sign test token: %v", err)
	}

	req, _ := http.NewRequest(http.MethodPost, srv.URL+"/api/v1/config/reconfigure",
		strings.NewReader(`{"tag":"light-variance","value":5e-7}`))
	req.Header.Set("Authorization", "Bearer "+signed)
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200 with a valid token, got %d", resp.StatusCode)
	}
	if got := cfg.Snapshot().LightVariance; got != 5e-7 {
		t.Fatalf("expected reconfigure to apply, got light-variance=%v", got)
	}
}
