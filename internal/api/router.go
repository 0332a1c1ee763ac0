// Package api provides the chi-routed HTTP status/debug API for the
// pose tracker: read-only pose/status endpoints plus a JWT-protected
// reconfiguration endpoint, following the wider pack's router
// conventions (internal/api/router.go: chi + go-chi/cors + a
// middleware chain) scaled down to this service's single concern.
package api

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/survivekalman/posetrack/internal/api/middleware"
	"github.com/survivekalman/posetrack/internal/config"
	"github.com/survivekalman/posetrack/internal/livefeed"
	"github.com/survivekalman/posetrack/internal/tracker"
)

// Registry is the read-only view of running trackers the API serves,
// keyed by device name. Main owns the map; the API never mutates it.
type Registry map[string]*tracker.Tracker

// NewRouter builds the full HTTP handler: health check, per-device
// status/pose, a JWT-protected reconfigure endpoint, and (if streamer
// is non-nil) the live telemetry websocket.
func NewRouter(reg Registry, cfg *config.Live, streamer *livefeed.Streamer, jwtSecret []byte) http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Logger)
	r.Use(chimw.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	h := &handler{reg: reg, cfg: cfg}

	r.Get("/health", h.health)

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/devices", h.listDevices)
		r.Get("/devices/{name}/status", h.deviceStatus)
		r.Get("/devices/{name}/pose", h.devicePose)

		r.Group(func(r chi.Router) {
			r.Use(middleware.RequireAuth(jwtSecret))
			r.Post("/config/reconfigure", h.reconfigure)
		})
	})

	if streamer != nil {
		r.Get("/ws/telemetry", streamer.HandleWebSocket)
	}

	return r
}

type handler struct {
	reg Registry
	cfg *config.Live
}

func (h *handler) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *handler) listDevices(w http.ResponseWriter, r *http.Request) {
	names := make([]string, 0, len(h.reg))
	for name := range h.reg {
		names = append(names, name)
	}
	writeJSON(w, http.StatusOK, names)
}

// deviceStatusResponse mirrors the statistics spec.md §3 says the
// Tracker holds, plus the model time cursor.
type deviceStatusResponse struct {
	Time                float64 `json:"time"`
	IMUCount            uint64  `json:"imu_count"`
	ObsCount            uint64  `json:"obs_count"`
	LightcapCount       uint64  `json:"lightcap_count"`
	LateIMUDropped      uint64  `json:"late_imu_dropped"`
	LateLightDropped    uint64  `json:"late_light_dropped"`
	IMUMeanError        float64 `json:"imu_mean_error"`
	ObsMeanError        float64 `json:"obs_mean_error"`
	LightcapMeanError   float64 `json:"lightcap_mean_error"`
}

func (h *handler) deviceStatus(w http.ResponseWriter, r *http.Request) {
	tr, ok := h.reg[chi.URLParam(r, "name")]
	if !ok {
		http.Error(w, "unknown device", http.StatusNotFound)
		return
	}
	s := tr.Stats
	writeJSON(w, http.StatusOK, deviceStatusResponse{
		Time:              tr.Time(),
		IMUCount:          s.IMUCount,
		ObsCount:          s.ObsCount,
		LightcapCount:     s.LightcapCount,
		LateIMUDropped:    s.LateIMUDropped,
		LateLightDropped:  s.LateLightDropped,
		IMUMeanError:      meanOf(s.IMUTotalError, s.IMUCount),
		ObsMeanError:      meanOf(s.ObsTotalError, s.ObsCount),
		LightcapMeanError: meanOf(s.LightcapTotalError, s.LightcapCount),
	})
}

type devicePoseResponse struct {
	Time     float64    `json:"time"`
	Pose     [7]float64 `json:"pose"`
	Velocity [6]float64 `json:"velocity"`
}

func (h *handler) devicePose(w http.ResponseWriter, r *http.Request) {
	tr, ok := h.reg[chi.URLParam(r, "name")]
	if !ok {
		http.Error(w, "unknown device", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, devicePoseResponse{
		Time:     tr.Time(),
		Pose:     tr.Pose(),
		Velocity: tr.Velocity(),
	})
}

type reconfigureRequest struct {
	Tag   string  `json:"tag"`
	Value float64 `json:"value"`
}

// reconfigure rebinds one of the ten tunables in spec.md §6.4 without
// a restart, the explicit entry point spec.md §9's design notes
// recommend in place of the original's back-reference config pointers.
func (h *handler) reconfigure(w http.ResponseWriter, r *http.Request) {
	var req reconfigureRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "malformed request body", http.StatusBadRequest)
		return
	}
	h.cfg.Reconfigure(req.Tag, req.Value)
	writeJSON(w, http.StatusOK, map[string]string{"status": "applied"})
}

func meanOf(total float64, count uint64) float64 {
	if count == 0 {
		return 0
	}
	return total / float64(count)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
