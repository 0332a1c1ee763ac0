// Command posetrack wires the pose-tracking filter core
// (internal/state, internal/process, internal/measurement,
// internal/tracker) to the ambient and domain stack described in
// SPEC_FULL.md: a chi-routed status API, a websocket live feed, a
// NATS publisher, and a serial IMU/lightcap source (or, absent a
// serial port, a synthetic sample generator for local demos) — the
// lifecycle structure (Initialize/Start/Shutdown, signal handling)
// follows the teacher's cmd/valkyrie/main.go.
package main

import (
	"context"
	"flag"
	"fmt"
	"math/rand"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"github.com/survivekalman/posetrack/internal/api"
	"github.com/survivekalman/posetrack/internal/calibration"
	"github.com/survivekalman/posetrack/internal/config"
	"github.com/survivekalman/posetrack/internal/device"
	"github.com/survivekalman/posetrack/internal/iodevice"
	"github.com/survivekalman/posetrack/internal/livefeed"
	"github.com/survivekalman/posetrack/internal/obsmetrics"
	"github.com/survivekalman/posetrack/internal/reproject"
	"github.com/survivekalman/posetrack/internal/telemetry"
	"github.com/survivekalman/posetrack/internal/tracker"
	"github.com/survivekalman/posetrack/pkg/utils"
)

var (
	httpPort    = flag.Int("http-port", 8093, "status/debug API port")
	metricsPort = flag.Int("metrics-port", 9093, "Prometheus metrics port")
	logLevel    = flag.String("log-level", "info", "log level (debug|info|warn|error)")

	deviceName = flag.String("device", "tracker-0", "tracked device name")
	timebaseHz = flag.Float64("timebase-hz", 48_000_000, "device clock timebase in Hz")

	serialPort = flag.String("serial-port", "", "serial port the tracked object is attached to; empty runs a synthetic sample generator")
	serialBaud = flag.Int("serial-baud", 115200, "serial baud rate")

	enableTelemetry = flag.Bool("telemetry", true, "publish fused pose+velocity to NATS")
	natsURL         = flag.String("nats", "nats://localhost:4222", "NATS server URL")
	natsSubject     = flag.String("nats-subject", "posetrack.pose", "NATS subject prefix")

	enableLiveFeed = flag.Bool("livefeed", true, "serve a websocket live telemetry feed")
)

// isDevelopmentMode mirrors the wider pack's ASGARD_ENV convention:
// production deployments must set POSETRACK_JWT_SECRET explicitly.
func isDevelopmentMode() bool {
	return os.Getenv("POSETRACK_ENV") == "development"
}

func jwtSecret() []byte {
	secret := os.Getenv("POSETRACK_JWT_SECRET")
	if len(secret) >= 32 {
		return []byte(secret)
	}
	if isDevelopmentMode() {
		return []byte("posetrack_dev_jwt_secret_not_for_production!!")
	}
	utils.Logger.Fatal("POSETRACK_JWT_SECRET must be set to >=32 bytes outside development mode")
	return nil
}

// App holds every subsystem the demo harness wires together for one
// tracked device.
type App struct {
	log *logrus.Entry

	tracker   *tracker.Tracker
	cal       *calibration.Table
	cfg       *config.Live
	streamer  *livefeed.Streamer
	publisher *telemetry.Publisher
	serial    *iodevice.Source

	httpServer    *http.Server
	metricsServer *http.Server
	tracerCloser  func(context.Context) error

	mu      sync.Mutex
	running bool

	ctx    context.Context
	cancel context.CancelFunc
}

func main() {
	flag.Parse()
	utils.SetLogLevel(*logLevel)
	log := utils.Component("main")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	app := &App{log: log, ctx: ctx, cancel: cancel}
	if err := app.Initialize(); err != nil {
		log.WithError(err).Fatal("failed to initialize posetrack")
	}
	if err := app.Start(); err != nil {
		log.WithError(err).Fatal("failed to start posetrack")
	}

	log.Info("posetrack is running, press Ctrl+C to stop")
	<-sigCh
	log.Info("shutdown signal received")

	if err := app.Shutdown(); err != nil {
		log.WithError(err).Error("error during shutdown")
	}
	log.Info("posetrack shutdown complete")
}

// Initialize constructs every subsystem but starts none of them.
func (a *App) Initialize() error {
	a.log.Info("initializing calibration and device identity")
	a.cal = demoCalibration()
	dev := device.New(*deviceName, a.cal, *timebaseHz)

	a.cfg = config.NewLive(config.Default())

	reg := prometheus.NewRegistry()
	metrics := obsmetrics.NewSet(reg, dev.Name)

	a.tracker = tracker.New(dev, a.cfg, reproject.Model{Cal: a.cal}, metrics)

	if *enableLiveFeed {
		a.streamer = livefeed.New()
	}

	if *enableTelemetry {
		pub, err := telemetry.NewPublisher(*natsURL, *natsSubject)
		if err != nil {
			a.log.WithError(err).Warn("NATS unavailable, continuing without telemetry publishing")
		} else {
			a.publisher = pub
		}
	}

	a.tracker.OnReport = a.onReport

	if *serialPort != "" {
		src, err := iodevice.Open(*serialPort, *serialBaud)
		if err != nil {
			return fmt.Errorf("open serial source: %w", err)
		}
		a.serial = src
	}

	exporter, err := stdouttrace.New(stdouttrace.WithPrettyPrint())
	if err != nil {
		return fmt.Errorf("build trace exporter: %w", err)
	}
	tp := sdktrace.NewTracerProvider(sdktrace.WithBatcher(exporter))
	otel.SetTracerProvider(tp)
	a.tracerCloser = tp.Shutdown

	registry := api.Registry{dev.Name: a.tracker}
	a.httpServer = &http.Server{
		Addr:    fmt.Sprintf(":%d", *httpPort),
		Handler: api.NewRouter(registry, a.cfg, a.streamer, jwtSecret()),
	}

	metricsMux := http.NewServeMux()
	metricsMux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	metricsMux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	a.metricsServer = &http.Server{
		Addr:    fmt.Sprintf(":%d", *metricsPort),
		Handler: metricsMux,
	}

	return nil
}

// onReport fans a fused pose+velocity sample out to every connected
// consumer: the websocket live feed and the NATS publisher.
func (a *App) onReport(r tracker.Report) {
	if a.streamer != nil {
		var pos, vel, angv [3]float64
		var rot [4]float64
		copy(pos[:], r.Pose[0:3])
		copy(rot[:], r.Pose[3:7])
		copy(vel[:], r.Velocity[0:3])
		copy(angv[:], r.Velocity[3:6])
		a.streamer.Broadcast(&livefeed.TelemetryMessage{
			Device:    *deviceName,
			Timestamp: time.Now(),
			Time:      r.Time,
			Position:  pos,
			Rotation:  rot,
			Velocity:  vel,
			AngularV:  angv,
		})
	}
	if a.publisher != nil {
		var pos, vel, angv [3]float64
		var rot [4]float64
		copy(pos[:], r.Pose[0:3])
		copy(rot[:], r.Pose[3:7])
		copy(vel[:], r.Velocity[0:3])
		copy(angv[:], r.Velocity[3:6])
		a.publisher.Publish(*deviceName, telemetry.Sample{
			Time:     r.Time,
			Position: pos,
			Rotation: rot,
			Velocity: vel,
			AngularV: angv,
		})
	}
}

// Start launches every background goroutine: the input source (serial
// or synthetic), the live feed streamer, and the two HTTP servers.
func (a *App) Start() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.streamer != nil {
		go func() {
			if err := a.streamer.Run(a.ctx); err != nil && err != context.Canceled {
				a.log.WithError(err).Warn("livefeed streamer stopped")
			}
		}()
	}

	if a.serial != nil {
		go func() {
			err := a.serial.Run(a.ctx,
				func(s iodevice.IMUSample) {
					a.tracker.IntegrateIMU(a.ctx, s.Timecode, s.Accel, s.Gyro)
				},
				func(s iodevice.LightcapSample) {
					a.tracker.IntegrateLightcap(a.ctx, s.Timecode, s.Lighthouse, s.Sensor, s.Axis, s.Angle, a.cal)
				},
			)
			if err != nil && err != context.Canceled {
				a.log.WithError(err).Warn("serial source stopped")
			}
		}()
	} else {
		go a.runSyntheticFeed()
	}

	go func() {
		a.log.WithField("addr", a.httpServer.Addr).Info("status API listening")
		if err := a.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			a.log.WithError(err).Error("status API server error")
		}
	}()
	go func() {
		a.log.WithField("addr", a.metricsServer.Addr).Info("metrics server listening")
		if err := a.metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			a.log.WithError(err).Error("metrics server error")
		}
	}()

	a.running = true
	return nil
}

// runSyntheticFeed drives the tracker with a plausible sample stream
// when no serial-attached object is configured, so the demo harness
// has something to report without real hardware: a bootstrap pose
// observation, then 1kHz IMU samples reading 1 g of gravity at rest
// (the accelerometer channel is in g units) with a touch of gyro
// noise, and a periodic re-observation to keep the
// position-uncertainty gate open.
func (a *App) runSyntheticFeed() {
	a.log.Info("no serial port configured, driving a synthetic sample feed")

	timebase := *timebaseHz
	// Start one tick in: model time 0 is the tracker's "uninitialized"
	// sentinel, so an observation at timecode 0 would not bootstrap it.
	timecode := uint64(timebase / 1000)

	a.tracker.IntegrateObservation(a.ctx, timecode, [7]float64{0, 0, 0, 1, 0, 0, 0}, nil)

	imuTick := time.NewTicker(time.Millisecond)
	obsTick := time.NewTicker(time.Second)
	defer imuTick.Stop()
	defer obsTick.Stop()

	for {
		select {
		case <-a.ctx.Done():
			return
		case <-imuTick.C:
			timecode += uint64(timebase / 1000)
			gyroNoise := [3]float64{
				(rand.Float64() - 0.5) * 1e-3,
				(rand.Float64() - 0.5) * 1e-3,
				(rand.Float64() - 0.5) * 1e-3,
			}
			a.tracker.IntegrateIMU(a.ctx, timecode, [3]float64{0, 0, 1}, gyroNoise)
		case <-obsTick.C:
			a.tracker.IntegrateObservation(a.ctx, timecode, [7]float64{0, 0, 0, 1, 0, 0, 0}, nil)
		}
	}
}

// Shutdown stops every subsystem in roughly LIFO order with respect
// to Initialize, per spec.md §5's teardown resource policy.
func (a *App) Shutdown() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.cancel()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if a.httpServer != nil {
		if err := a.httpServer.Shutdown(shutdownCtx); err != nil {
			a.log.WithError(err).Warn("status API shutdown error")
		}
	}
	if a.metricsServer != nil {
		if err := a.metricsServer.Shutdown(shutdownCtx); err != nil {
			a.log.WithError(err).Warn("metrics server shutdown error")
		}
	}
	if a.serial != nil {
		if err := a.serial.Close(); err != nil {
			a.log.WithError(err).Warn("serial source close error")
		}
	}
	if a.publisher != nil {
		a.publisher.Close()
	}
	if a.tracerCloser != nil {
		if err := a.tracerCloser(shutdownCtx); err != nil {
			a.log.WithError(err).Warn("tracer provider shutdown error")
		}
	}

	a.tracker.Close()
	a.running = false
	return nil
}

// demoCalibration builds a two-sensor, one-basestation calibration
// table so the synthetic feed and serial harness have something to
// reproject against; a real deployment sources this from the external
// calibration storage spec.md §1 excludes from scope.
func demoCalibration() *calibration.Table {
	return &calibration.Table{
		BaseStations: map[int]calibration.BaseStation{
			0: {
				Pose:        calibration.Pose{Pos: [3]float64{0, 2, 3}, Rot: [4]float64{1, 0, 0, 0}},
				PositionSet: true,
			},
		},
		SensorLocations: [][3]float64{
			{0, 0, 0.05},
			{0.05, 0, -0.02},
		},
	}
}
