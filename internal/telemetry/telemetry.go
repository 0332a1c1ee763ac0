// Package telemetry publishes fused pose+velocity updates on NATS so
// more than one downstream consumer can subscribe to a tracked
// device's pose stream (spec.md §6.3's "downstream pose consumer").
package telemetry

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/survivekalman/posetrack/pkg/utils"
)

// Sample is the wire format published per device.
type Sample struct {
	Device    string     `json:"device"`
	Time      float64    `json:"time"`
	Position  [3]float64 `json:"position"`
	Rotation  [4]float64 `json:"rotation"`
	Velocity  [3]float64 `json:"velocity"`
	AngularV  [3]float64 `json:"angular_velocity"`
	Published time.Time  `json:"published"`
}

// Publisher publishes Samples to a NATS subject namespaced per device.
type Publisher struct {
	nc     *nats.Conn
	prefix string
}

// NewPublisher connects to a NATS server at url. Subjects are
// published as "<prefix>.<device>".
func NewPublisher(url, prefix string) (*Publisher, error) {
	nc, err := nats.Connect(url)
	if err != nil {
		return nil, fmt.Errorf("telemetry: connect to nats at %q: %w", url, err)
	}
	return &Publisher{nc: nc, prefix: prefix}, nil
}

// Publish sends one sample for the given device, logging (not
// failing) on marshal/publish errors since telemetry loss must never
// interrupt the tracker's hot path.
func (p *Publisher) Publish(device string, s Sample) {
	subject, data, err := encode(p.prefix, device, s)
	if err != nil {
		utils.Component("telemetry").WithError(err).Warn("failed to marshal telemetry sample")
		return
	}
	if err := p.nc.Publish(subject, data); err != nil {
		utils.Component("telemetry").WithError(err).Warn("failed to publish telemetry sample")
	}
}

// encode builds the subject and JSON payload for a sample, split out
// from Publish so the wire format can be tested without a live NATS
// connection.
func encode(prefix, device string, s Sample) (subject string, data []byte, err error) {
	s.Device = device
	s.Published = time.Now()
	data, err = json.Marshal(s)
	return prefix + "." + device, data, err
}

// Close drains and closes the underlying NATS connection.
func (p *Publisher) Close() {
	p.nc.Drain()
}
