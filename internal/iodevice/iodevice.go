// Package iodevice reads framed IMU and lightcap samples off a
// serial-attached tracked object. The serial port handling (open,
// configure, background read loop feeding typed callbacks) is
// adapted from the teacher's MAVLink serial controller; the framing
// below is this repository's own, since nothing in the retrieval pack
// specifies a lightcap/IMU wire format.
package iodevice

import (
	"bufio"
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"math"

	"go.bug.st/serial"

	"github.com/survivekalman/posetrack/pkg/utils"
)

// Frame type tags, one byte each, prefixing every frame.
const (
	FrameIMU      byte = 0x01
	FrameLightcap byte = 0x02
)

// IMUSample is one decoded IMU frame.
type IMUSample struct {
	Timecode   uint64
	Accel, Gyro [3]float64
}

// LightcapSample is one decoded lightcap sweep-angle frame.
type LightcapSample struct {
	Timecode             uint64
	Lighthouse, Sensor, Axis int
	Angle                 float64
}

// Source reads framed samples off a serial port.
type Source struct {
	port serial.Port
}

// Open configures and opens the serial port at baud.
func Open(portName string, baud int) (*Source, error) {
	mode := &serial.Mode{
		BaudRate: baud,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}
	port, err := serial.Open(portName, mode)
	if err != nil {
		return nil, fmt.Errorf("iodevice: open %s: %w", portName, err)
	}
	return &Source{port: port}, nil
}

// Close closes the underlying serial port.
func (s *Source) Close() error {
	return s.port.Close()
}

// Run reads frames until ctx is canceled or the port returns an
// unrecoverable error, dispatching decoded samples to the supplied
// callbacks.
func (s *Source) Run(ctx context.Context, onIMU func(IMUSample), onLight func(LightcapSample)) error {
	log := utils.Component("iodevice")
	r := bufio.NewReader(s.port)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		tag, err := r.ReadByte()
		if err != nil {
			if err == io.EOF {
				return nil
			}
			return fmt.Errorf("iodevice: read frame tag: %w", err)
		}

		switch tag {
		case FrameIMU:
			sample, err := decodeIMU(r)
			if err != nil {
				log.WithError(err).Warn("dropping malformed IMU frame")
				continue
			}
			onIMU(sample)
		case FrameLightcap:
			sample, err := decodeLightcap(r)
			if err != nil {
				log.WithError(err).Warn("dropping malformed lightcap frame")
				continue
			}
			onLight(sample)
		default:
			log.WithField("tag", tag).Warn("unknown frame tag, resyncing")
		}
	}
}

func decodeIMU(r io.Reader) (IMUSample, error) {
	var buf [8 + 8*6]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return IMUSample{}, err
	}
	var s IMUSample
	s.Timecode = binary.LittleEndian.Uint64(buf[0:8])
	for i := 0; i < 3; i++ {
		s.Accel[i] = decodeFloat(buf[8+i*8 : 16+i*8])
	}
	for i := 0; i < 3; i++ {
		s.Gyro[i] = decodeFloat(buf[32+i*8 : 40+i*8])
	}
	return s, nil
}

func decodeLightcap(r io.Reader) (LightcapSample, error) {
	var buf [8 + 3*4 + 8]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return LightcapSample{}, err
	}
	var s LightcapSample
	s.Timecode = binary.LittleEndian.Uint64(buf[0:8])
	s.Lighthouse = int(int32(binary.LittleEndian.Uint32(buf[8:12])))
	s.Sensor = int(int32(binary.LittleEndian.Uint32(buf[12:16])))
	s.Axis = int(int32(binary.LittleEndian.Uint32(buf[16:20])))
	s.Angle = decodeFloat(buf[20:28])
	return s, nil
}

func decodeFloat(b []byte) float64 {
	bits := binary.LittleEndian.Uint64(b)
	return math.Float64frombits(bits)
}
