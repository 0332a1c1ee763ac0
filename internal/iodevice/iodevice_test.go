package iodevice

import (
	"bytes"
	"encoding/binary"
	"math"
	"testing"
)

func encodeFloat(buf *bytes.Buffer, v float64) {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], math.Float64bits(v))
	buf.Write(b[:])
}

func TestDecodeIMU_RoundTrips(t *testing.T) {
	var buf bytes.Buffer
	var tc [8]byte
	binary.LittleEndian.PutUint64(tc[:], 12345)
	buf.Write(tc[:])
	for _, v := range []float64{1, 2, 3} {
		encodeFloat(&buf, v)
	}
	for _, v := range []float64{0.1, 0.2, 0.3} {
		encodeFloat(&buf, v)
	}

	s, err := decodeIMU(&buf)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if s.Timecode != 12345 {
		t.Fatalf("expected timecode 12345, got %d", s.Timecode)
	}
	if s.Accel != [3]float64{1, 2, 3} {
		t.Fatalf("unexpected accel: %v", s.Accel)
	}
	if s.Gyro != [3]float64{0.1, 0.2, 0.3} {
		t.Fatalf("unexpected gyro: %v", s.Gyro)
	}
}

func TestDecodeLightcap_RoundTrips(t *testing.T) {
	var buf bytes.Buffer
	var tc [8]byte
	binary.LittleEndian.PutUint64(tc[:], 99)
	buf.Write(tc[:])
	var ints [12]byte
	binary.LittleEndian.PutUint32(ints[0:4], uint32(int32(0)))
	binary.LittleEndian.PutUint32(ints[4:8], uint32(int32(2)))
	binary.LittleEndian.PutUint32(ints[8:12], uint32(int32(1)))
	buf.Write(ints[:])
	encodeFloat(&buf, 0.5)

	s, err := decodeLightcap(&buf)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if s.Timecode != 99 || s.Lighthouse != 0 || s.Sensor != 2 || s.Axis != 1 || s.Angle != 0.5 {
		t.Fatalf("unexpected decoded sample: %+v", s)
	}
}
