// Copyright 2024 The Bit-Babbler Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package ftdi

import (
	"testing"

	"periph.io/x/d2xx"
	"periph.io/x/d2xx/d2xxtest"
)

// fakeDevice builds the same d2xxtest.Fake the teacher's own driver_test.go
// used to exercise device-open without real hardware.
func fakeDevice() *d2xxtest.Fake {
	return &d2xxtest.Fake{
		DevType: uint32(DevTypeFT232R),
		Vid:     0x0403,
		Pid:     0x6014,
	}
}

func withFakeDevices(t *testing.T, n int, openErrAt int) {
	t.Helper()
	numDevicesFn = func() (int, error) { return n, nil }
	d2xxOpenFn = func(i int) (d2xx.Handle, d2xx.Err) {
		if i == openErrAt {
			return nil, 2 // any nonzero d2xx.Err fails openHandle
		}
		return fakeDevice(), 0
	}
	t.Cleanup(func() {
		numDevicesFn = numDevices
		d2xxOpenFn = d2xx.Open
	})
}

func TestOpenRNGStreamsOpensEveryEnumeratedDevice(t *testing.T) {
	withFakeDevices(t, 3, -1)

	streams, err := OpenRNGStreams(func(serial string) Config { return Config{Bitrate: 3_000_000} })
	if err != nil {
		t.Fatalf("OpenRNGStreams: %v", err)
	}
	if len(streams) != 3 {
		t.Fatalf("len(streams) = %d, want 3", len(streams))
	}
	for _, s := range streams {
		if s.Bitrate() != 3_000_000 {
			t.Errorf("Bitrate() = %d, want the cfgFor value to have been applied", s.Bitrate())
		}
	}
}

func TestOpenRNGStreamsReturnsPartialResultsAlongsideAnError(t *testing.T) {
	withFakeDevices(t, 3, 1)

	streams, err := OpenRNGStreams(func(serial string) Config { return Config{} })
	if err == nil {
		t.Fatal("expected an error describing the one failed device")
	}
	if len(streams) != 2 {
		t.Fatalf("len(streams) = %d, want 2 (the two devices that did open)", len(streams))
	}
}

func TestOpenRNGStreamsAssignsSerialFromEEPROM(t *testing.T) {
	withFakeDevices(t, 1, -1)

	var gotSerial string
	streams, err := OpenRNGStreams(func(serial string) Config {
		gotSerial = serial
		return Config{}
	})
	if err != nil {
		t.Fatalf("OpenRNGStreams: %v", err)
	}
	if len(streams) != 1 {
		t.Fatalf("len(streams) = %d, want 1", len(streams))
	}
	if streams[0].Serial() != gotSerial {
		t.Fatalf("Serial() = %q, want the serial cfgFor was called with (%q)", streams[0].Serial(), gotSerial)
	}
}
