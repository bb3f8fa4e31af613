// Copyright 2024 The Bit-Babbler Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package ftdi

import (
	"errors"
	"fmt"

	"periph.io/x/d2xx"
)

// numDevicesFn and d2xxOpenFn are the enumeration's only two touchpoints
// with the real d2xx driver, kept as overridable package vars the same way
// the teacher's driver struct kept d.numDevices/d.d2xxOpen mutable fields —
// so tests can swap in a fake device list without a physical USB device.
var (
	numDevicesFn = numDevices
	d2xxOpenFn   = d2xx.Open
)

// OpenRNGStreams enumerates every connected FTDI device and wraps each as an
// *RNGStream, grounded on driver.go's Init (numDevices/openHandle loop) but
// skipping the GPIO/I2C/SPI wrapper construction in dev.go entirely — a
// RNGStream only needs the handle and the EEPROM serial, not a Dev.
//
// cfgFor is called with each device's EEPROM serial to look up its
// acquisition settings (see internal/config.Config's *For methods). A
// device whose EEPROM can't be read is skipped with its error returned
// alongside any streams that opened successfully, so one bad device doesn't
// prevent the daemon from using the rest.
func OpenRNGStreams(cfgFor func(serial string) Config) ([]*RNGStream, error) {
	num, err := numDevicesFn()
	if err != nil {
		return nil, fmt.Errorf("ftdi: enumerate devices: %w", err)
	}

	var streams []*RNGStream
	var errs []error
	for i := 0; i < num; i++ {
		s, err := openRNGStream(i, cfgFor)
		if err != nil {
			errs = append(errs, fmt.Errorf("ftdi: device #%d: %w", i, err))
			continue
		}
		streams = append(streams, s)
	}

	if len(errs) > 0 {
		return streams, fmt.Errorf("ftdi: %d of %d devices failed to open: %w", len(errs), num, errors.Join(errs...))
	}
	return streams, nil
}

func openRNGStream(i int, cfgFor func(serial string) Config) (*RNGStream, error) {
	h, err := openHandle(d2xxOpenFn, i)
	if err != nil {
		return nil, err
	}

	var ee EEPROM
	if err := h.ReadEEPROM(&ee); err != nil {
		_ = h.Close()
		return nil, fmt.Errorf("read EEPROM: %w", err)
	}
	serial := ee.Serial
	if serial == "" {
		serial = fmt.Sprintf("unknown#%d", i)
	}

	return NewRNGStream(h, serial, cfgFor(serial)), nil
}
