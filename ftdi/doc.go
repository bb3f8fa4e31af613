// Copyright 2017 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package ftdi drives an FTDI MPSSE bridge chip (FT232R/FT232H family) as a
// bulk entropy source.
//
// Unlike periph's full ftdi driver, this package does not expose GPIO, I²C,
// SPI or JTAG framing: seedd only ever clocks bytes in from a BitBabbler, so
// the surface is trimmed to enumeration, EEPROM serial readout, and the MPSSE
// read/write/reset/bitmode primitives RNGStream needs.
//
// # Datasheets
//
// http://www.ftdichip.com/Support/Documents/DataSheets/ICs/DS_FT232R.pdf
//
// http://www.ftdichip.com/Support/Documents/DataSheets/ICs/DS_FT232H.pdf
package ftdi
