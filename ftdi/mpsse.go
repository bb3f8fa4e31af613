// Copyright 2017 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// MPSSE is Multi-Protocol Synchronous Serial Engine
//
// MPSSE basics:
// http://www.ftdichip.com/Support/Documents/AppNotes/AN_135_MPSSE_Basics.pdf
//
// seedd only drives the clocked byte-stream-in command (DATA_BYTE_IN) plus
// the handful of setup opcodes (clock source/divisor, GPIO tristate,
// loopback disable, buffer flush) RNGStream's sync and read path need; the
// rest of the MPSSE command set (JTAG TMS shifting, CPU register access,
// short sub-byte transfers, GPIO bit read/write) belongs to the GPIO/I²C/SPI
// surface this package does not implement.

package ftdi

import (
	"context"
	"errors"
	"time"

	"periph.io/x/conn/v3/gpio"
)

const (
	// TDI/TDO serial operation synchronised on clock edges.
	//
	// Long streams (default):
	// - [1, 65536] bytes (length is sent minus one, requires 8 bits multiple)
	//   <op>, <LengthLow-1>, <LengthHigh-1>, <byte0>, ..., <byteN>
	//
	// Flags:
	dataOut     byte = 0x10 // Enable output, default on +VE (Rise)
	dataIn      byte = 0x20 // Enable input, default on +VE (Rise)
	dataOutFall byte = 0x01 // instead of Rise
	dataInFall  byte = 0x04 // instead of Rise
	dataLSBF    byte = 0x08 // instead of MSBF

	// GPIO operation.
	//
	// - Operates on 8 GPIOs at a time, e.g. C0~C7 or D0~D7.
	// - Direction 1 means output, 0 means input.
	//
	// <op>, <value>, <direction>
	gpioSetD byte = 0x80
	gpioSetC byte = 0x82

	// Internal loopback.
	internalLoopbackDisable byte = 0x85

	// Clock.
	//
	// The TCK/SK has a 50% duty cycle. By default, the base clock is 6MHz via
	// a 5x divisor; on FT232H/FT2232H/FT4232H, the 5x divisor can be
	// disabled.
	clock30MHz byte = 0x8A
	// Sets clock divisor.
	//
	// <op>, <valueL-1>, <valueH-1>
	clockSetDivisor byte = 0x86
	// Uses normal 2 phases data clocking.
	clock2Phase byte = 0x8D
	// Disables adaptive clocking.
	clockNormal byte = 0x97

	// Buffer operations.
	//
	// Flush the buffer back to the host.
	flush byte = 0x87
)

// mpsseTxOp returns the right MPSSE command byte for the stream.
func mpsseTxOp(w, r bool, ew, er gpio.Edge, lsbf bool) byte {
	op := byte(0)
	if lsbf {
		op |= dataLSBF
	}
	if w {
		op |= dataOut
		if ew == gpio.FallingEdge {
			op |= dataOutFall
		}
	}
	if r {
		op |= dataIn
		if er == gpio.FallingEdge {
			op |= dataInFall
		}
	}
	return op
}

// MPSSETx runs a transaction on the clock on pins D0, D1 and D2.
//
// It can only do it on a multiple of 8 bits.
func (h *handle) MPSSETx(w, r []byte, ew, er gpio.Edge, lsbf bool) error {
	l := len(w)
	if len(w) != 0 {
		if len(w) > 65536 {
			return errors.New("ftdi: write buffer too long; max 65536")
		}
	}
	if len(r) != 0 {
		if len(r) > 65536 {
			return errors.New("ftdi: read buffer too long; max 65536")
		}
		if l != 0 && len(r) != l {
			return errors.New("ftdi: mismatched buffer lengths")
		}
		l = len(r)
	}

	op := mpsseTxOp(len(w) != 0, len(r) != 0, ew, er, lsbf)
	cmd := []byte{op, byte(l - 1), byte((l - 1) >> 8)}
	cmd = append(cmd, w...)
	cmd = append(cmd, flush)
	if _, err := h.Write(cmd); err != nil {
		return err
	}
	if len(r) != 0 {
		ctx, cancel := context200ms()
		defer cancel()
		_, err := h.ReadAll(ctx, r)
		return err
	}
	return nil
}

func context200ms() (context.Context, func()) {
	return context.WithTimeout(context.Background(), 200*time.Millisecond)
}
