// Copyright 2024 The Bit-Babbler Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package babbler implements the per-device acquisition worker: claim the
// device, read chunks, fold them, gate them through a HealthMonitor, and
// contribute accepted bytes to a Group. One Worker owns exactly one Device
// for its entire lifetime.
package babbler

import (
	"context"
	"errors"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/bit-babbler/seedd/internal/pool"
	"github.com/bit-babbler/seedd/internal/qa"
)

// Device is the narrow interface a Worker needs from an acquisition session.
// ftdi.RNGStream implements it; tests use a fake.
type Device interface {
	// Serial identifies the device for logging and the source registry.
	Serial() string
	// Bitrate is the configured sample rate in bits/sec.
	Bitrate() int
	// Folding is the configured number of fold iterations.
	Folding() int
	// ChunkSize is the maximum number of bytes read per Read call.
	ChunkSize() int
	// NoQA reports whether this device's output should bypass HealthMonitor
	// gating and always be contributed.
	NoQA() bool
	// IdleSleepInit/IdleSleepMax are the idle backoff bounds; IdleSleepMax
	// of 0 means sleep indefinitely once the backoff saturates.
	IdleSleepInit() time.Duration
	IdleSleepMax() time.Duration
	// SuspendAfter is the idle duration past which the worker releases its
	// USB claim entirely while waiting; 0 disables suspension.
	SuspendAfter() time.Duration

	// Claim acquires the device, performing the MPSSE init sequence.
	Claim(ctx context.Context) error
	// Release releases the device claim.
	Release() error
	// SoftReset issues a device-level reset, used before reclaiming after a
	// TIMEOUT/OTHER error.
	SoftReset() error
	// Read fills buf (at most ChunkSize bytes) from the device, returning a
	// *SourceError with the appropriate Kind on failure.
	Read(ctx context.Context, buf []byte) (int, error)
}

// Sink is the destination a Worker contributes accepted bytes to: a
// *pool.Group (or a degenerate group-of-one for an ungrouped device).
type Sink interface {
	Size() int
	AddEntropy(m pool.Mask, buf []byte) error
}

// PoolFuller reports whether the destination pool is currently full, used
// to decide when to start backing off between reads.
type PoolFuller interface {
	IsFull() bool
}

const minSleep = 512 * time.Millisecond

// Worker drives one Device: claim, read, fold, QA-gate, contribute, with
// idle backoff while the pool stays full and error-kind-based recovery on
// USB faults. Grounded on secret-source.h's do_source_thread, translated
// from a pthread-cancellation loop to one honoring ctx.Done() at every
// suspension point.
type Worker struct {
	dev   Device
	sink  Sink
	mask  pool.Mask
	pf    PoolFuller

	monitor *qa.HealthMonitor
	log     *logrus.Entry

	readSize  int // ChunkSize; the last read of a fold block may be shorter
	foldBlock int // Sink.Size() << Folding()
	fold      uint
}

// NewWorker constructs a Worker for dev, contributing accepted bytes to sink
// under membership mask, backing off once pf reports the pool full.
func NewWorker(dev Device, sink Sink, mask pool.Mask, pf PoolFuller, log *logrus.Entry) *Worker {
	fold := uint(dev.Folding())
	return &Worker{
		dev:       dev,
		sink:      sink,
		mask:      mask,
		pf:        pf,
		monitor:   qa.NewHealthMonitor(dev.Bitrate() >= 5_000_000),
		log:       log.WithField("source", dev.Serial()),
		readSize:  dev.ChunkSize(),
		foldBlock: sink.Size() << fold,
		fold:      fold,
	}
}

// Run drives the acquisition loop until ctx is cancelled. It always returns
// a non-nil error: context.Cause(ctx) on ordinary shutdown, or the fatal
// *SourceError that ended the worker.
func (w *Worker) Run(ctx context.Context) error {
	buf := make([]byte, w.foldBlock)
	sleepFor := time.Duration(0)
	noQA := w.dev.NoQA()

	for {
		if err := w.dev.Claim(ctx); err != nil {
			return err
		}

		for {
			if ctx.Err() != nil {
				return context.Cause(ctx)
			}

			if sleepFor != 0 {
				suspended, err := w.idle(ctx, &sleepFor)
				if err != nil {
					return err
				}
				if suspended {
					if err := w.dev.Claim(ctx); err != nil {
						return err
					}
				}
			}

			n, err := w.readFoldBlock(ctx, buf)
			if err != nil {
				var se *SourceError
				if errors.As(err, &se) {
					switch se.Kind {
					case KindTransient:
						w.log.WithError(err).Warn("device claim dropped, reclaiming")
						w.dev.Release()
					case KindReset, KindProtocol:
						w.log.WithError(err).Warn("resetting device")
						w.dev.SoftReset()
						w.dev.Release()
					case KindFatal:
						w.log.WithError(err).Error("fatal device error, worker exiting")
						return err
					}
				}
				break // back to outer loop to reclaim
			}

			n = qa.FoldBytes(buf[:n], w.fold)

			if w.monitor.Check(buf[:n]) || noQA {
				if err := w.sink.AddEntropy(w.mask, buf[:n]); err != nil {
					w.log.WithError(err).Error("AddEntropy failed")
				}
				sleepFor = w.nextSleep(sleepFor)
			} else {
				sleepFor = 0
			}
		}
	}
}

// readFoldBlock reads exactly w.foldBlock bytes into buf in chunks of at
// most w.readSize, returning the number of bytes read (== len(buf) on
// success).
func (w *Worker) readFoldBlock(ctx context.Context, buf []byte) (int, error) {
	total := 0
	for total < len(buf) {
		n := w.readSize
		if rem := len(buf) - total; n > rem {
			n = rem
		}
		got, err := w.dev.Read(ctx, buf[total:total+n])
		if err != nil {
			return total, err
		}
		total += got
	}
	return total, nil
}

// nextSleep advances the idle backoff once the pool is observed full: zero
// starts at IdleSleepInit (or indefinite if that's 0), otherwise doubles up
// to IdleSleepMax (or stays indefinite once saturated with no max).
func (w *Worker) nextSleep(sleepFor time.Duration) time.Duration {
	if !w.pf.IsFull() {
		return 0
	}

	max := w.dev.IdleSleepMax()
	switch {
	case sleepFor == 0:
		init := w.dev.IdleSleepInit()
		if init == 0 {
			return -1 // indefinite
		}
		return init
	case sleepFor < 0:
		return sleepFor
	case sleepFor < minSleep || (max != 0 && sleepFor < max):
		sleepFor *= 2
		if max != 0 && sleepFor > max {
			sleepFor = max
		}
		return sleepFor
	case max == 0:
		return -1
	default:
		return sleepFor
	}
}

// idle waits for sleepFor (or indefinitely, if negative) before the next
// read, suspending the USB claim first if the idle duration has reached
// SuspendAfter. It reports whether the claim was released (and so must be
// reacquired by the caller) and returns ctx.Err() if cancelled while
// waiting.
func (w *Worker) idle(ctx context.Context, sleepFor *time.Duration) (bool, error) {
	suspend := w.dev.SuspendAfter()
	willSuspend := suspend > 0 && (*sleepFor < 0 || *sleepFor >= suspend)

	if willSuspend {
		w.dev.Release()
	}

	var timer <-chan time.Time
	if *sleepFor > 0 {
		t := time.NewTimer(*sleepFor)
		defer t.Stop()
		timer = t.C
	}

	select {
	case <-ctx.Done():
		return false, context.Cause(ctx)
	case <-timer:
	}

	return willSuspend, nil
}

// IsOk reports this worker's HealthMonitor state, for the source registry.
func (w *Worker) IsOk() bool { return w.monitor.IsOk() }

// Snapshot reports this worker's health statistics, for the source registry.
func (w *Worker) Snapshot() qa.Snapshot { return w.monitor.Snapshot() }

// Serial identifies this worker's device.
func (w *Worker) Serial() string { return w.dev.Serial() }

// Ent8Bins and Ent16Bins implement registry.EntBins, for the control
// socket's GetRawData command.
func (w *Worker) Ent8Bins() []uint64  { return w.monitor.Ent8Bins() }
func (w *Worker) Ent16Bins() []uint64 { return w.monitor.Ent16Bins() }
