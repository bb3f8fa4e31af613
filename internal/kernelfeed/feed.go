// Copyright 2024 The Bit-Babbler Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package kernelfeed implements the optional kernel entropy feed: draining
// the pool back into the operating system's own entropy pool via the Linux
// RNDADDENTROPY ioctl, gated behind its own independent, double-checked QA
// pass. Grounded on
// original_source/include/bit-babbler/secret-source.h's FeedKernelEntropy.
package kernelfeed

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/bit-babbler/seedd/internal/pool"
	"github.com/bit-babbler/seedd/internal/qa"
)

// folds is the number of times a block is halved before it is credited to
// the kernel, matching FeedKernelEntropy's folds = 2.
const folds = 2

// Feeder drains a Pool into the kernel's entropy pool. Every block is
// checked twice: once raw by source, once again after folding, by an
// entirely separate HealthMonitor, before it's ever credited — a source
// that is individually healthy but folds down to something degenerate
// still gets rejected.
type Feeder struct {
	pool       *pool.Pool
	device     string
	refillTime time.Duration
	log        *logrus.Entry

	source *qa.HealthMonitor
	folded *qa.HealthMonitor
}

// NewFeeder returns a Feeder draining p into the kernel random device at
// device (typically "/dev/random"). refillTime bounds how long Run waits
// for the kernel to want more entropy between credits; zero means wait
// indefinitely.
func NewFeeder(p *pool.Pool, device string, refillTime time.Duration, log *logrus.Entry) *Feeder {
	return &Feeder{
		pool:       p,
		device:     device,
		refillTime: refillTime,
		log:        log,
		source:     qa.NewHealthMonitor(false),
		folded:     qa.NewHealthMonitor(false),
	}
}

// Run opens the kernel device and feeds it one FIPS block's worth of
// entropy at a time until ctx is cancelled. It always returns a non-nil
// error: the open or pool-read failure, or ctx's error on cancellation.
func (f *Feeder) Run(ctx context.Context) error {
	fd, err := openKernelDevice(f.device)
	if err != nil {
		return fmt.Errorf("kernelfeed: open %s: %w", f.device, err)
	}
	defer closeKernelDevice(fd)

	raw := make([]byte, qa.FIPSBlockBytes)
	folded := make([]byte, 0, qa.FIPSBlockBytes)

	for {
		if err := f.fillCheckedBlock(ctx, raw, &folded); err != nil {
			return err
		}

		credited := len(folded)
		if err := addEntropy(fd, folded, credited*8); err != nil {
			f.log.WithError(err).Warn("kernelfeed: RNDADDENTROPY failed")
		}
		folded = folded[:0]

		if err := waitForRefill(ctx, fd, f.refillTime); err != nil {
			return err
		}
	}
}

// fillCheckedBlock reads raw FIPS blocks from the pool, folding each one
// and accumulating into *acc, until both the most recent raw block and a
// full accumulated folded block pass their respective HealthMonitors.
func (f *Feeder) fillCheckedBlock(ctx context.Context, raw []byte, acc *[]byte) error {
	for {
		n, err := f.pool.Read(ctx, raw)
		if err != nil {
			return err
		}
		chunk := raw[:n]

		sourceOk := f.source.Check(chunk)
		if !sourceOk {
			*acc = (*acc)[:0]
			continue
		}

		foldedLen := qa.FoldBytes(chunk, folds)
		*acc = append(*acc, chunk[:foldedLen]...)

		if len(*acc) < qa.FIPSBlockBytes {
			continue
		}

		block := (*acc)[:qa.FIPSBlockBytes]
		foldedOk := f.folded.Check(block)
		if sourceOk && foldedOk {
			*acc = block
			return nil
		}
		*acc = (*acc)[:0]
	}
}
