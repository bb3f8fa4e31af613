// Copyright 2024 The Bit-Babbler Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package kernelfeed

import (
	"context"
	"math/rand"
	"testing"

	"github.com/sirupsen/logrus"

	"github.com/bit-babbler/seedd/internal/pool"
	"github.com/bit-babbler/seedd/internal/qa"
)

func testFeeder(p *pool.Pool) *Feeder {
	log := logrus.NewEntry(logrus.New())
	return NewFeeder(p, "/dev/null", 0, log)
}

// TestFillCheckedBlockProducesOneFoldedBlock feeds enough pseudo-random
// bytes through the pool that fillCheckedBlock must read multiple raw FIPS
// blocks, fold each by two, and accumulate exactly one full folded block
// before returning.
func TestFillCheckedBlockProducesOneFoldedBlock(t *testing.T) {
	p := pool.New(1 << 20)
	rng := rand.New(rand.NewSource(1))

	// Each HealthMonitor reports OK only after 20 consecutive passing FIPS
	// blocks: 20 raw blocks for the source monitor, then 20 folded blocks
	// (2^folds raw blocks each) for the folded one. Fill the whole pool so
	// pool.Read never blocks.
	src := make([]byte, 1<<20)
	rng.Read(src)
	p.AddEntropy(src)

	f := testFeeder(p)
	raw := make([]byte, qa.FIPSBlockBytes)
	var acc []byte

	if err := f.fillCheckedBlock(context.Background(), raw, &acc); err != nil {
		t.Fatalf("fillCheckedBlock: %v", err)
	}
	if len(acc) != qa.FIPSBlockBytes {
		t.Fatalf("accumulated %d bytes, want exactly %d (one FIPS block)", len(acc), qa.FIPSBlockBytes)
	}
}

// TestFillCheckedBlockHonoursCancellation ensures a cancelled context
// unblocks a pool read that would otherwise wait forever.
func TestFillCheckedBlockHonoursCancellation(t *testing.T) {
	p := pool.New(1 << 20)
	f := testFeeder(p)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	raw := make([]byte, qa.FIPSBlockBytes)
	var acc []byte
	if err := f.fillCheckedBlock(ctx, raw, &acc); err == nil {
		t.Fatalf("expected an error from a cancelled context, got nil")
	}
}
