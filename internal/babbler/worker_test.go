// Copyright 2024 The Bit-Babbler Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package babbler

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/bit-babbler/seedd/internal/pool"
)

// fakeDevice is a Device that serves zero-filled chunks forever and never
// errors, for exercising Worker.Run's steady-state path without hardware.
type fakeDevice struct {
	mu      sync.Mutex
	claims  int
	chunk   int
	serial  string
	noQA    bool
}

func (d *fakeDevice) Serial() string               { return d.serial }
func (d *fakeDevice) Bitrate() int                  { return 2_500_000 }
func (d *fakeDevice) Folding() int                  { return 1 }
func (d *fakeDevice) ChunkSize() int                { return d.chunk }
func (d *fakeDevice) NoQA() bool                    { return d.noQA }
func (d *fakeDevice) IdleSleepInit() time.Duration  { return time.Millisecond }
func (d *fakeDevice) IdleSleepMax() time.Duration   { return 2 * time.Millisecond }
func (d *fakeDevice) SuspendAfter() time.Duration   { return 0 }

func (d *fakeDevice) Claim(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.claims++
	return nil
}

func (d *fakeDevice) claimCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.claims
}

func (d *fakeDevice) Release() error   { return nil }
func (d *fakeDevice) SoftReset() error { return nil }

func (d *fakeDevice) Read(ctx context.Context, buf []byte) (int, error) {
	for i := range buf {
		buf[i] = 0 // deliberately poor "entropy": exercises the QA-reject path
	}
	return len(buf), nil
}

// fakeSink records every contribution it receives.
type fakeSink struct {
	mu    sync.Mutex
	size  int
	calls [][]byte
}

func (s *fakeSink) Size() int { return s.size }
func (s *fakeSink) AddEntropy(m pool.Mask, buf []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := append([]byte(nil), buf...)
	s.calls = append(s.calls, cp)
	return nil
}

func (s *fakeSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.calls)
}

type fakePoolFuller struct{ full bool }

func (p *fakePoolFuller) IsFull() bool { return p.full }

func TestWorkerRunStopsOnContextCancellation(t *testing.T) {
	dev := &fakeDevice{serial: "TEST-1", chunk: 16}
	sink := &fakeSink{size: 32} // foldBlock = 32 << 1 = 64
	pf := &fakePoolFuller{}
	log := logrus.NewEntry(logrus.New())

	w := NewWorker(dev, sink, pool.Mask(1), pf, log)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if err == nil {
			t.Fatalf("expected Run to return a non-nil error on cancellation")
		}
	case <-time.After(time.Second):
		t.Fatalf("Run did not return after context cancellation")
	}

	if dev.claimCount() == 0 {
		t.Fatalf("device was never claimed")
	}
}

func TestWorkerRejectsAllZeroDataAsUnhealthy(t *testing.T) {
	// An all-zero stream never satisfies FIPS monobit, so HealthMonitor
	// never reaches is_ok and the sink should receive nothing.
	dev := &fakeDevice{serial: "TEST-2", chunk: 16}
	sink := &fakeSink{size: 32}
	pf := &fakePoolFuller{}
	log := logrus.NewEntry(logrus.New())

	w := NewWorker(dev, sink, pool.Mask(1), pf, log)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	w.Run(ctx)

	if sink.count() != 0 {
		t.Fatalf("sink received %d contributions from an all-zero (unhealthy) stream, want 0", sink.count())
	}
}

func TestWorkerNoQABypassesHealthGate(t *testing.T) {
	dev := &fakeDevice{serial: "TEST-3", chunk: 16, noQA: true}
	sink := &fakeSink{size: 32}
	pf := &fakePoolFuller{}
	log := logrus.NewEntry(logrus.New())

	w := NewWorker(dev, sink, pool.Mask(1), pf, log)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	w.Run(ctx)

	if sink.count() == 0 {
		t.Fatalf("sink received no contributions despite NoQA bypassing the health gate")
	}
}
