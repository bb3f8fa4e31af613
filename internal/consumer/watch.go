// Copyright 2024 The Bit-Babbler Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package consumer

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/bit-babbler/seedd/internal/pool"
)

// Watch drains an external device by path in fixed-size blocks, feeding
// each block straight into the Pool, pausing delay between blocks, up to
// an overall byte budget. Unlike a Worker it runs no QA gating of its own —
// it's for trusted auxiliary entropy sources (another daemon's named pipe,
// a hardware TRNG exposed as a character device) rather than the primary
// untrusted USB acquisition path.
type Watch struct {
	open      func() (io.ReadCloser, error)
	pool      *pool.Pool
	blockSize int
	delay     time.Duration
	maxBytes  int64
	log       *logrus.Entry
}

// NewWatch returns a Watch that opens path on Run, reading blockSize bytes
// at a time with delay between reads, stopping after maxBytes total
// (0 means unbounded).
func NewWatch(path string, p *pool.Pool, blockSize int, delay time.Duration, maxBytes int64, log *logrus.Entry) *Watch {
	return &Watch{
		open: func() (io.ReadCloser, error) {
			return openPath(path)
		},
		pool:      p,
		blockSize: blockSize,
		delay:     delay,
		maxBytes:  maxBytes,
		log:       log,
	}
}

// Run opens the watched path and feeds the Pool until maxBytes have been
// read, ctx is cancelled, or the underlying read fails.
func (w *Watch) Run(ctx context.Context) error {
	rc, err := w.open()
	if err != nil {
		return fmt.Errorf("consumer: watch: open: %w", err)
	}
	defer rc.Close()

	buf := make([]byte, w.blockSize)
	var total int64

	for {
		if w.maxBytes > 0 && total >= w.maxBytes {
			return nil
		}

		n, err := io.ReadFull(rc, buf)
		if err != nil {
			return fmt.Errorf("consumer: watch: read: %w", err)
		}
		w.pool.AddEntropy(buf[:n])
		total += int64(n)

		if w.delay > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(w.delay):
			}
		} else if ctx.Err() != nil {
			return ctx.Err()
		}
	}
}
