// Copyright 2024 The Bit-Babbler Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package consumer

import (
	"context"
	"io"

	"github.com/sirupsen/logrus"

	"github.com/bit-babbler/seedd/internal/pool"
)

// FDWriter block-loop writes Pool output to an arbitrary io.Writer
// (typically an open file or named pipe), for up to maxBytes total if
// maxBytes is non-zero, invoking done once writing stops for any reason.
type FDWriter struct {
	w         io.Writer
	pool      *pool.Pool
	maxBytes  int64
	chunkSize int
	done      func(written int64, err error)
	log       *logrus.Entry
}

// NewFDWriter returns an FDWriter draining p into w in chunkSize-byte
// writes. maxBytes of 0 means unbounded; done may be nil.
func NewFDWriter(w io.Writer, p *pool.Pool, chunkSize int, maxBytes int64, done func(written int64, err error), log *logrus.Entry) *FDWriter {
	if chunkSize <= 0 {
		chunkSize = 4096
	}
	return &FDWriter{w: w, pool: p, maxBytes: maxBytes, chunkSize: chunkSize, done: done, log: log}
}

// Run drains the pool into w until maxBytes have been written (if bounded),
// ctx is cancelled, or a write fails. It always invokes done exactly once
// before returning, with the total bytes written and the terminal error (nil
// on a clean maxBytes completion).
func (f *FDWriter) Run(ctx context.Context) error {
	var written int64
	buf := make([]byte, f.chunkSize)

	err := f.loop(ctx, buf, &written)
	if f.done != nil {
		f.done(written, err)
	}
	return err
}

func (f *FDWriter) loop(ctx context.Context, buf []byte, written *int64) error {
	for {
		if f.maxBytes > 0 && *written >= f.maxBytes {
			return nil
		}

		want := len(buf)
		if f.maxBytes > 0 {
			if remaining := f.maxBytes - *written; remaining < int64(want) {
				want = int(remaining)
			}
		}

		n, err := f.pool.Read(ctx, buf[:want])
		if err != nil {
			return err
		}

		if _, werr := f.w.Write(buf[:n]); werr != nil {
			return werr
		}
		*written += int64(n)
	}
}
