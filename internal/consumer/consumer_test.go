// Copyright 2024 The Bit-Babbler Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package consumer

import (
	"bytes"
	"context"
	"encoding/binary"
	"io"
	"net"
	"os"
	"testing"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/bit-babbler/seedd/internal/pool"
)

func testLog() *logrus.Entry {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return logrus.NewEntry(l)
}

func filledPool(t *testing.T, n int) *pool.Pool {
	t.Helper()
	p := pool.New(n)
	buf := make([]byte, n)
	for i := range buf {
		buf[i] = byte(i)
	}
	p.AddEntropy(buf)
	return p
}

func TestUDPSourceRepliesWithRequestedByteCount(t *testing.T) {
	serverConn, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	if err != nil {
		t.Fatalf("listen: %v", err)
	}

	p := filledPool(t, 4096)
	src := NewUDPSource(serverConn, p, testLog())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go src.Run(ctx)

	client, err := net.DialUDP("udp", nil, serverConn.LocalAddr().(*net.UDPAddr))
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer client.Close()

	req := make([]byte, 4)
	binary.BigEndian.PutUint32(req, 32)
	if _, err := client.Write(req); err != nil {
		t.Fatalf("write request: %v", err)
	}

	client.SetReadDeadline(time.Now().Add(2 * time.Second))
	resp := make([]byte, 128)
	n, err := client.Read(resp)
	if err != nil {
		t.Fatalf("read response: %v", err)
	}
	if n != 32 {
		t.Fatalf("got %d bytes, want 32", n)
	}
}

type fakeWriter struct {
	buf bytes.Buffer
}

func (f *fakeWriter) Write(p []byte) (int, error) { return f.buf.Write(p) }

func TestFDWriterStopsAtMaxBytes(t *testing.T) {
	p := filledPool(t, 4096)
	fw := &fakeWriter{}

	done := make(chan struct{})
	var gotWritten int64
	var gotErr error
	writer := NewFDWriter(fw, p, 16, 64, func(written int64, err error) {
		gotWritten = written
		gotErr = err
		close(done)
	}, testLog())

	go writer.Run(context.Background())

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for FDWriter to finish")
	}

	if gotErr != nil {
		t.Fatalf("unexpected error: %v", gotErr)
	}
	if gotWritten != 64 {
		t.Fatalf("written = %d, want 64", gotWritten)
	}
	if fw.buf.Len() != 64 {
		t.Fatalf("buffer holds %d bytes, want 64", fw.buf.Len())
	}
}

func TestFDWriterHonoursCancellation(t *testing.T) {
	p := pool.New(4096) // never fed, so Read blocks forever without cancellation
	fw := &fakeWriter{}

	ctx, cancel := context.WithCancel(context.Background())
	writer := NewFDWriter(fw, p, 16, 0, nil, testLog())

	errCh := make(chan error, 1)
	go func() { errCh <- writer.Run(ctx) }()

	cancel()

	select {
	case err := <-errCh:
		if err == nil {
			t.Fatal("expected an error from a cancelled context")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for cancellation to unblock FDWriter")
	}
}

func TestWatchFeedsPoolUpToMaxBytes(t *testing.T) {
	f, err := os.CreateTemp(t.TempDir(), "watch-src")
	if err != nil {
		t.Fatalf("create temp file: %v", err)
	}
	content := bytes.Repeat([]byte{0x42}, 256)
	if _, err := f.Write(content); err != nil {
		t.Fatalf("write temp file: %v", err)
	}
	f.Close()

	p := pool.New(1 << 16)
	w := NewWatch(f.Name(), p, 16, 0, 64, testLog())

	done := make(chan error, 1)
	go func() { done <- w.Run(context.Background()) }()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for Watch to finish")
	}

	got := make([]byte, 64)
	n, err := p.Read(context.Background(), got)
	if err != nil {
		t.Fatalf("read back: %v", err)
	}
	if n != 64 {
		t.Fatalf("pool holds %d bytes, want 64", n)
	}
}
