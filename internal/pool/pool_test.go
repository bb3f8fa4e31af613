// Copyright 2024 The Bit-Babbler Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package pool

import (
	"bytes"
	"context"
	"testing"
	"time"
)

func TestPoolAddEntropyFillsThenMixes(t *testing.T) {
	p := New(8)

	p.AddEntropy([]byte{1, 2, 3, 4})
	if p.fill != 4 {
		t.Fatalf("fill = %d, want 4", p.fill)
	}

	p.AddEntropy([]byte{5, 6, 7, 8})
	if !p.IsFull() {
		t.Fatalf("pool should be full after 8 bytes into an 8 byte pool")
	}
	want := []byte{1, 2, 3, 4, 5, 6, 7, 8}
	if !bytes.Equal(p.buf, want) {
		t.Fatalf("buf = %v, want %v", p.buf, want)
	}

	// A 9th contribution, once full, should XOR into the buffer starting
	// at the next cursor rather than grow the pool or get discarded.
	p.AddEntropy([]byte{0xff})
	if p.buf[0] != 1^0xff {
		t.Fatalf("buf[0] = %#x, want %#x", p.buf[0], 1^0xff)
	}
}

func TestPoolReadDrainsFromEnd(t *testing.T) {
	p := New(8)
	p.AddEntropy([]byte{1, 2, 3, 4, 5, 6, 7, 8})

	buf := make([]byte, 4)
	ctx := context.Background()
	n, err := p.Read(ctx, buf)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if n != 4 {
		t.Fatalf("n = %d, want 4", n)
	}
	if !bytes.Equal(buf, []byte{5, 6, 7, 8}) {
		t.Fatalf("buf = %v, want {5,6,7,8}", buf)
	}
	if p.fill != 4 {
		t.Fatalf("fill after read = %d, want 4", p.fill)
	}
}

func TestPoolReadBlocksUntilFilled(t *testing.T) {
	p := New(8)

	done := make(chan int, 1)
	go func() {
		buf := make([]byte, 8)
		n, err := p.Read(context.Background(), buf)
		if err != nil {
			t.Errorf("Read: %v", err)
		}
		done <- n
	}()

	time.Sleep(10 * time.Millisecond)
	select {
	case <-done:
		t.Fatalf("Read returned before the pool was filled")
	default:
	}

	p.AddEntropy(make([]byte, 8))

	select {
	case n := <-done:
		if n != 8 {
			t.Fatalf("n = %d, want 8", n)
		}
	case <-time.After(time.Second):
		t.Fatalf("Read did not unblock after the pool filled")
	}
}

func TestPoolReadRespectsContextCancellation(t *testing.T) {
	p := New(8)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() {
		_, err := p.Read(ctx, make([]byte, 8))
		done <- err
	}()

	time.Sleep(10 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if err == nil {
			t.Fatalf("expected an error from Read after cancellation")
		}
	case <-time.After(time.Second):
		t.Fatalf("Read did not unblock after context cancellation")
	}
}
