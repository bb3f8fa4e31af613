// Copyright 2024 The Bit-Babbler Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

//go:build linux

package kernelfeed

import (
	"context"
	"encoding/binary"
	"fmt"
	"time"
	"unsafe"

	"golang.org/x/sys/unix"
)

// rndAddEntropy is RNDADDENTROPY from linux/random.h: _IOW('R', 0x03,
// int[2]). golang.org/x/sys/unix carries no binding for it — it's a
// BitBabbler/random-specific ioctl, not one of the common network/terminal
// ones the package vendors — so it's computed here the same way the kernel
// header's _IOW macro does: direction<<30 | size<<16 | type<<8 | nr.
const rndAddEntropy = 1<<30 | 8<<16 | 'R'<<8 | 0x03

func openKernelDevice(path string) (int, error) {
	return unix.Open(path, unix.O_RDWR, 0)
}

func closeKernelDevice(fd int) {
	unix.Close(fd)
}

// addEntropy issues RNDADDENTROPY, crediting entropyBits worth of entropy
// backed by data. The wire struct is struct rand_pool_info { int
// entropy_count; int buf_size; __u32 buf[]; } — entropy_count and buf_size
// are both 4-byte ints immediately followed by the buffer, so a flat byte
// buffer with a binary.LittleEndian-encoded header reproduces its layout
// without needing cgo.
func addEntropy(fd int, data []byte, entropyBits int) error {
	buf := make([]byte, 8+len(data))
	binary.LittleEndian.PutUint32(buf[0:4], uint32(entropyBits))
	binary.LittleEndian.PutUint32(buf[4:8], uint32(len(data)))
	copy(buf[8:], data)

	_, _, errno := unix.Syscall(unix.SYS_IOCTL, uintptr(fd), uintptr(rndAddEntropy), uintptr(unsafe.Pointer(&buf[0])))
	if errno != 0 {
		return fmt.Errorf("kernelfeed: RNDADDENTROPY: %w", errno)
	}
	return nil
}

// waitForRefill blocks on fd becoming writable again (the kernel signals
// POLLOUT once its pool has room to want more entropy), bounded by timeout
// (zero means wait indefinitely) and by ctx cancellation.
func waitForRefill(ctx context.Context, fd int, timeout time.Duration) error {
	ms := -1
	if timeout > 0 {
		ms = int(timeout / time.Millisecond)
	}

	done := make(chan error, 1)
	go func() {
		fds := []unix.PollFd{{Fd: int32(fd), Events: unix.POLLOUT}}
		_, err := unix.Poll(fds, ms)
		done <- err
	}()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-done:
		return err
	}
}
