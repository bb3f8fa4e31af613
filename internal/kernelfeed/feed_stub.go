// Copyright 2024 The Bit-Babbler Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

//go:build !linux

package kernelfeed

import (
	"context"
	"fmt"
	"time"
)

// On non-Linux platforms there is no RNDADDENTROPY equivalent wired up here
// (the reference implementation's Mac fallback writes raw bytes to
// /dev/random instead of crediting an entropy count, which changes the
// system's accounting semantics enough that it's out of scope); Run fails
// immediately so misconfiguration is visible at startup rather than
// silently discarding kernel-feed bytes.

func openKernelDevice(path string) (int, error) {
	return 0, fmt.Errorf("kernelfeed: not supported on this platform")
}

func closeKernelDevice(fd int) {}

func addEntropy(fd int, data []byte, entropyBits int) error {
	return fmt.Errorf("kernelfeed: not supported on this platform")
}

func waitForRefill(ctx context.Context, fd int, timeout time.Duration) error {
	<-ctx.Done()
	return ctx.Err()
}
