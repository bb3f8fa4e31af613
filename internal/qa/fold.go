// Copyright 2024 The Bit-Babbler Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package qa implements the continuous statistical health analysis that
// gates whether an acquisition source's output is trusted: the FIPS 140-2
// block tests, the ENT-suite-style entropy/chi-square/mean/pi/autocorrelation
// metrics (run at both 8 and 16 bit sample widths), a streaming bit-run
// length counter, and the HealthMonitor that composes all of them into a
// single pass/fail decision with hysteresis.
package qa

import "fmt"

// FoldBytes XORs the upper half of buf into its lower half, repeated folds
// times. Each fold halves the usable length; the returned value is that new
// length. It panics if len(buf) isn't a multiple of 2^folds, since that
// indicates a caller bug rather than a data condition to recover from.
func FoldBytes(buf []byte, folds uint) int {
	n := len(buf)
	if folds > 0 && n&((1<<folds)-1) != 0 {
		panic(fmt.Sprintf("qa: FoldBytes: length %d cannot fold %d times", n, folds))
	}
	for ; folds > 0; folds-- {
		n >>= 1
		for i := 0; i < n; i++ {
			buf[i] ^= buf[n+i]
		}
	}
	return n
}
