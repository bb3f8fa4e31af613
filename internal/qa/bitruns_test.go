// Copyright 2024 The Bit-Babbler Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package qa

import (
	"math"
	"testing"
)

func TestBitRunsAddBitsCountsTotalBits(t *testing.T) {
	r := NewBitRuns()
	// 0xF0 = 11110000: a run of four 1s then four 0s.
	r.AddBits([]byte{0xF0})

	res := r.Result()
	if res.Ones != 4 {
		t.Fatalf("Ones = %d, want 4", res.Ones)
	}
	if res.Zeros != 4 {
		t.Fatalf("Zeros = %d, want 4", res.Zeros)
	}
}

func TestBitRunsAlternatingBitsAreAllRunsOfOne(t *testing.T) {
	r := NewBitRuns()
	// 0xAA = 10101010: eight runs of length 1, alternating bit value.
	r.AddBits([]byte{0xAA})

	res := r.Result()
	if res.Max != 1 {
		t.Fatalf("Max run length = %d, want 1", res.Max)
	}
	if res.Ones != 4 || res.Zeros != 4 {
		t.Fatalf("Ones=%d Zeros=%d, want 4/4", res.Ones, res.Zeros)
	}
}

// TestChisqProbabilityIsSurvivalFunction checks the incomplete-gamma-based
// chi-square tail probability against well-known reference points: the
// median of a chi-square distribution with df degrees of freedom has
// probability close to 0.5, and a chi-square of 0 always has probability 1.
func TestChisqProbabilityIsSurvivalFunction(t *testing.T) {
	if p := chisqProbability(0, 10); math.Abs(p-1.0) > 1e-9 {
		t.Fatalf("chisqProbability(0, 10) = %v, want 1.0", p)
	}
	// For df=2, the chi-square CDF has a closed form: P(X > x) = exp(-x/2).
	for _, x := range []float64{0.5, 2.0, 10.0} {
		got := chisqProbability(x, 2)
		want := math.Exp(-x / 2)
		if math.Abs(got-want) > 1e-6 {
			t.Fatalf("chisqProbability(%v, 2) = %v, want %v", x, got, want)
		}
	}
}

func TestChisqProbabilityRejectsInvalidDF(t *testing.T) {
	if p := chisqProbability(5, 0); p != 1.0 {
		t.Fatalf("chisqProbability with df=0 = %v, want 1.0 (treated as undefined)", p)
	}
}
