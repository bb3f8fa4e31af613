// Copyright 2024 The Bit-Babbler Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package qa

import "testing"

func resultBit(result uint, t FIPSTest) bool {
	return result&(uint(1)<<uint(t)) != 0
}

// TestFIPSMonobitPassesOnAlternatingByte exercises scenario 3: 2500 bytes of
// 0x55 gives exactly 10000 ones out of 20000 bits, which passes monobit
// (9725 < 10000 < 10275) while poker and runs both fail on such a regular
// pattern.
func TestFIPSMonobitPassesOnAlternatingByte(t *testing.T) {
	buf := make([]byte, fipsBlockSize)
	for i := range buf {
		buf[i] = 0x55
	}
	f := NewFIPS()
	result := f.check(buf)

	if resultBit(result, Monobit) {
		t.Fatalf("monobit failed on a block with exactly 10000 ones")
	}
	if !resultBit(result, Poker) {
		t.Fatalf("expected poker to fail on a constant-byte block")
	}
	if !resultBit(result, Runs) {
		t.Fatalf("expected runs to fail on a constant-byte block")
	}
	if !resultBit(result, Result) {
		t.Fatalf("expected the aggregate Result bit to be set")
	}
}

// TestFIPSRepetitionTriggersOnDuplicateWord exercises scenario 4: a block of
// repeating 0xAA, 0xBB bytes forms the identical 32-bit word 0xAABBAABB on
// every 4-byte boundary, so the continuous-word repetition test must flag
// after the first duplicate.
func TestFIPSRepetitionTriggersOnDuplicateWord(t *testing.T) {
	buf := make([]byte, fipsBlockSize)
	for i := range buf {
		if i%2 == 0 {
			buf[i] = 0xAA
		} else {
			buf[i] = 0xBB
		}
	}
	f := NewFIPS()
	result := f.check(buf)

	if !resultBit(result, Repetition) {
		t.Fatalf("expected repetition test to trigger on a repeating word stream")
	}
}

// TestFIPSRepetitionNeverFlagsFirstWord checks the universal invariant: the
// initial previous-word constant 0x5EED1E57 must never cause the very first
// 32-bit word of a fresh analyzer to be flagged as a repeat, since no real
// entropy stream would coincidentally start with that exact word.
func TestFIPSRepetitionNeverFlagsFirstWord(t *testing.T) {
	buf := make([]byte, fipsBlockSize)
	for i := range buf {
		buf[i] = byte(i * 37)
	}
	f := NewFIPS()
	if f.previousWord != 0x5EED1E57 {
		t.Fatalf("NewFIPS: previousWord = %#x, want 0x5EED1E57", f.previousWord)
	}
	result := f.check(buf)
	if resultBit(result, Repetition) {
		t.Fatalf("repetition test flagged on the first word against an unrelated stream")
	}
}

func TestFailRatePeakTracksOnlyNewHighs(t *testing.T) {
	fr := newFailRate(20, 1000)
	if exceeded := fr.Fail(); !exceeded {
		t.Fatalf("first Fail() should always be a new peak")
	}
	// One Pass only decays the rate by 0.1%, so a second Fail right after
	// would be a new high; pass long enough for the rate to decay to zero.
	for i := 0; i < 2000; i++ {
		fr.Pass()
	}
	if exceeded := fr.Fail(); exceeded {
		t.Fatalf("rate should have decayed after the Passes, not exceed the prior peak")
	}
}

func TestPassRunsTracksLongestRun(t *testing.T) {
	pr := newPassRuns(14, 10)
	for i := 0; i < 5; i++ {
		pr.Pass()
	}
	pr.Fail()
	if pr.Peak() != 5 {
		t.Fatalf("Peak() = %d, want 5", pr.Peak())
	}
	pr.Pass()
	pr.Fail()
	if pr.Peak() != 5 {
		t.Fatalf("Peak() = %d after a shorter run, want unchanged 5", pr.Peak())
	}
}
