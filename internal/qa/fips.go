// Copyright 2024 The Bit-Babbler Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package qa

import "math/bits"

// fipsBlockSize is the FIPS 140-2 statistical test block size: 20000 bits.
const fipsBlockSize = 2500

// FIPSBlockBytes exports fipsBlockSize for callers outside the package that
// need to size buffers to exactly one FIPS test block, e.g. the kernel
// entropy feed.
const FIPSBlockBytes = fipsBlockSize

// FIPSTest names one of the tests run over each 2500-byte block.
type FIPSTest int

const (
	Monobit FIPSTest = iota
	Poker
	Runs
	LongRun
	Repetition
	Proportion
	Result // aggregate: set whenever any of the above failed
	fipsTestMax
)

func (t FIPSTest) String() string {
	switch t {
	case Monobit:
		return "Monobit"
	case Poker:
		return "Poker"
	case Runs:
		return "Runs"
	case LongRun:
		return "Long run"
	case Repetition:
		return "Repetition"
	case Proportion:
		return "Proportion"
	case Result:
		return "Result"
	}
	return "Unknown test"
}

// FailRate is a rolling EWMA (alpha = 1/PERIOD, fixed-point Q<shift>) of a
// test's failure rate, plus a peak watermark.
type FailRate struct {
	shift, period uint
	pass, fail    uint64
	peak, rate    uint64
}

func newFailRate(shift, period uint) *FailRate {
	return &FailRate{shift: shift, period: period}
}

func (f *FailRate) normalise() {
	if f.pass+f.fail > uint64(1)<<63 {
		f.pass >>= 1
		f.fail >>= 1
	}
}

// Pass records a passing test result.
func (f *FailRate) Pass() {
	f.pass++
	f.rate = f.rate * (uint64(f.period) - 1) / uint64(f.period)
	f.normalise()
}

// Fail records a failing test result; returns true if this pushed the
// short-term rate to a new peak.
func (f *FailRate) Fail() bool {
	f.fail++
	f.normalise()
	f.rate = (f.rate*(uint64(f.period)-1) + (uint64(1) << f.shift)) / uint64(f.period)
	if f.rate > f.peak {
		f.peak = f.rate
		return true
	}
	return false
}

func (f *FailRate) LongTerm() float64 {
	if f.pass+f.fail == 0 {
		return 0
	}
	return float64(f.fail) / float64(f.pass+f.fail)
}

func (f *FailRate) ShortTerm() float64 { return float64(f.rate) / float64(uint64(1)<<f.shift) }
func (f *FailRate) Peak() float64      { return float64(f.peak) / float64(uint64(1)<<f.shift) }
func (f *FailRate) Passed() uint64     { return f.pass }
func (f *FailRate) Failed() uint64     { return f.fail }

// PassRuns tracks the rolling statistics of run lengths between test
// failures: a short-term EWMA, a long-term plain average, and a peak.
type PassRuns struct {
	shift, period uint
	count         uint64
	runs          uint64
	previous      uint64
	avg           uint64
	longAvg       uint64
	peak          uint64
}

func newPassRuns(shift, period uint) *PassRuns {
	return &PassRuns{shift: shift, period: period}
}

// Pass extends the current run.
func (p *PassRuns) Pass() { p.count++ }

// Fail ends the current run; returns true if the peak run length was
// exceeded.
func (p *PassRuns) Fail() bool {
	p.runs++
	p.avg = (p.avg*(uint64(p.period)-1) + (p.count << p.shift)) / uint64(p.period)
	p.longAvg += p.count

	if p.longAvg > uint64(1)<<62 || p.runs > uint64(1)<<62 {
		p.longAvg >>= 1
		p.runs >>= 1
	}

	exceeded := p.count > p.peak
	if exceeded {
		p.peak = p.count
	}
	p.previous = p.count
	p.count = 0
	return exceeded
}

func (p *PassRuns) Runs() uint64 { return p.runs }
func (p *PassRuns) LongTerm() uint64 {
	if p.runs == 0 {
		return 0
	}
	return p.longAvg / p.runs
}
func (p *PassRuns) ShortTerm() uint64 { return p.avg >> p.shift }
func (p *PassRuns) Peak() uint64      { return p.peak }
func (p *PassRuns) Current() uint64   { return p.count }
func (p *PassRuns) Previous() uint64  { return p.previous }

// maxPassRunLength is the cutoff, per test, above which an ongoing run of
// passes without a single failure is itself considered anomalous (a sign
// the test harness rather than the source has a bug). Values are taken
// verbatim from the reference implementation's rationale.
var maxPassRunLength = [fipsTestMax]uint64{
	Monobit:    134500,
	Poker:      141200,
	Runs:       42500,
	LongRun:    46900,
	Repetition: 96000000,
	Proportion: ^uint64(0),
	Result:     17500,
}

// maxFailRateQ20 is the short-term failure-rate cutoff per test, in Q20
// fixed point (FailRate uses shift=20 for every FIPS test). The rates are
// 0.004, 0.006, 0.001 and 0.007, truncated to whole Q20 units.
var maxFailRateQ20 = [fipsTestMax]uint64{
	Monobit:    4 * (1 << 20) / 1000,
	Poker:      4 * (1 << 20) / 1000,
	Runs:       6 * (1 << 20) / 1000,
	LongRun:    6 * (1 << 20) / 1000,
	Repetition: 1 * (1 << 20) / 1000,
	Proportion: 1 * (1 << 20) / 1000,
	Result:     7 * (1 << 20) / 1000,
}

// FIPS implements the FIPS 140-2 continuous tests (monobit, 4-bit poker,
// runs, long run, the continuous 32-bit repetition test, and the NIST SP
// 800-90B adaptive proportion test), run once per exact 2500-byte block.
type FIPS struct {
	previousWord uint32
	propVal      byte
	propCount    uint
	propN        uint

	failRate [fipsTestMax]*FailRate
	passRuns [fipsTestMax]*PassRuns

	bitRuns *BitRuns
}

// NewFIPS returns a FIPS analyzer ready to accept 2500-byte blocks.
func NewFIPS() *FIPS {
	f := &FIPS{
		previousWord: 0x5EED1E57, // chosen by a fair dice roll
		propN:        65535,
		bitRuns:      NewBitRuns(),
	}
	for i := range f.failRate {
		f.failRate[i] = newFailRate(20, 1000)
		f.passRuns[i] = newPassRuns(14, 10)
	}
	return f
}

// BitRuns exposes the bit-run counter this FIPS instance feeds, since it is
// already walking the buffer bit by bit.
func (f *FIPS) BitRuns() *BitRuns { return f.bitRuns }

// check runs the raw tests over exactly one 2500-byte block and returns the
// bitmask of failed tests (with bit Result set if any test failed).
func (f *FIPS) check(buf []byte) uint {
	const pokerMin = 1563175
	const pokerMax = 1576928 // truncated from 1576928.125, matching integer comparison semantics

	var result uint
	var onesCount uint
	var runLength uint
	runBit := -1
	var word uint32
	var wordByte int

	var pokerBins [16]uint
	var runs [2][6]uint

	for _, b := range buf {
		word = word<<8 | uint32(b)
		wordByte++
		if wordByte == 4 {
			if f.previousWord == word {
				result |= uint(1) << uint(Repetition)
			}
			f.previousWord = word
			onesCount += uint(bits.OnesCount32(word))
			word = 0
			wordByte = 0
		}

		pokerBins[b>>4]++
		pokerBins[b&0xf]++

		for shift := 7; shift >= 0; shift-- {
			bit := int((b >> uint(shift)) & 1)
			if bit == runBit {
				runLength++
				continue
			}
			if runBit != -1 {
				if runLength > 5 {
					if runLength >= 25 {
						result |= uint(1) << uint(LongRun)
					}
					runs[runBit][5]++
				} else {
					runs[runBit][runLength]++
				}
				f.bitRuns.AddBit(runBit, int(runLength+1))
			}
			runBit = bit
			runLength = 0
		}

		if f.propVal == b {
			f.propCount++
			if f.propCount > 358 {
				result |= uint(1) << uint(Proportion)
				f.propVal = b
				f.propCount = 0
				f.propN = 0
				continue
			}
		}
		f.propN++
		if f.propN >= 65536 {
			f.propVal = b
			f.propCount = 0
			f.propN = 0
		}
	}

	if runBit != -1 {
		if runLength > 5 {
			if runLength >= 25 {
				result |= uint(1) << uint(LongRun)
			}
			runs[runBit][5]++
		} else {
			runs[runBit][runLength]++
		}
		f.bitRuns.AddBit(runBit, int(runLength+1))
	}

	if onesCount <= 9725 || onesCount >= 10275 {
		result |= uint(1) << uint(Monobit)
	}

	var pokerSum uint64
	for _, c := range pokerBins {
		pokerSum += uint64(c) * uint64(c)
	}
	if pokerSum <= pokerMin || pokerSum > pokerMax {
		result |= uint(1) << uint(Poker)
	}

	for i := 0; i < 2; i++ {
		r := runs[i]
		if r[0] < 2315 || r[0] > 2685 ||
			r[1] < 1114 || r[1] > 1386 ||
			r[2] < 527 || r[2] > 723 ||
			r[3] < 240 || r[3] > 384 ||
			r[4] < 103 || r[4] > 209 ||
			r[5] < 103 || r[5] > 209 {
			result |= uint(1) << uint(Runs)
			break
		}
	}

	if result != 0 {
		result |= uint(1) << uint(Result)
	}
	return result
}

// Analyse runs one 2500-byte block through check, updates every test's
// rolling FailRate/PassRuns, and reports whether the block passed overall.
// buf must be exactly fipsBlockSize bytes; callers (HealthMonitor) are
// responsible for accumulating partial blocks.
func (f *FIPS) Analyse(buf []byte) bool {
	if len(buf) != fipsBlockSize {
		panic("qa: FIPS.Analyse requires an exact 2500-byte block")
	}
	result := f.check(buf)

	for i := 0; i < int(fipsTestMax); i++ {
		if result&(uint(1)<<uint(i)) != 0 {
			f.failRate[i].Fail()
			f.passRuns[i].Fail()
		} else {
			f.failRate[i].Pass()
			f.passRuns[i].Pass()
		}
	}

	return result == 0
}

// IsOk reports whether the rolling statistics are currently within bounds.
// wasOk selects between the (looser) steady-state check and the (stricter)
// recovery-from-failure check, per HealthMonitor's hysteresis.
func (f *FIPS) IsOk(wasOk bool) bool {
	if wasOk {
		for i := 0; i < int(fipsTestMax); i++ {
			if f.failRate[i].rate > maxFailRateQ20[i] {
				return false
			}
			if f.passRuns[i].Current() > maxPassRunLength[i] {
				return false
			}
		}
		return true
	}

	if f.passRuns[Result].Current() < 20 {
		return false
	}
	for i := 0; i < int(fipsTestMax); i++ {
		if f.failRate[i].rate > maxFailRateQ20[i]/2 {
			return false
		}
	}
	return true
}

// FailRateFor exposes the rolling failure-rate tracker for a test, for
// stats reporting.
func (f *FIPS) FailRateFor(t FIPSTest) *FailRate { return f.failRate[t] }

// PassRunsFor exposes the rolling pass-run tracker for a test, for stats
// reporting.
func (f *FIPS) PassRunsFor(t FIPSTest) *PassRuns { return f.passRuns[t] }
