// Copyright 2024 The Bit-Babbler Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package qa

import "math"

// entWidth distinguishes the two sample widths the ENT-style analyzer runs
// at. The original implementation template-instantiates a C++ class on the
// sample type; here a single struct carries the width and limits chosen at
// construction, per the "two concrete analyzers with a shared helper"
// redesign.
type entWidth int

const (
	// Ent8 analyses the byte stream directly.
	Ent8 entWidth = 8
	// Ent16 analyses the stream as big-endian 16-bit words.
	Ent16 entWidth = 16
)

func (w entWidth) nbins() int { return 1 << uint(w) }

// EntResult is one computed snapshot of the ENT metrics.
type EntResult struct {
	Entropy    float64
	Chisq      float64
	Mean       float64
	Pi         float64
	Corr       float64
	MinEntropy float64
}

// entLimits holds the short/long-window pass thresholds for one sample
// width, taken verbatim from the reference implementation's constant
// tables.
type entLimits struct {
	longMinSamples uint64

	longEntropy, shortEntropy     float64
	longChisqMin, longChisqMax    float64
	shortChisqMin, shortChisqMax  float64
	longMeanMin, longMeanMax      float64
	shortMeanMin, shortMeanMax    float64
	longPi, shortPi               float64
	longCorr, shortCorr           float64
	longMinEntropy, shortMinEntropy float64

	recoveryBlocks int
}

func limitsFor(w entWidth) entLimits {
	switch w {
	case Ent8:
		return entLimits{
			longMinSamples:  250_000_000,
			longEntropy:     7.999999,
			shortEntropy:    7.999,
			longChisqMin:    161.643,
			longChisqMax:    377.053,
			shortChisqMin:   147.374,
			shortChisqMax:   400.965,
			longMeanMin:     127.5 - 0.019,
			longMeanMax:     127.5 + 0.019,
			shortMeanMin:    127.5 - 0.58,
			shortMeanMax:    127.5 + 0.58,
			longPi:          0.0003 * math.Pi,
			shortPi:         0.0097 * math.Pi,
			longCorr:        0.00025,
			shortCorr:       0.0078,
			longMinEntropy:  7.99,
			shortMinEntropy: 7.73,
			recoveryBlocks:  10,
		}
	case Ent16:
		return entLimits{
			longMinSamples:  800_000_000,
			longEntropy:     15.9999,
			shortEntropy:    15.9995,
			longChisqMin:    63823.624,
			longChisqMax:    67265.364,
			shortChisqMin:   321.0,
			shortChisqMax:   67459.181,
			longMeanMin:     32767.5 - 1.87,
			longMeanMax:     32767.5 + 1.87,
			shortMeanMin:    32767.5 - 7.69,
			shortMeanMax:    32767.5 + 7.69,
			longPi:          0.000088 * math.Pi,
			shortPi:         0.000395 * math.Pi,
			longCorr:        0.00011,
			shortCorr:       0.00044,
			longMinEntropy:  15.893,
			shortMinEntropy: 15.708,
			recoveryBlocks:  3,
		}
	}
	panic("qa: unsupported ENT width")
}

// entAccum is one aggregation window (short or long) of raw counters.
type entAccum struct {
	bin       []uint64
	samples   uint64
	inRadius  uint64
	piSamples uint64

	hasFirst bool
	corr0    float64 // value of the very first sample seen
	last     float64 // value of the most recently seen sample
	corr1    float64
	corr2    float64
	corr3    float64

	current, min, max EntResult
}

func newEntAccum(nbins int) *entAccum {
	a := &entAccum{bin: make([]uint64, nbins)}
	a.min = EntResult{Entropy: math.MaxFloat64, Chisq: math.MaxFloat64, Mean: math.MaxFloat64, Pi: math.MaxFloat64, Corr: math.MaxFloat64, MinEntropy: math.MaxFloat64}
	a.max = EntResult{Entropy: -math.MaxFloat64, Chisq: -math.MaxFloat64, Mean: float64(uint(len(a.bin))>>1) - 0.5, Pi: math.Pi, Corr: 0, MinEntropy: -math.MaxFloat64}
	return a
}

func (a *entAccum) clear() {
	for i := range a.bin {
		a.bin[i] = 0
	}
	a.samples = 0
	a.inRadius = 0
	a.piSamples = 0
	a.hasFirst = false
	a.corr0 = 0
	a.last = 0
	a.corr1 = 0
	a.corr2 = 0
	a.corr3 = 0
}

func (a *entAccum) addSample(s uint32) {
	a.bin[s]++
	a.samples++

	fs := float64(s)
	if !a.hasFirst {
		a.hasFirst = true
		a.corr0 = fs
		a.last = fs
		return
	}
	a.corr1 += a.last * fs
	a.corr2 += fs
	a.corr3 += fs * fs
	a.last = fs
}

// computeResult folds the current accumulators into a Result and updates
// the min/max watermarks, per the original AddResult/ComputeResult split.
func (a *entAccum) computeResult() {
	nbins := len(a.bin)
	dsamples := float64(a.samples)
	expected := dsamples / float64(nbins)

	var entropy, chisq, sum float64
	var cmax uint64
	var pmax float64

	for i, c := range a.bin {
		if c > 0 {
			p := float64(c) / dsamples
			if p > 0 {
				entropy -= p * math.Log2(p)
			}
			if c > cmax {
				cmax = c
				pmax = p
			}
		}
		err := float64(c) - expected
		chisq += err * err / expected
		sum += float64(c) * float64(i)
	}

	// Pair the last sample with the first to close the window circularly,
	// matching the reference implementation's lag-1 autocorrelation formula.
	c1 := a.corr1 + a.last*a.corr0
	c2 := a.corr2 * a.corr2
	denom := dsamples*a.corr3 - c2
	corr := (dsamples*c1 - c2) / denom
	if math.IsInf(corr, 0) || math.IsNaN(corr) {
		corr = 1.0
	}

	var pi float64
	if a.piSamples > 0 {
		pi = 4.0 * float64(a.inRadius) / float64(a.piSamples)
	}

	minEntropy := -math.Log2((float64(cmax) + 2.3*math.Sqrt(dsamples*pmax*(1.0-pmax))) / dsamples)

	a.addResult(EntResult{
		Entropy:    entropy,
		Chisq:      chisq,
		Mean:       sum / dsamples,
		Pi:         pi,
		Corr:       corr,
		MinEntropy: minEntropy,
	}, float64(nbins>>1)-0.5)
}

func (a *entAccum) addResult(r EntResult, idealMean float64) {
	a.current = r

	if a.min.Entropy > r.Entropy {
		a.min.Entropy = r.Entropy
	}
	if a.min.Chisq > r.Chisq {
		a.min.Chisq = r.Chisq
	}
	if math.Abs(a.min.Mean-idealMean) > math.Abs(r.Mean-idealMean) {
		a.min.Mean = r.Mean
	}
	if math.Abs(a.min.Pi-math.Pi) > math.Abs(r.Pi-math.Pi) {
		a.min.Pi = r.Pi
	}
	if math.Abs(a.min.Corr) > math.Abs(r.Corr) {
		a.min.Corr = r.Corr
	}
	if a.min.MinEntropy > r.MinEntropy {
		a.min.MinEntropy = r.MinEntropy
	}

	if a.max.Entropy < r.Entropy {
		a.max.Entropy = r.Entropy
	}
	if a.max.Chisq < r.Chisq {
		a.max.Chisq = r.Chisq
	}
	if math.Abs(a.max.Mean-idealMean) < math.Abs(r.Mean-idealMean) {
		a.max.Mean = r.Mean
	}
	if math.Abs(a.max.Pi-math.Pi) < math.Abs(r.Pi-math.Pi) {
		a.max.Pi = r.Pi
	}
	if math.Abs(a.max.Corr) < math.Abs(r.Corr) {
		a.max.Corr = r.Corr
	}
	if a.max.MinEntropy < r.MinEntropy {
		a.max.MinEntropy = r.MinEntropy
	}
}

// normalise halves every accumulator once it has grown past half the range
// of a uint64 counter, preserving the chi-square shape of the bin
// distribution via a scaled redistribution around the new expected mean
// rather than a naive halving (which would distort chi-square).
func (a *entAccum) normalise() {
	const halfRange = math.MaxUint64 / 2

	if a.samples > halfRange {
		oldSamples := float64(a.samples)
		oldExpected := oldSamples / float64(len(a.bin))
		newExpected := oldExpected / 2.0

		a.samples = 0
		for i, c := range a.bin {
			err := float64(c) - oldExpected
			chisq := (err * err) / oldExpected
			fudge := math.Sqrt(newExpected * chisq)
			var nc float64
			if err < 0 {
				nc = newExpected - fudge
			} else {
				nc = newExpected + fudge
			}
			a.bin[i] = uint64(math.Round(nc))
			a.samples += a.bin[i]
		}

		scale := float64(a.samples) / oldSamples
		a.corr1 *= scale
		a.corr2 *= scale
		a.corr3 *= scale
	}

	if a.piSamples > halfRange {
		a.inRadius >>= 1
		a.piSamples >>= 1
	}
}

// Ent is the ENT-suite-style analyzer for one sample width, aggregating
// both a short window (reset every W samples) and a long running window
// (normalised periodically to avoid overflow).
type Ent struct {
	width      entWidth
	limits     entLimits
	shortLen   uint64
	short      *entAccum
	long       *entAccum
	shortFails int
	longFails  int

	// Monte-Carlo π state, 8-bit analyzer only.
	monteBuf   [6]byte
	monteFill  int
}

// NewEnt constructs an analyzer for the given width. shortWindow is the
// number of samples aggregated before a short-window Result is computed;
// pass 0 to use the conventional defaults (500k for 8-bit, 100M for 16-bit).
func NewEnt(w entWidth, shortWindow uint64) *Ent {
	if shortWindow == 0 {
		if w == Ent8 {
			shortWindow = 500_000
		} else {
			shortWindow = 100_000_000
		}
	}
	return &Ent{
		width:    w,
		limits:   limitsFor(w),
		shortLen: shortWindow,
		short:    newEntAccum(w.nbins()),
		long:     newEntAccum(w.nbins()),
	}
}

// AddSamples feeds raw samples (bytes for Ent8, big-endian uint16 words for
// Ent16) into the analyzer, computing and rolling a short-window result
// whenever the window length is reached.
func (e *Ent) AddSamples(samples []uint32) {
	for _, s := range samples {
		e.short.addSample(s)
		e.long.addSample(s)

		if e.width == Ent8 {
			e.feedMonte(byte(s))
		}

		if e.short.samples >= e.shortLen {
			e.rollShort()
		}
	}
}

// AddBytes is a convenience wrapper for Ent8 over a raw byte slice.
func (e *Ent) AddBytes(buf []byte) {
	samples := make([]uint32, len(buf))
	for i, b := range buf {
		samples[i] = uint32(b)
	}
	e.AddSamples(samples)
}

// AddWords is a convenience wrapper for Ent16 over a slice of big-endian
// 16-bit words already decoded from a byte stream.
func (e *Ent) AddWords(words []uint16) {
	samples := make([]uint32, len(words))
	for i, w := range words {
		samples[i] = uint32(w)
	}
	e.AddSamples(samples)
}

func (e *Ent) feedMonte(b byte) {
	e.monteBuf[e.monteFill] = b
	e.monteFill++
	if e.monteFill < 6 {
		return
	}
	e.monteFill = 0

	x := uint32(e.monteBuf[0])<<16 | uint32(e.monteBuf[1])<<8 | uint32(e.monteBuf[2])
	y := uint32(e.monteBuf[3])<<16 | uint32(e.monteBuf[4])<<8 | uint32(e.monteBuf[5])

	const limit = (1<<24 - 1) * (1<<24 - 1)
	dx, dy := uint64(x), uint64(y)
	if dx*dx+dy*dy <= uint64(limit) {
		e.short.inRadius++
		e.long.inRadius++
	}
	e.short.piSamples++
	e.long.piSamples++
}

func (e *Ent) rollShort() {
	e.short.computeResult()
	e.long.computeResult()
	e.long.normalise()

	if !e.passes(e.short.current, false) {
		e.shortFails++
	}
	if e.long.samples >= e.limits.longMinSamples && !e.passes(e.long.current, true) {
		e.longFails++
	}

	e.short.clear()
}

// passes reports whether r is within the short- or long-window limits.
func (e *Ent) passes(r EntResult, long bool) bool {
	l := e.limits
	if long {
		return r.Entropy >= l.longEntropy &&
			r.Chisq > l.longChisqMin && r.Chisq < l.longChisqMax &&
			math.Abs(r.Mean-idealMean(e.width)) <= (l.longMeanMax-l.longMeanMin)/2 &&
			math.Abs(r.Pi-math.Pi) < l.longPi &&
			math.Abs(r.Corr) < l.longCorr &&
			r.MinEntropy >= l.longMinEntropy
	}
	return r.Entropy >= l.shortEntropy &&
		r.Chisq > l.shortChisqMin && r.Chisq < l.shortChisqMax &&
		math.Abs(r.Mean-idealMean(e.width)) <= (l.shortMeanMax-l.shortMeanMin)/2 &&
		math.Abs(r.Pi-math.Pi) < l.shortPi &&
		math.Abs(r.Corr) < l.shortCorr &&
		r.MinEntropy >= l.shortMinEntropy
}

func idealMean(w entWidth) float64 {
	return float64(uint(1)<<(uint(w)-1)) - 0.5
}

// ShortFails and LongFails report the running count of short/long-window
// results that fell outside the pass thresholds, for stats reporting.
func (e *Ent) ShortFails() int { return e.shortFails }
func (e *Ent) LongFails() int  { return e.longFails }

// Bins returns a copy of the short window's current bin counts (256 entries
// for Ent8, 65536 for Ent16), for the control socket's GetRawData command.
func (e *Ent) Bins() []uint64 {
	b := make([]uint64, len(e.short.bin))
	copy(b, e.short.bin)
	return b
}

// ShortResult returns the most recently completed short-window result.
func (e *Ent) ShortResult() EntResult { return e.short.current }

// LongResult returns the current long-window result (recomputed lazily on
// each short-window boundary).
func (e *Ent) LongResult() EntResult { return e.long.current }

// LongSamplesSeen reports how many samples have been folded into the long
// window, used by HealthMonitor to decide whether long-window limits apply
// yet.
func (e *Ent) LongSamplesSeen() uint64 { return e.long.samples }

// LongMinSamples is the sample count threshold after which long-window
// limits are enforced.
func (e *Ent) LongMinSamples() uint64 { return e.limits.longMinSamples }

// StartupOk reports whether this analyzer has completed at least one
// long-window result and that result falls within bounds (the long-window
// bounds once long_minsamples has been reached, otherwise the short-window
// bounds), used by HealthMonitor to gate the initial is_ok transition.
func (e *Ent) StartupOk() bool {
	if e.long.samples == 0 {
		return false
	}
	return e.passes(e.long.current, e.long.samples >= e.limits.longMinSamples)
}

// IsOk reports whether the most recently completed short window (and, once
// enough samples have accumulated, the long window) fall within bounds.
func (e *Ent) IsOk() bool {
	if e.long.samples < e.shortLen {
		return true // no short window has completed yet
	}
	if !e.passes(e.short.current, false) {
		return false
	}
	if e.long.samples >= e.limits.longMinSamples {
		return e.passes(e.long.current, true)
	}
	return true
}
