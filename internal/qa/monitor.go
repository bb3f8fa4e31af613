// Copyright 2024 The Bit-Babbler Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package qa

import "sync"

// HealthMonitor composes a FIPS, an ENT8 (gating is_ok only when
// entRequired is set, per the source's bitrate), an ENT16 and a BitRuns
// analyzer over one acquisition source's byte stream, and decides whether
// that source is currently trustworthy.
//
// A HealthMonitor is fed by one acquisition worker; every exported method
// takes its lock, so Snapshot, IsOk and the Ent*Bins accessors are safe to
// call from other goroutines (the control socket and the stats exporter).
type HealthMonitor struct {
	mu sync.Mutex

	fips *FIPS
	ent8 *Ent
	ent16 *Ent

	entRequired bool // whether ENT8 gates is_ok, per the source's configured bitrate

	pending []byte

	isOk               bool
	consecutivePasses  int
	bytesAnalysed      uint64
	bytesPassed        uint64
}

// NewHealthMonitor constructs a HealthMonitor. entRequired should be true
// when the source's configured bitrate is at least 5 Mbps, per the startup
// and recovery conditions in the health-transition table.
func NewHealthMonitor(entRequired bool) *HealthMonitor {
	return &HealthMonitor{
		fips:        NewFIPS(),
		ent8:        NewEnt(Ent8, 0),
		ent16:       NewEnt(Ent16, 0),
		entRequired: entRequired,
		pending:     make([]byte, 0, fipsBlockSize),
	}
}

// Check feeds buf to every analyzer and returns the updated is_ok state.
// Bytes are accumulated internally so FIPS always advances on exact
// 2500-byte blocks regardless of the caller's chunk size.
func (m *HealthMonitor) Check(buf []byte) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.bytesAnalysed += uint64(len(buf))

	m.ent8.AddBytes(buf)
	m.feedEnt16(buf)

	m.pending = append(m.pending, buf...)
	for len(m.pending) >= fipsBlockSize {
		block := m.pending[:fipsBlockSize]
		passed := m.fips.Analyse(block)
		copy(m.pending, m.pending[fipsBlockSize:])
		m.pending = m.pending[:len(m.pending)-fipsBlockSize]

		if passed {
			m.consecutivePasses++
		} else {
			m.consecutivePasses = 0
		}
		m.updateIsOk()
	}

	if m.isOk {
		m.bytesPassed += uint64(len(buf))
	}
	return m.isOk
}

// feedEnt16 interprets buf as a stream of big-endian 16-bit words. Any
// trailing odd byte is not fed to ENT16; no carry state is kept here.
func (m *HealthMonitor) feedEnt16(buf []byte) {
	n := len(buf) / 2
	if n == 0 {
		return
	}
	words := make([]uint16, n)
	for i := 0; i < n; i++ {
		words[i] = uint16(buf[2*i])<<8 | uint16(buf[2*i+1])
	}
	m.ent16.AddWords(words)
}

// updateIsOk applies the hysteresis rules from the health-transition
// table: any single metric outside its limit flips is_ok false
// immediately; recovering from false requires re-satisfying both the
// startup conditions and all rolling metrics being within half their
// failure thresholds.
func (m *HealthMonitor) updateIsOk() {
	if !m.fips.IsOk(m.isOk) {
		m.isOk = false
		return
	}

	if m.isOk {
		if m.entRequired && !m.ent8.IsOk() {
			m.isOk = false
			return
		}
		if !m.ent16.IsOk() {
			m.isOk = false
		}
		return
	}

	if m.consecutivePasses < 20 {
		return
	}
	if m.entRequired && !m.ent8.StartupOk() {
		return
	}
	m.isOk = true
}

// IsOk reports the current health state.
func (m *HealthMonitor) IsOk() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.isOk
}

// Ent8Bins returns a copy of the ENT8 short-window bin counts, for the
// control socket's GetRawData command.
func (m *HealthMonitor) Ent8Bins() []uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.ent8.Bins()
}

// Ent16Bins returns a copy of the ENT16 short-window bin counts, for the
// control socket's GetRawData command.
func (m *HealthMonitor) Ent16Bins() []uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.ent16.Bins()
}

// Snapshot is a stable, lock-free copy of everything needed to report
// stats for one source.
type Snapshot struct {
	BytesAnalysed uint64
	BytesPassed   uint64
	IsOk          bool

	FIPS     map[string]FIPSTestSnapshot
	BitRuns  BitRunsResult
	Ent8     EntSnapshot
	Ent16    EntSnapshot
}

// FIPSTestSnapshot is the per-test rolling statistics reported to the
// control socket and the Prometheus exporter.
type FIPSTestSnapshot struct {
	PassRuns struct {
		Runs, Previous, Short, Long, Peak uint64
	}
	FailRate struct {
		Passed, Failed     uint64
		Short, Long, Peak  float64
	}
}

// EntSnapshot is the Current/Min/Max triple for one ENT analyzer, plus its
// running short/long-window failure counts.
type EntSnapshot struct {
	Current, Min, Max     EntResult
	ShortFails, LongFails int
}

// Snapshot copies out a consistent view of this monitor's state, suitable
// for the control socket's ReportStats/GetRawData commands or for scraping
// into Prometheus gauges.
func (m *HealthMonitor) Snapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()

	s := Snapshot{
		BytesAnalysed: m.bytesAnalysed,
		BytesPassed:   m.bytesPassed,
		IsOk:          m.isOk,
		FIPS:          make(map[string]FIPSTestSnapshot, int(fipsTestMax)),
		BitRuns:       m.fips.BitRuns().Result(),
		Ent8: EntSnapshot{
			Current: m.ent8.ShortResult(), Min: m.ent8.short.min, Max: m.ent8.short.max,
			ShortFails: m.ent8.ShortFails(), LongFails: m.ent8.LongFails(),
		},
		Ent16: EntSnapshot{
			Current: m.ent16.ShortResult(), Min: m.ent16.short.min, Max: m.ent16.short.max,
			ShortFails: m.ent16.ShortFails(), LongFails: m.ent16.LongFails(),
		},
	}

	for i := 0; i < int(fipsTestMax); i++ {
		t := FIPSTest(i)
		fr := m.fips.FailRateFor(t)
		pr := m.fips.PassRunsFor(t)

		var ts FIPSTestSnapshot
		ts.PassRuns.Runs = pr.Runs()
		ts.PassRuns.Previous = pr.Previous()
		ts.PassRuns.Short = pr.ShortTerm()
		ts.PassRuns.Long = pr.LongTerm()
		ts.PassRuns.Peak = pr.Peak()
		ts.FailRate.Passed = fr.Passed()
		ts.FailRate.Failed = fr.Failed()
		ts.FailRate.Short = fr.ShortTerm()
		ts.FailRate.Long = fr.LongTerm()
		ts.FailRate.Peak = fr.Peak()

		s.FIPS[t.String()] = ts
	}

	return s
}
