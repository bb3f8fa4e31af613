// Copyright 2024 The Bit-Babbler Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package registry holds the process-wide source registry: the live set of
// acquisition workers, keyed by serial, that the control socket's
// GetIDs/ReportStats/GetRawData commands and the Prometheus exporter read
// without depending on worker internals. Grounded on
// original_source/include/bit-babbler/control-socket.h's references to a
// static Monitor::GetIDs/GetStats/GetRawData.
package registry

import (
	"sort"
	"sync"

	"github.com/bit-babbler/seedd/internal/qa"
)

// Source is the narrow view of an acquisition worker the registry needs.
// *babbler.Worker implements it.
type Source interface {
	Serial() string
	IsOk() bool
	Snapshot() qa.Snapshot
}

// EntBins is implemented by sources that can also report raw ENT bin
// counts, for GetRawData. Not every Source need support this (a worker
// could in principle hide its Ent analyzers), so it is queried separately
// via a type assertion.
type EntBins interface {
	Ent8Bins() []uint64
	Ent16Bins() []uint64
}

// Monitor is the process-wide registry of active sources. One Monitor is
// constructed in cmd/seedd's main and shared by every worker (via Register/
// Unregister), the control socket, and the Prometheus collector.
type Monitor struct {
	mu      sync.RWMutex
	sources map[string]Source
}

// NewMonitor returns an empty Monitor.
func NewMonitor() *Monitor {
	return &Monitor{sources: make(map[string]Source)}
}

// Register adds a source under its Serial. A second registration of the
// same serial replaces the first (e.g. after a device re-enumerates).
func (m *Monitor) Register(s Source) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sources[s.Serial()] = s
}

// Unregister removes a source, e.g. when its worker exits.
func (m *Monitor) Unregister(serial string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sources, serial)
}

// GetIDs returns every currently registered source id, sorted for
// deterministic output.
func (m *Monitor) GetIDs() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	ids := make([]string, 0, len(m.sources))
	for id := range m.sources {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// GetStats returns the Snapshot for every registered source, or just id if
// non-empty. Unknown ids yield an empty map.
func (m *Monitor) GetStats(id string) map[string]qa.Snapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make(map[string]qa.Snapshot)
	if id != "" {
		if s, ok := m.sources[id]; ok {
			out[id] = s.Snapshot()
		}
		return out
	}
	for sid, s := range m.sources {
		out[sid] = s.Snapshot()
	}
	return out
}

// RawData is the per-source payload for GetRawData: the full ENT8/ENT16 bin
// arrays alongside the same snapshot ReportStats uses.
type RawData struct {
	Snapshot  qa.Snapshot
	Ent8Bins  []uint64
	Ent16Bins []uint64
}

// GetRawData returns RawData for every registered source, or just id if
// non-empty. Sources that don't implement EntBins report nil bin slices.
func (m *Monitor) GetRawData(id string) map[string]RawData {
	m.mu.RLock()
	defer m.mu.RUnlock()

	build := func(s Source) RawData {
		rd := RawData{Snapshot: s.Snapshot()}
		if eb, ok := s.(EntBins); ok {
			rd.Ent8Bins = eb.Ent8Bins()
			rd.Ent16Bins = eb.Ent16Bins()
		}
		return rd
	}

	out := make(map[string]RawData)
	if id != "" {
		if s, ok := m.sources[id]; ok {
			out[id] = build(s)
		}
		return out
	}
	for sid, s := range m.sources {
		out[sid] = build(s)
	}
	return out
}

// SourceIDs returns the same sorted source ids as GetIDs.
func (m *Monitor) SourceIDs() []string { return m.GetIDs() }
