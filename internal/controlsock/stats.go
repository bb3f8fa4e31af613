// Copyright 2024 The Bit-Babbler Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package controlsock

import (
	"github.com/bit-babbler/seedd/internal/qa"
	"github.com/bit-babbler/seedd/internal/registry"
)

// entResultObject renders one qa.EntResult as the schema documented in
// spec.md §6.
func entResultObject(r qa.EntResult) *Object {
	return NewObject().
		Set("Entropy", r.Entropy).
		Set("Chisq", r.Chisq).
		Set("Mean", r.Mean).
		Set("Pi", r.Pi).
		Set("Corr", r.Corr).
		Set("MinEntropy", r.MinEntropy)
}

// entBlockObject renders one qa.EntSnapshot (Current/Min/Max plus failure
// counts) as documented in spec.md §6: "Each ENT block contains Current,
// Min, Max result objects plus Failed counts."
func entBlockObject(s qa.EntSnapshot) *Object {
	return NewObject().
		Set("Current", entResultObject(s.Current)).
		Set("Min", entResultObject(s.Min)).
		Set("Max", entResultObject(s.Max)).
		Set("ShortFailed", s.ShortFails).
		Set("LongFailed", s.LongFails)
}

// bitRunsObject renders qa.BitRunsResult per the "BitRuns" schema block.
func bitRunsObject(r qa.BitRunsResult) *Object {
	runs := make([][3]float64, len(r.Runs))
	copy(runs, r.Runs)
	return NewObject().
		Set("Zeros", r.Zeros).
		Set("Ones", r.Ones).
		Set("Max", r.Max).
		Set("Runs", runs).
		Set("Chisq", r.Chisq).
		Set("Chisq-p", r.ChisqP).
		Set("Chisq-k", r.ChisqK)
}

// fipsObject renders the per-test map from qa.Snapshot.FIPS as the "FIPS"
// schema block: {<test>: {"PassRuns": {...}, "FailRate": {...}}, ...}.
func fipsObject(tests map[string]qa.FIPSTestSnapshot) *Object {
	o := NewObject()
	for name, t := range tests {
		passRuns := NewObject().
			Set("Runs", t.PassRuns.Runs).
			Set("Previous", t.PassRuns.Previous).
			Set("Short", t.PassRuns.Short).
			Set("Long", t.PassRuns.Long).
			Set("Peak", t.PassRuns.Peak)
		failRate := NewObject().
			Set("Passed", t.FailRate.Passed).
			Set("Failed", t.FailRate.Failed).
			Set("Short", t.FailRate.Short).
			Set("Long", t.FailRate.Long).
			Set("Peak", t.FailRate.Peak)
		o.Set(name, NewObject().Set("PassRuns", passRuns).Set("FailRate", failRate))
	}
	return o
}

// snapshotObject renders one source's full qa.Snapshot as the per-source
// object documented in spec.md §6's stats JSON schema.
func snapshotObject(s qa.Snapshot) *Object {
	return NewObject().
		Set("QA", NewObject().Set("BytesAnalysed", s.BytesAnalysed).Set("BytesPassed", s.BytesPassed)).
		Set("FIPS", fipsObject(s.FIPS)).
		Set("BitRuns", bitRunsObject(s.BitRuns)).
		Set("Ent8", entBlockObject(s.Ent8)).
		Set("Ent16", entBlockObject(s.Ent16))
}

// statsResponse builds the ReportStats payload: object {id: {...}, ...},
// per spec.md §6's command catalog.
func statsResponse(stats map[string]qa.Snapshot) *Object {
	o := NewObject()
	for id, s := range stats {
		o.Set(id, snapshotObject(s))
	}
	return o
}

// rawDataResponse builds the GetRawData payload: per-source object with the
// full ENT8/ENT16 bin arrays alongside the same per-source stats.
func rawDataResponse(raw map[string]registry.RawData) *Object {
	o := NewObject()
	for id, rd := range raw {
		entry := snapshotObject(rd.Snapshot)
		entry.Set("Ent8Bins", rd.Ent8Bins)
		entry.Set("Ent16Bins", rd.Ent16Bins)
		o.Set(id, entry)
	}
	return o
}
