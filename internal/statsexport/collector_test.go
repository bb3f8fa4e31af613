// Copyright 2024 The Bit-Babbler Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package statsexport

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/bit-babbler/seedd/internal/qa"
	"github.com/bit-babbler/seedd/internal/registry"
)

type fakeSource struct{ id string }

func (f fakeSource) Serial() string { return f.id }
func (f fakeSource) IsOk() bool     { return true }
func (f fakeSource) Snapshot() qa.Snapshot {
	return qa.Snapshot{
		BytesAnalysed: 100,
		BytesPassed:   90,
		IsOk:          true,
		FIPS:          map[string]qa.FIPSTestSnapshot{"Monobit": {}},
	}
}

func TestCollectorCollectsOneMetricPerSourceDimension(t *testing.T) {
	mon := registry.NewMonitor()
	mon.Register(fakeSource{id: "S-1"})

	c := New(mon)

	ch := make(chan prometheus.Metric, 64)
	c.Collect(ch)
	close(ch)

	count := 0
	for range ch {
		count++
	}
	// 3 top-level + 6 per FIPS test (1 test) + 6*2 ENT widths + 2 bitruns.
	want := 3 + 6 + 12 + 2
	if count != want {
		t.Fatalf("collected %d metrics, want %d", count, want)
	}
}

func TestCollectorDescribeEmitsEveryDesc(t *testing.T) {
	mon := registry.NewMonitor()
	c := New(mon)

	ch := make(chan *prometheus.Desc, 32)
	c.Describe(ch)
	close(ch)

	count := 0
	for range ch {
		count++
	}
	if count != 17 {
		t.Fatalf("described %d descs, want 17", count)
	}
}
