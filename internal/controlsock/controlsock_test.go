// Copyright 2024 The Bit-Babbler Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package controlsock

import (
	"encoding/json"
	"io"
	"sync/atomic"
	"testing"

	"github.com/sirupsen/logrus"

	"github.com/bit-babbler/seedd/internal/qa"
	"github.com/bit-babbler/seedd/internal/registry"
)

type fakeSource struct {
	id string
}

func (f fakeSource) Serial() string       { return f.id }
func (f fakeSource) IsOk() bool           { return true }
func (f fakeSource) Snapshot() qa.Snapshot { return qa.Snapshot{FIPS: map[string]qa.FIPSTestSnapshot{}} }

func testLogger() *logrus.Entry {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return logrus.NewEntry(l)
}

// TestControlSockBadRequest exercises scenario 5: sending malformed JSON
// gets a BadRequest response echoing the original request bytes.
func TestControlSockBadRequest(t *testing.T) {
	mon := registry.NewMonitor()
	var verbosity int32
	resp := process([]byte(`{not-json`), mon, &verbosity, testLogger())

	var decoded []json.RawMessage
	if err := json.Unmarshal(trimNull(resp), &decoded); err != nil {
		t.Fatalf("response is not valid JSON: %v (%q)", err, resp)
	}
	if len(decoded) != 3 {
		t.Fatalf("expected a 3-element response, got %d", len(decoded))
	}

	var cmd string
	if err := json.Unmarshal(decoded[0], &cmd); err != nil || cmd != "BadRequest" {
		t.Fatalf("expected command BadRequest, got %q (err %v)", decoded[0], err)
	}

	var payload map[string]string
	if err := json.Unmarshal(decoded[2], &payload); err != nil {
		t.Fatalf("payload is not an object: %v", err)
	}
	if payload["Request"] != "{not-json" {
		t.Fatalf("Request = %q, want the original bytes", payload["Request"])
	}
	if resp[len(resp)-1] != 0 {
		t.Fatalf("response is not null-terminated")
	}
}

// TestControlSockGetIDs exercises scenario 6: with two active sources,
// GetIDs returns both ids regardless of order.
func TestControlSockGetIDs(t *testing.T) {
	mon := registry.NewMonitor()
	mon.Register(fakeSource{id: "S-1"})
	mon.Register(fakeSource{id: "S-2"})

	var verbosity int32
	resp := process([]byte(`"GetIDs"`), mon, &verbosity, testLogger())

	var decoded []json.RawMessage
	if err := json.Unmarshal(trimNull(resp), &decoded); err != nil {
		t.Fatalf("response is not valid JSON: %v", err)
	}
	var cmd string
	json.Unmarshal(decoded[0], &cmd)
	if cmd != "GetIDs" {
		t.Fatalf("command = %q, want GetIDs", cmd)
	}

	var ids []string
	if err := json.Unmarshal(decoded[2], &ids); err != nil {
		t.Fatalf("payload is not a string array: %v", err)
	}
	if len(ids) != 2 || (ids[0] != "S-1" && ids[1] != "S-1") || (ids[0] != "S-2" && ids[1] != "S-2") {
		t.Fatalf("ids = %v, want [S-1 S-2] in some order", ids)
	}
}

func TestControlSockUnknownCommand(t *testing.T) {
	mon := registry.NewMonitor()
	var verbosity int32
	resp := process([]byte(`["Frobnicate",7]`), mon, &verbosity, testLogger())

	var decoded []json.RawMessage
	json.Unmarshal(trimNull(resp), &decoded)

	var cmd string
	json.Unmarshal(decoded[0], &cmd)
	if cmd != "UnknownRequest" {
		t.Fatalf("command = %q, want UnknownRequest", cmd)
	}
	var token uint64
	json.Unmarshal(decoded[1], &token)
	if token != 7 {
		t.Fatalf("token = %d, want 7", token)
	}
}

func TestControlSockSetLogVerbosity(t *testing.T) {
	mon := registry.NewMonitor()
	var verbosity int32
	resp := process([]byte(`["SetLogVerbosity",1,3]`), mon, &verbosity, testLogger())

	if atomic.LoadInt32(&verbosity) != 3 {
		t.Fatalf("verbosity = %d, want 3", verbosity)
	}

	var decoded []json.RawMessage
	json.Unmarshal(trimNull(resp), &decoded)
	var echoed int
	json.Unmarshal(decoded[2], &echoed)
	if echoed != 3 {
		t.Fatalf("echoed verbosity = %d, want 3", echoed)
	}
}

func TestObjectMarshalSortsKeys(t *testing.T) {
	o := NewObject().Set("b", 1).Set("a", 2)
	b, err := json.Marshal(o)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if string(b) != `{"a":2,"b":1}` {
		t.Fatalf("got %s, want sorted-key object", b)
	}
}

func trimNull(b []byte) []byte {
	if len(b) > 0 && b[len(b)-1] == 0 {
		return b[:len(b)-1]
	}
	return b
}
