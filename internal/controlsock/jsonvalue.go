// Copyright 2024 The Bit-Babbler Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package controlsock

import (
	"bytes"
	"encoding/json"
	"sort"
)

// Object is a JSON object built explicitly with deterministic, sorted-key
// output, per the "polymorphic JSON data tree" redesign note: a bare
// map[string]any already serializes with sorted keys under encoding/json,
// but spelling it out as its own type documents that invariant and lets
// ReportStats/GetRawData compose nested objects without relying on that
// being an implementation detail of the stdlib encoder.
type Object struct {
	keys   []string
	values map[string]any
}

// NewObject returns an empty Object.
func NewObject() *Object {
	return &Object{values: make(map[string]any)}
}

// Set assigns key to val, returning the Object for chaining. Setting an
// existing key replaces its value without disturbing key order.
func (o *Object) Set(key string, val any) *Object {
	if _, exists := o.values[key]; !exists {
		o.keys = append(o.keys, key)
	}
	o.values[key] = val
	return o
}

// MarshalJSON writes the object with keys sorted lexically, regardless of
// insertion order, so two Objects built from the same data always produce
// byte-identical output.
func (o *Object) MarshalJSON() ([]byte, error) {
	keys := make([]string, len(o.keys))
	copy(keys, o.keys)
	sort.Strings(keys)

	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, k := range keys {
		if i > 0 {
			buf.WriteByte(',')
		}
		kb, err := json.Marshal(k)
		if err != nil {
			return nil, err
		}
		buf.Write(kb)
		buf.WriteByte(':')
		vb, err := json.Marshal(o.values[k])
		if err != nil {
			return nil, err
		}
		buf.Write(vb)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}
