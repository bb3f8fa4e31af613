// Copyright 2024 The Bit-Babbler Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package controlsock

import (
	"encoding/json"
	"fmt"
)

// request is one parsed control-socket command: either the bare string
// shape ("Command", token defaulting to 0, no json) or the array shape
// (["Command", token, ...], json holding the full array for argument
// access), per spec.md §4.9.
type request struct {
	cmd   string
	token uint64
	raw   json.RawMessage // the full array, for commands that take an argument
	isArr bool
}

// parseRequest parses one null-terminated request body (the terminator
// already stripped by the connection's framer) as JSON in either of the two
// recognized shapes.
func parseRequest(body []byte) (request, error) {
	var asString string
	if err := json.Unmarshal(body, &asString); err == nil {
		return request{cmd: asString}, nil
	}

	var asArray []json.RawMessage
	if err := json.Unmarshal(body, &asArray); err != nil {
		return request{}, fmt.Errorf("invalid request, not an array or string")
	}
	if len(asArray) < 2 {
		return request{}, fmt.Errorf("invalid request, array too short")
	}

	var cmd string
	if err := json.Unmarshal(asArray[0], &cmd); err != nil {
		return request{}, fmt.Errorf("invalid request, command is not a string")
	}
	var token uint64
	if err := json.Unmarshal(asArray[1], &token); err != nil {
		return request{}, fmt.Errorf("invalid request, token is not an integer")
	}

	return request{cmd: cmd, token: token, raw: body, isArr: true}, nil
}

// arg returns the JSON value at index i of the request array (0 is the
// command, 1 is the token), or ok=false if the request was the bare-string
// shape or has no element at that index.
func (r request) arg(i int) (json.RawMessage, bool) {
	if !r.isArr {
		return nil, false
	}
	var arr []json.RawMessage
	if err := json.Unmarshal(r.raw, &arr); err != nil || i >= len(arr) {
		return nil, false
	}
	return arr[i], true
}

// argString returns the string argument at index i, or "" if absent or not
// a string.
func (r request) argString(i int) string {
	raw, ok := r.arg(i)
	if !ok {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return ""
	}
	return s
}

// argInt returns the integer argument at index i, or 0 if absent or not a
// number.
func (r request) argInt(i int) int {
	raw, ok := r.arg(i)
	if !ok {
		return 0
	}
	var n int
	if err := json.Unmarshal(raw, &n); err != nil {
		return 0
	}
	return n
}

// encodeResponse builds a ["Command", token, payload] response terminated
// by a single null byte, per spec.md §4.9/§6.
func encodeResponse(cmd string, token uint64, payload any) []byte {
	arr := []any{cmd, token}
	if payload != nil {
		arr = append(arr, payload)
	}
	b, err := json.Marshal(arr)
	if err != nil {
		// payload types are always built from this package's encodable
		// primitives; a marshal failure here means a programming error.
		b = []byte(fmt.Sprintf(`["InternalError",%d,"%s"]`, token, err))
	}
	return append(b, 0)
}

func badRequestResponse(req string, errMsg string) []byte {
	payload := NewObject().Set("Error", errMsg).Set("Request", req)
	return encodeResponse("BadRequest", 0, payload)
}

func unknownRequestResponse(req string, token uint64) []byte {
	return encodeResponse("UnknownRequest", token, req)
}
