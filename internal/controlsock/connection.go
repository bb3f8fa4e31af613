// Copyright 2024 The Bit-Babbler Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package controlsock

import (
	"context"
	"net"
	"sync/atomic"

	"github.com/sirupsen/logrus"

	"github.com/bit-babbler/seedd/internal/registry"
)

// requestBufSize is the accumulation buffer size for one connection. A
// single request that exceeds this without a null terminator is rejected
// with BadRequest and the buffer is dropped, per spec.md §4.9.
const requestBufSize = 1024

// handleConnection reads null-terminated, possibly pipelined requests from
// conn until EOF, cancellation, or a write error, dispatching each to
// process. Grounded on control-socket.h's
// Connection::do_connection_thread (1024-byte buffer, strnlen-based
// request boundary scan, compaction of partial trailing data).
func handleConnection(ctx context.Context, conn net.Conn, mon *registry.Monitor, verbosity *int32, log *logrus.Entry) {
	defer conn.Close()

	go func() {
		<-ctx.Done()
		conn.Close()
	}()

	buf := make([]byte, requestBufSize)
	f := 0

	for {
		n, err := conn.Read(buf[f:])
		if err != nil {
			if ctx.Err() == nil {
				log.WithError(err).Debug("control connection read ended")
			}
			return
		}
		f += n

		b := 0
		for {
			idx := indexByte(buf[b:f], 0)
			if idx < 0 {
				// No terminator yet.
				if b > 0 {
					f = copy(buf, buf[b:f])
					b = 0
				} else if f == len(buf) {
					resp := badRequestResponse(string(buf[:f]), "Request too large")
					if _, werr := conn.Write(resp); werr != nil {
						return
					}
					f = 0
				}
				break
			}

			req := buf[b : b+idx]
			resp := process(req, mon, verbosity, log)
			if _, err := conn.Write(resp); err != nil {
				return
			}

			b += idx + 1
			if b == f {
				f = 0
				break
			}
		}
	}
}

func indexByte(b []byte, c byte) int {
	for i, v := range b {
		if v == c {
			return i
		}
	}
	return -1
}

// process parses and dispatches one request body (terminator already
// stripped), returning the full null-terminated response.
func process(body []byte, mon *registry.Monitor, verbosity *int32, log *logrus.Entry) []byte {
	req, err := parseRequest(body)
	if err != nil {
		return badRequestResponse(string(body), err.Error())
	}

	switch req.cmd {
	case "GetIDs":
		return encodeResponse("GetIDs", req.token, mon.GetIDs())

	case "ReportStats":
		id := req.argString(2)
		return encodeResponse("ReportStats", req.token, statsResponse(mon.GetStats(id)))

	case "GetRawData":
		id := req.argString(2)
		return encodeResponse("GetRawData", req.token, rawDataResponse(mon.GetRawData(id)))

	case "SetLogVerbosity":
		if _, ok := req.arg(2); ok {
			v := req.argInt(2)
			atomic.StoreInt32(verbosity, int32(v))
			log.Infof("log verbosity is now %d", v)
		}
		return encodeResponse("SetLogVerbosity", req.token, atomic.LoadInt32(verbosity))

	default:
		return unknownRequestResponse(string(body), req.token)
	}
}
