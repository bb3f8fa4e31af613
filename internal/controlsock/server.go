// Copyright 2024 The Bit-Babbler Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package controlsock implements the JSON control socket: a Unix-domain or
// TCP listener accepting GetIDs/ReportStats/GetRawData/SetLogVerbosity
// requests, grounded on
// original_source/include/bit-babbler/control-socket.h.
package controlsock

import (
	"context"
	"net"
	"sync"
	"sync/atomic"

	"github.com/sirupsen/logrus"

	"github.com/bit-babbler/seedd/internal/registry"
)

// Server accepts control-socket connections over an already-open listener
// (see Listen) and dispatches requests against a *registry.Monitor.
type Server struct {
	ln        net.Listener
	cleanup   func() error
	mon       *registry.Monitor
	verbosity int32
	log       *logrus.Entry

	wg sync.WaitGroup
}

// NewServer wraps ln (and its cleanup, from Listen) as a control socket
// serving mon. initialVerbosity seeds the SetLogVerbosity-visible counter.
func NewServer(ln net.Listener, cleanup func() error, mon *registry.Monitor, initialVerbosity int, log *logrus.Entry) *Server {
	return &Server{
		ln:        ln,
		cleanup:   cleanup,
		mon:       mon,
		verbosity: int32(initialVerbosity),
		log:       log,
	}
}

// Serve accepts connections until ctx is cancelled, per connection running
// handleConnection in its own goroutine. The listener is closed first on
// cancellation (per spec.md §5's "the listener is cancelled first"), then
// Serve waits for every in-flight connection to finish before returning.
func (s *Server) Serve(ctx context.Context) error {
	go func() {
		<-ctx.Done()
		s.ln.Close()
	}()

	for {
		conn, err := s.ln.Accept()
		if err != nil {
			s.wg.Wait()
			if s.cleanup != nil {
				s.cleanup()
			}
			if ctx.Err() != nil {
				return context.Cause(ctx)
			}
			return err
		}

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			handleConnection(ctx, conn, s.mon, &s.verbosity, s.log)
		}()
	}
}

// Verbosity reports the current log verbosity, as last set via
// SetLogVerbosity (or the initial value if never set).
func (s *Server) Verbosity() int { return int(atomic.LoadInt32(&s.verbosity)) }
