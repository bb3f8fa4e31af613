// Copyright 2024 The Bit-Babbler Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package consumer implements the Pool-draining consumers other than the
// control socket and the kernel feed: a connectionless UDP responder, a
// plain file-descriptor writer, and the external-device Watch drain.
// Grounded on original_source/include/bit-babbler/secret-source.h's
// UDPSource/FDWriter/Watch.
package consumer

import (
	"context"
	"encoding/binary"
	"net"

	"github.com/sirupsen/logrus"

	"github.com/bit-babbler/seedd/internal/pool"
)

// maxUDPRequest bounds how many bytes a single UDP datagram may ask for, so
// one malformed or hostile request can't make the responder allocate or
// drain an unbounded amount from the pool.
const maxUDPRequest = 1 << 16

// UDPSource answers connectionless requests for random bytes: a client
// sends a 4-byte big-endian byte count, the responder drains up to that
// many bytes (at most maxUDPRequest) from the Pool and replies with the
// bytes it read.
type UDPSource struct {
	conn *net.UDPConn
	pool *pool.Pool
	log  *logrus.Entry
}

// NewUDPSource wraps an already-bound UDP socket as a Pool responder.
func NewUDPSource(conn *net.UDPConn, p *pool.Pool, log *logrus.Entry) *UDPSource {
	return &UDPSource{conn: conn, pool: p, log: log}
}

// Run answers requests until ctx is cancelled or the socket errors.
func (u *UDPSource) Run(ctx context.Context) error {
	go func() {
		<-ctx.Done()
		u.conn.Close()
	}()

	req := make([]byte, 4)
	for {
		n, addr, err := u.conn.ReadFromUDP(req)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return err
		}
		if n != 4 {
			u.log.WithField("n", n).Warn("udp consumer: malformed request size")
			continue
		}

		want := binary.BigEndian.Uint32(req)
		if want > maxUDPRequest {
			want = maxUDPRequest
		}

		buf := make([]byte, want)
		got, err := u.pool.Read(ctx, buf)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			u.log.WithError(err).Warn("udp consumer: pool read failed")
			continue
		}

		if _, err := u.conn.WriteToUDP(buf[:got], addr); err != nil {
			u.log.WithError(err).Warn("udp consumer: write failed")
		}
	}
}
