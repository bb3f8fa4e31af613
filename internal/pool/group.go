// Copyright 2024 The Bit-Babbler Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package pool

import (
	"fmt"
	"sync"
)

// maxGroupMembers is the number of distinct bit positions available in a
// Group's membership Mask, and so the maximum number of sources that can
// share one group.
const maxGroupMembers = 32

// Mask identifies one member's slot within a Group.
type Mask = uint32

// Group XOR-merges the contributions of several sources before they reach
// the Pool: every member must submit its buffer for the current round before
// the merged result is mixed into the Pool, so that no single member's
// output alone ever reaches it undiluted. Group 0 is the implicit "no
// grouping" group: it forwards every contribution straight to the Pool.
type Group struct {
	mu sync.Mutex

	pool    *Pool
	id      uint
	size    int
	buf     []byte
	filled  Mask
	mask    Mask
	members uint
}

// NewGroup constructs a Group of the given id feeding p. size is rounded up
// to the next power of two, matching the reference implementation's buffer
// sizing so every member's chunk lines up on fold boundaries.
func NewGroup(p *Pool, id uint, size int) *Group {
	return &Group{
		pool: p,
		id:   id,
		size: powerOfTwoUp(size),
		buf:  make([]byte, powerOfTwoUp(size)),
	}
}

// ID reports the group's identifier.
func (g *Group) ID() uint { return g.id }

// Size reports the group's buffer size in bytes (a power of two).
func (g *Group) Size() int { return g.size }

// NextMask allocates a membership slot for a new source joining this group.
// Group 0 never actually tracks membership (everything short-circuits to the
// pool), so it always returns 0.
func (g *Group) NextMask() (Mask, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.id == 0 {
		return 0, nil
	}

	for i := Mask(1); i != 0; i <<= 1 {
		if g.mask&i == 0 {
			g.mask |= i
			g.members++
			return i, nil
		}
	}
	return 0, fmt.Errorf("pool: group %d is full (max %d members)", g.id, maxGroupMembers)
}

// ReleaseMask returns a membership slot, e.g. when its source is removed.
func (g *Group) ReleaseMask(m Mask) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.id == 0 {
		return
	}
	if g.mask&m == 0 {
		return
	}
	g.mask &^= m
	g.filled &^= m
	g.members--
}

// AddEntropy submits one member's contribution for the current round. buf
// must be exactly g.Size() bytes. Once every currently-allocated member has
// submitted, the merged buffer is mixed into the pool and the round resets.
// If the group currently has at most one member (or is group 0), the
// contribution goes straight to the pool without merging.
func (g *Group) AddEntropy(m Mask, buf []byte) error {
	if len(buf) == 0 {
		return nil
	}
	if len(buf) != g.size {
		return fmt.Errorf("pool: group %d:%#x AddEntropy: len %d != group size %d",
			g.id, m, len(buf), g.size)
	}

	g.mu.Lock()

	if g.id == 0 || g.members <= 1 {
		g.filled = 0
		g.mu.Unlock()
		g.pool.AddEntropy(buf)
		return nil
	}

	if g.filled == 0 {
		copy(g.buf, buf)
		g.filled = m
	} else {
		for i := range buf {
			g.buf[i] ^= buf[i]
		}
		g.filled |= m
	}

	if g.filled == g.mask {
		merged := make([]byte, g.size)
		copy(merged, g.buf)
		g.filled = 0
		g.mu.Unlock()
		g.pool.AddEntropy(merged)
		return nil
	}

	g.mu.Unlock()
	return nil
}

// powerOfTwoUp rounds n up to the next power of two (n itself, if it already
// is one).
func powerOfTwoUp(n int) int {
	if n <= 1 {
		return 1
	}
	p := 1
	for p < n {
		p <<= 1
	}
	return p
}
