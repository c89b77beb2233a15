// Copyright 2018 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package unwind

// DefaultMaxFrames is the default capacity of a Callstack.
const DefaultMaxFrames = 1000

// A Callstack collects recovered addresses, innermost first.
type Callstack struct {
	addrs []uint64
	max   int
}

// NewCallstack returns an empty callstack holding at most max addresses
// (DefaultMaxFrames if max <= 0).
func NewCallstack(max int) *Callstack {
	if max <= 0 {
		max = DefaultMaxFrames
	}
	return &Callstack{max: max}
}

// Report appends addr. It returns false, and drops addr, once the
// callstack is full.
func (c *Callstack) Report(addr uint64) bool {
	if len(c.addrs) >= c.max {
		return false
	}
	c.addrs = append(c.addrs, addr)
	return true
}

// Addrs returns the recovered addresses.
func (c *Callstack) Addrs() []uint64 { return c.addrs }

// Len returns the number of recovered addresses.
func (c *Callstack) Len() int { return len(c.addrs) }

// Cap returns the capacity.
func (c *Callstack) Cap() int { return c.max }

// Full reports whether another Report would fail.
func (c *Callstack) Full() bool { return len(c.addrs) >= c.max }
