// Copyright 2018 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package unwind

// DefaultMemHashSize is the default number of stack words a MemHash tracks.
const DefaultMemHashSize = 32

type memEntry struct {
	value   uint32
	origin  Origin
	tracked bool
}

// A MemHash caches stack words written by the interpreter so that later
// loads see the simulated contents instead of target memory.
// It also records, per branch target, whether the last visit followed the
// branch.
type MemHash struct {
	size     int
	entries  map[uint32]memEntry
	branches map[uint32]bool
}

// NewMemHash returns a cache holding at most size words
// (DefaultMemHashSize if size <= 0).
func NewMemHash(size int) *MemHash {
	if size <= 0 {
		size = DefaultMemHashSize
	}
	return &MemHash{
		size:     size,
		entries:  make(map[uint32]memEntry, size),
		branches: make(map[uint32]bool),
	}
}

// Read returns the cached word at addr. Untracked entries read back
// with origin Invalid.
func (h *MemHash) Read(addr uint32) (uint32, Origin, bool) {
	e, ok := h.entries[addr]
	if !ok {
		return 0, Invalid, false
	}
	if !e.tracked {
		return e.value, Invalid, true
	}
	return e.value, e.origin, true
}

// Write stores a word at addr. It reports false if addr is not yet cached
// and the cache is full.
func (h *MemHash) Write(addr, value uint32, o Origin) bool {
	if _, ok := h.entries[addr]; !ok && len(h.entries) >= h.size {
		return false
	}
	h.entries[addr] = memEntry{value: value, origin: o, tracked: o.Valid()}
	return true
}

// GC removes every entry below sp.
func (h *MemHash) GC(sp uint32) {
	for a := range h.entries {
		if a < sp {
			delete(h.entries, a)
		}
	}
}

// Len returns the number of cached words.
func (h *MemHash) Len() int {
	return len(h.entries)
}

// Branch reports whether the last visit of a branch to target followed it.
func (h *MemHash) Branch(target uint32) bool {
	return h.branches[target]
}

// ToggleBranch flips the follow state for target and returns the new state.
// The first call for a target returns true.
func (h *MemHash) ToggleBranch(target uint32) bool {
	f := !h.branches[target]
	h.branches[target] = f
	return f
}
