// Copyright 2018 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package unwind

// A MemoryReader gives the interpreter access to the target's memory.
// Reads report false when the address is not available.
type MemoryReader interface {
	ReadWord(addr uint64) (uint32, bool)
	ReadHalf(addr uint64) (uint16, bool)
	ReadByteAt(addr uint64) (uint8, bool)
	// ProloguePC returns the entry address of the function containing
	// addr, or 0 if it is unknown.
	ProloguePC(addr uint64) uint64
}

// A DwordReader reads 64-bit words, for AArch64 frame records.
type DwordReader interface {
	ReadDword(addr uint64) (uint64, bool)
}
