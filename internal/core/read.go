// Copyright 2017 The Go Authors.  All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package core

import space "crashstack/core"

// ReadAt reads len(b) bytes of the inferior's memory at address a.
func (p *Process) ReadAt(b []byte, a space.Address) error {
	return p.table.ReadAt(b, a)
}

// Readable reports whether the address a is readable.
func (p *Process) Readable(a space.Address) bool {
	m := p.table.Find(a)
	return m != nil && m.Perm()&space.Read != 0 && m.Backed()
}

func (p *Process) ReadByteAt(addr uint64) (uint8, bool) {
	var b [1]byte
	if p.table.ReadAt(b[:], space.Address(addr)) != nil {
		return 0, false
	}
	return b[0], true
}

func (p *Process) ReadHalf(addr uint64) (uint16, bool) {
	var b [2]byte
	if p.table.ReadAt(b[:], space.Address(addr)) != nil {
		return 0, false
	}
	return p.arch.ByteOrder.Uint16(b[:]), true
}

func (p *Process) ReadWord(addr uint64) (uint32, bool) {
	var b [4]byte
	if p.table.ReadAt(b[:], space.Address(addr)) != nil {
		return 0, false
	}
	return p.arch.ByteOrder.Uint32(b[:]), true
}

// ReadDword reads a 64-bit word, for AArch64 frame records.
func (p *Process) ReadDword(addr uint64) (uint64, bool) {
	var b [8]byte
	if p.table.ReadAt(b[:], space.Address(addr)) != nil {
		return 0, false
	}
	return p.arch.ByteOrder.Uint64(b[:]), true
}
