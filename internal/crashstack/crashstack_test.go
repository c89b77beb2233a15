// Copyright 2018 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package crashstack

import (
	"bytes"
	"encoding/binary"
	"path"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"crashstack/arch"
	space "crashstack/core"
	"crashstack/internal/symtab"
	"crashstack/unwind"
)

// fakeTarget is an in-memory Target.
type fakeTarget struct {
	arch  *arch.Architecture
	regs  unwind.Snapshot
	mem   map[uint64]byte
	syms  []symtab.Symbol
	table *space.Table
}

func newFake(a *arch.Architecture, regs unwind.Snapshot) *fakeTarget {
	return &fakeTarget{arch: a, regs: regs, mem: map[uint64]byte{}, table: space.NewTable(0)}
}

func (f *fakeTarget) put(addr uint64, b []byte) *fakeTarget {
	for i, c := range b {
		f.mem[addr+uint64(i)] = c
	}
	return f
}

func (f *fakeTarget) halves(addr uint64, hs ...uint16) *fakeTarget {
	for _, h := range hs {
		f.put(addr, binary.LittleEndian.AppendUint16(nil, h))
		addr += 2
	}
	return f
}

func (f *fakeTarget) words(addr uint64, ws ...uint32) *fakeTarget {
	for _, w := range ws {
		f.put(addr, binary.LittleEndian.AppendUint32(nil, w))
		addr += 4
	}
	return f
}

func (f *fakeTarget) dwords(addr uint64, ds ...uint64) *fakeTarget {
	for _, d := range ds {
		f.put(addr, binary.LittleEndian.AppendUint64(nil, d))
		addr += 8
	}
	return f
}

func (f *fakeTarget) fn(name, module string, entry, size uint64) *fakeTarget {
	f.syms = append(f.syms, symtab.Symbol{Name: name, Entry: entry, Size: size, Module: module})
	return f
}

func (f *fakeTarget) read(addr uint64, n int) (uint64, bool) {
	var v uint64
	for i := n - 1; i >= 0; i-- {
		b, ok := f.mem[addr+uint64(i)]
		if !ok {
			return 0, false
		}
		v = v<<8 | uint64(b)
	}
	return v, true
}

func (f *fakeTarget) ReadByteAt(addr uint64) (uint8, bool) {
	v, ok := f.read(addr, 1)
	return uint8(v), ok
}

func (f *fakeTarget) ReadHalf(addr uint64) (uint16, bool) {
	v, ok := f.read(addr, 2)
	return uint16(v), ok
}

func (f *fakeTarget) ReadWord(addr uint64) (uint32, bool) {
	v, ok := f.read(addr, 4)
	return uint32(v), ok
}

func (f *fakeTarget) ReadDword(addr uint64) (uint64, bool) {
	return f.read(addr, 8)
}

func (f *fakeTarget) ProloguePC(addr uint64) uint64 {
	if s, err := f.Symbol(addr); err == nil {
		return s.Entry
	}
	return 0
}

func (f *fakeTarget) Symbol(addr uint64) (symtab.Symbol, error) {
	for _, s := range f.syms {
		if s.Entry <= addr && addr < s.Entry+s.Size {
			return s, nil
		}
	}
	return symtab.Symbol{}, symtab.ErrNotFound
}

func (f *fakeTarget) Module(addr uint64) string {
	s, err := f.Symbol(addr)
	if err != nil {
		return ""
	}
	return path.Base(s.Module)
}

func (f *fakeTarget) Registers() (unwind.Snapshot, error) { return f.regs, nil }
func (f *fakeTarget) Mappings() *space.Table              { return f.table }
func (f *fakeTarget) Arch() *arch.Architecture            { return f.arch }
func (f *fakeTarget) Close() error                        { return nil }

// armTarget stops in a Thumb leaf that returns into main, which
// returns to address zero.
func armTarget() *fakeTarget {
	return newFake(&arch.ARM, unwind.Snapshot{
		R:   make([]uint64, 13),
		SP:  0x20000,
		LR:  0x9001,
		PC:  0x8010,
		PSR: 0x20,
	}).
		halves(0x8010, 0xbd00). // pop {pc}
		halves(0x9000, 0xbd10). // pop {r4, pc}
		words(0x20000, 0x9001, 0x1234, 0).
		fn("_ZN3app4leafEv", "/usr/lib/libapp.so", 0x8000, 0x20).
		fn("main", "/usr/bin/app", 0x9000, 0x40)
}

func TestUnwindARM(t *testing.T) {
	tgt := armTarget()
	r, err := Unwind(tgt, unwind.DefaultConfig())
	require.NoError(t, err)
	assert.Equal(t, unwind.Reset, r.Result)
	assert.Equal(t, unwind.ModeThumb, r.Mode)
	require.Len(t, r.Frames, 2)
	assert.EqualValues(t, 0x8010, r.Frames[0].PC)
	assert.EqualValues(t, 0x9001, r.Frames[1].PC)

	Resolve(tgt, r)
	assert.Equal(t, Frame{PC: 0x8010, Func: "app::leaf", Offset: 0x10, Module: "libapp.so"}, r.Frames[0])
	assert.Equal(t, Frame{PC: 0x9001, Func: "main", Offset: 0, Module: "app"}, r.Frames[1])

	var out bytes.Buffer
	require.NoError(t, Print(&out, r, PrintOptions{}))
	assert.Equal(t, "Call stack:\n"+
		"0x00008010: app::leaf() from libapp.so\n"+
		"0x00009001: main() from app\n"+
		"Unwind: reset, 2 frames\n", out.String())
}

func TestUnwindARMFailure(t *testing.T) {
	tgt := newFake(&arch.ARM, unwind.Snapshot{
		R:  make([]uint64, 13),
		SP: 0x20000,
		PC: 0x8000,
	}).words(0x8000, 0xe12fff10) // bx r0
	r, err := Unwind(tgt, unwind.DefaultConfig())
	require.NoError(t, err)
	assert.Equal(t, unwind.Failure, r.Result)
	assert.Equal(t, unwind.ReasonUntrustedBranch, r.Reason)
	assert.Equal(t, unwind.ModeARM, r.Mode)

	Resolve(tgt, r)
	var out bytes.Buffer
	require.NoError(t, Print(&out, r, PrintOptions{}))
	assert.Equal(t, "Call stack:\n"+
		"0x00008000: unknown function\n"+
		"Unwind: failure ("+unwind.ReasonUntrustedBranch.String()+"), 1 frames\n", out.String())
}

func TestUnwindARM64(t *testing.T) {
	regs := unwind.Snapshot{
		R:  make([]uint64, 31),
		SP: 0x1000,
		LR: 0x400104,
		PC: 0x400010,
	}
	regs.R[29] = 0x1000
	tgt := newFake(&arch.ARM64, regs).
		dwords(0x1000, 0x1010, 0x400200).
		dwords(0x1010, 0, 0x400300).
		fn("main", "/usr/bin/app", 0x400000, 0x400)
	r, err := Unwind(tgt, unwind.DefaultConfig())
	require.NoError(t, err)
	assert.Equal(t, unwind.Success, r.Result)

	var pcs []uint64
	for _, f := range r.Frames {
		pcs = append(pcs, f.PC)
	}
	assert.Equal(t, []uint64{0x400010, 0x400104, 0x400200, 0x400300}, pcs)

	Resolve(tgt, r)
	var out bytes.Buffer
	require.NoError(t, Print(&out, r, PrintOptions{}))
	assert.Contains(t, out.String(), "0x0000000000400200: main() from app\n")
}

func TestUnwindUnsupported(t *testing.T) {
	_, err := Unwind(newFake(&arch.AMD64, unwind.Snapshot{}), unwind.DefaultConfig())
	assert.ErrorIs(t, err, ErrUnsupportedArch)
}

func TestUnwindTruncated(t *testing.T) {
	cfg := unwind.DefaultConfig()
	cfg.MaxFrames = 1
	r, err := Unwind(armTarget(), cfg)
	require.NoError(t, err)
	assert.Equal(t, unwind.Truncated, r.Result)
	assert.Len(t, r.Frames, 1)
}

func TestPrintSections(t *testing.T) {
	tab := space.NewTable(0)
	m := space.NewMapping(0x8000, 0x9000, space.Read|space.Exec)
	m.SetContents(make([]byte, 0x1000))
	require.NoError(t, tab.Add(m))
	require.NoError(t, tab.Add(space.NewMapping(0x20000, 0x21000, space.Read|space.Write)))
	tab.Freeze()

	r := &Report{
		PtrSize:   4,
		Result:    unwind.Exhausted,
		Registers: unwind.Snapshot{R: []uint64{1, 2}, SP: 0x20000, LR: 0x9001, PC: 0x8010, PSR: 0x20},
	}
	var out bytes.Buffer
	require.NoError(t, Print(&out, r, PrintOptions{Registers: true, Mappings: tab}))
	s := out.String()
	assert.Contains(t, s, "r1   0x00000002\n")
	assert.Contains(t, s, "pc   0x00008010\n")
	assert.Contains(t, s, "cpsr 0x00000020\n")
	assert.Contains(t, s, "Call stack:\nUnwind: exhausted, 0 frames\n")
	assert.Regexp(t, `8000-9000 +r-x`, s)
	assert.Regexp(t, `20000-21000 +rw-`, s)
	assert.Contains(t, s, "(no data)")
}
