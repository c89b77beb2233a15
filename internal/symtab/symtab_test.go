// Copyright 2014 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package symtab

import (
	"bytes"
	"debug/elf"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"crashstack/internal/testenv"
)

const loadAddr = 0x40000000

// sharedObject returns a Thumb library linked at 0 with functions a
// (sized), b (unsized) and c (sized), and the link-time address of a.
func sharedObject() (*Image, uint64) {
	e := testenv.New(elf.ELFCLASS32, elf.ET_DYN, elf.EM_ARM).
		LoadImage(0, make([]byte, 0x60), elf.PF_R|elf.PF_X)
	text := e.LoadOffset(0)
	e.Func("a", text|1, 0x10).
		Func("b", (text+0x10)|1, 0).
		Func("c", (text+0x40)|1, 0x10)
	im := NewImage("/usr/lib/libx.so", bytes.NewReader(e.Bytes()))
	im.UseDWARF = true // no debug info; symbols are used
	return im, text
}

func TestLookup(t *testing.T) {
	im, text := sharedObject()
	var tab Table
	tab.Add(loadAddr, loadAddr+0x1000, 0, im)
	base := loadAddr + text

	for _, tc := range []struct {
		addr  uint64
		name  string
		entry uint64
		size  uint64
	}{
		{base, "a", base, 0x10},
		{base + 4, "a", base, 0x10},
		{base + 0x20, "b", base + 0x10, 0},
		{base + 0x3e, "b", base + 0x10, 0},
		{base + 0x4c, "c", base + 0x40, 0x10},
	} {
		s, err := tab.Lookup(tc.addr)
		require.NoError(t, err, "%#x", tc.addr)
		assert.Equal(t, Symbol{Name: tc.name, Entry: tc.entry, Size: tc.size, Module: "libx.so"}, s)
		assert.Equal(t, tc.entry, tab.FuncEntry(tc.addr))
		assert.Equal(t, tc.addr-tc.entry, s.Offset(tc.addr))
	}

	_, err := tab.Lookup(base + 0x50)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Equal(t, "libx.so", tab.Module(base+0x50))
	assert.Zero(t, tab.FuncEntry(base+0x50))

	_, err = tab.Lookup(0x50000000)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Equal(t, "", tab.Module(0x50000000))
}

func TestLookupOffsetMapping(t *testing.T) {
	// Only the page holding file offset 0 is mapped, and a second,
	// unrelated image sits below it.
	im, text := sharedObject()
	other, _ := sharedObject()
	var tab Table
	tab.Add(loadAddr, loadAddr+0x1000, 0, im)
	tab.Add(0x10000, 0x11000, 0, other)

	s, err := tab.Lookup(0x10000 + text + 0x44)
	require.NoError(t, err)
	assert.Equal(t, "c", s.Name)
	assert.Equal(t, 0x10000+text+0x40, s.Entry)

	s, err = tab.Lookup(loadAddr + text + 2)
	require.NoError(t, err)
	assert.Equal(t, "a", s.Name)
}

func TestImageErrors(t *testing.T) {
	im := NewImage("garbage", bytes.NewReader([]byte("not an elf file")))
	var tab Table
	tab.Add(0x1000, 0x2000, 0, im)
	_, err := tab.Lookup(0x1800)
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = im.DWARF()
	assert.Error(t, err)
}
