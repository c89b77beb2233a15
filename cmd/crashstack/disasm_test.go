// Copyright 2018 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package main

import (
	"bytes"
	"encoding/binary"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"crashstack/arch"
	"crashstack/internal/crashstack"
	"crashstack/unwind"
)

// memory is a little-endian byte image loaded at base.
type memory struct {
	base uint64
	b    []byte
}

func (m memory) slice(addr uint64, n int) ([]byte, bool) {
	if addr < m.base || addr-m.base+uint64(n) > uint64(len(m.b)) {
		return nil, false
	}
	return m.b[addr-m.base:][:n], true
}

func (m memory) ReadByteAt(addr uint64) (uint8, bool) {
	b, ok := m.slice(addr, 1)
	if !ok {
		return 0, false
	}
	return b[0], true
}

func (m memory) ReadHalf(addr uint64) (uint16, bool) {
	b, ok := m.slice(addr, 2)
	if !ok {
		return 0, false
	}
	return binary.LittleEndian.Uint16(b), true
}

func (m memory) ReadWord(addr uint64) (uint32, bool) {
	b, ok := m.slice(addr, 4)
	if !ok {
		return 0, false
	}
	return binary.LittleEndian.Uint32(b), true
}

func (m memory) ProloguePC(addr uint64) uint64 { return 0 }

func words(ws ...uint32) []byte {
	var b []byte
	for _, w := range ws {
		b = binary.LittleEndian.AppendUint32(b, w)
	}
	return b
}

func TestDisasmARM(t *testing.T) {
	mem := memory{base: 0x8000, b: words(0xe12fff1e)}
	var out bytes.Buffer
	require.NoError(t, disasm(&out, mem, &arch.ARM, 0x8000, 1, false))
	assert.Equal(t, "0x00008000: bx lr\n", out.String())
}

func TestDisasmThumb(t *testing.T) {
	// push {r4, lr}; pop {r4, pc}
	mem := memory{base: 0x8000, b: []byte{0x10, 0xb5, 0x10, 0xbd}}
	push, ok := unwind.Decode(mem, 0x8000, unwind.ModeThumb)
	require.True(t, ok)
	pop, ok := unwind.Decode(mem, 0x8002, unwind.ModeThumb)
	require.True(t, ok)

	for _, tc := range []struct {
		addr  uint64
		thumb bool
	}{
		{0x8001, false},
		{0x8000, true},
	} {
		var out bytes.Buffer
		require.NoError(t, disasm(&out, mem, &arch.ARM, tc.addr, 2, tc.thumb))
		assert.Equal(t, "0x00008000: "+push.String()+"\n0x00008002: "+pop.String()+"\n", out.String())
	}
}

func TestDisasmARM64(t *testing.T) {
	mem := memory{base: 0x400000, b: words(0xd503201f)}
	var out bytes.Buffer
	require.NoError(t, disasm(&out, mem, &arch.ARM64, 0x400000, 1, false))
	assert.Equal(t, "0x0000000000400000: nop\n", out.String())
}

func TestDisasmErrors(t *testing.T) {
	mem := memory{base: 0x8000, b: words(0xe12fff1e)}
	var out bytes.Buffer
	err := disasm(&out, mem, &arch.ARM, 0x8000, 2, false)
	require.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), "0x8004"))
	assert.Equal(t, 1, strings.Count(out.String(), "\n"))

	assert.ErrorIs(t, disasm(&out, mem, &arch.AMD64, 0x8000, 1, false), crashstack.ErrUnsupportedArch)
}

func TestUnwindConfig(t *testing.T) {
	saved := cfg
	defer func() { cfg = saved }()
	cfg.maxSteps = 7
	cfg.maxFrames = 3
	cfg.verbose = true
	c := unwindConfig()
	assert.Equal(t, 7, c.MaxSteps)
	assert.Equal(t, 3, c.MaxFrames)
	assert.NotNil(t, c.Logger)
}
