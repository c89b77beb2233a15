// Copyright 2017 The Go Authors.  All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package core

import (
	"debug/elf"
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"crashstack/arch"
	"crashstack/internal/testenv"
)

var le = binary.LittleEndian

func armPRStatus(pid uint32, regs [18]uint32) []byte {
	b := make([]byte, 148)
	le.PutUint32(b[24:], pid)
	for i, r := range regs {
		le.PutUint32(b[72+4*i:], r)
	}
	return b
}

func arm64PRStatus(pid uint32, regs [34]uint64) []byte {
	b := make([]byte, 392)
	le.PutUint32(b[32:], pid)
	for i, r := range regs {
		le.PutUint64(b[112+8*i:], r)
	}
	return b
}

func prpsinfo32(fname, args string) []byte {
	b := make([]byte, 124)
	copy(b[28:44], fname)
	copy(b[44:], args)
	return b
}

func auxv32(pairs ...uint32) []byte {
	b := make([]byte, 4*len(pairs)+8)
	for i, v := range pairs {
		le.PutUint32(b[4*i:], v)
	}
	return b
}

type fileEntry struct {
	min, max, pgoff uint32
	name            string
}

func ntFile32(pagesize uint32, entries ...fileEntry) []byte {
	b := le.AppendUint32(nil, uint32(len(entries)))
	b = le.AppendUint32(b, pagesize)
	for _, e := range entries {
		b = le.AppendUint32(b, e.min)
		b = le.AppendUint32(b, e.max)
		b = le.AppendUint32(b, e.pgoff)
	}
	for _, e := range entries {
		b = append(append(b, e.name...), 0)
	}
	return b
}

// armCore writes an ARM core whose text comes from /usr/bin/app under
// the returned base directory. It returns the address of "main".
func armCore(t *testing.T) (path, base string, main uint64) {
	t.Helper()
	base = t.TempDir()
	bin := filepath.Join(base, "usr", "bin")
	require.NoError(t, os.MkdirAll(bin, 0755))

	text := make([]byte, 0x40)
	le.PutUint16(text[0:], 0xb500) // push {lr}
	le.PutUint16(text[0x20:], 0xb510)
	exe := testenv.New(elf.ELFCLASS32, elf.ET_EXEC, elf.EM_ARM).
		LoadImage(0x10000, text, elf.PF_R|elf.PF_X)
	main = 0x10000 + exe.LoadOffset(0)
	exe.Func("main", main|1, 0x20).
		Func("helper", (main+0x20)|1, 0x20).
		Write(t, bin, "app")

	stack := make([]byte, 0x100)
	le.PutUint32(stack[0x10:], 0xdeadbeef)
	var regs [18]uint32
	for i := range regs {
		regs[i] = uint32(0x100 + i)
	}
	regs[13] = 0x7f010
	regs[14] = uint32(main+0x21) | 1
	regs[15] = uint32(main + 4)
	regs[16] = 0x20 // T bit

	path = testenv.New(elf.ELFCLASS32, elf.ET_CORE, elf.EM_ARM).
		Load(0x10000, nil, 0x1000, elf.PF_R|elf.PF_X).
		Load(0x7f000, stack, 0, elf.PF_R|elf.PF_W).
		Note("CORE", elf.NT_PRSTATUS, armPRStatus(42, regs)).
		Note("CORE", elf.NT_PRPSINFO, prpsinfo32("app", "app -v")).
		Note("CORE", ntAuxv, auxv32(atEntry, uint32(main))).
		Note("CORE", ntFile, ntFile32(0x1000, fileEntry{0x10000, 0x11000, 0, "/usr/bin/app"})).
		Write(t, base, "core")
	return path, base, main
}

func TestARMCore(t *testing.T) {
	path, base, main := armCore(t)
	p, err := Core(path, base, "")
	require.NoError(t, err)
	defer p.Close()

	assert.Equal(t, &arch.ARM, p.Arch())
	assert.Equal(t, "app", p.Command())
	assert.Equal(t, "app -v", p.Args())
	assert.Equal(t, "/usr/bin/app", p.MainExecutable())

	threads := p.Threads()
	require.Len(t, threads, 1)
	th := threads[0]
	assert.EqualValues(t, 42, th.Pid())
	assert.EqualValues(t, main+4, th.PC())
	assert.EqualValues(t, 0x7f010, th.SP())
	assert.Len(t, RegNames(p.Arch()), len(th.Regs()))

	snap, ok := th.Snapshot()
	require.True(t, ok)
	assert.Len(t, snap.R, 13)
	assert.EqualValues(t, 0x10c, snap.R[12])
	assert.EqualValues(t, 0x7f010, snap.SP)
	assert.EqualValues(t, main+4, snap.PC)
	assert.EqualValues(t, (main+0x21)|1, snap.LR)
	assert.EqualValues(t, 0x20, snap.PSR)

	w, ok := p.ReadWord(0x7f010)
	require.True(t, ok)
	assert.EqualValues(t, 0xdeadbeef, w)
	b, ok := p.ReadByteAt(0x7f013)
	require.True(t, ok)
	assert.EqualValues(t, 0xde, b)

	// Text is not in the core; it is read from the executable.
	h, ok := p.ReadHalf(main)
	require.True(t, ok)
	assert.EqualValues(t, 0xb500, h)
	h, ok = p.ReadHalf(main + 0x20)
	require.True(t, ok)
	assert.EqualValues(t, 0xb510, h)

	_, ok = p.ReadWord(0x90000)
	assert.False(t, ok)
	_, ok = p.ReadWord(0x7f0fe)
	assert.False(t, ok, "read past the end of a mapping")

	assert.Equal(t, main+0x20, p.ProloguePC(main+0x24))
	assert.Equal(t, main, p.ProloguePC(main))
	assert.Zero(t, p.ProloguePC(0x7f010))

	s, err := p.Symbol(main + 6)
	require.NoError(t, err)
	assert.Equal(t, "main", s.Name)
	assert.Equal(t, "app", s.Module)
	assert.EqualValues(t, 6, s.Offset(main+6))
	assert.EqualValues(t, 0x20, s.Size)
	assert.Equal(t, "app", p.Module(main))

	m := p.Mappings().Find(0x10000)
	require.NotNil(t, m)
	name, _ := m.Source()
	assert.Equal(t, filepath.Join(base, "usr", "bin", "app"), name)
}

func TestMissingMappedFile(t *testing.T) {
	path, _, main := armCore(t)
	p, err := Core(path, t.TempDir(), "")
	require.NoError(t, err)
	defer p.Close()

	_, ok := p.ReadHalf(main)
	assert.False(t, ok)
	assert.Zero(t, p.ProloguePC(main))
	assert.NotEmpty(t, p.Warnings())
	_, err = p.DWARF()
	assert.Error(t, err)
}

func TestExecutableOverride(t *testing.T) {
	path, base, main := armCore(t)
	exe := filepath.Join(base, "usr", "bin", "app")
	p, err := Core(path, t.TempDir(), exe)
	require.NoError(t, err)
	defer p.Close()

	h, ok := p.ReadHalf(main)
	require.True(t, ok)
	assert.EqualValues(t, 0xb500, h)
	assert.Equal(t, main, p.ProloguePC(main+2))
}

func TestARM64Core(t *testing.T) {
	dir := t.TempDir()
	exe := testenv.New(elf.ELFCLASS64, elf.ET_EXEC, elf.EM_AARCH64).
		LoadImage(0x400000, make([]byte, 0x80), elf.PF_R|elf.PF_X)
	text := 0x400000 + exe.LoadOffset(0)
	exePath := exe.Func("main", text, 0x40).Write(t, dir, "app64")

	stack := make([]byte, 0x100)
	le.PutUint64(stack[0x20:], 0x7f0040)
	le.PutUint64(stack[0x28:], text+0x10)
	var regs [34]uint64
	regs[29] = 0x7f0020
	regs[30] = text + 0x30
	regs[31] = 0x7f0000
	regs[32] = text + 8
	path := testenv.New(elf.ELFCLASS64, elf.ET_CORE, elf.EM_AARCH64).
		Load(0x7f0000, stack, 0, elf.PF_R|elf.PF_W).
		Note("CORE", elf.NT_PRSTATUS, arm64PRStatus(7, regs)).
		Write(t, dir, "core")

	p, err := Core(path, dir, exePath)
	require.NoError(t, err)
	defer p.Close()

	assert.Equal(t, &arch.ARM64, p.Arch())
	th := p.Threads()[0]
	assert.EqualValues(t, 7, th.Pid())
	snap, ok := th.Snapshot()
	require.True(t, ok)
	assert.EqualValues(t, 0x7f0020, snap.FP())
	assert.Equal(t, text+0x30, snap.LR)
	assert.Equal(t, text+8, snap.PC)

	d, ok := p.ReadDword(0x7f0028)
	require.True(t, ok)
	assert.Equal(t, text+0x10, d)

	s, err := p.Symbol(text + 0x10)
	require.NoError(t, err)
	assert.Equal(t, "main", s.Name)
	assert.Equal(t, text, s.Entry)
	assert.Equal(t, exePath, p.MainExecutable())
}

func TestCoreErrors(t *testing.T) {
	dir := t.TempDir()
	var regs [18]uint32

	for _, s := range [...]struct {
		name string
		elf  *testenv.ELF
		err  error
	}{
		{"exec", testenv.New(elf.ELFCLASS32, elf.ET_EXEC, elf.EM_ARM).
			Load(0x1000, make([]byte, 4), 0, elf.PF_R), ErrNotCore},
		{"nothreads", testenv.New(elf.ELFCLASS32, elf.ET_CORE, elf.EM_ARM).
			Load(0x1000, make([]byte, 4), 0, elf.PF_R), ErrNoThreads},
		{"mips", testenv.New(elf.ELFCLASS32, elf.ET_CORE, elf.EM_MIPS).
			Note("CORE", elf.NT_PRSTATUS, armPRStatus(1, regs)), arch.ErrUnknown},
	} {
		t.Run(s.name, func(t *testing.T) {
			_, err := Core(s.elf.Write(t, dir, s.name), dir, "")
			assert.ErrorIs(t, err, s.err)
		})
	}

	_, err := os.Stat(filepath.Join(dir, "none"))
	require.Error(t, err)
	_, err = Core(filepath.Join(dir, "none"), dir, "")
	assert.ErrorIs(t, err, os.ErrNotExist)

	garbage := filepath.Join(dir, "garbage")
	require.NoError(t, os.WriteFile(garbage, []byte("not an elf file"), 0644))
	_, err = Core(garbage, dir, "")
	assert.ErrorIs(t, err, ErrNotCore)
}

func TestFindEntryPoint(t *testing.T) {
	e, ok := findEntryPoint(auxv32(6, 0x1000, atEntry, 0x8000), &arch.ARM)
	assert.True(t, ok)
	assert.EqualValues(t, 0x8000, e)
	_, ok = findEntryPoint(auxv32(6, 0x1000), &arch.ARM)
	assert.False(t, ok)
}
