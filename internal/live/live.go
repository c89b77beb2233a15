// Copyright 2014 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

//go:build linux

// Package live stops a running process with ptrace so that its call
// stack can be recovered, and resumes it afterwards.
package live

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/prometheus/procfs"

	"crashstack/arch"
	space "crashstack/core"
	"crashstack/internal/symtab"
	"crashstack/unwind"
)

// ErrUnsupported is returned when the host cannot be traced.
var ErrUnsupported = errors.New("live: architecture not supported")

// Options control how a process is attached.
type Options struct {
	// LeaveStopped leaves the process stopped after Close.
	LeaveStopped bool
	// MaxMappings bounds the mapping table (space.DefaultMaxMappings if 0).
	MaxMappings int
}

// A Process is a stopped, traced process.
type Process struct {
	pid  int
	opts Options
	t    *tracer

	exe   string
	regs  unwind.Snapshot
	table *space.Table
	syms  *symtab.Table
	files map[string]*os.File

	attached bool
}

// Attach stops pid and captures the registers of its main thread and
// its memory mappings. The process stays stopped until Close.
func Attach(pid int, opts Options) (p *Process, err error) {
	if hostArch == nil {
		return nil, ErrUnsupported
	}
	proc, err := procfs.NewProc(pid)
	if err != nil {
		return nil, fmt.Errorf("process %d: %w", pid, err)
	}

	lp := &Process{pid: pid, opts: opts, t: newTracer(), files: make(map[string]*os.File)}
	defer func() {
		if err != nil {
			lp.Close()
		}
	}()
	p = lp
	if err := p.t.attach(pid); err != nil {
		p.t.stop()
		p.t = nil
		return nil, err
	}
	p.attached = true

	if p.regs, err = p.t.registers(pid); err != nil {
		return nil, fmt.Errorf("reading registers of %d: %w", pid, err)
	}
	maps, err := proc.ProcMaps()
	if err != nil {
		return nil, fmt.Errorf("reading mappings of %d: %w", pid, err)
	}
	if p.exe, err = proc.Executable(); err != nil {
		p.exe = ""
	}
	if p.table, err = mapsTable(maps, mem{p.t, pid}, opts.MaxMappings); err != nil {
		return nil, err
	}
	p.syms = p.symbols(maps)
	return p, nil
}

// Close detaches from the process, which resumes unless
// Options.LeaveStopped was set, and releases the files p opened.
func (p *Process) Close() error {
	var err error
	if p.t != nil {
		if p.attached {
			err = p.t.detach(p.pid, p.opts.LeaveStopped)
			p.attached = false
		}
		p.t.stop()
		p.t = nil
	}
	for name, f := range p.files {
		if f != nil {
			f.Close()
		}
		delete(p.files, name)
	}
	return err
}

// Pid returns the process ID.
func (p *Process) Pid() int { return p.pid }

// Arch returns the host architecture.
func (p *Process) Arch() *arch.Architecture { return hostArch }

// Registers returns the registers captured at attach time.
func (p *Process) Registers() unwind.Snapshot { return p.regs }

// Mappings returns the mappings of the process.
func (p *Process) Mappings() *space.Table { return p.table }

// Executable returns the path of the main executable, or "".
func (p *Process) Executable() string { return p.exe }

func (p *Process) open(name string) *os.File {
	if f, ok := p.files[name]; ok {
		return f
	}
	f, err := os.Open(name)
	if err != nil {
		f = nil
	}
	p.files[name] = f
	return f
}

func (p *Process) symbols(maps []*procfs.ProcMap) *symtab.Table {
	syms := new(symtab.Table)
	images := map[string]*symtab.Image{}
	for _, m := range maps {
		if m.Perms == nil || !m.Perms.Execute || !filepath.IsAbs(m.Pathname) {
			continue
		}
		im := images[m.Pathname]
		if im == nil {
			f := p.open(m.Pathname)
			if f == nil {
				continue
			}
			im = symtab.NewImage(m.Pathname, f)
			im.UseDWARF = m.Pathname == p.exe
			images[m.Pathname] = im
		}
		syms.Add(uint64(m.StartAddr), uint64(m.EndAddr), m.Offset, im)
	}
	return syms
}

// read fills b from the process, falling back to the file that backs
// a read-only mapping when the process's memory cannot be read.
func (p *Process) read(b []byte, addr uint64) bool {
	if p.table.ReadAt(b, space.Address(addr)) == nil {
		return true
	}
	m := p.table.Find(space.Address(addr))
	if m == nil || m.Perm()&space.Write != 0 {
		return false
	}
	name, off := m.OrigSource()
	if name == "" || space.Address(addr).Add(int64(len(b))) > m.Max() {
		return false
	}
	f := p.open(name)
	if f == nil {
		return false
	}
	_, err := f.ReadAt(b, off+space.Address(addr).Sub(m.Min()))
	return err == nil
}

func (p *Process) ReadByteAt(addr uint64) (uint8, bool) {
	var b [1]byte
	if !p.read(b[:], addr) {
		return 0, false
	}
	return b[0], true
}

func (p *Process) ReadHalf(addr uint64) (uint16, bool) {
	var b [2]byte
	if !p.read(b[:], addr) {
		return 0, false
	}
	return hostArch.ByteOrder.Uint16(b[:]), true
}

func (p *Process) ReadWord(addr uint64) (uint32, bool) {
	var b [4]byte
	if !p.read(b[:], addr) {
		return 0, false
	}
	return hostArch.ByteOrder.Uint32(b[:]), true
}

func (p *Process) ReadDword(addr uint64) (uint64, bool) {
	var b [8]byte
	if !p.read(b[:], addr) {
		return 0, false
	}
	return hostArch.ByteOrder.Uint64(b[:]), true
}

// ProloguePC returns the entry address of the function containing addr,
// or 0 if it is unknown.
func (p *Process) ProloguePC(addr uint64) uint64 {
	return p.syms.FuncEntry(addr)
}

// Symbol returns the function containing addr.
func (p *Process) Symbol(addr uint64) (symtab.Symbol, error) {
	return p.syms.Lookup(addr)
}

// Module returns the name of the file mapped at addr, or "".
func (p *Process) Module(addr uint64) string {
	return p.syms.Module(addr)
}
