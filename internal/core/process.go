// Copyright 2017 The Go Authors.  All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package core reads ELF core dump files. You can open a core dump
// file and read from addresses in the process that dumped core, called
// the "inferior", along with the registers of its threads and the
// symbols of the files it had mapped.
//
// Memory that the core does not contain is looked up in the files named
// by its NT_FILE note, relative to a base directory. Reads report false
// rather than failing when an address has no data.
package core

import (
	"debug/dwarf"
	"debug/elf"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"crashstack/arch"
	space "crashstack/core"
	"crashstack/internal/symtab"
)

var (
	ErrNotCore   = errors.New("not an ELF core file")
	ErrNoThreads = errors.New("core file has no threads")
)

// A Process represents the state of the process that core dumped.
type Process struct {
	base string   // base directory from which files in the core can be found
	core *os.File // the core file itself
	exe  *os.File // user-supplied main executable

	files        map[string]*file // files found from the note section
	mainExecName string           // open main executable name
	sawNTFile    bool

	entryPoint space.Address
	table      *space.Table
	threads    []*Thread
	regions    []region // file-backed ranges from NT_FILE
	mapped     [][]byte // mmapped data, released by Close
	syms       *symtab.Table

	arch     *arch.Architecture
	dwarf    *dwarf.Data // debugging info of the main executable (could be nil)
	dwarfErr error
	command  string // executable name from NT_PRPSINFO
	args     string // first part of args from NT_PRPSINFO

	warnings []string // warnings generated during loading
}

type file struct {
	f   *os.File
	err error
}

// A region is a range of the inferior backed by a mapped file.
type region struct {
	min, max space.Address
	off      int64 // offset of min in the file
	name     string
}

// Core takes the name of a core file and returns a Process that
// represents the state of the inferior that generated the core file.
// base is prepended to file names found in the core; exePath, if not
// empty, overrides the main executable.
func Core(coreFile, base, exePath string) (p *Process, err error) {
	core, err := os.Open(coreFile)
	if err != nil {
		return nil, fmt.Errorf("failed to open core file: %w", err)
	}

	proc := &Process{
		base:  base,
		core:  core,
		files: make(map[string]*file),
		table: space.NewTable(0),
	}
	defer func() {
		if err != nil {
			proc.Close()
		}
	}()
	p = proc
	if exePath != "" {
		bin, err := os.Open(exePath)
		if err != nil {
			return nil, fmt.Errorf("failed to open executable file: %w", err)
		}
		p.exe = bin
	}

	if err := p.readCore(core); err != nil {
		return nil, err
	}
	if !p.sawNTFile {
		// Without file notes the executable's own segments are the only
		// source of text missing from the core.
		if err := p.readExec(p.exe); err != nil {
			return nil, err
		}
	}
	if len(p.threads) == 0 {
		return nil, fmt.Errorf("%s: %w", coreFile, ErrNoThreads)
	}

	p.table.Freeze()
	p.mapCore()
	p.readDebugInfo()
	return p, nil
}

// Close releases the files and memory held by p.
func (p *Process) Close() error {
	for _, b := range p.mapped {
		unmapFile(b)
	}
	p.mapped = nil
	for name, f := range p.files {
		if f.f != nil && f.f != p.exe {
			f.f.Close()
		}
		delete(p.files, name)
	}
	if p.exe != nil {
		p.exe.Close()
	}
	return p.core.Close()
}

// mapCore replaces reads of the core file with direct access to its
// pages where the host allows it.
func (p *Process) mapCore() {
	st, err := p.core.Stat()
	if err != nil {
		return
	}
	hostPageSize := int64(os.Getpagesize())
	for _, m := range p.table.Mappings() {
		name, off := m.Source()
		if !m.Backed() {
			p.warnings = append(p.warnings,
				fmt.Sprintf("Missing data at addresses [%x %x].", m.Min(), m.Max()))
			continue
		}
		if m.Perm()&space.Write != 0 && name != p.core.Name() {
			p.warnings = append(p.warnings,
				fmt.Sprintf("Writeable data at [%x %x] missing from core. Using possibly stale backup source %s.", m.Min(), m.Max(), name))
		}
		if name != p.core.Name() {
			continue
		}
		size := m.Size()
		if off+size > st.Size() {
			p.warnings = append(p.warnings,
				fmt.Sprintf("Core file truncated at [%x %x].", m.Min(), m.Max()))
			continue
		}
		// Data in core file might not be aligned enough for the host.
		// Expand memory range so we can map full pages.
		minOff := off - off%hostPageSize
		maxOff := off + size
		if maxOff%hostPageSize != 0 {
			maxOff += hostPageSize - maxOff%hostPageSize
		}
		data, err := mapFile(int(p.core.Fd()), minOff, int(maxOff-minOff))
		if err != nil {
			continue
		}
		p.mapped = append(p.mapped, data)
		m.SetContents(data[off-minOff:][:size])
	}
}

func (p *Process) readExec(exe *os.File) error {
	if exe == nil {
		return nil
	}
	e, err := elf.NewFile(exe)
	if err != nil {
		return err
	}
	// Load virtual memory mappings the core does not already cover.
	for _, prog := range e.Progs {
		if prog.Type != elf.PT_LOAD || prog.Filesz == 0 {
			continue
		}
		min := space.Address(prog.Vaddr)
		max := min.Add(int64(prog.Filesz))
		if p.covered(min, max) {
			continue
		}
		m := space.NewMapping(min, max, progPerm(prog))
		m.SetSource(exe.Name(), exe, int64(prog.Off))
		if err := p.table.Add(m); err != nil {
			return err
		}
	}
	return nil
}

func (p *Process) covered(min, max space.Address) bool {
	for _, m := range p.table.Mappings() {
		if m.Min() < max && min < m.Max() {
			return true
		}
	}
	return false
}

func (p *Process) readCore(core *os.File) error {
	e, err := elf.NewFile(core)
	if err != nil {
		return fmt.Errorf("%s: %w: %v", core.Name(), ErrNotCore, err)
	}
	if e.Type != elf.ET_CORE {
		return fmt.Errorf("%s: %w", core.Name(), ErrNotCore)
	}
	a, err := arch.ForMachine(e.Machine)
	if err != nil {
		return err
	}
	size := 4
	if e.Class == elf.ELFCLASS64 {
		size = 8
	}
	if size != a.PointerSize || e.ByteOrder != a.ByteOrder {
		return fmt.Errorf("%s: %s core with class %s and %s", core.Name(), a, e.Class, e.ByteOrder)
	}
	p.arch = a

	// Load virtual memory mappings.
	for _, prog := range e.Progs {
		if prog.Type == elf.PT_LOAD {
			if err := p.readLoad(core, prog); err != nil {
				return err
			}
		}
	}
	// Load notes (includes file mapping information).
	for _, prog := range e.Progs {
		if prog.Type == elf.PT_NOTE {
			if err := p.readNote(core, prog.Off, prog.Filesz); err != nil {
				return err
			}
		}
	}
	return nil
}

func progPerm(prog *elf.Prog) space.Perm {
	var perm space.Perm
	if prog.Flags&elf.PF_R != 0 {
		perm |= space.Read
	}
	if prog.Flags&elf.PF_W != 0 {
		perm |= space.Write
	}
	if prog.Flags&elf.PF_X != 0 {
		perm |= space.Exec
	}
	return perm
}

func (p *Process) readLoad(f *os.File, prog *elf.Prog) error {
	min := space.Address(prog.Vaddr)
	max := min.Add(int64(prog.Memsz))
	perm := progPerm(prog)
	if perm == 0 || prog.Memsz == 0 {
		return nil
	}
	filesz := prog.Filesz
	if filesz > prog.Memsz {
		filesz = prog.Memsz
	}
	if filesz > 0 {
		// Data backing this mapping is in the core file.
		m := space.NewMapping(min, min.Add(int64(filesz)), perm)
		m.SetSource(f.Name(), f, int64(prog.Off))
		if err := p.table.Add(m); err != nil {
			return err
		}
	}
	if filesz < prog.Memsz {
		// We only have partial data for this mapping in the core file.
		// The remainder may be found in a mapped file.
		if err := p.table.Add(space.NewMapping(min.Add(int64(filesz)), max, perm)); err != nil {
			return err
		}
	}
	return nil
}

const (
	ntFile elf.NType = 0x46494c45
	ntAuxv elf.NType = 0x6
	atEntry          = 9
)

func (p *Process) readNote(f *os.File, off, size uint64) error {
	b := make([]byte, size)
	if _, err := f.ReadAt(b, int64(off)); err != nil && err != io.EOF {
		return err
	}
	order := p.arch.ByteOrder
	for len(b) >= 12 {
		namesz := order.Uint32(b)
		descsz := order.Uint32(b[4:])
		typ := elf.NType(order.Uint32(b[8:]))
		b = b[12:]
		nameEnd := (uint64(namesz) + 3) / 4 * 4
		descEnd := nameEnd + (uint64(descsz)+3)/4*4
		if uint64(len(b)) < nameEnd+uint64(descsz) {
			return fmt.Errorf("%w: note of type %d overflows segment", ErrNotCore, typ)
		}
		name := strings.TrimRight(string(b[:namesz]), "\x00")
		desc := b[nameEnd : nameEnd+uint64(descsz)]
		if descEnd > uint64(len(b)) {
			descEnd = uint64(len(b))
		}
		b = b[descEnd:]

		if name != "CORE" {
			continue
		}
		switch typ {
		case ntFile:
			p.sawNTFile = true
			if err := p.readNTFile(desc); err != nil {
				return fmt.Errorf("reading NT_FILE: %w", err)
			}
		case elf.NT_PRSTATUS:
			if err := p.readPRStatus(desc); err != nil {
				return fmt.Errorf("reading NT_PRSTATUS: %w", err)
			}
		case elf.NT_PRPSINFO:
			p.readPRPSInfo(desc)
		case ntAuxv:
			if entry, ok := findEntryPoint(desc, p.arch); ok {
				p.entryPoint = entry
			}
		}
	}
	return nil
}

// findEntryPoint returns AT_ENTRY from an auxiliary vector.
func findEntryPoint(auxv []byte, a *arch.Architecture) (space.Address, bool) {
	w := a.PointerSize
	for len(auxv) >= 2*w {
		tag := a.Uintptr(auxv[:w])
		val := a.Uintptr(auxv[w : 2*w])
		auxv = auxv[2*w:]
		if tag == atEntry {
			return space.Address(val), true
		}
		if tag == 0 {
			break
		}
	}
	return 0, false
}

// readNTFile attaches the files named by an NT_FILE note to the
// mappings they back. Words are pointer-sized.
func (p *Process) readNTFile(desc []byte) error {
	a := p.arch
	w := a.PointerSize
	if len(desc) < 2*w {
		return fmt.Errorf("short descriptor")
	}
	count := a.Uintptr(desc[:w])
	pagesize := a.Uintptr(desc[w : 2*w])
	desc = desc[2*w:]
	if count > uint64(len(desc)/(3*w)) {
		return fmt.Errorf("%d entries do not fit in %d bytes", count, len(desc))
	}
	filenames := string(desc[3*w*int(count):])
	desc = desc[:3*w*int(count)]

	for i := uint64(0); i < count; i++ {
		min := space.Address(a.Uintptr(desc[:w]))
		max := space.Address(a.Uintptr(desc[w : 2*w]))
		off := int64(a.Uintptr(desc[2*w:3*w]) * pagesize)
		desc = desc[3*w:]

		var name string
		if j := strings.IndexByte(filenames, 0); j >= 0 {
			name = filenames[:j]
			filenames = filenames[j+1:]
		} else {
			name = filenames
			filenames = ""
		}
		p.regions = append(p.regions, region{min: min, max: max, off: off, name: name})

		if err := p.table.SplitAt(min); err != nil {
			return err
		}
		if err := p.table.SplitAt(max); err != nil {
			return err
		}
		for _, m := range p.table.Mappings() {
			if m.Max() <= min || m.Min() >= max {
				continue
			}
			f, err := p.openMappedFile(name, m)
			if err != nil {
				// Lots of possible missing files probably aren't critical,
				// like a random shared library.
				p.warnings = append(p.warnings,
					fmt.Sprintf("Missing data for addresses [%x %x] because of failure to %s.", m.Min(), m.Max(), err))
				continue
			}
			moff := off + m.Min().Sub(min)
			if !m.Backed() {
				m.SetSource(name, f, moff)
			} else {
				// Data is both in the core file and in a mapped file.
				// The mapped file may be stale. Keep it just for printing.
				m.SetOrigSource(name, moff)
			}
		}
	}
	return nil
}

func (p *Process) openMappedFile(fname string, m *space.Mapping) (*os.File, error) {
	if fname == "" {
		return nil, errors.New("open an anonymous mapping")
	}
	if backing := p.files[fname]; backing != nil {
		return backing.f, backing.err
	}

	backing := &file{}
	isMainExe := m.Perm()&space.Exec != 0 && p.mainExecName == "" // first executable region
	if p.entryPoint != 0 && m.Contains(p.entryPoint) {
		isMainExe = true
	}
	if isMainExe {
		p.mainExecName = fname
	}
	if isMainExe && p.exe != nil {
		backing.f = p.exe
	} else {
		backing.f, backing.err = os.Open(filepath.Join(p.base, fname))
	}
	p.files[fname] = backing
	return backing.f, backing.err
}

// readPRPSInfo records the command name and arguments. The layouts of
// elf_prpsinfo differ only before pr_fname, by the widths of pr_flag
// and of the uid fields.
func (p *Process) readPRPSInfo(desc []byte) {
	fname := 40
	if p.arch.PointerSize == 4 {
		fname = 28
	}
	if len(desc) < fname+16+80 {
		return
	}
	p.command = strings.TrimRight(string(desc[fname:fname+16]), "\x00")
	p.args = strings.Trim(string(desc[fname+16:fname+16+80]), "\x00 ")
}

// prstatus layouts, from struct elf_prstatus in linux/elfcore.h.
// Register numberings are listed in sys/user.h.
type prLayout struct {
	pid   int // offsetof(pr_pid)
	reg   int // offsetof(pr_reg)
	nregs int
	pc    int // index of the PC in pr_reg
	sp    int
}

var prLayouts = map[elf.Machine]prLayout{
	// r0-r15, cpsr, orig_r0
	elf.EM_ARM: {pid: 24, reg: 72, nregs: 18, pc: 15, sp: 13},
	// x0-x30, sp, pc, pstate
	elf.EM_AARCH64: {pid: 32, reg: 112, nregs: 34, pc: 32, sp: 31},
	// r15 r14 r13 r12 rbp rbx r11 r10 r9 r8 rax rcx rdx rsi rdi
	// orig_rax rip cs eflags rsp ss fs_base gs_base ds es fs gs
	elf.EM_X86_64: {pid: 32, reg: 112, nregs: 27, pc: 16, sp: 19},
	// ebx ecx edx esi edi ebp eax xds xes xfs xgs orig_eax eip xcs eflags esp xss
	elf.EM_386: {pid: 24, reg: 72, nregs: 17, pc: 12, sp: 15},
}

func (p *Process) readPRStatus(desc []byte) error {
	l, ok := prLayouts[p.arch.Machine]
	if !ok {
		return fmt.Errorf("no prstatus layout for %s", p.arch)
	}
	w := p.arch.PointerSize
	if len(desc) < l.reg+l.nregs*w {
		return fmt.Errorf("descriptor has %d bytes, want %d", len(desc), l.reg+l.nregs*w)
	}
	t := &Thread{
		arch: p.arch,
		pid:  uint64(p.arch.ByteOrder.Uint32(desc[l.pid:])),
	}
	reg := desc[l.reg : l.reg+l.nregs*w]
	for i := 0; i < len(reg); i += w {
		t.regs = append(t.regs, p.arch.Uintptr(reg[i:i+w]))
	}
	t.pc = space.Address(t.regs[l.pc])
	t.sp = space.Address(t.regs[l.sp])
	p.threads = append(p.threads, t)
	return nil
}

// Mappings returns the virtual memory mappings of p, sorted by address.
func (p *Process) Mappings() *space.Table {
	return p.table
}

// Threads returns information about each OS thread in the inferior.
// The first thread is the one that received the fatal signal.
func (p *Process) Threads() []*Thread {
	return p.threads
}

// Arch returns the architecture of the inferior.
func (p *Process) Arch() *arch.Architecture {
	return p.arch
}

func (p *Process) ByteOrder() binary.ByteOrder {
	return p.arch.ByteOrder
}

// DWARF returns the debugging information of the main executable.
func (p *Process) DWARF() (*dwarf.Data, error) {
	return p.dwarf, p.dwarfErr
}

// MainExecutable returns the name of the main executable as recorded in
// the core, or "" if it is not known.
func (p *Process) MainExecutable() string {
	return p.mainExecName
}

func (p *Process) Warnings() []string {
	return p.warnings
}

// Command returns the executable name recorded in the core.
func (p *Process) Command() string {
	return p.command
}

// Args returns the initial part of the program arguments.
func (p *Process) Args() string {
	return p.args
}
