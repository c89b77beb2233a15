// Copyright 2017 The Go Authors.  All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package core

import (
	"debug/elf"
	"fmt"

	"crashstack/internal/symtab"
)

// readDebugInfo places the image of every mapped file that could be
// opened. Errors reading symbols or DWARF are kept for the caller.
func (p *Process) readDebugInfo() {
	p.syms = new(symtab.Table)
	images := map[string]*symtab.Image{}
	image := func(name string, f *file) *symtab.Image {
		im := images[name]
		if im == nil {
			im = symtab.NewImage(name, f.f)
			im.UseDWARF = name == p.mainExecName
			images[name] = im
		}
		return im
	}
	for _, rg := range p.regions {
		f := p.files[rg.name]
		if f == nil || f.f == nil {
			continue
		}
		p.syms.Add(uint64(rg.min), uint64(rg.max), rg.off, image(rg.name, f))
	}
	if !p.sawNTFile && p.exe != nil {
		p.mainExecName = p.exe.Name()
		im := image(p.mainExecName, &file{f: p.exe})
		if e, err := elf.NewFile(p.exe); err == nil {
			for _, prog := range e.Progs {
				if prog.Type == elf.PT_LOAD && prog.Filesz > 0 {
					p.syms.Add(prog.Vaddr, prog.Vaddr+prog.Memsz, int64(prog.Off), im)
				}
			}
		}
	}

	// Prepare DWARF from the main exe.
	// An error while reading DWARF info is not an immediate error,
	// but any error will be returned if the caller asks for DWARF.
	exe := images[p.mainExecName]
	if exe == nil {
		p.dwarfErr = fmt.Errorf("can't find mappings for the main executable")
		if f := p.files[p.mainExecName]; f != nil && f.err != nil {
			p.dwarfErr = f.err
		}
		return
	}
	p.dwarf, p.dwarfErr = exe.DWARF()
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
