// Copyright 2025 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package testenv builds small ELF executables and core files for tests.
package testenv

import (
	"bytes"
	"debug/elf"
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"
)

// An ELF describes a file to build. Files are little-endian.
type ELF struct {
	Class   elf.Class
	Type    elf.Type
	Machine elf.Machine
	Entry   uint64

	loads []load
	notes bytes.Buffer
	syms  []Sym
}

type load struct {
	vaddr uint64
	data  []byte
	memsz uint64
	flags elf.ProgFlag
	image bool // vaddr is the image base; add the file offset
}

// A Sym is a symbol table entry.
type Sym struct {
	Name  string
	Value uint64
	Size  uint64
	Type  elf.SymType
}

// New returns an empty file description.
func New(class elf.Class, typ elf.Type, machine elf.Machine) *ELF {
	return &ELF{Class: class, Type: typ, Machine: machine}
}

// Load adds a PT_LOAD segment at vaddr holding data, memsz bytes long in
// memory. A memsz smaller than len(data) means len(data).
func (e *ELF) Load(vaddr uint64, data []byte, memsz uint64, flags elf.ProgFlag) *ELF {
	if memsz < uint64(len(data)) {
		memsz = uint64(len(data))
	}
	e.loads = append(e.loads, load{vaddr: vaddr, data: data, memsz: memsz, flags: flags})
	return e
}

// LoadImage adds a PT_LOAD segment placed the way a linker places text:
// the file is loaded at base, so the segment's address is base plus its
// file offset.
func (e *ELF) LoadImage(base uint64, data []byte, flags elf.ProgFlag) *ELF {
	e.loads = append(e.loads, load{vaddr: base, data: data, memsz: uint64(len(data)), flags: flags, image: true})
	return e
}

// LoadOffset returns the file offset of the data of segment i.
// Notes must be added before calling it.
func (e *ELF) LoadOffset(i int) uint64 {
	return uint64(e.layout()[i])
}

func (e *ELF) sizes() (ehsize, phsize, shsize, symsize int) {
	if e.Class == elf.ELFCLASS64 {
		return 64, 56, 64, elf.Sym64Size
	}
	return 52, 32, 40, elf.Sym32Size
}

func (e *ELF) nphdr() int {
	if e.notes.Len() > 0 {
		return len(e.loads) + 1
	}
	return len(e.loads)
}

// layout returns the file offsets of the segment data.
func (e *ELF) layout() []int {
	ehsize, phsize, _, _ := e.sizes()
	off := ehsize + e.nphdr()*phsize
	offs := make([]int, len(e.loads))
	for i, l := range e.loads {
		off = align(off, 8)
		offs[i] = off
		off += len(l.data)
	}
	return offs
}

func align(n, a int) int {
	return (n + a - 1) / a * a
}

// Note appends a note to the file's single PT_NOTE segment.
func (e *ELF) Note(name string, typ elf.NType, desc []byte) *ELF {
	le := binary.LittleEndian
	var hdr [12]byte
	le.PutUint32(hdr[0:], uint32(len(name)+1))
	le.PutUint32(hdr[4:], uint32(len(desc)))
	le.PutUint32(hdr[8:], uint32(typ))
	e.notes.Write(hdr[:])
	e.notes.WriteString(name)
	e.notes.WriteByte(0)
	pad4(&e.notes)
	e.notes.Write(desc)
	pad4(&e.notes)
	return e
}

// Func adds a function symbol.
func (e *ELF) Func(name string, value, size uint64) *ELF {
	e.syms = append(e.syms, Sym{name, value, size, elf.STT_FUNC})
	return e
}

// Symbol adds a symbol of any type.
func (e *ELF) Symbol(s Sym) *ELF {
	e.syms = append(e.syms, s)
	return e
}

func pad4(b *bytes.Buffer) {
	for b.Len()%4 != 0 {
		b.WriteByte(0)
	}
}

// pad aligns the absolute file offset base+b.Len() to n.
func pad(b *bytes.Buffer, base, n int) {
	for (base+b.Len())%n != 0 {
		b.WriteByte(0)
	}
}

// Write builds the file in dir and returns its path.
func (e *ELF) Write(t testing.TB, dir, name string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, e.Bytes(), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

// Bytes returns the encoded file.
func (e *ELF) Bytes() []byte {
	is64 := e.Class == elf.ELFCLASS64
	le := binary.LittleEndian
	ehsize, phsize, shsize, symsize := e.sizes()
	nphdr := e.nphdr()

	// Segment and section contents follow the program headers.
	var body bytes.Buffer
	base := ehsize + nphdr*phsize
	offs := e.layout()
	for i, l := range e.loads {
		pad(&body, base, 8)
		if base+body.Len() != offs[i] {
			panic("testenv: bad layout")
		}
		body.Write(l.data)
	}
	pad(&body, base, 8)
	noteOff := base + body.Len()
	body.Write(e.notes.Bytes())

	var shdrs []elf.Section64
	shstrndx := 0
	if len(e.syms) > 0 {
		strtab := []byte{0}
		var symtab bytes.Buffer
		symtab.Write(make([]byte, symsize))
		for _, s := range e.syms {
			nameOff := uint32(len(strtab))
			strtab = append(append(strtab, s.Name...), 0)
			info := elf.ST_INFO(elf.STB_GLOBAL, s.Type)
			if is64 {
				binary.Write(&symtab, le, elf.Sym64{Name: nameOff, Info: info, Shndx: uint16(elf.SHN_ABS), Value: s.Value, Size: s.Size})
			} else {
				binary.Write(&symtab, le, elf.Sym32{Name: nameOff, Value: uint32(s.Value), Size: uint32(s.Size), Info: info, Shndx: uint16(elf.SHN_ABS)})
			}
		}
		shstrtab := []byte("\x00.symtab\x00.strtab\x00.shstrtab\x00")

		pad(&body, base, 8)
		symOff := base + body.Len()
		body.Write(symtab.Bytes())
		strOff := base + body.Len()
		body.Write(strtab)
		shstrOff := base + body.Len()
		body.Write(shstrtab)

		shdrs = []elf.Section64{
			{},
			{Name: 1, Type: uint32(elf.SHT_SYMTAB), Off: uint64(symOff), Size: uint64(symtab.Len()), Link: 2, Info: 1, Addralign: 8, Entsize: uint64(symsize)},
			{Name: 9, Type: uint32(elf.SHT_STRTAB), Off: uint64(strOff), Size: uint64(len(strtab)), Addralign: 1},
			{Name: 17, Type: uint32(elf.SHT_STRTAB), Off: uint64(shstrOff), Size: uint64(len(shstrtab)), Addralign: 1},
		}
		shstrndx = 3
	}
	pad(&body, base, 8)
	shoff := 0
	if len(shdrs) > 0 {
		shoff = base + body.Len()
	}

	var out bytes.Buffer
	var ident [elf.EI_NIDENT]byte
	copy(ident[:], elf.ELFMAG)
	ident[elf.EI_CLASS] = byte(e.Class)
	ident[elf.EI_DATA] = byte(elf.ELFDATA2LSB)
	ident[elf.EI_VERSION] = byte(elf.EV_CURRENT)
	if is64 {
		binary.Write(&out, le, elf.Header64{
			Ident: ident, Type: uint16(e.Type), Machine: uint16(e.Machine),
			Version: uint32(elf.EV_CURRENT), Entry: e.Entry,
			Phoff: uint64(ehsize), Shoff: uint64(shoff),
			Ehsize: uint16(ehsize), Phentsize: uint16(phsize), Phnum: uint16(nphdr),
			Shentsize: uint16(shsize), Shnum: uint16(len(shdrs)), Shstrndx: uint16(shstrndx),
		})
	} else {
		binary.Write(&out, le, elf.Header32{
			Ident: ident, Type: uint16(e.Type), Machine: uint16(e.Machine),
			Version: uint32(elf.EV_CURRENT), Entry: uint32(e.Entry),
			Phoff: uint32(ehsize), Shoff: uint32(shoff),
			Ehsize: uint16(ehsize), Phentsize: uint16(phsize), Phnum: uint16(nphdr),
			Shentsize: uint16(shsize), Shnum: uint16(len(shdrs)), Shstrndx: uint16(shstrndx),
		})
	}

	type phdr struct {
		typ                       elf.ProgType
		flags                     elf.ProgFlag
		off, vaddr, filesz, memsz uint64
		align                     uint64
	}
	var ph []phdr
	for i, l := range e.loads {
		vaddr, al := l.vaddr, uint64(4)
		if l.image {
			vaddr += uint64(offs[i])
			al = 0x1000
		}
		ph = append(ph, phdr{elf.PT_LOAD, l.flags, uint64(offs[i]), vaddr, uint64(len(l.data)), l.memsz, al})
	}
	if e.notes.Len() > 0 {
		ph = append(ph, phdr{elf.PT_NOTE, 0, uint64(noteOff), 0, uint64(e.notes.Len()), 0, 4})
	}
	for _, p := range ph {
		if is64 {
			binary.Write(&out, le, elf.Prog64{Type: uint32(p.typ), Flags: uint32(p.flags), Off: p.off, Vaddr: p.vaddr, Paddr: p.vaddr, Filesz: p.filesz, Memsz: p.memsz, Align: p.align})
		} else {
			binary.Write(&out, le, elf.Prog32{Type: uint32(p.typ), Off: uint32(p.off), Vaddr: uint32(p.vaddr), Paddr: uint32(p.vaddr), Filesz: uint32(p.filesz), Memsz: uint32(p.memsz), Flags: uint32(p.flags), Align: uint32(p.align)})
		}
	}
	out.Write(body.Bytes())

	for _, s := range shdrs {
		if is64 {
			binary.Write(&out, le, s)
		} else {
			binary.Write(&out, le, elf.Section32{Name: s.Name, Type: s.Type, Flags: uint32(s.Flags), Addr: uint32(s.Addr), Off: uint32(s.Off), Size: uint32(s.Size), Link: s.Link, Info: s.Info, Addralign: uint32(s.Addralign), Entsize: uint32(s.Entsize)})
		}
	}
	return out.Bytes()
}
