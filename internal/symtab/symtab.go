// Copyright 2014 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package symtab maps addresses of an inferior to the functions of the
// ELF files it had mapped.
//
// Each file is an Image, parsed on first use. A Table places images at
// the addresses they were loaded and answers lookups with DWARF
// subprogram ranges where an image has them and otherwise with its
// ELF symbol tables.
package symtab

import (
	"debug/dwarf"
	"debug/elf"
	"errors"
	"fmt"
	"io"
	"path"
	"sort"
	"sync"
)

// ErrNotFound is returned when no function contains an address.
var ErrNotFound = errors.New("no function at address")

// A Symbol describes the function containing an address.
type Symbol struct {
	Name   string
	Entry  uint64 // runtime address of the first instruction, Thumb bit cleared
	Size   uint64 // 0 if unknown
	Module string // base name of the image
}

// Offset returns how far addr is into s.
func (s Symbol) Offset(addr uint64) uint64 {
	return addr - s.Entry
}

type function struct {
	name      string
	low, high uint64 // link-time addresses; high is 0 when unknown
}

// An Image is an ELF file mapped by the inferior.
type Image struct {
	Name string
	r    io.ReaderAt

	// UseDWARF enables DWARF lookups, normally only for the main executable.
	UseDWARF bool

	once  sync.Once
	f     *elf.File
	err   error
	funcs []function // from the symbol tables, sorted by low

	dwarfOnce  sync.Once
	dwarfFuncs []function // from DW_TAG_subprogram entries
	dwarfErr   error
}

// NewImage returns an image reading the file name from r.
func NewImage(name string, r io.ReaderAt) *Image {
	return &Image{Name: name, r: r}
}

func (im *Image) load() error {
	im.once.Do(func() {
		im.f, im.err = elf.NewFile(im.r)
		if im.err != nil {
			im.err = fmt.Errorf("reading %s: %w", im.Name, im.err)
			return
		}
		thumb := im.f.Machine == elf.EM_ARM
		var syms []elf.Symbol
		if s, err := im.f.Symbols(); err == nil {
			syms = append(syms, s...)
		}
		if s, err := im.f.DynamicSymbols(); err == nil {
			syms = append(syms, s...)
		}
		for _, s := range syms {
			if elf.ST_TYPE(s.Info) != elf.STT_FUNC || s.Value == 0 {
				continue
			}
			low := s.Value
			if thumb {
				low &^= 1
			}
			var high uint64
			if s.Size != 0 {
				high = low + s.Size
			}
			im.funcs = append(im.funcs, function{s.Name, low, high})
		}
		sort.SliceStable(im.funcs, func(i, j int) bool {
			return im.funcs[i].low < im.funcs[j].low
		})
	})
	return im.err
}

// DWARF returns the image's debugging information.
func (im *Image) DWARF() (*dwarf.Data, error) {
	if err := im.load(); err != nil {
		return nil, err
	}
	return im.f.DWARF()
}

func (im *Image) loadDWARF() error {
	im.dwarfOnce.Do(func() {
		d, err := im.DWARF()
		if err != nil {
			im.dwarfErr = err
			return
		}
		r := d.Reader()
		for {
			entry, err := r.Next()
			if err != nil {
				im.dwarfErr = err
				return
			}
			if entry == nil {
				break
			}
			if entry.Tag != dwarf.TagSubprogram {
				continue
			}
			name, _ := entry.Val(dwarf.AttrName).(string)
			ranges, err := d.Ranges(entry)
			if err != nil {
				continue
			}
			for _, rg := range ranges {
				im.dwarfFuncs = append(im.dwarfFuncs, function{name, rg[0], rg[1]})
			}
		}
	})
	return im.dwarfErr
}

// funcForPC returns the function containing the link-time address pc.
func (im *Image) funcForPC(pc uint64) (function, bool) {
	if im.UseDWARF && im.loadDWARF() == nil {
		for _, fn := range im.dwarfFuncs {
			if fn.low <= pc && pc < fn.high {
				return fn, true
			}
		}
	}
	if im.load() != nil {
		return function{}, false
	}
	i := sort.Search(len(im.funcs), func(i int) bool {
		return im.funcs[i].low > pc
	})
	// Sized symbols must contain pc; an unsized one runs up to the next.
	for i--; i >= 0; i-- {
		fn := im.funcs[i]
		if fn.high == 0 || pc < fn.high {
			return fn, true
		}
		if i > 0 && im.funcs[i-1].low != fn.low {
			break
		}
	}
	return function{}, false
}

// bias returns the difference between run-time and link-time addresses
// of the image, given that file offset off was mapped at min.
func (im *Image) bias(min uint64, off int64) (uint64, bool) {
	if im.load() != nil {
		return 0, false
	}
	for _, prog := range im.f.Progs {
		if prog.Type != elf.PT_LOAD {
			continue
		}
		start := prog.Off
		if prog.Align > 1 {
			start &^= prog.Align - 1
		}
		if uint64(off) < start || uint64(off) >= prog.Off+prog.Filesz {
			continue
		}
		return min - (prog.Vaddr - (prog.Off - uint64(off))), true
	}
	return 0, false
}

type region struct {
	min, max uint64
	off      int64
	img      *Image

	biasOnce sync.Once
	bias     uint64
	biasOK   bool
}

// A Table maps address ranges of an inferior to images.
type Table struct {
	regions []*region
	sorted  bool
}

// Add records that [min, max) holds img from file offset off.
func (t *Table) Add(min, max uint64, off int64, img *Image) {
	t.regions = append(t.regions, &region{min: min, max: max, off: off, img: img})
	t.sorted = false
}

func (t *Table) find(addr uint64) *region {
	if !t.sorted {
		sort.Slice(t.regions, func(i, j int) bool {
			return t.regions[i].min < t.regions[j].min
		})
		t.sorted = true
	}
	i := sort.Search(len(t.regions), func(i int) bool {
		return t.regions[i].max > addr
	})
	if i < len(t.regions) && t.regions[i].min <= addr {
		return t.regions[i]
	}
	return nil
}

// Lookup returns the function containing addr.
func (t *Table) Lookup(addr uint64) (Symbol, error) {
	rg := t.find(addr)
	if rg == nil {
		return Symbol{}, fmt.Errorf("%w: %#x is not in a mapped file", ErrNotFound, addr)
	}
	rg.biasOnce.Do(func() {
		rg.bias, rg.biasOK = rg.img.bias(rg.min, rg.off)
	})
	if !rg.biasOK {
		return Symbol{}, fmt.Errorf("%w: %#x: can't place %s", ErrNotFound, addr, rg.img.Name)
	}
	fn, ok := rg.img.funcForPC(addr - rg.bias)
	if !ok {
		return Symbol{}, fmt.Errorf("%w: %#x in %s", ErrNotFound, addr, rg.img.Name)
	}
	s := Symbol{
		Name:   fn.name,
		Entry:  fn.low + rg.bias,
		Module: path.Base(rg.img.Name),
	}
	if fn.high != 0 {
		s.Size = fn.high - fn.low
	}
	return s, nil
}

// Module returns the name of the image mapped at addr, or "".
func (t *Table) Module(addr uint64) string {
	if rg := t.find(addr); rg != nil {
		return path.Base(rg.img.Name)
	}
	return ""
}

// FuncEntry returns the entry address of the function containing addr,
// or 0 if it is unknown.
func (t *Table) FuncEntry(addr uint64) uint64 {
	s, err := t.Lookup(addr)
	if err != nil {
		return 0
	}
	return s.Entry
}
