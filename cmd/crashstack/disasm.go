// Copyright 2018 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package main

import (
	"debug/elf"
	"fmt"
	"io"
	"strconv"

	"golang.org/x/arch/arm/armasm"
	"golang.org/x/arch/arm64/arm64asm"

	"crashstack/arch"
	"crashstack/internal/crashstack"
	"crashstack/unwind"
)

const defaultDisasmCount = 10

func runDisasm(w io.Writer, t crashstack.Target, args []string) {
	addr, err := strconv.ParseUint(args[0], 0, 64)
	if err != nil {
		exitf("can't parse %s as an address\n", args[0])
	}
	n := defaultDisasmCount
	if len(args) > 1 {
		if n, err = strconv.Atoi(args[1]); err != nil || n <= 0 {
			exitf("can't parse %s as an instruction count\n", args[1])
		}
	}
	if err := disasm(w, t, t.Arch(), addr, n, cfg.thumb); err != nil {
		exitf("%v\n", err)
	}
}

// disasm writes n instructions starting at addr. On ARM an odd address
// selects Thumb, as does thumb.
func disasm(w io.Writer, mem unwind.MemoryReader, a *arch.Architecture, addr uint64, n int, thumb bool) error {
	switch a.Machine {
	case elf.EM_ARM:
		if addr&1 != 0 {
			thumb = true
			addr &^= 1
		}
	case elf.EM_AARCH64:
	default:
		return fmt.Errorf("%w: %s", crashstack.ErrUnsupportedArch, a)
	}
	var buf [4]byte
	for i := 0; i < n; i++ {
		var text string
		size := uint64(4)
		switch {
		case a.Machine == elf.EM_AARCH64:
			word, ok := mem.ReadWord(addr)
			if !ok {
				return unreadable(addr)
			}
			a.ByteOrder.PutUint32(buf[:], word)
			inst, err := arm64asm.Decode(buf[:])
			if err != nil {
				text = fmt.Sprintf(".word %#08x", word)
			} else {
				text = arm64asm.GNUSyntax(inst)
			}
		case thumb:
			in, ok := unwind.Decode(mem, addr, unwind.ModeThumb)
			if !ok {
				return unreadable(addr)
			}
			text, size = in.String(), uint64(in.Size)
		default:
			word, ok := mem.ReadWord(addr)
			if !ok {
				return unreadable(addr)
			}
			a.ByteOrder.PutUint32(buf[:], word)
			inst, err := armasm.Decode(buf[:], armasm.ModeARM)
			if err != nil {
				text = fmt.Sprintf(".word %#08x", word)
			} else {
				text = armasm.GNUSyntax(inst)
			}
		}
		fmt.Fprintf(w, "%s: %s\n", crashstack.FormatAddr(addr, a.PointerSize), text)
		addr += size
	}
	return nil
}

func unreadable(addr uint64) error {
	return fmt.Errorf("address %#x not readable", addr)
}
