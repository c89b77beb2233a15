// Copyright 2017 The Go Authors.  All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package core

import (
	"debug/elf"
	"strconv"

	"crashstack/arch"
	space "crashstack/core"
	"crashstack/unwind"
)

// A Thread represents an operating system thread.
type Thread struct {
	arch *arch.Architecture
	pid  uint64        // thread/process ID
	regs []uint64      // set depends on arch
	pc   space.Address // program counter
	sp   space.Address // stack pointer
}

func (t *Thread) Pid() uint64 {
	return t.pid
}

// Regs returns the set of register values for the thread, in the order
// of the architecture's elf_gregset_t.
func (t *Thread) Regs() []uint64 {
	return t.regs
}

func (t *Thread) PC() space.Address {
	return t.pc
}

func (t *Thread) SP() space.Address {
	return t.sp
}

// Snapshot returns the registers of an ARM or AArch64 thread in the form
// the unwinder seeds from. It reports false for other architectures.
func (t *Thread) Snapshot() (unwind.Snapshot, bool) {
	r := t.regs
	switch t.arch.Machine {
	case elf.EM_ARM:
		return unwind.Snapshot{
			R:   r[:13],
			SP:  r[13],
			LR:  r[14],
			PC:  r[15],
			PSR: r[16],
		}, true
	case elf.EM_AARCH64:
		return unwind.Snapshot{
			R:   r[:31],
			SP:  r[31],
			LR:  r[30],
			PC:  r[32],
			PSR: r[33],
		}, true
	}
	return unwind.Snapshot{}, false
}

// RegNames returns the names of the values returned by Regs.
func RegNames(a *arch.Architecture) []string {
	switch a.Machine {
	case elf.EM_ARM:
		return []string{"r0", "r1", "r2", "r3", "r4", "r5", "r6", "r7",
			"r8", "r9", "r10", "fp", "ip", "sp", "lr", "pc", "cpsr", "orig_r0"}
	case elf.EM_AARCH64:
		names := make([]string, 0, 34)
		for i := 0; i < 29; i++ {
			names = append(names, "x"+strconv.Itoa(i))
		}
		return append(names, "fp", "lr", "sp", "pc", "pstate")
	case elf.EM_X86_64:
		return []string{"r15", "r14", "r13", "r12", "rbp", "rbx", "r11", "r10",
			"r9", "r8", "rax", "rcx", "rdx", "rsi", "rdi", "orig_rax", "rip",
			"cs", "eflags", "rsp", "ss", "fs_base", "gs_base", "ds", "es", "fs", "gs"}
	case elf.EM_386:
		return []string{"ebx", "ecx", "edx", "esi", "edi", "ebp", "eax", "ds",
			"es", "fs", "gs", "orig_eax", "eip", "cs", "eflags", "esp", "ss"}
	}
	return nil
}
