// Copyright 2018 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package crashstack

import (
	"debug/elf"
	"fmt"

	"github.com/ianlancetaylor/demangle"

	"crashstack/unwind"
)

// A Frame is one recovered address.
type Frame struct {
	PC uint64 // as reported; on ARM bit 0 marks a Thumb return

	// Filled by Resolve.
	Func   string // demangled function name, "" if unknown
	Offset uint64 // PC - function entry
	Module string // base name of the mapped file, "" if unmapped
}

// A Report is the outcome of unwinding one thread.
type Report struct {
	Frames    []Frame
	Result    unwind.Result
	Reason    unwind.Reason // set when Result is Failure
	Mode      unwind.Mode   // instruction set at the last frame (ARM only)
	PtrSize   int
	Registers unwind.Snapshot
}

// Unwind recovers the call stack of t. ARM threads are interpreted;
// AArch64 threads follow their frame-pointer chain.
func Unwind(t Target, cfg unwind.Config) (*Report, error) {
	regs, err := t.Registers()
	if err != nil {
		return nil, err
	}
	a := t.Arch()
	r := &Report{PtrSize: a.PointerSize, Registers: regs}
	var cs *unwind.Callstack
	switch a.Machine {
	case elf.EM_ARM:
		s := unwind.NewSession(t, unwind.Seed(regs), nil, cfg)
		r.Result = s.Run()
		r.Mode = s.Mode()
		if r.Result == unwind.Failure {
			r.Reason = s.Reason()
		}
		cs = s.Callstack()
	case elf.EM_AARCH64:
		cs = unwind.NewCallstack(cfg.MaxFrames)
		r.Result = unwind.WalkFramePointers(t, regs.PC, regs.LR, regs.FP(), cs)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedArch, a)
	}
	for _, pc := range cs.Addrs() {
		r.Frames = append(r.Frames, Frame{PC: pc})
	}
	return r, nil
}

// Resolve fills the function and module of every frame of r. C++ names
// are demangled without their parameter lists.
func Resolve(t Target, r *Report) {
	for i := range r.Frames {
		f := &r.Frames[i]
		addr := f.PC
		if t.Arch().Machine == elf.EM_ARM {
			addr &^= 1
		}
		f.Module = t.Module(addr)
		s, err := t.Symbol(addr)
		if err != nil {
			continue
		}
		f.Func = demangle.Filter(s.Name, demangle.NoParams)
		f.Offset = s.Offset(addr)
		if f.Module == "" {
			f.Module = s.Module
		}
	}
}
