// Copyright 2018 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package crashstack

import (
	"bufio"
	"fmt"
	"io"
	"text/tabwriter"

	space "crashstack/core"
	"crashstack/unwind"
)

// PrintOptions select the optional sections of Print.
type PrintOptions struct {
	Registers bool
	Mappings  *space.Table // printed if not nil
}

// Print writes the call stack of r, one frame per line, followed by
// the unwinding status.
func Print(w io.Writer, r *Report, opts PrintOptions) error {
	b := bufio.NewWriter(w)
	if opts.Registers {
		PrintRegisters(b, r.Registers, r.PtrSize)
	}
	fmt.Fprintf(b, "Call stack:\n")
	for _, f := range r.Frames {
		fmt.Fprintf(b, "%s: ", FormatAddr(f.PC, r.PtrSize))
		if f.Module == "" {
			fmt.Fprintf(b, "unknown function\n")
			continue
		}
		if f.Func != "" {
			fmt.Fprintf(b, "%s()", f.Func)
		}
		fmt.Fprintf(b, " from %s\n", f.Module)
	}
	fmt.Fprintf(b, "Unwind: %s", r.Result)
	if r.Result == unwind.Failure {
		fmt.Fprintf(b, " (%s)", r.Reason)
	}
	fmt.Fprintf(b, ", %d frames\n", len(r.Frames))
	if opts.Mappings != nil {
		PrintMappings(b, opts.Mappings)
	}
	return b.Flush()
}

// FormatAddr formats addr zero-padded to the width of a pointer.
func FormatAddr(addr uint64, ptrSize int) string {
	if ptrSize > 4 {
		return fmt.Sprintf("0x%016x", addr)
	}
	return fmt.Sprintf("0x%08x", addr)
}

// PrintRegisters writes the registers of s.
func PrintRegisters(w io.Writer, s unwind.Snapshot, ptrSize int) {
	tw := tabwriter.NewWriter(w, 0, 8, 1, ' ', 0)
	psr := "cpsr"
	if ptrSize > 4 {
		psr = "pstate"
	}
	for i, v := range s.R {
		name := fmt.Sprintf("r%d", i)
		if ptrSize > 4 {
			name = fmt.Sprintf("x%d", i)
		}
		fmt.Fprintf(tw, "%s\t%s\n", name, FormatAddr(v, ptrSize))
	}
	fmt.Fprintf(tw, "sp\t%s\n", FormatAddr(s.SP, ptrSize))
	fmt.Fprintf(tw, "lr\t%s\n", FormatAddr(s.LR, ptrSize))
	fmt.Fprintf(tw, "pc\t%s\n", FormatAddr(s.PC, ptrSize))
	fmt.Fprintf(tw, "%s\t%s\n", psr, FormatAddr(s.PSR, ptrSize))
	tw.Flush()
}

// PrintMappings writes one line per mapping in the style of
// /proc/<pid>/maps.
func PrintMappings(w io.Writer, t *space.Table) {
	tw := tabwriter.NewWriter(w, 0, 8, 1, ' ', 0)
	for _, m := range t.Mappings() {
		name, off := m.Source()
		if m.CopyOnWrite() {
			name, off = m.OrigSource()
		}
		if !m.Backed() {
			name = "(no data)"
		}
		fmt.Fprintf(tw, "%x-%x\t%s\t%08x\t%s\n", uint64(m.Min()), uint64(m.Max()), m.Perm().Short(), off, name)
	}
	tw.Flush()
}
