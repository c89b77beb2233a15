// Copyright 2018 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package crashstack recovers and prints the call stack of a crashed
// or running ARM process.
//
// A Target is either a core file or a live process stopped with ptrace.
// Unwind seeds the interpreter from the target's registers and collects
// return addresses; Resolve names them and Print writes the report.
package crashstack

import (
	"errors"
	"fmt"

	"crashstack/arch"
	space "crashstack/core"
	"crashstack/internal/core"
	"crashstack/internal/symtab"
	"crashstack/unwind"
)

// ErrUnsupportedArch is returned for targets that cannot be unwound.
var ErrUnsupportedArch = errors.New("unsupported architecture")

// A Target is a stopped process whose stack can be recovered.
type Target interface {
	unwind.MemoryReader
	unwind.DwordReader

	// Registers returns the registers of the thread to unwind.
	Registers() (unwind.Snapshot, error)
	Mappings() *space.Table
	Arch() *arch.Architecture
	Symbol(addr uint64) (symtab.Symbol, error)
	Module(addr uint64) string
	Close() error
}

// A Core is a Target read from an ELF core file. The thread that
// received the fatal signal is unwound.
type Core struct {
	*core.Process
}

// OpenCore loads a core file. Files it mapped are found under base;
// exe, if not empty, is the main executable.
func OpenCore(path, base, exe string) (*Core, error) {
	p, err := core.Core(path, base, exe)
	if err != nil {
		return nil, err
	}
	return &Core{p}, nil
}

func (c *Core) Registers() (unwind.Snapshot, error) {
	t := c.Threads()[0]
	s, ok := t.Snapshot()
	if !ok {
		return unwind.Snapshot{}, fmt.Errorf("%w: %s", ErrUnsupportedArch, c.Arch())
	}
	return s, nil
}
