// Copyright 2014 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package arch contains architecture-specific definitions.
package arch

import (
	"debug/elf"
	"encoding/binary"
	"errors"
	"fmt"
)

// ErrUnknown is returned for machines with no Architecture.
var ErrUnknown = errors.New("unknown architecture")

// Architecture defines the architecture-specific details for a given machine.
type Architecture struct {
	// Name is the GOARCH-style name of the architecture.
	Name string
	// Machine is the ELF machine type of core files for this architecture.
	Machine elf.Machine
	// PointerSize is the size of a pointer (and of a general register), in bytes.
	PointerSize int
	// ByteOrder is the byte order for ints and pointers.
	ByteOrder binary.ByteOrder
	// InstrAlign is the minimal alignment of an instruction address.
	// For ARM this is the Thumb alignment; ARM-mode code is 4-byte aligned.
	InstrAlign int
}

// Uintptr decodes a pointer-sized value from buf.
func (a *Architecture) Uintptr(buf []byte) uint64 {
	if len(buf) != a.PointerSize {
		panic("bad PointerSize")
	}
	switch a.PointerSize {
	case 4:
		return uint64(a.ByteOrder.Uint32(buf[:4]))
	case 8:
		return a.ByteOrder.Uint64(buf[:8])
	}
	panic("no PointerSize")
}

// WordMask returns the mask of a register-sized value.
func (a *Architecture) WordMask() uint64 {
	if a.PointerSize == 4 {
		return 1<<32 - 1
	}
	return 1<<64 - 1
}

func (a *Architecture) String() string {
	return a.Name
}

var AMD64 = Architecture{
	Name:        "amd64",
	Machine:     elf.EM_X86_64,
	PointerSize: 8,
	ByteOrder:   binary.LittleEndian,
	InstrAlign:  1,
}

var X86 = Architecture{
	Name:        "386",
	Machine:     elf.EM_386,
	PointerSize: 4,
	ByteOrder:   binary.LittleEndian,
	InstrAlign:  1,
}

var ARM = Architecture{
	Name:        "arm",
	Machine:     elf.EM_ARM,
	PointerSize: 4,
	ByteOrder:   binary.LittleEndian,
	InstrAlign:  2,
}

var ARM64 = Architecture{
	Name:        "arm64",
	Machine:     elf.EM_AARCH64,
	PointerSize: 8,
	ByteOrder:   binary.LittleEndian,
	InstrAlign:  4,
}

// ForMachine returns the architecture of ELF files for machine m.
func ForMachine(m elf.Machine) (*Architecture, error) {
	for _, a := range []*Architecture{&ARM, &ARM64, &AMD64, &X86} {
		if a.Machine == m {
			return a, nil
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrUnknown, m)
}

// ForName returns the architecture with the given GOARCH-style name.
func ForName(name string) (*Architecture, error) {
	for _, a := range []*Architecture{&ARM, &ARM64, &AMD64, &X86} {
		if a.Name == name {
			return a, nil
		}
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknown, name)
}
