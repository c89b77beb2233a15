// Copyright 2018 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package unwind

import "fmt"

// Register numbers of the ARM register file.
const (
	SP      = 13
	LR      = 14
	PC      = 15
	SPSR    = 16
	NumRegs = 17
)

// thumbBit is the T bit of the CPSR/SPSR.
const thumbBit = 0x20

// A Register is the interpreter's belief about one architectural register.
type Register struct {
	Value  uint32
	Origin Origin
}

func (r Register) String() string {
	return fmt.Sprintf("%#08x (%s)", r.Value, r.Origin)
}

// A RegisterFile holds r0-r12, SP, LR, PC and SPSR.
type RegisterFile [NumRegs]Register

// Invalidate marks r0-r12 as Invalid. SP, LR, PC and SPSR are kept.
func (rf *RegisterFile) Invalidate() {
	for i := 0; i < SP; i++ {
		rf[i].Origin = Invalid
	}
}

// RegName returns the assembler name of register r.
func RegName(r int) string {
	switch r {
	case SP:
		return "sp"
	case LR:
		return "lr"
	case PC:
		return "pc"
	case SPSR:
		return "spsr"
	}
	return fmt.Sprintf("r%d", r)
}

// A Snapshot is a captured register set of a stopped thread.
// R holds the general registers in architectural order
// (r0-r12 on ARM, x0-x30 on AArch64).
type Snapshot struct {
	R   []uint64
	SP  uint64
	LR  uint64
	PC  uint64
	PSR uint64 // CPSR on ARM, PSTATE on AArch64
}

// FP returns the AArch64 frame pointer x29.
func (s *Snapshot) FP() uint64 {
	if len(s.R) > 29 {
		return s.R[29]
	}
	return 0
}

// Seed builds the initial register file from an ARM snapshot.
// General registers, SP, PC and SPSR are FromConst; LR is FromStack so that
// a leaf function returning through it is trusted.
func Seed(s Snapshot) RegisterFile {
	var rf RegisterFile
	for i := 0; i < SP; i++ {
		var v uint64
		if i < len(s.R) {
			v = s.R[i]
		}
		rf[i] = Register{uint32(v), FromConst}
	}
	rf[SP] = Register{uint32(s.SP), FromConst}
	rf[LR] = Register{uint32(s.LR), FromStack}
	rf[PC] = Register{uint32(s.PC), FromConst}
	rf[SPSR] = Register{uint32(s.PSR), FromConst}
	return rf
}

// IsThumb reports whether a branch to addr enters Thumb state, given the
// saved program status register spsr.
func IsThumb(addr, spsr uint32) bool {
	return addr&1 != 0 || spsr&thumbBit != 0
}
