// Copyright 2018 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package unwind

import (
	"fmt"
	"math/bits"
	"strings"
)

// A Kind classifies an Instruction by its effect on the abstract state.
type Kind uint8

const (
	KindNop             Kind = iota // no tracked effect
	KindUnknown                     // may write any of r0-r12
	KindIllegal                     // undefined encoding
	KindMovImm                      // Rd = Imm
	KindMovReg                      // Rd = Rm
	KindALUImm                      // Rd = Rn Op Imm
	KindALUReg                      // Rd = Rn Op (Rm shifted)
	KindShiftImm                    // Rd = Rm shifted by ShiftN
	KindAddSP                       // SP += Off
	KindAddrSP                      // Rd = Rn + Off, Rn is SP or PC
	KindLoad                        // Rd = [address]
	KindStore                       // [address] = Rd
	KindLoadLiteral                 // Rd = [align(PC) + Off]
	KindPush                        // store Regs below SP, SP -= 4*n
	KindPop                         // load Regs from SP, SP += 4*n
	KindLoadMultiple                // load Regs from Rn
	KindStoreMultiple               // store Regs to Rn
	KindVPush                       // SP -= Imm
	KindVPop                        // SP += Imm
	KindBranch                      // PC = PC + Off
	KindCondBranch                  // conditional PC-relative branch
	KindCompareBranch               // CBZ/CBNZ
	KindBranchLink                  // call
	KindBranchExchange              // PC = Rm
	KindWriteInvalidate             // Regs are written with untracked values
)

var kindNames = [...]string{
	KindNop:             "nop",
	KindUnknown:         "unknown",
	KindIllegal:         "illegal",
	KindMovImm:          "mov-imm",
	KindMovReg:          "mov-reg",
	KindALUImm:          "alu-imm",
	KindALUReg:          "alu-reg",
	KindShiftImm:        "shift-imm",
	KindAddSP:           "add-sp",
	KindAddrSP:          "addr-sp",
	KindLoad:            "load",
	KindStore:           "store",
	KindLoadLiteral:     "load-literal",
	KindPush:            "push",
	KindPop:             "pop",
	KindLoadMultiple:    "load-multiple",
	KindStoreMultiple:   "store-multiple",
	KindVPush:           "vpush",
	KindVPop:            "vpop",
	KindBranch:          "branch",
	KindCondBranch:      "cond-branch",
	KindCompareBranch:   "compare-branch",
	KindBranchLink:      "branch-link",
	KindBranchExchange:  "branch-exchange",
	KindWriteInvalidate: "write-invalidate",
}

func (k Kind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

// An ALUOp is the operation of a data-processing instruction.
type ALUOp uint8

const (
	OpAdd ALUOp = iota
	OpSub
	OpRsb
	OpAnd
	OpOrr
	OpOrn
	OpEor
	OpBic
	OpMul
	OpLsl
	OpLsr
	OpAsr
	OpRor
	OpNeg
	OpMvn
	OpMovt
	OpAdc // carry is not tracked
	OpSbc // carry is not tracked
)

// A ShiftType is the shift applied to a register operand.
type ShiftType uint8

const (
	ShiftLSL ShiftType = iota
	ShiftLSR
	ShiftASR
	ShiftROR
)

// An IndexMode is the addressing mode of a single load or store.
type IndexMode uint8

const (
	IndexOffset IndexMode = iota // [Rn, off]
	IndexPre                     // [Rn, off]!
	IndexPost                    // [Rn], off
)

// An Instruction is a decoded ARM or Thumb instruction reduced to the
// operands that matter for unwinding.
type Instruction struct {
	Kind Kind
	Size uint32 // encoding length in bytes
	Cond bool   // executes under a condition other than AL

	Op     ALUOp
	Rd     uint8 // destination, or transfer register of a load/store
	Rn     uint8
	Rm     uint8
	Rt2    uint8 // second transfer register when Width is 8
	Imm    uint32
	Off    int32
	Shift  ShiftType
	ShiftN uint8

	// Single loads and stores.
	Width     uint8 // access size in bytes: 1, 2, 4, or 8 for a register pair
	Index     IndexMode
	RegOffset bool // offset is Rm shifted by ShiftN, subtracted if Sub
	Sub       bool

	// Load and store multiple.
	Regs      uint16
	Decrement bool
	Before    bool
	Writeback bool

	Link    bool  // BLX register form
	ITCount uint8 // number of instructions covered by an IT

	Text string
}

func (in *Instruction) String() string {
	if in.Text != "" {
		return in.Text
	}
	return in.Kind.String()
}

const callClobbered = 1<<0 | 1<<1 | 1<<2 | 1<<3 | 1<<12

// Writes returns the set of registers the instruction may write, as a
// bit mask indexed by register number.
func (in *Instruction) Writes() uint32 {
	switch in.Kind {
	case KindMovImm, KindMovReg, KindALUImm, KindALUReg, KindShiftImm, KindAddrSP, KindLoadLiteral:
		return 1 << in.Rd
	case KindLoad:
		m := uint32(1) << in.Rd
		if in.Width == 8 {
			m |= 1 << in.Rt2
		}
		if in.Index != IndexOffset {
			m |= 1 << in.Rn
		}
		return m
	case KindStore:
		if in.Index != IndexOffset {
			return 1 << in.Rn
		}
	case KindAddSP, KindVPush, KindVPop, KindPush:
		return 1 << SP
	case KindPop:
		return uint32(in.Regs) | 1<<SP
	case KindLoadMultiple:
		m := uint32(in.Regs)
		if in.Writeback {
			m |= 1 << in.Rn
		}
		return m
	case KindStoreMultiple:
		if in.Writeback {
			return 1 << in.Rn
		}
	case KindBranch, KindBranchExchange:
		return 1 << PC
	case KindBranchLink:
		return callClobbered | 1<<LR | 1<<PC
	case KindWriteInvalidate:
		return uint32(in.Regs)
	case KindUnknown:
		return 1<<SP - 1
	}
	return 0
}

// multipleStart returns the lowest address accessed by a load/store
// multiple of n registers based at base.
func (in *Instruction) multipleStart(base uint32, n int) uint32 {
	size := uint32(4 * n)
	switch {
	case in.Decrement && in.Before: // DB
		return base - size
	case in.Decrement: // DA
		return base - size + 4
	case in.Before: // IB
		return base + 4
	}
	return base // IA
}

func shift(v uint32, t ShiftType, n uint8) uint32 {
	if n == 0 {
		return v
	}
	switch t {
	case ShiftLSL:
		if n >= 32 {
			return 0
		}
		return v << n
	case ShiftLSR:
		if n >= 32 {
			return 0
		}
		return v >> n
	case ShiftASR:
		if n >= 32 {
			n = 31
		}
		return uint32(int32(v) >> n)
	case ShiftROR:
		return bits.RotateLeft32(v, -int(n%32))
	}
	return v
}

func popcount(list uint16) int {
	return bits.OnesCount16(list)
}

func regList(list uint16) string {
	var b strings.Builder
	b.WriteByte('{')
	sep := ""
	for r := 0; r < 16; r++ {
		if list&(1<<r) == 0 {
			continue
		}
		b.WriteString(sep)
		b.WriteString(RegName(r))
		sep = ", "
	}
	b.WriteByte('}')
	return b.String()
}

var shiftNames = [...]string{"lsl", "lsr", "asr", "ror"}

func (t ShiftType) String() string {
	if int(t) < len(shiftNames) {
		return shiftNames[t]
	}
	return fmt.Sprintf("Shift(%d)", int(t))
}

var opNames = [...]string{
	OpAdd:  "add",
	OpSub:  "sub",
	OpRsb:  "rsb",
	OpAnd:  "and",
	OpOrr:  "orr",
	OpOrn:  "orn",
	OpEor:  "eor",
	OpBic:  "bic",
	OpMul:  "mul",
	OpLsl:  "lsl",
	OpLsr:  "lsr",
	OpAsr:  "asr",
	OpRor:  "ror",
	OpNeg:  "neg",
	OpMvn:  "mvn",
	OpMovt: "movt",
	OpAdc:  "adc",
	OpSbc:  "sbc",
}

func (op ALUOp) String() string {
	if int(op) < len(opNames) {
		return opNames[op]
	}
	return fmt.Sprintf("ALUOp(%d)", int(op))
}
