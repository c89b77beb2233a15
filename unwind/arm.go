// Copyright 2018 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package unwind

import (
	"encoding/binary"
	"fmt"
	"strings"

	"golang.org/x/arch/arm/armasm"
)

const (
	condAL = 14
	condZZ = 15
)

// DecodeARM decodes the ARM-mode instruction word w.
func DecodeARM(w uint32) Instruction {
	in := decodeARM(w)
	in.Size = 4
	return in
}

func decodeARM(w uint32) Instruction {
	// VPUSH and VPOP are not known to armasm.
	switch {
	case w&0x0fbf0e00 == 0x0d2d0a00:
		n := (w & 0xff) * 4
		return Instruction{Kind: KindVPush, Imm: n, Cond: w>>28 != condAL && w>>28 != condZZ,
			Text: fmt.Sprintf("vpush #%d", n)}
	case w&0x0fbf0e00 == 0x0cbd0a00:
		n := (w & 0xff) * 4
		return Instruction{Kind: KindVPop, Imm: n, Cond: w>>28 != condAL && w>>28 != condZZ,
			Text: fmt.Sprintf("vpop #%d", n)}
	}

	var buf [4]byte
	binary.LittleEndian.PutUint32(buf[:], w)
	inst, err := armasm.Decode(buf[:], armasm.ModeARM)
	if err != nil {
		return Instruction{Kind: KindUnknown, Text: fmt.Sprintf("%#08x", w)}
	}
	in := armInstruction(inst)
	in.Text = inst.String()
	if base, ok := condFamily(inst.Op); ok && inst.Op-base != condAL && inst.Op-base != condZZ {
		in.Cond = true
		if in.Kind == KindBranch {
			in.Kind = KindCondBranch
		}
	}
	return in
}

// condFamily returns the EQ member of the sixteen condition variants op
// belongs to. Ops without condition variants report false.
func condFamily(op armasm.Op) (armasm.Op, bool) {
	base := op &^ 15
	return base, strings.HasSuffix(base.String(), ".EQ")
}

var armALUOps = map[armasm.Op]ALUOp{
	armasm.ADD_EQ: OpAdd, armasm.ADD_S_EQ: OpAdd,
	armasm.SUB_EQ: OpSub, armasm.SUB_S_EQ: OpSub,
	armasm.RSB_EQ: OpRsb, armasm.RSB_S_EQ: OpRsb,
	armasm.AND_EQ: OpAnd, armasm.AND_S_EQ: OpAnd,
	armasm.ORR_EQ: OpOrr, armasm.ORR_S_EQ: OpOrr,
	armasm.EOR_EQ: OpEor, armasm.EOR_S_EQ: OpEor,
	armasm.BIC_EQ: OpBic, armasm.BIC_S_EQ: OpBic,
	armasm.ADC_EQ: OpAdc, armasm.ADC_S_EQ: OpAdc,
	armasm.SBC_EQ: OpSbc, armasm.SBC_S_EQ: OpSbc,
	armasm.RSC_EQ: OpSbc, armasm.RSC_S_EQ: OpSbc,
}

var armShiftOps = map[armasm.Op]ShiftType{
	armasm.LSL_EQ: ShiftLSL, armasm.LSL_S_EQ: ShiftLSL,
	armasm.LSR_EQ: ShiftLSR, armasm.LSR_S_EQ: ShiftLSR,
	armasm.ASR_EQ: ShiftASR, armasm.ASR_S_EQ: ShiftASR,
	armasm.ROR_EQ: ShiftROR, armasm.ROR_S_EQ: ShiftROR,
}

var shiftOpALU = [...]ALUOp{ShiftLSL: OpLsl, ShiftLSR: OpLsr, ShiftASR: OpAsr, ShiftROR: OpRor}

// coreReg returns the core register number of a, if a is one.
func coreReg(a armasm.Arg) (uint8, bool) {
	r, ok := a.(armasm.Reg)
	if !ok || r > armasm.R15 {
		return 0, false
	}
	return uint8(r - armasm.R0), true
}

// immValue returns the value of an immediate operand.
func immValue(a armasm.Arg) (uint32, bool) {
	switch a := a.(type) {
	case armasm.Imm:
		return uint32(a), true
	case armasm.ImmAlt:
		return uint32(a.Imm()), true
	}
	return 0, false
}

// shiftedReg decodes a register operand with an optional constant shift
// into in. It reports false for register-shifted registers.
func shiftedReg(in *Instruction, a armasm.Arg) bool {
	switch a := a.(type) {
	case armasm.Reg:
		r, ok := coreReg(a)
		in.Rm = r
		return ok
	case armasm.RegShift:
		r, ok := coreReg(a.Reg)
		if !ok || a.Shift == armasm.RotateRightExt {
			return false
		}
		in.Rm, in.Shift, in.ShiftN = r, ShiftType(a.Shift), a.Count
		return true
	}
	return false
}

func invalidateArgs(args ...armasm.Arg) Instruction {
	var regs uint16
	for _, a := range args {
		if r, ok := coreReg(a); ok {
			regs |= 1 << r
		}
	}
	if regs == 0 {
		return Instruction{Kind: KindNop}
	}
	return Instruction{Kind: KindWriteInvalidate, Regs: regs}
}

func armInstruction(inst armasm.Inst) Instruction {
	args := inst.Args
	base, ok := condFamily(inst.Op)
	if !ok {
		base = inst.Op
	}
	if op, ok := armALUOps[base]; ok {
		return armDataProc(op, args)
	}
	if t, ok := armShiftOps[base]; ok {
		rd, _ := coreReg(args[0])
		rm, _ := coreReg(args[1])
		if n, ok := immValue(args[2]); ok {
			return Instruction{Kind: KindShiftImm, Rd: rd, Rm: rm, Shift: t, ShiftN: uint8(n)}
		}
		if rs, ok := coreReg(args[2]); ok {
			// The register form is LSL Rd, Rn, Rm: Rn shifted by Rm.
			return Instruction{Kind: KindALUReg, Op: shiftOpALU[t], Rd: rd, Rn: rm, Rm: rs}
		}
		return invalidateArgs(args[0])
	}

	switch base {
	case armasm.MOV_EQ, armasm.MOV_S_EQ:
		rd, _ := coreReg(args[0])
		if v, ok := immValue(args[1]); ok {
			return Instruction{Kind: KindMovImm, Rd: rd, Imm: v}
		}
		in := Instruction{Kind: KindMovReg, Rd: rd}
		if !shiftedReg(&in, args[1]) {
			return invalidateArgs(args[0])
		}
		return in

	case armasm.MVN_EQ, armasm.MVN_S_EQ:
		rd, _ := coreReg(args[0])
		if v, ok := immValue(args[1]); ok {
			return Instruction{Kind: KindMovImm, Rd: rd, Imm: ^v}
		}
		in := Instruction{Kind: KindALUReg, Op: OpMvn, Rd: rd}
		if !shiftedReg(&in, args[1]) {
			return invalidateArgs(args[0])
		}
		in.Rn = in.Rm
		return in

	case armasm.MOVW_EQ:
		rd, _ := coreReg(args[0])
		v, _ := immValue(args[1])
		return Instruction{Kind: KindMovImm, Rd: rd, Imm: v}

	case armasm.MOVT_EQ:
		rd, _ := coreReg(args[0])
		v, _ := immValue(args[1])
		return Instruction{Kind: KindALUImm, Op: OpMovt, Rd: rd, Rn: rd, Imm: v}

	case armasm.MUL_EQ, armasm.MUL_S_EQ:
		rd, _ := coreReg(args[0])
		rn, _ := coreReg(args[1])
		rm, _ := coreReg(args[2])
		return Instruction{Kind: KindALUReg, Op: OpMul, Rd: rd, Rn: rn, Rm: rm}

	case armasm.CMP_EQ, armasm.CMN_EQ, armasm.TST_EQ, armasm.TEQ_EQ,
		armasm.NOP_EQ, armasm.WFE_EQ, armasm.WFI_EQ, armasm.YIELD_EQ, armasm.SEV_EQ, armasm.DBG_EQ,
		armasm.VSTR_EQ, armasm.VLDR_EQ, armasm.VMSR_EQ, armasm.MSR_EQ:
		return Instruction{Kind: KindNop}

	case armasm.B_EQ:
		off, _ := args[0].(armasm.PCRel)
		return Instruction{Kind: KindBranch, Off: int32(off)}

	case armasm.BL_EQ:
		off, _ := args[0].(armasm.PCRel)
		return Instruction{Kind: KindBranchLink, Off: int32(off)}

	case armasm.BLX_EQ:
		if off, ok := args[0].(armasm.PCRel); ok {
			return Instruction{Kind: KindBranchLink, Off: int32(off)}
		}
		rm, _ := coreReg(args[0])
		return Instruction{Kind: KindBranchExchange, Rm: rm, Link: true}

	case armasm.BX_EQ:
		rm, _ := coreReg(args[0])
		return Instruction{Kind: KindBranchExchange, Rm: rm}

	case armasm.LDR_EQ:
		return armLoadStore(KindLoad, 4, args[:])
	case armasm.LDRB_EQ, armasm.LDRSB_EQ:
		return armLoadStore(KindLoad, 1, args[:])
	case armasm.LDRH_EQ, armasm.LDRSH_EQ:
		return armLoadStore(KindLoad, 2, args[:])
	case armasm.STR_EQ:
		return armLoadStore(KindStore, 4, args[:])
	case armasm.STRB_EQ:
		return armLoadStore(KindStore, 1, args[:])
	case armasm.STRH_EQ:
		return armLoadStore(KindStore, 2, args[:])

	case armasm.LDRD_EQ, armasm.STRD_EQ:
		kind := KindLoad
		if base == armasm.STRD_EQ {
			kind = KindStore
		}
		in := armLoadStore(kind, 8, []armasm.Arg{args[0], args[2]})
		switch in.Kind {
		case kind:
			in.Rt2, _ = coreReg(args[1])
		case KindWriteInvalidate:
			return invalidateArgs(args[0], args[1])
		}
		return in

	case armasm.PUSH_EQ:
		list, _ := args[0].(armasm.RegList)
		return Instruction{Kind: KindPush, Regs: uint16(list)}

	case armasm.POP_EQ:
		list, _ := args[0].(armasm.RegList)
		return Instruction{Kind: KindPop, Regs: uint16(list)}

	case armasm.LDM_EQ, armasm.LDMDA_EQ, armasm.LDMDB_EQ, armasm.LDMIB_EQ,
		armasm.STM_EQ, armasm.STMDA_EQ, armasm.STMDB_EQ, armasm.STMIB_EQ:
		return armMultiple(base, args)

	case armasm.SVC_EQ:
		return Instruction{Kind: KindWriteInvalidate, Regs: 1 << 0}
	}

	switch base {
	case armasm.SMULL_EQ, armasm.SMULL_S_EQ, armasm.UMULL_EQ, armasm.UMULL_S_EQ,
		armasm.SMLAL_EQ, armasm.SMLAL_S_EQ, armasm.UMLAL_EQ, armasm.UMLAL_S_EQ,
		armasm.UMAAL_EQ, armasm.LDREXD_EQ:
		return invalidateArgs(args[0], args[1])
	case armasm.STREX_EQ, armasm.STREXB_EQ, armasm.STREXH_EQ, armasm.STREXD_EQ:
		return invalidateArgs(args[0])
	case armasm.STRT_EQ, armasm.STRBT_EQ, armasm.STRHT_EQ:
		return Instruction{Kind: KindNop}
	}
	// Anything else that names a core register first writes it.
	return invalidateArgs(args[0])
}

func armDataProc(op ALUOp, args armasm.Args) Instruction {
	rd, _ := coreReg(args[0])
	rn, ok := coreReg(args[1])
	if !ok {
		return invalidateArgs(args[0])
	}
	if v, ok := immValue(args[2]); ok {
		if rd == SP && rn == SP && (op == OpAdd || op == OpSub) {
			off := int32(v)
			if op == OpSub {
				off = -off
			}
			return Instruction{Kind: KindAddSP, Off: off}
		}
		return Instruction{Kind: KindALUImm, Op: op, Rd: rd, Rn: rn, Imm: v}
	}
	in := Instruction{Kind: KindALUReg, Op: op, Rd: rd, Rn: rn}
	if !shiftedReg(&in, args[2]) {
		return invalidateArgs(args[0])
	}
	return in
}

func armLoadStore(kind Kind, width uint8, args []armasm.Arg) Instruction {
	rt, _ := coreReg(args[0])
	m, ok := args[1].(armasm.Mem)
	if !ok {
		if kind == KindLoad {
			return invalidateArgs(args[0])
		}
		return Instruction{Kind: KindNop}
	}
	base, _ := coreReg(m.Base)
	if base == PC && m.Mode == armasm.AddrOffset && m.Sign == 0 {
		if kind == KindLoad && width == 4 {
			return Instruction{Kind: KindLoadLiteral, Rd: rt, Off: int32(m.Offset), Width: 4}
		}
		if kind == KindLoad {
			return invalidateArgs(args[0])
		}
		return Instruction{Kind: KindNop}
	}
	in := Instruction{Kind: kind, Rd: rt, Rn: base, Width: width, Off: int32(m.Offset)}
	switch m.Mode {
	case armasm.AddrPreIndex:
		in.Index = IndexPre
	case armasm.AddrPostIndex:
		in.Index = IndexPost
	}
	if m.Sign != 0 {
		in.RegOffset = true
		in.Sub = m.Sign < 0
		in.Rm, _ = coreReg(m.Index)
		if m.Shift == armasm.RotateRightExt {
			if kind == KindLoad {
				return invalidateArgs(args[0], m.Base)
			}
			return Instruction{Kind: KindNop}
		}
		in.Shift, in.ShiftN = ShiftType(m.Shift), m.Count
	}
	return in
}

func armMultiple(base armasm.Op, args armasm.Args) Instruction {
	m, _ := args[0].(armasm.Mem)
	list, _ := args[1].(armasm.RegList)
	rn, _ := coreReg(m.Base)
	in := Instruction{Rn: rn, Regs: uint16(list), Writeback: m.Mode == armasm.AddrLDM_WB}
	load := false
	switch base {
	case armasm.LDM_EQ:
		load = true
	case armasm.LDMDA_EQ:
		load, in.Decrement = true, true
	case armasm.LDMDB_EQ:
		load, in.Decrement, in.Before = true, true, true
	case armasm.LDMIB_EQ:
		load, in.Before = true, true
	case armasm.STMDA_EQ:
		in.Decrement = true
	case armasm.STMDB_EQ:
		in.Decrement, in.Before = true, true
	case armasm.STMIB_EQ:
		in.Before = true
	}
	if load {
		if rn == SP && in.Writeback && !in.Decrement && !in.Before {
			return Instruction{Kind: KindPop, Regs: in.Regs}
		}
		if in.Regs&(1<<rn) != 0 {
			in.Writeback = false
		}
		in.Kind = KindLoadMultiple
		return in
	}
	if rn == SP && in.Writeback && in.Decrement && in.Before {
		return Instruction{Kind: KindPush, Regs: in.Regs}
	}
	in.Kind = KindStoreMultiple
	return in
}
