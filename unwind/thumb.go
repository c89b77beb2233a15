// Copyright 2018 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package unwind

import (
	"fmt"
	"math/bits"
)

// IsThumb32 reports whether hw1 is the first halfword of a 32-bit
// Thumb instruction.
func IsThumb32(hw1 uint16) bool {
	return hw1&0xe000 == 0xe000 && hw1&0x1800 != 0
}

// DecodeThumb decodes the Thumb instruction starting with hw1. hw2 is the
// following halfword and is only used when IsThumb32(hw1).
func DecodeThumb(hw1, hw2 uint16) Instruction {
	if IsThumb32(hw1) {
		in := decodeThumb32(hw1, hw2)
		in.Size = 4
		return in
	}
	in := decodeThumb16(hw1)
	in.Size = 2
	return in
}

func reg4(n uint16) uint8 { return uint8(n & 0xf) }

func signExtend(v uint32, width uint) int32 {
	s := 32 - width
	return int32(v<<s) >> s
}

func decodeThumb16(x uint16) Instruction {
	switch {
	case x&0xf800 == 0x1800:
		// ADD/SUB register or 3-bit immediate.
		rd, rn, v := reg4(x&7), reg4(x>>3&7), x>>6&7
		op, name := OpAdd, "adds"
		if x&0x0200 != 0 {
			op, name = OpSub, "subs"
		}
		if x&0x0400 != 0 {
			return Instruction{Kind: KindALUImm, Op: op, Rd: rd, Rn: rn, Imm: uint32(v),
				Text: fmt.Sprintf("%s %s, %s, #%d", name, RegName(int(rd)), RegName(int(rn)), v)}
		}
		return Instruction{Kind: KindALUReg, Op: op, Rd: rd, Rn: rn, Rm: reg4(v),
			Text: fmt.Sprintf("%s %s, %s, %s", name, RegName(int(rd)), RegName(int(rn)), RegName(int(v)))}

	case x&0xe000 == 0x0000:
		// Shift by immediate.
		t, n, rm, rd := ShiftType(x>>11&3), uint8(x>>6&0x1f), reg4(x>>3&7), reg4(x&7)
		if t == ShiftLSL && n == 0 {
			return Instruction{Kind: KindMovReg, Rd: rd, Rm: rm,
				Text: fmt.Sprintf("movs %s, %s", RegName(int(rd)), RegName(int(rm)))}
		}
		if n == 0 {
			n = 32
		}
		return Instruction{Kind: KindShiftImm, Rd: rd, Rm: rm, Shift: t, ShiftN: n,
			Text: fmt.Sprintf("%ss %s, %s, #%d", t, RegName(int(rd)), RegName(int(rm)), n)}

	case x&0xe000 == 0x2000:
		// MOV/CMP/ADD/SUB 8-bit immediate.
		rd, imm := reg4(x>>8&7), uint32(x&0xff)
		switch x >> 11 & 3 {
		case 0:
			return Instruction{Kind: KindMovImm, Rd: rd, Imm: imm,
				Text: fmt.Sprintf("movs %s, #%d", RegName(int(rd)), imm)}
		case 1:
			return Instruction{Kind: KindNop, Text: fmt.Sprintf("cmp %s, #%d", RegName(int(rd)), imm)}
		case 2:
			return Instruction{Kind: KindALUImm, Op: OpAdd, Rd: rd, Rn: rd, Imm: imm,
				Text: fmt.Sprintf("adds %s, #%d", RegName(int(rd)), imm)}
		default:
			return Instruction{Kind: KindALUImm, Op: OpSub, Rd: rd, Rn: rd, Imm: imm,
				Text: fmt.Sprintf("subs %s, #%d", RegName(int(rd)), imm)}
		}

	case x&0xfc00 == 0x4000:
		return decodeThumbDataProc(x)

	case x&0xfc00 == 0x4400:
		// High register operations and branch exchange.
		rm, rd := reg4(x>>3&0xf), reg4(x&7|x>>4&8)
		switch x >> 8 & 3 {
		case 0:
			return Instruction{Kind: KindALUReg, Op: OpAdd, Rd: rd, Rn: rd, Rm: rm,
				Text: fmt.Sprintf("add %s, %s", RegName(int(rd)), RegName(int(rm)))}
		case 1:
			return Instruction{Kind: KindNop, Text: fmt.Sprintf("cmp %s, %s", RegName(int(rd)), RegName(int(rm)))}
		case 2:
			return Instruction{Kind: KindMovReg, Rd: rd, Rm: rm,
				Text: fmt.Sprintf("mov %s, %s", RegName(int(rd)), RegName(int(rm)))}
		default:
			in := Instruction{Kind: KindBranchExchange, Rm: rm, Link: x&0x80 != 0}
			if in.Link {
				in.Text = "blx " + RegName(int(rm))
			} else {
				in.Text = "bx " + RegName(int(rm))
			}
			return in
		}

	case x&0xf800 == 0x4800:
		rd, off := reg4(x>>8&7), int32(x&0xff)<<2
		return Instruction{Kind: KindLoadLiteral, Rd: rd, Off: off, Width: 4,
			Text: fmt.Sprintf("ldr %s, [pc, #%d]", RegName(int(rd)), off)}

	case x&0xf000 == 0x5000:
		// Load/store with register offset.
		rm, rn, rt := reg4(x>>6&7), reg4(x>>3&7), reg4(x&7)
		names := [...]string{"str", "strh", "strb", "ldrsb", "ldr", "ldrh", "ldrb", "ldrsh"}
		widths := [...]uint8{4, 2, 1, 1, 4, 2, 1, 2}
		op := x >> 9 & 7
		in := Instruction{Kind: KindLoad, Rd: rt, Rn: rn, Rm: rm, RegOffset: true, Width: widths[op],
			Text: fmt.Sprintf("%s %s, [%s, %s]", names[op], RegName(int(rt)), RegName(int(rn)), RegName(int(rm)))}
		if op < 3 {
			in.Kind = KindStore
		}
		return in

	case x&0xe000 == 0x6000:
		// LDR/STR/LDRB/STRB with 5-bit immediate.
		rt, rn, imm := reg4(x&7), reg4(x>>3&7), int32(x>>6&0x1f)
		in := Instruction{Kind: KindStore, Rd: rt, Rn: rn, Width: 4, Off: imm << 2}
		name := "str"
		if x&0x1000 != 0 {
			in.Width, in.Off, name = 1, imm, "strb"
		}
		if x&0x0800 != 0 {
			in.Kind, name = KindLoad, "ldr"+name[3:]
		}
		in.Text = fmt.Sprintf("%s %s, [%s, #%d]", name, RegName(int(rt)), RegName(int(rn)), in.Off)
		return in

	case x&0xf000 == 0x8000:
		rt, rn, off := reg4(x&7), reg4(x>>3&7), int32(x>>6&0x1f)<<1
		in := Instruction{Kind: KindStore, Rd: rt, Rn: rn, Width: 2, Off: off}
		name := "strh"
		if x&0x0800 != 0 {
			in.Kind, name = KindLoad, "ldrh"
		}
		in.Text = fmt.Sprintf("%s %s, [%s, #%d]", name, RegName(int(rt)), RegName(int(rn)), off)
		return in

	case x&0xf000 == 0x9000:
		// SP-relative load/store.
		rt, off := reg4(x>>8&7), int32(x&0xff)<<2
		in := Instruction{Kind: KindStore, Rd: rt, Rn: SP, Width: 4, Off: off}
		name := "str"
		if x&0x0800 != 0 {
			in.Kind, name = KindLoad, "ldr"
		}
		in.Text = fmt.Sprintf("%s %s, [sp, #%d]", name, RegName(int(rt)), off)
		return in

	case x&0xf000 == 0xa000:
		rd, off := reg4(x>>8&7), int32(x&0xff)<<2
		base := uint8(PC)
		if x&0x0800 != 0 {
			base = SP
		}
		return Instruction{Kind: KindAddrSP, Rd: rd, Rn: base, Off: off,
			Text: fmt.Sprintf("add %s, %s, #%d", RegName(int(rd)), RegName(int(base)), off)}

	case x&0xff00 == 0xb000:
		off := int32(x&0x7f) << 2
		if x&0x80 != 0 {
			return Instruction{Kind: KindAddSP, Off: -off, Text: fmt.Sprintf("sub sp, #%d", off)}
		}
		return Instruction{Kind: KindAddSP, Off: off, Text: fmt.Sprintf("add sp, #%d", off)}

	case x&0xf500 == 0xb100:
		name := "cbz"
		if x&0x0800 != 0 {
			name = "cbnz"
		}
		off := int32(x>>9&1)<<6 | int32(x>>3&0x1f)<<1
		return Instruction{Kind: KindCompareBranch, Rn: reg4(x & 7), Off: off,
			Text: fmt.Sprintf("%s %s, pc%+d", name, RegName(int(x&7)), off+4)}

	case x&0xf600 == 0xb400:
		list := x & 0xff
		if x&0x0800 != 0 {
			if x&0x0100 != 0 {
				list |= 1 << PC
			}
			return Instruction{Kind: KindPop, Regs: list, Text: "pop " + regList(list)}
		}
		if x&0x0100 != 0 {
			list |= 1 << LR
		}
		return Instruction{Kind: KindPush, Regs: list, Text: "push " + regList(list)}

	case x&0xff00 == 0xb200, x&0xff00 == 0xba00:
		// Extend and byte reverse.
		rd := reg4(x & 7)
		return Instruction{Kind: KindWriteInvalidate, Regs: 1 << rd,
			Text: fmt.Sprintf("%#04x ; writes %s", x, RegName(int(rd)))}

	case x&0xff00 == 0xbf00:
		if mask := x & 0xf; mask != 0 {
			n := 4 - bits.TrailingZeros16(mask)
			return Instruction{Kind: KindNop, ITCount: uint8(n), Text: "it"}
		}
		return Instruction{Kind: KindNop, Text: "nop"}

	case x&0xf000 == 0xb000:
		// BKPT, CPS, SETEND.
		return Instruction{Kind: KindNop, Text: fmt.Sprintf("%#04x", x)}

	case x&0xf000 == 0xc000:
		rn, list := reg4(x>>8&7), x&0xff
		if x&0x0800 != 0 {
			return Instruction{Kind: KindLoadMultiple, Rn: rn, Regs: list, Writeback: list&(1<<rn) == 0,
				Text: fmt.Sprintf("ldmia %s!, %s", RegName(int(rn)), regList(list))}
		}
		return Instruction{Kind: KindStoreMultiple, Rn: rn, Regs: list, Writeback: true,
			Text: fmt.Sprintf("stmia %s!, %s", RegName(int(rn)), regList(list))}

	case x&0xf000 == 0xd000:
		switch cond := x >> 8 & 0xf; cond {
		case 0xe:
			return Instruction{Kind: KindIllegal, Text: "udf"}
		case 0xf:
			return Instruction{Kind: KindWriteInvalidate, Regs: 1 << 0, Text: fmt.Sprintf("svc #%d", x&0xff)}
		default:
			off := signExtend(uint32(x&0xff)<<1, 9)
			return Instruction{Kind: KindCondBranch, Off: off, Text: fmt.Sprintf("b%s pc%+d", condNames[cond], off+4)}
		}

	case x&0xf800 == 0xe000:
		off := signExtend(uint32(x&0x7ff)<<1, 12)
		return Instruction{Kind: KindBranch, Off: off, Text: fmt.Sprintf("b pc%+d", off+4)}
	}
	return Instruction{Kind: KindUnknown, Text: fmt.Sprintf("%#04x", x)}
}

var condNames = [...]string{"eq", "ne", "cs", "cc", "mi", "pl", "vs", "vc", "hi", "ls", "ge", "lt", "gt", "le", "", ""}

var thumbDataProcOps = [16]struct {
	name string
	op   ALUOp
}{
	{"ands", OpAnd}, {"eors", OpEor}, {"lsls", OpLsl}, {"lsrs", OpLsr},
	{"asrs", OpAsr}, {"adcs", OpAdc}, {"sbcs", OpSbc}, {"rors", OpRor},
	{"tst", 0}, {"negs", OpNeg}, {"cmp", 0}, {"cmn", 0},
	{"orrs", OpOrr}, {"muls", OpMul}, {"bics", OpBic}, {"mvns", OpMvn},
}

func decodeThumbDataProc(x uint16) Instruction {
	op, rm, rd := x>>6&0xf, reg4(x>>3&7), reg4(x&7)
	d := thumbDataProcOps[op]
	text := fmt.Sprintf("%s %s, %s", d.name, RegName(int(rd)), RegName(int(rm)))
	switch op {
	case 8, 10, 11:
		return Instruction{Kind: KindNop, Text: text}
	case 9, 15:
		return Instruction{Kind: KindALUReg, Op: d.op, Rd: rd, Rn: rm, Rm: rm, Text: text}
	}
	return Instruction{Kind: KindALUReg, Op: d.op, Rd: rd, Rn: rd, Rm: rm, Text: text}
}

func decodeThumb32(hw1, hw2 uint16) Instruction {
	switch {
	case hw1&0xfe40 == 0xe800:
		return decodeThumbMultiple(hw1, hw2)
	case hw1&0xfe40 == 0xe840:
		return decodeThumbDual(hw1, hw2)
	case hw1&0xfe00 == 0xea00:
		return decodeThumbShiftedReg(hw1, hw2)
	case hw1&0xec00 == 0xec00:
		return decodeThumbCoproc(hw1, hw2)
	case hw1&0xf800 == 0xf000 && hw2&0x8000 != 0:
		return decodeThumbBranch(hw1, hw2)
	case hw1&0xfa00 == 0xf000:
		return decodeThumbModImm(hw1, hw2)
	case hw1&0xfa00 == 0xf200:
		return decodeThumbPlainImm(hw1, hw2)
	case hw1&0xff10 == 0xf800:
		return decodeThumbStore(hw1, hw2)
	case hw1&0xff70 == 0xf850:
		return decodeThumbLoad(hw1, hw2, 4, "ldr")
	case hw1&0xfe10 == 0xf810:
		switch hw1 >> 5 & 3 {
		case 0:
			if reg4(hw2>>12) == PC {
				return Instruction{Kind: KindNop, Text: "pld"}
			}
			return decodeThumbLoad(hw1, hw2, 1, "ldrb")
		case 1:
			if reg4(hw2>>12) == PC {
				return Instruction{Kind: KindNop, Text: "pld"}
			}
			return decodeThumbLoad(hw1, hw2, 2, "ldrh")
		}
	case hw1&0xff00 == 0xfa00, hw1&0xff80 == 0xfb00:
		rd := reg4(hw2 >> 8)
		return Instruction{Kind: KindWriteInvalidate, Regs: 1 << rd,
			Text: fmt.Sprintf("%#04x %#04x ; writes %s", hw1, hw2, RegName(int(rd)))}
	case hw1&0xff80 == 0xfb80:
		var regs uint16
		if op1 := hw1 >> 4 & 7; op1 == 1 || op1 == 3 {
			regs = 1 << reg4(hw2>>8)
		} else {
			regs = 1<<reg4(hw2>>12) | 1<<reg4(hw2>>8)
		}
		return Instruction{Kind: KindWriteInvalidate, Regs: regs,
			Text: fmt.Sprintf("%#04x %#04x ; writes %s", hw1, hw2, regList(regs))}
	}
	return Instruction{Kind: KindUnknown, Text: fmt.Sprintf("%#04x %#04x", hw1, hw2)}
}

func decodeThumbMultiple(hw1, hw2 uint16) Instruction {
	rn, list := reg4(hw1), hw2
	wb, load := hw1&0x20 != 0, hw1&0x10 != 0
	suffix := ""
	if wb {
		suffix = "!"
	}
	switch hw1 >> 7 & 3 {
	case 1:
		if load {
			if rn == SP && wb {
				return Instruction{Kind: KindPop, Regs: list, Text: "pop.w " + regList(list)}
			}
			return Instruction{Kind: KindLoadMultiple, Rn: rn, Regs: list, Writeback: wb && list&(1<<rn) == 0,
				Text: fmt.Sprintf("ldmia.w %s%s, %s", RegName(int(rn)), suffix, regList(list))}
		}
		return Instruction{Kind: KindStoreMultiple, Rn: rn, Regs: list, Writeback: wb,
			Text: fmt.Sprintf("stmia.w %s%s, %s", RegName(int(rn)), suffix, regList(list))}
	case 2:
		if !load {
			if rn == SP && wb {
				return Instruction{Kind: KindPush, Regs: list, Text: "push.w " + regList(list)}
			}
			return Instruction{Kind: KindStoreMultiple, Rn: rn, Regs: list, Writeback: wb,
				Decrement: true, Before: true,
				Text: fmt.Sprintf("stmdb %s%s, %s", RegName(int(rn)), suffix, regList(list))}
		}
		return Instruction{Kind: KindLoadMultiple, Rn: rn, Regs: list, Writeback: wb && list&(1<<rn) == 0,
			Decrement: true, Before: true,
			Text: fmt.Sprintf("ldmdb %s%s, %s", RegName(int(rn)), suffix, regList(list))}
	}
	// SRS and RFE.
	return Instruction{Kind: KindUnknown, Text: fmt.Sprintf("%#04x %#04x", hw1, hw2)}
}

func decodeThumbDual(hw1, hw2 uint16) Instruction {
	rn, rt, rt2 := reg4(hw1), reg4(hw2>>12), reg4(hw2>>8)
	load := hw1&0x10 != 0
	if hw1&0x0120 == 0 {
		// Exclusives and table branches.
		switch {
		case hw1&0xfff0 == 0xe8d0 && hw2&0xffe0 == 0xf000:
			return Instruction{Kind: KindCondBranch, Text: fmt.Sprintf("tb%c [%s, %s]", "bh"[hw2>>4&1], RegName(int(rn)), RegName(int(hw2&0xf)))}
		case load:
			regs := uint16(1) << rt
			if hw1&0xfff0 == 0xe8d0 && rt2 != PC {
				regs |= 1 << rt2
			}
			return Instruction{Kind: KindWriteInvalidate, Regs: regs, Text: "ldrex " + regList(regs)}
		case hw1&0xfff0 == 0xe840:
			rd := rt2
			return Instruction{Kind: KindWriteInvalidate, Regs: 1 << rd, Text: "strex " + RegName(int(rd))}
		default:
			rd := reg4(hw2)
			return Instruction{Kind: KindWriteInvalidate, Regs: 1 << rd, Text: "strex " + RegName(int(rd))}
		}
	}
	if load && rn == PC {
		regs := uint16(1)<<rt | 1<<rt2
		return Instruction{Kind: KindWriteInvalidate, Regs: regs, Text: "ldrd " + regList(regs)}
	}
	off := int32(hw2&0xff) << 2
	if hw1&0x80 == 0 {
		off = -off
	}
	in := Instruction{Kind: KindStore, Rd: rt, Rt2: rt2, Rn: rn, Width: 8, Off: off}
	name := "strd"
	if load {
		in.Kind, name = KindLoad, "ldrd"
	}
	in.Index = indexMode(hw1&0x100 != 0, hw1&0x20 != 0)
	in.Text = fmt.Sprintf("%s %s, %s, %s", name, RegName(int(rt)), RegName(int(rt2)), memText(&in))
	return in
}

func indexMode(p, w bool) IndexMode {
	switch {
	case p && w:
		return IndexPre
	case p:
		return IndexOffset
	}
	return IndexPost
}

func memText(in *Instruction) string {
	off := fmt.Sprintf("#%d", in.Off)
	if in.RegOffset {
		sign := ""
		if in.Sub {
			sign = "-"
		}
		off = sign + RegName(int(in.Rm))
		if in.ShiftN != 0 {
			off += fmt.Sprintf(", %s #%d", in.Shift, in.ShiftN)
		}
	}
	base := RegName(int(in.Rn))
	switch in.Index {
	case IndexPre:
		return fmt.Sprintf("[%s, %s]!", base, off)
	case IndexPost:
		return fmt.Sprintf("[%s], %s", base, off)
	}
	if !in.RegOffset && in.Off == 0 {
		return "[" + base + "]"
	}
	return fmt.Sprintf("[%s, %s]", base, off)
}

var thumbALUOps = [16]struct {
	name string
	op   ALUOp
	ok   bool
}{
	0:  {"and", OpAnd, true},
	1:  {"bic", OpBic, true},
	2:  {"orr", OpOrr, true},
	3:  {"orn", OpOrn, true},
	4:  {"eor", OpEor, true},
	8:  {"add", OpAdd, true},
	10: {"adc", OpAdc, true},
	11: {"sbc", OpSbc, true},
	13: {"sub", OpSub, true},
	14: {"rsb", OpRsb, true},
}

// compareForm reports whether op becomes TST, TEQ, CMN or CMP when Rd is PC.
func compareForm(op uint16) bool {
	return op == 0 || op == 4 || op == 8 || op == 13
}

func decodeThumbShiftedReg(hw1, hw2 uint16) Instruction {
	op, rn, rd, rm := hw1>>5&0xf, reg4(hw1), reg4(hw2>>8), reg4(hw2)
	setFlags := hw1&0x10 != 0
	t := ShiftType(hw2 >> 4 & 3)
	n := uint8(hw2>>12&7)<<2 | uint8(hw2>>6&3)
	if (t == ShiftLSR || t == ShiftASR) && n == 0 {
		n = 32
	}
	text := fmt.Sprintf("%#04x %#04x", hw1, hw2)
	if rd == PC && compareForm(op) {
		if setFlags {
			return Instruction{Kind: KindNop, Text: text}
		}
		return Instruction{Kind: KindIllegal, Text: text}
	}
	switch {
	case op == 2 && rn == PC:
		if t == ShiftROR && n == 0 {
			return Instruction{Kind: KindWriteInvalidate, Regs: 1 << rd, Text: "rrx " + RegName(int(rd))}
		}
		if n == 0 {
			return Instruction{Kind: KindMovReg, Rd: rd, Rm: rm,
				Text: fmt.Sprintf("mov.w %s, %s", RegName(int(rd)), RegName(int(rm)))}
		}
		return Instruction{Kind: KindShiftImm, Rd: rd, Rm: rm, Shift: t, ShiftN: n,
			Text: fmt.Sprintf("%s.w %s, %s, #%d", t, RegName(int(rd)), RegName(int(rm)), n)}
	case op == 3 && rn == PC:
		return Instruction{Kind: KindALUReg, Op: OpMvn, Rd: rd, Rn: rm, Rm: rm, Shift: t, ShiftN: n,
			Text: fmt.Sprintf("mvn.w %s, %s", RegName(int(rd)), RegName(int(rm)))}
	case op == 6:
		return Instruction{Kind: KindWriteInvalidate, Regs: 1 << rd, Text: "pkh " + RegName(int(rd))}
	}
	d := thumbALUOps[op]
	if !d.ok {
		return Instruction{Kind: KindUnknown, Text: text}
	}
	return Instruction{Kind: KindALUReg, Op: d.op, Rd: rd, Rn: rn, Rm: rm, Shift: t, ShiftN: n,
		Text: fmt.Sprintf("%s.w %s, %s, %s", d.name, RegName(int(rd)), RegName(int(rn)), RegName(int(rm)))}
}

// thumbExpandImm expands the modified immediate constant of a 32-bit
// Thumb data-processing instruction.
func thumbExpandImm(imm12 uint32) uint32 {
	if imm12>>10 == 0 {
		b := imm12 & 0xff
		switch imm12 >> 8 & 3 {
		case 0:
			return b
		case 1:
			return b<<16 | b
		case 2:
			return b<<24 | b<<8
		default:
			return b * 0x01010101
		}
	}
	v := 0x80 | imm12&0x7f
	return bits.RotateLeft32(v, -int(imm12>>7))
}

func decodeThumbModImm(hw1, hw2 uint16) Instruction {
	op, rn, rd := hw1>>5&0xf, reg4(hw1), reg4(hw2>>8)
	setFlags := hw1&0x10 != 0
	imm := thumbExpandImm(uint32(hw1>>10&1)<<11 | uint32(hw2>>12&7)<<8 | uint32(hw2&0xff))
	text := fmt.Sprintf("%#04x %#04x", hw1, hw2)
	if rd == PC && compareForm(op) {
		if setFlags {
			return Instruction{Kind: KindNop, Text: text}
		}
		return Instruction{Kind: KindIllegal, Text: text}
	}
	switch {
	case op == 2 && rn == PC:
		return Instruction{Kind: KindMovImm, Rd: rd, Imm: imm,
			Text: fmt.Sprintf("mov.w %s, #%#x", RegName(int(rd)), imm)}
	case op == 3 && rn == PC:
		return Instruction{Kind: KindMovImm, Rd: rd, Imm: ^imm,
			Text: fmt.Sprintf("mvn.w %s, #%#x", RegName(int(rd)), imm)}
	case (op == 8 || op == 13) && rd == SP && rn == SP:
		if op == 13 {
			return Instruction{Kind: KindAddSP, Off: -int32(imm), Text: fmt.Sprintf("sub.w sp, sp, #%d", imm)}
		}
		return Instruction{Kind: KindAddSP, Off: int32(imm), Text: fmt.Sprintf("add.w sp, sp, #%d", imm)}
	}
	d := thumbALUOps[op]
	if !d.ok {
		return Instruction{Kind: KindIllegal, Text: text}
	}
	return Instruction{Kind: KindALUImm, Op: d.op, Rd: rd, Rn: rn, Imm: imm,
		Text: fmt.Sprintf("%s.w %s, %s, #%#x", d.name, RegName(int(rd)), RegName(int(rn)), imm)}
}

func decodeThumbPlainImm(hw1, hw2 uint16) Instruction {
	rn, rd := reg4(hw1), reg4(hw2>>8)
	imm12 := uint32(hw1>>10&1)<<11 | uint32(hw2>>12&7)<<8 | uint32(hw2&0xff)
	switch op := hw1 >> 4 & 0x1f; op {
	case 0x00, 0x0a:
		off, name := int32(imm12), "addw"
		if op == 0x0a {
			off, name = -off, "subw"
		}
		switch {
		case rn == PC:
			return Instruction{Kind: KindAddrSP, Rd: rd, Rn: PC, Off: off,
				Text: fmt.Sprintf("adr.w %s, pc%+d", RegName(int(rd)), off)}
		case rn == SP && rd == SP:
			return Instruction{Kind: KindAddSP, Off: off, Text: fmt.Sprintf("%s sp, sp, #%d", name, imm12)}
		}
		alu := OpAdd
		if op == 0x0a {
			alu = OpSub
		}
		return Instruction{Kind: KindALUImm, Op: alu, Rd: rd, Rn: rn, Imm: imm12,
			Text: fmt.Sprintf("%s %s, %s, #%d", name, RegName(int(rd)), RegName(int(rn)), imm12)}
	case 0x04:
		imm := uint32(hw1&0xf)<<12 | imm12
		return Instruction{Kind: KindMovImm, Rd: rd, Imm: imm,
			Text: fmt.Sprintf("movw %s, #%#x", RegName(int(rd)), imm)}
	case 0x0c:
		imm := uint32(hw1&0xf)<<12 | imm12
		return Instruction{Kind: KindALUImm, Op: OpMovt, Rd: rd, Rn: rd, Imm: imm,
			Text: fmt.Sprintf("movt %s, #%#x", RegName(int(rd)), imm)}
	}
	// Bit field and saturation.
	return Instruction{Kind: KindWriteInvalidate, Regs: 1 << rd,
		Text: fmt.Sprintf("%#04x %#04x ; writes %s", hw1, hw2, RegName(int(rd)))}
}

// thumbAddressing decodes the addressing mode shared by the 32-bit
// single load and store encodings into in.
func thumbAddressing(in *Instruction, hw1, hw2 uint16) bool {
	in.Rn = reg4(hw1)
	switch {
	case hw1&0x80 != 0:
		in.Off = int32(hw2 & 0xfff)
	case hw2&0x800 != 0:
		p, u, w := hw2&0x400 != 0, hw2&0x200 != 0, hw2&0x100 != 0
		if !p && !w {
			return false
		}
		in.Off = int32(hw2 & 0xff)
		if !u {
			in.Off = -in.Off
		}
		in.Index = indexMode(p, w)
	case hw2&0xfc0 == 0:
		in.RegOffset = true
		in.Rm = reg4(hw2)
		in.Shift = ShiftLSL
		in.ShiftN = uint8(hw2 >> 4 & 3)
	default:
		return false
	}
	return true
}

func decodeThumbLoad(hw1, hw2 uint16, width uint8, name string) Instruction {
	rt := reg4(hw2 >> 12)
	if reg4(hw1) == PC {
		off := int32(hw2 & 0xfff)
		if hw1&0x80 == 0 {
			off = -off
		}
		if width != 4 {
			return Instruction{Kind: KindWriteInvalidate, Regs: 1 << rt,
				Text: fmt.Sprintf("%s %s, [pc, #%d]", name, RegName(int(rt)), off)}
		}
		return Instruction{Kind: KindLoadLiteral, Rd: rt, Off: off, Width: 4,
			Text: fmt.Sprintf("ldr.w %s, [pc, #%d]", RegName(int(rt)), off)}
	}
	in := Instruction{Kind: KindLoad, Rd: rt, Width: width}
	if !thumbAddressing(&in, hw1, hw2) {
		return Instruction{Kind: KindUnknown, Text: fmt.Sprintf("%#04x %#04x", hw1, hw2)}
	}
	if in.Rn == SP && in.Index == IndexPost && in.Off == 4 && width == 4 {
		in.Text = "pop.w {" + RegName(int(rt)) + "}"
		return in
	}
	in.Text = fmt.Sprintf("%s.w %s, %s", name, RegName(int(rt)), memText(&in))
	return in
}

func decodeThumbStore(hw1, hw2 uint16) Instruction {
	names := [...]string{"strb", "strh", "str"}
	size := hw1 >> 5 & 3
	if size == 3 {
		return Instruction{Kind: KindIllegal, Text: fmt.Sprintf("%#04x %#04x", hw1, hw2)}
	}
	rt := reg4(hw2 >> 12)
	in := Instruction{Kind: KindStore, Rd: rt, Width: 1 << size}
	if !thumbAddressing(&in, hw1, hw2) || in.Rn == PC {
		return Instruction{Kind: KindIllegal, Text: fmt.Sprintf("%#04x %#04x", hw1, hw2)}
	}
	if in.Rn == SP && in.Index == IndexPre && in.Off == -4 && size == 2 {
		in.Text = "push.w {" + RegName(int(rt)) + "}"
		return in
	}
	in.Text = fmt.Sprintf("%s.w %s, %s", names[size], RegName(int(rt)), memText(&in))
	return in
}

func decodeThumbCoproc(hw1, hw2 uint16) Instruction {
	switch {
	case hw1&0xffbf == 0xed2d && hw2&0x0e00 == 0x0a00:
		n := uint32(hw2&0xff) * 4
		return Instruction{Kind: KindVPush, Imm: n, Text: fmt.Sprintf("vpush #%d", n)}
	case hw1&0xffbf == 0xecbd && hw2&0x0e00 == 0x0a00:
		n := uint32(hw2&0xff) * 4
		return Instruction{Kind: KindVPop, Imm: n, Text: fmt.Sprintf("vpop #%d", n)}
	case hw1&0xff10 == 0xee10 && hw2&0x10 != 0:
		// MRC and VMOV to a core register.
		if rt := reg4(hw2 >> 12); rt != PC {
			return Instruction{Kind: KindWriteInvalidate, Regs: 1 << rt, Text: "vmov " + RegName(int(rt))}
		}
	case hw1&0xffe0 == 0xec50:
		// MRRC and VMOV to two core registers.
		regs := uint16(1)<<reg4(hw2>>12) | 1<<reg4(hw1)
		return Instruction{Kind: KindWriteInvalidate, Regs: regs, Text: "vmov " + regList(regs)}
	}
	return Instruction{Kind: KindNop, Text: fmt.Sprintf("%#04x %#04x ; coprocessor", hw1, hw2)}
}

func decodeThumbBranch(hw1, hw2 uint16) Instruction {
	s := uint32(hw1 >> 10 & 1)
	j1, j2 := uint32(hw2>>13&1), uint32(hw2>>11&1)
	switch hw2 & 0x5000 {
	case 0x5000, 0x4000, 0x1000:
		i1, i2 := ^(j1^s)&1, ^(j2^s)&1
		off := signExtend(s<<24|i1<<23|i2<<22|uint32(hw1&0x3ff)<<12|uint32(hw2&0x7ff)<<1, 25)
		switch hw2 & 0x5000 {
		case 0x5000:
			return Instruction{Kind: KindBranchLink, Off: off, Text: fmt.Sprintf("bl pc%+d", off+4)}
		case 0x4000:
			return Instruction{Kind: KindBranchLink, Off: off, Text: fmt.Sprintf("blx pc%+d", off+4)}
		}
		return Instruction{Kind: KindBranch, Off: off, Text: fmt.Sprintf("b.w pc%+d", off+4)}
	}
	if cond := hw1 >> 6 & 0xf; cond < 0xe {
		off := signExtend(s<<20|j2<<19|j1<<18|uint32(hw1&0x3f)<<12|uint32(hw2&0x7ff)<<1, 21)
		return Instruction{Kind: KindCondBranch, Off: off, Text: fmt.Sprintf("b%s.w pc%+d", condNames[cond], off+4)}
	}
	switch {
	case hw1&0xfff0 == 0xf7f0 && hw2&0xf000 == 0xa000:
		return Instruction{Kind: KindIllegal, Text: "udf.w"}
	case hw1&0xffe0 == 0xf3e0:
		rd := reg4(hw2 >> 8)
		return Instruction{Kind: KindWriteInvalidate, Regs: 1 << rd, Text: "mrs " + RegName(int(rd))}
	}
	// Hints, barriers and MSR.
	return Instruction{Kind: KindNop, Text: fmt.Sprintf("%#04x %#04x", hw1, hw2)}
}
