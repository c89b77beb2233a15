// Copyright 2018 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package unwind

// exec applies the effect of in to the session state.
func (s *Session) exec(in *Instruction) (Result, bool) {
	switch in.Kind {
	case KindNop, KindCondBranch, KindCompareBranch:
		// Conditional branches fall through.

	case KindUnknown:
		s.regs.Invalidate()

	case KindIllegal:
		return s.fail(ReasonIllegal)

	case KindMovImm:
		return s.setReg(in.Rd, Register{in.Imm, FromConst})

	case KindMovReg:
		return s.setReg(in.Rd, s.operand(in.Rm))

	case KindALUImm:
		a := s.operand(in.Rn)
		return s.setReg(in.Rd, Register{alu(in.Op, a.Value, in.Imm), derive(a.Origin)})

	case KindALUReg:
		a, b := s.operand(in.Rn), s.operand(in.Rm)
		v := shift(b.Value, in.Shift, in.ShiftN)
		return s.setReg(in.Rd, Register{alu(in.Op, a.Value, v), combine(a.Origin, b.Origin)})

	case KindShiftImm:
		a := s.operand(in.Rm)
		return s.setReg(in.Rd, Register{shift(a.Value, in.Shift, in.ShiftN), derive(a.Origin)})

	case KindAddSP:
		s.regs[SP].Value += uint32(in.Off)

	case KindAddrSP:
		if in.Rn == PC {
			s.regs[in.Rd] = Register{align4(s.pcRead()) + uint32(in.Off), FromConst}
		} else {
			sp := s.regs[SP]
			s.regs[in.Rd] = Register{sp.Value + uint32(in.Off), derive(sp.Origin)}
		}

	case KindLoad:
		return s.load(in)

	case KindStore:
		return s.store(in)

	case KindLoadLiteral:
		r, ok := s.readMem(align4(s.pcRead())+uint32(in.Off), FromConst, false)
		if !ok {
			return DReadFail, false
		}
		return s.loadReg(in.Rd, r, false)

	case KindPush:
		n := popcount(in.Regs)
		sp := s.regs[SP].Value - uint32(4*n)
		if res, ok := s.storeRegs(in.Regs, sp, s.regs[SP].Origin); !ok {
			return res, false
		}
		s.regs[SP].Value = sp

	case KindStoreMultiple:
		base := s.operand(in.Rn)
		n := popcount(in.Regs)
		if res, ok := s.storeRegs(in.Regs, in.multipleStart(base.Value, n), base.Origin); !ok {
			return res, false
		}
		if in.Writeback {
			s.regs[in.Rn].Value = multipleEnd(in, base.Value, n)
		}

	case KindPop:
		sp := s.regs[SP]
		vals, ok := s.loadRegs(in.Regs, sp.Value, sp.Origin, true)
		if !ok {
			return DReadFail, false
		}
		if in.Regs&(1<<SP) == 0 {
			s.regs[SP].Value = sp.Value + uint32(4*popcount(in.Regs))
		}
		return s.setLoaded(in.Regs, &vals, true)

	case KindLoadMultiple:
		base := s.operand(in.Rn)
		n := popcount(in.Regs)
		vals, ok := s.loadRegs(in.Regs, in.multipleStart(base.Value, n), base.Origin, in.Rn == SP)
		if !ok {
			return DReadFail, false
		}
		if in.Writeback && in.Regs&(1<<in.Rn) == 0 {
			s.regs[in.Rn].Value = multipleEnd(in, base.Value, n)
		}
		return s.setLoaded(in.Regs, &vals, in.Rn == SP)

	case KindVPush:
		s.regs[SP].Value -= in.Imm

	case KindVPop:
		s.regs[SP].Value += in.Imm

	case KindBranch:
		// A branch to the same target is followed on every other visit.
		target := s.pcRead() + uint32(in.Off)
		if s.hash.ToggleBranch(target) {
			s.regs[PC].Value = target
			s.jumped = true
		}

	case KindBranchLink:
		// Calls are not followed; the callee clobbers the scratch registers.
		for r := 0; r < SP; r++ {
			if callClobbered&(1<<r) != 0 {
				s.regs[r].Origin = Invalid
			}
		}
		ret := s.regs[PC].Value + in.Size
		if s.mode == ModeThumb {
			ret |= 1
		}
		s.regs[LR] = Register{ret, FromConst}

	case KindBranchExchange:
		return s.followReturn(s.operand(in.Rm), true)

	case KindWriteInvalidate:
		for r := 0; r < PC; r++ {
			if in.Regs&(1<<r) != 0 {
				s.regs[r].Origin = Invalid
			}
		}
	}
	return Success, true
}

// pcRead returns the value of PC as an operand.
func (s *Session) pcRead() uint32 {
	if s.mode == ModeThumb {
		return s.regs[PC].Value + 4
	}
	return s.regs[PC].Value + 8
}

func align4(v uint32) uint32 { return v &^ 3 }

func (s *Session) operand(r uint8) Register {
	if r == PC {
		return Register{s.pcRead(), FromConst}
	}
	return s.regs[r]
}

// setReg writes a computed value. A computed PC is a branch and must
// come from the stack.
func (s *Session) setReg(rd uint8, v Register) (Result, bool) {
	if rd == PC {
		return s.followReturn(v, true)
	}
	s.regs[rd] = v
	return Success, true
}

// loadReg writes a value loaded from memory. stack reports whether
// the load was addressed through SP.
func (s *Session) loadReg(rd uint8, v Register, stack bool) (Result, bool) {
	if rd == PC {
		return s.loadPC(v, stack)
	}
	s.regs[rd] = v
	return Success, true
}

// loadPC transfers control to a value loaded from memory. Only loads
// through SP are followed.
func (s *Session) loadPC(v Register, stack bool) (Result, bool) {
	if !stack {
		if !v.Origin.Valid() {
			return s.fail(ReasonInvalidPC)
		}
		return s.fail(ReasonUntrustedBranch)
	}
	return s.followReturn(v, false)
}

// followReturn transfers control to v and reports it as a return
// address. A strict transfer requires v to have come from the stack;
// otherwise any valid origin is accepted.
func (s *Session) followReturn(v Register, strict bool) (Result, bool) {
	if strict && v.Origin != FromStack {
		return s.fail(ReasonUntrustedBranch)
	}
	if !v.Origin.Valid() {
		return s.fail(ReasonInvalidPC)
	}
	if v.Value == 0 {
		return Reset, false
	}
	if IsThumb(v.Value, s.regs[SPSR].Value) {
		s.mode = ModeThumb
		s.regs[PC] = Register{v.Value &^ 1, v.Origin}
	} else {
		s.mode = ModeARM
		s.regs[PC] = v
	}
	s.jumped = true
	if !s.report(v.Value) {
		return Truncated, false
	}
	return Success, true
}

// readMem reads the word at addr, first from the hash and then from
// target memory. base is the origin of the address; an invalid address
// is not read and yields an invalid value.
func (s *Session) readMem(addr uint32, base Origin, stack bool) (Register, bool) {
	if v, o, ok := s.hash.Read(addr); ok {
		return Register{v, o}, true
	}
	if !base.Valid() {
		return Register{}, true
	}
	v, ok := s.mem.ReadWord(uint64(addr))
	if !ok {
		return Register{}, false
	}
	if stack {
		return Register{v, FromStack}, true
	}
	return Register{v, FromMemory}, true
}

// address computes the effective address of a single load or store, the
// written-back base, and the origin of both.
func (s *Session) address(in *Instruction) (addr, wb uint32, o Origin) {
	base := s.operand(in.Rn)
	off, o := uint32(in.Off), base.Origin
	if in.RegOffset {
		m := s.operand(in.Rm)
		off = shift(m.Value, in.Shift, in.ShiftN)
		if in.Sub {
			off = -off
		}
		o = combine(base.Origin, m.Origin)
	}
	switch in.Index {
	case IndexPre:
		return base.Value + off, base.Value + off, o
	case IndexPost:
		return base.Value, base.Value + off, o
	}
	return base.Value + off, base.Value, o
}

func (s *Session) writeback(in *Instruction, wb uint32, o Origin) {
	if in.Index == IndexOffset {
		return
	}
	if in.Rn == SP {
		s.regs[SP].Value = wb
		return
	}
	s.regs[in.Rn] = Register{wb, o}
}

func (s *Session) load(in *Instruction) (Result, bool) {
	addr, wb, o := s.address(in)
	var v, v2 Register
	switch in.Width {
	case 4, 8:
		var ok bool
		if v, ok = s.readMem(addr, o, in.Rn == SP); !ok {
			return DReadFail, false
		}
		if in.Width == 8 {
			if v2, ok = s.readMem(addr+4, o, in.Rn == SP); !ok {
				return DReadFail, false
			}
		}
	}
	if in.Rn != in.Rd && (in.Width != 8 || in.Rn != in.Rt2) {
		s.writeback(in, wb, o)
	}
	if in.Width == 8 {
		s.regs[in.Rt2] = v2
	}
	return s.loadReg(in.Rd, v, in.Rn == SP)
}

func (s *Session) store(in *Instruction) (Result, bool) {
	addr, wb, o := s.address(in)
	if o.Valid() {
		switch in.Width {
		case 4, 8:
			v := s.operand(in.Rd)
			if !s.hash.Write(addr, v.Value, v.Origin) {
				return DWriteFail, false
			}
			if in.Width == 8 {
				v2 := s.operand(in.Rt2)
				if !s.hash.Write(addr+4, v2.Value, v2.Origin) {
					return DWriteFail, false
				}
			}
		default:
			// Part of the word changed; its value is no longer known.
			if !s.hash.Write(addr&^3, 0, Invalid) {
				return DWriteFail, false
			}
		}
	}
	s.writeback(in, wb, o)
	return Success, true
}

// storeRegs writes the registers in list to ascending addresses from addr.
func (s *Session) storeRegs(list uint16, addr uint32, base Origin) (Result, bool) {
	if !base.Valid() {
		return Success, true
	}
	for r := uint8(0); r < 16; r++ {
		if list&(1<<r) == 0 {
			continue
		}
		v := s.operand(r)
		if !s.hash.Write(addr, v.Value, v.Origin) {
			return DWriteFail, false
		}
		addr += 4
	}
	return Success, true
}

// loadRegs reads the registers in list from ascending addresses from addr.
func (s *Session) loadRegs(list uint16, addr uint32, base Origin, stack bool) (vals [16]Register, ok bool) {
	for r := 0; r < 16; r++ {
		if list&(1<<r) == 0 {
			continue
		}
		if vals[r], ok = s.readMem(addr, base, stack); !ok {
			return vals, false
		}
		addr += 4
	}
	return vals, true
}

// setLoaded assigns loaded registers, transferring to a loaded PC last.
// stack reports whether the registers were loaded through SP.
func (s *Session) setLoaded(list uint16, vals *[16]Register, stack bool) (Result, bool) {
	for r := 0; r < PC; r++ {
		if list&(1<<r) != 0 && r != SP {
			s.regs[r] = vals[r]
		}
	}
	if list&(1<<PC) != 0 {
		return s.loadPC(vals[PC], stack)
	}
	return Success, true
}

func multipleEnd(in *Instruction, base uint32, n int) uint32 {
	if in.Decrement {
		return base - uint32(4*n)
	}
	return base + uint32(4*n)
}

func alu(op ALUOp, a, b uint32) uint32 {
	switch op {
	case OpAdd, OpAdc:
		return a + b
	case OpSub, OpSbc:
		return a - b
	case OpRsb:
		return b - a
	case OpAnd:
		return a & b
	case OpOrr:
		return a | b
	case OpOrn:
		return a | ^b
	case OpEor:
		return a ^ b
	case OpBic:
		return a &^ b
	case OpMul:
		return a * b
	case OpLsl:
		return shift(a, ShiftLSL, shiftAmount(b))
	case OpLsr:
		return shift(a, ShiftLSR, shiftAmount(b))
	case OpAsr:
		return shift(a, ShiftASR, shiftAmount(b))
	case OpRor:
		return shift(a, ShiftROR, shiftAmount(b))
	case OpNeg:
		return -b
	case OpMvn:
		return ^b
	case OpMovt:
		return a&0xffff | b<<16
	}
	return a
}

// shiftAmount returns the shift encoded in the bottom byte of a register.
func shiftAmount(v uint32) uint8 {
	return uint8(v)
}
