// Copyright 2018 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package unwind

// scanPrologue recovers the caller of the last reported frame from the
// stack adjustments made by its function's prologue. On success it has
// reported the return address and interpretation resumes from it;
// otherwise it returns the result to stop with, normally prev.
//
// Each checkpoint is scanned at most once.
func (s *Session) scanPrologue(prev Result) (Result, bool) {
	cp := &s.cp
	if cp.used {
		return prev, false
	}
	cp.used = true

	pc := cp.regs[PC].Value
	entry := uint32(s.mem.ProloguePC(uint64(pc))) &^ 1
	if entry == 0 || entry > pc {
		return prev, false
	}

	// Only SP decrements, pushes and pre-indexed single-word stores to
	// SP matter. Decoding whole instructions keeps the scan off the
	// second halfword of 32-bit Thumb encodings.
	var ops []Instruction
	addr := entry
	for i := 0; i < s.cfg.prologueWindow() && addr < pc; i++ {
		in, ok := Decode(s.mem, uint64(addr), cp.mode)
		if !ok {
			break
		}
		switch {
		case in.Kind == KindPush, in.Kind == KindVPush,
			in.Kind == KindAddSP && in.Off < 0,
			in.Kind == KindStore && in.Rn == SP && in.Index == IndexPre && in.Off < 0 && in.Width == 4:
			ops = append(ops, in)
		}
		addr += in.Size
	}
	if len(ops) == 0 {
		return prev, false
	}

	regs := cp.regs
	sp := regs[SP].Value
	haveLR := false
	for i := len(ops) - 1; i >= 0; i-- {
		in := &ops[i]
		switch in.Kind {
		case KindAddSP:
			sp -= uint32(in.Off)
			continue
		case KindVPush:
			sp += in.Imm
			continue
		case KindStore:
			v, ok := s.readMem(sp, regs[SP].Origin, true)
			if !ok {
				return prev, false
			}
			if in.Rd == LR {
				haveLR = true
			}
			if in.Rd != SP && in.Rd != PC {
				regs[in.Rd] = v
			}
			sp -= uint32(in.Off)
			continue
		}
		for r := 0; r < 16; r++ {
			if in.Regs&(1<<r) == 0 {
				continue
			}
			v, ok := s.readMem(sp, regs[SP].Origin, true)
			if !ok {
				return prev, false
			}
			if r != SP && r != PC {
				regs[r] = v
			}
			if r == LR {
				haveLR = true
			}
			sp += 4
		}
	}

	ret := regs[LR]
	if !haveLR {
		// Only the innermost frame can still hold its return address in LR.
		if cp.index != 0 || cp.regs[LR].Origin != FromStack {
			return prev, false
		}
		ret = cp.regs[LR]
	}
	regs[SP].Value = sp

	reason := s.reason
	s.regs = regs
	s.mode = cp.mode
	s.itLeft = 0
	if res, ok := s.followReturn(ret, false); !ok {
		if res == Truncated || res == Reset {
			return res, false
		}
		s.reason = reason
		return prev, false
	}
	s.hash.GC(sp)
	return Success, true
}
