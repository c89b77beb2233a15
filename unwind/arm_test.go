// Copyright 2018 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package unwind

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDecodeARM(t *testing.T) {
	tests := []struct {
		w    uint32
		want Instruction
	}{
		{0xe92d4030, Instruction{Kind: KindPush, Regs: 1<<4 | 1<<5 | 1<<LR}},
		{0xe8bd8030, Instruction{Kind: KindPop, Regs: 1<<4 | 1<<5 | 1<<PC}},
		{0xe52de004, Instruction{Kind: KindPush, Regs: 1 << LR}},
		{0xe49df004, Instruction{Kind: KindPop, Regs: 1 << PC}},
		{0xe12fff1e, Instruction{Kind: KindBranchExchange, Rm: LR}},
		{0xe12fff33, Instruction{Kind: KindBranchExchange, Rm: 3, Link: true}},
		{0xe24dd010, Instruction{Kind: KindAddSP, Off: -16}},
		{0xe28dd008, Instruction{Kind: KindAddSP, Off: 8}},
		{0xe59f0004, Instruction{Kind: KindLoadLiteral, Rd: 0, Off: 4, Width: 4}},
		{0xe59d0008, Instruction{Kind: KindLoad, Rd: 0, Rn: SP, Width: 4, Off: 8}},
		{0xe0810002, Instruction{Kind: KindALUReg, Op: OpAdd, Rd: 0, Rn: 1, Rm: 2}},
		{0x0a000002, Instruction{Kind: KindCondBranch, Off: 8, Cond: true}},
		{0xeb000000, Instruction{Kind: KindBranchLink, Off: 0}},
		{0xe3a00001, Instruction{Kind: KindMovImm, Rd: 0, Imm: 1}},
		{0x03a00001, Instruction{Kind: KindMovImm, Rd: 0, Imm: 1, Cond: true}},
		{0xe1a0f00e, Instruction{Kind: KindMovReg, Rd: PC, Rm: LR}},
		{0xed2d8b04, Instruction{Kind: KindVPush, Imm: 16}},
		{0xecbd8b04, Instruction{Kind: KindVPop, Imm: 16}},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprintf("%08x", tt.w), func(t *testing.T) {
			got := DecodeARM(tt.w)
			tt.want.Size = 4
			assert.Equal(t, tt.want, withoutText(got), got.String())
		})
	}
}

func TestARMReturn(t *testing.T) {
	mem := newFakeMem().
		words(0x4000,
			0xe92d4010, // push {r4, lr}
			0xe3a04000, // mov r4, #0
			0xe8bd8010, // pop {r4, pc}
		).
		words(0x6000, 0xe12fff1e) // bx lr
	s := NewSession(mem, seed(0x4000, 0x8000, 0x6000), nil, DefaultConfig())
	step(t, s, 3)
	regs := s.Regs()
	assert.Equal(t, []uint64{0x6000}, s.Callstack().Addrs())
	assert.Equal(t, Register{0x104, FromConst}, regs[4])
	assert.Equal(t, uint32(0x8000), regs[SP].Value)
	assert.Equal(t, ModeARM, s.Mode())
}
