// Copyright 2018 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package unwind

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCombine(t *testing.T) {
	tests := []struct {
		a, b Origin
		want Origin
	}{
		{FromStack, FromConst, FromStack | Arithmetic},
		{FromConst, FromStack, FromConst | Arithmetic},
		{FromStack | Arithmetic, FromConst, FromStack | Arithmetic},
		{FromMemory, FromMemory, FromMemory | Arithmetic},
		{Invalid, FromConst, Invalid},
		{FromStack, Invalid, Invalid},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, combine(tt.a, tt.b), "combine(%v, %v)", tt.a, tt.b)
	}
	assert.Equal(t, FromStack|Arithmetic, derive(FromStack))
	assert.Equal(t, Invalid, derive(Invalid))
}

func TestOriginString(t *testing.T) {
	assert.Equal(t, "invalid", Invalid.String())
	assert.Equal(t, "stack|arith", (FromStack | Arithmetic).String())
	assert.Equal(t, "const", FromConst.String())
}

func TestSeed(t *testing.T) {
	rf := Seed(Snapshot{R: []uint64{1, 2}, SP: 0x1000, LR: 0x2001, PC: 0x3000, PSR: 0x20})
	assert.Equal(t, Register{1, FromConst}, rf[0])
	assert.Equal(t, Register{0, FromConst}, rf[12])
	assert.Equal(t, Register{0x2001, FromStack}, rf[LR])
	assert.Equal(t, FromConst, rf[SP].Origin)
	assert.True(t, IsThumb(rf[PC].Value, rf[SPSR].Value))

	rf.Invalidate()
	for r := 0; r < SP; r++ {
		assert.Equal(t, Invalid, rf[r].Origin, RegName(r))
	}
	assert.Equal(t, FromStack, rf[LR].Origin)
	assert.Equal(t, FromConst, rf[SP].Origin)
}
