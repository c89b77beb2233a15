// Copyright 2018 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package unwind

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

type dwords map[uint64]uint64

func (d dwords) ReadDword(addr uint64) (uint64, bool) {
	v, ok := d[addr]
	return v, ok
}

func TestWalkFramePointers(t *testing.T) {
	tests := []struct {
		name  string
		mem   dwords
		fp    uint64
		max   int
		want  Result
		addrs []uint64
	}{
		{
			name: "chain",
			mem: dwords{
				0x1000: 0x1100, 0x1008: 0x400100,
				0x1100: 0, 0x1108: 0x400200,
			},
			fp:    0x1000,
			want:  Success,
			addrs: []uint64{0x400000, 0x400010, 0x400100, 0x400200},
		},
		{
			name:  "null return",
			mem:   dwords{0x1000: 0x1100, 0x1008: 0},
			fp:    0x1000,
			want:  Success,
			addrs: []uint64{0x400000, 0x400010},
		},
		{
			name:  "descending",
			mem:   dwords{0x1000: 0x0f00, 0x1008: 0x400100},
			fp:    0x1000,
			want:  Failure,
			addrs: []uint64{0x400000, 0x400010},
		},
		{
			name:  "unreadable",
			mem:   dwords{},
			fp:    0x1000,
			want:  DReadFail,
			addrs: []uint64{0x400000, 0x400010},
		},
		{
			name:  "truncated",
			mem:   dwords{0x1000: 0x1100, 0x1008: 0x400100},
			fp:    0x1000,
			max:   2,
			want:  Truncated,
			addrs: []uint64{0x400000, 0x400010},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cs := NewCallstack(tt.max)
			got := WalkFramePointers(tt.mem, 0x400000, 0x400010, tt.fp, cs)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.addrs, cs.Addrs())
		})
	}
}
