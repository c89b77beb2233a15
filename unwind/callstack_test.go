// Copyright 2018 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package unwind

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCallstackCapacity(t *testing.T) {
	cs := NewCallstack(0)
	assert.Equal(t, DefaultMaxFrames, cs.Cap())
	for i := 0; i < DefaultMaxFrames; i++ {
		if !cs.Report(uint64(i)) {
			t.Fatalf("Report %d failed", i+1)
		}
	}
	assert.True(t, cs.Full())
	assert.False(t, cs.Report(0xdead))
	assert.Equal(t, DefaultMaxFrames, cs.Len())
	assert.Equal(t, uint64(DefaultMaxFrames-1), cs.Addrs()[cs.Len()-1])
}
