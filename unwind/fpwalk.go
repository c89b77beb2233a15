// Copyright 2018 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package unwind

// WalkFramePointers unwinds an AArch64 thread by following its chain of
// frame records. Each record at fp holds the caller's fp and the return
// address. pc and lr are reported first; lr is skipped when zero.
//
// The walk ends with Success at a null frame pointer or return address,
// with Failure when the chain does not move up the stack, and with
// Truncated when cs is full.
func WalkFramePointers(r DwordReader, pc, lr, fp uint64, cs *Callstack) Result {
	if !cs.Report(pc) {
		return Truncated
	}
	if lr != 0 && !cs.Report(lr) {
		return Truncated
	}
	for fp != 0 {
		next, ok := r.ReadDword(fp)
		if !ok {
			return DReadFail
		}
		ret, ok := r.ReadDword(fp + 8)
		if !ok {
			return DReadFail
		}
		if ret == 0 {
			break
		}
		if next != 0 && next <= fp {
			return Failure
		}
		if !cs.Report(ret) {
			return Truncated
		}
		fp = next
	}
	return Success
}
