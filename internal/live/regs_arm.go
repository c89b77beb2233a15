// Copyright 2014 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

//go:build linux && arm

package live

import (
	"golang.org/x/sys/unix"

	"crashstack/arch"
	"crashstack/unwind"
)

var hostArch = &arch.ARM

func (t *tracer) registers(pid int) (unwind.Snapshot, error) {
	var regs unix.PtraceRegsArm
	err := t.do(func() error {
		return unix.PtraceGetRegsArm(pid, &regs)
	})
	if err != nil {
		return unwind.Snapshot{}, err
	}
	u := regs.Uregs
	s := unwind.Snapshot{SP: uint64(u[13]), LR: uint64(u[14]), PC: uint64(u[15]), PSR: uint64(u[16])}
	for _, r := range u[:13] {
		s.R = append(s.R, uint64(r))
	}
	return s, nil
}
