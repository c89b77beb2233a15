// Copyright 2014 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

//go:build linux && arm64

package live

import (
	"debug/elf"

	"golang.org/x/sys/unix"

	"crashstack/arch"
	"crashstack/unwind"
)

var hostArch = &arch.ARM64

func (t *tracer) registers(pid int) (unwind.Snapshot, error) {
	var regs unix.PtraceRegsArm64
	err := t.do(func() error {
		return unix.PtraceGetRegSetArm64(pid, int(elf.NT_PRSTATUS), &regs)
	})
	if err != nil {
		return unwind.Snapshot{}, err
	}
	return unwind.Snapshot{
		R:   regs.Regs[:],
		SP:  regs.Sp,
		LR:  regs.Regs[30],
		PC:  regs.Pc,
		PSR: regs.Pstate,
	}, nil
}
