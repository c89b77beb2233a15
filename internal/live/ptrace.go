// Copyright 2014 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

//go:build linux

package live

import (
	"fmt"
	"runtime"

	"golang.org/x/sys/unix"
)

// A tracer issues ptrace requests from one OS thread, the tracer of
// record for the kernel.
type tracer struct {
	fc chan func() error
	ec chan error
}

func newTracer() *tracer {
	t := &tracer{fc: make(chan func() error), ec: make(chan error)}
	go ptraceRun(t.fc, t.ec)
	return t
}

// ptraceRun runs all the closures from fc on a dedicated OS thread. Errors
// are returned on ec. Both channels must be unbuffered, to ensure that the
// resultant error is sent back to the same goroutine that sent the closure.
func ptraceRun(fc chan func() error, ec chan error) {
	if cap(fc) != 0 || cap(ec) != 0 {
		panic("ptraceRun was given buffered channels")
	}
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()
	for f := range fc {
		ec <- f()
	}
}

func (t *tracer) do(f func() error) error {
	t.fc <- f
	return <-t.ec
}

func (t *tracer) stop() {
	close(t.fc)
}

// attach attaches to pid and waits for it to stop.
func (t *tracer) attach(pid int) error {
	return t.do(func() error {
		if err := unix.PtraceAttach(pid); err != nil {
			return fmt.Errorf("ptrace attach %d: %w", pid, err)
		}
		for {
			var status unix.WaitStatus
			if _, err := unix.Wait4(pid, &status, unix.WALL, nil); err != nil {
				return fmt.Errorf("wait %d: %w", pid, err)
			}
			if status.Exited() || status.Signaled() {
				return fmt.Errorf("process %d exited while attaching", pid)
			}
			if status.Stopped() {
				return nil
			}
		}
	})
}

// detach resumes pid, or leaves it stopped.
func (t *tracer) detach(pid int, leaveStopped bool) error {
	return t.do(func() error {
		if leaveStopped {
			// Delivered once the tracer is gone.
			if err := unix.Kill(pid, unix.SIGSTOP); err != nil {
				return fmt.Errorf("stop %d: %w", pid, err)
			}
		}
		if err := unix.PtraceDetach(pid); err != nil {
			return fmt.Errorf("ptrace detach %d: %w", pid, err)
		}
		return nil
	})
}

func (t *tracer) peek(pid int, addr uintptr, out []byte) error {
	return t.do(func() error {
		n, err := unix.PtracePeekData(pid, addr, out)
		if err != nil {
			return err
		}
		if n != len(out) {
			return fmt.Errorf("ptracePeek: peeked %d bytes, want %d", n, len(out))
		}
		return nil
	})
}

// mem reads the memory of a traced process. Offsets are addresses.
type mem struct {
	t   *tracer
	pid int
}

func (m mem) ReadAt(p []byte, off int64) (int, error) {
	if err := m.t.peek(m.pid, uintptr(off), p); err != nil {
		return 0, err
	}
	return len(p), nil
}
