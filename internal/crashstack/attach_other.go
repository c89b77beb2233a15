// Copyright 2018 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

//go:build !linux

package crashstack

import (
	"errors"
	"runtime"
)

// AttachOptions control how a live process is attached.
type AttachOptions struct {
	LeaveStopped bool
	MaxMappings  int
}

// Attach is only supported on Linux.
func Attach(pid int, opts AttachOptions) (Target, error) {
	return nil, errors.New("attaching to a process is not supported on " + runtime.GOOS)
}
