// Copyright 2018 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

//go:build linux

package crashstack

import (
	"crashstack/internal/live"
	"crashstack/unwind"
)

// AttachOptions control how a live process is attached.
type AttachOptions = live.Options

// A Live is a Target backed by a running process, stopped until Close.
type Live struct {
	*live.Process
}

// Attach stops the process pid and returns it as a *Live.
func Attach(pid int, opts AttachOptions) (Target, error) {
	p, err := live.Attach(pid, opts)
	if err != nil {
		return nil, err
	}
	return &Live{p}, nil
}

func (l *Live) Registers() (unwind.Snapshot, error) {
	return l.Process.Registers(), nil
}
