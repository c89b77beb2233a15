// Copyright 2014 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

//go:build linux && !arm && !arm64

package live

import (
	"fmt"
	"runtime"

	"crashstack/arch"
	"crashstack/unwind"
)

var hostArch *arch.Architecture

func (t *tracer) registers(pid int) (unwind.Snapshot, error) {
	return unwind.Snapshot{}, fmt.Errorf("%w: %s", ErrUnsupported, runtime.GOARCH)
}
