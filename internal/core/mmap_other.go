// Copyright 2017 The Go Authors.  All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

//go:build !unix

package core

import "errors"

func mapFile(fd int, offset int64, length int) ([]byte, error) {
	return nil, errors.New("file mapping is not implemented")
}

func unmapFile(b []byte) {}
