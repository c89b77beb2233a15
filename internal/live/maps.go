// Copyright 2014 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

//go:build linux

package live

import (
	"io"

	"github.com/prometheus/procfs"

	space "crashstack/core"
)

// mapsTable builds a frozen mapping table from /proc/<pid>/maps entries.
// Every mapping reads through r, which takes addresses as offsets; file
// mappings also record their file for reads r cannot serve.
func mapsTable(maps []*procfs.ProcMap, r io.ReaderAt, max int) (*space.Table, error) {
	t := space.NewTable(max)
	for _, pm := range maps {
		var perm space.Perm
		if pm.Perms != nil {
			if pm.Perms.Read {
				perm |= space.Read
			}
			if pm.Perms.Write {
				perm |= space.Write
			}
			if pm.Perms.Execute {
				perm |= space.Exec
			}
		}
		m := space.NewMapping(space.Address(pm.StartAddr), space.Address(pm.EndAddr), perm)
		m.SetSource(pm.Pathname, r, int64(pm.StartAddr))
		if pm.Inode != 0 && pm.Pathname != "" {
			m.SetOrigSource(pm.Pathname, pm.Offset)
		}
		if err := t.Add(m); err != nil {
			return nil, err
		}
	}
	t.Freeze()
	return t, nil
}
