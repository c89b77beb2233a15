// Copyright 2014 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

//go:build linux

package live

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/prometheus/procfs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	space "crashstack/core"
)

const testMaps = `00010000-00012000 r-xp 00000000 08:01 1234       /usr/bin/app
00021000-00022000 rw-p 00001000 08:01 1234       /usr/bin/app
00022000-00023000 rw-p 00000000 00:00 0          [heap]
7f000000-7f001000 rw-p 00000000 00:00 0          [stack]
`

// flat serves a sparse address space from a map of pages.
type flat map[int64][]byte

func (f flat) ReadAt(p []byte, off int64) (int, error) {
	for base, b := range f {
		if off >= base && off+int64(len(p)) <= base+int64(len(b)) {
			return copy(p, b[off-base:]), nil
		}
	}
	return 0, os.ErrNotExist
}

func procMaps(t *testing.T) []*procfs.ProcMap {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "42"), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "42", "maps"), []byte(testMaps), 0644))
	fs, err := procfs.NewFS(dir)
	require.NoError(t, err)
	proc, err := fs.Proc(42)
	require.NoError(t, err)
	maps, err := proc.ProcMaps()
	require.NoError(t, err)
	return maps
}

func TestMapsTable(t *testing.T) {
	stack := bytes.Repeat([]byte{0xaa}, 0x1000)
	tab, err := mapsTable(procMaps(t), flat{0x7f000000: stack}, 0)
	require.NoError(t, err)
	require.Equal(t, 4, tab.Len())

	text := tab.Find(0x10010)
	require.NotNil(t, text)
	assert.Equal(t, space.Read|space.Exec, text.Perm())
	name, off := text.OrigSource()
	assert.Equal(t, "/usr/bin/app", name)
	assert.Zero(t, off)

	data := tab.Find(0x21000)
	require.NotNil(t, data)
	assert.Equal(t, space.Read|space.Write, data.Perm())
	_, off = data.OrigSource()
	assert.EqualValues(t, 0x1000, off)

	heap := tab.Find(0x22000)
	require.NotNil(t, heap)
	assert.False(t, heap.CopyOnWrite())

	b := make([]byte, 4)
	require.NoError(t, tab.ReadAt(b, 0x7f000ffc))
	assert.Equal(t, []byte{0xaa, 0xaa, 0xaa, 0xaa}, b)
	assert.Error(t, tab.ReadAt(b, 0x10000))
	assert.Nil(t, tab.Find(0x30000))
}

func TestMapsTableLimit(t *testing.T) {
	_, err := mapsTable(procMaps(t), flat{}, 2)
	assert.ErrorIs(t, err, space.ErrTooManyMappings)
}
