// Copyright 2017 The Go Authors.  All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package core describes the address space of an inferior: the mappings
// that back it and where their contents can be found.
package core

import (
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
)

// DefaultMaxMappings bounds the number of mappings a Table accepts.
const DefaultMaxMappings = 1024

var (
	ErrTooManyMappings = errors.New("core: too many mappings")
	ErrFrozen          = errors.New("core: mapping table is read-only")
	ErrUnreadable      = errors.New("core: address not readable")
)

// A Mapping represents a contiguous subset of the inferior's address space.
type Mapping struct {
	min  Address
	max  Address
	perm Perm

	name string      // name of the file backing this region
	r    io.ReaderAt // file backing this region
	off  int64       // offset of start of this mapping in r

	// For regions originally backed by a file but now in the core file,
	// (probably because it is copy-on-write) this is the original data source.
	// This info is just for printing; the data in this source is stale.
	origName string
	origOff  int64

	// Contents of r at offset off, if preloaded. Length=max-min.
	contents []byte
}

// NewMapping returns an unbacked mapping of [min,max).
func NewMapping(min, max Address, perm Perm) *Mapping {
	return &Mapping{min: min, max: max, perm: perm}
}

// Min returns the lowest virtual address of the mapping.
func (m *Mapping) Min() Address {
	return m.min
}

// Max returns the virtual address of the byte just beyond the mapping.
func (m *Mapping) Max() Address {
	return m.max
}

// Size returns int64(Max-Min)
func (m *Mapping) Size() int64 {
	return m.max.Sub(m.min)
}

// Perm returns the permissions on the mapping.
func (m *Mapping) Perm() Perm {
	return m.perm
}

// Contains reports whether a lies within the mapping.
func (m *Mapping) Contains(a Address) bool {
	return m.min <= a && a < m.max
}

// Source returns the backing file and offset for the mapping, or "", 0 if none.
func (m *Mapping) Source() (string, int64) {
	if m.r == nil && m.contents == nil {
		return "", 0
	}
	return m.name, m.off
}

// Backed reports whether the contents of the mapping are available.
func (m *Mapping) Backed() bool {
	return m.r != nil || m.contents != nil
}

// CopyOnWrite reports whether the mapping is a copy-on-write region, i.e.
// it started as a mapped file and is now writeable.
func (m *Mapping) CopyOnWrite() bool {
	return m.origName != ""
}

// For CopyOnWrite mappings, OrigSource returns the file/offset of the
// original copy of the data, or "", 0 if none.
func (m *Mapping) OrigSource() (string, int64) {
	return m.origName, m.origOff
}

// SetSource records that the contents of the mapping are found in r at off.
func (m *Mapping) SetSource(name string, r io.ReaderAt, off int64) {
	m.name = name
	m.r = r
	m.off = off
}

// SetOrigSource records the file a copy-on-write region was mapped from.
func (m *Mapping) SetOrigSource(name string, off int64) {
	m.origName = name
	m.origOff = off
}

// SetContents installs preloaded contents. len(b) must equal Size.
func (m *Mapping) SetContents(b []byte) {
	if int64(len(b)) != m.Size() {
		panic(fmt.Sprintf("contents of %x-%x have length %d", m.min, m.max, len(b)))
	}
	m.contents = b
}

// ReadAt fills p with the bytes at address a, which must lie in m.
// Reads are clipped at the end of the mapping.
func (m *Mapping) ReadAt(p []byte, a Address) (int, error) {
	if !m.Contains(a) {
		return 0, fmt.Errorf("%w: %x outside [%x %x)", ErrUnreadable, a, m.min, m.max)
	}
	n := len(p)
	if rem := m.max.Sub(a); int64(n) > rem {
		n = int(rem)
	}
	if m.contents != nil {
		return copy(p[:n], m.contents[a.Sub(m.min):]), nil
	}
	if m.r == nil {
		return 0, fmt.Errorf("%w: no data for [%x %x)", ErrUnreadable, m.min, m.max)
	}
	return m.r.ReadAt(p[:n], m.off+a.Sub(m.min))
}

// split cuts m at a and returns the upper half.
func (m *Mapping) split(a Address) *Mapping {
	m2 := new(Mapping)
	*m2 = *m
	m.max = a
	m2.min = a
	if m2.r != nil {
		m2.off += m.Size()
	}
	if m2.origName != "" {
		m2.origOff += m.Size()
	}
	if m.contents != nil {
		m2.contents = m.contents[m.Size():]
		m.contents = m.contents[:m.Size()]
	}
	return m2
}

// A Perm represents the permissions allowed for a Mapping.
type Perm uint8

const (
	Read Perm = 1 << iota
	Write
	Exec
)

func (p Perm) String() string {
	var a [3]string
	b := a[:0]
	if p&Read != 0 {
		b = append(b, "Read")
	}
	if p&Write != 0 {
		b = append(b, "Write")
	}
	if p&Exec != 0 {
		b = append(b, "Exec")
	}
	if len(b) == 0 {
		b = append(b, "None")
	}
	return strings.Join(b, "|")
}

// Short returns the /proc/<pid>/maps style rendering of p, e.g. "r-x".
func (p Perm) Short() string {
	b := []byte("---")
	if p&Read != 0 {
		b[0] = 'r'
	}
	if p&Write != 0 {
		b[1] = 'w'
	}
	if p&Exec != 0 {
		b[2] = 'x'
	}
	return string(b)
}

// A Table is a bounded set of mappings. It is filled once from
// platform metadata and then frozen; lookups require a frozen table.
type Table struct {
	mappings []*Mapping
	max      int
	frozen   bool
}

// NewTable returns an empty table accepting at most max mappings
// (DefaultMaxMappings if max <= 0).
func NewTable(max int) *Table {
	if max <= 0 {
		max = DefaultMaxMappings
	}
	return &Table{max: max}
}

// Add appends m to the table.
func (t *Table) Add(m *Mapping) error {
	if t.frozen {
		return ErrFrozen
	}
	if len(t.mappings) >= t.max {
		return fmt.Errorf("%w: limit is %d", ErrTooManyMappings, t.max)
	}
	t.mappings = append(t.mappings, m)
	return nil
}

// Mappings returns the mappings of the table, sorted by address once frozen.
func (t *Table) Mappings() []*Mapping {
	return t.mappings
}

// Len returns the number of mappings.
func (t *Table) Len() int {
	return len(t.mappings)
}

// SplitAt ensures that a is not in the middle of any mapping.
// Splits mappings as necessary.
func (t *Table) SplitAt(a Address) error {
	for _, m := range t.mappings {
		if a <= m.min || a >= m.max {
			continue
		}
		if t.frozen {
			return ErrFrozen
		}
		if len(t.mappings) >= t.max {
			return fmt.Errorf("%w: limit is %d", ErrTooManyMappings, t.max)
		}
		t.mappings = append(t.mappings, m.split(a))
		return nil
	}
	return nil
}

// Freeze sorts the mappings, merges adjacent compatible ones and makes
// the table read-only.
func (t *Table) Freeze() {
	if t.frozen {
		return
	}
	t.frozen = true
	if len(t.mappings) == 0 {
		return
	}
	mappings := t.mappings
	sort.Slice(mappings, func(i, j int) bool {
		return mappings[i].min < mappings[j].min
	})
	ms := mappings[1:]
	mappings = mappings[:1]
	for _, m := range ms {
		k := mappings[len(mappings)-1]
		if m.min == k.max &&
			m.perm == k.perm &&
			m.r != nil && m.r == k.r &&
			m.contents == nil && k.contents == nil &&
			m.off == k.off+k.Size() &&
			m.origName == k.origName {
			k.max = m.max
		} else {
			mappings = append(mappings, m)
		}
	}
	t.mappings = mappings
}

// Find returns the mapping containing a, or nil.
func (t *Table) Find(a Address) *Mapping {
	if !t.frozen {
		for _, m := range t.mappings {
			if m.Contains(a) {
				return m
			}
		}
		return nil
	}
	i := sort.Search(len(t.mappings), func(i int) bool {
		return t.mappings[i].max > a
	})
	if i < len(t.mappings) && t.mappings[i].Contains(a) {
		return t.mappings[i]
	}
	return nil
}

// ReadAt fills p with the inferior's memory at a, crossing mapping
// boundaries if needed.
func (t *Table) ReadAt(p []byte, a Address) error {
	for len(p) > 0 {
		m := t.Find(a)
		if m == nil || m.perm&Read == 0 {
			return fmt.Errorf("%w: %x", ErrUnreadable, a)
		}
		n, err := m.ReadAt(p, a)
		if n == 0 && err == nil {
			err = io.ErrUnexpectedEOF
		}
		if err != nil && n < len(p) && m.max.Sub(a) > int64(n) {
			return fmt.Errorf("%w: %x: %v", ErrUnreadable, a, err)
		}
		p = p[n:]
		a = a.Add(int64(n))
	}
	return nil
}
