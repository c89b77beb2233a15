// Copyright 2018 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package unwind

import "strings"

// An Origin records where the interpreter believes a value came from.
// It is a set of flags: a base source optionally modified by Arithmetic.
type Origin uint8

// Invalid marks a value of unknown provenance.
const Invalid Origin = 0

const (
	// FromStack marks a value loaded from the stack. It is the only
	// origin trusted as a return address for an indirect branch.
	FromStack Origin = 1 << iota
	// FromMemory marks a value loaded from non-stack memory through
	// a valid address.
	FromMemory
	// FromConst marks a value set by an immediate, a literal or the
	// captured register state.
	FromConst
	// Arithmetic is OR'd onto a base origin when the value was computed
	// from it.
	Arithmetic
)

// Valid reports whether o is anything other than Invalid.
func (o Origin) Valid() bool {
	return o != Invalid
}

// Base returns o without the Arithmetic modifier.
func (o Origin) Base() Origin {
	return o &^ Arithmetic
}

func (o Origin) String() string {
	if o == Invalid {
		return "invalid"
	}
	var b []string
	if o&FromStack != 0 {
		b = append(b, "stack")
	}
	if o&FromMemory != 0 {
		b = append(b, "memory")
	}
	if o&FromConst != 0 {
		b = append(b, "const")
	}
	if o&Arithmetic != 0 {
		b = append(b, "arith")
	}
	return strings.Join(b, "|")
}

// combine returns the origin of a value computed from operands with
// origins a and b.
func combine(a, b Origin) Origin {
	if !a.Valid() || !b.Valid() {
		return Invalid
	}
	return a.Base() | Arithmetic
}

// derive returns the origin of a value computed from a single operand.
func derive(a Origin) Origin {
	if !a.Valid() {
		return Invalid
	}
	return a.Base() | Arithmetic
}
