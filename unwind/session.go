// Copyright 2018 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package unwind recovers the call stack of a stopped ARM thread by
// abstractly interpreting the instructions that follow the stop point.
//
// A Session holds a register file whose values carry an Origin, a small
// cache of simulated stack writes, and a Callstack to which recovered
// return addresses are reported. The interpreter runs forward from the
// captured PC, tracking only the effects relevant to finding the caller,
// until it follows a trusted return, gives up, or exhausts its budget.
// When it gives up, a scan of the current function's prologue may
// recover one more frame and restart interpretation from there.
//
// AArch64 targets keep frame records, so WalkFramePointers follows the
// x29 chain directly.
package unwind

import (
	"fmt"
	"log/slog"
)

// A Mode is the instruction set the interpreter is decoding.
type Mode uint8

const (
	ModeARM Mode = iota
	ModeThumb
)

func (m Mode) String() string {
	if m == ModeThumb {
		return "thumb"
	}
	return "arm"
}

// A Result is the terminal state of an unwinding session.
type Result uint8

const (
	Success      Result = iota // no more frames can be derived
	Exhausted                  // instruction budget spent
	Failure                    // see Session.Reason
	Truncated                  // Callstack full
	Inconsistent               // PC or SP misaligned or invalid
	Reset                      // PC became zero
	IReadFail                  // instruction fetch failed
	DReadFail                  // data read failed
	DWriteFail                 // memory hash full
)

var resultNames = [...]string{
	Success:      "success",
	Exhausted:    "exhausted",
	Failure:      "failure",
	Truncated:    "truncated",
	Inconsistent: "inconsistent",
	Reset:        "reset",
	IReadFail:    "instruction read failed",
	DReadFail:    "data read failed",
	DWriteFail:   "data write failed",
}

func (r Result) String() string {
	if int(r) < len(resultNames) {
		return resultNames[r]
	}
	return fmt.Sprintf("Result(%d)", int(r))
}

// A Reason qualifies a Failure.
type Reason uint8

const (
	ReasonNone Reason = iota
	ReasonUntrustedBranch
	ReasonInvalidPC
	ReasonIllegal
	ReasonPCStuck
)

var reasonNames = [...]string{
	ReasonNone:            "",
	ReasonUntrustedBranch: "indirect branch through a register not loaded from the stack",
	ReasonInvalidPC:       "loaded PC has no valid origin",
	ReasonIllegal:         "illegal instruction",
	ReasonPCStuck:         "PC stuck",
}

func (r Reason) String() string {
	if int(r) < len(reasonNames) {
		return reasonNames[r]
	}
	return fmt.Sprintf("Reason(%d)", int(r))
}

// Defaults for Config.
const (
	DefaultMaxSteps       = 100
	DefaultPrologueWindow = 31
	DefaultMaxRevisits    = 8
)

// Config holds the tunable limits of a session. Zero fields take their
// defaults.
type Config struct {
	MaxSteps       int // instructions interpreted per frame
	PrologueWindow int // instructions scanned from a function entry
	MaxFrames      int // Callstack capacity
	MemHashSize    int // stack words tracked
	MaxRevisits    int // executions of one (PC, SP) pair before PC is stuck

	// Logger receives a Debug record for every interpreted instruction.
	// Nil disables tracing.
	Logger *slog.Logger
}

// DefaultConfig returns the default limits.
func DefaultConfig() Config {
	return Config{
		MaxSteps:       DefaultMaxSteps,
		PrologueWindow: DefaultPrologueWindow,
		MaxFrames:      DefaultMaxFrames,
		MemHashSize:    DefaultMemHashSize,
		MaxRevisits:    DefaultMaxRevisits,
	}
}

func orDefault(v, def int) int {
	if v > 0 {
		return v
	}
	return def
}

func (c *Config) maxSteps() int       { return orDefault(c.MaxSteps, DefaultMaxSteps) }
func (c *Config) prologueWindow() int { return orDefault(c.PrologueWindow, DefaultPrologueWindow) }
func (c *Config) maxRevisits() int    { return orDefault(c.MaxRevisits, DefaultMaxRevisits) }

// A checkpoint is the state at the last reported frame.
type checkpoint struct {
	regs  RegisterFile
	mode  Mode
	index int // position of the frame in the Callstack
	used  bool
}

type visit struct {
	pc, sp uint32
}

// A Session is one unwinding pass over a captured register file.
// Sessions share nothing; each owns its registers, hash and visit counts.
type Session struct {
	mem   MemoryReader
	regs  RegisterFile
	mode  Mode
	hash  *MemHash
	stack *Callstack
	cfg   Config
	log   *slog.Logger

	budget int
	visits map[visit]int
	itLeft int  // instructions left in the current IT block
	jumped bool // the current instruction wrote PC
	reason Reason
	cp     checkpoint
}

// NewSession returns a session interpreting from regs, reading target
// memory through mem and reporting frames to stack. If stack is nil a
// Callstack of cfg.MaxFrames entries is allocated.
func NewSession(mem MemoryReader, regs RegisterFile, stack *Callstack, cfg Config) *Session {
	if stack == nil {
		stack = NewCallstack(cfg.MaxFrames)
	}
	s := &Session{
		mem:    mem,
		regs:   regs,
		hash:   NewMemHash(cfg.MemHashSize),
		stack:  stack,
		cfg:    cfg,
		log:    cfg.Logger,
		budget: cfg.maxSteps(),
		visits: make(map[visit]int),
	}
	if IsThumb(regs[PC].Value, regs[SPSR].Value) {
		s.mode = ModeThumb
		s.regs[PC].Value &^= 1
	}
	return s
}

// Regs returns the current register file.
func (s *Session) Regs() RegisterFile { return s.regs }

// Mode returns the current instruction set.
func (s *Session) Mode() Mode { return s.mode }

// Reason returns why the session last stopped with Failure.
func (s *Session) Reason() Reason { return s.reason }

// Callstack returns the frames reported so far.
func (s *Session) Callstack() *Callstack { return s.stack }

// Hash returns the session's memory hash.
func (s *Session) Hash() *MemHash { return s.hash }

// Run reports the captured PC and interprets until a terminal state,
// falling back to a prologue scan when interpretation is exhausted or
// fails.
func (s *Session) Run() Result {
	if !s.report(s.regs[PC].Value) {
		return Truncated
	}
	for {
		res := s.run()
		if res != Exhausted && res != Failure {
			return s.stop(res)
		}
		var ok bool
		if res, ok = s.scanPrologue(res); !ok {
			return s.stop(res)
		}
	}
}

func (s *Session) run() Result {
	for {
		if res, more := s.Step(); !more {
			return res
		}
	}
}

func (s *Session) stop(res Result) Result {
	if s.log != nil {
		attrs := []any{"result", res.String(), "frames", s.stack.Len()}
		if res == Failure {
			attrs = append(attrs, "reason", s.reason.String())
		}
		s.log.Debug("unwind stopped", attrs...)
	}
	return res
}

// Step interprets one instruction. It returns more == false with the
// terminal Result when interpretation cannot continue; otherwise the
// Result is Success.
func (s *Session) Step() (res Result, more bool) {
	pc, sp := s.regs[PC], s.regs[SP]
	if s.mode == ModeThumb && pc.Value&1 != 0 || s.mode == ModeARM && pc.Value&3 != 0 {
		return Inconsistent, false
	}
	if !pc.Origin.Valid() || !sp.Origin.Valid() {
		return Inconsistent, false
	}
	v := visit{pc.Value, sp.Value}
	s.visits[v]++
	if s.visits[v] > s.cfg.maxRevisits() {
		return s.fail(ReasonPCStuck)
	}

	in, ok := Decode(s.mem, uint64(pc.Value), s.mode)
	if !ok {
		return IReadFail, false
	}
	if s.log != nil {
		s.log.Debug("step",
			slog.String("pc", fmt.Sprintf("%#08x", pc.Value)),
			slog.String("sp", fmt.Sprintf("%#08x", sp.Value)),
			slog.String("mode", s.mode.String()),
			slog.String("inst", in.String()))
	}

	inIT := s.itLeft > 0
	if inIT {
		s.itLeft--
	}
	s.jumped = false
	if in.Cond || inIT {
		s.skip(&in)
	} else if res, more = s.exec(&in); !more {
		return res, false
	}
	if in.ITCount > 0 {
		s.itLeft = int(in.ITCount)
	}

	if s.regs[PC].Value == 0 {
		return Reset, false
	}
	if !s.jumped {
		s.regs[PC].Value += in.Size
	}
	s.hash.GC(s.regs[SP].Value)
	s.budget--
	if s.budget <= 0 {
		return Exhausted, false
	}
	return Success, true
}

// skip applies an instruction whose condition is unknown: branches fall
// through and every other register it may write loses its origin.
func (s *Session) skip(in *Instruction) {
	switch in.Kind {
	case KindBranch, KindCondBranch, KindCompareBranch, KindBranchExchange:
		return
	}
	w := in.Writes() &^ (1<<SP | 1<<PC)
	for r := 0; r < PC; r++ {
		if w&(1<<r) != 0 {
			s.regs[r].Origin = Invalid
		}
	}
}

func (s *Session) fail(r Reason) (Result, bool) {
	s.reason = r
	return Failure, false
}

// report adds addr to the Callstack and checkpoints the state that
// produced it. A new frame gets a fresh instruction budget.
func (s *Session) report(addr uint32) bool {
	if !s.stack.Report(uint64(addr)) {
		return false
	}
	s.budget = s.cfg.maxSteps()
	s.cp = checkpoint{regs: s.regs, mode: s.mode, index: s.stack.Len() - 1}
	return true
}

// Decode fetches and decodes the instruction at addr in mode m. It
// reports false if the instruction cannot be read.
func Decode(mem MemoryReader, addr uint64, m Mode) (Instruction, bool) {
	if m == ModeARM {
		w, ok := mem.ReadWord(addr)
		if !ok {
			return Instruction{}, false
		}
		return DecodeARM(w), true
	}
	hw1, ok := mem.ReadHalf(addr)
	if !ok {
		return Instruction{}, false
	}
	var hw2 uint16
	if IsThumb32(hw1) {
		if hw2, ok = mem.ReadHalf(addr + 2); !ok {
			return Instruction{}, false
		}
	}
	return DecodeThumb(hw1, hw2), true
}
