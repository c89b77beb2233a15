// Copyright 2018 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// The crashstack tool recovers the call stack of an ARM process from a
// core file or by attaching to it while it runs.
// Run "crashstack help" for a list of commands.
package main

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"

	"github.com/spf13/cobra"

	"crashstack/internal/crashstack"
	"crashstack/unwind"
)

var (
	cfg = struct {
		maxSteps       int
		prologueWindow int
		maxFrames      int
		memHashSize    int
		verbose        bool

		base string
		exe  string

		leaveStopped bool
		thumb        bool
		regs         bool
	}{}

	root = &cobra.Command{
		Use:   "crashstack",
		Short: "crashstack recovers the call stack of a crashed or running ARM process",
		Example: `  crashstack core core.1234 --base /sysroot
  crashstack attach 1234
  crashstack shell core.1234`,
		SilenceUsage: true,
	}

	cmdCore = &cobra.Command{
		Use:   "core <corefile>",
		Short: "print the call stack of the crashed thread",
		Args:  cobra.ExactArgs(1),
		Run:   runCore,
	}

	cmdAttach = &cobra.Command{
		Use:   "attach <pid>",
		Short: "stop a running process, print its call stack and resume it",
		Args:  cobra.ExactArgs(1),
		Run:   runAttach,
	}

	cmdMappings = &cobra.Command{
		Use:   "mappings <corefile>",
		Short: "print virtual memory mappings",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			t := openCore(args[0])
			defer t.Close()
			crashstack.PrintMappings(os.Stdout, t.Mappings())
		},
	}

	cmdRegs = &cobra.Command{
		Use:   "regs <corefile>",
		Short: "print the registers of the crashed thread",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			t := openCore(args[0])
			defer t.Close()
			printRegs(os.Stdout, t)
		},
	}

	cmdDisasm = &cobra.Command{
		Use:   "disasm <corefile> <address> [count]",
		Short: "disassemble instructions from the core",
		Args:  cobra.RangeArgs(2, 3),
		Run: func(cmd *cobra.Command, args []string) {
			t := openCore(args[0])
			defer t.Close()
			runDisasm(os.Stdout, t, args[1:])
		},
	}

	cmdShell = &cobra.Command{
		Use:   "shell <corefile>",
		Short: "explore a core file interactively",
		Args:  cobra.ExactArgs(1),
		Run:   runShell,
	}
)

func init() {
	cobra.EnableCommandSorting = false
	root.CompletionOptions.DisableDefaultCmd = true

	pf := root.PersistentFlags()
	pf.IntVar(&cfg.maxSteps, "max-steps", unwind.DefaultMaxSteps, "instructions interpreted per frame")
	pf.IntVar(&cfg.prologueWindow, "prologue-window", unwind.DefaultPrologueWindow, "instructions scanned from a function entry")
	pf.IntVar(&cfg.maxFrames, "max-frames", unwind.DefaultMaxFrames, "maximum number of frames reported")
	pf.IntVar(&cfg.memHashSize, "memhash-size", unwind.DefaultMemHashSize, "number of stack words tracked")
	pf.BoolVar(&cfg.verbose, "verbose", false, "trace every interpreted instruction on stderr")
	pf.StringVar(&cfg.base, "base", "", "root directory to find files mapped by the core")
	pf.StringVar(&cfg.exe, "exe", "", "main executable, if not recorded in the core")

	cmdCore.Flags().BoolVar(&cfg.regs, "regs", false, "also print registers")
	cmdAttach.Flags().BoolVar(&cfg.regs, "regs", false, "also print registers")
	cmdAttach.Flags().BoolVar(&cfg.leaveStopped, "leave-stopped", false, "leave the process stopped on exit")
	cmdDisasm.Flags().BoolVar(&cfg.thumb, "thumb", false, "decode ARM code as Thumb")

	root.AddCommand(
		cmdCore,
		cmdAttach,
		cmdMappings,
		cmdRegs,
		cmdDisasm,
		cmdShell)
}

func main() {
	if err := root.Execute(); err != nil {
		os.Exit(2)
	}
}

// exitf prints the message and exits, or in the shell abandons the
// current command.
func exitf(format string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, format, args...)
	if shellMode {
		panic(errAbort)
	}
	os.Exit(1)
}

var errAbort = errors.New("command aborted")

// unwindConfig returns the session limits selected by the flags.
func unwindConfig() unwind.Config {
	c := unwind.DefaultConfig()
	c.MaxSteps = cfg.maxSteps
	c.PrologueWindow = cfg.prologueWindow
	c.MaxFrames = cfg.maxFrames
	c.MemHashSize = cfg.memHashSize
	if cfg.verbose {
		c.Logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug}))
	}
	return c
}

func openCore(file string) *crashstack.Core {
	t, err := crashstack.OpenCore(file, cfg.base, cfg.exe)
	if err != nil {
		exitf("%v\n", err)
	}
	for _, w := range t.Warnings() {
		fmt.Fprintf(os.Stderr, "WARNING: %s\n", w)
	}
	return t
}

func runCore(cmd *cobra.Command, args []string) {
	t := openCore(args[0])
	defer t.Close()
	if err := backtrace(os.Stdout, t, cfg.regs); err != nil {
		exitf("%v\n", err)
	}
}

func runAttach(cmd *cobra.Command, args []string) {
	pid, err := strconv.Atoi(args[0])
	if err != nil || pid <= 0 {
		exitf("invalid process id %q\n", args[0])
	}
	t, err := crashstack.Attach(pid, crashstack.AttachOptions{LeaveStopped: cfg.leaveStopped})
	if err != nil {
		exitf("%v\n", err)
	}
	// The process must be released before exiting.
	err = backtrace(os.Stdout, t, cfg.regs)
	if cerr := t.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		exitf("%v\n", err)
	}
}

func backtrace(w io.Writer, t crashstack.Target, regs bool) error {
	r, err := crashstack.Unwind(t, unwindConfig())
	if err != nil {
		return err
	}
	crashstack.Resolve(t, r)
	return crashstack.Print(w, r, crashstack.PrintOptions{Registers: regs})
}

func printRegs(w io.Writer, t crashstack.Target) {
	s, err := t.Registers()
	if err != nil {
		exitf("%v\n", err)
	}
	crashstack.PrintRegisters(w, s, t.Arch().PointerSize)
}
