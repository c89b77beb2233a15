// Copyright 2018 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/chzyer/readline"
	"github.com/spf13/cobra"

	"crashstack/internal/crashstack"
)

// shellMode is set while the shell runs commands.
var shellMode bool

const shellHelp = `Commands:
  bt                      print the call stack
  regs                    print registers
  mappings                print virtual memory mappings
  disasm <addr> [count]   disassemble; an odd ARM address selects Thumb
  thumb on|off            decode ARM code as Thumb
  help                    print this message
  exit, quit              leave the shell
`

func historyFile() string {
	dir, err := os.UserCacheDir()
	if err != nil {
		return ""
	}
	return filepath.Join(dir, "crashstack_history")
}

func runShell(cmd *cobra.Command, args []string) {
	t := openCore(args[0])
	defer t.Close()

	rl, err := readline.NewEx(&readline.Config{
		Prompt:          "(crashstack) ",
		HistoryFile:     historyFile(),
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
	})
	if err != nil {
		exitf("%v\n", err)
	}
	defer rl.Close()

	shellMode = true
	defer func() { shellMode = false }()
	for {
		line, err := rl.Readline()
		if errors.Is(err, readline.ErrInterrupt) {
			continue
		}
		if err != nil {
			return
		}
		fields := strings.Fields(line)
		if len(fields) == 0 {
			continue
		}
		if fields[0] == "exit" || fields[0] == "quit" {
			return
		}
		shellCommand(rl.Stdout(), t, fields)
	}
}

// shellCommand runs one shell command. A failing command aborts
// through exitf and returns here.
func shellCommand(w io.Writer, t crashstack.Target, fields []string) {
	defer func() {
		if e := recover(); e != nil && e != errAbort {
			panic(e)
		}
	}()
	switch cmd, args := fields[0], fields[1:]; cmd {
	case "bt", "backtrace":
		if err := backtrace(w, t, false); err != nil {
			exitf("%v\n", err)
		}
	case "regs":
		printRegs(w, t)
	case "mappings":
		crashstack.PrintMappings(w, t.Mappings())
	case "disasm":
		if len(args) < 1 || len(args) > 2 {
			exitf("usage: disasm <addr> [count]\n")
		}
		runDisasm(w, t, args)
	case "thumb":
		if len(args) != 1 || (args[0] != "on" && args[0] != "off") {
			exitf("usage: thumb on|off\n")
		}
		cfg.thumb = args[0] == "on"
	case "help":
		fmt.Fprint(w, shellHelp)
	default:
		exitf("unknown command %s; try help\n", cmd)
	}
}
