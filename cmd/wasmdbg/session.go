package main

import (
	"fmt"
	"io"
	"strings"

	"go.uber.org/zap"

	"github.com/wippyai/wasmdbg/debugger"
)

const prompt = "wasmdbg> "

// session couples one debugger to an output sink and the command table.
// The shells own where output goes (a terminal, a scrollback buffer, a
// pipe); the session only ever writes to w.
type session struct {
	dbg    *debugger.Debugger
	w      io.Writer
	st     *styles
	logger *zap.Logger

	width    int
	file     string
	lastLine string
	quitting bool
}

func newSession(dbg *debugger.Debugger, w io.Writer, st *styles, logger *zap.Logger) *session {
	return &session{dbg: dbg, w: w, st: st, logger: logger, width: 80}
}

// command is one shell command: a handler plus the metadata help and
// dispatch need. Handlers get the argument words with the command name
// already stripped.
type command struct {
	name     string
	aliases  []string
	usage    string
	desc     string
	needsMod bool
	run      func(s *session, args []string) error
}

var commands []command

// The table is built in init because a literal would recurse: the help
// handler walks the table it is part of.
func init() {
	commands = []command{
		{name: "help", aliases: []string{"h"}, usage: "help [CMD]",
			desc: "list commands, or show one command's usage",
			run:  (*session).cmdHelp},
		{name: "quit", aliases: []string{"q", "exit"}, usage: "quit",
			desc: "exit the debugger",
			run:  (*session).cmdQuit},
		{name: "load", usage: "load FILE",
			desc: "load a wasm binary",
			run:  (*session).cmdLoad},
		{name: "info", aliases: []string{"i"},
			usage: "info [module|functions|globals|memory|tables|exports|imports|types|start|elements|data|custom|ip|breakpoints|watchpoints]",
			desc:  "show the module and session state", needsMod: true,
			run: (*session).cmdInfo},
		{name: "status", usage: "status",
			desc: "show the session status and position", needsMod: true,
			run:  (*session).cmdStatus},
		{name: "disas", aliases: []string{"disassemble"}, usage: "disas [FUNC]",
			desc: "disassemble a function (default: the current one)", needsMod: true,
			run:  (*session).cmdDisas},
		{name: "break", aliases: []string{"b"}, usage: "break FUNC [OFFSET]",
			desc: "set a breakpoint at a function, or at an instruction in it", needsMod: true,
			run:  (*session).cmdBreak},
		{name: "watch", usage: "watch global IDX | watch memory ADDR [LEN]",
			desc: "pause when the watched value changes", needsMod: true,
			run:  (*session).cmdWatch},
		{name: "delete", usage: "delete ID",
			desc: "delete a breakpoint or watchpoint", needsMod: true,
			run:  (*session).cmdDelete},
		{name: "enable", usage: "enable ID",
			desc: "enable a breakpoint or watchpoint", needsMod: true,
			run:  (*session).cmdEnable},
		{name: "disable", usage: "disable ID",
			desc: "disable a breakpoint or watchpoint", needsMod: true,
			run:  (*session).cmdDisable},
		{name: "run", aliases: []string{"r"}, usage: "run",
			desc: "run from the module's entry to the next stop", needsMod: true,
			run:  (*session).cmdRun},
		{name: "start", usage: "start",
			desc: "run from the entry but pause before the first instruction", needsMod: true,
			run:  (*session).cmdStart},
		{name: "call", usage: "call FUNC [ARG...]",
			desc: "call a function with arguments", needsMod: true,
			run:  (*session).cmdCall},
		{name: "reset", usage: "reset",
			desc: "drop the run and go back to a fresh idle state", needsMod: true,
			run:  (*session).cmdReset},
		{name: "continue", aliases: []string{"c"}, usage: "continue",
			desc: "resume a paused run", needsMod: true,
			run:  (*session).cmdContinue},
		{name: "step", aliases: []string{"s", "stepi", "si"}, usage: "step [N]",
			desc: "execute exactly one (or N) instructions, entering calls", needsMod: true,
			run:  (*session).cmdStep},
		{name: "next", aliases: []string{"n", "nexti", "ni"}, usage: "next [N]",
			desc: "like step, but complete calls instead of entering them", needsMod: true,
			run:  (*session).cmdNext},
		{name: "finish", usage: "finish",
			desc: "run until the current function returns", needsMod: true,
			run:  (*session).cmdFinish},
		{name: "backtrace", aliases: []string{"bt"}, usage: "backtrace",
			desc: "show the call stack, innermost frame first", needsMod: true,
			run:  (*session).cmdBacktrace},
		{name: "locals", usage: "locals",
			desc: "show the active frame's locals", needsMod: true,
			run:  (*session).cmdLocals},
		{name: "globals", usage: "globals [IDX]",
			desc: "show the globals, or one of them", needsMod: true,
			run:  (*session).cmdGlobals},
		{name: "stack", usage: "stack",
			desc: "show the value stack, top first", needsMod: true,
			run:  (*session).cmdStack},
		{name: "labels", usage: "labels",
			desc: "show the active frame's label stack", needsMod: true,
			run:  (*session).cmdLabels},
		{name: "mem", aliases: []string{"x"}, usage: "mem ADDR [LEN]",
			desc: "hexdump LEN bytes of linear memory (default 64)", needsMod: true,
			run:  (*session).cmdMem},
		{name: "set", usage: "set local IDX VAL | set global IDX VAL | set mem ADDR BYTE...",
			desc: "overwrite a local, global, or memory range", needsMod: true,
			run:  (*session).cmdSet},
		{name: "push", usage: "push [TYPE] VAL",
			desc: "push a value onto the value stack", needsMod: true,
			run:  (*session).cmdPush},
	}
}

func findCommand(name string) *command {
	for i := range commands {
		cmd := &commands[i]
		if cmd.name == name {
			return cmd
		}
		for _, alias := range cmd.aliases {
			if alias == name {
				return cmd
			}
		}
	}
	return nil
}

func usageErr(name string) error {
	if cmd := findCommand(name); cmd != nil {
		return fmt.Errorf("usage: %s", cmd.usage)
	}
	return fmt.Errorf("usage: %s", name)
}

// Exec runs one command line. An empty line repeats the previous one,
// the gdb convention both shells rely on.
func (s *session) Exec(line string) {
	line = strings.TrimSpace(line)
	if line == "" {
		if s.lastLine == "" {
			return
		}
		line = s.lastLine
	}
	s.lastLine = line

	words := strings.Fields(line)
	cmd := findCommand(words[0])
	if cmd == nil {
		s.printf("%s", s.st.errTxt.Render(
			fmt.Sprintf("unknown command %q, try \"help\"", words[0])))
		return
	}
	if cmd.needsMod && !s.dbg.Loaded() {
		s.printf("no wasm binary loaded; use \"load FILE\"")
		return
	}
	s.logger.Debug("command", zap.String("cmd", cmd.name), zap.String("line", line))
	if err := cmd.run(s, words[1:]); err != nil {
		s.printf("%s", s.st.errTxt.Render(err.Error()))
	}
}

func (s *session) cmdHelp(args []string) error {
	if len(args) > 0 {
		cmd := findCommand(args[0])
		if cmd == nil {
			return fmt.Errorf("unknown command %q", args[0])
		}
		s.printf("usage: %s", cmd.usage)
		if len(cmd.aliases) > 0 {
			s.printf("aliases: %s", strings.Join(cmd.aliases, ", "))
		}
		s.printf("%s", cmd.desc)
		return nil
	}
	s.header("commands")
	for i := range commands {
		cmd := &commands[i]
		names := cmd.name
		if len(cmd.aliases) > 0 {
			names += " (" + strings.Join(cmd.aliases, ", ") + ")"
		}
		s.printf("  %-26s %s", names, cmd.desc)
	}
	s.printf("")
	s.printf("%s", s.st.help.Render(
		`an empty line repeats the previous command; "help CMD" shows usage`))
	return nil
}

func (s *session) cmdQuit([]string) error {
	s.quitting = true
	return nil
}
