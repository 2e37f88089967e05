package main

import (
	"flag"
	"fmt"
	"os"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/term"

	"github.com/wippyai/wasmdbg/debugger"
)

func main() {
	os.Exit(run())
}

func run() int {
	var (
		runToEnd = flag.Bool("run", false, "run the loaded program to termination and exit")
		invoke   = flag.String("invoke", "", "call an exported function to termination and exit")
		argsStr  = flag.String("args", "", "space-separated arguments for -invoke")
		script   = flag.String("x", "", "execute commands from a script before the shell starts")
		noInit   = flag.Bool("no-init", false, "skip the ./"+initFile+" startup script")
		debug    = flag.Bool("debug", false, "verbose debugger logging on stderr")
		noColor  = flag.Bool("no-color", false, "disable colored output")
	)
	flag.Usage = func() {
		fmt.Fprintln(os.Stderr, "Usage: wasmdbg [flags] [FILE.wasm]")
		fmt.Fprintln(os.Stderr, "       wasmdbg FILE.wasm -run")
		fmt.Fprintln(os.Stderr, "       wasmdbg FILE.wasm -invoke NAME -args \"1 2\"")
		fmt.Fprintln(os.Stderr, "")
		flag.PrintDefaults()
	}
	flag.Parse()
	if flag.NArg() > 1 || (*runToEnd && *invoke != "") {
		flag.Usage()
		return 1
	}

	logger := zap.NewNop()
	if *debug {
		l, err := zap.NewDevelopment()
		if err != nil {
			fmt.Fprintf(os.Stderr, "wasmdbg: logger: %v\n", err)
			return 1
		}
		logger = l
		defer logger.Sync()
	}

	color := !*noColor && term.IsTerminal(int(os.Stdout.Fd()))
	dbg := debugger.New(debugger.WithLogger(logger))
	sess := newSession(dbg, os.Stdout, newStyles(color), logger)
	if w, _, err := term.GetSize(int(os.Stdout.Fd())); err == nil && w > 0 {
		sess.width = w
	}

	if flag.NArg() == 1 {
		if err := sess.loadFile(flag.Arg(0)); err != nil {
			fmt.Fprintf(os.Stderr, "wasmdbg: %v\n", err)
			return 1
		}
	}
	if !*noInit {
		if err := sess.runScript(initFile, true); err != nil {
			fmt.Fprintf(os.Stderr, "wasmdbg: %s: %v\n", initFile, err)
		}
	}
	if *script != "" && !sess.quitting {
		if err := sess.runScript(*script, false); err != nil {
			fmt.Fprintf(os.Stderr, "wasmdbg: %s: %v\n", *script, err)
			return 1
		}
	}
	if sess.quitting {
		return 0
	}

	switch {
	case *runToEnd:
		return sess.batchRun()
	case *invoke != "":
		return sess.batchInvoke(*invoke, *argsStr)
	}

	if err := runShell(sess); err != nil {
		fmt.Fprintf(os.Stderr, "wasmdbg: %v\n", err)
		return 1
	}
	return 0
}

func (s *session) batchRun() int {
	stop, err := s.dbg.Run()
	return s.batchFinish(stop, err)
}

func (s *session) batchInvoke(name, argsStr string) int {
	idx, err := s.resolveFunc(name)
	if err != nil {
		s.printf("%s", s.st.errTxt.Render(err.Error()))
		return 1
	}
	vals, err := s.parseCallArgs(idx, strings.Fields(argsStr))
	if err != nil {
		s.printf("%s", s.st.errTxt.Render(err.Error()))
		return 1
	}
	stop, err := s.dbg.Call(idx, vals)
	return s.batchFinish(stop, err)
}

// batchFinish drives a non-interactive run to its end. Breakpoints and
// watchpoints cannot pause a batch session, so the run is resumed until
// it reaches a terminal state, and the exit status reflects how it got
// there.
func (s *session) batchFinish(stop *debugger.Stop, err error) int {
	for {
		if err != nil {
			s.printf("%s", s.st.errTxt.Render(err.Error()))
			return 1
		}
		if s.dbg.Status().Terminal() {
			break
		}
		stop, err = s.dbg.Continue()
	}
	s.reportStop(stop)
	return exitStatus(s.dbg)
}

func exitStatus(dbg *debugger.Debugger) int {
	switch dbg.Status() {
	case debugger.StatusHalted:
		return int(dbg.ExitCode())
	case debugger.StatusTrapped:
		return 3
	}
	return 0
}
