package main

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/wippyai/wasmdbg"
	"github.com/wippyai/wasmdbg/code"
	"github.com/wippyai/wasmdbg/debugger"
	"github.com/wippyai/wasmdbg/engine"
	"github.com/wippyai/wasmdbg/wasm"
)

func (s *session) cmdLoad(args []string) error {
	if len(args) != 1 {
		return usageErr("load")
	}
	return s.loadFile(args[0])
}

// loadFile reads and loads a wasm binary into the session. A module that
// decodes but fails to instantiate stays loaded for inspection, so the
// error is reported either way.
func (s *session) loadFile(path string) error {
	bin, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if err := s.dbg.Load(bin); err != nil {
		return err
	}
	s.file = path
	mod := s.dbg.Module()
	s.printf("loaded %s: %d functions, %d exports", path, mod.NumFuncs(), len(mod.Exports))
	if name := s.dbg.Symbols().ModuleName(); name != "" {
		s.printf("module name: %s", name)
	}
	return nil
}

// --- execution ---

func (s *session) cmdRun([]string) error {
	stop, err := s.dbg.Run()
	if err != nil {
		return err
	}
	s.reportStop(stop)
	return nil
}

func (s *session) cmdStart([]string) error {
	stop, err := s.dbg.Start()
	if err != nil {
		return err
	}
	s.reportStop(stop)
	return nil
}

func (s *session) cmdCall(args []string) error {
	if len(args) == 0 {
		return usageErr("call")
	}
	idx, err := s.resolveFunc(args[0])
	if err != nil {
		return err
	}
	vals, err := s.parseCallArgs(idx, args[1:])
	if err != nil {
		return err
	}
	stop, err := s.dbg.Call(idx, vals)
	if err != nil {
		return err
	}
	s.reportStop(stop)
	return nil
}

// parseCallArgs parses textual arguments against the function's declared
// signature, so "call add 2 3" types each literal without annotations.
func (s *session) parseCallArgs(funcIdx uint32, words []string) ([]wasmdbg.Value, error) {
	ft := s.dbg.Module().GetFuncType(funcIdx)
	if ft == nil {
		return nil, fmt.Errorf("function %d has no known signature", funcIdx)
	}
	if len(words) != len(ft.Params) {
		return nil, fmt.Errorf("%s takes %d arguments %s, got %d",
			s.dbg.Symbols().FuncName(funcIdx), len(ft.Params), ft, len(words))
	}
	vals := make([]wasmdbg.Value, len(words))
	for i, word := range words {
		kind, ok := wasmdbg.KindOf(ft.Params[i])
		if !ok {
			return nil, fmt.Errorf("parameter %d has a non-MVP type", i)
		}
		v, err := wasmdbg.ParseValue(word, kind)
		if err != nil {
			return nil, err
		}
		vals[i] = v
	}
	return vals, nil
}

func (s *session) cmdReset([]string) error {
	if err := s.dbg.Reset(); err != nil {
		return err
	}
	s.printf("session reset; breakpoints kept")
	return nil
}

func (s *session) cmdContinue([]string) error {
	stop, err := s.dbg.Continue()
	if err != nil {
		return err
	}
	s.reportStop(stop)
	return nil
}

func (s *session) cmdStep(args []string) error {
	n, err := countArg(args, "step")
	if err != nil {
		return err
	}
	stop, err := s.dbg.Step(n)
	if err != nil {
		return err
	}
	s.reportStop(stop)
	return nil
}

func (s *session) cmdNext(args []string) error {
	n, err := countArg(args, "next")
	if err != nil {
		return err
	}
	stop, err := s.dbg.Next(n)
	if err != nil {
		return err
	}
	s.reportStop(stop)
	return nil
}

func (s *session) cmdFinish([]string) error {
	stop, err := s.dbg.Finish()
	if err != nil {
		return err
	}
	s.reportStop(stop)
	return nil
}

func countArg(args []string, cmd string) (int, error) {
	if len(args) == 0 {
		return 1, nil
	}
	if len(args) > 1 {
		return 0, usageErr(cmd)
	}
	n, err := parseU32(args[0])
	if err != nil || n == 0 {
		return 0, fmt.Errorf("%s: count must be a positive integer, got %q", cmd, args[0])
	}
	return int(n), nil
}

// reportStop renders the outcome of a control call: a banner for runs
// that ended, the pause context otherwise.
func (s *session) reportStop(stop *debugger.Stop) {
	switch stop.Reason {
	case debugger.ReasonFinish:
		s.reportFinished()
	case debugger.ReasonHalt:
		s.printf("%s", s.st.result.Render(
			fmt.Sprintf("program halted, exit code %d", s.dbg.ExitCode())))
	case debugger.ReasonTrap:
		trap := s.dbg.Trap()
		s.printf("%s", s.st.errTxt.Render(trap.Error()))
		s.printf("%s in %s", s.st.addr.Render(trap.Pos.String()),
			s.dbg.Symbols().FuncName(trap.Pos.Func))
	case debugger.ReasonBreakpoint:
		s.printf("%s", s.st.mark.Render(fmt.Sprintf("hit breakpoint %d", stop.ID)))
		s.context()
	case debugger.ReasonWatchpoint:
		target := ""
		for _, wp := range s.dbg.Watchpoints() {
			if wp.ID == stop.ID {
				target = " on " + wp.Target()
			}
		}
		s.printf("%s", s.st.mark.Render(fmt.Sprintf("hit watchpoint %d%s", stop.ID, target)))
		s.context()
	case debugger.ReasonInterrupt:
		s.printf("%s", s.st.mark.Render("interrupted"))
		s.context()
	default:
		s.context()
	}
}

func (s *session) reportFinished() {
	if vals, err := s.dbg.StackValues(); err == nil && len(vals) > 0 {
		parts := make([]string, len(vals))
		for i, v := range vals {
			parts[i] = v.String()
		}
		s.printf("%s", s.st.result.Render("execution finished => "+strings.Join(parts, ", ")))
		return
	}
	s.printf("%s", s.st.result.Render("execution finished"))
}

// --- breakpoints and watchpoints ---

func (s *session) cmdBreak(args []string) error {
	if len(args) == 0 || len(args) > 2 {
		return usageErr("break")
	}
	idx, err := s.resolveFunc(args[0])
	if err != nil {
		return err
	}
	pos := wasmdbg.CodePosition{Func: idx}
	if len(args) == 2 {
		if pos.Instr, err = parseU32(args[1]); err != nil {
			return err
		}
	}
	id, err := s.dbg.AddBreakpoint(pos)
	if err != nil {
		return err
	}
	s.printf("breakpoint %d set at %s (%s)", id, s.dbg.Symbols().FuncName(pos.Func), pos)
	return nil
}

func (s *session) cmdWatch(args []string) error {
	if len(args) < 2 {
		return usageErr("watch")
	}
	switch args[0] {
	case "global", "g":
		idx, err := s.resolveGlobal(args[1])
		if err != nil {
			return err
		}
		id, err := s.dbg.WatchGlobal(idx)
		if err != nil {
			return err
		}
		s.printf("watchpoint %d set on global %d <%s>", id, idx, s.dbg.Symbols().GlobalName(idx))
		return nil
	case "memory", "mem", "m":
		addr, err := parseU32(args[1])
		if err != nil {
			return err
		}
		length := uint32(4)
		if len(args) > 2 {
			if length, err = parseU32(args[2]); err != nil {
				return err
			}
		}
		id, err := s.dbg.WatchMemory(addr, length)
		if err != nil {
			return err
		}
		s.printf("watchpoint %d set on memory [0x%x, 0x%x)", id, addr, uint64(addr)+uint64(length))
		return nil
	}
	return usageErr("watch")
}

func (s *session) cmdDelete(args []string) error {
	if len(args) != 1 {
		return usageErr("delete")
	}
	id, err := parseU32(args[0])
	if err != nil {
		return err
	}
	if s.dbg.DeleteBreakpoint(id) == nil {
		s.printf("breakpoint %d deleted", id)
		return nil
	}
	if s.dbg.DeleteWatchpoint(id) == nil {
		s.printf("watchpoint %d deleted", id)
		return nil
	}
	return fmt.Errorf("no breakpoint or watchpoint %d", id)
}

func (s *session) cmdEnable(args []string) error {
	return s.toggle(args, "enable", true)
}

func (s *session) cmdDisable(args []string) error {
	return s.toggle(args, "disable", false)
}

func (s *session) toggle(args []string, what string, on bool) error {
	if len(args) != 1 {
		return usageErr(what)
	}
	id, err := parseU32(args[0])
	if err != nil {
		return err
	}
	if s.dbg.EnableBreakpoint(id, on) == nil {
		s.printf("breakpoint %d %sd", id, what)
		return nil
	}
	if s.dbg.EnableWatchpoint(id, on) == nil {
		s.printf("watchpoint %d %sd", id, what)
		return nil
	}
	return fmt.Errorf("no breakpoint or watchpoint %d", id)
}

// --- inspection ---

func (s *session) cmdStatus([]string) error {
	status := s.dbg.Status()
	s.printf("status: %s", status)
	switch status {
	case debugger.StatusPaused:
		if pos, ok := s.dbg.Position(); ok {
			s.printf("at %s in %s, call depth %d",
				pos, s.dbg.Symbols().FuncName(pos.Func), s.dbg.CallDepth())
		}
	case debugger.StatusTrapped:
		s.printf("%s", s.st.errTxt.Render(s.dbg.Trap().Error()))
	case debugger.StatusHalted:
		s.printf("exit code %d", s.dbg.ExitCode())
	case debugger.StatusFinished:
		s.reportFinished()
	}
	return nil
}

func (s *session) cmdDisas(args []string) error {
	var funcIdx uint32
	switch {
	case len(args) == 1:
		idx, err := s.resolveFunc(args[0])
		if err != nil {
			return err
		}
		funcIdx = idx
	case len(args) == 0:
		pos, ok := s.dbg.Position()
		if !ok {
			return fmt.Errorf("nothing is running; name a function to disassemble")
		}
		funcIdx = pos.Func
	default:
		return usageErr("disas")
	}

	fn := s.dbg.Func(funcIdx)
	if fn == nil {
		return fmt.Errorf("function %d is imported and has no code", funcIdx)
	}
	s.header(fmt.Sprintf("%s %s", s.dbg.Symbols().FuncName(funcIdx), fn.Type))
	s.listing(code.Disassemble(fn, s.dbg.Symbols()))
	return nil
}

func (s *session) cmdBacktrace([]string) error {
	frames, err := s.dbg.Backtrace()
	if err != nil {
		return err
	}
	if len(frames) == 0 {
		s.printf("no frames; nothing is running")
		return nil
	}
	for i, f := range frames {
		s.printf("#%-2d %s (%s)", i, f.Name, s.st.addr.Render(f.Pos.String()))
	}
	return nil
}

func (s *session) cmdLocals([]string) error {
	vals, err := s.dbg.Locals()
	if err != nil {
		return err
	}
	if len(vals) == 0 {
		s.printf("<no locals>")
		return nil
	}
	pos, _ := s.dbg.Position()
	fn := s.dbg.Func(pos.Func)
	for i, v := range vals {
		slot := fmt.Sprintf("%3d", i)
		if fn != nil && uint32(i) < fn.NumParams() {
			slot += " (param)"
		} else {
			slot += "        "
		}
		if name, ok := s.dbg.Symbols().LocalName(pos.Func, uint32(i)); ok {
			s.printf("%s %s <%s>", slot, v, name)
		} else {
			s.printf("%s %s", slot, v)
		}
	}
	return nil
}

func (s *session) cmdGlobals(args []string) error {
	vals, err := s.dbg.Globals()
	if err != nil {
		return err
	}
	if len(args) > 1 {
		return usageErr("globals")
	}
	if len(args) == 1 {
		idx, err := s.resolveGlobal(args[0])
		if err != nil {
			return err
		}
		if int(idx) >= len(vals) {
			return fmt.Errorf("global %d out of range, module has %d", idx, len(vals))
		}
		s.printGlobal(idx, vals[idx])
		return nil
	}
	if len(vals) == 0 {
		s.printf("<no globals>")
		return nil
	}
	for i, v := range vals {
		s.printGlobal(uint32(i), v)
	}
	return nil
}

func (s *session) printGlobal(idx uint32, v wasmdbg.Value) {
	mut := "const"
	if gt := s.dbg.Module().GlobalTypeAt(idx); gt != nil && gt.Mutable {
		mut = "mut"
	}
	if name, ok := s.dbg.Symbols().RealName(wasm.KindGlobal, idx); ok {
		s.printf("%3d %-5s %s <%s>", idx, mut, v, name)
	} else {
		s.printf("%3d %-5s %s", idx, mut, v)
	}
}

func (s *session) cmdStack([]string) error {
	s.printStack(0)
	return nil
}

func (s *session) cmdLabels([]string) error {
	labels, err := s.dbg.Labels()
	if err != nil {
		return err
	}
	// Innermost first, matching branch depth numbering: "br 0" targets
	// the label printed first.
	for i := len(labels) - 1; i >= 0; i-- {
		l := labels[i]
		depth := len(labels) - 1 - i
		s.printf("%3d %-6s head=%d cont=%d arity=%d stack@%d",
			depth, labelKind(l), l.Head, l.Cont, l.Arity, l.Height)
	}
	return nil
}

func labelKind(l engine.Label) string {
	switch l.Opcode {
	case wasm.OpBlock:
		return "block"
	case wasm.OpLoop:
		return "loop"
	case wasm.OpIf:
		return "if"
	default:
		return "func"
	}
}

func (s *session) cmdMem(args []string) error {
	if len(args) == 0 || len(args) > 2 {
		return usageErr("mem")
	}
	addr, err := parseU32(args[0])
	if err != nil {
		return err
	}
	length := uint32(64)
	if len(args) == 2 {
		if length, err = parseU32(args[1]); err != nil {
			return err
		}
	}
	data, err := s.dbg.ReadMemory(addr, length)
	if err != nil {
		return err
	}
	s.hexdump(addr, data)
	return nil
}

// --- mutation ---

func (s *session) cmdSet(args []string) error {
	if len(args) < 3 {
		return usageErr("set")
	}
	switch args[0] {
	case "local":
		return s.setLocal(args[1], args[2])
	case "global", "g":
		return s.setGlobal(args[1], args[2])
	case "memory", "mem", "m":
		return s.setMemory(args[1], args[2:])
	}
	return usageErr("set")
}

func (s *session) setLocal(idxTok, valTok string) error {
	idx, err := parseU32(idxTok)
	if err != nil {
		return err
	}
	pos, ok := s.dbg.Position()
	if !ok {
		return fmt.Errorf("no active frame to set a local in")
	}
	fn := s.dbg.Func(pos.Func)
	if fn == nil {
		return fmt.Errorf("function %d has no locals", pos.Func)
	}
	vt, ok := fn.LocalType(idx)
	if !ok {
		return fmt.Errorf("local %d out of range, frame has %d", idx, fn.NumLocals())
	}
	kind, _ := wasmdbg.KindOf(vt)
	v, err := wasmdbg.ParseValue(valTok, kind)
	if err != nil {
		return err
	}
	if err := s.dbg.SetLocal(idx, v); err != nil {
		return err
	}
	s.printf("local %d = %s", idx, v)
	return nil
}

func (s *session) setGlobal(idxTok, valTok string) error {
	idx, err := s.resolveGlobal(idxTok)
	if err != nil {
		return err
	}
	gt := s.dbg.Module().GlobalTypeAt(idx)
	if gt == nil {
		return fmt.Errorf("global %d out of range", idx)
	}
	kind, ok := wasmdbg.KindOf(gt.ValType)
	if !ok {
		return fmt.Errorf("global %d has a non-MVP type", idx)
	}
	v, err := wasmdbg.ParseValue(valTok, kind)
	if err != nil {
		return err
	}
	if err := s.dbg.SetGlobal(idx, v); err != nil {
		return err
	}
	s.printf("global %d = %s", idx, v)
	return nil
}

func (s *session) setMemory(addrTok string, byteToks []string) error {
	addr, err := parseU32(addrTok)
	if err != nil {
		return err
	}
	data := make([]byte, len(byteToks))
	for i, tok := range byteToks {
		b, err := strconv.ParseUint(tok, 0, 8)
		if err != nil {
			return fmt.Errorf("not a byte value: %q", tok)
		}
		data[i] = byte(b)
	}
	if err := s.dbg.WriteMemory(addr, data); err != nil {
		return err
	}
	s.printf("%d bytes written at 0x%x", len(data), addr)
	return nil
}

func (s *session) cmdPush(args []string) error {
	var (
		v   wasmdbg.Value
		err error
	)
	switch len(args) {
	case 1:
		v, err = guessValue(args[0])
	case 2:
		kind, ok := kindByName(args[0])
		if !ok {
			return fmt.Errorf("unknown value type %q (want i32, i64, f32, or f64)", args[0])
		}
		v, err = wasmdbg.ParseValue(args[1], kind)
	default:
		return usageErr("push")
	}
	if err != nil {
		return err
	}
	if err := s.dbg.PushValue(v); err != nil {
		return err
	}
	s.printf("pushed %s", v)
	return nil
}

func kindByName(name string) (wasmdbg.ValueKind, bool) {
	switch name {
	case "i32":
		return wasmdbg.KindI32, true
	case "i64":
		return wasmdbg.KindI64, true
	case "f32":
		return wasmdbg.KindF32, true
	case "f64":
		return wasmdbg.KindF64, true
	}
	return 0, false
}

// resolveGlobal accepts a symtab name, "#N", or a bare index.
func (s *session) resolveGlobal(tok string) (uint32, error) {
	if rest, ok := strings.CutPrefix(tok, "#"); ok {
		return parseU32(rest)
	}
	if sym, ok := s.dbg.Symbols().Lookup(tok); ok && sym.Kind == wasm.KindGlobal {
		return sym.Idx, nil
	}
	if idx, err := parseU32(tok); err == nil {
		return idx, nil
	}
	return 0, fmt.Errorf("unknown global %q (try a name, #index, or \"globals\")", tok)
}
