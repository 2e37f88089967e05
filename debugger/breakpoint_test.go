package debugger_test

import (
	"strings"
	"testing"

	"github.com/wippyai/wasmdbg"
	"github.com/wippyai/wasmdbg/debugger"
	"github.com/wippyai/wasmdbg/wasm"
)

// memStoreModule: one memory page, main stores a byte at 16 and another
// at 100.
func memStoreModule() *wasm.Module {
	mod := &wasm.Module{}
	tv := mod.AddType(wasm.FuncType{})
	mod.Funcs = []uint32{tv}
	mod.Code = []wasm.FuncBody{
		{Code: ins(
			i32const(16), i32const(0x55), op(wasm.OpI32Store8, 0, 0),
			op(wasm.OpNop),
			i32const(100), i32const(0x66), op(wasm.OpI32Store8, 0, 0),
			op(wasm.OpEnd),
		)},
	}
	mod.Memories = []wasm.MemoryType{{Limits: wasm.Limits{Min: 1}}}
	export(mod, "main", 0)
	return mod
}

func TestBreakpointFires(t *testing.T) {
	dbg := load(t, addModule())
	id, err := dbg.AddBreakpoint(wasmdbg.CodePosition{Func: 1, Instr: 2})
	if err != nil {
		t.Fatalf("AddBreakpoint: %v", err)
	}

	stop, err := dbg.Run()
	wantStop(t, stop, err, debugger.ReasonBreakpoint)
	wantPos(t, stop, 1, 2)
	if stop.ID != id {
		t.Fatalf("stop.ID = %d, want %d", stop.ID, id)
	}

	// The breakpoint's instruction has not executed yet: both call
	// arguments are staged, the call itself is pending.
	vals, _ := dbg.StackValues()
	if len(vals) != 2 || vals[0] != wasmdbg.I32(2) || vals[1] != wasmdbg.I32(3) {
		t.Fatalf("stack at breakpoint = %v, want [i32(2) i32(3)]", vals)
	}

	stop, err = dbg.Continue()
	wantStop(t, stop, err, debugger.ReasonFinish)

	bps := dbg.Breakpoints()
	if len(bps) != 1 || bps[0].HitCount != 1 {
		t.Fatalf("breakpoints = %+v, want one with hit count 1", bps)
	}
}

func TestFuncBreakpointStopsInCallee(t *testing.T) {
	dbg := load(t, addModule())
	if _, err := dbg.AddFuncBreakpoint(0); err != nil {
		t.Fatalf("AddFuncBreakpoint: %v", err)
	}

	stop, err := dbg.Run()
	wantStop(t, stop, err, debugger.ReasonBreakpoint)
	wantPos(t, stop, 0, 0)
	if dbg.CallDepth() != 2 {
		t.Fatalf("call depth = %d, want 2", dbg.CallDepth())
	}
	locals, err := dbg.Locals()
	if err != nil {
		t.Fatalf("Locals: %v", err)
	}
	if len(locals) != 2 || locals[0] != wasmdbg.I32(2) || locals[1] != wasmdbg.I32(3) {
		t.Fatalf("callee locals = %v, want the call arguments", locals)
	}
}

func TestBreakpointOnEntryPausesBeforeExecution(t *testing.T) {
	dbg := load(t, addModule())
	if _, err := dbg.AddFuncBreakpoint(1); err != nil {
		t.Fatalf("AddFuncBreakpoint: %v", err)
	}

	stop, err := dbg.Run()
	wantStop(t, stop, err, debugger.ReasonBreakpoint)
	wantPos(t, stop, 1, 0)
	vals, _ := dbg.StackValues()
	if len(vals) != 0 {
		t.Fatalf("stack = %v at the entry breakpoint, want empty", vals)
	}
	stop, err = dbg.Continue()
	wantStop(t, stop, err, debugger.ReasonFinish)
}

func TestBreakpointToggle(t *testing.T) {
	dbg := load(t, addModule())
	id, err := dbg.AddBreakpoint(wasmdbg.CodePosition{Func: 1, Instr: 1})
	if err != nil {
		t.Fatalf("AddBreakpoint: %v", err)
	}
	if err := dbg.EnableBreakpoint(id, false); err != nil {
		t.Fatalf("EnableBreakpoint: %v", err)
	}

	stop, err := dbg.Run()
	wantStop(t, stop, err, debugger.ReasonFinish)

	if err := dbg.EnableBreakpoint(id, true); err != nil {
		t.Fatalf("EnableBreakpoint: %v", err)
	}
	stop, err = dbg.Run()
	wantStop(t, stop, err, debugger.ReasonBreakpoint)

	if err := dbg.DeleteBreakpoint(id); err != nil {
		t.Fatalf("DeleteBreakpoint: %v", err)
	}
	if err := dbg.DeleteBreakpoint(id); err == nil || !strings.Contains(err.Error(), "not found") {
		t.Fatalf("deleting twice: %v", err)
	}
	if err := dbg.EnableBreakpoint(99, true); err == nil || !strings.Contains(err.Error(), "not found") {
		t.Fatalf("enabling an unknown id: %v", err)
	}
}

func TestBreakpointValidation(t *testing.T) {
	dbg := load(t, addModule())
	if _, err := dbg.AddBreakpoint(wasmdbg.CodePosition{Func: 9}); err == nil ||
		!strings.Contains(err.Error(), "out of range") {
		t.Fatalf("function out of range: %v", err)
	}
	if _, err := dbg.AddBreakpoint(wasmdbg.CodePosition{Func: 1, Instr: 99}); err == nil ||
		!strings.Contains(err.Error(), "out of range") {
		t.Fatalf("instruction out of range: %v", err)
	}

	// Imported functions have no instructions to break on.
	mod := &wasm.Module{}
	tExit := mod.AddType(wasm.FuncType{Params: []wasm.ValType{wasm.ValI32}})
	tv := mod.AddType(wasm.FuncType{})
	mod.Imports = []wasm.Import{
		{Module: "wasi_snapshot_preview1", Name: "proc_exit", Desc: wasm.ImportDesc{Kind: wasm.KindFunc, TypeIdx: tExit}},
	}
	mod.Funcs = []uint32{tv}
	mod.Code = []wasm.FuncBody{{Code: ins(op(wasm.OpEnd))}}
	export(mod, "main", 1)
	dbg = load(t, mod)
	if _, err := dbg.AddFuncBreakpoint(0); err == nil || !strings.Contains(err.Error(), "imported") {
		t.Fatalf("breakpoint on an import: %v", err)
	}
}

func TestWatchGlobalTriggersOncePerChange(t *testing.T) {
	dbg := load(t, gsetModule())
	id, err := dbg.WatchGlobal(0)
	if err != nil {
		t.Fatalf("WatchGlobal: %v", err)
	}

	stop, err := dbg.Run()
	wantStop(t, stop, err, debugger.ReasonWatchpoint)
	wantPos(t, stop, 0, 3)
	if stop.ID != id {
		t.Fatalf("stop.ID = %d, want %d", stop.ID, id)
	}
	globals, _ := dbg.Globals()
	if globals[0] != wasmdbg.I32(7) {
		t.Fatalf("global 0 = %v at the watch stop, want i32(7)", globals[0])
	}

	// The stored value refreshed at the stop: the unchanged tail of the
	// run does not re-trigger.
	stop, err = dbg.Continue()
	wantStop(t, stop, err, debugger.ReasonFinish)
	wps := dbg.Watchpoints()
	if len(wps) != 1 || wps[0].HitCount != 1 {
		t.Fatalf("watchpoints = %+v, want one with hit count 1", wps)
	}

	t.Run("write-back is not a change", func(t *testing.T) {
		dbg := load(t, gsetModule())
		if _, err := dbg.WatchGlobal(0); err != nil {
			t.Fatalf("WatchGlobal: %v", err)
		}
		if _, err := dbg.Start(); err != nil {
			t.Fatalf("Start: %v", err)
		}
		if err := dbg.SetGlobal(0, wasmdbg.I32(7)); err != nil {
			t.Fatalf("SetGlobal: %v", err)
		}
		if err := dbg.SetGlobal(0, wasmdbg.I32(0)); err != nil {
			t.Fatalf("SetGlobal: %v", err)
		}
		stop, err := dbg.Step(1)
		wantStop(t, stop, err, debugger.ReasonStep)
	})

	t.Run("mutation observed at the next step", func(t *testing.T) {
		dbg := load(t, gsetModule())
		id, err := dbg.WatchGlobal(0)
		if err != nil {
			t.Fatalf("WatchGlobal: %v", err)
		}
		if _, err := dbg.Start(); err != nil {
			t.Fatalf("Start: %v", err)
		}
		if err := dbg.SetGlobal(0, wasmdbg.I32(9)); err != nil {
			t.Fatalf("SetGlobal: %v", err)
		}
		stop, err := dbg.Step(1)
		wantStop(t, stop, err, debugger.ReasonWatchpoint)
		if stop.ID != id {
			t.Fatalf("stop.ID = %d, want %d", stop.ID, id)
		}
	})
}

func TestWatchMemoryRange(t *testing.T) {
	dbg := load(t, memStoreModule())
	id, err := dbg.WatchMemory(16, 4)
	if err != nil {
		t.Fatalf("WatchMemory: %v", err)
	}

	stop, err := dbg.Run()
	wantStop(t, stop, err, debugger.ReasonWatchpoint)
	wantPos(t, stop, 0, 3)
	if stop.ID != id {
		t.Fatalf("stop.ID = %d, want %d", stop.ID, id)
	}
	b, err := dbg.ReadMemory(16, 1)
	if err != nil {
		t.Fatalf("ReadMemory: %v", err)
	}
	if b[0] != 0x55 {
		t.Fatalf("memory[16] = %#x, want 0x55", b[0])
	}

	// The second store lands at 100, outside the watched window.
	stop, err = dbg.Continue()
	wantStop(t, stop, err, debugger.ReasonFinish)
	wps := dbg.Watchpoints()
	if len(wps) != 1 || wps[0].HitCount != 1 {
		t.Fatalf("watchpoints = %+v, want one with hit count 1", wps)
	}
}

func TestWatchEnableReseedsBaseline(t *testing.T) {
	dbg := load(t, gsetModule())
	id, err := dbg.WatchGlobal(0)
	if err != nil {
		t.Fatalf("WatchGlobal: %v", err)
	}
	if err := dbg.EnableWatchpoint(id, false); err != nil {
		t.Fatalf("EnableWatchpoint: %v", err)
	}
	if _, err := dbg.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	// Step past the global.set while the watchpoint is disabled.
	if _, err := dbg.Step(3); err != nil {
		t.Fatalf("Step: %v", err)
	}

	// Re-enabling snapshots the current value, so the earlier change
	// cannot fire retroactively.
	if err := dbg.EnableWatchpoint(id, true); err != nil {
		t.Fatalf("EnableWatchpoint: %v", err)
	}
	stop, err := dbg.Continue()
	wantStop(t, stop, err, debugger.ReasonFinish)
}

func TestWatchValidation(t *testing.T) {
	dbg := load(t, gsetModule())
	if _, err := dbg.WatchGlobal(5); err == nil || !strings.Contains(err.Error(), "out of range") {
		t.Fatalf("global out of range: %v", err)
	}
	if _, err := dbg.WatchMemory(0, 4); err == nil || !strings.Contains(err.Error(), "no memory") {
		t.Fatalf("watch without a memory: %v", err)
	}

	dbg = load(t, memStoreModule())
	if _, err := dbg.WatchMemory(0, 0); err == nil || !strings.Contains(err.Error(), "empty") {
		t.Fatalf("empty watch range: %v", err)
	}
	if err := dbg.DeleteWatchpoint(42); err == nil || !strings.Contains(err.Error(), "not found") {
		t.Fatalf("deleting an unknown watchpoint: %v", err)
	}
}

func TestResetKeepsBreakpointsLoadClears(t *testing.T) {
	mod := addModule()
	dbg := load(t, mod)
	if _, err := dbg.AddBreakpoint(wasmdbg.CodePosition{Func: 1, Instr: 1}); err != nil {
		t.Fatalf("AddBreakpoint: %v", err)
	}
	if _, err := dbg.WatchGlobal(0); err == nil {
		t.Fatal("expected WatchGlobal to fail, module has no globals")
	}

	stop, err := dbg.Run()
	wantStop(t, stop, err, debugger.ReasonBreakpoint)
	if err := dbg.Reset(); err != nil {
		t.Fatalf("Reset: %v", err)
	}
	bps := dbg.Breakpoints()
	if len(bps) != 1 || bps[0].HitCount != 1 {
		t.Fatalf("breakpoints after reset = %+v, want the old one with its count", bps)
	}
	stop, err = dbg.Run()
	wantStop(t, stop, err, debugger.ReasonBreakpoint)
	if dbg.Breakpoints()[0].HitCount != 2 {
		t.Fatalf("hit count = %d after the second run, want 2", dbg.Breakpoints()[0].HitCount)
	}

	if err := dbg.Load(mod.Encode()); err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(dbg.Breakpoints()) != 0 || len(dbg.Watchpoints()) != 0 {
		t.Fatal("Load must clear breakpoints and watchpoints")
	}
}

func TestBreakpointWatchpointShareIDs(t *testing.T) {
	dbg := load(t, memStoreModule())
	bpID, err := dbg.AddFuncBreakpoint(0)
	if err != nil {
		t.Fatalf("AddFuncBreakpoint: %v", err)
	}
	wpID, err := dbg.WatchMemory(0, 8)
	if err != nil {
		t.Fatalf("WatchMemory: %v", err)
	}
	if bpID == wpID {
		t.Fatalf("breakpoint and watchpoint share id %d", bpID)
	}
	wps := dbg.Watchpoints()
	if len(wps) != 1 || !strings.Contains(wps[0].Target(), "memory") {
		t.Fatalf("watchpoint target = %q, want a memory range", wps[0].Target())
	}
}
