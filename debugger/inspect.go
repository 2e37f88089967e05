package debugger

import (
	"github.com/wippyai/wasmdbg"
	"github.com/wippyai/wasmdbg/code"
	"github.com/wippyai/wasmdbg/engine"
	"github.com/wippyai/wasmdbg/errors"
	"github.com/wippyai/wasmdbg/symtab"
	"github.com/wippyai/wasmdbg/wasm"
)

// StackFrame is one backtrace entry.
type StackFrame struct {
	Func uint32
	Name string
	Pos  wasmdbg.CodePosition
}

// Status returns the session status.
func (d *Debugger) Status() Status {
	return d.status
}

// Loaded reports whether a module is loaded.
func (d *Debugger) Loaded() bool {
	return d.mod != nil
}

// Module returns the loaded module, nil before Load.
func (d *Debugger) Module() *wasm.Module {
	return d.mod
}

// Symbols returns the symbol table, nil before Load.
func (d *Debugger) Symbols() *symtab.Table {
	return d.syms
}

// Func returns the prepared function at funcIdx: nil for imported
// functions and out-of-range indices.
func (d *Debugger) Func(funcIdx uint32) *code.Function {
	if int(funcIdx) >= len(d.funcs) {
		return nil
	}
	return d.funcs[funcIdx]
}

// Trap returns the trap that ended the run, nil unless trapped.
func (d *Debugger) Trap() *engine.Trap {
	if d.st == nil {
		return nil
	}
	return d.st.Trap()
}

// ExitCode returns the proc_exit code, meaningful when halted.
func (d *Debugger) ExitCode() uint32 {
	if d.st == nil {
		return 0
	}
	return d.st.ExitCode()
}

// Position returns the current position. The second result is false when
// no frame is live (idle or after the run ended).
func (d *Debugger) Position() (wasmdbg.CodePosition, bool) {
	if d.st == nil {
		return wasmdbg.CodePosition{}, false
	}
	return d.st.Position()
}

// CallDepth returns the number of live frames.
func (d *Debugger) CallDepth() int {
	if d.st == nil {
		return 0
	}
	return d.st.CallDepth()
}

// Memory exposes the live linear memory for inspection, nil when the
// module has none or nothing is instantiated. Mutate through WriteMemory,
// which enforces the session gate.
func (d *Debugger) Memory() *engine.Memory {
	if d.st == nil {
		return nil
	}
	return d.st.Memory()
}

// Locals returns a copy of the active frame's locals, parameters first.
func (d *Debugger) Locals() ([]wasmdbg.Value, error) {
	f, err := d.activeFrame("locals")
	if err != nil {
		return nil, err
	}
	out := make([]wasmdbg.Value, f.NumLocals())
	for i := range out {
		out[i], _ = f.Local(uint32(i))
	}
	return out, nil
}

// Globals returns a copy of the global array, imports first.
func (d *Debugger) Globals() ([]wasmdbg.Value, error) {
	if err := d.requireState("globals"); err != nil {
		return nil, err
	}
	out := make([]wasmdbg.Value, d.st.NumGlobals())
	for i := range out {
		out[i], _ = d.st.Global(uint32(i))
	}
	return out, nil
}

// ReadMemory copies n bytes at addr out of the linear memory.
func (d *Debugger) ReadMemory(addr, n uint32) ([]byte, error) {
	if err := d.requireState("memory read"); err != nil {
		return nil, err
	}
	mem := d.st.Memory()
	if mem == nil {
		return nil, errors.New(errors.PhaseState, errors.KindNotFound).
			Detail("module has no memory").
			Build()
	}
	b, ok := mem.Read(uint64(addr), n)
	if !ok {
		return nil, errors.New(errors.PhaseState, errors.KindOutOfBounds).
			Path("memory").
			Detail("read [%d, %d) exceeds memory size %d", addr, uint64(addr)+uint64(n), mem.Len()).
			Build()
	}
	return b, nil
}

// StackValues returns a copy of the value stack, bottom first.
func (d *Debugger) StackValues() ([]wasmdbg.Value, error) {
	if err := d.requireState("stack"); err != nil {
		return nil, err
	}
	out := make([]wasmdbg.Value, d.st.StackDepth())
	for i := range out {
		out[i], _ = d.st.StackValue(i)
	}
	return out, nil
}

// Labels returns the active frame's label stack, outermost first. The
// frame's entry label comes first, so a function body with no open blocks
// reports exactly one label.
func (d *Debugger) Labels() ([]engine.Label, error) {
	if _, err := d.activeFrame("labels"); err != nil {
		return nil, err
	}
	return d.st.Labels(), nil
}

// Backtrace returns the call stack, innermost frame first, with resolved
// function names.
func (d *Debugger) Backtrace() ([]StackFrame, error) {
	if err := d.requireState("backtrace"); err != nil {
		return nil, err
	}
	n := d.st.CallDepth()
	out := make([]StackFrame, 0, n)
	for i := 0; i < n; i++ {
		pos := d.st.Frame(i).Pos()
		out = append(out, StackFrame{
			Func: pos.Func,
			Name: d.syms.FuncName(pos.Func),
			Pos:  pos,
		})
	}
	return out, nil
}

// SetLocal writes a local of the active frame. The value's kind must
// match the slot's declared type.
func (d *Debugger) SetLocal(idx uint32, v wasmdbg.Value) error {
	if err := d.canMutate("set local"); err != nil {
		return err
	}
	f, err := d.activeFrame("set local")
	if err != nil {
		return err
	}
	return f.SetLocal(idx, v)
}

// SetGlobal writes a global. Immutable globals reject the write with the
// value unchanged.
func (d *Debugger) SetGlobal(idx uint32, v wasmdbg.Value) error {
	if err := d.canMutate("set global"); err != nil {
		return err
	}
	return d.st.SetGlobal(idx, v)
}

// WriteMemory copies data into the linear memory at addr, bounds-checked
// as one piece: an overhanging write changes nothing.
func (d *Debugger) WriteMemory(addr uint32, data []byte) error {
	if err := d.canMutate("set memory"); err != nil {
		return err
	}
	mem := d.st.Memory()
	if mem == nil {
		return errors.New(errors.PhaseState, errors.KindNotFound).
			Detail("module has no memory").
			Build()
	}
	if !mem.Write(uint64(addr), data) {
		return errors.New(errors.PhaseState, errors.KindOutOfBounds).
			Path("memory").
			Detail("write [%d, %d) exceeds memory size %d",
				addr, uint64(addr)+uint64(len(data)), mem.Len()).
			Build()
	}
	return nil
}

// PushValue pushes onto the value stack.
func (d *Debugger) PushValue(v wasmdbg.Value) error {
	if err := d.canMutate("push"); err != nil {
		return err
	}
	return d.st.Push(v)
}

// SetStackValue overwrites a value-stack slot, counted from the bottom.
// The slot's kind is not checked; stack slots are untyped until consumed.
func (d *Debugger) SetStackValue(i int, v wasmdbg.Value) error {
	if err := d.canMutate("set stack"); err != nil {
		return err
	}
	return d.st.SetStackValue(i, v)
}

// requireState gates reads: anything inspecting runtime data needs an
// instantiated state, live or terminal.
func (d *Debugger) requireState(what string) error {
	if d.mod == nil {
		return errors.NotLoaded(what)
	}
	if d.st == nil {
		return errors.InvalidInput(errors.PhaseState,
			what+": the module failed to instantiate; reset after fixing the input")
	}
	return nil
}

// canMutate gates writes: only an idle or paused session may be mutated.
func (d *Debugger) canMutate(what string) error {
	if err := d.requireState(what); err != nil {
		return err
	}
	if d.status != StatusIdle && d.status != StatusPaused {
		return errors.NotPaused(what)
	}
	return nil
}

func (d *Debugger) activeFrame(what string) (*engine.Frame, error) {
	if err := d.requireState(what); err != nil {
		return nil, err
	}
	f := d.st.Frame(0)
	if f == nil {
		return nil, errors.InvalidInput(errors.PhaseState, what+": no active frame")
	}
	return f, nil
}
