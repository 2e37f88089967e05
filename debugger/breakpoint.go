package debugger

import (
	"bytes"
	"fmt"

	"github.com/wippyai/wasmdbg"
	"github.com/wippyai/wasmdbg/errors"
	"github.com/wippyai/wasmdbg/wasm"
)

// Breakpoint pauses execution when a step lands on its position. Never
// auto-removed; delete or disable it explicitly.
type Breakpoint struct {
	ID       uint32
	Pos      wasmdbg.CodePosition
	Enabled  bool
	HitCount uint64
}

// Watchpoint pauses execution when the watched value observed after a
// step differs from the value observed at the previous check. The target
// is either a global or a memory byte range; a range reaching past the
// current memory size compares only its in-bounds prefix.
type Watchpoint struct {
	ID       uint32
	Global   uint32
	IsGlobal bool
	Addr     uint32
	Len      uint32
	Enabled  bool
	HitCount uint64

	lastValue wasmdbg.Value
	lastBytes []byte
}

// Target renders the watched location for listings.
func (w *Watchpoint) Target() string {
	if w.IsGlobal {
		return fmt.Sprintf("global %d", w.Global)
	}
	return fmt.Sprintf("memory [%d, %d)", w.Addr, uint64(w.Addr)+uint64(w.Len))
}

// AddBreakpoint sets a breakpoint at an exact position. The function must
// be a defined function and the instruction index in range.
func (d *Debugger) AddBreakpoint(pos wasmdbg.CodePosition) (uint32, error) {
	if d.mod == nil {
		return 0, errors.NotLoaded("break")
	}
	if int(pos.Func) >= len(d.funcs) {
		return 0, errors.New(errors.PhaseResolve, errors.KindNotFound).
			Detail("function %d out of range, module has %d", pos.Func, len(d.funcs)).
			Build()
	}
	fn := d.funcs[pos.Func]
	if fn == nil {
		return 0, errors.New(errors.PhaseResolve, errors.KindInvalidInput).
			Detail("function %d is imported and has no instructions", pos.Func).
			Build()
	}
	if pos.Instr >= uint32(len(fn.Instrs)) {
		return 0, errors.New(errors.PhaseResolve, errors.KindOutOfBounds).
			Detail("instruction %d out of range, function %d has %d instructions",
				pos.Instr, pos.Func, len(fn.Instrs)).
			Build()
	}

	id := d.takeID()
	d.breakpoints = append(d.breakpoints, &Breakpoint{ID: id, Pos: pos, Enabled: true})
	return id, nil
}

// AddFuncBreakpoint sets a breakpoint on a function's entry, which is its
// instruction 0.
func (d *Debugger) AddFuncBreakpoint(funcIdx uint32) (uint32, error) {
	return d.AddBreakpoint(wasmdbg.CodePosition{Func: funcIdx})
}

// DeleteBreakpoint removes a breakpoint by id.
func (d *Debugger) DeleteBreakpoint(id uint32) error {
	for i, bp := range d.breakpoints {
		if bp.ID == id {
			d.breakpoints = append(d.breakpoints[:i], d.breakpoints[i+1:]...)
			return nil
		}
	}
	return errors.NotFound(errors.PhaseResolve, "breakpoint", fmt.Sprint(id))
}

// EnableBreakpoint toggles a breakpoint by id.
func (d *Debugger) EnableBreakpoint(id uint32, on bool) error {
	for _, bp := range d.breakpoints {
		if bp.ID == id {
			bp.Enabled = on
			return nil
		}
	}
	return errors.NotFound(errors.PhaseResolve, "breakpoint", fmt.Sprint(id))
}

// Breakpoints lists the breakpoints in creation order.
func (d *Debugger) Breakpoints() []Breakpoint {
	out := make([]Breakpoint, len(d.breakpoints))
	for i, bp := range d.breakpoints {
		out[i] = *bp
	}
	return out
}

// WatchGlobal watches a global for changes.
func (d *Debugger) WatchGlobal(idx uint32) (uint32, error) {
	if d.mod == nil {
		return 0, errors.NotLoaded("watch")
	}
	if n := d.globalCount(); int(idx) >= n {
		return 0, errors.New(errors.PhaseResolve, errors.KindOutOfBounds).
			Detail("global %d out of range, module has %d", idx, n).
			Build()
	}

	wp := &Watchpoint{ID: d.takeID(), Global: idx, IsGlobal: true, Enabled: true}
	if d.st != nil {
		if v, ok := d.st.Global(idx); ok {
			wp.lastValue = v
		}
	}
	d.watchpoints = append(d.watchpoints, wp)
	return wp.ID, nil
}

// WatchMemory watches the byte range [addr, addr+length) for changes.
func (d *Debugger) WatchMemory(addr, length uint32) (uint32, error) {
	if d.mod == nil {
		return 0, errors.NotLoaded("watch")
	}
	if length == 0 {
		return 0, errors.InvalidInput(errors.PhaseResolve, "watch range is empty")
	}
	if !d.hasMemory() {
		return 0, errors.New(errors.PhaseResolve, errors.KindNotFound).
			Detail("module has no memory to watch").
			Build()
	}

	wp := &Watchpoint{ID: d.takeID(), Addr: addr, Len: length, Enabled: true}
	if d.st != nil {
		wp.lastBytes = d.watchWindow(wp)
	}
	d.watchpoints = append(d.watchpoints, wp)
	return wp.ID, nil
}

// DeleteWatchpoint removes a watchpoint by id.
func (d *Debugger) DeleteWatchpoint(id uint32) error {
	for i, wp := range d.watchpoints {
		if wp.ID == id {
			d.watchpoints = append(d.watchpoints[:i], d.watchpoints[i+1:]...)
			return nil
		}
	}
	return errors.NotFound(errors.PhaseResolve, "watchpoint", fmt.Sprint(id))
}

// EnableWatchpoint toggles a watchpoint by id. Re-enabling re-reads the
// stored value so changes made while disabled do not fire retroactively.
func (d *Debugger) EnableWatchpoint(id uint32, on bool) error {
	for _, wp := range d.watchpoints {
		if wp.ID == id {
			wp.Enabled = on
			if on && d.st != nil {
				d.reseed(wp)
			}
			return nil
		}
	}
	return errors.NotFound(errors.PhaseResolve, "watchpoint", fmt.Sprint(id))
}

// Watchpoints lists the watchpoints in creation order.
func (d *Debugger) Watchpoints() []Watchpoint {
	out := make([]Watchpoint, len(d.watchpoints))
	for i, wp := range d.watchpoints {
		out[i] = *wp
	}
	return out
}

// takeID hands out ids from one counter shared by breakpoints and
// watchpoints, so delete-by-id at the shell is unambiguous.
func (d *Debugger) takeID() uint32 {
	id := d.nextID
	d.nextID++
	return id
}

func (d *Debugger) enabledBreakpointAt(pos wasmdbg.CodePosition) *Breakpoint {
	for _, bp := range d.breakpoints {
		if bp.Enabled && bp.Pos == pos {
			return bp
		}
	}
	return nil
}

// checkWatchpoints compares every enabled watchpoint against the live
// state, refreshing the stored values. All changed watchpoints count a
// hit; the first changed one is reported.
func (d *Debugger) checkWatchpoints() *Watchpoint {
	var hit *Watchpoint
	for _, wp := range d.watchpoints {
		if !wp.Enabled || !d.observeChange(wp) {
			continue
		}
		wp.HitCount++
		if hit == nil {
			hit = wp
		}
	}
	return hit
}

// observeChange reads the watched value, stores it, and reports whether
// it differed from the previous observation.
func (d *Debugger) observeChange(wp *Watchpoint) bool {
	if wp.IsGlobal {
		v, ok := d.st.Global(wp.Global)
		if !ok || v == wp.lastValue {
			return false
		}
		wp.lastValue = v
		return true
	}
	cur := d.watchWindow(wp)
	if bytes.Equal(cur, wp.lastBytes) {
		return false
	}
	wp.lastBytes = cur
	return true
}

// seedWatchpoints re-reads every stored value from the current state.
// Called at the start of each run so a fresh instantiation is not
// mistaken for a change.
func (d *Debugger) seedWatchpoints() {
	for _, wp := range d.watchpoints {
		d.reseed(wp)
	}
}

func (d *Debugger) reseed(wp *Watchpoint) {
	if wp.IsGlobal {
		if v, ok := d.st.Global(wp.Global); ok {
			wp.lastValue = v
		}
	} else {
		wp.lastBytes = d.watchWindow(wp)
	}
}

// watchWindow reads the in-bounds prefix of the watched range. Growth can
// lengthen the window, which then counts as an observed change.
func (d *Debugger) watchWindow(wp *Watchpoint) []byte {
	mem := d.st.Memory()
	if mem == nil {
		return nil
	}
	size := mem.Len()
	addr := uint64(wp.Addr)
	if addr >= size {
		return nil
	}
	end := addr + uint64(wp.Len)
	if end > size {
		end = size
	}
	window, _ := mem.Read(addr, uint32(end-addr))
	return window
}

func (d *Debugger) globalCount() int {
	n := len(d.mod.Globals)
	for i := range d.mod.Imports {
		if d.mod.Imports[i].Desc.Kind == wasm.KindGlobal {
			n++
		}
	}
	return n
}

func (d *Debugger) hasMemory() bool {
	if len(d.mod.Memories) > 0 {
		return true
	}
	for i := range d.mod.Imports {
		if d.mod.Imports[i].Desc.Kind == wasm.KindMemory {
			return true
		}
	}
	return false
}
