package debugger

import (
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/wippyai/wasmdbg"
	"github.com/wippyai/wasmdbg/code"
	"github.com/wippyai/wasmdbg/engine"
	"github.com/wippyai/wasmdbg/errors"
	"github.com/wippyai/wasmdbg/symtab"
	"github.com/wippyai/wasmdbg/wasm"
)

// Status is the controller's view of the session.
type Status int

const (
	// StatusIdle means a module is loaded but no run is in flight.
	StatusIdle Status = iota
	// StatusRunning is only ever observable from inside a control call.
	StatusRunning
	// StatusPaused means execution stopped at a known position.
	StatusPaused
	// StatusTrapped, StatusHalted, and StatusFinished are terminal for the
	// run: trapped on a fault, halted by proc_exit, finished normally.
	StatusTrapped
	StatusHalted
	StatusFinished
)

func (s Status) String() string {
	switch s {
	case StatusIdle:
		return "idle"
	case StatusRunning:
		return "running"
	case StatusPaused:
		return "paused"
	case StatusTrapped:
		return "trapped"
	case StatusHalted:
		return "halted"
	case StatusFinished:
		return "finished"
	}
	return "unknown"
}

// Terminal reports whether the run has ended one way or another.
func (s Status) Terminal() bool {
	return s == StatusTrapped || s == StatusHalted || s == StatusFinished
}

// StopReason says why a control call returned.
type StopReason int

const (
	// ReasonStep: the requested number of steps completed, or start/next/
	// finish reached their implicit stop condition.
	ReasonStep StopReason = iota
	// ReasonBreakpoint: an enabled breakpoint matched the new position.
	ReasonBreakpoint
	// ReasonWatchpoint: a watched value changed across a step boundary.
	ReasonWatchpoint
	// ReasonInterrupt: Interrupt was called while the run was in flight.
	ReasonInterrupt
	// ReasonTrap, ReasonHalt, ReasonFinish: the run ended.
	ReasonTrap
	ReasonHalt
	ReasonFinish
)

func (r StopReason) String() string {
	switch r {
	case ReasonStep:
		return "step"
	case ReasonBreakpoint:
		return "breakpoint"
	case ReasonWatchpoint:
		return "watchpoint"
	case ReasonInterrupt:
		return "interrupted"
	case ReasonTrap:
		return "trap"
	case ReasonHalt:
		return "halt"
	case ReasonFinish:
		return "finished"
	}
	return "unknown"
}

// Stop reports where and why a control call came to rest. Pos is
// meaningful for step, breakpoint, watchpoint, interrupt, and trap stops;
// ID names the breakpoint or watchpoint when the reason is one of those.
type Stop struct {
	Reason StopReason
	Pos    wasmdbg.CodePosition
	ID     uint32
}

type hostReg struct {
	module string
	name   string
	fn     engine.HostFunc
}

// Debugger drives one debug session: a loaded module, at most one live
// engine state, and the breakpoint/watchpoint tables. All methods must be
// called from a single goroutine; Interrupt is the one exception.
type Debugger struct {
	logger *zap.Logger
	limits engine.Limits
	hosts  []hostReg

	mod   *wasm.Module
	funcs []*code.Function
	syms  *symtab.Table

	st     *engine.State
	status Status

	breakpoints []*Breakpoint
	watchpoints []*Watchpoint
	nextID      uint32

	interrupted atomic.Bool
}

// Option configures a Debugger.
type Option func(*Debugger)

// WithLogger replaces the default Nop logger.
func WithLogger(l *zap.Logger) Option {
	return func(d *Debugger) {
		if l != nil {
			d.logger = l
		}
	}
}

// WithLimits overrides the engine's execution stack limits for every state
// this debugger instantiates.
func WithLimits(l engine.Limits) Option {
	return func(d *Debugger) {
		d.limits = l
	}
}

// WithHostFunc registers a host function for the import module.name on
// every state this debugger instantiates.
func WithHostFunc(module, name string, fn engine.HostFunc) Option {
	return func(d *Debugger) {
		d.hosts = append(d.hosts, hostReg{module: module, name: name, fn: fn})
	}
}

// New creates an empty debugger. Load gives it a module.
func New(opts ...Option) *Debugger {
	d := &Debugger{
		logger: zap.NewNop(),
		nextID: 1,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Load replaces the session's module: decode, prepare code, build the
// symbol table, and instantiate an idle state. A failed decode leaves the
// previous session untouched; a module that decodes but fails to
// instantiate (a bad initializer, an out-of-range data segment) is kept
// loaded for inspection and the error is returned.
//
// Breakpoints and watchpoints are cleared: their addresses belong to the
// old module.
func (d *Debugger) Load(bin []byte) error {
	mod, err := wasm.ParseModule(bin)
	if err != nil {
		return err
	}
	funcs, err := code.Prepare(mod)
	if err != nil {
		return err
	}

	d.mod = mod
	d.funcs = funcs
	d.syms = symtab.New(mod)
	d.breakpoints = nil
	d.watchpoints = nil
	d.st = nil
	d.status = StatusIdle
	d.interrupted.Store(false)

	if err := d.instantiate(); err != nil {
		return err
	}
	d.logger.Info("module loaded",
		zap.Int("functions", mod.NumFuncs()),
		zap.Int("exports", len(mod.Exports)),
		zap.Int("bytes", len(bin)))
	return nil
}

// Reset drops the run and re-instantiates a fresh idle state. Breakpoints
// and watchpoints survive; only Load clears them.
func (d *Debugger) Reset() error {
	if d.mod == nil {
		return errors.NotLoaded("reset")
	}
	d.interrupted.Store(false)
	d.status = StatusIdle
	return d.instantiate()
}

func (d *Debugger) instantiate() error {
	opts := []engine.Option{
		engine.WithLogger(d.logger),
		engine.WithLimits(d.limits),
	}
	for _, h := range d.hosts {
		opts = append(opts, engine.WithHostFunc(h.module, h.name, h.fn))
	}
	st, err := engine.New(d.mod, d.funcs, opts...)
	if err != nil {
		d.st = nil
		return err
	}
	d.st = st
	return nil
}

// entryFunc picks the function Run and Start execute: the start section
// if present, else an exported _start, else an exported main.
func (d *Debugger) entryFunc() (uint32, error) {
	if d.mod.Start != nil {
		return *d.mod.Start, nil
	}
	for _, name := range []string{"_start", "main"} {
		for i := range d.mod.Exports {
			exp := &d.mod.Exports[i]
			if exp.Kind == wasm.KindFunc && exp.Name == name {
				return exp.Idx, nil
			}
		}
	}
	return 0, errors.New(errors.PhaseResolve, errors.KindNotFound).
		Detail("module has no start section and exports neither _start nor main").
		Build()
}

// beginRun gates Run, Start, and Call. From a terminal status it
// re-instantiates; from idle it keeps the current state so mutations made
// before the run carry into it.
func (d *Debugger) beginRun(what string) error {
	if d.mod == nil {
		return errors.NotLoaded(what)
	}
	if d.status == StatusPaused || d.status == StatusRunning {
		return errors.InvalidInput(errors.PhaseState,
			what+": a run is in progress; continue it or reset first")
	}
	d.interrupted.Store(false)
	if d.st == nil || d.status != StatusIdle {
		if err := d.instantiate(); err != nil {
			return err
		}
	}
	d.status = StatusIdle
	d.seedWatchpoints()
	return nil
}

// launch invokes the function on the fresh state. A returned Stop means
// the invoke itself already ended the run (frame setup can trap).
func (d *Debugger) launch(funcIdx uint32, args []wasmdbg.Value) (*Stop, error) {
	if err := d.st.Invoke(funcIdx, args); err != nil {
		return nil, err
	}
	if stop := d.noteTerminal(); stop != nil {
		return stop, nil
	}
	return nil, nil
}

// Run executes from the module's entry to the next stop. The entry is
// checked against breakpoints before the first step, so a breakpoint on
// the entry function pauses with nothing executed.
func (d *Debugger) Run() (*Stop, error) {
	if err := d.beginRun("run"); err != nil {
		return nil, err
	}
	entry, err := d.entryFunc()
	if err != nil {
		return nil, err
	}
	return d.runFrom(entry, nil)
}

// Call executes one function with the given arguments, from a fresh state
// unless the session is idle.
func (d *Debugger) Call(funcIdx uint32, args []wasmdbg.Value) (*Stop, error) {
	if err := d.beginRun("call"); err != nil {
		return nil, err
	}
	return d.runFrom(funcIdx, args)
}

func (d *Debugger) runFrom(funcIdx uint32, args []wasmdbg.Value) (*Stop, error) {
	if stop, err := d.launch(funcIdx, args); stop != nil || err != nil {
		return stop, err
	}
	d.logger.Debug("run started", zap.Uint32("func", funcIdx), zap.Int("args", len(args)))
	if stop := d.entryBreakpoint(); stop != nil {
		return stop, nil
	}
	return d.resume()
}

// Start seeds the entry like Run but pauses before the first instruction.
func (d *Debugger) Start() (*Stop, error) {
	if err := d.beginRun("start"); err != nil {
		return nil, err
	}
	entry, err := d.entryFunc()
	if err != nil {
		return nil, err
	}
	if stop, err := d.launch(entry, nil); stop != nil || err != nil {
		return stop, err
	}
	d.status = StatusPaused
	return &Stop{Reason: ReasonStep, Pos: d.curPos()}, nil
}

// Continue resumes a paused run until the next stop.
func (d *Debugger) Continue() (*Stop, error) {
	if err := d.requirePaused("continue"); err != nil {
		return nil, err
	}
	d.interrupted.Store(false)
	return d.resume()
}

// Step advances exactly n instructions (default 1), pausing early if a
// breakpoint or watchpoint fires or the run ends.
func (d *Debugger) Step(n int) (*Stop, error) {
	if err := d.requirePaused("step"); err != nil {
		return nil, err
	}
	d.interrupted.Store(false)
	if n < 1 {
		n = 1
	}
	d.status = StatusRunning
	for i := 0; i < n; i++ {
		if stop, err := d.advance(); stop != nil || err != nil {
			return stop, err
		}
	}
	d.status = StatusPaused
	return &Stop{Reason: ReasonStep, Pos: d.curPos()}, nil
}

// Next advances n instructions like Step but steps over calls: after a
// step that deepens the call stack it keeps going until the depth is back
// at the recorded level. Breakpoints and watchpoints still fire inside
// the callee.
func (d *Debugger) Next(n int) (*Stop, error) {
	if err := d.requirePaused("next"); err != nil {
		return nil, err
	}
	d.interrupted.Store(false)
	if n < 1 {
		n = 1
	}
	d.status = StatusRunning
	for i := 0; i < n; i++ {
		depth := d.st.CallDepth()
		for {
			if stop, err := d.advance(); stop != nil || err != nil {
				return stop, err
			}
			if d.st.CallDepth() <= depth {
				break
			}
		}
	}
	d.status = StatusPaused
	return &Stop{Reason: ReasonStep, Pos: d.curPos()}, nil
}

// Finish runs until the current frame returns: the call depth drops below
// the level recorded at entry. In the outermost frame that is a plain run
// to the end.
func (d *Debugger) Finish() (*Stop, error) {
	if err := d.requirePaused("finish"); err != nil {
		return nil, err
	}
	d.interrupted.Store(false)
	depth := d.st.CallDepth()
	d.status = StatusRunning
	for {
		if stop, err := d.advance(); stop != nil || err != nil {
			return stop, err
		}
		if d.st.CallDepth() < depth {
			d.status = StatusPaused
			return &Stop{Reason: ReasonStep, Pos: d.curPos()}, nil
		}
	}
}

// Interrupt requests a pause at the next step boundary. Safe to call from
// another goroutine or a signal handler; a no-op when nothing is running.
func (d *Debugger) Interrupt() {
	d.interrupted.Store(true)
}

// resume is the shared run loop: step until something stops the run.
func (d *Debugger) resume() (*Stop, error) {
	d.status = StatusRunning
	for {
		if stop, err := d.advance(); stop != nil || err != nil {
			return stop, err
		}
	}
}

// advance performs one step plus all post-step checks. A nil, nil return
// means the run goes on.
func (d *Debugger) advance() (*Stop, error) {
	if d.interrupted.Swap(false) {
		d.status = StatusPaused
		return &Stop{Reason: ReasonInterrupt, Pos: d.curPos()}, nil
	}
	stop, err := d.stepOnce()
	if err != nil {
		d.status = StatusPaused
		return nil, err
	}
	return stop, nil
}

// stepOnce advances the engine one instruction and applies the stop rules
// in order: terminal status, then breakpoints, then watchpoints.
func (d *Debugger) stepOnce() (*Stop, error) {
	if err := d.st.Step(); err != nil {
		if stop := d.noteTerminal(); stop != nil {
			return stop, nil
		}
		return nil, err
	}
	if stop := d.noteTerminal(); stop != nil {
		return stop, nil
	}
	pos, _ := d.st.Position()
	if bp := d.enabledBreakpointAt(pos); bp != nil {
		bp.HitCount++
		d.status = StatusPaused
		d.logger.Debug("breakpoint hit", zap.Uint32("id", bp.ID), zap.Stringer("pos", pos))
		return &Stop{Reason: ReasonBreakpoint, Pos: pos, ID: bp.ID}, nil
	}
	if wp := d.checkWatchpoints(); wp != nil {
		d.status = StatusPaused
		d.logger.Debug("watchpoint hit", zap.Uint32("id", wp.ID), zap.Stringer("pos", pos))
		return &Stop{Reason: ReasonWatchpoint, Pos: pos, ID: wp.ID}, nil
	}
	return nil, nil
}

// noteTerminal maps a terminal engine status onto the controller.
func (d *Debugger) noteTerminal() *Stop {
	switch d.st.Status() {
	case engine.StatusTrapped:
		d.status = StatusTrapped
		return &Stop{Reason: ReasonTrap, Pos: d.st.Trap().Pos}
	case engine.StatusHalted:
		d.status = StatusHalted
		return &Stop{Reason: ReasonHalt}
	case engine.StatusFinished:
		d.status = StatusFinished
		return &Stop{Reason: ReasonFinish}
	}
	return nil
}

// entryBreakpoint fires a breakpoint sitting on the position a fresh run
// starts at. Mid-run breakpoints are checked after each step lands on a
// new position, which never visits the entry instruction itself.
func (d *Debugger) entryBreakpoint() *Stop {
	pos, ok := d.st.Position()
	if !ok {
		return nil
	}
	bp := d.enabledBreakpointAt(pos)
	if bp == nil {
		return nil
	}
	bp.HitCount++
	d.status = StatusPaused
	return &Stop{Reason: ReasonBreakpoint, Pos: pos, ID: bp.ID}
}

func (d *Debugger) requirePaused(what string) error {
	if d.mod == nil {
		return errors.NotLoaded(what)
	}
	switch d.status {
	case StatusPaused:
		return nil
	case StatusIdle:
		return errors.InvalidInput(errors.PhaseState,
			what+": no run in progress; use run, start, or call")
	default:
		return errors.InvalidInput(errors.PhaseState,
			what+": the run has ended; use run, call, or reset")
	}
}

func (d *Debugger) curPos() wasmdbg.CodePosition {
	p, _ := d.st.Position()
	return p
}
