package engine

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/wippyai/wasmdbg"
	"github.com/wippyai/wasmdbg/code"
	"github.com/wippyai/wasmdbg/errors"
	"github.com/wippyai/wasmdbg/wasm"
)

// Status is the run state of an execution instance.
type Status int

const (
	// StatusReady means the state can execute: nothing has been invoked
	// yet, or the current run can take another step.
	StatusReady Status = iota
	// StatusFinished means the last invocation returned normally; its
	// results remain on the value stack.
	StatusFinished
	// StatusTrapped means a runtime fault ended the run; Trap has it.
	StatusTrapped
	// StatusHalted means proc_exit ended the run; ExitCode has the code.
	StatusHalted
)

func (s Status) String() string {
	switch s {
	case StatusReady:
		return "ready"
	case StatusFinished:
		return "finished"
	case StatusTrapped:
		return "trapped"
	case StatusHalted:
		return "halted"
	default:
		return "unknown"
	}
}

// Terminal reports whether the run has ended.
func (s Status) Terminal() bool {
	return s != StatusReady
}

// Default stack limits.
const (
	DefaultValueStackLimit = 1 << 20
	DefaultLabelLimit      = 1 << 16
	DefaultFrameLimit      = 1024
)

// Limits bound the execution stacks. Zero fields take the defaults.
// Frame locals count against the value stack limit, so a tiny body
// declaring millions of locals traps instead of exhausting memory.
type Limits struct {
	ValueStack int
	Labels     int
	Frames     int
}

func (l Limits) withDefaults() Limits {
	if l.ValueStack <= 0 {
		l.ValueStack = DefaultValueStackLimit
	}
	if l.Labels <= 0 {
		l.Labels = DefaultLabelLimit
	}
	if l.Frames <= 0 {
		l.Frames = DefaultFrameLimit
	}
	return l
}

// NoFunc marks an uninitialized table slot.
const NoFunc = ^uint32(0)

// Label is one open construct of a frame. The function-entry label uses
// Opcode OpCall and is the outermost branch target of its frame.
type Label struct {
	Head   uint32 // instruction index of the construct
	Cont   uint32 // branch continuation: loop head, or the index after end
	Height uint32 // value stack height at entry
	Arity  int    // values a branch to this label carries
	Opcode byte   // wasm.OpBlock, OpLoop, OpIf, or OpCall for the entry label
}

// Frame is one activation record. Locals live outside the value stack;
// index 0..NumParams-1 are the arguments.
type Frame struct {
	fn        *code.Function
	locals    []wasmdbg.Value
	pc        uint32
	stackBase uint32 // value stack height at entry, after args were consumed
	labelBase uint32 // label stack height at entry
}

// Func returns the prepared function this frame executes.
func (f *Frame) Func() *code.Function {
	return f.fn
}

// PC returns the index of the next instruction to execute.
func (f *Frame) PC() uint32 {
	return f.pc
}

// Pos returns the frame's position as a code address.
func (f *Frame) Pos() wasmdbg.CodePosition {
	return wasmdbg.CodePosition{Func: f.fn.Idx, Instr: f.pc}
}

// NumLocals returns the frame's local count, parameters included.
func (f *Frame) NumLocals() int {
	return len(f.locals)
}

// Local reads one local slot.
func (f *Frame) Local(idx uint32) (wasmdbg.Value, bool) {
	if int(idx) >= len(f.locals) {
		return wasmdbg.Value{}, false
	}
	return f.locals[idx], true
}

// SetLocal writes one local slot, keeping its declared type.
func (f *Frame) SetLocal(idx uint32, v wasmdbg.Value) error {
	if int(idx) >= len(f.locals) {
		return errors.OutOfBounds(errors.PhaseState, []string{"local"}, int(idx), len(f.locals))
	}
	vt, _ := f.fn.LocalType(idx)
	if kind, ok := wasmdbg.KindOf(vt); !ok || v.Kind != kind {
		return errors.TypeMismatch(errors.PhaseState, []string{"local", fmt.Sprint(idx)}, vt.String(), v.Kind.String())
	}
	f.locals[idx] = v
	return nil
}

// State is one live module instance: execution stacks, linear memory,
// table, globals, and a terminal status once the run ends. A State is
// single-threaded; the debug controller owns it exclusively.
type State struct {
	mod     *wasm.Module
	funcs   []*code.Function
	stubs   []hostStub
	hosts   map[string]HostFunc
	memory  *Memory
	table   []uint32
	globals []wasmdbg.Value
	gtypes  []wasm.GlobalType

	stack  []wasmdbg.Value
	frames []Frame
	labels []Label

	status   Status
	trap     *Trap
	exitCode uint32
	curPos   wasmdbg.CodePosition

	limits Limits
	logger *zap.Logger
}

// Option configures a State at instantiation.
type Option func(*State)

// WithLogger replaces the package default logger for this state.
func WithLogger(l *zap.Logger) Option {
	return func(s *State) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithLimits overrides the execution stack limits.
func WithLimits(l Limits) Option {
	return func(s *State) {
		s.limits = l.withDefaults()
	}
}

// WithHostFunc registers a host function for the import module.name.
// Registrations take precedence over the built-in proc_exit.
func WithHostFunc(module, name string, fn HostFunc) Option {
	return func(s *State) {
		s.hosts[module+"."+name] = fn
	}
}

// New instantiates a module: host stubs for imported functions, globals
// evaluated from their initializers, memory zeroed to its initial pages
// with data segments applied, and the table seeded with element segments.
// Initializer offsets out of range are load errors. The start section is
// not run here; entry selection belongs to the caller.
//
// Imported globals, memories, and tables instantiate zero-initialized
// with their declared types, so modules importing them still load and
// run up to whatever depends on real host state.
func New(mod *wasm.Module, funcs []*code.Function, opts ...Option) (*State, error) {
	s := &State{
		mod:    mod,
		funcs:  funcs,
		hosts:  make(map[string]HostFunc),
		limits: Limits{}.withDefaults(),
		logger: Logger(),
	}
	for _, opt := range opts {
		opt(s)
	}

	s.resolveImports()
	if err := s.initGlobals(); err != nil {
		return nil, err
	}
	if err := s.initMemory(); err != nil {
		return nil, err
	}
	if err := s.initTable(); err != nil {
		return nil, err
	}

	s.logger.Debug("module instantiated",
		zap.Int("functions", mod.NumFuncs()),
		zap.Int("globals", len(s.globals)),
		zap.Int("table", len(s.table)),
		zap.Bool("memory", s.memory != nil))
	return s, nil
}

func (s *State) resolveImports() {
	for i := range s.mod.Imports {
		imp := &s.mod.Imports[i]
		if imp.Desc.Kind != wasm.KindFunc {
			continue
		}
		name := imp.Module + "." + imp.Name
		fn, ok := s.hosts[name]
		if !ok {
			fn = builtinHost(imp.Module, imp.Name)
		}
		s.stubs = append(s.stubs, hostStub{fn: fn, name: name})
	}
}

func (s *State) initGlobals() error {
	for i := range s.mod.Imports {
		imp := &s.mod.Imports[i]
		if imp.Desc.Kind != wasm.KindGlobal {
			continue
		}
		gt := *imp.Desc.Global
		kind, ok := wasmdbg.KindOf(gt.ValType)
		if !ok {
			return errors.InvalidData(errors.PhaseLoad, []string{"import", imp.Module + "." + imp.Name},
				"imported global has no MVP value type")
		}
		s.globals = append(s.globals, wasmdbg.Zero(kind))
		s.gtypes = append(s.gtypes, gt)
	}
	for i := range s.mod.Globals {
		g := &s.mod.Globals[i]
		where := fmt.Sprintf("global[%d]", len(s.globals))
		v, err := s.evalConstExpr(g.Init, where)
		if err != nil {
			return err
		}
		kind, ok := wasmdbg.KindOf(g.Type.ValType)
		if !ok || v.Kind != kind {
			return errors.TypeMismatch(errors.PhaseLoad, []string{where},
				g.Type.ValType.String(), v.Kind.String())
		}
		s.globals = append(s.globals, v)
		s.gtypes = append(s.gtypes, g.Type)
	}
	return nil
}

func (s *State) initMemory() error {
	var mt *wasm.MemoryType
	for i := range s.mod.Imports {
		if s.mod.Imports[i].Desc.Kind == wasm.KindMemory {
			mt = s.mod.Imports[i].Desc.Memory
		}
	}
	if len(s.mod.Memories) > 0 {
		mt = &s.mod.Memories[0]
	}
	if mt == nil {
		if len(s.mod.Data) > 0 {
			return errors.InvalidData(errors.PhaseLoad, []string{"data"},
				"data segments present but the module has no memory")
		}
		return nil
	}

	s.memory = newMemory(*mt)
	for i := range s.mod.Data {
		seg := &s.mod.Data[i]
		where := fmt.Sprintf("data[%d]", i)
		off, err := s.evalConstExpr(seg.Offset, where)
		if err != nil {
			return err
		}
		if off.Kind != wasmdbg.KindI32 {
			return errors.TypeMismatch(errors.PhaseLoad, []string{where}, "i32", off.Kind.String())
		}
		addr := uint64(off.U32())
		if !s.memory.InRange(addr, uint32(len(seg.Init))) {
			return errors.New(errors.PhaseLoad, errors.KindOutOfBounds).
				Path(where).
				Detail("segment [%d, %d) exceeds memory size %d",
					addr, addr+uint64(len(seg.Init)), s.memory.Len()).
				Build()
		}
		copy(s.memory.data[addr:], seg.Init)
	}
	return nil
}

func (s *State) initTable() error {
	var tt *wasm.TableType
	for i := range s.mod.Imports {
		if s.mod.Imports[i].Desc.Kind == wasm.KindTable {
			tt = s.mod.Imports[i].Desc.Table
		}
	}
	if len(s.mod.Tables) > 0 {
		tt = &s.mod.Tables[0]
	}
	if tt == nil {
		if len(s.mod.Elements) > 0 {
			return errors.InvalidData(errors.PhaseLoad, []string{"element"},
				"element segments present but the module has no table")
		}
		return nil
	}

	s.table = make([]uint32, tt.Limits.Min)
	for i := range s.table {
		s.table[i] = NoFunc
	}
	for i := range s.mod.Elements {
		seg := &s.mod.Elements[i]
		where := fmt.Sprintf("element[%d]", i)
		off, err := s.evalConstExpr(seg.Offset, where)
		if err != nil {
			return err
		}
		if off.Kind != wasmdbg.KindI32 {
			return errors.TypeMismatch(errors.PhaseLoad, []string{where}, "i32", off.Kind.String())
		}
		start := uint64(off.U32())
		if start+uint64(len(seg.FuncIdxs)) > uint64(len(s.table)) {
			return errors.New(errors.PhaseLoad, errors.KindOutOfBounds).
				Path(where).
				Detail("segment [%d, %d) exceeds table size %d",
					start, start+uint64(len(seg.FuncIdxs)), len(s.table)).
				Build()
		}
		copy(s.table[start:], seg.FuncIdxs)
	}
	return nil
}

// evalConstExpr evaluates an initializer: one constant (or global.get)
// instruction followed by end. global.get reads whatever the global
// index space holds at this point of instantiation, which covers the
// imported-globals-only rule of the MVP and a bit more.
func (s *State) evalConstExpr(expr []byte, where string) (wasmdbg.Value, error) {
	instrs, err := wasm.DecodeInstructions(expr)
	if err != nil {
		return wasmdbg.Value{}, errors.Wrap(errors.PhaseLoad, errors.KindInvalidData, err,
			where+": malformed initializer expression")
	}
	if len(instrs) != 2 || instrs[1].Opcode != wasm.OpEnd {
		return wasmdbg.Value{}, errors.InvalidData(errors.PhaseLoad, []string{where},
			"initializer must be a single constant followed by end")
	}
	ins := instrs[0]
	switch ins.Opcode {
	case wasm.OpI32Const:
		return wasmdbg.I32(ins.Imm.(wasm.I32Imm).Value), nil
	case wasm.OpI64Const:
		return wasmdbg.I64(ins.Imm.(wasm.I64Imm).Value), nil
	case wasm.OpF32Const:
		return wasmdbg.F32FromBits(ins.Imm.(wasm.F32Imm).Bits), nil
	case wasm.OpF64Const:
		return wasmdbg.F64FromBits(ins.Imm.(wasm.F64Imm).Bits), nil
	case wasm.OpGlobalGet:
		idx := ins.Imm.(wasm.GlobalImm).GlobalIdx
		if int(idx) >= len(s.globals) {
			return wasmdbg.Value{}, errors.New(errors.PhaseLoad, errors.KindOutOfBounds).
				Path(where).
				Detail("initializer reads global %d, only %d instantiated so far", idx, len(s.globals)).
				Build()
		}
		return s.globals[idx], nil
	default:
		return wasmdbg.Value{}, errors.InvalidData(errors.PhaseLoad, []string{where},
			ins.Name()+" is not a constant instruction")
	}
}

// Invoke validates args against the function's signature and arranges
// execution to begin at its first instruction. It does not step. A huge
// local declaration can trap the state right here; the caller sees that
// through Status, not through the error return.
func (s *State) Invoke(funcIdx uint32, args []wasmdbg.Value) error {
	if s.status != StatusReady || len(s.frames) != 0 {
		return errors.InvalidInput(errors.PhaseState, "invoke requires a freshly instantiated state")
	}
	if int(funcIdx) >= s.mod.NumFuncs() {
		return errors.NotFound(errors.PhaseResolve, "function", fmt.Sprint(funcIdx))
	}
	if funcIdx < uint32(s.mod.NumImportedFuncs()) {
		return errors.InvalidInput(errors.PhaseResolve,
			fmt.Sprintf("function %d is the import %s, not executable code", funcIdx, s.stubs[funcIdx].name))
	}
	ft := s.mod.GetFuncType(funcIdx)
	if len(args) != len(ft.Params) {
		return errors.New(errors.PhaseState, errors.KindTypeMismatch).
			Detail("function %d %s takes %d arguments, got %d", funcIdx, ft, len(ft.Params), len(args)).
			Build()
	}
	for i, a := range args {
		kind, _ := wasmdbg.KindOf(ft.Params[i])
		if a.Kind != kind {
			return errors.New(errors.PhaseState, errors.KindTypeMismatch).
				Detail("argument %d is %s, want %s", i, a.Kind, kind).
				Build()
		}
	}

	s.curPos = wasmdbg.CodePosition{Func: funcIdx, Instr: 0}
	if t := s.pushFrame(s.funcs[funcIdx], args); t != nil {
		s.fail(t)
		return nil
	}
	s.logger.Debug("invoke", zap.Uint32("func", funcIdx), zap.Int("args", len(args)))
	return nil
}

// fail moves the state to its terminal trapped status.
func (s *State) fail(t *Trap) {
	s.trap = t
	s.status = StatusTrapped
	s.logger.Debug("trap",
		zap.Stringer("kind", t.Kind),
		zap.Stringer("pos", t.Pos),
		zap.String("detail", t.Detail))
}

// halt moves the state to its terminal halted status.
func (s *State) halt(code uint32) {
	s.exitCode = code
	s.status = StatusHalted
	s.logger.Debug("halt", zap.Uint32("exit_code", code))
}

// Status returns the run state.
func (s *State) Status() Status {
	return s.status
}

// Trap returns the fault that ended the run, or nil.
func (s *State) Trap() *Trap {
	return s.trap
}

// ExitCode returns the proc_exit code after a halt.
func (s *State) ExitCode() uint32 {
	return s.exitCode
}

// Module returns the instantiated module.
func (s *State) Module() *wasm.Module {
	return s.mod
}

// Position returns the address of the next instruction to execute. The
// second result is false when no frame is live (before Invoke, or after
// the bottom frame returned).
func (s *State) Position() (wasmdbg.CodePosition, bool) {
	if len(s.frames) == 0 {
		return wasmdbg.CodePosition{}, false
	}
	f := &s.frames[len(s.frames)-1]
	return wasmdbg.CodePosition{Func: f.fn.Idx, Instr: f.pc}, true
}

// CallDepth returns the number of live frames.
func (s *State) CallDepth() int {
	return len(s.frames)
}

// Frame returns the activation record depth levels below the innermost
// frame (0 = innermost), or nil when out of range. The pointer stays
// valid until the next Step.
func (s *State) Frame(depth int) *Frame {
	if depth < 0 || depth >= len(s.frames) {
		return nil
	}
	return &s.frames[len(s.frames)-1-depth]
}

// Labels returns a copy of the innermost frame's open labels, outermost
// first (the function-entry label leads).
func (s *State) Labels() []Label {
	if len(s.frames) == 0 {
		return nil
	}
	base := s.frames[len(s.frames)-1].labelBase
	out := make([]Label, len(s.labels)-int(base))
	copy(out, s.labels[base:])
	return out
}

// StackDepth returns the value stack height.
func (s *State) StackDepth() int {
	return len(s.stack)
}

// StackValue reads the value stack; index 0 is the bottom.
func (s *State) StackValue(i int) (wasmdbg.Value, bool) {
	if i < 0 || i >= len(s.stack) {
		return wasmdbg.Value{}, false
	}
	return s.stack[i], true
}

// SetStackValue replaces a value stack slot; index 0 is the bottom.
// Stack slots carry no declared type, so any kind is accepted.
func (s *State) SetStackValue(i int, v wasmdbg.Value) error {
	if i < 0 || i >= len(s.stack) {
		return errors.OutOfBounds(errors.PhaseState, []string{"stack"}, i, len(s.stack))
	}
	s.stack[i] = v
	return nil
}

// Push appends a value to the value stack.
func (s *State) Push(v wasmdbg.Value) error {
	if len(s.stack) >= s.limits.ValueStack {
		return errors.New(errors.PhaseState, errors.KindOutOfBounds).
			Detail("value stack limit %d reached", s.limits.ValueStack).
			Build()
	}
	s.stack = append(s.stack, v)
	return nil
}

// Memory returns the linear memory, or nil when the module has none.
func (s *State) Memory() *Memory {
	return s.memory
}

// NumGlobals returns the size of the global index space.
func (s *State) NumGlobals() int {
	return len(s.globals)
}

// Global reads one global.
func (s *State) Global(idx uint32) (wasmdbg.Value, bool) {
	if int(idx) >= len(s.globals) {
		return wasmdbg.Value{}, false
	}
	return s.globals[idx], true
}

// GlobalType returns a global's declared type.
func (s *State) GlobalType(idx uint32) (wasm.GlobalType, bool) {
	if int(idx) >= len(s.gtypes) {
		return wasm.GlobalType{}, false
	}
	return s.gtypes[idx], true
}

// SetGlobal writes one global, honoring mutability and the declared type.
func (s *State) SetGlobal(idx uint32, v wasmdbg.Value) error {
	if int(idx) >= len(s.globals) {
		return errors.OutOfBounds(errors.PhaseState, []string{"global"}, int(idx), len(s.globals))
	}
	gt := s.gtypes[idx]
	if !gt.Mutable {
		return errors.Immutable("global", fmt.Sprint(idx))
	}
	if kind, ok := wasmdbg.KindOf(gt.ValType); !ok || v.Kind != kind {
		return errors.TypeMismatch(errors.PhaseState, []string{"global", fmt.Sprint(idx)},
			gt.ValType.String(), v.Kind.String())
	}
	s.globals[idx] = v
	return nil
}

// TableSize returns the table's element count.
func (s *State) TableSize() int {
	return len(s.table)
}

// TableGet reads a table slot; NoFunc marks an uninitialized element.
func (s *State) TableGet(idx uint32) (uint32, bool) {
	if int(idx) >= len(s.table) {
		return 0, false
	}
	return s.table[idx], true
}

// --- execution internals ---

func (s *State) trapf(kind TrapKind, format string, args ...any) *Trap {
	return &Trap{Kind: kind, Pos: s.curPos, Detail: fmt.Sprintf(format, args...)}
}

// stackFloor is the lowest value stack index the current context may pop.
// Within a frame there is always at least the function-entry label.
func (s *State) stackFloor() int {
	if len(s.frames) == 0 {
		return 0
	}
	f := &s.frames[len(s.frames)-1]
	if len(s.labels) > int(f.labelBase) {
		return int(s.labels[len(s.labels)-1].Height)
	}
	return int(f.stackBase)
}

func (s *State) push(v wasmdbg.Value) *Trap {
	if len(s.stack) >= s.limits.ValueStack {
		return s.trapf(TrapStackOverflow, "value stack limit %d reached", s.limits.ValueStack)
	}
	s.stack = append(s.stack, v)
	return nil
}

func (s *State) pop() (wasmdbg.Value, *Trap) {
	if len(s.stack) <= s.stackFloor() {
		return wasmdbg.Value{}, s.trapf(TrapStackUnderflow, "no operand on the stack in this block")
	}
	v := s.stack[len(s.stack)-1]
	s.stack = s.stack[:len(s.stack)-1]
	return v, nil
}

func (s *State) popKind(kind wasmdbg.ValueKind) (wasmdbg.Value, *Trap) {
	v, t := s.pop()
	if t != nil {
		return v, t
	}
	if v.Kind != kind {
		return v, s.trapf(TrapSignatureMismatch, "expected %s operand, found %s", kind, v.Kind)
	}
	return v, nil
}

func (s *State) popI32() (int32, *Trap) {
	v, t := s.popKind(wasmdbg.KindI32)
	return v.I32(), t
}

func (s *State) popU32() (uint32, *Trap) {
	v, t := s.popKind(wasmdbg.KindI32)
	return v.U32(), t
}

func (s *State) popI64() (int64, *Trap) {
	v, t := s.popKind(wasmdbg.KindI64)
	return v.I64(), t
}

func (s *State) popU64() (uint64, *Trap) {
	v, t := s.popKind(wasmdbg.KindI64)
	return v.U64(), t
}

func (s *State) popF32() (float32, *Trap) {
	v, t := s.popKind(wasmdbg.KindF32)
	return v.F32(), t
}

func (s *State) popF64() (float64, *Trap) {
	v, t := s.popKind(wasmdbg.KindF64)
	return v.F64(), t
}

func (s *State) pushBool(b bool) *Trap {
	if b {
		return s.push(wasmdbg.I32(1))
	}
	return s.push(wasmdbg.I32(0))
}

func (s *State) pushLabel(l Label) *Trap {
	if len(s.labels) >= s.limits.Labels {
		return s.trapf(TrapStackOverflow, "label stack limit %d reached", s.limits.Labels)
	}
	s.labels = append(s.labels, l)
	return nil
}

// pushFrame enters fn with args already popped and kind-checked.
func (s *State) pushFrame(fn *code.Function, args []wasmdbg.Value) *Trap {
	if len(s.frames) >= s.limits.Frames {
		return s.trapf(TrapCallStackExhausted, "call depth limit %d reached", s.limits.Frames)
	}
	if len(s.labels) >= s.limits.Labels {
		return s.trapf(TrapStackOverflow, "label stack limit %d reached", s.limits.Labels)
	}
	if int(fn.NumLocals()) > s.limits.ValueStack-len(s.stack) {
		return s.trapf(TrapStackOverflow, "func %d declares %d locals, over the value stack limit", fn.Idx, fn.NumLocals())
	}

	locals := make([]wasmdbg.Value, fn.NumLocals())
	copy(locals, args)
	for i := uint32(len(args)); i < fn.NumLocals(); i++ {
		vt, _ := fn.LocalType(i)
		kind, _ := wasmdbg.KindOf(vt)
		locals[i] = wasmdbg.Zero(kind)
	}

	s.frames = append(s.frames, Frame{
		fn:        fn,
		locals:    locals,
		stackBase: uint32(len(s.stack)),
		labelBase: uint32(len(s.labels)),
	})
	s.labels = append(s.labels, Label{
		Head:   0,
		Cont:   uint32(len(fn.Instrs)) - 1,
		Height: uint32(len(s.stack)),
		Arity:  len(fn.Type.Results),
		Opcode: wasm.OpCall,
	})
	return nil
}
