package engine_test

import (
	"encoding/binary"
	"math"
	"strings"
	"testing"

	"github.com/wippyai/wasmdbg"
	"github.com/wippyai/wasmdbg/code"
	"github.com/wippyai/wasmdbg/engine"
	"github.com/wippyai/wasmdbg/wasm"
)

// sleb32 encodes a signed 32-bit LEB128 immediate.
func sleb32(v int32) []byte {
	var out []byte
	for {
		b := byte(v & 0x7F)
		v >>= 7
		if (v == 0 && b&0x40 == 0) || (v == -1 && b&0x40 != 0) {
			return append(out, b)
		}
		out = append(out, b|0x80)
	}
}

// sleb64 encodes a signed 64-bit LEB128 immediate.
func sleb64(v int64) []byte {
	var out []byte
	for {
		b := byte(v & 0x7F)
		v >>= 7
		if (v == 0 && b&0x40 == 0) || (v == -1 && b&0x40 != 0) {
			return append(out, b)
		}
		out = append(out, b|0x80)
	}
}

// ins concatenates opcodes and pre-encoded immediates into a body.
func ins(parts ...[]byte) []byte {
	var out []byte
	for _, p := range parts {
		out = append(out, p...)
	}
	return out
}

func op(b ...byte) []byte { return b }

func i32const(v int32) []byte { return append([]byte{wasm.OpI32Const}, sleb32(v)...) }
func i64const(v int64) []byte { return append([]byte{wasm.OpI64Const}, sleb64(v)...) }

func f32const(v float32) []byte {
	out := []byte{wasm.OpF32Const, 0, 0, 0, 0}
	binary.LittleEndian.PutUint32(out[1:], math.Float32bits(v))
	return out
}

func f32constBits(bits uint32) []byte {
	out := []byte{wasm.OpF32Const, 0, 0, 0, 0}
	binary.LittleEndian.PutUint32(out[1:], bits)
	return out
}

func f64const(v float64) []byte {
	out := []byte{wasm.OpF64Const, 0, 0, 0, 0, 0, 0, 0, 0}
	binary.LittleEndian.PutUint64(out[1:], math.Float64bits(v))
	return out
}

func f64constBits(bits uint64) []byte {
	out := []byte{wasm.OpF64Const, 0, 0, 0, 0, 0, 0, 0, 0}
	binary.LittleEndian.PutUint64(out[1:], bits)
	return out
}

// funcModule builds a module with one defined function.
func funcModule(params, results []wasm.ValType, locals []wasm.LocalEntry, body []byte) *wasm.Module {
	mod := &wasm.Module{}
	typeIdx := mod.AddType(wasm.FuncType{Params: params, Results: results})
	mod.Funcs = []uint32{typeIdx}
	mod.Code = []wasm.FuncBody{{Locals: locals, Code: body}}
	return mod
}

func newState(t *testing.T, mod *wasm.Module, opts ...engine.Option) *engine.State {
	t.Helper()
	fns, err := code.Prepare(mod)
	if err != nil {
		t.Fatalf("Prepare: %v", err)
	}
	st, err := engine.New(mod, fns, opts...)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return st
}

const maxTestSteps = 100000

// runFunc invokes and steps until the run ends one way or another.
func runFunc(t *testing.T, st *engine.State, funcIdx uint32, args ...wasmdbg.Value) {
	t.Helper()
	if err := st.Invoke(funcIdx, args); err != nil {
		t.Fatalf("Invoke: %v", err)
	}
	stepToEnd(t, st)
}

func stepToEnd(t *testing.T, st *engine.State) {
	t.Helper()
	for i := 0; i < maxTestSteps; i++ {
		if st.Status().Terminal() {
			return
		}
		if err := st.Step(); err != nil {
			return
		}
	}
	t.Fatalf("run did not end within %d steps", maxTestSteps)
}

// wantResult checks for a finished run with exactly one value left.
func wantResult(t *testing.T, st *engine.State, want wasmdbg.Value) {
	t.Helper()
	if st.Status() != engine.StatusFinished {
		t.Fatalf("status = %v, want finished (trap: %v)", st.Status(), st.Trap())
	}
	if st.StackDepth() != 1 {
		t.Fatalf("stack depth = %d, want 1", st.StackDepth())
	}
	got, _ := st.StackValue(0)
	if got != want {
		t.Fatalf("result = %v, want %v", got, want)
	}
}

// wantTrap checks for a trapped run of the given kind.
func wantTrap(t *testing.T, st *engine.State, kind engine.TrapKind) *engine.Trap {
	t.Helper()
	if st.Status() != engine.StatusTrapped {
		t.Fatalf("status = %v, want trapped", st.Status())
	}
	tr := st.Trap()
	if tr == nil {
		t.Fatal("Trap() = nil on a trapped state")
	}
	if tr.Kind != kind {
		t.Fatalf("trap kind = %v, want %v (%v)", tr.Kind, kind, tr)
	}
	return tr
}

func TestNewGlobals(t *testing.T) {
	mod := funcModule(nil, nil, nil, []byte{wasm.OpEnd})
	mod.Globals = []wasm.Global{
		{
			Type: wasm.GlobalType{ValType: wasm.ValI32},
			Init: ins(i32const(42), op(wasm.OpEnd)),
		},
		{
			Type: wasm.GlobalType{ValType: wasm.ValF64, Mutable: true},
			Init: ins(f64const(1.5), op(wasm.OpEnd)),
		},
	}

	st := newState(t, mod)
	if st.NumGlobals() != 2 {
		t.Fatalf("NumGlobals = %d, want 2", st.NumGlobals())
	}
	if g, _ := st.Global(0); g != wasmdbg.I32(42) {
		t.Errorf("global 0 = %v, want i32(42)", g)
	}
	if g, _ := st.Global(1); g != wasmdbg.F64(1.5) {
		t.Errorf("global 1 = %v, want f64(1.5)", g)
	}
	gt, ok := st.GlobalType(1)
	if !ok || !gt.Mutable {
		t.Errorf("global 1 type = %+v, want mutable", gt)
	}
	if _, ok := st.Global(2); ok {
		t.Error("Global(2) should report false")
	}
}

func TestNewGlobalFromImport(t *testing.T) {
	mod := funcModule(nil, nil, nil, []byte{wasm.OpEnd})
	mod.Imports = []wasm.Import{{
		Module: "env",
		Name:   "base",
		Desc: wasm.ImportDesc{
			Kind:   wasm.KindGlobal,
			Global: &wasm.GlobalType{ValType: wasm.ValI32},
		},
	}}
	// Initialized from the imported global, which instantiates as zero.
	mod.Globals = []wasm.Global{{
		Type: wasm.GlobalType{ValType: wasm.ValI32, Mutable: true},
		Init: []byte{wasm.OpGlobalGet, 0, wasm.OpEnd},
	}}

	st := newState(t, mod)
	if st.NumGlobals() != 2 {
		t.Fatalf("NumGlobals = %d, want 2", st.NumGlobals())
	}
	if g, _ := st.Global(1); g != wasmdbg.I32(0) {
		t.Errorf("global 1 = %v, want i32(0)", g)
	}
}

func TestNewGlobalForwardReference(t *testing.T) {
	mod := funcModule(nil, nil, nil, []byte{wasm.OpEnd})
	mod.Globals = []wasm.Global{{
		Type: wasm.GlobalType{ValType: wasm.ValI32},
		Init: []byte{wasm.OpGlobalGet, 1, wasm.OpEnd},
	}}

	fns, err := code.Prepare(mod)
	if err != nil {
		t.Fatalf("Prepare: %v", err)
	}
	_, err = engine.New(mod, fns)
	if err == nil || !strings.Contains(err.Error(), "initializer reads global") {
		t.Fatalf("New err = %v, want forward reference error", err)
	}
}

func TestNewBadInitializers(t *testing.T) {
	tests := []struct {
		name string
		init []byte
		want string
	}{
		{"not constant", []byte{wasm.OpNop, wasm.OpEnd}, "not a constant instruction"},
		{"missing end", sleb32(1), "malformed initializer"},
		{"extra instruction", ins(i32const(1), i32const(2), op(wasm.OpEnd)), "single constant followed by end"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mod := funcModule(nil, nil, nil, []byte{wasm.OpEnd})
			mod.Globals = []wasm.Global{{
				Type: wasm.GlobalType{ValType: wasm.ValI32},
				Init: tt.init,
			}}
			fns, err := code.Prepare(mod)
			if err != nil {
				t.Fatalf("Prepare: %v", err)
			}
			_, err = engine.New(mod, fns)
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("New err = %v, want %q", err, tt.want)
			}
		})
	}
}

func TestNewDataSegments(t *testing.T) {
	mod := funcModule(nil, nil, nil, []byte{wasm.OpEnd})
	mod.Memories = []wasm.MemoryType{{Limits: wasm.Limits{Min: 1}}}
	mod.Data = []wasm.DataSegment{{
		Offset: ins(i32const(8), op(wasm.OpEnd)),
		Init:   []byte("hello"),
	}}

	st := newState(t, mod)
	mem := st.Memory()
	if mem == nil {
		t.Fatal("Memory() = nil")
	}
	if got := mem.Len(); got != 65536 {
		t.Fatalf("memory size = %d, want 65536", got)
	}
	b, ok := mem.Read(8, 5)
	if !ok || string(b) != "hello" {
		t.Errorf("Read(8, 5) = %q, %v", b, ok)
	}
	if b, _ := mem.Read(0, 8); string(b) != "\x00\x00\x00\x00\x00\x00\x00\x00" {
		t.Errorf("prefix not zeroed: %q", b)
	}
}

func TestNewMemoryMinAtPageCeiling(t *testing.T) {
	// A declared minimum of 65536 pages is the largest legal memory.
	// Its byte size is 1<<32, one past what uint32 arithmetic can hold,
	// and the top of the memory must be readable and writable.
	mod := funcModule(nil, nil, nil, []byte{wasm.OpEnd})
	mod.Memories = []wasm.MemoryType{{Limits: wasm.Limits{Min: 65536}}}

	st := newState(t, mod)
	mem := st.Memory()
	if mem.Pages() != 65536 {
		t.Fatalf("Pages = %d, want 65536", mem.Pages())
	}
	if got := mem.Len(); got != 1<<32 {
		t.Fatalf("memory size = %d, want 4294967296", got)
	}
	if !mem.Write(1<<32-8, []byte{1, 2, 3, 4, 5, 6, 7, 8}) {
		t.Fatal("write to the last 8 bytes rejected")
	}
	b, ok := mem.Read(1<<32-8, 8)
	if !ok || b[0] != 1 || b[7] != 8 {
		t.Fatalf("read back = %v, %v", b, ok)
	}
	if _, ok := mem.Read(1<<32-4, 8); ok {
		t.Error("read past the end succeeded")
	}
}

func TestNewDataSegmentOutOfRange(t *testing.T) {
	mod := funcModule(nil, nil, nil, []byte{wasm.OpEnd})
	mod.Memories = []wasm.MemoryType{{Limits: wasm.Limits{Min: 1}}}
	mod.Data = []wasm.DataSegment{{
		Offset: ins(i32const(65535), op(wasm.OpEnd)),
		Init:   []byte("xy"),
	}}

	fns, err := code.Prepare(mod)
	if err != nil {
		t.Fatalf("Prepare: %v", err)
	}
	_, err = engine.New(mod, fns)
	if err == nil || !strings.Contains(err.Error(), "exceeds memory size") {
		t.Fatalf("New err = %v, want out of range error", err)
	}
}

func TestNewDataWithoutMemory(t *testing.T) {
	mod := funcModule(nil, nil, nil, []byte{wasm.OpEnd})
	mod.Data = []wasm.DataSegment{{
		Offset: ins(i32const(0), op(wasm.OpEnd)),
		Init:   []byte("x"),
	}}

	fns, err := code.Prepare(mod)
	if err != nil {
		t.Fatalf("Prepare: %v", err)
	}
	_, err = engine.New(mod, fns)
	if err == nil || !strings.Contains(err.Error(), "no memory") {
		t.Fatalf("New err = %v, want no memory error", err)
	}
}

func TestNewElementSegments(t *testing.T) {
	mod := funcModule(nil, nil, nil, []byte{wasm.OpEnd})
	mod.Tables = []wasm.TableType{{ElemType: wasm.ElemTypeFuncRef, Limits: wasm.Limits{Min: 4}}}
	mod.Elements = []wasm.ElementSegment{{
		Offset:   ins(i32const(1), op(wasm.OpEnd)),
		FuncIdxs: []uint32{0, 0},
	}}

	st := newState(t, mod)
	if st.TableSize() != 4 {
		t.Fatalf("TableSize = %d, want 4", st.TableSize())
	}
	if e, _ := st.TableGet(0); e != engine.NoFunc {
		t.Errorf("table[0] = %d, want NoFunc", e)
	}
	if e, _ := st.TableGet(1); e != 0 {
		t.Errorf("table[1] = %d, want 0", e)
	}
	if e, _ := st.TableGet(2); e != 0 {
		t.Errorf("table[2] = %d, want 0", e)
	}
	if e, _ := st.TableGet(3); e != engine.NoFunc {
		t.Errorf("table[3] = %d, want NoFunc", e)
	}
}

func TestNewElementSegmentOutOfRange(t *testing.T) {
	mod := funcModule(nil, nil, nil, []byte{wasm.OpEnd})
	mod.Tables = []wasm.TableType{{ElemType: wasm.ElemTypeFuncRef, Limits: wasm.Limits{Min: 1}}}
	mod.Elements = []wasm.ElementSegment{{
		Offset:   ins(i32const(1), op(wasm.OpEnd)),
		FuncIdxs: []uint32{0},
	}}

	fns, err := code.Prepare(mod)
	if err != nil {
		t.Fatalf("Prepare: %v", err)
	}
	_, err = engine.New(mod, fns)
	if err == nil || !strings.Contains(err.Error(), "exceeds table size") {
		t.Fatalf("New err = %v, want out of range error", err)
	}
}

func TestInvokeArgumentChecks(t *testing.T) {
	mod := funcModule([]wasm.ValType{wasm.ValI32, wasm.ValI64}, nil, nil, []byte{wasm.OpEnd})

	t.Run("unknown function", func(t *testing.T) {
		st := newState(t, mod)
		err := st.Invoke(9, nil)
		if err == nil || !strings.Contains(err.Error(), "not_found") {
			t.Fatalf("err = %v, want not_found", err)
		}
	})
	t.Run("wrong count", func(t *testing.T) {
		st := newState(t, mod)
		err := st.Invoke(0, []wasmdbg.Value{wasmdbg.I32(1)})
		if err == nil || !strings.Contains(err.Error(), "takes 2 arguments") {
			t.Fatalf("err = %v, want arity error", err)
		}
	})
	t.Run("wrong kind", func(t *testing.T) {
		st := newState(t, mod)
		err := st.Invoke(0, []wasmdbg.Value{wasmdbg.I32(1), wasmdbg.F32(2)})
		if err == nil || !strings.Contains(err.Error(), "argument 1 is f32") {
			t.Fatalf("err = %v, want kind error", err)
		}
	})
	t.Run("used state", func(t *testing.T) {
		st := newState(t, mod)
		runFunc(t, st, 0, wasmdbg.I32(1), wasmdbg.I64(2))
		err := st.Invoke(0, []wasmdbg.Value{wasmdbg.I32(1), wasmdbg.I64(2)})
		if err == nil || !strings.Contains(err.Error(), "freshly instantiated") {
			t.Fatalf("err = %v, want fresh state error", err)
		}
	})
}

func TestInvokeImportedFunction(t *testing.T) {
	mod := &wasm.Module{}
	typeIdx := mod.AddType(wasm.FuncType{})
	mod.Imports = []wasm.Import{{
		Module: "env",
		Name:   "ext",
		Desc:   wasm.ImportDesc{Kind: wasm.KindFunc, TypeIdx: typeIdx},
	}}
	mod.Funcs = []uint32{typeIdx}
	mod.Code = []wasm.FuncBody{{Code: []byte{wasm.OpEnd}}}

	st := newState(t, mod)
	err := st.Invoke(0, nil)
	if err == nil || !strings.Contains(err.Error(), "env.ext") {
		t.Fatalf("err = %v, want import name in error", err)
	}
}

func TestHugeLocalsTrapNotOOM(t *testing.T) {
	// A five byte body can declare 2^31 locals. Allocation happens at
	// call time against the value stack limit, so this traps cleanly.
	mod := funcModule(nil, nil,
		[]wasm.LocalEntry{{Count: 1 << 31, ValType: wasm.ValI64}},
		[]byte{wasm.OpEnd})

	st := newState(t, mod, engine.WithLimits(engine.Limits{ValueStack: 4096}))
	if err := st.Invoke(0, nil); err != nil {
		t.Fatalf("Invoke: %v", err)
	}
	tr := wantTrap(t, st, engine.TrapStackOverflow)
	if !strings.Contains(tr.Detail, "locals") {
		t.Errorf("trap detail = %q, want mention of locals", tr.Detail)
	}
}

func TestSetGlobal(t *testing.T) {
	mod := funcModule(nil, nil, nil, []byte{wasm.OpEnd})
	mod.Globals = []wasm.Global{
		{Type: wasm.GlobalType{ValType: wasm.ValI32}, Init: ins(i32const(1), op(wasm.OpEnd))},
		{Type: wasm.GlobalType{ValType: wasm.ValI32, Mutable: true}, Init: ins(i32const(2), op(wasm.OpEnd))},
	}
	st := newState(t, mod)

	if err := st.SetGlobal(1, wasmdbg.I32(99)); err != nil {
		t.Fatalf("SetGlobal(1): %v", err)
	}
	if g, _ := st.Global(1); g != wasmdbg.I32(99) {
		t.Errorf("global 1 = %v after set", g)
	}
	if err := st.SetGlobal(0, wasmdbg.I32(5)); err == nil || !strings.Contains(err.Error(), "immutable") {
		t.Errorf("SetGlobal(0) err = %v, want immutable", err)
	}
	if err := st.SetGlobal(1, wasmdbg.F64(1)); err == nil || !strings.Contains(err.Error(), "type_mismatch") {
		t.Errorf("SetGlobal kind err = %v, want type_mismatch", err)
	}
	if err := st.SetGlobal(7, wasmdbg.I32(0)); err == nil || !strings.Contains(err.Error(), "out_of_bounds") {
		t.Errorf("SetGlobal range err = %v, want out_of_bounds", err)
	}
}

func TestStackMutation(t *testing.T) {
	mod := funcModule(nil, nil, nil, []byte{wasm.OpEnd})
	st := newState(t, mod)

	if err := st.Push(wasmdbg.I32(1)); err != nil {
		t.Fatalf("Push: %v", err)
	}
	if err := st.Push(wasmdbg.F64(2.5)); err != nil {
		t.Fatalf("Push: %v", err)
	}
	if st.StackDepth() != 2 {
		t.Fatalf("StackDepth = %d, want 2", st.StackDepth())
	}
	// Slots are untyped; replacing a value with a different kind is fine.
	if err := st.SetStackValue(0, wasmdbg.I64(-1)); err != nil {
		t.Fatalf("SetStackValue: %v", err)
	}
	if v, _ := st.StackValue(0); v != wasmdbg.I64(-1) {
		t.Errorf("stack[0] = %v, want i64(-1)", v)
	}
	if err := st.SetStackValue(5, wasmdbg.I32(0)); err == nil {
		t.Error("SetStackValue(5) should fail")
	}
	if _, ok := st.StackValue(-1); ok {
		t.Error("StackValue(-1) should report false")
	}
}

func TestStatusString(t *testing.T) {
	tests := []struct {
		status engine.Status
		want   string
	}{
		{engine.StatusReady, "ready"},
		{engine.StatusFinished, "finished"},
		{engine.StatusTrapped, "trapped"},
		{engine.StatusHalted, "halted"},
	}
	for _, tt := range tests {
		if got := tt.status.String(); got != tt.want {
			t.Errorf("%d.String() = %q, want %q", tt.status, got, tt.want)
		}
	}
	if engine.StatusReady.Terminal() {
		t.Error("ready must not be terminal")
	}
	if !engine.StatusTrapped.Terminal() {
		t.Error("trapped must be terminal")
	}
}
