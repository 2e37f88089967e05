package engine_test

import (
	"context"
	"math"
	"testing"

	"github.com/tetratelabs/wazero"
	"github.com/wippyai/wasmdbg"
	"github.com/wippyai/wasmdbg/engine"
	"github.com/wippyai/wasmdbg/wasm"
)

// These tests run the same encoded module through the stepping
// interpreter and through wazero, then compare raw result bits. Both
// sides trapping counts as agreement; the wording of traps does not.

func exportRun(mod *wasm.Module, funcIdx uint32) *wasm.Module {
	mod.Exports = append(mod.Exports, wasm.Export{Name: "run", Kind: wasm.KindFunc, Idx: funcIdx})
	return mod
}

func runAgainstOracle(t *testing.T, mod *wasm.Module, args ...wasmdbg.Value) {
	t.Helper()

	bin := mod.Encode()

	// Debugger side: decode the bytes back so the codec round-trip is
	// part of what the oracle checks.
	parsed, err := wasm.ParseModule(bin)
	if err != nil {
		t.Fatalf("ParseModule: %v", err)
	}
	var funcIdx uint32
	for _, exp := range parsed.Exports {
		if exp.Name == "run" && exp.Kind == wasm.KindFunc {
			funcIdx = exp.Idx
		}
	}
	st := newState(t, parsed)
	if err := st.Invoke(funcIdx, args); err != nil {
		t.Fatalf("Invoke: %v", err)
	}
	stepToEnd(t, st)

	// Oracle side. Value.Bits already matches wazero's uint64
	// parameter encoding for every kind.
	ctx := context.Background()
	rt := wazero.NewRuntime(ctx)
	defer rt.Close(ctx)

	inst, err := rt.Instantiate(ctx, bin)
	if err != nil {
		t.Fatalf("wazero instantiate: %v", err)
	}
	raw := make([]uint64, len(args))
	for i, a := range args {
		raw[i] = a.Bits
	}
	oracle, oracleErr := inst.ExportedFunction("run").Call(ctx, raw...)

	if st.Status() == engine.StatusTrapped {
		if oracleErr == nil {
			t.Fatalf("interpreter trapped (%v), oracle returned %v", st.Trap(), oracle)
		}
		return
	}
	if oracleErr != nil {
		t.Fatalf("oracle trapped (%v), interpreter status %v", oracleErr, st.Status())
	}
	if st.Status() != engine.StatusFinished {
		t.Fatalf("status = %v, want finished", st.Status())
	}
	if st.StackDepth() != len(oracle) {
		t.Fatalf("interpreter left %d results, oracle returned %d", st.StackDepth(), len(oracle))
	}
	for i, want := range oracle {
		got, _ := st.StackValue(i)
		if got.Bits != want {
			t.Errorf("result %d = 0x%x, oracle says 0x%x", i, got.Bits, want)
		}
	}
}

func TestOracleArithmetic(t *testing.T) {
	// (x + y) * (x - y), wrapping freely.
	body := ins(
		op(wasm.OpLocalGet, 0), op(wasm.OpLocalGet, 1), op(wasm.OpI32Add),
		op(wasm.OpLocalGet, 0), op(wasm.OpLocalGet, 1), op(wasm.OpI32Sub),
		op(wasm.OpI32Mul),
		op(wasm.OpEnd),
	)
	pairs := [][2]int32{
		{9, 4},
		{-7, 3},
		{math.MaxInt32, math.MaxInt32},
		{math.MinInt32, 1},
	}
	for _, p := range pairs {
		mod := exportRun(funcModule(
			[]wasm.ValType{wasm.ValI32, wasm.ValI32}, i32Results, nil, body), 0)
		runAgainstOracle(t, mod, wasmdbg.I32(p[0]), wasmdbg.I32(p[1]))
	}
}

func TestOracleLoopSum(t *testing.T) {
	// Sums 1..n with a counter and an accumulator local.
	body := ins(
		op(wasm.OpLoop, wasm.BlockTypeVoid),
		op(wasm.OpLocalGet, 1), i32const(1), op(wasm.OpI32Add), op(wasm.OpLocalSet, 1),
		op(wasm.OpLocalGet, 2), op(wasm.OpLocalGet, 1), op(wasm.OpI32Add), op(wasm.OpLocalSet, 2),
		op(wasm.OpLocalGet, 1), op(wasm.OpLocalGet, 0), op(wasm.OpI32LtS),
		op(wasm.OpBrIf, 0),
		op(wasm.OpEnd),
		op(wasm.OpLocalGet, 2),
		op(wasm.OpEnd),
	)
	locals := []wasm.LocalEntry{{Count: 2, ValType: wasm.ValI32}}
	mod := exportRun(funcModule([]wasm.ValType{wasm.ValI32}, i32Results, locals, body), 0)
	runAgainstOracle(t, mod, wasmdbg.I32(10))
}

func TestOracleMemory(t *testing.T) {
	// Stores an i64, reads it back whole plus its low byte.
	body := ins(
		op(wasm.OpLocalGet, 0), op(wasm.OpLocalGet, 1), op(wasm.OpI64Store, 3, 0),
		op(wasm.OpLocalGet, 0), op(wasm.OpI64Load, 3, 0),
		op(wasm.OpLocalGet, 0), op(wasm.OpI32Load8U, 0, 0), op(wasm.OpI64ExtendI32U),
		op(wasm.OpI64Add),
		op(wasm.OpEnd),
	)
	mod := funcModule([]wasm.ValType{wasm.ValI32, wasm.ValI64}, i64Results, nil, body)
	mod.Memories = []wasm.MemoryType{{Limits: wasm.Limits{Min: 1}}}
	runAgainstOracle(t, exportRun(mod, 0), wasmdbg.I32(24), wasmdbg.I64(0x0102030405060708))
}

func TestOracleDivTraps(t *testing.T) {
	body := ins(
		op(wasm.OpLocalGet, 0), op(wasm.OpLocalGet, 1), op(wasm.OpI32DivS),
		op(wasm.OpEnd),
	)
	pairs := [][2]int32{
		{7, 0},
		{math.MinInt32, -1},
	}
	for _, p := range pairs {
		mod := exportRun(funcModule(
			[]wasm.ValType{wasm.ValI32, wasm.ValI32}, i32Results, nil, body), 0)
		runAgainstOracle(t, mod, wasmdbg.I32(p[0]), wasmdbg.I32(p[1]))
	}
}

func TestOracleFloat(t *testing.T) {
	// sqrt(x)*y + min(x, y), bit-compared including signed zeros.
	body := ins(
		op(wasm.OpLocalGet, 0), op(wasm.OpF64Sqrt), op(wasm.OpLocalGet, 1), op(wasm.OpF64Mul),
		op(wasm.OpLocalGet, 0), op(wasm.OpLocalGet, 1), op(wasm.OpF64Min),
		op(wasm.OpF64Add),
		op(wasm.OpEnd),
	)
	pairs := [][2]float64{
		{2.25, 8.5},
		{0.1, 0.2},
		{0, math.Copysign(0, -1)},
		{1e300, 1e300},
	}
	for _, p := range pairs {
		mod := exportRun(funcModule(
			[]wasm.ValType{wasm.ValF64, wasm.ValF64}, f64Results, nil, body), 0)
		runAgainstOracle(t, mod, wasmdbg.F64(p[0]), wasmdbg.F64(p[1]))
	}
}

func TestOracleIndirectCall(t *testing.T) {
	// main doubles whatever table[arg]() returns.
	mod := &wasm.Module{}
	tMain := mod.AddType(wasm.FuncType{Params: []wasm.ValType{wasm.ValI32}, Results: []wasm.ValType{wasm.ValI32}})
	tLeaf := mod.AddType(wasm.FuncType{Results: []wasm.ValType{wasm.ValI32}})
	mod.Funcs = []uint32{tMain, tLeaf, tLeaf, tMain}
	mod.Code = []wasm.FuncBody{
		{Code: ins(
			op(wasm.OpLocalGet, 0),
			op(wasm.OpCallIndirect, byte(tLeaf), 0),
			op(wasm.OpCall, 3),
			op(wasm.OpEnd),
		)},
		{Code: ins(i32const(42), op(wasm.OpEnd))},
		{Code: ins(i32const(7), op(wasm.OpEnd))},
		{Code: ins(op(wasm.OpLocalGet, 0), i32const(2), op(wasm.OpI32Mul), op(wasm.OpEnd))},
	}
	mod.Tables = []wasm.TableType{{ElemType: wasm.ElemTypeFuncRef, Limits: wasm.Limits{Min: 2}}}
	mod.Elements = []wasm.ElementSegment{
		{Offset: ins(i32const(0), op(wasm.OpEnd)), FuncIdxs: []uint32{1, 2}},
	}
	exportRun(mod, 0)

	runAgainstOracle(t, mod, wasmdbg.I32(0)) // 42*2
	runAgainstOracle(t, mod, wasmdbg.I32(1)) // 7*2
	runAgainstOracle(t, mod, wasmdbg.I32(5)) // out of table bounds, both trap
}

func TestOracleGlobals(t *testing.T) {
	body := ins(
		op(wasm.OpGlobalGet, 0), i32const(1), op(wasm.OpI32Add),
		op(wasm.OpGlobalSet, 0),
		op(wasm.OpGlobalGet, 0),
		op(wasm.OpEnd),
	)
	mod := funcModule(nil, i32Results, nil, body)
	mod.Globals = []wasm.Global{
		{Type: wasm.GlobalType{ValType: wasm.ValI32, Mutable: true}, Init: ins(i32const(100), op(wasm.OpEnd))},
	}
	runAgainstOracle(t, exportRun(mod, 0))
}

func TestOracleBrTable(t *testing.T) {
	body := ins(
		op(wasm.OpBlock, wasm.BlockTypeVoid),
		op(wasm.OpBlock, wasm.BlockTypeVoid),
		op(wasm.OpLocalGet, 0),
		op(wasm.OpBrTable, 1, 0, 1),
		op(wasm.OpEnd),
		i32const(10),
		op(wasm.OpReturn),
		op(wasm.OpEnd),
		i32const(20),
		op(wasm.OpEnd),
	)
	for _, n := range []int32{0, 1, 7} {
		mod := exportRun(funcModule([]wasm.ValType{wasm.ValI32}, i32Results, nil, body), 0)
		runAgainstOracle(t, mod, wasmdbg.I32(n))
	}
}
