package wasm_test

import (
	"testing"

	"github.com/wippyai/wasmdbg/wasm"
)

// fixtureModule builds a module with one imported function and global in
// front of the defined ones, to exercise index-space arithmetic.
func fixtureModule() *wasm.Module {
	return &wasm.Module{
		Types: []wasm.FuncType{
			{Params: []wasm.ValType{wasm.ValI32}, Results: []wasm.ValType{wasm.ValI32}},
			{},
		},
		Imports: []wasm.Import{
			{Module: "env", Name: "host_fn", Desc: wasm.ImportDesc{Kind: wasm.KindFunc, TypeIdx: 0}},
			{Module: "env", Name: "host_g", Desc: wasm.ImportDesc{
				Kind:   wasm.KindGlobal,
				Global: &wasm.GlobalType{ValType: wasm.ValF64},
			}},
		},
		Funcs: []uint32{1, 0},
		Code: []wasm.FuncBody{
			{Code: []byte{0x0B}},
			{Code: []byte{0x20, 0x00, 0x0B}},
		},
		Globals: []wasm.Global{
			{Type: wasm.GlobalType{ValType: wasm.ValI64, Mutable: true}, Init: []byte{0x42, 0x00, 0x0B}},
		},
	}
}

func TestIndexSpaceCounts(t *testing.T) {
	m := fixtureModule()

	if got := m.NumImportedFuncs(); got != 1 {
		t.Errorf("NumImportedFuncs = %d, want 1", got)
	}
	if got := m.NumFuncs(); got != 3 {
		t.Errorf("NumFuncs = %d, want 3", got)
	}
	if got := m.NumImportedGlobals(); got != 1 {
		t.Errorf("NumImportedGlobals = %d, want 1", got)
	}
	if got := m.NumGlobals(); got != 2 {
		t.Errorf("NumGlobals = %d, want 2", got)
	}
	if got := m.NumImportedTables(); got != 0 {
		t.Errorf("NumImportedTables = %d, want 0", got)
	}
	if got := m.NumImportedMemories(); got != 0 {
		t.Errorf("NumImportedMemories = %d, want 0", got)
	}
}

func TestGetFuncType(t *testing.T) {
	m := fixtureModule()

	// Index 0 is the import with type 0.
	ft := m.GetFuncType(0)
	if ft == nil || len(ft.Params) != 1 || ft.Params[0] != wasm.ValI32 {
		t.Errorf("func 0 type = %v, want (i32) -> (i32)", ft)
	}

	// Index 1 is the first defined function, declared with type 1.
	ft = m.GetFuncType(1)
	if ft == nil || len(ft.Params) != 0 || len(ft.Results) != 0 {
		t.Errorf("func 1 type = %v, want () -> ()", ft)
	}

	// Index 2 is the second defined function, back on type 0.
	ft = m.GetFuncType(2)
	if ft == nil || len(ft.Results) != 1 {
		t.Errorf("func 2 type = %v, want (i32) -> (i32)", ft)
	}

	if m.GetFuncType(3) != nil {
		t.Error("out of range index should return nil")
	}
}

func TestImportedFunc(t *testing.T) {
	m := fixtureModule()

	imp := m.ImportedFunc(0)
	if imp == nil || imp.Name != "host_fn" {
		t.Errorf("ImportedFunc(0) = %v, want host_fn", imp)
	}
	if m.ImportedFunc(1) != nil {
		t.Error("defined function index should return nil import")
	}
}

func TestGlobalTypeAt(t *testing.T) {
	m := fixtureModule()

	g := m.GlobalTypeAt(0)
	if g == nil || g.ValType != wasm.ValF64 || g.Mutable {
		t.Errorf("global 0 = %+v, want immutable f64 import", g)
	}

	g = m.GlobalTypeAt(1)
	if g == nil || g.ValType != wasm.ValI64 || !g.Mutable {
		t.Errorf("global 1 = %+v, want mutable i64", g)
	}

	if m.GlobalTypeAt(2) != nil {
		t.Error("out of range global should return nil")
	}
}

func TestAddType(t *testing.T) {
	m := &wasm.Module{}

	idx := m.AddType(wasm.FuncType{Params: []wasm.ValType{wasm.ValI32}})
	if idx != 0 {
		t.Errorf("first AddType = %d, want 0", idx)
	}

	// Same signature must reuse the slot.
	again := m.AddType(wasm.FuncType{Params: []wasm.ValType{wasm.ValI32}})
	if again != 0 {
		t.Errorf("duplicate AddType = %d, want 0", again)
	}

	other := m.AddType(wasm.FuncType{Results: []wasm.ValType{wasm.ValF32}})
	if other != 1 {
		t.Errorf("new AddType = %d, want 1", other)
	}
	if len(m.Types) != 2 {
		t.Errorf("len(Types) = %d, want 2", len(m.Types))
	}
}

func TestFuncTypeString(t *testing.T) {
	tests := []struct {
		ft   wasm.FuncType
		want string
	}{
		{wasm.FuncType{}, "() -> ()"},
		{
			wasm.FuncType{Params: []wasm.ValType{wasm.ValI32, wasm.ValF64}, Results: []wasm.ValType{wasm.ValI64}},
			"(i32, f64) -> (i64)",
		},
	}
	for _, tt := range tests {
		if got := tt.ft.String(); got != tt.want {
			t.Errorf("String() = %q, want %q", got, tt.want)
		}
	}
}

func TestFuncTypeEqual(t *testing.T) {
	a := wasm.FuncType{Params: []wasm.ValType{wasm.ValI32}}
	b := wasm.FuncType{Params: []wasm.ValType{wasm.ValI32}}
	c := wasm.FuncType{Params: []wasm.ValType{wasm.ValI64}}

	if !a.Equal(b) {
		t.Error("identical signatures should be equal")
	}
	if a.Equal(c) {
		t.Error("different param types should not be equal")
	}
	if a.Equal(wasm.FuncType{}) {
		t.Error("different arity should not be equal")
	}
}

func TestValTypeString(t *testing.T) {
	tests := []struct {
		vt   wasm.ValType
		want string
	}{
		{wasm.ValI32, "i32"},
		{wasm.ValI64, "i64"},
		{wasm.ValF32, "f32"},
		{wasm.ValF64, "f64"},
		{wasm.ValType(0x7B), "unknown"},
	}
	for _, tt := range tests {
		if got := tt.vt.String(); got != tt.want {
			t.Errorf("ValType(0x%02x).String() = %q, want %q", byte(tt.vt), got, tt.want)
		}
	}
}
