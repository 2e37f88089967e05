package wasm

import "strings"

// Module represents a parsed WebAssembly MVP module
type Module struct {
	Types    []FuncType
	Imports  []Import
	Funcs    []uint32 // Type indices for declared functions
	Tables   []TableType
	Memories []MemoryType
	Globals  []Global
	Exports  []Export
	Start    *uint32
	Elements []ElementSegment
	Code     []FuncBody
	Data     []DataSegment

	// Names holds the decoded "name" custom section, if present.
	Names *NameSection

	// CustomSections holds custom sections other than "name", verbatim.
	CustomSections []CustomSection
}

// FuncType represents a WebAssembly function signature with parameter and result types.
type FuncType struct {
	Params  []ValType
	Results []ValType
}

func (ft FuncType) String() string {
	var b strings.Builder
	b.WriteByte('(')
	for i, p := range ft.Params {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(p.String())
	}
	b.WriteString(") -> (")
	for i, r := range ft.Results {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(r.String())
	}
	b.WriteByte(')')
	return b.String()
}

// Equal reports whether two signatures have identical params and results.
func (ft FuncType) Equal(other FuncType) bool {
	if len(ft.Params) != len(other.Params) || len(ft.Results) != len(other.Results) {
		return false
	}
	for i := range ft.Params {
		if ft.Params[i] != other.Params[i] {
			return false
		}
	}
	for i := range ft.Results {
		if ft.Results[i] != other.Results[i] {
			return false
		}
	}
	return true
}

// ValType represents one of the four MVP value types.
// See constants.go for ValI32, ValI64, ValF32, ValF64.
type ValType byte

func (v ValType) String() string {
	switch v {
	case ValI32:
		return "i32"
	case ValI64:
		return "i64"
	case ValF32:
		return "f32"
	case ValF64:
		return "f64"
	default:
		return "unknown"
	}
}

// Valid reports whether the byte encodes an MVP value type.
func (v ValType) Valid() bool {
	switch v {
	case ValI32, ValI64, ValF32, ValF64:
		return true
	}
	return false
}

// Import represents an imported function, table, memory, or global.
type Import struct {
	Desc   ImportDesc
	Module string
	Name   string
}

// ImportDesc describes an imported item.
// Kind uses the KindFunc, KindTable, KindMemory, or KindGlobal constants.
type ImportDesc struct {
	Table   *TableType
	Memory  *MemoryType
	Global  *GlobalType
	TypeIdx uint32
	Kind    byte
}

// TableType describes a table with element type and size limits.
// The MVP's only element type is funcref.
type TableType struct {
	ElemType byte
	Limits   Limits
}

// MemoryType describes a linear memory with size limits in pages.
type MemoryType struct {
	Limits Limits
}

// Limits describes size constraints for tables and memories.
type Limits struct {
	Max *uint32
	Min uint32
}

// GlobalType describes a global variable's type and mutability.
type GlobalType struct {
	ValType ValType
	Mutable bool
}

// Global represents a global variable with type and initialization.
type Global struct {
	Type GlobalType
	Init []byte // Raw constant expression bytes including the end opcode
}

// Export describes an exported item.
// Kind uses the KindFunc, KindTable, KindMemory, or KindGlobal constants.
type Export struct {
	Name string
	Kind byte
	Idx  uint32
}

// ElementSegment is an active element segment: table index (always 0 in the
// MVP), a constant offset expression, and the function indices to place.
type ElementSegment struct {
	Offset   []byte // Raw constant expression bytes including the end opcode
	FuncIdxs []uint32
	TableIdx uint32
}

// FuncBody represents a function's local declarations and bytecode.
type FuncBody struct {
	Locals []LocalEntry
	Code   []byte // Raw code bytes including the trailing end opcode
}

// LocalEntry represents a group of local variables with the same type.
type LocalEntry struct {
	Count   uint32
	ValType ValType
}

// DataSegment is an active data segment: memory index (always 0 in the MVP),
// a constant offset expression, and the bytes to place.
type DataSegment struct {
	Offset []byte // Raw constant expression bytes including the end opcode
	Init   []byte
	MemIdx uint32
}

// CustomSection holds a named custom section's data.
type CustomSection struct {
	Name string
	Data []byte
}

// NameSection holds the decoded contents of the "name" custom section.
// Maps are keyed by indices in the function index space (imports first,
// then defined functions).
type NameSection struct {
	Module string
	// Funcs maps function index to name.
	Funcs map[uint32]string
	// Locals maps function index to local index to name.
	Locals map[uint32]map[uint32]string
}

// NumImportedFuncs returns the number of imported functions
func (m *Module) NumImportedFuncs() int {
	count := 0
	for _, imp := range m.Imports {
		if imp.Desc.Kind == KindFunc {
			count++
		}
	}
	return count
}

// NumImportedGlobals returns the number of imported globals
func (m *Module) NumImportedGlobals() int {
	count := 0
	for _, imp := range m.Imports {
		if imp.Desc.Kind == KindGlobal {
			count++
		}
	}
	return count
}

// NumImportedTables returns the number of imported tables
func (m *Module) NumImportedTables() int {
	count := 0
	for _, imp := range m.Imports {
		if imp.Desc.Kind == KindTable {
			count++
		}
	}
	return count
}

// NumImportedMemories returns the number of imported memories
func (m *Module) NumImportedMemories() int {
	count := 0
	for _, imp := range m.Imports {
		if imp.Desc.Kind == KindMemory {
			count++
		}
	}
	return count
}

// NumFuncs returns the size of the function index space (imports + defined).
func (m *Module) NumFuncs() int {
	return m.NumImportedFuncs() + len(m.Funcs)
}

// NumGlobals returns the size of the global index space (imports + defined).
func (m *Module) NumGlobals() int {
	return m.NumImportedGlobals() + len(m.Globals)
}

// GetFuncType returns the signature of a function by its index in the
// function index space, or nil when the index is out of range.
func (m *Module) GetFuncType(funcIdx uint32) *FuncType {
	numImported := uint32(m.NumImportedFuncs())
	if funcIdx < numImported {
		seen := uint32(0)
		for i := range m.Imports {
			if m.Imports[i].Desc.Kind != KindFunc {
				continue
			}
			if seen == funcIdx {
				return m.typeByIdx(m.Imports[i].Desc.TypeIdx)
			}
			seen++
		}
		return nil
	}
	localIdx := funcIdx - numImported
	if int(localIdx) >= len(m.Funcs) {
		return nil
	}
	return m.typeByIdx(m.Funcs[localIdx])
}

func (m *Module) typeByIdx(typeIdx uint32) *FuncType {
	if int(typeIdx) >= len(m.Types) {
		return nil
	}
	return &m.Types[typeIdx]
}

// ImportedFunc returns the import entry backing a function index, or nil
// when the index addresses a defined function.
func (m *Module) ImportedFunc(funcIdx uint32) *Import {
	seen := uint32(0)
	for i := range m.Imports {
		if m.Imports[i].Desc.Kind != KindFunc {
			continue
		}
		if seen == funcIdx {
			return &m.Imports[i]
		}
		seen++
	}
	return nil
}

// GlobalTypeAt returns the declared type of a global by its index in the
// global index space, or nil when the index is out of range.
func (m *Module) GlobalTypeAt(globalIdx uint32) *GlobalType {
	numImported := uint32(m.NumImportedGlobals())
	if globalIdx < numImported {
		seen := uint32(0)
		for i := range m.Imports {
			if m.Imports[i].Desc.Kind != KindGlobal {
				continue
			}
			if seen == globalIdx {
				return m.Imports[i].Desc.Global
			}
			seen++
		}
		return nil
	}
	localIdx := globalIdx - numImported
	if int(localIdx) >= len(m.Globals) {
		return nil
	}
	return &m.Globals[localIdx].Type
}

// AddType adds a function type and returns its index, reusing existing if equal
func (m *Module) AddType(ft FuncType) uint32 {
	for i, t := range m.Types {
		if t.Equal(ft) {
			return uint32(i)
		}
	}
	idx := uint32(len(m.Types))
	m.Types = append(m.Types, ft)
	return idx
}
