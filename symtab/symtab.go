package symtab

import (
	"fmt"

	"github.com/wippyai/wasmdbg/wasm"
)

// Symbol is the reverse-lookup result: which index space a name belongs to
// and the index within it. Kind uses the wasm.KindFunc..KindGlobal constants.
type Symbol struct {
	Kind byte
	Idx  uint32
}

// Entry pairs an index with its resolved name, for listings.
type Entry struct {
	Name string
	Idx  uint32
}

// Table holds the resolved names for every index space of one module.
// Slots without a module-supplied name hold "" and resolve to synthetic
// labels on demand.
type Table struct {
	module string
	names  map[byte][]string
	locals map[uint32]map[uint32]string
	byName map[string]Symbol
}

// New builds the symbol table for a decoded module.
func New(mod *wasm.Module) *Table {
	t := &Table{
		names:  make(map[byte][]string, 4),
		byName: make(map[string]Symbol),
	}

	var funcNames map[uint32]string
	if mod.Names != nil {
		t.module = mod.Names.Module
		funcNames = mod.Names.Funcs
		t.locals = mod.Names.Locals
	}

	t.resolveSpace(mod, wasm.KindFunc, mod.NumFuncs(), funcNames)
	t.resolveSpace(mod, wasm.KindGlobal, mod.NumGlobals(), nil)
	t.resolveSpace(mod, wasm.KindTable, mod.NumImportedTables()+len(mod.Tables), nil)
	t.resolveSpace(mod, wasm.KindMemory, mod.NumImportedMemories()+len(mod.Memories), nil)

	return t
}

// resolveSpace fills one index space: the name section wins, then exports,
// then nothing (synthetic on demand). Reverse entries register first owner
// wins, so an aliased name always resolves back to the lowest index that
// bears it.
func (t *Table) resolveSpace(mod *wasm.Module, kind byte, size int, sectionNames map[uint32]string) {
	exports := make(map[uint32]string)
	for _, exp := range mod.Exports {
		if exp.Kind != kind {
			continue
		}
		if _, ok := exports[exp.Idx]; !ok {
			exports[exp.Idx] = exp.Name
		}
	}

	names := make([]string, size)
	for i := range names {
		idx := uint32(i)
		name, ok := sectionNames[idx]
		if !ok {
			name = exports[idx]
		}
		names[i] = name
		if name != "" {
			if _, taken := t.byName[name]; !taken {
				t.byName[name] = Symbol{Kind: kind, Idx: idx}
			}
		}
		label := synthetic(kind, idx)
		if _, taken := t.byName[label]; !taken {
			t.byName[label] = Symbol{Kind: kind, Idx: idx}
		}
	}
	t.names[kind] = names

	// Exported aliases beyond the resolved name stay addressable.
	for _, exp := range mod.Exports {
		if exp.Kind != kind || exp.Name == "" {
			continue
		}
		if _, taken := t.byName[exp.Name]; !taken {
			t.byName[exp.Name] = Symbol{Kind: kind, Idx: exp.Idx}
		}
	}
}

func synthetic(kind byte, idx uint32) string {
	return fmt.Sprintf("%s#%d", kindName(kind), idx)
}

func kindName(kind byte) string {
	switch kind {
	case wasm.KindFunc:
		return "func"
	case wasm.KindTable:
		return "table"
	case wasm.KindMemory:
		return "memory"
	case wasm.KindGlobal:
		return "global"
	default:
		return "unknown"
	}
}

// ModuleName returns the module's own name from the name section, or "".
func (t *Table) ModuleName() string {
	return t.module
}

// Name resolves any index in the given space. Out-of-range indices still
// get a synthetic label so callers can print positions from questionable
// modules without guarding.
func (t *Table) Name(kind byte, idx uint32) string {
	if name, ok := t.RealName(kind, idx); ok {
		return name
	}
	return synthetic(kind, idx)
}

// RealName returns the module-supplied name of an index, or false when
// only a synthetic label exists. Display code uses this to avoid
// annotating indices with labels that restate the index.
func (t *Table) RealName(kind byte, idx uint32) (string, bool) {
	space := t.names[kind]
	if int(idx) < len(space) && space[idx] != "" {
		return space[idx], true
	}
	return "", false
}

// FuncName resolves a function index.
func (t *Table) FuncName(idx uint32) string {
	return t.Name(wasm.KindFunc, idx)
}

// GlobalName resolves a global index.
func (t *Table) GlobalName(idx uint32) string {
	return t.Name(wasm.KindGlobal, idx)
}

// TableName resolves a table index.
func (t *Table) TableName(idx uint32) string {
	return t.Name(wasm.KindTable, idx)
}

// MemoryName resolves a memory index.
func (t *Table) MemoryName(idx uint32) string {
	return t.Name(wasm.KindMemory, idx)
}

// LocalName returns the name-section name of a local (params count from
// zero), or false when the module carries none for it.
func (t *Table) LocalName(funcIdx, localIdx uint32) (string, bool) {
	name, ok := t.locals[funcIdx][localIdx]
	return name, ok
}

// Lookup maps a name back to its symbol. Synthetic labels resolve too, so
// "func#3" is always addressable even for unnamed functions.
func (t *Table) Lookup(name string) (Symbol, bool) {
	sym, ok := t.byName[name]
	return sym, ok
}

// LookupFunc maps a name to a function index, ignoring matches from other
// index spaces.
func (t *Table) LookupFunc(name string) (uint32, bool) {
	sym, ok := t.byName[name]
	if !ok || sym.Kind != wasm.KindFunc {
		return 0, false
	}
	return sym.Idx, true
}

// Entries lists one index space in index order with resolved names.
func (t *Table) Entries(kind byte) []Entry {
	space := t.names[kind]
	entries := make([]Entry, len(space))
	for i, name := range space {
		if name == "" {
			name = synthetic(kind, uint32(i))
		}
		entries[i] = Entry{Name: name, Idx: uint32(i)}
	}
	return entries
}
