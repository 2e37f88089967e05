package wasm

import (
	"fmt"
	"math"

	"github.com/wippyai/wasmdbg/errors"
)

// Validate checks the cross-section rules a single linear pass cannot:
// counts that must agree and indices that must land inside their index
// spaces. Sections may arrive in any order, so these checks run once
// the whole module is in hand. Type-checking of instruction sequences
// is deliberately left to execution, where a bad module traps at the
// offending instruction instead of being rejected outright.
func (m *Module) Validate() error {
	if err := m.validateCodeCount(); err != nil {
		return err
	}
	if err := m.validateTypeIndices(); err != nil {
		return err
	}
	if err := m.validateSingleInstances(); err != nil {
		return err
	}
	if err := m.validateMemoryLimits(); err != nil {
		return err
	}
	if err := m.validateExports(); err != nil {
		return err
	}
	if err := m.validateStart(); err != nil {
		return err
	}
	if err := m.validateElements(); err != nil {
		return err
	}
	if err := m.validateData(); err != nil {
		return err
	}
	return m.validateLocalCounts()
}

func (m *Module) validateCodeCount() error {
	if len(m.Funcs) != len(m.Code) {
		return errors.New(errors.PhaseDecode, errors.KindInvalidData).
			Path("code").
			Detail("function section declares %d functions but code section has %d bodies",
				len(m.Funcs), len(m.Code)).
			Build()
	}
	return nil
}

func (m *Module) validateTypeIndices() error {
	for i, imp := range m.Imports {
		if imp.Desc.Kind == KindFunc && int(imp.Desc.TypeIdx) >= len(m.Types) {
			return errors.New(errors.PhaseDecode, errors.KindOutOfBounds).
				Path("import", fmt.Sprint(i)).
				Detail("%s.%s references type %d, type section has %d entries",
					imp.Module, imp.Name, imp.Desc.TypeIdx, len(m.Types)).
				Build()
		}
	}
	for i, typeIdx := range m.Funcs {
		if int(typeIdx) >= len(m.Types) {
			return indexError("function", i, "type", typeIdx, len(m.Types))
		}
	}
	return nil
}

// validateSingleInstances enforces the MVP cap of one table and one
// memory per module, counting imports.
func (m *Module) validateSingleInstances() error {
	if n := m.NumImportedTables() + len(m.Tables); n > 1 {
		return errors.New(errors.PhaseDecode, errors.KindInvalidData).
			Path("table").
			Detail("%d tables defined, at most one is allowed", n).
			Build()
	}
	if n := m.NumImportedMemories() + len(m.Memories); n > 1 {
		return errors.New(errors.PhaseDecode, errors.KindInvalidData).
			Path("memory").
			Detail("%d memories defined, at most one is allowed", n).
			Build()
	}
	return nil
}

func (m *Module) validateMemoryLimits() error {
	for _, imp := range m.Imports {
		if imp.Desc.Kind == KindMemory && imp.Desc.Memory != nil {
			if err := checkMemoryPages(imp.Desc.Memory.Limits); err != nil {
				return err
			}
		}
	}
	for i := range m.Memories {
		if err := checkMemoryPages(m.Memories[i].Limits); err != nil {
			return err
		}
	}
	return nil
}

func checkMemoryPages(l Limits) error {
	if l.Min > MemoryMaxPages {
		return errors.New(errors.PhaseDecode, errors.KindOutOfBounds).
			Path("memory").
			Detail("minimum of %d pages exceeds the 4 GiB limit of %d pages", l.Min, MemoryMaxPages).
			Build()
	}
	if l.Max != nil && *l.Max > MemoryMaxPages {
		return errors.New(errors.PhaseDecode, errors.KindOutOfBounds).
			Path("memory").
			Detail("maximum of %d pages exceeds the 4 GiB limit of %d pages", *l.Max, MemoryMaxPages).
			Build()
	}
	return nil
}

func (m *Module) validateExports() error {
	numTables := m.NumImportedTables() + len(m.Tables)
	numMemories := m.NumImportedMemories() + len(m.Memories)

	seen := make(map[string]bool, len(m.Exports))
	for i, exp := range m.Exports {
		if seen[exp.Name] {
			return errors.New(errors.PhaseDecode, errors.KindInvalidData).
				Path("export", exp.Name).
				Detail("duplicate export name %q", exp.Name).
				Build()
		}
		seen[exp.Name] = true

		var space int
		var what string
		switch exp.Kind {
		case KindFunc:
			space, what = m.NumFuncs(), "function"
		case KindTable:
			space, what = numTables, "table"
		case KindMemory:
			space, what = numMemories, "memory"
		case KindGlobal:
			space, what = m.NumGlobals(), "global"
		}
		if int(exp.Idx) >= space {
			return indexError("export", i, what, exp.Idx, space)
		}
	}
	return nil
}

func (m *Module) validateStart() error {
	if m.Start == nil {
		return nil
	}
	if int(*m.Start) >= m.NumFuncs() {
		return indexError("start", 0, "function", *m.Start, m.NumFuncs())
	}
	ft := m.GetFuncType(*m.Start)
	if ft == nil || len(ft.Params) != 0 || len(ft.Results) != 0 {
		return errors.New(errors.PhaseDecode, errors.KindInvalidData).
			Path("start").
			Detail("start function %d must take no parameters and return no results", *m.Start).
			Build()
	}
	return nil
}

func (m *Module) validateElements() error {
	if len(m.Elements) > 0 && m.NumImportedTables()+len(m.Tables) == 0 {
		return errors.New(errors.PhaseDecode, errors.KindOutOfBounds).
			Path("element").
			Detail("element segment requires a table").
			Build()
	}
	numFuncs := m.NumFuncs()
	for i, elem := range m.Elements {
		for _, funcIdx := range elem.FuncIdxs {
			if int(funcIdx) >= numFuncs {
				return indexError("element", i, "function", funcIdx, numFuncs)
			}
		}
	}
	return nil
}

func (m *Module) validateData() error {
	if len(m.Data) > 0 && m.NumImportedMemories()+len(m.Memories) == 0 {
		return errors.New(errors.PhaseDecode, errors.KindOutOfBounds).
			Path("data").
			Detail("data segment requires a memory").
			Build()
	}
	return nil
}

// validateLocalCounts rejects bodies whose declared locals overflow a
// uint32 when the per-type runs are flattened. Large but representable
// counts are allowed here and fail at call time if a frame cannot be
// built.
func (m *Module) validateLocalCounts() error {
	for i := range m.Code {
		var total uint64
		for _, entry := range m.Code[i].Locals {
			total += uint64(entry.Count)
		}
		if total > math.MaxUint32 {
			return errors.New(errors.PhaseDecode, errors.KindOverflow).
				Path("code", fmt.Sprint(i)).
				Detail("%d declared locals overflow the local index space", total).
				Build()
		}
	}
	return nil
}

func indexError(section string, entry int, space string, idx uint32, size int) error {
	return errors.New(errors.PhaseDecode, errors.KindOutOfBounds).
		Path(section, fmt.Sprint(entry)).
		Detail("%s index %d out of range, the %s index space has %d entries", space, idx, space, size).
		Build()
}
