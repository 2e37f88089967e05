package main

import (
	"fmt"

	"github.com/wippyai/wasmdbg/wasm"
)

func (s *session) cmdInfo(args []string) error {
	if len(args) == 0 {
		return s.infoFile()
	}
	switch args[0] {
	case "file", "module", "modules":
		return s.infoFile()
	case "ip":
		return s.infoIP()
	case "types", "type":
		return s.infoTypes()
	case "imports", "import":
		return s.infoImports()
	case "functions", "function", "funcs", "fn":
		return s.infoFunctions()
	case "tables", "table":
		return s.infoTables()
	case "memory", "mem":
		return s.infoMemory()
	case "globals", "global":
		return s.infoGlobals()
	case "exports", "export":
		return s.infoExports()
	case "start":
		return s.infoStart()
	case "elements", "element":
		return s.infoElements()
	case "data":
		return s.infoData()
	case "custom":
		return s.infoCustom()
	case "breakpoints", "break", "bp":
		return s.infoBreakpoints()
	case "watchpoints", "watch", "wp":
		return s.infoWatchpoints()
	}
	return fmt.Errorf("unknown info topic %q, see \"help info\"", args[0])
}

func (s *session) infoFile() error {
	m := s.dbg.Module()
	if s.file != "" {
		s.printf("file: %s", s.file)
	}
	if name := s.dbg.Symbols().ModuleName(); name != "" {
		s.printf("module name: %s", name)
	}
	s.printf("%s", plural(len(m.Types), "type", "types"))
	s.printf("%s", plural(len(m.Imports), "import", "imports"))
	if n := m.NumImportedFuncs(); n > 0 {
		s.printf(" -> %s", plural(n, "function import", "function imports"))
	}
	if n := m.NumImportedTables(); n > 0 {
		s.printf(" -> %s", plural(n, "table import", "table imports"))
	}
	if n := m.NumImportedMemories(); n > 0 {
		s.printf(" -> %s", plural(n, "memory import", "memory imports"))
	}
	if n := m.NumImportedGlobals(); n > 0 {
		s.printf(" -> %s", plural(n, "global import", "global imports"))
	}
	declared := m.NumFuncs() - m.NumImportedFuncs()
	s.printf("%s", plural(declared, "function", "functions"))
	s.printf("%s", plural(len(m.Tables), "table", "tables"))
	s.printf("%s", plural(len(m.Memories), "linear memory", "linear memories"))
	for i, mem := range m.Memories {
		s.printf(" -> memory #%d: %s pages", i, limitsText(mem.Limits))
	}
	s.printf("%s", plural(len(m.Globals), "global", "globals"))
	s.printf("%s", plural(len(m.Exports), "export", "exports"))
	if m.Start != nil {
		s.printf("start function: #%d", *m.Start)
	} else {
		s.printf("no start section")
	}
	s.printf("%s", plural(len(m.Elements), "table initializer", "table initializers"))
	s.printf("%s", plural(len(m.Data), "data initializer", "data initializers"))
	for i := range m.Data {
		seg := &m.Data[i]
		s.printf(" -> for memory %d at offset %s for 0x%x bytes",
			seg.MemIdx, constExprText(seg.Offset), len(seg.Init))
	}
	if m.Names != nil {
		s.printf("name section present")
	} else {
		s.printf("no name section")
	}
	if n := len(m.CustomSections); n > 0 {
		s.printf("%s", plural(n, "custom section", "custom sections"))
		for _, sec := range m.CustomSections {
			s.printf(" -> %s: %d bytes", sec.Name, len(sec.Data))
		}
	}
	return nil
}

func (s *session) infoIP() error {
	pos, ok := s.dbg.Position()
	if !ok {
		return fmt.Errorf("nothing is running")
	}
	s.printf("function: %d <%s>", pos.Func, s.dbg.Symbols().FuncName(pos.Func))
	s.printf("instruction: %d", pos.Instr)
	return nil
}

func (s *session) infoTypes() error {
	types := s.dbg.Module().Types
	if len(types) == 0 {
		s.printf("no type section")
		return nil
	}
	s.printf("%s", plural(len(types), "type", "types"))
	for i, ft := range types {
		s.printf("type %3d: %s", i, ft)
	}
	return nil
}

func (s *session) infoImports() error {
	m := s.dbg.Module()
	if len(m.Imports) == 0 {
		s.printf("no import section")
		return nil
	}
	s.printf("%s", plural(len(m.Imports), "import", "imports"))
	for i := range m.Imports {
		imp := &m.Imports[i]
		from := imp.Module + "." + imp.Name
		switch imp.Desc.Kind {
		case wasm.KindFunc:
			detail := "unknown type"
			if int(imp.Desc.TypeIdx) < len(m.Types) {
				detail = fmt.Sprintf("type %d: %s", imp.Desc.TypeIdx, m.Types[imp.Desc.TypeIdx])
			}
			s.printf("func    %-30s %s", from, detail)
		case wasm.KindTable:
			s.printf("table   %-30s %s entries", from, limitsText(imp.Desc.Table.Limits))
		case wasm.KindMemory:
			s.printf("memory  %-30s %s pages", from, limitsText(imp.Desc.Memory.Limits))
		case wasm.KindGlobal:
			mut := "const"
			if imp.Desc.Global.Mutable {
				mut = "mut"
			}
			s.printf("global  %-30s %s %s", from, mut, imp.Desc.Global.ValType)
		}
	}
	return nil
}

func (s *session) infoFunctions() error {
	m := s.dbg.Module()
	syms := s.dbg.Symbols()
	for idx := uint32(0); int(idx) < m.NumFuncs(); idx++ {
		sig := "?"
		if ft := m.GetFuncType(idx); ft != nil {
			sig = ft.String()
		}
		if imp := m.ImportedFunc(idx); imp != nil {
			s.printf("%4d %s %s  imported from %s.%s",
				idx, syms.FuncName(idx), sig, imp.Module, imp.Name)
		} else {
			s.printf("%4d %s %s", idx, syms.FuncName(idx), sig)
		}
	}
	return nil
}

func (s *session) infoTables() error {
	m := s.dbg.Module()
	total := m.NumImportedTables() + len(m.Tables)
	if total == 0 {
		s.printf("no tables")
		return nil
	}
	idx := 0
	for i := range m.Imports {
		if m.Imports[i].Desc.Kind == wasm.KindTable {
			s.printf("table %d: funcref, %s entries  imported from %s.%s",
				idx, limitsText(m.Imports[i].Desc.Table.Limits),
				m.Imports[i].Module, m.Imports[i].Name)
			idx++
		}
	}
	for i := range m.Tables {
		s.printf("table %d: funcref, %s entries", idx, limitsText(m.Tables[i].Limits))
		idx++
	}
	s.printf("%s", plural(len(m.Elements), "element segment", "element segments"))
	return nil
}

func (s *session) infoMemory() error {
	m := s.dbg.Module()
	total := m.NumImportedMemories() + len(m.Memories)
	if total == 0 {
		s.printf("no linear memory")
		return nil
	}
	idx := 0
	for i := range m.Imports {
		if m.Imports[i].Desc.Kind == wasm.KindMemory {
			s.printf("memory %d: %s pages  imported from %s.%s",
				idx, limitsText(m.Imports[i].Desc.Memory.Limits),
				m.Imports[i].Module, m.Imports[i].Name)
			idx++
		}
	}
	for i := range m.Memories {
		s.printf("memory %d: %s pages", idx, limitsText(m.Memories[i].Limits))
		idx++
	}
	if mem := s.dbg.Memory(); mem != nil {
		s.printf("current size: %d pages (%d bytes)", mem.Pages(), mem.Len())
	}
	s.printf("%s", plural(len(s.dbg.Module().Data), "data segment", "data segments"))
	return nil
}

func (s *session) infoGlobals() error {
	m := s.dbg.Module()
	if m.NumGlobals() == 0 {
		s.printf("no globals")
		return nil
	}
	vals, _ := s.dbg.Globals()
	imported := m.NumImportedGlobals()
	for idx := 0; idx < m.NumGlobals(); idx++ {
		gt := m.GlobalTypeAt(uint32(idx))
		if gt == nil {
			continue
		}
		mut := "const"
		if gt.Mutable {
			mut = "mut"
		}
		line := fmt.Sprintf("%3d %-5s %s", idx, mut, gt.ValType)
		if idx < len(vals) {
			line += " = " + vals[idx].String()
		}
		if name, ok := s.dbg.Symbols().RealName(wasm.KindGlobal, uint32(idx)); ok {
			line += " <" + name + ">"
		}
		if idx < imported {
			line += "  imported"
		}
		s.printf("%s", line)
	}
	return nil
}

func (s *session) infoExports() error {
	m := s.dbg.Module()
	if len(m.Exports) == 0 {
		s.printf("no export section")
		return nil
	}
	s.printf("%s", plural(len(m.Exports), "export", "exports"))
	for _, exp := range m.Exports {
		detail := ""
		if exp.Kind == wasm.KindFunc {
			if ft := m.GetFuncType(exp.Idx); ft != nil {
				detail = "  " + ft.String()
			}
		}
		s.printf("%-7s %-24s #%d%s", externKind(exp.Kind), exp.Name, exp.Idx, detail)
	}
	return nil
}

func (s *session) infoStart() error {
	m := s.dbg.Module()
	if m.Start == nil {
		s.printf("no start section; run falls back to an exported _start or main")
		return nil
	}
	s.printf("start function: #%d <%s>", *m.Start, s.dbg.Symbols().FuncName(*m.Start))
	return nil
}

func (s *session) infoElements() error {
	m := s.dbg.Module()
	if len(m.Elements) == 0 {
		s.printf("no element section")
		return nil
	}
	s.printf("%s", plural(len(m.Elements), "element segment", "element segments"))
	for i := range m.Elements {
		seg := &m.Elements[i]
		s.printf(" -> table %d at offset %s: %s",
			seg.TableIdx, constExprText(seg.Offset),
			plural(len(seg.FuncIdxs), "entry", "entries"))
	}
	return nil
}

func (s *session) infoData() error {
	m := s.dbg.Module()
	if len(m.Data) == 0 {
		s.printf("no data section")
		return nil
	}
	s.printf("%s", plural(len(m.Data), "data segment", "data segments"))
	for i := range m.Data {
		seg := &m.Data[i]
		s.printf(" -> memory %d at offset %s: 0x%x bytes",
			seg.MemIdx, constExprText(seg.Offset), len(seg.Init))
	}
	return nil
}

func (s *session) infoCustom() error {
	m := s.dbg.Module()
	if m.Names != nil {
		funcs := len(m.Names.Funcs)
		locals := len(m.Names.Locals)
		s.printf("name section: %s, %s",
			plural(funcs, "function name", "function names"),
			plural(locals, "local name table", "local name tables"))
		if m.Names.Module != "" {
			s.printf(" -> module name %q", m.Names.Module)
		}
	} else {
		s.printf("no name section")
	}
	if len(m.CustomSections) == 0 {
		s.printf("no other custom sections")
		return nil
	}
	for _, sec := range m.CustomSections {
		s.printf("%-24s %d bytes", sec.Name, len(sec.Data))
	}
	return nil
}

func (s *session) infoBreakpoints() error {
	bps := s.dbg.Breakpoints()
	if len(bps) == 0 {
		s.printf("no breakpoints")
		return nil
	}
	s.printf("num  enabled  hits  where")
	for _, bp := range bps {
		s.printf("%-4d %-8s %-5d %s (%s)",
			bp.ID, yesNo(bp.Enabled), bp.HitCount,
			s.dbg.Symbols().FuncName(bp.Pos.Func), bp.Pos)
	}
	return nil
}

func (s *session) infoWatchpoints() error {
	wps := s.dbg.Watchpoints()
	if len(wps) == 0 {
		s.printf("no watchpoints")
		return nil
	}
	s.printf("num  enabled  hits  target")
	for i := range wps {
		wp := &wps[i]
		s.printf("%-4d %-8s %-5d %s", wp.ID, yesNo(wp.Enabled), wp.HitCount, wp.Target())
	}
	return nil
}

// constExprText renders a segment's one-instruction offset expression.
func constExprText(expr []byte) string {
	instrs, err := wasm.DecodeInstructions(expr)
	if err != nil || len(instrs) == 0 {
		return "?"
	}
	switch imm := instrs[0].Imm.(type) {
	case wasm.I32Imm:
		return fmt.Sprintf("%d", imm.Value)
	case wasm.I64Imm:
		return fmt.Sprintf("%d", imm.Value)
	case wasm.GlobalImm:
		return fmt.Sprintf("global %d", imm.GlobalIdx)
	}
	return instrs[0].Name()
}

func limitsText(l wasm.Limits) string {
	if l.Max != nil {
		return fmt.Sprintf("min 0x%x, max 0x%x", l.Min, *l.Max)
	}
	return fmt.Sprintf("min 0x%x", l.Min)
}

func externKind(k byte) string {
	switch k {
	case wasm.KindFunc:
		return "func"
	case wasm.KindTable:
		return "table"
	case wasm.KindMemory:
		return "memory"
	case wasm.KindGlobal:
		return "global"
	}
	return "unknown"
}

func plural(n int, one, many string) string {
	if n == 1 {
		return fmt.Sprintf("%d %s", n, one)
	}
	return fmt.Sprintf("%d %s", n, many)
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}
