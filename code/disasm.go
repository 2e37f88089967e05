package code

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/wippyai/wasmdbg"
	"github.com/wippyai/wasmdbg/symtab"
	"github.com/wippyai/wasmdbg/wasm"
)

// Line is one rendered instruction of a disassembly listing.
type Line struct {
	Pos  wasmdbg.CodePosition
	Text string
}

// Disassemble renders every instruction of a prepared function as text.
// Nesting is shown with two spaces of indentation per open block; else and
// end are printed one level out so they line up with their block header.
// When syms is non-nil, call targets, named locals, and named globals are
// annotated with "<name>".
func Disassemble(fn *Function, syms *symtab.Table) []Line {
	lines := make([]Line, 0, len(fn.Instrs))
	indent := 0
	for i, ins := range fn.Instrs {
		switch ins.Opcode {
		case wasm.OpElse, wasm.OpEnd:
			if indent > 0 {
				indent--
			}
		}
		lines = append(lines, Line{
			Pos:  wasmdbg.CodePosition{Func: fn.Idx, Instr: uint32(i)},
			Text: strings.Repeat("  ", indent) + renderInstr(fn, ins, syms),
		})
		switch ins.Opcode {
		case wasm.OpBlock, wasm.OpLoop, wasm.OpIf, wasm.OpElse:
			indent++
		}
	}
	return lines
}

func renderInstr(fn *Function, ins wasm.Instruction, syms *symtab.Table) string {
	name := ins.Name()

	switch imm := ins.Imm.(type) {
	case wasm.BlockImm:
		if imm.HasResult() {
			return fmt.Sprintf("%s (result %s)", name, imm.ResultType())
		}
		return name

	case wasm.BranchImm:
		return fmt.Sprintf("%s %d", name, imm.LabelIdx)

	case wasm.BrTableImm:
		var sb strings.Builder
		sb.WriteString(name)
		for _, l := range imm.Labels {
			fmt.Fprintf(&sb, " %d", l)
		}
		fmt.Fprintf(&sb, " %d", imm.Default)
		return sb.String()

	case wasm.CallImm:
		if syms != nil {
			return fmt.Sprintf("%s %d <%s>", name, imm.FuncIdx, syms.FuncName(imm.FuncIdx))
		}
		return fmt.Sprintf("%s %d", name, imm.FuncIdx)

	case wasm.CallIndirectImm:
		return fmt.Sprintf("%s (type %d)", name, imm.TypeIdx)

	case wasm.LocalImm:
		if syms != nil {
			if local, ok := syms.LocalName(fn.Idx, imm.LocalIdx); ok {
				return fmt.Sprintf("%s %d <%s>", name, imm.LocalIdx, local)
			}
		}
		return fmt.Sprintf("%s %d", name, imm.LocalIdx)

	case wasm.GlobalImm:
		// Synthetic global#N annotations would just repeat the index,
		// so only real names are shown.
		if syms != nil {
			if global, ok := syms.RealName(wasm.KindGlobal, imm.GlobalIdx); ok {
				return fmt.Sprintf("%s %d <%s>", name, imm.GlobalIdx, global)
			}
		}
		return fmt.Sprintf("%s %d", name, imm.GlobalIdx)

	case wasm.MemoryImm:
		s := name
		if imm.Offset > 0 {
			s += fmt.Sprintf(" offset=%d", imm.Offset)
		}
		if natural, ok := wasm.NaturalAlign(ins.Opcode); ok && imm.Align != natural {
			s += fmt.Sprintf(" align=%d", uint32(1)<<imm.Align)
		}
		return s

	case wasm.I32Imm:
		return fmt.Sprintf("%s %d", name, imm.Value)

	case wasm.I64Imm:
		return fmt.Sprintf("%s %d", name, imm.Value)

	case wasm.F32Imm:
		return name + " " + formatF32(imm.Bits)

	case wasm.F64Imm:
		return name + " " + formatF64(imm.Bits)

	default:
		return name
	}
}

func formatF32(bits uint32) string {
	f := math.Float32frombits(bits)
	switch {
	case math.IsNaN(float64(f)):
		return fmt.Sprintf("nan:0x%08x", bits)
	case math.IsInf(float64(f), 1):
		return "inf"
	case math.IsInf(float64(f), -1):
		return "-inf"
	}
	return strconv.FormatFloat(float64(f), 'g', -1, 32)
}

func formatF64(bits uint64) string {
	f := math.Float64frombits(bits)
	switch {
	case math.IsNaN(f):
		return fmt.Sprintf("nan:0x%016x", bits)
	case math.IsInf(f, 1):
		return "inf"
	case math.IsInf(f, -1):
		return "-inf"
	}
	return strconv.FormatFloat(f, 'g', -1, 64)
}
