package engine

import (
	"encoding/binary"

	"go.uber.org/zap"

	"github.com/wippyai/wasmdbg"
	"github.com/wippyai/wasmdbg/code"
	"github.com/wippyai/wasmdbg/errors"
	"github.com/wippyai/wasmdbg/wasm"
)

// Step executes exactly one instruction. Traps move the state to
// StatusTrapped and come back as the error; stepping a trapped state
// returns the same trap again. Stepping a halted or finished state is
// a no-op. Since bodies are not pre-validated, any structural fault a
// validator would have caught surfaces here as a trap instead.
func (s *State) Step() error {
	switch s.status {
	case StatusTrapped:
		return s.trap
	case StatusHalted, StatusFinished:
		return nil
	}
	if len(s.frames) == 0 {
		return errors.InvalidInput(errors.PhaseRuntime, "nothing to execute: no function invoked")
	}

	f := &s.frames[len(s.frames)-1]
	s.curPos = wasmdbg.CodePosition{Func: f.fn.Idx, Instr: f.pc}
	if uint64(f.pc) >= uint64(len(f.fn.Instrs)) {
		t := s.trapf(TrapUnsupported, "pc %d beyond body of func %d", f.pc, f.fn.Idx)
		s.fail(t)
		return t
	}
	if t := s.exec(f, f.fn.Instrs[f.pc]); t != nil {
		s.fail(t)
		return t
	}
	return nil
}

// exec dispatches one instruction. f points into the frame stack and is
// only valid until a call or return mutates it, so those paths return
// immediately. Blocks is total for block, loop, if, and else heads after
// Prepare; no ok-check is needed on the lookups.
func (s *State) exec(f *Frame, ins wasm.Instruction) *Trap {
	switch ins.Opcode {
	case wasm.OpUnreachable:
		return s.trapf(TrapUnreachable, "unreachable instruction executed")

	case wasm.OpNop:
		f.pc++

	case wasm.OpBlock:
		blk := f.fn.Blocks[f.pc]
		if t := s.pushLabel(Label{
			Head:   f.pc,
			Cont:   blk.End + 1,
			Height: uint32(len(s.stack)),
			Arity:  blk.Arity,
			Opcode: wasm.OpBlock,
		}); t != nil {
			return t
		}
		f.pc++

	case wasm.OpLoop:
		// A branch to a loop re-enters at the head and carries nothing.
		if t := s.pushLabel(Label{
			Head:   f.pc,
			Cont:   f.pc,
			Height: uint32(len(s.stack)),
			Opcode: wasm.OpLoop,
		}); t != nil {
			return t
		}
		f.pc++

	case wasm.OpIf:
		cond, t := s.popI32()
		if t != nil {
			return t
		}
		blk := f.fn.Blocks[f.pc]
		if t := s.pushLabel(Label{
			Head:   f.pc,
			Cont:   blk.End + 1,
			Height: uint32(len(s.stack)),
			Arity:  blk.Arity,
			Opcode: wasm.OpIf,
		}); t != nil {
			return t
		}
		switch {
		case cond != 0:
			f.pc++
		case blk.Else != code.NoElse:
			f.pc = blk.Else + 1
		default:
			f.pc = blk.End
		}

	case wasm.OpElse:
		// Reached by falling off the true arm; the end pops the label.
		f.pc = f.fn.Blocks[f.pc].End

	case wasm.OpEnd:
		if len(s.labels) == int(f.labelBase) {
			// A branch to the entry label landed here.
			return s.doReturn()
		}
		top := s.labels[len(s.labels)-1]
		s.labels = s.labels[:len(s.labels)-1]
		if top.Opcode == wasm.OpCall {
			return s.doReturn()
		}
		f.pc++

	case wasm.OpBr:
		return s.branch(f, ins.Imm.(wasm.BranchImm).LabelIdx)

	case wasm.OpBrIf:
		cond, t := s.popI32()
		if t != nil {
			return t
		}
		if cond != 0 {
			return s.branch(f, ins.Imm.(wasm.BranchImm).LabelIdx)
		}
		f.pc++

	case wasm.OpBrTable:
		imm := ins.Imm.(wasm.BrTableImm)
		sel, t := s.popU32()
		if t != nil {
			return t
		}
		depth := imm.Default
		if uint64(sel) < uint64(len(imm.Labels)) {
			depth = imm.Labels[sel]
		}
		return s.branch(f, depth)

	case wasm.OpReturn:
		return s.doReturn()

	case wasm.OpCall:
		f.pc++
		return s.call(ins.Imm.(wasm.CallImm).FuncIdx)

	case wasm.OpCallIndirect:
		imm := ins.Imm.(wasm.CallIndirectImm)
		sel, t := s.popU32()
		if t != nil {
			return t
		}
		if uint64(sel) >= uint64(len(s.table)) {
			return s.trapf(TrapOutOfBoundsTable, "table index %d out of range, table size %d", sel, len(s.table))
		}
		funcIdx := s.table[sel]
		if funcIdx == NoFunc {
			return s.trapf(TrapUninitializedElement, "table element %d is uninitialized", sel)
		}
		if uint64(imm.TypeIdx) >= uint64(len(s.mod.Types)) {
			return s.trapf(TrapSignatureMismatch, "call_indirect type %d out of range", imm.TypeIdx)
		}
		want := s.mod.Types[imm.TypeIdx]
		got := s.mod.GetFuncType(funcIdx)
		if got == nil {
			return s.trapf(TrapSignatureMismatch, "table element %d references func %d out of range", sel, funcIdx)
		}
		if !got.Equal(want) {
			return s.trapf(TrapSignatureMismatch, "indirect call to func %d: expected %s, found %s", funcIdx, want, *got)
		}
		f.pc++
		return s.call(funcIdx)

	case wasm.OpDrop:
		if _, t := s.pop(); t != nil {
			return t
		}
		f.pc++

	case wasm.OpSelect:
		// Operand kinds may differ in an unvalidated body; select keeps
		// whichever value wins.
		cond, t := s.popI32()
		if t != nil {
			return t
		}
		v2, t := s.pop()
		if t != nil {
			return t
		}
		v1, t := s.pop()
		if t != nil {
			return t
		}
		picked := v1
		if cond == 0 {
			picked = v2
		}
		if t := s.push(picked); t != nil {
			return t
		}
		f.pc++

	case wasm.OpLocalGet:
		idx := ins.Imm.(wasm.LocalImm).LocalIdx
		if uint64(idx) >= uint64(len(f.locals)) {
			return s.trapf(TrapOutOfBoundsLocal, "local %d out of range, func %d has %d locals", idx, f.fn.Idx, len(f.locals))
		}
		if t := s.push(f.locals[idx]); t != nil {
			return t
		}
		f.pc++

	case wasm.OpLocalSet, wasm.OpLocalTee:
		idx := ins.Imm.(wasm.LocalImm).LocalIdx
		vt, ok := f.fn.LocalType(idx)
		if !ok {
			return s.trapf(TrapOutOfBoundsLocal, "local %d out of range, func %d has %d locals", idx, f.fn.Idx, len(f.locals))
		}
		kind, _ := wasmdbg.KindOf(vt)
		v, t := s.popKind(kind)
		if t != nil {
			return t
		}
		f.locals[idx] = v
		if ins.Opcode == wasm.OpLocalTee {
			if t := s.push(v); t != nil {
				return t
			}
		}
		f.pc++

	case wasm.OpGlobalGet:
		idx := ins.Imm.(wasm.GlobalImm).GlobalIdx
		if uint64(idx) >= uint64(len(s.globals)) {
			return s.trapf(TrapOutOfBoundsGlobal, "global %d out of range, module has %d globals", idx, len(s.globals))
		}
		if t := s.push(s.globals[idx]); t != nil {
			return t
		}
		f.pc++

	case wasm.OpGlobalSet:
		idx := ins.Imm.(wasm.GlobalImm).GlobalIdx
		if uint64(idx) >= uint64(len(s.globals)) {
			return s.trapf(TrapOutOfBoundsGlobal, "global %d out of range, module has %d globals", idx, len(s.globals))
		}
		gt := s.gtypes[idx]
		if !gt.Mutable {
			return s.trapf(TrapImmutableGlobal, "global %d is immutable", idx)
		}
		kind, _ := wasmdbg.KindOf(gt.ValType)
		v, t := s.popKind(kind)
		if t != nil {
			return t
		}
		s.globals[idx] = v
		f.pc++

	case wasm.OpMemorySize:
		if s.memory == nil {
			return s.trapf(TrapOutOfBoundsMemory, "module has no memory")
		}
		if t := s.push(wasmdbg.I32(int32(s.memory.Pages()))); t != nil {
			return t
		}
		f.pc++

	case wasm.OpMemoryGrow:
		delta, t := s.popU32()
		if t != nil {
			return t
		}
		if s.memory == nil {
			return s.trapf(TrapOutOfBoundsMemory, "module has no memory")
		}
		if t := s.push(wasmdbg.I32(s.memory.Grow(delta))); t != nil {
			return t
		}
		f.pc++

	default:
		var t *Trap
		if ins.Opcode >= wasm.OpI32Load && ins.Opcode <= wasm.OpI64Store32 {
			t = s.execMemory(ins)
		} else {
			t = s.execNumeric(ins)
		}
		if t != nil {
			return t
		}
		f.pc++
	}
	return nil
}

// branch transfers control to an open label: the target's carried values
// are saved, the value stack unwinds to the target's entry height, and
// every label up to and including the target is popped. Loops get their
// label back when the head re-executes.
func (s *State) branch(f *Frame, depth uint32) *Trap {
	avail := len(s.labels) - int(f.labelBase)
	if uint64(depth) >= uint64(avail) {
		return s.trapf(TrapLabelUnderflow, "branch depth %d exceeds %d open labels", depth, avail)
	}
	idx := len(s.labels) - 1 - int(depth)
	target := s.labels[idx]

	if len(s.stack)-int(target.Height) < target.Arity {
		return s.trapf(TrapStackUnderflow, "branch carries %d values, %d on the stack above the target",
			target.Arity, len(s.stack)-int(target.Height))
	}
	carried := make([]wasmdbg.Value, target.Arity)
	copy(carried, s.stack[len(s.stack)-target.Arity:])
	s.stack = append(s.stack[:target.Height], carried...)
	s.labels = s.labels[:idx]
	f.pc = target.Cont
	return nil
}

// doReturn pops the innermost frame, leaving its results on the stack.
// Popping the last frame finishes the run.
func (s *State) doReturn() *Trap {
	f := &s.frames[len(s.frames)-1]
	arity := len(f.fn.Type.Results)
	if len(s.stack)-int(f.stackBase) < arity {
		return s.trapf(TrapStackUnderflow, "func %d returns %d values, %d on the frame's stack",
			f.fn.Idx, arity, len(s.stack)-int(f.stackBase))
	}
	results := make([]wasmdbg.Value, arity)
	copy(results, s.stack[len(s.stack)-arity:])
	s.stack = append(s.stack[:f.stackBase], results...)
	s.labels = s.labels[:f.labelBase]
	s.frames = s.frames[:len(s.frames)-1]
	if len(s.frames) == 0 {
		s.status = StatusFinished
		s.logger.Debug("run finished", zap.Int("results", arity))
	}
	return nil
}

// call pops arguments against the callee's signature and either enters
// its frame or dispatches to the host stub for an import.
func (s *State) call(funcIdx uint32) *Trap {
	ft := s.mod.GetFuncType(funcIdx)
	if ft == nil {
		return s.trapf(TrapSignatureMismatch, "call target %d out of range", funcIdx)
	}
	args := make([]wasmdbg.Value, len(ft.Params))
	for i := len(args) - 1; i >= 0; i-- {
		v, t := s.pop()
		if t != nil {
			return t
		}
		kind, _ := wasmdbg.KindOf(ft.Params[i])
		if v.Kind != kind {
			return s.trapf(TrapSignatureMismatch, "argument %d of func %d is %s, want %s", i, funcIdx, v.Kind, kind)
		}
		args[i] = v
	}
	if funcIdx < uint32(s.mod.NumImportedFuncs()) {
		return s.callHost(funcIdx, ft, args)
	}
	return s.pushFrame(s.funcs[funcIdx], args)
}

// callHost runs an imported function. A missing implementation traps; a
// ProcExit error halts the run with its exit code.
func (s *State) callHost(funcIdx uint32, ft *wasm.FuncType, args []wasmdbg.Value) *Trap {
	stub := s.stubs[funcIdx]
	if stub.fn == nil {
		return s.trapf(TrapUnsupportedImport, "import %s has no host implementation", stub.name)
	}
	results, err := stub.fn(args)
	if err != nil {
		var exit ProcExit
		if errors.As(err, &exit) {
			s.halt(exit.Code)
			return nil
		}
		return &Trap{Kind: TrapHost, Pos: s.curPos, Detail: stub.name, Cause: err}
	}
	if len(results) != len(ft.Results) {
		return s.trapf(TrapHost, "import %s returned %d values, want %d", stub.name, len(results), len(ft.Results))
	}
	for i, r := range results {
		kind, _ := wasmdbg.KindOf(ft.Results[i])
		if r.Kind != kind {
			return s.trapf(TrapHost, "import %s result %d is %s, want %s", stub.name, i, r.Kind, kind)
		}
	}
	for _, r := range results {
		if t := s.push(r); t != nil {
			return t
		}
	}
	return nil
}

// memAddr pops the base address and checks the access window. The
// returned address indexes memory.data directly.
func (s *State) memAddr(imm wasm.MemoryImm, size uint32) (uint64, *Trap) {
	base, t := s.popU32()
	if t != nil {
		return 0, t
	}
	if s.memory == nil {
		return 0, s.trapf(TrapOutOfBoundsMemory, "module has no memory")
	}
	addr := uint64(base) + uint64(imm.Offset)
	if !s.memory.InRange(addr, size) {
		return 0, s.trapf(TrapOutOfBoundsMemory, "access [%d, %d) exceeds memory size %d",
			addr, addr+uint64(size), s.memory.Len())
	}
	return addr, nil
}

// execMemory handles the contiguous load and store range. Stores pop the
// value before the address, matching push order. Float transfers move
// raw bits.
func (s *State) execMemory(ins wasm.Instruction) *Trap {
	imm := ins.Imm.(wasm.MemoryImm)
	le := binary.LittleEndian

	switch ins.Opcode {
	case wasm.OpI32Load:
		addr, t := s.memAddr(imm, 4)
		if t != nil {
			return t
		}
		return s.push(wasmdbg.I32(int32(le.Uint32(s.memory.data[addr:]))))
	case wasm.OpI64Load:
		addr, t := s.memAddr(imm, 8)
		if t != nil {
			return t
		}
		return s.push(wasmdbg.I64(int64(le.Uint64(s.memory.data[addr:]))))
	case wasm.OpF32Load:
		addr, t := s.memAddr(imm, 4)
		if t != nil {
			return t
		}
		return s.push(wasmdbg.F32FromBits(le.Uint32(s.memory.data[addr:])))
	case wasm.OpF64Load:
		addr, t := s.memAddr(imm, 8)
		if t != nil {
			return t
		}
		return s.push(wasmdbg.F64FromBits(le.Uint64(s.memory.data[addr:])))

	case wasm.OpI32Load8S:
		addr, t := s.memAddr(imm, 1)
		if t != nil {
			return t
		}
		return s.push(wasmdbg.I32(int32(int8(s.memory.data[addr]))))
	case wasm.OpI32Load8U:
		addr, t := s.memAddr(imm, 1)
		if t != nil {
			return t
		}
		return s.push(wasmdbg.I32(int32(s.memory.data[addr])))
	case wasm.OpI32Load16S:
		addr, t := s.memAddr(imm, 2)
		if t != nil {
			return t
		}
		return s.push(wasmdbg.I32(int32(int16(le.Uint16(s.memory.data[addr:])))))
	case wasm.OpI32Load16U:
		addr, t := s.memAddr(imm, 2)
		if t != nil {
			return t
		}
		return s.push(wasmdbg.I32(int32(le.Uint16(s.memory.data[addr:]))))

	case wasm.OpI64Load8S:
		addr, t := s.memAddr(imm, 1)
		if t != nil {
			return t
		}
		return s.push(wasmdbg.I64(int64(int8(s.memory.data[addr]))))
	case wasm.OpI64Load8U:
		addr, t := s.memAddr(imm, 1)
		if t != nil {
			return t
		}
		return s.push(wasmdbg.I64(int64(s.memory.data[addr])))
	case wasm.OpI64Load16S:
		addr, t := s.memAddr(imm, 2)
		if t != nil {
			return t
		}
		return s.push(wasmdbg.I64(int64(int16(le.Uint16(s.memory.data[addr:])))))
	case wasm.OpI64Load16U:
		addr, t := s.memAddr(imm, 2)
		if t != nil {
			return t
		}
		return s.push(wasmdbg.I64(int64(le.Uint16(s.memory.data[addr:]))))
	case wasm.OpI64Load32S:
		addr, t := s.memAddr(imm, 4)
		if t != nil {
			return t
		}
		return s.push(wasmdbg.I64(int64(int32(le.Uint32(s.memory.data[addr:])))))
	case wasm.OpI64Load32U:
		addr, t := s.memAddr(imm, 4)
		if t != nil {
			return t
		}
		return s.push(wasmdbg.I64(int64(le.Uint32(s.memory.data[addr:]))))

	case wasm.OpI32Store:
		v, t := s.popKind(wasmdbg.KindI32)
		if t != nil {
			return t
		}
		addr, t := s.memAddr(imm, 4)
		if t != nil {
			return t
		}
		le.PutUint32(s.memory.data[addr:], v.U32())
	case wasm.OpI64Store:
		v, t := s.popKind(wasmdbg.KindI64)
		if t != nil {
			return t
		}
		addr, t := s.memAddr(imm, 8)
		if t != nil {
			return t
		}
		le.PutUint64(s.memory.data[addr:], v.U64())
	case wasm.OpF32Store:
		v, t := s.popKind(wasmdbg.KindF32)
		if t != nil {
			return t
		}
		addr, t := s.memAddr(imm, 4)
		if t != nil {
			return t
		}
		le.PutUint32(s.memory.data[addr:], uint32(v.Bits))
	case wasm.OpF64Store:
		v, t := s.popKind(wasmdbg.KindF64)
		if t != nil {
			return t
		}
		addr, t := s.memAddr(imm, 8)
		if t != nil {
			return t
		}
		le.PutUint64(s.memory.data[addr:], v.Bits)

	case wasm.OpI32Store8:
		v, t := s.popKind(wasmdbg.KindI32)
		if t != nil {
			return t
		}
		addr, t := s.memAddr(imm, 1)
		if t != nil {
			return t
		}
		s.memory.data[addr] = byte(v.U32())
	case wasm.OpI32Store16:
		v, t := s.popKind(wasmdbg.KindI32)
		if t != nil {
			return t
		}
		addr, t := s.memAddr(imm, 2)
		if t != nil {
			return t
		}
		le.PutUint16(s.memory.data[addr:], uint16(v.U32()))
	case wasm.OpI64Store8:
		v, t := s.popKind(wasmdbg.KindI64)
		if t != nil {
			return t
		}
		addr, t := s.memAddr(imm, 1)
		if t != nil {
			return t
		}
		s.memory.data[addr] = byte(v.U64())
	case wasm.OpI64Store16:
		v, t := s.popKind(wasmdbg.KindI64)
		if t != nil {
			return t
		}
		addr, t := s.memAddr(imm, 2)
		if t != nil {
			return t
		}
		le.PutUint16(s.memory.data[addr:], uint16(v.U64()))
	case wasm.OpI64Store32:
		v, t := s.popKind(wasmdbg.KindI64)
		if t != nil {
			return t
		}
		addr, t := s.memAddr(imm, 4)
		if t != nil {
			return t
		}
		le.PutUint32(s.memory.data[addr:], uint32(v.U64()))

	default:
		return s.trapf(TrapUnsupported, "opcode 0x%02x is not a memory access", ins.Opcode)
	}
	return nil
}
