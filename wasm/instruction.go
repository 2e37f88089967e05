package wasm

import (
	"bytes"
	"fmt"

	"github.com/wippyai/wasmdbg/errors"
)

// Opcode constants are defined in constants.go

// Instruction represents a decoded WebAssembly instruction
type Instruction struct {
	Imm    interface{}
	Opcode byte
}

// BlockImm holds the block type for block, loop, and if instructions.
// In the MVP a block type is a single byte: BlockTypeVoid or one of the
// four numeric value types.
type BlockImm struct {
	Type byte
}

// HasResult reports whether the block produces a value.
func (b BlockImm) HasResult() bool {
	return b.Type != BlockTypeVoid
}

// ResultType returns the block result type. Only meaningful when
// HasResult is true.
func (b BlockImm) ResultType() ValType {
	return ValType(b.Type)
}

// Arity returns the number of values the block produces (0 or 1).
func (b BlockImm) Arity() int {
	if b.HasResult() {
		return 1
	}
	return 0
}

// BranchImm holds the label index for br and br_if instructions.
type BranchImm struct {
	LabelIdx uint32
}

// BrTableImm holds the label table for br_table instruction.
type BrTableImm struct {
	Labels  []uint32
	Default uint32
}

// CallImm holds the function index for call instruction.
type CallImm struct {
	FuncIdx uint32
}

// CallIndirectImm holds the type index for call_indirect. The table index
// is always 0 in the MVP and is not stored.
type CallIndirectImm struct {
	TypeIdx uint32
}

// LocalImm holds the local index for local.get, local.set, local.tee.
type LocalImm struct {
	LocalIdx uint32
}

// GlobalImm holds the global index for global.get and global.set.
type GlobalImm struct {
	GlobalIdx uint32
}

// MemoryImm holds memory access parameters for load and store instructions.
type MemoryImm struct {
	Offset uint32
	Align  uint32
}

// I32Imm holds the constant value for i32.const instruction.
type I32Imm struct {
	Value int32
}

// I64Imm holds the constant value for i64.const instruction.
type I64Imm struct {
	Value int64
}

// F32Imm holds the constant for f32.const as raw IEEE-754 bits.
// Keeping bits rather than float32 preserves NaN payloads through a
// decode and encode round trip.
type F32Imm struct {
	Bits uint32
}

// F64Imm holds the constant for f64.const as raw IEEE-754 bits.
type F64Imm struct {
	Bits uint64
}

// GetCallTarget returns the call target if this is a call instruction
func (i Instruction) GetCallTarget() (uint32, bool) {
	if i.Opcode == OpCall {
		if imm, ok := i.Imm.(CallImm); ok {
			return imm.FuncIdx, true
		}
	}
	return 0, false
}

// Name returns the text format mnemonic for the instruction's opcode.
func (i Instruction) Name() string {
	return OpcodeName(i.Opcode)
}

// DecodeInstructions decodes a sequence of instructions from raw bytes.
// The input is typically a function body (ending with the implicit end)
// or a constant expression. Opcodes from post-MVP proposals are rejected
// with an error naming the proposal.
func DecodeInstructions(code []byte) ([]Instruction, error) {
	r := bytes.NewReader(code)
	// Pre-allocate based on estimation: roughly 2 bytes per instruction on average
	instrs := make([]Instruction, 0, len(code)/2)

	for r.Len() > 0 {
		op, err := r.ReadByte()
		if err != nil {
			break
		}

		instr := Instruction{Opcode: op}

		switch op {
		case OpBlock, OpLoop, OpIf:
			bt, err := readBlockType(r)
			if err != nil {
				return nil, err
			}
			instr.Imm = BlockImm{Type: bt}

		case OpBr, OpBrIf:
			idx, err := ReadLEB128u(r)
			if err != nil {
				return nil, err
			}
			instr.Imm = BranchImm{LabelIdx: idx}

		case OpBrTable:
			count, err := ReadLEB128u(r)
			if err != nil {
				return nil, err
			}
			// Cap pre-allocation: the count is untrusted and each label
			// costs at least one byte of input.
			capHint := count
			if capHint > 1<<16 {
				capHint = 1 << 16
			}
			labels := make([]uint32, 0, capHint)
			for i := uint32(0); i < count; i++ {
				label, err := ReadLEB128u(r)
				if err != nil {
					return nil, err
				}
				labels = append(labels, label)
			}
			def, err := ReadLEB128u(r)
			if err != nil {
				return nil, err
			}
			instr.Imm = BrTableImm{Labels: labels, Default: def}

		case OpCall:
			idx, err := ReadLEB128u(r)
			if err != nil {
				return nil, err
			}
			instr.Imm = CallImm{FuncIdx: idx}

		case OpCallIndirect:
			typeIdx, err := ReadLEB128u(r)
			if err != nil {
				return nil, err
			}
			// Reserved table index, must be zero until multiple tables land
			tableIdx, err := ReadLEB128u(r)
			if err != nil {
				return nil, err
			}
			if tableIdx != 0 {
				return nil, errors.Unsupported(errors.PhaseDecode, "non-zero table index (reference types proposal)")
			}
			instr.Imm = CallIndirectImm{TypeIdx: typeIdx}

		case OpLocalGet, OpLocalSet, OpLocalTee:
			idx, err := ReadLEB128u(r)
			if err != nil {
				return nil, err
			}
			instr.Imm = LocalImm{LocalIdx: idx}

		case OpGlobalGet, OpGlobalSet:
			idx, err := ReadLEB128u(r)
			if err != nil {
				return nil, err
			}
			instr.Imm = GlobalImm{GlobalIdx: idx}

		case OpI32Load, OpI64Load, OpF32Load, OpF64Load,
			OpI32Load8S, OpI32Load8U, OpI32Load16S, OpI32Load16U,
			OpI64Load8S, OpI64Load8U, OpI64Load16S, OpI64Load16U, OpI64Load32S, OpI64Load32U,
			OpI32Store, OpI64Store, OpF32Store, OpF64Store,
			OpI32Store8, OpI32Store16, OpI64Store8, OpI64Store16, OpI64Store32:
			memImm, err := readMemArg(r, op)
			if err != nil {
				return nil, err
			}
			instr.Imm = memImm

		case OpMemorySize, OpMemoryGrow:
			// Reserved memory index, must be zero until multi-memory lands
			memIdx, err := ReadLEB128u(r)
			if err != nil {
				return nil, err
			}
			if memIdx != 0 {
				return nil, errors.Unsupported(errors.PhaseDecode, "non-zero memory index (multi-memory proposal)")
			}

		case OpI32Const:
			val, err := ReadLEB128s(r)
			if err != nil {
				return nil, err
			}
			instr.Imm = I32Imm{Value: val}

		case OpI64Const:
			val, err := ReadLEB128s64(r)
			if err != nil {
				return nil, err
			}
			instr.Imm = I64Imm{Value: val}

		case OpF32Const:
			bits, err := ReadF32Bits(r)
			if err != nil {
				return nil, err
			}
			instr.Imm = F32Imm{Bits: bits}

		case OpF64Const:
			bits, err := ReadF64Bits(r)
			if err != nil {
				return nil, err
			}
			instr.Imm = F64Imm{Bits: bits}

		// Instructions with no immediates - do nothing
		case OpUnreachable, OpNop, OpElse, OpEnd, OpReturn, OpDrop, OpSelect,
			OpI32Eqz, OpI32Eq, OpI32Ne, OpI32LtS, OpI32LtU, OpI32GtS, OpI32GtU,
			OpI32LeS, OpI32LeU, OpI32GeS, OpI32GeU,
			OpI64Eqz, OpI64Eq, OpI64Ne, OpI64LtS, OpI64LtU, OpI64GtS, OpI64GtU,
			OpI64LeS, OpI64LeU, OpI64GeS, OpI64GeU,
			OpF32Eq, OpF32Ne, OpF32Lt, OpF32Gt, OpF32Le, OpF32Ge,
			OpF64Eq, OpF64Ne, OpF64Lt, OpF64Gt, OpF64Le, OpF64Ge,
			OpI32Clz, OpI32Ctz, OpI32Popcnt, OpI32Add, OpI32Sub, OpI32Mul,
			OpI32DivS, OpI32DivU, OpI32RemS, OpI32RemU, OpI32And, OpI32Or, OpI32Xor,
			OpI32Shl, OpI32ShrS, OpI32ShrU, OpI32Rotl, OpI32Rotr,
			OpI64Clz, OpI64Ctz, OpI64Popcnt, OpI64Add, OpI64Sub, OpI64Mul,
			OpI64DivS, OpI64DivU, OpI64RemS, OpI64RemU, OpI64And, OpI64Or, OpI64Xor,
			OpI64Shl, OpI64ShrS, OpI64ShrU, OpI64Rotl, OpI64Rotr,
			OpF32Abs, OpF32Neg, OpF32Ceil, OpF32Floor, OpF32Trunc, OpF32Nearest, OpF32Sqrt,
			OpF32Add, OpF32Sub, OpF32Mul, OpF32Div, OpF32Min, OpF32Max, OpF32Copysign,
			OpF64Abs, OpF64Neg, OpF64Ceil, OpF64Floor, OpF64Trunc, OpF64Nearest, OpF64Sqrt,
			OpF64Add, OpF64Sub, OpF64Mul, OpF64Div, OpF64Min, OpF64Max, OpF64Copysign,
			OpI32WrapI64, OpI32TruncF32S, OpI32TruncF32U, OpI32TruncF64S, OpI32TruncF64U,
			OpI64ExtendI32S, OpI64ExtendI32U, OpI64TruncF32S, OpI64TruncF32U,
			OpI64TruncF64S, OpI64TruncF64U,
			OpF32ConvertI32S, OpF32ConvertI32U, OpF32ConvertI64S, OpF32ConvertI64U, OpF32DemoteF64,
			OpF64ConvertI32S, OpF64ConvertI32U, OpF64ConvertI64S, OpF64ConvertI64U, OpF64PromoteF32,
			OpI32ReinterpretF32, OpI64ReinterpretF64, OpF32ReinterpretI32, OpF64ReinterpretI64:
			// No immediate

		default:
			if proposal := postMVPProposal(op); proposal != "" {
				return nil, errors.Unsupported(errors.PhaseDecode,
					fmt.Sprintf("opcode 0x%02x (%s proposal)", op, proposal))
			}
			return nil, errors.InvalidData(errors.PhaseDecode, []string{"code"},
				fmt.Sprintf("unknown opcode: 0x%02x", op))
		}

		instrs = append(instrs, instr)
	}

	return instrs, nil
}

// EncodeInstructionTo writes a single instruction to the provided buffer.
// This avoids allocations compared to EncodeInstructions for single instructions.
func EncodeInstructionTo(buf *bytes.Buffer, instr *Instruction) {
	buf.WriteByte(instr.Opcode)

	switch instr.Opcode {
	case OpBlock, OpLoop, OpIf:
		imm := instr.Imm.(BlockImm)
		buf.WriteByte(imm.Type)

	case OpBr, OpBrIf:
		imm := instr.Imm.(BranchImm)
		WriteLEB128u(buf, imm.LabelIdx)

	case OpBrTable:
		imm := instr.Imm.(BrTableImm)
		WriteLEB128u(buf, uint32(len(imm.Labels)))
		for _, l := range imm.Labels {
			WriteLEB128u(buf, l)
		}
		WriteLEB128u(buf, imm.Default)

	case OpCall:
		imm := instr.Imm.(CallImm)
		WriteLEB128u(buf, imm.FuncIdx)

	case OpCallIndirect:
		imm := instr.Imm.(CallIndirectImm)
		WriteLEB128u(buf, imm.TypeIdx)
		buf.WriteByte(0) // reserved table index

	case OpLocalGet, OpLocalSet, OpLocalTee:
		imm := instr.Imm.(LocalImm)
		WriteLEB128u(buf, imm.LocalIdx)

	case OpGlobalGet, OpGlobalSet:
		imm := instr.Imm.(GlobalImm)
		WriteLEB128u(buf, imm.GlobalIdx)

	case OpI32Load, OpI64Load, OpF32Load, OpF64Load,
		OpI32Load8S, OpI32Load8U, OpI32Load16S, OpI32Load16U,
		OpI64Load8S, OpI64Load8U, OpI64Load16S, OpI64Load16U, OpI64Load32S, OpI64Load32U,
		OpI32Store, OpI64Store, OpF32Store, OpF64Store,
		OpI32Store8, OpI32Store16, OpI64Store8, OpI64Store16, OpI64Store32:
		imm := instr.Imm.(MemoryImm)
		WriteLEB128u(buf, imm.Align)
		WriteLEB128u(buf, imm.Offset)

	case OpMemorySize, OpMemoryGrow:
		buf.WriteByte(0) // reserved memory index

	case OpI32Const:
		imm := instr.Imm.(I32Imm)
		WriteLEB128s(buf, imm.Value)

	case OpI64Const:
		imm := instr.Imm.(I64Imm)
		WriteLEB128s64(buf, imm.Value)

	case OpF32Const:
		imm := instr.Imm.(F32Imm)
		WriteF32Bits(buf, imm.Bits)

	case OpF64Const:
		imm := instr.Imm.(F64Imm)
		WriteF64Bits(buf, imm.Bits)
	}
}

// EncodeInstructionsTo writes multiple instructions to the provided buffer.
func EncodeInstructionsTo(buf *bytes.Buffer, instrs []Instruction) {
	for i := range instrs {
		EncodeInstructionTo(buf, &instrs[i])
	}
}

// EncodeInstructions encodes instructions to bytes
func EncodeInstructions(instrs []Instruction) []byte {
	var buf bytes.Buffer
	buf.Grow(len(instrs) * 3) // estimate 3 bytes per instruction
	EncodeInstructionsTo(&buf, instrs)
	return buf.Bytes()
}

// readBlockType reads an MVP block type byte. A byte in the 0x00..0x3F
// range would be the first byte of an s33 type index under the
// multi-value proposal, so it gets a dedicated rejection.
func readBlockType(r *bytes.Reader) (byte, error) {
	b, err := r.ReadByte()
	if err != nil {
		return 0, err
	}
	if b == BlockTypeVoid || ValType(b).Valid() {
		return b, nil
	}
	if b < 0x40 {
		return 0, errors.Unsupported(errors.PhaseDecode, "block type index (multi-value proposal)")
	}
	return 0, errors.InvalidData(errors.PhaseDecode, []string{"code"},
		fmt.Sprintf("invalid block type: 0x%02x", b))
}

// readMemArg reads an alignment exponent and byte offset pair. The
// alignment may not exceed the access's natural alignment.
func readMemArg(r *bytes.Reader, op byte) (MemoryImm, error) {
	align, err := ReadLEB128u(r)
	if err != nil {
		return MemoryImm{}, err
	}
	offset, err := ReadLEB128u(r)
	if err != nil {
		return MemoryImm{}, err
	}
	if natural, ok := NaturalAlign(op); ok && align > natural {
		return MemoryImm{}, errors.InvalidData(errors.PhaseDecode, []string{"code"},
			fmt.Sprintf("alignment 2^%d exceeds natural alignment 2^%d of %s", align, natural, OpcodeName(op)))
	}
	return MemoryImm{Align: align, Offset: offset}, nil
}

// NaturalAlign returns the natural alignment exponent of a memory access
// opcode (log2 of the access width in bytes). The second result is false
// for opcodes that are not memory accesses.
func NaturalAlign(op byte) (uint32, bool) {
	switch op {
	case OpI32Load8S, OpI32Load8U, OpI64Load8S, OpI64Load8U, OpI32Store8, OpI64Store8:
		return 0, true
	case OpI32Load16S, OpI32Load16U, OpI64Load16S, OpI64Load16U, OpI32Store16, OpI64Store16:
		return 1, true
	case OpI32Load, OpF32Load, OpI64Load32S, OpI64Load32U, OpI32Store, OpF32Store, OpI64Store32:
		return 2, true
	case OpI64Load, OpF64Load, OpI64Store, OpF64Store:
		return 3, true
	default:
		return 0, false
	}
}

// postMVPProposal maps opcode bytes outside the MVP space to the name of
// the proposal that introduced them, so rejection messages can say what
// the module actually needs. Returns "" for bytes no proposal claims.
func postMVPProposal(op byte) string {
	switch {
	case op >= 0x06 && op <= 0x0A:
		return "exception handling"
	case op == 0x12 || op == 0x13:
		return "tail call"
	case op == 0x14 || op == 0x15:
		return "typed function references"
	case op == OpSelectType:
		return "reference types"
	case op == 0x25 || op == 0x26:
		return "reference types"
	case op >= 0xC0 && op <= 0xC4:
		return "sign extension"
	case op >= OpRefNull && op <= OpRefFunc:
		return "reference types"
	case op == 0xFB:
		return "garbage collection"
	case op == OpPrefixMisc:
		return "saturating truncation or bulk memory"
	case op == OpPrefixSIMD:
		return "SIMD"
	case op == OpPrefixAtomic:
		return "threads"
	}
	return ""
}
