package engine

import (
	"math"
	"math/bits"

	"github.com/wippyai/wasmdbg"
	"github.com/wippyai/wasmdbg/wasm"
)

// Canonical NaN bit patterns. Arithmetic that produces a NaN produces
// these exact bits, so runs are reproducible regardless of what payload
// the operands carried. Sign bit operations (abs, neg, copysign) and
// pure bit moves (const, load, store, reinterpret) keep payloads intact.
const (
	canonNaN32 uint32 = 0x7FC00000
	canonNaN64 uint64 = 0x7FF8000000000000
)

const (
	signBit32 uint32 = 0x80000000
	signBit64 uint64 = 0x8000000000000000
)

// Exact float64 powers of two bounding the integer target ranges of the
// trunc conversions.
const (
	two31 = float64(1 << 31)
	two32 = float64(1 << 32)
	two63 = float64(1 << 63)
	two64 = float64(1 << 64)
)

func canonF32(f float32) wasmdbg.Value {
	if f != f {
		return wasmdbg.F32FromBits(canonNaN32)
	}
	return wasmdbg.F32(f)
}

func canonF64(f float64) wasmdbg.Value {
	if f != f {
		return wasmdbg.F64FromBits(canonNaN64)
	}
	return wasmdbg.F64(f)
}

// execNumeric handles constants, comparisons, arithmetic, and
// conversions. The caller advances pc after a nil return. Post-MVP
// opcodes never get this far; the decoder rejects them by proposal.
func (s *State) execNumeric(ins wasm.Instruction) *Trap {
	op := ins.Opcode
	switch {
	case op >= wasm.OpI32Const && op <= wasm.OpF64Const:
		return s.execConst(ins)
	case op >= wasm.OpI32Eqz && op <= wasm.OpF64Ge:
		return s.execCompare(op)
	case op >= wasm.OpI32Clz && op <= wasm.OpI32Rotr:
		return s.execI32Arith(op)
	case op >= wasm.OpI64Clz && op <= wasm.OpI64Rotr:
		return s.execI64Arith(op)
	case op >= wasm.OpF32Abs && op <= wasm.OpF32Copysign:
		return s.execF32Arith(op)
	case op >= wasm.OpF64Abs && op <= wasm.OpF64Copysign:
		return s.execF64Arith(op)
	case op >= wasm.OpI32WrapI64 && op <= wasm.OpF64ReinterpretI64:
		return s.execConvert(op)
	default:
		return s.trapf(TrapUnsupported, "opcode 0x%02x not implemented", op)
	}
}

func (s *State) execConst(ins wasm.Instruction) *Trap {
	switch ins.Opcode {
	case wasm.OpI32Const:
		return s.push(wasmdbg.I32(ins.Imm.(wasm.I32Imm).Value))
	case wasm.OpI64Const:
		return s.push(wasmdbg.I64(ins.Imm.(wasm.I64Imm).Value))
	case wasm.OpF32Const:
		return s.push(wasmdbg.F32FromBits(ins.Imm.(wasm.F32Imm).Bits))
	default:
		return s.push(wasmdbg.F64FromBits(ins.Imm.(wasm.F64Imm).Bits))
	}
}

func (s *State) execCompare(op byte) *Trap {
	switch {
	case op == wasm.OpI32Eqz:
		x, t := s.popI32()
		if t != nil {
			return t
		}
		return s.pushBool(x == 0)
	case op == wasm.OpI64Eqz:
		x, t := s.popI64()
		if t != nil {
			return t
		}
		return s.pushBool(x == 0)
	case op <= wasm.OpI32GeU:
		y, t := s.popI32()
		if t != nil {
			return t
		}
		x, t := s.popI32()
		if t != nil {
			return t
		}
		return s.pushBool(compareI32(op, x, y))
	case op <= wasm.OpI64GeU:
		y, t := s.popI64()
		if t != nil {
			return t
		}
		x, t := s.popI64()
		if t != nil {
			return t
		}
		return s.pushBool(compareI64(op, x, y))
	case op <= wasm.OpF32Ge:
		y, t := s.popF32()
		if t != nil {
			return t
		}
		x, t := s.popF32()
		if t != nil {
			return t
		}
		return s.pushBool(compareF32(op, x, y))
	default:
		y, t := s.popF64()
		if t != nil {
			return t
		}
		x, t := s.popF64()
		if t != nil {
			return t
		}
		return s.pushBool(compareF64(op, x, y))
	}
}

func compareI32(op byte, x, y int32) bool {
	ux, uy := uint32(x), uint32(y)
	switch op {
	case wasm.OpI32Eq:
		return x == y
	case wasm.OpI32Ne:
		return x != y
	case wasm.OpI32LtS:
		return x < y
	case wasm.OpI32LtU:
		return ux < uy
	case wasm.OpI32GtS:
		return x > y
	case wasm.OpI32GtU:
		return ux > uy
	case wasm.OpI32LeS:
		return x <= y
	case wasm.OpI32LeU:
		return ux <= uy
	case wasm.OpI32GeS:
		return x >= y
	default:
		return ux >= uy
	}
}

func compareI64(op byte, x, y int64) bool {
	ux, uy := uint64(x), uint64(y)
	switch op {
	case wasm.OpI64Eq:
		return x == y
	case wasm.OpI64Ne:
		return x != y
	case wasm.OpI64LtS:
		return x < y
	case wasm.OpI64LtU:
		return ux < uy
	case wasm.OpI64GtS:
		return x > y
	case wasm.OpI64GtU:
		return ux > uy
	case wasm.OpI64LeS:
		return x <= y
	case wasm.OpI64LeU:
		return ux <= uy
	case wasm.OpI64GeS:
		return x >= y
	default:
		return ux >= uy
	}
}

func compareF32(op byte, x, y float32) bool {
	switch op {
	case wasm.OpF32Eq:
		return x == y
	case wasm.OpF32Ne:
		return x != y
	case wasm.OpF32Lt:
		return x < y
	case wasm.OpF32Gt:
		return x > y
	case wasm.OpF32Le:
		return x <= y
	default:
		return x >= y
	}
}

func compareF64(op byte, x, y float64) bool {
	switch op {
	case wasm.OpF64Eq:
		return x == y
	case wasm.OpF64Ne:
		return x != y
	case wasm.OpF64Lt:
		return x < y
	case wasm.OpF64Gt:
		return x > y
	case wasm.OpF64Le:
		return x <= y
	default:
		return x >= y
	}
}

func (s *State) execI32Arith(op byte) *Trap {
	switch op {
	case wasm.OpI32Clz, wasm.OpI32Ctz, wasm.OpI32Popcnt:
		x, t := s.popU32()
		if t != nil {
			return t
		}
		var r int
		switch op {
		case wasm.OpI32Clz:
			r = bits.LeadingZeros32(x)
		case wasm.OpI32Ctz:
			r = bits.TrailingZeros32(x)
		default:
			r = bits.OnesCount32(x)
		}
		return s.push(wasmdbg.I32(int32(r)))

	case wasm.OpI32DivS, wasm.OpI32RemS:
		y, t := s.popI32()
		if t != nil {
			return t
		}
		x, t := s.popI32()
		if t != nil {
			return t
		}
		if y == 0 {
			return s.trapf(TrapDivisionByZero, "%s divisor is zero", wasm.OpcodeName(op))
		}
		if op == wasm.OpI32DivS {
			// Go evaluates MinInt32 / -1 as MinInt32 without complaint.
			if x == math.MinInt32 && y == -1 {
				return s.trapf(TrapIntegerOverflow, "%s of the minimum value by -1", wasm.OpcodeName(op))
			}
			return s.push(wasmdbg.I32(x / y))
		}
		return s.push(wasmdbg.I32(x % y))

	case wasm.OpI32DivU, wasm.OpI32RemU:
		y, t := s.popU32()
		if t != nil {
			return t
		}
		x, t := s.popU32()
		if t != nil {
			return t
		}
		if y == 0 {
			return s.trapf(TrapDivisionByZero, "%s divisor is zero", wasm.OpcodeName(op))
		}
		if op == wasm.OpI32DivU {
			return s.push(wasmdbg.I32(int32(x / y)))
		}
		return s.push(wasmdbg.I32(int32(x % y)))

	default:
		y, t := s.popU32()
		if t != nil {
			return t
		}
		x, t := s.popU32()
		if t != nil {
			return t
		}
		var r uint32
		switch op {
		case wasm.OpI32Add:
			r = x + y
		case wasm.OpI32Sub:
			r = x - y
		case wasm.OpI32Mul:
			r = x * y
		case wasm.OpI32And:
			r = x & y
		case wasm.OpI32Or:
			r = x | y
		case wasm.OpI32Xor:
			r = x ^ y
		case wasm.OpI32Shl:
			r = x << (y & 31)
		case wasm.OpI32ShrS:
			r = uint32(int32(x) >> (y & 31))
		case wasm.OpI32ShrU:
			r = x >> (y & 31)
		case wasm.OpI32Rotl:
			r = bits.RotateLeft32(x, int(y&31))
		default:
			r = bits.RotateLeft32(x, -int(y&31))
		}
		return s.push(wasmdbg.I32(int32(r)))
	}
}

func (s *State) execI64Arith(op byte) *Trap {
	switch op {
	case wasm.OpI64Clz, wasm.OpI64Ctz, wasm.OpI64Popcnt:
		x, t := s.popU64()
		if t != nil {
			return t
		}
		var r int
		switch op {
		case wasm.OpI64Clz:
			r = bits.LeadingZeros64(x)
		case wasm.OpI64Ctz:
			r = bits.TrailingZeros64(x)
		default:
			r = bits.OnesCount64(x)
		}
		return s.push(wasmdbg.I64(int64(r)))

	case wasm.OpI64DivS, wasm.OpI64RemS:
		y, t := s.popI64()
		if t != nil {
			return t
		}
		x, t := s.popI64()
		if t != nil {
			return t
		}
		if y == 0 {
			return s.trapf(TrapDivisionByZero, "%s divisor is zero", wasm.OpcodeName(op))
		}
		if op == wasm.OpI64DivS {
			if x == math.MinInt64 && y == -1 {
				return s.trapf(TrapIntegerOverflow, "%s of the minimum value by -1", wasm.OpcodeName(op))
			}
			return s.push(wasmdbg.I64(x / y))
		}
		return s.push(wasmdbg.I64(x % y))

	case wasm.OpI64DivU, wasm.OpI64RemU:
		y, t := s.popU64()
		if t != nil {
			return t
		}
		x, t := s.popU64()
		if t != nil {
			return t
		}
		if y == 0 {
			return s.trapf(TrapDivisionByZero, "%s divisor is zero", wasm.OpcodeName(op))
		}
		if op == wasm.OpI64DivU {
			return s.push(wasmdbg.I64(int64(x / y)))
		}
		return s.push(wasmdbg.I64(int64(x % y)))

	default:
		y, t := s.popU64()
		if t != nil {
			return t
		}
		x, t := s.popU64()
		if t != nil {
			return t
		}
		var r uint64
		switch op {
		case wasm.OpI64Add:
			r = x + y
		case wasm.OpI64Sub:
			r = x - y
		case wasm.OpI64Mul:
			r = x * y
		case wasm.OpI64And:
			r = x & y
		case wasm.OpI64Or:
			r = x | y
		case wasm.OpI64Xor:
			r = x ^ y
		case wasm.OpI64Shl:
			r = x << (y & 63)
		case wasm.OpI64ShrS:
			r = uint64(int64(x) >> (y & 63))
		case wasm.OpI64ShrU:
			r = x >> (y & 63)
		case wasm.OpI64Rotl:
			r = bits.RotateLeft64(x, int(y&63))
		default:
			r = bits.RotateLeft64(x, -int(y&63))
		}
		return s.push(wasmdbg.I64(int64(r)))
	}
}

func (s *State) execF32Arith(op byte) *Trap {
	switch op {
	case wasm.OpF32Abs, wasm.OpF32Neg:
		v, t := s.popKind(wasmdbg.KindF32)
		if t != nil {
			return t
		}
		b := uint32(v.Bits)
		if op == wasm.OpF32Abs {
			b &^= signBit32
		} else {
			b ^= signBit32
		}
		return s.push(wasmdbg.F32FromBits(b))

	case wasm.OpF32Copysign:
		y, t := s.popKind(wasmdbg.KindF32)
		if t != nil {
			return t
		}
		x, t := s.popKind(wasmdbg.KindF32)
		if t != nil {
			return t
		}
		return s.push(wasmdbg.F32FromBits(uint32(x.Bits)&^signBit32 | uint32(y.Bits)&signBit32))

	case wasm.OpF32Ceil, wasm.OpF32Floor, wasm.OpF32Trunc, wasm.OpF32Nearest, wasm.OpF32Sqrt:
		x, t := s.popF32()
		if t != nil {
			return t
		}
		// Exact through float64: results here either fit float32 or
		// round identically (sqrt satisfies the 2p+2 double rounding
		// bound).
		z := float64(x)
		switch op {
		case wasm.OpF32Ceil:
			z = math.Ceil(z)
		case wasm.OpF32Floor:
			z = math.Floor(z)
		case wasm.OpF32Trunc:
			z = math.Trunc(z)
		case wasm.OpF32Nearest:
			z = math.RoundToEven(z)
		default:
			z = math.Sqrt(z)
		}
		return s.push(canonF32(float32(z)))

	case wasm.OpF32Min, wasm.OpF32Max:
		y, t := s.popF32()
		if t != nil {
			return t
		}
		x, t := s.popF32()
		if t != nil {
			return t
		}
		var z float64
		if op == wasm.OpF32Min {
			z = math.Min(float64(x), float64(y))
		} else {
			z = math.Max(float64(x), float64(y))
		}
		return s.push(canonF32(float32(z)))

	default:
		y, t := s.popF32()
		if t != nil {
			return t
		}
		x, t := s.popF32()
		if t != nil {
			return t
		}
		var r float32
		switch op {
		case wasm.OpF32Add:
			r = x + y
		case wasm.OpF32Sub:
			r = x - y
		case wasm.OpF32Mul:
			r = x * y
		default:
			r = x / y
		}
		return s.push(canonF32(r))
	}
}

func (s *State) execF64Arith(op byte) *Trap {
	switch op {
	case wasm.OpF64Abs, wasm.OpF64Neg:
		v, t := s.popKind(wasmdbg.KindF64)
		if t != nil {
			return t
		}
		b := v.Bits
		if op == wasm.OpF64Abs {
			b &^= signBit64
		} else {
			b ^= signBit64
		}
		return s.push(wasmdbg.F64FromBits(b))

	case wasm.OpF64Copysign:
		y, t := s.popKind(wasmdbg.KindF64)
		if t != nil {
			return t
		}
		x, t := s.popKind(wasmdbg.KindF64)
		if t != nil {
			return t
		}
		return s.push(wasmdbg.F64FromBits(x.Bits&^signBit64 | y.Bits&signBit64))

	case wasm.OpF64Ceil, wasm.OpF64Floor, wasm.OpF64Trunc, wasm.OpF64Nearest, wasm.OpF64Sqrt:
		z, t := s.popF64()
		if t != nil {
			return t
		}
		switch op {
		case wasm.OpF64Ceil:
			z = math.Ceil(z)
		case wasm.OpF64Floor:
			z = math.Floor(z)
		case wasm.OpF64Trunc:
			z = math.Trunc(z)
		case wasm.OpF64Nearest:
			z = math.RoundToEven(z)
		default:
			z = math.Sqrt(z)
		}
		return s.push(canonF64(z))

	case wasm.OpF64Min, wasm.OpF64Max:
		y, t := s.popF64()
		if t != nil {
			return t
		}
		x, t := s.popF64()
		if t != nil {
			return t
		}
		if op == wasm.OpF64Min {
			return s.push(canonF64(math.Min(x, y)))
		}
		return s.push(canonF64(math.Max(x, y)))

	default:
		y, t := s.popF64()
		if t != nil {
			return t
		}
		x, t := s.popF64()
		if t != nil {
			return t
		}
		var r float64
		switch op {
		case wasm.OpF64Add:
			r = x + y
		case wasm.OpF64Sub:
			r = x - y
		case wasm.OpF64Mul:
			r = x * y
		default:
			r = x / y
		}
		return s.push(canonF64(r))
	}
}

// trunc truncates z toward zero and checks it against [lo, hi). Both
// bounds are exact powers of two, so the comparisons lose nothing.
func (s *State) trunc(op byte, z, lo, hi float64) (float64, *Trap) {
	if math.IsNaN(z) {
		return 0, s.trapf(TrapInvalidConversion, "%s of NaN", wasm.OpcodeName(op))
	}
	v := math.Trunc(z)
	if v < lo || v >= hi {
		return 0, s.trapf(TrapIntegerOverflow, "%s of %g is out of range", wasm.OpcodeName(op), z)
	}
	return v, nil
}

func (s *State) execConvert(op byte) *Trap {
	switch op {
	case wasm.OpI32WrapI64:
		x, t := s.popI64()
		if t != nil {
			return t
		}
		return s.push(wasmdbg.I32(int32(x)))

	case wasm.OpI32TruncF32S, wasm.OpI32TruncF64S:
		z, t := s.popFloatAsF64(op)
		if t != nil {
			return t
		}
		v, t := s.trunc(op, z, -two31, two31)
		if t != nil {
			return t
		}
		return s.push(wasmdbg.I32(int32(v)))

	case wasm.OpI32TruncF32U, wasm.OpI32TruncF64U:
		z, t := s.popFloatAsF64(op)
		if t != nil {
			return t
		}
		v, t := s.trunc(op, z, 0, two32)
		if t != nil {
			return t
		}
		return s.push(wasmdbg.I32(int32(uint32(v))))

	case wasm.OpI64TruncF32S, wasm.OpI64TruncF64S:
		z, t := s.popFloatAsF64(op)
		if t != nil {
			return t
		}
		v, t := s.trunc(op, z, -two63, two63)
		if t != nil {
			return t
		}
		return s.push(wasmdbg.I64(int64(v)))

	case wasm.OpI64TruncF32U, wasm.OpI64TruncF64U:
		z, t := s.popFloatAsF64(op)
		if t != nil {
			return t
		}
		v, t := s.trunc(op, z, 0, two64)
		if t != nil {
			return t
		}
		return s.push(wasmdbg.I64(int64(uint64(v))))

	case wasm.OpI64ExtendI32S:
		x, t := s.popI32()
		if t != nil {
			return t
		}
		return s.push(wasmdbg.I64(int64(x)))

	case wasm.OpI64ExtendI32U:
		x, t := s.popU32()
		if t != nil {
			return t
		}
		return s.push(wasmdbg.I64(int64(x)))

	case wasm.OpF32ConvertI32S:
		x, t := s.popI32()
		if t != nil {
			return t
		}
		return s.push(wasmdbg.F32(float32(x)))

	case wasm.OpF32ConvertI32U:
		x, t := s.popU32()
		if t != nil {
			return t
		}
		return s.push(wasmdbg.F32(float32(x)))

	case wasm.OpF32ConvertI64S:
		x, t := s.popI64()
		if t != nil {
			return t
		}
		return s.push(wasmdbg.F32(float32(x)))

	case wasm.OpF32ConvertI64U:
		x, t := s.popU64()
		if t != nil {
			return t
		}
		return s.push(wasmdbg.F32(float32(x)))

	case wasm.OpF32DemoteF64:
		x, t := s.popF64()
		if t != nil {
			return t
		}
		return s.push(canonF32(float32(x)))

	case wasm.OpF64ConvertI32S:
		x, t := s.popI32()
		if t != nil {
			return t
		}
		return s.push(wasmdbg.F64(float64(x)))

	case wasm.OpF64ConvertI32U:
		x, t := s.popU32()
		if t != nil {
			return t
		}
		return s.push(wasmdbg.F64(float64(x)))

	case wasm.OpF64ConvertI64S:
		x, t := s.popI64()
		if t != nil {
			return t
		}
		return s.push(wasmdbg.F64(float64(x)))

	case wasm.OpF64ConvertI64U:
		x, t := s.popU64()
		if t != nil {
			return t
		}
		return s.push(wasmdbg.F64(float64(x)))

	case wasm.OpF64PromoteF32:
		x, t := s.popF32()
		if t != nil {
			return t
		}
		return s.push(canonF64(float64(x)))

	case wasm.OpI32ReinterpretF32:
		v, t := s.popKind(wasmdbg.KindF32)
		if t != nil {
			return t
		}
		return s.push(wasmdbg.I32(int32(uint32(v.Bits))))

	case wasm.OpI64ReinterpretF64:
		v, t := s.popKind(wasmdbg.KindF64)
		if t != nil {
			return t
		}
		return s.push(wasmdbg.I64(int64(v.Bits)))

	case wasm.OpF32ReinterpretI32:
		v, t := s.popKind(wasmdbg.KindI32)
		if t != nil {
			return t
		}
		return s.push(wasmdbg.F32FromBits(uint32(v.Bits)))

	default: // OpF64ReinterpretI64
		v, t := s.popKind(wasmdbg.KindI64)
		if t != nil {
			return t
		}
		return s.push(wasmdbg.F64FromBits(v.Bits))
	}
}

// popFloatAsF64 pops the float operand of a trunc conversion, widening
// f32 sources exactly.
func (s *State) popFloatAsF64(op byte) (float64, *Trap) {
	switch op {
	case wasm.OpI32TruncF32S, wasm.OpI32TruncF32U, wasm.OpI64TruncF32S, wasm.OpI64TruncF32U:
		x, t := s.popF32()
		return float64(x), t
	default:
		x, t := s.popF64()
		return x, t
	}
}
