package wasmdbg

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/wippyai/wasmdbg/errors"
	"github.com/wippyai/wasmdbg/wasm"
)

// ValueKind identifies which of the four MVP numeric types a Value carries.
type ValueKind byte

const (
	KindI32 ValueKind = iota
	KindI64
	KindF32
	KindF64
)

func (k ValueKind) String() string {
	switch k {
	case KindI32:
		return "i32"
	case KindI64:
		return "i64"
	case KindF32:
		return "f32"
	case KindF64:
		return "f64"
	default:
		return "unknown"
	}
}

// ValType returns the binary encoding of the kind.
func (k ValueKind) ValType() wasm.ValType {
	switch k {
	case KindI32:
		return wasm.ValI32
	case KindI64:
		return wasm.ValI64
	case KindF32:
		return wasm.ValF32
	default:
		return wasm.ValF64
	}
}

// KindOf maps a binary value type to its kind. The second result is false
// for encodings outside the four MVP numeric types.
func KindOf(vt wasm.ValType) (ValueKind, bool) {
	switch vt {
	case wasm.ValI32:
		return KindI32, true
	case wasm.ValI64:
		return KindI64, true
	case wasm.ValF32:
		return KindF32, true
	case wasm.ValF64:
		return KindF64, true
	default:
		return 0, false
	}
}

// Value is one WebAssembly runtime value: a kind tag plus the raw bit
// pattern. Floats are stored as IEEE-754 bits so NaN payloads survive every
// move between stack slots, locals, globals, and memory. Narrow kinds keep
// their upper bits zero, so equal values compare equal with ==.
type Value struct {
	Kind ValueKind
	Bits uint64
}

// I32 returns an i32 value.
func I32(v int32) Value { return Value{KindI32, uint64(uint32(v))} }

// I64 returns an i64 value.
func I64(v int64) Value { return Value{KindI64, uint64(v)} }

// F32 returns an f32 value.
func F32(v float32) Value { return Value{KindF32, uint64(math.Float32bits(v))} }

// F64 returns an f64 value.
func F64(v float64) Value { return Value{KindF64, math.Float64bits(v)} }

// F32FromBits returns an f32 value with the exact bit pattern given.
func F32FromBits(bits uint32) Value { return Value{KindF32, uint64(bits)} }

// F64FromBits returns an f64 value with the exact bit pattern given.
func F64FromBits(bits uint64) Value { return Value{KindF64, bits} }

// Zero returns the zero value of a kind, used to initialize declared locals
// and fresh globals.
func Zero(k ValueKind) Value { return Value{Kind: k} }

func (v Value) I32() int32   { return int32(uint32(v.Bits)) }
func (v Value) U32() uint32  { return uint32(v.Bits) }
func (v Value) I64() int64   { return int64(v.Bits) }
func (v Value) U64() uint64  { return v.Bits }
func (v Value) F32() float32 { return math.Float32frombits(uint32(v.Bits)) }
func (v Value) F64() float64 { return math.Float64frombits(v.Bits) }

// String renders the value with its kind, e.g. "i32(42)". NaNs render their
// raw bits because the payload distinguishes otherwise identical-looking
// values.
func (v Value) String() string {
	switch v.Kind {
	case KindI32:
		return fmt.Sprintf("i32(%d)", v.I32())
	case KindI64:
		return fmt.Sprintf("i64(%d)", v.I64())
	case KindF32:
		if f := v.F32(); !math.IsNaN(float64(f)) {
			return "f32(" + strconv.FormatFloat(float64(f), 'g', -1, 32) + ")"
		}
		return fmt.Sprintf("f32(NaN:0x%08x)", v.U32())
	case KindF64:
		if f := v.F64(); !math.IsNaN(f) {
			return "f64(" + strconv.FormatFloat(f, 'g', -1, 64) + ")"
		}
		return fmt.Sprintf("f64(NaN:0x%016x)", v.Bits)
	default:
		return fmt.Sprintf("unknown(0x%x)", v.Bits)
	}
}

// ParseValue parses a textual literal as a value of the given kind.
// Integers accept decimal, hex (0x), octal (0o), and binary (0b) forms in
// either the signed or the unsigned range of their width, so both "-1" and
// "0xFFFFFFFF" produce the same i32. Floats accept everything
// strconv.ParseFloat does, including "NaN", "Inf", and hex floats;
// out-of-range magnitudes saturate to infinity rather than failing.
func ParseValue(s string, kind ValueKind) (Value, error) {
	s = strings.TrimSpace(s)
	switch kind {
	case KindI32:
		bits, err := parseIntBits(s, 32)
		if err != nil {
			return Value{}, err
		}
		return Value{KindI32, bits}, nil
	case KindI64:
		bits, err := parseIntBits(s, 64)
		if err != nil {
			return Value{}, err
		}
		return Value{KindI64, bits}, nil
	case KindF32:
		f, err := parseFloat(s, 32)
		if err != nil {
			return Value{}, err
		}
		return F32(float32(f)), nil
	case KindF64:
		f, err := parseFloat(s, 64)
		if err != nil {
			return Value{}, err
		}
		return F64(f), nil
	default:
		return Value{}, errors.New(errors.PhaseResolve, errors.KindInvalidInput).
			Detail("unknown value kind %d", kind).
			Build()
	}
}

func parseIntBits(s string, width int) (uint64, error) {
	if v, err := strconv.ParseInt(s, 0, width); err == nil {
		if width == 32 {
			return uint64(uint32(int32(v))), nil
		}
		return uint64(v), nil
	}
	if v, err := strconv.ParseUint(s, 0, width); err == nil {
		return v, nil
	}
	return 0, errors.New(errors.PhaseResolve, errors.KindInvalidInput).
		Detail("cannot parse %q as i%d", s, width).
		Value(s).
		Build()
}

func parseFloat(s string, width int) (float64, error) {
	f, err := strconv.ParseFloat(s, width)
	if err != nil && !errors.Is(err, strconv.ErrRange) {
		return 0, errors.New(errors.PhaseResolve, errors.KindInvalidInput).
			Detail("cannot parse %q as f%d", s, width).
			Value(s).
			Cause(err).
			Build()
	}
	return f, nil
}
