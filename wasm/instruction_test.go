package wasm_test

import (
	"bytes"
	"math"
	"reflect"
	"strings"
	"testing"

	"github.com/wippyai/wasmdbg/wasm"
)

func TestInstructionRoundTrip(t *testing.T) {
	tests := []struct {
		name   string
		instrs []wasm.Instruction
	}{
		{
			"simple",
			[]wasm.Instruction{
				{Opcode: wasm.OpI32Const, Imm: wasm.I32Imm{Value: 42}},
				{Opcode: wasm.OpEnd},
			},
		},
		{
			"locals",
			[]wasm.Instruction{
				{Opcode: wasm.OpLocalGet, Imm: wasm.LocalImm{LocalIdx: 0}},
				{Opcode: wasm.OpLocalGet, Imm: wasm.LocalImm{LocalIdx: 1}},
				{Opcode: wasm.OpI32Add},
				{Opcode: wasm.OpEnd},
			},
		},
		{
			"block",
			[]wasm.Instruction{
				{Opcode: wasm.OpBlock, Imm: wasm.BlockImm{Type: byte(wasm.ValI32)}},
				{Opcode: wasm.OpI32Const, Imm: wasm.I32Imm{Value: 1}},
				{Opcode: wasm.OpEnd},
				{Opcode: wasm.OpEnd},
			},
		},
		{
			"if_else",
			[]wasm.Instruction{
				{Opcode: wasm.OpLocalGet, Imm: wasm.LocalImm{LocalIdx: 0}},
				{Opcode: wasm.OpIf, Imm: wasm.BlockImm{Type: wasm.BlockTypeVoid}},
				{Opcode: wasm.OpI32Const, Imm: wasm.I32Imm{Value: 1}},
				{Opcode: wasm.OpDrop},
				{Opcode: wasm.OpElse},
				{Opcode: wasm.OpI32Const, Imm: wasm.I32Imm{Value: 2}},
				{Opcode: wasm.OpDrop},
				{Opcode: wasm.OpEnd},
				{Opcode: wasm.OpEnd},
			},
		},
		{
			"loop",
			[]wasm.Instruction{
				{Opcode: wasm.OpLoop, Imm: wasm.BlockImm{Type: wasm.BlockTypeVoid}},
				{Opcode: wasm.OpBr, Imm: wasm.BranchImm{LabelIdx: 0}},
				{Opcode: wasm.OpEnd},
				{Opcode: wasm.OpEnd},
			},
		},
		{
			"br_table",
			[]wasm.Instruction{
				{Opcode: wasm.OpLocalGet, Imm: wasm.LocalImm{LocalIdx: 0}},
				{Opcode: wasm.OpBrTable, Imm: wasm.BrTableImm{Labels: []uint32{0, 1, 2}, Default: 3}},
				{Opcode: wasm.OpEnd},
			},
		},
		{
			"calls",
			[]wasm.Instruction{
				{Opcode: wasm.OpCall, Imm: wasm.CallImm{FuncIdx: 7}},
				{Opcode: wasm.OpCallIndirect, Imm: wasm.CallIndirectImm{TypeIdx: 2}},
				{Opcode: wasm.OpEnd},
			},
		},
		{
			"memory",
			[]wasm.Instruction{
				{Opcode: wasm.OpI32Const, Imm: wasm.I32Imm{Value: 8}},
				{Opcode: wasm.OpI32Load, Imm: wasm.MemoryImm{Align: 2, Offset: 16}},
				{Opcode: wasm.OpI64Store, Imm: wasm.MemoryImm{Align: 3, Offset: 0}},
				{Opcode: wasm.OpMemorySize},
				{Opcode: wasm.OpMemoryGrow},
				{Opcode: wasm.OpEnd},
			},
		},
		{
			"globals",
			[]wasm.Instruction{
				{Opcode: wasm.OpGlobalGet, Imm: wasm.GlobalImm{GlobalIdx: 0}},
				{Opcode: wasm.OpGlobalSet, Imm: wasm.GlobalImm{GlobalIdx: 1}},
				{Opcode: wasm.OpEnd},
			},
		},
		{
			"constants",
			[]wasm.Instruction{
				{Opcode: wasm.OpI32Const, Imm: wasm.I32Imm{Value: -1}},
				{Opcode: wasm.OpI64Const, Imm: wasm.I64Imm{Value: math.MinInt64}},
				{Opcode: wasm.OpF32Const, Imm: wasm.F32Imm{Bits: math.Float32bits(3.14)}},
				{Opcode: wasm.OpF64Const, Imm: wasm.F64Imm{Bits: math.Float64bits(-2.5)}},
				{Opcode: wasm.OpEnd},
			},
		},
		{
			"numeric",
			[]wasm.Instruction{
				{Opcode: wasm.OpI32Const, Imm: wasm.I32Imm{Value: 10}},
				{Opcode: wasm.OpI32Const, Imm: wasm.I32Imm{Value: 3}},
				{Opcode: wasm.OpI32DivS},
				{Opcode: wasm.OpI64ExtendI32S},
				{Opcode: wasm.OpF64ConvertI64S},
				{Opcode: wasm.OpF64Sqrt},
				{Opcode: wasm.OpI32TruncF64S},
				{Opcode: wasm.OpEnd},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			encoded := wasm.EncodeInstructions(tt.instrs)
			decoded, err := wasm.DecodeInstructions(encoded)
			if err != nil {
				t.Fatalf("DecodeInstructions: %v", err)
			}
			if !reflect.DeepEqual(decoded, tt.instrs) {
				t.Errorf("round trip mismatch:\n got  %+v\n want %+v", decoded, tt.instrs)
			}
		})
	}
}

func TestDecodeKnownEncoding(t *testing.T) {
	// (i32.const 5) (i32.const -1) i32.add end
	code := []byte{0x41, 0x05, 0x41, 0x7F, 0x6A, 0x0B}
	instrs, err := wasm.DecodeInstructions(code)
	if err != nil {
		t.Fatalf("DecodeInstructions: %v", err)
	}
	want := []wasm.Instruction{
		{Opcode: wasm.OpI32Const, Imm: wasm.I32Imm{Value: 5}},
		{Opcode: wasm.OpI32Const, Imm: wasm.I32Imm{Value: -1}},
		{Opcode: wasm.OpI32Add},
		{Opcode: wasm.OpEnd},
	}
	if !reflect.DeepEqual(instrs, want) {
		t.Errorf("got %+v, want %+v", instrs, want)
	}
}

func TestDecodeNaNPayloadPreserved(t *testing.T) {
	// f32.const with a signaling NaN payload, then f64.const with one.
	code := []byte{
		0x43, 0x01, 0x00, 0xA0, 0x7F, // f32 bits 0x7FA00001
		0x44, 0x01, 0x00, 0x00, 0x00, 0x00, 0x00, 0xF4, 0x7F, // f64 bits 0x7FF4000000000001
		0x0B,
	}
	instrs, err := wasm.DecodeInstructions(code)
	if err != nil {
		t.Fatalf("DecodeInstructions: %v", err)
	}
	if imm := instrs[0].Imm.(wasm.F32Imm); imm.Bits != 0x7FA00001 {
		t.Errorf("f32 bits = 0x%08x, want 0x7FA00001", imm.Bits)
	}
	if imm := instrs[1].Imm.(wasm.F64Imm); imm.Bits != 0x7FF4000000000001 {
		t.Errorf("f64 bits = 0x%016x, want 0x7FF4000000000001", imm.Bits)
	}
	if !bytes.Equal(wasm.EncodeInstructions(instrs), code) {
		t.Error("re-encoding altered NaN bit patterns")
	}
}

func TestDecodeRejectsPostMVPOpcodes(t *testing.T) {
	tests := []struct {
		name     string
		code     []byte
		proposal string
	}{
		{"try", []byte{0x06, 0x40, 0x0B}, "exception handling"},
		{"return_call", []byte{0x12, 0x00, 0x0B}, "tail call"},
		{"call_ref", []byte{0x14, 0x00, 0x0B}, "typed function references"},
		{"select_t", []byte{0x1C, 0x01, 0x7F, 0x0B}, "reference types"},
		{"table_get", []byte{0x25, 0x00, 0x0B}, "reference types"},
		{"i32.extend8_s", []byte{0xC0, 0x0B}, "sign extension"},
		{"ref.null", []byte{0xD0, 0x70, 0x0B}, "reference types"},
		{"gc_prefix", []byte{0xFB, 0x00, 0x0B}, "garbage collection"},
		{"misc_prefix", []byte{0xFC, 0x0A, 0x00, 0x00, 0x0B}, "saturating truncation or bulk memory"},
		{"simd_prefix", []byte{0xFD, 0x00, 0x0B}, "SIMD"},
		{"atomic_prefix", []byte{0xFE, 0x00, 0x0B}, "threads"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := wasm.DecodeInstructions(tt.code)
			if err == nil {
				t.Fatal("expected error, got nil")
			}
			if !strings.Contains(err.Error(), tt.proposal) {
				t.Errorf("error %q does not name the %q proposal", err, tt.proposal)
			}
		})
	}
}

func TestDecodeRejectsUnknownOpcode(t *testing.T) {
	_, err := wasm.DecodeInstructions([]byte{0x27, 0x0B})
	if err == nil {
		t.Fatal("expected error for unknown opcode")
	}
	if !strings.Contains(err.Error(), "0x27") {
		t.Errorf("error %q does not identify the opcode byte", err)
	}
}

func TestDecodeRejectsNonzeroReservedBytes(t *testing.T) {
	t.Run("call_indirect table", func(t *testing.T) {
		_, err := wasm.DecodeInstructions([]byte{0x11, 0x00, 0x01, 0x0B})
		if err == nil || !strings.Contains(err.Error(), "reference types") {
			t.Errorf("expected reference types rejection, got %v", err)
		}
	})
	t.Run("memory.size memory", func(t *testing.T) {
		_, err := wasm.DecodeInstructions([]byte{0x3F, 0x01, 0x0B})
		if err == nil || !strings.Contains(err.Error(), "multi-memory") {
			t.Errorf("expected multi-memory rejection, got %v", err)
		}
	})
}

func TestDecodeRejectsOverNaturalAlignment(t *testing.T) {
	// i32.load with alignment 2^3 on a 4-byte access.
	_, err := wasm.DecodeInstructions([]byte{0x28, 0x03, 0x00, 0x0B})
	if err == nil || !strings.Contains(err.Error(), "natural alignment") {
		t.Errorf("expected natural alignment rejection, got %v", err)
	}

	// Natural alignment itself is fine.
	if _, err := wasm.DecodeInstructions([]byte{0x28, 0x02, 0x00, 0x0B}); err != nil {
		t.Errorf("natural alignment should decode: %v", err)
	}

	// i64.store8 is a 1-byte access, so 2^1 is over-aligned.
	_, err = wasm.DecodeInstructions([]byte{0x3C, 0x01, 0x00, 0x0B})
	if err == nil || !strings.Contains(err.Error(), "natural alignment") {
		t.Errorf("expected natural alignment rejection, got %v", err)
	}
}

func TestNaturalAlign(t *testing.T) {
	tests := []struct {
		op   byte
		want uint32
	}{
		{wasm.OpI32Load8U, 0},
		{wasm.OpI64Store16, 1},
		{wasm.OpF32Load, 2},
		{wasm.OpI64Load32S, 2},
		{wasm.OpF64Store, 3},
	}
	for _, tt := range tests {
		got, ok := wasm.NaturalAlign(tt.op)
		if !ok || got != tt.want {
			t.Errorf("NaturalAlign(%s) = %d, %v; want %d", wasm.OpcodeName(tt.op), got, ok, tt.want)
		}
	}
	if _, ok := wasm.NaturalAlign(wasm.OpI32Add); ok {
		t.Error("i32.add is not a memory access")
	}
}

func TestDecodeRejectsMultiValueBlockType(t *testing.T) {
	// Block type 0x01 is a type index under the multi-value proposal.
	_, err := wasm.DecodeInstructions([]byte{0x02, 0x01, 0x0B, 0x0B})
	if err == nil || !strings.Contains(err.Error(), "multi-value") {
		t.Errorf("expected multi-value rejection, got %v", err)
	}
}

func TestDecodeTruncatedImmediate(t *testing.T) {
	tests := []struct {
		name string
		code []byte
	}{
		{"i32.const cut", []byte{0x41}},
		{"f64.const cut", []byte{0x44, 0x00, 0x00, 0x00}},
		{"br_table cut", []byte{0x0E, 0x02, 0x00}},
		{"call cut", []byte{0x10}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := wasm.DecodeInstructions(tt.code); err == nil {
				t.Error("expected error for truncated body")
			}
		})
	}
}

func TestBlockImm(t *testing.T) {
	void := wasm.BlockImm{Type: wasm.BlockTypeVoid}
	if void.HasResult() || void.Arity() != 0 {
		t.Error("void block should have no result")
	}

	typed := wasm.BlockImm{Type: byte(wasm.ValF64)}
	if !typed.HasResult() || typed.Arity() != 1 {
		t.Error("typed block should have one result")
	}
	if typed.ResultType() != wasm.ValF64 {
		t.Errorf("ResultType = %v, want f64", typed.ResultType())
	}
}

func TestGetCallTarget(t *testing.T) {
	call := wasm.Instruction{Opcode: wasm.OpCall, Imm: wasm.CallImm{FuncIdx: 9}}
	if idx, ok := call.GetCallTarget(); !ok || idx != 9 {
		t.Errorf("GetCallTarget = %d, %v; want 9, true", idx, ok)
	}
	add := wasm.Instruction{Opcode: wasm.OpI32Add}
	if _, ok := add.GetCallTarget(); ok {
		t.Error("i32.add should have no call target")
	}
}

func TestInstructionName(t *testing.T) {
	tests := []struct {
		op   byte
		want string
	}{
		{wasm.OpUnreachable, "unreachable"},
		{wasm.OpBrTable, "br_table"},
		{wasm.OpCallIndirect, "call_indirect"},
		{wasm.OpLocalTee, "local.tee"},
		{wasm.OpMemoryGrow, "memory.grow"},
		{wasm.OpI32Const, "i32.const"},
		{wasm.OpF64Max, "f64.max"},
		{wasm.OpI64ExtendI32U, "i64.extend_i32_u"},
		{wasm.OpI32WrapI64, "i32.wrap_i64"},
		{wasm.OpF32ReinterpretI32, "f32.reinterpret_i32"},
		{wasm.OpI32TruncF32S, "i32.trunc_f32_s"},
	}
	for _, tt := range tests {
		ins := wasm.Instruction{Opcode: tt.op}
		if got := ins.Name(); got != tt.want {
			t.Errorf("Name(0x%02x) = %q, want %q", tt.op, got, tt.want)
		}
	}

	if got := wasm.OpcodeName(0xFB); got != "<0xfb>" {
		t.Errorf("OpcodeName(0xFB) = %q, want placeholder", got)
	}
}
