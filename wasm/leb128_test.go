package wasm_test

import (
	"bytes"
	"errors"
	"math"
	"testing"

	"github.com/wippyai/wasmdbg/wasm"
)

func TestLEB128Unsigned(t *testing.T) {
	tests := []struct {
		encoded []byte
		value   uint32
	}{
		{[]byte{0x00}, 0},
		{[]byte{0x01}, 1},
		{[]byte{0x7f}, 127},
		{[]byte{0x80, 0x01}, 128},
		{[]byte{0xff, 0x01}, 255},
		{[]byte{0x80, 0x02}, 256},
		{[]byte{0xff, 0x7f}, 16383},
		{[]byte{0x80, 0x80, 0x01}, 16384},
		{[]byte{0xe5, 0x8e, 0x26}, 624485},
		{[]byte{0xff, 0xff, 0xff, 0xff, 0x0f}, 0xFFFFFFFF},
	}

	for _, tt := range tests {
		t.Run("", func(t *testing.T) {
			var buf bytes.Buffer
			wasm.WriteLEB128u(&buf, tt.value)
			if !bytes.Equal(buf.Bytes(), tt.encoded) {
				t.Errorf("encode %d: got %v, want %v", tt.value, buf.Bytes(), tt.encoded)
			}

			r := bytes.NewReader(tt.encoded)
			got, err := wasm.ReadLEB128u(r)
			if err != nil {
				t.Fatalf("decode: %v", err)
			}
			if got != tt.value {
				t.Errorf("decode: got %d, want %d", got, tt.value)
			}
		})
	}
}

func TestLEB128Signed(t *testing.T) {
	tests := []struct {
		encoded []byte
		value   int32
	}{
		{[]byte{0x00}, 0},
		{[]byte{0x01}, 1},
		{[]byte{0x7f}, -1},
		{[]byte{0x3f}, 63},
		{[]byte{0xc0, 0x00}, 64},
		{[]byte{0x40}, -64},
		{[]byte{0xbf, 0x7f}, -65},
		{[]byte{0xff, 0x00}, 127},
		{[]byte{0x80, 0x7f}, -128},
		{[]byte{0x80, 0x01}, 128},
		{[]byte{0xff, 0x7e}, -129},
	}

	for _, tt := range tests {
		t.Run("", func(t *testing.T) {
			var buf bytes.Buffer
			wasm.WriteLEB128s(&buf, tt.value)
			if !bytes.Equal(buf.Bytes(), tt.encoded) {
				t.Errorf("encode %d: got %v, want %v", tt.value, buf.Bytes(), tt.encoded)
			}

			r := bytes.NewReader(tt.encoded)
			got, err := wasm.ReadLEB128s(r)
			if err != nil {
				t.Fatalf("decode: %v", err)
			}
			if got != tt.value {
				t.Errorf("decode: got %d, want %d", got, tt.value)
			}
		})
	}
}

func TestLEB128u64(t *testing.T) {
	tests := []uint64{0, 1, 127, 128, 255, 256, 0xFFFFFFFF, 0xFFFFFFFFFFFFFFFF}
	for _, v := range tests {
		var buf bytes.Buffer
		wasm.WriteLEB128u64(&buf, v)
		r := bytes.NewReader(buf.Bytes())
		got, err := wasm.ReadLEB128u64(r)
		if err != nil {
			t.Fatalf("ReadLEB128u64(%d): %v", v, err)
		}
		if got != v {
			t.Errorf("ReadLEB128u64: got %d, want %d", got, v)
		}
	}
}

func TestLEB128s64(t *testing.T) {
	tests := []int64{0, 1, -1, 63, 64, -64, -65, 127, -128, 0x7FFFFFFFFFFFFFFF, -0x8000000000000000}
	for _, v := range tests {
		var buf bytes.Buffer
		wasm.WriteLEB128s64(&buf, v)
		r := bytes.NewReader(buf.Bytes())
		got, err := wasm.ReadLEB128s64(r)
		if err != nil {
			t.Fatalf("ReadLEB128s64(%d): %v", v, err)
		}
		if got != v {
			t.Errorf("ReadLEB128s64: got %d, want %d", got, v)
		}
	}
}

func TestEncodeLEB128u(t *testing.T) {
	tests := []struct {
		expected []byte
		value    uint32
	}{
		{[]byte{0x00}, 0},
		{[]byte{0xe5, 0x8e, 0x26}, 624485},
	}

	for _, tt := range tests {
		got := wasm.EncodeLEB128u(tt.value)
		if !bytes.Equal(got, tt.expected) {
			t.Errorf("EncodeLEB128u(%d) = %v, want %v", tt.value, got, tt.expected)
		}
	}
}

func TestEncodeLEB128s(t *testing.T) {
	tests := []struct {
		expected []byte
		value    int32
	}{
		{[]byte{0x00}, 0},
		{[]byte{0x7f}, -1},
		{[]byte{0xc0, 0x00}, 64},
		{[]byte{0x40}, -64},
	}

	for _, tt := range tests {
		got := wasm.EncodeLEB128s(tt.value)
		if !bytes.Equal(got, tt.expected) {
			t.Errorf("EncodeLEB128s(%d) = %v, want %v", tt.value, got, tt.expected)
		}
	}
}

func TestEncodeLEB128u64(t *testing.T) {
	tests := []uint64{0, 1, 127, 128, 0xFFFFFFFF, 0xFFFFFFFFFFFFFFFF}
	for _, v := range tests {
		encoded := wasm.EncodeLEB128u64(v)
		r := bytes.NewReader(encoded)
		got, err := wasm.ReadLEB128u64(r)
		if err != nil {
			t.Fatalf("ReadLEB128u64(%d): %v", v, err)
		}
		if got != v {
			t.Errorf("EncodeLEB128u64 round-trip: got %d, want %d", got, v)
		}
	}
}

func TestEncodeLEB128s64(t *testing.T) {
	tests := []int64{0, 1, -1, 63, -64, 0x7FFFFFFFFFFFFFFF, -0x8000000000000000}
	for _, v := range tests {
		encoded := wasm.EncodeLEB128s64(v)
		r := bytes.NewReader(encoded)
		got, err := wasm.ReadLEB128s64(r)
		if err != nil {
			t.Fatalf("ReadLEB128s64(%d): %v", v, err)
		}
		if got != v {
			t.Errorf("EncodeLEB128s64 round-trip: got %d, want %d", got, v)
		}
	}
}

func TestLEB128Overflow(t *testing.T) {
	t.Run("u32 overflow", func(t *testing.T) {
		// More than 5 bytes with continuation bits (> 35 bits)
		data := []byte{0x80, 0x80, 0x80, 0x80, 0x80, 0x01}
		r := bytes.NewReader(data)
		_, err := wasm.ReadLEB128u(r)
		if !errors.Is(err, wasm.ErrOverflow) {
			t.Errorf("expected ErrOverflow, got %v", err)
		}
	})

	t.Run("u64 overflow", func(t *testing.T) {
		// More than 10 bytes with continuation bits (> 70 bits)
		data := []byte{0x80, 0x80, 0x80, 0x80, 0x80, 0x80, 0x80, 0x80, 0x80, 0x80, 0x01}
		r := bytes.NewReader(data)
		_, err := wasm.ReadLEB128u64(r)
		if !errors.Is(err, wasm.ErrOverflow) {
			t.Errorf("expected ErrOverflow, got %v", err)
		}
	})

	t.Run("s32 overflow", func(t *testing.T) {
		data := []byte{0x80, 0x80, 0x80, 0x80, 0x80, 0x01}
		r := bytes.NewReader(data)
		_, err := wasm.ReadLEB128s(r)
		if !errors.Is(err, wasm.ErrOverflow) {
			t.Errorf("expected ErrOverflow, got %v", err)
		}
	})

	t.Run("s64 overflow", func(t *testing.T) {
		data := []byte{0x80, 0x80, 0x80, 0x80, 0x80, 0x80, 0x80, 0x80, 0x80, 0x80, 0x01}
		r := bytes.NewReader(data)
		_, err := wasm.ReadLEB128s64(r)
		if !errors.Is(err, wasm.ErrOverflow) {
			t.Errorf("expected ErrOverflow, got %v", err)
		}
	})
}

func TestLEB128WideEncodings(t *testing.T) {
	// A terminal byte carrying value bits past the target width is
	// rejected, not silently truncated. The widest well-formed encoding
	// of each width still decodes.
	t.Run("u32", func(t *testing.T) {
		invalid := [][]byte{
			{0xff, 0xff, 0xff, 0xff, 0x7f}, // truncated reading would be 0xFFFFFFFF
			{0xff, 0xff, 0xff, 0xff, 0x1f},
			{0x80, 0x80, 0x80, 0x80, 0x10}, // truncated reading would be 0
		}
		for _, data := range invalid {
			if _, err := wasm.ReadLEB128u(bytes.NewReader(data)); !errors.Is(err, wasm.ErrOverflow) {
				t.Errorf("ReadLEB128u(% x) err = %v, want ErrOverflow", data, err)
			}
		}
		got, err := wasm.ReadLEB128u(bytes.NewReader([]byte{0xff, 0xff, 0xff, 0xff, 0x0f}))
		if err != nil || got != 0xFFFFFFFF {
			t.Errorf("widest valid u32 = %d, %v", got, err)
		}
	})

	t.Run("s32", func(t *testing.T) {
		// The same five bytes that overflow an unsigned read are a legal
		// sign extension of -1 when read signed.
		got, err := wasm.ReadLEB128s(bytes.NewReader([]byte{0xff, 0xff, 0xff, 0xff, 0x7f}))
		if err != nil || got != -1 {
			t.Fatalf("ReadLEB128s(ff ff ff ff 7f) = %d, %v, want -1", got, err)
		}
		invalid := [][]byte{
			{0xff, 0xff, 0xff, 0xff, 0x0f}, // sign bit set, extension bits clear
			{0xff, 0xff, 0xff, 0xff, 0x4f},
			{0x80, 0x80, 0x80, 0x80, 0x70}, // extension bits set, sign bit clear
		}
		for _, data := range invalid {
			if _, err := wasm.ReadLEB128s(bytes.NewReader(data)); !errors.Is(err, wasm.ErrOverflow) {
				t.Errorf("ReadLEB128s(% x) err = %v, want ErrOverflow", data, err)
			}
		}
	})

	t.Run("u64", func(t *testing.T) {
		data := []byte{0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0x7f}
		if _, err := wasm.ReadLEB128u64(bytes.NewReader(data)); !errors.Is(err, wasm.ErrOverflow) {
			t.Errorf("ReadLEB128u64(% x) err = %v, want ErrOverflow", data, err)
		}
		got, err := wasm.ReadLEB128u64(bytes.NewReader([]byte{0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0x01}))
		if err != nil || got != math.MaxUint64 {
			t.Errorf("widest valid u64 = %d, %v", got, err)
		}
	})

	t.Run("s64", func(t *testing.T) {
		invalid := [][]byte{
			{0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0x01}, // sign bit set, extension bits clear
			{0x80, 0x80, 0x80, 0x80, 0x80, 0x80, 0x80, 0x80, 0x80, 0x7e}, // extension bits set, sign bit clear
		}
		for _, data := range invalid {
			if _, err := wasm.ReadLEB128s64(bytes.NewReader(data)); !errors.Is(err, wasm.ErrOverflow) {
				t.Errorf("ReadLEB128s64(% x) err = %v, want ErrOverflow", data, err)
			}
		}
		got, err := wasm.ReadLEB128s64(bytes.NewReader([]byte{0x80, 0x80, 0x80, 0x80, 0x80, 0x80, 0x80, 0x80, 0x80, 0x7f}))
		if err != nil || got != math.MinInt64 {
			t.Errorf("widest valid s64 = %d, %v", got, err)
		}
	})
}

func TestFloatBits(t *testing.T) {
	t.Run("f32", func(t *testing.T) {
		tests := []uint32{
			0,
			math.Float32bits(1.5),
			math.Float32bits(-3.14),
			math.Float32bits(float32(math.Inf(-1))),
			0x7FC00001, // NaN payload that a float round-trip could lose
			0xFFC00000,
		}
		for _, bits := range tests {
			var buf bytes.Buffer
			wasm.WriteF32Bits(&buf, bits)
			if buf.Len() != 4 {
				t.Fatalf("encoded %d bytes, want 4", buf.Len())
			}
			got, err := wasm.ReadF32Bits(bytes.NewReader(buf.Bytes()))
			if err != nil {
				t.Fatalf("ReadF32Bits: %v", err)
			}
			if got != bits {
				t.Errorf("got 0x%08x, want 0x%08x", got, bits)
			}
		}
	})

	t.Run("f64", func(t *testing.T) {
		tests := []uint64{
			0,
			math.Float64bits(1.5),
			math.Float64bits(-3.14),
			math.Float64bits(math.Inf(1)),
			0x7FF8000000000001,
			0xFFF0000000000123,
		}
		for _, bits := range tests {
			var buf bytes.Buffer
			wasm.WriteF64Bits(&buf, bits)
			if buf.Len() != 8 {
				t.Fatalf("encoded %d bytes, want 8", buf.Len())
			}
			got, err := wasm.ReadF64Bits(bytes.NewReader(buf.Bytes()))
			if err != nil {
				t.Fatalf("ReadF64Bits: %v", err)
			}
			if got != bits {
				t.Errorf("got 0x%016x, want 0x%016x", got, bits)
			}
		}
	})

	t.Run("truncated", func(t *testing.T) {
		if _, err := wasm.ReadF32Bits(bytes.NewReader([]byte{1, 2})); err == nil {
			t.Error("expected error for truncated f32")
		}
		if _, err := wasm.ReadF64Bits(bytes.NewReader([]byte{1, 2, 3, 4})); err == nil {
			t.Error("expected error for truncated f64")
		}
	})
}
