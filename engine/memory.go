package engine

import (
	"github.com/wippyai/wasmdbg/wasm"
)

// Memory is one linear memory instance. Data always holds whole pages.
type Memory struct {
	data []byte
	max  uint32 // page ceiling, declared maximum clamped to MemoryMaxPages
}

func newMemory(mt wasm.MemoryType) *Memory {
	max := wasm.MemoryMaxPages
	if mt.Limits.Max != nil && *mt.Limits.Max < max {
		max = *mt.Limits.Max
	}
	return &Memory{
		data: make([]byte, pageBytes(mt.Limits.Min)),
		max:  max,
	}
}

// pageBytes is the byte size of a page count. The full 65536-page memory
// is 1<<32 bytes, which does not fit in uint32.
func pageBytes(pages uint32) uint64 {
	return uint64(pages) * uint64(wasm.PageSize)
}

// Pages returns the current size in pages.
func (m *Memory) Pages() uint32 {
	return uint32(len(m.data) / int(wasm.PageSize))
}

// Len returns the current size in bytes.
func (m *Memory) Len() uint64 {
	return uint64(len(m.data))
}

// MaxPages returns the effective page ceiling.
func (m *Memory) MaxPages() uint32 {
	return m.max
}

// Grow extends the memory by delta pages, returning the previous page
// count, or -1 when the ceiling would be exceeded. A failed grow leaves
// the memory untouched and is not a fault.
func (m *Memory) Grow(delta uint32) int32 {
	prev := m.Pages()
	if delta > m.max || prev > m.max-delta {
		return -1
	}
	if delta == 0 {
		return int32(prev)
	}
	// Only the live prefix is copied; the zeroed tail stays untouched.
	grown := make([]byte, pageBytes(prev+delta))
	copy(grown, m.data)
	m.data = grown
	return int32(prev)
}

// InRange reports whether [addr, addr+size) lies inside the current
// memory. Callers compute addr in 64 bits so index+offset cannot wrap.
func (m *Memory) InRange(addr uint64, size uint32) bool {
	n := uint64(len(m.data))
	return addr <= n && uint64(size) <= n-addr
}

// Bytes exposes the backing store. The slice is invalidated by Grow.
func (m *Memory) Bytes() []byte {
	return m.data
}

// Read copies n bytes starting at addr. The second result is false when
// the range is out of bounds; no partial read occurs.
func (m *Memory) Read(addr uint64, n uint32) ([]byte, bool) {
	if !m.InRange(addr, n) {
		return nil, false
	}
	out := make([]byte, n)
	copy(out, m.data[addr:])
	return out, true
}

// Write copies b into the memory at addr. It reports false when the range
// is out of bounds; no partial write occurs.
func (m *Memory) Write(addr uint64, b []byte) bool {
	if !m.InRange(addr, uint32(len(b))) {
		return false
	}
	copy(m.data[addr:], b)
	return true
}
