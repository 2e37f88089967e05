package wasm

import (
	"bytes"
	"io"
	"sort"

	"github.com/wippyai/wasmdbg/wasm/internal/binary"
)

// NameSectionName is the registered custom section name for debug names.
const NameSectionName = "name"

// Name subsection IDs.
const (
	nameSubsectionModule byte = 0
	nameSubsectionFuncs  byte = 1
	nameSubsectionLocals byte = 2
)

// ParseNameSection decodes the payload of a "name" custom section.
// Unknown subsections are skipped by their declared size. Callers treat
// any error as "module has no names" rather than a load failure.
func ParseNameSection(data []byte) (*NameSection, error) {
	r := binary.NewReader(bytes.NewReader(data))
	ns := &NameSection{}

	for {
		id, err := r.ReadByte()
		if err != nil {
			if err == io.EOF {
				break
			}
			return nil, err
		}
		size, err := r.ReadU32()
		if err != nil {
			return nil, err
		}
		sub, err := r.ReadBytes(int(size))
		if err != nil {
			return nil, err
		}

		sr := binary.NewReader(bytes.NewReader(sub))
		switch id {
		case nameSubsectionModule:
			ns.Module, err = sr.ReadName()
		case nameSubsectionFuncs:
			ns.Funcs, err = readNameMap(sr)
		case nameSubsectionLocals:
			ns.Locals, err = readIndirectNameMap(sr)
		default:
			// Tools emit extra subsections (labels, types, data). They
			// carry nothing the debugger resolves, so skip them.
		}
		if err != nil {
			return nil, err
		}
	}

	return ns, nil
}

func readNameMap(r *binary.Reader) (map[uint32]string, error) {
	count, err := r.ReadU32()
	if err != nil {
		return nil, err
	}
	names := make(map[uint32]string, count)
	for i := uint32(0); i < count; i++ {
		idx, err := r.ReadU32()
		if err != nil {
			return nil, err
		}
		name, err := r.ReadName()
		if err != nil {
			return nil, err
		}
		names[idx] = name
	}
	return names, nil
}

func readIndirectNameMap(r *binary.Reader) (map[uint32]map[uint32]string, error) {
	count, err := r.ReadU32()
	if err != nil {
		return nil, err
	}
	names := make(map[uint32]map[uint32]string, count)
	for i := uint32(0); i < count; i++ {
		funcIdx, err := r.ReadU32()
		if err != nil {
			return nil, err
		}
		inner, err := readNameMap(r)
		if err != nil {
			return nil, err
		}
		names[funcIdx] = inner
	}
	return names, nil
}

// EncodeNameSection encodes a name section payload (without the custom
// section framing). Maps are written in increasing index order, which is
// what the format requires and keeps output deterministic.
func EncodeNameSection(ns *NameSection) []byte {
	var buf bytes.Buffer

	if ns.Module != "" {
		w := binary.NewWriter()
		w.WriteName(ns.Module)
		writeNameSubsection(&buf, nameSubsectionModule, w.Bytes())
	}

	if len(ns.Funcs) > 0 {
		w := binary.NewWriter()
		writeNameMap(w, ns.Funcs)
		writeNameSubsection(&buf, nameSubsectionFuncs, w.Bytes())
	}

	if len(ns.Locals) > 0 {
		w := binary.NewWriter()
		w.WriteU32(uint32(len(ns.Locals)))
		for _, funcIdx := range sortedIndices(ns.Locals) {
			w.WriteU32(funcIdx)
			writeNameMap(w, ns.Locals[funcIdx])
		}
		writeNameSubsection(&buf, nameSubsectionLocals, w.Bytes())
	}

	return buf.Bytes()
}

func writeNameMap(w *binary.Writer, names map[uint32]string) {
	w.WriteU32(uint32(len(names)))
	for _, idx := range sortedIndices(names) {
		w.WriteU32(idx)
		w.WriteName(names[idx])
	}
}

func writeNameSubsection(buf *bytes.Buffer, id byte, data []byte) {
	buf.WriteByte(id)
	WriteLEB128u(buf, uint32(len(data)))
	buf.Write(data)
}

func sortedIndices[V any](m map[uint32]V) []uint32 {
	keys := make([]uint32, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	return keys
}
