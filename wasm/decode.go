package wasm

import (
	"bytes"
	"fmt"
	"io"

	"github.com/wippyai/wasmdbg/errors"
	"github.com/wippyai/wasmdbg/wasm/internal/binary"
)

// ParseModule parses a WebAssembly MVP binary module. Sections from
// post-MVP proposals are rejected with an error naming the proposal,
// never silently skipped. A malformed name custom section is the one
// exception: it degrades to an unnamed module instead of failing.
func ParseModule(data []byte) (*Module, error) {
	r := binary.NewReader(bytes.NewReader(data))

	// Check magic number
	magic, err := r.ReadU32LE()
	if err != nil {
		return nil, headerError(r, err)
	}
	if magic != Magic {
		return nil, errors.New(errors.PhaseDecode, errors.KindInvalidData).
			Path("header").
			Detail("invalid magic number 0x%08x, not a WebAssembly binary", magic).
			Build()
	}

	// Check version
	version, err := r.ReadU32LE()
	if err != nil {
		return nil, headerError(r, err)
	}
	if version != Version {
		return nil, errors.New(errors.PhaseDecode, errors.KindUnsupported).
			Path("header").
			Detail("binary version %d, only version %d (MVP) is supported", version, Version).
			Build()
	}

	m := &Module{}

	// Known sections are accepted in any order but at most once each.
	// Custom sections can appear anywhere, any number of times.
	var seen [SectionData + 1]bool

	for {
		sectionID, err := r.ReadByte()
		if err != nil {
			if err == io.EOF {
				break
			}
			return nil, headerError(r, err)
		}

		if sectionID != SectionCustom {
			if sectionID > SectionData {
				return nil, unknownSection(sectionID)
			}
			if seen[sectionID] {
				return nil, errors.New(errors.PhaseDecode, errors.KindInvalidData).
					Path(sectionName(sectionID)).
					Detail("duplicate %s section", sectionName(sectionID)).
					Build()
			}
			seen[sectionID] = true
		}

		sectionSize, err := r.ReadU32()
		if err != nil {
			return nil, sectionError(r, sectionName(sectionID), err)
		}

		sectionStart := r.Position()
		sectionData, err := r.ReadBytes(int(sectionSize))
		if err != nil {
			return nil, sectionError(r, sectionName(sectionID), err)
		}

		// Sub-reader based at the section start so errors carry offsets
		// into the original binary.
		sr := binary.NewReaderAt(bytes.NewReader(sectionData), sectionStart)

		switch sectionID {
		case SectionCustom:
			err = parseCustomSection(sr, m)
		case SectionType:
			err = parseTypeSection(sr, m)
		case SectionImport:
			err = parseImportSection(sr, m)
		case SectionFunction:
			err = parseFunctionSection(sr, m)
		case SectionTable:
			err = parseTableSection(sr, m)
		case SectionMemory:
			err = parseMemorySection(sr, m)
		case SectionGlobal:
			err = parseGlobalSection(sr, m)
		case SectionExport:
			err = parseExportSection(sr, m)
		case SectionStart:
			err = parseStartSection(sr, m)
		case SectionElement:
			err = parseElementSection(sr, m)
		case SectionCode:
			err = parseCodeSection(sr, m)
		case SectionData:
			err = parseDataSection(sr, m)
		}
		if err != nil {
			return nil, sectionError(sr, sectionName(sectionID), err)
		}

		if sr.Position() != sectionStart+len(sectionData) {
			return nil, errors.New(errors.PhaseDecode, errors.KindInvalidData).
				Path(sectionName(sectionID)).
				Detail("section size %d does not match content size %d",
					sectionSize, sr.Position()-sectionStart).
				Build()
		}
	}

	if err := m.Validate(); err != nil {
		return nil, err
	}

	return m, nil
}

// sectionName returns the human-readable name for a section ID.
func sectionName(id byte) string {
	switch id {
	case SectionCustom:
		return "custom"
	case SectionType:
		return "type"
	case SectionImport:
		return "import"
	case SectionFunction:
		return "function"
	case SectionTable:
		return "table"
	case SectionMemory:
		return "memory"
	case SectionGlobal:
		return "global"
	case SectionExport:
		return "export"
	case SectionStart:
		return "start"
	case SectionElement:
		return "element"
	case SectionCode:
		return "code"
	case SectionData:
		return "data"
	}
	return fmt.Sprintf("section %d", id)
}

// unknownSection reports a section ID outside the MVP range, naming the
// proposal for IDs later standards assigned.
func unknownSection(id byte) error {
	switch id {
	case 12: // data count section
		return errors.Unsupported(errors.PhaseDecode, "data count section (bulk memory proposal)")
	case 13: // tag section
		return errors.Unsupported(errors.PhaseDecode, "tag section (exception handling proposal)")
	}
	return errors.New(errors.PhaseDecode, errors.KindInvalidData).
		Detail("unknown section ID 0x%02x", id).
		Build()
}

// headerError wraps a read failure in the module header or section framing.
func headerError(r *binary.Reader, err error) error {
	return errors.New(errors.PhaseDecode, errors.KindInvalidData).
		Path("header").
		Cause(r.WrapError("header", err)).
		Detail("truncated module").
		Build()
}

// sectionError classifies a section parse failure. Errors already carrying
// a phase and kind (feature rejections, mostly) pass through unchanged.
func sectionError(r *binary.Reader, section string, err error) error {
	if de, ok := err.(*errors.Error); ok {
		return de
	}
	kind := errors.KindInvalidData
	if errors.Is(err, binary.ErrInvalidUTF8) {
		kind = errors.KindInvalidUTF8
	}
	return errors.New(errors.PhaseDecode, kind).
		Path(section).
		Cause(r.WrapError(section, err)).
		Detail("malformed %s section", section).
		Build()
}

// vecCap bounds pre-allocation for vector counts read from the binary.
// A count field can claim billions of entries the input cannot actually
// hold; entries are at least one byte each, so oversized claims fail at
// EOF before memory does.
func vecCap(count uint32) int {
	const limit = 1 << 16
	if count > limit {
		return limit
	}
	return int(count)
}

func parseCustomSection(r *binary.Reader, m *Module) error {
	name, err := r.ReadName()
	if err != nil {
		return err
	}
	rest, err := r.ReadRemaining()
	if err != nil {
		return err
	}
	if name == NameSectionName {
		if ns, err := ParseNameSection(rest); err == nil {
			m.Names = ns
			return nil
		}
		// A broken name section only costs us symbol names, so keep the
		// raw bytes around and carry on without them.
	}
	m.CustomSections = append(m.CustomSections, CustomSection{
		Name: name,
		Data: rest,
	})
	return nil
}

func parseTypeSection(r *binary.Reader, m *Module) error {
	count, err := r.ReadU32()
	if err != nil {
		return err
	}
	m.Types = make([]FuncType, 0, vecCap(count))
	for i := uint32(0); i < count; i++ {
		form, err := r.ReadByte()
		if err != nil {
			return fmt.Errorf("read type form at index %d: %w", i, err)
		}
		if form != FuncTypeByte {
			switch form {
			case 0x4E, 0x4F, 0x50, 0x5E, 0x5F:
				return errors.Unsupported(errors.PhaseDecode,
					fmt.Sprintf("composite type form 0x%02x (garbage collection proposal)", form))
			}
			return fmt.Errorf("expected functype (0x60), got 0x%02x", form)
		}
		ft, err := readFuncType(r)
		if err != nil {
			return err
		}
		m.Types = append(m.Types, ft)
	}
	return nil
}

func readFuncType(r *binary.Reader) (FuncType, error) {
	params, err := readValTypes(r)
	if err != nil {
		return FuncType{}, err
	}
	results, err := readValTypes(r)
	if err != nil {
		return FuncType{}, err
	}
	if len(results) > 1 {
		return FuncType{}, errors.Unsupported(errors.PhaseDecode,
			fmt.Sprintf("%d function results (multi-value proposal)", len(results)))
	}
	return FuncType{Params: params, Results: results}, nil
}

func readValTypes(r *binary.Reader) ([]ValType, error) {
	count, err := r.ReadU32()
	if err != nil {
		return nil, err
	}
	if count == 0 {
		return nil, nil
	}
	types := make([]ValType, 0, vecCap(count))
	for i := uint32(0); i < count; i++ {
		b, err := r.ReadByte()
		if err != nil {
			return nil, err
		}
		vt := ValType(b)
		if !vt.Valid() {
			return nil, valTypeError(b)
		}
		types = append(types, vt)
	}
	return types, nil
}

// valTypeError reports an invalid value type byte, recognizing encodings
// that later proposals assigned.
func valTypeError(b byte) error {
	switch b {
	case 0x7B:
		return errors.Unsupported(errors.PhaseDecode, "v128 value type (SIMD proposal)")
	case 0x70, 0x6F:
		return errors.Unsupported(errors.PhaseDecode, "reference value type (reference types proposal)")
	case 0x63, 0x64:
		return errors.Unsupported(errors.PhaseDecode, "typed reference (garbage collection proposal)")
	}
	return fmt.Errorf("invalid value type 0x%02x", b)
}

func parseImportSection(r *binary.Reader, m *Module) error {
	count, err := r.ReadU32()
	if err != nil {
		return err
	}
	m.Imports = make([]Import, 0, vecCap(count))
	for i := uint32(0); i < count; i++ {
		module, err := r.ReadName()
		if err != nil {
			return err
		}
		name, err := r.ReadName()
		if err != nil {
			return err
		}
		kind, err := r.ReadByte()
		if err != nil {
			return err
		}

		imp := Import{Module: module, Name: name, Desc: ImportDesc{Kind: kind}}

		switch kind {
		case KindFunc:
			imp.Desc.TypeIdx, err = r.ReadU32()
			if err != nil {
				return err
			}
		case KindTable:
			table, err := readTableType(r)
			if err != nil {
				return err
			}
			imp.Desc.Table = &table
		case KindMemory:
			memory, err := readMemoryType(r)
			if err != nil {
				return err
			}
			imp.Desc.Memory = &memory
		case KindGlobal:
			global, err := readGlobalType(r)
			if err != nil {
				return err
			}
			imp.Desc.Global = &global
		default:
			return fmt.Errorf("unknown import kind: %d", kind)
		}

		m.Imports = append(m.Imports, imp)
	}
	return nil
}

func parseFunctionSection(r *binary.Reader, m *Module) error {
	count, err := r.ReadU32()
	if err != nil {
		return err
	}
	m.Funcs = make([]uint32, 0, vecCap(count))
	for i := uint32(0); i < count; i++ {
		idx, err := r.ReadU32()
		if err != nil {
			return err
		}
		m.Funcs = append(m.Funcs, idx)
	}
	return nil
}

func parseTableSection(r *binary.Reader, m *Module) error {
	count, err := r.ReadU32()
	if err != nil {
		return err
	}
	m.Tables = make([]TableType, 0, vecCap(count))
	for i := uint32(0); i < count; i++ {
		table, err := readTableType(r)
		if err != nil {
			return err
		}
		m.Tables = append(m.Tables, table)
	}
	return nil
}

func parseMemorySection(r *binary.Reader, m *Module) error {
	count, err := r.ReadU32()
	if err != nil {
		return err
	}
	m.Memories = make([]MemoryType, 0, vecCap(count))
	for i := uint32(0); i < count; i++ {
		memory, err := readMemoryType(r)
		if err != nil {
			return err
		}
		m.Memories = append(m.Memories, memory)
	}
	return nil
}

func parseGlobalSection(r *binary.Reader, m *Module) error {
	count, err := r.ReadU32()
	if err != nil {
		return err
	}
	m.Globals = make([]Global, 0, vecCap(count))
	for i := uint32(0); i < count; i++ {
		globalType, err := readGlobalType(r)
		if err != nil {
			return err
		}
		init, err := readConstExpr(r)
		if err != nil {
			return err
		}
		m.Globals = append(m.Globals, Global{
			Type: globalType,
			Init: init,
		})
	}
	return nil
}

func parseExportSection(r *binary.Reader, m *Module) error {
	count, err := r.ReadU32()
	if err != nil {
		return err
	}
	m.Exports = make([]Export, 0, vecCap(count))
	for i := uint32(0); i < count; i++ {
		name, err := r.ReadName()
		if err != nil {
			return err
		}
		kind, err := r.ReadByte()
		if err != nil {
			return err
		}
		if kind > KindGlobal {
			return fmt.Errorf("invalid export kind: 0x%02x", kind)
		}
		idx, err := r.ReadU32()
		if err != nil {
			return err
		}
		m.Exports = append(m.Exports, Export{Name: name, Kind: kind, Idx: idx})
	}
	return nil
}

func parseStartSection(r *binary.Reader, m *Module) error {
	idx, err := r.ReadU32()
	if err != nil {
		return err
	}
	m.Start = &idx
	return nil
}

func parseElementSection(r *binary.Reader, m *Module) error {
	count, err := r.ReadU32()
	if err != nil {
		return err
	}
	m.Elements = make([]ElementSegment, 0, vecCap(count))
	for i := uint32(0); i < count; i++ {
		// In the MVP this field is always a table index of zero. Later
		// proposals reuse it as a flags value.
		tableIdx, err := r.ReadU32()
		if err != nil {
			return err
		}
		if tableIdx != 0 {
			if tableIdx <= 7 {
				return errors.Unsupported(errors.PhaseDecode,
					fmt.Sprintf("element segment flags %d (bulk memory or reference types proposal)", tableIdx))
			}
			return fmt.Errorf("invalid element segment table index: %d", tableIdx)
		}

		offset, err := readConstExpr(r)
		if err != nil {
			return err
		}

		vecCount, err := r.ReadU32()
		if err != nil {
			return err
		}
		funcIdxs := make([]uint32, 0, vecCap(vecCount))
		for j := uint32(0); j < vecCount; j++ {
			idx, err := r.ReadU32()
			if err != nil {
				return err
			}
			funcIdxs = append(funcIdxs, idx)
		}

		m.Elements = append(m.Elements, ElementSegment{TableIdx: tableIdx, Offset: offset, FuncIdxs: funcIdxs})
	}
	return nil
}

func parseCodeSection(r *binary.Reader, m *Module) error {
	count, err := r.ReadU32()
	if err != nil {
		return err
	}
	m.Code = make([]FuncBody, 0, vecCap(count))
	for i := uint32(0); i < count; i++ {
		bodySize, err := r.ReadU32()
		if err != nil {
			return err
		}
		bodyStart := r.Position()
		bodyData, err := r.ReadBytes(int(bodySize))
		if err != nil {
			return err
		}

		br := binary.NewReaderAt(bytes.NewReader(bodyData), bodyStart)

		localCount, err := br.ReadU32()
		if err != nil {
			return err
		}
		var locals []LocalEntry
		for j := uint32(0); j < localCount; j++ {
			n, err := br.ReadU32()
			if err != nil {
				return err
			}
			t, err := br.ReadByte()
			if err != nil {
				return err
			}
			if !ValType(t).Valid() {
				return valTypeError(t)
			}
			locals = append(locals, LocalEntry{Count: n, ValType: ValType(t)})
		}

		code, err := br.ReadRemaining()
		if err != nil {
			return err
		}
		if len(code) == 0 || code[len(code)-1] != OpEnd {
			return fmt.Errorf("function body %d does not end with the end opcode", i)
		}

		m.Code = append(m.Code, FuncBody{Locals: locals, Code: code})
	}
	return nil
}

func parseDataSection(r *binary.Reader, m *Module) error {
	count, err := r.ReadU32()
	if err != nil {
		return err
	}
	m.Data = make([]DataSegment, 0, vecCap(count))
	for i := uint32(0); i < count; i++ {
		// Memory index in the MVP, flags in the bulk memory proposal.
		memIdx, err := r.ReadU32()
		if err != nil {
			return err
		}
		if memIdx != 0 {
			if memIdx <= 2 {
				return errors.Unsupported(errors.PhaseDecode,
					fmt.Sprintf("data segment flags %d (bulk memory proposal)", memIdx))
			}
			return fmt.Errorf("invalid data segment memory index: %d", memIdx)
		}

		offset, err := readConstExpr(r)
		if err != nil {
			return err
		}

		initLen, err := r.ReadU32()
		if err != nil {
			return err
		}
		init, err := r.ReadBytes(int(initLen))
		if err != nil {
			return err
		}

		m.Data = append(m.Data, DataSegment{MemIdx: memIdx, Offset: offset, Init: init})
	}
	return nil
}

func readLimits(r *binary.Reader) (Limits, error) {
	flags, err := r.ReadByte()
	if err != nil {
		return Limits{}, err
	}

	switch flags {
	case LimitsNoMax, LimitsHasMax:
	case 0x02, 0x03:
		return Limits{}, errors.Unsupported(errors.PhaseDecode, "shared memory (threads proposal)")
	case 0x04, 0x05:
		return Limits{}, errors.Unsupported(errors.PhaseDecode, "64-bit limits (memory64 proposal)")
	default:
		return Limits{}, fmt.Errorf("invalid limits flags: 0x%02x", flags)
	}

	l := Limits{}
	l.Min, err = r.ReadU32()
	if err != nil {
		return Limits{}, err
	}
	if flags == LimitsHasMax {
		maxVal, err := r.ReadU32()
		if err != nil {
			return Limits{}, err
		}
		if l.Min > maxVal {
			return Limits{}, fmt.Errorf("limits min (%d) exceeds max (%d)", l.Min, maxVal)
		}
		l.Max = &maxVal
	}
	return l, nil
}

func readTableType(r *binary.Reader) (TableType, error) {
	elemType, err := r.ReadByte()
	if err != nil {
		return TableType{}, err
	}
	if elemType != ElemTypeFuncRef {
		if elemType == 0x6F {
			return TableType{}, errors.Unsupported(errors.PhaseDecode,
				"externref table (reference types proposal)")
		}
		return TableType{}, fmt.Errorf("invalid table element type: 0x%02x", elemType)
	}
	limits, err := readLimits(r)
	if err != nil {
		return TableType{}, err
	}
	return TableType{ElemType: elemType, Limits: limits}, nil
}

func readMemoryType(r *binary.Reader) (MemoryType, error) {
	limits, err := readLimits(r)
	if err != nil {
		return MemoryType{}, err
	}
	return MemoryType{Limits: limits}, nil
}

func readGlobalType(r *binary.Reader) (GlobalType, error) {
	valType, err := r.ReadByte()
	if err != nil {
		return GlobalType{}, err
	}
	if !ValType(valType).Valid() {
		return GlobalType{}, valTypeError(valType)
	}
	mut, err := r.ReadByte()
	if err != nil {
		return GlobalType{}, err
	}
	if mut > 1 {
		return GlobalType{}, fmt.Errorf("invalid global mutability: 0x%02x", mut)
	}
	return GlobalType{ValType: ValType(valType), Mutable: mut == 1}, nil
}

// readConstExpr copies the raw bytes of a constant expression up to and
// including the terminating end opcode. Immediates are skipped by opcode
// so an 0x0B byte inside a LEB128 encoding is not mistaken for end. The
// MVP allows exactly the four const instructions and global.get here.
func readConstExpr(r *binary.Reader) ([]byte, error) {
	var buf bytes.Buffer
	for {
		b, err := r.ReadByte()
		if err != nil {
			return nil, err
		}
		buf.WriteByte(b)
		if b == OpEnd {
			break
		}
		switch b {
		case OpI32Const, OpI64Const, OpGlobalGet:
			err = copyLEB128(r, &buf)
		case OpF32Const:
			err = copyBytes(r, &buf, 4)
		case OpF64Const:
			err = copyBytes(r, &buf, 8)
		case OpI32Add, OpI32Sub, OpI32Mul, OpI64Add, OpI64Sub, OpI64Mul:
			return nil, errors.Unsupported(errors.PhaseDecode,
				"arithmetic in constant expression (extended const proposal)")
		case OpRefNull, OpRefFunc:
			return nil, errors.Unsupported(errors.PhaseDecode,
				"reference constant expression (reference types proposal)")
		default:
			return nil, fmt.Errorf("invalid opcode 0x%02x in constant expression", b)
		}
		if err != nil {
			return nil, err
		}
	}
	return buf.Bytes(), nil
}

func copyLEB128(r *binary.Reader, buf *bytes.Buffer) error {
	for {
		b, err := r.ReadByte()
		if err != nil {
			return err
		}
		buf.WriteByte(b)
		if b&0x80 == 0 {
			break
		}
	}
	return nil
}

func copyBytes(r *binary.Reader, buf *bytes.Buffer, n int) error {
	data, err := r.ReadBytes(n)
	if err != nil {
		return err
	}
	buf.Write(data)
	return nil
}
