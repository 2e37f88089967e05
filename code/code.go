package code

import (
	"fmt"
	"math"
	"sort"

	"github.com/wippyai/wasmdbg/errors"
	"github.com/wippyai/wasmdbg/wasm"
)

// NoElse marks a block without an else arm.
const NoElse = ^uint32(0)

// Block resolves one structured construct. The map in Function keys these
// by the instruction index of the block, loop, or if; an if with an else
// additionally gets an entry at the else's own index (with End pointing at
// the construct's end) so falling out of a then-arm is a single jump.
type Block struct {
	// Else is the instruction index of the if's else arm, or NoElse.
	Else uint32
	// End is the instruction index of the matching end.
	End uint32
	// Arity is the number of result values the construct produces.
	Arity int
}

// Function is one defined function prepared for execution: decoded
// instructions, resolved control flow, and the local layout.
type Function struct {
	// Idx is the function's index in the module's function index space.
	Idx uint32
	// TypeIdx is the signature's index in the type section.
	TypeIdx uint32
	// Type is the function's signature.
	Type wasm.FuncType
	// Instrs is the decoded body in program order, including the trailing
	// end, so every function has at least one addressable instruction.
	Instrs []wasm.Instruction
	// Blocks maps block/loop/if/else instruction indices to their
	// resolution.
	Blocks map[uint32]Block

	numLocals uint32
	localRuns []localRun
}

// localRun is one declared-locals group, recorded as the cumulative local
// count through the group (params included).
type localRun struct {
	upto uint32
	typ  wasm.ValType
}

// NumParams returns the number of parameters.
func (f *Function) NumParams() uint32 {
	return uint32(len(f.Type.Params))
}

// NumLocals returns the frame's local count: parameters plus declared
// locals.
func (f *Function) NumLocals() uint32 {
	return f.numLocals
}

// LocalType returns the type of a local slot, params first. The second
// result is false for out-of-range indices.
func (f *Function) LocalType(idx uint32) (wasm.ValType, bool) {
	if idx < uint32(len(f.Type.Params)) {
		return f.Type.Params[idx], true
	}
	if idx >= f.numLocals {
		return 0, false
	}
	run := sort.Search(len(f.localRuns), func(i int) bool {
		return f.localRuns[i].upto > idx
	})
	return f.localRuns[run].typ, true
}

// Prepare decodes and resolves every defined function of a decoded,
// validated module. The result is indexed by the function index space:
// imported functions occupy nil slots since they have no body to prepare.
func Prepare(mod *wasm.Module) ([]*Function, error) {
	numImported := uint32(mod.NumImportedFuncs())
	funcs := make([]*Function, mod.NumFuncs())

	for i, typeIdx := range mod.Funcs {
		idx := numImported + uint32(i)
		fn, err := prepareFunc(mod, idx, typeIdx, mod.Code[i])
		if err != nil {
			return nil, err
		}
		funcs[idx] = fn
	}
	return funcs, nil
}

func prepareFunc(mod *wasm.Module, idx, typeIdx uint32, body wasm.FuncBody) (*Function, error) {
	fn := &Function{
		Idx:     idx,
		TypeIdx: typeIdx,
		Type:    mod.Types[typeIdx],
	}

	instrs, err := wasm.DecodeInstructions(body.Code)
	if err != nil {
		return nil, funcError(idx, err)
	}
	fn.Instrs = instrs

	if err := fn.resolveLocals(body.Locals); err != nil {
		return nil, err
	}
	if err := fn.resolveBlocks(); err != nil {
		return nil, err
	}
	return fn, nil
}

// funcError re-wraps a body decode error with the function's position,
// keeping the cause's phase and kind so rejection categories survive.
func funcError(idx uint32, cause error) error {
	phase, kind := errors.PhaseDecode, errors.KindInvalidData
	var derr *errors.Error
	if errors.As(cause, &derr) {
		phase, kind = derr.Phase, derr.Kind
	}
	return errors.New(phase, kind).
		Path("code", fmt.Sprintf("func[%d]", idx)).
		Cause(cause).
		Build()
}

func (f *Function) resolveLocals(locals []wasm.LocalEntry) error {
	total := uint64(len(f.Type.Params))
	for _, entry := range locals {
		total += uint64(entry.Count)
	}
	if total > math.MaxUint32 {
		return errors.New(errors.PhaseDecode, errors.KindOverflow).
			Path("code", fmt.Sprintf("func[%d]", f.Idx)).
			Detail("%d locals overflow the local index space", total).
			Build()
	}
	f.numLocals = uint32(total)

	f.localRuns = make([]localRun, 0, len(locals))
	upto := uint32(len(f.Type.Params))
	for _, entry := range locals {
		upto += entry.Count
		f.localRuns = append(f.localRuns, localRun{upto: upto, typ: entry.ValType})
	}
	return nil
}

// resolveBlocks matches every block, loop, and if to its else and end by a
// single scan with a stack of open constructs. The body's own trailing end
// closes the function and must be the last instruction.
func (f *Function) resolveBlocks() error {
	f.Blocks = make(map[uint32]Block)
	type open struct {
		head    uint32
		elseIdx uint32
		isIf    bool
		arity   int
	}
	var stack []open

	last := len(f.Instrs) - 1
	sawFuncEnd := false
	for i, ins := range f.Instrs {
		idx := uint32(i)
		switch ins.Opcode {
		case wasm.OpBlock, wasm.OpLoop, wasm.OpIf:
			imm := ins.Imm.(wasm.BlockImm)
			stack = append(stack, open{
				head:    idx,
				elseIdx: NoElse,
				isIf:    ins.Opcode == wasm.OpIf,
				arity:   imm.Arity(),
			})

		case wasm.OpElse:
			if len(stack) == 0 || !stack[len(stack)-1].isIf {
				return f.blockError(idx, "else without a matching if")
			}
			top := &stack[len(stack)-1]
			if top.elseIdx != NoElse {
				return f.blockError(idx, "second else in one if")
			}
			top.elseIdx = idx

		case wasm.OpEnd:
			if len(stack) == 0 {
				// Function-closing end. Anything after it is garbage the
				// structure cannot account for.
				if i != last {
					return f.blockError(idx, "end closes the function before the body is over")
				}
				sawFuncEnd = true
				continue
			}
			top := stack[len(stack)-1]
			stack = stack[:len(stack)-1]
			f.Blocks[top.head] = Block{Else: top.elseIdx, End: idx, Arity: top.arity}
			if top.elseIdx != NoElse {
				f.Blocks[top.elseIdx] = Block{Else: NoElse, End: idx, Arity: top.arity}
			}
		}
	}

	if len(stack) > 0 {
		return f.blockError(stack[len(stack)-1].head, "block is never closed")
	}
	if !sawFuncEnd {
		return f.blockError(uint32(len(f.Instrs)), "function body does not end with end")
	}
	return nil
}

func (f *Function) blockError(instr uint32, detail string) error {
	return errors.New(errors.PhaseDecode, errors.KindInvalidData).
		Path("code", fmt.Sprintf("func[%d]", f.Idx)).
		Detail("instruction %d: %s", instr, detail).
		Build()
}
