package wasmdbg

import "fmt"

// CodePosition addresses one instruction: a function index in the module's
// function index space plus the instruction's index within that function's
// decoded body. Instruction indices are assigned at decode time and never
// shift during a session, so positions serve as the program counter,
// breakpoint addresses, and stop reports alike.
//
// The zero position (function 0, instruction 0) is a valid address;
// callers that need "no position" track that separately.
type CodePosition struct {
	Func  uint32
	Instr uint32
}

// String renders the position as "func:instr", the same form the
// disassembly prints in its address column.
func (p CodePosition) String() string {
	return fmt.Sprintf("%d:%d", p.Func, p.Instr)
}
