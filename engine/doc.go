// Package engine executes WebAssembly MVP code one instruction at a time.
//
// The interpreter is a plain stack machine built for inspection rather
// than speed: every value slot, label, and activation record is a
// regular Go value that a debugger can read and rewrite between steps.
//
// # Architecture
//
// The package provides three main types:
//
//	State  - A live module instance: stacks, memory, table, globals
//	Frame  - One activation record with its locals and program counter
//	Trap   - A runtime fault with kind, position, and detail
//
// # Execution Flow
//
//  1. engine.New() instantiates a parsed module: imports resolve to host
//     stubs, globals evaluate their initializers, memory and table fill
//     from data and element segments
//  2. State.Invoke() type-checks arguments and pushes the entry frame
//  3. State.Step() executes exactly one instruction; callers loop, and a
//     debugger interleaves inspection between calls
//  4. Status() reports ready, finished, trapped, or halted; results of a
//     finished run stay on the value stack
//
// # Unvalidated Code
//
// Bodies are decoded and block-resolved but never validated, so code a
// validator would reject still runs until it does something impossible.
// Faults that validation normally rules out (operand kind mismatches,
// stack underflow, bad local or global indices) surface as ordinary
// traps at the faulting instruction, with the same position reporting
// as memory or arithmetic traps.
//
// # Value Representation
//
// Values carry a kind tag plus raw 64-bit patterns. Floats keep their
// exact IEEE-754 bits across every move, so NaN payloads survive loads,
// stores, locals, and const round trips. Arithmetic that produces a NaN
// produces the canonical quiet pattern (0x7FC00000 / 0x7FF800...0),
// keeping runs reproducible; abs, neg, and copysign are pure sign-bit
// operations and never touch payloads.
//
// # Limits
//
// Three configurable bounds keep hostile binaries from taking the
// process down: the value stack (default 1<<20 slots), the label stack
// (1<<16), and the call depth (1024). Locals count against the value
// stack at call time, so a tiny body declaring millions of locals traps
// with stack overflow instead of exhausting memory.
//
// # Thread Safety
//
// State is NOT safe for concurrent use. The debugger layer serializes
// access; anything else must do the same.
package engine
