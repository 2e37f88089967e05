// Package wasm parses and encodes WebAssembly MVP binary modules.
//
// The package targets the original WebAssembly release (binary format
// version 1) exactly: the four numeric value types, functions, a single
// table of funcref, a single linear memory, globals, and structured
// control flow. Anything introduced by a later proposal is rejected at
// decode time with an error naming the proposal, so a user knows
// whether a binary failed because it is corrupt or merely newer than
// the MVP:
//
//	module, err := wasm.ParseModule(data)
//	// err: "unsupported: bulk memory operations"
//
// # Parsing
//
// Parse a module from its binary encoding:
//
//	data, _ := os.ReadFile("module.wasm")
//	module, err := wasm.ParseModule(data)
//	if err != nil {
//	    log.Fatal(err)
//	}
//
// Decoding is deliberately forgiving about everything the binary format
// itself does not pin down. Sections may appear in any order, and no
// type-checking of instruction sequences happens up front; a module
// that decodes cleanly can still trap at run time. The point is to let
// questionable binaries load so their failure can be observed at the
// exact instruction, rather than refusing them outright. What is
// checked: the encoding is well-formed, names are valid UTF-8, declared
// sizes match consumed bytes, and every index lands inside its index
// space. Errors report the byte offset and the rule violated.
//
// # Encoding
//
// Encode a module back to binary:
//
//	encoded := module.Encode()
//
// A decode-encode round trip preserves semantics, including NaN bit
// patterns: float immediates are carried as raw IEEE-754 bits and never
// pass through a Go float. A parsed name section is re-encoded from the
// symbol maps; unrecognized custom sections are emitted verbatim.
//
// # Instructions
//
// Function bodies are kept as raw bytecode in the module and decoded on
// demand:
//
//	instrs, err := wasm.DecodeInstructions(body.Code)
//	for _, ins := range instrs {
//	    fmt.Println(ins.Name())
//	}
//
// Each Instruction pairs an opcode with its typed immediate, so callers
// switch on the opcode and assert the immediate type they expect.
//
// # Names
//
// The "name" custom section supplies debug names for the module, its
// functions, and their locals. A well-formed name section is parsed
// into module.Names; a malformed one is kept as an opaque custom
// section so a broken toolchain cannot stop a module from loading.
package wasm
