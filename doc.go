// Package wasmdbg provides an interactive debugger for WebAssembly MVP
// binaries.
//
// A module is decoded into a structured form, its code is prepared for
// instruction-level addressing, and a deterministic stack-machine
// interpreter executes it one instruction at a time under a debug
// controller that implements breakpoints, watchpoints, and stepping.
//
// # Architecture Overview
//
// The library is organized into several packages with distinct responsibilities:
//
//	wasmdbg/             Root package with the Value and CodePosition vocabulary
//	├── wasm/            WebAssembly MVP binary codec: decode, encode, validate
//	├── code/            Prepared functions: decoded instructions, resolved
//	│                    block/branch targets, disassembly
//	├── symtab/          Symbol resolution from name and export sections
//	├── engine/          Stack-machine interpreter: value stack, frames, labels,
//	│                    linear memory, tables, globals, traps
//	├── debugger/        Debug controller: breakpoints, watchpoints, stepping,
//	│                    inspection and mutation
//	├── errors/          Structured error types
//	└── cmd/wasmdbg/     Interactive command-line debugger
//
// # Quick Start
//
// Load a module, pause at a function, and inspect state:
//
//	dbg := debugger.New()
//	if err := dbg.Load(wasmBytes); err != nil {
//	    log.Fatal(err)
//	}
//
//	id, err := dbg.AddFuncBreakpoint(3)
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	stop, err := dbg.Run()
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Println(stop.Reason, stop.Pos) // breakpoint 3:0
//
//	locals, _ := dbg.Locals()
//	for i, v := range locals {
//	    fmt.Printf("local %d = %s\n", i, v)
//	}
//
// # Execution Model
//
// Execution is pure interpretation: no JIT, no AOT, no hidden look-ahead.
// Every control operation reduces to single steps, each advancing exactly
// one instruction, so a run is deterministic and reproducible given the
// same module and arguments. Positions are (function index, instruction
// index) pairs that stay stable for the life of a session, which is what
// makes breakpoint addresses and disassembly views reliable.
//
// The decoder is deliberately forgiving: it performs structural validation
// (well-formed encoding, in-range indices) but no type-checking of
// instruction sequences. A questionable binary loads and debugs up to the
// point where it actually misbehaves, which then surfaces as a typed trap
// at a precise position.
//
// # Values
//
// All stack slots, locals, and globals hold Value, a kind tag over the four
// MVP numeric types with the payload kept as raw bits. NaN payloads
// therefore survive moves and show up verbatim in inspection output.
//
// # Thread Safety
//
// A Debugger and the engine state it owns are single-threaded: all control
// and inspection calls must come from one goroutine. The only exception is
// Interrupt, which may be called from a signal handler or another goroutine
// to stop a running Continue at the next step boundary.
package wasmdbg
