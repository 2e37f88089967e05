// Package debugger drives interactive execution: it owns an engine state
// and layers breakpoints, watchpoints, and the run/step/next/finish
// control surface over single-stepping.
//
// # Session Model
//
// A Debugger holds one loaded module and at most one live run:
//
//	Load        decode + prepare + symbols + an idle instantiated state
//	Run/Call    seed an entry and run to the next stop
//	Start       seed an entry and pause before its first instruction
//	Continue    resume a paused run
//	Step/Next   advance by instructions, over calls for Next
//	Finish      run until the current frame returns
//	Reset       fresh idle state, same module
//
// The session status is idle, paused, or one of three terminal states
// (trapped, halted, finished). Control calls are synchronous: each returns
// a Stop naming the reason and position. From idle, a run reuses the
// current state, so mutations made before Run carry into it; from a
// terminal status a fresh state is instantiated first.
//
// # Stop Rules
//
// After every step the controller checks, in order: terminal engine
// status, enabled breakpoints at the new position, enabled watchpoints
// whose observed value changed. Watchpoints are change detectors, not
// write traps: a value rewritten to its old bits between two checks does
// not fire. A fresh run checks breakpoints once at the entry position
// before stepping, so a breakpoint on the entry function fires with
// nothing executed.
//
// # Inspection and Mutation
//
// Reads (locals, globals, memory, value stack, backtrace, labels) work in
// any status with an instantiated state, including trapped: examining the
// wreckage is the point. Writes require idle or paused and go through the
// same kind checks the interpreter applies, so a mutation cannot corrupt
// a slot's type invariants; value-stack slots are the one untyped
// exception.
//
// # Interrupting
//
// Interrupt sets an atomic flag checked between steps and is the only
// method safe to call from another goroutine. Everything else, one
// goroutine at a time.
package debugger
