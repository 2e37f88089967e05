package engine

import (
	"fmt"

	"github.com/wippyai/wasmdbg"
)

// TrapKind classifies runtime faults. Bodies are not type-checked before
// execution, so validation-class faults (operand kind mismatches, bad
// local or global indices, immutable-global writes) surface here instead
// of at load time.
type TrapKind int

const (
	TrapUnreachable TrapKind = iota
	TrapStackOverflow
	TrapStackUnderflow
	TrapLabelUnderflow
	TrapOutOfBoundsMemory
	TrapOutOfBoundsTable
	TrapOutOfBoundsLocal
	TrapOutOfBoundsGlobal
	TrapImmutableGlobal
	TrapSignatureMismatch
	TrapDivisionByZero
	TrapIntegerOverflow
	TrapInvalidConversion
	TrapCallStackExhausted
	TrapUninitializedElement
	TrapUnsupported
	TrapUnsupportedImport
	TrapHost
)

func (k TrapKind) String() string {
	switch k {
	case TrapUnreachable:
		return "unreachable"
	case TrapStackOverflow:
		return "stack overflow"
	case TrapStackUnderflow:
		return "stack underflow"
	case TrapLabelUnderflow:
		return "label underflow"
	case TrapOutOfBoundsMemory:
		return "out of bounds memory access"
	case TrapOutOfBoundsTable:
		return "out of bounds table access"
	case TrapOutOfBoundsLocal:
		return "out of bounds local access"
	case TrapOutOfBoundsGlobal:
		return "out of bounds global access"
	case TrapImmutableGlobal:
		return "immutable global write"
	case TrapSignatureMismatch:
		return "signature mismatch"
	case TrapDivisionByZero:
		return "integer division by zero"
	case TrapIntegerOverflow:
		return "integer overflow"
	case TrapInvalidConversion:
		return "invalid conversion to integer"
	case TrapCallStackExhausted:
		return "call stack exhausted"
	case TrapUninitializedElement:
		return "uninitialized table element"
	case TrapUnsupported:
		return "unsupported feature"
	case TrapUnsupportedImport:
		return "unsupported import"
	case TrapHost:
		return "host function error"
	default:
		return "trap"
	}
}

// Trap is a terminal runtime fault. It halts the current run, not the
// process: the state stays inspectable and the module may be reset.
type Trap struct {
	Cause  error
	Detail string
	Pos    wasmdbg.CodePosition
	Kind   TrapKind
}

func (t *Trap) Error() string {
	msg := fmt.Sprintf("trap: %s at %s", t.Kind, t.Pos)
	if t.Detail != "" {
		msg += ": " + t.Detail
	}
	if t.Cause != nil {
		msg += " (" + t.Cause.Error() + ")"
	}
	return msg
}

func (t *Trap) Unwrap() error {
	return t.Cause
}
