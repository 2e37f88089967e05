// Package errors provides structured error types for the wasmdbg library.
//
// Errors are categorized by Phase (where the error occurred) and Kind (error
// category). The Error type includes rich context: a field path, a detail
// message, and a cause chain.
//
// Use the Builder for structured error construction:
//
//	err := errors.New(errors.PhaseDecode, errors.KindInvalidData).
//		Path("code", "func[3]").
//		Detail("truncated function body").
//		Build()
//
// Or use convenience constructors for common patterns:
//
//	err := errors.NotFound(errors.PhaseResolve, "function", "fib")
//	err := errors.Immutable("global[0]")
//
// All errors implement the standard error interface and support errors.Is/As.
// Is matches on Phase and Kind, so callers can classify failures without
// string inspection.
package errors
