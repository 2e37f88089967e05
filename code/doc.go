// Package code prepares a module's functions for instruction-level
// execution and display.
//
// Prepare decodes every defined function body into an addressable
// instruction sequence and resolves its structured control flow up front:
// each block, loop, and if knows where its else and end live, so branches
// execute by jumping to precomputed targets instead of re-scanning
// bytecode. Unbalanced nesting is caught here, naming the function and
// instruction, rather than surfacing as confusion at run time.
//
// Local declarations are kept as type runs with a prefix table instead of
// being flattened, so a function declaring an absurd number of locals
// still loads cheaply; the cost is paid when a frame is actually built.
//
// Disassemble renders a prepared function one line per instruction with
// symbol names resolved for call targets, globals, and named locals.
package code
