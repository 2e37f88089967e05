package engine

import (
	"fmt"

	"github.com/wippyai/wasmdbg"
)

// HostFunc backs one imported function. Arguments arrive in declaration
// order; the returned values must match the import's declared results.
// Returning an error traps the run, except ProcExit which halts it.
type HostFunc func(args []wasmdbg.Value) ([]wasmdbg.Value, error)

// ProcExit is the error a host function returns to end the run the way
// WASI's proc_exit does: the state becomes halted, carrying Code, and no
// further instructions execute.
type ProcExit struct {
	Code uint32
}

func (e ProcExit) Error() string {
	return fmt.Sprintf("proc_exit(%d)", e.Code)
}

// hostStub pairs a resolved import with its display name.
type hostStub struct {
	fn   HostFunc // nil means unresolved: trap when called
	name string   // "module.name"
}

// wasiModules are the module names the built-in registry recognizes.
// wasi_unstable is the pre-snapshot name old toolchains emitted.
var wasiModules = map[string]bool{
	"wasi_snapshot_preview1": true,
	"wasi_unstable":          true,
}

// builtinHost resolves the imports the engine supports out of the box.
// proc_exit is the only one: it halts with the supplied exit code. Every
// other import stays unresolved and traps at its first call, so modules
// importing exotic hosts still load and run up to the offending call.
func builtinHost(module, name string) HostFunc {
	if !wasiModules[module] || name != "proc_exit" {
		return nil
	}
	return func(args []wasmdbg.Value) ([]wasmdbg.Value, error) {
		var code uint32
		if len(args) > 0 {
			code = args[0].U32()
		}
		return nil, ProcExit{Code: code}
	}
}
