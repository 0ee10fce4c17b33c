package main

import (
	"fmt"

	"edgevm/value"
	"edgevm/vm"
	"edgevm/wire"
)

// bindHostImports registers a stub HostFunction for every import prog
// declares, grounded on original_source/pd-vm/src/main.rs's
// register_functions: a small set of named bindings for the functions the
// reference example programs actually call, plus no-op stubs for the
// upstream-mutation family. A program importing anything else fails fast
// with a clear message, mirroring that function's "no host binding for
// function %q" error rather than silently leaving an import unbound (the
// VM itself already refuses to run with an unbound import, see vm/exec.go's
// unbound() check — this just gives an earlier, more specific diagnosis).
func bindHostImports(m *vm.VM, prog *wire.Program) error {
	for _, imp := range prog.Imports {
		fn, ok := stubHostFunctions[imp.Name]
		if !ok {
			return fmt.Errorf("no host binding for function %q (edgevm-run has no edge/proxy host context)", imp.Name)
		}
		if err := m.BindFunction(imp.Name, fn); err != nil {
			return err
		}
	}
	return nil
}

var noopHost = vm.HostFunc(func(_ *vm.VM, _ []value.Value) vm.CallOutcome { return vm.Return() })

var stubHostFunctions = map[string]vm.HostFunction{
	"print": vm.HostFunc(func(_ *vm.VM, args []value.Value) vm.CallOutcome {
		for _, a := range args {
			fmt.Print(a.String())
		}
		fmt.Println()
		return vm.Return()
	}),
	"add_one": vm.HostFunc(func(_ *vm.VM, args []value.Value) vm.CallOutcome {
		if len(args) != 1 || args[0].Kind != value.KindInt {
			return vm.Return(value.Int(0))
		}
		return vm.Return(value.Int(args[0].I + 1))
	}),
	"echo": vm.HostFunc(func(_ *vm.VM, args []value.Value) vm.CallOutcome {
		return vm.Return(args...)
	}),
	"get_header": vm.HostFunc(func(_ *vm.VM, _ []value.Value) vm.CallOutcome {
		return vm.Return(value.String(""))
	}),
	"rate_limit_allow": vm.HostFunc(func(_ *vm.VM, _ []value.Value) vm.CallOutcome {
		return vm.Return(value.Bool(true))
	}),
	"set_header":           noopHost,
	"set_response_content": noopHost,
	"set_upstream":         noopHost,
}
