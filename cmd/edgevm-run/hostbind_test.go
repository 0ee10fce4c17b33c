package main

import (
	"testing"

	"edgevm/bytecode"
	"edgevm/vm"
	"edgevm/wire"
)

func programWithImports(names ...string) *wire.Program {
	imps := make([]bytecode.HostImport, len(names))
	for i, n := range names {
		imps[i] = bytecode.HostImport{Name: n, Arity: 0}
	}
	return &wire.Program{Imports: imps, Code: []byte{byte(bytecode.Ret)}}
}

func TestBindHostImportsBindsKnownStubs(t *testing.T) {
	prog := programWithImports("print", "add_one", "echo", "get_header", "rate_limit_allow", "set_header", "set_response_content", "set_upstream")
	m := vm.New(prog)
	if err := bindHostImports(m, prog); err != nil {
		t.Fatalf("bindHostImports: %v", err)
	}
}

func TestBindHostImportsRejectsUnknownImport(t *testing.T) {
	prog := programWithImports("frobnicate")
	m := vm.New(prog)
	err := bindHostImports(m, prog)
	if err == nil {
		t.Fatal("expected error for unknown host import")
	}
}

func TestStubHostFunctionsCoverAllRegisterFunctionsNames(t *testing.T) {
	want := []string{"print", "add_one", "echo", "get_header", "rate_limit_allow", "set_header", "set_response_content", "set_upstream"}
	for _, name := range want {
		if _, ok := stubHostFunctions[name]; !ok {
			t.Errorf("stubHostFunctions missing %q", name)
		}
	}
}
