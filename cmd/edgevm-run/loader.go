package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"edgevm/compiler/diagnostics"
	"edgevm/compiler/emitter"
	"edgevm/compiler/module"
	"edgevm/internal/rtlog"
	"edgevm/wire"
)

var sourceExtensions = map[string]bool{
	".rss": true,
	".js":  true,
	".lua": true,
	".scm": true,
}

// loadProgram turns a CLI-supplied path into a validated wire.Program: a
// recognized source-dialect extension is compiled through the module
// resolver and emitter, anything else is read as a pre-compiled wire-format
// binary and decoded. Either way the result passes wire.Validate before a
// VM ever sees it — spec.md §9: "validation before execution is mandatory
// for any program decoded from an untrusted source".
func loadProgram(path string) (*wire.Program, error) {
	if sourceExtensions[filepath.Ext(path)] {
		return compileSource(path)
	}
	return decodeBinary(path)
}

func compileSource(path string) (*wire.Program, error) {
	resolver := module.NewResolver(64)
	lir, err := resolver.Load(path)
	if err != nil {
		renderDiagnostic(path, err)
		return nil, fmt.Errorf("compile %s: %w", path, err)
	}
	prog, err := emitter.Emit(lir)
	if err != nil {
		return nil, fmt.Errorf("emit %s: %w", path, err)
	}
	if err := wire.Validate(prog, prog.FunctionArities()); err != nil {
		return nil, fmt.Errorf("validate %s: %w", path, err)
	}
	return prog, nil
}

// renderDiagnostic logs a rustc-style source snippet through rtlog when err
// wraps a *diagnostics.ParseError, the same rendering compiler/diagnostics
// exists to produce; any other compile error is left to its plain %w
// wrapping, since a module-resolution error (missing file, import cycle)
// has no single source line to underline.
func renderDiagnostic(path string, err error) {
	var pe *diagnostics.ParseError
	if !errors.As(err, &pe) {
		return
	}
	src, readErr := os.ReadFile(path)
	if readErr != nil {
		return
	}
	rtlog.Error("%s", diagnostics.RenderSourceError(path, string(src), pe))
}

func decodeBinary(path string) (*wire.Program, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	prog, err := wire.Decode(data)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	if err := wire.Validate(prog, prog.FunctionArities()); err != nil {
		return nil, fmt.Errorf("validate %s: %w", path, err)
	}
	return prog, nil
}
