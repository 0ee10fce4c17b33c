// Package integration exercises the full source-to-stack pipeline across
// all four frontends, the kind of whole-pipeline check spec.md §8's
// "frontend equivalence" and "shift emission" testable properties describe.
// It has no non-test files of its own; it only wires compiler/frontends,
// compiler/parser, compiler/emitter, and vm together the way
// cmd/edgevm-run/loader.go does for a real source file.
package integration

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"edgevm/bytecode"
	"edgevm/compiler/emitter"
	"edgevm/compiler/frontends"
	"edgevm/compiler/parser"
	"edgevm/value"
	"edgevm/vm"
	"edgevm/wire"
)

func compile(t *testing.T, flavor frontends.Flavor, source string) *wire.Program {
	t.Helper()
	lowered, err := frontends.Lower(flavor, source)
	require.NoError(t, err)
	fir, err := parser.Parse(lowered.Text)
	require.NoError(t, err, "parsing lowered text:\n%s", lowered.Text)
	prog, err := emitter.EmitFrontend(fir, source)
	require.NoError(t, err)
	return prog
}

func runToStack(t *testing.T, prog *wire.Program) []value.Value {
	t.Helper()
	m := vm.New(prog)
	require.NoError(t, m.Run())
	require.True(t, m.Halted())
	return m.Stack()
}

// TestFrontendEquivalenceSimpleArithmetic mirrors spec.md §8's
// `example.{rss,js,lua,scm}` scenario: a trivial program in each dialect
// that adds three literals and runs to a final stack of [Int(6)].
func TestFrontendEquivalenceSimpleArithmetic(t *testing.T) {
	cases := []struct {
		name   string
		flavor frontends.Flavor
		source string
	}{
		{
			name:   "rustscript",
			flavor: frontends.RustScript,
			source: "let a = 1;\nlet b = 2;\nlet c = 3;\na + b + c",
		},
		{
			name:   "javascript",
			flavor: frontends.JavaScript,
			source: "let a = 1;\nlet b = 2;\nlet c = 3;\na + b + c",
		},
		{
			name:   "lua",
			flavor: frontends.Lua,
			source: "local a = 1\nlocal b = 2\nlocal c = 3\nreturn a + b + c",
		},
		{
			name:   "scheme",
			flavor: frontends.Scheme,
			source: "(define a 1)\n(define b 2)\n(define c 3)\n(+ a (+ b c))",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			prog := compile(t, tc.flavor, tc.source)
			stack := runToStack(t, prog)
			assert.Equal(t, []value.Value{value.Int(6)}, stack)
		})
	}
}

// TestFrontendEquivalenceLoop mirrors spec.md §8's "complex fixtures"
// scenario: a small counting loop in the RustScript, JavaScript and Lua
// dialects that halts at [Int(12)].
func TestFrontendEquivalenceLoop(t *testing.T) {
	cases := []struct {
		name   string
		flavor frontends.Flavor
		source string
	}{
		{
			name:   "rustscript",
			flavor: frontends.RustScript,
			source: "let sum = 0;\nlet i = 0;\nwhile i < 4 {\n  sum = sum + 3;\n  i = i + 1;\n}\nsum",
		},
		{
			name:   "javascript",
			flavor: frontends.JavaScript,
			source: "let sum = 0;\nlet i = 0;\nwhile i < 4 {\n  sum = sum + 3;\n  i = i + 1;\n}\nsum",
		},
		{
			name:   "lua",
			flavor: frontends.Lua,
			source: "local sum = 0\nlocal i = 0\nwhile i < 4 do\n  sum = sum + 3\n  i = i + 1\nend\nreturn sum",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			prog := compile(t, tc.flavor, tc.source)
			stack := runToStack(t, prog)
			assert.Equal(t, []value.Value{value.Int(12)}, stack)
		})
	}
}

// TestWhitespaceResilience checks spec.md §8's whitespace-resilience
// property: adding or removing inter-token whitespace must not change the
// resulting stack.
func TestWhitespaceResilience(t *testing.T) {
	tight := "let a=1;let b=2;let c=3;a+b+c"
	loose := "let   a   =   1  ;\n\nlet b = 2 ;\n  let c = 3;\n\n a  +  b  +  c"

	tightStack := runToStack(t, compile(t, frontends.RustScript, tight))
	looseStack := runToStack(t, compile(t, frontends.RustScript, loose))
	assert.Equal(t, tightStack, looseStack)
	assert.Equal(t, []value.Value{value.Int(6)}, tightStack)
}

// TestShiftEmission checks spec.md §8's "compiling x * 8 emits a Shl
// opcode in the byte stream" property end to end, from RustScript source
// through the emitter's strength-reduction pass.
func TestShiftEmission(t *testing.T) {
	prog := compile(t, frontends.RustScript, "let x = 3;\nx * 8")

	found := false
	for _, b := range prog.Code {
		if bytecode.OpCode(b) == bytecode.Shl {
			found = true
			break
		}
	}
	require.True(t, found, "expected a Shl opcode in emitted code: % x", prog.Code)

	stack := runToStack(t, prog)
	assert.Equal(t, []value.Value{value.Int(24)}, stack)
}
