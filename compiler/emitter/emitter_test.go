package emitter

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"edgevm/bytecode"
	"edgevm/compiler/parser"
	"edgevm/wire"
)

func compileRustScript(t *testing.T, source string) *wire.Program {
	t.Helper()
	fir, err := parser.Parse(source)
	require.NoError(t, err)
	prog, err := EmitFrontend(fir, source)
	require.NoError(t, err)
	return prog
}

func countOp(code []byte, op bytecode.OpCode) int {
	n := 0
	for _, b := range code {
		if bytecode.OpCode(b) == op {
			n++
		}
	}
	return n
}

// TestConstantFoldingArithmetic checks spec.md §4.3's "constant folding of
// literal arithmetic" optimisation: `2 + 3` with no variables involved
// should fold to a single pushed constant rather than an Add at runtime.
func TestConstantFoldingArithmetic(t *testing.T) {
	prog := compileRustScript(t, "2 + 3")
	assert.Equal(t, 0, countOp(prog.Code, bytecode.Add), "expected Add to be folded away, code: % x", prog.Code)
}

// TestDeadBranchPruningTrue checks spec.md §4.3's dead-branch pruning: an
// `if true { ... } else { ... }` whose condition is a literal Bool should
// not emit a Brfalse guard at all.
func TestDeadBranchPruningTrue(t *testing.T) {
	prog := compileRustScript(t, "if true { 1 } else { 2 }")
	assert.Equal(t, 0, countOp(prog.Code, bytecode.Brfalse), "expected no Brfalse for a literal-true condition, code: % x", prog.Code)
}

func TestDeadBranchPruningFalse(t *testing.T) {
	prog := compileRustScript(t, "if false { 1 } else { 2 }")
	assert.Equal(t, 0, countOp(prog.Code, bytecode.Brfalse), "expected no Brfalse for a literal-false condition, code: % x", prog.Code)
}

// TestShiftStrengthReduction checks spec.md §4.3's `x * 2^k` -> `x shl k`
// rule directly against the emitted code, independent of the frontend.
func TestShiftStrengthReduction(t *testing.T) {
	prog := compileRustScript(t, "let x = 5;\nx * 4")
	assert.Equal(t, 1, countOp(prog.Code, bytecode.Shl))
	assert.Equal(t, 0, countOp(prog.Code, bytecode.Mul))
}

// TestNonPowerOfTwoMultiplyUnchanged checks that a non-power-of-two RHS
// falls back to a plain Mul instead of being misidentified as a shift.
func TestNonPowerOfTwoMultiplyUnchanged(t *testing.T) {
	prog := compileRustScript(t, "let x = 5;\nx * 3")
	assert.Equal(t, 1, countOp(prog.Code, bytecode.Mul))
	assert.Equal(t, 0, countOp(prog.Code, bytecode.Shl))
}
