package parser

import (
	"testing"

	"edgevm/builtins"
	"edgevm/compiler/ir"
)

func TestParseLetAndArithmeticTail(t *testing.T) {
	f, err := Parse("let x = 1 + 2; x * 3")
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if len(f.Stmts) != 1 || f.Stmts[0].Kind != ir.StmtLet {
		t.Fatalf("expected one let statement, got %+v", f.Stmts)
	}
	if f.Tail.Kind != ir.ExprMul {
		t.Fatalf("expected tail to be a multiplication, got kind %v", f.Tail.Kind)
	}
}

func TestParseHostImportSequentialIndices(t *testing.T) {
	f, err := Parse("log(1); log(2); send(3, 4)")
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if len(f.HostImports) != 2 {
		t.Fatalf("expected 2 distinct host imports, got %d: %+v", len(f.HostImports), f.HostImports)
	}
	if f.HostImports[0].Name != "log" || f.HostImports[0].Arity != 1 {
		t.Fatalf("unexpected first import: %+v", f.HostImports[0])
	}
	if f.HostImports[1].Name != "send" || f.HostImports[1].Arity != 2 {
		t.Fatalf("unexpected second import: %+v", f.HostImports[1])
	}
	if f.Stmts[0].Expr.CallIndex != 0 || f.Stmts[1].Expr.CallIndex != 0 {
		t.Fatalf("both log() calls should resolve to import index 0")
	}
}

func TestParseRecursiveFunction(t *testing.T) {
	src := `
fn fib(n) {
	if n < 2 { n } else { fib(n - 1) + fib(n - 2) }
}
fib(10)
`
	f, err := Parse(src)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if len(f.Functions) != 1 || f.Functions[0].Name != "fib" || f.Functions[0].Arity != 1 {
		t.Fatalf("unexpected functions: %+v", f.Functions)
	}
	impl, ok := f.FunctionImpls[f.Functions[0].Index]
	if !ok {
		t.Fatalf("missing function impl for fib")
	}
	if impl.BodyExpr.Kind != ir.ExprIfElse {
		t.Fatalf("expected fib body tail to be an if/else expression, got %v", impl.BodyExpr.Kind)
	}
	if f.Tail.Kind != ir.ExprCall || f.Tail.CallIndex != f.Functions[0].Index {
		t.Fatalf("expected top-level tail to call fib, got %+v", f.Tail)
	}
}

func TestParseArrayLiteralDesugarsToBuiltinCalls(t *testing.T) {
	f, err := Parse("[1, 2, 3]")
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if f.Tail.Kind != ir.ExprBlock {
		t.Fatalf("expected array literal to desugar to a block, got %v", f.Tail.Kind)
	}
	if len(f.Tail.Stmts) != 4 {
		t.Fatalf("expected array_new + 3 pushes, got %d stmts", len(f.Tail.Stmts))
	}
	if f.Tail.Stmts[0].Expr.CallIndex != builtins.ArrayNew.CallIndex() {
		t.Fatalf("first stmt should call array_new")
	}
	for i := 1; i < 4; i++ {
		if f.Tail.Stmts[i].Expr.CallIndex != builtins.ArrayPush.CallIndex() {
			t.Fatalf("stmt %d should call array_push", i)
		}
	}
}

func TestParseMapLiteral(t *testing.T) {
	f, err := Parse(`{"a": 1, b: 2}`)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if f.Tail.Kind != ir.ExprBlock || len(f.Tail.Stmts) != 3 {
		t.Fatalf("expected map_new + 2 sets, got %+v", f.Tail)
	}
	if f.Tail.Stmts[0].Expr.CallIndex != builtins.MapNew.CallIndex() {
		t.Fatalf("first stmt should call map_new")
	}
}

func TestParseIndexAndSlice(t *testing.T) {
	f, err := Parse("let a = [1,2,3]; a[0]; a[1:2]; a[:2]; a[1:]")
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if len(f.Stmts) != 4 {
		t.Fatalf("expected 4 statements, got %d", len(f.Stmts))
	}
	if f.Stmts[1].Expr.CallIndex != builtins.Get.CallIndex() {
		t.Fatalf("a[0] should call get")
	}
	for _, i := range []int{2, 3} {
		if f.Stmts[i].Expr.CallIndex != builtins.Slice.CallIndex() {
			t.Fatalf("stmt %d should call slice", i)
		}
	}
}

func TestParseClosureCaptureByCopy(t *testing.T) {
	f, err := Parse(`
let n = 10;
let add_n = |x| x + n;
add_n(5)
`)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if f.Tail.Kind != ir.ExprClosureCall {
		t.Fatalf("expected tail to be a closure call, got %v", f.Tail.Kind)
	}
	if len(f.Tail.Closure.CaptureCopies) != 1 {
		t.Fatalf("expected exactly one capture copy, got %+v", f.Tail.Closure.CaptureCopies)
	}
}

func TestParseMatchRequiresWildcard(t *testing.T) {
	_, err := Parse(`match 1 { 1 => "one" }`)
	if err == nil {
		t.Fatalf("expected error for match without wildcard arm")
	}
}

func TestParseMatchWithWildcard(t *testing.T) {
	f, err := Parse(`match 1 { 1 => "one", 2 => "two", _ => "other" }`)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if f.Tail.Kind != ir.ExprMatch {
		t.Fatalf("expected tail to be a match expression, got %v", f.Tail.Kind)
	}
	if len(f.Tail.Arms) != 2 {
		t.Fatalf("expected 2 non-wildcard arms, got %d", len(f.Tail.Arms))
	}
}

func TestParseForWhileBreakContinue(t *testing.T) {
	src := `
let total = 0;
for (let i = 0; i < 10; i = i + 1) {
	if i == 5 { continue; } else { null }
	total = total + i;
}
while total > 100 {
	break;
}
total
`
	f, err := Parse(src)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if f.Tail.Kind != ir.ExprVar {
		t.Fatalf("expected final tail to be the total variable, got %v", f.Tail.Kind)
	}
}

func TestParseUndefinedVariableIsError(t *testing.T) {
	_, err := Parse("x + 1")
	if err == nil {
		t.Fatalf("expected undefined variable error")
	}
}

func TestParseAssertSpecialFormBelowBuiltinBase(t *testing.T) {
	f, err := Parse(`assert(1 == 1)`)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if f.Tail.CallIndex != builtins.Assert.CallIndex() {
		t.Fatalf("expected assert call, got index %#x", f.Tail.CallIndex)
	}
}
