package frontends

import (
	"strings"
	"testing"
)

func TestLowerSchemeSimpleArithmetic(t *testing.T) {
	lowered, err := lowerScheme("(+ 1 (* 2 3))")
	if err != nil {
		t.Fatalf("lowerScheme: %v", err)
	}
	if lowered.Text != "(1 + (2 * 3))" {
		t.Fatalf("unexpected lowering: %q", lowered.Text)
	}
}

func TestLowerSchemeDefineAndSet(t *testing.T) {
	lowered, err := lowerScheme("(define x 1)\n(set! x (+ x 1))\nx")
	if err != nil {
		t.Fatalf("lowerScheme: %v", err)
	}
	want := "let x = 1;\nx = (x + 1);\nx"
	if lowered.Text != want {
		t.Fatalf("got:\n%s\nwant:\n%s", lowered.Text, want)
	}
}

func TestLowerSchemeFunctionDefine(t *testing.T) {
	lowered, err := lowerScheme("(define (add_one n) (+ n 1))\n(add_one 41)")
	if err != nil {
		t.Fatalf("lowerScheme: %v", err)
	}
	if !strings.Contains(lowered.Text, "fn add_one(n) {") {
		t.Fatalf("expected function declaration, got:\n%s", lowered.Text)
	}
	if !strings.Contains(lowered.Text, "add_one(41)") {
		t.Fatalf("expected trailing call, got:\n%s", lowered.Text)
	}
}

func TestLowerSchemeRequirePrefixInVM(t *testing.T) {
	lowered, err := lowerScheme("(require (prefix-in vm. \"vm\"))\n(vm.add_one 41)")
	if err != nil {
		t.Fatalf("lowerScheme: %v", err)
	}
	want := "use vm::*;\nadd_one(41)"
	if lowered.Text != want {
		t.Fatalf("got:\n%s\nwant:\n%s", lowered.Text, want)
	}
}

func TestLowerSchemeImportOnly(t *testing.T) {
	lowered, err := lowerScheme("(import (only \"./strings.rss\" is_empty))\n(is_empty \"\")")
	if err != nil {
		t.Fatalf("lowerScheme: %v", err)
	}
	if !strings.Contains(lowered.Text, `use "./strings.rss"::{is_empty};`) {
		t.Fatalf("expected use-names line, got:\n%s", lowered.Text)
	}
	if !strings.Contains(lowered.Text, `is_empty("")`) {
		t.Fatalf("expected unqualified call, got:\n%s", lowered.Text)
	}
}

func TestLowerSchemeRequireOnlyIn(t *testing.T) {
	lowered, err := lowerScheme("(require (only-in \"./strings.rss\" non_empty))\n(non_empty \"x\")")
	if err != nil {
		t.Fatalf("lowerScheme: %v", err)
	}
	if !strings.Contains(lowered.Text, `use "./strings.rss"::{non_empty};`) {
		t.Fatalf("expected use-names line, got:\n%s", lowered.Text)
	}
}

func TestLowerSchemeDoLoop(t *testing.T) {
	src := "(do ((i 1 (+ i 1)) (p 3 (* 3 p))) ((> i 4) p))"
	lowered, err := lowerScheme(src)
	if err != nil {
		t.Fatalf("lowerScheme: %v", err)
	}
	for _, want := range []string{"let i = 1;", "let p = 3;", "while !((i > 4)) {", "i = (i + 1);", "p = (3 * p);", "}\np\n}"} {
		if !strings.Contains(lowered.Text, want) {
			t.Fatalf("expected %q in lowering:\n%s", want, lowered.Text)
		}
	}
}

func TestLowerSchemeIfElse(t *testing.T) {
	lowered, err := lowerScheme("(if (> 1 0) 1 0)")
	if err != nil {
		t.Fatalf("lowerScheme: %v", err)
	}
	if !strings.Contains(lowered.Text, "if (1 > 0) { 1 } else { 0 }") {
		t.Fatalf("unexpected lowering: %q", lowered.Text)
	}
}

func TestLowerSchemeLambda(t *testing.T) {
	lowered, err := lowerScheme("(define square (lambda (n) (* n n)))\n(square 4)")
	if err != nil {
		t.Fatalf("lowerScheme: %v", err)
	}
	if !strings.Contains(lowered.Text, "let square = |n| (n * n);") {
		t.Fatalf("unexpected lowering: %q", lowered.Text)
	}
}

func TestLowerSchemeBooleans(t *testing.T) {
	lowered, err := lowerScheme("(if #t 1 0)")
	if err != nil {
		t.Fatalf("lowerScheme: %v", err)
	}
	if !strings.Contains(lowered.Text, "if true {") {
		t.Fatalf("expected boolean literal rewrite, got: %q", lowered.Text)
	}
}

func TestLowerSchemeUnterminatedList(t *testing.T) {
	_, err := lowerScheme("(+ 1 2")
	if err == nil {
		t.Fatal("expected error for unterminated list")
	}
}
