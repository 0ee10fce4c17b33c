// Package ir defines the frontend-independent program representation every
// source dialect lowers into before bytecode emission. Array/map literals,
// indexing, and slicing have no dedicated Expr variants: they lower to Call
// expressions against the array_new/array_push/map_new/set/get/slice
// builtins, the same way the original compiler does it.
//
// Grounded on original_source/pd-vm/src/compiler/ir.rs.
package ir

// ClosureExpr is a closure literal: its parameter slots, the outer-local
// slots it captures by copying into fresh slots at closure-creation time, and
// its body.
type ClosureExpr struct {
	ParamSlots    []uint8
	CaptureCopies []CaptureCopy
	Body          Expr
}

// CaptureCopy copies the value currently in local slot From into local slot
// To when the closure is constructed.
type CaptureCopy struct {
	From, To uint8
}

// MatchPattern is one arm's pattern in a match expression: an integer
// literal, a string literal, or the wildcard (IsWild).
type MatchPattern struct {
	IsInt  bool
	Int    int64
	IsStr  bool
	Str    string
	IsWild bool
}

// MatchArm pairs a pattern with its result expression.
type MatchArm struct {
	Pattern MatchPattern
	Result  Expr
}

// Expr is the IR expression tree. Exactly one of the fields named after
// node kinds is populated per node, selected by Kind.
type Expr struct {
	Kind ExprKind

	// Null, Bool, IntVal, Str: literal payloads.
	Bool   bool
	IntVal int64
	Str    string

	// Call, ClosureCall
	CallIndex uint16
	Args      []Expr
	Closure   *ClosureExpr

	// Add, Sub, Mul, Div, Mod, And, Or, Eq, Lt, Gt, Shl, Shr: binary operands.
	Left, Right *Expr

	// Neg, Not: unary operand.
	Operand *Expr

	// Var
	Slot uint8

	// IfElse
	Condition, Then, Else *Expr

	// Match
	MatchValueSlot, MatchResultSlot uint8
	MatchValue                     *Expr
	Arms                            []MatchArm
	Default                         *Expr

	// Block
	Stmts     []Stmt
	BlockExpr *Expr
}

// ExprKind discriminates Expr's variant.
type ExprKind uint8

const (
	ExprNull ExprKind = iota
	ExprInt
	ExprBool
	ExprString
	ExprCall
	ExprClosure
	ExprClosureCall
	ExprAdd
	ExprSub
	ExprMul
	ExprDiv
	ExprMod
	ExprNeg
	ExprNot
	ExprAnd
	ExprOr
	ExprEq
	ExprLt
	ExprGt
	ExprVar
	ExprIfElse
	ExprMatch
	ExprBlock
	ExprShl
	ExprShr
)

func Null() Expr                  { return Expr{Kind: ExprNull} }
func Int(v int64) Expr            { return Expr{Kind: ExprInt, IntVal: v} }
func Bool(v bool) Expr            { return Expr{Kind: ExprBool, Bool: v} }
func String(v string) Expr        { return Expr{Kind: ExprString, Str: v} }
func Var(slot uint8) Expr         { return Expr{Kind: ExprVar, Slot: slot} }

func Call(index uint16, args []Expr) Expr {
	return Expr{Kind: ExprCall, CallIndex: index, Args: args}
}

func ClosureLit(c ClosureExpr) Expr {
	return Expr{Kind: ExprClosure, Closure: &c}
}

func ClosureCall(c ClosureExpr, args []Expr) Expr {
	return Expr{Kind: ExprClosureCall, Closure: &c, Args: args}
}

func binary(kind ExprKind, left, right Expr) Expr {
	return Expr{Kind: kind, Left: &left, Right: &right}
}

func Add(l, r Expr) Expr { return binary(ExprAdd, l, r) }
func Sub(l, r Expr) Expr { return binary(ExprSub, l, r) }
func Mul(l, r Expr) Expr { return binary(ExprMul, l, r) }
func Div(l, r Expr) Expr { return binary(ExprDiv, l, r) }
func Mod(l, r Expr) Expr { return binary(ExprMod, l, r) }
func And(l, r Expr) Expr { return binary(ExprAnd, l, r) }
func Or(l, r Expr) Expr  { return binary(ExprOr, l, r) }
func Eq(l, r Expr) Expr  { return binary(ExprEq, l, r) }
func Lt(l, r Expr) Expr  { return binary(ExprLt, l, r) }
func Gt(l, r Expr) Expr  { return binary(ExprGt, l, r) }
func Shl(l, r Expr) Expr { return binary(ExprShl, l, r) }
func Shr(l, r Expr) Expr { return binary(ExprShr, l, r) }

func Neg(operand Expr) Expr { return Expr{Kind: ExprNeg, Operand: &operand} }
func Not(operand Expr) Expr { return Expr{Kind: ExprNot, Operand: &operand} }

func IfElse(condition, then, els Expr) Expr {
	return Expr{Kind: ExprIfElse, Condition: &condition, Then: &then, Else: &els}
}

func Match(valueSlot, resultSlot uint8, value Expr, arms []MatchArm, def Expr) Expr {
	return Expr{
		Kind:            ExprMatch,
		MatchValueSlot:  valueSlot,
		MatchResultSlot: resultSlot,
		MatchValue:      &value,
		Arms:            arms,
		Default:         &def,
	}
}

func Block(stmts []Stmt, expr Expr) Expr {
	return Expr{Kind: ExprBlock, Stmts: stmts, BlockExpr: &expr}
}

// IsNullLiteral reports whether e is the bare `null` literal, used by the
// parser to decide whether a block's trailing expression is worth keeping
// as a statement when its value is discarded.
func (e Expr) IsNullLiteral() bool { return e.Kind == ExprNull }

// StmtKind discriminates Stmt's variant.
type StmtKind uint8

const (
	StmtNoop StmtKind = iota
	StmtLet
	StmtAssign
	StmtClosureLet
	StmtFuncDecl
	StmtExpr
	StmtIfElse
	StmtFor
	StmtWhile
	StmtBreak
	StmtContinue
)

// Stmt is the IR statement tree.
type Stmt struct {
	Kind StmtKind
	Line uint32

	// Let, Assign
	Index uint8
	Expr  *Expr

	// ClosureLet
	Closure *ClosureExpr

	// FuncDecl
	Name     string
	Arity    uint8
	FuncArgs []string
	Exported bool

	// IfElse, For, While
	Condition               *Expr
	ThenBranch, ElseBranch  []Stmt
	Body                    []Stmt

	// For
	Init *Stmt
	Post *Stmt
}

func Noop(line uint32) Stmt { return Stmt{Kind: StmtNoop, Line: line} }

func Let(index uint8, expr Expr, line uint32) Stmt {
	return Stmt{Kind: StmtLet, Index: index, Expr: &expr, Line: line}
}

func Assign(index uint8, expr Expr, line uint32) Stmt {
	return Stmt{Kind: StmtAssign, Index: index, Expr: &expr, Line: line}
}

func ClosureLet(closure ClosureExpr, line uint32) Stmt {
	return Stmt{Kind: StmtClosureLet, Closure: &closure, Line: line}
}

func FuncDecl(name string, arity uint8, args []string, exported bool, line uint32) Stmt {
	return Stmt{Kind: StmtFuncDecl, Name: name, Arity: arity, FuncArgs: args, Exported: exported, Line: line}
}

func ExprStmt(expr Expr, line uint32) Stmt {
	return Stmt{Kind: StmtExpr, Expr: &expr, Line: line}
}

func IfElseStmt(condition Expr, thenBranch, elseBranch []Stmt, line uint32) Stmt {
	return Stmt{Kind: StmtIfElse, Condition: &condition, ThenBranch: thenBranch, ElseBranch: elseBranch, Line: line}
}

func ForStmt(init Stmt, condition Expr, post Stmt, body []Stmt, line uint32) Stmt {
	return Stmt{Kind: StmtFor, Init: &init, Condition: &condition, Post: &post, Body: body, Line: line}
}

func WhileStmt(condition Expr, body []Stmt, line uint32) Stmt {
	return Stmt{Kind: StmtWhile, Condition: &condition, Body: body, Line: line}
}

func BreakStmt(line uint32) Stmt    { return Stmt{Kind: StmtBreak, Line: line} }
func ContinueStmt(line uint32) Stmt { return Stmt{Kind: StmtContinue, Line: line} }

// FunctionDecl records one function's name, arity, assigned call index, and
// parameter names, for cross-module import resolution.
type FunctionDecl struct {
	Name     string
	Arity    uint8
	Index    uint16
	Args     []string
	Exported bool
}

// FunctionImpl is a function's compiled body: its parameter local slots and
// its statement/expression body.
type FunctionImpl struct {
	ParamSlots []uint8
	BodyStmts  []Stmt
	BodyExpr   Expr
}

// LocalBinding names one local slot assigned during parsing.
type LocalBinding struct {
	Name  string
	Index uint8
}

// FrontendIR is one source file's lowered-and-parsed representation, before
// cross-module linking resolves its imports. HostImports is the list of
// distinct call-by-name sites the parser could not resolve to a local
// function or a builtin; their call indices are their position in this
// slice (0..len-1), matching bytecode.HostImport's declaration-order
// indexing.
type FrontendIR struct {
	Stmts         []Stmt
	Tail          Expr
	Locals        int
	LocalBindings []LocalBinding
	Functions     []FunctionDecl
	FunctionImpls map[uint16]FunctionImpl
	HostImports   []HostImportRef
}

// HostImportRef names one host-provided callable referenced by the parsed
// source, in first-reference order.
type HostImportRef struct {
	Name  string
	Arity uint8
}

// LinkedIR is a FrontendIR after module linking has resolved its `use`
// imports, paired with the original source text for diagnostics.
type LinkedIR struct {
	Source        string
	Stmts         []Stmt
	Tail          Expr
	Locals        int
	LocalBindings []LocalBinding
	Functions     []FunctionDecl
	FunctionImpls map[uint16]FunctionImpl
	HostImports   []HostImportRef
}
