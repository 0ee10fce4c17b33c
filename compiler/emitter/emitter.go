// Package emitter lowers a parsed compiler/ir.FrontendIR (or a
// compiler/module-linked ir.LinkedIR) into a wire.Program: bytecode, a
// deduplicated constant pool, the host-import declarations the parser
// collected, per-function entry offsets, and optional debug info.
//
// Optimisations performed here, per spec.md §4.3:
//   - constant folding of literal arithmetic/comparison/logical expressions
//   - strength reduction of `x * 2^k` (literal power-of-two RHS) into `x shl k`
//   - dead-branch pruning of `if` whose condition is a literal Bool
//
// Grounded on spec.md §4.3 for the optimisation list and on the teacher's
// gvm/compile.go for the single-pass emit-with-backpatch idiom (a byte
// buffer plus a list of pending branch-offset patches resolved once the
// target's final offset is known).
package emitter

import (
	"encoding/binary"
	"fmt"

	"edgevm/bytecode"
	"edgevm/compiler/ir"
	"edgevm/debuginfo"
	"edgevm/value"
	"edgevm/wire"
)

// CompileError reports an emitter-internal invariant failure (an IR shape
// the parser should never have produced).
type CompileError struct {
	Line    uint32
	Message string
}

func (e *CompileError) Error() string {
	return fmt.Sprintf("compile error at line %d: %s", e.Line, e.Message)
}

type emitter struct {
	code       []byte
	consts     []value.Value
	constIndex map[string]uint32
	debug      *debuginfo.Builder
	funcImpls  map[uint16]ir.FunctionImpl

	// break/continue targets for the innermost loop, each a stack of pending
	// forward-branch patch offsets: break resolves to just past the loop,
	// continue resolves to the loop's re-test point (the header for while,
	// the post-statement for for — which isn't emitted yet when a continue
	// inside the body is compiled, hence the pending-patch-list approach
	// rather than a known offset).
	breakPatches    [][]int
	continuePatches [][]int
}

// Emit compiles a fully linked IR (post compiler/module resolution) into a
// wire.Program ready for wire.Encode or direct VM loading.
func Emit(lir *ir.LinkedIR) (*wire.Program, error) {
	e := &emitter{
		constIndex: map[string]uint32{},
		debug:      debuginfo.NewBuilder(),
		funcImpls:  lir.FunctionImpls,
	}
	if lir.Source != "" {
		e.debug.SetSource(lir.Source)
	}
	for _, fn := range lir.Functions {
		e.debug.AddFunction(fn.Name, fn.Args)
	}
	for _, lb := range lir.LocalBindings {
		e.debug.AddLocal(lb.Name, lb.Index)
	}

	if err := e.emitStmts(lir.Stmts); err != nil {
		return nil, err
	}
	if err := e.emitExpr(lir.Tail); err != nil {
		return nil, err
	}
	e.emitByte(byte(bytecode.Ret))

	functions := make([]bytecode.FunctionEntry, 0, len(lir.Functions))
	for _, fn := range lir.Functions {
		entry := uint32(len(e.code))
		impl, ok := e.funcImpls[fn.Index]
		if !ok {
			return nil, &CompileError{Message: fmt.Sprintf("function %q has no recorded body", fn.Name)}
		}
		if err := e.emitStmts(impl.BodyStmts); err != nil {
			return nil, err
		}
		if err := e.emitExpr(impl.BodyExpr); err != nil {
			return nil, err
		}
		e.emitByte(byte(bytecode.Ret))
		functions = append(functions, bytecode.FunctionEntry{
			Name:        fn.Name,
			Index:       fn.Index,
			Arity:       fn.Arity,
			EntryOffset: entry,
		})
	}

	imports := make([]bytecode.HostImport, len(lir.HostImports))
	for i, ref := range lir.HostImports {
		imports[i] = bytecode.HostImport{Name: ref.Name, Arity: ref.Arity}
	}

	debug, hasDebug := e.debug.Finish()
	p := &wire.Program{
		Constants: e.consts,
		Imports:   imports,
		Functions: functions,
		Code:      e.code,
	}
	if hasDebug {
		p.Debug = debug
	}
	return p, nil
}

// EmitFrontend wraps a single, unlinked FrontendIR (no `use` imports to
// resolve) into a LinkedIR and emits it directly; used by the four
// self-contained example programs and tests that skip compiler/module.
func EmitFrontend(fir *ir.FrontendIR, source string) (*wire.Program, error) {
	return Emit(&ir.LinkedIR{
		Source:        source,
		Stmts:         fir.Stmts,
		Tail:          fir.Tail,
		Locals:        fir.Locals,
		LocalBindings: fir.LocalBindings,
		Functions:     fir.Functions,
		FunctionImpls: fir.FunctionImpls,
		HostImports:   fir.HostImports,
	})
}

// --- byte emission helpers ---

func (e *emitter) emitByte(b byte) { e.code = append(e.code, b) }

func (e *emitter) emitU16(v uint16) {
	var buf [2]byte
	binary.LittleEndian.PutUint16(buf[:], v)
	e.code = append(e.code, buf[:]...)
}

func (e *emitter) emitU32(v uint32) {
	var buf [4]byte
	binary.LittleEndian.PutUint32(buf[:], v)
	e.code = append(e.code, buf[:]...)
}

func (e *emitter) emitOp(op bytecode.OpCode) { e.emitByte(byte(op)) }

func (e *emitter) emitLdc(idx uint32) {
	e.emitOp(bytecode.Ldc)
	e.emitU32(idx)
}

func (e *emitter) emitLdloc(idx uint8) {
	e.emitOp(bytecode.Ldloc)
	e.emitU16(uint16(idx))
}

func (e *emitter) emitStloc(idx uint8) {
	e.emitOp(bytecode.Stloc)
	e.emitU16(uint16(idx))
}

func (e *emitter) emitCall(idx uint16, arity uint8) {
	e.emitOp(bytecode.Call)
	e.emitU16(idx)
	e.emitByte(arity)
}

// emitBranch emits op with a placeholder i32 operand and returns the offset
// of that operand, to be resolved later by patchBranch.
func (e *emitter) emitBranch(op bytecode.OpCode) int {
	e.emitOp(op)
	patchAt := len(e.code)
	e.emitU32(0)
	return patchAt
}

// patchBranch fills in the relative offset for a branch operand emitted by
// emitBranch, measured from the byte immediately after the operand.
func (e *emitter) patchBranch(operandOffset int) {
	rel := int32(len(e.code) - (operandOffset + 4))
	binary.LittleEndian.PutUint32(e.code[operandOffset:operandOffset+4], uint32(rel))
}

func (e *emitter) patchBranchTo(operandOffset, target int) {
	rel := int32(target - (operandOffset + 4))
	binary.LittleEndian.PutUint32(e.code[operandOffset:operandOffset+4], uint32(rel))
}

// internConst deduplicates literal constants by a structural key; Value's
// constant-pool members are always Null/Int/Bool/String (arrays and maps
// have no literal Expr form, per compiler/ir's doc comment).
func (e *emitter) internConst(v value.Value) uint32 {
	key := constKey(v)
	if idx, ok := e.constIndex[key]; ok {
		return idx
	}
	idx := uint32(len(e.consts))
	e.consts = append(e.consts, v)
	e.constIndex[key] = idx
	return idx
}

func constKey(v value.Value) string {
	switch v.Kind {
	case value.KindNull:
		return "n"
	case value.KindInt:
		return fmt.Sprintf("i%d", v.I)
	case value.KindBool:
		return fmt.Sprintf("b%v", v.B)
	case value.KindString:
		return "s" + v.Str
	default:
		return fmt.Sprintf("?%v", v)
	}
}

// --- statement emission ---

func (e *emitter) emitStmts(stmts []ir.Stmt) error {
	for _, s := range stmts {
		if err := e.emitStmt(s); err != nil {
			return err
		}
	}
	return nil
}

func (e *emitter) emitStmt(s ir.Stmt) error {
	if off, line, ok := e.lineMark(s.Line); ok {
		e.debug.MarkLine(off, line)
	}
	switch s.Kind {
	case ir.StmtNoop:
		return nil
	case ir.StmtClosureLet:
		// A named closure is a compile-time inlining construct: its
		// declaration materialises nothing executable. Its body and
		// captures are emitted inline at each ExprClosureCall site.
		return nil
	case ir.StmtLet, ir.StmtAssign:
		if err := e.emitExpr(*s.Expr); err != nil {
			return err
		}
		e.emitStloc(s.Index)
		return nil
	case ir.StmtFuncDecl:
		// Function bodies are emitted once, after top-level code, from
		// lir.FunctionImpls; the declaration site itself is a no-op.
		return nil
	case ir.StmtExpr:
		if err := e.emitExpr(*s.Expr); err != nil {
			return err
		}
		e.emitOp(bytecode.Pop)
		return nil
	case ir.StmtIfElse:
		return e.emitIfStmt(s)
	case ir.StmtFor:
		return e.emitForStmt(s)
	case ir.StmtWhile:
		return e.emitWhileStmt(s)
	case ir.StmtBreak:
		if len(e.breakPatches) == 0 {
			return &CompileError{Line: s.Line, Message: "break outside loop"}
		}
		top := len(e.breakPatches) - 1
		patch := e.emitBranch(bytecode.Br)
		e.breakPatches[top] = append(e.breakPatches[top], patch)
		return nil
	case ir.StmtContinue:
		if len(e.continuePatches) == 0 {
			return &CompileError{Line: s.Line, Message: "continue outside loop"}
		}
		top := len(e.continuePatches) - 1
		patch := e.emitBranch(bytecode.Br)
		e.continuePatches[top] = append(e.continuePatches[top], patch)
		return nil
	default:
		return &CompileError{Line: s.Line, Message: "unknown statement kind"}
	}
}

// lineMark returns the mark to record for a statement's line, skipping
// zero-valued lines (desugared helper statements carry no source line).
func (e *emitter) lineMark(line uint32) (uint32, uint32, bool) {
	if line == 0 {
		return 0, 0, false
	}
	return uint32(len(e.code)), line, true
}

func (e *emitter) emitIfStmt(s ir.Stmt) error {
	if lit, ok := constBool(*s.Condition); ok {
		if lit {
			return e.emitStmts(s.ThenBranch)
		}
		return e.emitStmts(s.ElseBranch)
	}
	if err := e.emitExpr(*s.Condition); err != nil {
		return err
	}
	elsePatch := e.emitBranch(bytecode.Brfalse)
	if err := e.emitStmts(s.ThenBranch); err != nil {
		return err
	}
	endPatch := e.emitBranch(bytecode.Br)
	e.patchBranch(elsePatch)
	if err := e.emitStmts(s.ElseBranch); err != nil {
		return err
	}
	e.patchBranch(endPatch)
	return nil
}

func (e *emitter) emitWhileStmt(s ir.Stmt) error {
	if lit, ok := constBool(*s.Condition); ok && !lit {
		return nil // dead loop
	}
	header := len(e.code)
	e.breakPatches = append(e.breakPatches, nil)
	e.continuePatches = append(e.continuePatches, nil)

	if err := e.emitExpr(*s.Condition); err != nil {
		return err
	}
	exitPatch := e.emitBranch(bytecode.Brfalse)
	if err := e.emitStmts(s.Body); err != nil {
		return err
	}
	for _, p := range e.continuePatches[len(e.continuePatches)-1] {
		e.patchBranchTo(p, header)
	}
	backPatch := e.emitBranch(bytecode.Br)
	e.patchBranchTo(backPatch, header)
	e.patchBranch(exitPatch)

	for _, p := range e.breakPatches[len(e.breakPatches)-1] {
		e.patchBranch(p)
	}
	e.breakPatches = e.breakPatches[:len(e.breakPatches)-1]
	e.continuePatches = e.continuePatches[:len(e.continuePatches)-1]
	return nil
}

func (e *emitter) emitForStmt(s ir.Stmt) error {
	if err := e.emitStmt(*s.Init); err != nil {
		return err
	}
	header := len(e.code)
	if err := e.emitExpr(*s.Condition); err != nil {
		return err
	}
	exitPatch := e.emitBranch(bytecode.Brfalse)

	e.breakPatches = append(e.breakPatches, nil)
	e.continuePatches = append(e.continuePatches, nil)
	if err := e.emitStmts(s.Body); err != nil {
		return err
	}
	// continue jumps here: run the post-statement, then re-test.
	postLabel := len(e.code)
	for _, p := range e.continuePatches[len(e.continuePatches)-1] {
		e.patchBranchTo(p, postLabel)
	}
	if err := e.emitStmt(*s.Post); err != nil {
		return err
	}
	backPatch := e.emitBranch(bytecode.Br)
	e.patchBranchTo(backPatch, header)
	e.patchBranch(exitPatch)

	for _, p := range e.breakPatches[len(e.breakPatches)-1] {
		e.patchBranch(p)
	}
	e.breakPatches = e.breakPatches[:len(e.breakPatches)-1]
	e.continuePatches = e.continuePatches[:len(e.continuePatches)-1]
	return nil
}

// --- expression emission ---

func (e *emitter) emitExpr(ex ir.Expr) error {
	if v, ok := constFold(ex); ok {
		e.emitLdc(e.internConst(v))
		return nil
	}
	switch ex.Kind {
	case ir.ExprNull:
		e.emitLdc(e.internConst(value.Null()))
	case ir.ExprInt:
		e.emitLdc(e.internConst(value.Int(ex.IntVal)))
	case ir.ExprBool:
		e.emitLdc(e.internConst(value.Bool(ex.Bool)))
	case ir.ExprString:
		e.emitLdc(e.internConst(value.String(ex.Str)))
	case ir.ExprVar:
		e.emitLdloc(ex.Slot)
	case ir.ExprCall:
		for _, a := range ex.Args {
			if err := e.emitExpr(a); err != nil {
				return err
			}
		}
		e.emitCall(ex.CallIndex, uint8(len(ex.Args)))
	case ir.ExprClosureCall:
		return e.emitClosureCall(ex)
	case ir.ExprClosure:
		return &CompileError{Message: "unreachable: closure literal outside a call or let-binding"}
	case ir.ExprAdd, ir.ExprSub, ir.ExprEq, ir.ExprLt, ir.ExprGt, ir.ExprShr, ir.ExprShl, ir.ExprDiv:
		return e.emitBinary(ex)
	case ir.ExprMul:
		return e.emitMul(ex)
	case ir.ExprMod:
		return e.emitMod(ex)
	case ir.ExprAnd:
		return e.emitLogical(ex, true)
	case ir.ExprOr:
		return e.emitLogical(ex, false)
	case ir.ExprNeg:
		if err := e.emitExpr(*ex.Operand); err != nil {
			return err
		}
		e.emitOp(bytecode.Neg)
	case ir.ExprNot:
		// !b desugars to (b == false); the opcode set has no dedicated
		// logical-not, matching bytecode's fixed one-byte instruction set.
		if err := e.emitExpr(*ex.Operand); err != nil {
			return err
		}
		e.emitLdc(e.internConst(value.Bool(false)))
		e.emitOp(bytecode.Ceq)
	case ir.ExprIfElse:
		return e.emitIfExpr(ex)
	case ir.ExprMatch:
		return e.emitMatch(ex)
	case ir.ExprBlock:
		if err := e.emitStmts(ex.Stmts); err != nil {
			return err
		}
		return e.emitExpr(*ex.BlockExpr)
	default:
		return &CompileError{Message: "unknown expression kind"}
	}
	return nil
}

// emitMul lowers `x * 2^k` (literal, positive power-of-two RHS) to a Shl,
// per spec.md §4.3's strength-reduction rule; otherwise emits a plain Mul.
func (e *emitter) emitMul(ex ir.Expr) error {
	if shift, ok := powerOfTwoShift(*ex.Right); ok {
		if err := e.emitExpr(*ex.Left); err != nil {
			return err
		}
		e.emitLdc(e.internConst(value.Int(shift)))
		e.emitOp(bytecode.Shl)
		return nil
	}
	if shift, ok := powerOfTwoShift(*ex.Left); ok {
		if err := e.emitExpr(*ex.Right); err != nil {
			return err
		}
		e.emitLdc(e.internConst(value.Int(shift)))
		e.emitOp(bytecode.Shl)
		return nil
	}
	return e.emitBinary(ex)
}

func powerOfTwoShift(e ir.Expr) (int64, bool) {
	if e.Kind != ir.ExprInt || e.IntVal <= 0 {
		return 0, false
	}
	n := e.IntVal
	shift := int64(0)
	for n > 1 {
		if n%2 != 0 {
			return 0, false
		}
		n /= 2
		shift++
	}
	return shift, true
}

// Reserved scratch local slots for desugaring ops the bytecode has no
// dedicated instruction for (Mod). Picked from the top of the uint8 range
// so they never collide with a real program's slot allocation, at the cost
// of raising the inferred local count to 256 (the highest scratch slot plus one) for every program that
// uses `%`.
const (
	modScratchA uint8 = 253
	modScratchB uint8 = 254
	modScratchC uint8 = 255
)

// emitMod desugars `a % b` to `a - (a / b) * b`, the bytecode set having no
// dedicated Mod instruction (spec.md §4.4's opcode table).
func (e *emitter) emitMod(ex ir.Expr) error {
	if err := e.emitExpr(*ex.Left); err != nil {
		return err
	}
	if err := e.emitExpr(*ex.Right); err != nil {
		return err
	}
	e.emitStloc(modScratchB)
	e.emitStloc(modScratchA)
	e.emitLdloc(modScratchA)
	e.emitLdloc(modScratchB)
	e.emitOp(bytecode.Div)
	e.emitLdloc(modScratchB)
	e.emitOp(bytecode.Mul)
	e.emitStloc(modScratchC)
	e.emitLdloc(modScratchA)
	e.emitLdloc(modScratchC)
	e.emitOp(bytecode.Sub)
	return nil
}

// emitLogical desugars `a && b` / `a || b` with short-circuit control flow:
// AND skips evaluating b when a is false (result is a); OR skips
// evaluating b when a is true (result is a). The opcode set has no
// dedicated logical instructions, only Dup/Brfalse/Br, matching how
// emitIfExpr builds conditionals.
func (e *emitter) emitLogical(ex ir.Expr, isAnd bool) error {
	if err := e.emitExpr(*ex.Left); err != nil {
		return err
	}
	e.emitOp(bytecode.Dup)
	shortCircuitPatch := e.emitBranch(bytecode.Brfalse)
	if isAnd {
		// a was true: discard it, result is b.
		e.emitOp(bytecode.Pop)
		if err := e.emitExpr(*ex.Right); err != nil {
			return err
		}
		endPatch := e.emitBranch(bytecode.Br)
		e.patchBranch(shortCircuitPatch)
		e.patchBranch(endPatch)
		return nil
	}
	// OR: a was true (short-circuit branch not taken): keep a, jump to end.
	endPatch := e.emitBranch(bytecode.Br)
	e.patchBranch(shortCircuitPatch)
	e.emitOp(bytecode.Pop)
	if err := e.emitExpr(*ex.Right); err != nil {
		return err
	}
	e.patchBranch(endPatch)
	return nil
}

func (e *emitter) emitBinary(ex ir.Expr) error {
	if err := e.emitExpr(*ex.Left); err != nil {
		return err
	}
	if err := e.emitExpr(*ex.Right); err != nil {
		return err
	}
	switch ex.Kind {
	case ir.ExprAdd:
		e.emitOp(bytecode.Add)
	case ir.ExprSub:
		e.emitOp(bytecode.Sub)
	case ir.ExprMul:
		e.emitOp(bytecode.Mul)
	case ir.ExprDiv:
		e.emitOp(bytecode.Div)
	case ir.ExprEq:
		e.emitOp(bytecode.Ceq)
	case ir.ExprLt:
		e.emitOp(bytecode.Clt)
	case ir.ExprGt:
		e.emitOp(bytecode.Cgt)
	case ir.ExprShl:
		e.emitOp(bytecode.Shl)
	case ir.ExprShr:
		e.emitOp(bytecode.Shr)
	default:
		return &CompileError{Message: "emitBinary: not a binary op"}
	}
	return nil
}

func (e *emitter) emitIfExpr(ex ir.Expr) error {
	if lit, ok := constBool(*ex.Condition); ok {
		if lit {
			return e.emitExpr(*ex.Then)
		}
		return e.emitExpr(*ex.Else)
	}
	if err := e.emitExpr(*ex.Condition); err != nil {
		return err
	}
	elsePatch := e.emitBranch(bytecode.Brfalse)
	if err := e.emitExpr(*ex.Then); err != nil {
		return err
	}
	endPatch := e.emitBranch(bytecode.Br)
	e.patchBranch(elsePatch)
	if err := e.emitExpr(*ex.Else); err != nil {
		return err
	}
	e.patchBranch(endPatch)
	return nil
}

func (e *emitter) emitMatch(ex ir.Expr) error {
	if err := e.emitExpr(*ex.MatchValue); err != nil {
		return err
	}
	e.emitStloc(ex.MatchValueSlot)

	var endPatches []int
	for _, arm := range ex.Arms {
		e.emitLdloc(ex.MatchValueSlot)
		if arm.Pattern.IsInt {
			e.emitLdc(e.internConst(value.Int(arm.Pattern.Int)))
		} else {
			e.emitLdc(e.internConst(value.String(arm.Pattern.Str)))
		}
		e.emitOp(bytecode.Ceq)
		nextPatch := e.emitBranch(bytecode.Brfalse)
		if err := e.emitExpr(arm.Result); err != nil {
			return err
		}
		e.emitStloc(ex.MatchResultSlot)
		endPatches = append(endPatches, e.emitBranch(bytecode.Br))
		e.patchBranch(nextPatch)
	}
	if err := e.emitExpr(*ex.Default); err != nil {
		return err
	}
	e.emitStloc(ex.MatchResultSlot)
	for _, p := range endPatches {
		e.patchBranch(p)
	}
	e.emitLdloc(ex.MatchResultSlot)
	return nil
}

func (e *emitter) emitClosureCall(ex ir.Expr) error {
	c := ex.Closure
	for _, cap := range c.CaptureCopies {
		e.emitLdloc(cap.From)
		e.emitStloc(cap.To)
	}
	for i, arg := range ex.Args {
		if err := e.emitExpr(arg); err != nil {
			return err
		}
		e.emitStloc(c.ParamSlots[i])
	}
	return e.emitExpr(c.Body)
}

// --- constant folding ---

func constBool(ex ir.Expr) (bool, bool) {
	if ex.Kind == ir.ExprBool {
		return ex.Bool, true
	}
	return false, false
}

// constFold evaluates ex at compile time if every leaf is a literal,
// folding arithmetic/comparison/logical trees into a single constant.
func constFold(ex ir.Expr) (value.Value, bool) {
	switch ex.Kind {
	case ir.ExprNull:
		return value.Null(), true
	case ir.ExprInt:
		return value.Int(ex.IntVal), true
	case ir.ExprBool:
		return value.Bool(ex.Bool), true
	case ir.ExprString:
		return value.String(ex.Str), true
	case ir.ExprNeg:
		v, ok := constFold(*ex.Operand)
		if !ok {
			return value.Value{}, false
		}
		switch v.Kind {
		case value.KindInt:
			return value.Int(-v.I), true
		case value.KindFloat:
			return value.Float(-v.F), true
		default:
			return value.Value{}, false
		}
	case ir.ExprNot:
		v, ok := constFold(*ex.Operand)
		if !ok || v.Kind != value.KindBool {
			return value.Value{}, false
		}
		return value.Bool(!v.B), true
	case ir.ExprAdd, ir.ExprSub, ir.ExprMul, ir.ExprDiv, ir.ExprMod,
		ir.ExprAnd, ir.ExprOr, ir.ExprEq, ir.ExprLt, ir.ExprGt,
		ir.ExprShl, ir.ExprShr:
		l, ok := constFold(*ex.Left)
		if !ok {
			return value.Value{}, false
		}
		r, ok := constFold(*ex.Right)
		if !ok {
			return value.Value{}, false
		}
		return foldBinary(ex.Kind, l, r)
	default:
		return value.Value{}, false
	}
}

func foldBinary(kind ir.ExprKind, l, r value.Value) (value.Value, bool) {
	bothInt := l.Kind == value.KindInt && r.Kind == value.KindInt
	numeric := bothInt || (isNumeric(l) && isNumeric(r))
	switch kind {
	case ir.ExprAdd:
		if !numeric {
			return value.Value{}, false
		}
		if bothInt {
			return value.Int(l.I + r.I), true
		}
		return value.Float(asFloat(l) + asFloat(r)), true
	case ir.ExprSub:
		if !numeric {
			return value.Value{}, false
		}
		if bothInt {
			return value.Int(l.I - r.I), true
		}
		return value.Float(asFloat(l) - asFloat(r)), true
	case ir.ExprMul:
		if !numeric {
			return value.Value{}, false
		}
		if bothInt {
			return value.Int(l.I * r.I), true
		}
		return value.Float(asFloat(l) * asFloat(r)), true
	case ir.ExprDiv:
		if !numeric {
			return value.Value{}, false
		}
		if bothInt {
			if r.I == 0 {
				return value.Value{}, false // defer to runtime DivisionByZero
			}
			return value.Int(l.I / r.I), true
		}
		return value.Float(asFloat(l) / asFloat(r)), true
	case ir.ExprMod:
		if !bothInt || r.I == 0 {
			return value.Value{}, false
		}
		return value.Int(l.I % r.I), true
	case ir.ExprAnd:
		if l.Kind != value.KindBool || r.Kind != value.KindBool {
			return value.Value{}, false
		}
		return value.Bool(l.B && r.B), true
	case ir.ExprOr:
		if l.Kind != value.KindBool || r.Kind != value.KindBool {
			return value.Value{}, false
		}
		return value.Bool(l.B || r.B), true
	case ir.ExprEq:
		return value.Bool(l.Equal(r)), true
	case ir.ExprLt:
		res, ok := l.Less(r)
		if !ok {
			return value.Value{}, false
		}
		return value.Bool(res), true
	case ir.ExprGt:
		res, ok := r.Less(l)
		if !ok {
			return value.Value{}, false
		}
		return value.Bool(res), true
	case ir.ExprShl:
		if !bothInt {
			return value.Value{}, false
		}
		return value.Int(l.I << uint(r.I)), true
	case ir.ExprShr:
		if !bothInt {
			return value.Value{}, false
		}
		return value.Int(l.I >> uint(r.I)), true
	default:
		return value.Value{}, false
	}
}

func isNumeric(v value.Value) bool { return v.Kind == value.KindInt || v.Kind == value.KindFloat }

func asFloat(v value.Value) float64 {
	if v.Kind == value.KindInt {
		return float64(v.I)
	}
	return v.F
}
