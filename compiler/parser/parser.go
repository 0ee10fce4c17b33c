// Package parser implements the single shared recursive-descent parser every
// frontend's lowered text is fed into (spec.md §4.2). It resolves call
// expressions to their final bytecode call index at parse time: a name
// matching an in-module `fn` (pre-scanned before bodies are parsed, so
// forward and recursive calls work), a named closure literal, a builtin
// (edgevm/builtins), or otherwise a host import assigned a fresh sequential
// index on first reference.
//
// Grounded on original_source/pd-vm/src/compiler/parser.rs for the grammar
// shape (let/fn/closures/if-else/match/for/while/blocks-with-tail) and on
// spec.md §9's "closures capture by copy at definition" note for how a named
// closure inlines at its call sites instead of becoming a runtime value —
// value.Value has no closure variant, so there is nothing else it could be.
package parser

import (
	"fmt"

	"edgevm/builtins"
	"edgevm/bytecode"
	"edgevm/compiler/diagnostics"
	"edgevm/compiler/ir"
)

// ParseError is the diagnostic type every parse failure returns.
type ParseError = diagnostics.ParseError

func errf(line int, format string, args ...any) *ParseError {
	return &ParseError{Line: line, Message: fmt.Sprintf(format, args...)}
}

// closureCtx tracks one closure literal's own scope while its body is being
// parsed. own holds the closure's param bindings plus every outer name
// captured so far, entirely separate from the enclosing p.locals map — a
// closure body must never resolve a name by reading the enclosing scope's
// live slot directly, since that would read-through instead of copying the
// value at closure-creation time.
type closureCtx struct {
	outer map[string]uint8
	own   map[string]uint8
	captures []ir.CaptureCopy
}

type parser struct {
	toks []token
	pos  int

	locals        map[string]uint8
	nextSlot      uint8
	localBindings []ir.LocalBinding
	inFunction    bool

	funcs     map[string]*ir.FunctionDecl
	funcOrder []string
	funcImpls map[uint16]ir.FunctionImpl

	namedClosures map[string]*ir.ClosureExpr

	imports     []ir.HostImportRef
	importIndex map[string]uint16

	closureStack []*closureCtx
}

// Parse tokenizes and parses source, the canonical lowered text every
// frontend produces, into a FrontendIR.
func Parse(source string) (*ir.FrontendIR, error) {
	toks, err := lex(source)
	if err != nil {
		return nil, err
	}
	p := &parser{
		toks:          toks,
		locals:        map[string]uint8{},
		funcs:         map[string]*ir.FunctionDecl{},
		funcImpls:     map[uint16]ir.FunctionImpl{},
		namedClosures: map[string]*ir.ClosureExpr{},
		importIndex:   map[string]uint16{},
	}
	p.prescanFunctions()

	stmts, tail, err := p.parseStmtList(tokEOF)
	if err != nil {
		return nil, err
	}
	if !p.atKind(tokEOF) {
		return nil, errf(p.curLine(), "unexpected trailing token %q", p.cur().text)
	}

	return &ir.FrontendIR{
		Stmts:         stmts,
		Tail:          tail,
		Locals:        int(p.nextSlot),
		LocalBindings: p.localBindings,
		Functions:     p.functionDecls(),
		FunctionImpls: p.funcImpls,
		HostImports:   p.imports,
	}, nil
}

func (p *parser) functionDecls() []ir.FunctionDecl {
	out := make([]ir.FunctionDecl, 0, len(p.funcOrder))
	for _, name := range p.funcOrder {
		out = append(out, *p.funcs[name])
	}
	return out
}

// prescanFunctions walks the token stream once, registering every top-level
// `[pub] fn name(args)` signature with a stable call index before any body
// is parsed, so calls anywhere in the file (including forward and
// recursive calls) resolve without a second pass.
func (p *parser) prescanFunctions() {
	depth := 0
	ordinal := 0
	for i := 0; i < len(p.toks); i++ {
		t := p.toks[i]
		switch t.kind {
		case tokLBrace:
			depth++
			continue
		case tokRBrace:
			depth--
			continue
		}
		if depth != 0 || t.kind != tokIdent {
			continue
		}
		j := i
		if p.toks[j].text == "pub" {
			j++
		}
		if j >= len(p.toks) || p.toks[j].kind != tokIdent || p.toks[j].text != "fn" {
			continue
		}
		exported := p.toks[i].text == "pub"
		j++
		if j >= len(p.toks) || p.toks[j].kind != tokIdent {
			continue
		}
		name := p.toks[j].text
		j++
		if j >= len(p.toks) || p.toks[j].kind != tokLParen {
			continue
		}
		j++
		var params []string
		for j < len(p.toks) && p.toks[j].kind != tokRParen {
			if p.toks[j].kind == tokIdent {
				params = append(params, p.toks[j].text)
			}
			j++
			if j < len(p.toks) && p.toks[j].kind == tokComma {
				j++
			}
		}
		idx := bytecode.FunctionBase + uint16(ordinal)
		p.funcs[name] = &ir.FunctionDecl{Name: name, Arity: uint8(len(params)), Index: idx, Args: params, Exported: exported}
		p.funcOrder = append(p.funcOrder, name)
		ordinal++
	}
}

// --- token stream helpers ---

func (p *parser) cur() token {
	if p.pos >= len(p.toks) {
		return p.toks[len(p.toks)-1]
	}
	return p.toks[p.pos]
}

func (p *parser) curLine() int { return p.cur().line }

func (p *parser) atKind(k tokenKind) bool { return p.cur().kind == k }

func (p *parser) atText(s string) bool { return p.cur().kind == tokIdent && p.cur().text == s }

func (p *parser) advance() token {
	t := p.cur()
	if p.pos < len(p.toks) {
		p.pos++
	}
	return t
}

func (p *parser) expect(k tokenKind, what string) (token, error) {
	if !p.atKind(k) {
		return token{}, errf(p.curLine(), "expected %s, found %q", what, p.cur().text)
	}
	return p.advance(), nil
}

func (p *parser) expectText(s string) error {
	if !p.atText(s) {
		return errf(p.curLine(), "expected %q, found %q", s, p.cur().text)
	}
	p.advance()
	return nil
}

func (p *parser) allocTempSlot() uint8 {
	s := p.nextSlot
	p.nextSlot++
	return s
}

// --- statements ---

func (p *parser) parseStmtList(terminator tokenKind) ([]ir.Stmt, ir.Expr, error) {
	var stmts []ir.Stmt
	for !p.atKind(terminator) && !p.atKind(tokEOF) {
		switch {
		case p.atText("let"):
			s, err := p.parseLetStmt()
			if err != nil {
				return nil, ir.Expr{}, err
			}
			stmts = append(stmts, s)
			continue
		case p.atText("pub"), p.atText("fn"):
			s, err := p.parseFnDeclStmt()
			if err != nil {
				return nil, ir.Expr{}, err
			}
			stmts = append(stmts, s)
			continue
		case p.atText("use"):
			if err := p.skipUseStmt(); err != nil {
				return nil, ir.Expr{}, err
			}
			continue
		case p.atText("if"):
			start := p.pos
			s, err := p.parseIfStmt()
			if err != nil {
				return nil, ir.Expr{}, err
			}
			if p.atKind(terminator) || p.atKind(tokEOF) {
				// An if/else that ends the list is the list's value, so it is
				// parsed again as an expression; names bound by the first pass
				// stay bound and resolve to the same slots.
				p.pos = start
				tail, err := p.parseIfExpr()
				if err != nil {
					return nil, ir.Expr{}, err
				}
				return stmts, tail, nil
			}
			stmts = append(stmts, s)
			continue
		case p.atText("while"):
			s, err := p.parseWhileStmt()
			if err != nil {
				return nil, ir.Expr{}, err
			}
			stmts = append(stmts, s)
			continue
		case p.atText("for"):
			s, err := p.parseForStmt()
			if err != nil {
				return nil, ir.Expr{}, err
			}
			stmts = append(stmts, s)
			continue
		case p.atText("break"):
			line := p.curLine()
			p.advance()
			p.consumeOptional(tokSemicolon)
			stmts = append(stmts, ir.BreakStmt(uint32(line)))
			continue
		case p.atText("continue"):
			line := p.curLine()
			p.advance()
			p.consumeOptional(tokSemicolon)
			stmts = append(stmts, ir.ContinueStmt(uint32(line)))
			continue
		}

		if p.atKind(tokIdent) && !isReservedWord(p.cur().text) && p.peekIsAssign() {
			s, err := p.parseAssignStmt()
			if err != nil {
				return nil, ir.Expr{}, err
			}
			stmts = append(stmts, s)
			continue
		}

		line := p.curLine()
		e, err := p.parseExpr()
		if err != nil {
			return nil, ir.Expr{}, err
		}
		if p.atKind(tokSemicolon) {
			p.advance()
			stmts = append(stmts, ir.ExprStmt(e, uint32(line)))
			continue
		}
		return stmts, e, nil
	}
	return stmts, ir.Null(), nil
}

func (p *parser) consumeOptional(k tokenKind) {
	if p.atKind(k) {
		p.advance()
	}
}

// peekIsAssign reports whether the current identifier is immediately
// followed by a bare `=` (not `==`), i.e. an assignment statement.
func (p *parser) peekIsAssign() bool {
	if p.pos+1 >= len(p.toks) {
		return false
	}
	return p.toks[p.pos+1].kind == tokAssign
}

var reservedWords = map[string]bool{
	"let": true, "fn": true, "pub": true, "if": true, "else": true,
	"match": true, "for": true, "while": true, "break": true, "continue": true,
	"use": true, "as": true, "true": true, "false": true, "null": true,
}

func isReservedWord(s string) bool { return reservedWords[s] }

func (p *parser) parseLetStmt() (ir.Stmt, error) {
	line := p.curLine()
	p.advance() // "let"
	nameTok, err := p.expect(tokIdent, "identifier")
	if err != nil {
		return ir.Stmt{}, err
	}
	name := nameTok.text
	if _, err := p.expect(tokAssign, "'='"); err != nil {
		return ir.Stmt{}, err
	}

	if p.atKind(tokPipe) {
		closureExpr, err := p.parseClosure()
		if err != nil {
			return ir.Stmt{}, err
		}
		p.consumeOptional(tokSemicolon)
		p.namedClosures[name] = closureExpr.Closure
		return ir.ClosureLet(*closureExpr.Closure, uint32(line)), nil
	}

	expr, err := p.parseExpr()
	if err != nil {
		return ir.Stmt{}, err
	}
	p.consumeOptional(tokSemicolon)

	slot, existed := p.locals[name]
	if !existed {
		slot = p.allocTempSlot()
		p.locals[name] = slot
		if !p.inFunction {
			p.localBindings = append(p.localBindings, ir.LocalBinding{Name: name, Index: slot})
		}
	}
	return ir.Let(slot, expr, uint32(line)), nil
}

func (p *parser) parseAssignStmt() (ir.Stmt, error) {
	line := p.curLine()
	nameTok, _ := p.expect(tokIdent, "identifier")
	name := nameTok.text
	if _, err := p.expect(tokAssign, "'='"); err != nil {
		return ir.Stmt{}, err
	}
	expr, err := p.parseExpr()
	if err != nil {
		return ir.Stmt{}, err
	}
	p.consumeOptional(tokSemicolon)
	slot, ok := p.locals[name]
	if !ok {
		return ir.Stmt{}, errf(line, "assignment to undeclared variable %q", name)
	}
	return ir.Assign(slot, expr, uint32(line)), nil
}

func (p *parser) parseFnDeclStmt() (ir.Stmt, error) {
	line := p.curLine()
	exported := false
	if p.atText("pub") {
		exported = true
		p.advance()
	}
	if err := p.expectText("fn"); err != nil {
		return ir.Stmt{}, err
	}
	nameTok, err := p.expect(tokIdent, "function name")
	if err != nil {
		return ir.Stmt{}, err
	}
	name := nameTok.text
	decl, ok := p.funcs[name]
	if !ok {
		return ir.Stmt{}, errf(line, "internal error: function %q missing from prescan", name)
	}

	if _, err := p.expect(tokLParen, "'('"); err != nil {
		return ir.Stmt{}, err
	}
	var params []string
	for !p.atKind(tokRParen) {
		t, err := p.expect(tokIdent, "parameter name")
		if err != nil {
			return ir.Stmt{}, err
		}
		params = append(params, t.text)
		if p.atKind(tokComma) {
			p.advance()
		}
	}
	p.advance() // ')'

	savedLocals, savedSlot, savedInFunction := p.locals, p.nextSlot, p.inFunction
	p.locals = map[string]uint8{}
	p.nextSlot = 0
	p.inFunction = true

	paramSlots := make([]uint8, len(params))
	for i, name := range params {
		slot := p.allocTempSlot()
		p.locals[name] = slot
		paramSlots[i] = slot
	}

	if _, err := p.expect(tokLBrace, "'{'"); err != nil {
		return ir.Stmt{}, err
	}
	bodyStmts, tail, err := p.parseStmtList(tokRBrace)
	if err != nil {
		return ir.Stmt{}, err
	}
	if _, err := p.expect(tokRBrace, "'}'"); err != nil {
		return ir.Stmt{}, err
	}

	p.funcImpls[decl.Index] = ir.FunctionImpl{ParamSlots: paramSlots, BodyStmts: bodyStmts, BodyExpr: tail}

	p.locals, p.nextSlot, p.inFunction = savedLocals, savedSlot, savedInFunction

	return ir.FuncDecl(name, uint8(len(params)), params, exported, uint32(line)), nil
}

// skipUseStmt consumes a `use path::{names};`/`use path as alias;` module
// import declaration. Cross-file resolution of `use` is compiler/module's
// concern; the parser only needs to not choke on the syntax.
func (p *parser) skipUseStmt() error {
	p.advance() // "use"
	for !p.atKind(tokSemicolon) && !p.atKind(tokEOF) {
		p.advance()
	}
	p.consumeOptional(tokSemicolon)
	return nil
}

func (p *parser) parseBraceBlock() ([]ir.Stmt, ir.Expr, error) {
	if _, err := p.expect(tokLBrace, "'{'"); err != nil {
		return nil, ir.Expr{}, err
	}
	stmts, tail, err := p.parseStmtList(tokRBrace)
	if err != nil {
		return nil, ir.Expr{}, err
	}
	if _, err := p.expect(tokRBrace, "'}'"); err != nil {
		return nil, ir.Expr{}, err
	}
	return stmts, tail, nil
}

func (p *parser) parseIfStmt() (ir.Stmt, error) {
	line := p.curLine()
	p.advance() // "if"
	cond, err := p.parseExpr()
	if err != nil {
		return ir.Stmt{}, err
	}
	thenStmts, thenTail, err := p.parseBraceBlock()
	if err != nil {
		return ir.Stmt{}, err
	}
	if !thenTail.IsNullLiteral() {
		thenStmts = append(thenStmts, ir.ExprStmt(thenTail, uint32(line)))
	}
	if err := p.expectText("else"); err != nil {
		return ir.Stmt{}, err
	}
	var elseStmts []ir.Stmt
	if p.atText("if") {
		nested, err := p.parseIfStmt()
		if err != nil {
			return ir.Stmt{}, err
		}
		elseStmts = []ir.Stmt{nested}
	} else {
		var elseTail ir.Expr
		elseStmts, elseTail, err = p.parseBraceBlock()
		if err != nil {
			return ir.Stmt{}, err
		}
		if !elseTail.IsNullLiteral() {
			elseStmts = append(elseStmts, ir.ExprStmt(elseTail, uint32(line)))
		}
	}
	return ir.IfElseStmt(cond, thenStmts, elseStmts, uint32(line)), nil
}

func (p *parser) parseIfExpr() (ir.Expr, error) {
	p.advance() // "if"
	cond, err := p.parseExpr()
	if err != nil {
		return ir.Expr{}, err
	}
	thenStmts, thenTail, err := p.parseBraceBlock()
	if err != nil {
		return ir.Expr{}, err
	}
	if err := p.expectText("else"); err != nil {
		return ir.Expr{}, err
	}
	var elseExpr ir.Expr
	if p.atText("if") {
		elseExpr, err = p.parseIfExpr()
		if err != nil {
			return ir.Expr{}, err
		}
	} else {
		elseStmts, elseTail, err := p.parseBraceBlock()
		if err != nil {
			return ir.Expr{}, err
		}
		elseExpr = ir.Block(elseStmts, elseTail)
	}
	return ir.IfElse(cond, ir.Block(thenStmts, thenTail), elseExpr), nil
}

func (p *parser) parseWhileStmt() (ir.Stmt, error) {
	line := p.curLine()
	p.advance() // "while"
	cond, err := p.parseExpr()
	if err != nil {
		return ir.Stmt{}, err
	}
	body, tail, err := p.parseBraceBlock()
	if err != nil {
		return ir.Stmt{}, err
	}
	if !tail.IsNullLiteral() {
		body = append(body, ir.ExprStmt(tail, uint32(line)))
	}
	return ir.WhileStmt(cond, body, uint32(line)), nil
}

func (p *parser) parseForStmt() (ir.Stmt, error) {
	line := p.curLine()
	p.advance() // "for"
	if _, err := p.expect(tokLParen, "'('"); err != nil {
		return ir.Stmt{}, err
	}
	init, err := p.parseSimpleStmtNoSemi()
	if err != nil {
		return ir.Stmt{}, err
	}
	if _, err := p.expect(tokSemicolon, "';'"); err != nil {
		return ir.Stmt{}, err
	}
	cond, err := p.parseExpr()
	if err != nil {
		return ir.Stmt{}, err
	}
	if _, err := p.expect(tokSemicolon, "';'"); err != nil {
		return ir.Stmt{}, err
	}
	post, err := p.parseSimpleStmtNoSemi()
	if err != nil {
		return ir.Stmt{}, err
	}
	if _, err := p.expect(tokRParen, "')'"); err != nil {
		return ir.Stmt{}, err
	}
	body, tail, err := p.parseBraceBlock()
	if err != nil {
		return ir.Stmt{}, err
	}
	if !tail.IsNullLiteral() {
		body = append(body, ir.ExprStmt(tail, uint32(line)))
	}
	return ir.ForStmt(init, cond, post, body, uint32(line)), nil
}

// parseSimpleStmtNoSemi parses a let/assign/expr statement without
// consuming a trailing semicolon, for use inside a for-loop's parens.
func (p *parser) parseSimpleStmtNoSemi() (ir.Stmt, error) {
	line := p.curLine()
	if p.atText("let") {
		p.advance()
		nameTok, err := p.expect(tokIdent, "identifier")
		if err != nil {
			return ir.Stmt{}, err
		}
		if _, err := p.expect(tokAssign, "'='"); err != nil {
			return ir.Stmt{}, err
		}
		expr, err := p.parseExpr()
		if err != nil {
			return ir.Stmt{}, err
		}
		name := nameTok.text
		slot, existed := p.locals[name]
		if !existed {
			slot = p.allocTempSlot()
			p.locals[name] = slot
		}
		return ir.Let(slot, expr, uint32(line)), nil
	}
	if p.atKind(tokIdent) && p.peekIsAssign() {
		nameTok := p.advance()
		p.advance() // '='
		expr, err := p.parseExpr()
		if err != nil {
			return ir.Stmt{}, err
		}
		slot, ok := p.locals[nameTok.text]
		if !ok {
			return ir.Stmt{}, errf(line, "assignment to undeclared variable %q", nameTok.text)
		}
		return ir.Assign(slot, expr, uint32(line)), nil
	}
	e, err := p.parseExpr()
	if err != nil {
		return ir.Stmt{}, err
	}
	return ir.ExprStmt(e, uint32(line)), nil
}

// --- expressions (precedence climbing) ---

func (p *parser) parseExpr() (ir.Expr, error) { return p.parseOr() }

func (p *parser) parseOr() (ir.Expr, error) {
	left, err := p.parseAnd()
	if err != nil {
		return ir.Expr{}, err
	}
	for p.atKind(tokPipePipe) {
		p.advance()
		right, err := p.parseAnd()
		if err != nil {
			return ir.Expr{}, err
		}
		left = ir.Or(left, right)
	}
	return left, nil
}

func (p *parser) parseAnd() (ir.Expr, error) {
	left, err := p.parseEquality()
	if err != nil {
		return ir.Expr{}, err
	}
	for p.atKind(tokAmpAmp) {
		p.advance()
		right, err := p.parseEquality()
		if err != nil {
			return ir.Expr{}, err
		}
		left = ir.And(left, right)
	}
	return left, nil
}

func (p *parser) parseEquality() (ir.Expr, error) {
	left, err := p.parseRelational()
	if err != nil {
		return ir.Expr{}, err
	}
	for p.atKind(tokEqEq) || p.atKind(tokBangEq) {
		neg := p.atKind(tokBangEq)
		p.advance()
		right, err := p.parseRelational()
		if err != nil {
			return ir.Expr{}, err
		}
		eq := ir.Eq(left, right)
		if neg {
			eq = ir.Not(eq)
		}
		left = eq
	}
	return left, nil
}

func (p *parser) parseRelational() (ir.Expr, error) {
	left, err := p.parseShift()
	if err != nil {
		return ir.Expr{}, err
	}
	for p.atKind(tokLt) || p.atKind(tokGt) || p.atKind(tokLe) || p.atKind(tokGe) {
		k := p.cur().kind
		p.advance()
		right, err := p.parseShift()
		if err != nil {
			return ir.Expr{}, err
		}
		switch k {
		case tokLt:
			left = ir.Lt(left, right)
		case tokGt:
			left = ir.Gt(left, right)
		case tokLe:
			left = ir.Not(ir.Gt(left, right))
		case tokGe:
			left = ir.Not(ir.Lt(left, right))
		}
	}
	return left, nil
}

func (p *parser) parseShift() (ir.Expr, error) {
	left, err := p.parseAdd()
	if err != nil {
		return ir.Expr{}, err
	}
	for p.atKind(tokShl) || p.atKind(tokShr) {
		isShl := p.atKind(tokShl)
		p.advance()
		right, err := p.parseAdd()
		if err != nil {
			return ir.Expr{}, err
		}
		if isShl {
			left = ir.Shl(left, right)
		} else {
			left = ir.Shr(left, right)
		}
	}
	return left, nil
}

func (p *parser) parseAdd() (ir.Expr, error) {
	left, err := p.parseMul()
	if err != nil {
		return ir.Expr{}, err
	}
	for p.atKind(tokPlus) || p.atKind(tokMinus) {
		isAdd := p.atKind(tokPlus)
		p.advance()
		right, err := p.parseMul()
		if err != nil {
			return ir.Expr{}, err
		}
		if isAdd {
			left = ir.Add(left, right)
		} else {
			left = ir.Sub(left, right)
		}
	}
	return left, nil
}

func (p *parser) parseMul() (ir.Expr, error) {
	left, err := p.parseUnary()
	if err != nil {
		return ir.Expr{}, err
	}
	for p.atKind(tokStar) || p.atKind(tokSlash) || p.atKind(tokPercent) {
		k := p.cur().kind
		p.advance()
		right, err := p.parseUnary()
		if err != nil {
			return ir.Expr{}, err
		}
		switch k {
		case tokStar:
			left = ir.Mul(left, right)
		case tokSlash:
			left = ir.Div(left, right)
		case tokPercent:
			left = ir.Mod(left, right)
		}
	}
	return left, nil
}

func (p *parser) parseUnary() (ir.Expr, error) {
	if p.atKind(tokMinus) {
		p.advance()
		operand, err := p.parseUnary()
		if err != nil {
			return ir.Expr{}, err
		}
		return ir.Neg(operand), nil
	}
	if p.atKind(tokBang) {
		p.advance()
		operand, err := p.parseUnary()
		if err != nil {
			return ir.Expr{}, err
		}
		return ir.Not(operand), nil
	}
	return p.parsePostfix()
}

func (p *parser) parsePostfix() (ir.Expr, error) {
	base, err := p.parsePrimary()
	if err != nil {
		return ir.Expr{}, err
	}
	for {
		switch {
		case p.atKind(tokLBracket):
			p.advance()
			base, err = p.parseIndexOrSlice(base)
			if err != nil {
				return ir.Expr{}, err
			}
		case p.atKind(tokDot):
			p.advance()
			nameTok, err := p.expect(tokIdent, "field name")
			if err != nil {
				return ir.Expr{}, err
			}
			base = ir.Call(builtins.Get.CallIndex(), []ir.Expr{base, ir.String(nameTok.text)})
		default:
			return base, nil
		}
	}
}

func (p *parser) parseIndexOrSlice(base ir.Expr) (ir.Expr, error) {
	if p.atKind(tokColon) {
		p.advance()
		if p.atKind(tokRBracket) {
			p.advance()
			return ir.Call(builtins.Slice.CallIndex(), []ir.Expr{base, ir.Null(), ir.Null()}), nil
		}
		end, err := p.parseExpr()
		if err != nil {
			return ir.Expr{}, err
		}
		if _, err := p.expect(tokRBracket, "']'"); err != nil {
			return ir.Expr{}, err
		}
		return ir.Call(builtins.Slice.CallIndex(), []ir.Expr{base, ir.Null(), end}), nil
	}
	first, err := p.parseExpr()
	if err != nil {
		return ir.Expr{}, err
	}
	if p.atKind(tokColon) {
		p.advance()
		if p.atKind(tokRBracket) {
			p.advance()
			return ir.Call(builtins.Slice.CallIndex(), []ir.Expr{base, first, ir.Null()}), nil
		}
		end, err := p.parseExpr()
		if err != nil {
			return ir.Expr{}, err
		}
		if _, err := p.expect(tokRBracket, "']'"); err != nil {
			return ir.Expr{}, err
		}
		return ir.Call(builtins.Slice.CallIndex(), []ir.Expr{base, first, end}), nil
	}
	if _, err := p.expect(tokRBracket, "']'"); err != nil {
		return ir.Expr{}, err
	}
	return ir.Call(builtins.Get.CallIndex(), []ir.Expr{base, first}), nil
}

func (p *parser) parsePrimary() (ir.Expr, error) {
	line := p.curLine()
	switch {
	case p.atKind(tokInt):
		t := p.advance()
		return ir.Int(t.ival), nil
	case p.atKind(tokString):
		t := p.advance()
		return ir.String(t.text), nil
	case p.atText("true"):
		p.advance()
		return ir.Bool(true), nil
	case p.atText("false"):
		p.advance()
		return ir.Bool(false), nil
	case p.atText("null"):
		p.advance()
		return ir.Null(), nil
	case p.atText("if"):
		return p.parseIfExpr()
	case p.atText("match"):
		return p.parseMatchExpr()
	case p.atKind(tokPipe):
		return p.parseClosure()
	case p.atKind(tokLBracket):
		return p.parseArrayLiteral()
	case p.atKind(tokLBrace):
		return p.parseBraceExpr()
	case p.atKind(tokLParen):
		return p.parseParenExpr()
	case p.atKind(tokIdent):
		return p.parseIdentOrCall()
	}
	return ir.Expr{}, errf(line, "unexpected token %q", p.cur().text)
}

func (p *parser) parseParenExpr() (ir.Expr, error) {
	p.advance() // '('
	inner, err := p.parseExpr()
	if err != nil {
		return ir.Expr{}, err
	}
	if _, err := p.expect(tokRParen, "')'"); err != nil {
		return ir.Expr{}, err
	}
	if p.atKind(tokLParen) && inner.Kind == ir.ExprClosure {
		args, err := p.parseArgList()
		if err != nil {
			return ir.Expr{}, err
		}
		return ir.ClosureCall(*inner.Closure, args), nil
	}
	return inner, nil
}

// parseBraceExpr disambiguates `{ key: value, ... }` map literals from
// `{ stmts; tail }` blocks by looking for an immediate `ident|string :`
// (not `::`) after the opening brace.
func (p *parser) parseBraceExpr() (ir.Expr, error) {
	if p.looksLikeMapLiteral() {
		return p.parseMapLiteral()
	}
	stmts, tail, err := p.parseBraceBlock()
	if err != nil {
		return ir.Expr{}, err
	}
	return ir.Block(stmts, tail), nil
}

func (p *parser) looksLikeMapLiteral() bool {
	if p.pos+1 >= len(p.toks) {
		return false
	}
	first := p.toks[p.pos+1]
	if first.kind != tokIdent && first.kind != tokString {
		return false
	}
	if first.kind == tokIdent && isReservedWord(first.text) {
		return false
	}
	if p.pos+2 >= len(p.toks) {
		return false
	}
	return p.toks[p.pos+2].kind == tokColon
}

func (p *parser) parseMapLiteral() (ir.Expr, error) {
	line := p.curLine()
	p.advance() // '{'
	tmp := p.allocTempSlot()
	stmts := []ir.Stmt{ir.Let(tmp, ir.Call(builtins.MapNew.CallIndex(), nil), uint32(line))}
	for !p.atKind(tokRBrace) {
		var key ir.Expr
		switch {
		case p.atKind(tokString):
			key = ir.String(p.advance().text)
		case p.atKind(tokIdent):
			key = ir.String(p.advance().text)
		default:
			return ir.Expr{}, errf(p.curLine(), "expected map key, found %q", p.cur().text)
		}
		if _, err := p.expect(tokColon, "':'"); err != nil {
			return ir.Expr{}, err
		}
		val, err := p.parseExpr()
		if err != nil {
			return ir.Expr{}, err
		}
		stmts = append(stmts, ir.Assign(tmp, ir.Call(builtins.Set.CallIndex(), []ir.Expr{ir.Var(tmp), key, val}), uint32(line)))
		if p.atKind(tokComma) {
			p.advance()
		}
	}
	if _, err := p.expect(tokRBrace, "'}'"); err != nil {
		return ir.Expr{}, err
	}
	return ir.Block(stmts, ir.Var(tmp)), nil
}

func (p *parser) parseArrayLiteral() (ir.Expr, error) {
	line := p.curLine()
	p.advance() // '['
	tmp := p.allocTempSlot()
	stmts := []ir.Stmt{ir.Let(tmp, ir.Call(builtins.ArrayNew.CallIndex(), nil), uint32(line))}
	for !p.atKind(tokRBracket) {
		item, err := p.parseExpr()
		if err != nil {
			return ir.Expr{}, err
		}
		stmts = append(stmts, ir.Assign(tmp, ir.Call(builtins.ArrayPush.CallIndex(), []ir.Expr{ir.Var(tmp), item}), uint32(line)))
		if p.atKind(tokComma) {
			p.advance()
		}
	}
	if _, err := p.expect(tokRBracket, "']'"); err != nil {
		return ir.Expr{}, err
	}
	return ir.Block(stmts, ir.Var(tmp)), nil
}

func (p *parser) parseMatchExpr() (ir.Expr, error) {
	p.advance() // "match"
	value, err := p.parseExpr()
	if err != nil {
		return ir.Expr{}, err
	}
	if _, err := p.expect(tokLBrace, "'{'"); err != nil {
		return ir.Expr{}, err
	}
	valueSlot := p.allocTempSlot()
	resultSlot := p.allocTempSlot()
	var arms []ir.MatchArm
	defaultExpr := ir.Null()
	haveDefault := false
	for !p.atKind(tokRBrace) {
		var pat ir.MatchPattern
		switch {
		case p.atText("_"):
			p.advance()
			pat = ir.MatchPattern{IsWild: true}
		case p.atKind(tokInt):
			pat = ir.MatchPattern{IsInt: true, Int: p.advance().ival}
		case p.atKind(tokString):
			pat = ir.MatchPattern{IsStr: true, Str: p.advance().text}
		default:
			return ir.Expr{}, errf(p.curLine(), "invalid match pattern %q", p.cur().text)
		}
		if _, err := p.expect(tokFatArrow, "'=>'"); err != nil {
			return ir.Expr{}, err
		}
		result, err := p.parseExpr()
		if err != nil {
			return ir.Expr{}, err
		}
		if p.atKind(tokComma) {
			p.advance()
		}
		if pat.IsWild {
			defaultExpr = result
			haveDefault = true
		} else {
			arms = append(arms, ir.MatchArm{Pattern: pat, Result: result})
		}
	}
	if _, err := p.expect(tokRBrace, "'}'"); err != nil {
		return ir.Expr{}, err
	}
	if !haveDefault {
		return ir.Expr{}, errf(p.curLine(), "match expression missing required `_ => ...` arm")
	}
	return ir.Match(valueSlot, resultSlot, value, arms, defaultExpr), nil
}

func (p *parser) parseClosure() (ir.Expr, error) {
	p.advance() // '|'
	var params []string
	for !p.atKind(tokPipe) {
		t, err := p.expect(tokIdent, "closure parameter")
		if err != nil {
			return ir.Expr{}, err
		}
		params = append(params, t.text)
		if p.atKind(tokComma) {
			p.advance()
		}
	}
	p.advance() // closing '|'

	outer := make(map[string]uint8, len(p.locals))
	for k, v := range p.locals {
		outer[k] = v
	}
	// A nested closure can also capture its immediately enclosing closure's
	// params and already-captured names, so fold those into outer too.
	if len(p.closureStack) > 0 {
		enclosing := p.closureStack[len(p.closureStack)-1]
		for k, v := range enclosing.outer {
			outer[k] = v
		}
		for k, v := range enclosing.own {
			outer[k] = v
		}
	}
	ctx := &closureCtx{outer: outer, own: map[string]uint8{}}
	p.closureStack = append(p.closureStack, ctx)

	paramSlots := make([]uint8, len(params))
	for i, name := range params {
		slot := p.allocTempSlot()
		ctx.own[name] = slot
		paramSlots[i] = slot
	}

	body, err := p.parseExpr()
	if err != nil {
		return ir.Expr{}, err
	}

	p.closureStack = p.closureStack[:len(p.closureStack)-1]

	return ir.ClosureLit(ir.ClosureExpr{ParamSlots: paramSlots, CaptureCopies: ctx.captures, Body: body}), nil
}

func (p *parser) parseIdentOrCall() (ir.Expr, error) {
	t := p.advance()
	name := t.text
	if p.atKind(tokLParen) {
		args, err := p.parseArgList()
		if err != nil {
			return ir.Expr{}, err
		}
		return p.resolveCall(name, args)
	}
	if len(p.closureStack) > 0 {
		ctx := p.closureStack[len(p.closureStack)-1]
		if slot, ok := ctx.own[name]; ok {
			return ir.Var(slot), nil
		}
		if outerSlot, ok := ctx.outer[name]; ok {
			innerSlot := p.allocTempSlot()
			ctx.own[name] = innerSlot
			ctx.captures = append(ctx.captures, ir.CaptureCopy{From: outerSlot, To: innerSlot})
			return ir.Var(innerSlot), nil
		}
		return ir.Expr{}, errf(t.line, "undefined variable %q", name)
	}
	if slot, ok := p.locals[name]; ok {
		return ir.Var(slot), nil
	}
	return ir.Expr{}, errf(t.line, "undefined variable %q", name)
}

func (p *parser) parseArgList() ([]ir.Expr, error) {
	p.advance() // '('
	var args []ir.Expr
	for !p.atKind(tokRParen) {
		a, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		args = append(args, a)
		if p.atKind(tokComma) {
			p.advance()
		}
	}
	p.advance() // ')'
	return args, nil
}

func (p *parser) resolveCall(name string, args []ir.Expr) (ir.Expr, error) {
	if closure, ok := p.namedClosures[name]; ok {
		return ir.ClosureCall(*closure, args), nil
	}
	if decl, ok := p.funcs[name]; ok {
		return ir.Call(decl.Index, args), nil
	}
	if fn, ok := builtins.Lookup(name); ok {
		return ir.Call(fn.CallIndex(), args), nil
	}
	if idx, ok := p.importIndex[name]; ok {
		return ir.Call(idx, args), nil
	}
	idx := uint16(len(p.imports))
	p.imports = append(p.imports, ir.HostImportRef{Name: name, Arity: uint8(len(args))})
	p.importIndex[name] = idx
	return ir.Call(idx, args), nil
}
