package frontends

import (
	"fmt"
	"strings"

	"edgevm/sourcemap"
)

// lowerScheme reads s-expressions and rewrites define/set!/if/lambda/do into
// canonical brace syntax, and require/import (with prefix-in/only-in/prefix/
// only variants) into `use` declarations plus a prefix-rewrite table applied
// to call sites, the same way the JavaScript frontend resolves `import * as
// ns from "vm"` before the shared parser ever sees an alias.
//
// Rebuilt from original_source/pd-vm/tests/compiler_scheme_tests.rs (the
// frontend's own source was not retrieved) plus spec.md §4.2's description of
// the supported special forms.
func lowerScheme(source string) (sourcemap.LoweredSource, error) {
	forms, err := readTopLevelForms(source)
	if err != nil {
		return sourcemap.LoweredSource{}, err
	}

	aliases := map[string]string{} // symbol prefix -> rewritten qualifier ("" = strip to unqualified)
	var useLines []string
	var rest []sexp

	for _, f := range forms {
		if f.isAtom {
			rest = append(rest, f)
			continue
		}
		if len(f.list) > 0 && f.list[0].isAtom && (f.list[0].atom == "require" || f.list[0].atom == "import") {
			line, prefix, qualifier, err := lowerSchemeImport(f)
			if err != nil {
				return sourcemap.LoweredSource{}, err
			}
			useLines = append(useLines, line)
			if prefix != "" {
				aliases[prefix] = qualifier
			}
			continue
		}
		rest = append(rest, f)
	}

	var body []string
	for i, f := range rest {
		isLast := i == len(rest)-1
		text, isExprValue, err := lowerSchemeTopLevelForm(f, aliases)
		if err != nil {
			return sourcemap.LoweredSource{}, err
		}
		if isLast && isExprValue {
			body = append(body, text)
		} else if isExprValue {
			body = append(body, text+";")
		} else {
			body = append(body, text)
		}
	}

	lines := append(append([]string{}, useLines...), body...)
	return sourcemap.IdentityLowered(strings.Join(lines, "\n")), nil
}

// lowerSchemeImport handles (require (prefix-in alias "path")),
// (require (only-in "path" names...)), (import (prefix "path" alias)), and
// (import (only "path" names...)). It returns the lowered `use` line, and,
// for prefix forms, the alias prefix string and the qualifier calls using
// that prefix should rewrite to.
func lowerSchemeImport(f sexp) (line string, prefix string, qualifier string, err error) {
	if len(f.list) != 2 || f.list[1].isAtom {
		return "", "", "", &LowerError{Line: f.line, Message: "malformed require/import form"}
	}
	spec := f.list[1]
	if len(spec.list) == 0 || !spec.list[0].isAtom {
		return "", "", "", &LowerError{Line: f.line, Message: "malformed require/import spec"}
	}
	kind := spec.list[0].atom

	switch kind {
	case "prefix-in":
		// (prefix-in alias "path")
		if len(spec.list) != 3 {
			return "", "", "", &LowerError{Line: f.line, Message: "prefix-in requires an alias and a path"}
		}
		aliasPrefix := spec.list[1].atom
		path := unquote(spec.list[2].atom)
		return schemeUseLine(path), aliasPrefix, schemeQualifierFor(path), nil
	case "prefix":
		// (prefix "path" alias)
		if len(spec.list) != 3 {
			return "", "", "", &LowerError{Line: f.line, Message: "prefix requires a path and an alias"}
		}
		path := unquote(spec.list[1].atom)
		aliasPrefix := spec.list[2].atom
		return schemeUseLine(path), aliasPrefix, schemeQualifierFor(path), nil
	case "only-in":
		// (only-in "path" name...)
		if len(spec.list) < 2 {
			return "", "", "", &LowerError{Line: f.line, Message: "only-in requires a path"}
		}
		path := unquote(spec.list[1].atom)
		names := atomsToStrings(spec.list[2:])
		return schemeUseNamesLine(path, names), "", "", nil
	case "only":
		// (only "path" name...)
		if len(spec.list) < 2 {
			return "", "", "", &LowerError{Line: f.line, Message: "only requires a path"}
		}
		path := unquote(spec.list[1].atom)
		names := atomsToStrings(spec.list[2:])
		return schemeUseNamesLine(path, names), "", "", nil
	default:
		return "", "", "", &LowerError{Line: f.line, Message: fmt.Sprintf("unsupported require/import form %q", kind)}
	}
}

// schemeQualifierFor returns the empty string for the reserved host module
// "vm" (host calls are unqualified once rewritten) and the module's own
// path, unchanged, as a `::`-qualifier prefix otherwise.
func schemeQualifierFor(path string) string {
	if path == "vm" {
		return ""
	}
	return path
}

func schemeUseLine(path string) string {
	if path == "vm" {
		return "use vm::*;"
	}
	return fmt.Sprintf("use %q::*;", path)
}

func schemeUseNamesLine(path string, names []string) string {
	return fmt.Sprintf("use %q::{%s};", path, strings.Join(names, ", "))
}

func atomsToStrings(forms []sexp) []string {
	out := make([]string, 0, len(forms))
	for _, f := range forms {
		out = append(out, f.atom)
	}
	return out
}

func unquote(s string) string {
	if len(s) >= 2 && s[0] == '"' && s[len(s)-1] == '"' {
		return s[1 : len(s)-1]
	}
	return s
}

// lowerSchemeTopLevelForm lowers one non-import top-level form. isExprValue
// is true when text is a value expression (needing a trailing ";" unless it
// is the program's final form); false for forms (fn decls, use lines) that
// are already complete statements.
func lowerSchemeTopLevelForm(f sexp, aliases map[string]string) (text string, isExprValue bool, err error) {
	if f.isAtom {
		expr, err := lowerSchemeExpr(f, aliases)
		return expr, true, err
	}
	if len(f.list) > 0 && f.list[0].isAtom {
		switch f.list[0].atom {
		case "define":
			return lowerSchemeDefine(f, aliases)
		case "set!":
			return lowerSchemeSet(f, aliases)
		}
	}
	expr, err := lowerSchemeExpr(f, aliases)
	return expr, true, err
}

func lowerSchemeDefine(f sexp, aliases map[string]string) (string, bool, error) {
	if len(f.list) < 3 {
		return "", false, &LowerError{Line: f.line, Message: "define requires a name and a value"}
	}
	target := f.list[1]
	if !target.isAtom {
		// (define (name args...) body...)
		if len(target.list) == 0 || !target.list[0].isAtom {
			return "", false, &LowerError{Line: f.line, Message: "malformed function define"}
		}
		name := target.list[0].atom
		params := atomsToStrings(target.list[1:])
		bodyText, err := lowerSchemeBody(f.list[2:], aliases)
		if err != nil {
			return "", false, err
		}
		return fmt.Sprintf("fn %s(%s) {\n%s\n}", name, strings.Join(params, ", "), bodyText), false, nil
	}

	// (define name value)
	name := target.atom
	if len(f.list) == 3 && !f.list[2].isAtom && len(f.list[2].list) > 0 && f.list[2].list[0].isAtom && f.list[2].list[0].atom == "lambda" {
		closure, err := lowerSchemeLambda(f.list[2], aliases)
		if err != nil {
			return "", false, err
		}
		return fmt.Sprintf("let %s = %s;", name, closure), false, nil
	}
	value, err := lowerSchemeExpr(f.list[2], aliases)
	if err != nil {
		return "", false, err
	}
	return fmt.Sprintf("let %s = %s;", name, value), false, nil
}

func lowerSchemeSet(f sexp, aliases map[string]string) (string, bool, error) {
	if len(f.list) != 3 || !f.list[1].isAtom {
		return "", false, &LowerError{Line: f.line, Message: "set! requires a name and a value"}
	}
	value, err := lowerSchemeExpr(f.list[2], aliases)
	if err != nil {
		return "", false, err
	}
	return fmt.Sprintf("%s = %s;", f.list[1].atom, value), false, nil
}

// lowerSchemeBody lowers a function/lambda body: every form but the last
// becomes a statement, the last remains a trailing expression.
func lowerSchemeBody(forms []sexp, aliases map[string]string) (string, error) {
	if len(forms) == 0 {
		return "null", nil
	}
	var lines []string
	for i, f := range forms {
		text, isExprValue, err := lowerSchemeTopLevelForm(f, aliases)
		if err != nil {
			return "", err
		}
		if i == len(forms)-1 && isExprValue {
			lines = append(lines, text)
		} else if isExprValue {
			lines = append(lines, text+";")
		} else {
			lines = append(lines, text)
		}
	}
	return strings.Join(lines, "\n"), nil
}

func lowerSchemeLambda(f sexp, aliases map[string]string) (string, error) {
	if len(f.list) < 3 || f.list[1].isAtom {
		return "", &LowerError{Line: f.line, Message: "malformed lambda"}
	}
	params := atomsToStrings(f.list[1].list)
	body, err := lowerSchemeBody(f.list[2:], aliases)
	if err != nil {
		return "", err
	}
	if len(f.list) == 3 {
		return fmt.Sprintf("|%s| %s", strings.Join(params, ", "), body), nil
	}
	return fmt.Sprintf("|%s| { %s }", strings.Join(params, ", "), body), nil
}

var schemeBinaryOps = map[string]string{
	"+": "+", "-": "-", "*": "*", "/": "/",
	">": ">", "<": "<", "=": "==", ">=": ">=", "<=": "<=",
	"and": "&&", "or": "||",
}

func lowerSchemeExpr(f sexp, aliases map[string]string) (string, error) {
	if f.isAtom {
		return lowerSchemeAtom(f.atom, aliases), nil
	}
	if len(f.list) == 0 {
		return "null", nil
	}
	head := f.list[0]
	if head.isAtom {
		switch head.atom {
		case "if":
			return lowerSchemeIf(f, aliases)
		case "lambda":
			return lowerSchemeLambda(f, aliases)
		case "do":
			return lowerSchemeDo(f, aliases)
		case "not":
			if len(f.list) != 2 {
				return "", &LowerError{Line: f.line, Message: "not takes exactly one argument"}
			}
			operand, err := lowerSchemeExpr(f.list[1], aliases)
			if err != nil {
				return "", err
			}
			return fmt.Sprintf("!(%s)", operand), nil
		}
		if op, ok := schemeBinaryOps[head.atom]; ok {
			return lowerSchemeFoldedOp(f, op, aliases)
		}
	}
	// Plain call.
	callee, err := lowerSchemeExpr(head, aliases)
	if err != nil {
		return "", err
	}
	args := make([]string, 0, len(f.list)-1)
	for _, a := range f.list[1:] {
		argText, err := lowerSchemeExpr(a, aliases)
		if err != nil {
			return "", err
		}
		args = append(args, argText)
	}
	return fmt.Sprintf("%s(%s)", callee, strings.Join(args, ", ")), nil
}

func lowerSchemeFoldedOp(f sexp, op string, aliases map[string]string) (string, error) {
	args := f.list[1:]
	if len(args) == 0 {
		return "", &LowerError{Line: f.line, Message: fmt.Sprintf("%s requires at least one argument", f.list[0].atom)}
	}
	if len(args) == 1 && op == "-" {
		operand, err := lowerSchemeExpr(args[0], aliases)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("(-%s)", operand), nil
	}
	parts := make([]string, 0, len(args))
	for _, a := range args {
		text, err := lowerSchemeExpr(a, aliases)
		if err != nil {
			return "", err
		}
		parts = append(parts, text)
	}
	acc := parts[0]
	for _, p := range parts[1:] {
		acc = fmt.Sprintf("(%s %s %s)", acc, op, p)
	}
	return acc, nil
}

func lowerSchemeIf(f sexp, aliases map[string]string) (string, error) {
	if len(f.list) != 3 && len(f.list) != 4 {
		return "", &LowerError{Line: f.line, Message: "if takes a condition, a then-branch, and an optional else-branch"}
	}
	cond, err := lowerSchemeExpr(f.list[1], aliases)
	if err != nil {
		return "", err
	}
	then, err := lowerSchemeExpr(f.list[2], aliases)
	if err != nil {
		return "", err
	}
	elseExpr := "null"
	if len(f.list) == 4 {
		elseExpr, err = lowerSchemeExpr(f.list[3], aliases)
		if err != nil {
			return "", err
		}
	}
	return fmt.Sprintf("if %s { %s } else { %s }", cond, then, elseExpr), nil
}

// lowerSchemeDo lowers (do ((var init step)...) ((test result...)) body...)
// into a sequence of let-bindings, a while loop stepping each variable, and
// a trailing expression producing the result, mirroring R7RS do semantics:
// the test is checked before each iteration (including the first) and the
// step expressions evaluate against the previous iteration's bindings.
func lowerSchemeDo(f sexp, aliases map[string]string) (string, error) {
	if len(f.list) < 3 || f.list[1].isAtom || f.list[2].isAtom {
		return "", &LowerError{Line: f.line, Message: "malformed do form"}
	}
	bindings := f.list[1].list
	testClause := f.list[2].list
	if len(testClause) < 1 {
		return "", &LowerError{Line: f.line, Message: "do requires a test clause"}
	}

	var names, inits, steps []string
	for _, b := range bindings {
		if len(b.list) < 2 {
			return "", &LowerError{Line: f.line, Message: "malformed do binding"}
		}
		name := b.list[0].atom
		init, err := lowerSchemeExpr(b.list[1], aliases)
		if err != nil {
			return "", err
		}
		step := name
		if len(b.list) >= 3 {
			s, err := lowerSchemeExpr(b.list[2], aliases)
			if err != nil {
				return "", err
			}
			step = s
		}
		names = append(names, name)
		inits = append(inits, init)
		steps = append(steps, step)
	}

	test, err := lowerSchemeExpr(testClause[0], aliases)
	if err != nil {
		return "", err
	}
	result := "null"
	if len(testClause) > 1 {
		result, err = lowerSchemeExpr(testClause[len(testClause)-1], aliases)
		if err != nil {
			return "", err
		}
	}

	bodyCommands, err := lowerSchemeBody(f.list[3:], aliases)
	if err != nil {
		return "", err
	}
	if bodyCommands == "null" {
		bodyCommands = ""
	} else {
		bodyCommands += ";\n"
	}

	var sb strings.Builder
	sb.WriteString("{\n")
	for i, name := range names {
		fmt.Fprintf(&sb, "let %s = %s;\n", name, inits[i])
	}
	fmt.Fprintf(&sb, "while !(%s) {\n", test)
	sb.WriteString(bodyCommands)
	for i, name := range names {
		fmt.Fprintf(&sb, "%s = %s;\n", name, steps[i])
	}
	sb.WriteString("}\n")
	sb.WriteString(result)
	sb.WriteString("\n}")
	return sb.String(), nil
}

func lowerSchemeAtom(atom string, aliases map[string]string) string {
	switch atom {
	case "#t":
		return "true"
	case "#f":
		return "false"
	}
	if len(atom) > 0 && (atom[0] == '"' || isDigitOrSign(atom)) {
		return atom
	}
	for prefix, qualifier := range aliases {
		if strings.HasPrefix(atom, prefix) {
			name := atom[len(prefix):]
			if qualifier == "" {
				return name
			}
			return fmt.Sprintf("%s::%s", qualifier, name)
		}
	}
	return atom
}

func isDigitOrSign(s string) bool {
	if s == "" {
		return false
	}
	c := s[0]
	if c >= '0' && c <= '9' {
		return true
	}
	if (c == '-' || c == '+') && len(s) > 1 && s[1] >= '0' && s[1] <= '9' {
		return true
	}
	return false
}

// --- s-expression reader ---

type sexp struct {
	isAtom bool
	atom   string
	list   []sexp
	line   int
}

func readTopLevelForms(source string) ([]sexp, error) {
	r := &sexpReader{src: source, line: 1}
	var forms []sexp
	for {
		r.skipWhitespaceAndComments()
		if r.pos >= len(r.src) {
			break
		}
		f, err := r.readForm()
		if err != nil {
			return nil, err
		}
		forms = append(forms, f)
	}
	return forms, nil
}

type sexpReader struct {
	src  string
	pos  int
	line int
}

func (r *sexpReader) skipWhitespaceAndComments() {
	for r.pos < len(r.src) {
		c := r.src[r.pos]
		if c == '\n' {
			r.line++
			r.pos++
			continue
		}
		if c == ' ' || c == '\t' || c == '\r' {
			r.pos++
			continue
		}
		if c == ';' {
			for r.pos < len(r.src) && r.src[r.pos] != '\n' {
				r.pos++
			}
			continue
		}
		break
	}
}

func (r *sexpReader) readForm() (sexp, error) {
	r.skipWhitespaceAndComments()
	if r.pos >= len(r.src) {
		return sexp{}, &LowerError{Line: r.line, Message: "unexpected end of scheme input"}
	}
	startLine := r.line
	c := r.src[r.pos]
	if c == '(' {
		r.pos++
		var items []sexp
		for {
			r.skipWhitespaceAndComments()
			if r.pos >= len(r.src) {
				return sexp{}, &LowerError{Line: startLine, Message: "unterminated scheme list"}
			}
			if r.src[r.pos] == ')' {
				r.pos++
				break
			}
			item, err := r.readForm()
			if err != nil {
				return sexp{}, err
			}
			items = append(items, item)
		}
		return sexp{list: items, line: startLine}, nil
	}
	if c == '"' {
		start := r.pos
		r.pos++
		for r.pos < len(r.src) && r.src[r.pos] != '"' {
			if r.src[r.pos] == '\\' && r.pos+1 < len(r.src) {
				r.pos++
			}
			if r.src[r.pos] == '\n' {
				r.line++
			}
			r.pos++
		}
		if r.pos >= len(r.src) {
			return sexp{}, &LowerError{Line: startLine, Message: "unterminated scheme string"}
		}
		r.pos++
		return sexp{isAtom: true, atom: r.src[start:r.pos], line: startLine}, nil
	}
	start := r.pos
	for r.pos < len(r.src) && !isSchemeDelimiter(r.src[r.pos]) {
		r.pos++
	}
	if r.pos == start {
		return sexp{}, &LowerError{Line: startLine, Message: fmt.Sprintf("unexpected character %q", string(c))}
	}
	return sexp{isAtom: true, atom: r.src[start:r.pos], line: startLine}, nil
}

func isSchemeDelimiter(c byte) bool {
	switch c {
	case '(', ')', ' ', '\t', '\n', '\r', ';', '"':
		return true
	default:
		return false
	}
}
