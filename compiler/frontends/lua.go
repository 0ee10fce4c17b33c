package frontends

import (
	"fmt"
	"strings"

	"edgevm/sourcemap"
)

type luaBlock int

const (
	luaBlockIf luaBlock = iota
	luaBlockFor
	luaBlockWhile
	luaBlockFunctionDecl
)

// lowerLua strips comments, rewrites local/function/if/while/numeric-for
// blocks into brace syntax, rewrites inline `function(params) return e end`
// literals into closures, ignores require(...) lines, and maps
// `goto continue` to `continue`.
func lowerLua(source string) (sourcemap.LoweredSource, error) {
	cleaned, err := removeLuaComments(source)
	if err != nil {
		return sourcemap.LoweredSource{}, err
	}

	var out []string
	var blocks []luaBlock

	rawLines := strings.Split(cleaned, "\n")
	for index, rawLine := range rawLines {
		lineNo := index + 1
		trimmedRaw := strings.TrimSpace(rawLine)
		if trimmedRaw == "" {
			out = append(out, "")
			continue
		}
		if isLuaRequireLine(trimmedRaw) {
			out = append(out, "")
			continue
		}
		rewritten, err := rewriteLuaInlineFunctionLiteral(trimmedRaw, lineNo)
		if err != nil {
			return sourcemap.LoweredSource{}, err
		}
		trimmed := strings.TrimSpace(rewritten)

		if rest, ok := strings.CutPrefix(trimmed, "local "); ok {
			out = append(out, fmt.Sprintf("let %s;", strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(rest), ";"))))
			continue
		}

		if rest, ok := strings.CutPrefix(trimmed, "function "); ok {
			signature := strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(rest), ";"))
			if !strings.HasSuffix(signature, ")") {
				return sourcemap.LoweredSource{}, &LowerError{Line: lineNo, Message: "lua function declaration must end with ')'"}
			}
			if strings.HasSuffix(trimmed, ";") {
				out = append(out, fmt.Sprintf("fn %s;", signature))
			} else {
				out = append(out, fmt.Sprintf("fn %s {", signature))
				blocks = append(blocks, luaBlockFunctionDecl)
			}
			continue
		}

		if rest, ok := strings.CutPrefix(trimmed, "if "); ok {
			if condition, ok := strings.CutSuffix(rest, " then"); ok {
				out = append(out, fmt.Sprintf("if %s {", strings.TrimSpace(condition)))
				blocks = append(blocks, luaBlockIf)
				continue
			}
		}

		if rest, ok := strings.CutPrefix(trimmed, "while "); ok {
			if condition, ok := strings.CutSuffix(rest, " do"); ok {
				out = append(out, fmt.Sprintf("while %s {", strings.TrimSpace(condition)))
				blocks = append(blocks, luaBlockWhile)
				continue
			}
		}

		if rest, ok := strings.CutPrefix(trimmed, "for "); ok {
			if header, ok := strings.CutSuffix(rest, " do"); ok {
				stmt, err := lowerLuaNumericFor(header, lineNo)
				if err != nil {
					return sourcemap.LoweredSource{}, err
				}
				out = append(out, stmt)
				blocks = append(blocks, luaBlockFor)
				continue
			}
		}

		if trimmed == "else" {
			if len(blocks) == 0 || blocks[len(blocks)-1] != luaBlockIf {
				return sourcemap.LoweredSource{}, &LowerError{Line: lineNo, Message: "lua 'else' without matching 'if'"}
			}
			out = append(out, "} else {")
			continue
		}

		if trimmed == "end" {
			if len(blocks) == 0 {
				return sourcemap.LoweredSource{}, &LowerError{Line: lineNo, Message: "lua 'end' without matching block"}
			}
			blocks = blocks[:len(blocks)-1]
			out = append(out, "}")
			continue
		}

		if trimmed == "::continue::" {
			out = append(out, "")
			continue
		}

		if trimmed == "goto continue" || trimmed == "goto continue;" {
			out = append(out, "continue;")
			continue
		}

		// Lua's explicit `return` has no early-exit equivalent in the
		// canonical grammar's block-with-trailing-expression model, so it
		// only ever appears as a block's last line; drop the semicolon
		// rather than append one, so the rewritten line becomes that
		// block's tail expression instead of a discarded statement.
		if rest, ok := strings.CutPrefix(trimmed, "return "); ok {
			out = append(out, strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(rest), ";")))
			continue
		}

		out = append(out, fmt.Sprintf("%s;", strings.TrimSuffix(trimmed, ";")))
	}

	if len(blocks) != 0 {
		lastLine := len(rawLines)
		if lastLine < 1 {
			lastLine = 1
		}
		return sourcemap.LoweredSource{}, &LowerError{Line: lastLine, Message: "unterminated lua block: expected 'end'"}
	}

	return sourcemap.IdentityLowered(strings.Join(out, "\n")), nil
}

func lowerLuaNumericFor(header string, lineNo int) (string, error) {
	eqIndex := strings.Index(header, "=")
	if eqIndex < 0 {
		return "", &LowerError{Line: lineNo, Message: "lua for loop must contain '='"}
	}
	name := strings.TrimSpace(header[:eqIndex])
	if !isValidIdent(name) {
		return "", &LowerError{Line: lineNo, Message: "invalid lua for loop variable"}
	}
	rhs := strings.TrimSpace(header[eqIndex+1:])
	parts := splitTopLevelCSV(rhs)
	if len(parts) < 2 || len(parts) > 3 {
		return "", &LowerError{Line: lineNo, Message: "lua numeric for loop must be 'for name = start, end [, step] do'"}
	}
	startExpr := strings.TrimSpace(parts[0])
	endExpr := strings.TrimSpace(parts[1])
	stepExpr := "1"
	if len(parts) > 2 {
		stepExpr = strings.TrimSpace(parts[2])
	}
	if strings.HasPrefix(stepExpr, "-") {
		return "", &LowerError{Line: lineNo, Message: "negative lua for steps are not supported in this subset"}
	}
	return fmt.Sprintf("for (let %s = %s; %s < ((%s) + 1); %s = %s + (%s)) {",
		name, startExpr, name, endExpr, name, name, stepExpr), nil
}

func isLuaRequireLine(line string) bool {
	trimmed := strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(line), ";"))
	if strings.HasPrefix(trimmed, "require(") {
		return true
	}
	if rest, ok := strings.CutPrefix(trimmed, "local "); ok {
		return strings.Contains(rest, "= require(")
	}
	return false
}

func rewriteLuaInlineFunctionLiteral(line string, lineNo int) (string, error) {
	functionIndex := strings.Index(line, "function(")
	if functionIndex < 0 {
		return line, nil
	}
	prefix := line[:functionIndex]
	if !strings.Contains(prefix, "=") {
		return line, nil
	}
	afterKeyword := line[functionIndex+len("function"):]
	if !strings.HasPrefix(afterKeyword, "(") {
		return line, nil
	}

	depth := 0
	closeIndex := -1
	for idx := 0; idx < len(afterKeyword); idx++ {
		switch afterKeyword[idx] {
		case '(':
			depth++
		case ')':
			if depth == 0 {
				return "", &LowerError{Line: lineNo, Message: "malformed lua function literal parameters"}
			}
			depth--
			if depth == 0 {
				closeIndex = idx
			}
		}
		if closeIndex >= 0 {
			break
		}
	}
	if closeIndex < 0 {
		return "", &LowerError{Line: lineNo, Message: "lua function literal missing ')'"}
	}
	params := strings.TrimSpace(afterKeyword[1:closeIndex])
	if params == "" {
		return "", &LowerError{Line: lineNo, Message: "lua function literal parameters cannot be empty"}
	}

	bodyAndEnd := strings.TrimSpace(afterKeyword[closeIndex+1:])
	bodyRaw, ok := strings.CutSuffix(bodyAndEnd, "end")
	if !ok {
		return "", &LowerError{Line: lineNo, Message: "lua function literal must end with 'end'"}
	}
	bodyRaw = strings.TrimSpace(bodyRaw)
	if !strings.HasPrefix(bodyRaw, "return") {
		return "", &LowerError{Line: lineNo, Message: "lua function literal must use 'return <expr>'"}
	}
	afterReturn := bodyRaw[len("return"):]
	if afterReturn == "" || !isASCIIWhitespace(afterReturn[0]) {
		return "", &LowerError{Line: lineNo, Message: "lua function literal must use 'return <expr>'"}
	}
	body := strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(afterReturn), ";"))
	if body == "" {
		return "", &LowerError{Line: lineNo, Message: "lua function literal return expression cannot be empty"}
	}

	return fmt.Sprintf("%s|%s| %s", prefix, params, body), nil
}

func splitTopLevelCSV(input string) []string {
	var out []string
	var current strings.Builder
	parenDepth := 0
	inString := false
	escaped := false

	for i := 0; i < len(input); i++ {
		ch := input[i]
		if inString {
			current.WriteByte(ch)
			if escaped {
				escaped = false
			} else if ch == '\\' {
				escaped = true
			} else if ch == '"' {
				inString = false
			}
			continue
		}

		switch {
		case ch == '"':
			inString = true
			current.WriteByte(ch)
		case ch == '(':
			parenDepth++
			current.WriteByte(ch)
		case ch == ')':
			if parenDepth > 0 {
				parenDepth--
			}
			current.WriteByte(ch)
		case ch == ',' && parenDepth == 0:
			out = append(out, strings.TrimSpace(current.String()))
			current.Reset()
		default:
			current.WriteByte(ch)
		}
	}

	if strings.TrimSpace(current.String()) != "" {
		out = append(out, strings.TrimSpace(current.String()))
	}
	return out
}

func removeLuaComments(source string) (string, error) {
	b := []byte(source)
	var out strings.Builder
	out.Grow(len(source))
	i := 0
	line := 1
	inString, escaped, inLineComment, inBlockComment := false, false, false, false

	for i < len(b) {
		c := b[i]

		if inLineComment {
			if c == '\n' {
				out.WriteByte('\n')
				inLineComment = false
				line++
			}
			i++
			continue
		}

		if inBlockComment {
			if c == ']' && i+1 < len(b) && b[i+1] == ']' {
				inBlockComment = false
				i += 2
				continue
			}
			if c == '\n' {
				out.WriteByte('\n')
				line++
			}
			i++
			continue
		}

		if inString {
			out.WriteByte(c)
			if escaped {
				escaped = false
			} else if c == '\\' {
				escaped = true
			} else if c == '"' {
				inString = false
			} else if c == '\n' {
				line++
			}
			i++
			continue
		}

		if c == '-' && i+1 < len(b) && b[i+1] == '-' {
			if i+3 < len(b) && b[i+2] == '[' && b[i+3] == '[' {
				inBlockComment = true
				i += 4
				continue
			}
			inLineComment = true
			i += 2
			continue
		}

		if c == '"' {
			inString = true
			out.WriteByte('"')
			i++
			continue
		}

		if c == '\n' {
			line++
		}
		out.WriteByte(c)
		i++
	}

	if inBlockComment {
		return "", &LowerError{Line: line, Message: "unterminated lua block comment"}
	}
	return out.String(), nil
}
