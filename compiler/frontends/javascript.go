package frontends

import (
	"strings"

	"edgevm/sourcemap"
)

// lowerJavaScript rewrites console.log to print, function/const to fn/let,
// recognizes `import * as ns from "vm"` and `require("vm")` forms into
// `use vm::*;`, rewrites namespace-qualified vm calls to unqualified or
// vm::-qualified calls, and rewrites arrow expression bodies to closures.
func lowerJavaScript(source string) (sourcemap.LoweredSource, error) {
	consoleRewritten := rewriteConsoleLogCalls(source)
	keywordRewritten := rewriteJSKeywords(consoleRewritten)

	var lines []string
	inImportBlock := false
	var importBlock strings.Builder
	vmImportEmitted := false
	vmNamespaceAliases := map[string]bool{}

	rawLines := strings.Split(keywordRewritten, "\n")
	for index, rawLine := range rawLines {
		lineNo := index + 1
		trimmed := strings.TrimSpace(rawLine)

		if inImportBlock {
			if importBlock.Len() != 0 {
				importBlock.WriteByte(' ')
			}
			importBlock.WriteString(trimmed)
			block := importBlock.String()
			if !vmImportEmitted && isJSVMImportBlock(block) {
				if alias, ok := parseJSVMNamespaceAliasFromImportBlock(block); ok {
					vmNamespaceAliases[alias] = true
				}
				lines = append(lines, "use vm::*;")
				vmImportEmitted = true
			} else {
				lines = append(lines, "")
			}
			if strings.Contains(trimmed, " from ") || strings.HasSuffix(trimmed, ";") {
				inImportBlock = false
				importBlock.Reset()
			}
			continue
		}

		if strings.HasPrefix(trimmed, "import ") {
			importBlock.Reset()
			importBlock.WriteString(trimmed)
			block := importBlock.String()
			if !vmImportEmitted && isJSVMImportBlock(block) {
				if alias, ok := parseJSVMNamespaceAliasFromImportBlock(block); ok {
					vmNamespaceAliases[alias] = true
				}
				lines = append(lines, "use vm::*;")
				vmImportEmitted = true
			} else {
				lines = append(lines, "")
			}
			if !strings.Contains(trimmed, " from ") && !strings.HasSuffix(trimmed, ";") {
				inImportBlock = true
			}
			continue
		}

		if isJSVMRequireLine(rawLine) {
			if alias, ok := parseJSVMRequireNamespaceAlias(rawLine); ok {
				vmNamespaceAliases[alias] = true
			}
			if !vmImportEmitted {
				lines = append(lines, "use vm::*;")
				vmImportEmitted = true
			} else {
				lines = append(lines, "")
			}
			continue
		}

		if isJSExternalDeclLine(rawLine) {
			lines = append(lines, "")
			continue
		}

		namespaceRewritten := rewriteJSVMNamespaceCalls(rawLine, vmNamespaceAliases)
		rewrittenLine, err := rewriteJSArrowLine(namespaceRewritten, lineNo)
		if err != nil {
			return sourcemap.LoweredSource{}, err
		}
		lines = append(lines, rewrittenLine)
	}

	return sourcemap.IdentityLowered(strings.Join(lines, "\n")), nil
}

func isJSExternalDeclLine(line string) bool {
	trimmed := strings.TrimSpace(line)
	if trimmed == "" {
		return false
	}
	if strings.HasPrefix(trimmed, "import ") {
		return true
	}
	if !(strings.HasPrefix(trimmed, "let ") || strings.HasPrefix(trimmed, "const ") || strings.HasPrefix(trimmed, "var ")) {
		return false
	}
	return strings.Contains(trimmed, "require(")
}

func isJSVMRequireLine(line string) bool {
	trimmed := strings.TrimSpace(line)
	if trimmed == "" {
		return false
	}
	return strings.Contains(trimmed, `require("vm")`) || strings.Contains(trimmed, `require('vm')`)
}

func isJSVMImportBlock(block string) bool {
	trimmed := strings.TrimSpace(block)
	if !strings.HasPrefix(trimmed, "import ") {
		return false
	}
	if fromIdx := strings.Index(trimmed, " from "); fromIdx >= 0 {
		tail := trimmed[fromIdx+len(" from "):]
		spec, _, ok := extractQuotedLiteral(tail)
		return ok && spec == "vm"
	}
	tail := trimmed[len("import "):]
	spec, _, ok := extractQuotedLiteral(tail)
	return ok && spec == "vm"
}

func parseJSVMNamespaceAliasFromImportBlock(block string) (string, bool) {
	trimmed := strings.TrimSpace(block)
	if !isJSVMImportBlock(trimmed) {
		return "", false
	}
	fromIdx := strings.Index(trimmed, " from ")
	if fromIdx < 0 {
		return "", false
	}
	head := strings.TrimSpace(trimmed[len("import "):fromIdx])
	if !strings.HasPrefix(head, "* as ") {
		return "", false
	}
	alias := strings.TrimSpace(head[len("* as "):])
	if isValidIdent(alias) {
		return alias, true
	}
	return "", false
}

func parseJSVMRequireNamespaceAlias(line string) (string, bool) {
	trimmed := strings.TrimSpace(strings.TrimRight(strings.TrimSpace(line), ";"))
	var rest string
	switch {
	case strings.HasPrefix(trimmed, "let "):
		rest = trimmed[len("let "):]
	case strings.HasPrefix(trimmed, "const "):
		rest = trimmed[len("const "):]
	case strings.HasPrefix(trimmed, "var "):
		rest = trimmed[len("var "):]
	default:
		return "", false
	}
	eqIdx := strings.Index(rest, "=")
	if eqIdx < 0 {
		return "", false
	}
	name := strings.TrimSpace(rest[:eqIdx])
	if !isValidIdent(name) {
		return "", false
	}
	spec, remainder, ok := parseJSRequireCall(strings.TrimSpace(rest[eqIdx+1:]))
	if ok && spec == "vm" && remainder == "" {
		return name, true
	}
	return "", false
}

func parseJSRequireCall(input string) (string, string, bool) {
	rest := strings.TrimSpace(input)
	if !strings.HasPrefix(rest, "require") {
		return "", "", false
	}
	rest = strings.TrimLeft(rest[len("require"):], " \t")
	if !strings.HasPrefix(rest, "(") {
		return "", "", false
	}
	rest = strings.TrimLeft(rest[1:], " \t")
	if rest == "" {
		return "", "", false
	}
	quote := rest[0]
	if quote != '"' && quote != '\'' {
		return "", "", false
	}
	rest = rest[1:]
	end := strings.IndexByte(rest, quote)
	if end < 0 {
		return "", "", false
	}
	spec := rest[:end]
	tail := strings.TrimLeft(rest[end+1:], " \t")
	if !strings.HasPrefix(tail, ")") {
		return "", "", false
	}
	remainder := strings.TrimSpace(tail[1:])
	return spec, remainder, true
}

func rewriteJSVMNamespaceCalls(line string, vmNamespaceAliases map[string]bool) string {
	if len(vmNamespaceAliases) == 0 {
		return line
	}

	b := []byte(line)
	var out strings.Builder
	out.Grow(len(line))
	i := 0
	var inString byte
	escaped := false
	inLineComment := false

	for i < len(b) {
		c := b[i]

		if inLineComment {
			out.WriteByte(c)
			i++
			continue
		}

		if inString != 0 {
			out.WriteByte(c)
			if escaped {
				escaped = false
			} else if c == '\\' {
				escaped = true
			} else if c == inString {
				inString = 0
			}
			i++
			continue
		}

		if c == '/' && i+1 < len(b) && b[i+1] == '/' {
			out.WriteString("//")
			i += 2
			inLineComment = true
			continue
		}

		if c == '"' || c == '\'' || c == '`' {
			out.WriteByte(c)
			inString = c
			escaped = false
			i++
			continue
		}

		if isIdentStart(c) {
			start := i
			i++
			for i < len(b) && isIdentContinue(b[i]) {
				i++
			}
			ident := line[start:i]
			if vmNamespaceAliases[ident] {
				j := i
				for j < len(b) && isInlineSpace(b[j]) {
					j++
				}
				if j < len(b) && b[j] == '.' {
					k := j
					var segments []string
					ok := true
					for {
						if k >= len(b) || b[k] != '.' {
							break
						}
						k++
						for k < len(b) && isInlineSpace(b[k]) {
							k++
						}
						if k >= len(b) || !isIdentStart(b[k]) {
							segments = nil
							ok = false
							break
						}
						memberStart := k
						k++
						for k < len(b) && isIdentContinue(b[k]) {
							k++
						}
						segments = append(segments, line[memberStart:k])
						next := k
						for next < len(b) && isInlineSpace(b[next]) {
							next++
						}
						if next < len(b) && b[next] == '.' {
							k = next
							continue
						}
						k = next
						break
					}
					if ok && len(segments) > 0 && k < len(b) && b[k] == '(' {
						if len(segments) == 1 {
							out.WriteString(segments[0])
						} else {
							out.WriteString("vm::")
							out.WriteString(strings.Join(segments, "::"))
						}
						i = k
						continue
					}
				}
			}
			out.WriteString(ident)
			continue
		}

		out.WriteByte(c)
		i++
	}

	return out.String()
}

func isValidIdent(input string) bool {
	if input == "" {
		return false
	}
	if !isIdentStart(input[0]) {
		return false
	}
	for i := 1; i < len(input); i++ {
		if !isIdentContinue(input[i]) {
			return false
		}
	}
	return true
}

func extractQuotedLiteral(input string) (string, string, bool) {
	startIdx := -1
	var quote byte
	for idx := 0; idx < len(input); idx++ {
		if input[idx] == '"' || input[idx] == '\'' {
			startIdx = idx
			quote = input[idx]
			break
		}
	}
	if startIdx < 0 {
		return "", "", false
	}
	for i := startIdx + 1; i < len(input); i++ {
		if input[i] == quote {
			return input[startIdx+1 : i], input[i+1:], true
		}
	}
	return "", "", false
}

func rewriteJSKeywords(source string) string {
	var out strings.Builder
	out.Grow(len(source))
	runes := []rune(source)
	inString, escaped, inLineComment, inBlockComment := false, false, false, false
	i := 0
	for i < len(runes) {
		ch := runes[i]

		if inLineComment {
			out.WriteRune(ch)
			if ch == '\n' {
				inLineComment = false
			}
			i++
			continue
		}

		if inBlockComment {
			out.WriteRune(ch)
			if ch == '*' && i+1 < len(runes) && runes[i+1] == '/' {
				out.WriteRune('/')
				i += 2
				inBlockComment = false
				continue
			}
			i++
			continue
		}

		if inString {
			out.WriteRune(ch)
			if escaped {
				escaped = false
			} else if ch == '\\' {
				escaped = true
			} else if ch == '"' {
				inString = false
			}
			i++
			continue
		}

		if ch == '/' {
			if i+1 < len(runes) && runes[i+1] == '/' {
				out.WriteString("//")
				i += 2
				inLineComment = true
				continue
			}
			if i+1 < len(runes) && runes[i+1] == '*' {
				out.WriteString("/*")
				i += 2
				inBlockComment = true
				continue
			}
		}

		if ch == '"' {
			inString = true
			out.WriteRune(ch)
			i++
			continue
		}

		if ch < 128 && isIdentStart(byte(ch)) {
			start := i
			i++
			for i < len(runes) && runes[i] < 128 && isIdentContinue(byte(runes[i])) {
				i++
			}
			ident := string(runes[start:i])
			switch ident {
			case "function":
				out.WriteString("fn")
			case "const":
				out.WriteString("let")
			default:
				out.WriteString(ident)
			}
			continue
		}

		out.WriteRune(ch)
		i++
	}
	return out.String()
}

func rewriteConsoleLogCalls(source string) string {
	b := []byte(source)
	const consoleDotLog = "console.log"
	var out strings.Builder
	out.Grow(len(source))
	i := 0
	inString, escaped, inLineComment, inBlockComment := false, false, false, false

	for i < len(b) {
		c := b[i]

		if inBlockComment {
			out.WriteByte(c)
			if c == '*' && i+1 < len(b) && b[i+1] == '/' {
				out.WriteByte('/')
				i += 2
				inBlockComment = false
				continue
			}
			i++
			continue
		}

		if inLineComment {
			out.WriteByte(c)
			if c == '\n' {
				inLineComment = false
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
			}
			i++
			continue
		}

		if c == '/' && i+1 < len(b) && b[i+1] == '/' {
			out.WriteString("//")
			i += 2
			inLineComment = true
			continue
		}

		if c == '/' && i+1 < len(b) && b[i+1] == '*' {
			out.WriteString("/*")
			i += 2
			inBlockComment = true
			continue
		}

		if c == '"' {
			out.WriteByte('"')
			i++
			inString = true
			continue
		}

		identBoundary := i == 0 || !isIdentContinue(b[i-1])
		if identBoundary && i+len(consoleDotLog) <= len(b) && string(b[i:i+len(consoleDotLog)]) == consoleDotLog {
			j := i + len(consoleDotLog)
			for j < len(b) && isInlineSpace(b[j]) {
				j++
			}
			if j < len(b) && b[j] == '(' {
				out.WriteString(STDLIBPrintName)
				i += len(consoleDotLog)
				continue
			}
		}

		out.WriteByte(c)
		i++
	}

	return out.String()
}

func rewriteJSArrowLine(line string, lineNo int) (string, error) {
	arrowIndex := strings.Index(line, "=>")
	if arrowIndex < 0 {
		return line, nil
	}

	left := line[:arrowIndex]
	right := strings.TrimLeft(line[arrowIndex+2:], " \t")
	if strings.HasPrefix(right, "{") {
		return "", &LowerError{Line: lineNo, Message: "arrow closures with block bodies are not supported in this subset"}
	}

	leftTrimmed := strings.TrimRight(left, " \t")
	var prefix, paramsText string
	if strings.HasSuffix(leftTrimmed, ")") {
		depth := 0
		openIndex := -1
		for idx := len(leftTrimmed) - 1; idx >= 0; idx-- {
			switch leftTrimmed[idx] {
			case ')':
				depth++
			case '(':
				if depth == 0 {
					return "", &LowerError{Line: lineNo, Message: "malformed arrow closure parameters"}
				}
				depth--
				if depth == 0 {
					openIndex = idx
				}
			}
			if openIndex >= 0 {
				break
			}
		}
		if openIndex < 0 {
			return "", &LowerError{Line: lineNo, Message: "could not find '(' for arrow closure parameters"}
		}
		prefix = leftTrimmed[:openIndex]
		paramsText = leftTrimmed[openIndex+1 : len(leftTrimmed)-1]
	} else {
		splitIndex := 0
		for idx := len(leftTrimmed) - 1; idx >= 0; idx-- {
			ch := leftTrimmed[idx]
			if !((ch >= 'a' && ch <= 'z') || (ch >= 'A' && ch <= 'Z') || (ch >= '0' && ch <= '9') || ch == '_') {
				splitIndex = idx + 1
				break
			}
		}
		prefix = leftTrimmed[:splitIndex]
		paramsText = leftTrimmed[splitIndex:]
	}

	params := strings.TrimSpace(paramsText)
	if params == "" {
		return "", &LowerError{Line: lineNo, Message: "arrow closure parameters cannot be empty"}
	}

	return prefix + "|" + params + "| " + right, nil
}
