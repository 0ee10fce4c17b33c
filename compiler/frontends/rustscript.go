package frontends

import (
	"strings"

	"edgevm/sourcemap"
)

// lowerRustScript rewrites `print!(...)` to `print(...)` and
// `Option::None`/`Option::Some(` to `null`/`(`. RustScript's grammar is
// otherwise identical to the shared parser's, so nothing else changes and
// line numbers are preserved 1:1.
func lowerRustScript(source string) (sourcemap.LoweredSource, error) {
	printRewritten := rewriteRssPrintMacro(source)
	aliasRewritten := rewriteRssAliases(printRewritten)
	return sourcemap.IdentityLowered(aliasRewritten), nil
}

func rewriteRssPrintMacro(source string) string {
	b := []byte(source)
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
		if identBoundary && i+6 <= len(b) && string(b[i:i+5]) == "print" && b[i+5] == '!' {
			j := i + 6
			for j < len(b) && isInlineSpace(b[j]) {
				j++
			}
			if j < len(b) && b[j] == '(' {
				out.WriteString("print")
				i += 6
				continue
			}
		}

		out.WriteByte(c)
		i++
	}

	return out.String()
}

func rewriteRssAliases(source string) string {
	b := []byte(source)
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

		if !isIdentStart(c) {
			out.WriteByte(c)
			i++
			continue
		}

		start := i
		i++
		for i < len(b) && isIdentContinue(b[i]) {
			i++
		}
		ident := source[start:i]
		if ident == "Option" {
			if member, memberEnd, ok := tryParseOptionMember(source, i); ok {
				if member == "None" {
					out.WriteString("null")
					i = memberEnd
					continue
				}
				if member == "Some" {
					afterMember := skipInlineWhitespace(b, memberEnd)
					if afterMember < len(b) && b[afterMember] == '(' {
						out.WriteByte('(')
						i = afterMember + 1
						continue
					}
				}
			}
		}

		out.WriteString(ident)
	}

	return out.String()
}

func tryParseOptionMember(source string, index int) (string, int, bool) {
	b := []byte(source)
	cursor := skipInlineWhitespace(b, index)
	if cursor+1 >= len(b) || b[cursor] != ':' || b[cursor+1] != ':' {
		return "", 0, false
	}
	cursor += 2
	cursor = skipInlineWhitespace(b, cursor)
	if cursor >= len(b) || !isIdentStart(b[cursor]) {
		return "", 0, false
	}
	memberStart := cursor
	cursor++
	for cursor < len(b) && isIdentContinue(b[cursor]) {
		cursor++
	}
	return source[memberStart:cursor], cursor, true
}

func skipInlineWhitespace(b []byte, index int) int {
	for index < len(b) && isInlineSpace(b[index]) {
		index++
	}
	return index
}
