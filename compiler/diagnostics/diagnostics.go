// Package diagnostics renders parse and link errors against their source
// text, the same `error[CODE]: message` plus gutter-and-caret snippet shape
// the original compiler used.
//
// Grounded on original_source/pd-vm/src/compiler/diagnostics.rs.
package diagnostics

import (
	"fmt"
	"strings"
)

// Span is an optional, half-open byte range into the rendered source line,
// used to underline the offending text with carets.
type Span struct {
	Col, Len int
}

// ParseError is a single frontend/parser/linker diagnostic.
type ParseError struct {
	Line    int
	Message string
	Span    *Span
	Code    string
}

func (e *ParseError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("error[%s]: %s (line %d)", e.Code, e.Message, e.Line)
	}
	return fmt.Sprintf("%s (line %d)", e.Message, e.Line)
}

// RenderSourceError formats e against file/source the way rustc-style
// compilers do:
//
//	error[CODE]: message
//	 --> file:line:col
//	  |
//	3 | <line text>
//	  |    ^^^^
func RenderSourceError(file, source string, e *ParseError) string {
	lines := strings.Split(source, "\n")
	var lineText string
	if e.Line >= 1 && e.Line <= len(lines) {
		lineText = lines[e.Line-1]
	}

	col := 1
	caretLen := 1
	if e.Span != nil {
		col = e.Span.Col
		if e.Span.Len > 0 {
			caretLen = e.Span.Len
		}
	}

	var sb strings.Builder
	if e.Code != "" {
		fmt.Fprintf(&sb, "error[%s]: %s\n", e.Code, e.Message)
	} else {
		fmt.Fprintf(&sb, "error: %s\n", e.Message)
	}
	fmt.Fprintf(&sb, " --> %s:%d:%d\n", file, e.Line, col)
	sb.WriteString("  |\n")
	fmt.Fprintf(&sb, "%d | %s\n", e.Line, lineText)
	fmt.Fprintf(&sb, "  | %s%s\n", strings.Repeat(" ", col-1), strings.Repeat("^", caretLen))
	return sb.String()
}
