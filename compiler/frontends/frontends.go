// Package frontends lowers each of the four supported source dialects into
// the canonical, Rust-like text the shared parser accepts, each returning a
// sourcemap.LineSpanMapping back to the original source's lines.
//
// Grounded on original_source/pd-vm/src/compiler/frontends/{mod,rss,
// rustscript,javascript,lua}.rs; the Scheme frontend's source was not
// retrieved, so it is rebuilt from
// original_source/pd-vm/tests/compiler_scheme_tests.rs plus spec.md §4.2.
package frontends

import (
	"fmt"

	"edgevm/sourcemap"
)

// Flavor selects which source dialect to lower.
type Flavor int

const (
	RustScript Flavor = iota
	JavaScript
	Lua
	Scheme
)

func (f Flavor) String() string {
	switch f {
	case RustScript:
		return "rustscript"
	case JavaScript:
		return "javascript"
	case Lua:
		return "lua"
	case Scheme:
		return "scheme"
	default:
		return "unknown"
	}
}

// STDLIBPrintName is the canonical print call every frontend rewrites its
// dialect's logging idiom to.
const STDLIBPrintName = "print"

// LowerError is a frontend lowering failure, reported before the shared
// parser ever sees the text.
type LowerError struct {
	Line    int
	Message string
}

func (e *LowerError) Error() string {
	return fmt.Sprintf("line %d: %s", e.Line, e.Message)
}

// Lower converts source, written in the given dialect, into canonical
// lowered text plus the line mapping back to the original source.
func Lower(flavor Flavor, source string) (sourcemap.LoweredSource, error) {
	switch flavor {
	case RustScript:
		return lowerRustScript(source)
	case JavaScript:
		return lowerJavaScript(source)
	case Lua:
		return lowerLua(source)
	case Scheme:
		return lowerScheme(source)
	default:
		return sourcemap.LoweredSource{}, fmt.Errorf("frontends: unknown flavor %v", flavor)
	}
}

func isIdentStart(ch byte) bool {
	return (ch >= 'a' && ch <= 'z') || (ch >= 'A' && ch <= 'Z') || ch == '_'
}

func isIdentContinue(ch byte) bool {
	return isIdentStart(ch) || (ch >= '0' && ch <= '9')
}

func isInlineSpace(ch byte) bool {
	return ch == ' ' || ch == '\t'
}

func isASCIIWhitespace(ch byte) bool {
	return ch == ' ' || ch == '\t' || ch == '\n' || ch == '\r' || ch == '\f' || ch == '\v'
}
