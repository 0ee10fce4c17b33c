// Package debuginfo carries the optional, line-aware debug tables attached
// to a compiled Program: source text, offset→line mapping, function
// signatures, and local-variable names.
//
// Grounded on original_source/pd-vm/src/debug_info.rs: LineForOffset performs
// the same binary search as the Rust DebugInfo::line_for_offset, and the
// builder dedups consecutive identical offsets the same way.
package debuginfo

import "strings"

// ArgInfo names one positional argument of a debugged function.
type ArgInfo struct {
	Name     string
	Position uint8
}

// Function is one function's debug signature.
type Function struct {
	Name string
	Args []ArgInfo
}

// Local names one local-variable slot.
type Local struct {
	Name  string
	Index uint8
}

// Line records the source line active starting at a bytecode offset.
type Line struct {
	Offset uint32
	Line   uint32
}

// DebugInfo is the optional debug section of a compiled Program.
type DebugInfo struct {
	Source    string
	HasSource bool
	Lines     []Line // sorted by Offset
	Functions []Function
	Locals    []Local
}

// LineForOffset returns the largest Lines entry whose Offset is <= offset,
// i.e. the source line active at that program counter. ok is false if Lines
// is empty or offset precedes every recorded line.
func (d *DebugInfo) LineForOffset(offset uint32) (line uint32, ok bool) {
	if len(d.Lines) == 0 {
		return 0, false
	}
	lo, hi := 0, len(d.Lines)
	for lo < hi {
		mid := (lo + hi) / 2
		if d.Lines[mid].Offset <= offset {
			lo = mid + 1
		} else {
			hi = mid
		}
	}
	if lo == 0 {
		return 0, false
	}
	return d.Lines[lo-1].Line, true
}

// OffsetsForLine returns every recorded offset whose line equals line, in
// the order they were recorded.
func (d *DebugInfo) OffsetsForLine(line uint32) []uint32 {
	var out []uint32
	for _, l := range d.Lines {
		if l.Line == line {
			out = append(out, l.Offset)
		}
	}
	return out
}

// SourceLine returns the 1-indexed source line's text, if source was
// recorded and the line exists.
func (d *DebugInfo) SourceLine(line uint32) (string, bool) {
	if !d.HasSource || line == 0 {
		return "", false
	}
	idx := int(line - 1)
	lines := strings.Split(d.Source, "\n")
	if idx >= len(lines) {
		return "", false
	}
	return lines[idx], true
}

// LocalIndex looks up a local's slot by name.
func (d *DebugInfo) LocalIndex(name string) (uint8, bool) {
	for _, l := range d.Locals {
		if l.Name == name {
			return l.Index, true
		}
	}
	return 0, false
}

// Builder incrementally assembles a DebugInfo during bytecode emission.
type Builder struct {
	source     string
	hasSource  bool
	lines      []Line
	functions  []Function
	locals     []Local
	lastOffset uint32
	hasLast    bool
}

// NewBuilder returns an empty Builder.
func NewBuilder() *Builder { return &Builder{} }

// SetSource records the full original source text, enabling SourceLine
// lookups and source-quoting diagnostics.
func (b *Builder) SetSource(source string) {
	b.source = source
	b.hasSource = true
}

// AddFunction records one function's name and parameter names.
func (b *Builder) AddFunction(name string, args []string) {
	infos := make([]ArgInfo, len(args))
	for i, a := range args {
		infos[i] = ArgInfo{Name: a, Position: uint8(i)}
	}
	b.functions = append(b.functions, Function{Name: name, Args: infos})
}

// AddLocal records a local slot's name, ignoring duplicate names or indices.
func (b *Builder) AddLocal(name string, index uint8) {
	for _, l := range b.locals {
		if l.Name == name || l.Index == index {
			return
		}
	}
	b.locals = append(b.locals, Local{Name: name, Index: index})
}

// MarkLine records that offset begins executing source line; consecutive
// calls with the same offset are deduplicated (only the first is kept).
func (b *Builder) MarkLine(offset uint32, line uint32) {
	if b.hasLast && b.lastOffset == offset {
		return
	}
	b.lines = append(b.lines, Line{Offset: offset, Line: line})
	b.lastOffset = offset
	b.hasLast = true
}

// Finish returns the built DebugInfo, or ok=false if nothing was recorded
// (matching the Rust builder's all-empty-means-None behavior).
func (b *Builder) Finish() (*DebugInfo, bool) {
	if !b.hasSource && len(b.lines) == 0 && len(b.functions) == 0 && len(b.locals) == 0 {
		return nil, false
	}
	return &DebugInfo{
		Source:    b.source,
		HasSource: b.hasSource,
		Lines:     b.lines,
		Functions: b.functions,
		Locals:    b.locals,
	}, true
}
