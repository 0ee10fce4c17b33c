// Package sourcemap tracks source files and byte-offset spans so compiler
// diagnostics and lowered-source line remapping can cite original positions.
//
// Grounded on original_source/pd-vm/src/compiler/source_map.rs.
package sourcemap

import "strings"

// SourceID identifies one file registered with a SourceMap.
type SourceID uint32

// Span is a half-open byte range within one source file.
type Span struct {
	SourceID SourceID
	Lo, Hi   int
}

// NewSpan builds a Span, swapping Lo/Hi if given in reverse order.
func NewSpan(id SourceID, lo, hi int) Span {
	if lo <= hi {
		return Span{SourceID: id, Lo: lo, Hi: hi}
	}
	return Span{SourceID: id, Lo: hi, Hi: lo}
}

func (s Span) Len() int      { return s.Hi - s.Lo }
func (s Span) IsEmpty() bool { return s.Lo == s.Hi }

// File is one registered source file plus its precomputed line-start table.
type File struct {
	ID         SourceID
	Name       string
	Text       string
	lineStarts []int
}

func newFile(id SourceID, name, text string) *File {
	return &File{ID: id, Name: name, Text: text, lineStarts: computeLineStarts(text)}
}

// LineCount returns the number of lines in the file.
func (f *File) LineCount() int { return len(f.lineStarts) }

// LineColForOffset converts a byte offset to a 1-indexed (line, col) pair.
// col counts runes, matching the Rust implementation's char-count column.
func (f *File) LineColForOffset(offset int) (line, col int, ok bool) {
	if offset > len(f.Text) {
		return 0, 0, false
	}
	idx, found := lineIndexForOffset(f.lineStarts, offset)
	if !found {
		return 0, 0, false
	}
	lineStart := f.lineStarts[idx]
	col = len([]rune(f.Text[lineStart:offset])) + 1
	return idx + 1, col, true
}

// LineSpan returns the byte range of a 1-indexed line, trimmed of its
// trailing newline.
func (f *File) LineSpan(line int) (int, int, bool) {
	if line <= 0 || line > len(f.lineStarts) {
		return 0, 0, false
	}
	idx := line - 1
	start := f.lineStarts[idx]
	end := len(f.Text)
	if idx+1 < len(f.lineStarts) {
		end = f.lineStarts[idx+1]
	}
	text := f.Text[start:end]
	trimmed := strings.TrimRight(text, "\n\r")
	return start, start + len(trimmed), true
}

// LineText returns the 1-indexed line's text, without its line terminator.
func (f *File) LineText(line int) (string, bool) {
	start, end, ok := f.LineSpan(line)
	if !ok {
		return "", false
	}
	return f.Text[start:end], true
}

// LineColToOffset converts a 1-indexed (line, col) pair back to a byte
// offset, walking runes to honor multi-byte columns.
func (f *File) LineColToOffset(line, col int) (int, bool) {
	if line <= 0 || line > len(f.lineStarts) || col <= 0 {
		return 0, false
	}
	start, end, ok := f.LineSpan(line)
	if !ok {
		return 0, false
	}
	byteIdx := start
	currentCol := 1
	for byteIdx < end && currentCol < col {
		_, size := decodeRuneSize(f.Text[byteIdx:])
		byteIdx += size
		currentCol++
	}
	return byteIdx, true
}

func decodeRuneSize(s string) (rune, int) {
	for i, r := range s {
		_ = i
		return r, len(string(r))
	}
	return 0, 0
}

// SourceMap holds every file registered during a compile.
type SourceMap struct {
	files []*File
}

// New returns an empty SourceMap.
func New() *SourceMap { return &SourceMap{} }

// AddSource registers a new file and returns its SourceID.
func (sm *SourceMap) AddSource(name, text string) SourceID {
	id := SourceID(len(sm.files))
	sm.files = append(sm.files, newFile(id, name, text))
	return id
}

// File returns the file registered under id, if any.
func (sm *SourceMap) File(id SourceID) (*File, bool) {
	if int(id) >= len(sm.files) {
		return nil, false
	}
	return sm.files[id], true
}

// Source returns the text of the file registered under id.
func (sm *SourceMap) Source(id SourceID) (string, bool) {
	f, ok := sm.File(id)
	if !ok {
		return "", false
	}
	return f.Text, true
}

// LineSpan returns line's Span within file id.
func (sm *SourceMap) LineSpan(id SourceID, line int) (Span, bool) {
	f, ok := sm.File(id)
	if !ok {
		return Span{}, false
	}
	lo, hi, ok := f.LineSpan(line)
	if !ok {
		return Span{}, false
	}
	return NewSpan(id, lo, hi), true
}

// LineColForOffset converts an offset in file id to (line, col).
func (sm *SourceMap) LineColForOffset(id SourceID, offset int) (line, col int, ok bool) {
	f, found := sm.File(id)
	if !found {
		return 0, 0, false
	}
	return f.LineColForOffset(offset)
}

// LineColToOffset converts (line, col) in file id back to a byte offset.
func (sm *SourceMap) LineColToOffset(id SourceID, line, col int) (int, bool) {
	f, ok := sm.File(id)
	if !ok {
		return 0, false
	}
	return f.LineColToOffset(line, col)
}

// SpanText returns the text covered by span.
func (sm *SourceMap) SpanText(span Span) (string, bool) {
	f, ok := sm.File(span.SourceID)
	if !ok {
		return "", false
	}
	if span.Lo < 0 || span.Hi > len(f.Text) || span.Lo > span.Hi {
		return "", false
	}
	return f.Text[span.Lo:span.Hi], true
}

// LineSpanMapping maps lines of a lowered (frontend-rewritten) source back to
// the original source's lines, for diagnostics that must cite the file the
// user actually wrote.
type LineSpanMapping struct {
	// LoweredToOriginalLine[i] is the original 1-indexed line corresponding
	// to lowered 1-indexed line i+1.
	LoweredToOriginalLine []int
}

// Identity returns a 1:1 mapping for source text that was not renumbered
// during lowering.
func Identity(source string) LineSpanMapping {
	n := strings.Count(source, "\n") + 1
	if n < 1 {
		n = 1
	}
	mapping := make([]int, n)
	for i := range mapping {
		mapping[i] = i + 1
	}
	return LineSpanMapping{LoweredToOriginalLine: mapping}
}

// MapSpan maps a span in the lowered source back to a span in the original
// source, using the recorded line mapping and re-resolving the column
// within the original line's bounds.
func (m LineSpanMapping) MapSpan(sm *SourceMap, loweredID, originalID SourceID, loweredSpan Span) (Span, bool) {
	if loweredSpan.SourceID != loweredID {
		return Span{}, false
	}
	loweredLine, loweredCol, ok := sm.LineColForOffset(loweredID, loweredSpan.Lo)
	if !ok {
		return Span{}, false
	}
	originalLine := loweredLine
	if idx := loweredLine - 1; idx >= 0 && idx < len(m.LoweredToOriginalLine) {
		originalLine = m.LoweredToOriginalLine[idx]
	}
	originalFile, ok := sm.File(originalID)
	if !ok {
		return Span{}, false
	}
	lineStart, lineEnd, ok := originalFile.LineSpan(originalLine)
	if !ok {
		return Span{}, false
	}
	lo, ok := originalFile.LineColToOffset(originalLine, loweredCol)
	if !ok {
		lo = lineStart
	}
	var hi int
	if loweredSpan.IsEmpty() {
		hi = lo
	} else {
		hi = lo + loweredSpan.Len()
		if hi > lineEnd {
			hi = lineEnd
		}
	}
	return NewSpan(originalID, lo, hi), true
}

// LoweredSource pairs lowered source text with its LineSpanMapping.
type LoweredSource struct {
	Text    string
	Mapping LineSpanMapping
}

// IdentityLowered wraps text with a 1:1 LineSpanMapping.
func IdentityLowered(text string) LoweredSource {
	return LoweredSource{Text: text, Mapping: Identity(text)}
}

func computeLineStarts(text string) []int {
	starts := []int{0}
	for i, ch := range text {
		if ch == '\n' {
			starts = append(starts, i+1)
		}
	}
	return starts
}

func lineIndexForOffset(lineStarts []int, offset int) (int, bool) {
	if len(lineStarts) == 0 {
		return 0, false
	}
	lo, hi := 0, len(lineStarts)
	for lo < hi {
		mid := (lo + hi) / 2
		if lineStarts[mid] <= offset {
			lo = mid + 1
		} else {
			hi = mid
		}
	}
	if lo == 0 {
		return 0, false
	}
	return lo - 1, true
}
