// Package builtins enumerates the VM's built-in functions: the dense range of
// array/map/string/IO/regex helpers plus the three special forms (__to_string,
// type_of, assert) that live just below the main range.
//
// Ported constant-for-constant from original_source/pd-vm/src/builtins.rs.
package builtins

// Function identifies one built-in callable.
type Function uint16

const (
	Len Function = iota
	Slice
	Concat
	ArrayNew
	ArrayPush
	MapNew
	Get
	Set
	Keys
	IoOpen
	IoPopen
	IoReadAll
	IoReadLine
	IoWrite
	IoFlush
	IoClose
	IoExists
	Count
	ReIsMatch
	ReFind
	ReReplace
	ReSplit
	ReCaptures
	ToString
	TypeOf
	Assert
)

// CallBase is the first call index of the main builtin range. ToString,
// TypeOf, and Assert live at CallBase-3, CallBase-2, CallBase-1, below it.
const CallBase uint16 = 0xFFE0

// CallCount is the number of builtins in the main range (indices
// CallBase..CallBase+CallCount-1).
const CallCount uint16 = 23

// Name returns the builtin's bytecode-visible name.
func (f Function) Name() string {
	switch f {
	case Len:
		return "len"
	case Slice:
		return "slice"
	case Concat:
		return "concat"
	case ArrayNew:
		return "array_new"
	case ArrayPush:
		return "array_push"
	case MapNew:
		return "map_new"
	case Get:
		return "get"
	case Set:
		return "set"
	case Keys:
		return "keys"
	case IoOpen:
		return "io_open"
	case IoPopen:
		return "io_popen"
	case IoReadAll:
		return "io_read_all"
	case IoReadLine:
		return "io_read_line"
	case IoWrite:
		return "io_write"
	case IoFlush:
		return "io_flush"
	case IoClose:
		return "io_close"
	case IoExists:
		return "io_exists"
	case Count:
		return "count"
	case ReIsMatch:
		return "re_is_match"
	case ReFind:
		return "re_find"
	case ReReplace:
		return "re_replace"
	case ReSplit:
		return "re_split"
	case ReCaptures:
		return "re_captures"
	case ToString:
		return "__to_string"
	case TypeOf:
		return "type_of"
	case Assert:
		return "assert"
	default:
		return ""
	}
}

// Arity returns the builtin's fixed argument count.
func (f Function) Arity() uint8 {
	switch f {
	case Len, Keys, IoReadAll, IoReadLine, IoFlush, IoClose, IoExists, Count, ToString, TypeOf, Assert:
		return 1
	case Concat, ArrayPush, Get, IoOpen, IoPopen, IoWrite, ReIsMatch, ReFind, ReSplit, ReCaptures:
		return 2
	case Slice, Set, ReReplace:
		return 3
	case ArrayNew, MapNew:
		return 0
	default:
		return 0
	}
}

// CallIndex returns the bytecode Call instruction's index for f.
func (f Function) CallIndex() uint16 {
	switch f {
	case ToString:
		return CallBase - 3
	case TypeOf:
		return CallBase - 2
	case Assert:
		return CallBase - 1
	default:
		return CallBase + uint16(f)
	}
}

// byOffset maps a main-range offset (0..CallCount-1) back to its Function.
var byOffset = []Function{
	Len, Slice, Concat, ArrayNew, ArrayPush, MapNew, Get, Set, Keys,
	IoOpen, IoPopen, IoReadAll, IoReadLine, IoWrite, IoFlush, IoClose, IoExists,
	Count, ReIsMatch, ReFind, ReReplace, ReSplit, ReCaptures,
}

// FromCallIndex is the inverse of CallIndex; ok is false for indices that
// name neither a special form nor a main-range builtin.
func FromCallIndex(index uint16) (Function, bool) {
	switch index {
	case CallBase - 3:
		return ToString, true
	case CallBase - 2:
		return TypeOf, true
	case CallBase - 1:
		return Assert, true
	}
	if index < CallBase {
		return 0, false
	}
	offset := index - CallBase
	if offset >= CallCount {
		return 0, false
	}
	return byOffset[offset], true
}

// All enumerates every builtin function, in declaration order.
var All = []Function{
	Len, Slice, Concat, ArrayNew, ArrayPush, MapNew, Get, Set, Keys,
	IoOpen, IoPopen, IoReadAll, IoReadLine, IoWrite, IoFlush, IoClose, IoExists,
	Count, ReIsMatch, ReFind, ReReplace, ReSplit, ReCaptures,
	ToString, TypeOf, Assert,
}

// Lookup finds a builtin by its bytecode-visible name.
func Lookup(name string) (Function, bool) {
	for _, f := range All {
		if f.Name() == name {
			return f, true
		}
	}
	return 0, false
}
