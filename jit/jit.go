// Package jit implements the tracing JIT spec.md §4.5 describes: per-loop-
// header hotness counters, linear trace recording with typed guards, and (on
// supported architectures, via the nativeamd64 subpackage) native machine
// code emission with guarded side exits back to the interpreter.
//
// No original_source file for the trace recorder survived retrieval (see
// DESIGN.md); the shape here is built directly from spec.md §4.5/§9 and
// grounded, for the surrounding host/allocator idiom, on
// _examples/wdamron-wagon's exec/internal/compile package — the pack's only
// other native-code-emitting bytecode VM.
package jit

import "fmt"

// LocalType is the narrow type lattice the trace recorder tracks per local
// slot. Unknown covers a slot the recorder has not yet observed a concrete
// write to; Object covers String/Array/Map uniformly since the native
// backend never specializes on them (spec.md §4.5 lists "String/Object" as
// one tracked kind).
type LocalType uint8

const (
	TypeUnknown LocalType = iota
	TypeInt
	TypeFloat
	TypeBool
	TypeObject
)

func (t LocalType) String() string {
	switch t {
	case TypeInt:
		return "int"
	case TypeFloat:
		return "float"
	case TypeBool:
		return "bool"
	case TypeObject:
		return "object"
	default:
		return "unknown"
	}
}

// EntryState snapshots what the recorder assumed was true on entry to a
// trace: the operand stack depth and the type each tracked local held at
// that point. The vm recorder fills in StackDepth only. Before jumping into
// native code the vm's runNativeTrace re-checks the stack depth and that
// every slot the trace uses holds an Int; no type guards are emitted inside
// the trace.
type EntryState struct {
	StackDepth int
	Locals     map[uint16]LocalType
}

// GuardKind identifies what a Guard checks before the trace may proceed.
type GuardKind uint8

const (
	// GuardType asserts a stack/local value still holds the recorded
	// LocalType. The vm recorder emits none: it checks for Int operands
	// while recording and aborts the recording otherwise.
	GuardType GuardKind = iota
	// GuardBranch asserts a conditional jump takes the same direction it
	// took when the trace was recorded.
	GuardBranch
	// GuardIndex asserts a local or constant index used by the traced
	// instruction still falls inside the range observed at record time.
	GuardIndex
)

func (k GuardKind) String() string {
	switch k {
	case GuardType:
		return "type"
	case GuardBranch:
		return "branch"
	case GuardIndex:
		return "index"
	default:
		return "unknown"
	}
}

// Guard is one condition checked before the native trace commits to the
// recorded straight-line path. SourcePC is the bytecode offset the guard
// corresponds to, so a guard failure can report where interpretation should
// resume (the side-exit PC).
type Guard struct {
	Kind     GuardKind
	SourcePC int
	Want      LocalType // for GuardType
	WantTaken bool      // for GuardBranch: was the branch taken when recorded
	WantIndex int       // for GuardIndex
	ExitPC    int        // interpreter PC to resume at if this guard fails
}

// OpKind enumerates the typed trace operations the recorder can append.
// These mirror the bytecode opcode set narrowed to the types the recorder
// has proven hold at each point, plus a HostCall marker the native backend
// treats specially (see Trace.HasHostCall).
type OpKind uint8

const (
	OpLoadConst OpKind = iota
	OpLoadLocal
	OpStoreLocal
	OpAdd
	OpSub
	OpMul
	OpDiv
	OpNeg
	OpCeq
	OpClt
	OpCgt
	OpShl
	OpShr
	OpGuard
	OpHostCall
)

// Op is one recorded trace operation. Not every field is meaningful for
// every Kind: LocalIdx is used by OpLoadLocal/OpStoreLocal, ConstValue by
// OpLoadConst, Guard by OpGuard, ImportIdx/Arity by OpHostCall.
type Op struct {
	Kind       OpKind
	SourcePC   int
	LocalIdx   uint16
	ConstValue int64 // OpLoadConst: the constant's Int payload (Int-only traces; non-Int constants force NotYetImplemented)
	Guard      Guard
	ImportIdx  uint16
	Arity      uint8
}

// TerminalKind classifies why recording stopped.
type TerminalKind uint8

const (
	// Loopback: control returned to the trace's own starting loop header;
	// the trace closes with a jump back to its own entry.
	Loopback TerminalKind = iota
	// SideExit: a branch guard's condition would have failed, so recording
	// stopped at the cold side of that branch.
	SideExit
	// LengthLimit: the trace reached the engine's maximum length
	// (NewEngine's maxTraceLen).
	LengthLimit
	// NotYetImplemented: an opcode or value shape the recorder does not
	// support was reached (e.g. a non-Int constant, a String op, nested
	// closures). Reason names what was unsupported.
	NotYetImplemented
)

func (k TerminalKind) String() string {
	switch k {
	case Loopback:
		return "loopback"
	case SideExit:
		return "side-exit"
	case LengthLimit:
		return "length-limit"
	case NotYetImplemented:
		return "not-yet-implemented"
	default:
		return "unknown"
	}
}

// Terminal is the recorded reason a trace stopped growing.
type Terminal struct {
	Kind   TerminalKind
	Reason string // populated for NotYetImplemented
}

func (t Terminal) String() string {
	if t.Kind == NotYetImplemented && t.Reason != "" {
		return fmt.Sprintf("not-yet-implemented(%s)", t.Reason)
	}
	return t.Kind.String()
}

// Trace is one successfully or unsuccessfully recorded linear sequence.
// A Trace with Terminal.Kind == Loopback or SideExit is eligible for native
// compilation; LengthLimit/NotYetImplemented traces are kept only for
// Engine.DumpInfo's attempt log.
type Trace struct {
	HeaderPC int
	Entry    EntryState
	Ops      []Op
	Terminal Terminal
}

// HasHostCall reports whether any recorded op is a host call, which the
// native backend must lower to a trampoline rather than inline machine code.
func (t *Trace) HasHostCall() bool {
	for _, op := range t.Ops {
		if op.Kind == OpHostCall {
			return true
		}
	}
	return false
}

// Recordable reports whether t is eligible for native compilation.
func (t *Trace) Recordable() bool {
	return t.Terminal.Kind == Loopback || t.Terminal.Kind == SideExit
}
