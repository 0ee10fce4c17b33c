package jit

// Status is the bridge's interpreter-facing result code for a native trace
// invocation, matching spec.md §4.5's STATUS_CONTINUE/STATUS_HALTED/
// STATUS_TRACE_EXIT/STATUS_ERROR.
type Status int

const (
	// StatusContinue means the native trace ran to completion of its
	// recorded loop body and fell through without a guard firing (only
	// possible for a trace with no Loopback, i.e. one that runs its body
	// exactly once); interpretation should continue at the returned PC.
	StatusContinue Status = iota
	// StatusHalted means the trace reached a top-level Ret.
	StatusHalted
	// StatusTraceExit means a guard fired; interpretation resumes at the
	// PC recorded on that guard.
	StatusTraceExit
	// StatusError means the bridge error cell holds an error raised while
	// executing the trace (spec.md §7: the JIT never raises directly).
	StatusError
)

func (s Status) String() string {
	switch s {
	case StatusContinue:
		return "STATUS_CONTINUE"
	case StatusHalted:
		return "STATUS_HALTED"
	case StatusTraceExit:
		return "STATUS_TRACE_EXIT"
	case StatusError:
		return "STATUS_ERROR"
	default:
		return "STATUS_UNKNOWN"
	}
}

// NativeTrace is a backend's compiled form of a Trace: a callable chunk of
// machine code operating on a flat buffer of int64 slot values (the Int
// locals the trace touches, in Backend.Compile's slots order).
//
// Run executes the trace, reading and writing buf in place, and returns the
// bridge status plus — when status is StatusTraceExit — the index into the
// originating Trace.Ops slice of the OpGuard that fired, so the caller can
// recover Guard.ExitPC and resume interpretation there.
type NativeTrace interface {
	Run(buf []int64) (status Status, guardOpIndex int, err error)
	// CodeLen reports the emitted machine code length in bytes, for
	// Engine.DumpInfo's report.
	CodeLen() int
	// Close releases the executable memory backing this trace.
	Close() error
}

// Backend compiles a recorded Trace into a NativeTrace. slots names, in a
// fixed order, every local index the trace reads or writes; Backend.Compile
// must treat buf[i] in NativeTrace.Run as the Int value of slots[i].
type Backend interface {
	Compile(trace *Trace, slots []uint16) (NativeTrace, error)
	// Close releases every executable page this Backend has ever handed
	// out across all traces it compiled; a VM's driver calls it once, on
	// teardown (spec.md §5: "Free on VM drop; never share across VMs").
	Close() error
}
