// Package vm executes a wire.Program: a stack-based interpreter over
// tagged value.Value operands, a flat shared locals array spanning the
// whole program, host-call bindings with cooperative yield/resume, and an
// optional debugger hook consulted before every instruction.
//
// Grounded on KTStephano-GVM's gvm.VM: the same register/stack/errcode shape
// (vm/vm.go), the same paired Run/RunWithDebugger loop disabling the
// garbage collector for the run's duration (vm/run.go's RunProgram), and
// the same panic-recovery-to-error-value idiom (getDefaultRecoverFuncForVM)
// generalized from 32-bit register opcodes to spec.md §4.4's stack-based
// tagged-Value opcode set. Call-frame save/restore and built-in dispatch are
// new: gvm.VM has no notion of a call stack or dynamically-typed value,
// those come from original_source/pd-vm/src/vm/mod.rs.
package vm

import (
	"errors"
	"fmt"

	"edgevm/builtins"
	"edgevm/bytecode"
	"edgevm/jit"
	"edgevm/value"
	"edgevm/wire"
)

// ErrorKind identifies one of the value-level runtime errors spec.md §4.4
// enumerates. Errors are values the interpreter returns to its driver, never
// panics that escape Run/Resume.
type ErrorKind int

const (
	StackUnderflow ErrorKind = iota
	TypeMismatch
	DivisionByZero
	InvalidBranch
	InvalidLocal
	UnknownOpcode
	UnknownHostFunction
	CallArityMismatch
	BridgeError
)

func (k ErrorKind) String() string {
	switch k {
	case StackUnderflow:
		return "StackUnderflow"
	case TypeMismatch:
		return "TypeMismatch"
	case DivisionByZero:
		return "DivisionByZero"
	case InvalidBranch:
		return "InvalidBranch"
	case InvalidLocal:
		return "InvalidLocal"
	case UnknownOpcode:
		return "UnknownOpcode"
	case UnknownHostFunction:
		return "UnknownHostFunction"
	case CallArityMismatch:
		return "CallArityMismatch"
	case BridgeError:
		return "BridgeError"
	default:
		return "Unknown"
	}
}

// VmError is the runtime error value an instruction can produce. Detail
// carries the expected-type tag for TypeMismatch or the missing name for
// UnknownHostFunction; both are optional for other kinds. Stack is only
// populated when the error was raised by recovering an internal panic
// (recoverToErr in exec.go) rather than an ordinary opcode-level error, so a
// host embedding this VM can tell "the program asserted false" apart from
// "the interpreter itself misbehaved" without parsing Detail.
type VmError struct {
	Kind   ErrorKind
	Detail string
	PC     int
	Stack  string
}

func (e *VmError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("vm: %s(%s) at pc %d", e.Kind, e.Detail, e.PC)
	}
	return fmt.Sprintf("vm: %s at pc %d", e.Kind, e.PC)
}

func newErr(kind ErrorKind, pc int, detail string) *VmError {
	return &VmError{Kind: kind, Detail: detail, PC: pc}
}

// ErrAlreadyHalted is not returned by Resume, which reports a VM that is not
// suspended (never run, halted, or errored) as a TypeMismatch *VmError.
var ErrAlreadyHalted = errors.New("vm: resume called on a non-yielded vm")

// CallOutcome is what a HostFunction returns from Invoke: either a set of
// values to push back onto the operand stack, or a request to suspend the
// VM's execution until the driver calls Resume.
type CallOutcome struct {
	yield  bool
	values []value.Value
	state  any
}

// Return produces a CallOutcome that pushes vals onto the stack in order
// and continues execution.
func Return(vals ...value.Value) CallOutcome { return CallOutcome{values: vals} }

// Yield produces a CallOutcome that suspends the VM; state is opaque to the
// VM and kept only as part of its pending-call token (see PendingState), for
// the driver or a debugger to inspect what the VM is blocked on. It is not
// fed back to Invoke on resume — see Resume.
func Yield(state any) CallOutcome { return CallOutcome{yield: true, state: state} }

// HostFunction is one embedder-provided callable, bound to a declared
// import by name via BindFunction.
type HostFunction interface {
	// Invoke is called with the VM (for introspection/yield bookkeeping),
	// the popped call arguments in call order, and — only on the call that
	// resumes a previous Yield for this same call site — the value the
	// driver passed to VM.Resume; resume is nil on a fresh call.
	Invoke(vm *VM, args []value.Value, resume any) CallOutcome
}

// HostFunc adapts a plain function into a HostFunction, for host bindings
// that never yield.
type HostFunc func(vm *VM, args []value.Value) CallOutcome

func (f HostFunc) Invoke(vm *VM, args []value.Value, resume any) CallOutcome { return f(vm, args) }

// frame is one call's saved return state: where to resume the caller, and
// the caller's full locals snapshot (the shared-locals-array design means a
// call saves and restores the whole array, not just the callee's slots).
type frame struct {
	returnPC     int
	savedLocals  []value.Value
	stackBase    int
}

// pendingYield remembers which call site suspended the VM, so Resume knows
// which host binding and call-index to hand control back to.
type pendingYield struct {
	importIndex uint16
	state       any
}

// VM interprets one loaded Program. A VM is not safe for concurrent use;
// spec.md §5 assigns one VM to one driver goroutine.
type VM struct {
	prog  *wire.Program
	host  []HostFunction
	names map[string]uint16 // import name -> declared index, for BindFunction

	pc     int
	stack  []value.Value
	locals []value.Value
	frames []frame

	halted  bool
	err     *VmError
	pending *pendingYield

	breakpoints map[uint32]bool

	ioHandles  map[int64]*ioHandle
	nextHandle int64

	jitEngine           *jit.Engine
	jitBackend          jit.Backend
	rec                 *traceRecorder // non-nil only while jitEngine.Recording()
	pendingRecordHeader int            // armed loop-header PC, or -1
}

// AttachJIT enables the tracing JIT described in spec.md §4.5: engine owns
// hotness counters and installed traces, backend turns a finished recording
// into native code (nil disables native compilation while still exercising
// the hotness/recording bookkeeping, matching the "no explicit capability
// advertisement" open question for unsupported architectures).
func (vm *VM) AttachJIT(engine *jit.Engine, backend jit.Backend) {
	vm.jitEngine = engine
	vm.jitBackend = backend
}

// JITEngine exposes the attached engine, mainly for dump_jit_info-style
// introspection by a driver/debugger.
func (vm *VM) JITEngine() *jit.Engine { return vm.jitEngine }

// New loads prog into a fresh VM. The host import table is sized from
// prog.Imports but left unbound; BindFunction (or RegisterFunction, for
// positional binding) must fill every slot before Run.
func New(prog *wire.Program) *VM {
	names := make(map[string]uint16, len(prog.Imports))
	for i, imp := range prog.Imports {
		names[imp.Name] = uint16(i)
	}
	localCount := bytecode.InferLocalCount(prog.Code, mustScan(prog.Code))
	return &VM{
		prog:                prog,
		host:                make([]HostFunction, len(prog.Imports)),
		names:               names,
		locals:              make([]value.Value, localCount),
		breakpoints:         map[uint32]bool{},
		pendingRecordHeader: -1,
	}
}

func mustScan(code []byte) []int {
	starts, err := bytecode.ScanInstructions(code)
	if err != nil {
		// A program reaching vm.New is expected to have already passed
		// wire.Validate; an error here means the caller skipped validation.
		return nil
	}
	return starts
}

// RegisterFunction appends fn as the next unbound host import, in
// declaration order, matching the teacher's append-oriented device
// registration (vm/devices.go's device-slot model generalized to named
// host calls instead of numbered device ports).
func (vm *VM) RegisterFunction(fn HostFunction) error {
	for i, bound := range vm.host {
		if bound == nil {
			vm.host[i] = fn
			return nil
		}
	}
	return fmt.Errorf("vm: all %d host imports are already bound", len(vm.host))
}

// BindFunction binds fn to the import declared under name. Returns an error
// if the program declares no such import.
func (vm *VM) BindFunction(name string, fn HostFunction) error {
	idx, ok := vm.names[name]
	if !ok {
		return fmt.Errorf("vm: program declares no host import named %q", name)
	}
	vm.host[idx] = fn
	return nil
}

// unbound reports the first declared-but-unbound host import, if any.
func (vm *VM) unbound() (string, bool) {
	for i, fn := range vm.host {
		if fn == nil {
			return vm.prog.Imports[i].Name, true
		}
	}
	return "", false
}

// Stack returns a snapshot of the current operand stack, top-last.
func (vm *VM) Stack() []value.Value {
	out := make([]value.Value, len(vm.stack))
	copy(out, vm.stack)
	return out
}

// Locals returns a snapshot of the shared locals array.
func (vm *VM) Locals() []value.Value {
	out := make([]value.Value, len(vm.locals))
	copy(out, vm.locals)
	return out
}

// PC returns the current program counter.
func (vm *VM) PC() int { return vm.pc }

// Program exposes the loaded program, mainly for debugger/disassembly use.
func (vm *VM) Program() *wire.Program { return vm.prog }

// Halted reports whether the VM has run to completion (Ret at top level).
func (vm *VM) Halted() bool { return vm.halted }

// Err returns the runtime error that stopped the VM, if any.
func (vm *VM) Err() *VmError { return vm.err }

// FrameDepth reports the number of active call frames (0 at the outermost
// function), for step-over/step-out policy in a DebugHook.
func (vm *VM) FrameDepth() int { return len(vm.frames) }

// SetBreakpoint arms a stop at the instruction offset pc.
func (vm *VM) SetBreakpoint(pc uint32) { vm.breakpoints[pc] = true }

// ClearBreakpoint disarms a previously-set breakpoint; a no-op if none was
// set at pc.
func (vm *VM) ClearBreakpoint(pc uint32) { delete(vm.breakpoints, pc) }

// AtBreakpoint reports whether the current PC has an armed breakpoint.
func (vm *VM) AtBreakpoint() bool { return vm.breakpoints[uint32(vm.pc)] }

// Suspended reports whether the VM is parked on a pending Yield, waiting
// for a driver call to Resume.
func (vm *VM) Suspended() bool { return vm.pending != nil }

// PendingState returns the opaque state the suspended host call yielded
// with, for a driver or debugger to inspect what the VM is blocked on. The
// second result is false if the VM is not currently suspended.
func (vm *VM) PendingState() (any, bool) {
	if vm.pending == nil {
		return nil, false
	}
	return vm.pending.state, true
}

func (vm *VM) push(v value.Value) { vm.stack = append(vm.stack, v) }

func (vm *VM) pop() (value.Value, *VmError) {
	if len(vm.stack) == 0 {
		return value.Value{}, newErr(StackUnderflow, vm.pc, "")
	}
	v := vm.stack[len(vm.stack)-1]
	vm.stack = vm.stack[:len(vm.stack)-1]
	return v, nil
}

func (vm *VM) popBool() (bool, *VmError) {
	v, err := vm.pop()
	if err != nil {
		return false, err
	}
	if v.Kind != value.KindBool {
		return false, newErr(TypeMismatch, vm.pc, "bool")
	}
	return v.B, nil
}

func (vm *VM) functionArity(idx uint16) (uint8, bool) {
	for _, fn := range vm.prog.Functions {
		if fn.Index == idx {
			return fn.Arity, true
		}
	}
	return 0, false
}

// builtinArity is exposed for the builtins dispatcher so every call site's
// declared arity in the bytecode stream can be cross-checked against the
// table in the builtins package before the call executes.
func builtinArity(fn builtins.Function) uint8 { return fn.Arity() }

// readU32/readU16 decode little-endian operands out of a code stream,
// matching the encoding wire.Encode writes and bytecode.OperandSize expects.
func readU32(code []byte, offset int) uint32 {
	return uint32(code[offset]) | uint32(code[offset+1])<<8 |
		uint32(code[offset+2])<<16 | uint32(code[offset+3])<<24
}

func readU16(code []byte, offset int) uint16 {
	return uint16(code[offset]) | uint16(code[offset+1])<<8
}
