package vm

import (
	"fmt"
	"os"
	"runtime/debug"
	"strconv"

	"github.com/go-stack/stack"

	"edgevm/builtins"
	"edgevm/bytecode"
	"edgevm/value"
)

// HookAction is what a DebugHook's Before call decides for the upcoming
// instruction: proceed into it, or detach (RunWithDebugger then returns as
// if the program had halted with no error, leaving the VM exactly where it
// stood so a fresh RunWithDebugger/Run call can continue it later).
type HookAction int

const (
	HookProceed HookAction = iota
	HookDetach
)

// DebugHook is consulted before every instruction when running under
// RunWithDebugger. Before may block — e.g. waiting on a remote command —
// per spec.md §5's "it may block for a remote command but does not
// reschedule"; breakpoint/step/next/out policy all live in the hook
// implementation (package debugger), not here, so the interpreter stays
// policy-free.
type DebugHook interface {
	Before(vm *VM) HookAction
}

func recoverToErr(vm *VM) {
	if r := recover(); r != nil {
		if vm.err == nil {
			vm.err = newErr(StackUnderflow, vm.pc, fmt.Sprintf("panic: %v", r))
		}
		vm.err.Stack = stack.Trace().TrimRuntime().String()
		vm.halted = true
	}
}

// Run executes from the current PC until halt, error, or yield, the same
// paired shape as KTStephano-GVM's RunProgram: garbage collection is disabled
// for the duration of the run, and a
// deferred recover turns any internal panic into a VmError instead of
// crashing the host process.
func (vm *VM) Run() error {
	restore := disableGC()
	defer restore()
	defer recoverToErr(vm)

	if name, ok := vm.unbound(); ok {
		vm.err = newErr(UnknownHostFunction, vm.pc, name)
		return vm.err
	}
	return vm.runLoop(nil)
}

// RunWithDebugger is Run, but calls hook.Before(vm) before every
// instruction; HookDetach stops the loop without marking the VM halted or
// erroring, so a later Run/RunWithDebugger/Resume call picks up where
// the detach happened.
func (vm *VM) RunWithDebugger(hook DebugHook) error {
	restore := disableGC()
	defer restore()
	defer recoverToErr(vm)

	if name, ok := vm.unbound(); ok {
		vm.err = newErr(UnknownHostFunction, vm.pc, name)
		return vm.err
	}
	return vm.runLoop(hook)
}

// Resume continues a previously yielded VM. result is delivered to the
// suspended HostFunction's Invoke as its resume argument (not the state the
// original Yield carried — see PendingState to inspect that), and exactly
// the CallOutcome's own values are left on the stack; Resume never pushes
// result itself. It is a TypeMismatch to resume a VM that is not suspended
// (halted, errored, or never run), per spec.md §4.4.
func (vm *VM) Resume(result value.Value) error {
	if vm.pending == nil {
		return newErr(TypeMismatch, vm.pc, "resume called on a non-suspended vm")
	}
	py := vm.pending
	vm.pending = nil
	fn := vm.host[py.importIndex]
	outcome := fn.Invoke(vm, nil, result)
	if outcome.yield {
		vm.pending = &pendingYield{importIndex: py.importIndex, state: outcome.state}
		return nil
	}
	for _, v := range outcome.values {
		vm.push(v)
	}

	restore := disableGC()
	defer restore()
	defer recoverToErr(vm)
	return vm.runLoop(nil)
}

func disableGC() func() {
	key, ok := os.LookupEnv("GOGC")
	percent := 100
	if ok {
		if v, err := strconv.Atoi(key); err == nil {
			percent = v
		}
	}
	debug.SetGCPercent(-1)
	return func() { debug.SetGCPercent(percent) }
}

// runLoop is the shared instruction dispatch for Run/RunWithDebugger/Resume.
// hook is nil for a plain Run.
func (vm *VM) runLoop(hook DebugHook) error {
	for {
		if vm.pc >= len(vm.prog.Code) {
			vm.halted = true
			return nil
		}
		if vm.jitEngine != nil && vm.jitBackend != nil && vm.rec == nil {
			if ct, ok := vm.jitEngine.CompiledTraceAt(vm.pc); ok {
				done, err := vm.runNativeTrace(ct)
				if err != nil {
					vm.err = err
					return err
				}
				if done {
					if vm.halted || vm.pending != nil {
						return nil
					}
					continue
				}
			}
		}
		if hook != nil {
			if hook.Before(vm) == HookDetach {
				return nil
			}
		}

		op := bytecode.OpCode(vm.prog.Code[vm.pc])
		if !bytecode.ValidationKnown(op) {
			vm.err = newErr(UnknownOpcode, vm.pc, fmt.Sprintf("%#x", byte(op)))
			return vm.err
		}

		pcBefore := vm.pc
		vm.traceBeforeStep(op, pcBefore)

		if err := vm.step(op); err != nil {
			vm.err = err
			return err
		}
		vm.onInstructionExecuted(op, pcBefore)
		if vm.pending != nil {
			return nil // yielded; driver must call Resume
		}
		if vm.halted {
			return nil
		}
	}
}

// step executes exactly one instruction at vm.pc, advancing vm.pc past the
// instruction and its operand before returning (branches overwrite it
// again). Errors are returned rather than panicked so Run/RunWithDebugger
// can surface them as VmError values.
func (vm *VM) step(op bytecode.OpCode) *VmError {
	code := vm.prog.Code
	pc := vm.pc
	size := bytecode.OperandSize(op)
	next := pc + 1 + size

	switch op {
	case bytecode.Nop:
		vm.pc = next
	case bytecode.Ret:
		return vm.doRet()
	case bytecode.Ldc:
		idx := readU32(code, pc+1)
		if int(idx) >= len(vm.prog.Constants) {
			return newErr(InvalidLocal, pc, "ldc index")
		}
		vm.push(vm.prog.Constants[idx])
		vm.pc = next
	case bytecode.Add, bytecode.Sub, bytecode.Mul, bytecode.Div:
		if err := vm.doArith(op); err != nil {
			return err
		}
		vm.pc = next
	case bytecode.Neg:
		v, err := vm.pop()
		if err != nil {
			return err
		}
		switch v.Kind {
		case value.KindInt:
			vm.push(value.Int(-v.I))
		case value.KindFloat:
			vm.push(value.Float(-v.F))
		default:
			return newErr(TypeMismatch, pc, "int or float")
		}
		vm.pc = next
	case bytecode.Ceq:
		b, err := vm.pop()
		if err != nil {
			return err
		}
		a, err := vm.pop()
		if err != nil {
			return err
		}
		vm.push(value.Bool(a.Equal(b)))
		vm.pc = next
	case bytecode.Clt, bytecode.Cgt:
		b, err := vm.pop()
		if err != nil {
			return err
		}
		a, err := vm.pop()
		if err != nil {
			return err
		}
		var res bool
		var ok bool
		if op == bytecode.Clt {
			res, ok = a.Less(b)
		} else {
			res, ok = b.Less(a)
		}
		if !ok {
			return newErr(TypeMismatch, pc, "comparable operands")
		}
		vm.push(value.Bool(res))
		vm.pc = next
	case bytecode.Br:
		target := pc + 1 + 4 + int(int32(readU32(code, pc+1)))
		if target < 0 || target > len(code) {
			return newErr(InvalidBranch, pc, "")
		}
		vm.pc = target
	case bytecode.Brfalse:
		cond, err := vm.popBool()
		if err != nil {
			return err
		}
		if !cond {
			target := pc + 1 + 4 + int(int32(readU32(code, pc+1)))
			if target < 0 || target > len(code) {
				return newErr(InvalidBranch, pc, "")
			}
			vm.pc = target
		} else {
			vm.pc = next
		}
	case bytecode.Pop:
		if _, err := vm.pop(); err != nil {
			return err
		}
		vm.pc = next
	case bytecode.Dup:
		if len(vm.stack) == 0 {
			return newErr(StackUnderflow, pc, "")
		}
		vm.push(vm.stack[len(vm.stack)-1])
		vm.pc = next
	case bytecode.Ldloc:
		idx := int(readU16(code, pc+1))
		if idx >= len(vm.locals) {
			return newErr(InvalidLocal, pc, "")
		}
		vm.push(vm.locals[idx])
		vm.pc = next
	case bytecode.Stloc:
		idx := int(readU16(code, pc+1))
		if idx >= len(vm.locals) {
			return newErr(InvalidLocal, pc, "")
		}
		v, err := vm.pop()
		if err != nil {
			return err
		}
		vm.locals[idx] = v
		vm.pc = next
	case bytecode.Call:
		idx := readU16(code, pc+1)
		arity := code[pc+3]
		vm.pc = next
		return vm.doCall(idx, arity)
	case bytecode.Shl, bytecode.Shr:
		b, err := vm.pop()
		if err != nil {
			return err
		}
		a, err := vm.pop()
		if err != nil {
			return err
		}
		if a.Kind != value.KindInt || b.Kind != value.KindInt {
			return newErr(TypeMismatch, pc, "int")
		}
		if op == bytecode.Shl {
			vm.push(value.Int(a.I << uint(b.I)))
		} else {
			vm.push(value.Int(a.I >> uint(b.I)))
		}
		vm.pc = next
	default:
		return newErr(UnknownOpcode, pc, fmt.Sprintf("%#x", byte(op)))
	}
	return nil
}

func (vm *VM) doArith(op bytecode.OpCode) *VmError {
	b, err := vm.pop()
	if err != nil {
		return err
	}
	a, err := vm.pop()
	if err != nil {
		return err
	}
	bothInt := a.Kind == value.KindInt && b.Kind == value.KindInt
	numeric := bothInt || (isNumeric(a) && isNumeric(b))
	if !numeric {
		return newErr(TypeMismatch, vm.pc, "int or float")
	}
	if op == bytecode.Div && bothInt && b.I == 0 {
		return newErr(DivisionByZero, vm.pc, "")
	}
	if !bothInt && isNumeric(a) && isNumeric(b) && op == bytecode.Div && asFloat(b) == 0 {
		return newErr(DivisionByZero, vm.pc, "")
	}
	if bothInt {
		switch op {
		case bytecode.Add:
			vm.push(value.Int(a.I + b.I))
		case bytecode.Sub:
			vm.push(value.Int(a.I - b.I))
		case bytecode.Mul:
			vm.push(value.Int(a.I * b.I))
		case bytecode.Div:
			vm.push(value.Int(a.I / b.I))
		}
		return nil
	}
	af, bf := asFloat(a), asFloat(b)
	switch op {
	case bytecode.Add:
		vm.push(value.Float(af + bf))
	case bytecode.Sub:
		vm.push(value.Float(af - bf))
	case bytecode.Mul:
		vm.push(value.Float(af * bf))
	case bytecode.Div:
		vm.push(value.Float(af / bf))
	}
	return nil
}

func isNumeric(v value.Value) bool { return v.Kind == value.KindInt || v.Kind == value.KindFloat }

func asFloat(v value.Value) float64 {
	if v.Kind == value.KindInt {
		return float64(v.I)
	}
	return v.F
}

// doRet pops the current frame: at top level it halts the VM, returning the
// top-of-stack as the program's result; inside a function frame it restores
// the caller's PC and full locals snapshot, leaving only the callee's
// single result value on the (shared, continuous) operand stack.
func (vm *VM) doRet() *VmError {
	if len(vm.frames) == 0 {
		vm.halted = true
		return nil
	}
	result, err := vm.pop()
	if err != nil {
		return err
	}
	top := vm.frames[len(vm.frames)-1]
	vm.frames = vm.frames[:len(vm.frames)-1]
	vm.locals = top.savedLocals
	vm.pc = top.returnPC
	vm.push(result)
	return nil
}

// doCall dispatches a Call instruction's three disjoint index ranges: host
// imports (0..len(Imports)-1), defined functions (bytecode.FunctionBase..),
// and built-ins (near builtins.CallBase). Arguments are popped in call
// order (the first-pushed argument is deepest on the stack).
func (vm *VM) doCall(idx uint16, arity uint8) *VmError {
	if int(idx) < len(vm.prog.Imports) {
		return vm.callHost(idx, arity)
	}
	if fnArity, ok := vm.functionArity(idx); ok {
		if fnArity != arity {
			return newErr(CallArityMismatch, vm.pc, "")
		}
		return vm.callFunction(idx, arity)
	}
	if fn, ok := builtins.FromCallIndex(idx); ok {
		if builtinArity(fn) != arity {
			return newErr(CallArityMismatch, vm.pc, "")
		}
		return vm.callBuiltin(fn, arity)
	}
	return newErr(CallArityMismatch, vm.pc, "unresolvable call index")
}

func (vm *VM) popArgs(arity uint8) ([]value.Value, *VmError) {
	if len(vm.stack) < int(arity) {
		return nil, newErr(StackUnderflow, vm.pc, "")
	}
	args := make([]value.Value, arity)
	copy(args, vm.stack[len(vm.stack)-int(arity):])
	vm.stack = vm.stack[:len(vm.stack)-int(arity)]
	return args, nil
}

func (vm *VM) callHost(idx uint16, arity uint8) *VmError {
	if int(idx) >= len(vm.prog.Imports) || vm.prog.Imports[idx].Arity != arity {
		return newErr(CallArityMismatch, vm.pc, "")
	}
	fn := vm.host[idx]
	if fn == nil {
		return newErr(UnknownHostFunction, vm.pc, vm.prog.Imports[idx].Name)
	}
	args, err := vm.popArgs(arity)
	if err != nil {
		return err
	}
	outcome := fn.Invoke(vm, args, nil)
	if outcome.yield {
		vm.pending = &pendingYield{importIndex: idx, state: outcome.state}
		return nil
	}
	for _, v := range outcome.values {
		vm.push(v)
	}
	return nil
}

func (vm *VM) callFunction(idx uint16, arity uint8) *VmError {
	entry, ok := vm.prog.FunctionEntryOffset(idx)
	if !ok {
		return newErr(CallArityMismatch, vm.pc, "unknown function index")
	}
	args, err := vm.popArgs(arity)
	if err != nil {
		return err
	}
	savedLocals := vm.locals
	vm.frames = append(vm.frames, frame{returnPC: vm.pc, savedLocals: savedLocals, stackBase: len(vm.stack)})
	vm.locals = make([]value.Value, len(savedLocals))
	copy(vm.locals, args)
	vm.pc = int(entry)
	return nil
}
