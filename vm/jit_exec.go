package vm

import (
	"edgevm/jit"
	"edgevm/value"
)

// runNativeTrace hands control to a previously compiled trace's native
// code. It marshals the Int locals the trace touches into a flat buffer,
// invokes the backend, and on return either resumes interpretation at the
// guard's recorded exit PC (StatusTraceExit) or halts the VM
// (StatusHalted), surfacing any bridge error as a VmError (spec.md §7: the
// JIT never raises directly, it reports through the bridge).
//
// done is false when ct.Trace's entry assumptions don't currently hold
// (stack depth mismatch), in which case the interpreter falls back to
// ordinary instruction-by-instruction execution for this arrival.
func (vm *VM) runNativeTrace(ct *jit.CompiledTrace) (done bool, verr *VmError) {
	if len(vm.stack) != ct.Trace.Entry.StackDepth {
		return false, nil
	}
	native, ok := ct.Native.(jit.NativeTrace)
	if !ok || native == nil {
		return false, nil
	}

	buf := make([]int64, len(ct.Slots))
	for i, slot := range ct.Slots {
		if int(slot) >= len(vm.locals) || vm.locals[slot].Kind != value.KindInt {
			return false, nil
		}
		buf[i] = vm.locals[slot].I
	}

	status, guardIdx, err := native.Run(buf)
	vm.jitEngine.NoteExecution()

	for i, slot := range ct.Slots {
		vm.locals[slot] = value.Int(buf[i])
	}

	switch status {
	case jit.StatusHalted:
		vm.halted = true
		return true, nil
	case jit.StatusContinue:
		return true, nil
	case jit.StatusTraceExit:
		vm.jitEngine.NoteSideExit(ct.Trace.HeaderPC)
		if guardIdx < 0 || guardIdx >= len(ct.Trace.Ops) {
			return false, newErr(BridgeError, vm.pc, "native trace returned an out-of-range guard index")
		}
		vm.pc = ct.Trace.Ops[guardIdx].Guard.ExitPC
		return true, nil
	case jit.StatusError:
		detail := "native trace error"
		if err != nil {
			detail = err.Error()
		}
		return true, newErr(BridgeError, vm.pc, detail)
	default:
		return false, newErr(BridgeError, vm.pc, "unknown native trace status")
	}
}
