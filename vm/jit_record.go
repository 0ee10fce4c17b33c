package vm

import (
	"edgevm/bytecode"
	"edgevm/jit"
	"edgevm/value"
)

// traceRecorder tracks the local-slot set observed by the in-flight
// recording, so Backend.Compile receives a stable buf-index assignment
// (jit.Backend.Compile's slots parameter).
type traceRecorder struct {
	headerPC  int
	slots     []uint16
	slotIndex map[uint16]int
}

func (r *traceRecorder) ensureSlot(idx uint16) {
	if _, ok := r.slotIndex[idx]; ok {
		return
	}
	r.slotIndex[idx] = len(r.slots)
	r.slots = append(r.slots, idx)
}

// pendingRecordHeader remembers which loop header Engine.NoticeLoopHeader
// just armed, so recording begins on that header's *next* arrival
// (spec.md §4.5). -1 means nothing armed.
//
// Stored on VM rather than traceRecorder since it must survive across the
// gap between the arming arrival and the next one, when vm.rec is nil.

// onInstructionExecuted is called from runLoop after every successful
// vm.step(), with the PC the instruction started at. It drives both the
// hot-loop counters (independent of recording) and, while vm.rec is
// non-nil, the trace recorder.
func (vm *VM) onInstructionExecuted(op bytecode.OpCode, pcBefore int) {
	if vm.jitEngine == nil {
		return
	}
	if (op == bytecode.Br || op == bytecode.Brfalse) && vm.pc < pcBefore {
		vm.onLoopHeaderReached(vm.pc)
	}
}

func (vm *VM) onLoopHeaderReached(headerPC int) {
	if vm.rec != nil {
		if vm.rec.headerPC == headerPC {
			vm.finishRecording(jit.Terminal{Kind: jit.Loopback})
		} else {
			vm.finishRecording(jit.Terminal{Kind: jit.NotYetImplemented, Reason: "nested loop header"})
		}
		return
	}
	if _, ok := vm.jitEngine.CompiledTraceAt(headerPC); ok {
		return
	}
	if vm.jitEngine.Recording() {
		return
	}
	if vm.jitEngine.NoticeLoopHeader(headerPC) {
		vm.pendingRecordHeader = headerPC
		return
	}
	if vm.pendingRecordHeader == headerPC {
		vm.startRecording(headerPC)
		vm.pendingRecordHeader = -1
	}
}

func (vm *VM) startRecording(headerPC int) {
	vm.rec = &traceRecorder{headerPC: headerPC, slotIndex: map[uint16]int{}}
	vm.jitEngine.BeginRecording(headerPC, jit.EntryState{StackDepth: len(vm.stack)})
}

func (vm *VM) finishRecording(term jit.Terminal) {
	if vm.rec == nil {
		return
	}
	slots := vm.rec.slots
	vm.rec = nil
	trace := vm.jitEngine.EndRecording(term)
	if trace == nil || !trace.Recordable() || vm.jitBackend == nil {
		return
	}
	native, err := vm.jitBackend.Compile(trace, slots)
	if err != nil {
		return
	}
	vm.jitEngine.InstallNative(trace, native, slots)
}

func (vm *VM) abortRecording(reason string) {
	vm.finishRecording(jit.Terminal{Kind: jit.NotYetImplemented, Reason: reason})
}

// traceBeforeStep runs before vm.step() whenever a recording is in flight.
// It reads (never mutates) the operand stack/locals to classify the
// upcoming instruction, appending a typed Op to the engine's in-flight
// trace or aborting recording for an unsupported shape. The interpreter's
// own step() always still runs afterward and is the sole source of truth
// for the program's actual effects; this func only ever observes.
func (vm *VM) traceBeforeStep(op bytecode.OpCode, pc int) {
	if vm.rec == nil {
		return
	}
	code := vm.prog.Code

	top := func(depth int) (value.Value, bool) {
		i := len(vm.stack) - 1 - depth
		if i < 0 {
			return value.Value{}, false
		}
		return vm.stack[i], true
	}

	record := func(o jit.Op) {
		if term := vm.jitEngine.RecordOp(o); term != nil {
			vm.finishRecording(*term)
		}
	}

	switch op {
	case bytecode.Ldc:
		idx := readU32(code, pc+1)
		if int(idx) >= len(vm.prog.Constants) || vm.prog.Constants[idx].Kind != value.KindInt {
			vm.abortRecording("non-int constant")
			return
		}
		record(jit.Op{Kind: jit.OpLoadConst, SourcePC: pc, ConstValue: vm.prog.Constants[idx].I})
	case bytecode.Ldloc:
		idx := readU16(code, pc+1)
		if int(idx) >= len(vm.locals) || vm.locals[idx].Kind != value.KindInt {
			vm.abortRecording("non-int local read")
			return
		}
		vm.rec.ensureSlot(idx)
		record(jit.Op{Kind: jit.OpLoadLocal, SourcePC: pc, LocalIdx: idx})
	case bytecode.Stloc:
		idx := readU16(code, pc+1)
		v, ok := top(0)
		if !ok || v.Kind != value.KindInt {
			vm.abortRecording("non-int local write")
			return
		}
		vm.rec.ensureSlot(idx)
		record(jit.Op{Kind: jit.OpStoreLocal, SourcePC: pc, LocalIdx: idx})
	case bytecode.Add, bytecode.Sub, bytecode.Mul, bytecode.Div, bytecode.Shl, bytecode.Shr:
		b, okB := top(0)
		a, okA := top(1)
		if !okA || !okB || a.Kind != value.KindInt || b.Kind != value.KindInt {
			vm.abortRecording("non-int arithmetic operand")
			return
		}
		if op == bytecode.Div && b.I == 0 {
			vm.abortRecording("division by zero")
			return
		}
		record(jit.Op{Kind: arithOpKind(op), SourcePC: pc})
	case bytecode.Neg:
		a, ok := top(0)
		if !ok || a.Kind != value.KindInt {
			vm.abortRecording("non-int negate operand")
			return
		}
		record(jit.Op{Kind: jit.OpNeg, SourcePC: pc})
	case bytecode.Ceq, bytecode.Clt, bytecode.Cgt:
		b, okB := top(0)
		a, okA := top(1)
		if !okA || !okB || a.Kind != value.KindInt || b.Kind != value.KindInt {
			vm.abortRecording("non-int comparison operand")
			return
		}
		record(jit.Op{Kind: compareOpKind(op), SourcePC: pc})
	case bytecode.Brfalse:
		cond, ok := top(0)
		if !ok || cond.Kind != value.KindBool {
			vm.abortRecording("non-bool branch condition")
			return
		}
		target := pc + 1 + 4 + int(int32(readU32(code, pc+1)))
		next := pc + 1 + 4
		taken := !cond.B
		exit := target
		if taken {
			exit = next
		}
		record(jit.Op{Kind: jit.OpGuard, SourcePC: pc, Guard: jit.Guard{
			Kind: jit.GuardBranch, SourcePC: pc, WantTaken: taken, ExitPC: exit,
		}})
	case bytecode.Br:
		// Pure control flow; closing/nested-loop-header handling happens
		// in onInstructionExecuted after vm.step() moves vm.pc.
	default:
		vm.abortRecording(op.Mnemonic() + " not supported by the trace recorder")
	}
}

func arithOpKind(op bytecode.OpCode) jit.OpKind {
	switch op {
	case bytecode.Add:
		return jit.OpAdd
	case bytecode.Sub:
		return jit.OpSub
	case bytecode.Mul:
		return jit.OpMul
	case bytecode.Div:
		return jit.OpDiv
	case bytecode.Shl:
		return jit.OpShl
	default:
		return jit.OpShr
	}
}

func compareOpKind(op bytecode.OpCode) jit.OpKind {
	switch op {
	case bytecode.Ceq:
		return jit.OpCeq
	case bytecode.Clt:
		return jit.OpClt
	default:
		return jit.OpCgt
	}
}
