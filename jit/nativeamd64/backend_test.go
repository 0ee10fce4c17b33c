//go:build amd64 && linux

package nativeamd64

import (
	"testing"

	"edgevm/jit"
)

func TestCompileRejectsSideExitTerminatedTrace(t *testing.T) {
	b := New()
	defer b.Close()

	trace := &jit.Trace{
		HeaderPC: 0,
		Entry:    jit.EntryState{StackDepth: 0},
		Ops:      []jit.Op{{Kind: jit.OpLoadConst, ConstValue: 1}},
		Terminal: jit.Terminal{Kind: jit.SideExit},
	}
	if _, err := b.Compile(trace, nil); err == nil {
		t.Fatal("expected an error compiling a side-exit-terminated trace")
	}
}

func TestCompileRejectsHostCall(t *testing.T) {
	b := New()
	defer b.Close()

	trace := &jit.Trace{
		HeaderPC: 0,
		Entry:    jit.EntryState{StackDepth: 0},
		Ops:      []jit.Op{{Kind: jit.OpHostCall, ImportIdx: 0, Arity: 0}},
		Terminal: jit.Terminal{Kind: jit.Loopback},
	}
	if _, err := b.Compile(trace, nil); err == nil {
		t.Fatal("expected an error compiling a trace with a host call")
	}
}

func TestAllocatorRoundTrip(t *testing.T) {
	var a allocator
	blk, err := a.allocateExec([]byte{0xC3}) // RET
	if err != nil {
		t.Fatalf("allocateExec: %v", err)
	}
	if blk.mem == nil {
		t.Fatal("expected a non-nil executable memory handle")
	}
	if err := blk.close(); err != nil {
		t.Fatalf("close: %v", err)
	}
}

func TestSlotIndexOf(t *testing.T) {
	slots := []uint16{3, 7, 1}
	if idx, ok := slotIndexOf(slots, 7); !ok || idx != 1 {
		t.Fatalf("slotIndexOf(7) = %d, %v, want 1, true", idx, ok)
	}
	if _, ok := slotIndexOf(slots, 9); ok {
		t.Fatal("slotIndexOf(9) should report not found")
	}
}
