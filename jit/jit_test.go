package jit

import "testing"

func TestNoticeLoopHeaderCrossesThresholdOnce(t *testing.T) {
	e := NewEngine(3, 0)
	var crossed int
	for i := 0; i < 10; i++ {
		if e.NoticeLoopHeader(100) {
			crossed++
		}
	}
	if crossed != 1 {
		t.Fatalf("expected exactly one threshold crossing, got %d", crossed)
	}
}

func TestRecordingLifecycle(t *testing.T) {
	e := NewEngine(1, 0)
	e.BeginRecording(10, EntryState{StackDepth: 0, Locals: map[uint16]LocalType{0: TypeInt}})
	if !e.Recording() {
		t.Fatal("expected Recording() true mid-recording")
	}
	e.RecordOp(Op{Kind: OpLoadLocal, LocalIdx: 0})
	e.RecordOp(Op{Kind: OpLoadConst, ConstValue: 1})
	e.RecordOp(Op{Kind: OpAdd})
	tr := e.EndRecording(Terminal{Kind: Loopback})
	if tr == nil || len(tr.Ops) != 3 {
		t.Fatalf("expected a 3-op trace, got %+v", tr)
	}
	if !tr.Recordable() {
		t.Fatal("a Loopback-terminated trace should be Recordable")
	}
	if e.Recording() {
		t.Fatal("expected Recording() false after EndRecording")
	}
	stats := e.Stats()
	if stats.Attempts != 1 || stats.Successes != 1 {
		t.Fatalf("unexpected stats: %+v", stats)
	}
}

func TestLengthLimitTerminatesRecording(t *testing.T) {
	e := NewEngine(1, 2)
	e.BeginRecording(0, EntryState{})
	if term := e.RecordOp(Op{Kind: OpNeg}); term != nil {
		t.Fatal("first op should not yet hit the length limit")
	}
	term := e.RecordOp(Op{Kind: OpNeg})
	if term == nil || term.Kind != LengthLimit {
		t.Fatalf("expected LengthLimit terminal, got %v", term)
	}
	tr := e.EndRecording(*term)
	if tr.Recordable() {
		t.Fatal("a LengthLimit trace must not be Recordable")
	}
}

func TestNoteSideExitDisablesAfterThreshold(t *testing.T) {
	e := NewEngine(1, 0)
	tr := &Trace{HeaderPC: 5, Terminal: Terminal{Kind: Loopback}}
	e.InstallNative(tr, nil, nil)
	for i := 0; i < MaxConsecutiveSideExits-1; i++ {
		e.NoteSideExit(5)
		if _, ok := e.CompiledTraceAt(5); !ok {
			t.Fatalf("trace disabled too early, after %d side exits", i+1)
		}
	}
	e.NoteSideExit(5)
	if _, ok := e.CompiledTraceAt(5); ok {
		t.Fatal("expected trace to be disabled after MaxConsecutiveSideExits")
	}
	if e.NoticeLoopHeader(5) {
		t.Fatal("a disabled header must not immediately re-arm recording")
	}
}

func TestDumpInfoMentionsAttemptsAndTraces(t *testing.T) {
	e := NewEngine(1, 0)
	e.BeginRecording(1, EntryState{})
	e.RecordOp(Op{Kind: OpAdd})
	tr := e.EndRecording(Terminal{Kind: Loopback})
	e.InstallNative(tr, nil, nil)
	e.NoteExecution()

	out := e.DumpInfo()
	if out == "" {
		t.Fatal("expected non-empty dump")
	}
}
