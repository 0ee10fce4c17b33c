package jit

import "sync"

// DefaultHotLoopThreshold is how many times a loop header must be reached
// before the next arrival begins trace recording, absent an explicit
// Engine.HotLoopThreshold override (spec.md §4.5, §6 --jit-hot-loop).
const DefaultHotLoopThreshold = 50

// DefaultMaxTraceLen bounds how many ops a single recording may grow to
// before it aborts with LengthLimit.
const DefaultMaxTraceLen = 4096

// CompiledTrace is a Trace that has been handed to a native backend and is
// now installed at its HeaderPC. Native is backend-specific (an
// *nativeamd64.NativeTrace on amd64/linux); it is stored as `any` so this
// package never imports an architecture-specific backend.
type CompiledTrace struct {
	Trace     *Trace
	Native    any
	Slots     []uint16 // local indices backing NativeTrace.Run's buf, in order
	sideExits int       // guard exits since the trace was installed (never reset); see NoteSideExit
}

// Stats reports the running counters spec.md §4.5's dump_jit_info exposes.
type Stats struct {
	Attempts         int
	Successes        int
	NativeTraces     int
	NativeExecutions int
}

// attempt is one recording attempt's outcome, kept for DumpInfo's report.
type attempt struct {
	headerPC int
	terminal Terminal
	opCount  int
}

// Engine owns hot-loop counters, in-flight recording state, and compiled
// traces for one VM. Its methods serialize on mu; one VM (and hence one
// Engine) is driven by one driver.
type Engine struct {
	mu sync.Mutex

	hotLoopThreshold int
	maxTraceLen      int

	counts map[int]int // loop-header PC -> arrival count

	recording    bool
	recHeaderPC  int
	recEntry     EntryState
	recOps       []Op
	recDisabled  map[int]bool // header PCs whose trace was disabled after repeated side exits

	compiled map[int]*CompiledTrace
	attempts []attempt
	stats    Stats
}

// NewEngine constructs an Engine with the given thresholds; a zero value for
// either selects the package default.
func NewEngine(hotLoopThreshold, maxTraceLen int) *Engine {
	if hotLoopThreshold <= 0 {
		hotLoopThreshold = DefaultHotLoopThreshold
	}
	if maxTraceLen <= 0 {
		maxTraceLen = DefaultMaxTraceLen
	}
	return &Engine{
		hotLoopThreshold: hotLoopThreshold,
		maxTraceLen:      maxTraceLen,
		counts:           map[int]int{},
		recDisabled:      map[int]bool{},
		compiled:         map[int]*CompiledTrace{},
	}
}

// CompiledTraceAt returns the native trace installed at pc, if any.
func (e *Engine) CompiledTraceAt(pc int) (*CompiledTrace, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	ct, ok := e.compiled[pc]
	return ct, ok
}

// NoticeLoopHeader is called by the interpreter every time control reaches a
// backward-branch target (a loop header). It returns true exactly once per
// header, the arrival that crosses hotLoopThreshold, signalling the
// interpreter should call BeginRecording on its *next* arrival at this same
// header (spec.md §4.5: "enables recording on the next arrival").
func (e *Engine) NoticeLoopHeader(pc int) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.recDisabled[pc] {
		return false
	}
	if _, ok := e.compiled[pc]; ok {
		return false
	}
	e.counts[pc]++
	return e.counts[pc] == e.hotLoopThreshold+1
}

// Recording reports whether the engine is currently mid-recording.
func (e *Engine) Recording() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.recording
}

// BeginRecording starts recording a new trace at headerPC with the given
// entry snapshot. Any in-flight recording is discarded.
func (e *Engine) BeginRecording(headerPC int, entry EntryState) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.recording = true
	e.recHeaderPC = headerPC
	e.recEntry = entry
	e.recOps = nil
}

// RecordOp appends one typed op to the in-flight trace. It returns a
// non-nil Terminal if recording must stop now (LengthLimit); the caller
// should then call EndRecording(term).
func (e *Engine) RecordOp(op Op) *Terminal {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.recording {
		return nil
	}
	e.recOps = append(e.recOps, op)
	if len(e.recOps) >= e.maxTraceLen {
		t := Terminal{Kind: LengthLimit}
		return &t
	}
	return nil
}

// EndRecording closes the in-flight trace with the given terminal reason and
// returns the finished Trace. Recording state resets so a later
// NoticeLoopHeader/BeginRecording pair can start fresh.
func (e *Engine) EndRecording(term Terminal) *Trace {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.recording {
		return nil
	}
	tr := &Trace{HeaderPC: e.recHeaderPC, Entry: e.recEntry, Ops: e.recOps, Terminal: term}
	e.recording = false
	e.recOps = nil
	e.stats.Attempts++
	e.attempts = append(e.attempts, attempt{headerPC: tr.HeaderPC, terminal: term, opCount: len(tr.Ops)})
	if tr.Recordable() {
		e.stats.Successes++
	}
	return tr
}

// InstallNative records a backend's compiled output for trace at its
// HeaderPC, making it eligible for CompiledTraceAt lookups.
func (e *Engine) InstallNative(trace *Trace, native any, slots []uint16) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.compiled[trace.HeaderPC] = &CompiledTrace{Trace: trace, Native: native, Slots: slots}
	e.stats.NativeTraces++
}

// NoteExecution records one native-trace invocation for Stats.NativeExecutions.
func (e *Engine) NoteExecution() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.stats.NativeExecutions++
}

// NoteSideExit records a guard exit at the trace installed for headerPC.
// Exits are counted from the moment the trace is installed and the count is
// never reset, so successful runs in between do not clear it. Once it
// reaches MaxConsecutiveSideExits the trace is uninstalled and its header
// PC is never recorded again for the remainder of this Engine's life; the
// header is not re-traced.
const MaxConsecutiveSideExits = 8

func (e *Engine) NoteSideExit(headerPC int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	ct, ok := e.compiled[headerPC]
	if !ok {
		return
	}
	ct.sideExits++
	if ct.sideExits >= MaxConsecutiveSideExits {
		delete(e.compiled, headerPC)
		e.recDisabled[headerPC] = true
		delete(e.counts, headerPC)
	}
}

// Stats returns a snapshot of the running counters.
func (e *Engine) Stats() Stats {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.stats
}
