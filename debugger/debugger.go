// Package debugger implements the in-process command bridge spec.md §4.6
// describes: an external front-end (stdio or TCP) submits textual commands
// one at a time and receives a structured {output, current_line, attached}
// response, while a Session implements vm.DebugHook and pauses the
// interpreter between instructions to service them.
//
// Grounded on the teacher's own debug-REPL loop in main_teacher_reference.go
// (execProgramDebugMode's "n/next", "r/run", "b <line>" command shapes,
// break-on-line bookkeeping) generalized to spec.md §4.6's fuller command
// set, and on original_source/pd-edge/src/debug_session.rs for the
// {output, current_line, attached} / timeout / NotAttached / BridgeClosed
// response contract.
package debugger

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"edgevm/debuginfo"
	"edgevm/vm"
)

// Kind enumerates the debugger-specific error conditions spec.md §7 lists.
type Kind int

const (
	NotActive Kind = iota
	NotAttached
	CommandTimeout
	BridgeClosed
	InvalidCommand
)

func (k Kind) String() string {
	switch k {
	case NotActive:
		return "NotActive"
	case NotAttached:
		return "NotAttached"
	case CommandTimeout:
		return "CommandTimeout"
	case BridgeClosed:
		return "BridgeClosed"
	case InvalidCommand:
		return "InvalidCommand"
	default:
		return "Unknown"
	}
}

// Error is the debugger's error value type, mirroring vm.VmError's shape.
type Error struct {
	Kind   Kind
	Detail string
}

func (e *Error) Error() string {
	if e.Detail == "" {
		return e.Kind.String()
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Detail)
}

// Response is the structured reply a command produces, matching spec.md
// §4.6's {output, current_line, attached} shape.
type Response struct {
	Output      string
	CurrentLine int
	Attached    bool
}

// stepMode tracks what should happen on the next instruction boundary.
type stepMode int

const (
	modeRun      stepMode = iota // free-run until a breakpoint
	modePaused                   // waiting at a stop for a command
	modeStepInto                // stop again after exactly one instruction
	modeStepOver                // stop again once frame depth <= target
	modeStepOut                 // stop again once frame depth < target
)

type request struct {
	cmd  string
	resp chan result
}

type result struct {
	out Response
	err error
}

// Session bridges one VM to an external command source. It implements
// vm.DebugHook: attach it with vm.RunWithDebugger.
type Session struct {
	// ID identifies this attach for logging/front-end banners; it has no
	// bearing on debugger behavior and is never compared against anything.
	ID uuid.UUID

	v    *vm.VM
	info *debuginfo.DebugInfo

	mode      stepMode
	depthWant int

	requests chan request
	closed   bool
}

// NewSession prepares a bridge for v. If stopOnEntry is set, the VM pauses
// before its first instruction; otherwise it free-runs until it reaches a
// breakpoint or a `step`, `next` or `out` command arrives over the bridge.
func NewSession(v *vm.VM, info *debuginfo.DebugInfo, stopOnEntry bool) *Session {
	mode := modeRun
	if stopOnEntry {
		mode = modePaused
	}
	return &Session{
		ID:       uuid.New(),
		v:        v,
		info:     info,
		mode:     mode,
		requests: make(chan request),
	}
}

// Before implements vm.DebugHook. It runs on the VM's own goroutine: when
// paused it blocks servicing commands from Submit until a resume command
// (step/next/continue/out) arrives, then returns HookProceed for the VM to
// execute the next instruction. It never reschedules onto another goroutine,
// matching spec.md §5's "does not reschedule" suspension rule.
func (s *Session) Before(v *vm.VM) vm.HookAction {
	if s.mode == modeRun && v.AtBreakpoint() {
		s.mode = modePaused
	}
	if s.mode == modeStepOver && v.FrameDepth() > s.depthWant {
		return s.serviceWithoutBlocking()
	}
	if s.mode == modeStepOut && v.FrameDepth() >= s.depthWant {
		return s.serviceWithoutBlocking()
	}
	if s.mode != modePaused {
		if s.mode == modeStepInto || s.mode == modeStepOver || s.mode == modeStepOut {
			s.mode = modePaused
		} else {
			return s.serviceWithoutBlocking()
		}
	}

	for {
		req, ok := <-s.requests
		if !ok {
			s.closed = true
			return vm.HookDetach
		}
		resume, resp, err := s.dispatch(req.cmd)
		req.resp <- result{out: resp, err: err}
		if resume {
			return vm.HookProceed
		}
	}
}

// Submit delivers one command to a paused Session and waits up to timeout
// for its response. It is safe to call from any goroutine other than the one
// driving the VM.
func (s *Session) Submit(cmd string, timeout time.Duration) (Response, error) {
	if s.closed {
		return Response{}, &Error{Kind: BridgeClosed}
	}
	req := request{cmd: cmd, resp: make(chan result, 1)}
	select {
	case s.requests <- req:
	case <-time.After(timeout):
		return Response{}, &Error{Kind: CommandTimeout}
	}
	select {
	case r := <-req.resp:
		return r.out, r.err
	case <-time.After(timeout):
		return Response{}, &Error{Kind: CommandTimeout}
	}
}

// Close releases a Session blocked in Before, causing the VM's debugger loop
// to detach rather than pause forever.
func (s *Session) Close() {
	if s.closed {
		return
	}
	close(s.requests)
}

// serviceWithoutBlocking lets a bridge client submit a query (e.g. "break
// line N") or request an immediate pause while the VM is otherwise
// free-running, without stalling the interpreter when nothing is pending.
func (s *Session) serviceWithoutBlocking() vm.HookAction {
	for {
		select {
		case req, ok := <-s.requests:
			if !ok {
				s.closed = true
				return vm.HookDetach
			}
			resume, resp, err := s.dispatch(req.cmd)
			req.resp <- result{out: resp, err: err}
			if resume {
				return vm.HookProceed
			}
		default:
			return vm.HookProceed
		}
	}
}

func (s *Session) currentLine() int {
	if s.info == nil {
		return 0
	}
	line, ok := s.info.LineForOffset(uint32(s.v.PC()))
	if !ok {
		return 0
	}
	return int(line)
}
