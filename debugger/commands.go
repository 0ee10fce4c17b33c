package debugger

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/davecgh/go-spew/spew"

	"edgevm/vm"
)

// dispatch executes one command against the paused VM, returning whether the
// VM should resume execution (true for step/next/continue/out) along with
// the response to hand back to the bridge.
func (s *Session) dispatch(cmd string) (resume bool, resp Response, err error) {
	fields := strings.Fields(strings.TrimSpace(cmd))
	if len(fields) == 0 {
		return false, Response{}, &Error{Kind: InvalidCommand, Detail: "empty command"}
	}

	switch fields[0] {
	case "step":
		s.mode = modeStepInto
		return true, s.attachedResponse(""), nil
	case "next":
		s.mode = modeStepOver
		s.depthWant = s.v.FrameDepth()
		return true, s.attachedResponse(""), nil
	case "out":
		s.mode = modeStepOut
		s.depthWant = s.v.FrameDepth()
		return true, s.attachedResponse(""), nil
	case "continue":
		s.mode = modeRun
		return true, s.attachedResponse(""), nil
	case "where":
		return false, s.attachedResponse(s.whereText()), nil
	case "locals":
		return false, s.attachedResponse(s.localsText()), nil
	case "stack":
		return false, s.attachedResponse(s.stackText()), nil
	case "print":
		if len(fields) != 2 {
			return false, Response{}, &Error{Kind: InvalidCommand, Detail: "usage: print <name>"}
		}
		out, perr := s.printText(fields[1])
		if perr != nil {
			return false, Response{}, perr
		}
		return false, s.attachedResponse(out), nil
	case "break":
		return s.breakCmd(fields)
	case "clear":
		return s.clearCmd(fields)
	case "dump":
		if len(fields) != 2 {
			return false, Response{}, &Error{Kind: InvalidCommand, Detail: "usage: dump <name>"}
		}
		out, derr := s.dumpText(fields[1])
		if derr != nil {
			return false, Response{}, derr
		}
		return false, s.attachedResponse(out), nil
	default:
		return false, Response{}, &Error{Kind: InvalidCommand, Detail: cmd}
	}
}

func (s *Session) breakCmd(fields []string) (bool, Response, error) {
	line, err := parseLineCmd(fields)
	if err != nil {
		return false, Response{}, err
	}
	if s.info == nil {
		return false, Response{}, &Error{Kind: NotAttached, Detail: "no debug info loaded"}
	}
	offsets := s.info.OffsetsForLine(line)
	if len(offsets) == 0 {
		return false, Response{}, &Error{Kind: InvalidCommand, Detail: fmt.Sprintf("no code at line %d", line)}
	}
	for _, off := range offsets {
		s.v.SetBreakpoint(off)
	}
	return false, s.attachedResponse(fmt.Sprintf("breakpoint set at line %d", line)), nil
}

func (s *Session) clearCmd(fields []string) (bool, Response, error) {
	line, err := parseLineCmd(fields)
	if err != nil {
		return false, Response{}, err
	}
	if s.info == nil {
		return false, Response{}, &Error{Kind: NotAttached, Detail: "no debug info loaded"}
	}
	for _, off := range s.info.OffsetsForLine(line) {
		s.v.ClearBreakpoint(off)
	}
	return false, s.attachedResponse(fmt.Sprintf("breakpoint cleared at line %d", line)), nil
}

func parseLineCmd(fields []string) (uint32, error) {
	if len(fields) != 3 || fields[1] != "line" {
		return 0, &Error{Kind: InvalidCommand, Detail: "usage: break line N / clear line N"}
	}
	n, err := strconv.ParseUint(fields[2], 10, 32)
	if err != nil {
		return 0, &Error{Kind: InvalidCommand, Detail: "not a line number: " + fields[2]}
	}
	return uint32(n), nil
}

func (s *Session) whereText() string {
	line := s.currentLine()
	if s.v.Halted() {
		return fmt.Sprintf("halted at pc=%d", s.v.PC())
	}
	if e := s.v.Err(); e != nil {
		return fmt.Sprintf("line %d pc=%d: %v", line, s.v.PC(), e)
	}
	return fmt.Sprintf("line %d pc=%d", line, s.v.PC())
}

func (s *Session) localsText() string {
	locals := s.v.Locals()
	if len(locals) == 0 {
		return "(no locals)"
	}
	names := map[uint8]string{}
	if s.info != nil {
		for _, l := range s.info.Locals {
			names[l.Index] = l.Name
		}
	}
	var b strings.Builder
	for i, v := range locals {
		name := names[uint8(i)]
		if name == "" {
			fmt.Fprintf(&b, "local[%d] = %s\n", i, v.String())
		} else {
			fmt.Fprintf(&b, "%s (local[%d]) = %s\n", name, i, v.String())
		}
	}
	return strings.TrimRight(b.String(), "\n")
}

func (s *Session) stackText() string {
	stack := s.v.Stack()
	if len(stack) == 0 {
		return "(empty stack)"
	}
	var b strings.Builder
	for i, v := range stack {
		fmt.Fprintf(&b, "[%d] %s\n", i, v.String())
	}
	return strings.TrimRight(b.String(), "\n")
}

func (s *Session) printText(name string) (string, error) {
	if s.info == nil {
		return "", &Error{Kind: NotAttached, Detail: "no debug info loaded"}
	}
	idx, ok := s.info.LocalIndex(name)
	if !ok {
		return "", &Error{Kind: InvalidCommand, Detail: "unknown local: " + name}
	}
	locals := s.v.Locals()
	if int(idx) >= len(locals) {
		return "", &Error{Kind: InvalidCommand, Detail: "local out of range: " + name}
	}
	return fmt.Sprintf("%s = %s", name, locals[idx].String()), nil
}

// dumpText renders a local's full Go-level structure, unlike print's
// value.Value.String() summary — useful for inspecting an Array/Map local's
// actual contents rather than its one-line rendering.
func (s *Session) dumpText(name string) (string, error) {
	if s.info == nil {
		return "", &Error{Kind: NotAttached, Detail: "no debug info loaded"}
	}
	idx, ok := s.info.LocalIndex(name)
	if !ok {
		return "", &Error{Kind: InvalidCommand, Detail: "unknown local: " + name}
	}
	locals := s.v.Locals()
	if int(idx) >= len(locals) {
		return "", &Error{Kind: InvalidCommand, Detail: "local out of range: " + name}
	}
	return spew.Sdump(locals[idx]), nil
}

func (s *Session) attachedResponse(output string) Response {
	return Response{Output: output, CurrentLine: s.currentLine(), Attached: true}
}

var _ vm.DebugHook = (*Session)(nil)
