package debugger

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/mattn/go-colorable"
	"github.com/mattn/go-isatty"
	"github.com/peterh/liner"

	"edgevm/vm"
)

// stdioOut is stdout wrapped for ANSI passthrough on consoles that need it
// (go-colorable), with color disabled entirely when stdout isn't a terminal
// (e.g. piped into a file or another process) per go-isatty.
var stdioOut = colorable.NewColorable(os.Stdout)

var (
	promptColor = color.New(color.FgCyan)
	errColor    = color.New(color.FgRed)
)

func init() {
	if !isatty.IsTerminal(os.Stdout.Fd()) {
		color.NoColor = true
	}
}

// interactiveTimeout is generous since a human, not an automated bridge, is
// the one answering; Submit still enforces it so a Session can never hang a
// front-end forever if the VM goroutine wedges.
const interactiveTimeout = 24 * time.Hour

// RunStdio drives v under the given Session using an interactive terminal,
// in the spirit of the teacher's execProgramDebugMode REPL (main_teacher_
// reference.go) but fronting spec.md §4.6's fuller command set and response
// shape. It returns once the VM halts, errors, or the user quits.
func RunStdio(v *vm.VM, s *Session) error {
	line := liner.NewLiner()
	defer line.Close()
	line.SetCtrlCAborts(true)

	done := make(chan error, 1)
	go func() { done <- v.RunWithDebugger(s) }()

	fmt.Fprintf(stdioOut, "edgevm debugger [%s]: where, step, next, continue, out, break line N, clear line N, print <name>, dump <name>, locals, stack, quit\n", s.ID)

	for {
		select {
		case runErr := <-done:
			s.Close()
			if runErr != nil {
				errColor.Fprintln(stdioOut, runErr)
			}
			if err := v.Err(); err != nil {
				errColor.Fprintln(stdioOut, err)
			}
			return runErr
		default:
		}

		input, err := line.Prompt(promptColor.Sprint("(edgevm) "))
		if err == liner.ErrPromptAborted || err == io.EOF {
			s.Close()
			<-done
			return nil
		}
		if err != nil {
			return err
		}
		input = strings.TrimSpace(input)
		if input == "" {
			continue
		}
		line.AppendHistory(input)
		if input == "quit" || input == "exit" {
			s.Close()
			<-done
			return nil
		}

		resp, err := s.Submit(input, interactiveTimeout)
		if err != nil {
			errColor.Fprintln(stdioOut, err)
			continue
		}
		if resp.Output != "" {
			fmt.Fprintln(stdioOut, resp.Output)
		}
	}
}
