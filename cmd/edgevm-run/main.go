// Command edgevm-run loads, validates, and executes a compiled or
// source-dialect program against the VM described by spec.md, optionally
// attaching the tracing JIT and/or the interactive or remote debugger.
//
// Grounded on original_source/pd-vm/src/main.rs for the flag surface
// (source_path positional; --debug/--tcp/--stop-on-entry/--no-stop-on-entry/
// --jit-dump/--jit-hot-loop) and the host-binding-order check in its
// register_functions, rebuilt on gopkg.in/urfave/cli.v1 per the ambient CLI
// stack the rest of this module's SPEC_FULL.md carries forward from the
// ProbeChain-go-probe corpus.
package main

import (
	"fmt"
	"os"

	"gopkg.in/urfave/cli.v1"

	"edgevm/debugger"
	"edgevm/internal/rtlog"
	"edgevm/jit"
	"edgevm/vm"
	"edgevm/wire"
)

const defaultSource = "examples/example.rss"

func main() {
	app := cli.NewApp()
	app.Name = "edgevm-run"
	app.Usage = "compile and run an edgevm program"
	app.Version = "0.1.0"
	app.ArgsUsage = "[source_path]"
	app.Flags = runFlags()
	app.Action = func(c *cli.Context) error { return runAction(c, false) }

	// Legacy `edgevm-run debug <file>` prefix, equivalent to
	// `edgevm-run --debug <file>`, preserved from the original CLI.
	app.Commands = []cli.Command{
		{
			Name:      "debug",
			Usage:     "alias for --debug",
			ArgsUsage: "[source_path]",
			Flags:     runFlags(),
			Action: func(c *cli.Context) error {
				return runAction(c, true)
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func runFlags() []cli.Flag {
	return []cli.Flag{
		cli.BoolFlag{Name: "debug", Usage: "attach the interactive debugger"},
		cli.StringFlag{Name: "tcp", Usage: "serve the debugger over TCP at this address instead of stdio"},
		cli.BoolFlag{Name: "stop-on-entry", Usage: "pause before the first instruction (default)"},
		cli.BoolFlag{Name: "no-stop-on-entry", Usage: "free-run until the first breakpoint"},
		cli.BoolFlag{Name: "jit-dump", Usage: "print JIT hotness/trace statistics on exit"},
		cli.IntFlag{Name: "jit-hot-loop", Usage: "loop-header hotness threshold before recording a trace", Value: jit.DefaultHotLoopThreshold},
	}
}

func runAction(c *cli.Context, forceDebug bool) error {
	source := c.Args().First()
	if source == "" {
		source = defaultSource
	}

	prog, err := loadProgram(source)
	if err != nil {
		return err
	}

	m := vm.New(prog)
	if err := bindHostImports(m, prog); err != nil {
		return err
	}

	engine := jit.NewEngine(c.Int("jit-hot-loop"), jit.DefaultMaxTraceLen)
	backend := newJITBackend()
	m.AttachJIT(engine, backend)
	if backend != nil {
		defer backend.Close()
	}

	debug := forceDebug || c.Bool("debug")
	if debug {
		err = runDebug(c, m, prog)
	} else {
		err = m.Run()
	}

	if c.Bool("jit-dump") {
		rtlog.Info("%s", engine.DumpInfo())
	}

	if err != nil {
		return err
	}
	if vmErr := m.Err(); vmErr != nil {
		if vmErr.Stack != "" {
			rtlog.Error("internal vm panic, stack:\n%s", vmErr.Stack)
		}
		return vmErr
	}
	return nil
}

func runDebug(c *cli.Context, m *vm.VM, prog *wire.Program) error {
	stopOnEntry := true
	if c.Bool("no-stop-on-entry") {
		stopOnEntry = false
	} else if c.Bool("stop-on-entry") {
		stopOnEntry = true
	}

	sess := debugger.NewSession(m, prog.Debug, stopOnEntry)
	if addr := c.String("tcp"); addr != "" {
		rtlog.Info("tcp debugger listening on %s", addr)
		return debugger.ListenAndServeTCP(addr, m, sess)
	}
	return debugger.RunStdio(m, sess)
}
