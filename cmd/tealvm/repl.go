package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/chzyer/readline"
	"github.com/mattn/go-isatty"

	"github.com/teal-lang/tealvm/controller"
	"github.com/teal-lang/tealvm/executable"
	"github.com/teal-lang/tealvm/foreign"
	"github.com/teal-lang/tealvm/invoker"
	"github.com/teal-lang/tealvm/machine"
	"github.com/teal-lang/tealvm/teallog"
)

// runREPL runs each registered demo to completion in turn as the user
// selects it by name, printing its terminal stack value or error. It is
// an inspection shell over the fixed demo set, not a Teal source reader —
// there is no compiler in this tree.
func runREPL(demos map[string]*executable.Executable, logger *teallog.Logger) error {
	prompt := "tealvm> "
	if !isatty.IsTerminal(os.Stdin.Fd()) {
		// Piped input: keep the prompt out of the captured output.
		prompt = ""
	}

	rl, err := readline.NewEx(&readline.Config{
		Prompt:          prompt,
		HistoryFile:     "",
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
	})
	if err != nil {
		return fmt.Errorf("starting readline: %w", err)
	}
	defer rl.Close()

	fmt.Fprintln(rl.Stdout(), "tealvm interactive shell. Commands: list, run <demo>, quit")

	pool := invoker.New(4, 16)
	defer func() { _ = pool.Shutdown(context.Background()) }()
	resolver := foreign.New()

	for {
		line, err := rl.Readline()
		if err == readline.ErrInterrupt {
			continue
		}
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}

		fields := strings.Fields(line)
		if len(fields) == 0 {
			continue
		}

		switch fields[0] {
		case "quit", "exit":
			return nil
		case "list":
			for _, n := range demoNames(demos) {
				fmt.Fprintln(rl.Stdout(), " ", n)
			}
		case "run":
			if len(fields) != 2 {
				fmt.Fprintln(rl.Stderr(), "usage: run <demo>")
				continue
			}
			exe, ok := demos[fields[1]]
			if !ok {
				fmt.Fprintf(rl.Stderr(), "unknown demo %q\n", fields[1])
				continue
			}
			runOne(rl, exe, pool, resolver, logger)
		default:
			fmt.Fprintf(rl.Stderr(), "unknown command %q\n", fields[0])
		}
	}
}

func runOne(rl *readline.Instance, exe *executable.Executable, pool *invoker.PoolInvoker, resolver *foreign.Resolver, logger *teallog.Logger) {
	ctrl := controller.New(exe, logger, nil)
	id := ctrl.NewRootThread(nil)
	m := machine.New(id, ctrl, pool, resolver)
	_ = m.Run()

	value, err := ctrl.Await(context.Background(), id)
	if out := ctrl.Stdout(); out != "" {
		fmt.Fprint(rl.Stdout(), out)
	}
	if err != nil {
		if _, kind, ok := ctrl.Error(id); ok {
			fmt.Fprintf(rl.Stderr(), "%s: %v\n", kind, err)
			return
		}
		fmt.Fprintf(rl.Stderr(), "error: %v\n", err)
		return
	}
	if value != nil {
		fmt.Fprintf(rl.Stdout(), "=> %s\n", value.Display())
	}
}
