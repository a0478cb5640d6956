// Command tealvm is a thin demonstration CLI around the Teal VM core: it
// hand-assembles a handful of demo Executables (one per scenario in the
// core's instruction-semantics table) and runs them through the same
// Controller/Machine/Invoker wiring a real compiler-backed deployment
// would use, following the teacher's cmd/hey/main.go command-table style.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/urfave/cli/v3"

	"github.com/teal-lang/tealvm/controller"
	"github.com/teal-lang/tealvm/foreign"
	"github.com/teal-lang/tealvm/invoker"
	"github.com/teal-lang/tealvm/machine"
	"github.com/teal-lang/tealvm/probe"
	"github.com/teal-lang/tealvm/teallog"
	"github.com/teal-lang/tealvm/version"
)

func main() {
	logger := teallog.NewDefault()

	app := &cli.Command{
		Name:  "tealvm",
		Usage: "Stack-based bytecode VM for the concurrent Teal language",
		Commands: []*cli.Command{
			listCommand(),
			runCommand(logger),
			disasmCommand(),
			replCommand(logger),
		},
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:  "version",
				Usage: "print the tealvm version and exit",
			},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			if cmd.Bool("version") {
				fmt.Println(version.Version())
				return nil
			}
			return cli.ShowAppHelp(cmd)
		},
	}

	if err := app.Run(context.Background(), os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "tealvm:", err)
		os.Exit(1)
	}
}

func listCommand() *cli.Command {
	return &cli.Command{
		Name:  "list",
		Usage: "list the built-in demo programs",
		Action: func(ctx context.Context, cmd *cli.Command) error {
			demos, err := loadDemos()
			if err != nil {
				return err
			}
			for _, name := range demoNames(demos) {
				fmt.Println(name)
			}
			return nil
		},
	}
}

func disasmCommand() *cli.Command {
	return &cli.Command{
		Name:      "disasm",
		Usage:     "print the instruction listing for a demo program",
		ArgsUsage: "<demo>",
		Action: func(ctx context.Context, cmd *cli.Command) error {
			name := cmd.Args().First()
			if name == "" {
				return fmt.Errorf("usage: tealvm disasm <demo>")
			}
			demos, err := loadDemos()
			if err != nil {
				return err
			}
			exe, ok := demos[name]
			if !ok {
				return fmt.Errorf("unknown demo %q", name)
			}
			fmt.Print(exe.Listing())
			return nil
		},
	}
}

func runCommand(logger *teallog.Logger) *cli.Command {
	return &cli.Command{
		Name:      "run",
		Usage:     "run a demo program to completion and print its result",
		ArgsUsage: "<demo>",
		Flags: []cli.Flag{
			&cli.IntFlag{
				Name:  "max-steps",
				Usage: "force-stop the machine after this many steps (0 = unbounded)",
				Value: 0,
			},
			&cli.IntFlag{
				Name:  "workers",
				Usage: "invoker worker-pool size",
				Value: 4,
			},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			name := cmd.Args().First()
			if name == "" {
				return fmt.Errorf("usage: tealvm run <demo>")
			}
			demos, err := loadDemos()
			if err != nil {
				return err
			}
			exe, ok := demos[name]
			if !ok {
				return fmt.Errorf("unknown demo %q", name)
			}

			maxSteps := int(cmd.Int("max-steps"))
			ctrl := controller.New(exe, logger, func() probe.Probe {
				return probe.NewStepBudget(maxSteps, logger)
			})

			pool := invoker.New(int(cmd.Int("workers")), 64)
			defer func() { _ = pool.Shutdown(context.Background()) }()

			resolver := foreign.New()
			id := ctrl.NewRootThread(nil)
			m := machine.New(id, ctrl, pool, resolver)
			_ = m.Run()

			// The root thread may have suspended on a Wait and be resumed
			// by a pool worker; Await blocks until it actually settles.
			value, err := ctrl.Await(ctx, id)

			if out := ctrl.Stdout(); out != "" {
				fmt.Print(out)
			}
			if err != nil {
				return fmt.Errorf("thread stopped: %w", err)
			}
			if value != nil {
				fmt.Printf("=> %s\n", value.Display())
			}
			return nil
		},
	}
}

func replCommand(logger *teallog.Logger) *cli.Command {
	return &cli.Command{
		Name:  "repl",
		Usage: "interactively select and run demo programs",
		Action: func(ctx context.Context, cmd *cli.Command) error {
			demos, err := loadDemos()
			if err != nil {
				return err
			}
			return runREPL(demos, logger)
		},
	}
}
