// bcverify checks method bodies in suite files with the bytecode verifier.
package main

import (
	"fmt"
	"io"
	"os"

	"github.com/tliron/commonlog"
	_ "github.com/tliron/commonlog/simple"
	cli "github.com/urfave/cli/v2"

	"github.com/chazu/bcverify/config"
	"github.com/chazu/bcverify/store"
)

var (
	configFlag = &cli.StringFlag{
		Name:  "config",
		Usage: "Configuration file (default: nearest bcverify.toml)",
	}
	workersFlag = &cli.IntFlag{
		Name:  "workers",
		Usage: "Methods verified concurrently per unit",
	}
	maxPassesFlag = &cli.IntFlag{
		Name:  "max-passes",
		Usage: "Passes over one method before giving up",
	}
	storeFlag = &cli.StringFlag{
		Name:  "store",
		Usage: "Verdict database remembering accepted methods across runs",
	}
)

// app carries the state shared by the commands of one invocation.
type app struct {
	cfg     *config.Config
	store   *store.Verdicts
	verbose int
}

func newApp(stdout, stderr io.Writer) *cli.App {
	a := &app{}
	return &cli.App{
		Name:                   "bcverify",
		Usage:                  "verify bytecode method bodies by abstract interpretation",
		Writer:                 stdout,
		ErrWriter:              stderr,
		UseShortOptionHandling: true,
		Flags: []cli.Flag{
			configFlag,
			&cli.BoolFlag{
				Name:    "verbose",
				Aliases: []string{"v"},
				Usage:   "Increase log verbosity (repeatable)",
				Count:   &a.verbose,
			},
			workersFlag,
			maxPassesFlag,
			storeFlag,
		},
		Before: a.setup,
		After:  a.teardown,
		Commands: []*cli.Command{
			{
				Name:      "verify",
				Usage:     "Verify every method of one or more suite files",
				ArgsUsage: "<file>...",
				Action:    a.verify,
				Flags: []cli.Flag{
					&cli.BoolFlag{
						Name:  "expect",
						Value: true,
						Usage: "Compare each method with its expect key instead of requiring acceptance",
					},
				},
			},
			{
				Name:      "disasm",
				Usage:     "Print the assembled code of a method",
				ArgsUsage: "<file> <Class.method>",
				Action:    a.disasm,
			},
			{
				Name:      "snapshot",
				Usage:     "Print the state the verifier saved for a method",
				ArgsUsage: "<file> <Class.method>",
				Action:    a.snapshot,
				Flags: []cli.Flag{
					&cli.BoolFlag{
						Name:  "hex",
						Usage: "Print the canonical CBOR encoding as hex",
					},
				},
			},
			{
				Name:   "serve",
				Usage:  "Run the suite language server on stdio",
				Action: a.serve,
			},
			{
				Name:  "store",
				Usage: "Inspect the verdict database",
				Subcommands: []*cli.Command{
					{
						Name:   "count",
						Usage:  "Print the number of remembered methods",
						Action: a.storeCount,
					},
					{
						Name:   "clear",
						Usage:  "Forget every remembered method",
						Action: a.storeClear,
					},
				},
			},
		},
	}
}

// setup loads the configuration, applies flag overrides and configures
// logging.
func (a *app) setup(ctx *cli.Context) error {
	var err error
	if path := ctx.String(configFlag.Name); path != "" {
		a.cfg, err = config.LoadFile(path)
	} else {
		a.cfg, err = config.FindAndLoad(".")
	}
	if err != nil {
		return err
	}

	if ctx.IsSet(workersFlag.Name) {
		a.cfg.Verifier.Workers = ctx.Int(workersFlag.Name)
	}
	if ctx.IsSet(maxPassesFlag.Name) {
		a.cfg.Verifier.MaxPasses = ctx.Int(maxPassesFlag.Name)
	}
	if ctx.IsSet(storeFlag.Name) {
		a.cfg.Verifier.Store = ctx.String(storeFlag.Name)
	}
	a.cfg.Log.Verbosity = min(a.cfg.Log.Verbosity+a.verbose, 2)
	if err := a.cfg.Validate(); err != nil {
		return err
	}

	commonlog.Configure(a.cfg.Log.Verbosity, a.cfg.LogFile())

	if path := a.cfg.StorePath(); path != "" {
		if a.store, err = store.Open(path); err != nil {
			return err
		}
	}
	return nil
}

func (a *app) teardown(*cli.Context) error {
	if a.store != nil {
		return a.store.Close()
	}
	return nil
}

func main() {
	if err := newApp(os.Stdout, os.Stderr).Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
