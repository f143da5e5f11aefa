package main

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"

	cli "github.com/urfave/cli/v2"

	"github.com/chazu/bcverify/bytecode"
	"github.com/chazu/bcverify/driver"
	"github.com/chazu/bcverify/server"
	"github.com/chazu/bcverify/suite"
	"github.com/chazu/bcverify/verifier"
)

func (a *app) newVerifier(rejectUnit bool) (*driver.Verifier, error) {
	opts := a.cfg.Options()
	opts.RejectUnit = rejectUnit
	if a.store != nil {
		opts.Store = a.store
	}
	return driver.New(opts)
}

// verify runs every unit of every suite file and reports one line per
// method.
func (a *app) verify(ctx *cli.Context) error {
	if ctx.NArg() == 0 {
		return fmt.Errorf("verify needs at least one suite file")
	}
	expect := ctx.Bool("expect")

	// Expected rejections must not cancel the rest of a unit.
	v, err := a.newVerifier(a.cfg.Verifier.RejectUnit && !expect)
	if err != nil {
		return err
	}

	w := ctx.App.Writer
	var total, failed int
	for _, path := range ctx.Args().Slice() {
		s, err := suite.Load(path)
		if err != nil {
			return err
		}
		for _, u := range s.Units {
			report, err := v.VerifyUnit(ctx.Context, u)
			if report == nil {
				return err
			}
			for _, res := range report.Results {
				total++
				var problem error
				if expect {
					problem = s.Check(res)
				} else if problem = res.Err; errors.Is(problem, context.Canceled) {
					problem = fmt.Errorf("%s: %w", res.Method, problem)
				}
				if problem != nil {
					failed++
					fmt.Fprintf(w, "FAIL  %s\n", problem)
					continue
				}
				fmt.Fprintf(w, "ok    %s (%s)\n", res.Method, describe(res))
			}
		}
	}

	fmt.Fprintf(w, "%d methods, %d failed\n", total, failed)
	if failed > 0 {
		return fmt.Errorf("verification failed: %d of %d methods", failed, total)
	}
	return nil
}

func describe(res driver.Result) string {
	switch {
	case res.Cached:
		return "cached"
	case res.Err != nil:
		return suite.Outcome(res)
	case res.Passes == 1:
		return "1 pass"
	}
	return fmt.Sprintf("%d passes", res.Passes)
}

// loadMethod resolves the <file> <Class.method> arguments.
func loadMethod(ctx *cli.Context) (*driver.Method, error) {
	if ctx.NArg() != 2 {
		return nil, fmt.Errorf("%s needs a suite file and a method name", ctx.Command.Name)
	}
	s, err := suite.Load(ctx.Args().Get(0))
	if err != nil {
		return nil, err
	}
	name := ctx.Args().Get(1)
	m, ok := s.Method(name)
	if !ok {
		return nil, fmt.Errorf("%s: no method %s with code", s.Path, name)
	}
	return m, nil
}

func (a *app) disasm(ctx *cli.Context) error {
	m, err := loadMethod(ctx)
	if err != nil {
		return err
	}
	listing, err := bytecode.Disassemble(m.Code, m.Pool)
	w := ctx.App.Writer
	fmt.Fprintf(w, "%s\n%s\n", m.Name, listing)
	for _, h := range m.Handlers {
		fmt.Fprintf(w, "handler [%04d, %04d) -> %04d catch %s\n", h.Start, h.End, h.Entry, h.Catch)
	}
	return err
}

// snapshot prints the saved state even for rejected methods, followed by
// the rejection.
func (a *app) snapshot(ctx *cli.Context) error {
	m, err := loadMethod(ctx)
	if err != nil {
		return err
	}
	v, err := a.newVerifier(false)
	if err != nil {
		return err
	}
	snap, verr := v.Snapshot(m)
	if snap == nil {
		return verr
	}

	w := ctx.App.Writer
	if ctx.Bool("hex") {
		data, err := verifier.MarshalSnapshot(snap)
		if err != nil {
			return err
		}
		fmt.Fprintln(w, hex.EncodeToString(data))
	} else if err := snap.Format(w); err != nil {
		return err
	}
	return verr
}

func (a *app) requireStore() error {
	if a.store == nil {
		return fmt.Errorf("no verdict database configured (use --store or verifier.store)")
	}
	return nil
}

func (a *app) storeCount(ctx *cli.Context) error {
	if err := a.requireStore(); err != nil {
		return err
	}
	n, err := a.store.Count()
	if err != nil {
		return err
	}
	fmt.Fprintf(ctx.App.Writer, "%s: %d methods\n", a.store.Path(), n)
	return nil
}

func (a *app) storeClear(ctx *cli.Context) error {
	if err := a.requireStore(); err != nil {
		return err
	}
	return a.store.Clear()
}

// serve runs the language server until the client disconnects. The verdict
// store is not consulted; editors verify unsaved text.
func (a *app) serve(ctx *cli.Context) error {
	lsp, err := server.NewLSP(a.cfg.Options())
	if err != nil {
		return err
	}
	return lsp.Run()
}
