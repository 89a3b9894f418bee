// Command rebuild is the CLI entry point for the constructive-trace
// build engine: it loads a build-definition script, drives the
// scheduler to build a target, and exposes the supplemental export, gc
// and inspect verbs (spec.md §1, §6).
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/mattn/go-isatty"
	"golang.org/x/xerrors"

	"github.com/rsepassi/rebuild/internal/app"
	"github.com/rsepassi/rebuild/internal/rtrace"
	"github.com/rsepassi/rebuild/internal/scheduler"
)

var (
	debug      = flag.Bool("debug", false, "format error messages with additional detail")
	ctracefile = flag.String("ctracefile", "", "path to store a chrome trace event file at (load in chrome://tracing)")
)

type cmd struct {
	fn func(ctx context.Context, args []string) error
}

func funcmain() error {
	// When stderr isn't a terminal (e.g. a log aggregator), keep the
	// timestamp prefix recipe log lines get from log.Printf; interactively
	// it's noise a developer re-running a build doesn't need.
	if isatty.IsTerminal(os.Stderr.Fd()) {
		log.SetFlags(0)
	}

	flag.Parse()

	if *ctracefile != "" {
		f, err := os.Create(*ctracefile)
		if err != nil {
			return err
		}
		rtrace.Sink(f)
		app.RegisterAtExit(f.Close)
	}

	verbs := map[string]cmd{
		"build":   {cmdBuild},
		"export":  {cmdExport},
		"gc":      {cmdGC},
		"inspect": {cmdInspect},
		"version": {cmdVersion},
	}

	// A recognized verb name is consumed as such; anything else (an
	// unadorned "rebuild mytarget") is passed through untouched to the
	// default "build" verb, which treats it as <target> (spec.md §6,
	// SPEC_FULL.md CLI section).
	args := flag.Args()
	verb := "build"
	if len(args) > 0 {
		if _, ok := verbs[args[0]]; ok || args[0] == "help" {
			verb, args = args[0], args[1:]
		}
	}

	if verb == "help" {
		printHelp()
		os.Exit(1)
	}

	ctx, canc := app.InterruptibleContext()
	defer canc()

	v, ok := verbs[verb]
	if !ok {
		fmt.Fprintf(os.Stderr, "unknown command %q\n", verb)
		fmt.Fprintf(os.Stderr, "syntax: rebuild <command> [options]\n")
		os.Exit(1)
	}
	if err := v.fn(ctx, args); err != nil {
		if *debug {
			fmt.Fprintf(os.Stderr, "%s: %+v\n", verb, err)
		}
		return xerrors.Errorf("%s: %w", verb, err)
	}
	return app.RunAtExit()
}

func printHelp() {
	fmt.Fprintf(os.Stderr, "rebuild [-flags] <command> [-flags] <args>\n\n")
	fmt.Fprintf(os.Stderr, "To get help on any command, use rebuild <command> -help.\n\n")
	fmt.Fprintf(os.Stderr, "Commands:\n")
	fmt.Fprintf(os.Stderr, "\tbuild    - build a target from a build file\n")
	fmt.Fprintf(os.Stderr, "\texport   - pack a built output directory into a cpio archive\n")
	fmt.Fprintf(os.Stderr, "\tgc       - remove output directories unreferenced by any trace\n")
	fmt.Fprintf(os.Stderr, "\tinspect  - show the recorded trace for a target\n")
	fmt.Fprintf(os.Stderr, "\tversion  - print the version\n")
}

func main() {
	if err := funcmain(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		var bf *scheduler.BuildFailure
		if xerrors.As(err, &bf) {
			os.Exit(2)
		}
		os.Exit(1)
	}
}
