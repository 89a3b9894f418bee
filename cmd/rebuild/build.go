package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/xerrors"

	"github.com/rsepassi/rebuild/internal/bridge"
	"github.com/rsepassi/rebuild/internal/env"
	"github.com/rsepassi/rebuild/internal/registry"
	"github.com/rsepassi/rebuild/internal/scheduler"
	"github.com/rsepassi/rebuild/internal/store"
)

const buildHelp = `rebuild build [-flags] [<build-file>] <target>

Builds target as defined in build-file, reusing a cached result when the
target's request key and every recorded dependency hash still match. If
build-file is omitted, rebuild looks for a conventionally named
BUILD.<ext> file by walking upward from the current directory.

Examples:
  % rebuild build BUILD.rcp hello
  % rebuild build hello
`

func newComponents() (*store.Store, *registry.ToolRegistry, *registry.TargetRegistry, error) {
	st, err := store.Init()
	if err != nil {
		return nil, nil, nil, err
	}
	tools := registry.NewToolRegistry(env.LookPathDirs())
	targets := registry.NewTargetRegistry()
	return st, tools, targets, nil
}

// findBuildFile walks upward from startDir looking for a conventionally
// named BUILD.<ext> file, for any ext a Script Runtime is registered
// for (spec.md §6: "located by walking upward from the current
// directory until found; failure to find one is an error").
func findBuildFile(startDir string) (string, error) {
	dir, err := filepath.Abs(startDir)
	if err != nil {
		return "", xerrors.Errorf("finding build file: %w", err)
	}
	for {
		matches, err := filepath.Glob(filepath.Join(dir, "BUILD.*"))
		if err != nil {
			return "", xerrors.Errorf("finding build file: %w", err)
		}
		for _, m := range matches {
			ext := strings.TrimPrefix(filepath.Ext(m), ".")
			if _, ok := bridge.Lookup(ext); ok {
				return m, nil
			}
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return "", xerrors.Errorf("no BUILD.<ext> file found walking upward from %s", startDir)
		}
		dir = parent
	}
}

func cmdBuild(ctx context.Context, args []string) error {
	fset := flag.NewFlagSet("build", flag.ExitOnError)
	var (
		jobs   = fset.Int("jobs", 1, "max recipes to execute concurrently")
		loader = fset.String("loader", "build", "name of the build file's top-level loader function")
	)
	var configVars configFlag
	fset.Var(&configVars, "D", "config variable in key=value form; may be repeated")
	fset.Usage = usage(fset, buildHelp)
	fset.Parse(args)

	var buildFile, target string
	switch fset.NArg() {
	case 1:
		target = fset.Arg(0)
		bf, err := findBuildFile(".")
		if err != nil {
			return err
		}
		buildFile = bf
	case 2:
		buildFile, target = fset.Arg(0), fset.Arg(1)
	default:
		return xerrors.Errorf("syntax: build [<build-file>] <target>")
	}

	ext := strings.TrimPrefix(filepath.Ext(buildFile), ".")
	rt, ok := bridge.Lookup(ext)
	if !ok {
		return xerrors.Errorf("no script runtime registered for %q build files; rebuild ships the bridge.Runtime contract and a test-only fakescript implementation, not an embedded scripting language (see internal/bridge)", ext)
	}

	source, err := os.ReadFile(buildFile)
	if err != nil {
		return xerrors.Errorf("reading %s: %w", buildFile, err)
	}

	st, tools, targets, err := newComponents()
	if err != nil {
		return err
	}

	sched := scheduler.New(st, tools, targets)
	sched.Jobs = *jobs
	sched.ConfigHash = configVars.Hash()

	if err := sched.LoadBuildFile(rt, source, buildFile, *loader); err != nil {
		return err
	}

	outDir, err := sched.Build(ctx, target)
	if err != nil {
		return err
	}
	fmt.Println(outDir)
	return nil
}
