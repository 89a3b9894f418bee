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
	"github.com/rsepassi/rebuild/internal/scheduler"
)

const inspectHelp = `rebuild inspect [-flags] [<build-file>] <target>

Loads build-file (without running any recipe) and prints the recorded
trace for target, if one exists: its dependencies, their hashes, the
output tree hash, and whether the trace still validates against the
current filesystem. If build-file is omitted, rebuild looks for a
conventionally named BUILD.<ext> file by walking upward from the
current directory.

Examples:
  % rebuild inspect BUILD.rcp hello
  % rebuild inspect hello
`

func cmdInspect(ctx context.Context, args []string) error {
	fset := flag.NewFlagSet("inspect", flag.ExitOnError)
	loader := fset.String("loader", "build", "name of the build file's top-level loader function")
	fset.Usage = usage(fset, inspectHelp)
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
		return xerrors.Errorf("syntax: inspect [<build-file>] <target>")
	}

	ext := strings.TrimPrefix(filepath.Ext(buildFile), ".")
	rt, ok := bridge.Lookup(ext)
	if !ok {
		return xerrors.Errorf("no script runtime registered for %q build files", ext)
	}
	source, err := os.ReadFile(buildFile)
	if err != nil {
		return err
	}

	st, tools, targets, err := newComponents()
	if err != nil {
		return err
	}
	sched := scheduler.New(st, tools, targets)
	if err := sched.LoadBuildFile(rt, source, buildFile, *loader); err != nil {
		return err
	}

	tr, valid, err := sched.Trace(target)
	if err != nil {
		return err
	}
	if tr == nil {
		fmt.Printf("%s: no recorded trace\n", target)
		return nil
	}
	fmt.Printf("%s: request_key=%s valid=%v output_tree_hash=%s cpu_ms=%d wall_ms=%d\n",
		target, tr.RequestKey, valid, tr.OutputTreeHash, tr.CPUMillis, tr.WallMillis)
	for _, d := range tr.Deps {
		fmt.Printf("  dep %s %s\n", d.Hash, d.Path)
	}
	return nil
}
