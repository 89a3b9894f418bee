package main

import (
	"context"
	"flag"
	"fmt"

	"github.com/rsepassi/rebuild/internal/buildtrace"
	"github.com/rsepassi/rebuild/internal/hash"
)

const gcHelp = `rebuild gc [-flags]

Reports output directories no longer referenced by any recorded trace,
and with -yes removes them. Traces themselves are never removed by gc; an unreferenced output is one
whose content hash does not match any trace's output_tree_hash.

Example:
  % rebuild gc
  % rebuild gc -yes
`

func cmdGC(ctx context.Context, args []string) error {
	fset := flag.NewFlagSet("gc", flag.ExitOnError)
	var (
		yes = fset.Bool("yes", false, "actually remove unreferenced outputs (default is a dry run that only reports)")
	)
	fset.Usage = usage(fset, gcHelp)
	fset.Parse(args)

	st, _, _, err := newComponents()
	if err != nil {
		return err
	}

	live := make(map[hash.Hash]bool)
	if err := st.WalkTraces(func(key hash.Hash, path string) error {
		tr, err := buildtrace.Load(key, st)
		if err != nil {
			// A trace that fails to load is a cache miss for builds, so
			// it keeps nothing live: an output referenced only by it
			// counts as unreferenced.
			return nil
		}
		live[tr.OutputTreeHash] = true
		return nil
	}); err != nil {
		return err
	}

	var reclaimed int
	if err := st.WalkOutputs(func(key hash.Hash, path string) error {
		if live[key] {
			return nil
		}
		reclaimed++
		if *yes {
			fmt.Printf("removing %s\n", path)
			return st.RemoveOutputDir(key)
		}
		fmt.Printf("would remove %s\n", path)
		return nil
	}); err != nil {
		return err
	}

	fmt.Printf("%d unreferenced output(s)\n", reclaimed)
	return nil
}
