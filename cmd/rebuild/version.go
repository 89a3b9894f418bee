package main

import (
	"context"
	"flag"
	"fmt"
)

// version is overridden at link time with -ldflags "-X main.version=...".
var version = "dev"

func cmdVersion(ctx context.Context, args []string) error {
	fset := flag.NewFlagSet("version", flag.ExitOnError)
	fset.Usage = usage(fset, "rebuild version\n\nPrint the version.\n")
	fset.Parse(args)
	fmt.Println(version)
	return nil
}
