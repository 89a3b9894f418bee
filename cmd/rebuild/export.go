package main

import (
	"context"
	"flag"
	"os"

	"golang.org/x/xerrors"

	"github.com/rsepassi/rebuild/internal/export"
)

const exportHelp = `rebuild export [-flags] <output-dir> <archive-path>

Packs a previously built output directory (as printed by rebuild build)
into a cpio archive at archive-path.

Example:
  % rebuild export "$(rebuild build BUILD.rcp hello)" hello.cpio
`

func cmdExport(ctx context.Context, args []string) error {
	fset := flag.NewFlagSet("export", flag.ExitOnError)
	fset.Usage = usage(fset, exportHelp)
	fset.Parse(args)
	if fset.NArg() != 2 {
		return xerrors.Errorf("syntax: export <output-dir> <archive-path>")
	}
	outputDir, archivePath := fset.Arg(0), fset.Arg(1)

	f, err := os.Create(archivePath)
	if err != nil {
		return err
	}
	defer f.Close()

	return export.Archive(f, outputDir)
}
