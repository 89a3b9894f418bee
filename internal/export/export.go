// Package export packs a built target's output directory into a cpio
// archive, the same container format cmd/distri's initrd builder uses
// for kernel images, so a built output can be consumed by tooling that
// expects a cpio stream (e.g. fed to an initramfs loader or shipped
// over the wire) without a second copy through the filesystem.
package export

import (
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/cavaliercoder/go-cpio"
	"github.com/orcaman/writerseeker"
	"golang.org/x/xerrors"

	"github.com/rsepassi/rebuild/internal/rerrors"
)

// Archive writes dir's contents as a cpio archive to w, with entry names
// relative to dir and written in lexicographic order for a reproducible
// byte stream (matching the determinism the rest of the engine relies
// on for its content hashes).
func Archive(w io.Writer, dir string) error {
	cw := cpio.NewWriter(w)

	var paths []string
	if err := filepath.Walk(dir, func(path string, fi os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if path == dir {
			return nil
		}
		paths = append(paths, path)
		return nil
	}); err != nil {
		return rerrors.New(rerrors.IoFailure, "", dir, err)
	}
	sort.Strings(paths)

	for _, path := range paths {
		if err := writeEntry(cw, dir, path); err != nil {
			return err
		}
	}
	return cw.Close()
}

func writeEntry(cw *cpio.Writer, base, path string) error {
	fi, err := os.Lstat(path)
	if err != nil {
		return rerrors.New(rerrors.IoFailure, "", path, err)
	}
	name := strings.TrimPrefix(strings.TrimPrefix(path, base), string(filepath.Separator))

	if fi.IsDir() {
		return cw.WriteHeader(&cpio.Header{
			Name: name,
			Mode: cpio.ModeDir | cpio.FileMode(fi.Mode().Perm()),
		})
	}

	f, err := os.Open(path)
	if err != nil {
		return rerrors.New(rerrors.IoFailure, "", path, err)
	}
	defer f.Close()

	if err := cw.WriteHeader(&cpio.Header{
		Name: name,
		Mode: cpio.FileMode(fi.Mode().Perm()),
		Size: fi.Size(),
	}); err != nil {
		return rerrors.New(rerrors.IoFailure, "", path, err)
	}
	if _, err := io.Copy(cw, f); err != nil {
		return rerrors.New(rerrors.IoFailure, "", path, err)
	}
	return nil
}

// ArchiveBytes is Archive into an in-memory buffer, for callers (like a
// future `rebuild export` over HTTP) that need the whole archive as a
// []byte before deciding where it goes, using writerseeker rather than
// bytes.Buffer so the result also satisfies io.WriteSeeker if a caller
// needs to patch the cpio trailer after the fact.
func ArchiveBytes(dir string) ([]byte, error) {
	var ws writerseeker.WriterSeeker
	if err := Archive(&ws, dir); err != nil {
		return nil, err
	}
	r := ws.Reader()
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, xerrors.Errorf("reading back archive buffer: %w", err)
	}
	return data, nil
}
