// Package hash computes the 256-bit content hashes used as identity for
// files, directories, recipe code, tools and request keys throughout the
// engine (spec.md §3, §4.1).
package hash

import (
	"crypto/sha256"
	"encoding/hex"
	"io"
	"log"
	"os"
	"path/filepath"
	"sort"

	"golang.org/x/exp/mmap"
	"golang.org/x/xerrors"

	"github.com/rsepassi/rebuild/internal/rerrors"
)

// Size is the width of a Hash in bytes (256 bits).
const Size = sha256.Size

// Hash is a 32-byte content hash.
type Hash [Size]byte

// Zero is the all-zeros hash, used as the initial XOR-combine accumulator.
var Zero Hash

// chunkSize is the minimum streaming read size for hash_file (spec.md §4.1).
const chunkSize = 8 * 1024

// mmapThreshold is the file size above which hash_file mmaps the file
// instead of streaming it through a buffer, following the pattern
// cmd/distri/install.go uses golang.org/x/exp/mmap for reading installed
// package contents without copying them into a scratch buffer first.
const mmapThreshold = 1 << 20 // 1 MiB

// XOR returns the byte-wise XOR of h and other, the combine operation used
// to fold child hashes into a directory hash (spec.md §4.1) and dependency
// hashes into a request key (spec.md §4.4).
func (h Hash) XOR(other Hash) Hash {
	var out Hash
	for i := range out {
		out[i] = h[i] ^ other[i]
	}
	return out
}

// String hex-encodes h as a lowercase, fixed 64-character string.
func (h Hash) String() string {
	return hex.EncodeToString(h[:])
}

// IsZero reports whether h is the all-zeros hash.
func (h Hash) IsZero() bool {
	return h == Zero
}

// Parse hex-decodes s into a Hash, rejecting non-hex input or the wrong
// length (spec.md §4.1 hex_decode).
func Parse(s string) (Hash, error) {
	var h Hash
	if len(s) != Size*2 {
		return h, xerrors.Errorf("hash.Parse(%q): want %d hex chars, got %d", s, Size*2, len(s))
	}
	b, err := hex.DecodeString(s)
	if err != nil {
		return h, xerrors.Errorf("hash.Parse(%q): %w", s, err)
	}
	copy(h[:], b)
	return h, nil
}

// Bytes computes a one-shot hash over an in-memory slice.
func Bytes(data []byte) Hash {
	return sha256.Sum256(data)
}

// File streams fn's contents through sha256 in chunks of at least
// chunkSize, or mmaps it when it is larger than mmapThreshold.
func File(fn string) (Hash, error) {
	f, err := os.Open(fn)
	if err != nil {
		return Zero, rerrors.New(rerrors.IoFailure, "", fn, err)
	}
	defer f.Close()

	fi, err := f.Stat()
	if err != nil {
		return Zero, rerrors.New(rerrors.IoFailure, "", fn, err)
	}

	h := sha256.New()
	if fi.Size() > mmapThreshold {
		f.Close()
		r, err := mmap.Open(fn)
		if err != nil {
			return Zero, rerrors.New(rerrors.IoFailure, "", fn, err)
		}
		defer r.Close()
		buf := make([]byte, chunkSize)
		for off := int64(0); off < int64(r.Len()); off += int64(len(buf)) {
			n, err := r.ReadAt(buf, off)
			if n > 0 {
				h.Write(buf[:n])
			}
			if err != nil && err != io.EOF {
				return Zero, rerrors.New(rerrors.IoFailure, "", fn, err)
			}
		}
	} else {
		buf := make([]byte, chunkSize)
		if _, err := io.CopyBuffer(h, f, buf); err != nil {
			return Zero, rerrors.New(rerrors.IoFailure, "", fn, err)
		}
	}

	var out Hash
	copy(out[:], h.Sum(nil))
	return out, nil
}

// Tree hashes a regular file identically to File, or hashes a directory by
// sorting its children lexicographically and XOR-folding hash(name) and
// then Tree(child) for each into an accumulator that starts at Zero (spec.md
// §4.1). Unreadable children are skipped with a warning rather than
// aborting the whole tree hash (spec.md §9 open question, resolved in
// SPEC_FULL.md: skip-and-warn, consistently, both while building and while
// validating a trace).
func Tree(path string) (Hash, error) {
	fi, err := os.Lstat(path)
	if err != nil {
		return Zero, rerrors.New(rerrors.IoFailure, "", path, err)
	}
	if !fi.IsDir() {
		return File(path)
	}

	entries, err := os.ReadDir(path)
	if err != nil {
		return Zero, rerrors.New(rerrors.IoFailure, "", path, err)
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		n := e.Name()
		if n == "." || n == ".." {
			continue
		}
		names = append(names, n)
	}
	sort.Strings(names)

	acc := Zero
	for _, name := range names {
		child := filepath.Join(path, name)
		childHash, err := Tree(child)
		if err != nil {
			if rerrors.Is(err, rerrors.IoFailure) {
				log.Printf("warning: hash.Tree(%s): skipping unreadable child %s: %v", path, child, err)
				continue
			}
			return Zero, err
		}
		acc = acc.XOR(Bytes([]byte(name))).XOR(childHash)
	}
	return acc, nil
}
