// Package store implements the content-addressed store: a directory tree
// holding traces (keyed by request key) and objects (keyed by content
// hash), sharded by the first byte of the key, plus a scratch area for
// per-build temporary directories (spec.md §3, §4.2, §6).
package store

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/google/renameio"
	"github.com/klauspost/pgzip"
	"golang.org/x/xerrors"

	"github.com/rsepassi/rebuild/internal/env"
	"github.com/rsepassi/rebuild/internal/hash"
	"github.com/rsepassi/rebuild/internal/rerrors"
)

// Store is the root of the on-disk content-addressed layout.
type Store struct {
	Root       string
	tracesDir  string
	objectsDir string
	outputsDir string
	tmpDir     string
}

// Init resolves the store root (internal/env.DataRoot) and creates
// traces/, objects/, outputs/ and tmp/ if they do not already exist.
func Init() (*Store, error) {
	root, err := env.DataRoot()
	if err != nil {
		return nil, rerrors.New(rerrors.IoFailure, "", "", xerrors.Errorf("resolving data root: %w", err))
	}
	return InitAt(root)
}

// InitAt is Init with an explicit root, primarily for tests.
func InitAt(root string) (*Store, error) {
	s := &Store{
		Root:       root,
		tracesDir:  filepath.Join(root, "traces"),
		objectsDir: filepath.Join(root, "objects"),
		outputsDir: filepath.Join(root, "outputs"),
		tmpDir:     filepath.Join(root, "tmp"),
	}
	for _, dir := range []string{s.tracesDir, s.objectsDir, s.outputsDir, s.tmpDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, rerrors.New(rerrors.IoFailure, "", dir, err)
		}
	}
	return s, nil
}

// shardedPath computes root/<hex[0:2]>/<hex[2:]> for the given hash and
// idempotently ensures the shard directory exists.
func shardedPath(root string, key hash.Hash) (string, error) {
	hex := key.String()
	shard := hex[:2]
	rest := hex[2:]
	shardDir := filepath.Join(root, shard)
	// MkdirAll tolerates concurrent creation of the same shard directory
	// (EEXIST is not an error), matching spec.md §5's shared-resource
	// guarantee.
	if err := os.MkdirAll(shardDir, 0o755); err != nil {
		return "", rerrors.New(rerrors.IoFailure, "", shardDir, err)
	}
	return filepath.Join(shardDir, rest), nil
}

// TracePath computes the sharded path for a trace keyed by a recipe's
// request key, creating the shard directory if necessary.
func (s *Store) TracePath(key hash.Hash) (string, error) {
	return shardedPath(s.tracesDir, key)
}

// ObjectPath computes the sharded path for an object keyed by its content
// hash, creating the shard directory if necessary.
func (s *Store) ObjectPath(key hash.Hash) (string, error) {
	return shardedPath(s.objectsDir, key)
}

// TraceExists stat-tests whether a trace for key is on disk, never
// dereferencing its contents.
func (s *Store) TraceExists(key hash.Hash) bool {
	p, err := s.TracePath(key)
	if err != nil {
		return false
	}
	_, err = os.Stat(p)
	return err == nil
}

// ObjectExists stat-tests whether an object for key is on disk.
func (s *Store) ObjectExists(key hash.Hash) bool {
	p, err := s.ObjectPath(key)
	if err != nil {
		return false
	}
	_, err = os.Stat(p)
	return err == nil
}

// TmpDir creates and returns a fresh scratch directory named
// <target>_<unix_secs>_<pid>, never reused across processes (spec.md §3).
func (s *Store) TmpDir(targetName string, unixSecs int64, pid int) (string, error) {
	name := fmt.Sprintf("%s_%d_%d", targetName, unixSecs, pid)
	dir := filepath.Join(s.tmpDir, name)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", rerrors.New(rerrors.IoFailure, targetName, dir, err)
	}
	return dir, nil
}

// WriteTraceFile atomically writes data as the trace for key. Traces are
// small, fixed-format records (spec.md §6) and are stored uncompressed so
// that load() can mmap or read them directly.
func (s *Store) WriteTraceFile(key hash.Hash, data []byte) error {
	p, err := s.TracePath(key)
	if err != nil {
		return err
	}
	if err := renameio.WriteFile(p, data, 0o644); err != nil {
		return rerrors.New(rerrors.IoFailure, "", p, err)
	}
	return nil
}

// ReadTraceFile reads the raw trace bytes for key, or an IoFailure
// (including "not found") if absent or unreadable. Callers treat any error
// here as a cache miss (spec.md §3 Lifecycle).
func (s *Store) ReadTraceFile(key hash.Hash) ([]byte, error) {
	p, err := s.TracePath(key)
	if err != nil {
		return nil, err
	}
	b, err := os.ReadFile(p)
	if err != nil {
		return nil, rerrors.New(rerrors.IoFailure, "", p, err)
	}
	return b, nil
}

// WriteObject atomically writes data as the object for its own content
// hash, gzip-compressing it in parallel (klauspost/pgzip) so that large
// cached outputs don't dominate store size; content addressing is
// unaffected because the hash is computed over the uncompressed bytes
// before compression.
func (s *Store) WriteObject(key hash.Hash, data []byte) error {
	p, err := s.ObjectPath(key)
	if err != nil {
		return err
	}
	pf, err := renameio.TempFile("", p)
	if err != nil {
		return rerrors.New(rerrors.IoFailure, "", p, err)
	}
	defer pf.Cleanup()

	zw := pgzip.NewWriter(pf)
	if _, err := zw.Write(data); err != nil {
		return rerrors.New(rerrors.IoFailure, "", p, err)
	}
	if err := zw.Close(); err != nil {
		return rerrors.New(rerrors.IoFailure, "", p, err)
	}
	if err := pf.CloseAtomicallyReplace(); err != nil {
		return rerrors.New(rerrors.IoFailure, "", p, err)
	}
	return nil
}

// ReadObject reads and gzip-decompresses the object for key.
func (s *Store) ReadObject(key hash.Hash) ([]byte, error) {
	p, err := s.ObjectPath(key)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(p)
	if err != nil {
		return nil, rerrors.New(rerrors.IoFailure, "", p, err)
	}
	defer f.Close()

	zr, err := pgzip.NewReader(f)
	if err != nil {
		return nil, rerrors.New(rerrors.ParseFailure, "", p, err)
	}
	defer zr.Close()

	var buf bytes.Buffer
	if _, err := io.Copy(&buf, zr); err != nil {
		return nil, rerrors.New(rerrors.IoFailure, "", p, err)
	}
	return buf.Bytes(), nil
}

// WalkTraces calls fn once per trace currently on disk with its request
// key and path; rebuild gc uses it to find the outputs traces reference.
func (s *Store) WalkTraces(fn func(key hash.Hash, path string) error) error {
	return walkSharded(s.tracesDir, fn)
}

// WalkObjects calls fn once per object currently on disk.
func (s *Store) WalkObjects(fn func(key hash.Hash, path string) error) error {
	return walkSharded(s.objectsDir, fn)
}

// WalkOutputs calls fn once per materialized output directory currently
// on disk, keyed by its content hash.
func (s *Store) WalkOutputs(fn func(key hash.Hash, path string) error) error {
	return walkSharded(s.outputsDir, fn)
}

func walkSharded(root string, fn func(key hash.Hash, path string) error) error {
	shards, err := os.ReadDir(root)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return rerrors.New(rerrors.IoFailure, "", root, err)
	}
	for _, shard := range shards {
		if !shard.IsDir() {
			continue
		}
		shardDir := filepath.Join(root, shard.Name())
		entries, err := os.ReadDir(shardDir)
		if err != nil {
			return rerrors.New(rerrors.IoFailure, "", shardDir, err)
		}
		for _, e := range entries {
			hex := shard.Name() + e.Name()
			key, err := hash.Parse(hex)
			if err != nil {
				continue // not one of ours, ignore
			}
			if err := fn(key, filepath.Join(shardDir, e.Name())); err != nil {
				return err
			}
		}
	}
	return nil
}

// OutputDir resolves the sharded path of the directory that holds a
// recipe's materialized output tree, addressed by its content hash
// (spec.md §3 OutputDir). It creates the shard directory if necessary,
// but not the output directory itself. Unlike objects, output trees are kept as
// plain directories rather than single gzip blobs, since dependents need
// to read them back as a filesystem tree (hash.Tree's own shape).
func (s *Store) OutputDir(key hash.Hash) (string, error) {
	return shardedPath(s.outputsDir, key)
}

// RemoveObject deletes the object for key.
func (s *Store) RemoveObject(key hash.Hash) error {
	p, err := s.ObjectPath(key)
	if err != nil {
		return err
	}
	if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
		return rerrors.New(rerrors.IoFailure, "", p, err)
	}
	return nil
}

// RemoveOutputDir deletes the materialized output tree for key, used by
// rebuild gc to reclaim outputs that no trace references.
func (s *Store) RemoveOutputDir(key hash.Hash) error {
	p, err := s.OutputDir(key)
	if err != nil {
		return err
	}
	if err := os.RemoveAll(p); err != nil {
		return rerrors.New(rerrors.IoFailure, "", p, err)
	}
	return nil
}
