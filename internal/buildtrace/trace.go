// Package buildtrace implements the constructive-trace cache record:
// the bit-exact persisted format from spec.md §3 and §6, plus validation
// with early cutoff.
//
// Named to avoid colliding with the pre-existing internal/rtrace package,
// which instruments scheduler events for offline Chrome-trace-event
// visualization (an unrelated, ambient concern carried over from distri's
// own internal/trace).
package buildtrace

import (
	"bytes"
	"encoding/binary"
	"os"
	"time"

	"golang.org/x/xerrors"

	"github.com/rsepassi/rebuild/internal/hash"
	"github.com/rsepassi/rebuild/internal/rerrors"
	"github.com/rsepassi/rebuild/internal/store"
)

// magic identifies the trace format ("RBTR").
var magic = [4]byte{0x52, 0x42, 0x54, 0x52}

// version is the only trace format version this package writes or accepts.
const version = 1

// maxPathLen bounds a single dependency path length (spec.md §6).
const maxPathLen = 4096

// Dependency is one recorded (path, content hash) pair, in the order it
// was first observed by the recipe (spec.md §3).
type Dependency struct {
	Path string
	Hash hash.Hash
}

// Trace is a persisted record proving a prior successful build for a
// request key: the dependencies that were read and their hashes, the
// output tree's hash, and timing (spec.md §3).
type Trace struct {
	RequestKey     hash.Hash
	Deps           []Dependency
	OutputTreeHash hash.Hash
	CPUMillis      uint64
	WallMillis     uint64
}

// New creates an empty trace for requestKey with zero timings.
func New(requestKey hash.Hash) *Trace {
	return &Trace{RequestKey: requestKey}
}

// AddDependency appends a dependency; order is significant and must match
// the order the recipe first observed it (spec.md §3).
func (t *Trace) AddDependency(path string, h hash.Hash) {
	t.Deps = append(t.Deps, Dependency{Path: path, Hash: h})
}

// Marshal serializes t to the bit-exact binary format described in
// spec.md §6: magic, version, request key, dependency count, then for
// each dependency a length-prefixed path and its hash, then the output
// tree hash and timings. All integers are little-endian.
func (t *Trace) Marshal() ([]byte, error) {
	var buf bytes.Buffer
	buf.Write(magic[:])
	if err := binary.Write(&buf, binary.LittleEndian, uint32(version)); err != nil {
		return nil, err
	}
	buf.Write(t.RequestKey[:])
	if err := binary.Write(&buf, binary.LittleEndian, uint64(len(t.Deps))); err != nil {
		return nil, err
	}
	for _, d := range t.Deps {
		if len(d.Path) > maxPathLen {
			return nil, rerrors.New(rerrors.ParseFailure, "", d.Path,
				xerrors.Errorf("path length %d exceeds %d", len(d.Path), maxPathLen))
		}
		if err := binary.Write(&buf, binary.LittleEndian, uint32(len(d.Path))); err != nil {
			return nil, err
		}
		buf.WriteString(d.Path)
		buf.Write(d.Hash[:])
	}
	buf.Write(t.OutputTreeHash[:])
	if err := binary.Write(&buf, binary.LittleEndian, t.CPUMillis); err != nil {
		return nil, err
	}
	if err := binary.Write(&buf, binary.LittleEndian, t.WallMillis); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Unmarshal parses the bit-exact trace format, rejecting any other magic,
// any version other than 1, any path length over maxPathLen, and (when
// wantKey is non-zero) any request_key mismatch with the lookup key
// (spec.md §3, §6).
func Unmarshal(data []byte, wantKey hash.Hash) (*Trace, error) {
	r := bytes.NewReader(data)

	var gotMagic [4]byte
	if _, err := r.Read(gotMagic[:]); err != nil {
		return nil, rerrors.New(rerrors.ParseFailure, "", "", xerrors.Errorf("reading magic: %w", err))
	}
	if gotMagic != magic {
		return nil, rerrors.New(rerrors.ParseFailure, "", "", xerrors.Errorf("bad magic %x, want %x", gotMagic, magic))
	}

	var gotVersion uint32
	if err := binary.Read(r, binary.LittleEndian, &gotVersion); err != nil {
		return nil, rerrors.New(rerrors.ParseFailure, "", "", xerrors.Errorf("reading version: %w", err))
	}
	if gotVersion != version {
		return nil, rerrors.New(rerrors.ParseFailure, "", "", xerrors.Errorf("unsupported trace version %d", gotVersion))
	}

	t := &Trace{}
	if _, err := r.Read(t.RequestKey[:]); err != nil {
		return nil, rerrors.New(rerrors.ParseFailure, "", "", xerrors.Errorf("reading request key: %w", err))
	}
	if !wantKey.IsZero() && t.RequestKey != wantKey {
		return nil, rerrors.New(rerrors.ParseFailure, "", "", xerrors.Errorf("request key mismatch: trace has %s, want %s", t.RequestKey, wantKey))
	}

	var depCount uint64
	if err := binary.Read(r, binary.LittleEndian, &depCount); err != nil {
		return nil, rerrors.New(rerrors.ParseFailure, "", "", xerrors.Errorf("reading dep count: %w", err))
	}

	t.Deps = make([]Dependency, 0, depCount)
	for i := uint64(0); i < depCount; i++ {
		var pathLen uint32
		if err := binary.Read(r, binary.LittleEndian, &pathLen); err != nil {
			return nil, rerrors.New(rerrors.ParseFailure, "", "", xerrors.Errorf("reading dep %d path length: %w", i, err))
		}
		if pathLen > maxPathLen {
			return nil, rerrors.New(rerrors.ParseFailure, "", "", xerrors.Errorf("dep %d path length %d exceeds %d", i, pathLen, maxPathLen))
		}
		pathBytes := make([]byte, pathLen)
		if _, err := r.Read(pathBytes); err != nil {
			return nil, rerrors.New(rerrors.ParseFailure, "", "", xerrors.Errorf("reading dep %d path: %w", i, err))
		}
		var h hash.Hash
		if _, err := r.Read(h[:]); err != nil {
			return nil, rerrors.New(rerrors.ParseFailure, "", "", xerrors.Errorf("reading dep %d hash: %w", i, err))
		}
		t.Deps = append(t.Deps, Dependency{Path: string(pathBytes), Hash: h})
	}

	if _, err := r.Read(t.OutputTreeHash[:]); err != nil {
		return nil, rerrors.New(rerrors.ParseFailure, "", "", xerrors.Errorf("reading output tree hash: %w", err))
	}
	if err := binary.Read(r, binary.LittleEndian, &t.CPUMillis); err != nil {
		return nil, rerrors.New(rerrors.ParseFailure, "", "", xerrors.Errorf("reading cpu_ms: %w", err))
	}
	if err := binary.Read(r, binary.LittleEndian, &t.WallMillis); err != nil {
		return nil, rerrors.New(rerrors.ParseFailure, "", "", xerrors.Errorf("reading wall_ms: %w", err))
	}

	return t, nil
}

// Save persists t to st, keyed by t.RequestKey.
func (t *Trace) Save(st *store.Store) error {
	data, err := t.Marshal()
	if err != nil {
		return err
	}
	return st.WriteTraceFile(t.RequestKey, data)
}

// Load reads the trace for requestKey from st. A missing or corrupt file
// is reported distinctly (rerrors.IoFailure vs rerrors.ParseFailure) but
// both are treated by callers as a cache miss (spec.md §3 Lifecycle).
func Load(requestKey hash.Hash, st *store.Store) (*Trace, error) {
	data, err := st.ReadTraceFile(requestKey)
	if err != nil {
		return nil, err
	}
	return Unmarshal(data, requestKey)
}

// Validate iterates dependencies in recorded order, stat-ing and hashing
// each (hash.File for regular files, hash.Tree for directories), stopping
// at the first mismatch (early cutoff, spec.md §4.3, §8). A missing
// dependency counts as a mismatch. It returns true only if every
// dependency still matches its recorded hash.
func (t *Trace) Validate() bool {
	for _, d := range t.Deps {
		fi, err := os.Stat(d.Path)
		if err != nil {
			return false
		}
		var got hash.Hash
		if fi.IsDir() {
			got, err = hash.Tree(d.Path)
		} else {
			got, err = hash.File(d.Path)
		}
		if err != nil || got != d.Hash {
			return false
		}
	}
	return true
}

// NowMillis returns t as Unix milliseconds; callers pass time.Now() to
// stamp a recipe's start and compute wall_ms when finishing a Trace.
func NowMillis(t time.Time) uint64 {
	return uint64(t.UnixMilli())
}
