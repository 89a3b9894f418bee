package store

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/rsepassi/rebuild/internal/hash"
)

func TestShardedLayout(t *testing.T) {
	st, err := InitAt(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	key := hash.Bytes([]byte("some content"))
	hex := key.String()

	p, err := st.TracePath(key)
	if err != nil {
		t.Fatal(err)
	}
	want := filepath.Join(st.tracesDir, hex[:2], hex[2:])
	if p != want {
		t.Errorf("TracePath = %s, want %s", p, want)
	}
}

func TestTraceExistsObjectExists(t *testing.T) {
	st, err := InitAt(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	key := hash.Bytes([]byte("x"))
	if st.TraceExists(key) {
		t.Error("TraceExists true before write")
	}
	if err := st.WriteTraceFile(key, []byte("data")); err != nil {
		t.Fatal(err)
	}
	if !st.TraceExists(key) {
		t.Error("TraceExists false after write")
	}

	if st.ObjectExists(key) {
		t.Error("ObjectExists true before write")
	}
	if err := st.WriteObject(key, []byte("payload")); err != nil {
		t.Fatal(err)
	}
	if !st.ObjectExists(key) {
		t.Error("ObjectExists false after write")
	}
}

func TestObjectRoundTripCompressed(t *testing.T) {
	st, err := InitAt(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	payload := []byte("the quick brown fox jumps over the lazy dog, repeated. " +
		"the quick brown fox jumps over the lazy dog, repeated.")
	key := hash.Bytes(payload)
	if err := st.WriteObject(key, payload); err != nil {
		t.Fatal(err)
	}
	got, err := st.ReadObject(key)
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != string(payload) {
		t.Errorf("ReadObject = %q, want %q", got, payload)
	}
}

func TestTmpDirNeverReused(t *testing.T) {
	st, err := InitAt(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	d1, err := st.TmpDir("leaf", 1000, 42)
	if err != nil {
		t.Fatal(err)
	}
	d2, err := st.TmpDir("leaf", 1000, 43)
	if err != nil {
		t.Fatal(err)
	}
	if d1 == d2 {
		t.Errorf("TmpDir returned the same path for different pids: %s", d1)
	}
}

func TestOutputDirRoundTrip(t *testing.T) {
	st, err := InitAt(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	key := hash.Bytes([]byte("an output tree"))
	dir, err := st.OutputDir(key)
	if err != nil {
		t.Fatal(err)
	}
	if err := os.MkdirAll(filepath.Join(dir, "bin"), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "bin", "hello"), []byte("hi"), 0o644); err != nil {
		t.Fatal(err)
	}

	seen := map[hash.Hash]bool{}
	if err := st.WalkOutputs(func(k hash.Hash, p string) error {
		seen[k] = true
		return nil
	}); err != nil {
		t.Fatal(err)
	}
	if !seen[key] {
		t.Fatalf("WalkOutputs did not visit %s", key)
	}

	if err := st.RemoveOutputDir(key); err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(dir); !os.IsNotExist(err) {
		t.Fatalf("output dir still present after RemoveOutputDir: %v", err)
	}
}

func TestWalkTraces(t *testing.T) {
	st, err := InitAt(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	keys := []hash.Hash{
		hash.Bytes([]byte("a")),
		hash.Bytes([]byte("b")),
	}
	for _, k := range keys {
		if err := st.WriteTraceFile(k, []byte("data")); err != nil {
			t.Fatal(err)
		}
	}
	seen := map[hash.Hash]bool{}
	if err := st.WalkTraces(func(key hash.Hash, path string) error {
		seen[key] = true
		return nil
	}); err != nil {
		t.Fatal(err)
	}
	for _, k := range keys {
		if !seen[k] {
			t.Errorf("WalkTraces did not visit %s", k)
		}
	}
}
