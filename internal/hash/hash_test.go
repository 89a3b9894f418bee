package hash

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestHexRoundTrip(t *testing.T) {
	h := Bytes([]byte("hello world"))
	got, err := Parse(h.String())
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(h, got); diff != "" {
		t.Errorf("Parse(String()) round-trip mismatch (-want +got):\n%s", diff)
	}
}

func TestParseRejectsBadInput(t *testing.T) {
	for _, in := range []string{
		"",
		"not-hex-zzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzz",
		"abcd",
	} {
		if _, err := Parse(in); err == nil {
			t.Errorf("Parse(%q) = nil error, want error", in)
		}
	}
}

func TestXORSelfCancel(t *testing.T) {
	h := Bytes([]byte("anything"))
	if got := h.XOR(h); got != Zero {
		t.Errorf("h.XOR(h) = %v, want Zero", got)
	}
}

func writeTree(t *testing.T, root string, files map[string]string) {
	t.Helper()
	for name, content := range files {
		full := filepath.Join(root, name)
		if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(full, []byte(content), 0o644); err != nil {
			t.Fatal(err)
		}
	}
}

func TestTreeHashDeterminism(t *testing.T) {
	dir := t.TempDir()
	writeTree(t, dir, map[string]string{
		"a.txt":        "A",
		"b/c.txt":      "C",
		"b/d/e.txt":    "E",
		"zzz-last.txt": "Z",
	})

	h1, err := Tree(dir)
	if err != nil {
		t.Fatal(err)
	}
	h2, err := Tree(dir)
	if err != nil {
		t.Fatal(err)
	}
	if h1 != h2 {
		t.Errorf("Tree(%s) not deterministic: %v != %v", dir, h1, h2)
	}
}

func TestTreeHashOrderIndependence(t *testing.T) {
	dirA := t.TempDir()
	writeTree(t, dirA, map[string]string{
		"a.txt": "1",
		"b.txt": "2",
		"c.txt": "3",
	})

	dirB := t.TempDir()
	// Same contents, created in the opposite order.
	writeTree(t, dirB, map[string]string{"c.txt": "3"})
	writeTree(t, dirB, map[string]string{"b.txt": "2"})
	writeTree(t, dirB, map[string]string{"a.txt": "1"})

	hA, err := Tree(dirA)
	if err != nil {
		t.Fatal(err)
	}
	hB, err := Tree(dirB)
	if err != nil {
		t.Fatal(err)
	}
	if hA != hB {
		t.Errorf("Tree hash depends on creation order: %v != %v", hA, hB)
	}
}

func TestTreeHashDiffersOnContentChange(t *testing.T) {
	dir := t.TempDir()
	writeTree(t, dir, map[string]string{"a.txt": "1"})
	h1, err := Tree(dir)
	if err != nil {
		t.Fatal(err)
	}
	writeTree(t, dir, map[string]string{"a.txt": "2"})
	h2, err := Tree(dir)
	if err != nil {
		t.Fatal(err)
	}
	if h1 == h2 {
		t.Errorf("Tree hash did not change after content change")
	}
}

func TestFileLargerThanMmapThreshold(t *testing.T) {
	dir := t.TempDir()
	fn := filepath.Join(dir, "big.bin")
	data := make([]byte, mmapThreshold+1024)
	for i := range data {
		data[i] = byte(i)
	}
	if err := os.WriteFile(fn, data, 0o644); err != nil {
		t.Fatal(err)
	}
	got, err := File(fn)
	if err != nil {
		t.Fatal(err)
	}
	want := Bytes(data)
	if got != want {
		t.Errorf("File() on large file = %v, want %v", got, want)
	}
}
