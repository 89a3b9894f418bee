package registry

import (
	"os"
	"path/filepath"
	"testing"
)

func writeExecutable(t *testing.T, path string, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o755); err != nil {
		t.Fatal(err)
	}
}

func TestLoadToolFindsBinaryAndModule(t *testing.T) {
	dir := t.TempDir()
	writeExecutable(t, filepath.Join(dir, "cc"), "#!/bin/sh\necho hi\n")
	if err := os.WriteFile(filepath.Join(dir, "cc."+ScriptExt), []byte("module cc"), 0o644); err != nil {
		t.Fatal(err)
	}

	r := NewToolRegistry([]string{dir})
	tool, err := r.LoadTool("cc")
	if err != nil {
		t.Fatal(err)
	}
	if tool.ModulePath == "" {
		t.Fatal("ModulePath empty, want sibling module found")
	}
	if tool.BinaryHash.IsZero() || tool.ModuleHash.IsZero() {
		t.Fatal("BinaryHash/ModuleHash left zero")
	}
}

func TestLoadToolNoModuleIsNotAnError(t *testing.T) {
	dir := t.TempDir()
	writeExecutable(t, filepath.Join(dir, "ld"), "#!/bin/sh\n")

	r := NewToolRegistry([]string{dir})
	tool, err := r.LoadTool("ld")
	if err != nil {
		t.Fatal(err)
	}
	if tool.ModulePath != "" {
		t.Fatalf("ModulePath = %q, want empty", tool.ModulePath)
	}
}

func TestLoadToolNotFound(t *testing.T) {
	r := NewToolRegistry([]string{t.TempDir()})
	if _, err := r.LoadTool("missing"); err == nil {
		t.Fatal("LoadTool(\"missing\"): want error, got nil")
	}
}

func TestLoadToolMemoizes(t *testing.T) {
	dir := t.TempDir()
	writeExecutable(t, filepath.Join(dir, "cc"), "#!/bin/sh\n")

	r := NewToolRegistry([]string{dir})
	first, err := r.LoadTool("cc")
	if err != nil {
		t.Fatal(err)
	}
	// Removing the binary after the first resolution must not affect the
	// memoized result.
	if err := os.Remove(filepath.Join(dir, "cc")); err != nil {
		t.Fatal(err)
	}
	second, err := r.LoadTool("cc")
	if err != nil {
		t.Fatal(err)
	}
	if first.BinaryHash != second.BinaryHash {
		t.Fatal("LoadTool re-resolved instead of returning the memoized entry")
	}
}
