package scheduler

import (
	"context"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"golang.org/x/xerrors"

	"github.com/rsepassi/rebuild/internal/bridge"
	"github.com/rsepassi/rebuild/internal/bridge/fakescript"
	"github.com/rsepassi/rebuild/internal/hash"
	"github.com/rsepassi/rebuild/internal/recipe"
	"github.com/rsepassi/rebuild/internal/registry"
	"github.com/rsepassi/rebuild/internal/store"
)

// newTestScheduler wires a Scheduler directly to a fakescript.Script,
// bypassing LoadBuildFile/bridge.Runtime (not exercised by these tests),
// so each test only has to describe its target functions.
func newTestScheduler(t *testing.T, script *fakescript.Script, codeHashes map[string]hash.Hash) *Scheduler {
	t.Helper()
	st, err := store.InitAt(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	sched := New(st, registry.NewToolRegistry(nil), registry.NewTargetRegistry())
	sched.script = script
	for name, h := range codeHashes {
		sched.Targets.Register(name, name, script)
		sched.codeHashes[name] = h
	}
	return sched
}

func writeOut(api *fakescript.API, name, content string) error {
	return os.WriteFile(filepath.Join(api.OutputDir(), name), []byte(content), 0o644)
}

func TestCleanTwoLeafBuild(t *testing.T) {
	script := fakescript.New()
	script.Define("leaf", func(api *fakescript.API) (bridge.Value, error) {
		return bridge.Value{}, writeOut(api, "leaf.txt", "leaf content")
	})
	script.Define("root", func(api *fakescript.API) (bridge.Value, error) {
		leafOut, err := api.DependOn("leaf")
		if err != nil {
			return bridge.Value{}, err
		}
		return bridge.Value{}, writeOut(api, "root.txt", "root depends on "+leafOut)
	})
	sched := newTestScheduler(t, script, map[string]hash.Hash{
		"leaf": hash.Bytes([]byte("leaf-v1")),
		"root": hash.Bytes([]byte("root-v1")),
	})

	outDir, err := sched.Build(context.Background(), "root")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(filepath.Join(outDir, "root.txt")); err != nil {
		t.Fatalf("root output missing: %v", err)
	}
	if !sched.Store.TraceExists(sched.recipes["root"].RequestKey(hash.Bytes([]byte("root-v1")), hash.Zero)) {
		t.Fatal("no trace recorded for root after a successful build")
	}
}

func TestNoOpRebuildHitsCache(t *testing.T) {
	var calls int32
	script := fakescript.New()
	script.Define("leaf", func(api *fakescript.API) (bridge.Value, error) {
		atomic.AddInt32(&calls, 1)
		return bridge.Value{}, writeOut(api, "leaf.txt", "v1")
	})
	hashes := map[string]hash.Hash{"leaf": hash.Bytes([]byte("leaf-v1"))}

	st, err := store.InitAt(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	build := func() {
		sched := New(st, registry.NewToolRegistry(nil), registry.NewTargetRegistry())
		sched.script = script
		for name, h := range hashes {
			sched.Targets.Register(name, name, script)
			sched.codeHashes[name] = h
		}
		if _, err := sched.Build(context.Background(), "leaf"); err != nil {
			t.Fatal(err)
		}
	}
	build()
	build()
	if got := atomic.LoadInt32(&calls); got != 1 {
		t.Fatalf("leaf fiber ran %d times across two identical builds, want 1", got)
	}
}

func TestRegisteredDepChangeInvalidatesCache(t *testing.T) {
	srcDir := t.TempDir()
	src := filepath.Join(srcDir, "source.txt")
	if err := os.WriteFile(src, []byte("v1"), 0o644); err != nil {
		t.Fatal(err)
	}

	var calls int32
	script := fakescript.New()
	script.Define("copy", func(api *fakescript.API) (bridge.Value, error) {
		atomic.AddInt32(&calls, 1)
		if err := api.RegisterDep(src); err != nil {
			return bridge.Value{}, err
		}
		data, err := os.ReadFile(src)
		if err != nil {
			return bridge.Value{}, err
		}
		return bridge.Value{}, writeOut(api, "out.txt", string(data))
	})
	hashes := map[string]hash.Hash{"copy": hash.Bytes([]byte("copy-v1"))}

	st, err := store.InitAt(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	build := func() {
		sched := New(st, registry.NewToolRegistry(nil), registry.NewTargetRegistry())
		sched.script = script
		for name, h := range hashes {
			sched.Targets.Register(name, name, script)
			sched.codeHashes[name] = h
		}
		if _, err := sched.Build(context.Background(), "copy"); err != nil {
			t.Fatal(err)
		}
	}
	build()
	if err := os.WriteFile(src, []byte("v2"), 0o644); err != nil {
		t.Fatal(err)
	}
	build()
	if got := atomic.LoadInt32(&calls); got != 2 {
		t.Fatalf("copy fiber ran %d times across a source change, want 2", got)
	}
}

func TestDiamondDependencyBuiltOnce(t *testing.T) {
	var aCalls int32
	script := fakescript.New()
	script.Define("a", func(api *fakescript.API) (bridge.Value, error) {
		atomic.AddInt32(&aCalls, 1)
		return bridge.Value{}, writeOut(api, "a.txt", "a")
	})
	script.Define("b", func(api *fakescript.API) (bridge.Value, error) {
		if _, err := api.DependOn("a"); err != nil {
			return bridge.Value{}, err
		}
		return bridge.Value{}, writeOut(api, "b.txt", "b")
	})
	script.Define("c", func(api *fakescript.API) (bridge.Value, error) {
		if _, err := api.DependOn("a"); err != nil {
			return bridge.Value{}, err
		}
		return bridge.Value{}, writeOut(api, "c.txt", "c")
	})
	script.Define("d", func(api *fakescript.API) (bridge.Value, error) {
		if _, err := api.DependOnAll([]string{"b", "c"}); err != nil {
			return bridge.Value{}, err
		}
		return bridge.Value{}, writeOut(api, "d.txt", "d")
	})
	sched := newTestScheduler(t, script, map[string]hash.Hash{
		"a": hash.Bytes([]byte("a")),
		"b": hash.Bytes([]byte("b")),
		"c": hash.Bytes([]byte("c")),
		"d": hash.Bytes([]byte("d")),
	})

	if _, err := sched.Build(context.Background(), "d"); err != nil {
		t.Fatal(err)
	}
	if got := atomic.LoadInt32(&aCalls); got != 1 {
		t.Fatalf("shared dependency a built %d times, want 1", got)
	}
}

func TestFailureIsolation(t *testing.T) {
	// q doesn't fail until the test confirms x is already suspended
	// waiting on it, so the assertions below can't race against how
	// quickly q happens to fail.
	qGate := make(chan struct{})

	script := fakescript.New()
	script.Define("p", func(api *fakescript.API) (bridge.Value, error) {
		return bridge.Value{}, writeOut(api, "p.txt", "p")
	})
	script.Define("q", func(api *fakescript.API) (bridge.Value, error) {
		<-qGate
		return bridge.Value{}, xerrors.New("q always fails")
	})
	script.Define("x", func(api *fakescript.API) (bridge.Value, error) {
		_, err := api.DependOnAll([]string{"p", "q"})
		return bridge.Value{}, err
	})
	sched := newTestScheduler(t, script, map[string]hash.Hash{
		"p": hash.Bytes([]byte("p")),
		"q": hash.Bytes([]byte("q")),
		"x": hash.Bytes([]byte("x")),
	})

	buildErr := make(chan error, 1)
	go func() {
		_, err := sched.Build(context.Background(), "x")
		buildErr <- err
	}()

	deadline := time.Now().Add(5 * time.Second)
	for {
		sched.mu.Lock()
		r, ok := sched.recipes["x"]
		suspended := ok && r.State() == recipe.Suspended
		sched.mu.Unlock()
		if suspended {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("timed out waiting for x to suspend on p and q")
		}
		time.Sleep(time.Millisecond)
	}
	close(qGate)

	if err := <-buildErr; err == nil {
		t.Fatal("Build(x): want error because dependency q fails, got nil")
	}

	// spec.md §4.7: waiters of a failed dependency are not resumed.
	// §8.6's literal scenario requires x end up neither Complete nor
	// Failed — it never became ready because its DependOnAll call on q
	// never returns.
	sched.mu.Lock()
	xState := sched.recipes["x"].State()
	sched.mu.Unlock()
	if xState == recipe.Complete || xState == recipe.Failed {
		t.Errorf("x.State() = %v, want neither Complete nor Failed", xState)
	}

	key := sched.recipes["x"].RequestKey(sched.codeHashes["x"], sched.ConfigHash)
	if sched.Store.TraceExists(key) {
		t.Error("a trace was written for x, which never completed")
	}
}

func TestDependencyCycleDetected(t *testing.T) {
	script := fakescript.New()
	script.Define("a", func(api *fakescript.API) (bridge.Value, error) {
		_, err := api.DependOn("b")
		return bridge.Value{}, err
	})
	script.Define("b", func(api *fakescript.API) (bridge.Value, error) {
		_, err := api.DependOn("a")
		return bridge.Value{}, err
	})
	sched := newTestScheduler(t, script, map[string]hash.Hash{
		"a": hash.Bytes([]byte("a")),
		"b": hash.Bytes([]byte("b")),
	})

	if _, err := sched.Build(context.Background(), "a"); err == nil {
		t.Fatal("Build(a): want a dependency-cycle error, got nil")
	}
}
