package recipe

import (
	"testing"

	"github.com/rsepassi/rebuild/internal/hash"
)

func TestTransitionRejectsLeavingTerminalState(t *testing.T) {
	r := New("hello")
	if err := r.Transition(Running); err != nil {
		t.Fatal(err)
	}
	if err := r.Transition(Complete); err != nil {
		t.Fatal(err)
	}
	if err := r.Transition(Running); err == nil {
		t.Fatal("Transition out of Complete: want error, got nil")
	}
}

func TestTransitionClearsFiberOutsideRunningSuspended(t *testing.T) {
	r := New("hello")
	r.Fiber = "a fiber handle"
	if err := r.Transition(Running); err != nil {
		t.Fatal(err)
	}
	if r.Fiber == nil {
		t.Fatal("Fiber cleared while transitioning into Running")
	}
	if err := r.Transition(Complete); err != nil {
		t.Fatal(err)
	}
	if r.Fiber != nil {
		t.Fatal("Fiber not cleared when leaving Running for a terminal state")
	}
}

func TestDeclareDepIsMonotonic(t *testing.T) {
	r := New("hello")
	r.DeclareDep("a")
	r.DeclareDep("b")
	r.DeclareDep("a")
	if got, want := r.DeclaredDeps(), []string{"a", "b"}; !equal(got, want) {
		t.Fatalf("DeclaredDeps() = %v, want %v", got, want)
	}
	if r.PendingCount() != 2 {
		t.Fatalf("PendingCount() = %d, want 2", r.PendingCount())
	}
	r.SatisfyDep("a")
	if r.PendingCount() != 1 {
		t.Fatalf("PendingCount() after SatisfyDep = %d, want 1", r.PendingCount())
	}
}

func TestRequestKeyIsOrderIndependentInDeps(t *testing.T) {
	code := hash.Bytes([]byte("code"))
	r1 := New("t")
	r1.DeclareDep("b")
	r1.DeclareDep("a")
	r2 := New("t")
	r2.DeclareDep("a")
	r2.DeclareDep("b")
	if r1.RequestKey(code, hash.Zero) != r2.RequestKey(code, hash.Zero) {
		t.Fatal("RequestKey depends on declaration order of static deps, should not")
	}
}

func TestRequestKeyCachedAfterFirstCall(t *testing.T) {
	code := hash.Bytes([]byte("code"))
	r := New("t")
	r.DeclareDep("a")
	first := r.RequestKey(code, hash.Zero)
	r.DeclareDep("b") // discovered after the key was first computed
	second := r.RequestKey(code, hash.Zero)
	if first != second {
		t.Fatal("RequestKey changed after being computed once")
	}
	if !r.HasRequestKey() {
		t.Fatal("HasRequestKey() = false after RequestKey was called")
	}
}

func TestRequestKeyDiffersByTargetName(t *testing.T) {
	code := hash.Bytes([]byte("code"))
	a := New("a").RequestKey(code, hash.Zero)
	b := New("b").RequestKey(code, hash.Zero)
	if a == b {
		t.Fatal("RequestKey identical for two different target names")
	}
}

func TestRequestKeyMixesToolHashes(t *testing.T) {
	code := hash.Bytes([]byte("code"))
	r1 := New("t")
	r2 := New("t")
	r2.UseTool(ToolUse{Name: "cc", BinaryHash: hash.Bytes([]byte("cc-v1"))})
	if r1.RequestKey(code, hash.Zero) == r2.RequestKey(code, hash.Zero) {
		t.Fatal("RequestKey unaffected by a loaded tool's hash")
	}
}

func equal(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
