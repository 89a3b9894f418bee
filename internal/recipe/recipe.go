// Package recipe implements the scheduler's runtime state for one target
// during one build, and the request-key composition that doubles as the
// cache lookup key (spec.md §3, §4.4).
package recipe

import (
	"sort"

	"golang.org/x/xerrors"

	"github.com/rsepassi/rebuild/internal/hash"
)

// State is one of the five lifecycle states a Recipe can be in
// (spec.md §3, §4.4).
type State int

const (
	Pending State = iota
	Running
	Suspended
	Complete
	Failed
)

func (s State) String() string {
	switch s {
	case Pending:
		return "pending"
	case Running:
		return "running"
	case Suspended:
		return "suspended"
	case Complete:
		return "complete"
	case Failed:
		return "failed"
	default:
		return "unknown"
	}
}

// ToolUse is a tool a recipe has loaded, contributing its module and
// binary hash to the request key (spec.md §4.4 step 4).
type ToolUse struct {
	Name       string
	ModuleHash hash.Hash
	BinaryHash hash.Hash
}

// Recipe is the scheduler's runtime state for one target being built.
// Every field except the unexported bookkeeping below is documented in
// spec.md §3; Recipe is mutated only by the scheduler that owns it
// (spec.md §5).
type Recipe struct {
	TargetName    string
	state         State
	OutputDir     string
	TempDir       string
	Fiber         interface{} // opaque; non-nil iff state ∈ {Running, Suspended}
	StartTimeMs   int64
	requestKey    hash.Hash
	requestKeySet bool

	declaredOrder []string        // declaredDeps, in first-observed order
	declared      map[string]bool // declaredDeps as a set
	pending       map[string]bool // pendingDeps ⊆ declared

	tools []ToolUse
}

// New creates a fresh, Pending Recipe for targetName.
func New(targetName string) *Recipe {
	return &Recipe{
		TargetName: targetName,
		state:      Pending,
		declared:   make(map[string]bool),
		pending:    make(map[string]bool),
	}
}

// State returns the recipe's current lifecycle state.
func (r *Recipe) State() State { return r.state }

// Transition moves the recipe to a new state, enforcing that Complete and
// Failed are terminal (spec.md §8 State monotonicity) and that the fiber
// handle invariant holds: non-nil iff state ∈ {Running, Suspended}.
func (r *Recipe) Transition(to State) error {
	if r.state == Complete || r.state == Failed {
		return xerrors.Errorf("recipe %q: cannot leave terminal state %v", r.TargetName, r.state)
	}
	r.state = to
	if to != Running && to != Suspended {
		r.Fiber = nil
	}
	return nil
}

// DeclareDep records path as a dependency the recipe has discovered,
// growing declaredDeps monotonically and adding it to pendingDeps
// (spec.md §3, §4.7 step 1 of the dynamic-dependency handler).
func (r *Recipe) DeclareDep(path string) {
	if !r.declared[path] {
		r.declared[path] = true
		r.declaredOrder = append(r.declaredOrder, path)
	}
	r.pending[path] = true
}

// SatisfyDep removes path from pendingDeps once its target has completed.
func (r *Recipe) SatisfyDep(path string) {
	delete(r.pending, path)
}

// PendingCount returns len(pendingDeps), so callers (and invariant (b) in
// spec.md §3) can check Complete ⇒ pendingDeps = ∅.
func (r *Recipe) PendingCount() int { return len(r.pending) }

// DeclaredDeps returns the dependency paths in the order they were first
// observed, the order the Trace records them in (spec.md §3).
func (r *Recipe) DeclaredDeps() []string {
	out := make([]string, len(r.declaredOrder))
	copy(out, r.declaredOrder)
	return out
}

// UseTool records that the recipe has loaded tool, for request-key mixing.
func (r *Recipe) UseTool(t ToolUse) {
	r.tools = append(r.tools, t)
}

// RequestKey computes (and caches) the recipe's request key: codeHash
// mixed with the target name, then the sorted static dependency paths
// known so far, then the sorted tool hashes loaded so far, then
// configHash if non-zero (spec.md §4.4). It is computed once, at first
// cache probe, and never mutated afterward — later calls return the
// cached value even if DeclareDep/UseTool have added more entries since,
// because dynamic dependencies are by definition discovered after the
// key was first computed; correctness instead comes from per-dependency
// trace validation (spec.md §4.4, §9).
func (r *Recipe) RequestKey(codeHash hash.Hash, configHash hash.Hash) hash.Hash {
	if r.requestKeySet {
		return r.requestKey
	}

	acc := codeHash
	acc = acc.XOR(hash.Bytes([]byte(r.TargetName)))

	staticDeps := append([]string(nil), r.declaredOrder...)
	sort.Strings(staticDeps)
	for _, d := range staticDeps {
		acc = acc.XOR(hash.Bytes([]byte(d)))
	}

	tools := append([]ToolUse(nil), r.tools...)
	sort.Slice(tools, func(i, j int) bool { return tools[i].Name < tools[j].Name })
	for _, t := range tools {
		acc = acc.XOR(t.ModuleHash).XOR(t.BinaryHash)
	}

	if !configHash.IsZero() {
		acc = acc.XOR(configHash)
	}

	r.requestKey = acc
	r.requestKeySet = true
	return acc
}

// HasRequestKey reports whether RequestKey has already been computed.
func (r *Recipe) HasRequestKey() bool { return r.requestKeySet }
