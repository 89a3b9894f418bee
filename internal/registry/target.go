// Package registry implements the Target and Tool registries (spec.md
// §3, §4.5): the target-name -> script-function mapping populated while
// loading a build file, and the tool-name -> (binary, module) mapping
// populated lazily on first use.
package registry

import (
	"log"
	"sync"
)

// Target is a named buildable unit mapping to a script function
// (spec.md §3).
type Target struct {
	Name         string
	FunctionName string
	ScriptHandle interface{} // opaque handle into the script runtime
}

// TargetRegistry maps target name to the script-side function
// implementing it (spec.md §4.5). Safe for concurrent use.
type TargetRegistry struct {
	mu      sync.RWMutex
	targets map[string]Target
}

// NewTargetRegistry returns an empty TargetRegistry.
func NewTargetRegistry() *TargetRegistry {
	return &TargetRegistry{targets: make(map[string]Target)}
}

// Register populates the registry, replacing any prior entry for name
// with a logged warning (spec.md §4.5).
func (tr *TargetRegistry) Register(name, functionName string, scriptHandle interface{}) {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	if _, exists := tr.targets[name]; exists {
		log.Printf("warning: re-registering target %q, replacing prior definition", name)
	}
	tr.targets[name] = Target{Name: name, FunctionName: functionName, ScriptHandle: scriptHandle}
}

// Lookup returns the Target registered under name, O(1).
func (tr *TargetRegistry) Lookup(name string) (Target, bool) {
	tr.mu.RLock()
	defer tr.mu.RUnlock()
	t, ok := tr.targets[name]
	return t, ok
}

// Names returns every registered target name, O(n).
func (tr *TargetRegistry) Names() []string {
	tr.mu.RLock()
	defer tr.mu.RUnlock()
	out := make([]string, 0, len(tr.targets))
	for n := range tr.targets {
		out = append(out, n)
	}
	return out
}
