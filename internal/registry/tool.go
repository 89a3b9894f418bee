package registry

import (
	"os"
	"path/filepath"
	"sync"

	"golang.org/x/xerrors"

	"github.com/rsepassi/rebuild/internal/hash"
	"github.com/rsepassi/rebuild/internal/rerrors"
)

// ScriptExt is the file extension script API modules are named with,
// e.g. a tool "cc" has an optional sibling module "cc.<ScriptExt>".
const ScriptExt = "rcpt"

// Tool is an external executable plus its optional script-side API
// module (spec.md §3).
type Tool struct {
	Name        string
	BinaryPath  string
	BinaryHash  hash.Hash
	ModulePath  string    // empty if no module exists
	ModuleHash  hash.Hash // zero if no module exists
}

// ToolRegistry maps tool name to its resolved Tool, memoizing lookups so
// that concurrent LoadTool(n) calls for the same n return the same entry
// (spec.md §4.5, §5).
type ToolRegistry struct {
	// SearchDirs is the ordered list of directories to search for an
	// executable named after the tool (default: the process PATH).
	SearchDirs []string

	mu    sync.Mutex
	tools map[string]*toolEntry
}

type toolEntry struct {
	once sync.Once
	tool Tool
	err  error
}

// NewToolRegistry returns a ToolRegistry searching searchDirs (typically
// internal/env.LookPathDirs()).
func NewToolRegistry(searchDirs []string) *ToolRegistry {
	return &ToolRegistry{
		SearchDirs: searchDirs,
		tools:      make(map[string]*toolEntry),
	}
}

func (r *ToolRegistry) entry(name string) *toolEntry {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.tools[name]
	if !ok {
		e = &toolEntry{}
		r.tools[name] = e
	}
	return e
}

// LoadTool resolves name to an executable in SearchDirs, hashes it, and
// looks for a sibling script module "<dir>/<name>.<ScriptExt>" next to it
// (absence of a module is not an error; ModuleHash stays zero). The
// result is cached by name (spec.md §4.5).
func (r *ToolRegistry) LoadTool(name string) (Tool, error) {
	e := r.entry(name)
	e.once.Do(func() {
		e.tool, e.err = r.resolve(name)
	})
	return e.tool, e.err
}

func (r *ToolRegistry) resolve(name string) (Tool, error) {
	for _, dir := range r.SearchDirs {
		bin := filepath.Join(dir, name)
		fi, err := os.Stat(bin)
		if err != nil || fi.IsDir() {
			continue
		}
		if fi.Mode()&0o111 == 0 {
			continue // not executable
		}

		binHash, err := hash.File(bin)
		if err != nil {
			return Tool{}, rerrors.New(rerrors.HashFailure, name, bin, err)
		}

		t := Tool{Name: name, BinaryPath: bin, BinaryHash: binHash}

		modPath := filepath.Join(dir, name+"."+ScriptExt)
		if modFi, err := os.Stat(modPath); err == nil && !modFi.IsDir() {
			modHash, err := hash.File(modPath)
			if err != nil {
				return Tool{}, rerrors.New(rerrors.HashFailure, name, modPath, err)
			}
			t.ModulePath = modPath
			t.ModuleHash = modHash
		}
		return t, nil
	}
	return Tool{}, rerrors.New(rerrors.IoFailure, name, "", xerrors.Errorf("tool %q not found in search dirs", name))
}
