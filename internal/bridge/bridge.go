// Package bridge defines the minimal contract between the scheduler and
// an embedded scripting runtime (spec.md §4.6, §6): the host-exposed
// primitives a recipe's script function may call, the per-fiber context
// those primitives consult, and the Script Runtime Contract a runtime
// must satisfy to plug in. The scripting language implementation itself
// is out of scope (spec.md §1); internal/bridge/fakescript provides a
// minimal Script and Fiber implementation for tests (it has no Runtime).
package bridge

import (
	"sync"

	"github.com/rsepassi/rebuild/internal/recipe"
)

// FiberContext is bound to the script runtime for the lifetime of one
// fiber resumption and identifies the current recipe; host primitives
// consult it rather than any global (spec.md §4.6, §9 "Global state
// during script loading").
type FiberContext struct {
	Recipe *recipe.Recipe
}

// ValueKind is the dynamic type of a Value crossing the host/script
// boundary (spec.md §6: string, integer, boolean, dynamic array of
// strings, at minimum).
type ValueKind int

const (
	KindNil ValueKind = iota
	KindString
	KindInt
	KindBool
	KindStringArray
)

// Value is a dynamically typed value passed across the FFI boundary.
// Only the field matching Kind is meaningful.
type Value struct {
	Kind ValueKind
	Str  string
	Int  int64
	Bool bool
	Strs []string
}

func StringValue(s string) Value          { return Value{Kind: KindString, Str: s} }
func IntValue(i int64) Value              { return Value{Kind: KindInt, Int: i} }
func BoolValue(b bool) Value              { return Value{Kind: KindBool, Bool: b} }
func StringArrayValue(ss []string) Value  { return Value{Kind: KindStringArray, Strs: ss} }

// SysOpts are the optional {cwd, env} arguments to the sys primitive.
type SysOpts struct {
	Cwd string
	Env []string
}

// SysResult is what sys() returns to the calling fiber.
type SysResult struct {
	ExitCode int
	Stdout   []byte
	Stderr   []byte
}

// Host is the set of primitives a script function may call, implemented
// by the scheduler (spec.md §4.6 table). Every method is invoked with
// the FiberContext identifying the calling recipe.
type Host interface {
	// DependOn may suspend the calling fiber; it ensures target is
	// built and returns the path to its output directory.
	DependOn(fc *FiberContext, target string) (outputPath string, err error)
	// DependOnAll is DependOn for many targets; it suspends at most
	// once.
	DependOnAll(fc *FiberContext, targets []string) (outputPaths []string, err error)
	// Sys spawns a subprocess, captures its output, and waits.
	Sys(fc *FiberContext, argv []string, opts SysOpts) (SysResult, error)
	// RegisterDep records a dependency without suspending the fiber.
	RegisterDep(fc *FiberContext, path string) error
	// Glob expands a shell-style pattern against the filesystem.
	Glob(fc *FiberContext, pattern string) ([]string, error)
	// HashFile reads and hashes a file, returning its hex digest.
	HashFile(fc *FiberContext, path string) (string, error)
	// DepTool ensures tool is loaded and returns its handle (as an
	// opaque Value produced by the caller's registry wiring).
	DepTool(fc *FiberContext, name string) (Value, error)
	// RegisterTarget populates the target registry for the current
	// build file.
	RegisterTarget(fc *FiberContext, name, functionName string) error
	// LogInfo and LogDebug emit to the host log.
	LogInfo(fc *FiberContext, msg string)
	LogDebug(fc *FiberContext, msg string)
}

// FiberStatus is the outcome of one Fiber.Resume call.
type FiberStatus int

const (
	// FiberCompleted means the target function returned; Value holds
	// its result.
	FiberCompleted FiberStatus = iota
	// FiberYielded means the fiber suspended at a host primitive that
	// may suspend; Call describes the pending request.
	FiberYielded
	// FiberErrored means the target function (or the runtime) raised
	// an error; Err holds it.
	FiberErrored
)

// HostCall describes a suspending host-primitive invocation a fiber
// yielded on.
type HostCall struct {
	Primitive string // "depend_on", "depend_on_all", or "sys"
	Target    string // for depend_on
	Targets   []string // for depend_on_all
	Argv      []string // for sys
	Opts      SysOpts  // for sys
}

// FiberResult is what Fiber.Resume returns.
type FiberResult struct {
	Status FiberStatus
	Call   *HostCall // non-nil iff Status == FiberYielded
	Value  Value     // meaningful iff Status == FiberCompleted
	Err    error     // meaningful iff Status == FiberErrored
}

// ResumeInput is what the scheduler feeds back into a suspended fiber
// once the event it yielded on (a completed dependency, a finished
// subprocess) is ready.
type ResumeInput struct {
	Value Value
	Err   error
}

// Fiber is a cooperatively scheduled unit of execution that may suspend
// and later resume (spec.md §4.6, §9). It need not be backed by an OS
// thread.
type Fiber interface {
	// Resume runs (or continues) the fiber until it yields, completes,
	// or errors. The first call's input is ignored; subsequent calls
	// feed back the result of whatever HostCall the last Yielded result
	// described.
	Resume(in ResumeInput) (FiberResult, error)
}

// Script is a compiled build-definition file: it can register host
// functions and spawn any of its registered target functions as a
// Fiber (spec.md §6).
type Script interface {
	// Spawn begins (but does not run) functionName as a new Fiber bound
	// to fc. The fiber does not execute until Resume is first called.
	Spawn(functionName string, fc *FiberContext, host Host) (Fiber, error)
}

// CompileError reports a script compile failure with message and line
// (spec.md §6).
type CompileError struct {
	Message string
	Line    int
}

func (e *CompileError) Error() string { return e.Message }

// Runtime compiles script source into a Script handle (spec.md §6).
// Implementations register the Host primitives as callable functions
// per their own FFI conventions; that wiring is runtime-specific and out
// of scope for this contract.
type Runtime interface {
	Compile(source []byte, filename string) (Script, error)
}

var (
	runtimesMu sync.RWMutex
	runtimes   = make(map[string]Runtime)
)

// Register makes a Runtime available under ext (a build-file extension,
// without the leading dot), following the database/sql driver
// registration idiom: a concrete scripting-language package calls
// Register from an init func, and callers select a Runtime by the
// extension of the build file they were given rather than importing the
// implementation directly. The scripting language itself is out of
// scope here (spec.md §1); no package in this module calls Register, and
// fakescript implements Script, not Runtime, so it is never registered.
func Register(ext string, rt Runtime) {
	runtimesMu.Lock()
	defer runtimesMu.Unlock()
	if rt == nil {
		panic("bridge: Register runtime is nil")
	}
	if _, dup := runtimes[ext]; dup {
		panic("bridge: Register called twice for extension " + ext)
	}
	runtimes[ext] = rt
}

// Lookup returns the Runtime registered for ext, if any.
func Lookup(ext string) (Runtime, bool) {
	runtimesMu.RLock()
	defer runtimesMu.RUnlock()
	rt, ok := runtimes[ext]
	return rt, ok
}
