// Package fakescript is a minimal Script Runtime Contract implementation
// (spec.md §6) used in tests to exercise the scheduler without a real
// embedded language, which is explicitly out of scope (spec.md §1).
//
// A fakescript.Script is a registry of Go closures keyed by function
// name, standing in for compiled script functions. Each closure is run
// on its own goroutine; suspension at depend_on or depend_on_all is
// modeled as the goroutine blocking on a channel (sys blocks instead of
// suspending, see API.Sys), matching the state-machine-over-resumption-tokens technique
// spec.md §9 describes for runtimes without native coroutines.
package fakescript

import (
	"fmt"

	"github.com/rsepassi/rebuild/internal/bridge"
)

// TargetFunc is the Go stand-in for a script function body. It receives
// an API bound to the current fiber and returns its result.
type TargetFunc func(api *API) (bridge.Value, error)

// Script is a set of named target functions, compiled in one "build
// file".
type Script struct {
	funcs map[string]TargetFunc
}

// New returns an empty Script.
func New() *Script {
	return &Script{funcs: make(map[string]TargetFunc)}
}

// Define registers a target function under name, as if a real runtime
// had compiled a script defining a function of that name.
func (s *Script) Define(name string, fn TargetFunc) {
	s.funcs[name] = fn
}

// Spawn implements bridge.Script.
func (s *Script) Spawn(functionName string, fc *bridge.FiberContext, host bridge.Host) (bridge.Fiber, error) {
	fn, ok := s.funcs[functionName]
	if !ok {
		return nil, fmt.Errorf("fakescript: no such function %q", functionName)
	}
	f := &fiber{
		fn:         fn,
		toScript:   make(chan bridge.ResumeInput),
		fromScript: make(chan bridge.FiberResult),
	}
	f.api = &API{fiber: f, host: host, fc: fc}
	return f, nil
}

// fiber implements bridge.Fiber by running fn on a dedicated goroutine.
type fiber struct {
	fn         TargetFunc
	api        *API
	started    bool
	toScript   chan bridge.ResumeInput
	fromScript chan bridge.FiberResult
}

func (f *fiber) Resume(in bridge.ResumeInput) (bridge.FiberResult, error) {
	if !f.started {
		f.started = true
		go f.run()
	} else {
		f.toScript <- in
	}
	return <-f.fromScript, nil
}

func (f *fiber) run() {
	defer func() {
		if r := recover(); r != nil {
			f.fromScript <- bridge.FiberResult{Status: bridge.FiberErrored, Err: fmt.Errorf("fakescript: panic: %v", r)}
		}
	}()
	v, err := f.fn(f.api)
	if err != nil {
		f.fromScript <- bridge.FiberResult{Status: bridge.FiberErrored, Err: err}
		return
	}
	f.fromScript <- bridge.FiberResult{Status: bridge.FiberCompleted, Value: v}
}

// yield suspends the calling goroutine at call, handing control back to
// whoever is blocked in Resume, and blocks until the next Resume
// delivers a result.
func (f *fiber) yield(call bridge.HostCall) (bridge.Value, error) {
	f.fromScript <- bridge.FiberResult{Status: bridge.FiberYielded, Call: &call}
	in := <-f.toScript
	return in.Value, in.Err
}

// API is what a TargetFunc uses to call host primitives. Primitives that
// never suspend (spec.md §4.6, §5) call straight into the Host, as does
// Sys; DependOn and DependOnAll go through fiber.yield so the scheduler
// regains control while the fiber waits.
type API struct {
	fiber *fiber
	host  bridge.Host
	fc    *bridge.FiberContext
}

func (a *API) DependOn(target string) (string, error) {
	v, err := a.fiber.yield(bridge.HostCall{Primitive: "depend_on", Target: target})
	if err != nil {
		return "", err
	}
	return v.Str, nil
}

func (a *API) DependOnAll(targets []string) ([]string, error) {
	v, err := a.fiber.yield(bridge.HostCall{Primitive: "depend_on_all", Targets: targets})
	if err != nil {
		return nil, err
	}
	return v.Strs, nil
}

// Sys is blocking in this reference implementation rather than
// suspending the fiber (spec.md §5 permits either); it calls straight
// into the Host like the never-suspending primitives below.
func (a *API) Sys(argv []string, opts bridge.SysOpts) (bridge.SysResult, error) {
	return a.host.Sys(a.fc, argv, opts)
}

// RegisterDep, Glob, HashFile, DepTool, RegisterTarget, LogInfo and
// LogDebug never suspend, so they call straight into the Host.

func (a *API) RegisterDep(path string) error { return a.host.RegisterDep(a.fc, path) }

func (a *API) Glob(pattern string) ([]string, error) { return a.host.Glob(a.fc, pattern) }

func (a *API) HashFile(path string) (string, error) { return a.host.HashFile(a.fc, path) }

func (a *API) DepTool(name string) (bridge.Value, error) { return a.host.DepTool(a.fc, name) }

func (a *API) RegisterTarget(name, functionName string) error {
	return a.host.RegisterTarget(a.fc, name, functionName)
}

func (a *API) LogInfo(msg string) { a.host.LogInfo(a.fc, msg) }

func (a *API) LogDebug(msg string) { a.host.LogDebug(a.fc, msg) }

// OutputDir returns the scratch directory the scheduler allocated for
// this recipe's build output, the directory a target function writes its
// result into before returning.
func (a *API) OutputDir() string { return a.fc.Recipe.OutputDir }

