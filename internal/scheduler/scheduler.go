// Package scheduler implements the engine's scheduler (spec.md §4.7):
// cache probing, fiber execution, dynamic-dependency resolution, and
// trace recording on success. One goroutine drives each in-flight
// recipe to completion; depend_on/depend_on_all block that goroutine on
// a per-target completion channel rather than pumping an explicit
// ready/waiting queue, the same memoized-fan-out shape
// internal/batch/batch.go uses errgroup for, generalized here to a
// dynamic, script-discovered dependency graph instead of a static one.
package scheduler

import (
	"bytes"
	"context"
	"fmt"
	"log"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sys/unix"
	"golang.org/x/xerrors"
	"gonum.org/v1/gonum/graph/simple"
	"gonum.org/v1/gonum/graph/topo"

	"github.com/rsepassi/rebuild/internal/bridge"
	"github.com/rsepassi/rebuild/internal/buildtrace"
	"github.com/rsepassi/rebuild/internal/hash"
	"github.com/rsepassi/rebuild/internal/recipe"
	"github.com/rsepassi/rebuild/internal/registry"
	"github.com/rsepassi/rebuild/internal/rerrors"
	"github.com/rsepassi/rebuild/internal/rtrace"
	"github.com/rsepassi/rebuild/internal/store"
)

// BuildFailure is returned by Build when the target (or one of its
// transitive dependencies) failed (spec.md §4.7, §7).
type BuildFailure struct {
	Target string
	Err    error
}

func (e *BuildFailure) Error() string {
	return fmt.Sprintf("build failed: target %q: %v", e.Target, e.Err)
}
func (e *BuildFailure) Unwrap() error { return e.Err }

// node adapts a target name into a gonum graph.Node for cycle detection
// on the waiting-edge graph (spec.md §4.7 cycle handling, resolved in
// SPEC_FULL.md as exact detection rather than a conservative
// no-progress guard: every depend_on/depend_on_all call adds an edge to
// a graph and runs topo.Sort before letting the caller suspend on it,
// mirroring internal/batch/batch.go's own topo.Sort/topo.Unorderable
// idiom for its static package graph).
type node struct {
	id   int64
	name string
}

func (n *node) ID() int64 { return n.id }

// Scheduler owns recipe bookkeeping for one build and its collaborators.
// A Scheduler is single-use: call Build at most once (depend_on-induced
// recursive builds reuse the same instance internally).
type Scheduler struct {
	Log        *log.Logger
	Store      *store.Store
	Tools      *registry.ToolRegistry
	Targets    *registry.TargetRegistry
	ConfigHash hash.Hash
	Jobs       int // max concurrently running recipes; <=0 means unlimited

	script     bridge.Script
	codeHashes map[string]hash.Hash

	mu           sync.Mutex
	recipes      map[string]*recipe.Recipe
	done         map[string]chan struct{} // closed once a target's build succeeds; left open on failure
	results      map[string]string        // target -> resolved output dir
	outputHashes map[string]hash.Hash      // target -> output tree hash
	errs         map[string]error          // target -> terminal error, if any
	depHashes    map[string]map[string]hash.Hash // target -> declared dep path -> hash

	depGraph  *simple.DirectedGraph
	nodeByTgt map[string]*node
	nextID    int64

	sem chan struct{} // nil when Jobs <= 0

	group *errgroup.Group
	ctx   context.Context

	failed       bool      // set once, on the first recipe failure anywhere in the build
	failedTarget string    // the target that failed, or whose failure was first observed
	failErr      error     // failed's underlying error
	failDone     chan struct{} // closed when failed becomes true
}

// New returns an empty Scheduler wired to st, tools and targets.
func New(st *store.Store, tools *registry.ToolRegistry, targets *registry.TargetRegistry) *Scheduler {
	return &Scheduler{
		Log:          log.Default(),
		Store:        st,
		Tools:        tools,
		Targets:      targets,
		codeHashes:   make(map[string]hash.Hash),
		recipes:      make(map[string]*recipe.Recipe),
		done:         make(map[string]chan struct{}),
		results:      make(map[string]string),
		outputHashes: make(map[string]hash.Hash),
		errs:         make(map[string]error),
		depHashes:    make(map[string]map[string]hash.Hash),
		depGraph:     simple.NewDirectedGraph(),
		nodeByTgt:    make(map[string]*node),
		failDone:     make(chan struct{}),
	}
}

// LoadBuildFile compiles source with rt and runs its top-level loader
// function (by convention named loaderFunc) to completion, collecting
// register_target calls (spec.md §4.5: "population is driven by loading
// a build-definition script"). The loader must not call depend_on;
// no recipes exist yet while a build file is loading.
func (s *Scheduler) LoadBuildFile(rt bridge.Runtime, source []byte, filename, loaderFunc string) error {
	codeHash := hash.Bytes(source)
	script, err := rt.Compile(source, filename)
	if err != nil {
		return rerrors.New(rerrors.ScriptLoadFailure, "", filename, err)
	}
	s.script = script

	fc := &bridge.FiberContext{}
	fiber, err := script.Spawn(loaderFunc, fc, &loadHost{s: s, codeHash: codeHash})
	if err != nil {
		return rerrors.New(rerrors.ScriptLoadFailure, "", filename, err)
	}
	res, err := fiber.Resume(bridge.ResumeInput{})
	if err != nil {
		return rerrors.New(rerrors.ScriptLoadFailure, "", filename, err)
	}
	switch res.Status {
	case bridge.FiberCompleted:
		return nil
	case bridge.FiberErrored:
		return rerrors.New(rerrors.ScriptLoadFailure, "", filename, res.Err)
	default: // Yielded
		return rerrors.New(rerrors.ScriptLoadFailure, "", filename,
			xerrors.Errorf("build-file loader may not call suspending primitives"))
	}
}

// loadHost is the bridge.Host used only while loading a build file: it
// supports register_target and logging, and rejects anything that
// implies a recipe already exists.
type loadHost struct {
	s        *Scheduler
	codeHash hash.Hash
}

func (h *loadHost) DependOn(*bridge.FiberContext, string) (string, error) {
	return "", xerrors.Errorf("depend_on is not available while loading a build file")
}
func (h *loadHost) DependOnAll(*bridge.FiberContext, []string) ([]string, error) {
	return nil, xerrors.Errorf("depend_on_all is not available while loading a build file")
}
func (h *loadHost) Sys(*bridge.FiberContext, []string, bridge.SysOpts) (bridge.SysResult, error) {
	return bridge.SysResult{}, xerrors.Errorf("sys is not available while loading a build file")
}
func (h *loadHost) RegisterDep(*bridge.FiberContext, string) error {
	return xerrors.Errorf("register_dep is not available while loading a build file")
}
func (h *loadHost) Glob(_ *bridge.FiberContext, pattern string) ([]string, error) {
	return filepath.Glob(pattern)
}
func (h *loadHost) HashFile(*bridge.FiberContext, string) (string, error) {
	return "", xerrors.Errorf("hash_file is not available while loading a build file")
}
func (h *loadHost) DepTool(*bridge.FiberContext, string) (bridge.Value, error) {
	return bridge.Value{}, xerrors.Errorf("deptool is not available while loading a build file")
}
func (h *loadHost) RegisterTarget(_ *bridge.FiberContext, name, functionName string) error {
	h.s.Targets.Register(name, functionName, h.s.script)
	h.s.mu.Lock()
	defer h.s.mu.Unlock()
	h.s.codeHashes[name] = h.codeHash
	return nil
}
func (h *loadHost) LogInfo(_ *bridge.FiberContext, msg string)  { log.Printf("info: %s", msg) }
func (h *loadHost) LogDebug(_ *bridge.FiberContext, msg string) { log.Printf("debug: %s", msg) }

// Build ensures target and its transitive dependencies are built,
// returning the path to target's output directory (spec.md §4.4, §4.7).
// Build may be called only once per Scheduler; nested dependencies are
// resolved internally via the Host methods below.
//
// s.ctx is deliberately the caller's ctx itself, not an errgroup-derived
// one that cancels on a sibling's first returned error: spec.md §5
// requires in-flight sys() subprocesses to run to completion after a
// sibling failure, and §4.7 requires a recipe suspended on a failed
// dependency to stay suspended rather than be woken by it, so failure
// must never cancel s.ctx — only genuine external cancellation
// (ctx passed in by the caller, e.g. an interrupt) may.
func (s *Scheduler) Build(ctx context.Context, target string) (string, error) {
	s.group = &errgroup.Group{}
	s.ctx = ctx
	if s.Jobs > 0 {
		s.sem = make(chan struct{}, s.Jobs)
	}

	ch := s.spawn(target)
	select {
	case <-ch:
	case <-s.failDone:
		// Some recipe in the build failed; target itself may be stuck
		// forever suspended on it (waiters are never resumed, spec.md
		// §4.7), so don't wait on ch in that case.
	case <-ctx.Done():
		return "", ctx.Err()
	}

	s.mu.Lock()
	out, hadErr := s.results[target], s.errs[target]
	failed, failedTarget, failErr := s.failed, s.failedTarget, s.failErr
	s.mu.Unlock()
	if hadErr != nil {
		return "", &BuildFailure{Target: target, Err: hadErr}
	}
	if failed {
		return "", &BuildFailure{Target: failedTarget, Err: failErr}
	}
	return out, nil
}

// Trace returns the recorded trace for target, if one exists, without
// executing target's fiber (used by `rebuild inspect`). The bool result
// reports whether the trace's dependencies still validate; a stale
// trace is still returned so callers can show what changed.
func (s *Scheduler) Trace(target string) (*buildtrace.Trace, bool, error) {
	if _, ok := s.Targets.Lookup(target); !ok {
		return nil, false, rerrors.New(rerrors.TargetNotFound, target, "", xerrors.Errorf("target not registered"))
	}
	r := recipe.New(target)
	s.mu.Lock()
	codeHash := s.codeHashes[target]
	s.mu.Unlock()
	key := r.RequestKey(codeHash, s.ConfigHash)
	tr, err := buildtrace.Load(key, s.Store)
	if err != nil {
		return nil, false, nil
	}
	return tr, tr.Validate(), nil
}

// spawn ensures exactly one goroutine is building target, returning the
// channel that closes when it finishes (spec.md §4.7's single-flight
// guarantee: a target with multiple dependents is built once).
//
// ch closes only on success. On failure it is left open: spec.md §4.7's
// on_recipe_complete says plainly that on failure "waiters are not
// resumed" — a recipe blocked in DependOnAll on a failed dependency must
// stay Suspended, never pushed on to Failed by a spurious wakeup. The
// build's outcome is instead reported through failDone/failedTarget/
// failErr below, which Build (not DependOnAll) consults.
func (s *Scheduler) spawn(target string) chan struct{} {
	s.mu.Lock()
	if ch, ok := s.done[target]; ok {
		s.mu.Unlock()
		return ch
	}
	ch := make(chan struct{})
	s.done[target] = ch
	s.mu.Unlock()

	s.group.Go(func() error {
		if err := s.buildOne(target); err != nil {
			s.mu.Lock()
			s.errs[target] = err
			if !s.failed {
				s.failed = true
				s.failedTarget = target
				s.failErr = err
				close(s.failDone)
			}
			s.mu.Unlock()
			return err
		}
		close(ch)
		return nil
	})
	return ch
}

// buildOne probes the cache for target, and on a miss spawns and drives
// its script function's fiber to completion, recording a trace on
// success (spec.md §4.3, §4.4).
func (s *Scheduler) buildOne(target string) error {
	tgt, ok := s.Targets.Lookup(target)
	if !ok {
		return rerrors.New(rerrors.TargetNotFound, target, "", xerrors.Errorf("target not registered"))
	}

	r := recipe.New(target)
	s.mu.Lock()
	s.recipes[target] = r
	codeHash := s.codeHashes[target]
	s.mu.Unlock()

	hit, outDir, outHash := s.probeCache(r, codeHash)
	rtrace.CacheProbe(target, hit)
	if hit {
		s.recordSuccess(target, outDir, outHash)
		return nil
	}
	ev := rtrace.Event(target, 0)
	defer ev.Done()

	tmpDir, err := s.Store.TmpDir(target, time.Now().Unix(), os.Getpid())
	if err != nil {
		return err
	}
	r.TempDir = tmpDir
	r.OutputDir = filepath.Join(tmpDir, "out")
	if err := os.MkdirAll(r.OutputDir, 0o755); err != nil {
		return rerrors.New(rerrors.IoFailure, target, r.OutputDir, err)
	}

	if err := r.Transition(recipe.Running); err != nil {
		return err
	}
	r.StartTimeMs = int64(buildtrace.NowMillis(time.Now()))

	fc := &bridge.FiberContext{Recipe: r}
	fiber, err := s.script.Spawn(tgt.FunctionName, fc, s)
	if err != nil {
		r.Transition(recipe.Failed)
		return rerrors.New(rerrors.ScriptExecFailure, target, "", err)
	}
	r.Fiber = fiber

	s.acquire()
	err = s.execute(r, fc)
	s.release()
	if err != nil {
		r.Transition(recipe.Failed)
		return err
	}

	outHash, err = hash.Tree(r.OutputDir)
	if err != nil {
		return err
	}
	outDir, err = s.finalizeOutput(r.OutputDir, outHash)
	if err != nil {
		return err
	}

	if err := r.Transition(recipe.Complete); err != nil {
		return err
	}

	if err := s.saveTrace(r, codeHash, outHash); err != nil {
		// A trace write failure does not invalidate the build that just
		// succeeded; it only means the next build cannot reuse it.
		s.Log.Printf("warning: saving trace for %q: %v", target, err)
	}

	s.recordSuccess(target, outDir, outHash)
	return nil
}

// execute resumes r's fiber until it completes, errors, or needs a host
// call this package cannot service outside the yield protocol.
func (s *Scheduler) execute(r *recipe.Recipe, fc *bridge.FiberContext) error {
	fiber := r.Fiber.(bridge.Fiber)
	in := bridge.ResumeInput{}
	for {
		res, err := fiber.Resume(in)
		if err != nil {
			return rerrors.New(rerrors.ScriptExecFailure, r.TargetName, "", err)
		}
		switch res.Status {
		case bridge.FiberCompleted:
			return nil
		case bridge.FiberErrored:
			return rerrors.New(rerrors.ScriptExecFailure, r.TargetName, "", res.Err)
		case bridge.FiberYielded:
			in = s.handleHostCall(fc, *res.Call)
		default:
			return rerrors.New(rerrors.ScriptExecFailure, r.TargetName, "", xerrors.Errorf("unknown fiber status %v", res.Status))
		}
	}
}

// handleHostCall services the suspending primitives a fiber yielded on
// by calling straight into the same Host methods a runtime that invokes
// them directly (rather than yielding) would use, so there is exactly
// one implementation of each primitive's semantics.
func (s *Scheduler) handleHostCall(fc *bridge.FiberContext, call bridge.HostCall) bridge.ResumeInput {
	switch call.Primitive {
	case "depend_on":
		out, err := s.DependOn(fc, call.Target)
		return bridge.ResumeInput{Value: bridge.StringValue(out), Err: err}
	case "depend_on_all":
		outs, err := s.DependOnAll(fc, call.Targets)
		return bridge.ResumeInput{Value: bridge.StringArrayValue(outs), Err: err}
	default:
		// sys() suspending via yield requires a runtime-specific way to
		// marshal a SysResult across the FFI boundary; fakescript (and
		// every runtime this contract currently has) calls Host.Sys
		// directly instead, so this path is never exercised.
		return bridge.ResumeInput{Err: xerrors.Errorf("host call %q cannot suspend through this bridge", call.Primitive)}
	}
}

// probeCache computes r's request key and looks for a valid cached trace
// (spec.md §4.3 Cache probe, §4.4). A hit returns the output directory
// the prior build recorded.
func (s *Scheduler) probeCache(r *recipe.Recipe, codeHash hash.Hash) (hit bool, outDir string, outHash hash.Hash) {
	key := r.RequestKey(codeHash, s.ConfigHash)
	tr, err := buildtrace.Load(key, s.Store)
	if err != nil {
		return false, "", hash.Zero
	}
	if !tr.Validate() {
		return false, "", hash.Zero
	}
	dir, err := s.Store.OutputDir(tr.OutputTreeHash)
	if err != nil {
		return false, "", hash.Zero
	}
	if _, err := os.Stat(dir); err != nil {
		return false, "", hash.Zero
	}
	return true, dir, tr.OutputTreeHash
}

// finalizeOutput moves a recipe's scratch output directory into its
// content-addressed home, deduplicating identical content already
// present (spec.md §3 Store layout).
func (s *Scheduler) finalizeOutput(scratchDir string, outHash hash.Hash) (string, error) {
	dst, err := s.Store.OutputDir(outHash)
	if err != nil {
		return "", err
	}
	if _, err := os.Stat(dst); err == nil {
		if err := os.RemoveAll(scratchDir); err != nil {
			return "", rerrors.New(rerrors.IoFailure, "", scratchDir, err)
		}
		return dst, nil
	}
	if err := os.Rename(scratchDir, dst); err != nil {
		return "", rerrors.New(rerrors.IoFailure, "", dst, err)
	}
	return dst, nil
}

// saveTrace records a successful build's dependencies and output so a
// later build with an identical request key can skip re-executing the
// fiber entirely (spec.md §4.4).
func (s *Scheduler) saveTrace(r *recipe.Recipe, codeHash hash.Hash, outHash hash.Hash) error {
	key := r.RequestKey(codeHash, s.ConfigHash)
	tr := buildtrace.New(key)
	s.mu.Lock()
	depHashes := s.depHashes[r.TargetName]
	s.mu.Unlock()
	for _, path := range r.DeclaredDeps() {
		tr.AddDependency(path, depHashes[path])
	}
	tr.OutputTreeHash = outHash
	tr.WallMillis = buildtrace.NowMillis(time.Now()) - uint64(r.StartTimeMs)
	return tr.Save(s.Store)
}

func (s *Scheduler) recordSuccess(target, outDir string, outHash hash.Hash) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.results[target] = outDir
	s.outputHashes[target] = outHash
}

// DependOn implements bridge.Host: it builds target if needed and
// returns its output directory, blocking the caller's goroutine (spec.md
// §4.6, §4.7).
func (s *Scheduler) DependOn(fc *bridge.FiberContext, target string) (string, error) {
	out, err := s.DependOnAll(fc, []string{target})
	if err != nil {
		return "", err
	}
	return out[0], nil
}

// DependOnAll implements bridge.Host: it builds every target concurrently
// and blocks the caller's goroutine until all have finished, suspending
// at most once regardless of how many targets are listed (spec.md §4.6).
func (s *Scheduler) DependOnAll(fc *bridge.FiberContext, targets []string) ([]string, error) {
	r := fc.Recipe
	chans := make([]chan struct{}, len(targets))
	for i, t := range targets {
		chans[i] = s.spawn(t)
		if err := s.addWaitEdge(r.TargetName, t); err != nil {
			return nil, err
		}
	}

	if err := r.Transition(recipe.Suspended); err != nil {
		return nil, err
	}
	// Give up this recipe's Jobs slot while suspended (see acquire), so
	// the dependencies can run; take it back before resuming.
	s.release()
	for _, ch := range chans {
		// Deliberately does not select on s.failDone: a dependency's
		// failure must not wake this waiter (spec.md §4.7, §8.6 "X ...
		// neither Complete nor Failed"). Only that dependency actually
		// finishing, or genuine external cancellation, may.
		select {
		case <-ch:
		case <-s.ctx.Done():
			s.acquire()
			return nil, s.ctx.Err()
		}
	}
	s.acquire()
	if err := r.Transition(recipe.Running); err != nil {
		return nil, err
	}

	// Every ch above closed, which (since spawn now only closes ch on
	// success, see spawn) means every target here completed; a failed
	// one would have left its waiters parked in the select instead.
	out := make([]string, len(targets))
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, t := range targets {
		out[i] = s.results[t]
		r.DeclareDep(out[i])
		if h, ok := s.outputHashes[t]; ok {
			s.recordDepHashLocked(r.TargetName, out[i], h)
		}
	}
	return out, nil
}

// addWaitEdge records that from is now waiting on to, rejecting the call
// if it would close a cycle (spec.md §4.7 Cycle handling). It leaves the
// graph unchanged on rejection so a caller retrying a different target
// isn't penalized by a half-applied edge.
func (s *Scheduler) addWaitEdge(from, to string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn, tn := s.nodeFor(from), s.nodeFor(to)
	edge := s.depGraph.NewEdge(fn, tn)
	s.depGraph.SetEdge(edge)
	if _, err := topo.Sort(s.depGraph); err != nil {
		s.depGraph.RemoveEdge(fn.ID(), tn.ID())
		if uo, ok := err.(topo.Unorderable); ok {
			return rerrors.New(rerrors.DependencyCycle, from, "", xerrors.Errorf("cycle: %s", describeCycle(uo)))
		}
		return rerrors.New(rerrors.DependencyCycle, from, "", err)
	}
	return nil
}

func (s *Scheduler) nodeFor(name string) *node {
	if n, ok := s.nodeByTgt[name]; ok {
		return n
	}
	n := &node{id: s.nextID, name: name}
	s.nextID++
	s.nodeByTgt[name] = n
	s.depGraph.AddNode(n)
	return n
}

func describeCycle(uo topo.Unorderable) string {
	if len(uo) == 0 {
		return "unknown"
	}
	names := make([]string, len(uo[0]))
	for i, n := range uo[0] {
		names[i] = n.(*node).name
	}
	return strings.Join(names, " -> ")
}

// Sys implements bridge.Host: it spawns argv as a subprocess in its own
// process group, capturing stdout/stderr, so that cancelling a build can
// kill a whole subprocess tree rather than just its immediate child
// (golang.org/x/sys/unix.Kill on the negated pgid), the same technique
// cmd/distri uses for build-step subprocesses.
func (s *Scheduler) Sys(fc *bridge.FiberContext, argv []string, opts bridge.SysOpts) (bridge.SysResult, error) {
	if len(argv) == 0 {
		return bridge.SysResult{}, xerrors.Errorf("sys: empty argv")
	}
	cmd := exec.CommandContext(s.ctx, argv[0], argv[1:]...)
	if opts.Cwd != "" {
		cmd.Dir = opts.Cwd
	}
	if opts.Env != nil {
		cmd.Env = opts.Env
	}
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Start(); err != nil {
		return bridge.SysResult{}, rerrors.New(rerrors.ProcessFailure, fc.Recipe.TargetName, argv[0], err)
	}

	waitErr := make(chan error, 1)
	go func() { waitErr <- cmd.Wait() }()

	select {
	case <-s.ctx.Done():
		if cmd.Process != nil {
			_ = unix.Kill(-cmd.Process.Pid, syscall.SIGTERM)
		}
		<-waitErr
		return bridge.SysResult{}, s.ctx.Err()
	case err := <-waitErr:
		exitCode := 0
		if err != nil {
			var ee *exec.ExitError
			if xerrors.As(err, &ee) {
				exitCode = ee.ExitCode()
			} else {
				return bridge.SysResult{}, rerrors.New(rerrors.ProcessFailure, fc.Recipe.TargetName, argv[0], err)
			}
		}
		return bridge.SysResult{ExitCode: exitCode, Stdout: stdout.Bytes(), Stderr: stderr.Bytes()}, nil
	}
}

// RegisterDep implements bridge.Host: it hashes path (as a file or,
// recursively, as a directory) and adds it to the calling recipe's
// declared dependencies without suspending the fiber (spec.md §4.6).
func (s *Scheduler) RegisterDep(fc *bridge.FiberContext, path string) error {
	fi, err := os.Stat(path)
	if err != nil {
		return rerrors.New(rerrors.IoFailure, fc.Recipe.TargetName, path, err)
	}
	var h hash.Hash
	if fi.IsDir() {
		h, err = hash.Tree(path)
	} else {
		h, err = hash.File(path)
	}
	if err != nil {
		return err
	}
	fc.Recipe.DeclareDep(path)
	s.recordDepHash(fc.Recipe.TargetName, path, h)
	return nil
}

// Glob implements bridge.Host: a thin wrapper over filepath.Glob. Matches
// are not implicitly declared as dependencies; a script that wants that
// calls register_dep itself on the results (spec.md §4.6).
func (s *Scheduler) Glob(_ *bridge.FiberContext, pattern string) ([]string, error) {
	matches, err := filepath.Glob(pattern)
	if err != nil {
		return nil, rerrors.New(rerrors.IoFailure, "", pattern, err)
	}
	return matches, nil
}

// HashFile implements bridge.Host: it hashes path and returns its hex
// digest without declaring a dependency (spec.md §4.6).
func (s *Scheduler) HashFile(fc *bridge.FiberContext, path string) (string, error) {
	fi, err := os.Stat(path)
	if err != nil {
		return "", rerrors.New(rerrors.IoFailure, fc.Recipe.TargetName, path, err)
	}
	var h hash.Hash
	if fi.IsDir() {
		h, err = hash.Tree(path)
	} else {
		h, err = hash.File(path)
	}
	if err != nil {
		return "", err
	}
	return h.String(), nil
}

// DepTool implements bridge.Host: it resolves name via the tool registry,
// mixes its hashes into the calling recipe's request key inputs, and
// returns its binary path as the opaque handle (spec.md §4.5, §4.6).
func (s *Scheduler) DepTool(fc *bridge.FiberContext, name string) (bridge.Value, error) {
	t, err := s.Tools.LoadTool(name)
	if err != nil {
		return bridge.Value{}, err
	}
	fc.Recipe.UseTool(recipe.ToolUse{Name: t.Name, ModuleHash: t.ModuleHash, BinaryHash: t.BinaryHash})
	return bridge.StringValue(t.BinaryPath), nil
}

// RegisterTarget implements bridge.Host. It is only meaningful while
// loading a build file (loadHost normally handles that phase), but is
// implemented here too so the Scheduler is a complete bridge.Host.
func (s *Scheduler) RegisterTarget(_ *bridge.FiberContext, name, functionName string) error {
	s.Targets.Register(name, functionName, s.script)
	return nil
}

// LogInfo and LogDebug implement bridge.Host by writing to s.Log,
// prefixed with the calling recipe's target name.
func (s *Scheduler) LogInfo(fc *bridge.FiberContext, msg string) {
	s.Log.Printf("%s: %s", fc.Recipe.TargetName, msg)
}
func (s *Scheduler) LogDebug(fc *bridge.FiberContext, msg string) {
	s.Log.Printf("%s: debug: %s", fc.Recipe.TargetName, msg)
}

func (s *Scheduler) recordDepHash(target, path string, h hash.Hash) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.recordDepHashLocked(target, path, h)
}

// acquire and release bound how many recipes execute their fiber
// concurrently (Jobs), matching the -j flag cmd/distri exposes over its
// own errgroup-based parallel build; waiting on a dependency does not
// hold a slot, only active execution does.
func (s *Scheduler) acquire() {
	if s.sem != nil {
		s.sem <- struct{}{}
	}
}
func (s *Scheduler) release() {
	if s.sem != nil {
		<-s.sem
	}
}

func (s *Scheduler) recordDepHashLocked(target, path string, h hash.Hash) {
	m, ok := s.depHashes[target]
	if !ok {
		m = make(map[string]hash.Hash)
		s.depHashes[target] = m
	}
	m[path] = h
}
