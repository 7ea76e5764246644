// Package compile runs the per-target state machine: ElmMake then an
// optional Postprocess step, driven by the engine's own scheduling rather
// than a queue external callers push into. It owns dependency installs,
// action selection under a global concurrency cap, and the dirty-during-
// execution discard that produces StatusInterrupted.
package compile

import (
	"context"
	"runtime"
	"sort"
	"time"

	"github.com/elm-watch-go/elmwatch/ipc"
	"github.com/elm-watch-go/elmwatch/metrics"
	"github.com/elm-watch-go/elmwatch/project"
	"github.com/elm-watch-go/elmwatch/spawn"
	"github.com/elm-watch-go/elmwatch/worker"
)

// Engine owns the collaborators the state machine needs and the knobs
// that tune it.
type Engine struct {
	Spawner     *spawn.Spawner
	Workers     *worker.Pool
	Compiler    Compiler
	RunMode     project.RunMode
	ProjectRoot string

	// LoadingDelay is how long an install must run before onSlow fires.
	LoadingDelay time.Duration

	// Now is overridable for tests; defaults to time.Now when nil.
	Now func() time.Time

	// Metrics accumulates per-run counters. A nil Metrics is safe to use
	// (every Collector method tolerates a nil receiver).
	Metrics *metrics.Collector
}

func (e *Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

// InstallDependencies installs every elm.json's dependencies strictly in
// sequence: elm's package cache is shared and per-user, so concurrent
// installs would corrupt it. onSlow fires once LoadingDelay has elapsed
// without the install finishing; onSlowDone fires if onSlow already fired
// and the install has now finished, so the caller can clear whatever
// indicator it rendered.
func (e *Engine) InstallDependencies(ctx context.Context, proj *project.Project, onSlow, onSlowDone func(elmJSONPath string)) error {
	for _, ej := range proj.ElmJsons {
		if err := ctx.Err(); err != nil {
			return err
		}

		fired := false
		var timer *time.Timer
		if e.LoadingDelay > 0 && onSlow != nil {
			timer = time.AfterFunc(e.LoadingDelay, func() {
				fired = true
				onSlow(ej.ElmJsonPath)
			})
		}

		result := e.Compiler.Install(ctx, ej.ElmJsonPath)
		e.Metrics.IncDependencyInstall()

		if timer != nil {
			timer.Stop()
		}
		if fired && onSlowDone != nil {
			onSlowDone(ej.ElmJsonPath)
		}

		if result.Kind != InstallSuccess && result.Kind != InstallElmJSONError {
			e.Metrics.IncDependencyInstallError()
			for _, target := range ej.Outputs {
				target.State.SetStatus(installFailureStatus(result))
			}
		}
	}
	return nil
}

func installFailureStatus(result InstallResult) project.Status {
	switch result.Kind {
	case InstallCompilerNotFound:
		return project.StatusCompilerNotFound{}
	default:
		return project.StatusOtherSpawnError{Err: result.Err}
	}
}

// ActionKind discriminates one scheduled unit of work.
type ActionKind int

const (
	ActionCompile ActionKind = iota
	ActionPostprocess
)

// Action is one target's next scheduled step.
type Action struct {
	Kind          ActionKind
	Target        *project.TargetEntry
	TypecheckOnly bool
}

// ActionsResult reports what was scheduled this tick alongside totals used
// to render a progress summary ("3/7 compiling, 1 interrupted").
type ActionsResult struct {
	Actions       []Action
	Total         int
	NumExecuting  int
	NumInterrupted int
}

// concurrencyCap is the process-wide ceiling shared by compile and
// postprocess actions alike.
func concurrencyCap() int {
	n := runtime.NumCPU()
	if n < 1 {
		return 1
	}
	return n
}

// GetOutputActions picks the next batch of work across every target,
// respecting the global concurrency cap. prioritizedOutputs maps a target
// name to the timestamp of its most recent client connection (higher is
// more urgent); a target absent from the map has no connected client and
// is scheduled typecheck-only.
func (e *Engine) GetOutputActions(proj *project.Project, includeInterrupted bool, prioritizedOutputs map[string]int64) ActionsResult {
	targets := proj.AllTargets()

	result := ActionsResult{Total: len(targets)}
	type candidate struct {
		action   Action
		priority int64
		index    int
	}
	var candidates []candidate

	for i, t := range targets {
		status := t.State.GetStatus()
		switch status.Kind() {
		case project.KindElmMake, project.KindPostprocess:
			result.NumExecuting++
			continue
		case project.KindInterrupted:
			result.NumInterrupted++
			if !includeInterrupted {
				continue
			}
		case project.KindQueuedForPostprocess:
			candidates = append(candidates, candidate{
				action:   Action{Kind: ActionPostprocess, Target: t},
				priority: prioritizedOutputs[t.Name],
				index:    i,
			})
			continue
		}

		if t.State.IsDirty() {
			candidates = append(candidates, candidate{
				action: Action{
					Kind:          ActionCompile,
					Target:        t,
					TypecheckOnly: e.shouldTypecheckOnly(t, prioritizedOutputs),
				},
				priority: prioritizedOutputs[t.Name],
				index:    i,
			})
		}
	}

	sort.SliceStable(candidates, func(a, b int) bool {
		if candidates[a].priority != candidates[b].priority {
			return candidates[a].priority > candidates[b].priority
		}
		return candidates[a].index < candidates[b].index
	})

	slots := concurrencyCap() - result.NumExecuting
	if slots < 0 {
		slots = 0
	}
	if slots > len(candidates) {
		slots = len(candidates)
	}
	for _, c := range candidates[:slots] {
		result.Actions = append(result.Actions, c.action)
	}
	return result
}

// shouldTypecheckOnly reports whether a compile for this target can skip
// writing an artifact: the target has no output sink, or no client is
// currently waiting on it.
func (e *Engine) shouldTypecheckOnly(t *project.TargetEntry, prioritizedOutputs map[string]int64) bool {
	if t.State.Output.IsNull {
		return true
	}
	_, waited := prioritizedOutputs[t.Name]
	return !waited
}

// HandleOutputAction runs one action to completion. It is synchronous and
// meant to be called from a caller-managed goroutine; the caller is
// responsible for reacting to the resulting status change (e.g.
// dispatching a completion event) once this returns.
func (e *Engine) HandleOutputAction(ctx context.Context, action Action) {
	switch action.Kind {
	case ActionCompile:
		e.runCompile(ctx, action.Target, action.TypecheckOnly)
	case ActionPostprocess:
		e.runPostprocess(ctx, action.Target)
	}
}

func (e *Engine) runCompile(ctx context.Context, target *project.TargetEntry, typecheckOnly bool) {
	o := target.State
	o.ClearDirty()
	o.SetStatus(project.StatusElmMake{})
	e.Metrics.IncCompileStarted()

	result := e.Compiler.Make(ctx, target, o.CompilationMode, e.RunMode, typecheckOnly)

	if o.IsDirty() {
		o.SetStatus(project.StatusInterrupted{})
		return
	}

	switch result.Kind {
	case MakeSuccess:
		e.Metrics.IncCompileSucceeded()
		if typecheckOnly || len(o.Postprocess) == 0 {
			o.SetStatus(project.StatusSuccess{Code: result.Code, CompiledTimestamp: e.now()})
			return
		}
		o.SetPendingCode(result.Code)
		o.SetStatus(project.StatusQueuedForPostprocess{})
	case MakeCompilerNotFound:
		e.Metrics.IncCompileFailed()
		o.SetStatus(project.StatusCompilerNotFound{ExecutableName: result.ExecutableName})
	case MakeOtherSpawnError:
		e.Metrics.IncCompileFailed()
		o.SetStatus(project.StatusOtherSpawnError{Err: result.Err})
	case MakeNonZeroExit:
		e.Metrics.IncCompileFailed()
		o.SetStatus(project.StatusNonZeroExit{ExitCode: result.ExitCode, Stderr: result.Stderr})
	case MakeJSONParseError:
		e.Metrics.IncCompileFailed()
		o.SetStatus(project.StatusJSONParseError{Err: result.Err})
	case MakeCompileErrors:
		e.Metrics.IncCompileFailed()
		o.SetStatus(project.StatusCompileErrors{Problems: result.Problems})
	}
}

func (e *Engine) runPostprocess(ctx context.Context, target *project.TargetEntry) {
	o := target.State
	code := o.TakePendingCode()
	o.SetStatus(project.StatusPostprocess{})
	e.Metrics.IncPostprocessStarted()

	if o.Postprocess.IsWorkerScript() {
		e.runWorkerPostprocess(ctx, target, code)
		return
	}
	e.runExternalPostprocess(ctx, target, code)
}

func (e *Engine) runWorkerPostprocess(ctx context.Context, target *project.TargetEntry, code []byte) {
	o := target.State
	if len(o.Postprocess) < 2 {
		o.SetStatus(project.StatusWorkerMissingScript{})
		return
	}
	scriptPath := o.Postprocess[1]

	result, postErr, err := e.Workers.RunPostprocess(ctx, scriptPath, ipc.StartPostprocessArgs{
		Cwd:       e.ProjectRoot,
		UserArgs:  o.Postprocess[2:],
		ExtraArgs: []string{target.Name, string(o.CompilationMode), string(e.RunMode)},
		Code:      string(code),
	})

	if o.IsDirty() {
		o.SetStatus(project.StatusInterrupted{})
		return
	}

	if err != nil {
		e.Metrics.IncWorkerLaunchFailure()
		e.Metrics.IncPostprocessFailed()
		o.SetStatus(project.StatusOtherSpawnError{Err: err})
		return
	}
	e.Metrics.IncWorkerLaunchSuccess()
	if postErr != nil {
		e.Metrics.IncPostprocessFailed()
		if postErr.Kind == ipc.ErrRuntimeError {
			e.Metrics.IncWorkerCrash()
		}
		o.SetStatus(classifyWorkerError(scriptPath, postErr))
		return
	}
	e.Metrics.IncPostprocessSucceeded()
	o.SetStatus(project.StatusSuccess{Code: []byte(result.Code), CompiledTimestamp: e.now()})
}

func classifyWorkerError(scriptPath string, postErr *ipc.PostprocessError) project.Status {
	switch postErr.Kind {
	case ipc.ErrImportFailure:
		return project.StatusWorkerImportFailure{
			ScriptPath:     scriptPath,
			ModuleNotFound: postErr.ModuleNotFound,
			Detail:         postErr.Detail,
		}
	case ipc.ErrNotFunction:
		return project.StatusWorkerNotFunction{ScriptPath: scriptPath, ActualType: postErr.ActualType}
	case ipc.ErrRuntimeError:
		return project.StatusWorkerRuntimeException{ScriptPath: scriptPath, Args: postErr.Args, Err: postErr.Detail}
	case ipc.ErrBadReturnValue:
		return project.StatusWorkerBadReturnValue{ScriptPath: scriptPath, ActualType: postErr.ActualType}
	default:
		return project.StatusWorkerRuntimeException{ScriptPath: scriptPath, Err: postErr.Detail}
	}
}

func (e *Engine) runExternalPostprocess(ctx context.Context, target *project.TargetEntry, code []byte) {
	o := target.State
	argv := append([]string{}, o.Postprocess[1:]...)
	argv = append(argv, target.Name, string(o.CompilationMode), string(e.RunMode))

	res := e.Spawner.Run(ctx, o.Postprocess[0], argv, e.ProjectRoot, code)

	if o.IsDirty() {
		o.SetStatus(project.StatusInterrupted{})
		return
	}

	switch res.Kind {
	case spawn.ResultCommandNotFound:
		e.Metrics.IncPostprocessFailed()
		o.SetStatus(project.StatusCompilerNotFound{ExecutableName: o.Postprocess[0]})
	case spawn.ResultOtherSpawnError, spawn.ResultStdinWriteError:
		e.Metrics.IncPostprocessFailed()
		o.SetStatus(project.StatusOtherSpawnError{Err: res.Err})
	case spawn.ResultExit:
		if res.Reason.Kind == spawn.ExitCode && res.Reason.Code == 0 {
			e.Metrics.IncPostprocessSucceeded()
			o.SetStatus(project.StatusSuccess{Code: res.Stdout, CompiledTimestamp: e.now()})
		} else {
			e.Metrics.IncPostprocessFailed()
			o.SetStatus(project.StatusNonZeroExit{ExitCode: res.Reason.Code, Stderr: string(res.Stderr)})
		}
	}
}
