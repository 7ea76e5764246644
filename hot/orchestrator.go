package hot

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/elm-watch-go/elmwatch/applog"
	"github.com/elm-watch-go/elmwatch/compile"
	"github.com/elm-watch-go/elmwatch/metrics"
	"github.com/elm-watch-go/elmwatch/project"
	"github.com/elm-watch-go/elmwatch/termlog"
	"github.com/elm-watch-go/elmwatch/watch"
	"github.com/elm-watch-go/elmwatch/wsserver"
)

// Reloader re-resolves the project (config file, elm.json graph, target
// list) from disk. It is supplied by the CLI layer, which owns config
// parsing; this package only knows how to react to "something changed".
type Reloader func(ctx context.Context) (*project.Project, error)

// Orchestrator is the `elm-watch hot` run loop: it owns the Model and
// fuses watch.Watcher, wsserver.Server, and compile.Engine events into it.
type Orchestrator struct {
	Engine        *compile.Engine
	WS            *wsserver.Server
	Watcher       *watch.Watcher
	Term          *termlog.Logger
	App           *applog.Logger
	BuildVersion  string
	DebounceDelay time.Duration
	Reload        Reloader
	Metrics       *metrics.Collector

	mu           sync.Mutex
	project      *project.Project
	model        Model
	priorities   map[string]int64
	clients      map[string][]*wsserver.Client
	clientOutput map[*wsserver.Client]string
}

// NewOrchestrator wires an Orchestrator around an already-resolved
// project and its collaborators.
func NewOrchestrator(proj *project.Project, engine *compile.Engine, ws *wsserver.Server, watcher *watch.Watcher, term *termlog.Logger, app *applog.Logger, buildVersion string) *Orchestrator {
	return &Orchestrator{
		Engine:        engine,
		WS:            ws,
		Watcher:       watcher,
		Term:          term,
		App:           app,
		BuildVersion:  buildVersion,
		DebounceDelay: 10 * time.Millisecond,
		project:       proj,
		model:         NewModel(),
		priorities:    make(map[string]int64),
		clients:       make(map[string][]*wsserver.Client),
		clientOutput:  make(map[*wsserver.Client]string),
	}
}

// Run drives the watcher, the WebSocket server, and the compile engine
// until ctx is canceled or the watcher stops. It blocks.
func (o *Orchestrator) Run(ctx context.Context) error {
	stop := make(chan struct{})
	go o.Watcher.Run(stop)
	defer close(stop)

	o.WS.SetDispatch(func(e wsserver.Event) {
		switch e.Kind {
		case wsserver.EventConnected:
			o.onClientConnected(ctx, e)
		case wsserver.EventMessageReceived:
			o.onClientMessage(ctx, e)
		case wsserver.EventClosed:
			o.onClientClosed(e)
		}
	})
	defer o.WS.UnsetDispatch()

	o.mu.Lock()
	o.model.State = HotState{Kind: StateDependencies, Start: time.Now()}
	o.mu.Unlock()
	go o.runDependenciesAndCompile(ctx)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case evt, ok := <-o.Watcher.Events():
			if !ok {
				return nil
			}
			o.mu.Lock()
			proj := o.project
			o.mu.Unlock()
			ce := classify(proj, evt, time.Now())
			if ce.Reason == ReasonElmFileChanged || ce.Reason == ReasonElmFileRemoved {
				for _, t := range ce.Targets {
					t.State.MarkDirty()
				}
			}
			o.handle(ctx, MsgEvent{Event: ce})

		case err, ok := <-o.Watcher.Errors():
			if !ok {
				continue
			}
			o.App.Warn("watcher error", map[string]any{"error": err.Error()})
		}
	}
}

func (o *Orchestrator) handle(ctx context.Context, msg Msg) {
	o.mu.Lock()
	model, cmds := update(msg, o.model)
	o.model = model
	o.mu.Unlock()

	for _, cmd := range cmds {
		o.runCmd(ctx, cmd)
	}
}

func (o *Orchestrator) runCmd(ctx context.Context, cmd Cmd) {
	switch cmd.Kind {
	case CmdScheduleDebounce:
		go func() {
			select {
			case <-time.After(o.debounceDelay()):
				o.handle(ctx, MsgSleepBeforeNextActionDone{})
			case <-ctx.Done():
			}
		}()

	case CmdPrintEvents:
		o.printEvents(cmd.Events)

	case CmdStartCompileCycle:
		go o.runCompileCycle(ctx)

	case CmdStartRestart:
		go o.runRestart(ctx, cmd.Events)

	case CmdLogRestartDeferred:
		o.Term.Muted("restart deferred until the current compile finishes")
	}
}

func (o *Orchestrator) debounceDelay() time.Duration {
	if o.DebounceDelay > 0 {
		return o.DebounceDelay
	}
	return 10 * time.Millisecond
}

func (o *Orchestrator) printEvents(events []ClassifiedEvent) {
	for _, e := range events {
		o.Term.Muted(fmt.Sprintf("%s (ignored): %s", e.Path, e.Reason))
	}
}

// runDependenciesAndCompile installs every elm.json's dependencies, then
// runs one full compile cycle. It is the body of both the initial run and
// every restart.
func (o *Orchestrator) runDependenciesAndCompile(ctx context.Context) {
	o.mu.Lock()
	proj := o.project
	o.mu.Unlock()

	err := o.Engine.InstallDependencies(ctx, proj,
		func(path string) { o.Term.Muted(fmt.Sprintf("installing dependencies for %s...", path)) },
		func(path string) { o.Term.Muted(fmt.Sprintf("dependencies installed for %s", path)) },
	)
	if err != nil {
		o.Term.Error(fmt.Sprintf("dependency install aborted: %s", err))
	}

	o.mu.Lock()
	o.model.State = HotState{Kind: StateCompiling, Start: time.Now(), Events: o.model.State.Events}
	o.mu.Unlock()

	o.runCompileCycle(ctx)
}

// runCompileCycle repeatedly asks the engine for the next batch of
// actions, runs them concurrently, and reports each completion, until a
// poll finds nothing left scheduled or executing.
func (o *Orchestrator) runCompileCycle(ctx context.Context) {
	for {
		o.mu.Lock()
		proj := o.project
		priorities := o.snapshotPriorities()
		o.mu.Unlock()

		actions := o.Engine.GetOutputActions(proj, true, priorities)

		if len(actions.Actions) == 0 {
			if actions.NumExecuting == 0 {
				o.handle(ctx, MsgCompileCycleIdle{})
				return
			}
			time.Sleep(5 * time.Millisecond)
			continue
		}

		var wg sync.WaitGroup
		for _, action := range actions.Actions {
			wg.Add(1)
			go func(a compile.Action) {
				defer wg.Done()
				o.Engine.HandleOutputAction(ctx, a)
				o.reportCompletion(a.Target)
			}(action)
		}
		wg.Wait()
	}
}

func (o *Orchestrator) runRestart(ctx context.Context, events []ClassifiedEvent) {
	reasons := make([]string, 0, len(events))
	for _, e := range events {
		reasons = append(reasons, e.Reason.String())
	}
	o.Term.Muted(fmt.Sprintf("restarting: %v", reasons))

	if o.Reload != nil {
		proj, err := o.Reload(ctx)
		if err != nil {
			o.Term.Error(fmt.Sprintf("restart failed: %s", err))
			o.handle(ctx, MsgCompileCycleIdle{})
			return
		}
		o.mu.Lock()
		o.project = proj
		o.mu.Unlock()
	}

	o.runDependenciesAndCompile(ctx)
}

func (o *Orchestrator) snapshotPriorities() map[string]int64 {
	out := make(map[string]int64, len(o.priorities))
	for k, v := range o.priorities {
		out[k] = v
	}
	return out
}

func (o *Orchestrator) reportCompletion(target *project.TargetEntry) {
	status := target.State.GetStatus()

	o.mu.Lock()
	clients := append([]*wsserver.Client{}, o.clients[target.Name]...)
	o.mu.Unlock()

	msg := statusToServerMessage(status)
	for _, c := range clients {
		_, _ = o.WS.Send(c, msg)
	}

	switch s := status.(type) {
	case project.StatusSuccess:
		o.Term.Success(fmt.Sprintf("%s: compiled successfully", target.Name))
	case project.StatusCompileErrors:
		o.Term.Error(fmt.Sprintf("%s: %d compile error(s)", target.Name, len(s.Problems)))
	case project.StatusInterrupted:
		// Superseded by a newer dirty flag before it finished; nothing to report.
	default:
		if status.IsError() {
			o.Term.Error(fmt.Sprintf("%s: %s", target.Name, status.Kind()))
			o.App.Error("target failed", map[string]any{"target": target.Name, "status": string(status.Kind())})
		}
	}
}

func statusToServerMessage(status project.Status) wsserver.ServerMessage {
	switch status.(type) {
	case project.StatusSuccess:
		return wsserver.NewStatusChanged(wsserver.StatusSuccessfullyCompiled)
	case project.StatusCompileErrors:
		return wsserver.NewStatusChanged(wsserver.StatusCompileError)
	case project.StatusElmMake, project.StatusPostprocess, project.StatusQueuedForElmMake,
		project.StatusQueuedForPostprocess, project.StatusInterrupted:
		return wsserver.NewStatusChanged(wsserver.StatusBusy)
	default:
		return wsserver.NewClientError(string(status.Kind()))
	}
}

func (o *Orchestrator) onClientConnected(ctx context.Context, e wsserver.Event) {
	o.Metrics.IncWebSocketConnect()

	o.mu.Lock()
	proj := o.project
	o.mu.Unlock()

	params, connErr := wsserver.ParseConnectURL(e.URLString, o.BuildVersion, proj)
	if connErr != nil {
		_, _ = o.WS.Send(e.Client, wsserver.NewClientError(connErr.Error()))
		return
	}

	o.mu.Lock()
	o.clients[params.Output] = append(o.clients[params.Output], e.Client)
	o.clientOutput[e.Client] = params.Output
	o.priorities[params.Output] = e.Date.UnixNano()
	target := proj.FindTarget(params.Output)
	o.mu.Unlock()

	if target == nil {
		return
	}

	if target.State.MarkDirty() {
		o.handle(ctx, MsgEvent{Event: ClassifiedEvent{
			Reason:  ReasonClientConnected,
			Path:    target.Name,
			Date:    e.Date,
			Targets: []*project.TargetEntry{target},
		}})
	}

	_, _ = o.WS.Send(e.Client, statusToServerMessage(target.State.GetStatus()))
}

func (o *Orchestrator) onClientMessage(ctx context.Context, e wsserver.Event) {
	var msg wsserver.ClientMessage
	if err := json.Unmarshal([]byte(e.Data), &msg); err != nil {
		_, _ = o.WS.Send(e.Client, wsserver.NewClientError("could not decode message"))
		return
	}
	if msg.Tag != wsserver.ClientChangeCompilationMode {
		return
	}

	o.mu.Lock()
	output := o.clientOutput[e.Client]
	proj := o.project
	o.mu.Unlock()
	if output == "" {
		return
	}
	target := proj.FindTarget(output)
	if target == nil {
		return
	}

	target.State.SetCompilationMode(msg.CompilationMode)
	o.handle(ctx, MsgEvent{Event: ClassifiedEvent{
		Reason:  ReasonCompilationModeChanged,
		Path:    target.Name,
		Date:    time.Now(),
		Targets: []*project.TargetEntry{target},
	}})
}

func (o *Orchestrator) onClientClosed(e wsserver.Event) {
	o.Metrics.IncWebSocketDisconnect()

	o.mu.Lock()
	defer o.mu.Unlock()
	output, ok := o.clientOutput[e.Client]
	if !ok {
		return
	}
	delete(o.clientOutput, e.Client)
	remaining := o.clients[output][:0]
	for _, c := range o.clients[output] {
		if c != e.Client {
			remaining = append(remaining, c)
		}
	}
	o.clients[output] = remaining
}
