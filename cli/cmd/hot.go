package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/elm-watch-go/elmwatch/applog"
	"github.com/elm-watch-go/elmwatch/compile"
	"github.com/elm-watch-go/elmwatch/hot"
	"github.com/elm-watch-go/elmwatch/metrics"
	"github.com/elm-watch-go/elmwatch/project"
	"github.com/elm-watch-go/elmwatch/spawn"
	"github.com/elm-watch-go/elmwatch/termlog"
	"github.com/elm-watch-go/elmwatch/toolconfig"
	"github.com/elm-watch-go/elmwatch/watch"
	"github.com/elm-watch-go/elmwatch/worker"
	"github.com/elm-watch-go/elmwatch/wsserver"
)

// HotCommand is `elm-watch hot [targets...]`: compiles every enabled
// target, then keeps watching and pushing live-reload notifications to
// connected browsers until interrupted.
func HotCommand(buildVersion string) *cli.Command {
	return &cli.Command{
		Name:      "hot",
		Usage:     "compile and watch, pushing live reloads to connected browsers",
		ArgsUsage: "[targets...]",
		Flags:     []cli.Flag{debugFlag, optimizeFlag, compilerFlag, portFlag},
		Action: func(c *cli.Context) error {
			return runHot(c, buildVersion)
		},
	}
}

func runHot(c *cli.Context, buildVersion string) error {
	if c.Bool(debugFlag.Name) || c.Bool(optimizeFlag.Name) {
		return newExitError(ExitDebugOptimizeForHot, "--debug and --optimize are not allowed in hot mode; switch compilation mode per target from the browser overlay instead")
	}

	proj, exitErr := resolveProject(c.Args().Slice())
	if exitErr != nil {
		return exitErr
	}

	prefs, err := toolconfig.Load(".elm-watch-tool.yaml")
	if err != nil {
		return newExitError(ExitCompileOrConfigError, "%s", err)
	}

	term := termlog.New(os.Stderr, termlog.IsFancy(os.Stderr))
	app := applog.New()
	collector := metrics.NewCollector()

	engine := &compile.Engine{
		Spawner:      &spawn.Spawner{},
		Workers:      worker.NewPool(worker.RunnerCommand{"node", "elm-watch-node-runner.js"}),
		Compiler:     &compile.SpawnCompiler{Spawner: &spawn.Spawner{}, ExecutablePath: c.String(compilerFlag.Name), WorkDir: proj.WatchRoot, MakeArgs: []string{"make"}, InstallArgs: []string{"install"}},
		RunMode:      project.RunModeHot,
		ProjectRoot:  proj.WatchRoot,
		LoadingDelay: time.Duration(prefs.LoadingMessageDelayMs) * time.Millisecond,
		Metrics:      collector,
	}

	w, err := watch.New(proj.WatchRoot, nil)
	if err != nil {
		return newExitError(ExitCompileOrConfigError, "%s", err)
	}
	defer w.Close()

	strategy := wsserver.PortStrategy{Kind: wsserver.NoPort}
	if port := c.Int(portFlag.Name); port != 0 {
		strategy = wsserver.PortStrategy{Kind: wsserver.PortFromConfig, Port: port}
	}
	ln, port, err := wsserver.Listen(strategy)
	if err != nil {
		return newExitError(ExitCompileOrConfigError, "%s", err)
	}
	ws := wsserver.NewServer(ln)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	go func() {
		if err := ws.Serve(ctx); err != nil {
			app.Error("websocket server stopped", map[string]any{"error": err.Error()})
		}
	}()

	term.Success(fmt.Sprintf("elm-watch %s watching %s on port %d", buildVersion, fmtTargetNames(proj), port))

	orchestrator := hot.NewOrchestrator(proj, engine, ws, w, term, app, buildVersion)
	orchestrator.DebounceDelay = time.Duration(prefs.DebounceMillis) * time.Millisecond
	orchestrator.Metrics = collector

	err = orchestrator.Run(ctx)

	snap := collector.Snapshot()
	app.Info("hot session ended", map[string]any{
		"compiles_succeeded": snap.CompilesSucceeded,
		"compiles_failed":    snap.CompilesFailed,
		"ws_connects":        snap.WebSocketConnects,
	})

	if err != nil && ctx.Err() == nil {
		return newExitError(ExitCompileOrConfigError, "%s", err)
	}
	return nil
}
