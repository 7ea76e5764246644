package cmd

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/elm-watch-go/elmwatch/compile"
	"github.com/elm-watch-go/elmwatch/metrics"
	"github.com/elm-watch-go/elmwatch/project"
	"github.com/elm-watch-go/elmwatch/spawn"
	"github.com/elm-watch-go/elmwatch/termlog"
	"github.com/elm-watch-go/elmwatch/toolconfig"
	"github.com/elm-watch-go/elmwatch/worker"
)

// MakeCommand is `elm-watch make [--debug|--optimize] [targets...]`: a
// one-shot compile of every enabled target that exits once the batch
// settles.
func MakeCommand(buildVersion string) *cli.Command {
	return &cli.Command{
		Name:      "make",
		Usage:     "compile every target once and exit",
		ArgsUsage: "[targets...]",
		Flags:     []cli.Flag{debugFlag, optimizeFlag, compilerFlag},
		Action: func(c *cli.Context) error {
			return runMake(c, buildVersion)
		},
	}
}

func runMake(c *cli.Context, buildVersion string) error {
	debug := c.Bool(debugFlag.Name)
	optimize := c.Bool(optimizeFlag.Name)
	if debug && optimize {
		return newExitError(ExitDebugOptimizeClash, "--debug and --optimize cannot be used together")
	}

	proj, exitErr := resolveProject(c.Args().Slice())
	if exitErr != nil {
		return exitErr
	}
	applyMode(proj, modeFromFlags(debug, optimize))

	prefs, err := toolconfig.Load(".elm-watch-tool.yaml")
	if err != nil {
		return newExitError(ExitCompileOrConfigError, "%s", err)
	}

	term := termlog.New(os.Stderr, termlog.IsFancy(os.Stderr))
	collector := metrics.NewCollector()
	engine := &compile.Engine{
		Spawner:      &spawn.Spawner{},
		Workers:      worker.NewPool(worker.RunnerCommand{"node", "elm-watch-node-runner.js"}),
		Compiler:     &compile.SpawnCompiler{Spawner: &spawn.Spawner{}, ExecutablePath: c.String(compilerFlag.Name), WorkDir: proj.WatchRoot, MakeArgs: []string{"make"}, InstallArgs: []string{"install"}},
		RunMode:      project.RunModeMake,
		ProjectRoot:  proj.WatchRoot,
		LoadingDelay: time.Duration(loadingMessageDelayMillis(prefs)) * time.Millisecond,
		Metrics:      collector,
	}

	ctx := context.Background()
	if err := engine.InstallDependencies(ctx, proj,
		func(p string) { term.Muted(fmt.Sprintf("installing dependencies for %s...", p)) },
		func(p string) { term.Muted(fmt.Sprintf("dependencies installed for %s", p)) },
	); err != nil {
		return newExitError(ExitCompileOrConfigError, "dependency install aborted: %s", err)
	}

	hadError := false
	for {
		actions := engine.GetOutputActions(proj, false, nil)
		if len(actions.Actions) == 0 {
			if actions.NumExecuting == 0 {
				break
			}
			time.Sleep(5 * time.Millisecond)
			continue
		}
		for _, action := range actions.Actions {
			engine.HandleOutputAction(ctx, action)
		}
	}

	for _, t := range proj.AllTargets() {
		status := t.State.GetStatus()
		if status.IsError() {
			hadError = true
			term.Error(fmt.Sprintf("%s: %s", t.Name, status.Kind()))
			continue
		}
		term.Success(fmt.Sprintf("%s: compiled successfully", t.Name))
	}

	snap := collector.Snapshot()
	term.Muted(fmt.Sprintf("%d compiled, %d failed", snap.CompilesSucceeded, snap.CompilesFailed))

	if hadError {
		return newExitError(ExitCompileOrConfigError, "compile finished with errors")
	}
	return nil
}

func loadingMessageDelayMillis(prefs toolconfig.Preferences) int {
	return prefs.LoadingMessageDelayMs
}
