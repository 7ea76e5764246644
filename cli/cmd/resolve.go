package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/elm-watch-go/elmwatch/cli/config"
	"github.com/elm-watch-go/elmwatch/project"
)

const configFileName = "elm-watch.json"

// resolveProject loads elm-watch.json from the current directory and
// disables every target not named in targetArgs (an empty targetArgs
// leaves every target enabled). An unknown target name is BadArgs.
func resolveProject(targetArgs []string) (*project.Project, *ExitError) {
	cwd, err := os.Getwd()
	if err != nil {
		return nil, newExitError(ExitCompileOrConfigError, "resolve working directory: %s", err)
	}
	configPath := filepath.Join(cwd, configFileName)

	file, err := config.Load(configPath)
	if err != nil {
		return nil, newExitError(ExitCompileOrConfigError, "%s", err)
	}

	if len(targetArgs) > 0 {
		known := make(map[string]struct{}, len(file.Targets))
		for name := range file.Targets {
			known[name] = struct{}{}
		}
		disabled := make(map[string]struct{})
		requested := make(map[string]struct{}, len(targetArgs))
		for _, name := range targetArgs {
			if _, ok := known[name]; !ok {
				return nil, newExitError(ExitBadArgs, "unknown target %q (want one of the names in %s)", name, configFileName)
			}
			requested[name] = struct{}{}
		}
		for name := range known {
			if _, ok := requested[name]; !ok {
				disabled[name] = struct{}{}
			}
		}
		proj, err := config.Resolve(configPath, file, disabled)
		if err != nil {
			return nil, newExitError(ExitCompileOrConfigError, "%s", err)
		}
		return proj, nil
	}

	proj, err := config.Resolve(configPath, file, nil)
	if err != nil {
		return nil, newExitError(ExitCompileOrConfigError, "%s", err)
	}
	return proj, nil
}

func applyMode(proj *project.Project, mode project.CompilationMode) {
	for _, t := range proj.AllTargets() {
		t.State.SetCompilationMode(mode)
	}
}

func modeFromFlags(debug, optimize bool) project.CompilationMode {
	switch {
	case debug:
		return project.ModeDebug
	case optimize:
		return project.ModeOptimize
	default:
		return project.ModeStandard
	}
}

func fmtTargetNames(proj *project.Project) string {
	names := proj.EnabledTargetNames()
	return fmt.Sprintf("%v", names)
}
