package compile

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/elm-watch-go/elmwatch/project"
	"github.com/elm-watch-go/elmwatch/spawn"
)

// InstallResultKind discriminates the outcome of one dependency-install
// call.
type InstallResultKind int

const (
	InstallSuccess InstallResultKind = iota
	InstallElmJSONError
	InstallCreatingDummyFailed
	InstallCompilerNotFound
	InstallOtherSpawnError
	InstallError
	InstallUnexpectedOutput
)

// InstallResult is the outcome of installing one manifest's dependencies.
type InstallResult struct {
	Kind   InstallResultKind
	Err    error
	Output string // captured stderr/stdout, for UnexpectedOutput diagnostics
}

// MakeResultKind discriminates the outcome of one compile call.
type MakeResultKind int

const (
	MakeSuccess MakeResultKind = iota
	MakeCompilerNotFound
	MakeOtherSpawnError
	MakeNonZeroExit
	MakeJSONParseError
	MakeCompileErrors
)

// MakeResult is the outcome of one compiler invocation.
type MakeResult struct {
	Kind             MakeResultKind
	Code             []byte // MakeSuccess
	ExecutableName   string // MakeCompilerNotFound
	Err              error  // MakeOtherSpawnError, MakeJSONParseError
	ExitCode         int    // MakeNonZeroExit
	Stderr           string // MakeNonZeroExit
	Problems         []project.CompileProblem // MakeCompileErrors
}

// Compiler is the external, single-shot compiler, referenced only by this
// interface: the engine never assumes anything about its flags beyond the
// install/make contract described here.
type Compiler interface {
	// Install runs the dependency-install step for one manifest.
	Install(ctx context.Context, elmJSONPath string) InstallResult
	// Make compiles one target. typecheckOnly requests the cheaper
	// variant that skips writing an artifact when the caller does not
	// currently need one.
	Make(ctx context.Context, target *project.TargetEntry, mode project.CompilationMode, runMode project.RunMode, typecheckOnly bool) MakeResult
}

// compileReport mirrors the structured JSON error report shape: a non-zero
// exit with a machine-readable "compile-errors" body rather than free text.
type compileReport struct {
	Type     string `json:"type"`
	Problems []struct {
		Title   string `json:"title"`
		Message string `json:"message"`
		Path    string `json:"path"`
		Region  string `json:"region"`
	} `json:"errors"`
}

// SpawnCompiler invokes a real compiler executable via package spawn. It
// is the default Compiler: install and make both shell out, and Make reads
// the compiler's output from a temporary file path it manages itself.
type SpawnCompiler struct {
	Spawner        *spawn.Spawner
	ExecutablePath string
	WorkDir        string
	// InstallArgs/MakeArgs are argv prefixes. Install appends the elm.json
	// path; Make appends the inputs, "--output <tmp>" when an artifact is
	// wanted, "--debug" or "--optimize" for those modes, and "--report=json".
	InstallArgs []string
	MakeArgs    []string
}

func (c *SpawnCompiler) Install(ctx context.Context, elmJSONPath string) InstallResult {
	argv := append([]string{}, c.InstallArgs...)
	argv = append(argv, elmJSONPath)

	res := c.Spawner.Run(ctx, c.ExecutablePath, argv, filepath.Dir(elmJSONPath), nil)
	switch res.Kind {
	case spawn.ResultCommandNotFound:
		return InstallResult{Kind: InstallCompilerNotFound, Err: res.Err}
	case spawn.ResultOtherSpawnError, spawn.ResultStdinWriteError:
		return InstallResult{Kind: InstallOtherSpawnError, Err: res.Err}
	case spawn.ResultExit:
		if res.Reason.Kind == spawn.ExitCode && res.Reason.Code == 0 {
			return InstallResult{Kind: InstallSuccess}
		}
		return InstallResult{Kind: InstallError, Err: fmt.Errorf("install failed: %s", res.Reason), Output: string(res.Stderr)}
	default:
		return InstallResult{Kind: InstallUnexpectedOutput, Output: string(res.Stderr)}
	}
}

func (c *SpawnCompiler) Make(ctx context.Context, target *project.TargetEntry, mode project.CompilationMode, runMode project.RunMode, typecheckOnly bool) MakeResult {
	var outPath string
	if !typecheckOnly && !target.State.Output.IsNull {
		tmp, err := os.CreateTemp("", "elm-watch-output-*.js")
		if err != nil {
			return MakeResult{Kind: MakeOtherSpawnError, Err: fmt.Errorf("create temp output: %w", err)}
		}
		outPath = tmp.Name()
		_ = tmp.Close()
		defer os.Remove(outPath)
	}

	argv := append([]string{}, c.MakeArgs...)
	argv = append(argv, target.State.Inputs...)
	if outPath != "" {
		argv = append(argv, "--output", outPath)
	}
	if mode == project.ModeDebug {
		argv = append(argv, "--debug")
	} else if mode == project.ModeOptimize {
		argv = append(argv, "--optimize")
	}
	argv = append(argv, "--report=json")

	res := c.Spawner.Run(ctx, c.ExecutablePath, argv, c.WorkDir, nil)
	switch res.Kind {
	case spawn.ResultCommandNotFound:
		return MakeResult{Kind: MakeCompilerNotFound, ExecutableName: c.ExecutablePath}
	case spawn.ResultOtherSpawnError, spawn.ResultStdinWriteError:
		return MakeResult{Kind: MakeOtherSpawnError, Err: res.Err}
	case spawn.ResultExit:
		if res.Reason.Kind == spawn.ExitCode && res.Reason.Code == 0 {
			if outPath == "" {
				return MakeResult{Kind: MakeSuccess}
			}
			code, err := os.ReadFile(outPath)
			if err != nil {
				return MakeResult{Kind: MakeOtherSpawnError, Err: fmt.Errorf("read compiled output: %w", err)}
			}
			return MakeResult{Kind: MakeSuccess, Code: code}
		}
		return parseCompileFailure(res.Reason.Code, res.Stderr)
	default:
		return MakeResult{Kind: MakeOtherSpawnError, Err: errors.New("compiler exited in an unrecognized way")}
	}
}

func parseCompileFailure(exitCode int, stderr []byte) MakeResult {
	var report compileReport
	if err := json.Unmarshal(stderr, &report); err != nil {
		return MakeResult{Kind: MakeNonZeroExit, ExitCode: exitCode, Stderr: string(stderr)}
	}
	if report.Type != "compile-errors" && report.Type != "error" {
		return MakeResult{Kind: MakeJSONParseError, Err: fmt.Errorf("unexpected report type %q", report.Type)}
	}

	problems := make([]project.CompileProblem, 0, len(report.Problems))
	for _, p := range report.Problems {
		problems = append(problems, project.CompileProblem{
			Title:    p.Title,
			Message:  p.Message,
			Location: project.CompileErrorLocation{Path: p.Path, Region: p.Region},
		})
	}
	return MakeResult{Kind: MakeCompileErrors, Problems: problems}
}
