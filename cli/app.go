// Package cli assembles the elm-watch command-line app: flag parsing,
// exit-code mapping, and the make/hot subcommands. Command bodies live in
// cli/cmd; this file only wires the urfave/cli/v2 app shell.
package cli

import (
	"errors"
	"fmt"
	"os"

	stdcli "github.com/urfave/cli/v2"

	"github.com/elm-watch-go/elmwatch/cli/cmd"
)

// NewApp builds the top-level CLI, reporting buildVersion both via
// --version and as the token embedded in every WebSocket connect URL
// check.
func NewApp(buildVersion string) *stdcli.App {
	return &stdcli.App{
		Name:           "elm-watch",
		Usage:          "watch-mode build driver for the Elm compiler",
		Version:        buildVersion,
		ExitErrHandler: exitErrHandler,
		Commands: []*stdcli.Command{
			cmd.MakeCommand(buildVersion),
			cmd.HotCommand(buildVersion),
		},
	}
}

func exitErrHandler(_ *stdcli.Context, err error) {
	if err == nil {
		return
	}
	var exitErr stdcli.ExitCoder
	if errors.As(err, &exitErr) {
		if msg := exitErr.Error(); msg != "" {
			fmt.Fprintln(os.Stderr, msg)
		}
		os.Exit(exitErr.ExitCode())
	}
	fmt.Fprintln(os.Stderr, err)
	os.Exit(int(cmd.ExitCompileOrConfigError))
}
