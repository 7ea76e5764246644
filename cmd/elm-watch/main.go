// Package main provides the elm-watch CLI entrypoint.
//
// Usage:
//
//	elm-watch make [--debug|--optimize] [targets...]
//	elm-watch hot [targets...]
package main

import (
	"fmt"
	"os"

	"github.com/elm-watch-go/elmwatch/cli"
)

// buildVersion is set via ldflags at build time.
var buildVersion = "dev"

func main() {
	app := cli.NewApp(buildVersion)

	if err := app.Run(os.Args); err != nil {
		// The app's ExitErrHandler already handled the exit for cli.ExitCoder
		// errors; this only covers anything that slipped through unwrapped.
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
