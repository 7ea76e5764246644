package cmd

import "github.com/urfave/cli/v2"

var debugFlag = &cli.BoolFlag{
	Name:  "debug",
	Usage: "compile every target in debug mode",
}

var optimizeFlag = &cli.BoolFlag{
	Name:  "optimize",
	Usage: "compile every target in optimize mode",
}

var compilerFlag = &cli.StringFlag{
	Name:  "compiler",
	Usage: "path to the elm compiler executable",
	Value: "elm",
}

var portFlag = &cli.IntFlag{
	Name:  "port",
	Usage: "WebSocket port for hot mode (0 picks an ephemeral port)",
}
