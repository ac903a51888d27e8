package main

import "github.com/urfave/cli/v2"

// globalFlags are accepted by every subcommand; they resolve through
// resolveConfig layered under an optional --config file.
var globalFlags = []cli.Flag{
	&cli.StringFlag{
		Name:    "config",
		Aliases: []string{"c"},
		Usage:   "path to a YAML config file",
	},
	&cli.StringFlag{
		Name:  "datadir",
		Usage: "data directory path",
	},
	&cli.StringFlag{
		Name:  "device",
		Usage: "device ID scoping the asset tree",
	},
	&cli.IntFlag{
		Name:  "workers",
		Usage: "max concurrent hash/import workers",
	},
	&cli.IntFlag{
		Name:  "verbosity",
		Usage: "log level 0-5 (0-1=warn, 2-3=info, 4-5=debug)",
	},
}
