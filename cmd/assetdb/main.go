// Command assetdb is the CLI entry point for the content-addressed asset
// database core.
//
// Usage:
//
//	assetdb scan <path> [<path> ...]   import files under the given paths
//	assetdb info                       print the loaded tree's summary
//	assetdb verify <name>              re-hash a stored file against the tree
//
// Global flags (accepted by every subcommand):
//
//	--config     path to a YAML config file
//	--datadir    data directory path (default: ~/.assetdb)
//	--device     device ID scoping the asset tree (default: "default")
//	--workers    max concurrent hash/import workers (default: 4)
//	--verbosity  log level 0-5 (default: 3)
package main

import (
	"fmt"
	"os"

	"github.com/urfave/cli/v2"

	"github.com/ashleydavis/photosphere-sub005/log"
)

// Build-time version info, overridable with ldflags:
//
//	go build -ldflags "-X main.version=v0.2.0 -X main.commit=abc1234"
var (
	version = "v0.1.0-dev"
	commit  = "unknown"
)

func main() {
	os.Exit(run(os.Args))
}

// run is the actual entry point, returning an exit code. Accepts the full
// argv (including the program name, as cli.App.Run expects) so it can be
// tested in isolation.
func run(args []string) int {
	app := newApp()
	if err := app.Run(args); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		if exitErr, ok := err.(cli.ExitCoder); ok {
			return exitErr.ExitCode()
		}
		return 1
	}
	return 0
}

func newApp() *cli.App {
	return &cli.App{
		Name:    "assetdb",
		Usage:   "content-addressed asset database",
		Version: fmt.Sprintf("%s (commit %s)", version, commit),
		Flags:   globalFlags,
		Before: func(ctx *cli.Context) error {
			level := verbosityToLogLevel(ctx.Int("verbosity"))
			log.SetDefault(log.New(level))
			return nil
		},
		Commands: []*cli.Command{
			{
				Name:      "scan",
				Usage:     "import files under one or more source paths",
				ArgsUsage: "<path> [<path> ...]",
				Action:    scanCmd,
			},
			{
				Name:   "info",
				Usage:  "print a summary of the loaded asset tree",
				Action: infoCmd,
			},
			{
				Name:      "verify",
				Usage:     "re-hash a stored file and compare it to the tree",
				ArgsUsage: "<name>",
				Action:    verifyCmd,
			},
		},
	}
}
