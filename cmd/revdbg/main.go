package main

import (
	"fmt"
	"os"

	"github.com/alecthomas/kong"

	"github.com/vburojevic/revdbg/internal/cli"
	"github.com/vburojevic/revdbg/internal/config"
)

const quickStart = `revdbg - time-travel debug adapter for JavaScript runtimes

Quick start:
  revdbg serve                          Serve DAP on stdio (editor mode)
  revdbg serve -l 127.0.0.1:4711        Serve DAP on a TCP listener
  revdbg config generate > ~/.revdbg.yaml

For help:
  revdbg --help                         All commands and flags
`

func main() {
	if len(os.Args) == 1 {
		fmt.Print(quickStart)
		return
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Warning: failed to load config: %v\n", err)
		cfg = config.Default()
	}

	var c cli.CLI
	ctx := kong.Parse(&c,
		kong.Name("revdbg"),
		kong.Description("revdbg: debug adapter with reverse-execution trace capture"),
		kong.UsageOnError(),
		kong.ConfigureHelp(kong.HelpOptions{
			Compact: true,
			Summary: true,
		}),
	)

	globals := cli.NewGlobalsWithConfig(&c, cfg)
	if err := ctx.Run(globals); err != nil {
		os.Exit(1)
	}
}
