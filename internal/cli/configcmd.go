package cli

import (
	"encoding/json"
	"fmt"

	"github.com/vburojevic/revdbg/internal/config"
)

// ConfigCmd groups configuration inspection commands.
type ConfigCmd struct {
	Show     ConfigShowCmd     `cmd:"" default:"1" help:"Show the effective configuration"`
	Path     ConfigPathCmd     `cmd:"" help:"Show which config file is loaded"`
	Generate ConfigGenerateCmd `cmd:"" help:"Print a sample config file"`
}

// ConfigShowCmd prints the effective configuration.
type ConfigShowCmd struct {
	JSON bool `help:"Emit JSON instead of text"`
}

// Run executes the config show command.
func (c *ConfigShowCmd) Run(globals *Globals) error {
	cfg := globals.Config
	if c.JSON {
		return json.NewEncoder(globals.Stdout).Encode(map[string]interface{}{
			"type":              "config",
			"listen":            cfg.Listen,
			"verbose":           cfg.Verbose,
			"poll_interval":     cfg.PollInterval.String(),
			"default_timeout":   cfg.DefaultTimeout.String(),
			"liveness_interval": cfg.LivenessInterval.String(),
		})
	}
	fmt.Fprintln(globals.Stdout, "Current Configuration:")
	fmt.Fprintf(globals.Stdout, "  listen:            %q\n", cfg.Listen)
	fmt.Fprintf(globals.Stdout, "  verbose:           %v\n", cfg.Verbose)
	fmt.Fprintf(globals.Stdout, "  poll_interval:     %s\n", cfg.PollInterval)
	fmt.Fprintf(globals.Stdout, "  default_timeout:   %s\n", cfg.DefaultTimeout)
	fmt.Fprintf(globals.Stdout, "  liveness_interval: %s\n", cfg.LivenessInterval)
	return nil
}

// ConfigPathCmd prints the loaded config file path.
type ConfigPathCmd struct{}

// Run executes the config path command.
func (c *ConfigPathCmd) Run(globals *Globals) error {
	path := config.ConfigFile()
	if path == "" {
		fmt.Fprintln(globals.Stdout, "No configuration file found (using defaults)")
		return nil
	}
	fmt.Fprintf(globals.Stdout, "Config file: %s\n", path)
	return nil
}

// ConfigGenerateCmd prints a sample configuration file.
type ConfigGenerateCmd struct{}

const sampleConfig = `# revdbg configuration file
# Place at ~/.revdbg.yaml or ./revdbg.yaml

# TCP address to serve DAP on; empty serves stdio.
listen: ""

verbose: false

# Pacing for the entry-pause poll and liveness probe.
poll_interval: 100ms
liveness_interval: 3s

# Entry-pause wait bound when a launch request has no timeout.
default_timeout: 60s
`

// Run executes the config generate command.
func (c *ConfigGenerateCmd) Run(globals *Globals) error {
	fmt.Fprint(globals.Stdout, sampleConfig)
	return nil
}
