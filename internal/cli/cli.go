package cli

import (
	"io"
	"os"

	"go.uber.org/zap"

	"github.com/vburojevic/revdbg/internal/config"
)

// Globals carries cross-command state; stdout/stderr are injected so tests
// can capture output.
type Globals struct {
	Verbose bool
	Quiet   bool

	Stdout io.Writer
	Stderr io.Writer
	Config *config.Config
	Logger *zap.SugaredLogger
}

// CLI is the top-level kong command tree.
type CLI struct {
	Verbose bool `short:"v" help:"Enable verbose debug logging"`
	Quiet   bool `short:"q" help:"Suppress informational output"`

	Serve   ServeCmd   `cmd:"" default:"withargs" help:"Serve the debug adapter (stdio by default)"`
	Config  ConfigCmd  `cmd:"" help:"Inspect or generate configuration"`
	Version VersionCmd `cmd:"" help:"Show version information"`
}

// NewGlobalsWithConfig assembles Globals from parsed flags and loaded config.
func NewGlobalsWithConfig(c *CLI, cfg *config.Config) *Globals {
	verbose := c.Verbose || cfg.Verbose
	return &Globals{
		Verbose: verbose,
		Quiet:   c.Quiet,
		Stdout:  os.Stdout,
		Stderr:  os.Stderr,
		Config:  cfg,
		Logger:  newLogger(verbose),
	}
}
