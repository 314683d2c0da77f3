package cli

import "fmt"

// Set via -ldflags at release time.
var (
	Version = "dev"
	Commit  = "unknown"
)

// VersionCmd shows version information.
type VersionCmd struct{}

// Run executes the version command.
func (c *VersionCmd) Run(globals *Globals) error {
	fmt.Fprintf(globals.Stdout, "revdbg %s (%s)\n", Version, Commit)
	return nil
}
