package breakpoint

import (
	"github.com/samber/lo"

	"github.com/vburojevic/revdbg/internal/protocol"
)

// Result is the per-requested-breakpoint outcome of a set operation.
type Result struct {
	Verified bool
	ScriptID string
	URL      string
	Line     int
	// Column is carried for the client's benefit but deliberately ignored
	// when comparing against the entry pause: a breakpoint requested at
	// column 0 can resolve to a different column than where execution
	// actually stopped.
	Column int
}

// ForceEntryStop decides whether applying these breakpoints means the session
// must stop at program entry even though the client did not ask for
// stop-on-entry: a verified breakpoint sitting on the entry location is the
// client saying it wants to break at the very first statement.
//
// Applies only while an entry pause has been captured and configuration has
// not finished yet.
func ForceEntryStop(results []Result, entry *protocol.PauseEvent, finishedConfig bool) bool {
	if finishedConfig {
		return false
	}
	top, ok := entry.TopFrame()
	if !ok {
		return false
	}
	return lo.SomeBy(results, func(r Result) bool {
		if !r.Verified || r.Line != top.Line {
			return false
		}
		if r.ScriptID != "" && r.ScriptID == top.ScriptID {
			return true
		}
		return r.URL != "" && r.URL == top.URL
	})
}
