package protocol

import "context"

// Frame is a single call-frame location within a pause snapshot.
type Frame struct {
	ScriptID string
	URL      string
	Function string
	Line     int
	Column   int
}

// PauseEvent is an immutable snapshot taken when the debuggee pauses.
// It carries at least one call frame and the reason the runtime reported.
type PauseEvent struct {
	Reason string
	Frames []Frame
}

// TopFrame returns the innermost call frame of the pause, if any.
func (p *PauseEvent) TopFrame() (Frame, bool) {
	if p == nil || len(p.Frames) == 0 {
		return Frame{}, false
	}
	return p.Frames[0], true
}

// Location is a resolved breakpoint location reported by the runtime.
type Location struct {
	ScriptID string
	URL      string
	Line     int
	Column   int
}

// Event is a notification pushed by the runtime connection.
type Event interface{ event() }

// Paused reports that execution stopped.
type Paused struct {
	Pause PauseEvent
}

// ContextDestroyed reports that an execution context went away.
type ContextDestroyed struct {
	ContextID int
}

// ConsoleMessage is console output produced by the debuggee.
type ConsoleMessage struct {
	Level string
	Text  string
}

func (Paused) event()           {}
func (ContextDestroyed) event() {}
func (ConsoleMessage) event()   {}

// Bridge is the contract the session controller consumes for talking to the
// debuggee's remote debugging connection. The inspector implementation in
// this package satisfies it; tests substitute fakes.
type Bridge interface {
	// Evaluate runs an expression in the debuggee and returns its string value.
	Evaluate(ctx context.Context, expression string) (string, error)
	// SetBreakpoint requests a breakpoint at url:line:column and returns the
	// location the runtime actually resolved it to.
	SetBreakpoint(ctx context.Context, url string, line, column int) (Location, error)
	// Resume continues execution after a pause.
	Resume(ctx context.Context) error

	// StepBack steps one statement backwards in a replay session.
	StepBack(ctx context.Context) error
	// Reverse continues backwards in a replay session.
	Reverse(ctx context.Context) error
	// WriteLog flushes the in-memory execution trace into dir.
	WriteLog(ctx context.Context, dir string) error
	// TimeTravelCapable reports whether the connection exposes the
	// time-travel domain at all.
	TimeTravelCapable() bool

	// Events delivers runtime notifications. The channel closes when the
	// connection goes away.
	Events() <-chan Event

	Close() error
}
