package adapter

import (
	"encoding/json"

	"github.com/benbjohnson/clock"
	"github.com/google/go-dap"

	"github.com/vburojevic/revdbg/internal/trace"
)

// Real clock for production sessions; session tests inject mocks directly.
var sessionClock = clock.New()

// captureEventName is the custom event relaying trace-capture phases:
// {state: start|write|complete|fail, id, payload?}.
const captureEventName = "ttdCapture"

type captureEvent struct {
	dap.Event
	Body trace.Status `json:"body"`
}

// The Server is the session.Notifier: every callback below runs on the
// dispatch goroutine.

// Initialized tells the client to start sending configuration.
func (s *Server) Initialized() {
	s.send(&dap.InitializedEvent{Event: s.newEvent("initialized")})
}

// Stopped announces the current pause.
func (s *Server) Stopped(reason string) {
	ev := &dap.StoppedEvent{Event: s.newEvent("stopped")}
	ev.Body = dap.StoppedEventBody{
		Reason:            reason,
		ThreadId:          mainThreadID,
		AllThreadsStopped: true,
	}
	s.send(ev)
}

// Output forwards a debuggee output line.
func (s *Server) Output(category, line string) {
	ev := &dap.OutputEvent{Event: s.newEvent("output")}
	ev.Body = dap.OutputEventBody{Category: category, Output: line + "\n"}
	s.send(ev)
}

// CaptureStatus relays a trace-capture phase notification.
func (s *Server) CaptureStatus(status trace.Status) {
	s.send(&captureEvent{Event: s.newEvent(captureEventName), Body: status})
}

// TimeTravelAvailable upgrades the advertised capabilities once the protocol
// connection reports the time-travel domain.
func (s *Server) TimeTravelAvailable() {
	ev := &dap.CapabilitiesEvent{Event: s.newEvent("capabilities")}
	ev.Body = dap.CapabilitiesEventBody{Capabilities: dap.Capabilities{SupportsStepBack: true}}
	s.send(ev)
}

// Terminated ends the session client-side, carrying the restart descriptor
// when restart mode is active.
func (s *Server) Terminated(restart interface{}) {
	ev := &dap.TerminatedEvent{Event: s.newEvent("terminated")}
	if restart != nil {
		if raw, err := json.Marshal(restart); err == nil {
			ev.Body = dap.TerminatedEventBody{Restart: raw}
		}
	}
	s.send(ev)
}

// Exited reports the debuggee's exit code.
func (s *Server) Exited(code int) {
	ev := &dap.ExitedEvent{Event: s.newEvent("exited")}
	ev.Body = dap.ExitedEventBody{ExitCode: code}
	s.send(ev)
}
