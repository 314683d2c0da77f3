package trace

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"sync"

	"github.com/samber/lo"
	"go.uber.org/zap"
)

// State is the phase of a capture request. Phases are monotonic:
// start -> write -> {complete | fail}, or start -> fail when directory
// preparation already failed.
type State string

const (
	StateStart    State = "start"
	StateWrite    State = "write"
	StateComplete State = "complete"
	StateFail     State = "fail"
)

// Status is the asynchronous notification emitted at each phase transition.
type Status struct {
	State   State       `json:"state"`
	ID      int         `json:"id"`
	Payload interface{} `json:"payload,omitempty"`
}

// ReplayConfig is the launch descriptor handed back after a completed
// capture. Produced once, never mutated.
type ReplayConfig struct {
	Type              string   `json:"type"`
	Request           string   `json:"request"`
	Protocol          string   `json:"protocol"`
	StopOnEntry       bool     `json:"stopOnEntry"`
	RuntimeExecutable string   `json:"runtimeExecutable"`
	RuntimeArgs       []string `json:"runtimeArgs"`
	Console           string   `json:"console"`
	Timeout           int      `json:"timeout"`
}

// Outcome resolves a stepBack/reverseContinue call that went through the
// capture protocol. Refusals and failures resolve with Launch=false; they
// are never surfaced as errors to the caller.
type Outcome struct {
	Launch bool          `json:"launch"`
	Config *ReplayConfig `json:"config,omitempty"`
}

// TraceWriter is the slice of the protocol bridge the controller needs.
type TraceWriter interface {
	WriteLog(ctx context.Context, dir string) error
}

// Seed carries the session fields a replay configuration is derived from.
type Seed struct {
	Type              string
	RuntimeExecutable string
	Timeout           int
}

// Controller drives the multi-step capture protocol: prepare directory,
// flush the trace, verify the index file, hand back a replay config. At most
// one request is in flight per session; a second request while one is
// pending is refused immediately without allocating an id.
type Controller struct {
	store  Store
	writer TraceWriter
	seed   Seed
	log    *zap.SugaredLogger

	status chan Status

	mu      sync.Mutex
	pending bool
	nextID  int
	current int
}

// NewController builds a capture controller bound to one session.
func NewController(writer TraceWriter, seed Seed, log *zap.SugaredLogger) *Controller {
	return &Controller{
		store:  Store{},
		writer: writer,
		seed:   seed,
		log:    log,
		status: make(chan Status, 16),
	}
}

// Status delivers phase notifications for the client's status event.
func (c *Controller) Status() <-chan Status { return c.status }

// Capture runs the protocol against dir and resolves with the outcome. Every
// terminal path clears the pending flag; a refused duplicate request does
// not touch it.
func (c *Controller) Capture(ctx context.Context, dir string) Outcome {
	c.mu.Lock()
	if c.pending {
		c.mu.Unlock()
		c.log.Debugw("capture refused, one already pending")
		return Outcome{Launch: false}
	}
	c.nextID++
	id := c.nextID
	c.current = id
	c.pending = true
	c.mu.Unlock()

	c.notify(Status{State: StateStart, ID: id})

	if err := c.store.Prepare(dir); err != nil {
		return c.fail(id, fmt.Sprintf("preparing trace directory %s: %v", dir, err))
	}

	c.notify(Status{State: StateWrite, ID: id})
	if err := c.writer.WriteLog(ctx, dir); err != nil {
		return c.fail(id, fmt.Sprintf("writing trace: %v", err))
	}

	if !c.store.IndexExists(dir) {
		return c.fail(id, fmt.Sprintf("trace index %s missing after write; the runtime may not have finished loading modules", filepath.Join(dir, IndexFile)))
	}

	cfg := &ReplayConfig{
		Type:              c.seed.Type,
		Request:           "launch",
		Protocol:          "inspector",
		StopOnEntry:       true,
		RuntimeExecutable: c.seed.RuntimeExecutable,
		RuntimeArgs:       []string{"--replay-debug=" + dir},
		Console:           "internalConsole",
		Timeout:           c.seed.Timeout,
	}
	if !c.settle(id) {
		// A stale completion for a request that is no longer current must
		// not be applied or announced twice.
		return Outcome{Launch: false}
	}
	c.notify(Status{State: StateComplete, ID: id, Payload: cfg})
	return Outcome{Launch: true, Config: cfg}
}

func (c *Controller) fail(id int, msg string) Outcome {
	if c.settle(id) {
		c.notify(Status{State: StateFail, ID: id, Payload: msg})
	}
	return Outcome{Launch: false}
}

// settle clears the pending flag iff id is still the current request.
func (c *Controller) settle(id int) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.current != id {
		return false
	}
	c.pending = false
	return true
}

func (c *Controller) notify(s Status) {
	select {
	case c.status <- s:
	default:
		c.log.Warnw("dropping capture status, consumer too slow", "state", s.State, "id", s.ID)
	}
}

// LiveMode reports whether reverse-execution requests should run the capture
// protocol: a runtime executable is configured for time travel, at least one
// runtime argument asks for live recording, and the arguments are not all
// replay flags (which would mean we are already replaying a prior trace).
func LiveMode(runtimeExecutable string, runtimeArgs []string) bool {
	if runtimeExecutable == "" {
		return false
	}
	recording := lo.SomeBy(runtimeArgs, func(a string) bool {
		return strings.Contains(a, "--record")
	})
	allReplay := len(runtimeArgs) > 0 && lo.EveryBy(runtimeArgs, func(a string) bool {
		return strings.Contains(a, "--replay-debug")
	})
	return recording && !allReplay
}
