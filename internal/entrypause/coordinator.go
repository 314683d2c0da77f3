package entrypause

import (
	"context"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"go.uber.org/zap"
)

// Outcome is the result of waiting for the entry pause.
type Outcome int

const (
	// EntryCaptured means the first pause arrived while waiting.
	EntryCaptured Outcome = iota
	// TimedOut means the wait budget ran out. The session proceeds as if
	// already paused so it never hangs on a pause that will not come.
	TimedOut
	// Canceled means the session terminated during the wait.
	Canceled
)

func (o Outcome) String() string {
	switch o {
	case EntryCaptured:
		return "entry_captured"
	case TimedOut:
		return "timed_out"
	default:
		return "canceled"
	}
}

// Attach mode gets a small fixed budget: when attaching to an already
// running process the first pause may legitimately never arrive.
const attachAttempts = 5

// Coordinator owns the "are we paused at program entry yet" state. The wait
// polls a flag instead of blocking on the pause event itself, because the
// event arriving is exactly what flips the flag and ends the wait early.
type Coordinator struct {
	clk      clock.Clock
	interval time.Duration
	log      *zap.SugaredLogger

	mu         sync.Mutex
	captured   bool
	terminated bool
}

// New creates a coordinator polling at interval.
func New(clk clock.Clock, interval time.Duration, log *zap.SugaredLogger) *Coordinator {
	return &Coordinator{clk: clk, interval: interval, log: log}
}

// MarkCaptured records that the entry pause arrived. Permanent.
func (c *Coordinator) MarkCaptured() {
	c.mu.Lock()
	c.captured = true
	c.mu.Unlock()
}

// MarkTerminated aborts any in-flight wait.
func (c *Coordinator) MarkTerminated() {
	c.mu.Lock()
	c.terminated = true
	c.mu.Unlock()
}

// Captured reports whether the entry pause has been seen.
func (c *Coordinator) Captured() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.captured
}

// Await blocks until the entry pause arrives, the budget runs out, or the
// session terminates. timeout <= 0 falls back to a large default budget.
func (c *Coordinator) Await(ctx context.Context, timeout time.Duration, attachMode bool) Outcome {
	attempts := attachAttempts
	if !attachMode {
		if timeout > 0 {
			attempts = int(timeout / c.interval)
			if attempts < 1 {
				attempts = 1
			}
		} else {
			attempts = 600
		}
	}

	for i := 0; i < attempts; i++ {
		c.mu.Lock()
		captured, terminated := c.captured, c.terminated
		c.mu.Unlock()
		if captured {
			return EntryCaptured
		}
		if terminated {
			return Canceled
		}
		select {
		case <-ctx.Done():
			return Canceled
		case <-c.clk.After(c.interval):
		}
	}

	if c.Captured() {
		return EntryCaptured
	}
	c.log.Debugw("entry pause wait exhausted", "attempts", attempts, "attach", attachMode)
	return TimedOut
}
