package session

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/vburojevic/revdbg/internal/breakpoint"
	"github.com/vburojevic/revdbg/internal/config"
	"github.com/vburojevic/revdbg/internal/entrypause"
	"github.com/vburojevic/revdbg/internal/protocol"
	"github.com/vburojevic/revdbg/internal/supervisor"
	"github.com/vburojevic/revdbg/internal/trace"
)

// Mode distinguishes how the session came to be.
type Mode int

const (
	ModeLaunch Mode = iota
	ModeAttach
)

func (m Mode) String() string {
	if m == ModeAttach {
		return "attach"
	}
	return "launch"
}

// Stop reasons surfaced to the client.
const (
	ReasonEntry      = "entry"
	ReasonBreakpoint = "breakpoint"
	ReasonPause      = "pause"
)

const defaultInspectorPort = 9229

// Notifier is the slice of the client-facing adapter the controller drives.
// The adapter implements it and serializes everything onto its dispatch
// goroutine.
type Notifier interface {
	// Initialized tells the client it may start sending configuration.
	Initialized()
	// Stopped announces the current pause with a reason.
	Stopped(reason string)
	// Output forwards a debuggee output line (category stdout/stderr/console).
	Output(category, line string)
	// CaptureStatus relays a trace-capture phase notification.
	CaptureStatus(status trace.Status)
	// TimeTravelAvailable announces that step-back operations are supported.
	TimeTravelAvailable()
	// Terminated ends the session client-side; restart is the reconnect
	// descriptor when restart mode is active, nil otherwise.
	Terminated(restart interface{})
	// Exited reports the debuggee's exit code.
	Exited(code int)
}

// Deps are the collaborators a controller composes. Tests substitute fakes
// for all of them.
type Deps struct {
	Log      *zap.SugaredLogger
	Clock    clock.Clock
	Notifier Notifier
	// Post schedules fn onto the adapter's single dispatch goroutine. All
	// session state is touched exclusively from that goroutine.
	Post func(fn func())

	Dial  func(ctx context.Context, port int) (protocol.Bridge, error)
	Spawn func(ctx context.Context, spec supervisor.Spec) (*supervisor.Handle, error)

	PollInterval     time.Duration
	DefaultTimeout   time.Duration
	LivenessInterval time.Duration
}

// TerminateOptions qualify a termination request.
type TerminateOptions struct {
	// Disconnect marks a client-driven disconnect/terminate request.
	Disconnect bool
	// HostRestart marks an extension-host restart; the debuggee is left
	// running so the host can reattach.
	HostRestart bool
}

// Controller owns the debug-session lifecycle: launch/attach, entry-pause
// synchronization, breakpoint reconciliation, reverse-execution capture and
// orderly termination.
type Controller struct {
	deps Deps
	id   string
	log  *zap.SugaredLogger

	mode    Mode
	launch  *config.LaunchArgs
	attach  *config.AttachArgs
	program string
	runtime string
	port    int

	bridge  protocol.Bridge
	handle  *supervisor.Handle
	entry   *entrypause.Coordinator
	capture *trace.Controller

	sessionCtx context.Context
	cancel     context.CancelFunc

	processID               int
	runtimeIdentified       bool
	continueAfterConfigDone bool
	finishedConfig          bool
	waitingForEntryPause    bool
	entryPause              *protocol.PauseEvent
	stopReason              string
	restartMode             bool
	terminated              bool

	livenessStop chan struct{}
}

// New creates an idle controller; Launch or Attach brings it to life.
func New(deps Deps) *Controller {
	id := uuid.NewString()
	ctx, cancel := context.WithCancel(context.Background())
	c := &Controller{
		deps:       deps,
		id:         id,
		log:        deps.Log.With("session", id),
		sessionCtx: ctx,
		cancel:     cancel,
	}
	c.entry = entrypause.New(deps.Clock, deps.PollInterval, c.log)
	return c
}

// ID returns the session identity.
func (c *Controller) ID() string { return c.id }

// Terminated reports whether the session has ended.
func (c *Controller) Terminated() bool { return c.terminated }

// Launch resolves the launch request, spawns the debuggee and begins the
// entry-pause wait. Structured config errors reject the request without
// touching any process.
func (c *Controller) Launch(ctx context.Context, args *config.LaunchArgs) error {
	if err := args.Validate(); err != nil {
		return err
	}
	runtimePath, err := args.ResolveRuntime()
	if err != nil {
		return err
	}
	env, err := args.EffectiveEnv()
	if err != nil {
		return err
	}

	c.mode = ModeLaunch
	c.launch = args
	c.program = args.Program
	c.runtime = runtimePath
	c.restartMode = args.Restart != nil
	c.port = args.Port
	if c.port == 0 && args.Restart != nil {
		c.port = args.Restart.Port
	}
	if c.port == 0 {
		c.port = defaultInspectorPort
	}
	c.continueAfterConfigDone = !args.StopOnEntry
	c.log = c.log.With("mode", c.mode.String())

	spawnArgs := append([]string{}, args.RuntimeArgs...)
	if !args.NoDebug {
		spawnArgs = append(spawnArgs, fmt.Sprintf("--inspect-brk=%d", c.port))
	}
	spawnArgs = append(spawnArgs, args.Program)
	spawnArgs = append(spawnArgs, args.Args...)

	handle, err := c.deps.Spawn(c.sessionCtx, supervisor.Spec{
		Executable:  runtimePath,
		Args:        spawnArgs,
		Env:         env,
		Dir:         args.Cwd,
		FilterNoise: !args.NoDebug && !args.CaptureStd(),
	})
	if err != nil {
		return config.Errorf(config.CodeSpawnFailed, "spawning %s: %v", runtimePath, err)
	}
	c.handle = handle
	c.processID = handle.PID()
	c.pumpProcess(handle)

	if args.NoDebug {
		c.deps.Notifier.Initialized()
		return nil
	}

	bridge, err := c.dialWithRetry(ctx)
	if err != nil {
		c.Terminate(fmt.Sprintf("connecting to debuggee: %v", err), TerminateOptions{})
		return err
	}
	c.adoptBridge(bridge)
	c.beginEntryWait(c.timeout(args.Timeout), false)
	return nil
}

// Attach connects to an already-running debuggee.
func (c *Controller) Attach(ctx context.Context, args *config.AttachArgs) error {
	c.mode = ModeAttach
	c.attach = args
	c.restartMode = args.Restart != nil
	c.port = args.Port
	if c.port == 0 && args.Restart != nil {
		c.port = args.Restart.Port
	}
	if c.port == 0 {
		// A restart descriptor persisted by the previous session run.
		if st, err := loadRestartState(""); err == nil && st != nil {
			c.port = st.Port
		}
	}
	if c.port == 0 {
		c.port = defaultInspectorPort
	}
	c.continueAfterConfigDone = !args.StopOnEntry
	c.log = c.log.With("mode", c.mode.String())

	bridge, err := c.deps.Dial(ctx, c.port)
	if err != nil {
		return err
	}
	c.adoptBridge(bridge)
	c.beginEntryWait(c.timeout(args.Timeout), true)
	return nil
}

func (c *Controller) timeout(ms int) time.Duration {
	if ms > 0 {
		return time.Duration(ms) * time.Millisecond
	}
	return c.deps.DefaultTimeout
}

// dialWithRetry polls the inspector endpoint until the freshly spawned
// runtime starts accepting connections.
func (c *Controller) dialWithRetry(ctx context.Context) (protocol.Bridge, error) {
	var lastErr error
	for i := 0; i < 50; i++ {
		bridge, err := c.deps.Dial(ctx, c.port)
		if err == nil {
			return bridge, nil
		}
		lastErr = err
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-c.deps.Clock.After(c.deps.PollInterval):
		}
	}
	return nil, lastErr
}

func (c *Controller) adoptBridge(bridge protocol.Bridge) {
	c.bridge = bridge
	c.waitingForEntryPause = true

	seedExec := c.runtime
	seedTimeout := 0
	seedType := "revdbg"
	if c.launch != nil {
		if c.launch.RuntimeExecutable != "" {
			seedExec = c.launch.RuntimeExecutable
		}
		seedTimeout = c.launch.Timeout
	}
	c.capture = trace.NewController(bridge, trace.Seed{
		Type:              seedType,
		RuntimeExecutable: seedExec,
		Timeout:           seedTimeout,
	}, c.log)

	if bridge.TimeTravelCapable() {
		c.deps.Notifier.TimeTravelAvailable()
	}

	go func() {
		for ev := range bridge.Events() {
			ev := ev
			c.deps.Post(func() { c.HandleEvent(ev) })
		}
	}()
	go func() {
		for st := range c.capture.Status() {
			st := st
			c.deps.Post(func() { c.deps.Notifier.CaptureStatus(st) })
		}
	}()
}

func (c *Controller) beginEntryWait(timeout time.Duration, attachMode bool) {
	go func() {
		outcome := c.entry.Await(c.sessionCtx, timeout, attachMode)
		c.deps.Post(func() { c.finishEntryWait(outcome) })
	}()
}

// finishEntryWait handles the wait outcome on the dispatch goroutine. The
// captured case was already handled by handlePaused; a timed-out wait
// fabricates "already paused" behavior so the session cannot hang. The wait
// goroutine can lose the dispatch race to the first pause event, so a
// timed-out outcome is stale unless the session is still waiting.
func (c *Controller) finishEntryWait(outcome entrypause.Outcome) {
	if c.terminated || outcome != entrypause.TimedOut || !c.waitingForEntryPause {
		return
	}
	c.waitingForEntryPause = false
	c.continueAfterConfigDone = false
	c.log.Debugw("no entry pause observed, proceeding as if paused")
	c.deps.Notifier.Initialized()
}

func (c *Controller) pumpProcess(h *supervisor.Handle) {
	go func() {
		for line := range h.Stdout() {
			line := line
			c.deps.Post(func() { c.handleStdout(line) })
		}
	}()
	go func() {
		for line := range h.Stderr() {
			line := line
			c.deps.Post(func() { c.handleStderr(line) })
		}
	}()
	go func() {
		ev := <-h.Done()
		c.deps.Post(func() { c.HandleExit(ev) })
	}()
}

// handleStdout forwards stdout only in no-debug or raw-capture mode; it is
// drained regardless so the child never blocks on a full pipe.
func (c *Controller) handleStdout(line string) {
	if c.terminated {
		return
	}
	if c.launch != nil && (c.launch.NoDebug || c.launch.CaptureStd()) {
		c.deps.Notifier.Output("stdout", line)
	}
}

func (c *Controller) handleStderr(line string) {
	if c.terminated {
		return
	}
	c.deps.Notifier.Output("stderr", line)
}

// HandleEvent processes one protocol notification.
func (c *Controller) HandleEvent(ev protocol.Event) {
	if c.terminated {
		return
	}
	switch e := ev.(type) {
	case protocol.Paused:
		c.handlePaused(e.Pause)
	case protocol.ContextDestroyed:
		c.Terminate("execution context destroyed", TerminateOptions{})
	case protocol.ConsoleMessage:
		c.deps.Notifier.Output("console", e.Text)
		c.identifyRuntime()
	}
}

// handlePaused captures the first pause as the session's entry pause; later
// pauses go through ordinary stop handling.
func (c *Controller) handlePaused(pause protocol.PauseEvent) {
	if c.waitingForEntryPause && c.entryPause == nil {
		c.entryPause = &pause
		c.waitingForEntryPause = false
		c.entry.MarkCaptured()

		if c.mode == ModeAttach {
			c.continueAfterConfigDone = false
		} else if c.launch != nil && c.launch.StopOnEntry {
			c.continueAfterConfigDone = false
		}
		c.stopReason = ReasonEntry
		c.log.Debugw("entry pause captured", "reason", pause.Reason)
		c.deps.Notifier.Initialized()
		c.identifyRuntime()
		return
	}

	reason := pause.Reason
	if reason == "" || reason == "other" {
		reason = ReasonPause
	}
	c.deps.Notifier.Stopped(reason)
	c.identifyRuntime()
}

// identifyRuntime establishes the debuggee's pid and runtime identity via an
// evaluate round trip. Failures are expected while the execution context is
// still initializing; they are logged and retried on a later event.
func (c *Controller) identifyRuntime() {
	if c.runtimeIdentified || c.bridge == nil {
		return
	}
	value, err := c.bridge.Evaluate(c.sessionCtx, "process.pid")
	if err != nil {
		c.log.Debugw("runtime identification deferred", "err", err)
		return
	}
	pid, err := strconv.Atoi(value)
	if err != nil {
		c.log.Debugw("unexpected process.pid value", "value", value)
		return
	}
	if c.processID == 0 {
		c.processID = pid
	}
	c.runtimeIdentified = true
	c.startLiveness()
}

// ConfigurationDone is acted on once per session: either resume execution or
// surface the held entry pause as the current stop.
func (c *Controller) ConfigurationDone(ctx context.Context) error {
	if c.finishedConfig || c.terminated {
		return nil
	}
	c.finishedConfig = true

	if c.continueAfterConfigDone {
		if c.bridge != nil {
			if err := c.bridge.Resume(ctx); err != nil {
				c.log.Warnw("resume after configuration failed", "err", err)
			}
		}
		return nil
	}
	if c.entryPause != nil {
		reason := c.stopReason
		if reason == "" {
			reason = ReasonEntry
		}
		c.deps.Notifier.Stopped(reason)
	}
	return nil
}

// Continue resumes execution after an ordinary pause.
func (c *Controller) Continue(ctx context.Context) {
	if c.terminated || c.bridge == nil {
		return
	}
	if err := c.bridge.Resume(ctx); err != nil {
		c.log.Warnw("resume failed", "err", err)
	}
}

// SetBreakpoints applies breakpoints for one script and reconciles them
// against the captured entry pause: a verified breakpoint on the entry
// location forces a stop even without stop-on-entry.
func (c *Controller) SetBreakpoints(ctx context.Context, url string, lines []int, columns []int) ([]breakpoint.Result, error) {
	if c.bridge == nil {
		return nil, fmt.Errorf("no debug connection")
	}
	results := make([]breakpoint.Result, 0, len(lines))
	for i, line := range lines {
		column := 0
		if i < len(columns) {
			column = columns[i]
		}
		loc, err := c.bridge.SetBreakpoint(ctx, url, line, column)
		if err != nil {
			c.log.Debugw("breakpoint rejected", "url", url, "line", line, "err", err)
			results = append(results, breakpoint.Result{URL: url, Line: line})
			continue
		}
		results = append(results, breakpoint.Result{
			Verified: true,
			ScriptID: loc.ScriptID,
			URL:      loc.URL,
			Line:     loc.Line,
			Column:   loc.Column,
		})
	}

	if c.entryPause != nil && breakpoint.ForceEntryStop(results, c.entryPause, c.finishedConfig) {
		c.continueAfterConfigDone = false
		c.stopReason = ReasonBreakpoint
		c.log.Debugw("breakpoint at entry location, forcing stop")
	}
	return results, nil
}

// StepBack steps backwards, or in live mode runs the trace-capture protocol
// instead. Failures of the direct call are swallowed; capture failures
// resolve through the status event channel.
func (c *Controller) StepBack(ctx context.Context) {
	c.reverseOp(ctx, func() error { return c.bridge.StepBack(ctx) })
}

// ReverseContinue continues backwards, with the same live-mode behavior as
// StepBack.
func (c *Controller) ReverseContinue(ctx context.Context) {
	c.reverseOp(ctx, func() error { return c.bridge.Reverse(ctx) })
}

func (c *Controller) reverseOp(ctx context.Context, direct func() error) {
	if c.terminated || c.bridge == nil {
		return
	}
	if c.liveMode() {
		dir := trace.DirFor(c.program)
		go c.capture.Capture(ctx, dir)
		return
	}
	if err := direct(); err != nil {
		c.log.Debugw("reverse operation failed", "err", err)
	}
}

// liveMode reports whether the session is tracing live rather than replaying.
func (c *Controller) liveMode() bool {
	if c.capture == nil || c.launch == nil {
		return false
	}
	return trace.LiveMode(c.launch.RuntimeExecutable, c.launch.RuntimeArgs)
}

// HandleExit reacts to the debuggee's terminal lifecycle event.
func (c *Controller) HandleExit(ev supervisor.ExitEvent) {
	if c.terminated {
		return
	}
	switch ev.Kind {
	case supervisor.Exited:
		c.deps.Notifier.Exited(ev.Code)
		c.Terminate(fmt.Sprintf("process exited with code %d", ev.Code), TerminateOptions{})
	case supervisor.Errored:
		c.Terminate(fmt.Sprintf("process errored: %v", ev.Err), TerminateOptions{})
	default:
		c.Terminate("process closed", TerminateOptions{})
	}
}

func (c *Controller) startLiveness() {
	if c.livenessStop != nil || c.deps.LivenessInterval <= 0 {
		return
	}
	stop := make(chan struct{})
	c.livenessStop = stop
	pid := c.processID
	ticker := c.deps.Clock.Ticker(c.deps.LivenessInterval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				if !supervisor.Alive(pid) {
					c.deps.Post(func() { c.Terminate("process died", TerminateOptions{}) })
					return
				}
			}
		}
	}()
}

func (c *Controller) stopLiveness() {
	if c.livenessStop != nil {
		close(c.livenessStop)
		c.livenessStop = nil
	}
}

// Terminate drives orderly session teardown: timers stopped, process tree
// killed unless a restart should keep it alive, restart descriptor emitted
// when restart mode is active. Idempotent.
func (c *Controller) Terminate(reason string, opts TerminateOptions) {
	if c.terminated {
		return
	}
	c.terminated = true
	c.log.Infow("session terminating", "reason", reason)

	c.entry.MarkTerminated()
	c.stopLiveness()
	c.cancel()

	keepProcess := opts.HostRestart || (c.restartMode && !opts.Disconnect)
	if c.handle != nil && !keepProcess {
		supervisor.KillTree(c.handle.PID(), c.log)
	}
	if c.bridge != nil {
		if err := c.bridge.Close(); err != nil {
			c.log.Debugw("closing bridge", "err", err)
		}
	}

	if c.restartMode && !opts.Disconnect {
		if err := saveRestartState(c.id, c.port); err != nil {
			c.log.Debugw("persisting restart state", "err", err)
		}
		c.deps.Notifier.Terminated(map[string]interface{}{"port": c.port})
		return
	}
	c.deps.Notifier.Terminated(nil)
}
