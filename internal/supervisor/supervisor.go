// Package supervisor spawns and controls debuggee processes. It relies on
// process groups and signals, so it is Unix-only.
package supervisor

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sort"
	"strings"
	"syscall"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Spec describes a debuggee process to spawn.
type Spec struct {
	Executable string
	Args       []string
	// Env is an overlay applied on top of the ambient environment. A nil
	// value unsets the inherited variable.
	Env map[string]*string
	Dir string
	// FilterNoise enables the startup stderr noise filter. It should be off
	// in no-debug mode and raw std-capture mode.
	FilterNoise bool
}

// ExitKind classifies how the process went away.
type ExitKind int

const (
	Exited ExitKind = iota
	Errored
	Closed
)

func (k ExitKind) String() string {
	switch k {
	case Exited:
		return "exited"
	case Errored:
		return "errored"
	default:
		return "closed"
	}
}

// ExitEvent is the terminal lifecycle event of a spawned process.
type ExitEvent struct {
	Kind ExitKind
	Code int
	Err  error
}

// Handle exposes a spawned process: its pid, line-oriented output channels
// and a terminal lifecycle event. The output channels close when the
// corresponding pipe drains; Done delivers exactly one event.
type Handle struct {
	pid    int
	stdout chan string
	stderr chan string
	done   chan ExitEvent
	filter *NoiseFilter
}

// NewHandle assembles a Handle around pre-built channels. Spawn uses it
// internally; tests use it to fabricate debuggee processes.
func NewHandle(pid int, stdout, stderr chan string, done chan ExitEvent, filter *NoiseFilter) *Handle {
	if filter == nil {
		filter = NewNoiseFilter(false)
	}
	return &Handle{pid: pid, stdout: stdout, stderr: stderr, done: done, filter: filter}
}

func (h *Handle) PID() int                { return h.pid }
func (h *Handle) Stdout() <-chan string   { return h.stdout }
func (h *Handle) Stderr() <-chan string   { return h.stderr }
func (h *Handle) Done() <-chan ExitEvent  { return h.done }
func (h *Handle) Noise() *NoiseFilter     { return h.filter }

// Spawn starts the debuggee and wires its output pumps. Stdout is always
// drained even when nobody forwards it; some platforms block the child on a
// full pipe otherwise.
func Spawn(ctx context.Context, spec Spec, log *zap.SugaredLogger) (*Handle, error) {
	cmd := exec.Command(spec.Executable, spec.Args...)
	cmd.Dir = spec.Dir
	cmd.Env = MergeEnv(os.Environ(), spec.Env)
	setProcessGroup(cmd)

	stdoutPipe, err := cmd.StdoutPipe()
	if err != nil {
		return nil, err
	}
	stderrPipe, err := cmd.StderrPipe()
	if err != nil {
		return nil, err
	}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("spawning %s: %w", spec.Executable, err)
	}

	h := NewHandle(cmd.Process.Pid,
		make(chan string, 256), make(chan string, 256),
		make(chan ExitEvent, 1),
		NewNoiseFilter(spec.FilterNoise))
	log.Debugw("debuggee spawned", "pid", h.pid, "executable", spec.Executable)

	var g errgroup.Group
	g.Go(func() error {
		pump(stdoutPipe, h.stdout, nil)
		return nil
	})
	g.Go(func() error {
		pump(stderrPipe, h.stderr, h.filter)
		return nil
	})

	go func() {
		g.Wait()
		err := cmd.Wait()
		switch {
		case err == nil:
			h.done <- ExitEvent{Kind: Exited, Code: 0}
		case ctx.Err() != nil:
			h.done <- ExitEvent{Kind: Closed, Err: ctx.Err()}
		default:
			if ee, ok := err.(*exec.ExitError); ok {
				h.done <- ExitEvent{Kind: Exited, Code: ee.ExitCode()}
			} else {
				h.done <- ExitEvent{Kind: Errored, Err: err}
			}
		}
	}()

	return h, nil
}

// pump copies lines from r into out, dropping lines the filter suppresses.
func pump(r io.Reader, out chan string, filter *NoiseFilter) {
	defer close(out)
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		if filter != nil && !filter.Forward(line) {
			continue
		}
		out <- line
	}
}

// MergeEnv overlays env onto base. Keys mapped to nil are removed from the
// result, which is how a launch request unsets inherited variables.
func MergeEnv(base []string, overlay map[string]*string) []string {
	merged := make(map[string]string, len(base))
	for _, kv := range base {
		if i := strings.IndexByte(kv, '='); i > 0 {
			merged[kv[:i]] = kv[i+1:]
		}
	}
	for k, v := range overlay {
		if v == nil {
			delete(merged, k)
			continue
		}
		merged[k] = *v
	}
	out := make([]string, 0, len(merged))
	for k, v := range merged {
		out = append(out, k+"="+v)
	}
	sort.Strings(out)
	return out
}

// KillTree terminates the process group rooted at pid. The reserved init pid
// and non-positive pids are never killed.
func KillTree(pid int, log *zap.SugaredLogger) {
	if pid <= 1 {
		log.Warnw("refusing to kill reserved pid", "pid", pid)
		return
	}
	if err := syscall.Kill(-pid, syscall.SIGKILL); err != nil {
		// No group; fall back to the single process.
		if err := syscall.Kill(pid, syscall.SIGKILL); err != nil {
			log.Debugw("kill failed", "pid", pid, "err", err)
		}
	}
}

// Alive probes whether pid still exists.
func Alive(pid int) bool {
	if pid <= 0 {
		return false
	}
	return syscall.Kill(pid, 0) == nil
}

func setProcessGroup(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
}
