package trace

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// fakeWriter stands in for the protocol bridge's trace-flush call.
type fakeWriter struct {
	err     error
	noIndex bool
	block   chan struct{}
	calls   int
}

func (w *fakeWriter) WriteLog(ctx context.Context, dir string) error {
	w.calls++
	if w.block != nil {
		<-w.block
	}
	if w.err != nil {
		return w.err
	}
	if !w.noIndex {
		if err := os.WriteFile(filepath.Join(dir, IndexFile), []byte("{}"), 0o644); err != nil {
			return err
		}
	}
	return nil
}

func testSeed() Seed {
	return Seed{Type: "revdbg", RuntimeExecutable: "/usr/bin/node-ttd", Timeout: 5000}
}

func drainStatuses(c *Controller) []Status {
	var out []Status
	for {
		select {
		case s := <-c.Status():
			out = append(out, s)
		default:
			return out
		}
	}
}

func TestCapture(t *testing.T) {
	t.Run("successful capture walks start, write, complete", func(t *testing.T) {
		c := NewController(&fakeWriter{}, testSeed(), zap.NewNop().Sugar())
		dir := filepath.Join(t.TempDir(), "trace")

		outcome := c.Capture(context.Background(), dir)
		require.True(t, outcome.Launch)
		require.NotNil(t, outcome.Config)
		assert.Equal(t, "revdbg", outcome.Config.Type)
		assert.Equal(t, "launch", outcome.Config.Request)
		assert.Equal(t, "inspector", outcome.Config.Protocol)
		assert.True(t, outcome.Config.StopOnEntry)
		assert.Equal(t, "/usr/bin/node-ttd", outcome.Config.RuntimeExecutable)
		assert.Equal(t, []string{"--replay-debug=" + dir}, outcome.Config.RuntimeArgs)
		assert.Equal(t, "internalConsole", outcome.Config.Console)
		assert.Equal(t, 5000, outcome.Config.Timeout)

		statuses := drainStatuses(c)
		require.Len(t, statuses, 3)
		assert.Equal(t, StateStart, statuses[0].State)
		assert.Equal(t, StateWrite, statuses[1].State)
		assert.Equal(t, StateComplete, statuses[2].State)
		for _, s := range statuses {
			assert.Equal(t, 1, s.ID)
		}
		assert.Equal(t, outcome.Config, statuses[2].Payload)
	})

	t.Run("directory preparation failure emits exactly one start and one fail", func(t *testing.T) {
		c := NewController(&fakeWriter{}, testSeed(), zap.NewNop().Sugar())
		parent := t.TempDir()
		occupied := filepath.Join(parent, "file")
		require.NoError(t, os.WriteFile(occupied, []byte("x"), 0o644))
		badDir := filepath.Join(occupied, "trace")

		outcome := c.Capture(context.Background(), badDir)
		assert.False(t, outcome.Launch)
		assert.Nil(t, outcome.Config)

		statuses := drainStatuses(c)
		require.Len(t, statuses, 2)
		assert.Equal(t, StateStart, statuses[0].State)
		assert.Equal(t, StateFail, statuses[1].State)
		// The failure payload names the directory so the user can act on it.
		assert.Contains(t, statuses[1].Payload.(string), badDir)

		// The request settled; a retry against a good directory succeeds.
		good := filepath.Join(parent, "trace")
		retry := c.Capture(context.Background(), good)
		assert.True(t, retry.Launch)
		retryStatuses := drainStatuses(c)
		require.Len(t, retryStatuses, 3)
		assert.Equal(t, 2, retryStatuses[0].ID)
	})

	t.Run("write failure fails the capture", func(t *testing.T) {
		c := NewController(&fakeWriter{err: errors.New("runtime busy")}, testSeed(), zap.NewNop().Sugar())
		outcome := c.Capture(context.Background(), filepath.Join(t.TempDir(), "trace"))
		assert.False(t, outcome.Launch)

		statuses := drainStatuses(c)
		require.Len(t, statuses, 3)
		assert.Equal(t, StateFail, statuses[2].State)
		assert.Contains(t, statuses[2].Payload.(string), "runtime busy")
	})

	t.Run("missing index after write fails the capture", func(t *testing.T) {
		c := NewController(&fakeWriter{noIndex: true}, testSeed(), zap.NewNop().Sugar())
		dir := filepath.Join(t.TempDir(), "trace")
		outcome := c.Capture(context.Background(), dir)
		assert.False(t, outcome.Launch)

		statuses := drainStatuses(c)
		require.Len(t, statuses, 3)
		assert.Equal(t, StateFail, statuses[2].State)
		assert.Contains(t, statuses[2].Payload.(string), IndexFile)

		// The failure cleared the pending flag; the next request proceeds.
		c2 := c.Capture(context.Background(), dir)
		assert.False(t, c2.Launch)
		assert.NotEmpty(t, drainStatuses(c))
	})

	t.Run("concurrent request is refused without a new id", func(t *testing.T) {
		w := &fakeWriter{block: make(chan struct{})}
		c := NewController(w, testSeed(), zap.NewNop().Sugar())
		dir := filepath.Join(t.TempDir(), "trace")

		first := make(chan Outcome, 1)
		go func() { first <- c.Capture(context.Background(), dir) }()

		// Wait until the first request is inside the write phase.
		var seen []Status
		require.Eventually(t, func() bool {
			seen = append(seen, drainStatuses(c)...)
			return len(seen) >= 2
		}, time.Second, time.Millisecond)
		assert.Equal(t, StateWrite, seen[len(seen)-1].State)

		second := c.Capture(context.Background(), dir)
		assert.False(t, second.Launch)
		assert.Empty(t, drainStatuses(c), "refusal must not emit any status")

		close(w.block)
		outcome := <-first
		assert.True(t, outcome.Launch)
		assert.Equal(t, 1, w.calls)
	})
}

func TestLiveMode(t *testing.T) {
	cases := []struct {
		name string
		exec string
		args []string
		want bool
	}{
		{"recording with a runtime executable", "/usr/bin/node-ttd", []string{"--record"}, true},
		{"record flag with a value", "/usr/bin/node-ttd", []string{"--record=always"}, true},
		{"no runtime executable", "", []string{"--record"}, false},
		{"no record flag", "/usr/bin/node-ttd", []string{"--inspect"}, false},
		{"no runtime args at all", "/usr/bin/node-ttd", nil, false},
		{"pure replay session", "/usr/bin/node-ttd", []string{"--replay-debug=/tmp/trace"}, false},
		{"record mixed with replay still records", "/usr/bin/node-ttd", []string{"--record", "--replay-debug=/tmp/trace"}, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, LiveMode(tc.exec, tc.args))
		})
	}
}
