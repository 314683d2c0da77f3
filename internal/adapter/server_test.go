package adapter

import (
	"bufio"
	"context"
	"io"
	"net"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/google/go-dap"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"
	"go.uber.org/zap"

	"github.com/vburojevic/revdbg/internal/config"
	"github.com/vburojevic/revdbg/internal/trace"
)

type wireClient struct {
	conn   net.Conn
	reader *bufio.Reader
	seq    int
}

func startServer(t *testing.T) (*wireClient, *Server) {
	t.Helper()
	serverConn, clientConn := net.Pipe()
	srv := New(serverConn, config.Default(), zap.NewNop().Sugar())

	ctx, cancel := context.WithCancel(context.Background())
	go srv.Serve(ctx)
	t.Cleanup(func() {
		cancel()
		clientConn.Close()
	})

	clientConn.SetDeadline(time.Now().Add(5 * time.Second))
	return &wireClient{conn: clientConn, reader: bufio.NewReader(clientConn)}, srv
}

func (c *wireClient) request(t *testing.T, command string) dap.Request {
	t.Helper()
	c.seq++
	return dap.Request{
		ProtocolMessage: dap.ProtocolMessage{Seq: c.seq, Type: "request"},
		Command:         command,
	}
}

func (c *wireClient) send(t *testing.T, msg dap.Message) {
	t.Helper()
	require.NoError(t, dap.WriteProtocolMessage(c.conn, msg))
}

func (c *wireClient) read(t *testing.T) dap.Message {
	t.Helper()
	msg, err := dap.ReadProtocolMessage(c.reader)
	require.NoError(t, err)
	return msg
}

// readRaw reads one framed message without the typed decoder, for events the
// decoder does not know about.
func (c *wireClient) readRaw(t *testing.T) gjson.Result {
	t.Helper()
	line, err := c.reader.ReadString('\n')
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(line, "Content-Length: "))
	n, err := strconv.Atoi(strings.TrimSpace(strings.TrimPrefix(line, "Content-Length: ")))
	require.NoError(t, err)
	blank, err := c.reader.ReadString('\n')
	require.NoError(t, err)
	require.Equal(t, "\r\n", blank)

	body := make([]byte, n)
	_, err = io.ReadFull(c.reader, body)
	require.NoError(t, err)
	return gjson.ParseBytes(body)
}

func TestInitialize(t *testing.T) {
	client, _ := startServer(t)

	client.send(t, &dap.InitializeRequest{Request: client.request(t, "initialize")})
	msg := client.read(t)

	resp, ok := msg.(*dap.InitializeResponse)
	require.True(t, ok)
	assert.True(t, resp.Success)
	assert.Equal(t, 1, resp.RequestSeq)
	assert.True(t, resp.Body.SupportsConfigurationDoneRequest)
	assert.False(t, resp.Body.SupportsStepBack, "step-back is announced later via a capabilities event")
}

func TestThreads(t *testing.T) {
	client, _ := startServer(t)

	client.send(t, &dap.ThreadsRequest{Request: client.request(t, "threads")})
	resp, ok := client.read(t).(*dap.ThreadsResponse)
	require.True(t, ok)
	require.Len(t, resp.Body.Threads, 1)
	assert.Equal(t, 1, resp.Body.Threads[0].Id)
	assert.Equal(t, "main", resp.Body.Threads[0].Name)
}

func TestUnsupportedRequest(t *testing.T) {
	client, _ := startServer(t)

	client.send(t, &dap.SourceRequest{Request: client.request(t, "source")})
	resp, ok := client.read(t).(*dap.ErrorResponse)
	require.True(t, ok)
	assert.False(t, resp.Success)
	require.NotNil(t, resp.Body.Error)
	assert.Equal(t, 1000, resp.Body.Error.Id)
	assert.Contains(t, resp.Body.Error.Format, "source")
}

func TestSetBreakpointsWithoutSession(t *testing.T) {
	client, _ := startServer(t)

	req := &dap.SetBreakpointsRequest{Request: client.request(t, "setBreakpoints")}
	req.Arguments.Source = dap.Source{Path: "/srv/app.js"}
	req.Arguments.Breakpoints = []dap.SourceBreakpoint{{Line: 3}}
	client.send(t, req)

	resp, ok := client.read(t).(*dap.ErrorResponse)
	require.True(t, ok)
	require.NotNil(t, resp.Body.Error)
	assert.Equal(t, 1005, resp.Body.Error.Id)
}

func TestMalformedLaunchArguments(t *testing.T) {
	client, _ := startServer(t)

	req := &dap.LaunchRequest{Request: client.request(t, "launch")}
	req.Arguments = []byte(`{"program": 42}`)
	client.send(t, req)

	resp, ok := client.read(t).(*dap.ErrorResponse)
	require.True(t, ok)
	require.NotNil(t, resp.Body.Error)
	assert.Equal(t, 1002, resp.Body.Error.Id)
}

func TestDisconnect(t *testing.T) {
	client, _ := startServer(t)

	client.send(t, &dap.DisconnectRequest{Request: client.request(t, "disconnect")})
	resp, ok := client.read(t).(*dap.DisconnectResponse)
	require.True(t, ok)
	assert.True(t, resp.Success)
}

func TestEventEncoding(t *testing.T) {
	t.Run("capture status event", func(t *testing.T) {
		client, srv := startServer(t)

		go srv.CaptureStatus(trace.Status{State: trace.StateFail, ID: 2, Payload: "trace directory not writable"})
		ev := client.readRaw(t)

		assert.Equal(t, "event", ev.Get("type").String())
		assert.Equal(t, "ttdCapture", ev.Get("event").String())
		assert.Equal(t, "fail", ev.Get("body.state").String())
		assert.Equal(t, int64(2), ev.Get("body.id").Int())
		assert.Equal(t, "trace directory not writable", ev.Get("body.payload").String())
	})

	t.Run("capabilities upgrade event", func(t *testing.T) {
		client, srv := startServer(t)

		go srv.TimeTravelAvailable()
		ev := client.readRaw(t)

		assert.Equal(t, "capabilities", ev.Get("event").String())
		assert.True(t, ev.Get("body.capabilities.supportsStepBack").Bool())
	})

	t.Run("terminated event carries the restart descriptor", func(t *testing.T) {
		client, srv := startServer(t)

		go srv.Terminated(map[string]interface{}{"port": 9230})
		ev := client.readRaw(t)

		assert.Equal(t, "terminated", ev.Get("event").String())
		assert.Equal(t, int64(9230), ev.Get("body.restart.port").Int())
	})

	t.Run("stopped event", func(t *testing.T) {
		client, srv := startServer(t)

		go srv.Stopped("breakpoint")
		ev := client.readRaw(t)

		assert.Equal(t, "stopped", ev.Get("event").String())
		assert.Equal(t, "breakpoint", ev.Get("body.reason").String())
		assert.Equal(t, int64(1), ev.Get("body.threadId").Int())
		assert.True(t, ev.Get("body.allThreadsStopped").Bool())
	})

	t.Run("output event appends a newline", func(t *testing.T) {
		client, srv := startServer(t)

		go srv.Output("stderr", "boom")
		ev := client.readRaw(t)

		assert.Equal(t, "output", ev.Get("event").String())
		assert.Equal(t, "stderr", ev.Get("body.category").String())
		assert.Equal(t, "boom\n", ev.Get("body.output").String())
	})
}
