package protocol

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/tidwall/gjson"
	"go.uber.org/zap"
)

// Inspector is a Bridge over a V8-inspector websocket endpoint.
type Inspector struct {
	conn *websocket.Conn
	log  *zap.SugaredLogger

	mu      sync.Mutex
	nextID  int64
	pending map[int64]chan callResult
	closed  bool

	events chan Event
	ttd    bool

	done chan struct{}
}

type callResult struct {
	result gjson.Result
	err    error
}

type inspectorRequest struct {
	ID     int64       `json:"id"`
	Method string      `json:"method"`
	Params interface{} `json:"params,omitempty"`
}

// Dial discovers the websocket debugger URL on 127.0.0.1:port and connects.
// The returned Inspector has the Debugger and Runtime domains enabled and has
// probed for the time-travel domain.
func Dial(ctx context.Context, port int, log *zap.SugaredLogger) (*Inspector, error) {
	wsURL, err := discoverTarget(ctx, port)
	if err != nil {
		return nil, err
	}

	conn, _, err := websocket.Dial(ctx, wsURL, nil)
	if err != nil {
		return nil, fmt.Errorf("connecting to inspector at %s: %w", wsURL, err)
	}
	conn.SetReadLimit(16 << 20)

	i := &Inspector{
		conn:    conn,
		log:     log,
		pending: make(map[int64]chan callResult),
		events:  make(chan Event, 64),
		done:    make(chan struct{}),
	}
	go i.readLoop()

	for _, method := range []string{"Debugger.enable", "Runtime.enable", "Runtime.runIfWaitingForDebugger"} {
		if _, err := i.call(ctx, method, nil); err != nil {
			i.Close()
			return nil, fmt.Errorf("%s: %w", method, err)
		}
	}

	// Probe time travel. A method-not-found error just means a regular runtime.
	if _, err := i.call(ctx, "TimeTravel.enable", nil); err == nil {
		i.ttd = true
	} else {
		log.Debugw("time-travel domain unavailable", "err", err)
	}

	return i, nil
}

// discoverTarget asks the runtime's HTTP endpoint for its debuggable targets
// and picks the first one that advertises a websocket URL.
func discoverTarget(ctx context.Context, port int) (string, error) {
	url := fmt.Sprintf("http://127.0.0.1:%d/json/list", port)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("querying inspector targets: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", err
	}
	ws := gjson.GetBytes(body, `#(webSocketDebuggerUrl!="").webSocketDebuggerUrl`)
	if !ws.Exists() {
		return "", fmt.Errorf("no debuggable target on port %d", port)
	}
	return ws.String(), nil
}

func (i *Inspector) readLoop() {
	defer close(i.events)
	defer close(i.done)
	for {
		_, data, err := i.conn.Read(context.Background())
		if err != nil {
			i.failPending(err)
			return
		}
		i.dispatch(data)
	}
}

// dispatch routes one raw inspector message: responses by id, notifications
// by method.
func (i *Inspector) dispatch(data []byte) {
	if id := gjson.GetBytes(data, "id"); id.Exists() {
		i.mu.Lock()
		ch, ok := i.pending[id.Int()]
		delete(i.pending, id.Int())
		i.mu.Unlock()
		if !ok {
			return
		}
		if errMsg := gjson.GetBytes(data, "error.message"); errMsg.Exists() {
			ch <- callResult{err: errors.New(errMsg.String())}
			return
		}
		ch <- callResult{result: gjson.GetBytes(data, "result")}
		return
	}

	method := gjson.GetBytes(data, "method").String()
	params := gjson.GetBytes(data, "params")
	switch method {
	case "Debugger.paused":
		i.emit(Paused{Pause: decodePaused(params)})
	case "Runtime.executionContextDestroyed":
		i.emit(ContextDestroyed{ContextID: int(params.Get("executionContextId").Int())})
	case "Runtime.consoleAPICalled":
		i.emit(ConsoleMessage{
			Level: params.Get("type").String(),
			Text:  params.Get("args.0.value").String(),
		})
	default:
		// Unhandled notification; nothing the session reacts to.
	}
}

func decodePaused(params gjson.Result) PauseEvent {
	ev := PauseEvent{Reason: params.Get("reason").String()}
	for _, f := range params.Get("callFrames").Array() {
		ev.Frames = append(ev.Frames, Frame{
			ScriptID: f.Get("location.scriptId").String(),
			URL:      f.Get("url").String(),
			Function: f.Get("functionName").String(),
			Line:     int(f.Get("location.lineNumber").Int()),
			Column:   int(f.Get("location.columnNumber").Int()),
		})
	}
	return ev
}

func (i *Inspector) emit(ev Event) {
	select {
	case i.events <- ev:
	default:
		i.log.Warnw("dropping inspector event, consumer too slow", "event", fmt.Sprintf("%T", ev))
	}
}

func (i *Inspector) failPending(err error) {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.closed = true
	for id, ch := range i.pending {
		ch <- callResult{err: err}
		delete(i.pending, id)
	}
}

func (i *Inspector) call(ctx context.Context, method string, params interface{}) (gjson.Result, error) {
	i.mu.Lock()
	if i.closed {
		i.mu.Unlock()
		return gjson.Result{}, errors.New("inspector connection closed")
	}
	i.nextID++
	id := i.nextID
	ch := make(chan callResult, 1)
	i.pending[id] = ch
	i.mu.Unlock()

	payload, err := json.Marshal(inspectorRequest{ID: id, Method: method, Params: params})
	if err != nil {
		return gjson.Result{}, err
	}
	if err := i.conn.Write(ctx, websocket.MessageText, payload); err != nil {
		i.mu.Lock()
		delete(i.pending, id)
		i.mu.Unlock()
		return gjson.Result{}, err
	}

	select {
	case <-ctx.Done():
		i.mu.Lock()
		delete(i.pending, id)
		i.mu.Unlock()
		return gjson.Result{}, ctx.Err()
	case res := <-ch:
		return res.result, res.err
	}
}

// Evaluate runs an expression in the default execution context.
func (i *Inspector) Evaluate(ctx context.Context, expression string) (string, error) {
	res, err := i.call(ctx, "Runtime.evaluate", map[string]interface{}{
		"expression":    expression,
		"returnByValue": true,
	})
	if err != nil {
		return "", err
	}
	if desc := res.Get("exceptionDetails.text"); desc.Exists() {
		return "", errors.New(desc.String())
	}
	return res.Get("result.value").String(), nil
}

// SetBreakpoint places a breakpoint by script URL and returns the location
// the runtime resolved.
func (i *Inspector) SetBreakpoint(ctx context.Context, url string, line, column int) (Location, error) {
	res, err := i.call(ctx, "Debugger.setBreakpointByUrl", map[string]interface{}{
		"url":          url,
		"lineNumber":   line,
		"columnNumber": column,
	})
	if err != nil {
		return Location{}, err
	}
	loc := res.Get("locations.0")
	if !loc.Exists() {
		// Not yet resolved; the runtime will bind it when the script loads.
		return Location{URL: url, Line: line, Column: column}, nil
	}
	return Location{
		ScriptID: loc.Get("scriptId").String(),
		URL:      url,
		Line:     int(loc.Get("lineNumber").Int()),
		Column:   int(loc.Get("columnNumber").Int()),
	}, nil
}

// Resume continues execution.
func (i *Inspector) Resume(ctx context.Context) error {
	_, err := i.call(ctx, "Debugger.resume", nil)
	return err
}

// StepBack steps a single statement backwards.
func (i *Inspector) StepBack(ctx context.Context) error {
	_, err := i.call(ctx, "TimeTravel.stepBack", nil)
	return err
}

// Reverse continues backwards until a breakpoint or the trace start.
func (i *Inspector) Reverse(ctx context.Context) error {
	_, err := i.call(ctx, "TimeTravel.reverse", nil)
	return err
}

// WriteLog flushes the in-memory execution trace into dir.
func (i *Inspector) WriteLog(ctx context.Context, dir string) error {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	_, err := i.call(ctx, "TimeTravel.writeLog", map[string]interface{}{"uri": dir})
	return err
}

// TimeTravelCapable reports whether the runtime accepted TimeTravel.enable.
func (i *Inspector) TimeTravelCapable() bool { return i.ttd }

// Events delivers runtime notifications.
func (i *Inspector) Events() <-chan Event { return i.events }

// Close tears down the websocket connection and fails in-flight calls.
func (i *Inspector) Close() error {
	err := i.conn.Close(websocket.StatusNormalClosure, "session terminated")
	select {
	case <-i.done:
	case <-time.After(time.Second):
	}
	return err
}
