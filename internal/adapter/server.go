package adapter

import (
	"bufio"
	"context"
	"errors"
	"io"
	"sync"

	"github.com/google/go-dap"
	"go.uber.org/zap"

	"github.com/vburojevic/revdbg/internal/config"
	"github.com/vburojevic/revdbg/internal/protocol"
	"github.com/vburojevic/revdbg/internal/session"
	"github.com/vburojevic/revdbg/internal/supervisor"
)

// The debuggee presents a single thread to the client.
const mainThreadID = 1

// Server speaks DAP on one connection and drives a single debug session.
// All session logic runs on the dispatch goroutine inside Serve; incoming
// requests, process output, protocol events and capture status all arrive as
// closures on the loop channel.
type Server struct {
	log *zap.SugaredLogger
	cfg *config.Config

	conn   io.ReadWriteCloser
	reader *bufio.Reader

	writeMu sync.Mutex
	seq     int

	loop chan func()
	quit chan struct{}

	ctrl *session.Controller
}

// New wraps a client connection. cfg supplies poll/timeout pacing.
func New(conn io.ReadWriteCloser, cfg *config.Config, log *zap.SugaredLogger) *Server {
	return &Server{
		log:    log,
		cfg:    cfg,
		conn:   conn,
		reader: bufio.NewReader(conn),
		loop:   make(chan func(), 256),
		quit:   make(chan struct{}),
	}
}

// Serve runs the session until the client disconnects or the connection
// drops.
func (s *Server) Serve(ctx context.Context) error {
	go s.readRequests()

	for {
		select {
		case <-ctx.Done():
			s.shutdown("adapter shutting down")
			return ctx.Err()
		case <-s.quit:
			return nil
		case fn := <-s.loop:
			fn()
		}
	}
}

func (s *Server) readRequests() {
	for {
		msg, err := dap.ReadProtocolMessage(s.reader)
		if err != nil {
			s.post(func() {
				if !errors.Is(err, io.EOF) {
					s.log.Debugw("client connection lost", "err", err)
				}
				s.shutdown("client connection closed")
			})
			return
		}
		s.post(func() { s.dispatch(msg) })
	}
}

// post schedules fn onto the dispatch goroutine; dropped once the server has
// quit.
func (s *Server) post(fn func()) {
	select {
	case <-s.quit:
	case s.loop <- fn:
	}
}

func (s *Server) shutdown(reason string) {
	if s.ctrl != nil && !s.ctrl.Terminated() {
		s.ctrl.Terminate(reason, session.TerminateOptions{Disconnect: true})
	}
	s.conn.Close()
	select {
	case <-s.quit:
	default:
		close(s.quit)
	}
}

func (s *Server) dispatch(msg dap.Message) {
	ctx := context.Background()
	switch m := msg.(type) {
	case *dap.InitializeRequest:
		s.onInitialize(m)
	case *dap.LaunchRequest:
		s.onLaunch(ctx, m)
	case *dap.AttachRequest:
		s.onAttach(ctx, m)
	case *dap.SetBreakpointsRequest:
		s.onSetBreakpoints(ctx, m)
	case *dap.ConfigurationDoneRequest:
		s.onConfigurationDone(ctx, m)
	case *dap.ThreadsRequest:
		s.onThreads(m)
	case *dap.ContinueRequest:
		s.onContinue(ctx, m)
	case *dap.StepBackRequest:
		s.onStepBack(ctx, m)
	case *dap.ReverseContinueRequest:
		s.onReverseContinue(ctx, m)
	case *dap.DisconnectRequest:
		s.onDisconnect(m)
	case *dap.TerminateRequest:
		s.onTerminate(m)
	default:
		s.sendUnsupported(msg)
	}
}

func (s *Server) onInitialize(m *dap.InitializeRequest) {
	resp := &dap.InitializeResponse{Response: s.newResponse(m.Request)}
	resp.Body = dap.Capabilities{
		SupportsConfigurationDoneRequest: true,
		SupportsLogPoints:                true,
		// Step-back is announced through a capabilities event once the
		// protocol connection reports the time-travel domain.
		SupportsStepBack: false,
	}
	s.send(resp)
}

func (s *Server) newController() *session.Controller {
	return session.New(session.Deps{
		Log:      s.log,
		Clock:    sessionClock,
		Notifier: s,
		Post:     s.post,
		Dial: func(ctx context.Context, port int) (protocol.Bridge, error) {
			return protocol.Dial(ctx, port, s.log)
		},
		Spawn: func(ctx context.Context, spec supervisor.Spec) (*supervisor.Handle, error) {
			return supervisor.Spawn(ctx, spec, s.log)
		},
		PollInterval:     s.cfg.PollInterval,
		DefaultTimeout:   s.cfg.DefaultTimeout,
		LivenessInterval: s.cfg.LivenessInterval,
	})
}

func (s *Server) onLaunch(ctx context.Context, m *dap.LaunchRequest) {
	if s.ctrl != nil && !s.ctrl.Terminated() {
		s.sendError(m.Request, 1001, "a debug session is already active")
		return
	}
	args, err := config.DecodeLaunch(m.Arguments)
	if err != nil {
		s.sendError(m.Request, 1002, "malformed launch arguments: "+err.Error())
		return
	}
	s.ctrl = s.newController()
	if err := s.ctrl.Launch(ctx, args); err != nil {
		s.sendError(m.Request, 1003, err.Error())
		return
	}
	s.send(&dap.LaunchResponse{Response: s.newResponse(m.Request)})
}

func (s *Server) onAttach(ctx context.Context, m *dap.AttachRequest) {
	if s.ctrl != nil && !s.ctrl.Terminated() {
		s.sendError(m.Request, 1001, "a debug session is already active")
		return
	}
	args, err := config.DecodeAttach(m.Arguments)
	if err != nil {
		s.sendError(m.Request, 1002, "malformed attach arguments: "+err.Error())
		return
	}
	s.ctrl = s.newController()
	if err := s.ctrl.Attach(ctx, args); err != nil {
		s.sendError(m.Request, 1004, err.Error())
		return
	}
	s.send(&dap.AttachResponse{Response: s.newResponse(m.Request)})
}

func (s *Server) onSetBreakpoints(ctx context.Context, m *dap.SetBreakpointsRequest) {
	if s.ctrl == nil {
		s.sendError(m.Request, 1005, "no active debug session")
		return
	}
	// DAP is 1-based, the runtime protocol 0-based.
	lines := make([]int, len(m.Arguments.Breakpoints))
	columns := make([]int, len(m.Arguments.Breakpoints))
	for i, bp := range m.Arguments.Breakpoints {
		lines[i] = bp.Line - 1
		if bp.Column > 0 {
			columns[i] = bp.Column - 1
		}
	}

	results, err := s.ctrl.SetBreakpoints(ctx, m.Arguments.Source.Path, lines, columns)
	if err != nil {
		s.sendError(m.Request, 1006, err.Error())
		return
	}

	resp := &dap.SetBreakpointsResponse{Response: s.newResponse(m.Request)}
	resp.Body.Breakpoints = make([]dap.Breakpoint, len(results))
	for i, r := range results {
		resp.Body.Breakpoints[i] = dap.Breakpoint{
			Verified: r.Verified,
			Line:     r.Line + 1,
			Source:   &dap.Source{Path: m.Arguments.Source.Path},
		}
	}
	s.send(resp)
}

func (s *Server) onConfigurationDone(ctx context.Context, m *dap.ConfigurationDoneRequest) {
	if s.ctrl != nil {
		s.ctrl.ConfigurationDone(ctx)
	}
	s.send(&dap.ConfigurationDoneResponse{Response: s.newResponse(m.Request)})
}

func (s *Server) onThreads(m *dap.ThreadsRequest) {
	resp := &dap.ThreadsResponse{Response: s.newResponse(m.Request)}
	resp.Body.Threads = []dap.Thread{{Id: mainThreadID, Name: "main"}}
	s.send(resp)
}

func (s *Server) onContinue(ctx context.Context, m *dap.ContinueRequest) {
	if s.ctrl != nil {
		s.ctrl.Continue(ctx)
	}
	resp := &dap.ContinueResponse{Response: s.newResponse(m.Request)}
	resp.Body.AllThreadsContinued = true
	s.send(resp)
}

func (s *Server) onStepBack(ctx context.Context, m *dap.StepBackRequest) {
	if s.ctrl != nil {
		s.ctrl.StepBack(ctx)
	}
	s.send(&dap.StepBackResponse{Response: s.newResponse(m.Request)})
}

func (s *Server) onReverseContinue(ctx context.Context, m *dap.ReverseContinueRequest) {
	if s.ctrl != nil {
		s.ctrl.ReverseContinue(ctx)
	}
	s.send(&dap.ReverseContinueResponse{Response: s.newResponse(m.Request)})
}

func (s *Server) onDisconnect(m *dap.DisconnectRequest) {
	if s.ctrl != nil {
		s.ctrl.Terminate("client disconnected", session.TerminateOptions{
			Disconnect:  true,
			HostRestart: m.Arguments.Restart,
		})
	}
	s.send(&dap.DisconnectResponse{Response: s.newResponse(m.Request)})
	s.shutdown("client disconnected")
}

func (s *Server) onTerminate(m *dap.TerminateRequest) {
	if s.ctrl != nil {
		s.ctrl.Terminate("client requested termination", session.TerminateOptions{Disconnect: true})
	}
	s.send(&dap.TerminateResponse{Response: s.newResponse(m.Request)})
}

func (s *Server) sendUnsupported(msg dap.Message) {
	req, ok := msg.(dap.RequestMessage)
	if !ok {
		return
	}
	s.sendError(*req.GetRequest(), 1000, "unsupported request: "+req.GetRequest().Command)
}

// --- wire helpers ---

func (s *Server) nextSeq() int {
	s.seq++
	return s.seq
}

func (s *Server) newResponse(req dap.Request) dap.Response {
	return dap.Response{
		ProtocolMessage: dap.ProtocolMessage{Seq: s.nextSeq(), Type: "response"},
		Command:         req.Command,
		RequestSeq:      req.Seq,
		Success:         true,
	}
}

func (s *Server) newEvent(name string) dap.Event {
	return dap.Event{
		ProtocolMessage: dap.ProtocolMessage{Seq: s.nextSeq(), Type: "event"},
		Event:           name,
	}
}

func (s *Server) sendError(req dap.Request, id int, message string) {
	resp := &dap.ErrorResponse{Response: s.newResponse(req)}
	resp.Success = false
	resp.Message = message
	resp.Body.Error = &dap.ErrorMessage{Id: id, Format: message, ShowUser: true}
	s.send(resp)
}

func (s *Server) send(msg dap.Message) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if err := dap.WriteProtocolMessage(s.conn, msg); err != nil {
		s.log.Debugw("writing to client failed", "err", err)
	}
}
