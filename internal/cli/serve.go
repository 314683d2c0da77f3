package cli

import (
	"context"
	"io"
	"net"
	"os"
	"os/signal"
	"syscall"

	"github.com/vburojevic/revdbg/internal/adapter"
)

// ServeCmd serves the debug adapter protocol, either over stdio (the usual
// editor integration) or on a TCP listener.
type ServeCmd struct {
	Listen string `short:"l" help:"TCP address to listen on (e.g. 127.0.0.1:4711); default is stdio"`
}

// Run executes the serve command.
func (c *ServeCmd) Run(globals *Globals) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		cancel()
	}()

	listen := c.Listen
	if listen == "" {
		listen = globals.Config.Listen
	}

	if listen == "" {
		globals.Logger.Debugw("serving debug adapter on stdio")
		srv := adapter.New(stdioConn{}, globals.Config, globals.Logger)
		err := srv.Serve(ctx)
		if err == context.Canceled {
			return nil
		}
		return err
	}

	ln, err := net.Listen("tcp", listen)
	if err != nil {
		return err
	}
	defer ln.Close()
	globals.Logger.Infow("serving debug adapter", "addr", ln.Addr().String())

	go func() {
		<-ctx.Done()
		ln.Close()
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		go func() {
			srv := adapter.New(conn, globals.Config, globals.Logger)
			if err := srv.Serve(ctx); err != nil && err != context.Canceled {
				globals.Logger.Debugw("session ended with error", "err", err)
			}
		}()
	}
}

// stdioConn adapts the process's stdio to an io.ReadWriteCloser for the
// adapter.
type stdioConn struct{}

func (stdioConn) Read(p []byte) (int, error)  { return os.Stdin.Read(p) }
func (stdioConn) Write(p []byte) (int, error) { return os.Stdout.Write(p) }
func (stdioConn) Close() error {
	// Leave the real stdio open; the process owns it.
	return nil
}

var _ io.ReadWriteCloser = stdioConn{}
