// Package rpc carries JSON-RPC 2.0 connections over stdio, TCP and
// WebSocket.
package rpc

import (
	"context"
	"io"
	"net"
	"os"
	"strings"
	"sync"

	"github.com/cockroachdb/errors"
	"github.com/sourcegraph/jsonrpc2"
	"go.uber.org/zap"
)

type HandlerFunc func(context.Context, *jsonrpc2.Conn, *jsonrpc2.Request)

func (h HandlerFunc) Handle(ctx context.Context, c *jsonrpc2.Conn, r *jsonrpc2.Request) {
	h(ctx, c, r)
}

// HandlerFactory returns the handler of a new connection. A handler that
// implements io.Closer is closed once its connection is gone.
type HandlerFactory func() jsonrpc2.Handler

type CustomStream struct {
	io.ReadCloser
	io.WriteCloser
}

func (conn *CustomStream) Read(p []byte) (n int, err error) {
	return conn.ReadCloser.Read(p)
}

func (conn *CustomStream) Write(p []byte) (n int, err error) {
	return conn.WriteCloser.Write(p)
}

func (conn *CustomStream) Close() error {
	if err := conn.ReadCloser.Close(); err != nil {
		return err
	} else if err := conn.WriteCloser.Close(); err != nil {
		return err
	}
	return nil
}

func StdioStream() *CustomStream {
	return &CustomStream{ReadCloser: os.Stdin, WriteCloser: os.Stdout}
}

// NewConn speaks the header-framed JSON-RPC used by language servers over
// rwc.
func NewConn(ctx context.Context, rwc io.ReadWriteCloser, h jsonrpc2.Handler, opts ...jsonrpc2.ConnOpt) *jsonrpc2.Conn {
	return jsonrpc2.NewConn(ctx, jsonrpc2.NewBufferedStream(rwc, jsonrpc2.VSCodeObjectCodec{}), h, opts...)
}

type zapLogger struct {
	logger *zap.SugaredLogger
}

func (l zapLogger) Printf(format string, v ...any) {
	l.logger.Debugf(strings.TrimSuffix(format, "\n"), v...)
}

// WithLogger routes the connection's own log lines to logger at debug level.
func WithLogger(logger *zap.SugaredLogger) jsonrpc2.ConnOpt {
	return jsonrpc2.SetLogger(zapLogger{logger: logger})
}

type Server struct {
	Codec      jsonrpc2.ObjectCodec
	NewHandler HandlerFactory
	ConnOpts   []jsonrpc2.ConnOpt
	Logger     *zap.SugaredLogger

	wg sync.WaitGroup
}

func NewServer(newHandler HandlerFactory, logger *zap.SugaredLogger) *Server {
	return &Server{
		Codec:      jsonrpc2.VSCodeObjectCodec{},
		NewHandler: newHandler,
		ConnOpts:   []jsonrpc2.ConnOpt{WithLogger(logger)},
		Logger:     logger,
	}
}

// Serve accepts connections on l until ctx is done or l fails. Every
// connection gets its own handler. Serve closes l and waits for open
// connections to finish before returning.
func (s *Server) Serve(ctx context.Context, l net.Listener) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	go func() {
		<-ctx.Done()
		l.Close()
	}()

	defer s.wg.Wait()

	for {
		conn, err := l.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return errors.Wrap(err, "accepting connection")
		}

		s.Logger.Infow("client connected", "remote", conn.RemoteAddr().String())
		s.serveStream(ctx, jsonrpc2.NewBufferedStream(conn, s.Codec), conn.RemoteAddr().String())
	}
}

func (s *Server) serveStream(ctx context.Context, stream jsonrpc2.ObjectStream, remote string) {
	s.wg.Add(1)

	go func() {
		defer s.wg.Done()

		h := s.NewHandler()
		cn := jsonrpc2.NewConn(ctx, stream, h, s.ConnOpts...)
		defer cn.Close()

		select {
		case <-cn.DisconnectNotify():
		case <-ctx.Done():
		}

		if closer, ok := h.(io.Closer); ok {
			closer.Close()
		}
		s.Logger.Infow("client disconnected", "remote", remote)
	}()
}

// StartServer listens on addr over TCP and serves until ctx is done.
func StartServer(ctx context.Context, addr string, newHandler HandlerFactory, logger *zap.SugaredLogger) error {
	l, err := net.Listen("tcp", addr)
	if err != nil {
		return errors.Wrapf(err, "listening on %s", addr)
	}

	logger.Infow("listening", "addr", l.Addr().String(), "transport", "tcp")
	return NewServer(newHandler, logger).Serve(ctx, l)
}
