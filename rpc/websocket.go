package rpc

import (
	"context"
	"net"
	"net/http"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/gorilla/websocket"
	jsonrpcws "github.com/sourcegraph/jsonrpc2/websocket"
	"go.uber.org/zap"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	// editors connect from webviews and local tools with arbitrary origins
	CheckOrigin: func(r *http.Request) bool { return true },
}

// WebsocketHandler upgrades every request to a WebSocket carrying one
// JSON-RPC message per frame.
func (s *Server) WebsocketHandler(ctx context.Context) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			s.Logger.Warnw("websocket upgrade failed", "remote", r.RemoteAddr, "error", err)
			return
		}

		s.Logger.Infow("client connected", "remote", r.RemoteAddr, "transport", "websocket")
		s.serveStream(ctx, jsonrpcws.NewObjectStream(conn), r.RemoteAddr)
	})
}

// ServeWebsocket serves the WebSocket transport on l until ctx is done.
func (s *Server) ServeWebsocket(ctx context.Context, l net.Listener) error {
	srv := &http.Server{
		Handler:           s.WebsocketHandler(ctx),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	defer s.wg.Wait()

	if err := srv.Serve(l); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return errors.Wrap(err, "serving websocket")
	}
	return nil
}

func StartWebsocketServer(ctx context.Context, addr string, newHandler HandlerFactory, logger *zap.SugaredLogger) error {
	l, err := net.Listen("tcp", addr)
	if err != nil {
		return errors.Wrapf(err, "listening on %s", addr)
	}

	logger.Infow("listening", "addr", l.Addr().String(), "transport", "websocket")
	return NewServer(newHandler, logger).ServeWebsocket(ctx, l)
}
