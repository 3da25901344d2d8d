package lsp_server

import (
	"context"
	"sync"

	"github.com/juan-carlos/juancarlos/config"
	"github.com/juan-carlos/juancarlos/rpc"
	"github.com/sourcegraph/jsonrpc2"
	"go.uber.org/zap"
)

// ServeStdio runs srv over stdin and stdout until the client exits, the
// connection drops or ctx is cancelled. It returns the process exit code.
func ServeStdio(ctx context.Context, srv *LspServer) int {
	conn := rpc.NewConn(ctx, rpc.StdioStream(), srv, rpc.WithLogger(srv.logger))
	defer func() {
		conn.Close()
		srv.Close()
	}()

	select {
	case code := <-srv.Done():
		srv.logger.Infow("client exited", "code", code)
		return code
	case <-conn.DisconnectNotify():
		srv.logger.Infow("client disconnected")
		return 1
	case <-ctx.Done():
		srv.logger.Infow("interrupted", "reason", ctx.Err())
		return 1
	}
}

// Pool hands every network connection its own server and forwards
// configuration reloads to all of them.
type Pool struct {
	mu      sync.Mutex
	opts    Options
	servers map[*LspServer]struct{}
}

func NewPool(opts Options) *Pool {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop().Sugar()
	}

	return &Pool{
		opts:    opts,
		servers: map[*LspServer]struct{}{},
	}
}

type pooledServer struct {
	*LspServer
	pool *Pool
}

func (p pooledServer) Close() error {
	p.pool.mu.Lock()
	delete(p.pool.servers, p.LspServer)
	p.pool.mu.Unlock()
	return p.LspServer.Close()
}

// NewHandler is an rpc.HandlerFactory.
func (p *Pool) NewHandler() jsonrpc2.Handler {
	p.mu.Lock()
	defer p.mu.Unlock()

	srv, err := New(p.opts)
	if err != nil {
		// the options were validated when the pool was built
		p.opts.Logger.Errorw("unable to create server", "error", err)
		return rpc.HandlerFunc(func(ctx context.Context, c *jsonrpc2.Conn, r *jsonrpc2.Request) {
			if !r.Notif {
				c.ReplyWithError(ctx, r.ID, &jsonrpc2.Error{Code: jsonrpc2.CodeInternalError, Message: err.Error()})
			}
		})
	}

	p.servers[srv] = struct{}{}
	return pooledServer{LspServer: srv, pool: p}
}

func (p *Pool) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.servers)
}

// ReloadConfig applies cfg to new connections and to every connected
// server. The first error is returned after all servers were tried.
func (p *Pool) ReloadConfig(ctx context.Context, cfg *config.Config) error {
	if _, err := cfg.BuildAnalyzer(); err != nil {
		return err
	}

	p.mu.Lock()
	p.opts.Config = cfg
	servers := make([]*LspServer, 0, len(p.servers))
	for srv := range p.servers {
		servers = append(servers, srv)
	}
	p.mu.Unlock()

	var firstErr error
	for _, srv := range servers {
		if err := srv.ReloadConfig(ctx, cfg); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
