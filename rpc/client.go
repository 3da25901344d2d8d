package rpc

import (
	"context"
	"io"

	"github.com/sourcegraph/jsonrpc2"
	"go.uber.org/zap"
)

type Client struct {
	*jsonrpc2.Conn

	// OnNotify receives the notifications sent by the server.
	OnNotify func(r *jsonrpc2.Request)
}

// NewClient connects to a language server over rwc.
func NewClient(ctx context.Context, rwc io.ReadWriteCloser, onNotify func(*jsonrpc2.Request)) *Client {
	client := &Client{OnNotify: onNotify}
	client.Conn = NewConn(ctx, rwc, client, WithLogger(zap.NewNop().Sugar()))
	return client
}

// NewStreamClient is NewClient over an already framed stream.
func NewStreamClient(ctx context.Context, stream jsonrpc2.ObjectStream, onNotify func(*jsonrpc2.Request)) *Client {
	client := &Client{OnNotify: onNotify}
	client.Conn = jsonrpc2.NewConn(ctx, stream, client, WithLogger(zap.NewNop().Sugar()))
	return client
}

func (c *Client) Handle(ctx context.Context, conn *jsonrpc2.Conn, req *jsonrpc2.Request) {
	if req.Notif {
		if c.OnNotify != nil {
			c.OnNotify(req)
		}
		return
	}

	conn.ReplyWithError(ctx, req.ID, &jsonrpc2.Error{
		Code:    jsonrpc2.CodeMethodNotFound,
		Message: "client does not handle " + req.Method,
	})
}

func (c *Client) Call(method string, payload any, result any) error {
	return c.Conn.Call(context.Background(), method, payload, result)
}

func (c *Client) Notify(method string, payload any) error {
	return c.Conn.Notify(context.Background(), method, payload)
}
