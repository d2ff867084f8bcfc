// Package backend talks JSON-RPC to the language servers behind the proxy.
package backend

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/sourcegraph/jsonrpc2"
	"github.com/tliron/commonlog"
)

// ErrClosed is returned for calls on a connection that has gone away.
var ErrClosed = errors.New("backend connection closed")

// Inbound handles requests and notifications a backend sends to the proxy.
// For notifications the result is ignored. It runs on the connection's read
// loop and must not block on calls to the same backend.
type Inbound func(ctx context.Context, req *jsonrpc2.Request) (any, error)

// Client is a JSON-RPC connection to one backend.
type Client struct {
	Name string

	conn    *jsonrpc2.Conn
	log     commonlog.Logger
	closers []func() error
}

// NewClient speaks LSP base protocol framing over stream.
func NewClient(ctx context.Context, name string, stream io.ReadWriteCloser, inbound Inbound, debug bool) *Client {
	c := &Client{
		Name: name,
		log:  commonlog.GetLogger("embedlsp.backend." + name),
	}
	if inbound == nil {
		inbound = func(context.Context, *jsonrpc2.Request) (any, error) { return nil, nil }
	}

	opts := []jsonrpc2.ConnOpt{jsonrpc2.SetLogger(&rpcLogger{c.log})}
	if debug {
		opts = append(opts, jsonrpc2.LogMessages(&rpcLogger{commonlog.GetLogger("embedlsp.backend." + name + ".rpc")}))
	}
	handler := jsonrpc2.HandlerWithError(func(ctx context.Context, _ *jsonrpc2.Conn, req *jsonrpc2.Request) (any, error) {
		return inbound(ctx, req)
	})
	c.conn = jsonrpc2.NewConn(ctx, jsonrpc2.NewBufferedStream(stream, jsonrpc2.VSCodeObjectCodec{}), handler, opts...)
	return c
}

// Call sends a request and decodes its result into result.
func (c *Client) Call(ctx context.Context, method string, params any, result any) error {
	if err := c.conn.Call(ctx, method, params, result); err != nil {
		if errors.Is(err, jsonrpc2.ErrClosed) {
			return fmt.Errorf("%s: %s: %w", c.Name, method, ErrClosed)
		}
		return fmt.Errorf("%s: %s: %w", c.Name, method, err)
	}
	return nil
}

// Notify sends a notification.
func (c *Client) Notify(ctx context.Context, method string, params any) error {
	if err := c.conn.Notify(ctx, method, params); err != nil {
		if errors.Is(err, jsonrpc2.ErrClosed) {
			return fmt.Errorf("%s: %s: %w", c.Name, method, ErrClosed)
		}
		return fmt.Errorf("%s: %s: %w", c.Name, method, err)
	}
	return nil
}

// Done is closed when the connection ends.
func (c *Client) Done() <-chan struct{} {
	return c.conn.DisconnectNotify()
}

// Shutdown runs the LSP shutdown handshake and closes the connection.
func (c *Client) Shutdown(ctx context.Context) error {
	if err := c.Call(ctx, "shutdown", nil, nil); err != nil && !errors.Is(err, ErrClosed) {
		c.log.Warningf("shutdown: %s", err)
	}
	if err := c.Notify(ctx, "exit", nil); err != nil && !errors.Is(err, ErrClosed) {
		c.log.Warningf("exit: %s", err)
	}
	return c.Close()
}

// Close drops the connection and releases the backend process, if any.
func (c *Client) Close() error {
	err := c.conn.Close()
	if errors.Is(err, jsonrpc2.ErrClosed) {
		err = nil
	}
	for _, closer := range c.closers {
		if cerr := closer(); cerr != nil && err == nil {
			err = cerr
		}
	}
	return err
}

type rpcLogger struct {
	log commonlog.Logger
}

// jsonrpc2.Logger interface
func (l *rpcLogger) Printf(format string, v ...any) {
	l.log.Debugf(format, v...)
}
