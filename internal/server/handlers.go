package server

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/sourcegraph/jsonrpc2"
	"github.com/tliron/glsp"
	protocol "github.com/tliron/glsp/protocol_3_16"
)

// Handle implements jsonrpc2.Handler. It runs on the connection's read loop:
// notifications and lifecycle requests are handled inline, in order, while
// routed feature requests each run on their own goroutine so that
// $/cancelRequest can reach them.
func (s *Server) Handle(ctx context.Context, conn *jsonrpc2.Conn, req *jsonrpc2.Request) {
	if req.Notif {
		s.handleNotification(ctx, conn, req)
		return
	}

	if sess := s.session(); sess != nil && sess.router.Handles(req.Method) {
		s.route(conn, sess, req)
		return
	}

	result, err := s.dispatch(ctx, conn, req)
	s.reply(ctx, conn, req.ID, result, err)
}

func (s *Server) handleNotification(ctx context.Context, conn *jsonrpc2.Conn, req *jsonrpc2.Request) {
	switch req.Method {
	case protocol.MethodCancelRequest:
		var params struct {
			ID jsonrpc2.ID `json:"id"`
		}
		if req.Params == nil || json.Unmarshal(*req.Params, &params) != nil {
			log.Warningf("malformed %s", req.Method)
			return
		}
		s.cancel(params.ID)

	case protocol.MethodExit:
		s.cancelAll()
		if err := conn.Close(); err != nil {
			log.Debugf("closing editor connection: %s", err)
		}

	default:
		if _, err := s.dispatch(ctx, conn, req); err != nil {
			log.Errorf("%s: %s", req.Method, err)
		}
	}
}

// dispatch hands a message to the protocol handler, mapping its outcome to
// JSON-RPC errors the way glsp's own server does.
func (s *Server) dispatch(ctx context.Context, conn *jsonrpc2.Conn, req *jsonrpc2.Request) (any, error) {
	glspContext := glsp.Context{
		Method: req.Method,
		Notify: func(method string, params any) {
			if err := conn.Notify(ctx, method, params); err != nil {
				log.Errorf("%s", err.Error())
			}
		},
		Call: func(method string, params any, result any) {
			if err := conn.Call(ctx, method, params, result); err != nil {
				log.Errorf("%s", err.Error())
			}
		},
	}
	if req.Params != nil {
		glspContext.Params = *req.Params
	}

	r, validMethod, validParams, err := s.handler.Handle(&glspContext)
	switch {
	case !validMethod:
		return nil, &jsonrpc2.Error{
			Code:    jsonrpc2.CodeMethodNotFound,
			Message: fmt.Sprintf("method not supported: %s", req.Method),
		}
	case !validParams:
		if err != nil {
			return nil, &jsonrpc2.Error{Code: jsonrpc2.CodeInvalidParams, Message: err.Error()}
		}
		return nil, &jsonrpc2.Error{Code: jsonrpc2.CodeInvalidParams}
	case err != nil:
		return nil, &jsonrpc2.Error{Code: jsonrpc2.CodeInvalidRequest, Message: err.Error()}
	}
	return r, nil
}

// route answers a routed request in the background. The request context is
// cancelled by $/cancelRequest or when the editor goes away; the router then
// answers with what it has, which is sent as a normal result.
func (s *Server) route(conn *jsonrpc2.Conn, sess *session, req *jsonrpc2.Request) {
	ctx, cancel := context.WithCancel(s.ctx)
	s.mu.Lock()
	s.inflight[req.ID] = cancel
	s.mu.Unlock()

	var params json.RawMessage
	if req.Params != nil {
		params = *req.Params
	}

	go func() {
		defer s.done(req.ID)
		result, err := sess.router.Route(ctx, req.Method, params)
		if err != nil {
			err = &jsonrpc2.Error{Code: jsonrpc2.CodeInvalidParams, Message: err.Error()}
		}
		s.reply(s.ctx, conn, req.ID, result, err)
	}()
}

func (s *Server) reply(ctx context.Context, conn *jsonrpc2.Conn, id jsonrpc2.ID, result any, err error) {
	if err != nil {
		rpcErr, ok := err.(*jsonrpc2.Error)
		if !ok {
			rpcErr = &jsonrpc2.Error{Code: jsonrpc2.CodeInternalError, Message: err.Error()}
		}
		if err := conn.ReplyWithError(ctx, id, rpcErr); err != nil {
			log.Debugf("reply %s: %s", id, err)
		}
		return
	}
	if err := conn.Reply(ctx, id, result); err != nil {
		log.Debugf("reply %s: %s", id, err)
	}
}

func (s *Server) cancel(id jsonrpc2.ID) {
	s.mu.Lock()
	cancel, ok := s.inflight[id]
	s.mu.Unlock()
	if ok {
		log.Debugf("cancelling request %s", id)
		cancel()
	}
}

func (s *Server) done(id jsonrpc2.ID) {
	s.mu.Lock()
	cancel, ok := s.inflight[id]
	delete(s.inflight, id)
	s.mu.Unlock()
	if ok {
		cancel()
	}
}

func (s *Server) cancelAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, cancel := range s.inflight {
		cancel()
		delete(s.inflight, id)
	}
}
