// Package server is the LSP endpoint the editor talks to. It keeps the host
// documents, forwards them to the primary backend, and routes feature
// requests between the two backends.
package server

import (
	"context"
	"io"
	"sync"

	"embedlsp/internal/backend"
	"embedlsp/internal/config"
	"embedlsp/internal/document"
	"embedlsp/internal/host"
	"embedlsp/internal/partition"
	"embedlsp/internal/router"
	"embedlsp/internal/scheduler"
	"embedlsp/internal/vdoc"

	"github.com/sourcegraph/jsonrpc2"
	"github.com/tliron/commonlog"
	protocol "github.com/tliron/glsp/protocol_3_16"
)

var log = commonlog.GetLogger("embedlsp.server")

// Backend is a started language server.
type Backend interface {
	Call(ctx context.Context, method string, params any, result any) error
	Notify(ctx context.Context, method string, params any) error
	Shutdown(ctx context.Context) error
}

// Launcher starts the backend called name.
type Launcher func(ctx context.Context, name string, command backend.Command, inbound backend.Inbound) (Backend, error)

// ProcessLauncher starts backends as subprocesses speaking LSP on stdio.
func ProcessLauncher(debug bool) Launcher {
	return func(ctx context.Context, name string, command backend.Command, inbound backend.Inbound) (Backend, error) {
		c, err := backend.Start(ctx, name, command, inbound, debug)
		if err != nil {
			return nil, err
		}
		go func() {
			select {
			case <-c.Done():
				if ctx.Err() == nil {
					log.Errorf("%s backend went away, its requests will fail until restart", name)
				}
			case <-ctx.Done():
			}
		}()
		return c, nil
	}
}

type Server struct {
	name    string
	version string
	cfg     config.Config
	launch  Launcher
	debug   bool
	handler *protocol.Handler

	ctx context.Context

	mu       sync.Mutex
	inflight map[jsonrpc2.ID]context.CancelFunc
	sess     *session
}

// session is everything that exists between initialize and shutdown.
type session struct {
	cfg       config.Config
	primary   Backend
	secondary Backend
	docs      *document.Manager
	coord     *vdoc.Coordinator
	host      *host.Host
	router    *router.Router
	schedule  *scheduler.Scheduler
	local     *partition.Local
	cache     *partition.Cache
	cancel    context.CancelFunc
	stopOnce  sync.Once
}

func NewServer(name, version string, cfg config.Config, launch Launcher, debug bool) *Server {
	s := &Server{
		name:     name,
		version:  version,
		cfg:      cfg,
		launch:   launch,
		debug:    debug,
		ctx:      context.Background(),
		inflight: make(map[jsonrpc2.ID]context.CancelFunc),
	}
	s.handler = &protocol.Handler{
		Initialize:            s.initialize,
		Initialized:           s.initialized,
		Shutdown:              s.shutdown,
		SetTrace:              s.setTrace,
		TextDocumentDidOpen:   s.textDocumentDidOpen,
		TextDocumentDidChange: s.textDocumentDidChange,
		TextDocumentDidSave:   s.textDocumentDidSave,
		TextDocumentDidClose:  s.textDocumentDidClose,
	}
	return s
}

// Serve speaks LSP over stream until the editor disconnects or ctx ends.
func (s *Server) Serve(ctx context.Context, stream io.ReadWriteCloser) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	s.ctx = ctx

	opts := []jsonrpc2.ConnOpt{jsonrpc2.SetLogger(&rpcLogger{log})}
	if s.debug {
		opts = append(opts, jsonrpc2.LogMessages(&rpcLogger{commonlog.GetLogger("embedlsp.server.rpc")}))
	}
	conn := jsonrpc2.NewConn(ctx, jsonrpc2.NewBufferedStream(stream, jsonrpc2.VSCodeObjectCodec{}), s, opts...)

	select {
	case <-ctx.Done():
		conn.Close()
	case <-conn.DisconnectNotify():
	}
	log.Info("editor disconnected")

	s.cancelAll()
	if sess := s.takeSession(); sess != nil {
		sess.stop(context.Background())
	}
	return nil
}

func (s *Server) session() *session {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sess
}

func (s *Server) takeSession() *session {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess := s.sess
	s.sess = nil
	return sess
}

type rpcLogger struct {
	log commonlog.Logger
}

// jsonrpc2.Logger interface
func (l *rpcLogger) Printf(format string, v ...any) {
	l.log.Debugf(format, v...)
}
