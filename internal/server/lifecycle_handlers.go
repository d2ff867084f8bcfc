package server

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"slices"
	"time"

	"embedlsp/internal/backend"
	"embedlsp/internal/config"
	"embedlsp/internal/document"
	"embedlsp/internal/host"
	"embedlsp/internal/partition"
	"embedlsp/internal/router"
	"embedlsp/internal/scheduler"
	"embedlsp/internal/synth"
	"embedlsp/internal/vdoc"

	"github.com/tliron/glsp"
	protocol "github.com/tliron/glsp/protocol_3_16"
	"golang.org/x/sync/errgroup"
)

const partitionCacheMaxAge = 7 * 24 * time.Hour

type backendInitializeResult struct {
	Capabilities struct {
		CompletionProvider    *protocol.CompletionOptions    `json:"completionProvider"`
		SignatureHelpProvider *protocol.SignatureHelpOptions `json:"signatureHelpProvider"`
	} `json:"capabilities"`
	ServerInfo *protocol.InitializeResultServerInfo `json:"serverInfo"`
}

func (s *Server) initialize(
	context *glsp.Context,
	params *protocol.InitializeParams,
) (any, error) {
	if s.session() != nil {
		return nil, fmt.Errorf("already initialized")
	}

	cfg, err := s.cfg.Merge(params.InitializationOptions)
	if err != nil {
		return nil, fmt.Errorf("initializationOptions: %w", err)
	}
	log.Infof("primary %s (%s), secondary %s (%s), partitioner %s",
		cfg.PrimaryLanguage, cfg.Primary.Command, cfg.SecondaryLanguage, cfg.Secondary.Command, cfg.Partitioner)

	sess, err := s.startSession(cfg, context.Notify)
	if err != nil {
		return nil, err
	}

	var primaryResult, secondaryResult backendInitializeResult
	g, ctx := errgroup.WithContext(s.ctx)
	g.Go(func() error {
		p, err := initializeParams(context.Params, cfg.Primary.InitializationOptions)
		if err != nil {
			return err
		}
		return sess.primary.Call(ctx, protocol.MethodInitialize, p, &primaryResult)
	})
	g.Go(func() error {
		p, err := initializeParams(context.Params, cfg.Secondary.InitializationOptions)
		if err != nil {
			return err
		}
		return sess.secondary.Call(ctx, protocol.MethodInitialize, p, &secondaryResult)
	})
	if err := g.Wait(); err != nil {
		sess.stop(s.ctx)
		return nil, fmt.Errorf("initializing backends: %w", err)
	}
	for name, r := range map[string]backendInitializeResult{"primary": primaryResult, "secondary": secondaryResult} {
		if r.ServerInfo != nil {
			log.Infof("%s backend is %s", name, r.ServerInfo.Name)
		}
	}

	s.mu.Lock()
	s.sess = sess
	s.mu.Unlock()

	return protocol.InitializeResult{
		Capabilities: capabilities(primaryResult, secondaryResult),
		ServerInfo: &protocol.InitializeResultServerInfo{
			Name:    s.name,
			Version: &s.version,
		},
	}, nil
}

// initializeParams passes the editor's initialize params on to a backend,
// with the backend's own initialization options.
func initializeParams(raw json.RawMessage, options any) (json.RawMessage, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil, err
	}
	delete(fields, "initializationOptions")
	delete(fields, "workDoneToken")
	if options != nil {
		data, err := json.Marshal(options)
		if err != nil {
			return nil, err
		}
		fields["initializationOptions"] = data
	}
	return json.Marshal(fields)
}

func capabilities(primary, secondary backendInitializeResult) protocol.ServerCapabilities {
	syncKind := protocol.TextDocumentSyncKindIncremental
	caps := protocol.ServerCapabilities{
		TextDocumentSync: &protocol.TextDocumentSyncOptions{
			OpenClose: &protocol.True,
			Change:    &syncKind,
			Save:      &protocol.SaveOptions{IncludeText: &protocol.False},
		},
		CompletionProvider:        &protocol.CompletionOptions{},
		SignatureHelpProvider:     &protocol.SignatureHelpOptions{},
		HoverProvider:             true,
		DefinitionProvider:        true,
		ReferencesProvider:        true,
		DocumentHighlightProvider: true,
		DocumentSymbolProvider:    true,
	}
	for _, r := range []backendInitializeResult{primary, secondary} {
		if c := r.Capabilities.CompletionProvider; c != nil {
			caps.CompletionProvider.TriggerCharacters = union(caps.CompletionProvider.TriggerCharacters, c.TriggerCharacters)
		}
		if c := r.Capabilities.SignatureHelpProvider; c != nil {
			caps.SignatureHelpProvider.TriggerCharacters = union(caps.SignatureHelpProvider.TriggerCharacters, c.TriggerCharacters)
			caps.SignatureHelpProvider.RetriggerCharacters = union(caps.SignatureHelpProvider.RetriggerCharacters, c.RetriggerCharacters)
		}
	}
	return caps
}

func union(a, b []string) []string {
	for _, s := range b {
		if !slices.Contains(a, s) {
			a = append(a, s)
		}
	}
	return a
}

// startSession launches both backends and wires the components between them.
func (s *Server) startSession(cfg config.Config, notify glsp.NotifyFunc) (*session, error) {
	ctx, cancel := context.WithCancel(s.ctx)
	sess := &session{
		cfg:    cfg,
		docs:   document.NewManager(),
		cancel: cancel,
	}

	var g errgroup.Group
	g.Go(func() error {
		b, err := s.launch(ctx, "primary", cfg.Primary.Command, primaryInbound(notify))
		sess.primary = b
		return err
	})
	g.Go(func() error {
		b, err := s.launch(ctx, "secondary", cfg.Secondary.Command, secondaryInbound)
		sess.secondary = b
		return err
	})
	if err := g.Wait(); err != nil {
		sess.stop(ctx)
		return nil, fmt.Errorf("starting backends: %w", err)
	}

	mode, ok := synth.ParseMode(cfg.SynthMode)
	if !ok {
		mode = synth.ModeBlank
	}
	opts := vdoc.Options{
		PrimaryLanguage:   cfg.PrimaryLanguage,
		SecondaryLanguage: cfg.SecondaryLanguage,
		SynthMode:         mode,
		Debounce:          cfg.Debounce.Std(),
		StaleWaitTimeout:  cfg.StaleWaitTimeout.Std(),
	}

	sess.schedule = scheduler.NewScheduler(16)
	sess.schedule.RunScheduler()

	var source vdoc.RangeSource = backend.NewRangeClient(sess.primary, cfg.RangesMethod)
	if cfg.Partitioner == "local" {
		if err := sess.openPartitionCache(ctx); err != nil {
			log.Warningf("partition cache disabled: %s", err)
		}
		sess.local = partition.NewLocal(sess.docs, sess.cache, cfg.PrimaryLanguage, cfg.SecondaryLanguage, 4)
		source = sess.local
	}

	sess.coord = vdoc.NewCoordinator(opts, source, sess.docs)
	sess.host = host.New(host.Options{
		LanguageID: cfg.SecondaryLanguage,
		IdleClose:  cfg.IdleClose.Std(),
		IdleSweep:  cfg.IdleSweep.Std(),
	}, sess.coord, sess.secondary)
	sess.coord.SetHost(sess.host)

	go sess.host.Run(ctx, sess.coord.ContentChanged().Subscribe(ctx))
	go func() {
		for uri := range sess.host.Closed().Subscribe(ctx) {
			sess.coord.DidCloseVirtual(uri)
		}
	}()
	sess.host.ScheduleSweep(ctx, sess.schedule)

	sess.router = router.New(sess.primary, sess.host, sess.coord, sess.docs, router.TriggerOptions{
		Enabled:       cfg.TriggerFilter,
		PrimaryOnly:   cfg.Triggers.PrimaryOnly,
		SecondaryOnly: cfg.Triggers.SecondaryOnly,
	})
	return sess, nil
}

func (sess *session) openPartitionCache(ctx context.Context) error {
	path := sess.cfg.PartitionCache
	switch path {
	case "":
		return nil
	case "auto":
		dir, err := getXDGStateHome("embedlsp")
		if err != nil {
			return err
		}
		path = filepath.Join(dir, "partitions.db")
	}
	cache, err := partition.OpenCache(path)
	if err != nil {
		return err
	}
	sess.cache = cache
	if _, err := cache.Prune(ctx, partitionCacheMaxAge); err != nil {
		log.Warningf("pruning partition cache: %s", err)
	}
	sess.schedule.SchedulePeriodicTask(24*time.Hour, scheduler.Task{
		Name: "partition cache prune",
		Execute: func() error {
			_, err := cache.Prune(ctx, partitionCacheMaxAge)
			return err
		},
	})
	return nil
}

// stop closes the virtual documents, shuts both backends down and releases
// everything the session holds. It is safe to call more than once.
func (sess *session) stop(ctx context.Context) {
	sess.stopOnce.Do(func() {
		ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()

		if sess.host != nil {
			sess.host.CloseAll(ctx)
		}
		if sess.coord != nil {
			sess.coord.Close()
		}
		if sess.schedule != nil {
			sess.schedule.StopScheduler()
		}

		var g errgroup.Group
		for _, b := range []Backend{sess.primary, sess.secondary} {
			if b == nil {
				continue
			}
			b := b
			g.Go(func() error { return b.Shutdown(ctx) })
		}
		if err := g.Wait(); err != nil {
			log.Warningf("backend shutdown: %s", err)
		}

		if sess.local != nil {
			sess.local.Close()
		}
		if sess.cache != nil {
			if err := sess.cache.Close(); err != nil {
				log.Warningf("closing partition cache: %s", err)
			}
		}
		sess.cancel()
	})
}

func (s *Server) initialized(
	context *glsp.Context,
	params *protocol.InitializedParams,
) error {
	sess := s.session()
	if sess == nil {
		return nil
	}
	log.Info("client initialized")
	for _, b := range []Backend{sess.primary, sess.secondary} {
		if err := b.Notify(s.ctx, protocol.MethodInitialized, protocol.InitializedParams{}); err != nil {
			return err
		}
	}
	return nil
}

func (s *Server) shutdown(context *glsp.Context) error {
	s.cancelAll()
	if sess := s.takeSession(); sess != nil {
		sess.stop(s.ctx)
	}
	return nil
}

func (s *Server) setTrace(
	context *glsp.Context,
	params *protocol.SetTraceParams,
) error {
	log.Debugf("trace set to %s", params.Value)
	return nil
}
