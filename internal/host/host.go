// Package host materializes virtual documents on the secondary backend.
//
// A virtual document is opened on the backend the first time a request needs
// it, kept in sync whenever its content is pushed as changed, and closed
// again after it has not been used for a while.
package host

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"embedlsp/internal/event"
	"embedlsp/internal/metrics"
	"embedlsp/internal/scheduler"
	"embedlsp/internal/vdoc"

	"github.com/tliron/commonlog"
	protocol "github.com/tliron/glsp/protocol_3_16"
)

var log = commonlog.GetLogger("embedlsp.host")

// ErrNotOpen is returned by Execute for a document that is not materialized.
var ErrNotOpen = errors.New("virtual document not open")

// ContentProvider answers "what is the text of virtual document uri".
type ContentProvider interface {
	ProvideContent(ctx context.Context, uri string) (string, error)
}

// Backend is the secondary language server.
type Backend interface {
	Call(ctx context.Context, method string, params any, result any) error
	Notify(ctx context.Context, method string, params any) error
}

type Options struct {
	// LanguageID is sent in didOpen.
	LanguageID string
	// IdleClose closes documents unused for this long.
	IdleClose time.Duration
	// IdleSweep is how often idle documents are looked for.
	IdleSweep time.Duration
}

type entry struct {
	doc      vdoc.VirtualDocument
	lastUsed time.Time
}

type Host struct {
	opts     Options
	provider ContentProvider
	backend  Backend

	// syncMu orders everything sent to the backend for virtual documents.
	syncMu sync.Mutex

	mu   sync.Mutex
	docs map[string]*entry
	now  func() time.Time

	changes *event.Emitter[vdoc.VirtualDocument]
	closed  *event.Emitter[string]
}

func New(opts Options, provider ContentProvider, backend Backend) *Host {
	return &Host{
		opts:     opts,
		provider: provider,
		backend:  backend,
		docs:     make(map[string]*entry),
		now:      time.Now,
		changes:  event.NewEmitter[vdoc.VirtualDocument](),
		closed:   event.NewEmitter[string](),
	}
}

// Changes fires after a materialized document was synchronized again.
func (h *Host) Changes() *event.Emitter[vdoc.VirtualDocument] {
	return h.changes
}

// Closed fires the URI of every document closed on the backend.
func (h *Host) Closed() *event.Emitter[string] {
	return h.closed
}

func (h *Host) IsOpen(uri string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	_, ok := h.docs[uri]
	return ok
}

// Open returns the materialized document, opening it on the backend first
// if needed.
func (h *Host) Open(ctx context.Context, uri string) (vdoc.VirtualDocument, error) {
	h.syncMu.Lock()
	defer h.syncMu.Unlock()

	if doc, ok := h.touch(uri); ok {
		return doc, nil
	}

	text, err := h.provider.ProvideContent(ctx, uri)
	if err != nil {
		return vdoc.VirtualDocument{}, err
	}
	doc := vdoc.VirtualDocument{URI: uri, Version: 1, Text: text}
	err = h.backend.Notify(ctx, protocol.MethodTextDocumentDidOpen, protocol.DidOpenTextDocumentParams{
		TextDocument: protocol.TextDocumentItem{
			URI:        uri,
			LanguageID: h.opts.LanguageID,
			Version:    doc.Version,
			Text:       text,
		},
	})
	if err != nil {
		return vdoc.VirtualDocument{}, err
	}

	h.mu.Lock()
	h.docs[uri] = &entry{doc: doc, lastUsed: h.now()}
	h.mu.Unlock()
	metrics.VirtualDocumentOpened()
	log.Debugf("opened %s", uri)
	return doc, nil
}

func (h *Host) touch(uri string) (vdoc.VirtualDocument, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	e, ok := h.docs[uri]
	if !ok {
		return vdoc.VirtualDocument{}, false
	}
	e.lastUsed = h.now()
	return e.doc, true
}

// Refresh pulls the content of a materialized document again and sends it
// to the backend when it changed. Changes fires either way, so waiters
// learn the document is current.
func (h *Host) Refresh(ctx context.Context, uri string) error {
	h.syncMu.Lock()
	defer h.syncMu.Unlock()

	h.mu.Lock()
	e, ok := h.docs[uri]
	var current vdoc.VirtualDocument
	if ok {
		current = e.doc
	}
	h.mu.Unlock()
	if !ok {
		return nil
	}

	text, err := h.provider.ProvideContent(ctx, uri)
	if err != nil {
		// Waiters re-check the version record themselves.
		h.changes.Fire(current)
		return fmt.Errorf("refresh %s: %w", uri, err)
	}
	if text != current.Text {
		current.Version++
		current.Text = text
		err := h.backend.Notify(ctx, protocol.MethodTextDocumentDidChange, protocol.DidChangeTextDocumentParams{
			TextDocument: protocol.VersionedTextDocumentIdentifier{
				TextDocumentIdentifier: protocol.TextDocumentIdentifier{URI: uri},
				Version:                current.Version,
			},
			ContentChanges: []any{protocol.TextDocumentContentChangeEventWhole{Text: text}},
		})
		if err != nil {
			// The backend state is unknown now. Dropping the document makes
			// the next Open pull and send it again.
			h.drop(uri)
			h.changes.Fire(current)
			return fmt.Errorf("refresh %s: %w", uri, err)
		}
		h.mu.Lock()
		if e, ok := h.docs[uri]; ok {
			e.doc = current
		}
		h.mu.Unlock()
	}
	h.changes.Fire(current)
	return nil
}

func (h *Host) drop(uri string) {
	h.mu.Lock()
	_, ok := h.docs[uri]
	delete(h.docs, uri)
	h.mu.Unlock()
	if ok {
		metrics.VirtualDocumentClosed()
	}
}

// Run refreshes documents named on pushes until ctx ends or pushes closes.
func (h *Host) Run(ctx context.Context, pushes <-chan string) {
	for {
		select {
		case <-ctx.Done():
			return
		case uri, ok := <-pushes:
			if !ok {
				return
			}
			if err := h.Refresh(ctx, uri); err != nil {
				log.Warningf("%s", err)
			}
		}
	}
}

// Close closes a document on the backend.
func (h *Host) Close(ctx context.Context, uri string) error {
	h.syncMu.Lock()
	defer h.syncMu.Unlock()

	h.mu.Lock()
	_, ok := h.docs[uri]
	delete(h.docs, uri)
	h.mu.Unlock()
	if !ok {
		return nil
	}

	metrics.VirtualDocumentClosed()
	h.closed.Fire(uri)
	log.Debugf("closed %s", uri)
	return h.backend.Notify(ctx, protocol.MethodTextDocumentDidClose, protocol.DidCloseTextDocumentParams{
		TextDocument: protocol.TextDocumentIdentifier{URI: uri},
	})
}

// Sweep closes every document unused for longer than IdleClose.
func (h *Host) Sweep(ctx context.Context) int {
	cutoff := h.now().Add(-h.opts.IdleClose)
	var idle []string
	h.mu.Lock()
	for uri, e := range h.docs {
		if e.lastUsed.Before(cutoff) {
			idle = append(idle, uri)
		}
	}
	h.mu.Unlock()

	for _, uri := range idle {
		if err := h.Close(ctx, uri); err != nil {
			log.Warningf("closing idle %s: %s", uri, err)
		}
	}
	return len(idle)
}

// ScheduleSweep runs Sweep every IdleSweep on s.
func (h *Host) ScheduleSweep(ctx context.Context, s *scheduler.Scheduler) {
	if h.opts.IdleClose <= 0 || h.opts.IdleSweep <= 0 {
		return
	}
	s.SchedulePeriodicTask(h.opts.IdleSweep, scheduler.Task{
		Name: "virtual document idle sweep",
		Execute: func() error {
			if n := h.Sweep(ctx); n > 0 {
				log.Infof("closed %d idle virtual documents", n)
			}
			return nil
		},
	})
}

// CloseAll closes every materialized document.
func (h *Host) CloseAll(ctx context.Context) {
	h.mu.Lock()
	uris := make([]string, 0, len(h.docs))
	for uri := range h.docs {
		uris = append(uris, uri)
	}
	h.mu.Unlock()
	for _, uri := range uris {
		if err := h.Close(ctx, uri); err != nil {
			log.Debugf("closing %s: %s", uri, err)
		}
	}
}

// Execute issues method against the virtual document uri, with the params'
// text document replaced by it. Everything else in params is passed as is,
// positions included.
func (h *Host) Execute(ctx context.Context, method string, uri string, params json.RawMessage, result any) error {
	if _, ok := h.touch(uri); !ok {
		return fmt.Errorf("%w: %s", ErrNotOpen, uri)
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(params, &fields); err != nil {
		return fmt.Errorf("%s params: %w", method, err)
	}
	doc, err := json.Marshal(protocol.TextDocumentIdentifier{URI: uri})
	if err != nil {
		return err
	}
	fields["textDocument"] = doc
	// Progress tokens belong to the editor connection.
	delete(fields, "workDoneToken")
	delete(fields, "partialResultToken")

	return h.backend.Call(ctx, method, fields, result)
}
