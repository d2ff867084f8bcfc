// Package router decides, per editor request, which backend answers it.
//
// The primary backend is always asked first. Only when its answer is empty
// and the request points outside primary-language territory is the same
// request issued against the virtual document on the secondary backend.
package router

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"time"

	"embedlsp/internal/metrics"
	"embedlsp/internal/vdoc"

	"github.com/tliron/commonlog"
	protocol "github.com/tliron/glsp/protocol_3_16"
)

var log = commonlog.GetLogger("embedlsp.router")

// Caller issues a request to the primary backend.
type Caller interface {
	Call(ctx context.Context, method string, params any, result any) error
}

// Executor issues a request against a virtual document on the secondary backend.
type Executor interface {
	Execute(ctx context.Context, method string, virtualURI string, params json.RawMessage, result any) error
}

// Coordinator is the part of vdoc.Coordinator the router needs.
type Coordinator interface {
	VirtualURI(host string) string
	ShouldForward(ctx context.Context, host string, version int32, place vdoc.Place) (bool, error)
	OpenVirtualDocument(ctx context.Context, uri string, expectedVersion int32) (*vdoc.VirtualDocument, error)
}

// Versions reports the current version of an open host document.
type Versions interface {
	Version(uri string) (int32, bool)
}

// TriggerOptions configure the completion pre-filter.
type TriggerOptions struct {
	Enabled bool
	// PrimaryOnly characters never start secondary-language completion.
	PrimaryOnly []string
	// SecondaryOnly characters never start primary-language completion.
	SecondaryOnly []string
}

func DefaultTriggerOptions() TriggerOptions {
	return TriggerOptions{
		Enabled:       true,
		PrimaryOnly:   []string{"$", ">", ":", "\\"},
		SecondaryOnly: []string{"<", "\"", "'", "=", "/"},
	}
}

type Router struct {
	primary   Caller
	secondary Executor
	coord     Coordinator
	versions  Versions
	triggers  TriggerOptions
	kinds     map[string]*Kind
}

func New(primary Caller, secondary Executor, coord Coordinator, versions Versions, triggers TriggerOptions) *Router {
	r := &Router{
		primary:   primary,
		secondary: secondary,
		coord:     coord,
		versions:  versions,
		triggers:  triggers,
		kinds:     make(map[string]*Kind),
	}
	for _, k := range Kinds() {
		r.kinds[k.Method] = k
	}
	return r
}

// Handles reports whether method is routed.
func (r *Router) Handles(method string) bool {
	_, ok := r.kinds[method]
	return ok
}

// Methods lists the routed methods.
func (r *Router) Methods() []string {
	methods := make([]string, 0, len(r.kinds))
	for m := range r.kinds {
		methods = append(methods, m)
	}
	slices.Sort(methods)
	return methods
}

// Route answers a routed request. Only malformed params produce an error;
// every failure further down degrades to the kind's default result.
func (r *Router) Route(ctx context.Context, method string, params json.RawMessage) (any, error) {
	kind, ok := r.kinds[method]
	if !ok {
		return nil, fmt.Errorf("method not routed: %s", method)
	}
	t, err := kind.target(params)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", method, err)
	}

	var skipPrimary, skipSecondary bool
	if r.triggers.Enabled && t.trigger != "" {
		skipSecondary = slices.Contains(r.triggers.PrimaryOnly, t.trigger)
		skipPrimary = slices.Contains(r.triggers.SecondaryOnly, t.trigger)
	}
	return r.route(ctx, kind, t, params, skipPrimary, skipSecondary), nil
}

func (r *Router) route(ctx context.Context, kind *Kind, t target, params json.RawMessage, skipPrimary, skipSecondary bool) any {
	start := time.Now()
	done := func(outcome string, v any) any {
		metrics.ObserveRoute(kind.Method, outcome, start)
		return v
	}

	// 1-3: the primary backend answers whenever it has something.
	var primary json.RawMessage
	if !skipPrimary {
		raw, ok := r.askPrimary(ctx, kind, t, params)
		if ok {
			return done(metrics.OutcomePrimary, raw)
		}
		if ctx.Err() != nil {
			return done(metrics.OutcomeCancelled, orDefault(kind, raw))
		}
		primary = raw
	}
	if skipSecondary {
		return done(metrics.OutcomeDefault, orDefault(kind, primary))
	}

	// A trigger character skipped the primary, but the position may still
	// turn out to be primary territory.
	notForwarded := func() any {
		if !skipPrimary {
			return done(metrics.OutcomeDefault, kind.Default())
		}
		raw, ok := r.askPrimary(ctx, kind, t, params)
		if ctx.Err() != nil {
			return done(metrics.OutcomeCancelled, kind.Default())
		}
		if ok {
			return done(metrics.OutcomePrimary, raw)
		}
		return done(metrics.OutcomeDefault, kind.Default())
	}

	// 4: only positions outside primary territory go further.
	version, ok := r.versions.Version(t.uri)
	if !ok {
		return notForwarded()
	}
	forward, err := r.coord.ShouldForward(ctx, t.uri, version, t.place)
	if ctx.Err() != nil {
		return done(metrics.OutcomeCancelled, kind.Default())
	}
	if err != nil {
		log.Warningf("%s: classifying %s: %s", kind.Method, t.uri, err)
		return notForwarded()
	}
	if !forward {
		return notForwarded()
	}

	// 5: ask the secondary backend against the virtual document.
	virtualURI := r.coord.VirtualURI(t.uri)
	doc, err := r.coord.OpenVirtualDocument(ctx, virtualURI, version)
	if ctx.Err() != nil {
		return done(metrics.OutcomeCancelled, kind.Default())
	}
	if err != nil {
		log.Warningf("%s: opening %s: %s", kind.Method, virtualURI, err)
		return done(metrics.OutcomeDefault, kind.Default())
	}
	if doc == nil {
		return done(metrics.OutcomeDefault, kind.Default())
	}

	var secondary json.RawMessage
	err = r.secondary.Execute(ctx, kind.Method, virtualURI, params, &secondary)
	if ctx.Err() != nil {
		// The secondary call keeps running; its answer is dropped.
		return done(metrics.OutcomeCancelled, kind.Default())
	}
	if err != nil {
		log.Warningf("%s on secondary backend for %s: %s", kind.Method, virtualURI, err)
		return done(metrics.OutcomeDefault, kind.Default())
	}
	res, err := kind.decode(secondary)
	if err != nil {
		log.Warningf("%s: decoding secondary result: %s", kind.Method, err)
		return done(metrics.OutcomeDefault, kind.Default())
	}
	if res.IsEmpty() {
		return done(metrics.OutcomeDefault, kind.Default())
	}

	// 6: virtual identities never leave the proxy.
	res.rewrite(virtualURI, t.uri)
	return done(metrics.OutcomeSecondary, res.value())
}

// askPrimary calls the primary backend and reports whether its answer is
// worth returning. Errors count as an empty answer.
func (r *Router) askPrimary(ctx context.Context, kind *Kind, t target, params json.RawMessage) (json.RawMessage, bool) {
	var raw json.RawMessage
	if err := r.primary.Call(ctx, kind.Method, params, &raw); err != nil {
		if ctx.Err() == nil {
			log.Warningf("%s on primary backend for %s: %s", kind.Method, t.uri, err)
		}
		return nil, false
	}
	res, err := kind.decode(raw)
	if err != nil {
		log.Warningf("%s: decoding primary result: %s", kind.Method, err)
		return raw, false
	}
	return raw, !res.IsEmpty()
}

func orDefault(kind *Kind, raw json.RawMessage) any {
	if isNull(raw) {
		return kind.Default()
	}
	return raw
}

func (r *Router) call(ctx context.Context, method string, params any) (any, error) {
	raw, err := json.Marshal(params)
	if err != nil {
		return nil, err
	}
	return r.Route(ctx, method, raw)
}

func (r *Router) Completion(ctx context.Context, params *protocol.CompletionParams) (any, error) {
	return r.call(ctx, protocol.MethodTextDocumentCompletion, params)
}

func (r *Router) SignatureHelp(ctx context.Context, params *protocol.SignatureHelpParams) (any, error) {
	return r.call(ctx, protocol.MethodTextDocumentSignatureHelp, params)
}

func (r *Router) Definition(ctx context.Context, params *protocol.DefinitionParams) (any, error) {
	return r.call(ctx, protocol.MethodTextDocumentDefinition, params)
}

func (r *Router) References(ctx context.Context, params *protocol.ReferenceParams) (any, error) {
	return r.call(ctx, protocol.MethodTextDocumentReferences, params)
}

func (r *Router) DocumentHighlight(ctx context.Context, params *protocol.DocumentHighlightParams) (any, error) {
	return r.call(ctx, protocol.MethodTextDocumentDocumentHighlight, params)
}

func (r *Router) Hover(ctx context.Context, params *protocol.HoverParams) (any, error) {
	return r.call(ctx, protocol.MethodTextDocumentHover, params)
}

func (r *Router) DocumentSymbol(ctx context.Context, params *protocol.DocumentSymbolParams) (any, error) {
	return r.call(ctx, protocol.MethodTextDocumentDocumentSymbol, params)
}
