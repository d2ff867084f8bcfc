package router_test

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"embedlsp/internal/document"
	"embedlsp/internal/event"
	"embedlsp/internal/ranges"
	"embedlsp/internal/router"
	"embedlsp/internal/vdoc"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	protocol "github.com/tliron/glsp/protocol_3_16"
)

const hostURI = "file:///srv/index.php"

// [php 0-10, html 10-20, php 20-30]
const mixed = "<?php $a?>" + "<b>hi</b> " + "<?php $b?>"

func span(from, to uint32, lang string) ranges.LanguageRange {
	return ranges.LanguageRange{
		Range: protocol.Range{
			Start: protocol.Position{Character: from},
			End:   protocol.Position{Character: to},
		},
		LanguageID: lang,
	}
}

type staticSource struct{ p *ranges.Partition }

func (s staticSource) DocumentLanguageRanges(context.Context, string) (*ranges.Partition, error) {
	return s.p, nil
}

// primaryFunc answers primary backend calls.
type primaryFunc func(ctx context.Context, method string) (string, error)

func (f primaryFunc) Call(ctx context.Context, method string, _ any, result any) error {
	out, err := f(ctx, method)
	if err != nil {
		return err
	}
	return json.Unmarshal([]byte(out), result)
}

type secondaryCall struct {
	method string
	uri    string
	text   string
}

type fakeSecondary struct {
	mu     sync.Mutex
	host   *fakeHost
	answer string
	calls  []secondaryCall
}

func (s *fakeSecondary) Execute(_ context.Context, method, uri string, _ json.RawMessage, result any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, secondaryCall{method: method, uri: uri, text: s.host.text(uri)})
	return json.Unmarshal([]byte(s.answer), result)
}

func (s *fakeSecondary) called() []secondaryCall {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]secondaryCall(nil), s.calls...)
}

type fakeHost struct {
	c       *vdoc.Coordinator
	mu      sync.Mutex
	docs    map[string]vdoc.VirtualDocument
	changes *event.Emitter[vdoc.VirtualDocument]
}

func (h *fakeHost) Open(ctx context.Context, uri string) (vdoc.VirtualDocument, error) {
	text, err := h.c.ProvideContent(ctx, uri)
	if err != nil {
		return vdoc.VirtualDocument{}, err
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	d := vdoc.VirtualDocument{URI: uri, Version: h.docs[uri].Version + 1, Text: text}
	h.docs[uri] = d
	return d, nil
}

func (h *fakeHost) IsOpen(string) bool { return false }

func (h *fakeHost) Changes() *event.Emitter[vdoc.VirtualDocument] { return h.changes }

func (h *fakeHost) text(uri string) string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.docs[uri].Text
}

type fixture struct {
	router    *router.Router
	secondary *fakeSecondary
	vuri      string
}

func newFixture(t *testing.T, p *ranges.Partition, primary primaryFunc, secondaryAnswer string) *fixture {
	t.Helper()
	docs := document.NewManager()
	docs.Open(hostURI, "php", 1, mixed)

	opts := vdoc.DefaultOptions()
	opts.StaleWaitTimeout = 50 * time.Millisecond
	c := vdoc.NewCoordinator(opts, staticSource{p}, docs)
	t.Cleanup(c.Close)
	host := &fakeHost{c: c, docs: make(map[string]vdoc.VirtualDocument), changes: event.NewEmitter[vdoc.VirtualDocument]()}
	c.SetHost(host)

	secondary := &fakeSecondary{host: host, answer: secondaryAnswer}
	return &fixture{
		router:    router.New(primary, secondary, c, docs, router.DefaultTriggerOptions()),
		secondary: secondary,
		vuri:      c.VirtualURI(hostURI),
	}
}

func mixedPartition() *ranges.Partition {
	return &ranges.Partition{Version: 1, Ranges: []ranges.LanguageRange{
		span(0, 10, "php"), span(10, 20, "html"), span(20, 30, "php"),
	}}
}

func answer(s string) primaryFunc {
	return func(context.Context, string) (string, error) { return s, nil }
}

func position(char uint32) protocol.TextDocumentPositionParams {
	return protocol.TextDocumentPositionParams{
		TextDocument: protocol.TextDocumentIdentifier{URI: hostURI},
		Position:     protocol.Position{Character: char},
	}
}

func toJSON(t *testing.T, v any) string {
	t.Helper()
	out, err := json.Marshal(v)
	require.NoError(t, err)
	return string(out)
}

func TestSinglePrimaryRangeNeverForwards(t *testing.T) {
	p := &ranges.Partition{Version: 1, Ranges: []ranges.LanguageRange{span(0, 30, "php")}}
	f := newFixture(t, p, answer(`{"isIncomplete":false,"items":[]}`), `{"isIncomplete":false,"items":[{"label":"div"}]}`)

	for _, char := range []uint32{0, 10, 15, 29, 30} {
		got, err := f.router.Completion(context.Background(), &protocol.CompletionParams{TextDocumentPositionParams: position(char)})
		require.NoError(t, err)
		assert.JSONEq(t, `{"isIncomplete":false,"items":[]}`, toJSON(t, got))
	}
	assert.Empty(t, f.secondary.called())
}

func TestHoverForwardedToBlankedVirtualDocument(t *testing.T) {
	hover := `{"contents":{"kind":"markdown","value":"The b element"}}`
	f := newFixture(t, mixedPartition(), answer(`null`), hover)

	got, err := f.router.Hover(context.Background(), &protocol.HoverParams{TextDocumentPositionParams: position(15)})
	require.NoError(t, err)
	assert.JSONEq(t, hover, toJSON(t, got))

	calls := f.secondary.called()
	require.Len(t, calls, 1)
	assert.Equal(t, protocol.MethodTextDocumentHover, calls[0].method)
	assert.Equal(t, f.vuri, calls[0].uri)
	assert.Equal(t, strings.Repeat(" ", 10)+"<b>hi</b> "+strings.Repeat(" ", 10), calls[0].text)
}

func TestHoverInsidePrimaryGetsDefault(t *testing.T) {
	f := newFixture(t, mixedPartition(), answer(`{"contents":""}`), `{"contents":"x"}`)

	got, err := f.router.Hover(context.Background(), &protocol.HoverParams{TextDocumentPositionParams: position(25)})
	require.NoError(t, err)
	assert.Nil(t, got)
	assert.Empty(t, f.secondary.called())
}

func TestPrimaryResultWins(t *testing.T) {
	def := `[{"uri":"file:///lib.php","range":{"start":{"line":3,"character":1},"end":{"line":3,"character":4}}}]`
	f := newFixture(t, mixedPartition(), answer(def), `[]`)

	got, err := f.router.Definition(context.Background(), &protocol.DefinitionParams{TextDocumentPositionParams: position(15)})
	require.NoError(t, err)
	assert.JSONEq(t, def, toJSON(t, got))
	assert.Empty(t, f.secondary.called())
}

func TestDefinitionRewrittenToHost(t *testing.T) {
	f := newFixture(t, mixedPartition(), answer(`[]`), "")
	f.secondary.answer = `[{"uri":"` + f.vuri + `","range":{"start":{"line":0,"character":12},"end":{"line":0,"character":13}}}]`

	got, err := f.router.Definition(context.Background(), &protocol.DefinitionParams{TextDocumentPositionParams: position(15)})
	require.NoError(t, err)
	locations, ok := got.([]protocol.Location)
	require.True(t, ok)
	require.Len(t, locations, 1)
	assert.Equal(t, hostURI, locations[0].URI)
	assert.Equal(t, protocol.Position{Line: 0, Character: 12}, locations[0].Range.Start)
}

func TestLocationLinksRewrittenToHost(t *testing.T) {
	f := newFixture(t, mixedPartition(), answer(`null`), "")
	f.secondary.answer = `[{"targetUri":"` + f.vuri + `","targetRange":{"start":{"line":0,"character":10},"end":{"line":0,"character":19}},"targetSelectionRange":{"start":{"line":0,"character":11},"end":{"line":0,"character":12}}},` +
		`{"targetUri":"file:///other.html","targetRange":{"start":{"line":0,"character":0},"end":{"line":0,"character":1}},"targetSelectionRange":{"start":{"line":0,"character":0},"end":{"line":0,"character":1}}}]`

	got, err := f.router.Definition(context.Background(), &protocol.DefinitionParams{TextDocumentPositionParams: position(15)})
	require.NoError(t, err)
	links, ok := got.([]protocol.LocationLink)
	require.True(t, ok)
	require.Len(t, links, 2)
	assert.Equal(t, hostURI, links[0].TargetURI)
	assert.Equal(t, "file:///other.html", links[1].TargetURI)
}

func TestCancelledAfterPrimaryReturnsDefault(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	primary := func(context.Context, string) (string, error) {
		cancel()
		return `[]`, nil
	}
	f := newFixture(t, mixedPartition(), primary, `[{"uri":"file:///x","range":{"start":{"line":0,"character":0},"end":{"line":0,"character":0}}}]`)

	got, err := f.router.References(ctx, &protocol.ReferenceParams{TextDocumentPositionParams: position(15)})
	require.NoError(t, err)
	assert.JSONEq(t, `[]`, toJSON(t, got))
	assert.Empty(t, f.secondary.called())
}

func TestPrimaryErrorFallsThrough(t *testing.T) {
	primary := func(context.Context, string) (string, error) { return "", errors.New("method not found") }
	f := newFixture(t, mixedPartition(), primary, `[{"range":{"start":{"line":0,"character":10},"end":{"line":0,"character":13}},"kind":1}]`)

	got, err := f.router.DocumentHighlight(context.Background(), &protocol.DocumentHighlightParams{TextDocumentPositionParams: position(11)})
	require.NoError(t, err)
	assert.JSONEq(t, `[{"range":{"start":{"line":0,"character":10},"end":{"line":0,"character":13}},"kind":1}]`, toJSON(t, got))
}

func TestCompletionTriggerFilter(t *testing.T) {
	var primaryCalls int
	primary := func(context.Context, string) (string, error) {
		primaryCalls++
		return `[]`, nil
	}
	f := newFixture(t, mixedPartition(), primary, `{"isIncomplete":false,"items":[{"label":"div"}]}`)

	trigger := func(ch string) *protocol.CompletionParams {
		return &protocol.CompletionParams{
			TextDocumentPositionParams: position(15),
			Context: &protocol.CompletionContext{
				TriggerKind:      protocol.CompletionTriggerKindTriggerCharacter,
				TriggerCharacter: &ch,
			},
		}
	}

	// "$" only means something to the primary language.
	got, err := f.router.Completion(context.Background(), trigger("$"))
	require.NoError(t, err)
	assert.JSONEq(t, `[]`, toJSON(t, got))
	assert.Equal(t, 1, primaryCalls)
	assert.Empty(t, f.secondary.called())

	// "<" skips the primary backend.
	got, err = f.router.Completion(context.Background(), trigger("<"))
	require.NoError(t, err)
	assert.JSONEq(t, `{"isIncomplete":false,"items":[{"label":"div"}]}`, toJSON(t, got))
	assert.Equal(t, 1, primaryCalls)
	assert.Len(t, f.secondary.called(), 1)
}

func TestIncompleteEmptyCompletionIsForwarded(t *testing.T) {
	f := newFixture(t, mixedPartition(), answer(`{"isIncomplete":true,"items":[]}`), `{"isIncomplete":false,"items":[{"label":"div"}]}`)

	got, err := f.router.Completion(context.Background(), &protocol.CompletionParams{TextDocumentPositionParams: position(15)})
	require.NoError(t, err)
	assert.JSONEq(t, `{"isIncomplete":false,"items":[{"label":"div"}]}`, toJSON(t, got))
	assert.Len(t, f.secondary.called(), 1)
}

func TestSecondaryTriggerInPrimaryTerritoryAsksPrimary(t *testing.T) {
	var primaryCalls int
	primary := func(context.Context, string) (string, error) {
		primaryCalls++
		return `{"isIncomplete":false,"items":[{"label":"'key'"}]}`, nil
	}
	f := newFixture(t, mixedPartition(), primary, `{"isIncomplete":false,"items":[{"label":"div"}]}`)

	quote := "'"
	got, err := f.router.Completion(context.Background(), &protocol.CompletionParams{
		TextDocumentPositionParams: position(7),
		Context: &protocol.CompletionContext{
			TriggerKind:      protocol.CompletionTriggerKindTriggerCharacter,
			TriggerCharacter: &quote,
		},
	})
	require.NoError(t, err)
	assert.JSONEq(t, `{"isIncomplete":false,"items":[{"label":"'key'"}]}`, toJSON(t, got))
	assert.Equal(t, 1, primaryCalls)
	assert.Empty(t, f.secondary.called())
}

func TestDocumentSymbolForwardsWhenSecondaryPresent(t *testing.T) {
	f := newFixture(t, mixedPartition(), answer(`[]`), "")
	f.secondary.answer = `[{"name":"b","kind":8,"location":{"uri":"` + f.vuri + `","range":{"start":{"line":0,"character":10},"end":{"line":0,"character":19}}}}]`

	got, err := f.router.DocumentSymbol(context.Background(), &protocol.DocumentSymbolParams{
		TextDocument: protocol.TextDocumentIdentifier{URI: hostURI},
	})
	require.NoError(t, err)
	symbols, ok := got.([]protocol.SymbolInformation)
	require.True(t, ok)
	require.Len(t, symbols, 1)
	assert.Equal(t, hostURI, symbols[0].Location.URI)
}

func TestRouteRejectsBadParams(t *testing.T) {
	f := newFixture(t, mixedPartition(), answer(`null`), `null`)
	_, err := f.router.Route(context.Background(), protocol.MethodTextDocumentHover, json.RawMessage(`{"position":{"line":0,"character":1}}`))
	assert.Error(t, err)
	assert.False(t, f.router.Handles("textDocument/formatting"))
	assert.True(t, f.router.Handles(protocol.MethodTextDocumentHover))
}
