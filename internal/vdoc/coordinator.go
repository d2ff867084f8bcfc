// Package vdoc coordinates the virtual documents that expose the secondary
// language of a host document to the secondary backend.
//
// A Coordinator owns the partition store and the version records. The
// version record of a virtual document is the host version its content was
// synthesized from; content is trusted only while that record equals the
// version a request expects.
package vdoc

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"embedlsp/internal/document"
	"embedlsp/internal/event"
	"embedlsp/internal/metrics"
	"embedlsp/internal/ranges"
	"embedlsp/internal/synth"

	"github.com/tliron/commonlog"
	protocol "github.com/tliron/glsp/protocol_3_16"
)

var log = commonlog.GetLogger("embedlsp.vdoc")

// RangeSource answers partition requests for host documents.
// A nil partition means the document has no embedded content.
type RangeSource interface {
	DocumentLanguageRanges(ctx context.Context, uri string) (*ranges.Partition, error)
}

// Documents gives read access to the host documents.
type Documents interface {
	Get(uri string) (document.Snapshot, bool)
}

// VirtualDocument is a virtual document as materialized by a Host.
type VirtualDocument struct {
	URI     string
	Version int32
	Text    string
}

// Host materializes virtual documents for the secondary backend.
type Host interface {
	// Open returns the virtual document, pulling its content on first use.
	Open(ctx context.Context, uri string) (VirtualDocument, error)
	// IsOpen reports whether uri is currently materialized.
	IsOpen(uri string) bool
	// Changes fires after a materialized document was refreshed.
	Changes() *event.Emitter[VirtualDocument]
}

type Options struct {
	PrimaryLanguage   string
	SecondaryLanguage string
	SynthMode         synth.Mode
	// Debounce delays the content-changed push after a host edit.
	Debounce time.Duration
	// StaleWaitTimeout bounds the wait for a stale document to refresh.
	StaleWaitTimeout time.Duration
}

// DefaultOptions embed HTML in PHP.
func DefaultOptions() Options {
	return Options{
		PrimaryLanguage:   "php",
		SecondaryLanguage: "html",
		SynthMode:         synth.ModeBlank,
		Debounce:          300 * time.Millisecond,
		StaleWaitTimeout:  2 * time.Second,
	}
}

// Coordinator is the single owner of partitions and version records.
type Coordinator struct {
	opts   Options
	source RangeSource
	docs   Documents
	host   Host

	store *ranges.Store

	mu      sync.Mutex
	records map[string]int32
	timers  map[string]*time.Timer

	contentChanged *event.Emitter[string]
}

func NewCoordinator(opts Options, source RangeSource, docs Documents) *Coordinator {
	return &Coordinator{
		opts:           opts,
		source:         source,
		docs:           docs,
		store:          ranges.NewStore(),
		records:        make(map[string]int32),
		timers:         make(map[string]*time.Timer),
		contentChanged: event.NewEmitter[string](),
	}
}

// SetHost attaches the virtual document host. The host itself reads content
// from the coordinator, so it is attached after construction.
func (c *Coordinator) SetHost(host Host) {
	c.host = host
}

func (c *Coordinator) Options() Options {
	return c.opts
}

// ContentChanged fires the URI of a virtual document whose content should be
// pulled again.
func (c *Coordinator) ContentChanged() *event.Emitter[string] {
	return c.contentChanged
}

// VirtualURI returns the secondary-language virtual document of host.
func (c *Coordinator) VirtualURI(host string) string {
	return VirtualURI(host, c.opts.SecondaryLanguage)
}

// FetchRanges asks the range source for the partition of host and stores it.
// It returns nil when the document has no partition; the stored entry is
// cleared in that case. A transport error leaves the store untouched.
func (c *Coordinator) FetchRanges(ctx context.Context, host string) (*ranges.Partition, error) {
	key := c.VirtualURI(host)

	p, err := c.source.DocumentLanguageRanges(ctx, host)
	if err != nil {
		metrics.RangeFetch("error")
		return nil, fmt.Errorf("fetch ranges for %s: %w", host, err)
	}
	if p == nil || len(p.Ranges) == 0 {
		metrics.RangeFetch("absent")
		c.store.Invalidate(key)
		return nil, nil
	}

	normalized := ranges.Partition{
		Version: p.Version,
		Ranges:  ranges.Normalize(p.Ranges, c.opts.SecondaryLanguage),
	}
	if snap, ok := c.docs.Get(host); ok && snap.Version == normalized.Version {
		if err := ranges.Validate(normalized.Ranges, snap.Text); err != nil {
			metrics.RangeFetch("invalid")
			log.Warningf("discarding ranges of %s at version %d: %s", host, normalized.Version, err)
			c.store.Invalidate(key)
			return nil, nil
		}
	}

	metrics.RangeFetch("ok")
	c.store.Set(key, normalized)
	return &normalized, nil
}

// EnsureRanges returns the partition of host at version, fetching it when the
// store has none for that version. A partition computed for another version
// is treated as absent.
func (c *Coordinator) EnsureRanges(ctx context.Context, host string, version int32) (*ranges.Partition, error) {
	if p, ok := c.store.Get(c.VirtualURI(host)); ok && p.Version == version {
		return &p, nil
	}
	p, err := c.FetchRanges(ctx, host)
	if err != nil || p == nil {
		return nil, err
	}
	if p.Version != version {
		log.Debugf("ranges of %s are at version %d, wanted %d", host, p.Version, version)
		return nil, nil
	}
	return p, nil
}

// Place narrows the part of a host document a request is about.
type Place interface {
	forward(parts []ranges.LanguageRange, opts Options) bool
}

// AtPosition is a cursor position.
type AtPosition struct{ Position protocol.Position }

// InRange is a selection.
type InRange struct{ Range protocol.Range }

// Anywhere matches any secondary content in the document.
type Anywhere struct{}

func (p AtPosition) forward(parts []ranges.LanguageRange, opts Options) bool {
	return !ranges.IsPrimaryPosition(parts, p.Position, opts.PrimaryLanguage)
}

func (p InRange) forward(parts []ranges.LanguageRange, opts Options) bool {
	return !ranges.IsPrimaryOnly(parts, p.Range, opts.PrimaryLanguage)
}

func (Anywhere) forward(parts []ranges.LanguageRange, opts Options) bool {
	return ranges.HasLanguage(parts, opts.SecondaryLanguage)
}

// ShouldForward reports whether the secondary backend should be asked about
// place. Without a partition the answer is false.
func (c *Coordinator) ShouldForward(ctx context.Context, host string, version int32, place Place) (bool, error) {
	p, err := c.EnsureRanges(ctx, host, version)
	if err != nil || p == nil {
		return false, err
	}
	if place == nil {
		place = Anywhere{}
	}
	return place.forward(p.Ranges, c.opts), nil
}

// OpenVirtualDocument returns the virtual document at uri if its content was
// synthesized from expectedVersion of the host document. When the recorded
// version is behind, it first waits for the host to refresh the document.
// A nil document means none is available for that version.
func (c *Coordinator) OpenVirtualDocument(ctx context.Context, uri string, expectedVersion int32) (*VirtualDocument, error) {
	if c.host == nil {
		return nil, errors.New("no virtual document host")
	}

	if recorded, ok := c.record(uri); c.host.IsOpen(uri) && (!ok || recorded != expectedVersion) {
		if err := c.waitForRefresh(ctx, uri); err != nil {
			return nil, err
		}
	}

	doc, err := c.host.Open(ctx, uri)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", uri, err)
	}
	if recorded, ok := c.record(uri); !ok || recorded != expectedVersion {
		log.Debugf("virtual document %s is not at version %d", uri, expectedVersion)
		return nil, nil
	}
	return &doc, nil
}

func (c *Coordinator) waitForRefresh(ctx context.Context, uri string) error {
	// Subscribe before pushing, or a fast refresh is missed.
	waiter := c.host.Changes().Once(func(d VirtualDocument) bool { return d.URI == uri })
	c.contentChanged.Fire(uri)

	start := time.Now()
	waitCtx, cancel := context.WithTimeout(ctx, c.opts.StaleWaitTimeout)
	defer cancel()
	_, err := waiter.Wait(waitCtx)
	metrics.StaleWait(time.Since(start))

	if ctx.Err() != nil {
		return ctx.Err()
	}
	if err != nil {
		log.Warningf("virtual document %s did not refresh within %s", uri, c.opts.StaleWaitTimeout)
	}
	return nil
}

// ProvideContent synthesizes the current content of a virtual document and
// records the host version it was computed from. A host document without a
// partition yields empty content and no record.
func (c *Coordinator) ProvideContent(ctx context.Context, uri string) (string, error) {
	host, lang, err := Parse(uri)
	if err != nil {
		return "", err
	}
	if lang != c.opts.SecondaryLanguage {
		return "", fmt.Errorf("%w: unsupported language %q", ErrNotVirtual, lang)
	}

	snap, ok := c.docs.Get(host)
	if !ok {
		c.forget(uri)
		return "", fmt.Errorf("%s: %w", host, document.ErrNotOpen)
	}
	p, err := c.EnsureRanges(ctx, host, snap.Version)
	if err != nil {
		return "", err
	}
	if p == nil {
		c.forget(uri)
		return "", nil
	}

	text := synth.Synthesize(p.Ranges, snap.Text, synth.Options{
		PrimaryLanguageID: c.opts.PrimaryLanguage,
		Mode:              c.opts.SynthMode,
	})

	c.mu.Lock()
	c.records[uri] = snap.Version
	c.mu.Unlock()
	return text, nil
}

// Record returns the host version the content of uri was synthesized from.
func (c *Coordinator) Record(uri string) (int32, bool) {
	return c.record(uri)
}

func (c *Coordinator) record(uri string) (int32, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.records[uri]
	return v, ok
}

func (c *Coordinator) forget(uri string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.records, uri)
}

// DidCloseVirtual forgets the record of a virtual document the host closed.
func (c *Coordinator) DidCloseVirtual(uri string) {
	c.forget(uri)
}

// Partition returns the stored partition of host, if any.
func (c *Coordinator) Partition(host string) (ranges.Partition, bool) {
	return c.store.Get(c.VirtualURI(host))
}
