// Package partition computes language partitions locally, for primary
// backends that do not answer documentLanguageRanges themselves.
package partition

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"embedlsp/internal/document"
	"embedlsp/internal/metrics"
	"embedlsp/internal/ranges"
	"embedlsp/internal/textutil"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/php"
	"github.com/tliron/commonlog"
	protocol "github.com/tliron/glsp/protocol_3_16"
)

var log = commonlog.GetLogger("embedlsp.partition")

// Documents gives read access to the host documents.
type Documents interface {
	Get(uri string) (document.Snapshot, bool)
}

// Local partitions PHP documents with tree-sitter: inline HTML is tagged
// with the secondary language and everything else with the primary one.
type Local struct {
	docs      Documents
	cache     *Cache
	primary   string
	secondary string
	pool      chan *sitter.Parser
}

// NewLocal creates a partitioner with n parsers. cache may be nil.
func NewLocal(docs Documents, cache *Cache, primary, secondary string, n int) *Local {
	if n < 1 {
		n = 1
	}
	l := &Local{
		docs:      docs,
		cache:     cache,
		primary:   primary,
		secondary: secondary,
		pool:      make(chan *sitter.Parser, n),
	}
	for i := 0; i < n; i++ {
		p := sitter.NewParser()
		p.SetLanguage(php.GetLanguage())
		l.pool <- p
	}
	return l
}

// DocumentLanguageRanges partitions the current text of uri.
func (l *Local) DocumentLanguageRanges(ctx context.Context, uri string) (*ranges.Partition, error) {
	snap, ok := l.docs.Get(uri)
	if !ok {
		return nil, nil
	}

	digest := l.digest(snap.Text)
	if l.cache != nil {
		parts, hit, err := l.cache.Get(ctx, digest)
		if err != nil {
			log.Warningf("partition cache: %s", err)
		}
		metrics.PartitionCache(hit)
		if hit {
			return &ranges.Partition{Version: snap.Version, Ranges: parts}, nil
		}
	}

	parts, err := l.Partition(ctx, snap.Text)
	if err != nil {
		return nil, fmt.Errorf("partition %s: %w", uri, err)
	}
	if l.cache != nil && len(parts) > 0 {
		if err := l.cache.Put(ctx, digest, parts); err != nil {
			log.Warningf("partition cache: %s", err)
		}
	}
	if len(parts) == 0 {
		return nil, nil
	}
	return &ranges.Partition{Version: snap.Version, Ranges: parts}, nil
}

func (l *Local) digest(text string) string {
	h := sha256.New()
	h.Write([]byte(l.primary))
	h.Write([]byte{0})
	h.Write([]byte(l.secondary))
	h.Write([]byte{0})
	h.Write([]byte(text))
	return hex.EncodeToString(h.Sum(nil))
}

// Partition parses text and returns its ranges.
func (l *Local) Partition(ctx context.Context, text string) ([]ranges.LanguageRange, error) {
	if text == "" {
		return nil, nil
	}
	p := <-l.pool
	defer func() { l.pool <- p }()

	source := []byte(text)
	tree, err := p.ParseCtx(ctx, nil, source)
	if err != nil {
		return nil, err
	}
	defer tree.Close()

	var html [][2]uint32
	collectText(tree.RootNode(), &html)

	var out []ranges.LanguageRange
	add := func(from, to int, lang string) {
		if to <= from {
			return
		}
		out = append(out, ranges.LanguageRange{
			Range: protocol.Range{
				Start: textutil.PositionAt(text, from),
				End:   textutil.PositionAt(text, to),
			},
			LanguageID: lang,
		})
	}
	cursor := 0
	for _, span := range html {
		start, end := int(span[0]), int(span[1])
		if start < cursor {
			start = cursor
		}
		// Whitespace the grammar leaves between "?>" and the markup is markup.
		for start > cursor && isSpace(text[start-1]) {
			start--
		}
		add(cursor, start, l.primary)
		add(start, end, l.secondary)
		if end > cursor {
			cursor = end
		}
	}
	add(cursor, len(text), l.primary)
	return ranges.Normalize(out, l.secondary), nil
}

// collectText appends the byte spans of inline HTML in document order.
func collectText(n *sitter.Node, out *[][2]uint32) {
	if n == nil {
		return
	}
	if n.Type() == "text" {
		if parent := n.Parent(); parent != nil {
			switch parent.Type() {
			case "program", "text_interpolation":
				*out = append(*out, [2]uint32{n.StartByte(), n.EndByte()})
				return
			}
		}
	}
	for i := 0; i < int(n.ChildCount()); i++ {
		collectText(n.Child(i), out)
	}
}

func isSpace(b byte) bool {
	return b == ' ' || b == '\t' || b == '\n' || b == '\r'
}

// Close releases the parsers.
func (l *Local) Close() {
	for i := 0; i < cap(l.pool); i++ {
		p := <-l.pool
		p.Close()
	}
}
