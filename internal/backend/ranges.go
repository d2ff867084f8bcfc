package backend

import (
	"context"
	"encoding/json"
	"fmt"

	"embedlsp/internal/ranges"

	protocol "github.com/tliron/glsp/protocol_3_16"
)

// DefaultRangesMethod is the custom request primary servers answer with the
// language partition of a document.
const DefaultRangesMethod = "documentLanguageRanges"

// Caller is satisfied by Client.
type Caller interface {
	Call(ctx context.Context, method string, params any, result any) error
}

// RangeClient asks the primary backend for document partitions.
type RangeClient struct {
	Caller Caller
	Method string
}

func NewRangeClient(caller Caller, method string) *RangeClient {
	if method == "" {
		method = DefaultRangesMethod
	}
	return &RangeClient{Caller: caller, Method: method}
}

type rangesParams struct {
	TextDocument protocol.TextDocumentIdentifier `json:"textDocument"`
}

// DocumentLanguageRanges returns the partition of uri, or nil when the
// backend has none. Older servers answer with a bare array that carries no
// version; such answers cannot be checked against a document version and
// count as no partition.
func (r *RangeClient) DocumentLanguageRanges(ctx context.Context, uri string) (*ranges.Partition, error) {
	var raw json.RawMessage
	params := rangesParams{TextDocument: protocol.TextDocumentIdentifier{URI: uri}}
	if err := r.Caller.Call(ctx, r.Method, params, &raw); err != nil {
		return nil, err
	}

	var probe any
	if err := json.Unmarshal(raw, &probe); err != nil {
		return nil, fmt.Errorf("%s: %w", r.Method, err)
	}
	switch probe.(type) {
	case nil:
		return nil, nil
	case []any:
		return nil, nil
	}

	var versioned struct {
		Version *int32                 `json:"version"`
		Ranges  []ranges.LanguageRange `json:"ranges"`
	}
	if err := json.Unmarshal(raw, &versioned); err != nil {
		return nil, fmt.Errorf("%s: %w", r.Method, err)
	}
	if versioned.Version == nil || len(versioned.Ranges) == 0 {
		return nil, nil
	}
	return &ranges.Partition{Version: *versioned.Version, Ranges: versioned.Ranges}, nil
}
