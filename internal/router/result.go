package router

import (
	"bytes"
	"encoding/json"
	"fmt"

	protocol "github.com/tliron/glsp/protocol_3_16"
)

// Result is the decoded answer of one backend for one request kind.
// The set of implementations is closed; each knows when it is empty and
// how to move virtual document identities back to the host document.
type Result interface {
	IsEmpty() bool
	rewrite(virtualURI, hostURI string)
	value() any
}

func isNull(raw json.RawMessage) bool {
	raw = bytes.TrimSpace(raw)
	return len(raw) == 0 || bytes.Equal(raw, []byte("null"))
}

func isArray(raw json.RawMessage) bool {
	raw = bytes.TrimSpace(raw)
	return len(raw) > 0 && raw[0] == '['
}

// CompletionResult is CompletionItem[] | CompletionList | null.
// Items are kept raw so nothing the backend sent is lost on the way back.
type CompletionResult struct {
	Raw          json.RawMessage
	IsIncomplete bool
	Items        int
}

func decodeCompletion(raw json.RawMessage) (Result, error) {
	r := &CompletionResult{Raw: raw}
	switch {
	case isNull(raw):
	case isArray(raw):
		var items []json.RawMessage
		if err := json.Unmarshal(raw, &items); err != nil {
			return nil, fmt.Errorf("completion items: %w", err)
		}
		r.Items = len(items)
	default:
		var list struct {
			IsIncomplete bool              `json:"isIncomplete"`
			Items        []json.RawMessage `json:"items"`
		}
		if err := json.Unmarshal(raw, &list); err != nil {
			return nil, fmt.Errorf("completion list: %w", err)
		}
		r.IsIncomplete = list.IsIncomplete
		r.Items = len(list.Items)
	}
	return r, nil
}

// IsEmpty is true without items. An incomplete list counts too: it only
// asks the editor to come back later.
func (r *CompletionResult) IsEmpty() bool {
	return r.Items == 0
}

func (r *CompletionResult) rewrite(string, string) {}

func (r *CompletionResult) value() any { return r.Raw }

// SignatureHelpResult is SignatureHelp | null.
type SignatureHelpResult struct {
	Raw        json.RawMessage
	Signatures int
}

func decodeSignatureHelp(raw json.RawMessage) (Result, error) {
	r := &SignatureHelpResult{Raw: raw}
	if isNull(raw) {
		return r, nil
	}
	var help struct {
		Signatures []json.RawMessage `json:"signatures"`
	}
	if err := json.Unmarshal(raw, &help); err != nil {
		return nil, fmt.Errorf("signature help: %w", err)
	}
	r.Signatures = len(help.Signatures)
	return r, nil
}

func (r *SignatureHelpResult) IsEmpty() bool { return r.Signatures == 0 }

func (r *SignatureHelpResult) rewrite(string, string) {}

func (r *SignatureHelpResult) value() any { return r.Raw }

// LocationsResult is Location | Location[] | LocationLink[] | null, the
// answer shape of definition and references.
type LocationsResult struct {
	Single    bool
	Locations []protocol.Location
	Links     []protocol.LocationLink
}

func decodeLocations(raw json.RawMessage) (Result, error) {
	r := &LocationsResult{}
	switch {
	case isNull(raw):
	case isArray(raw):
		var probe []struct {
			TargetURI *string `json:"targetUri"`
		}
		if err := json.Unmarshal(raw, &probe); err != nil {
			return nil, fmt.Errorf("locations: %w", err)
		}
		if len(probe) > 0 && probe[0].TargetURI != nil {
			if err := json.Unmarshal(raw, &r.Links); err != nil {
				return nil, fmt.Errorf("location links: %w", err)
			}
		} else if err := json.Unmarshal(raw, &r.Locations); err != nil {
			return nil, fmt.Errorf("locations: %w", err)
		}
	default:
		var loc protocol.Location
		if err := json.Unmarshal(raw, &loc); err != nil {
			return nil, fmt.Errorf("location: %w", err)
		}
		r.Single = true
		r.Locations = []protocol.Location{loc}
	}
	return r, nil
}

func (r *LocationsResult) IsEmpty() bool {
	return len(r.Locations) == 0 && len(r.Links) == 0
}

func (r *LocationsResult) rewrite(virtualURI, hostURI string) {
	for i := range r.Locations {
		if r.Locations[i].URI == virtualURI {
			r.Locations[i].URI = hostURI
		}
	}
	for i := range r.Links {
		if r.Links[i].TargetURI == virtualURI {
			r.Links[i].TargetURI = hostURI
		}
	}
}

func (r *LocationsResult) value() any {
	switch {
	case len(r.Links) > 0:
		return r.Links
	case r.Single:
		return r.Locations[0]
	default:
		return r.Locations
	}
}

// HighlightsResult is DocumentHighlight[] | null.
type HighlightsResult struct {
	Raw        json.RawMessage
	Highlights int
}

func decodeHighlights(raw json.RawMessage) (Result, error) {
	r := &HighlightsResult{Raw: raw}
	if isNull(raw) {
		return r, nil
	}
	var highlights []json.RawMessage
	if err := json.Unmarshal(raw, &highlights); err != nil {
		return nil, fmt.Errorf("document highlights: %w", err)
	}
	r.Highlights = len(highlights)
	return r, nil
}

func (r *HighlightsResult) IsEmpty() bool { return r.Highlights == 0 }

func (r *HighlightsResult) rewrite(string, string) {}

func (r *HighlightsResult) value() any { return r.Raw }

// HoverResult is Hover | null. Hover contents are MarkupContent,
// MarkedString or MarkedString[]; a hover is empty when nothing in it
// renders.
type HoverResult struct {
	Raw   json.RawMessage
	Empty bool
}

func decodeHover(raw json.RawMessage) (Result, error) {
	r := &HoverResult{Raw: raw, Empty: true}
	if isNull(raw) {
		return r, nil
	}
	var hover struct {
		Contents json.RawMessage `json:"contents"`
	}
	if err := json.Unmarshal(raw, &hover); err != nil {
		return nil, fmt.Errorf("hover: %w", err)
	}
	empty, err := emptyContents(hover.Contents)
	if err != nil {
		return nil, err
	}
	r.Empty = empty
	return r, nil
}

func emptyContents(raw json.RawMessage) (bool, error) {
	switch {
	case isNull(raw):
		return true, nil
	case isArray(raw):
		var parts []json.RawMessage
		if err := json.Unmarshal(raw, &parts); err != nil {
			return false, fmt.Errorf("hover contents: %w", err)
		}
		for _, part := range parts {
			empty, err := emptyContents(part)
			if err != nil || !empty {
				return empty, err
			}
		}
		return true, nil
	case bytes.TrimSpace(raw)[0] == '"':
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return false, fmt.Errorf("hover contents: %w", err)
		}
		return s == "", nil
	default:
		// MarkupContent and MarkedString objects both carry a value.
		var content struct {
			Value string `json:"value"`
		}
		if err := json.Unmarshal(raw, &content); err != nil {
			return false, fmt.Errorf("hover contents: %w", err)
		}
		return content.Value == "", nil
	}
}

func (r *HoverResult) IsEmpty() bool { return r.Empty }

func (r *HoverResult) rewrite(string, string) {}

func (r *HoverResult) value() any { return r.Raw }

// SymbolsResult is DocumentSymbol[] | SymbolInformation[] | null.
// Only the flat SymbolInformation shape carries URIs.
type SymbolsResult struct {
	Raw         json.RawMessage
	Count       int
	Information []protocol.SymbolInformation
}

func decodeSymbols(raw json.RawMessage) (Result, error) {
	r := &SymbolsResult{Raw: raw}
	if isNull(raw) {
		return r, nil
	}
	var probe []struct {
		Location *json.RawMessage `json:"location"`
	}
	if err := json.Unmarshal(raw, &probe); err != nil {
		return nil, fmt.Errorf("document symbols: %w", err)
	}
	r.Count = len(probe)
	if len(probe) > 0 && probe[0].Location != nil {
		if err := json.Unmarshal(raw, &r.Information); err != nil {
			return nil, fmt.Errorf("symbol information: %w", err)
		}
	}
	return r, nil
}

func (r *SymbolsResult) IsEmpty() bool { return r.Count == 0 }

func (r *SymbolsResult) rewrite(virtualURI, hostURI string) {
	for i := range r.Information {
		if r.Information[i].Location.URI == virtualURI {
			r.Information[i].Location.URI = hostURI
		}
	}
}

func (r *SymbolsResult) value() any {
	if r.Information != nil {
		return r.Information
	}
	return r.Raw
}
