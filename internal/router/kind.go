package router

import (
	"encoding/json"
	"errors"

	"embedlsp/internal/vdoc"

	protocol "github.com/tliron/glsp/protocol_3_16"
)

// Kind describes one routed request type.
type Kind struct {
	Method string
	// Default is answered whenever neither backend can.
	Default func() any

	decode func(json.RawMessage) (Result, error)
	target func(json.RawMessage) (target, error)
}

// target is what a request is about.
type target struct {
	uri     string
	place   vdoc.Place
	trigger string
}

// Kinds returns every routed request type.
func Kinds() []*Kind {
	return []*Kind{
		{
			Method: protocol.MethodTextDocumentCompletion,
			Default: func() any {
				return protocol.CompletionList{IsIncomplete: false, Items: []protocol.CompletionItem{}}
			},
			decode: decodeCompletion,
			target: completionTarget,
		},
		{
			Method:  protocol.MethodTextDocumentSignatureHelp,
			Default: func() any { return nil },
			decode:  decodeSignatureHelp,
			target:  positionTarget,
		},
		{
			Method:  protocol.MethodTextDocumentDefinition,
			Default: func() any { return []protocol.Location{} },
			decode:  decodeLocations,
			target:  positionTarget,
		},
		{
			Method:  protocol.MethodTextDocumentReferences,
			Default: func() any { return []protocol.Location{} },
			decode:  decodeLocations,
			target:  positionTarget,
		},
		{
			Method:  protocol.MethodTextDocumentDocumentHighlight,
			Default: func() any { return []protocol.DocumentHighlight{} },
			decode:  decodeHighlights,
			target:  positionTarget,
		},
		{
			Method:  protocol.MethodTextDocumentHover,
			Default: func() any { return nil },
			decode:  decodeHover,
			target:  positionTarget,
		},
		{
			Method:  protocol.MethodTextDocumentDocumentSymbol,
			Default: func() any { return []protocol.DocumentSymbol{} },
			decode:  decodeSymbols,
			target:  documentTarget,
		},
	}
}

var errNoDocument = errors.New("missing textDocument.uri")

func positionTarget(raw json.RawMessage) (target, error) {
	var params protocol.TextDocumentPositionParams
	if err := json.Unmarshal(raw, &params); err != nil {
		return target{}, err
	}
	if params.TextDocument.URI == "" {
		return target{}, errNoDocument
	}
	return target{uri: params.TextDocument.URI, place: vdoc.AtPosition{Position: params.Position}}, nil
}

func completionTarget(raw json.RawMessage) (target, error) {
	t, err := positionTarget(raw)
	if err != nil {
		return t, err
	}
	var params struct {
		Context *protocol.CompletionContext `json:"context"`
	}
	if err := json.Unmarshal(raw, &params); err != nil {
		return target{}, err
	}
	if params.Context != nil && params.Context.TriggerCharacter != nil {
		t.trigger = *params.Context.TriggerCharacter
	}
	return t, nil
}

func documentTarget(raw json.RawMessage) (target, error) {
	var params struct {
		TextDocument protocol.TextDocumentIdentifier `json:"textDocument"`
	}
	if err := json.Unmarshal(raw, &params); err != nil {
		return target{}, err
	}
	if params.TextDocument.URI == "" {
		return target{}, errNoDocument
	}
	return target{uri: params.TextDocument.URI, place: vdoc.Anywhere{}}, nil
}
