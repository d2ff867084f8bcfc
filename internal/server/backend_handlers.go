package server

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"

	"embedlsp/internal/backend"

	"github.com/sourcegraph/jsonrpc2"
	"github.com/tliron/glsp"
	protocol "github.com/tliron/glsp/protocol_3_16"
)

// Diagnostic codes of the primary backend that carry a tag.
var diagnosticTags = map[string]protocol.DiagnosticTag{
	"10010": protocol.DiagnosticTagUnnecessary,
	"10016": protocol.DiagnosticTagDeprecated,
}

// primaryInbound forwards the primary backend's diagnostics and messages to
// the editor.
func primaryInbound(notify glsp.NotifyFunc) backend.Inbound {
	return func(ctx context.Context, req *jsonrpc2.Request) (any, error) {
		if !req.Notif {
			return answerServerRequest(req)
		}
		if req.Params == nil {
			return nil, nil
		}

		switch req.Method {
		case protocol.ServerTextDocumentPublishDiagnostics:
			params, err := tagDiagnostics(*req.Params)
			if err != nil {
				log.Warningf("malformed diagnostics: %s", err)
				return nil, nil
			}
			notify(req.Method, params)

		case protocol.ServerWindowLogMessage, protocol.ServerWindowShowMessage, protocol.ServerTelemetryEvent:
			notify(req.Method, *req.Params)

		default:
			log.Debugf("dropping %s from primary backend", req.Method)
		}
		return nil, nil
	}
}

// secondaryInbound drops everything the secondary backend says about virtual
// documents; the editor does not know them.
func secondaryInbound(ctx context.Context, req *jsonrpc2.Request) (any, error) {
	if req.Notif {
		return nil, nil
	}
	return answerServerRequest(req)
}

// answerServerRequest gives backends the neutral answer to requests only the
// editor could really answer.
func answerServerRequest(req *jsonrpc2.Request) (any, error) {
	switch req.Method {
	case protocol.ServerWorkspaceConfiguration:
		var params protocol.ConfigurationParams
		if req.Params != nil {
			if err := json.Unmarshal(*req.Params, &params); err != nil {
				return nil, &jsonrpc2.Error{Code: jsonrpc2.CodeInvalidParams, Message: err.Error()}
			}
		}
		return make([]any, len(params.Items)), nil

	case protocol.ServerWorkspaceApplyEdit:
		return protocol.ApplyWorkspaceEditResponse{Applied: false}, nil
	}
	return nil, nil
}

// tagDiagnostics adds the tags implied by diagnostic codes. It works on the
// raw params so that every other field reaches the editor untouched.
func tagDiagnostics(raw json.RawMessage) (json.RawMessage, error) {
	var params map[string]json.RawMessage
	if err := json.Unmarshal(raw, &params); err != nil {
		return nil, err
	}
	var diagnostics []map[string]json.RawMessage
	if err := json.Unmarshal(params["diagnostics"], &diagnostics); err != nil {
		return nil, err
	}

	changed := false
	for _, d := range diagnostics {
		var code any
		if err := json.Unmarshal(d["code"], &code); err != nil || code == nil {
			continue
		}
		tag, ok := diagnosticTags[fmt.Sprint(code)]
		if !ok {
			continue
		}
		var tags []protocol.DiagnosticTag
		if t, ok := d["tags"]; ok {
			if err := json.Unmarshal(t, &tags); err != nil {
				continue
			}
		}
		if slices.Contains(tags, tag) {
			continue
		}
		data, err := json.Marshal(append(tags, tag))
		if err != nil {
			return nil, err
		}
		d["tags"] = data
		changed = true
	}
	if !changed {
		return raw, nil
	}

	data, err := json.Marshal(diagnostics)
	if err != nil {
		return nil, err
	}
	params["diagnostics"] = data
	return json.Marshal(params)
}
