package server

import (
	"encoding/json"
	"errors"

	"github.com/tliron/glsp"
	protocol "github.com/tliron/glsp/protocol_3_16"
)

var errNotInitialized = errors.New("server not initialized")

// The primary backend sees every host document exactly as the editor sends
// it. The raw params are forwarded so nothing is lost in re-encoding.

func (s *Server) textDocumentDidOpen(
	context *glsp.Context,
	params *protocol.DidOpenTextDocumentParams,
) error {
	sess := s.session()
	if sess == nil {
		return errNotInitialized
	}
	doc := params.TextDocument
	sess.docs.Open(doc.URI, doc.LanguageID, doc.Version, doc.Text)
	return sess.primary.Notify(s.ctx, context.Method, json.RawMessage(context.Params))
}

func (s *Server) textDocumentDidChange(
	context *glsp.Context,
	params *protocol.DidChangeTextDocumentParams,
) error {
	sess := s.session()
	if sess == nil {
		return errNotInitialized
	}
	if err := sess.primary.Notify(s.ctx, context.Method, json.RawMessage(context.Params)); err != nil {
		log.Warningf("forwarding change of %s: %s", params.TextDocument.URI, err)
	}

	snap, err := sess.docs.Change(params.TextDocument.URI, params.TextDocument.Version, params.ContentChanges)
	if err != nil {
		return err
	}
	sess.coord.DidChangeHost(snap.URI, snap.Version)
	return nil
}

func (s *Server) textDocumentDidSave(
	context *glsp.Context,
	params *protocol.DidSaveTextDocumentParams,
) error {
	sess := s.session()
	if sess == nil {
		return errNotInitialized
	}
	return sess.primary.Notify(s.ctx, context.Method, json.RawMessage(context.Params))
}

func (s *Server) textDocumentDidClose(
	context *glsp.Context,
	params *protocol.DidCloseTextDocumentParams,
) error {
	sess := s.session()
	if sess == nil {
		return errNotInitialized
	}
	uri := params.TextDocument.URI
	sess.docs.Close(uri)
	sess.coord.DidCloseHost(uri)
	if err := sess.host.Close(s.ctx, sess.coord.VirtualURI(uri)); err != nil {
		log.Warningf("closing virtual document of %s: %s", uri, err)
	}
	return sess.primary.Notify(s.ctx, context.Method, json.RawMessage(context.Params))
}
