package lspserver

import (
	"context"

	"github.com/proofls/proofls/buffer"
	"github.com/proofls/proofls/errors"
	"github.com/proofls/proofls/internal/util"
	"github.com/proofls/proofls/logger"
	"github.com/proofls/proofls/version"
	"github.com/tliron/glsp"
	protocol "github.com/tliron/glsp/protocol_3_16"
)

// customHandler wraps the generated protocol.Handler so custom "proof/*"
// extension methods can be dispatched alongside the standard LSP
// vocabulary: protocol.Handler.Handle already switches on ctx.Method
// against its named fields and reports validMethod=false for anything it
// doesn't recognize, so this only needs to intercept that miss.
type customHandler struct {
	*protocol.Handler
	server *Server
}

func (h *customHandler) Handle(ctx *glsp.Context) (r interface{}, validMethod bool, validParams bool, err error) {
	if fn, ok := customMethods[ctx.Method]; ok {
		r, err = fn(h.server, ctx)
		if errors.Is(err, errInvalidParams) {
			return nil, true, false, err
		}
		return r, true, true, err
	}
	return h.Handler.Handle(ctx)
}

func (s *Server) initialize(ctx *glsp.Context, params *protocol.InitializeParams) (interface{}, error) {
	logger.Infow("lspserver: client initializing", "client", params.ClientInfo)

	syncKind := protocol.TextDocumentSyncKindFull
	capabilities := protocol.ServerCapabilities{
		TextDocumentSync: &protocol.TextDocumentSyncOptions{
			OpenClose: util.Ptr(true),
			Change:    &syncKind,
		},
	}

	return protocol.InitializeResult{
		Capabilities: capabilities,
		ServerInfo: &protocol.InitializeResultServerInfo{
			Name:    "proofls",
			Version: util.Ptr(version.Get().Version),
		},
	}, nil
}

func (s *Server) initialized(ctx *glsp.Context, params *protocol.InitializedParams) error {
	logger.Infow("lspserver: client initialized")
	return nil
}

func (s *Server) shutdown(ctx *glsp.Context) error {
	logger.Infow("lspserver: client shutting down")
	s.mu.Lock()
	sessions := make([]*documentSession, 0, len(s.sessions))
	for uri, sess := range s.sessions {
		sessions = append(sessions, sess)
		delete(s.sessions, uri)
	}
	s.mu.Unlock()
	for _, sess := range sessions {
		sess.close()
		_ = sess.controller.Quit(context.Background())
	}
	return nil
}

func (s *Server) textDocumentDidOpen(ctx *glsp.Context, params *protocol.DidOpenTextDocumentParams) error {
	uri := params.TextDocument.URI
	logger.Debugw("lspserver: document opened", "uri", uri)
	return s.openDocument(ctx, uri, params.TextDocument.Text, int(params.TextDocument.Version))
}

func (s *Server) textDocumentDidChange(ctx *glsp.Context, params *protocol.DidChangeTextDocumentParams) error {
	sess, err := s.session(params.TextDocument.URI)
	if err != nil {
		return err
	}
	docVersion := int(params.TextDocument.Version)
	for _, change := range params.ContentChanges {
		whole, ok := change.(protocol.TextDocumentContentChangeEventWhole)
		if !ok {
			continue
		}
		edit := whole.Text
		_, applyErr := sess.enqueue(func() (interface{}, error) {
			changes := []buffer.Change{{FullDocument: true, Text: edit}}
			return nil, sess.controller.ApplyTextEdits(context.Background(), changes, docVersion)
		})
		if applyErr != nil {
			return applyErr
		}
	}
	return nil
}

func (s *Server) textDocumentDidClose(ctx *glsp.Context, params *protocol.DidCloseTextDocumentParams) error {
	logger.Debugw("lspserver: document closed", "uri", params.TextDocument.URI)
	return s.closeDocument(params.TextDocument.URI)
}
