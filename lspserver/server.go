// Package lspserver adapts document.Controller to the Language Server
// Protocol: one prover subprocess and one controller per open document,
// standard text-sync lifecycle methods, and a set of custom "proof/*"
// extension methods that expose the controller's proof-stepping surface.
package lspserver

import (
	"context"
	"net/http"
	"strings"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/proofls/proofls/document"
	"github.com/proofls/proofls/errors"
	"github.com/proofls/proofls/logger"
	"github.com/proofls/proofls/prover"
	"github.com/tliron/glsp"
	protocol "github.com/tliron/glsp/protocol_3_16"
	glspserver "github.com/tliron/glsp/server"
)

// Options configures a Server.
type Options struct {
	// ProverBinary and ProverArgs describe how to launch one prover
	// subprocess per opened document.
	ProverBinary string
	ProverArgs   []string
	// WrappingWidth is the initial pretty-printing width for every new
	// document's controller.
	WrappingWidth int
	// AllowedOriginPrefixes gates WebSocket connections by Origin header
	// prefix; an empty Origin header is always allowed (direct clients,
	// tests). Defaults to localhost-only if unset.
	AllowedOriginPrefixes []string
}

func (o Options) withDefaults() Options {
	if o.WrappingWidth == 0 {
		o.WrappingWidth = 80
	}
	if len(o.AllowedOriginPrefixes) == 0 {
		o.AllowedOriginPrefixes = []string{"http://localhost", "https://localhost"}
	}
	return o
}

// Server holds one documentSession per open document and implements the
// protocol.Handler surface (via its handler methods in handler.go, wired
// together by protocolHandler) that glspserver.Server drives.
type Server struct {
	opts Options

	mu       sync.Mutex
	sessions map[protocol.DocumentUri]*documentSession
}

// NewServer constructs a Server. No documents are open and no
// subprocesses are spawned until the client sends textDocument/didOpen.
func NewServer(opts Options) *Server {
	return &Server{
		opts:     opts.withDefaults(),
		sessions: make(map[protocol.DocumentUri]*documentSession),
	}
}

// Serve runs the server over stdio, blocking until the connection closes.
func (s *Server) Serve(ctx context.Context) error {
	h := s.protocolHandler()
	glspServer := glspserver.NewServer(h, "proofls", false)
	return glspServer.RunStdio()
}

// ServeHTTP upgrades an HTTP request to a WebSocket and serves the LSP
// protocol over it, following the teacher's HandleGLSPWebSocket pattern:
// one upgraded connection per editor, blocking until it disconnects.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	upgrader := websocket.Upgrader{CheckOrigin: s.checkOrigin}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Errorw("lspserver: websocket upgrade failed", "error", err)
		return
	}

	h := s.protocolHandler()
	glspServer := glspserver.NewServer(h, "proofls", false)
	glspServer.ServeWebSocket(conn)
}

func (s *Server) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	for _, prefix := range s.opts.AllowedOriginPrefixes {
		if strings.HasPrefix(origin, prefix) {
			return true
		}
	}
	return false
}

func (s *Server) protocolHandler() *customHandler {
	base := &protocol.Handler{
		Initialize:            s.initialize,
		Initialized:           s.initialized,
		Shutdown:              s.shutdown,
		TextDocumentDidOpen:   s.textDocumentDidOpen,
		TextDocumentDidChange: s.textDocumentDidChange,
		TextDocumentDidClose:  s.textDocumentDidClose,
	}
	return &customHandler{Handler: base, server: s}
}

func (s *Server) session(uri protocol.DocumentUri) (*documentSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[uri]
	if !ok {
		return nil, errors.Newf("lspserver: no open document %q", string(uri))
	}
	return sess, nil
}

func (s *Server) openDocument(glspCtx *glsp.Context, uri protocol.DocumentUri, text string, version int) error {
	client, err := prover.NewStdioClient(s.opts.ProverBinary, s.opts.ProverArgs...)
	if err != nil {
		return errors.Wrap(err, "lspserver: spawn prover")
	}

	cb := document.Callbacks{
		Highlight: func(items []document.HighlightItem) {
			wire := make([]wireHighlightItem, len(items))
			for i, it := range items {
				wire[i] = wireHighlightItem{Range: toProtocolRange(it.Range), Style: string(it.Style)}
			}
			glspCtx.Notify("proofState/highlights", map[string]interface{}{
				"textDocument": map[string]interface{}{"uri": uri},
				"items":        wire,
			})
		},
		Diagnostics: func(diags []document.DiagnosticItem) {
			out := make([]protocol.Diagnostic, len(diags))
			severity := protocol.DiagnosticSeverityError
			for i, d := range diags {
				r := toProtocolRange(d.Range)
				out[i] = protocol.Diagnostic{Range: r, Severity: &severity, Message: d.Message}
			}
			glspCtx.Notify(protocol.ServerTextDocumentPublishDiagnostics, protocol.PublishDiagnosticsParams{
				URI:         uri,
				Diagnostics: out,
			})
		},
		Message: func(level prover.MessageLevel, text, rich string) {
			glspCtx.Notify("window/logMessage", map[string]interface{}{
				"type":    logMessageType(level),
				"message": text,
				"rich":    rich,
			})
		},
		Reset: func() {
			glspCtx.Notify("proofState/reset", map[string]interface{}{
				"textDocument": map[string]interface{}{"uri": uri},
			})
		},
		LtacProf: func(results string) {
			glspCtx.Notify("proofState/ltacProfResults", map[string]interface{}{
				"textDocument": map[string]interface{}{"uri": uri},
				"results":      results,
			})
		},
		ComputingStatus: func(status string, elapsedMs int64) {
			glspCtx.Notify("proofState/computingStatus", map[string]interface{}{
				"textDocument": map[string]interface{}{"uri": uri},
				"status":       status,
				"elapsedMs":    elapsedMs,
			})
		},
	}

	controller := document.New(text, version, client, cb)
	sess := newDocumentSession(uri, controller, client, glspCtx)

	s.mu.Lock()
	old, hadOld := s.sessions[uri]
	s.sessions[uri] = sess
	s.mu.Unlock()
	if hadOld {
		old.close()
		_ = old.controller.Close(context.Background())
	}

	if err := controller.Init(context.Background()); err != nil {
		return errors.Wrap(err, "lspserver: init prover")
	}
	return controller.SetWrappingWidth(context.Background(), s.opts.WrappingWidth)
}

func (s *Server) closeDocument(uri protocol.DocumentUri) error {
	s.mu.Lock()
	sess, ok := s.sessions[uri]
	if ok {
		delete(s.sessions, uri)
	}
	s.mu.Unlock()
	if !ok {
		return nil
	}
	sess.close()
	return sess.controller.Close(context.Background())
}

func logMessageType(level prover.MessageLevel) int {
	switch level {
	case prover.LevelError:
		return 1
	case prover.LevelWarning:
		return 2
	default:
		return 3
	}
}
