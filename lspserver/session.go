package lspserver

import (
	"github.com/proofls/proofls/document"
	"github.com/proofls/proofls/errors"
	"github.com/proofls/proofls/prover"
	"github.com/tliron/glsp"
	protocol "github.com/tliron/glsp/protocol_3_16"
)

// documentSession binds one open document to its own prover subprocess and
// controller, and serializes every command against it onto a single
// consumer goroutine — concurrent proof/* requests for the same document
// queue behind each other; requests for different documents never block
// one another, since each has its own session and its own prover process.
type documentSession struct {
	uri        protocol.DocumentUri
	controller *document.Controller
	client     *prover.StdioClient
	ctx        *glsp.Context

	ops  chan func()
	done chan struct{}
}

func newDocumentSession(uri protocol.DocumentUri, controller *document.Controller, client *prover.StdioClient, ctx *glsp.Context) *documentSession {
	s := &documentSession{
		uri:        uri,
		controller: controller,
		client:     client,
		ctx:        ctx,
		ops:        make(chan func(), 32),
		done:       make(chan struct{}),
	}
	go s.run()
	return s
}

func (s *documentSession) run() {
	for {
		select {
		case op := <-s.ops:
			op()
		case <-s.done:
			return
		}
	}
}

type opResult struct {
	val interface{}
	err error
}

// enqueue runs op on the session's single consumer and blocks for its
// result. Interrupt is deliberately never routed through here — it must
// be able to preempt whatever op is already running.
func (s *documentSession) enqueue(op func() (interface{}, error)) (interface{}, error) {
	resultCh := make(chan opResult, 1)
	select {
	case s.ops <- func() {
		v, err := op()
		resultCh <- opResult{v, err}
	}:
	case <-s.done:
		return nil, errors.New("lspserver: document closed")
	}
	select {
	case r := <-resultCh:
		return r.val, r.err
	case <-s.done:
		return nil, errors.New("lspserver: document closed")
	}
}

// close stops the session's consumer goroutine. It does not itself tear
// down the controller or prover process — callers do that afterwards.
func (s *documentSession) close() {
	close(s.done)
}
