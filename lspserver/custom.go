package lspserver

import (
	"context"
	"encoding/json"

	"github.com/proofls/proofls/errors"
	"github.com/tliron/glsp"
	protocol "github.com/tliron/glsp/protocol_3_16"
)

// errInvalidParams marks a custom method's params as malformed, so
// customHandler.Handle can report validParams=false instead of a bare
// execution error.
var errInvalidParams = errors.New("lspserver: invalid params")

// customMethod implements one "proof/*" extension method: decode ctx.Params
// itself (each method's shape differs) and run the matching Controller
// call on the document's single-consumer queue.
type customMethod func(s *Server, ctx *glsp.Context) (interface{}, error)

var customMethods = map[string]customMethod{
	"proof/stepForward":            handleStepForward,
	"proof/stepBackward":           handleStepBackward,
	"proof/interpretToPoint":       handleInterpretToPoint,
	"proof/interpretToEnd":         handleInterpretToEnd,
	"proof/goal":                   handleGoal,
	"proof/locate":                 handleLocate,
	"proof/check":                  handleCheck,
	"proof/search":                 handleSearch,
	"proof/searchAbout":            handleSearchAbout,
	"proof/interrupt":              handleInterrupt,
	"proof/reset":                  handleReset,
	"proof/quit":                   handleQuit,
	"proof/setWrappingWidth":       handleSetWrappingWidth,
	"proof/requestLtacProfResults": handleRequestLtacProfResults,
}

type textDocumentParams struct {
	TextDocument protocol.TextDocumentIdentifier `json:"textDocument"`
}

type offsetParams struct {
	TextDocument protocol.TextDocumentIdentifier `json:"textDocument"`
	Offset       int                             `json:"offset"`
}

type identParams struct {
	TextDocument protocol.TextDocumentIdentifier `json:"textDocument"`
	Ident        string                          `json:"ident"`
}

type termParams struct {
	TextDocument protocol.TextDocumentIdentifier `json:"textDocument"`
	Term         string                          `json:"term"`
}

type queryParams struct {
	TextDocument protocol.TextDocumentIdentifier `json:"textDocument"`
	Query        string                          `json:"query"`
}

type wrappingWidthParams struct {
	TextDocument protocol.TextDocumentIdentifier `json:"textDocument"`
	Columns      int                             `json:"columns"`
}

type ltacProfParams struct {
	TextDocument protocol.TextDocumentIdentifier `json:"textDocument"`
	Offset       *int                            `json:"offset,omitempty"`
}

type textResult struct {
	Text string `json:"text"`
}

func decodeParams(ctx *glsp.Context, v interface{}) error {
	if err := json.Unmarshal(ctx.Params, v); err != nil {
		return errors.Wrapf(errInvalidParams, "lspserver: decode %s params: %s", ctx.Method, err.Error())
	}
	return nil
}

func handleStepForward(s *Server, ctx *glsp.Context) (interface{}, error) {
	var p textDocumentParams
	if err := decodeParams(ctx, &p); err != nil {
		return nil, err
	}
	sess, err := s.session(p.TextDocument.URI)
	if err != nil {
		return nil, err
	}
	return sess.enqueue(func() (interface{}, error) {
		res, err := sess.controller.StepForward(context.Background())
		if err != nil {
			return nil, err
		}
		return toCommandResultPayload(res), nil
	})
}

func handleStepBackward(s *Server, ctx *glsp.Context) (interface{}, error) {
	var p textDocumentParams
	if err := decodeParams(ctx, &p); err != nil {
		return nil, err
	}
	sess, err := s.session(p.TextDocument.URI)
	if err != nil {
		return nil, err
	}
	return sess.enqueue(func() (interface{}, error) {
		res, err := sess.controller.StepBackward(context.Background())
		if err != nil {
			return nil, err
		}
		return toCommandResultPayload(res), nil
	})
}

func handleInterpretToPoint(s *Server, ctx *glsp.Context) (interface{}, error) {
	var p offsetParams
	if err := decodeParams(ctx, &p); err != nil {
		return nil, err
	}
	sess, err := s.session(p.TextDocument.URI)
	if err != nil {
		return nil, err
	}
	return sess.enqueue(func() (interface{}, error) {
		res, err := sess.controller.InterpretToPoint(context.Background(), p.Offset)
		if err != nil {
			return nil, err
		}
		return toCommandResultPayload(res), nil
	})
}

func handleInterpretToEnd(s *Server, ctx *glsp.Context) (interface{}, error) {
	var p textDocumentParams
	if err := decodeParams(ctx, &p); err != nil {
		return nil, err
	}
	sess, err := s.session(p.TextDocument.URI)
	if err != nil {
		return nil, err
	}
	return sess.enqueue(func() (interface{}, error) {
		res, err := sess.controller.InterpretToEnd(context.Background())
		if err != nil {
			return nil, err
		}
		return toCommandResultPayload(res), nil
	})
}

func handleGoal(s *Server, ctx *glsp.Context) (interface{}, error) {
	var p textDocumentParams
	if err := decodeParams(ctx, &p); err != nil {
		return nil, err
	}
	sess, err := s.session(p.TextDocument.URI)
	if err != nil {
		return nil, err
	}
	return sess.enqueue(func() (interface{}, error) {
		res := sess.controller.GetGoal(context.Background())
		return toGoalResultPayload(res), nil
	})
}

func handleLocate(s *Server, ctx *glsp.Context) (interface{}, error) {
	var p identParams
	if err := decodeParams(ctx, &p); err != nil {
		return nil, err
	}
	sess, err := s.session(p.TextDocument.URI)
	if err != nil {
		return nil, err
	}
	return sess.enqueue(func() (interface{}, error) {
		text, err := sess.controller.Locate(context.Background(), p.Ident)
		if err != nil {
			return nil, err
		}
		return textResult{Text: text}, nil
	})
}

func handleCheck(s *Server, ctx *glsp.Context) (interface{}, error) {
	var p termParams
	if err := decodeParams(ctx, &p); err != nil {
		return nil, err
	}
	sess, err := s.session(p.TextDocument.URI)
	if err != nil {
		return nil, err
	}
	return sess.enqueue(func() (interface{}, error) {
		text, err := sess.controller.Check(context.Background(), p.Term)
		if err != nil {
			return nil, err
		}
		return textResult{Text: text}, nil
	})
}

func handleSearch(s *Server, ctx *glsp.Context) (interface{}, error) {
	var p queryParams
	if err := decodeParams(ctx, &p); err != nil {
		return nil, err
	}
	sess, err := s.session(p.TextDocument.URI)
	if err != nil {
		return nil, err
	}
	return sess.enqueue(func() (interface{}, error) {
		text, err := sess.controller.Search(context.Background(), p.Query)
		if err != nil {
			return nil, err
		}
		return textResult{Text: text}, nil
	})
}

func handleSearchAbout(s *Server, ctx *glsp.Context) (interface{}, error) {
	var p queryParams
	if err := decodeParams(ctx, &p); err != nil {
		return nil, err
	}
	sess, err := s.session(p.TextDocument.URI)
	if err != nil {
		return nil, err
	}
	return sess.enqueue(func() (interface{}, error) {
		text, err := sess.controller.SearchAbout(context.Background(), p.Query)
		if err != nil {
			return nil, err
		}
		return textResult{Text: text}, nil
	})
}

// handleInterrupt deliberately bypasses the session's op queue: its whole
// purpose is to preempt whatever op is already running there.
func handleInterrupt(s *Server, ctx *glsp.Context) (interface{}, error) {
	var p textDocumentParams
	if err := decodeParams(ctx, &p); err != nil {
		return nil, err
	}
	sess, err := s.session(p.TextDocument.URI)
	if err != nil {
		return nil, err
	}
	sess.controller.Interrupt()
	return nil, nil
}

func handleReset(s *Server, ctx *glsp.Context) (interface{}, error) {
	var p textDocumentParams
	if err := decodeParams(ctx, &p); err != nil {
		return nil, err
	}
	sess, err := s.session(p.TextDocument.URI)
	if err != nil {
		return nil, err
	}
	return sess.enqueue(func() (interface{}, error) {
		return nil, sess.controller.Reset(context.Background())
	})
}

// handleQuit ends the document's prover conversation without discarding
// the session; a later proof/reset re-initializes against the same
// prover client (see document.Controller.Reset).
func handleQuit(s *Server, ctx *glsp.Context) (interface{}, error) {
	var p textDocumentParams
	if err := decodeParams(ctx, &p); err != nil {
		return nil, err
	}
	sess, err := s.session(p.TextDocument.URI)
	if err != nil {
		return nil, err
	}
	return sess.enqueue(func() (interface{}, error) {
		return nil, sess.controller.Quit(context.Background())
	})
}

func handleSetWrappingWidth(s *Server, ctx *glsp.Context) (interface{}, error) {
	var p wrappingWidthParams
	if err := decodeParams(ctx, &p); err != nil {
		return nil, err
	}
	sess, err := s.session(p.TextDocument.URI)
	if err != nil {
		return nil, err
	}
	return sess.enqueue(func() (interface{}, error) {
		return nil, sess.controller.SetWrappingWidth(context.Background(), p.Columns)
	})
}

func handleRequestLtacProfResults(s *Server, ctx *glsp.Context) (interface{}, error) {
	var p ltacProfParams
	if err := decodeParams(ctx, &p); err != nil {
		return nil, err
	}
	sess, err := s.session(p.TextDocument.URI)
	if err != nil {
		return nil, err
	}
	return sess.enqueue(func() (interface{}, error) {
		return nil, sess.controller.RequestLtacProfResults(context.Background(), p.Offset)
	})
}
