package lspserver

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/proofls/proofls/document"
	"github.com/proofls/proofls/prover"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tliron/glsp"
	protocol "github.com/tliron/glsp/protocol_3_16"
)

const testURI = protocol.DocumentUri("file:///test.v")

func newTestServer(t *testing.T, text string) (*Server, *prover.FakeClient) {
	t.Helper()
	s := NewServer(Options{})
	client := prover.NewFakeClient()
	controller := document.New(text, 1, client, document.Callbacks{})
	require.NoError(t, controller.Init(context.Background()))
	sess := newDocumentSession(testURI, controller, nil, nil)
	s.sessions[testURI] = sess
	return s, client
}

func callCustom(t *testing.T, s *Server, method string, params interface{}) (interface{}, error) {
	t.Helper()
	body, err := json.Marshal(params)
	require.NoError(t, err)
	ctx := &glsp.Context{Method: method, Params: json.RawMessage(body)}
	fn, ok := customMethods[method]
	require.True(t, ok, "method %s not registered", method)
	return fn(s, ctx)
}

func TestHandleStepForwardReturnsAddedResult(t *testing.T) {
	s, _ := newTestServer(t, "A. B.")
	r, err := callCustom(t, s, "proof/stepForward", textDocumentParams{
		TextDocument: protocol.TextDocumentIdentifier{URI: testURI},
	})
	require.NoError(t, err)
	payload, ok := r.(commandResultPayload)
	require.True(t, ok)
	assert.Equal(t, "added", payload.Kind)
}

func TestHandleGoalNoProofBeforeAnyStep(t *testing.T) {
	s, _ := newTestServer(t, "A. B.")
	r, err := callCustom(t, s, "proof/goal", textDocumentParams{
		TextDocument: protocol.TextDocumentIdentifier{URI: testURI},
	})
	require.NoError(t, err)
	payload, ok := r.(goalResultPayload)
	require.True(t, ok)
	assert.Equal(t, "noProof", payload.Kind)
}

func TestHandleLocateReturnsText(t *testing.T) {
	s, _ := newTestServer(t, "A.")
	r, err := callCustom(t, s, "proof/locate", identParams{
		TextDocument: protocol.TextDocumentIdentifier{URI: testURI},
		Ident:        "foo",
	})
	require.NoError(t, err)
	payload, ok := r.(textResult)
	require.True(t, ok)
	assert.Equal(t, "ok: Locate foo", payload.Text)
}

func TestHandleQuitEndsProverConversation(t *testing.T) {
	s, _ := newTestServer(t, "A. B.")
	_, err := callCustom(t, s, "proof/quit", textDocumentParams{
		TextDocument: protocol.TextDocumentIdentifier{URI: testURI},
	})
	require.NoError(t, err)

	r, err := callCustom(t, s, "proof/goal", textDocumentParams{
		TextDocument: protocol.TextDocumentIdentifier{URI: testURI},
	})
	require.NoError(t, err)
	payload, ok := r.(goalResultPayload)
	require.True(t, ok)
	assert.Equal(t, "notRunning", payload.Kind, "goal must report notRunning once the prover conversation has quit")
}

func TestHandleUnknownDocumentReturnsError(t *testing.T) {
	s := NewServer(Options{})
	_, err := callCustom(t, s, "proof/goal", textDocumentParams{
		TextDocument: protocol.TextDocumentIdentifier{URI: protocol.DocumentUri("file:///missing.v")},
	})
	assert.Error(t, err)
}

func TestDecodeParamsRejectsMalformedJSON(t *testing.T) {
	ctx := &glsp.Context{Method: "proof/stepForward", Params: json.RawMessage("not json")}
	var p textDocumentParams
	err := decodeParams(ctx, &p)
	require.Error(t, err)
	assert.ErrorIs(t, err, errInvalidParams)
}

func TestCustomHandlerHandleDispatchesRegisteredMethod(t *testing.T) {
	s, _ := newTestServer(t, "A.")
	h := &customHandler{Handler: &protocol.Handler{}, server: s}
	body, err := json.Marshal(textDocumentParams{TextDocument: protocol.TextDocumentIdentifier{URI: testURI}})
	require.NoError(t, err)
	ctx := &glsp.Context{Method: "proof/goal", Params: json.RawMessage(body)}

	r, validMethod, validParams, err := h.Handle(ctx)
	require.NoError(t, err)
	assert.True(t, validMethod)
	assert.True(t, validParams)
	_, ok := r.(goalResultPayload)
	assert.True(t, ok)
}
