package prover

import (
	"bufio"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReadContentLength(t *testing.T) {
	r := bufio.NewReader(strings.NewReader("Content-Length: 42\r\n\r\n"))
	n, err := readContentLength(r)
	require.NoError(t, err)
	assert.Equal(t, 42, n)
}

func TestReadContentLengthMissingHeader(t *testing.T) {
	r := bufio.NewReader(strings.NewReader("\r\n"))
	_, err := readContentLength(r)
	assert.Error(t, err)
}

func TestTranslateErrorRecognizesFailurePayload(t *testing.T) {
	c := &StdioClient{}
	rpcErr := &jsonrpcError{
		Code:    1,
		Message: "syntax error",
		Data:    []byte(`{"stateId":"s1","range":{"start":{"line":0,"character":3},"end":{"line":0,"character":7}},"message":"syntax"}`),
	}
	err := c.translateError(rpcErr)
	failure, ok := AsFailure(err)
	require.True(t, ok)
	assert.Equal(t, "s1", failure.StateID)
	assert.Equal(t, "syntax", failure.Message)
	assert.Equal(t, 3, failure.Range.Start.Character)
}

func TestTranslateErrorFallsBackToPlainError(t *testing.T) {
	c := &StdioClient{}
	err := c.translateError(&jsonrpcError{Message: "boom"})
	_, ok := AsFailure(err)
	assert.False(t, ok)
	assert.Contains(t, err.Error(), "boom")
}
