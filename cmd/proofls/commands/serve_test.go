package commands

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/proofls/proofls/internal/config"
)

func TestServeCmdFlagsBindConfigKeys(t *testing.T) {
	require.NoError(t, ServeCmd.Flags().Set("prover.binary", "/custom/coq-lsp"))
	require.NoError(t, ServeCmd.Flags().Set("server.transport", "websocket"))

	cfg, err := config.Load(ServeCmd.Flags())
	require.NoError(t, err)
	assert.Equal(t, "/custom/coq-lsp", cfg.Prover.Binary)
	assert.Equal(t, "websocket", cfg.Server.Transport)
}
