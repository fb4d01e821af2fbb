package commands

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/proofls/proofls/version"
)

func TestVersionCommandJSON(t *testing.T) {
	VersionCmd.SetArgs([]string{"--json"})
	var out bytes.Buffer
	VersionCmd.SetOut(&out)

	require.NoError(t, VersionCmd.Execute())

	var info version.Info
	require.NoError(t, json.Unmarshal(out.Bytes(), &info))
	assert.Equal(t, version.Get().GoVersion, info.GoVersion)
}
