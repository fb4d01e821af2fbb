package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv(EnvPrefix+"_CONFIG", "")
	withWorkDir(t, t.TempDir())

	cfg, err := Load(nil)
	require.NoError(t, err)

	assert.Equal(t, "coq-lsp", cfg.Prover.Binary)
	assert.Equal(t, ".", cfg.Workspace.Root)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.False(t, cfg.Log.JSON)
	assert.Equal(t, "stdio", cfg.Server.Transport)
	assert.Equal(t, 80, cfg.Document.WrappingWidth)
}

func TestLoadReadsProjectConfigFile(t *testing.T) {
	dir := t.TempDir()
	withWorkDir(t, dir)
	t.Setenv(EnvPrefix+"_CONFIG", "")

	toml := "[prover]\nbinary = \"/opt/coq-lsp\"\n\n[document]\nwrapping_width = 100\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, "proofls.toml"), []byte(toml), 0o644))

	cfg, err := Load(nil)
	require.NoError(t, err)
	assert.Equal(t, "/opt/coq-lsp", cfg.Prover.Binary)
	assert.Equal(t, 100, cfg.Document.WrappingWidth)
}

func TestLoadEnvOverridesFile(t *testing.T) {
	dir := t.TempDir()
	withWorkDir(t, dir)
	toml := "[prover]\nbinary = \"/opt/coq-lsp\"\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, "proofls.toml"), []byte(toml), 0o644))
	t.Setenv(EnvPrefix+"_PROVER_BINARY", "/usr/bin/coq-lsp")

	cfg, err := Load(nil)
	require.NoError(t, err)
	assert.Equal(t, "/usr/bin/coq-lsp", cfg.Prover.Binary)
}

func TestLoadFlagsOverrideEverything(t *testing.T) {
	dir := t.TempDir()
	withWorkDir(t, dir)
	toml := "[prover]\nbinary = \"/opt/coq-lsp\"\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, "proofls.toml"), []byte(toml), 0o644))
	t.Setenv(EnvPrefix+"_PROVER_BINARY", "/usr/bin/coq-lsp")

	flags := pflag.NewFlagSet("test", pflag.ContinueOnError)
	flags.String("prover.binary", "", "")
	require.NoError(t, flags.Set("prover.binary", "/custom/coq-lsp"))

	cfg, err := Load(flags)
	require.NoError(t, err)
	assert.Equal(t, "/custom/coq-lsp", cfg.Prover.Binary)
}

func TestConfigFilePathPrefersEnvVar(t *testing.T) {
	dir := t.TempDir()
	withWorkDir(t, dir)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "proofls.toml"), []byte("[prover]\nbinary = \"ignored\"\n"), 0o644))

	explicit := filepath.Join(dir, "explicit.toml")
	require.NoError(t, os.WriteFile(explicit, []byte("[prover]\nbinary = \"explicit\"\n"), 0o644))
	t.Setenv(EnvPrefix+"_CONFIG", explicit)

	assert.Equal(t, explicit, configFilePath())
}

func withWorkDir(t *testing.T, dir string) {
	t.Helper()
	orig, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { _ = os.Chdir(orig) })
}
