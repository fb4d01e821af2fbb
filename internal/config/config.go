// Package config loads proofls's runtime configuration with Viper, following
// the teacher's am.Load pattern: defaults, then a config file, then
// environment variables, then explicit overrides, each layer winning over
// the last.
package config

import (
	"os"
	"strings"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/proofls/proofls/errors"
)

// Config is proofls's full runtime configuration.
type Config struct {
	Prover   ProverConfig   `mapstructure:"prover"`
	Workspace WorkspaceConfig `mapstructure:"workspace"`
	Log      LogConfig      `mapstructure:"log"`
	Server   ServerConfig   `mapstructure:"server"`
	Document DocumentConfig `mapstructure:"document"`
}

// ProverConfig describes how to launch the prover subprocess.
type ProverConfig struct {
	Binary string   `mapstructure:"binary"`
	Args   []string `mapstructure:"args"`
}

// WorkspaceConfig locates the project the server is working against.
type WorkspaceConfig struct {
	Root string `mapstructure:"root"`
}

// LogConfig configures the logger.
type LogConfig struct {
	JSON  bool   `mapstructure:"json"`
	Level string `mapstructure:"level"`
}

// ServerConfig selects and configures the transport lspserver.Server is
// served over.
type ServerConfig struct {
	Transport string `mapstructure:"transport"` // "stdio" or "websocket"
	Address   string `mapstructure:"address"`   // used when Transport == "websocket"
}

// DocumentConfig configures every document.Controller's initial state.
type DocumentConfig struct {
	WrappingWidth int `mapstructure:"wrapping_width"`
}

// EnvPrefix is the prefix Viper binds environment variables under, e.g.
// PROOFLS_PROVER_BINARY for prover.binary.
const EnvPrefix = "PROOFLS"

// SetDefaults configures default values for every configuration key.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("prover.binary", "coq-lsp")
	v.SetDefault("prover.args", []string{})
	v.SetDefault("workspace.root", ".")
	v.SetDefault("log.json", false)
	v.SetDefault("log.level", "info")
	v.SetDefault("server.transport", "stdio")
	v.SetDefault("server.address", "127.0.0.1:4000")
	v.SetDefault("document.wrapping_width", 80)
}

// Load builds a Viper instance from defaults, a config file, and the
// environment, then unmarshals it into a Config. flags, if non-nil, is
// bound last so command-line overrides win over everything else.
func Load(flags *pflag.FlagSet) (*Config, error) {
	v := viper.New()

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	SetDefaults(v)

	configPath := configFilePath()
	if configPath != "" {
		v.SetConfigFile(configPath)
		v.SetConfigType("toml")
		if err := v.ReadInConfig(); err != nil {
			return nil, errors.Wrapf(err, "config: read %s", configPath)
		}
	}

	if flags != nil {
		if err := v.BindPFlags(flags); err != nil {
			return nil, errors.Wrap(err, "config: bind flags")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, errors.Wrap(err, "config: unmarshal")
	}
	return &cfg, nil
}

// configFilePath resolves which config file, if any, Load should read:
// $PROOFLS_CONFIG if set, otherwise ./proofls.toml if it exists, otherwise
// none (defaults and environment variables still apply).
func configFilePath() string {
	if path := os.Getenv(EnvPrefix + "_CONFIG"); path != "" {
		return path
	}
	if _, err := os.Stat("proofls.toml"); err == nil {
		return "proofls.toml"
	}
	return ""
}
