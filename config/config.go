// Copyright (C) 2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package config defines the node configuration and its file loader.
package config

import (
	"fmt"

	"github.com/spf13/viper"
)

// Config is the node configuration. Fields map to the config file keys and
// are overridden by command-line flags.
type Config struct {
	ChainID  uint64 `mapstructure:"chain-id" json:"chainId"`
	GasLimit uint64 `mapstructure:"gas-limit" json:"gasLimit"`

	EngineAddr string `mapstructure:"engine-addr" json:"engineAddr"`
	PublicAddr string `mapstructure:"public-addr" json:"publicAddr"`

	// JWTSecretPath points at the hex-encoded engine secret; the JWT_SECRET
	// environment variable overrides it.
	JWTSecretPath string `mapstructure:"jwt-secret" json:"jwtSecret"`

	// DataDir persists the chain; empty keeps everything in memory.
	DataDir string `mapstructure:"data-dir" json:"dataDir"`

	LogLevel  string `mapstructure:"log-level" json:"logLevel"`
	LogJSON   bool   `mapstructure:"log-json" json:"logJson"`
	LogFile   string `mapstructure:"log-file" json:"logFile"`
	LogFileMB int    `mapstructure:"log-file-mb" json:"logFileMb"`

	Metrics bool `mapstructure:"metrics" json:"metrics"`
}

// Default returns the dev-mode configuration.
func Default() Config {
	return Config{
		ChainID:    404,
		GasLimit:   30_000_000,
		EngineAddr: "127.0.0.1:8551",
		PublicAddr: "127.0.0.1:8545",
		LogLevel:   "info",
		LogFileMB:  100,
		Metrics:    true,
	}
}

// Load reads the config file at path (JSON, TOML or YAML by extension) over
// the defaults. An empty path yields the defaults.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return cfg, fmt.Errorf("read config %s: %w", path, err)
	}
	if err := v.Unmarshal(&cfg); err != nil {
		return cfg, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, nil
}
