/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

// Package cli implements the callthrottle command-line interface.
package cli

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/acronis/go-callthrottle/config"
	"github.com/acronis/go-callthrottle/diag"
	"github.com/acronis/go-callthrottle/httpclient"
	"github.com/acronis/go-callthrottle/log"
	"github.com/acronis/go-callthrottle/throttle"
)

// EnvVarsPrefix is the prefix of environment variables that override configuration
// (e.g. CALLTHROTTLE_LOG_LEVEL=debug).
const EnvVarsPrefix = "callthrottle"

// Version is printed by "callthrottle --version". It is set by the main package.
var Version = "dev"

// NewRootCmd creates the callthrottle command with all subcommands.
func NewRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "callthrottle",
		Short: "Throttle and inspect outbound calls to rate-limited endpoints",
		Long: `callthrottle schedules outbound calls to rate-limited endpoints
(blockchain RPC nodes, third-party APIs) under per-class rate, concurrency and backoff limits.

Use "serve" to run the diagnostics server, "probe" to send test traffic through a throttle class
and "config defaults" to print the built-in configuration.`,
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.AddCommand(newServeCmd())
	rootCmd.AddCommand(newProbeCmd())
	rootCmd.AddCommand(newConfigCmd())

	return rootCmd
}

// AppConfig is the complete configuration of the callthrottle process.
type AppConfig struct {
	Log        *log.Config              `yaml:"log"`
	Throttle   *throttle.RegistryConfig `yaml:"throttle"`
	Diag       *diag.Config             `yaml:"diag"`
	HTTPClient *httpclient.Config       `yaml:"httpclient"`
}

// NewDefaultAppConfig returns the configuration used when no file and no environment overrides are given.
func NewDefaultAppConfig() *AppConfig {
	return &AppConfig{
		Log:        log.NewDefaultConfig(),
		Throttle:   throttle.NewDefaultRegistryConfig(),
		Diag:       diag.NewDefaultConfig(),
		HTTPClient: httpclient.NewDefaultConfig(),
	}
}

// LoadAppConfig reads configuration from path (YAML or JSON, by extension) and environment variables.
// An empty path means environment variables and defaults only.
func LoadAppConfig(path string) (*AppConfig, error) {
	cfg := &AppConfig{
		Log:        log.NewConfig(""),
		Throttle:   throttle.NewRegistryConfig(""),
		Diag:       diag.NewConfig(""),
		HTTPClient: httpclient.NewConfig(""),
	}
	loader := config.NewDefaultLoader(EnvVarsPrefix)
	if path == "" {
		if err := loader.Load(cfg.Log, cfg.Throttle, cfg.Diag, cfg.HTTPClient); err != nil {
			return nil, fmt.Errorf("load configuration: %w", err)
		}
		return cfg, nil
	}
	dataType, err := dataTypeFromPath(path)
	if err != nil {
		return nil, err
	}
	if err = loader.LoadFromFile(path, dataType, cfg.Log, cfg.Throttle, cfg.Diag, cfg.HTTPClient); err != nil {
		return nil, fmt.Errorf("load configuration from %s: %w", path, err)
	}
	return cfg, nil
}

func dataTypeFromPath(path string) (config.DataType, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return config.DataTypeYAML, nil
	case ".json":
		return config.DataTypeJSON, nil
	default:
		return "", fmt.Errorf("unsupported configuration file extension %q, .yaml, .yml or .json expected", filepath.Ext(path))
	}
}
