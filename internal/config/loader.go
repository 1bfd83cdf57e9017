package config

import (
	"fmt"
	"os"
)

// Load resolves configuration with precedence defaults → environment →
// command-line flags, then validates the result. args is typically
// os.Args[1:]; callers in tests pass a fixed slice instead.
func Load(args []string) (*Config, error) {
	cfg := defaultConfig()

	loadAppFromEnv(&cfg.App)
	loadServerFromEnv(&cfg.Server)
	loadExecutorFromEnv(&cfg.Executor)
	loadStorageFromEnv(&cfg.Storage)
	loadEventsFromEnv(&cfg.Events)

	if err := applyFlags(cfg, args); err != nil {
		return nil, fmt.Errorf("parsing flags: %w", err)
	}

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// LoadFromEnv loads configuration without consulting os.Args, for embedding
// contexts (tests, library callers) that don't want command-line parsing.
func LoadFromEnv() (*Config, error) {
	return Load(nil)
}

// MustLoad is Load, exiting the process on failure. Used only from cmd/server.
func MustLoad() *Config {
	cfg, err := Load(os.Args[1:])
	if err != nil {
		fmt.Fprintf(os.Stderr, "kvdaemon: %v\n", err)
		os.Exit(1)
	}
	return cfg
}
