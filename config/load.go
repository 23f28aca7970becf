package config

import (
	"fmt"
	"os"
)

// Load runs the full configuration pipeline: defaults, then data
// directory creation, then an on-disk config file (written on first
// run), then command-line flags as the final, highest-precedence
// layer.
func Load(args []string) (*Config, *Flags, error) {
	flags, err := Parse(args)
	if err != nil {
		return nil, nil, err
	}
	if flags.Help {
		Usage()
		os.Exit(0)
	}

	cfg := Default()
	if flags.DataDir != "" {
		cfg.DataDir = flags.DataDir
	}
	if err := ensureDataDirs(cfg); err != nil {
		return nil, nil, fmt.Errorf("ensuring data dirs: %w", err)
	}

	configPath := flags.Config
	if configPath == "" {
		configPath = cfg.ConfigFile()
	}
	fileValues, err := LoadFile(configPath)
	if err != nil {
		return nil, nil, fmt.Errorf("loading config file: %w", err)
	}
	if err := ApplyFileConfig(cfg, fileValues); err != nil {
		return nil, nil, fmt.Errorf("applying config file: %w", err)
	}

	Apply(cfg, flags)
	if err := Validate(cfg); err != nil {
		return nil, nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, flags, nil
}

// ensureDataDirs creates the node's directory tree and writes a
// default config file on first start.
func ensureDataDirs(cfg *Config) error {
	dirs := []string{
		cfg.DataDir,
		cfg.KeystoreDir(),
		cfg.PeerstoreDir(),
		cfg.LogsDir(),
	}
	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("creating directory %s: %w", dir, err)
		}
	}

	configPath := cfg.ConfigFile()
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		if err := WriteDefaultConfig(configPath); err != nil {
			return fmt.Errorf("writing config file: %w", err)
		}
	}
	return nil
}
