// Package config provides configuration for the CHIMERA swap daemon.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// NetworkType represents the network (mainnet or testnet).
type NetworkType string

const (
	NetworkMainnet NetworkType = "mainnet"
	NetworkTestnet NetworkType = "testnet"
)

// Config holds all configuration for the swap daemon.
type Config struct {
	// NetworkType is the network type (mainnet or testnet).
	NetworkType NetworkType `yaml:"network_type"`

	// API settings
	API APIConfig `yaml:"api"`

	// Authority is the custodial signing authority.
	Authority AuthorityConfig `yaml:"authority"`

	// Signer is the external signing/broadcast service.
	Signer SignerConfig `yaml:"signer"`

	// Storage
	Storage StorageConfig `yaml:"storage"`

	// Logging
	Logging LoggingConfig `yaml:"logging"`
}

// APIConfig holds JSON-RPC API settings.
type APIConfig struct {
	// Addr is the host:port the JSON-RPC server listens on.
	Addr string `yaml:"addr"`
}

// AuthorityConfig identifies the custodial signing authority.
type AuthorityConfig struct {
	// PubKey is the authority's hex-encoded compressed secp256k1 public key.
	// Every signer designation produced by the assemblers names this key.
	PubKey string `yaml:"pubkey"`
}

// SignerConfig holds settings for the signing/broadcast collaborator.
type SignerConfig struct {
	// Endpoint is the base URL of the signing service. Empty disables
	// automatic submission; assembled transactions stay in the audit log.
	Endpoint string `yaml:"endpoint"`

	// Timeout for a submission request.
	Timeout time.Duration `yaml:"timeout"`
}

// StorageConfig holds storage settings.
type StorageConfig struct {
	// DataDir is the directory for all data files.
	DataDir string `yaml:"data_dir"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	// Level is the log level (debug, info, warn, error).
	Level string `yaml:"level"`

	// File is the log file path (empty for stderr).
	File string `yaml:"file"`
}

// IsTestnet returns true if running on testnet.
func (c *Config) IsTestnet() bool {
	return c.NetworkType == NetworkTestnet
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		NetworkType: NetworkMainnet,
		API: APIConfig{
			Addr: "127.0.0.1:8090",
		},
		Authority: AuthorityConfig{
			PubKey: "",
		},
		Signer: SignerConfig{
			Endpoint: "",
			Timeout:  30 * time.Second,
		},
		Storage: StorageConfig{
			DataDir: "~/.chimera",
		},
		Logging: LoggingConfig{
			Level: "info",
			File:  "",
		},
	}
}

// ConfigFileName is the default config file name.
const ConfigFileName = "config.yaml"

// LoadConfig loads configuration from a YAML file in the data directory.
// If the file doesn't exist, it creates one with default values.
func LoadConfig(dataDir string) (*Config, error) {
	expandedDir := expandPath(dataDir)
	configPath := filepath.Join(expandedDir, ConfigFileName)

	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		cfg := DefaultConfig()
		cfg.Storage.DataDir = dataDir

		if err := cfg.Save(configPath); err != nil {
			return nil, fmt.Errorf("failed to create default config: %w", err)
		}

		return cfg, nil
	}

	return LoadFile(configPath)
}

// LoadFile loads configuration from an explicit file path. Unlike
// LoadConfig it never creates the file: a missing path is an error.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(expandPath(path))
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	return cfg, nil
}

// Save writes the configuration to a YAML file.
func (c *Config) Save(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	header := []byte("# CHIMERA Swap Daemon Configuration\n# Generated automatically on first run\n\n")
	data = append(header, data...)

	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// ConfigPath returns the full path to the config file for the given data directory.
func ConfigPath(dataDir string) string {
	return filepath.Join(expandPath(dataDir), ConfigFileName)
}

// expandPath expands ~ to home directory.
func expandPath(path string) string {
	if len(path) > 0 && path[0] == '~' {
		home, _ := os.UserHomeDir()
		return filepath.Join(home, path[1:])
	}
	return path
}
