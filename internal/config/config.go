// Package config holds the daemon configuration: where data lives, how the
// port is served, which networks are known and how background workers pace themselves.
package config

import (
	"errors"
	"fmt"
	"math/big"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// ChainType selects the adapter family used for a network.
type ChainType string

const (
	ChainTypeEVM       ChainType = "evm"       // go-ethereum JSON-RPC adapter
	ChainTypeSubstrate ChainType = "substrate" // registry entry only, no bundled adapter
)

// Config holds all configuration for the wallet daemon.
type Config struct {
	Storage  StorageConfig   `yaml:"storage"`
	Logging  LoggingConfig   `yaml:"logging"`
	API      APIConfig       `yaml:"api"`
	Price    PriceConfig     `yaml:"price"`
	Balance  BalanceConfig   `yaml:"balance"`
	Keyring  KeyringConfig   `yaml:"keyring"`
	Networks []NetworkConfig `yaml:"networks"`
}

// StorageConfig holds storage settings.
type StorageConfig struct {
	// DataDir is the directory for the database and config file.
	DataDir string `yaml:"data_dir"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	// Level is the log level (debug, info, warn, error).
	Level string `yaml:"level"`
}

// APIConfig controls the port listener.
type APIConfig struct {
	ListenAddr     string   `yaml:"listen_addr"`
	AllowedOrigins []string `yaml:"allowed_origins"`
	// MaxMessageSize caps a single inbound port frame in bytes.
	MaxMessageSize int64 `yaml:"max_message_size"`
}

// PriceConfig controls the price feed worker.
type PriceConfig struct {
	Enabled         bool          `yaml:"enabled"`
	Currency        string        `yaml:"currency"`
	Endpoint        string        `yaml:"endpoint"`
	RefreshInterval time.Duration `yaml:"refresh_interval"`
	StartDelay      time.Duration `yaml:"start_delay"`
}

// BalanceConfig controls the balance poller.
type BalanceConfig struct {
	PollInterval time.Duration `yaml:"poll_interval"`
}

// KeyringConfig holds the Argon2id parameters used to encrypt account secrets.
type KeyringConfig struct {
	ArgonTime    uint32 `yaml:"argon_time"`
	ArgonMemory  uint32 `yaml:"argon_memory"` // KiB
	ArgonThreads uint8  `yaml:"argon_threads"`
}

// NetworkConfig describes one chain the wallet can talk to.
type NetworkConfig struct {
	Key          string    `yaml:"key"`
	Name         string    `yaml:"name"`
	ChainType    ChainType `yaml:"chain_type"`
	RPCURL       string    `yaml:"rpc_url,omitempty"`
	ChainID      uint64    `yaml:"chain_id,omitempty"`
	GenesisHash  string    `yaml:"genesis_hash,omitempty"`
	SS58Prefix   uint16    `yaml:"ss58_prefix,omitempty"`
	NativeSymbol string    `yaml:"native_symbol"`
	Decimals     uint8     `yaml:"decimals"`
	// ExistentialDeposit is in base units; "0" disables deposit warnings.
	ExistentialDeposit string        `yaml:"existential_deposit"`
	PriceID            string        `yaml:"price_id,omitempty"`
	Confirmations      uint64        `yaml:"confirmations,omitempty"`
	Tokens             []TokenConfig `yaml:"tokens,omitempty"`
}

// TokenConfig describes a non-native asset on a network.
type TokenConfig struct {
	Symbol   string `yaml:"symbol"`
	Decimals uint8  `yaml:"decimals"`
	Contract string `yaml:"contract,omitempty"`
	PriceID  string `yaml:"price_id,omitempty"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Storage: StorageConfig{
			DataDir: "~/.walletd",
		},
		Logging: LoggingConfig{
			Level: "info",
		},
		API: APIConfig{
			ListenAddr:     "127.0.0.1:8765",
			AllowedOrigins: []string{},
			MaxMessageSize: 1 << 20,
		},
		Price: PriceConfig{
			Enabled:         true,
			Currency:        "usd",
			Endpoint:        "https://api.coingecko.com/api/v3",
			RefreshInterval: 5 * time.Minute,
			StartDelay:      3 * time.Second,
		},
		Balance: BalanceConfig{
			PollInterval: 30 * time.Second,
		},
		Keyring: KeyringConfig{
			ArgonTime:    3,
			ArgonMemory:  64 * 1024,
			ArgonThreads: 4,
		},
		Networks: DefaultNetworks(),
	}
}

// DefaultNetworks returns the networks enabled on a fresh install.
func DefaultNetworks() []NetworkConfig {
	return []NetworkConfig{
		{
			Key:                "polkadot",
			Name:               "Polkadot",
			ChainType:          ChainTypeSubstrate,
			GenesisHash:        "0x91b171bb158e2d3848fa23a9f1c25182fb8e20313b2c1eb49219da7a70ce90c3",
			SS58Prefix:         0,
			NativeSymbol:       "DOT",
			Decimals:           10,
			ExistentialDeposit: "10000000000",
			PriceID:            "polkadot",
		},
		{
			Key:                "kusama",
			Name:               "Kusama",
			ChainType:          ChainTypeSubstrate,
			GenesisHash:        "0xb0a8d493285c2df73290dfb7e61f870f17b41801197a149ca93654499ea3dafe",
			SS58Prefix:         2,
			NativeSymbol:       "KSM",
			Decimals:           12,
			ExistentialDeposit: "333333333",
			PriceID:            "kusama",
		},
		{
			Key:                "ethereum",
			Name:               "Ethereum",
			ChainType:          ChainTypeEVM,
			RPCURL:             "https://ethereum-rpc.publicnode.com",
			ChainID:            1,
			NativeSymbol:       "ETH",
			Decimals:           18,
			ExistentialDeposit: "0",
			PriceID:            "ethereum",
			Confirmations:      12,
		},
		{
			Key:                "moonbeam",
			Name:               "Moonbeam",
			ChainType:          ChainTypeEVM,
			RPCURL:             "https://rpc.api.moonbeam.network",
			ChainID:            1284,
			NativeSymbol:       "GLMR",
			Decimals:           18,
			ExistentialDeposit: "0",
			PriceID:            "moonbeam",
			Confirmations:      2,
		},
	}
}

// Validate checks the configuration for mistakes that would otherwise surface
// as confusing runtime errors.
func (c *Config) Validate() error {
	if c.API.ListenAddr == "" {
		return errors.New("api.listen_addr is required")
	}
	if c.Price.Enabled && c.Price.RefreshInterval <= 0 {
		return errors.New("price.refresh_interval must be positive")
	}
	if c.Balance.PollInterval < 0 {
		return errors.New("balance.poll_interval must not be negative")
	}

	seen := make(map[string]bool, len(c.Networks))
	for i, n := range c.Networks {
		if n.Key == "" {
			return fmt.Errorf("networks[%d]: key is required", i)
		}
		if seen[n.Key] {
			return fmt.Errorf("networks[%d]: duplicate key %q", i, n.Key)
		}
		seen[n.Key] = true

		switch n.ChainType {
		case ChainTypeEVM, ChainTypeSubstrate:
		default:
			return fmt.Errorf("network %s: unknown chain_type %q", n.Key, n.ChainType)
		}
		if n.NativeSymbol == "" {
			return fmt.Errorf("network %s: native_symbol is required", n.Key)
		}
		if _, err := n.ExistentialDepositAmount(); err != nil {
			return fmt.Errorf("network %s: %w", n.Key, err)
		}
	}
	return nil
}

// ExistentialDepositAmount parses the configured existential deposit.
func (n NetworkConfig) ExistentialDepositAmount() (*big.Int, error) {
	if n.ExistentialDeposit == "" {
		return new(big.Int), nil
	}
	ed, ok := new(big.Int).SetString(n.ExistentialDeposit, 10)
	if !ok || ed.Sign() < 0 {
		return nil, fmt.Errorf("invalid existential_deposit %q", n.ExistentialDeposit)
	}
	return ed, nil
}

// ConfigFileName is the default config file name.
const ConfigFileName = "config.yaml"

// LoadConfig loads configuration from a YAML file.
// If the file doesn't exist, it creates one with default values.
func LoadConfig(dataDir string) (*Config, error) {
	configPath := ConfigPath(dataDir)

	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		cfg := DefaultConfig()
		cfg.Storage.DataDir = dataDir

		if err := cfg.Save(configPath); err != nil {
			return nil, fmt.Errorf("failed to create default config: %w", err)
		}
		return cfg, nil
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := DefaultConfig()
	// An explicit networks list replaces the defaults rather than appending to them.
	cfg.Networks = nil
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	if cfg.Networks == nil {
		cfg.Networks = DefaultNetworks()
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// Save writes the configuration to a YAML file.
func (c *Config) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	header := []byte("# walletd configuration\n# Generated automatically on first run\n\n")
	data = append(header, data...)

	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// ConfigPath returns the full path to the config file for the given data directory.
func ConfigPath(dataDir string) string {
	return filepath.Join(ExpandPath(dataDir), ConfigFileName)
}

// ExpandPath expands a leading ~ to the home directory.
func ExpandPath(path string) string {
	if len(path) > 0 && path[0] == '~' {
		home, _ := os.UserHomeDir()
		return filepath.Join(home, path[1:])
	}
	return path
}
