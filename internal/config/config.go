package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
)

const (
	defaultNetwork     = "ethereum"
	defaultMode        = "testnet"
	defaultAlgorithm   = "fastest"
	defaultProvider    = "rpc"
	defaultProviderURL = "http://127.0.0.1:8545"
	defaultLogLevel    = "warn"
	defaultLogFormat   = "text"

	configFile  = "config.json"
	walletsFile = "wallets.json"
)

// Environment overrides, applied after the file is read.
const (
	EnvConfigDir   = "PERMITFLOW_CONFIG_DIR"
	EnvProviderURL = "PERMITFLOW_PROVIDER_URL"
	EnvLogLevel    = "PERMITFLOW_LOG_LEVEL"
)

// Keys accepted by Set.
var settableKeys = []string{
	"default_network", "default_wallet", "network_mode", "rpc_algorithm",
	"provider", "provider_url", "token", "permit2_address", "transfer_amount",
	"log_level", "log_format",
}

// Load reads config from dir (or creates defaults). dir defaults to ~/.permitflow.
func Load(dir string) (*Config, error) {
	if dir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("could not determine home dir: %w", err)
		}
		dir = filepath.Join(home, ".permitflow")
	}

	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("could not create config dir: %w", err)
	}

	cfg := defaults(dir)

	data, err := os.ReadFile(filepath.Join(dir, configFile))
	switch {
	case os.IsNotExist(err):
	case err != nil:
		return nil, fmt.Errorf("reading config: %w", err)
	default:
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config: %w", err)
		}
	}

	cfg.configDir = dir
	if cfg.CustomRPCs == nil {
		cfg.CustomRPCs = make(map[string][]string)
	}
	cfg.applyEnv()
	return cfg, nil
}

// Save writes the config to disk.
func (c *Config) Save() error {
	if err := os.MkdirAll(c.configDir, 0o700); err != nil {
		return err
	}
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(c.configDir, configFile), data, 0o600)
}

// Set updates a single key by its JSON name.
func (c *Config) Set(key, value string) error {
	switch key {
	case "default_network":
		c.DefaultNetwork = strings.ToLower(value)
	case "default_wallet":
		c.DefaultWallet = value
	case "network_mode":
		if value != "mainnet" && value != "testnet" {
			return fmt.Errorf("network_mode must be mainnet or testnet, got %q", value)
		}
		c.NetworkMode = value
	case "rpc_algorithm":
		c.RPCAlgorithm = value
	case "provider":
		if value != "rpc" && value != "keystore" {
			return fmt.Errorf("provider must be rpc or keystore, got %q", value)
		}
		c.Provider = value
	case "provider_url":
		c.ProviderURL = value
	case "token":
		c.Token = value
	case "permit2_address":
		c.Permit2Address = value
	case "transfer_amount":
		c.TransferAmount = value
	case "log_level":
		c.LogLevel = value
	case "log_format":
		c.LogFormat = value
	default:
		return fmt.Errorf("unknown config key %q (valid: %s)", key, strings.Join(settableKeys, ", "))
	}
	return nil
}

// AddRPC adds a custom RPC URL for a chain.
func (c *Config) AddRPC(chain, url string) error {
	if c.CustomRPCs == nil {
		c.CustomRPCs = make(map[string][]string)
	}
	if slices.Contains(c.CustomRPCs[chain], url) {
		return fmt.Errorf("RPC %s already exists for chain %s", url, chain)
	}
	c.CustomRPCs[chain] = append(c.CustomRPCs[chain], url)
	return nil
}

// RemoveRPC removes a custom RPC URL for a chain.
func (c *Config) RemoveRPC(chain, url string) error {
	rpcs := c.CustomRPCs[chain]
	idx := slices.Index(rpcs, url)
	if idx == -1 {
		return fmt.Errorf("RPC %s not found for chain %s", url, chain)
	}
	c.CustomRPCs[chain] = slices.Delete(rpcs, idx, idx+1)
	return nil
}

// GetRPCs returns custom RPCs for a chain.
func (c *Config) GetRPCs(chain string) []string {
	return c.CustomRPCs[chain]
}

// Dir returns the config directory.
func (c *Config) Dir() string {
	return c.configDir
}

// WalletsPath returns the path of wallets.json.
func (c *Config) WalletsPath() string {
	return filepath.Join(c.configDir, walletsFile)
}

// --- helpers ---

func defaults(dir string) *Config {
	return &Config{
		DefaultNetwork: defaultNetwork,
		NetworkMode:    defaultMode,
		RPCAlgorithm:   defaultAlgorithm,
		CustomRPCs:     make(map[string][]string),
		Provider:       defaultProvider,
		ProviderURL:    defaultProviderURL,
		Token:          DefaultToken,
		TransferAmount: DefaultTransferAmount,
		LogLevel:       defaultLogLevel,
		LogFormat:      defaultLogFormat,
		configDir:      dir,
	}
}

func (c *Config) applyEnv() {
	if v := os.Getenv(EnvProviderURL); v != "" {
		c.ProviderURL = v
	}
	if v := os.Getenv(EnvLogLevel); v != "" {
		c.LogLevel = v
	}
}
