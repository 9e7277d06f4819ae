package config

// Config holds all permitflow configuration.
type Config struct {
	DefaultNetwork string              `json:"default_network"`
	DefaultWallet  string              `json:"default_wallet"`
	NetworkMode    string              `json:"network_mode"`  // "mainnet" | "testnet"
	RPCAlgorithm   string              `json:"rpc_algorithm"` // "fastest" | "round-robin" | "failover"
	CustomRPCs     map[string][]string `json:"custom_rpcs"`

	// Wallet provider used by `connect`: "rpc" talks to a node that manages
	// accounts (anvil, hardhat, a wallet bridge), "keystore" uses local wallets.
	Provider    string `json:"provider"`
	ProviderURL string `json:"provider_url,omitempty"`

	Token          string `json:"token"`
	Permit2Address string `json:"permit2_address,omitempty"` // empty = canonical deployment
	TransferAmount string `json:"transfer_amount"`           // base units, decimal

	LogLevel  string `json:"log_level"`
	LogFormat string `json:"log_format"` // "text" | "json"

	// internal: config dir path used for Save()
	configDir string
}
