package cmd

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/Mohsinsiddi/permitflow/internal/config"
	"github.com/Mohsinsiddi/permitflow/internal/logging"
)

// Version is the current release. Overridable via build ldflags:
//
//	go build -ldflags "-X github.com/Mohsinsiddi/permitflow/cmd.Version=1.2.3" .
var Version = "0.1.0"

var (
	cfgDir      string
	cfg         *config.Config
	logger      *slog.Logger
	logLevel    string
	logFormat   string
	network     string
	providerArg string
	providerURL string
	nodeURL     string
	assumeYes   bool
	testnet     bool
	mainnet     bool
)

// rootCmd is the top-level command.
var rootCmd = &cobra.Command{
	Use:   "permitflow",
	Short: "Approve, permit and transfer ERC-20 tokens through Permit2",
	Long: `permitflow connects a wallet and walks the Permit2 allowance-transfer flow:

  check allowance   read Permit2's (amount, expiration, nonce) for owner → spender
  approve           token.approve(Permit2, 2^160-1) from the owner
  permit            sign a PermitSingle (30 days, 30 minute deadline) and submit it
  transfer          Permit2.transferFrom(owner → spender) sent by the spender

The wallet's first account is the owner and its second account the spender.
Use "permitflow studio" for the interactive screen.`,
	Version:      Version,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if cmd.Name() == "help" || cmd.Name() == "completion" {
			return nil
		}
		var err error
		cfg, err = config.Load(cfgDir)
		if err != nil {
			return fmt.Errorf("loading config: %w", err)
		}
		applyFlags(cmd)
		logger = logging.NewWithWriter(logging.ParseLevel(cfg.LogLevel), cfg.LogFormat, cmd.ErrOrStderr())
		logger.Debug("config loaded", "dir", cfg.Dir(), "provider", cfg.Provider, "network", cfg.DefaultNetwork, "mode", cfg.NetworkMode)
		return nil
	},
}

// applyFlags lets explicit flags win over the config file for one invocation.
func applyFlags(cmd *cobra.Command) {
	flags := cmd.Flags()
	if flags.Changed("log-level") {
		cfg.LogLevel = logLevel
	}
	if flags.Changed("log-format") {
		cfg.LogFormat = logFormat
	}
	if flags.Changed("network") {
		cfg.DefaultNetwork = network
	}
	if flags.Changed("provider") {
		cfg.Provider = providerArg
	}
	if flags.Changed("provider-url") {
		cfg.ProviderURL = providerURL
	}
	if testnet {
		cfg.NetworkMode = "testnet"
	}
	if mainnet {
		cfg.NetworkMode = "mainnet"
	}
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	if envDir := os.Getenv(config.EnvConfigDir); envDir != "" {
		cfgDir = envDir
	}

	pf := rootCmd.PersistentFlags()
	pf.StringVar(&cfgDir, "config", cfgDir, "config directory (default: ~/.permitflow)")
	pf.StringVar(&logLevel, "log-level", "", "log level: debug, info, warn, error")
	pf.StringVar(&logFormat, "log-format", "", "log format: text or json")
	pf.StringVar(&network, "network", "", "chain used by the keystore provider (see `permitflow rpc list`)")
	pf.StringVar(&providerArg, "provider", "", "wallet provider: rpc or keystore")
	pf.StringVar(&providerURL, "provider-url", "", "wallet JSON-RPC endpoint for the rpc provider")
	pf.StringVar(&nodeURL, "node-url", "", "chain JSON-RPC endpoint for reads and broadcasts")
	pf.BoolVarP(&assumeYes, "yes", "y", false, "do not ask for confirmation before sending transactions")
	pf.BoolVar(&testnet, "testnet", false, "use testnet instead of mainnet")
	pf.BoolVar(&mainnet, "mainnet", false, "use mainnet instead of testnet")
	rootCmd.MarkFlagsMutuallyExclusive("testnet", "mainnet")

	rootCmd.AddCommand(
		connectCmd,
		allowanceCmd,
		approveCmd,
		permitCmd,
		transferCmd,
		flowCmd,
		studioCmd,
		walletCmd,
		configCmd,
		rpcCmd,
	)
}
