package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/spf13/cobra"

	"github.com/Mohsinsiddi/permitflow/internal/chain"
	"github.com/Mohsinsiddi/permitflow/internal/config"
	"github.com/Mohsinsiddi/permitflow/internal/flow"
	"github.com/Mohsinsiddi/permitflow/internal/permit2"
	"github.com/Mohsinsiddi/permitflow/internal/providers"
	"github.com/Mohsinsiddi/permitflow/internal/rpc"
	"github.com/Mohsinsiddi/permitflow/internal/session"
	"github.com/Mohsinsiddi/permitflow/internal/ui"
	"github.com/Mohsinsiddi/permitflow/internal/wallet"
)

// errActionFailed marks a command whose flow action already printed its failure.
var errActionFailed = errors.New("action failed")

func newWalletManager() *wallet.Manager {
	return wallet.NewManager(wallet.WithStore(wallet.NewJSONStore(cfg.WalletsPath())))
}

// resolveNodeURL picks the chain endpoint: --node-url, then the provider URL
// for the rpc provider, then the best configured RPC for the network.
func resolveNodeURL(ctx context.Context) (string, error) {
	if nodeURL != "" {
		return nodeURL, nil
	}
	if cfg.Provider != providers.KindKeystore {
		return cfg.ProviderURL, nil
	}

	reg := chain.NewRegistry()
	c, err := reg.GetByName(cfg.DefaultNetwork)
	if err != nil {
		return "", fmt.Errorf("unknown network %q (valid: %s)", cfg.DefaultNetwork, strings.Join(reg.Names(), ", "))
	}
	urls := append(append([]string{}, cfg.GetRPCs(c.Name)...), c.RPCs(cfg.NetworkMode)...)

	ctx, cancel := context.WithTimeout(ctx, config.RPCSelectTimeout)
	defer cancel()
	url, err := rpc.SelectBest(ctx, urls, cfg.RPCAlgorithm)
	if err != nil {
		return "", fmt.Errorf("selecting RPC for %s: %w", c.DisplayName, err)
	}
	logger.Debug("rpc selected", "network", c.Name, "mode", cfg.NetworkMode, "url", url)
	return url, nil
}

func newProvider(ctx context.Context) (providers.Provider, error) {
	node, err := resolveNodeURL(ctx)
	if err != nil {
		return nil, err
	}
	opts := providers.Options{
		ProviderURL: cfg.ProviderURL,
		NodeURL:     node,
		PollEvery:   config.ReceiptPollEvery,
		Logger:      logger,
	}
	if cfg.Provider == providers.KindKeystore {
		opts.Wallets = newWalletManager()
	}
	return providers.New(cfg.Provider, opts)
}

// flowSettings parses the configured addresses and amount.
func flowSettings() (flow.Settings, error) {
	var s flow.Settings
	if !common.IsHexAddress(cfg.Token) {
		return s, fmt.Errorf("invalid token address %q", cfg.Token)
	}
	s.Token = common.HexToAddress(cfg.Token)

	s.Permit2 = permit2.Address
	if cfg.Permit2Address != "" {
		if !common.IsHexAddress(cfg.Permit2Address) {
			return s, fmt.Errorf("invalid permit2 address %q", cfg.Permit2Address)
		}
		s.Permit2 = common.HexToAddress(cfg.Permit2Address)
	}

	amount, err := parseAmount(cfg.TransferAmount)
	if err != nil {
		return s, fmt.Errorf("transfer_amount: %w", err)
	}
	s.TransferAmount = amount
	s.ConfirmTimeout = config.TxConfirmTimeout
	return s, nil
}

// app bundles what every flow command needs after connecting.
type app struct {
	ctrl     *flow.Controller
	provider providers.Provider
	token    permit2.TokenInfo
}

// connectApp builds the provider and controller and connects the session.
func connectApp(ctx context.Context, out io.Writer) (*app, error) {
	settings, err := flowSettings()
	if err != nil {
		return nil, err
	}
	p, err := newProvider(ctx)
	if err != nil {
		return nil, err
	}
	ctrl := flow.NewController(session.New(logger), settings, logger)

	connectCtx, cancel := context.WithTimeout(ctx, config.ConnectTimeout)
	defer cancel()
	if r := ctrl.Connect(connectCtx, p); !r.OK() {
		fmt.Fprintln(out, ui.ResultLine(r, nil))
		return nil, errActionFailed
	}

	return &app{
		ctrl:     ctrl,
		provider: p,
		token:    permit2.ReadToken(ctx, p, settings.Token),
	}, nil
}

// sessionBlock renders the connected session.
func (a *app) sessionBlock() string {
	snap, err := a.ctrl.Sessions().Active()
	if err != nil {
		return ui.Warn(err.Error())
	}
	return ui.KeyValueBlock("Session", [][2]string{
		{"Provider", a.provider.Name()},
		{"Chain", chainLabel(snap.ChainID)},
		{"Owner", snap.Primary.Hex()},
		{"Spender", snap.Secondary.Hex()},
		{"Token", fmt.Sprintf("%s (%s)", a.token.Symbol, a.token.Address.Hex())},
		{"Permit2", a.ctrl.Settings().Permit2.Hex()},
	})
}

// txURL links hashes to the explorer of the connected chain.
func (a *app) txURL(hash string) string {
	snap, err := a.ctrl.Sessions().Active()
	if err != nil {
		return ""
	}
	return explorerTxURL(snap.ChainID, hash)
}

func explorerTxURL(chainID *big.Int, hash string) string {
	if chainID == nil || !chainID.IsInt64() {
		return ""
	}
	c, err := chain.NewRegistry().GetByChainID(chainID.Int64())
	if err != nil {
		return ""
	}
	mode := "mainnet"
	if c.TestnetChainID == chainID.Int64() {
		mode = "testnet"
	}
	return c.TxURL(mode, hash)
}

func chainLabel(chainID *big.Int) string {
	if chainID == nil {
		return "unknown"
	}
	if chainID.IsInt64() {
		if c, err := chain.NewRegistry().GetByChainID(chainID.Int64()); err == nil {
			name := c.DisplayName
			if c.TestnetChainID == chainID.Int64() && c.TestnetName != "" {
				name = c.TestnetName
			}
			return fmt.Sprintf("%s (%s)", name, chainID)
		}
	}
	return chainID.String()
}

// confirmSend asks before broadcasting unless --yes was given.
func confirmSend(cmd *cobra.Command, what string) bool {
	if assumeYes {
		return true
	}
	return ui.ConfirmDanger(cmd.InOrStdin(), cmd.OutOrStdout(), what)
}

// report prints r and converts a failure into a command error.
func (a *app) report(out io.Writer, r flow.Result) error {
	fmt.Fprintln(out, ui.ResultLine(r, a.txURL))
	if !r.OK() {
		return errActionFailed
	}
	return nil
}

// parseAmount parses a base-unit amount: decimal, 0x-hex, or scientific
// shorthand like 10e18.
func parseAmount(s string) (*big.Int, error) {
	s = strings.ReplaceAll(strings.TrimSpace(s), "_", "")
	if s == "" {
		return nil, fmt.Errorf("empty amount")
	}
	ls := strings.ToLower(s)
	if mant, exp, ok := strings.Cut(ls, "e"); ok && !strings.HasPrefix(ls, "0x") {
		m, ok1 := new(big.Int).SetString(mant, 10)
		e, ok2 := new(big.Int).SetString(exp, 10)
		if !ok1 || !ok2 || e.Sign() < 0 || !e.IsInt64() || e.Int64() > 77 {
			return nil, fmt.Errorf("invalid amount %q", s)
		}
		return m.Mul(m, new(big.Int).Exp(big.NewInt(10), e, nil)), nil
	}
	v, ok := new(big.Int).SetString(s, 0)
	if !ok || v.Sign() < 0 {
		return nil, fmt.Errorf("invalid amount %q", s)
	}
	return v, nil
}

// parseUnits converts a human amount such as "1.5" into base units.
func parseUnits(s string, decimals uint8) (*big.Int, error) {
	s = strings.TrimSpace(s)
	whole, frac, _ := strings.Cut(s, ".")
	if whole == "" {
		whole = "0"
	}
	if len(frac) > int(decimals) {
		return nil, fmt.Errorf("%q has more than %d decimals", s, decimals)
	}
	frac += strings.Repeat("0", int(decimals)-len(frac))
	v, ok := new(big.Int).SetString(whole+frac, 10)
	if !ok || v.Sign() < 0 {
		return nil, fmt.Errorf("invalid amount %q", s)
	}
	return v, nil
}
