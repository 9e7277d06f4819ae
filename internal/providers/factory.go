package providers

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/Mohsinsiddi/permitflow/internal/chain"
	"github.com/Mohsinsiddi/permitflow/internal/logging"
	"github.com/Mohsinsiddi/permitflow/internal/wallet"
)

// Provider kinds accepted by New.
const (
	KindRPC      = "rpc"
	KindKeystore = "keystore"
)

// Kinds lists the provider kinds for help text and validation.
var Kinds = []string{KindRPC, KindKeystore}

// Options carries everything a provider may need. Unused fields are ignored.
type Options struct {
	// ProviderURL is the wallet JSON-RPC endpoint for the rpc provider.
	ProviderURL string
	// NodeURL is the chain endpoint for reads and broadcasts. Defaults to
	// ProviderURL for the rpc provider.
	NodeURL string
	// Wallets backs the keystore provider.
	Wallets *wallet.Manager
	// PollEvery is the receipt polling interval.
	PollEvery time.Duration
	Logger    *slog.Logger
}

// New builds the provider named by kind.
func New(kind string, opts Options) (Provider, error) {
	if opts.Logger == nil {
		opts.Logger = logging.Discard()
	}
	if opts.PollEvery <= 0 {
		opts.PollEvery = 2 * time.Second
	}

	switch kind {
	case KindRPC, "":
		if opts.ProviderURL == "" {
			return nil, fmt.Errorf("rpc provider: no provider URL configured")
		}
		nodeURL := opts.NodeURL
		if nodeURL == "" {
			nodeURL = opts.ProviderURL
		}
		return NewRPCProvider(chain.NewEVMClient(opts.ProviderURL), chain.NewEVMClient(nodeURL), opts.PollEvery, opts.Logger), nil
	case KindKeystore:
		if opts.Wallets == nil {
			return nil, fmt.Errorf("keystore provider: no wallet manager")
		}
		if opts.NodeURL == "" {
			return nil, fmt.Errorf("keystore provider: no node URL")
		}
		return NewKeystoreProvider(opts.Wallets, chain.NewEVMClient(opts.NodeURL), opts.PollEvery, opts.Logger), nil
	default:
		return nil, fmt.Errorf("%w: %q (want one of %v)", ErrUnknownProvider, kind, Kinds)
	}
}
