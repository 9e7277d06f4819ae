package providers

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"

	"github.com/Mohsinsiddi/permitflow/internal/chain"
	"github.com/Mohsinsiddi/permitflow/internal/wallet"
)

// KeystoreProvider signs locally with keys held in the OS keychain and
// broadcasts raw transactions to a node.
type KeystoreProvider struct {
	wallets   *wallet.Manager
	node      *chain.EVMClient
	pollEvery time.Duration
	log       *slog.Logger
}

// NewKeystoreProvider creates a KeystoreProvider.
func NewKeystoreProvider(wallets *wallet.Manager, node *chain.EVMClient, pollEvery time.Duration, log *slog.Logger) *KeystoreProvider {
	return &KeystoreProvider{wallets: wallets, node: node, pollEvery: pollEvery, log: log}
}

func (p *KeystoreProvider) Name() string { return KindKeystore }

// RequestAccounts returns the signing wallets, default first then by name.
func (p *KeystoreProvider) RequestAccounts(_ context.Context) ([]common.Address, error) {
	list, err := p.wallets.List()
	if err != nil {
		return nil, fmt.Errorf("listing wallets: %w", err)
	}
	accounts := make([]common.Address, 0, len(list))
	for _, w := range list {
		if w.Type == wallet.TypeSigning {
			accounts = append(accounts, w.Addr())
		}
	}
	return accounts, nil
}

func (p *KeystoreProvider) ChainID(ctx context.Context) (*big.Int, error) {
	return p.node.ChainID(ctx)
}

func (p *KeystoreProvider) SignTypedData(_ context.Context, account common.Address, data apitypes.TypedData) ([]byte, error) {
	s, err := p.signer(account)
	if err != nil {
		return nil, err
	}
	return s.SignTypedData(data)
}

// SendTransaction builds, signs and broadcasts an EIP-1559 transaction.
func (p *KeystoreProvider) SendTransaction(ctx context.Context, req TxRequest) (common.Hash, error) {
	s, err := p.signer(req.From)
	if err != nil {
		return common.Hash{}, err
	}

	chainID, err := p.node.ChainID(ctx)
	if err != nil {
		return common.Hash{}, fmt.Errorf("getting chain id: %w", err)
	}

	gas, err := p.node.EstimateGas(ctx, callMsg(req))
	if err != nil {
		if reason := chain.RevertReason(err); reason != "" {
			return common.Hash{}, fmt.Errorf("simulating transaction: %s", reason)
		}
		p.log.Debug("gas estimate failed, using fallback", "gas", req.GasLimit, "err", err)
		gas = req.GasLimit
	}

	gasPrice, err := p.node.GasPrice(ctx)
	if err != nil {
		return common.Hash{}, fmt.Errorf("getting gas price: %w", err)
	}

	nonce, err := p.node.PendingNonce(ctx, req.From)
	if err != nil {
		return common.Hash{}, fmt.Errorf("getting nonce: %w", err)
	}

	value := req.Value
	if value == nil {
		value = new(big.Int)
	}
	to := req.To
	tx := types.NewTx(&types.DynamicFeeTx{
		ChainID:   chainID,
		Nonce:     nonce,
		GasTipCap: gasPrice,
		GasFeeCap: new(big.Int).Mul(gasPrice, big.NewInt(2)),
		Gas:       gas,
		To:        &to,
		Value:     value,
		Data:      req.Data,
	})

	raw, err := s.SignTx(tx, chainID)
	if err != nil {
		return common.Hash{}, fmt.Errorf("signing transaction: %w", err)
	}

	hash, err := p.node.SendRawTransaction(ctx, raw)
	if err != nil {
		return common.Hash{}, fmt.Errorf("broadcasting transaction: %w", err)
	}
	return hash, nil
}

func (p *KeystoreProvider) WaitMined(ctx context.Context, hash common.Hash) (*chain.TxReceipt, error) {
	return p.node.WaitForReceipt(ctx, hash, p.pollEvery)
}

func (p *KeystoreProvider) CallContract(ctx context.Context, msg chain.CallMsg) ([]byte, error) {
	return p.node.CallContract(ctx, msg)
}

func (p *KeystoreProvider) signer(account common.Address) (*wallet.Signer, error) {
	w, err := p.wallets.FindByAddress(account)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrUnknownAccount, account.Hex())
	}
	return wallet.NewSigner(w, p.wallets.Keystore()), nil
}
