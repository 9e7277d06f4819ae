package providers

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"

	"github.com/Mohsinsiddi/permitflow/internal/chain"
)

// codeMethodNotFound is the JSON-RPC "method not found" error code.
const codeMethodNotFound = -32601

// RPCProvider is a wallet reached over JSON-RPC: a dev node with unlocked
// accounts (anvil, hardhat) or a bridge to a browser wallet. Account
// requests, signatures and sends go to the wallet endpoint; reads and
// receipts go to the node endpoint.
type RPCProvider struct {
	wallet    *chain.EVMClient
	node      *chain.EVMClient
	pollEvery time.Duration
	log       *slog.Logger
}

// NewRPCProvider creates an RPCProvider.
func NewRPCProvider(wallet, node *chain.EVMClient, pollEvery time.Duration, log *slog.Logger) *RPCProvider {
	return &RPCProvider{wallet: wallet, node: node, pollEvery: pollEvery, log: log}
}

func (p *RPCProvider) Name() string { return KindRPC }

// RequestAccounts calls eth_requestAccounts, falling back to eth_accounts on
// endpoints that do not implement it.
func (p *RPCProvider) RequestAccounts(ctx context.Context) ([]common.Address, error) {
	var accounts []common.Address
	err := p.wallet.Call(ctx, &accounts, "eth_requestAccounts")
	var rpcErr *chain.RPCError
	if errors.As(err, &rpcErr) && rpcErr.Code == codeMethodNotFound {
		p.log.Debug("eth_requestAccounts unsupported, using eth_accounts", "url", p.wallet.URL())
		accounts = nil
		err = p.wallet.Call(ctx, &accounts, "eth_accounts")
	}
	if err != nil {
		return nil, classify(err)
	}
	return accounts, nil
}

func (p *RPCProvider) ChainID(ctx context.Context) (*big.Int, error) {
	return p.node.ChainID(ctx)
}

// SignTypedData asks the wallet for an eth_signTypedData_v4 signature.
func (p *RPCProvider) SignTypedData(ctx context.Context, account common.Address, data apitypes.TypedData) ([]byte, error) {
	var sig hexutil.Bytes
	if err := p.wallet.Call(ctx, &sig, "eth_signTypedData_v4", account, data); err != nil {
		return nil, classify(err)
	}
	if len(sig) != 65 {
		return nil, fmt.Errorf("wallet returned %d-byte signature", len(sig))
	}
	return normaliseV(sig), nil
}

// SendTransaction hands tx to the wallet with eth_sendTransaction. Gas is
// estimated on the node first; tx.GasLimit is used if estimation fails.
func (p *RPCProvider) SendTransaction(ctx context.Context, tx TxRequest) (common.Hash, error) {
	msg := callMsg(tx)
	gas, err := p.node.EstimateGas(ctx, msg)
	if err != nil {
		if reason := chain.RevertReason(err); reason != "" {
			return common.Hash{}, fmt.Errorf("simulating transaction: %s", reason)
		}
		p.log.Debug("gas estimate failed, using fallback", "gas", tx.GasLimit, "err", err)
		gas = tx.GasLimit
	}
	if gas > 0 {
		g := hexutil.Uint64(gas)
		msg.Gas = &g
	}

	var hash common.Hash
	if err := p.wallet.Call(ctx, &hash, "eth_sendTransaction", msg); err != nil {
		return common.Hash{}, classify(err)
	}
	return hash, nil
}

func (p *RPCProvider) WaitMined(ctx context.Context, hash common.Hash) (*chain.TxReceipt, error) {
	return p.node.WaitForReceipt(ctx, hash, p.pollEvery)
}

func (p *RPCProvider) CallContract(ctx context.Context, msg chain.CallMsg) ([]byte, error) {
	return p.node.CallContract(ctx, msg)
}

func callMsg(tx TxRequest) chain.CallMsg {
	from, to := tx.From, tx.To
	msg := chain.CallMsg{From: &from, To: &to, Data: tx.Data}
	if tx.Value != nil && tx.Value.Sign() > 0 {
		msg.Value = (*hexutil.Big)(tx.Value)
	}
	return msg
}
