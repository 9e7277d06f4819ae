// Package providers implements the wallet providers a session connects to.
package providers

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"

	"github.com/Mohsinsiddi/permitflow/internal/chain"
)

// Errors.
var (
	ErrUserRejected    = errors.New("user rejected the request")
	ErrUnknownAccount  = errors.New("account not managed by provider")
	ErrUnknownProvider = errors.New("unknown provider")
)

// CodeUserRejected is the EIP-1193 "user rejected request" error code.
const CodeUserRejected = 4001

// TxRequest describes a contract call to be signed and sent by a provider.
type TxRequest struct {
	From  common.Address
	To    common.Address
	Data  []byte
	Value *big.Int
	// GasLimit is used when the node cannot estimate gas.
	GasLimit uint64
}

// Provider is a wallet: it exposes accounts, signs on their behalf, and
// talks to the chain the accounts live on.
type Provider interface {
	Name() string
	RequestAccounts(ctx context.Context) ([]common.Address, error)
	ChainID(ctx context.Context) (*big.Int, error)
	SignTypedData(ctx context.Context, account common.Address, data apitypes.TypedData) ([]byte, error)
	SendTransaction(ctx context.Context, tx TxRequest) (common.Hash, error)
	WaitMined(ctx context.Context, hash common.Hash) (*chain.TxReceipt, error)
	CallContract(ctx context.Context, msg chain.CallMsg) ([]byte, error)
}

// classify maps wallet JSON-RPC errors onto package errors.
func classify(err error) error {
	var rpcErr *chain.RPCError
	if errors.As(err, &rpcErr) && rpcErr.Code == CodeUserRejected {
		return fmt.Errorf("%w: %s", ErrUserRejected, rpcErr.Message)
	}
	return err
}

// normaliseV rewrites a 0/1 recovery id to 27/28.
func normaliseV(sig []byte) []byte {
	if len(sig) == 65 && sig[64] < 27 {
		sig[64] += 27
	}
	return sig
}
