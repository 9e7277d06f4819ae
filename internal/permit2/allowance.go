package permit2

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/Mohsinsiddi/permitflow/internal/chain"
)

// ContractCaller executes read-only eth_call requests.
type ContractCaller interface {
	CallContract(ctx context.Context, msg chain.CallMsg) ([]byte, error)
}

// AllowanceProvider reads Permit2 allowance state.
type AllowanceProvider struct {
	caller  ContractCaller
	permit2 common.Address
}

// NewAllowanceProvider reads from the Permit2 contract at addr through caller.
func NewAllowanceProvider(caller ContractCaller, addr common.Address) *AllowanceProvider {
	return &AllowanceProvider{caller: caller, permit2: addr}
}

// GetAllowanceData returns the (amount, expiration, nonce) triple Permit2
// stores for owner's token allowance to spender.
func (p *AllowanceProvider) GetAllowanceData(ctx context.Context, token, owner, spender common.Address) (AllowanceData, error) {
	data, err := PackAllowance(owner, token, spender)
	if err != nil {
		return AllowanceData{}, fmt.Errorf("encoding allowance: %w", err)
	}
	to := p.permit2
	out, err := p.caller.CallContract(ctx, chain.CallMsg{To: &to, Data: data})
	if err != nil {
		return AllowanceData{}, fmt.Errorf("allowance call: %w", err)
	}
	return UnpackAllowance(out)
}

// TokenInfo is display metadata for an ERC-20 token.
type TokenInfo struct {
	Address  common.Address
	Symbol   string
	Decimals uint8
}

// ReadToken fetches symbol and decimals. Tokens that do not implement the
// optional metadata methods fall back to "???" and 18.
func ReadToken(ctx context.Context, caller ContractCaller, token common.Address) TokenInfo {
	info := TokenInfo{Address: token, Symbol: "???", Decimals: 18}

	if out, err := callERC20(ctx, caller, token, "symbol"); err == nil {
		if s, ok := out[0].(string); ok && s != "" {
			info.Symbol = s
		}
	}
	if out, err := callERC20(ctx, caller, token, "decimals"); err == nil {
		if d, ok := out[0].(uint8); ok {
			info.Decimals = d
		}
	}
	return info
}

// BalanceOf returns account's token balance.
func BalanceOf(ctx context.Context, caller ContractCaller, token, account common.Address) (*big.Int, error) {
	out, err := callERC20(ctx, caller, token, "balanceOf", account)
	if err != nil {
		return nil, err
	}
	bal, ok := out[0].(*big.Int)
	if !ok {
		return nil, fmt.Errorf("balanceOf: unexpected type %T", out[0])
	}
	return bal, nil
}

func callERC20(ctx context.Context, caller ContractCaller, token common.Address, method string, args ...interface{}) ([]interface{}, error) {
	data, err := erc20ABI.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("encoding %s: %w", method, err)
	}
	raw, err := caller.CallContract(ctx, chain.CallMsg{To: &token, Data: data})
	if err != nil {
		return nil, fmt.Errorf("%s call: %w", method, err)
	}
	out, err := erc20ABI.Unpack(method, raw)
	if err != nil {
		return nil, fmt.Errorf("decoding %s: %w", method, err)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("%s: empty result", method)
	}
	return out, nil
}
