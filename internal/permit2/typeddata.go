package permit2

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/math"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"
)

// DomainName is the EIP-712 domain name Permit2 signs under. Permit2 has no
// version field in its domain.
const DomainName = "Permit2"

var permitSingleTypes = apitypes.Types{
	"EIP712Domain": {
		{Name: "name", Type: "string"},
		{Name: "chainId", Type: "uint256"},
		{Name: "verifyingContract", Type: "address"},
	},
	"PermitSingle": {
		{Name: "details", Type: "PermitDetails"},
		{Name: "spender", Type: "address"},
		{Name: "sigDeadline", Type: "uint256"},
	},
	"PermitDetails": {
		{Name: "token", Type: "address"},
		{Name: "amount", Type: "uint160"},
		{Name: "expiration", Type: "uint48"},
		{Name: "nonce", Type: "uint48"},
	},
}

// TypedData returns the EIP-712 payload for p, verified by the Permit2
// contract at verifier on chainID.
func TypedData(p PermitSingle, verifier common.Address, chainID *big.Int) apitypes.TypedData {
	return apitypes.TypedData{
		Types:       permitSingleTypes,
		PrimaryType: "PermitSingle",
		Domain:      domain(verifier, chainID),
		Message: apitypes.TypedDataMessage{
			"details": map[string]interface{}{
				"token":      p.Details.Token.Hex(),
				"amount":     p.Details.Amount.String(),
				"expiration": p.Details.Expiration.String(),
				"nonce":      p.Details.Nonce.String(),
			},
			"spender":     p.Spender.Hex(),
			"sigDeadline": p.SigDeadline.String(),
		},
	}
}

func domain(verifier common.Address, chainID *big.Int) apitypes.TypedDataDomain {
	return apitypes.TypedDataDomain{
		Name:              DomainName,
		ChainId:           (*math.HexOrDecimal256)(new(big.Int).Set(chainID)),
		VerifyingContract: verifier.Hex(),
	}
}

// DomainSeparator returns the Permit2 domain separator for chainID.
func DomainSeparator(verifier common.Address, chainID *big.Int) (common.Hash, error) {
	td := apitypes.TypedData{Types: permitSingleTypes, Domain: domain(verifier, chainID)}
	sep, err := td.HashStruct("EIP712Domain", td.Domain.Map())
	if err != nil {
		return common.Hash{}, fmt.Errorf("hashing domain: %w", err)
	}
	return common.BytesToHash(sep), nil
}
