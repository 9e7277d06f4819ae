// Package permit2 builds, hashes and encodes Uniswap Permit2 allowance
// transfer messages.
package permit2

import (
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// AddressHex is the canonical Permit2 deployment, identical on every chain.
const AddressHex = "0x000000000022D473030F116dDEE9F6B43aC78BA3"

// Address is AddressHex parsed.
var Address = common.HexToAddress(AddressHex)

// Permit lifetimes.
const (
	PermitExpiration  = 30 * 24 * time.Hour
	PermitSigDeadline = 30 * time.Minute
)

var (
	// MaxAllowanceTransferAmount is the largest uint160, the "unlimited" sentinel.
	MaxAllowanceTransferAmount = maxUint(160)
	// MaxAllowanceExpiration is the largest uint48.
	MaxAllowanceExpiration = maxUint(48)
	// MaxOrderedNonce is the largest uint48; nonces at this value cannot be used.
	MaxOrderedNonce = maxUint(48)
)

func maxUint(bits uint) *big.Int {
	one := big.NewInt(1)
	return new(big.Int).Sub(new(big.Int).Lsh(one, bits), one)
}

// PermitDetails mirrors the Solidity struct of the same name.
// Field names follow the ABI tuple components so the struct packs directly.
type PermitDetails struct {
	Token      common.Address
	Amount     *big.Int // uint160
	Expiration *big.Int // uint48
	Nonce      *big.Int // uint48
}

// PermitSingle mirrors the Solidity struct of the same name.
type PermitSingle struct {
	Details     PermitDetails
	Spender     common.Address
	SigDeadline *big.Int // uint256
}

// ToDeadline returns now+d as whole unix seconds.
func ToDeadline(now time.Time, d time.Duration) *big.Int {
	return big.NewInt(now.Add(d).Unix())
}

// NewPermitSingle builds the unlimited permit for spender over token, valid for
// PermitExpiration and signable until PermitSigDeadline from now.
func NewPermitSingle(token, spender common.Address, nonce uint64, now time.Time) PermitSingle {
	return PermitSingle{
		Details: PermitDetails{
			Token:      token,
			Amount:     new(big.Int).Set(MaxAllowanceTransferAmount),
			Expiration: ToDeadline(now, PermitExpiration),
			Nonce:      new(big.Int).SetUint64(nonce),
		},
		Spender:     spender,
		SigDeadline: ToDeadline(now, PermitSigDeadline),
	}
}

// Expired reports whether the signature deadline has passed at now.
func (p PermitSingle) Expired(now time.Time) bool {
	return p.SigDeadline.Cmp(big.NewInt(now.Unix())) < 0
}

// FitsUint160 reports whether v is a valid Permit2 amount.
func FitsUint160(v *big.Int) bool {
	return v != nil && v.Sign() >= 0 && v.Cmp(MaxAllowanceTransferAmount) <= 0
}
