package permit2

import (
	"encoding/hex"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"golang.org/x/crypto/sha3"
)

// Permit2 ABI subset: the single-token allowance-transfer surface.
const permit2ABIJSON = `[
	{"type":"function","name":"allowance","stateMutability":"view",
	 "inputs":[{"name":"user","type":"address"},{"name":"token","type":"address"},{"name":"spender","type":"address"}],
	 "outputs":[{"name":"amount","type":"uint160"},{"name":"expiration","type":"uint48"},{"name":"nonce","type":"uint48"}]},
	{"type":"function","name":"permit","stateMutability":"nonpayable",
	 "inputs":[
	  {"name":"owner","type":"address"},
	  {"name":"permitSingle","type":"tuple","internalType":"struct IAllowanceTransfer.PermitSingle","components":[
	   {"name":"details","type":"tuple","internalType":"struct IAllowanceTransfer.PermitDetails","components":[
	    {"name":"token","type":"address"},
	    {"name":"amount","type":"uint160"},
	    {"name":"expiration","type":"uint48"},
	    {"name":"nonce","type":"uint48"}]},
	   {"name":"spender","type":"address"},
	   {"name":"sigDeadline","type":"uint256"}]},
	  {"name":"signature","type":"bytes"}],
	 "outputs":[]},
	{"type":"function","name":"transferFrom","stateMutability":"nonpayable",
	 "inputs":[{"name":"from","type":"address"},{"name":"to","type":"address"},{"name":"amount","type":"uint160"},{"name":"token","type":"address"}],
	 "outputs":[]},
	{"type":"function","name":"DOMAIN_SEPARATOR","stateMutability":"view",
	 "inputs":[],"outputs":[{"name":"","type":"bytes32"}]}
]`

// ERC-20 subset used by the flow.
const erc20ABIJSON = `[
	{"type":"function","name":"approve","stateMutability":"nonpayable",
	 "inputs":[{"name":"spender","type":"address"},{"name":"amount","type":"uint256"}],
	 "outputs":[{"name":"","type":"bool"}]},
	{"type":"function","name":"allowance","stateMutability":"view",
	 "inputs":[{"name":"owner","type":"address"},{"name":"spender","type":"address"}],
	 "outputs":[{"name":"","type":"uint256"}]},
	{"type":"function","name":"balanceOf","stateMutability":"view",
	 "inputs":[{"name":"account","type":"address"}],
	 "outputs":[{"name":"","type":"uint256"}]},
	{"type":"function","name":"decimals","stateMutability":"view",
	 "inputs":[],"outputs":[{"name":"","type":"uint8"}]},
	{"type":"function","name":"symbol","stateMutability":"view",
	 "inputs":[],"outputs":[{"name":"","type":"string"}]}
]`

var (
	permit2ABI = mustParse(permit2ABIJSON)
	erc20ABI   = mustParse(erc20ABIJSON)
)

func mustParse(s string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(s))
	if err != nil {
		panic(fmt.Sprintf("permit2: parsing ABI: %v", err))
	}
	return parsed
}

// Selector returns the 4-byte function selector for a canonical signature
// such as "approve(address,uint256)".
func Selector(signature string) [4]byte {
	h := sha3.NewLegacyKeccak256()
	h.Write([]byte(signature))
	var out [4]byte
	copy(out[:], h.Sum(nil)[:4])
	return out
}

var knownSelectors = map[[4]byte]string{}

func init() {
	for _, parsed := range []abi.ABI{permit2ABI, erc20ABI} {
		for _, m := range parsed.Methods {
			knownSelectors[Selector(m.Sig)] = m.Sig
		}
	}
}

// MethodName returns the canonical signature of the method called by data,
// or its hex selector when the method is unknown.
func MethodName(data []byte) string {
	if len(data) < 4 {
		return ""
	}
	var sel [4]byte
	copy(sel[:], data[:4])
	if sig, ok := knownSelectors[sel]; ok {
		return sig
	}
	return "0x" + hex.EncodeToString(sel[:])
}

// PackApprove encodes ERC-20 approve(spender, amount).
func PackApprove(spender common.Address, amount *big.Int) ([]byte, error) {
	return erc20ABI.Pack("approve", spender, amount)
}

// PackAllowance encodes Permit2 allowance(user, token, spender).
func PackAllowance(user, token, spender common.Address) ([]byte, error) {
	return permit2ABI.Pack("allowance", user, token, spender)
}

// PackPermit encodes Permit2 permit(owner, permitSingle, signature).
func PackPermit(owner common.Address, p PermitSingle, signature []byte) ([]byte, error) {
	if len(signature) != 65 {
		return nil, fmt.Errorf("invalid signature length: expected 65 bytes, got %d", len(signature))
	}
	return permit2ABI.Pack("permit", owner, p, signature)
}

// PackTransferFrom encodes Permit2 transferFrom(from, to, amount, token).
func PackTransferFrom(from, to common.Address, amount *big.Int, token common.Address) ([]byte, error) {
	if !FitsUint160(amount) {
		return nil, fmt.Errorf("amount %v does not fit uint160", amount)
	}
	return permit2ABI.Pack("transferFrom", from, to, amount, token)
}

// AllowanceData is the decoded result of Permit2 allowance().
type AllowanceData struct {
	Amount     *big.Int
	Expiration uint64
	Nonce      uint64
}

// UnpackAllowance decodes the return data of Permit2 allowance().
func UnpackAllowance(data []byte) (AllowanceData, error) {
	out, err := permit2ABI.Unpack("allowance", data)
	if err != nil {
		return AllowanceData{}, fmt.Errorf("decoding allowance: %w", err)
	}
	if len(out) != 3 {
		return AllowanceData{}, fmt.Errorf("decoding allowance: expected 3 values, got %d", len(out))
	}
	amount, ok1 := out[0].(*big.Int)
	expiration, ok2 := out[1].(*big.Int)
	nonce, ok3 := out[2].(*big.Int)
	if !ok1 || !ok2 || !ok3 {
		return AllowanceData{}, fmt.Errorf("decoding allowance: unexpected types %T %T %T", out[0], out[1], out[2])
	}
	return AllowanceData{
		Amount:     amount,
		Expiration: expiration.Uint64(),
		Nonce:      nonce.Uint64(),
	}, nil
}
