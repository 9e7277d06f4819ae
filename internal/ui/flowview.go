package ui

import (
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/Mohsinsiddi/permitflow/internal/chain"
	"github.com/Mohsinsiddi/permitflow/internal/flow"
	"github.com/Mohsinsiddi/permitflow/internal/permit2"
)

// ActionLabel is the button text for an action.
func ActionLabel(a flow.Action) string {
	switch a {
	case flow.ActionConnect:
		return "Connect Wallet"
	case flow.ActionCheckAllowance:
		return "Check Allowance"
	case flow.ActionApprove:
		return "Approve"
	case flow.ActionPermit:
		return "Permit"
	case flow.ActionTransfer:
		return "Transfer"
	default:
		return string(a)
	}
}

// FormatAmount renders a token amount in whole units, spelling out the
// max sentinel.
func FormatAmount(raw *big.Int, tok permit2.TokenInfo) string {
	if raw != nil && raw.Cmp(permit2.MaxAllowanceTransferAmount) == 0 {
		return "unlimited (2^160-1)"
	}
	return chain.FormatUnits(raw, int(tok.Decimals)) + " " + tok.Symbol
}

// FormatExpiration renders a unix-seconds expiration relative to now.
func FormatExpiration(exp uint64, now time.Time) string {
	if exp == 0 {
		return "never set"
	}
	if exp == permit2.MaxAllowanceExpiration.Uint64() {
		return "no expiry"
	}
	t := time.Unix(int64(exp), 0)
	if t.Before(now) {
		return fmt.Sprintf("%s (expired)", t.UTC().Format(time.RFC3339))
	}
	return fmt.Sprintf("%s (in %s)", t.UTC().Format(time.RFC3339), t.Sub(now).Round(time.Minute))
}

// SnapshotBlock renders an allowance snapshot as a key/value box.
func SnapshotBlock(s *flow.AllowanceSnapshot, tok permit2.TokenInfo, now time.Time) string {
	return KeyValueBlock("Permit2 allowance", [][2]string{
		{"Token", s.Token.Hex()},
		{"Owner", s.Owner.Hex()},
		{"Spender", s.Spender.Hex()},
		{"Amount", FormatAmount(s.Amount, tok)},
		{"Expiration", FormatExpiration(s.Expiration, now)},
		{"Nonce", fmt.Sprintf("%d", s.Nonce)},
	})
}

// ResultLine renders a one-line summary of r. txURL, when non-nil, turns the
// transaction hash into an explorer link.
func ResultLine(r flow.Result, txURL func(hash string) string) string {
	label := ActionLabel(r.Action)
	if !r.OK() {
		return Err(fmt.Sprintf("%s failed [%s]: %v", label, r.Kind, r.Err))
	}
	msg := label + " ok"
	if r.TxHash != (common.Hash{}) {
		hash := r.TxHash.Hex()
		if txURL != nil {
			if u := txURL(hash); u != "" {
				hash = u
			}
		}
		msg += "  " + Meta("tx") + " " + Addr(hash)
		if r.Receipt != nil {
			msg += Meta(fmt.Sprintf("  block %d  gas %d", r.Receipt.BlockNumber, r.Receipt.GasUsed))
		}
	}
	return Success(msg) + Meta(fmt.Sprintf("  (%s)", r.Duration().Round(time.Millisecond)))
}
