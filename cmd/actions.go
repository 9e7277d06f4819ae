package cmd

import (
	"fmt"
	"math/big"
	"time"

	"github.com/spf13/cobra"

	"github.com/Mohsinsiddi/permitflow/internal/permit2"
	"github.com/Mohsinsiddi/permitflow/internal/ui"
)

var (
	transferAmount string
	transferTokens string
)

var allowanceCmd = &cobra.Command{
	Use:     "allowance",
	Aliases: []string{"check"},
	Short:   "Show Permit2's allowance from the owner to the spender",
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		out := cmd.OutOrStdout()
		a, err := connectApp(ctx, out)
		if err != nil {
			return err
		}

		r := a.ctrl.CheckAllowance(ctx)
		if !r.OK() {
			return a.report(out, r)
		}
		fmt.Fprintln(out, ui.SnapshotBlock(r.Snapshot, a.token, time.Now()))

		if bal, err := permit2.BalanceOf(ctx, a.provider, a.token.Address, r.Snapshot.Owner); err != nil {
			logger.Warn("balance lookup failed", "token", a.token.Address.Hex(), "err", err)
		} else {
			fmt.Fprintf(out, "%s %s\n", ui.Meta("Owner balance:"), ui.Val(ui.FormatAmount(bal, a.token)))
		}
		return nil
	},
}

var approveCmd = &cobra.Command{
	Use:   "approve",
	Short: "Approve Permit2 to spend the owner's tokens (max amount)",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		out := cmd.OutOrStdout()
		a, err := connectApp(ctx, out)
		if err != nil {
			return err
		}
		prompt := fmt.Sprintf("Approve Permit2 %s for unlimited %s?",
			a.ctrl.Settings().Permit2.Hex(), a.token.Symbol)
		if !confirmSend(cmd, prompt) {
			fmt.Fprintln(out, ui.Warn("cancelled"))
			return nil
		}
		return a.report(out, a.ctrl.Approve(ctx))
	},
}

var permitCmd = &cobra.Command{
	Use:   "permit",
	Short: "Sign a PermitSingle for the spender and submit it to Permit2",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		out := cmd.OutOrStdout()
		a, err := connectApp(ctx, out)
		if err != nil {
			return err
		}
		if !confirmSend(cmd, fmt.Sprintf("Sign and submit a %s permit for the spender?", a.token.Symbol)) {
			fmt.Fprintln(out, ui.Warn("cancelled"))
			return nil
		}
		r := a.ctrl.Permit(ctx)
		if r.Permit != nil {
			rows := [][2]string{
				{"Amount", ui.FormatAmount(r.Permit.Details.Amount, a.token)},
				{"Expiration", ui.FormatExpiration(r.Permit.Details.Expiration.Uint64(), time.Now())},
				{"Nonce", r.Permit.Details.Nonce.String()},
				{"Sig deadline", ui.FormatExpiration(r.Permit.SigDeadline.Uint64(), time.Now())},
			}
			if sess, err := a.ctrl.Sessions().Active(); err == nil {
				if sep, err := permit2.DomainSeparator(a.ctrl.Settings().Permit2, sess.ChainID); err == nil {
					rows = append(rows, [2]string{"Domain", sep.Hex()})
				}
			}
			fmt.Fprintln(out, ui.KeyValueBlock("Permit", rows))
		}
		return a.report(out, r)
	},
}

var transferCmd = &cobra.Command{
	Use:   "transfer",
	Short: "Move tokens from the owner to the spender with Permit2.transferFrom",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		out := cmd.OutOrStdout()
		a, err := connectApp(ctx, out)
		if err != nil {
			return err
		}
		amount, err := transferValue(a.token, a.ctrl.Settings().TransferAmount)
		if err != nil {
			return err
		}
		prompt := fmt.Sprintf("Transfer %s from owner to spender?", ui.FormatAmount(amount, a.token))
		if !confirmSend(cmd, prompt) {
			fmt.Fprintln(out, ui.Warn("cancelled"))
			return nil
		}
		return a.report(out, a.ctrl.Transfer(ctx, amount))
	},
}

// transferValue resolves --tokens / --amount, falling back to the configured amount.
func transferValue(tok permit2.TokenInfo, fallback *big.Int) (*big.Int, error) {
	switch {
	case transferTokens != "":
		return parseUnits(transferTokens, tok.Decimals)
	case transferAmount != "":
		return parseAmount(transferAmount)
	default:
		return fallback, nil
	}
}

func init() {
	transferCmd.Flags().StringVar(&transferAmount, "amount", "", "amount in base units (default: transfer_amount from config)")
	transferCmd.Flags().StringVar(&transferTokens, "tokens", "", "amount in whole tokens, e.g. 1.5")
	transferCmd.MarkFlagsMutuallyExclusive("amount", "tokens")
}
