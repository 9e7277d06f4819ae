package cmd

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/spf13/cobra"

	"github.com/Mohsinsiddi/permitflow/internal/config"
	"github.com/Mohsinsiddi/permitflow/internal/flow"
	"github.com/Mohsinsiddi/permitflow/internal/permit2"
	"github.com/Mohsinsiddi/permitflow/internal/providers"
	"github.com/Mohsinsiddi/permitflow/internal/session"
	"github.com/Mohsinsiddi/permitflow/internal/ui"
)

// studioRunner adapts a controller and its provider to the studio screen.
type studioRunner struct {
	ctrl     *flow.Controller
	provider providers.Provider
}

func (r *studioRunner) Connect(ctx context.Context) flow.Result {
	ctx, cancel := context.WithTimeout(ctx, config.ConnectTimeout)
	defer cancel()
	return r.ctrl.Connect(ctx, r.provider)
}

func (r *studioRunner) Disconnect() { r.ctrl.Sessions().Disconnect() }

func (r *studioRunner) Connected() bool { return r.ctrl.Sessions().Connected() }

func (r *studioRunner) Accounts() []common.Address {
	accts, _ := r.ctrl.Sessions().Accounts()
	return accts
}

func (r *studioRunner) Do(ctx context.Context, a flow.Action) flow.Result {
	return r.ctrl.Do(ctx, a)
}

func (r *studioRunner) Latest() *flow.AllowanceSnapshot { return r.ctrl.Latest() }

var studioCmd = &cobra.Command{
	Use:   "studio",
	Short: "Interactive screen with Connect, Check, Approve, Permit and Transfer buttons",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		settings, err := flowSettings()
		if err != nil {
			return err
		}
		p, err := newProvider(ctx)
		if err != nil {
			return err
		}
		ctrl := flow.NewController(session.New(logger), settings, logger)
		runner := &studioRunner{ctrl: ctrl, provider: p}

		m := ui.NewStudioModel(ctx, runner, p.Name(), permit2.ReadToken(ctx, p, settings.Token))
		m.TxURL = func(hash string) string {
			snap, err := ctrl.Sessions().Active()
			if err != nil {
				return ""
			}
			return explorerTxURL(snap.ChainID, hash)
		}

		tally, err := ui.RunStudio(m)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s\n", ui.Meta(fmt.Sprintf("%d action(s), %d failed", tally.Done, tally.Failed)))
		return nil
	},
}
