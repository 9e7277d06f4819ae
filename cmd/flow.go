package cmd

import (
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/Mohsinsiddi/permitflow/internal/flow"
	"github.com/Mohsinsiddi/permitflow/internal/ui"
)

var flowSteps []string

var flowCmd = &cobra.Command{
	Use:   "flow",
	Short: "Run check-allowance, approve, permit and transfer in order",
	Long: `Run the split Permit2 flow end to end, stopping at the first failed step.

Use --steps to run a subset, e.g. --steps permit,transfer.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		steps, err := parseSteps(flowSteps)
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		a, err := connectApp(cmd.Context(), out)
		if err != nil {
			return err
		}
		fmt.Fprintln(out, a.sessionBlock())

		if !confirmSend(cmd, fmt.Sprintf("Run %d step(s) and send transactions?", len(steps))) {
			fmt.Fprintln(out, ui.Warn("cancelled"))
			return nil
		}
		return a.reportAll(out, a.ctrl.Run(cmd.Context(), steps...))
	},
}

// reportAll prints each result, with the snapshot after a check-allowance,
// and fails if the run stopped early.
func (a *app) reportAll(out io.Writer, results []flow.Result) error {
	for _, r := range results {
		if err := a.report(out, r); err != nil {
			return err
		}
		if r.Action == flow.ActionCheckAllowance && r.Snapshot != nil {
			fmt.Fprintln(out, ui.SnapshotBlock(r.Snapshot, a.token, time.Now()))
		}
	}
	return nil
}

func parseSteps(names []string) ([]flow.Action, error) {
	if len(names) == 0 {
		return flow.Steps, nil
	}
	steps := make([]flow.Action, 0, len(names))
	for _, n := range names {
		a := flow.Action(n)
		switch a {
		case flow.ActionCheckAllowance, flow.ActionApprove, flow.ActionPermit, flow.ActionTransfer:
			steps = append(steps, a)
		default:
			return nil, fmt.Errorf("unknown step %q (valid: check-allowance, approve, permit, transfer)", n)
		}
	}
	return steps, nil
}

func init() {
	flowCmd.Flags().StringSliceVar(&flowSteps, "steps", nil, "comma-separated subset of steps to run")
}
