package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Mohsinsiddi/permitflow/internal/ui"
)

var connectCmd = &cobra.Command{
	Use:   "connect",
	Short: "Connect the wallet and show the owner and spender accounts",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		out := cmd.OutOrStdout()
		a, err := connectApp(cmd.Context(), out)
		if err != nil {
			return err
		}
		fmt.Fprintln(out, ui.Success("wallet connected"))
		fmt.Fprintln(out, a.sessionBlock())
		return nil
	},
}
