package cmd

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/Mohsinsiddi/permitflow/internal/chain"
	"github.com/Mohsinsiddi/permitflow/internal/config"
	"github.com/Mohsinsiddi/permitflow/internal/rpc"
	"github.com/Mohsinsiddi/permitflow/internal/ui"
)

var rpcCmd = &cobra.Command{
	Use:   "rpc",
	Short: "Manage chain RPC endpoints used by the keystore provider",
}

var rpcAddCmd = &cobra.Command{
	Use:   "add <chain> <url>",
	Short: "Add a custom RPC URL for a chain",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		chainName, url := args[0], args[1]
		reg := chain.NewRegistry()
		if _, err := reg.GetByName(chainName); err != nil {
			return fmt.Errorf("unknown chain %q (valid: %s)", chainName, strings.Join(reg.Names(), ", "))
		}
		if err := cfg.AddRPC(chainName, url); err != nil {
			return err
		}
		if err := cfg.Save(); err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), ui.Success(fmt.Sprintf("Added RPC for %s: %s", ui.ChainName(chainName), url)))
		return nil
	},
}

var rpcRemoveCmd = &cobra.Command{
	Use:   "remove <chain> <url>",
	Short: "Remove a custom RPC URL",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		chainName, url := args[0], args[1]
		if err := cfg.RemoveRPC(chainName, url); err != nil {
			return err
		}
		if err := cfg.Save(); err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), ui.Success(fmt.Sprintf("Removed RPC for %s: %s", chainName, url)))
		return nil
	},
}

var rpcListCmd = &cobra.Command{
	Use:   "list [chain]",
	Short: "List supported chains, or the RPCs of one chain",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		out := cmd.OutOrStdout()
		reg := chain.NewRegistry()

		if len(args) == 0 {
			t := ui.NewTable([]ui.Column{{Title: "Chain"}, {Title: "Name"}, {Title: "Mainnet ID"}, {Title: "Testnet ID"}})
			for _, c := range reg.All() {
				t.AddRow(ui.Row{ui.ChainName(c.Name), c.DisplayName, fmt.Sprint(c.ChainID), fmt.Sprint(c.TestnetChainID)})
			}
			fmt.Fprintln(out, t.Render())
			return nil
		}

		c, err := reg.GetByName(args[0])
		if err != nil {
			return fmt.Errorf("unknown chain %q", args[0])
		}
		fmt.Fprintln(out, ui.StyleTitle.Render(fmt.Sprintf("RPCs for %s", c.DisplayName)))
		fmt.Fprintln(out, ui.StyleHeader.Render("Built-in RPCs:"))
		for _, r := range c.MainnetRPCs {
			fmt.Fprintf(out, "  %s %s\n", ui.Meta("(mainnet)"), r)
		}
		for _, r := range c.TestnetRPCs {
			fmt.Fprintf(out, "  %s %s\n", ui.Meta("(testnet)"), r)
		}
		if custom := cfg.GetRPCs(c.Name); len(custom) > 0 {
			fmt.Fprintln(out, ui.StyleHeader.Render("Custom RPCs:"))
			for _, r := range custom {
				fmt.Fprintf(out, "  %s\n", r)
			}
		}
		return nil
	},
}

var rpcBenchCmd = &cobra.Command{
	Use:     "bench <chain>",
	Aliases: []string{"benchmark"},
	Short:   "Benchmark a chain's RPCs and show which one would be selected",
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		out := cmd.OutOrStdout()
		c, err := chain.NewRegistry().GetByName(args[0])
		if err != nil {
			return fmt.Errorf("unknown chain %q", args[0])
		}
		urls := append(append([]string{}, cfg.GetRPCs(c.Name)...), c.RPCs(cfg.NetworkMode)...)

		ctx, cancel := context.WithTimeout(cmd.Context(), config.RPCSelectTimeout)
		defer cancel()

		spin := ui.NewSpinner(cmd.ErrOrStderr(), fmt.Sprintf("Benchmarking %s RPCs...", c.DisplayName))
		spin.Start()
		results := rpc.Benchmark(ctx, urls)
		spin.StopWithMsg(ui.Meta(fmt.Sprintf("%d endpoint(s) checked", len(results))))

		t := ui.NewTable([]ui.Column{{Title: "RPC URL"}, {Title: "Latency"}, {Title: "Block #"}, {Title: "Status"}})
		for _, r := range results {
			status := ui.Success("healthy")
			latency := fmt.Sprintf("%dms", r.Latency.Milliseconds())
			block := fmt.Sprintf("%d", r.BlockNumber)
			if !r.Healthy {
				status = ui.Err("down")
				latency = "-"
				block = "-"
			}
			t.AddRow(ui.Row{r.URL, latency, block, status})
		}
		fmt.Fprintln(out, t.Render())

		best, err := rpc.NewPicker(rpc.Algorithm(cfg.RPCAlgorithm)).Pick(results)
		if err != nil {
			fmt.Fprintln(out, ui.Warn(err.Error()))
			return nil
		}
		fmt.Fprintf(out, "%s %s\n", ui.Meta(fmt.Sprintf("Selected (%s):", cfg.RPCAlgorithm)), ui.Addr(best.URL))
		return nil
	},
}

func init() {
	rpcCmd.AddCommand(rpcAddCmd, rpcRemoveCmd, rpcListCmd, rpcBenchCmd)
}
