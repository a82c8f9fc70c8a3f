package main

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/n0madic/go-supply-chain-bandits/benchmark"
	"github.com/n0madic/go-supply-chain-bandits/env"
	"github.com/n0madic/go-supply-chain-bandits/store"
)

func newBenchmarkCmd(ro *rootOptions) *cobra.Command {
	var (
		dbPath string
		runID  string
		eps    float64
	)
	cmd := &cobra.Command{
		Use:   "benchmark",
		Short: "Recompute the best static policy for a stored run",
		RunE: func(cmd *cobra.Command, args []string) error {
			db, err := store.Open(dbPath)
			if err != nil {
				return err
			}
			defer db.Close()

			h, err := db.LoadHistory(runID)
			if err != nil {
				return err
			}
			res, err := benchmark.BestStatic(h, eps)
			if err != nil {
				return err
			}
			realized, err := env.TotalProfit(h)
			if err != nil {
				return err
			}
			regret, err := res.Regret(realized)
			if err != nil {
				return err
			}

			T := len(realized)
			ro.logger.Debug("benchmark", "run", runID, "rounds", T, "pairs", len(res.Prices)*len(res.Quantities))

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "run:               %s\n", runID)
			fmt.Fprintf(out, "grid:              %d prices x %d quantities\n", len(res.Prices), len(res.Quantities))
			fmt.Fprintf(out, "best static pair:  price=%.3f quantity=%.3f\n", res.BestPrice(), res.BestQuantity())
			fmt.Fprintf(out, "best static profit: %.6f\n", res.BestCurve()[T-1])
			fmt.Fprintf(out, "regret:            %.6f\n", regret[T-1])
			return nil
		},
	}
	cmd.Flags().StringVar(&dbPath, "db", "runs.db", "SQLite run store")
	cmd.Flags().StringVar(&runID, "run", "", "run ID")
	cmd.Flags().Float64Var(&eps, "eps", 0.1, "static grid step")
	cmd.MarkFlagRequired("run")
	return cmd
}

func newRunsCmd(ro *rootOptions) *cobra.Command {
	var dbPath string
	cmd := &cobra.Command{
		Use:   "runs",
		Short: "List stored runs",
		RunE: func(cmd *cobra.Command, args []string) error {
			db, err := store.Open(dbPath)
			if err != nil {
				return err
			}
			defer db.Close()

			runs, err := db.ListRuns()
			if err != nil {
				return err
			}

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tCREATED\tRETAILER\tHORIZON\tPROFIT\tREGRET")
			for _, r := range runs {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%.4f\t%.4f\n",
					r.ID, r.CreatedAt.Format(time.RFC3339), r.Retailer, r.Horizon, r.TotalProfit, r.Regret)
			}
			return tw.Flush()
		},
	}
	cmd.Flags().StringVar(&dbPath, "db", "runs.db", "SQLite run store")
	return cmd
}
