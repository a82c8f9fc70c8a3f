package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/n0madic/go-supply-chain-bandits/benchmark"
	"github.com/n0madic/go-supply-chain-bandits/config"
	"github.com/n0madic/go-supply-chain-bandits/exp3sc"
	"github.com/n0madic/go-supply-chain-bandits/report"
	"github.com/n0madic/go-supply-chain-bandits/store"
)

type runOptions struct {
	configPath string
	dbPath     string
	reportPath string
	modelPath  string
	replay     bool
}

func newRunCmd(ro *rootOptions) *cobra.Command {
	o := &runOptions{}
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run one experiment and report regret against the best static policy",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runExperiment(cmd, ro, o)
		},
	}
	cmd.Flags().StringVarP(&o.configPath, "config", "c", "experiment.yaml", "experiment YAML file")
	cmd.Flags().StringVar(&o.dbPath, "db", "", "SQLite file to store the run in")
	cmd.Flags().StringVar(&o.reportPath, "report", "", "write an HTML profit/regret report to this path")
	cmd.Flags().StringVar(&o.modelPath, "save-model", "", "write the trained exp3sc retailer (gob) to this path")
	cmd.Flags().BoolVar(&o.replay, "replay", false, "also replay every static pair through the market")
	return cmd
}

func runExperiment(cmd *cobra.Command, ro *rootOptions, o *runOptions) error {
	exp, err := config.Load(o.configPath)
	if err != nil {
		return err
	}
	e, err := exp.Build(ro.logger)
	if err != nil {
		return err
	}

	start, err := benchmark.Capture(e)
	if err != nil {
		return err
	}
	if err := e.Run(); err != nil {
		return err
	}

	history := e.History()
	realized, err := e.RetailerTotalProfit()
	if err != nil {
		return err
	}
	res, err := benchmark.BestStatic(history, exp.Benchmark.Eps)
	if err != nil {
		return err
	}
	regret, err := res.Regret(realized)
	if err != nil {
		return err
	}

	T := len(realized)
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "experiment:        %s\n", exp.Name)
	fmt.Fprintf(out, "rounds:            %d\n", T)
	fmt.Fprintf(out, "realized profit:   %.6f\n", realized[T-1])
	fmt.Fprintf(out, "best static pair:  price=%.3f quantity=%.3f\n", res.BestPrice(), res.BestQuantity())
	fmt.Fprintf(out, "best static profit: %.6f\n", res.BestCurve()[T-1])
	fmt.Fprintf(out, "regret:            %.6f\n", regret[T-1])

	if r, ok := e.Retailer().(*exp3sc.Retailer); ok {
		stats := r.Stats()
		ro.logger.Info("exp3sc retailer",
			"mode_price", stats["mode_price"],
			"mode_quantity", stats["mode_quantity"],
			"policy_entropy", stats["policy_entropy"],
		)
		if o.modelPath != "" {
			if err := saveModel(o.modelPath, r); err != nil {
				return err
			}
		}
	}

	if o.replay {
		prices, quantities, err := benchmark.Grid(exp.Benchmark.Eps)
		if err != nil {
			return err
		}
		runs, err := benchmark.ReplayStatic(e, start, prices, quantities)
		if err != nil {
			return err
		}
		best, err := benchmark.BestFinal(runs)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "replayed best:     price=%.3f quantity=%.3f profit=%.6f\n", best.Price, best.Quantity, best.Final())
	}

	if o.dbPath != "" {
		db, err := store.Open(o.dbPath)
		if err != nil {
			return err
		}
		defer db.Close()

		id, err := db.SaveRun(store.Run{
			Horizon:      exp.Horizon,
			Retailer:     exp.Retailer.Kind,
			TotalProfit:  realized[T-1],
			BestPrice:    res.BestPrice(),
			BestQuantity: res.BestQuantity(),
			BestProfit:   res.BestCurve()[T-1],
			Regret:       regret[T-1],
		}, history)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "run id:            %s\n", id)
	}

	if o.reportPath != "" {
		err := report.WriteFile(o.reportPath, report.Series{
			Title:        exp.Name,
			Realized:     realized,
			BestStatic:   res.BestCurve(),
			BestPrice:    res.BestPrice(),
			BestQuantity: res.BestQuantity(),
		})
		if err != nil {
			return err
		}
		ro.logger.Info("report written", "path", o.reportPath)
	}

	return nil
}

func saveModel(path string, r *exp3sc.Retailer) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := r.Save(f); err != nil {
		f.Close()
		return fmt.Errorf("save model: %w", err)
	}
	return f.Close()
}
