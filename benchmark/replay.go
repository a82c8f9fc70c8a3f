package benchmark

import (
	"errors"
	"fmt"

	"github.com/n0madic/go-supply-chain-bandits/actor"
	"github.com/n0madic/go-supply-chain-bandits/env"
	"github.com/n0madic/go-supply-chain-bandits/randsrc"
)

// Snapshot holds the random-source state of an environment's wholesaler
// and market. Actors without a random source are skipped.
type Snapshot struct {
	wholesaler randsrc.State
	market     randsrc.State
}

// Capture records the current random-source state of e's wholesaler and
// market.
func Capture(e *env.Env) (Snapshot, error) {
	var snap Snapshot
	var err error
	if s, ok := e.Wholesaler().(actor.Stochastic); ok {
		if snap.wholesaler, err = s.RNG().ExportState(); err != nil {
			return Snapshot{}, fmt.Errorf("capture wholesaler: %w", err)
		}
	}
	if s, ok := e.Market().(actor.Stochastic); ok {
		if snap.market, err = s.RNG().ExportState(); err != nil {
			return Snapshot{}, fmt.Errorf("capture market: %w", err)
		}
	}
	return snap, nil
}

// Restore puts the captured states back into e's wholesaler and market.
func (s Snapshot) Restore(e *env.Env) error {
	if st, ok := e.Wholesaler().(actor.Stochastic); ok && s.wholesaler != nil {
		if err := st.RNG().ImportState(s.wholesaler); err != nil {
			return fmt.Errorf("restore wholesaler: %w", err)
		}
	}
	if st, ok := e.Market().(actor.Stochastic); ok && s.market != nil {
		if err := st.RNG().ImportState(s.market); err != nil {
			return fmt.Errorf("restore market: %w", err)
		}
	}
	return nil
}

// StaticRun is the outcome of replaying the horizon with one static pair.
type StaticRun struct {
	Price       float64
	Quantity    float64
	TotalProfit []float64
}

// Final returns the terminal cumulative profit.
func (r StaticRun) Final() float64 {
	return r.TotalProfit[len(r.TotalProfit)-1]
}

// ReplayStatic replays the full horizon once per (price, quantity) pair
// with a ConstantRetailer installed. Before every replay the wholesaler
// and market are rewound to start, so all pairs face the same wholesale
// prices and demands when those actors ignore the retailer.
//
// The original retailer and the random-source states found on entry are
// put back on return. The environment history is left Reset.
func ReplayStatic(e *env.Env, start Snapshot, prices, quantities []float64) ([]StaticRun, error) {
	if len(prices) == 0 || len(quantities) == 0 {
		return nil, fmt.Errorf("%w: %d prices, %d quantities", ErrInvalidGrid, len(prices), len(quantities))
	}

	entry, err := Capture(e)
	if err != nil {
		return nil, err
	}
	original := e.Retailer()

	runs := make([]StaticRun, 0, len(prices)*len(quantities))
	runErr := func() error {
		for _, p := range prices {
			for _, q := range quantities {
				e.SetRetailer(&actor.ConstantRetailer{Price: p, Quantity: q})
				if err := start.Restore(e); err != nil {
					return err
				}
				e.Reset()
				if err := e.Run(); err != nil {
					return fmt.Errorf("static (%v, %v): %w", p, q, err)
				}
				profit, err := e.RetailerTotalProfit()
				if err != nil {
					return err
				}
				runs = append(runs, StaticRun{Price: p, Quantity: q, TotalProfit: profit})
			}
		}
		return nil
	}()

	e.SetRetailer(original)
	e.Reset()
	if err := entry.Restore(e); err != nil {
		return nil, errors.Join(runErr, err)
	}
	if runErr != nil {
		return nil, runErr
	}
	return runs, nil
}

// BestFinal returns the run with the highest terminal profit; ties go to
// the earliest run.
func BestFinal(runs []StaticRun) (StaticRun, error) {
	if len(runs) == 0 {
		return StaticRun{}, errors.New("no static runs")
	}
	best := 0
	for i := 1; i < len(runs); i++ {
		if runs[i].Final() > runs[best].Final() {
			best = i
		}
	}
	return runs[best], nil
}
