// Package benchmark scores static (price, quantity) policies against a
// recorded history. The best of them in hindsight is the baseline the
// learning retailer's regret is measured against.
package benchmark

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"

	"github.com/n0madic/go-supply-chain-bandits/env"
)

// ErrInvalidGrid reports an empty grid or a grid step outside (0, 1).
var ErrInvalidGrid = errors.New("invalid benchmark grid")

// Result holds the cumulative profit of every static policy on a
// price x quantity grid.
type Result struct {
	Prices     []float64
	Quantities []float64

	// TotalProfit has one row per (price, quantity) pair in row-major
	// order and one column per round.
	TotalProfit *mat.Dense

	BestPriceIdx    int
	BestQuantityIdx int
}

// Counterfactual computes, for every pair of prices x quantities, the
// cumulative profit a retailer committed to that pair would have earned
// against the recorded wholesale prices and demands.
func Counterfactual(h env.History, prices, quantities []float64) (*Result, error) {
	if err := h.Validate(); err != nil {
		return nil, err
	}
	if len(prices) == 0 || len(quantities) == 0 {
		return nil, fmt.Errorf("%w: %d prices, %d quantities", ErrInvalidGrid, len(prices), len(quantities))
	}

	T := h.Len()
	nQ := len(quantities)
	total := mat.NewDense(len(prices)*nQ, T, nil)

	profit := make([]float64, T)
	for i, p := range prices {
		for j, q := range quantities {
			for t := 0; t < T; t++ {
				sold := math.Min(q, h.Demands[t])
				profit[t] = float64(p*sold) - float64(q*h.WholesalePrices[t])
			}
			floats.CumSum(total.RawRowView(i*nQ+j), profit)
		}
	}

	final := mat.Col(nil, T-1, total)
	best := floats.MaxIdx(final)

	return &Result{
		Prices:          append([]float64(nil), prices...),
		Quantities:      append([]float64(nil), quantities...),
		TotalProfit:     total,
		BestPriceIdx:    best / nQ,
		BestQuantityIdx: best % nQ,
	}, nil
}

// Grid returns prices 0, eps, 2eps, ... below 1 and quantities
// 0, eps, ... up to the first level at or above 1.
func Grid(eps float64) ([]float64, []float64, error) {
	if math.IsNaN(eps) || eps <= 0 || eps >= 1 {
		return nil, nil, fmt.Errorf("%w: step must be in (0,1), got %v", ErrInvalidGrid, eps)
	}
	return arange(0, 1, eps), arange(0, 1+eps, eps), nil
}

// arange mirrors the half-open [start, stop) range with n = ceil((stop-start)/step).
func arange(start, stop, step float64) []float64 {
	n := int(math.Ceil((stop - start) / step))
	out := make([]float64, n)
	for i := range out {
		out[i] = start + float64(i)*step
	}
	return out
}

// BestStatic runs Counterfactual on the regular grid with step eps.
func BestStatic(h env.History, eps float64) (*Result, error) {
	prices, quantities, err := Grid(eps)
	if err != nil {
		return nil, err
	}
	return Counterfactual(h, prices, quantities)
}

// Rounds returns the number of rounds T.
func (r *Result) Rounds() int {
	_, T := r.TotalProfit.Dims()
	return T
}

// At returns the cumulative profit of pair (i, j) after round t (0-based).
func (r *Result) At(i, j, t int) float64 {
	return r.TotalProfit.At(i*len(r.Quantities)+j, t)
}

// Curve returns a copy of the cumulative profit of pair (i, j).
func (r *Result) Curve(i, j int) []float64 {
	return mat.Row(nil, i*len(r.Quantities)+j, r.TotalProfit)
}

// Final returns the terminal cumulative profit of every pair as a
// price x quantity matrix.
func (r *Result) Final() *mat.Dense {
	final := mat.Col(nil, r.Rounds()-1, r.TotalProfit)
	return mat.NewDense(len(r.Prices), len(r.Quantities), final)
}

func (r *Result) BestPrice() float64 { return r.Prices[r.BestPriceIdx] }

func (r *Result) BestQuantity() float64 { return r.Quantities[r.BestQuantityIdx] }

// BestCurve returns the cumulative profit of the best static pair.
func (r *Result) BestCurve() []float64 {
	return r.Curve(r.BestPriceIdx, r.BestQuantityIdx)
}

// Regret returns best static cumulative profit minus realized cumulative
// profit, round by round.
func (r *Result) Regret(realized []float64) ([]float64, error) {
	if len(realized) != r.Rounds() {
		return nil, fmt.Errorf("%w: realized profit has %d rounds, benchmark has %d",
			env.ErrInconsistent, len(realized), r.Rounds())
	}
	return floats.SubTo(make([]float64, len(realized)), r.BestCurve(), realized), nil
}
