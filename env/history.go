package env

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
)

// ErrInconsistent reports a history whose per-field sequences are empty
// or of unequal length.
var ErrInconsistent = errors.New("inconsistent history")

// Round is one simulated round of the supply chain.
type Round struct {
	WholesalePrice float64 `json:"wholesale_price" db:"wholesale_price"`
	RetailPrice    float64 `json:"retail_price" db:"retail_price"`
	Quantity       float64 `json:"quantity" db:"quantity"`
	Demand         float64 `json:"demand" db:"demand"`
}

// Sold returns min(quantity, demand).
func (r Round) Sold() float64 {
	return math.Min(r.Quantity, r.Demand)
}

// Profit returns the retailer's profit for the round.
func (r Round) Profit() float64 {
	revenue := float64(r.RetailPrice * r.Sold())
	cost := float64(r.WholesalePrice * r.Quantity)
	return revenue - cost
}

// History keeps one ordered sequence per field. Append keeps the
// sequences the same length; Validate checks histories built by hand.
type History struct {
	WholesalePrices []float64 `json:"wholesale_price"`
	RetailPrices    []float64 `json:"retail_price"`
	Quantities      []float64 `json:"quantity"`
	Demands         []float64 `json:"demand"`
}

// NewHistory returns an empty history with room for capacity rounds.
func NewHistory(capacity int) History {
	return History{
		WholesalePrices: make([]float64, 0, capacity),
		RetailPrices:    make([]float64, 0, capacity),
		Quantities:      make([]float64, 0, capacity),
		Demands:         make([]float64, 0, capacity),
	}
}

// Append adds a round at the end.
func (h *History) Append(r Round) {
	h.WholesalePrices = append(h.WholesalePrices, r.WholesalePrice)
	h.RetailPrices = append(h.RetailPrices, r.RetailPrice)
	h.Quantities = append(h.Quantities, r.Quantity)
	h.Demands = append(h.Demands, r.Demand)
}

// Len returns the number of rounds, measured on the demand sequence.
func (h History) Len() int {
	return len(h.Demands)
}

// Validate fails with ErrInconsistent unless the history is non-empty and
// all four sequences have the same length.
func (h History) Validate() error {
	T := len(h.Demands)
	if T == 0 {
		return fmt.Errorf("%w: no rounds recorded", ErrInconsistent)
	}
	if len(h.WholesalePrices) != T || len(h.RetailPrices) != T || len(h.Quantities) != T {
		return fmt.Errorf("%w: field lengths wholesale=%d retail=%d quantity=%d demand=%d",
			ErrInconsistent, len(h.WholesalePrices), len(h.RetailPrices), len(h.Quantities), T)
	}
	return nil
}

// Round returns round t (0-based). The history must be consistent.
func (h History) Round(t int) Round {
	return Round{
		WholesalePrice: h.WholesalePrices[t],
		RetailPrice:    h.RetailPrices[t],
		Quantity:       h.Quantities[t],
		Demand:         h.Demands[t],
	}
}

// Rounds returns the history as a slice of rounds.
func (h History) Rounds() ([]Round, error) {
	if err := h.Validate(); err != nil {
		return nil, err
	}
	out := make([]Round, h.Len())
	for t := range out {
		out[t] = h.Round(t)
	}
	return out, nil
}

// Clone returns a deep copy.
func (h History) Clone() History {
	return History{
		WholesalePrices: append([]float64(nil), h.WholesalePrices...),
		RetailPrices:    append([]float64(nil), h.RetailPrices...),
		Quantities:      append([]float64(nil), h.Quantities...),
		Demands:         append([]float64(nil), h.Demands...),
	}
}

// TotalProfit returns the retailer's cumulative profit after each round.
func TotalProfit(h History) ([]float64, error) {
	if err := h.Validate(); err != nil {
		return nil, err
	}
	profit := make([]float64, h.Len())
	for t := range profit {
		profit[t] = h.Round(t).Profit()
	}
	return floats.CumSum(make([]float64, len(profit)), profit), nil
}
