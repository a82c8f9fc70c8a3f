package actor

import (
	"github.com/n0madic/go-supply-chain-bandits/randsrc"
)

// ConstantWholesaler always quotes the same wholesale price.
type ConstantWholesaler struct {
	Price float64
}

func (w *ConstantWholesaler) Act() (float64, error) { return w.Price, nil }

func (w *ConstantWholesaler) Learn(float64) error { return nil }

// RandomWholesaler quotes a uniform price in [0, 1).
type RandomWholesaler struct {
	rng *randsrc.Source
}

// NewRandomWholesaler creates a RandomWholesaler. A nil seed selects
// randsrc.DefaultWholesalerSeed.
func NewRandomWholesaler(seed *uint64) *RandomWholesaler {
	return &RandomWholesaler{rng: randsrc.New(seedOr(seed, randsrc.DefaultWholesalerSeed))}
}

func (w *RandomWholesaler) Act() (float64, error) { return w.rng.Float64(), nil }

func (w *RandomWholesaler) Learn(float64) error { return nil }

// RNG implements Stochastic.
func (w *RandomWholesaler) RNG() *randsrc.Source { return w.rng }

// ConstantMarket always produces the same demand.
type ConstantMarket struct {
	Demand float64
}

func (m *ConstantMarket) Act(float64) (float64, error) { return m.Demand, nil }

// RandomMarket draws a uniform demand in [0, 1) regardless of price.
type RandomMarket struct {
	rng *randsrc.Source
}

// NewRandomMarket creates a RandomMarket. A nil seed selects
// randsrc.DefaultMarketSeed.
func NewRandomMarket(seed *uint64) *RandomMarket {
	return &RandomMarket{rng: randsrc.New(seedOr(seed, randsrc.DefaultMarketSeed))}
}

func (m *RandomMarket) Act(float64) (float64, error) { return m.rng.Float64(), nil }

// RNG implements Stochastic.
func (m *RandomMarket) RNG() *randsrc.Source { return m.rng }

// DeterministicMarket maps the retail price through a demand curve.
type DeterministicMarket struct {
	Demand func(retailPrice float64) float64
}

func (m *DeterministicMarket) Act(retailPrice float64) (float64, error) {
	return m.Demand(retailPrice), nil
}

// LinearDemand returns the curve d(p) = max(0, intercept - slope*p).
func LinearDemand(intercept, slope float64) func(float64) float64 {
	return func(p float64) float64 {
		d := intercept - slope*p
		if d < 0 {
			return 0
		}
		return d
	}
}

// ConstantRetailer commits to one (price, quantity) pair: a static policy.
type ConstantRetailer struct {
	Price    float64
	Quantity float64
}

func (r *ConstantRetailer) Act(float64) (float64, float64, error) {
	return r.Price, r.Quantity, nil
}

func (r *ConstantRetailer) Learn(float64) error { return nil }

// RandomRetailer draws price and quantity uniformly in [0, 1).
type RandomRetailer struct {
	rng *randsrc.Source
}

// NewRandomRetailer creates a RandomRetailer. A nil seed selects
// randsrc.DefaultRetailerSeed.
func NewRandomRetailer(seed *uint64) *RandomRetailer {
	return &RandomRetailer{rng: randsrc.New(seedOr(seed, randsrc.DefaultRetailerSeed))}
}

func (r *RandomRetailer) Act(float64) (float64, float64, error) {
	price := r.rng.Float64()
	quantity := r.rng.Float64()
	return price, quantity, nil
}

func (r *RandomRetailer) Learn(float64) error { return nil }

// RNG implements Stochastic.
func (r *RandomRetailer) RNG() *randsrc.Source { return r.rng }

func seedOr(seed *uint64, def uint64) uint64 {
	if seed == nil {
		return def
	}
	return *seed
}

var (
	_ Wholesaler = (*ConstantWholesaler)(nil)
	_ Wholesaler = (*RandomWholesaler)(nil)
	_ Market     = (*ConstantMarket)(nil)
	_ Market     = (*RandomMarket)(nil)
	_ Market     = (*DeterministicMarket)(nil)
	_ Retailer   = (*ConstantRetailer)(nil)
	_ Retailer   = (*RandomRetailer)(nil)
	_ Stochastic = (*RandomWholesaler)(nil)
	_ Stochastic = (*RandomMarket)(nil)
	_ Stochastic = (*RandomRetailer)(nil)
)
