// Package actor defines the three parties of the supply chain and a few
// stock implementations of each.
//
// Prices, quantities and demands are expected to lie in [0, 1). The
// contracts do not clamp values; keeping them in range is the caller's
// responsibility.
package actor

import (
	"errors"

	"github.com/n0madic/go-supply-chain-bandits/randsrc"
)

// ErrPrecondition is returned when an operation is called in a state
// that its contract does not allow.
var ErrPrecondition = errors.New("precondition violation")

// Wholesaler sets the wholesale price and observes the ordered quantity.
type Wholesaler interface {
	Act() (float64, error)
	Learn(quantity float64) error
}

// Market turns a retail price into a realised demand.
type Market interface {
	Act(retailPrice float64) (float64, error)
}

// Retailer chooses a retail price and an order quantity given the
// wholesale price, then observes the realised demand.
type Retailer interface {
	Act(wholesalePrice float64) (price, quantity float64, err error)
	Learn(demand float64) error
}

// Stochastic is implemented by actors that own a random source.
type Stochastic interface {
	RNG() *randsrc.Source
}
