// Package env runs the wholesaler -> retailer -> market loop and keeps the
// round history the profit and benchmark computations read from.
package env

import (
	"fmt"
	"log/slog"

	"github.com/n0madic/go-supply-chain-bandits/actor"
)

// Env drives one simulation. It is single-threaded: Step must not be
// called concurrently.
type Env struct {
	horizon int
	t       int

	wholesaler actor.Wholesaler
	retailer   actor.Retailer
	market     actor.Market

	history History
	logger  *slog.Logger
}

// Option defines a functional option for configuring Env
type Option func(*Env)

// WithLogger sets the structured logger (default slog.Default()).
func WithLogger(logger *slog.Logger) Option {
	return func(e *Env) {
		e.logger = logger
	}
}

// New creates an environment over horizon rounds.
func New(horizon int, w actor.Wholesaler, r actor.Retailer, m actor.Market, options ...Option) (*Env, error) {
	if horizon <= 0 {
		return nil, fmt.Errorf("%w: horizon must be positive, got %d", actor.ErrPrecondition, horizon)
	}
	if w == nil || r == nil || m == nil {
		return nil, fmt.Errorf("%w: wholesaler, retailer and market are required", actor.ErrPrecondition)
	}

	e := &Env{
		horizon:    horizon,
		wholesaler: w,
		retailer:   r,
		market:     m,
		logger:     slog.Default(),
	}
	for _, opt := range options {
		opt(e)
	}
	e.Reset()

	return e, nil
}

// Reset clears the history and the round counter. Actor state is left
// alone.
func (e *Env) Reset() {
	e.t = 0
	e.history = NewHistory(e.horizon)
}

// Step plays one round and reports whether the horizon has been reached.
// The loop does not stop by itself; callers stop calling Step once it
// returns true.
func (e *Env) Step() (bool, error) {
	wholesalePrice, err := e.wholesaler.Act()
	if err != nil {
		return false, fmt.Errorf("round %d: wholesaler act: %w", e.t+1, err)
	}
	retailPrice, quantity, err := e.retailer.Act(wholesalePrice)
	if err != nil {
		return false, fmt.Errorf("round %d: retailer act: %w", e.t+1, err)
	}
	demand, err := e.market.Act(retailPrice)
	if err != nil {
		return false, fmt.Errorf("round %d: market act: %w", e.t+1, err)
	}

	if err := e.wholesaler.Learn(quantity); err != nil {
		return false, fmt.Errorf("round %d: wholesaler learn: %w", e.t+1, err)
	}
	if err := e.retailer.Learn(demand); err != nil {
		return false, fmt.Errorf("round %d: retailer learn: %w", e.t+1, err)
	}

	e.t++
	round := Round{
		WholesalePrice: wholesalePrice,
		RetailPrice:    retailPrice,
		Quantity:       quantity,
		Demand:         demand,
	}
	e.history.Append(round)

	e.logger.Debug("round",
		"t", e.t,
		"wholesale_price", wholesalePrice,
		"retail_price", retailPrice,
		"quantity", quantity,
		"demand", demand,
		"profit", round.Profit(),
	)

	return e.t >= e.horizon, nil
}

// Run steps until the horizon is reached. It does not reset first.
func (e *Env) Run() error {
	if e.t >= e.horizon {
		return fmt.Errorf("%w: horizon already reached, call Reset first", actor.ErrPrecondition)
	}
	for {
		done, err := e.Step()
		if err != nil {
			return err
		}
		if done {
			break
		}
	}
	e.logger.Debug("horizon reached", "rounds", e.t)
	return nil
}

// RetailerTotalProfit returns the cumulative retailer profit per round.
func (e *Env) RetailerTotalProfit() ([]float64, error) {
	return TotalProfit(e.history)
}

// History returns a copy of the recorded rounds.
func (e *Env) History() History { return e.history.Clone() }

// T returns the number of rounds played since the last Reset.
func (e *Env) T() int { return e.t }

// Horizon returns the configured number of rounds.
func (e *Env) Horizon() int { return e.horizon }

// SetWholesaler swaps the wholesaler without touching the history.
func (e *Env) SetWholesaler(w actor.Wholesaler) { e.wholesaler = w }

// SetRetailer swaps the retailer without touching the history.
func (e *Env) SetRetailer(r actor.Retailer) { e.retailer = r }

// SetMarket swaps the market without touching the history.
func (e *Env) SetMarket(m actor.Market) { e.market = m }

func (e *Env) Wholesaler() actor.Wholesaler { return e.wholesaler }

func (e *Env) Retailer() actor.Retailer { return e.retailer }

func (e *Env) Market() actor.Market { return e.market }
