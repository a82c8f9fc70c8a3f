package exp3sc

import (
	"encoding/gob"
	"errors"
	"fmt"
	"io"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat/distuv"

	"github.com/n0madic/go-supply-chain-bandits/actor"
	"github.com/n0madic/go-supply-chain-bandits/randsrc"
)

var (
	// ErrInvalidConfig reports an unusable grid size, learning rate or
	// exploration parameter.
	ErrInvalidConfig = errors.New("exp3sc: invalid configuration")

	// ErrProtocol reports an Act/Learn call out of order.
	ErrProtocol = fmt.Errorf("exp3sc: %w", actor.ErrPrecondition)
)

type phase uint8

const (
	awaitingAction phase = iota
	awaitingFeedback
)

func (p phase) String() string {
	if p == awaitingFeedback {
		return "awaiting_feedback"
	}
	return "awaiting_action"
}

// Retailer implements Exp3SC: exponential weights over a K x (K+1) grid
// of (price, quantity) cells with semi-bandit feedback on quantities.
//
// Every quantity level up to the ordered one is observable after a round
// (selling min(q, demand) is known for all q below the order), so one
// round updates a prefix of the sampled price row. Exploration mass
// gamma/K sits on the largest quantity of every price row, which keeps
// the observation probability of each level strictly positive.
//
// Profits are mapped to losses with (1-profit)/2. That mapping lies in
// [0,1] only while price, quantity and wholesale price are in [0,1);
// callers must keep them there.
type Retailer struct {
	k     int     // number of price levels; quantities have k+1 levels
	eta   float64 // learning rate
	gamma float64 // exploration parameter and grid step
	seed  uint64

	pi      *mat.Dense // policy without exploration (k x k+1)
	cumLoss *mat.Dense // cumulative estimated loss (k x k+1)
	mu      *mat.Dense // sampling distribution with exploration (k x k+1)

	rng *randsrc.Source

	state              phase
	lastPriceIdx       int
	lastQuantityIdx    int
	lastWholesalePrice float64

	nRounds uint64
}

// Option defines a functional option for configuring Retailer
type Option func(*Retailer)

// WithLearningRate sets eta
func WithLearningRate(eta float64) Option {
	return func(r *Retailer) {
		r.eta = eta
	}
}

// WithExplorationParam sets gamma, which is also the grid step
func WithExplorationParam(gamma float64) Option {
	return func(r *Retailer) {
		r.gamma = gamma
	}
}

// WithRandomSeed sets the seed of the sampling source
func WithRandomSeed(seed uint64) Option {
	return func(r *Retailer) {
		r.seed = seed
	}
}

// New creates an Exp3SC retailer with nBins price levels.
//
// Defaults: eta = 0.1, gamma = 1/(nBins+1) so that the largest quantity
// level stays below 1, seed = randsrc.DefaultRetailerSeed.
func New(nBins int, options ...Option) (*Retailer, error) {
	if nBins < 1 {
		return nil, fmt.Errorf("%w: grid size must be at least 1, got %d", ErrInvalidConfig, nBins)
	}

	r := &Retailer{
		k:    nBins,
		eta:  0.1,
		seed: randsrc.DefaultRetailerSeed,
	}
	r.gamma = 1 / float64(nBins+1)

	for _, opt := range options {
		opt(r)
	}

	if math.IsNaN(r.gamma) || r.gamma <= 0 || r.gamma >= 1 {
		return nil, fmt.Errorf("%w: exploration parameter must be in (0,1), got %v", ErrInvalidConfig, r.gamma)
	}
	if math.IsNaN(r.eta) || math.IsInf(r.eta, 0) || r.eta <= 0 {
		return nil, fmt.Errorf("%w: learning rate must be positive, got %v", ErrInvalidConfig, r.eta)
	}

	r.rng = randsrc.New(r.seed)
	r.pi = mat.NewDense(r.k, r.k+1, nil)
	r.cumLoss = mat.NewDense(r.k, r.k+1, nil)
	r.mu = mat.NewDense(r.k, r.k+1, nil)
	r.Reset()

	return r, nil
}

// Reset restores the uniform policy and clears the cumulative loss.
// The random source is left where it is; see ResetRNG.
func (r *Retailer) Reset() {
	uniform := 1 / float64(r.k*(r.k+1))
	for i := 0; i < r.k; i++ {
		for j := 0; j <= r.k; j++ {
			r.pi.Set(i, j, uniform)
			r.cumLoss.Set(i, j, 0)
		}
	}
	r.updateMu()

	r.state = awaitingAction
	r.lastPriceIdx = 0
	r.lastQuantityIdx = 0
	r.lastWholesalePrice = 0
	r.nRounds = 0
}

// ResetRNG rewinds the sampling source to its seed.
func (r *Retailer) ResetRNG() {
	r.rng.Reset()
}

// RNG implements actor.Stochastic.
func (r *Retailer) RNG() *randsrc.Source {
	return r.rng
}

// updateMu mixes pi with the exploration floor on the last quantity column.
func (r *Retailer) updateMu() {
	r.mu.Scale(1-r.gamma, r.pi)
	floor := r.gamma / float64(r.k)
	for i := 0; i < r.k; i++ {
		r.mu.Set(i, r.k, r.mu.At(i, r.k)+floor)
	}
}

// Act samples a (price, quantity) cell from mu.
func (r *Retailer) Act(wholesalePrice float64) (float64, float64, error) {
	if r.state != awaitingAction {
		return 0, 0, fmt.Errorf("%w: Act called while %s", ErrProtocol, r.state)
	}

	cat := distuv.NewCategorical(r.mu.RawMatrix().Data, r.rng)
	idx := int(cat.Rand())
	priceIdx, quantityIdx := idx/(r.k+1), idx%(r.k+1)

	r.lastPriceIdx = priceIdx
	r.lastQuantityIdx = quantityIdx
	r.lastWholesalePrice = wholesalePrice
	r.state = awaitingFeedback

	return float64(priceIdx) * r.gamma, float64(quantityIdx) * r.gamma, nil
}

// Learn updates the policy from the demand observed after the last Act.
func (r *Retailer) Learn(demand float64) error {
	if r.state != awaitingFeedback {
		return fmt.Errorf("%w: Learn called without a pending action", ErrProtocol)
	}

	i, j := r.lastPriceIdx, r.lastQuantityIdx
	price := float64(i) * r.gamma

	obs := observationProbs(r.mu.RawRowView(i))

	// Only cells (i, 0..j) of the per-round estimate are non-zero.
	for k := 0; k <= j; k++ {
		loss := roundLoss(price, float64(k)*r.gamma, r.lastWholesalePrice, demand)
		r.cumLoss.Set(i, k, r.cumLoss.At(i, k)+loss/obs[k])
	}

	data := r.cumLoss.RawMatrix().Data
	floats.AddConst(-floats.Min(data), data)

	exponentialWeights(r.pi.RawMatrix().Data, data, r.eta)
	r.updateMu()

	r.nRounds++
	r.state = awaitingAction
	return nil
}

// roundLoss maps the profit of ordering quantity at price to [0, 1].
func roundLoss(price, quantity, wholesalePrice, demand float64) float64 {
	sold := math.Min(quantity, demand)
	profit := float64(price*sold) - float64(quantity*wholesalePrice)
	return (1 - profit) / 2
}

// observationProbs returns, for every quantity level k of a price row,
// the probability that the sampled quantity index is at least k.
func observationProbs(row []float64) []float64 {
	tail := make([]float64, len(row))
	acc := 0.0
	for k := len(row) - 1; k >= 0; k-- {
		acc += row[k]
		tail[k] = acc
	}
	return tail
}

// exponentialWeights writes exp(-eta*L) normalised to sum 1 into dst.
func exponentialWeights(dst, cumLoss []float64, eta float64) {
	for c, l := range cumLoss {
		dst[c] = math.Exp(-eta * l)
	}
	total := floats.Sum(dst)
	for c := range dst {
		dst[c] /= total
	}
}

// Bins returns K.
func (r *Retailer) Bins() int { return r.k }

// LearningRate returns eta.
func (r *Retailer) LearningRate() float64 { return r.eta }

// ExplorationParam returns gamma.
func (r *Retailer) ExplorationParam() float64 { return r.gamma }

// Pending reports whether an action is waiting for feedback.
func (r *Retailer) Pending() bool { return r.state == awaitingFeedback }

// PriceLevels returns {0, gamma, ..., (K-1)gamma}.
func (r *Retailer) PriceLevels() []float64 {
	levels := make([]float64, r.k)
	for i := range levels {
		levels[i] = float64(i) * r.gamma
	}
	return levels
}

// QuantityLevels returns {0, gamma, ..., K*gamma}.
func (r *Retailer) QuantityLevels() []float64 {
	levels := make([]float64, r.k+1)
	for i := range levels {
		levels[i] = float64(i) * r.gamma
	}
	return levels
}

// Policy returns a copy of pi.
func (r *Retailer) Policy() *mat.Dense { return mat.DenseCopyOf(r.pi) }

// Distribution returns a copy of mu.
func (r *Retailer) Distribution() *mat.Dense { return mat.DenseCopyOf(r.mu) }

// CumulativeLoss returns a copy of the cumulative estimated loss.
func (r *Retailer) CumulativeLoss() *mat.Dense { return mat.DenseCopyOf(r.cumLoss) }

// Stats returns current model statistics
func (r *Retailer) Stats() map[string]any {
	piData := r.pi.RawMatrix().Data
	best := floats.MaxIdx(piData)

	entropy := 0.0
	for _, p := range piData {
		if p > 0 {
			entropy -= p * math.Log(p)
		}
	}

	return map[string]any{
		"n_rounds":          r.nRounds,
		"bins":              r.k,
		"learning_rate":     r.eta,
		"exploration_param": r.gamma,
		"state":             r.state.String(),
		"policy_entropy":    entropy,
		"max_policy_prob":   piData[best],
		"mode_price":        float64(best/(r.k+1)) * r.gamma,
		"mode_quantity":     float64(best%(r.k+1)) * r.gamma,
		"max_cum_loss":      floats.Max(r.cumLoss.RawMatrix().Data),
	}
}

// RetailerState represents the serializable state of Retailer.
// The policy is not stored: it is rebuilt from the cumulative loss.
type RetailerState struct {
	Version            int
	Bins               int
	LearningRate       float64
	ExplorationParam   float64
	Seed               uint64
	CumLossData        []float64
	Pending            bool
	LastPriceIdx       int
	LastQuantityIdx    int
	LastWholesalePrice float64
	NRounds            uint64
	RNGState           []byte
}

const stateVersion = 2

// Save serializes the retailer state to gob format
func (r *Retailer) Save(w io.Writer) error {
	rngState, err := r.rng.ExportState()
	if err != nil {
		return err
	}

	state := RetailerState{
		Version:            stateVersion,
		Bins:               r.k,
		LearningRate:       r.eta,
		ExplorationParam:   r.gamma,
		Seed:               r.seed,
		CumLossData:        append([]float64(nil), r.cumLoss.RawMatrix().Data...),
		Pending:            r.state == awaitingFeedback,
		LastPriceIdx:       r.lastPriceIdx,
		LastQuantityIdx:    r.lastQuantityIdx,
		LastWholesalePrice: r.lastWholesalePrice,
		NRounds:            r.nRounds,
		RNGState:           rngState,
	}

	return gob.NewEncoder(w).Encode(state)
}

// Load deserializes a retailer from gob format
func Load(rd io.Reader) (*Retailer, error) {
	var state RetailerState
	if err := gob.NewDecoder(rd).Decode(&state); err != nil {
		return nil, err
	}

	if state.Version != stateVersion {
		return nil, errors.New("unsupported gob version")
	}
	if err := state.validate(); err != nil {
		return nil, err
	}

	r, err := New(state.Bins,
		WithLearningRate(state.LearningRate),
		WithExplorationParam(state.ExplorationParam),
		WithRandomSeed(state.Seed),
	)
	if err != nil {
		return nil, err
	}

	copy(r.cumLoss.RawMatrix().Data, state.CumLossData)
	exponentialWeights(r.pi.RawMatrix().Data, r.cumLoss.RawMatrix().Data, r.eta)
	r.updateMu()

	if state.Pending {
		r.state = awaitingFeedback
	}
	r.lastPriceIdx = state.LastPriceIdx
	r.lastQuantityIdx = state.LastQuantityIdx
	r.lastWholesalePrice = state.LastWholesalePrice
	r.nRounds = state.NRounds

	if err := r.rng.ImportState(state.RNGState); err != nil {
		return nil, err
	}

	return r, nil
}

// validate checks the shape and the loss matrix before anything is
// allocated. The cumulative loss must be finite, non-negative and
// shifted so that its minimum is zero, as Learn leaves it.
func (s *RetailerState) validate() error {
	cells := len(s.CumLossData)
	if s.Bins < 1 || s.Bins > cells || cells%(s.Bins+1) != 0 || cells/(s.Bins+1) != s.Bins {
		return fmt.Errorf("%w: %d loss cells for %d bins", ErrInvalidConfig, cells, s.Bins)
	}
	for _, l := range s.CumLossData {
		if math.IsNaN(l) || math.IsInf(l, 0) || l < 0 {
			return errors.New("invalid cumulative loss data")
		}
	}
	if floats.Min(s.CumLossData) != 0 {
		return errors.New("cumulative loss is not shifted to zero")
	}
	if s.Pending && (s.LastPriceIdx < 0 || s.LastPriceIdx >= s.Bins ||
		s.LastQuantityIdx < 0 || s.LastQuantityIdx > s.Bins) {
		return errors.New("invalid pending action")
	}
	return nil
}

var (
	_ actor.Retailer   = (*Retailer)(nil)
	_ actor.Stochastic = (*Retailer)(nil)
)
