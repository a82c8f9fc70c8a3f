// Package randsrc provides the seedable random source shared by every
// stochastic actor. A Source can export and re-import its exact state so
// that a demand/wholesale-price script can be replayed under different
// retailer policies.
package randsrc

import (
	"fmt"
	"math/rand/v2"
)

// Default seeds per actor kind. They are plain constants so that two
// actors of different kinds never share a stream by accident.
const (
	DefaultWholesalerSeed uint64 = 1190
	DefaultRetailerSeed   uint64 = 856
	DefaultMarketSeed     uint64 = 644
)

// pcgIncrement is the fixed second word of the PCG seed.
const pcgIncrement uint64 = 0x9e3779b97f4a7c15

// State is an opaque snapshot of a Source.
type State []byte

// Source is a PCG generator that satisfies rand.Source, so it can drive
// gonum distributions directly.
type Source struct {
	seed uint64
	pcg  *rand.PCG
	rng  *rand.Rand
}

// New creates a Source seeded with seed.
func New(seed uint64) *Source {
	pcg := rand.NewPCG(seed, pcgIncrement)
	return &Source{
		seed: seed,
		pcg:  pcg,
		rng:  rand.New(pcg),
	}
}

// Seed resets the generator to the start of the stream for seed.
func (s *Source) Seed(seed uint64) {
	s.seed = seed
	s.pcg.Seed(seed, pcgIncrement)
}

// Reset reseeds with the seed the Source was last seeded with.
func (s *Source) Reset() {
	s.Seed(s.seed)
}

// InitialSeed returns the seed last passed to New or Seed.
func (s *Source) InitialSeed() uint64 {
	return s.seed
}

// Uint64 implements rand.Source.
func (s *Source) Uint64() uint64 {
	return s.pcg.Uint64()
}

// Float64 returns a draw in [0, 1).
func (s *Source) Float64() float64 {
	return s.rng.Float64()
}

// Float64s returns n consecutive draws in [0, 1).
func (s *Source) Float64s(n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = s.rng.Float64()
	}
	return out
}

// ExportState captures the generator state. Importing it later makes
// every subsequent draw identical to an unperturbed continuation.
func (s *Source) ExportState() (State, error) {
	b, err := s.pcg.MarshalBinary()
	if err != nil {
		return nil, fmt.Errorf("export rng state: %w", err)
	}
	return State(b), nil
}

// ImportState restores a state produced by ExportState.
func (s *Source) ImportState(st State) error {
	if err := s.pcg.UnmarshalBinary(st); err != nil {
		return fmt.Errorf("import rng state: %w", err)
	}
	return nil
}

// Derive mixes a base seed with a stream number (splitmix64 finaliser),
// giving independent per-actor seeds from one experiment seed.
func Derive(base, stream uint64) uint64 {
	z := base + (stream+1)*0x9e3779b97f4a7c15
	z = (z ^ (z >> 30)) * 0xbf58476d1ce4e5b9
	z = (z ^ (z >> 27)) * 0x94d049bb133111eb
	return z ^ (z >> 31)
}
