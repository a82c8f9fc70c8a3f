// Package config loads experiment descriptions from YAML and builds the
// actors and environment they describe.
package config

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/n0madic/go-supply-chain-bandits/actor"
	"github.com/n0madic/go-supply-chain-bandits/env"
	"github.com/n0madic/go-supply-chain-bandits/exp3sc"
	"github.com/n0madic/go-supply-chain-bandits/randsrc"
)

// Actor kinds accepted in the YAML file.
const (
	KindConstant = "constant"
	KindRandom   = "random"
	KindLinear   = "linear"
	KindExp3SC   = "exp3sc"
)

const (
	seedStreamWholesaler = iota
	seedStreamRetailer
	seedStreamMarket
)

// Experiment is one simulation setup.
type Experiment struct {
	Name       string           `yaml:"name"`
	Horizon    int              `yaml:"horizon" validate:"required,gt=0"`
	Seed       *uint64          `yaml:"seed"`
	Wholesaler WholesalerConfig `yaml:"wholesaler"`
	Retailer   RetailerConfig   `yaml:"retailer"`
	Market     MarketConfig     `yaml:"market"`
	Benchmark  BenchmarkConfig  `yaml:"benchmark"`
}

// WholesalerConfig selects the wholesaler.
type WholesalerConfig struct {
	Kind  string  `yaml:"kind" validate:"required,oneof=constant random"`
	Price float64 `yaml:"price" validate:"gte=0,lt=1"`
	Seed  *uint64 `yaml:"seed"`
}

// RetailerConfig selects the retailer.
type RetailerConfig struct {
	Kind             string  `yaml:"kind" validate:"required,oneof=exp3sc constant random"`
	Bins             int     `yaml:"bins" validate:"required_if=Kind exp3sc,gte=0"`
	LearningRate     float64 `yaml:"learning_rate" validate:"gte=0"`
	ExplorationParam float64 `yaml:"exploration_param" validate:"gte=0,lt=1"`
	Price            float64 `yaml:"price" validate:"gte=0,lt=1"`
	Quantity         float64 `yaml:"quantity" validate:"gte=0,lt=1"`
	Seed             *uint64 `yaml:"seed"`
}

// MarketConfig selects the market.
type MarketConfig struct {
	Kind      string  `yaml:"kind" validate:"required,oneof=constant random linear"`
	Demand    float64 `yaml:"demand" validate:"gte=0,lt=1"`
	Intercept float64 `yaml:"intercept" validate:"gte=0,lte=1"`
	Slope     float64 `yaml:"slope" validate:"gte=0"`
	Seed      *uint64 `yaml:"seed"`
}

// BenchmarkConfig sets the static-policy grid.
type BenchmarkConfig struct {
	Eps float64 `yaml:"eps" validate:"gte=0,lt=1"`
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Load reads and validates an experiment file.
func Load(path string) (*Experiment, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	return Parse(data)
}

// Parse decodes and validates an experiment. Unset fields get defaults
// before validation.
func Parse(data []byte) (*Experiment, error) {
	var exp Experiment
	if err := yaml.Unmarshal(data, &exp); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	exp.applyDefaults()
	if err := validate.Struct(&exp); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return &exp, nil
}

func (e *Experiment) applyDefaults() {
	if e.Name == "" {
		e.Name = "experiment"
	}
	if e.Benchmark.Eps == 0 {
		e.Benchmark.Eps = 0.1
	}
	if e.Retailer.Kind == KindExp3SC && e.Retailer.LearningRate == 0 {
		e.Retailer.LearningRate = 0.1
	}
}

// seedFor picks the actor's explicit seed, else a stream of the
// experiment seed, else nil (the actor's own default).
func (e *Experiment) seedFor(explicit *uint64, stream uint64) *uint64 {
	if explicit != nil {
		return explicit
	}
	if e.Seed != nil {
		s := randsrc.Derive(*e.Seed, stream)
		return &s
	}
	return nil
}

// NewWholesaler builds the configured wholesaler.
func (e *Experiment) NewWholesaler() (actor.Wholesaler, error) {
	c := e.Wholesaler
	switch c.Kind {
	case KindConstant:
		return &actor.ConstantWholesaler{Price: c.Price}, nil
	case KindRandom:
		return actor.NewRandomWholesaler(e.seedFor(c.Seed, seedStreamWholesaler)), nil
	}
	return nil, fmt.Errorf("unknown wholesaler kind %q", c.Kind)
}

// NewRetailer builds the configured retailer.
func (e *Experiment) NewRetailer() (actor.Retailer, error) {
	c := e.Retailer
	switch c.Kind {
	case KindExp3SC:
		options := []exp3sc.Option{exp3sc.WithLearningRate(c.LearningRate)}
		if c.ExplorationParam > 0 {
			options = append(options, exp3sc.WithExplorationParam(c.ExplorationParam))
		}
		if seed := e.seedFor(c.Seed, seedStreamRetailer); seed != nil {
			options = append(options, exp3sc.WithRandomSeed(*seed))
		}
		return exp3sc.New(c.Bins, options...)
	case KindConstant:
		return &actor.ConstantRetailer{Price: c.Price, Quantity: c.Quantity}, nil
	case KindRandom:
		return actor.NewRandomRetailer(e.seedFor(c.Seed, seedStreamRetailer)), nil
	}
	return nil, fmt.Errorf("unknown retailer kind %q", c.Kind)
}

// NewMarket builds the configured market.
func (e *Experiment) NewMarket() (actor.Market, error) {
	c := e.Market
	switch c.Kind {
	case KindConstant:
		return &actor.ConstantMarket{Demand: c.Demand}, nil
	case KindRandom:
		return actor.NewRandomMarket(e.seedFor(c.Seed, seedStreamMarket)), nil
	case KindLinear:
		return &actor.DeterministicMarket{Demand: actor.LinearDemand(c.Intercept, c.Slope)}, nil
	}
	return nil, fmt.Errorf("unknown market kind %q", c.Kind)
}

// Build assembles the environment.
func (e *Experiment) Build(logger *slog.Logger) (*env.Env, error) {
	w, err := e.NewWholesaler()
	if err != nil {
		return nil, err
	}
	r, err := e.NewRetailer()
	if err != nil {
		return nil, err
	}
	m, err := e.NewMarket()
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	return env.New(e.Horizon, w, r, m, env.WithLogger(logger.With("experiment", e.Name)))
}
