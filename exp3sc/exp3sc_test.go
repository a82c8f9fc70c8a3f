package exp3sc

import (
	"bytes"
	"encoding/gob"
	"errors"
	"fmt"
	"math"
	"math/rand/v2"
	"testing"

	"gonum.org/v1/gonum/floats"

	"github.com/n0madic/go-supply-chain-bandits/actor"
)

func TestNew(t *testing.T) {
	tests := []struct {
		name    string
		nBins   int
		options []Option
		wantErr bool
	}{
		{
			name:    "valid defaults",
			nBins:   5,
			wantErr: false,
		},
		{
			name:  "valid with options",
			nBins: 3,
			options: []Option{
				WithLearningRate(0.5),
				WithExplorationParam(0.2),
				WithRandomSeed(42),
			},
			wantErr: false,
		},
		{
			name:    "minimal grid",
			nBins:   1,
			wantErr: false,
		},
		{
			name:    "zero bins",
			nBins:   0,
			wantErr: true,
		},
		{
			name:    "gamma zero",
			nBins:   2,
			options: []Option{WithExplorationParam(0)},
			wantErr: true,
		},
		{
			name:    "gamma one",
			nBins:   2,
			options: []Option{WithExplorationParam(1)},
			wantErr: true,
		},
		{
			name:    "negative learning rate",
			nBins:   2,
			options: []Option{WithLearningRate(-1)},
			wantErr: true,
		},
		{
			name:    "NaN learning rate",
			nBins:   2,
			options: []Option{WithLearningRate(math.NaN())},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, err := New(tt.nBins, tt.options...)
			if (err != nil) != tt.wantErr {
				t.Errorf("New() error = %v, wantErr %v", err, tt.wantErr)
				return
			}
			if err != nil {
				if !errors.Is(err, ErrInvalidConfig) {
					t.Errorf("New() error = %v, want ErrInvalidConfig", err)
				}
				return
			}

			rows, cols := r.Policy().Dims()
			if rows != tt.nBins || cols != tt.nBins+1 {
				t.Errorf("policy dims = (%d, %d), want (%d, %d)", rows, cols, tt.nBins, tt.nBins+1)
			}

			uniform := 1 / float64(tt.nBins*(tt.nBins+1))
			if got := r.Policy().At(0, 0); got != uniform {
				t.Errorf("pi[0,0] = %v, want %v", got, uniform)
			}
		})
	}
}

func TestDefaultExplorationKeepsGridBelowOne(t *testing.T) {
	r, err := New(4)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	q := r.QuantityLevels()
	if len(q) != 5 {
		t.Fatalf("len(QuantityLevels()) = %d, want 5", len(q))
	}
	if q[len(q)-1] >= 1 {
		t.Errorf("largest quantity level = %v, want < 1", q[len(q)-1])
	}
	if len(r.PriceLevels()) != 4 {
		t.Errorf("len(PriceLevels()) = %d, want 4", len(r.PriceLevels()))
	}
}

func assertValidMu(t *testing.T, r *Retailer) {
	t.Helper()
	data := r.Distribution().RawMatrix().Data
	if sum := floats.Sum(data); math.Abs(sum-1) > 1e-9 {
		t.Fatalf("mu sums to %v, want 1", sum)
	}
	for c, v := range data {
		if v <= 0 {
			t.Fatalf("mu cell %d = %v, want > 0", c, v)
		}
	}
}

func TestMuInvariant(t *testing.T) {
	for _, k := range []int{1, 2, 5, 10} {
		t.Run(fmt.Sprintf("K%d", k), func(t *testing.T) {
			r, err := New(k, WithLearningRate(0.05), WithRandomSeed(uint64(k)))
			if err != nil {
				t.Fatalf("New() error = %v", err)
			}
			assertValidMu(t, r)

			env := rand.New(rand.NewPCG(1, 2))
			for round := 0; round < 200; round++ {
				wp := env.Float64() * 0.5
				if _, _, err := r.Act(wp); err != nil {
					t.Fatalf("Act() error = %v", err)
				}
				if err := r.Learn(env.Float64()); err != nil {
					t.Fatalf("Learn() error = %v", err)
				}
				assertValidMu(t, r)
			}

			if got := floats.Sum(r.Policy().RawMatrix().Data); math.Abs(got-1) > 1e-9 {
				t.Errorf("pi sums to %v, want 1", got)
			}
			if got := floats.Min(r.CumulativeLoss().RawMatrix().Data); got != 0 {
				t.Errorf("min cumulative loss = %v, want 0 after shift", got)
			}
		})
	}
}

func TestExplorationFloor(t *testing.T) {
	r, err := New(3, WithExplorationParam(0.3))
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	mu := r.Distribution()
	pi := r.Policy()
	for i := 0; i < 3; i++ {
		for j := 0; j <= 3; j++ {
			want := 0.7 * pi.At(i, j)
			if j == 3 {
				want += 0.3 / 3
			}
			if math.Abs(mu.At(i, j)-want) > 1e-15 {
				t.Errorf("mu[%d,%d] = %v, want %v", i, j, mu.At(i, j), want)
			}
		}
	}
}

func TestProtocol(t *testing.T) {
	r, err := New(2)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	err = r.Learn(0.5)
	if !errors.Is(err, ErrProtocol) {
		t.Errorf("Learn() before Act error = %v, want ErrProtocol", err)
	}
	if !errors.Is(err, actor.ErrPrecondition) {
		t.Errorf("Learn() before Act error = %v, want ErrPrecondition", err)
	}

	if _, _, err := r.Act(0.1); err != nil {
		t.Fatalf("Act() error = %v", err)
	}
	if !r.Pending() {
		t.Error("Pending() = false after Act")
	}
	if _, _, err := r.Act(0.1); !errors.Is(err, ErrProtocol) {
		t.Errorf("second Act() error = %v, want ErrProtocol", err)
	}

	if err := r.Learn(0.5); err != nil {
		t.Fatalf("Learn() error = %v", err)
	}
	if err := r.Learn(0.5); !errors.Is(err, ErrProtocol) {
		t.Errorf("second Learn() error = %v, want ErrProtocol", err)
	}
}

func TestActOnGrid(t *testing.T) {
	const gamma = 0.2
	r, err := New(4, WithExplorationParam(gamma), WithRandomSeed(3))
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	for n := 0; n < 500; n++ {
		p, q, err := r.Act(0.1)
		if err != nil {
			t.Fatalf("Act() error = %v", err)
		}
		if p < 0 || p > 3*gamma+1e-12 || q < 0 || q > 4*gamma+1e-12 {
			t.Fatalf("Act() = (%v, %v) outside the grid", p, q)
		}
		if p != float64(r.lastPriceIdx)*gamma || q != float64(r.lastQuantityIdx)*gamma {
			t.Fatalf("Act() = (%v, %v) does not match indices (%d, %d)", p, q, r.lastPriceIdx, r.lastQuantityIdx)
		}
		if err := r.Learn(0.5); err != nil {
			t.Fatalf("Learn() error = %v", err)
		}
	}
}

func TestLearnSemiBanditUpdate(t *testing.T) {
	const (
		k      = 3
		gamma  = 0.25
		wp     = 0.1
		demand = 0.3
	)

	r, err := New(k, WithExplorationParam(gamma), WithRandomSeed(11))
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	muBefore := r.Distribution()
	if _, _, err := r.Act(wp); err != nil {
		t.Fatalf("Act() error = %v", err)
	}
	i, j := r.lastPriceIdx, r.lastQuantityIdx
	if err := r.Learn(demand); err != nil {
		t.Fatalf("Learn() error = %v", err)
	}

	price := float64(i) * gamma
	want := make(map[[2]int]float64)
	for q := 0; q <= j; q++ {
		quantity := float64(q) * gamma
		profit := price*math.Min(quantity, demand) - quantity*wp
		loss := (1 - profit) / 2
		obs := 0.0
		for c := q; c <= k; c++ {
			obs += muBefore.At(i, c)
		}
		want[[2]int{i, q}] = loss / obs
	}

	// other rows are untouched, so the min shift is zero
	L := r.CumulativeLoss()
	for row := 0; row < k; row++ {
		for col := 0; col <= k; col++ {
			w := want[[2]int{row, col}]
			if math.Abs(L.At(row, col)-w) > 1e-12 {
				t.Errorf("L[%d,%d] = %v, want %v", row, col, L.At(row, col), w)
			}
		}
	}
}

func TestZeroQuantityStillUpdates(t *testing.T) {
	r, err := New(2, WithExplorationParam(0.3))
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	// force a pending zero-quantity action at price row 1
	r.state = awaitingFeedback
	r.lastPriceIdx, r.lastQuantityIdx, r.lastWholesalePrice = 1, 0, 0.2
	rowMass := floats.Sum(r.Distribution().RawRowView(1))

	if err := r.Learn(0.9); err != nil {
		t.Fatalf("Learn() error = %v", err)
	}

	L := r.CumulativeLoss()
	want := 0.5 / rowMass // zero quantity earns zero profit
	if math.Abs(L.At(1, 0)-want) > 1e-12 {
		t.Errorf("L[1,0] = %v, want %v", L.At(1, 0), want)
	}
	nonZero := floats.Count(func(v float64) bool { return v != 0 }, L.RawMatrix().Data)
	if nonZero != 1 {
		t.Errorf("%d cells updated, want 1", nonZero)
	}
}

func TestObservationProbs(t *testing.T) {
	got := observationProbs([]float64{0.1, 0.2, 0.3, 0.4})
	want := []float64{1.0, 0.9, 0.7, 0.4}
	if !floats.EqualApprox(got, want, 1e-12) {
		t.Errorf("observationProbs() = %v, want %v", got, want)
	}
}

func TestExponentialWeightsLossMonotone(t *testing.T) {
	rng := rand.New(rand.NewPCG(5, 6))
	for _, k := range []int{1, 2, 5} {
		t.Run(fmt.Sprintf("K%d", k), func(t *testing.T) {
			cells := k * (k + 1)
			for trial := 0; trial < 20; trial++ {
				loss := make([]float64, cells)
				for c := range loss {
					loss[c] = rng.Float64() * 5
				}
				before := make([]float64, cells)
				exponentialWeights(before, loss, 0.3)

				target := rng.IntN(cells)
				loss[target] += 0.5 + rng.Float64()
				after := make([]float64, cells)
				exponentialWeights(after, loss, 0.3)

				if after[target] >= before[target] {
					t.Fatalf("cell %d prob %v -> %v, want strict decrease", target, before[target], after[target])
				}
				if math.Abs(floats.Sum(after)-1) > 1e-12 {
					t.Fatalf("weights sum to %v", floats.Sum(after))
				}
				for c := range after {
					if c != target && after[c] < before[c] {
						t.Fatalf("untouched cell %d prob decreased %v -> %v", c, before[c], after[c])
					}
				}
			}
		})
	}
}

func TestShiftInvariance(t *testing.T) {
	loss := []float64{0.3, 1.2, 0.0, 4.5, 2.2, 0.7}
	shifted := make([]float64, len(loss))
	for c := range loss {
		shifted[c] = loss[c] + 17
	}
	a := make([]float64, len(loss))
	b := make([]float64, len(loss))
	exponentialWeights(a, loss, 0.4)
	exponentialWeights(b, shifted, 0.4)
	if !floats.EqualApprox(a, b, 1e-12) {
		t.Errorf("weights changed under constant shift: %v vs %v", a, b)
	}
}

func TestDeterministicSeed(t *testing.T) {
	run := func() []float64 {
		r, err := New(4, WithRandomSeed(77))
		if err != nil {
			t.Fatalf("New() error = %v", err)
		}
		var out []float64
		for n := 0; n < 100; n++ {
			p, q, err := r.Act(0.1)
			if err != nil {
				t.Fatalf("Act() error = %v", err)
			}
			out = append(out, p, q)
			if err := r.Learn(0.6); err != nil {
				t.Fatalf("Learn() error = %v", err)
			}
		}
		return out
	}
	if a, b := run(), run(); !floats.Equal(a, b) {
		t.Error("same seed produced different trajectories")
	}
}

func TestReset(t *testing.T) {
	r, err := New(3, WithRandomSeed(8))
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	for n := 0; n < 20; n++ {
		r.Act(0.2)
		r.Learn(0.4)
	}
	r.Act(0.2)

	r.Reset()

	if r.Pending() {
		t.Error("Pending() = true after Reset")
	}
	uniform := 1.0 / 12
	for _, v := range r.Policy().RawMatrix().Data {
		if v != uniform {
			t.Fatalf("pi cell = %v after Reset, want %v", v, uniform)
		}
	}
	for _, v := range r.CumulativeLoss().RawMatrix().Data {
		if v != 0 {
			t.Fatalf("cumulative loss cell = %v after Reset, want 0", v)
		}
	}
	if r.Stats()["n_rounds"].(uint64) != 0 {
		t.Error("n_rounds not reset")
	}
}

func TestAccessorsReturnCopies(t *testing.T) {
	r, err := New(2)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	p := r.Policy()
	p.Set(0, 0, 42)
	if r.Policy().At(0, 0) == 42 {
		t.Error("Policy() exposes internal state")
	}
	mu := r.Distribution()
	mu.Set(0, 0, 42)
	if r.Distribution().At(0, 0) == 42 {
		t.Error("Distribution() exposes internal state")
	}
}

func TestSaveLoad(t *testing.T) {
	r, err := New(3, WithLearningRate(0.2), WithExplorationParam(0.2), WithRandomSeed(19))
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	for n := 0; n < 30; n++ {
		r.Act(0.15)
		r.Learn(0.55)
	}
	// save with an action pending
	r.Act(0.15)

	var buf bytes.Buffer
	if err := r.Save(&buf); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	loaded, err := Load(&buf)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if !loaded.Pending() {
		t.Fatal("loaded retailer lost the pending action")
	}
	if !floats.Equal(loaded.Policy().RawMatrix().Data, r.Policy().RawMatrix().Data) {
		t.Error("policy differs after Load")
	}
	if !floats.Equal(loaded.Distribution().RawMatrix().Data, r.Distribution().RawMatrix().Data) {
		t.Error("distribution differs after Load")
	}

	for n := 0; n < 50; n++ {
		if err := r.Learn(0.4); err != nil {
			t.Fatalf("Learn() error = %v", err)
		}
		if err := loaded.Learn(0.4); err != nil {
			t.Fatalf("loaded Learn() error = %v", err)
		}
		p1, q1, _ := r.Act(0.15)
		p2, q2, _ := loaded.Act(0.15)
		if p1 != p2 || q1 != q2 {
			t.Fatalf("round %d: original (%v, %v) != loaded (%v, %v)", n, p1, q1, p2, q2)
		}
	}
}

func TestLoadRejectsGarbage(t *testing.T) {
	if _, err := Load(bytes.NewReader([]byte("not gob"))); err == nil {
		t.Error("Load() of garbage should fail")
	}
}

func savedState(t *testing.T) RetailerState {
	t.Helper()
	r, err := New(2, WithRandomSeed(8))
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	for n := 0; n < 10; n++ {
		r.Act(0.2)
		r.Learn(0.6)
	}
	var buf bytes.Buffer
	if err := r.Save(&buf); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	var state RetailerState
	if err := gob.NewDecoder(&buf).Decode(&state); err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	return state
}

func encodeState(t *testing.T, state RetailerState) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(state); err != nil {
		t.Fatalf("Encode() error = %v", err)
	}
	return &buf
}

func TestLoadRejectsCorruptState(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*RetailerState)
	}{
		{"old version", func(s *RetailerState) { s.Version = 1 }},
		{"zero bins", func(s *RetailerState) { s.Bins = 0 }},
		{"huge bins", func(s *RetailerState) { s.Bins = 200000 }},
		{"short loss", func(s *RetailerState) { s.CumLossData = s.CumLossData[:5] }},
		{"negative loss", func(s *RetailerState) { s.CumLossData[1] = -5 }},
		{"nan loss", func(s *RetailerState) { s.CumLossData[2] = math.NaN() }},
		{"inf loss", func(s *RetailerState) { s.CumLossData[2] = math.Inf(1) }},
		{"unshifted loss", func(s *RetailerState) { floats.AddConst(1, s.CumLossData) }},
		{"bad learning rate", func(s *RetailerState) { s.LearningRate = -1 }},
		{"bad pending price", func(s *RetailerState) {
			s.Pending = true
			s.LastPriceIdx = 2
		}},
		{"bad pending quantity", func(s *RetailerState) {
			s.Pending = true
			s.LastQuantityIdx = 3
		}},
		{"bad rng state", func(s *RetailerState) { s.RNGState = []byte("x") }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			state := savedState(t)
			tt.mutate(&state)
			if _, err := Load(encodeState(t, state)); err == nil {
				t.Error("Load() error = nil, want error")
			}
		})
	}

	t.Run("valid", func(t *testing.T) {
		r, err := Load(encodeState(t, savedState(t)))
		if err != nil {
			t.Fatalf("Load() error = %v", err)
		}
		if _, _, err := r.Act(0.1); err != nil {
			t.Errorf("Act() after Load error = %v", err)
		}
	})
}

func TestLoadRebuildsPolicyFromLoss(t *testing.T) {
	state := savedState(t)
	r, err := Load(encodeState(t, state))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	want := make([]float64, len(state.CumLossData))
	exponentialWeights(want, state.CumLossData, state.LearningRate)
	if !floats.Equal(r.Policy().RawMatrix().Data, want) {
		t.Errorf("policy = %v, want %v", r.Policy().RawMatrix().Data, want)
	}
	assertValidMu(t, r)
}

func TestResetRNGReplaysActions(t *testing.T) {
	r, err := New(4, WithRandomSeed(31))
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	play := func() [][2]float64 {
		var actions [][2]float64
		for n := 0; n < 40; n++ {
			p, q, err := r.Act(0.25)
			if err != nil {
				t.Fatalf("Act() error = %v", err)
			}
			if err := r.Learn(float64(n%7) / 7); err != nil {
				t.Fatalf("Learn() error = %v", err)
			}
			actions = append(actions, [2]float64{p, q})
		}
		return actions
	}

	first := play()
	r.Reset()
	r.ResetRNG()
	second := play()

	for n := range first {
		if first[n] != second[n] {
			t.Fatalf("round %d: %v after ResetRNG, want %v", n, second[n], first[n])
		}
	}
}

func TestStats(t *testing.T) {
	r, err := New(2, WithRandomSeed(4))
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	r.Act(0.1)
	r.Learn(0.5)

	stats := r.Stats()
	for _, key := range []string{"n_rounds", "bins", "learning_rate", "exploration_param", "state", "policy_entropy", "max_policy_prob"} {
		if _, ok := stats[key]; !ok {
			t.Errorf("Stats() missing %q", key)
		}
	}
	if stats["n_rounds"].(uint64) != 1 {
		t.Errorf("n_rounds = %v, want 1", stats["n_rounds"])
	}
	if e := stats["policy_entropy"].(float64); e <= 0 || e > math.Log(6)+1e-12 {
		t.Errorf("policy_entropy = %v out of (0, log 6]", e)
	}
}
