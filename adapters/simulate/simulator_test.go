package simulate

import (
	"context"
	"math"
	"math/rand"
	"sync/atomic"
	"testing"

	"metesad/adapters/evaluate"
	"metesad/adapters/rng"
	"metesad/adapters/sad"
	"metesad/domain/community"
	"metesad/domain/core"
	"metesad/domain/fit"
	"metesad/internal"
	"metesad/internal/testkit"
	"metesad/ports"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func meteModel(t *testing.T, s0, n0 int) ports.SADModel {
	t.Helper()
	sol, err := sad.NewDefaultSolver().Solve(s0, n0)
	require.NoError(t, err)
	return sad.NewMETEModel(sol)
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.Workers = 4
	cfg.CheckpointEvery = 5
	return cfg
}

func newTestSimulator(checkpoints ports.CheckpointStore, cfg Config) *Simulator {
	return NewSimulator(rng.NewStreamAdapter(), checkpoints, cfg).WithLogger(internal.Discard)
}

func sum(v []int) int {
	t := 0
	for _, n := range v {
		t += n
	}
	return t
}

func TestSampler_ExactSumAndLength(t *testing.T) {
	cases := []struct {
		name   string
		s0, n0 int
		cfg    func(*Config)
		want   fit.SamplerStrategy
	}{
		{"exact", 12, 300, func(c *Config) {}, fit.SamplerExact},
		{"rejection", 12, 300, func(c *Config) { c.ExactBudget = 0 }, fit.SamplerRejection},
		{"proportional fallback", 40, 2000, func(c *Config) { c.ExactBudget = 0; c.MaxRejectAttempts = 0 }, fit.SamplerProportional},
		{"all singletons", 25, 25, func(c *Config) {}, fit.SamplerExact},
		{"one species", 1, 80, func(c *Config) { c.ExactBudget = 0 }, fit.SamplerRejection},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tc.cfg(&cfg)
			s, err := NewSampler(meteModel(t, tc.s0, tc.n0), cfg)
			require.NoError(t, err)

			r := rand.New(rand.NewSource(7))
			for i := 0; i < 200; i++ {
				v, strategy, err := s.Sample(r)
				require.NoError(t, err)
				require.Len(t, v, tc.s0)
				require.Equal(t, tc.n0, sum(v))
				assert.Equal(t, tc.want, strategy)
				for j, n := range v {
					require.GreaterOrEqual(t, n, 1)
					if j > 0 {
						require.LessOrEqual(t, n, v[j-1])
					}
				}
			}
		})
	}
}

// Both exact strategies must reproduce P(x1, x2 | x1 + x2 = N0) ∝ pmf(x1) pmf(x2)
func TestSampler_ConditionalLawMatchesTheory(t *testing.T) {
	const n0 = 6
	model := meteModel(t, 2, n0)

	// ranked pairs (a, n0-a) with a >= n0-a
	theory := map[int]float64{}
	total := 0.0
	for a := 1; a < n0; a++ {
		pa, _ := model.PMF(a)
		pb, _ := model.PMF(n0 - a)
		hi := a
		if n0-a > hi {
			hi = n0 - a
		}
		theory[hi] += pa * pb
		total += pa * pb
	}

	for _, budget := range []int64{DefaultConfig().ExactBudget, 0} {
		cfg := DefaultConfig()
		cfg.ExactBudget = budget
		s, err := NewSampler(model, cfg)
		require.NoError(t, err)

		const draws = 40000
		counts := map[int]int{}
		r := rand.New(rand.NewSource(11))
		for i := 0; i < draws; i++ {
			v, _, err := s.Sample(r)
			require.NoError(t, err)
			counts[v[0]]++
		}
		for hi, p := range theory {
			assert.InDelta(t, p/total, float64(counts[hi])/draws, 0.015, "%s largest=%d", s.Strategy(), hi)
		}
	}
}

func TestNewSampler_InvalidConstraints(t *testing.T) {
	_, err := NewSampler(fakeModel{s0: 5, n0: 4}, DefaultConfig())
	assert.True(t, core.IsInvalidParameters(err))
}

func TestApportion(t *testing.T) {
	got := Apportion([]float64{1, 1, 1}, 10)
	assert.Equal(t, 10, sum(got))
	assert.Equal(t, []int{4, 3, 3}, got)

	got = Apportion([]float64{1000, 1, 1, 1}, 6)
	assert.Equal(t, 6, sum(got))
	for _, n := range got {
		assert.GreaterOrEqual(t, n, 1)
	}
	assert.Equal(t, 3, got[0])
}

func TestSimulate_InvalidParameters(t *testing.T) {
	sim := newTestSimulator(nil, testConfig())
	c, err := community.New("d", "c", []int{5, 3, 2})
	require.NoError(t, err)

	_, err = sim.Simulate(context.Background(), c, sad.NewMETEBuilder(sad.NewDefaultSolver()), 0, 1)
	assert.True(t, core.IsInvalidParameters(err))

	_, err = sim.Run(context.Background(), sad.NewMETEBuilder(sad.NewDefaultSolver()), Request{
		Key: c.Key(sad.ModelMETE), S0: 11, N0: 10, Replicates: 3,
	})
	assert.True(t, core.IsInvalidParameters(err))
}

func TestSimulate_DeterministicAcrossWorkerCounts(t *testing.T) {
	c, err := community.New("bci", "plot-1", []int{210, 90, 44, 30, 21, 12, 9, 7, 4, 3, 2, 1, 1, 1})
	require.NoError(t, err)
	builder := sad.NewMETEBuilder(sad.NewDefaultSolver())

	run := func(workers int) *fit.SimulationBatch {
		cfg := testConfig()
		cfg.Workers = workers
		b, err := newTestSimulator(nil, cfg).Simulate(context.Background(), c, builder, 30, 99)
		require.NoError(t, err)
		return b
	}

	a, b := run(1), run(6)
	require.True(t, a.Sealed())
	require.Len(t, a.Replicates, 30)
	assert.Equal(t, a.Replicates, b.Replicates)
	assert.Equal(t, int64(99), a.Seed)
	assert.NotEqual(t, a.RunID, b.RunID)

	for i, st := range a.Replicates {
		assert.Equal(t, i, st.Index)
		assert.LessOrEqual(t, st.RSquared, 1.0)
	}

	other, err := newTestSimulator(nil, testConfig()).Simulate(context.Background(), c, builder, 30, 100)
	require.NoError(t, err)
	assert.NotEqual(t, a.Replicates, other.Replicates)
}

type countingBuilder struct {
	ports.ModelBuilder
	builds atomic.Int64
}

func (b *countingBuilder) Build(ctx context.Context, s0, n0 int, observed []int) (ports.SADModel, error) {
	b.builds.Add(1)
	return b.ModelBuilder.Build(ctx, s0, n0, observed)
}

func TestSimulate_ResumesFromCheckpoint(t *testing.T) {
	c, err := community.New("bci", "plot-2", []int{120, 60, 30, 12, 8, 5, 3, 2, 1, 1, 1})
	require.NoError(t, err)
	const replicates = 20

	full, err := newTestSimulator(nil, testConfig()).Simulate(context.Background(), c, sad.NewPoissonLognormalBuilder(), replicates, 5)
	require.NoError(t, err)

	kit := testkit.NewTestKit()
	store := kit.CheckpointStore()
	key := c.Key(sad.ModelPoissonLognormal)
	require.NoError(t, store.AppendReplicates(context.Background(), key, 5, full.Replicates[:7]))

	counting := &countingBuilder{ModelBuilder: sad.NewPoissonLognormalBuilder()}
	resumed, err := newTestSimulator(store, testConfig()).Simulate(context.Background(), c, counting, replicates, 5)
	require.NoError(t, err)

	assert.Equal(t, full.Replicates, resumed.Replicates)
	// one null model plus one refit per replicate not restored
	assert.Equal(t, int64(1+replicates-7), counting.builds.Load())
	assert.Equal(t, replicates, store.Len(key))
}

func TestSimulate_DiscardsCheckpointFromOtherSeed(t *testing.T) {
	c, err := community.New("bci", "plot-3", []int{50, 20, 10, 5, 2, 1})
	require.NoError(t, err)

	store := testkit.NewMemoryCheckpointStore()
	key := c.Key(sad.ModelMETE)
	bogus := []fit.ReplicateStat{{Index: 0, RSquared: 42}}
	require.NoError(t, store.AppendReplicates(context.Background(), key, 1, bogus))

	b, err := newTestSimulator(store, testConfig()).Simulate(context.Background(), c, sad.NewMETEBuilder(sad.NewDefaultSolver()), 4, 2)
	require.NoError(t, err)
	assert.NotEqual(t, 42.0, b.Replicates[0].RSquared)
}

func TestSimulate_CancelledKeepsCheckpointedWork(t *testing.T) {
	c, err := community.New("bci", "plot-4", []int{80, 40, 20, 9, 5, 3, 2, 1, 1})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	store := testkit.NewMemoryCheckpointStore()
	_, err = newTestSimulator(store, testConfig()).Simulate(ctx, c, sad.NewMETEBuilder(sad.NewDefaultSolver()), 50, 3)
	assert.Error(t, err)
	assert.LessOrEqual(t, store.Len(c.Key(sad.ModelMETE)), 50)
}

// Replicates drawn from a model fit that model better than a mis-specified one
func TestSimulate_Discriminative(t *testing.T) {
	const s0, n0 = 30, 600
	truth := meteModel(t, s0, n0)
	wrong := meteModel(t, s0, 6000)

	s, err := NewSampler(truth, DefaultConfig())
	require.NoError(t, err)
	ev := evaluate.NewEvaluator()

	r := rand.New(rand.NewSource(2024))
	var good, bad float64
	const reps = 40
	for i := 0; i < reps; i++ {
		v, _, err := s.Sample(r)
		require.NoError(t, err)
		g, err := ev.ScoreRanked(truth, v)
		require.NoError(t, err)
		b, err := ev.ScoreRanked(wrong, v)
		require.NoError(t, err)
		good += g.RSquared
		bad += b.RSquared
	}
	assert.Greater(t, good/reps, bad/reps)
}

func TestSummarize(t *testing.T) {
	key := core.ArtifactKey{Dataset: "d", Community: "c", Model: sad.ModelMETE}
	batch := fit.NewSimulationBatch(key, 10, 100, 1)
	stats := make([]fit.ReplicateStat, 0, 100)
	for i := 0; i < 100; i++ {
		stats = append(stats, fit.ReplicateStat{Index: i, RSquared: float64(i) / 100, LogLikelihood: -float64(i)})
	}
	stats[50].RSquared = math.NaN()

	_, err := Summarize(batch, fit.FitResult{Model: key.Model, Dataset: key.Dataset, Community: key.Community})
	assert.Error(t, err, "unsealed")

	require.NoError(t, batch.Seal(stats))
	observed := fit.FitResult{Model: key.Model, Dataset: key.Dataset, Community: key.Community, RSquared: 0.2, LogLikelihood: -10}
	summary, err := Summarize(batch, observed)
	require.NoError(t, err)

	assert.Equal(t, 100, summary.Replicates)
	assert.Equal(t, 0.2, summary.ObservedR2)
	assert.Less(t, summary.LowerR2, summary.MedianR2)
	assert.Less(t, summary.MedianR2, summary.UpperR2)
	// 21 of the 99 finite replicates are <= 0.2
	assert.InDelta(t, 22.0/100.0, summary.PValueR2, 1e-12)
	assert.Greater(t, summary.PValueLL, 0.8)

	_, err = Summarize(batch, fit.FitResult{Model: "logseries", Dataset: "d", Community: "c"})
	assert.Error(t, err)
}

type fakeModel struct{ s0, n0 int }

func (f fakeModel) Name() core.ModelName              { return "fake" }
func (f fakeModel) NumParams() int                    { return 0 }
func (f fakeModel) Params() []float64                 { return nil }
func (f fakeModel) S0() int                           { return f.s0 }
func (f fakeModel) N0() int                           { return f.n0 }
func (f fakeModel) PMF(n int) (float64, error)        { return 0, nil }
func (f fakeModel) LogPMF(n int) (float64, error)     { return math.Inf(-1), nil }
func (f fakeModel) CDF(n int) (float64, error)        { return 1, nil }
func (f fakeModel) Quantile(u float64) int            { return 1 }
func (f fakeModel) RankAbundance(r int) (int, error)  { return 1, nil }
func (f fakeModel) Predicted() []int                  { return nil }
