package sad

import (
	"context"
	"math"
	"testing"

	"metesad/adapters/rootfind"
	"metesad/domain/core"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func pmfSum(t *testing.T, m interface {
	PMF(int) (float64, error)
	N0() int
}) float64 {
	t.Helper()
	sum := 0.0
	for n := 1; n <= m.N0(); n++ {
		p, err := m.PMF(n)
		require.NoError(t, err)
		require.True(t, p >= 0 && p <= 1, "pmf(%d)=%g out of [0,1]", n, p)
		sum += p
	}
	return sum
}

func TestSolver_ConstraintsHold(t *testing.T) {
	solver := NewDefaultSolver()

	cases := []struct{ s0, n0 int }{
		{10, 1000},
		{2, 3},
		{3, 1000},
		{25, 60},
		{50, 5000},
		{120, 40000},
		{90, 100},
		{995, 1000},
		{999, 1000},
	}

	for _, c := range cases {
		sol, err := solver.Solve(c.s0, c.n0)
		require.NoError(t, err, "S0=%d N0=%d", c.s0, c.n0)

		m := NewMETEModel(sol)
		assert.InDelta(t, 1.0, pmfSum(t, m), 1e-6, "S0=%d N0=%d normalization", c.s0, c.n0)
		assert.InDelta(t, float64(c.n0)/float64(c.s0), m.Mean(), 1e-4, "S0=%d N0=%d mean (path %s)", c.s0, c.n0, sol.Path)
	}
}

func TestSolver_ConcreteScenario(t *testing.T) {
	sol, err := NewDefaultSolver().Solve(10, 1000)
	require.NoError(t, err)
	assert.Equal(t, PathFloat64, sol.Path)
	assert.Greater(t, sol.Beta, 0.0)

	m := NewMETEModel(sol)
	p1, err := m.PMF(1)
	require.NoError(t, err)
	p500, err := m.PMF(500)
	require.NoError(t, err)
	assert.Greater(t, p1, p500)

	prev := math.Inf(1)
	for n := 1; n <= 1000; n += 37 {
		p, _ := m.PMF(n)
		assert.LessOrEqual(t, p, prev)
		prev = p
	}
}

func TestSolver_NegativeBetaWhenFewSpecies(t *testing.T) {
	// S0 below the harmonic number of N0 needs mass pushed toward large n
	sol, err := NewDefaultSolver().Solve(3, 1000)
	require.NoError(t, err)
	assert.Less(t, sol.Beta, 0.0)
	assert.InDelta(t, 1000.0/3.0, NewMETEModel(sol).Mean(), 1e-4)
}

func TestSolver_PrecisionPathNearPole(t *testing.T) {
	solver := NewDefaultSolver()

	sol, err := solver.Solve(999, 1000)
	require.NoError(t, err)
	assert.Equal(t, PathBigFloat, sol.Path)
	assert.InDelta(t, 0, sol.Residual, 1e-12)

	// both paths agree where both are valid
	fast, err := solver.solveFast(10, 1000)
	require.NoError(t, err)
	precise, err := solver.solvePrecise(10, 1000)
	require.NoError(t, err)
	assert.InEpsilon(t, fast.Beta, precise.Beta, 1e-9)
}

func TestSolver_ForcedPathsViaConfig(t *testing.T) {
	cfg := DefaultSolverConfig()
	cfg.PrecisionRatio = 0.01
	sol, err := NewSolver(nil, cfg).Solve(10, 1000)
	require.NoError(t, err)
	assert.Equal(t, PathBigFloat, sol.Path)

	cfg = DefaultSolverConfig()
	cfg.PrecisionRatio = 2
	cfg.PrecisionThreshold = 1
	sol, err = NewSolver(&rootfind.Brent{Tolerance: 1e-16, MaxIter: 500}, cfg).Solve(90, 100)
	require.NoError(t, err)
	assert.Equal(t, PathFloat64, sol.Path)
}

func TestMeanBigMatchesFloat(t *testing.T) {
	for _, beta := range []float64{-0.01, 0, 1e-4, 0.05, 2} {
		assert.InEpsilon(t, meanFloat(beta, 2000), meanBig(beta, 2000, 256), 1e-10, "beta=%g", beta)
	}
}

func TestSolver_DegenerateBoundary(t *testing.T) {
	solver := NewDefaultSolver()

	for _, n := range []int{1, 7, 500} {
		sol, err := solver.Solve(n, n)
		require.NoError(t, err)
		assert.Equal(t, PathDegenerate, sol.Path)
		assert.True(t, math.IsInf(sol.Beta, 1))

		m := NewMETEModel(sol)
		assert.Equal(t, 1.0, pmfSum(t, m))
		p1, _ := m.PMF(1)
		assert.Equal(t, 1.0, p1)
		for _, a := range m.Predicted() {
			assert.Equal(t, 1, a)
		}

		again, err := solver.Solve(n, n)
		require.NoError(t, err)
		assert.Equal(t, sol, again)
	}

	sol, err := solver.Solve(1, 40)
	require.NoError(t, err)
	m := NewMETEModel(sol)
	assert.Equal(t, []int{40}, m.Predicted())
	assert.Equal(t, 1.0, pmfSum(t, m))
}

func TestSolver_InvalidParameters(t *testing.T) {
	solver := NewDefaultSolver()

	_, err := solver.Solve(11, 10)
	assert.True(t, core.IsInvalidParameters(err))

	_, err = solver.Solve(0, 10)
	assert.True(t, core.IsInvalidParameters(err))
}

func TestMETEModel_DomainAndRanks(t *testing.T) {
	sol, err := NewDefaultSolver().Solve(40, 2000)
	require.NoError(t, err)
	m := NewMETEModel(sol)

	_, err = m.PMF(0)
	assert.True(t, core.IsDomainError(err))
	_, err = m.PMF(2001)
	assert.True(t, core.IsDomainError(err))
	_, err = m.CDF(-3)
	assert.True(t, core.IsDomainError(err))
	_, err = m.RankAbundance(41)
	assert.True(t, core.IsDomainError(err))

	pred := m.Predicted()
	require.Len(t, pred, 40)
	for r := 1; r < len(pred); r++ {
		assert.GreaterOrEqual(t, pred[r-1], pred[r], "rank %d", r)
		got, err := m.RankAbundance(r)
		require.NoError(t, err)
		assert.Equal(t, pred[r-1], got)
	}

	cdfLast, err := m.CDF(2000)
	require.NoError(t, err)
	assert.Equal(t, 1.0, cdfLast)
}

func TestLogSeries_SolvesFisherRelation(t *testing.T) {
	b := NewLogSeriesBuilder(nil)

	for _, c := range []struct{ s0, n0 int }{{10, 1000}, {40, 200}, {99, 100}} {
		p, err := b.SolveP(c.s0, c.n0)
		require.NoError(t, err)
		mean := -p / ((1 - p) * math.Log(1-p))
		assert.InEpsilon(t, float64(c.n0)/float64(c.s0), mean, 1e-8)
	}

	m, err := b.Build(context.Background(), 5, 5, nil)
	require.NoError(t, err)
	p1, err := m.PMF(1)
	require.NoError(t, err)
	assert.Equal(t, 1.0, p1)

	_, err = b.Build(context.Background(), 6, 5, nil)
	assert.True(t, core.IsInvalidParameters(err))
}

func TestLogSeries_RanksAndTruncation(t *testing.T) {
	m, err := NewLogSeriesBuilder(nil).Build(context.Background(), 30, 3000, nil)
	require.NoError(t, err)

	pred := m.Predicted()
	for r := 1; r < len(pred); r++ {
		assert.GreaterOrEqual(t, pred[r-1], pred[r])
	}
	assert.LessOrEqual(t, pred[0], 3000)

	sum := 0.0
	for n := 1; n <= 3000; n++ {
		p, _ := m.PMF(n)
		sum += p
	}
	assert.LessOrEqual(t, sum, 1.0+1e-12)
	assert.Greater(t, sum, 0.95)
}

func TestPoissonLognormal_Normalization(t *testing.T) {
	m := NewPoissonLognormalModel(20, 20000, 1.5, 1.0)
	sum := 0.0
	for n := 1; n <= 20000; n++ {
		p, err := m.PMF(n)
		require.NoError(t, err)
		sum += p
	}
	assert.InDelta(t, 1.0, sum, 1e-4)

	cdf, err := m.CDF(20000)
	require.NoError(t, err)
	assert.InDelta(t, sum, cdf, 1e-9)
}

func TestPoissonLognormal_BuilderUsesObserved(t *testing.T) {
	b := NewPoissonLognormalBuilder()
	assert.True(t, b.DependsOnObserved())

	obs := []int{120, 60, 30, 12, 8, 5, 3, 2, 1, 1}
	m, err := b.Build(context.Background(), len(obs), 242, obs)
	require.NoError(t, err)
	assert.Equal(t, 2, m.NumParams())

	params := m.Params()
	assert.InDelta(t, 2.025, params[0], 0.01)

	pred := m.Predicted()
	for r := 1; r < len(pred); r++ {
		assert.GreaterOrEqual(t, pred[r-1], pred[r])
	}

	_, err = b.Build(context.Background(), 3, 10, []int{5, 5})
	assert.True(t, core.IsInvalidParameters(err))
}

func TestModelSet_Select(t *testing.T) {
	set := NewModelSet(NewDefaultSolver(), nil)
	assert.Equal(t, []core.ModelName{ModelMETE, ModelLogSeries, ModelPoissonLognormal}, set.Names())

	sub, err := set.Select([]string{"pln", " mete"})
	require.NoError(t, err)
	assert.Equal(t, []core.ModelName{ModelPoissonLognormal, ModelMETE}, sub.Names())

	all, err := set.Select([]string{"mete", "logseries", "pln"})
	require.NoError(t, err)
	assert.Equal(t, set.Names(), all.Names())

	_, err = set.Select([]string{"negbin"})
	assert.True(t, core.IsInvalidParameters(err))
}
