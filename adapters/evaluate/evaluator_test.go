package evaluate

import (
	"context"
	"math"
	"testing"

	"metesad/adapters/sad"
	"metesad/domain/community"
	"metesad/domain/core"
	"metesad/domain/fit"
	"metesad/ports"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func meteModel(t *testing.T, s0, n0 int) *sad.METEModel {
	t.Helper()
	sol, err := sad.NewDefaultSolver().Solve(s0, n0)
	require.NoError(t, err)
	return sad.NewMETEModel(sol)
}

func TestEvaluate_ModelAgainstItsOwnCurve(t *testing.T) {
	m := meteModel(t, 10, 1000)
	pred := m.Predicted()

	c, err := community.New("synthetic", "self", pred)
	require.NoError(t, err)

	r, err := NewEvaluator().Evaluate(m, c)
	require.NoError(t, err)
	assert.Equal(t, 1.0, r.RSquared)
	assert.Equal(t, sad.ModelMETE, r.Model)
	assert.Equal(t, 1, r.K)
	assert.True(t, math.IsNaN(r.AkaikeWeight))

	assert.InDelta(t, 2-2*r.LogLikelihood+4.0/8.0, r.AICc, 1e-9)
}

// With pmf(n) = e^{-βn}/(nZ) and abundances summing to N0 the log-likelihood
// collapses to -βN0 - Σ ln n_i - S0 ln Z.
func TestEvaluate_LogLikelihoodClosedForm(t *testing.T) {
	obs := []int{500, 200, 100, 80, 50, 30, 20, 10, 6, 4}
	s0, n0 := len(obs), 1000
	m := meteModel(t, s0, n0)
	beta := m.Solution().Beta

	z := 0.0
	for n := 1; n <= n0; n++ {
		z += math.Exp(-beta*float64(n)) / float64(n)
	}
	logN := 0.0
	for _, n := range obs {
		logN += math.Log(float64(n))
	}
	want := -beta*float64(n0) - logN - float64(s0)*math.Log(z)

	c, err := community.New("synthetic", "skewed", obs)
	require.NoError(t, err)
	require.Equal(t, n0, c.N0())
	r, err := NewEvaluator().Evaluate(m, c)
	require.NoError(t, err)
	assert.InDelta(t, want, r.LogLikelihood, 1e-8*math.Abs(want))
	assert.Less(t, r.RSquared, 1.0)
}

func TestEvaluate_WrongSpeciesCount(t *testing.T) {
	m := meteModel(t, 10, 1000)
	c, err := community.New("synthetic", "short", []int{500, 300, 200})
	require.NoError(t, err)

	_, err = NewEvaluator().Evaluate(m, c)
	assert.True(t, core.IsInvalidParameters(err))
}

func TestAICc_UndefinedForTinyCommunities(t *testing.T) {
	assert.True(t, math.IsNaN(AICc(-3, 1, 2)))
	assert.True(t, math.IsNaN(AICc(-3, 2, 3)))
	assert.False(t, math.IsNaN(AICc(-3, 1, 3)))
	assert.InDelta(t, 2+6+4.0, AICc(-3, 1, 3), 1e-12)

	m := meteModel(t, 2, 10)
	c, err := community.New("synthetic", "pair", []int{7, 3})
	require.NoError(t, err)
	r, err := NewEvaluator().Evaluate(m, c)
	require.NoError(t, err)
	assert.True(t, math.IsNaN(r.AICc))
	assert.False(t, math.IsNaN(r.LogLikelihood))
}

func TestLogRSquared(t *testing.T) {
	assert.Equal(t, 1.0, LogRSquared([]int{4, 4, 4}, []int{4, 4, 4}))
	assert.True(t, math.IsNaN(LogRSquared([]int{4, 4, 4}, []int{5, 4, 3})))
	assert.True(t, math.IsNaN(LogRSquared([]int{4, 4}, []int{4})))

	// prediction off the 1:1 line is penalized even when perfectly correlated
	r2 := LogRSquared([]int{100, 10, 1}, []int{1000, 100, 10})
	assert.Less(t, r2, 0.0)
	assert.InDelta(t, 1.0, LogRSquared([]int{100, 10, 1}, []int{100, 10, 1}), 1e-12)
}

func TestAkaikeWeights(t *testing.T) {
	w := AkaikeWeights([]float64{100, 102, 110})
	require.Len(t, w, 3)
	assert.InDelta(t, 1.0, w[0]+w[1]+w[2], 1e-12)
	assert.Greater(t, w[0], w[1])
	assert.Greater(t, w[1], w[2])
	assert.InDelta(t, math.Exp(-1), w[1]/w[0], 1e-12)

	for _, v := range AkaikeWeights([]float64{100, math.NaN()}) {
		assert.True(t, math.IsNaN(v))
	}
	assert.Empty(t, AkaikeWeights(nil))
}

func TestEvaluateAll_ComparesModelsOnSameData(t *testing.T) {
	obs := []int{320, 150, 90, 60, 41, 30, 22, 15, 11, 9, 7, 5, 4, 3, 2, 2, 1, 1, 1, 1}
	c, err := community.New("synthetic", "site-1", obs)
	require.NoError(t, err)

	set := sad.NewModelSet(sad.NewDefaultSolver(), nil)
	var models []ports.SADModel
	for _, b := range set.Builders() {
		m, err := b.Build(context.Background(), c.S0(), c.N0(), c.Ranked())
		require.NoError(t, err)
		models = append(models, m)
	}

	results, err := NewEvaluator().EvaluateAll(models, c)
	require.NoError(t, err)
	require.Len(t, results, 3)

	sum := 0.0
	for _, r := range results {
		assert.Equal(t, c.S0(), r.S0)
		assert.Equal(t, c.N0(), r.N0)
		assert.False(t, math.IsNaN(r.AICc), "%s", r.Model)
		assert.LessOrEqual(t, r.RSquared, 1.0)
		sum += r.AkaikeWeight
	}
	assert.InDelta(t, 1.0, sum, 1e-12)
}

func TestObsPredRows(t *testing.T) {
	m := meteModel(t, 5, 60)
	c, err := community.New("synthetic", "s", []int{3, 30, 1, 20, 6})
	require.NoError(t, err)

	rows, err := ObsPredRows(m, c)
	require.NoError(t, err)
	require.Len(t, rows, 5)
	assert.Equal(t, fit.ObsPred{Dataset: "synthetic", Community: "s", Rank: 1, Observed: 30, Predicted: m.Predicted()[0]}, rows[0])
	assert.Equal(t, 1, rows[4].Observed)
}

func TestCountClasses(t *testing.T) {
	got := CountClasses([]int{12, 5, 2, 2, 1, 1, 1})
	assert.Equal(t, 3.0, got[ClassSingletons])
	assert.Equal(t, 2.0, got[ClassDoubletons])
	assert.Equal(t, 6.0, got[ClassRare])
	assert.Equal(t, 12.0, got[ClassDominant])
}

func TestRegressClasses_PerfectPrediction(t *testing.T) {
	var rows []fit.ObsPred
	curves := map[core.CommunityID][]int{
		"a": {5, 1, 1},
		"b": {3, 2, 1, 1, 1, 1},
		"c": {20, 2, 2, 1},
	}
	for _, id := range []core.CommunityID{"a", "b", "c"} {
		for i, n := range curves[id] {
			rows = append(rows, fit.ObsPred{Dataset: "d", Community: id, Rank: i + 1, Observed: n, Predicted: n})
		}
	}

	regs := RegressClasses(rows)
	require.Len(t, regs, len(Classes))
	for _, reg := range regs {
		require.Len(t, reg.Points, 3, "%s", reg.Class)
		assert.InDelta(t, 1.0, reg.Slope, 1e-9, "%s", reg.Class)
		assert.InDelta(t, 0.0, reg.Intercept, 1e-9, "%s", reg.Class)
		assert.InDelta(t, 1.0, reg.RSquared, 1e-9, "%s", reg.Class)
	}
}

func TestRegressClasses_TooFewCommunities(t *testing.T) {
	rows := []fit.ObsPred{{Dataset: "d", Community: "a", Rank: 1, Observed: 4, Predicted: 3}}
	for _, reg := range RegressClasses(rows) {
		assert.True(t, math.IsNaN(reg.Slope))
	}
}

func TestPairwiseWeights(t *testing.T) {
	fits := []fit.FitResult{
		{Model: "mete", Community: "b", AICc: 10},
		{Model: "logseries", Community: "b", AICc: 10},
		{Model: "pln", Community: "b", AICc: 10},
		{Model: "logseries", Community: "a", AICc: 20},
		{Model: "pln", Community: "a", AICc: 10},
		{Model: "logseries", Community: "c", AICc: math.NaN()},
		{Model: "pln", Community: "c", AICc: 3},
		{Model: "logseries", Community: "d", AICc: 5},
	}
	ws := PairwiseWeights(fits, "logseries", "pln")
	require.Len(t, ws, 2)
	assert.Equal(t, core.CommunityID("a"), ws[0].Community)
	assert.InDelta(t, 1/(1+math.Exp(5)), ws[0].Weight, 1e-12)
	assert.Equal(t, core.CommunityID("b"), ws[1].Community)
	assert.InDelta(t, 0.5, ws[1].Weight, 1e-12)

	assert.Equal(t, []int{1, 1, 0}, CountVerdicts(ws))
}

func TestWeightBin(t *testing.T) {
	assert.Equal(t, VerdictRival, WeightBin(0))
	assert.Equal(t, VerdictRival, WeightBin(0.399))
	assert.Equal(t, VerdictIndeterminate, WeightBin(0.4))
	assert.Equal(t, VerdictIndeterminate, WeightBin(0.599))
	assert.Equal(t, VerdictModel, WeightBin(0.6))
	assert.Equal(t, VerdictModel, WeightBin(1))
	assert.Equal(t, -1, WeightBin(math.NaN()))
	assert.Equal(t, -1, WeightBin(1.5))
}
