package sad

import (
	"context"
	"fmt"
	"math"
	"sync"

	"metesad/domain/core"
	"metesad/ports"

	"gonum.org/v1/gonum/integrate/quad"
	"gonum.org/v1/gonum/stat"
	"gonum.org/v1/gonum/stat/distuv"
)

// ModelPoissonLognormal is the zero-truncated Poisson log-normal SAD
const ModelPoissonLognormal core.ModelName = "pln"

const (
	plnQuadraturePoints = 96
	plnWindowWidths     = 12.0
	plnMinSigma         = 1e-6
)

// PoissonLognormalModel mixes Poisson(n | e^t) over t ~ Normal(mu, sigma), truncated at n = 0.
// Quantile and rank predictions are capped at N0.
type PoissonLognormalModel struct {
	s0, n0    int
	mu, sigma float64
	logZ      float64 // log(1 - P(0))

	cache sync.Map // int -> float64 log pmf
	table *lazyCDF
}

// NewPoissonLognormalModel creates the model for log-scale mean mu and sd sigma
func NewPoissonLognormalModel(s0, n0 int, mu, sigma float64) *PoissonLognormalModel {
	if sigma < plnMinSigma {
		sigma = plnMinSigma
	}
	m := &PoissonLognormalModel{s0: s0, n0: n0, mu: mu, sigma: sigma}
	m.logZ = math.Log(-math.Expm1(plnLogProb(0, mu, sigma)))
	m.table = newLazyCDF(n0, m.cachedLogPMF)
	return m
}

// plnLogProb is log of the untruncated mixture probability of n, integrated in
// log-lambda space over a window around the integrand's mode
func plnLogProb(n int, mu, sigma float64) float64 {
	norm := distuv.Normal{Mu: mu, Sigma: sigma}
	x := float64(n)
	g := func(t float64) float64 {
		return distuv.Poisson{Lambda: math.Exp(t)}.LogProb(x) + norm.LogProb(t)
	}

	// mode of g by Newton; g is strictly concave
	inv := 1 / (sigma * sigma)
	t := mu
	if n > 0 {
		t = math.Log(float64(n))
	}
	for i := 0; i < 100; i++ {
		grad := float64(n) - math.Exp(t) - (t-mu)*inv
		hess := -math.Exp(t) - inv
		step := grad / hess
		if step > 5 {
			step = 5
		} else if step < -5 {
			step = -5
		}
		t -= step
		if math.Abs(step) < 1e-12 {
			break
		}
	}

	peak := g(t)
	width := 1 / math.Sqrt(math.Exp(t)+inv)
	lo, hi := t-plnWindowWidths*width, t+plnWindowWidths*width

	area := quad.Fixed(func(x float64) float64 {
		return math.Exp(g(x) - peak)
	}, lo, hi, plnQuadraturePoints, quad.Legendre{}, 0)

	return peak + math.Log(area)
}

func (m *PoissonLognormalModel) cachedLogPMF(n int) float64 {
	if v, ok := m.cache.Load(n); ok {
		return v.(float64)
	}
	lp := plnLogProb(n, m.mu, m.sigma) - m.logZ
	m.cache.Store(n, lp)
	return lp
}

// Name implements ports.SADModel
func (m *PoissonLognormalModel) Name() core.ModelName { return ModelPoissonLognormal }

// NumParams implements ports.SADModel
func (m *PoissonLognormalModel) NumParams() int { return 2 }

// Params returns [mu, sigma]
func (m *PoissonLognormalModel) Params() []float64 { return []float64{m.mu, m.sigma} }

// S0 implements ports.SADModel
func (m *PoissonLognormalModel) S0() int { return m.s0 }

// N0 implements ports.SADModel
func (m *PoissonLognormalModel) N0() int { return m.n0 }

// LogPMF implements ports.SADModel
func (m *PoissonLognormalModel) LogPMF(n int) (float64, error) {
	if n < 1 || n > m.n0 {
		return math.NaN(), core.NewDomainError("abundance", n, 1, m.n0)
	}
	return m.cachedLogPMF(n), nil
}

// PMF implements ports.SADModel
func (m *PoissonLognormalModel) PMF(n int) (float64, error) {
	lp, err := m.LogPMF(n)
	if err != nil {
		return math.NaN(), err
	}
	return math.Exp(lp), nil
}

// CDF implements ports.SADModel
func (m *PoissonLognormalModel) CDF(n int) (float64, error) {
	if n < 1 || n > m.n0 {
		return math.NaN(), core.NewDomainError("abundance", n, 1, m.n0)
	}
	return m.table.at(n), nil
}

// Quantile implements ports.SADModel
func (m *PoissonLognormalModel) Quantile(u float64) int {
	if u <= 0 || math.IsNaN(u) {
		return 1
	}
	return m.table.quantile(u)
}

// RankAbundance implements ports.SADModel
func (m *PoissonLognormalModel) RankAbundance(rank int) (int, error) {
	return rankAbundance(m, rank)
}

// Predicted implements ports.SADModel
func (m *PoissonLognormalModel) Predicted() []int {
	return predictedCurve(m)
}

// PoissonLognormalBuilder estimates mu and sigma from the log abundances
type PoissonLognormalBuilder struct{}

// NewPoissonLognormalBuilder creates a builder
func NewPoissonLognormalBuilder() *PoissonLognormalBuilder {
	return &PoissonLognormalBuilder{}
}

// Name implements ports.ModelBuilder
func (b *PoissonLognormalBuilder) Name() core.ModelName { return ModelPoissonLognormal }

// DependsOnObserved implements ports.ModelBuilder
func (b *PoissonLognormalBuilder) DependsOnObserved() bool { return true }

// Build implements ports.ModelBuilder
func (b *PoissonLognormalBuilder) Build(ctx context.Context, s0, n0 int, observed []int) (ports.SADModel, error) {
	if len(observed) != s0 || s0 == 0 {
		return nil, core.NewInvalidParametersError(fmt.Sprintf("pln needs %d observed abundances, got %d", s0, len(observed)))
	}
	logs := make([]float64, len(observed))
	for i, n := range observed {
		if n < 1 {
			return nil, core.NewInvalidParametersError(fmt.Sprintf("pln abundance %d at %d", n, i))
		}
		logs[i] = math.Log(float64(n))
	}
	mu, sigma := stat.PopMeanStdDev(logs, nil)
	return NewPoissonLognormalModel(s0, n0, mu, sigma), nil
}
