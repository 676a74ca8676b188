package sad

import (
	"context"
	"fmt"
	"math"

	"metesad/adapters/rootfind"
	"metesad/domain/core"
	"metesad/ports"
)

// ModelLogSeries is Fisher's untruncated log-series
const ModelLogSeries core.ModelName = "logseries"

// LogSeriesModel is pmf(n) = p^n / (n u) for n >= 1 with u = -ln(1-p).
// PMF and CDF are untruncated; Quantile and rank predictions are capped at N0.
type LogSeriesModel struct {
	s0, n0 int
	p      float64
	u      float64
	logP   float64
	table  *lazyCDF
}

// NewLogSeriesModel creates a log-series model with parameter p in [0, 1)
func NewLogSeriesModel(s0, n0 int, p float64) *LogSeriesModel {
	m := &LogSeriesModel{s0: s0, n0: n0, p: p, u: -math.Log1p(-p), logP: math.Log(p)}
	m.table = newLazyCDF(n0, m.logPMF)
	return m
}

func (m *LogSeriesModel) logPMF(n int) float64 {
	if m.p == 0 {
		if n == 1 {
			return 0
		}
		return math.Inf(-1)
	}
	return float64(n)*m.logP - math.Log(float64(n)) - math.Log(m.u)
}

// Name implements ports.SADModel
func (m *LogSeriesModel) Name() core.ModelName { return ModelLogSeries }

// NumParams implements ports.SADModel
func (m *LogSeriesModel) NumParams() int { return 1 }

// Params returns [p]
func (m *LogSeriesModel) Params() []float64 { return []float64{m.p} }

// S0 implements ports.SADModel
func (m *LogSeriesModel) S0() int { return m.s0 }

// N0 implements ports.SADModel
func (m *LogSeriesModel) N0() int { return m.n0 }

// LogPMF implements ports.SADModel
func (m *LogSeriesModel) LogPMF(n int) (float64, error) {
	if n < 1 || n > m.n0 {
		return math.NaN(), core.NewDomainError("abundance", n, 1, m.n0)
	}
	return m.logPMF(n), nil
}

// PMF implements ports.SADModel
func (m *LogSeriesModel) PMF(n int) (float64, error) {
	lp, err := m.LogPMF(n)
	if err != nil {
		return math.NaN(), err
	}
	return math.Exp(lp), nil
}

// CDF implements ports.SADModel
func (m *LogSeriesModel) CDF(n int) (float64, error) {
	if n < 1 || n > m.n0 {
		return math.NaN(), core.NewDomainError("abundance", n, 1, m.n0)
	}
	return m.table.at(n), nil
}

// Quantile implements ports.SADModel
func (m *LogSeriesModel) Quantile(u float64) int {
	if u <= 0 || math.IsNaN(u) {
		return 1
	}
	return m.table.quantile(u)
}

// RankAbundance implements ports.SADModel
func (m *LogSeriesModel) RankAbundance(rank int) (int, error) {
	return rankAbundance(m, rank)
}

// Predicted implements ports.SADModel
func (m *LogSeriesModel) Predicted() []int {
	return predictedCurve(m)
}

// LogSeriesBuilder solves Fisher's relation N0/S0 = -p / ((1-p) ln(1-p)) for p.
// With u = -ln(1-p) the relation is expm1(u)/u = N0/S0, increasing in u.
type LogSeriesBuilder struct {
	finder        ports.RootFinder
	maxExpansions int
}

// NewLogSeriesBuilder creates a builder using the given root finder
func NewLogSeriesBuilder(finder ports.RootFinder) *LogSeriesBuilder {
	if finder == nil {
		finder = rootfind.NewBrent()
	}
	return &LogSeriesBuilder{finder: finder, maxExpansions: 60}
}

// Name implements ports.ModelBuilder
func (b *LogSeriesBuilder) Name() core.ModelName { return ModelLogSeries }

// DependsOnObserved implements ports.ModelBuilder
func (b *LogSeriesBuilder) DependsOnObserved() bool { return false }

// Build implements ports.ModelBuilder
func (b *LogSeriesBuilder) Build(ctx context.Context, s0, n0 int, observed []int) (ports.SADModel, error) {
	p, err := b.SolveP(s0, n0)
	if err != nil {
		return nil, err
	}
	return NewLogSeriesModel(s0, n0, p), nil
}

// SolveP returns the log-series parameter for (s0, n0)
func (b *LogSeriesBuilder) SolveP(s0, n0 int) (float64, error) {
	if s0 <= 0 || s0 > n0 {
		return 0, core.NewInvalidParametersError(fmt.Sprintf("log-series needs 0 < S0 <= N0, got S0=%d N0=%d", s0, n0))
	}
	if s0 == n0 {
		return 0, nil
	}

	target := float64(n0) / float64(s0)
	f := func(u float64) float64 {
		return math.Expm1(u)/u - target
	}

	lo := 1e-12
	hi := 2*math.Log(target) + 2
	for i := 0; f(hi) < 0; i++ {
		if i >= b.maxExpansions {
			return 0, core.NewConvergenceError("logseries", "no sign change for u")
		}
		hi *= 2
	}
	if f(lo) > 0 {
		// target within rounding of 1
		return -math.Expm1(-lo), nil
	}

	u, err := b.finder.FindRoot(f, lo, hi)
	if err != nil {
		return 0, err
	}
	return -math.Expm1(-u), nil
}
