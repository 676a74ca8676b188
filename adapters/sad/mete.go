package sad

import (
	"context"
	"math"

	"metesad/domain/core"
	"metesad/ports"
)

// ModelMETE is the maximum-entropy SAD: a log-series truncated at N0
const ModelMETE core.ModelName = "mete"

// METEModel is pmf(n) = e^{-beta n} / (n Z) for n in [1, N0]
type METEModel struct {
	solution Solution
	logPMF   []float64 // index n-1
	cdf      []float64 // index n-1, cdf[N0-1] == 1
}

// NewMETEModel tabulates the pmf and cdf for a solved multiplier
func NewMETEModel(sol Solution) *METEModel {
	n0 := sol.N0
	m := &METEModel{
		solution: sol,
		logPMF:   make([]float64, n0),
		cdf:      make([]float64, n0),
	}

	switch {
	case math.IsInf(sol.Beta, 1):
		m.fillPoint(1)
		return m
	case math.IsInf(sol.Beta, -1):
		m.fillPoint(n0)
		return m
	}

	// log weights relative to the heaviest class, normalized by log-sum-exp
	ref := 1
	if sol.Beta < 0 {
		ref = n0
	}
	maxLog := math.Inf(-1)
	for n := 1; n <= n0; n++ {
		lw := -sol.Beta*float64(n-ref) - math.Log(float64(n))
		m.logPMF[n-1] = lw
		if lw > maxLog {
			maxLog = lw
		}
	}
	sum := 0.0
	for _, lw := range m.logPMF {
		sum += math.Exp(lw - maxLog)
	}
	logZ := maxLog + math.Log(sum)

	acc := 0.0
	for i := range m.logPMF {
		m.logPMF[i] -= logZ
		acc += math.Exp(m.logPMF[i])
		m.cdf[i] = acc
	}
	m.cdf[n0-1] = 1
	return m
}

func (m *METEModel) fillPoint(at int) {
	for n := 1; n <= len(m.logPMF); n++ {
		if n == at {
			m.logPMF[n-1] = 0
		} else {
			m.logPMF[n-1] = math.Inf(-1)
		}
		if n >= at {
			m.cdf[n-1] = 1
		}
	}
}

// Name implements ports.SADModel
func (m *METEModel) Name() core.ModelName { return ModelMETE }

// NumParams implements ports.SADModel
func (m *METEModel) NumParams() int { return 1 }

// Params returns [beta]
func (m *METEModel) Params() []float64 { return []float64{m.solution.Beta} }

// Solution returns the solver output this model was built from
func (m *METEModel) Solution() Solution { return m.solution }

// S0 implements ports.SADModel
func (m *METEModel) S0() int { return m.solution.S0 }

// N0 implements ports.SADModel
func (m *METEModel) N0() int { return m.solution.N0 }

// LogPMF implements ports.SADModel
func (m *METEModel) LogPMF(n int) (float64, error) {
	if n < 1 || n > m.solution.N0 {
		return math.NaN(), core.NewDomainError("abundance", n, 1, m.solution.N0)
	}
	return m.logPMF[n-1], nil
}

// PMF implements ports.SADModel
func (m *METEModel) PMF(n int) (float64, error) {
	lp, err := m.LogPMF(n)
	if err != nil {
		return math.NaN(), err
	}
	return math.Exp(lp), nil
}

// CDF implements ports.SADModel
func (m *METEModel) CDF(n int) (float64, error) {
	if n < 1 || n > m.solution.N0 {
		return math.NaN(), core.NewDomainError("abundance", n, 1, m.solution.N0)
	}
	return m.cdf[n-1], nil
}

// Quantile implements ports.SADModel
func (m *METEModel) Quantile(u float64) int {
	return searchCDF(m.cdf, u)
}

// RankAbundance implements ports.SADModel
func (m *METEModel) RankAbundance(rank int) (int, error) {
	return rankAbundance(m, rank)
}

// Predicted implements ports.SADModel
func (m *METEModel) Predicted() []int {
	return predictedCurve(m)
}

// Mean returns the expected abundance per species under the model
func (m *METEModel) Mean() float64 {
	mean := 0.0
	for i, lp := range m.logPMF {
		mean += float64(i+1) * math.Exp(lp)
	}
	return mean
}

// METEBuilder solves the METE constraint for each community
type METEBuilder struct {
	solver *Solver
}

// NewMETEBuilder creates a builder around a solver
func NewMETEBuilder(solver *Solver) *METEBuilder {
	return &METEBuilder{solver: solver}
}

// Name implements ports.ModelBuilder
func (b *METEBuilder) Name() core.ModelName { return ModelMETE }

// DependsOnObserved implements ports.ModelBuilder; METE uses only (S0, N0)
func (b *METEBuilder) DependsOnObserved() bool { return false }

// Build implements ports.ModelBuilder
func (b *METEBuilder) Build(ctx context.Context, s0, n0 int, observed []int) (ports.SADModel, error) {
	sol, err := b.solver.Solve(s0, n0)
	if err != nil {
		return nil, err
	}
	return NewMETEModel(sol), nil
}
