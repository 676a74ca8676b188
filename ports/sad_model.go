package ports

import (
	"context"

	"metesad/domain/core"
)

// SADModel is a fitted species-abundance distribution over abundance classes 1..N0
type SADModel interface {
	Name() core.ModelName
	// NumParams is the number of free parameters used by AICc
	NumParams() int
	// Params returns the solved parameters in model-specific order
	Params() []float64
	S0() int
	N0() int

	// PMF returns the probability of abundance class n in [1, N0]
	PMF(n int) (float64, error)
	// LogPMF returns log PMF(n); -Inf for zero mass
	LogPMF(n int) (float64, error)
	// CDF returns P(X <= n) for n in [1, N0]
	CDF(n int) (float64, error)
	// Quantile returns the smallest n in [1, N0] with CDF(n) >= u
	Quantile(u float64) int
	// RankAbundance returns the predicted abundance of rank r in [1, S0] (1 = most abundant)
	RankAbundance(rank int) (int, error)
	// Predicted returns the full predicted rank-abundance curve, length S0
	Predicted() []int
}

// ModelBuilder fits a named SAD model to a community's constraints.
// observed is the ranked abundance vector; models that only use (S0, N0) ignore it.
type ModelBuilder interface {
	Name() core.ModelName
	// DependsOnObserved reports whether Build reads observed beyond (S0, N0);
	// models that do not can be reused across communities sharing constraints
	DependsOnObserved() bool
	Build(ctx context.Context, s0, n0 int, observed []int) (SADModel, error)
}
