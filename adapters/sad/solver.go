package sad

import (
	"fmt"
	"math"

	"metesad/adapters/rootfind"
	"metesad/domain/core"
	"metesad/ports"
)

// EvaluationPath records which arithmetic produced a solution
type EvaluationPath string

const (
	PathFloat64    EvaluationPath = "float64"
	PathBigFloat   EvaluationPath = "bigfloat"
	PathDegenerate EvaluationPath = "degenerate"
)

// SolverConfig controls bracketing and precision selection
type SolverConfig struct {
	// PrecisionRatio is the S0/N0 ratio at or above which the big.Float path is used directly
	PrecisionRatio float64
	// PrecisionThreshold is the a-priori relative error of the float64 sums above which
	// the big.Float path is used
	PrecisionThreshold float64
	// PrecisionBits is the big.Float mantissa size
	PrecisionBits uint
	// MaxBracketExpansions bounds the geometric search for a sign change
	MaxBracketExpansions int
}

// DefaultSolverConfig returns sensible defaults
func DefaultSolverConfig() SolverConfig {
	return SolverConfig{
		PrecisionRatio:       0.9,
		PrecisionThreshold:   1e-8,
		PrecisionBits:        256,
		MaxBracketExpansions: 60,
	}
}

// Solution is the Lagrange multiplier of the METE SAD for (S0, N0).
// Beta is +Inf when S0 == N0 (all mass at n=1) and -Inf when S0 == 1 < N0
// (all mass at n=N0).
type Solution struct {
	S0       int
	N0       int
	Beta     float64
	Path     EvaluationPath
	Residual float64 // mean(beta) - N0/S0 evaluated on the chosen path
}

// Solver finds beta such that the distribution e^{-beta n}/n on 1..N0 has mean N0/S0
type Solver struct {
	finder ports.RootFinder
	config SolverConfig
}

// NewSolver creates a solver using the given root finder
func NewSolver(finder ports.RootFinder, config SolverConfig) *Solver {
	if finder == nil {
		finder = &rootfind.Brent{Tolerance: 1e-16, MaxIter: 500}
	}
	return &Solver{finder: finder, config: config}
}

// NewDefaultSolver creates a solver with a Brent root finder and default config
func NewDefaultSolver() *Solver {
	return NewSolver(nil, DefaultSolverConfig())
}

// Config returns the solver configuration
func (s *Solver) Config() SolverConfig {
	return s.config
}

// Solve returns the multiplier for (s0, n0)
func (s *Solver) Solve(s0, n0 int) (Solution, error) {
	if s0 <= 0 {
		return Solution{}, core.NewInvalidParametersError(fmt.Sprintf("S0=%d must be positive", s0))
	}
	if s0 > n0 {
		return Solution{}, core.NewInvalidParametersError(fmt.Sprintf("S0=%d exceeds N0=%d", s0, n0))
	}

	if s0 == n0 {
		return Solution{S0: s0, N0: n0, Beta: math.Inf(1), Path: PathDegenerate}, nil
	}
	if s0 == 1 {
		return Solution{S0: s0, N0: n0, Beta: math.Inf(-1), Path: PathDegenerate}, nil
	}

	if s.usePrecisionPath(s0, n0) {
		return s.solvePrecise(s0, n0)
	}

	sol, err := s.solveFast(s0, n0)
	if err != nil {
		// float64 sums could not bracket or converge; retry in big.Float before surfacing
		return s.solvePrecise(s0, n0)
	}
	return sol, nil
}

// usePrecisionPath selects big.Float evaluation near the S0 -> N0 pole or when the
// accumulated float64 error of an N0-term sum is large relative to the mean gap (N0-S0)/S0
func (s *Solver) usePrecisionPath(s0, n0 int) bool {
	if float64(s0)/float64(n0) >= s.config.PrecisionRatio {
		return true
	}
	gap := float64(n0-s0) / float64(s0)
	estimate := float64(n0) * epsilon / gap
	return estimate > s.config.PrecisionThreshold
}

const epsilon = 0x1p-52

func (s *Solver) solveFast(s0, n0 int) (Solution, error) {
	target := float64(n0) / float64(s0)
	f := func(beta float64) float64 {
		return meanFloat(beta, n0) - target
	}

	lo, hi, err := s.bracket(f)
	if err != nil {
		return Solution{}, err
	}
	beta, err := s.finder.FindRoot(f, lo, hi)
	if err != nil {
		return Solution{}, err
	}
	return Solution{S0: s0, N0: n0, Beta: beta, Path: PathFloat64, Residual: f(beta)}, nil
}

func (s *Solver) solvePrecise(s0, n0 int) (Solution, error) {
	gap := float64(n0-s0) / float64(s0)
	bits := s.config.PrecisionBits
	f := func(beta float64) float64 {
		return excessMeanBig(beta, n0, bits) - gap
	}

	lo, hi, err := s.bracket(f)
	if err != nil {
		return Solution{}, err
	}
	beta, err := s.finder.FindRoot(f, lo, hi)
	if err != nil {
		return Solution{}, err
	}
	return Solution{S0: s0, N0: n0, Beta: beta, Path: PathBigFloat, Residual: f(beta)}, nil
}

// bracket finds [lo, hi] with f(lo) > 0 > f(hi); f is decreasing in beta.
// The root is positive when S0 > H(N0) and negative otherwise.
func (s *Solver) bracket(f func(float64) float64) (float64, float64, error) {
	f0 := f(0)
	if math.IsNaN(f0) {
		return 0, 0, core.NewConvergenceError("bracket", "constraint is NaN at beta=0")
	}
	if f0 == 0 {
		return 0, 0, nil
	}

	if f0 > 0 {
		hi := 1.0
		for i := 0; i < s.config.MaxBracketExpansions; i++ {
			if v := f(hi); v < 0 {
				return 0, hi, nil
			} else if math.IsNaN(v) {
				break
			}
			hi *= 2
		}
		return 0, 0, core.NewConvergenceError("bracket", "no sign change for positive beta")
	}

	lo := -1.0
	for i := 0; i < s.config.MaxBracketExpansions; i++ {
		if v := f(lo); v > 0 {
			return lo, 0, nil
		} else if math.IsNaN(v) {
			break
		}
		lo *= 2
	}
	return 0, 0, core.NewConvergenceError("bracket", "no sign change for negative beta")
}

// meanFloat evaluates sum(n w_n)/sum(n w_n / n) for w_n = e^{-beta n}/n using float64 arithmetic.
// Terms are scaled by the largest weight so neither sum overflows.
func meanFloat(beta float64, n0 int) float64 {
	var num, den float64
	if beta >= 0 {
		x := math.Exp(-beta)
		w := 1.0
		for n := 1; n <= n0; n++ {
			num += w
			den += w / float64(n)
			w *= x
			if w == 0 {
				break
			}
		}
	} else {
		x := math.Exp(beta)
		w := 1.0
		for n := n0; n >= 1; n-- {
			num += w
			den += w / float64(n)
			w *= x
			if w == 0 {
				break
			}
		}
	}
	return num / den
}
