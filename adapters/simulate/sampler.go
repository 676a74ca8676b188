package simulate

import (
	"fmt"
	"math"
	"math/rand"
	"sort"

	"metesad/domain/community"
	"metesad/domain/core"
	"metesad/domain/fit"
	"metesad/ports"

	"gonum.org/v1/gonum/floats"
)

// Sampler draws abundance vectors of exactly S0 species summing exactly to N0
type Sampler interface {
	// Strategy is the primary algorithm; individual draws may report a fallback
	Strategy() fit.SamplerStrategy
	// Sample returns a vector ranked from most to least abundant
	Sample(r *rand.Rand) ([]int, fit.SamplerStrategy, error)
}

// NewSampler picks the exact conditional sampler when S0·N0² fits within
// cfg.ExactBudget, rejection sampling otherwise
func NewSampler(model ports.SADModel, cfg Config) (Sampler, error) {
	s0, n0 := model.S0(), model.N0()
	if s0 <= 0 || s0 > n0 {
		return nil, core.NewInvalidParametersError(fmt.Sprintf("cannot sample S0=%d species from N0=%d", s0, n0))
	}

	prop := &proportionalSampler{model: model, s0: s0, n0: n0}
	if float64(s0)*float64(n0)*float64(n0) <= float64(cfg.ExactBudget) {
		ex, err := newExactSampler(model)
		if err != nil {
			return nil, err
		}
		return ex, nil
	}

	logMax := math.Inf(-1)
	for n := 1; n <= n0; n++ {
		lp, err := model.LogPMF(n)
		if err != nil {
			return nil, err
		}
		logMax = math.Max(logMax, lp)
	}
	return &rejectionSampler{
		model:       model,
		s0:          s0,
		n0:          n0,
		logMax:      logMax,
		maxAttempts: cfg.MaxRejectAttempts,
		fallback:    prop,
	}, nil
}

// exactSampler draws species one at a time from the conditional law given the
// remaining budget R and remaining species k:
//
//	P(n | R, k) = pmf(n) f_{k-1}(R - n) / f_k(R)
//
// where f_k(m) is the probability that k iid draws sum to m. The result is the
// exact law of S0 iid draws conditioned on summing to N0.
type exactSampler struct {
	s0, n0 int
	logPMF []float64   // index n, logPMF[0] = -Inf
	logF   [][]float64 // logF[k][m], k in [0, S0-1], m in [0, N0]
}

func newExactSampler(model ports.SADModel) (*exactSampler, error) {
	s0, n0 := model.S0(), model.N0()
	logPMF := make([]float64, n0+1)
	logPMF[0] = math.Inf(-1)
	for n := 1; n <= n0; n++ {
		lp, err := model.LogPMF(n)
		if err != nil {
			return nil, err
		}
		logPMF[n] = lp
	}

	logF := make([][]float64, s0)
	logF[0] = negInf(n0 + 1)
	logF[0][0] = 0

	terms := make([]float64, 0, n0)
	for k := 1; k < s0; k++ {
		row := negInf(n0 + 1)
		prev := logF[k-1]
		for m := k; m <= n0; m++ {
			terms = terms[:0]
			for n := 1; n <= m-(k-1); n++ {
				if t := logPMF[n] + prev[m-n]; !math.IsInf(t, -1) {
					terms = append(terms, t)
				}
			}
			if len(terms) > 0 {
				row[m] = floats.LogSumExp(terms)
			}
		}
		logF[k] = row
	}

	return &exactSampler{s0: s0, n0: n0, logPMF: logPMF, logF: logF}, nil
}

func negInf(n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = math.Inf(-1)
	}
	return out
}

func (s *exactSampler) Strategy() fit.SamplerStrategy { return fit.SamplerExact }

func (s *exactSampler) Sample(r *rand.Rand) ([]int, fit.SamplerStrategy, error) {
	out := make([]int, 0, s.s0)
	remaining := s.n0
	weights := make([]float64, s.n0+1)

	for k := s.s0; k > 1; k-- {
		hi := remaining - (k - 1)
		rest := s.logF[k-1]

		peak := math.Inf(-1)
		for n := 1; n <= hi; n++ {
			weights[n] = s.logPMF[n] + rest[remaining-n]
			peak = math.Max(peak, weights[n])
		}
		if math.IsInf(peak, -1) {
			return nil, fit.SamplerExact, core.NewDomainError("remaining budget", remaining, k, s.n0)
		}

		total := 0.0
		for n := 1; n <= hi; n++ {
			weights[n] = math.Exp(weights[n] - peak)
			total += weights[n]
		}

		u := r.Float64() * total
		pick := hi
		for n := 1; n <= hi; n++ {
			u -= weights[n]
			if u < 0 {
				pick = n
				break
			}
		}
		// never land on a zero-weight class through rounding at the end of the scan
		for pick > 1 && weights[pick] == 0 {
			pick--
		}

		out = append(out, pick)
		remaining -= pick
	}
	out = append(out, remaining)

	return community.RankDescending(out), fit.SamplerExact, nil
}

// rejectionSampler draws S0-1 species iid by inverse CDF and gives the last
// species the remainder, accepting with probability pmf(last)/max pmf. Accepted
// vectors follow the same conditional law as the exact sampler. After
// maxAttempts rejections a draw falls back to proportional adjustment.
type rejectionSampler struct {
	model       ports.SADModel
	s0, n0      int
	logMax      float64
	maxAttempts int
	fallback    *proportionalSampler
}

func (s *rejectionSampler) Strategy() fit.SamplerStrategy { return fit.SamplerRejection }

func (s *rejectionSampler) Sample(r *rand.Rand) ([]int, fit.SamplerStrategy, error) {
	out := make([]int, s.s0)
	for attempt := 0; attempt < s.maxAttempts; attempt++ {
		sum := 0
		ok := true
		for i := 0; i < s.s0-1; i++ {
			out[i] = s.model.Quantile(r.Float64())
			sum += out[i]
			if sum > s.n0-1 {
				ok = false
				break
			}
		}
		if !ok {
			continue
		}

		last := s.n0 - sum
		lp, err := s.model.LogPMF(last)
		if err != nil {
			return nil, fit.SamplerRejection, err
		}
		if math.Log(r.Float64()) < lp-s.logMax {
			out[s.s0-1] = last
			return community.RankDescending(out), fit.SamplerRejection, nil
		}
	}
	return s.fallback.Sample(r)
}

// proportionalSampler draws S0 species iid and rescales them to N0 with
// largest-remainder rounding, flooring every species at 1. It preserves the
// marginal shape approximately, not exactly.
type proportionalSampler struct {
	model  ports.SADModel
	s0, n0 int
}

func (s *proportionalSampler) Strategy() fit.SamplerStrategy { return fit.SamplerProportional }

func (s *proportionalSampler) Sample(r *rand.Rand) ([]int, fit.SamplerStrategy, error) {
	raw := make([]float64, s.s0)
	for i := range raw {
		raw[i] = float64(s.model.Quantile(r.Float64()))
	}
	return community.RankDescending(Apportion(raw, s.n0)), fit.SamplerProportional, nil
}

// Apportion rescales positive weights to integers >= 1 summing to total using
// largest-remainder rounding. Ties break by position. len(weights) must not exceed total.
func Apportion(weights []float64, total int) []int {
	k := len(weights)
	out := make([]int, k)
	if k == 0 {
		return out
	}

	sum := floats.Sum(weights)
	frac := make([]float64, k)
	assigned := 0
	for i, w := range weights {
		share := float64(total) / float64(k)
		if sum > 0 {
			share = w * float64(total) / sum
		}
		n := int(math.Floor(share))
		frac[i] = share - float64(n)
		if n < 1 {
			n, frac[i] = 1, 0
		}
		out[i] = n
		assigned += n
	}

	order := make([]int, k)
	for i := range order {
		order[i] = i
	}

	if assigned < total {
		sort.SliceStable(order, func(a, b int) bool { return frac[order[a]] > frac[order[b]] })
		for i := 0; assigned < total; i = (i + 1) % k {
			out[order[i]]++
			assigned++
		}
	}

	for assigned > total {
		// take from the largest entry; S0 <= N0 guarantees one exceeds 1
		big := 0
		for i := range out {
			if out[i] > out[big] {
				big = i
			}
		}
		out[big]--
		assigned--
	}
	return out
}
