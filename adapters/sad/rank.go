package sad

import (
	"math"
	"sort"

	"metesad/domain/core"
	"metesad/ports"
)

// searchCDF returns the smallest n (1-based) with cdf[n-1] >= u, clamped to the table
func searchCDF(cdf []float64, u float64) int {
	if len(cdf) == 0 {
		return 1
	}
	if math.IsNaN(u) || u <= 0 {
		return 1
	}
	i := sort.SearchFloat64s(cdf, u)
	if i >= len(cdf) {
		i = len(cdf) - 1
	}
	return i + 1
}

// rankQuantile is the plotting position of rank r among s0 species, most abundant first
func rankQuantile(rank, s0 int) float64 {
	return (float64(s0-rank) + 0.5) / float64(s0)
}

// rankAbundance inverts the model CDF at the rank's plotting position
func rankAbundance(m ports.SADModel, rank int) (int, error) {
	if rank < 1 || rank > m.S0() {
		return 0, core.NewDomainError("rank", rank, 1, m.S0())
	}
	return m.Quantile(rankQuantile(rank, m.S0())), nil
}

// predictedCurve evaluates rankAbundance for ranks 1..S0
func predictedCurve(m ports.SADModel) []int {
	s0 := m.S0()
	out := make([]int, s0)
	for r := 1; r <= s0; r++ {
		out[r-1] = m.Quantile(rankQuantile(r, s0))
	}
	return out
}
