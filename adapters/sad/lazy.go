package sad

import (
	"math"
	"sort"
	"sync"
)

// lazyCDF accumulates a cumulative table on demand, up to limit.
// Models whose pmf has no closed-form normalizer share it across goroutines.
type lazyCDF struct {
	mu     sync.Mutex
	limit  int
	logPMF func(n int) float64
	cdf    []float64
}

func newLazyCDF(limit int, logPMF func(n int) float64) *lazyCDF {
	return &lazyCDF{limit: limit, logPMF: logPMF}
}

// extendLocked grows the table to cover n
func (l *lazyCDF) extendLocked(n int) {
	if n > l.limit {
		n = l.limit
	}
	for k := len(l.cdf) + 1; k <= n; k++ {
		prev := 0.0
		if k > 1 {
			prev = l.cdf[k-2]
		}
		l.cdf = append(l.cdf, prev+math.Exp(l.logPMF(k)))
	}
}

// at returns P(X <= n)
func (l *lazyCDF) at(n int) float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.extendLocked(n)
	return l.cdf[n-1]
}

// quantile returns the smallest n <= limit with P(X <= n) >= u, or limit
func (l *lazyCDF) quantile(u float64) int {
	l.mu.Lock()
	defer l.mu.Unlock()

	if len(l.cdf) > 0 && l.cdf[len(l.cdf)-1] >= u {
		return sort.SearchFloat64s(l.cdf, u) + 1
	}
	chunk := 64
	for len(l.cdf) < l.limit {
		l.extendLocked(len(l.cdf) + chunk)
		if l.cdf[len(l.cdf)-1] >= u {
			return sort.SearchFloat64s(l.cdf, u) + 1
		}
		chunk *= 2
	}
	return l.limit
}
