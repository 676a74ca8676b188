package density

import (
	"image/color"
	"math"
	"sort"
)

// Ramp is a piecewise-linear colour scale over [0, 1]
type Ramp []color.RGBA

// DefaultRamp runs blue through cyan and yellow to red
var DefaultRamp = Ramp{
	{R: 0x2c, G: 0x3e, B: 0xc8, A: 0xff},
	{R: 0x1f, G: 0xb4, B: 0xd6, A: 0xff},
	{R: 0xf5, G: 0xd3, B: 0x2a, A: 0xff},
	{R: 0xd7, G: 0x26, B: 0x1e, A: 0xff},
}

// At interpolates the ramp; t is clamped to [0, 1]
func (r Ramp) At(t float64) color.RGBA {
	if len(r) == 0 {
		return color.RGBA{A: 0xff}
	}
	if math.IsNaN(t) || t <= 0 {
		return r[0]
	}
	if t >= 1 || len(r) == 1 {
		return r[len(r)-1]
	}

	pos := t * float64(len(r)-1)
	i := int(pos)
	f := pos - float64(i)
	a, b := r[i], r[i+1]
	lerp := func(x, y uint8) uint8 {
		return uint8(math.Round(float64(x) + f*(float64(y)-float64(x))))
	}
	return color.RGBA{R: lerp(a.R, b.R), G: lerp(a.G, b.G), B: lerp(a.B, b.B), A: lerp(a.A, b.A)}
}

// PercentileRanks maps each density to its mid-rank percentile in [0, 1].
// Equal densities share a rank.
func PercentileRanks(density []float64) []float64 {
	n := len(density)
	out := make([]float64, n)
	if n <= 1 {
		return out
	}

	order := make([]int, n)
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool { return density[order[a]] < density[order[b]] })

	for lo := 0; lo < n; {
		hi := lo
		for hi+1 < n && density[order[hi+1]] == density[order[lo]] {
			hi++
		}
		rank := float64(lo+hi) / 2 / float64(n-1)
		for k := lo; k <= hi; k++ {
			out[order[k]] = rank
		}
		lo = hi + 1
	}
	return out
}

// Colors maps densities by percentile rank onto the ramp
func (r Ramp) Colors(density []float64) []color.RGBA {
	ranks := PercentileRanks(density)
	out := make([]color.RGBA, len(ranks))
	for i, t := range ranks {
		out[i] = r.At(t)
	}
	return out
}

// Order returns point indices from lowest to highest density, so the densest
// points are drawn last
func Order(density []float64) []int {
	order := make([]int, len(density))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool { return density[order[a]] < density[order[b]] })
	return order
}
