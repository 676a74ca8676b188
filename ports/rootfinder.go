package ports

// RootFinder locates a zero of a continuous function on a bracketing interval
type RootFinder interface {
	// FindRoot returns x in [lo, hi] with f(x) ~ 0. f(lo) and f(hi) must differ in sign.
	FindRoot(f func(float64) float64, lo, hi float64) (float64, error)
}
