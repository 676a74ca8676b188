package rootfind

import (
	"fmt"
	"math"

	"metesad/domain/core"
)

// Brent finds roots by Brent's method: inverse quadratic interpolation with
// secant and bisection safeguards. It implements ports.RootFinder.
type Brent struct {
	Tolerance float64 // Absolute tolerance on x
	MaxIter   int
}

// NewBrent creates a Brent root finder with default settings
func NewBrent() *Brent {
	return &Brent{Tolerance: 1e-12, MaxIter: 200}
}

// FindRoot returns x in [lo, hi] with f(x) ~ 0
func (b *Brent) FindRoot(f func(float64) float64, lo, hi float64) (float64, error) {
	fa, fb := f(lo), f(hi)
	if math.IsNaN(fa) || math.IsNaN(fb) {
		return math.NaN(), core.NewConvergenceError("brent", "function is NaN at bracket endpoint")
	}
	if fa == 0 {
		return lo, nil
	}
	if fb == 0 {
		return hi, nil
	}
	if (fa > 0) == (fb > 0) {
		return math.NaN(), core.NewConvergenceError("brent",
			fmt.Sprintf("root not bracketed: f(%g)=%g, f(%g)=%g", lo, fa, hi, fb))
	}

	a, bb := lo, hi
	c, fc := a, fa
	d := bb - a
	e := d

	for iter := 0; iter < b.MaxIter; iter++ {
		if (fb > 0) == (fc > 0) {
			c, fc = a, fa
			d = bb - a
			e = d
		}
		if math.Abs(fc) < math.Abs(fb) {
			a, bb, c = bb, c, bb
			fa, fb, fc = fb, fc, fb
		}

		tol := 2*math.SmallestNonzeroFloat64 + 0.5*b.Tolerance + 4e-16*math.Abs(bb)
		m := 0.5 * (c - bb)
		if math.Abs(m) <= tol || fb == 0 {
			return bb, nil
		}

		if math.Abs(e) >= tol && math.Abs(fa) > math.Abs(fb) {
			// interpolate
			s := fb / fa
			var p, q float64
			if a == c {
				p = 2 * m * s
				q = 1 - s
			} else {
				q = fa / fc
				r := fb / fc
				p = s * (2*m*q*(q-r) - (bb-a)*(r-1))
				q = (q - 1) * (r - 1) * (s - 1)
			}
			if p > 0 {
				q = -q
			} else {
				p = -p
			}
			if 2*p < math.Min(3*m*q-math.Abs(tol*q), math.Abs(e*q)) {
				e = d
				d = p / q
			} else {
				d = m
				e = m
			}
		} else {
			d = m
			e = m
		}

		a, fa = bb, fb
		if math.Abs(d) > tol {
			bb += d
		} else if m > 0 {
			bb += tol
		} else {
			bb -= tol
		}
		fb = f(bb)
		if math.IsNaN(fb) {
			return math.NaN(), core.NewConvergenceError("brent", fmt.Sprintf("function is NaN at %g", bb))
		}
	}

	return math.NaN(), core.NewConvergenceError("brent", fmt.Sprintf("no convergence after %d iterations", b.MaxIter))
}
