package sad

import (
	"math"
	"math/big"
)

// excessMeanBig evaluates mean(beta) - 1 of the METE SAD in big.Float arithmetic.
//
// Writing the excess as sum(w_n (n-1)/n) / sum(w_n/n) removes the cancellation
// that mean - 1 suffers in float64 when S0 approaches N0 and nearly all mass sits
// on n = 1.
func excessMeanBig(beta float64, n0 int, bits uint) float64 {
	if math.IsInf(beta, 1) {
		return 0
	}

	newFloat := func() *big.Float { return new(big.Float).SetPrec(bits) }

	num, den := newFloat(), newFloat()
	w := newFloat().SetInt64(1)
	t := newFloat()
	nf := newFloat()
	cutoff := newFloat()

	var x *big.Float
	start, step := 1, 1
	if beta >= 0 {
		x = newFloat().SetFloat64(math.Exp(-beta))
	} else {
		x = newFloat().SetFloat64(math.Exp(beta))
		start, step = n0, -1
	}

	for i, n := 0, start; i < n0; i, n = i+1, n+step {
		nf.SetInt64(int64(n))
		t.Quo(w, nf)
		den.Add(den, t)
		t.Sub(w, t)
		num.Add(num, t)

		w.Mul(w, x)
		if w.Sign() == 0 {
			break
		}
		// remaining terms are bounded by a geometric tail; stop once it cannot move den
		if i%64 == 63 {
			cutoff.SetMantExp(den, -int(bits)-16)
			if w.Cmp(cutoff) < 0 && x.Cmp(big.NewFloat(0.5)) <= 0 {
				break
			}
		}
	}

	if den.Sign() == 0 {
		return math.NaN()
	}
	num.Quo(num, den)
	out, _ := num.Float64()
	return out
}

// meanBig is the full mean in big.Float arithmetic
func meanBig(beta float64, n0 int, bits uint) float64 {
	return 1 + excessMeanBig(beta, n0, bits)
}
