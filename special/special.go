// Package special contains the special functions needed by the Bose enhanced
// density models: the dilogarithm, Spence's function and the Bose function g2.
package special

import "math"

const (
	// pi2over6 is Li2(1) = zeta(2)
	pi2over6 = math.Pi * math.Pi / 6

	// seriesTol terminates the power series of Li2
	seriesTol = 1e-17

	// maxTerms bounds the power series; |x| <= 1/2 needs about 55 terms at double precision
	maxTerms = 200
)

// Li2 is the real dilogarithm Li2(x) = -∫_0^x ln(1-t)/t dt, for x <= 1.
// It returns NaN for x > 1, where Li2 is complex.
//
// Arguments are mapped into [0, 1/2] before summing the power series, using
// Landen's identity Li2(x) = -Li2(x/(x-1)) - ln²(1-x)/2 for x < 0 and Euler's
// reflection Li2(x) = π²/6 - ln(x)ln(1-x) - Li2(1-x) for x > 1/2.  See
// L. Lewin, Polylogarithms and Associated Functions (1981), ch. 1.
func Li2(x float64) float64 {
	switch {
	case math.IsNaN(x) || x > 1:
		return math.NaN()
	case x == 1:
		return pi2over6
	case x == 0:
		return 0
	case x < 0:
		// Landen: Li2(x) + Li2(x/(x-1)) = -ln²(1-x)/2, maps x<0 onto (0,1)
		l := math.Log1p(-x)
		return -Li2(x/(x-1)) - 0.5*l*l
	case x > 0.5:
		// Euler reflection
		return pi2over6 - math.Log(x)*math.Log1p(-x) - li2series(1-x)
	default:
		return li2series(x)
	}
}

// li2series sums x^k/k^2, valid and quickly convergent for |x| <= 1/2
func li2series(x float64) float64 {
	var (
		sum  float64
		term = x
	)
	for k := 1; k < maxTerms; k++ {
		t := term / float64(k*k)
		sum += t
		if math.Abs(t) < seriesTol*math.Abs(sum) {
			break
		}
		term *= x
	}
	return sum
}

// Spence is Spence's function in the convention ∫_1^x ln(t)/(1-t) dt = Li2(1-x),
// defined for x >= 0.  It returns NaN for negative x.
func Spence(x float64) float64 {
	if x < 0 {
		return math.NaN()
	}
	return Li2(1 - x)
}

// G2 is the Bose function g2(x) = Spence(1-x).  For the values 0 <= x <= 1
// produced by a Gaussian it is the occupation-number corrected density.
func G2(x float64) float64 {
	return Spence(1 - x)
}

// DG2 is the derivative of G2, -ln(1-x)/x.  The removable singularity at
// x <= 0 is defined as 1 and the log singularity at x == 1 as 0.
func DG2(x float64) float64 {
	if x <= 0 {
		return 1
	}
	if x == 1 {
		return 0
	}
	return -math.Log1p(-x) / x
}

// G2Slice evaluates G2 elementwise into dst, which must be at least len(x).
// dst may alias x.
func G2Slice(dst, x []float64) {
	for i, v := range x {
		dst[i] = G2(v)
	}
}

// DG2Slice evaluates DG2 elementwise into dst, which must be at least len(x).
// dst may alias x.
func DG2Slice(dst, x []float64) {
	for i, v := range x {
		dst[i] = DG2(v)
	}
}
