package fitting

import (
	"errors"
	"log"
	"math"

	"github.com/coldatoms/siscam/lm"
	"github.com/coldatoms/siscam/peaks"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

const (
	// smoothHalf is the half width, in samples, of the profile smoothing kernel
	smoothHalf = 20

	// smoothWidth is the 1/e width of the smoothing kernel
	smoothWidth = smoothHalf / 2

	// minProfile is the shortest profile a start guess is attempted on
	minProfile = 2*smoothHalf + 1 + 3

	// fallbackWidth is used when the half maximum points cannot be found
	fallbackWidth = 50
)

var (
	// ErrShortProfile is generated when a profile is too short to smooth
	ErrShortProfile = errors.New("profile too short for start parameter estimate")

	// fallbackStart is the generic [A, m, s, offset] used when estimation fails
	fallbackStart = [4]float64{1, 100, 10, 0}

	settings1D = lm.Settings{KMax: 30, Eps1: 1e-6, Eps2: 1e-6}
)

// StartGauss1D estimates [amplitude, center, width, offset] of a Gaussian in
// the profile prof sampled at x.  The profile is smoothed, the peak and half
// maximum points located, and the estimate refined by a 1D fit to the raw profile.
// The returned width is never negative.
func StartGauss1D(x, prof []float64) ([4]float64, error) {
	if len(prof) < minProfile || len(x) != len(prof) {
		return [4]float64{}, ErrShortProfile
	}
	sm, err := peaks.SmoothValid(prof, peaks.Kernel(smoothHalf, smoothWidth))
	if err != nil {
		return [4]float64{}, err
	}
	xs := x[smoothHalf : len(x)-smoothHalf]

	peakVal, peakPos, err := peaks.Pick(sm, 1, peaks.DefaultSeparation)
	if err != nil {
		return [4]float64{}, err
	}
	off := floats.Min(sm)

	half := (peakVal[0] + off) / 2
	dev := make([]float64, len(sm))
	for i, v := range sm {
		dev[i] = -math.Abs(v - half)
	}
	width := float64(fallbackWidth)
	_, halfPos, err := peaks.Pick(dev, 2, peaks.DefaultSeparation)
	if err != nil || halfPos[0] < 0 || halfPos[1] < 0 {
		log.Printf("fitting: cannot locate half maximum of profile, using width %d\n", fallbackWidth)
	} else {
		width = math.Abs(xs[halfPos[1]] - xs[halfPos[0]])
	}

	m := 0.5 * (x[0] + x[len(x)-1])
	if peakPos[0] >= 0 {
		m = xs[peakPos[0]]
	}
	start := []float64{peakVal[0] - off, m, width, off}
	res := lm.Solve(gauss1DProblem(x, prof), start, settings1D)
	var out [4]float64
	copy(out[:], res.X)
	// the model is even in the width
	out[2] = math.Abs(out[2])
	return out, nil
}

// startOrFallback is StartGauss1D with the generic fallback on failure
func startOrFallback(x, prof []float64, axis string) [4]float64 {
	p, err := StartGauss1D(x, prof)
	if err != nil {
		log.Printf("fitting: cannot estimate start parameters along %s, using defaults: %v\n", axis, err)
		return fallbackStart
	}
	return p
}

// profileStarts estimates the 1D Gaussian start parameters along both axes
func profileStarts(g *Grid) (px, py [4]float64) {
	return startOrFallback(g.Xs, g.ProfX, "x"), startOrFallback(g.Ys, g.ProfY, "y")
}

// gauss1DProblem is A exp(-(x-m)²/2s²) + offset - prof for p = [A, m, s, offset]
func gauss1DProblem(x, prof []float64) lm.Problem {
	n := len(x)
	var e memo
	eval := func(p []float64) []float64 {
		if v, ok := e.get(p); ok {
			return v[0]
		}
		g := make([]float64, n)
		m, s := p[1], p[2]
		for i, xi := range x {
			d := xi - m
			g[i] = math.Exp(-d * d / (2 * s * s))
		}
		e.put(p, g)
		return g
	}
	return lm.Problem{
		F: func(p []float64) []float64 {
			g := eval(p)
			f := make([]float64, n)
			for i := range f {
				f[i] = p[0]*g[i] + p[3] - prof[i]
			}
			return f
		},
		J: func(p []float64) *mat.Dense {
			g := eval(p)
			A, m, s := p[0], p[1], p[2]
			J := mat.NewDense(4, n, nil)
			for i, xi := range x {
				d := xi - m
				f := A * g[i]
				J.Set(0, i, g[i])
				J.Set(1, i, f*d/(s*s))
				J.Set(2, i, f*d*d/(s*s*s))
				J.Set(3, i, 1)
			}
			return J
		},
	}
}
