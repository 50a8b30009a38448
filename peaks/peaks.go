// Package peaks finds local maxima in sampled profiles and provides the
// Gaussian smoothing used ahead of peak search.
package peaks

import (
	"errors"
	"math"

	"gonum.org/v1/gonum/floats"
)

// DefaultSeparation is the minimum spacing, in samples, between two picked peaks
const DefaultSeparation = 5

var (
	// ErrNoPeaks is generated when a sequence holds no finite local maximum
	ErrNoPeaks = errors.New("no finite peaks in sequence")

	// ErrTooShort is generated when a profile is shorter than the smoothing kernel
	ErrTooShort = errors.New("profile shorter than smoothing kernel")
)

// Pick returns the npicks largest local maxima of x, in descending order of value.
// A sample is a local maximum where the forward difference changes from >= 0 to <= 0;
// the sequence is padded with min(x)-1 on both ends so the end points qualify.
//
// Peaks within rdiff samples of an already picked peak are skipped.  When fewer
// peaks qualify than requested, the remaining values are NaN and positions -1.
// ErrNoPeaks is returned only if x has no finite peak at all.
func Pick(x []float64, npicks, rdiff int) (vals []float64, locs []int, err error) {
	vals = make([]float64, npicks)
	locs = make([]int, npicks)
	for i := range vals {
		vals[i] = math.NaN()
		locs[i] = -1
	}

	rmin := nanMin(x)
	if math.IsNaN(rmin) {
		return vals, locs, ErrNoPeaks
	}
	rmin--

	n := len(x)
	at := func(i int) float64 {
		if i < 0 || i >= n {
			return rmin
		}
		return x[i]
	}
	var pos []int
	for i := 0; i < n; i++ {
		up := x[i] - at(i-1)
		down := at(i+1) - x[i]
		if up >= 0 && down <= 0 {
			pos = append(pos, i)
		}
	}

	for k := 0; k < npicks; k++ {
		best := -1
		for j, p := range pos {
			if math.IsNaN(x[p]) {
				continue
			}
			if best == -1 || x[p] > x[pos[best]] {
				best = j
			}
		}
		if best == -1 {
			if k == 0 {
				return vals, locs, ErrNoPeaks
			}
			break
		}
		peak := pos[best]
		vals[k] = x[peak]
		locs[k] = peak

		kept := pos[:0]
		for _, p := range pos {
			if abs(p-peak) > rdiff {
				kept = append(kept, p)
			}
		}
		pos = kept
	}
	return vals, locs, nil
}

// Kernel returns a normalized Gaussian exp(-i²/w²) sampled on -half..half
func Kernel(half int, w float64) []float64 {
	k := make([]float64, 2*half+1)
	for i := range k {
		d := float64(i - half)
		k[i] = math.Exp(-d * d / (w * w))
	}
	floats.Scale(1/floats.Sum(k), k)
	return k
}

// SmoothValid convolves prof with the symmetric kernel k, keeping only the samples
// where the kernel fully overlaps the profile.  The result is len(k)-1 samples
// shorter than prof and out[i] is centered on prof[i+len(k)/2].
func SmoothValid(prof, k []float64) ([]float64, error) {
	n := len(prof) - len(k) + 1
	if n < 1 {
		return nil, ErrTooShort
	}
	out := make([]float64, n)
	for i := range out {
		out[i] = floats.Dot(prof[i:i+len(k)], k)
	}
	return out, nil
}

func nanMin(x []float64) float64 {
	m := math.NaN()
	for _, v := range x {
		if math.IsNaN(v) {
			continue
		}
		if math.IsNaN(m) || v < m {
			m = v
		}
	}
	return m
}

func abs(i int) int {
	if i < 0 {
		return -i
	}
	return i
}
