package peaks_test

import (
	"fmt"
	"math"
	"math/rand"
	"testing"

	"github.com/coldatoms/siscam/peaks"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ExamplePick() {
	vals, locs, _ := peaks.Pick([]float64{0, 3, 0, 0, 0, 0, 0, 0, 5, 1}, 2, 5)
	fmt.Println(vals, locs)
	// Output: [5 3] [8 1]
}

func TestPickFindsBoundaryPeaks(t *testing.T) {
	vals, locs, err := peaks.Pick([]float64{9, 1, 0, 1, 8}, 2, 1)
	require.NoError(t, err)
	assert.Equal(t, []float64{9, 8}, vals)
	assert.Equal(t, []int{0, 4}, locs)
}

func TestPickFillsMissingWithNaN(t *testing.T) {
	vals, locs, err := peaks.Pick([]float64{0, 1, 2, 1, 0}, 3, 5)
	require.NoError(t, err)
	assert.Equal(t, 2., vals[0])
	assert.Equal(t, 2, locs[0])
	assert.True(t, math.IsNaN(vals[1]))
	assert.True(t, math.IsNaN(vals[2]))
	assert.Equal(t, -1, locs[1])
}

func TestPickFlatSequence(t *testing.T) {
	vals, locs, err := peaks.Pick([]float64{2, 2, 2, 2}, 1, 5)
	require.NoError(t, err)
	assert.Equal(t, 2., vals[0])
	assert.Equal(t, 0, locs[0])
}

func TestPickAllNaN(t *testing.T) {
	_, _, err := peaks.Pick([]float64{math.NaN(), math.NaN()}, 1, 5)
	assert.ErrorIs(t, err, peaks.ErrNoPeaks)
	_, _, err = peaks.Pick(nil, 1, 5)
	assert.ErrorIs(t, err, peaks.ErrNoPeaks)
}

func TestPickSkipsNaNNeighbours(t *testing.T) {
	vals, locs, err := peaks.Pick([]float64{0, math.NaN(), 4, 0, 0, 0, 0, 0, 0, 3, 0}, 2, 2)
	require.NoError(t, err)
	assert.Equal(t, []float64{3, 0}, vals)
	assert.Equal(t, []int{9, 4}, locs)
}

func TestPickSeparationProperty(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	for trial := 0; trial < 50; trial++ {
		x := make([]float64, 10+rng.Intn(200))
		for i := range x {
			x[i] = rng.NormFloat64()
		}
		npicks := 1 + rng.Intn(6)
		rdiff := rng.Intn(8)
		vals, locs, err := peaks.Pick(x, npicks, rdiff)
		require.NoError(t, err)
		require.Len(t, vals, npicks)
		require.Len(t, locs, npicks)
		for i := 0; i < npicks; i++ {
			for j := i + 1; j < npicks; j++ {
				if math.IsNaN(vals[i]) || math.IsNaN(vals[j]) {
					continue
				}
				d := locs[i] - locs[j]
				if d < 0 {
					d = -d
				}
				assert.Greater(t, d, rdiff)
			}
			if i > 0 && !math.IsNaN(vals[i]) {
				assert.LessOrEqual(t, vals[i], vals[i-1])
			}
		}
	}
}

func TestKernelNormalized(t *testing.T) {
	k := peaks.Kernel(20, 10)
	require.Len(t, k, 41)
	sum := 0.
	for _, v := range k {
		sum += v
	}
	assert.InDelta(t, 1, sum, 1e-12)
	assert.Equal(t, k[0], k[40])
}

func TestSmoothValid(t *testing.T) {
	prof := []float64{1, 2, 3, 4, 5}
	out, err := peaks.SmoothValid(prof, []float64{1. / 3, 1. / 3, 1. / 3})
	require.NoError(t, err)
	assert.InDeltaSlice(t, []float64{2, 3, 4}, out, 1e-12)

	_, err = peaks.SmoothValid(prof[:2], []float64{1, 1, 1})
	assert.ErrorIs(t, err, peaks.ErrTooShort)
}
