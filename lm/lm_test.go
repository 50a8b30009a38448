package lm_test

import (
	"fmt"
	"math"
	"testing"

	"github.com/coldatoms/siscam/lm"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"
)

func shift(p []float64) ([]float64, *mat.Dense) {
	return []float64{p[0] - 5}, mat.NewDense(1, 1, []float64{1})
}

func ExampleSolve() {
	res := lm.Solve(lm.FJ(shift).Problem(), []float64{0}, lm.Settings{KMax: 10, Eps1: 1e-6, Eps2: 1e-6})
	fmt.Printf("%.4f\n", res.X[0])
	// Output: 5.0000
}

func TestSolveLinearShiftConverges(t *testing.T) {
	res := lm.Solve(lm.FJ(shift).Problem(), []float64{0}, lm.Settings{KMax: 100, Eps1: 1e-10, Eps2: 1e-10})
	assert.InDelta(t, 5, res.X[0], 1e-8)
	assert.Less(t, res.Iterations, 10)
	assert.NotEqual(t, lm.MaxIterations, res.Status)
}

func TestSolveDoesNotMutateStart(t *testing.T) {
	x0 := []float64{0}
	lm.Solve(lm.FJ(shift).Problem(), x0, lm.Settings{KMax: 10, Eps1: 1e-6, Eps2: 1e-6})
	assert.Equal(t, 0., x0[0])
}

// fits y = a exp(-b t)
func expDecay(t, y []float64) lm.Problem {
	return lm.Problem{
		F: func(p []float64) []float64 {
			f := make([]float64, len(t))
			for i := range t {
				f[i] = p[0]*math.Exp(-p[1]*t[i]) - y[i]
			}
			return f
		},
		J: func(p []float64) *mat.Dense {
			J := mat.NewDense(2, len(t), nil)
			for i := range t {
				e := math.Exp(-p[1] * t[i])
				J.Set(0, i, e)
				J.Set(1, i, -p[0]*t[i]*e)
			}
			return J
		},
	}
}

func TestSolveExponential(t *testing.T) {
	ts := make([]float64, 40)
	ys := make([]float64, 40)
	for i := range ts {
		ts[i] = float64(i) / 10
		ys[i] = 3 * math.Exp(-0.7*ts[i])
	}
	res := lm.Solve(expDecay(ts, ys), []float64{1, 0.1}, lm.Settings{KMax: 200, Eps1: 1e-12, Eps2: 1e-12})
	assert.InDelta(t, 3, res.X[0], 1e-6)
	assert.InDelta(t, 0.7, res.X[1], 1e-6)
	require.NotNil(t, res.J)
	r, c := res.J.Dims()
	assert.Equal(t, 2, r)
	assert.Equal(t, 40, c)
}

func TestSolveRankDeficientJacobian(t *testing.T) {
	// the second parameter never enters the residual
	prob := lm.FJ(func(p []float64) ([]float64, *mat.Dense) {
		return []float64{p[0] - 1, p[0] - 1}, mat.NewDense(2, 2, []float64{1, 1, 0, 0})
	}).Problem()
	res := lm.Solve(prob, []float64{0, 2}, lm.Settings{KMax: 50, Eps1: 1e-10, Eps2: 1e-10, Tau: 1e-3})
	assert.InDelta(t, 1, res.X[0], 1e-6)
	assert.InDelta(t, 2, res.X[1], 1e-6)
}

func TestStatusString(t *testing.T) {
	assert.Equal(t, "small gradient", lm.SmallGradient.String())
	assert.Equal(t, "small step", lm.SmallStep.String())
	assert.Equal(t, "max iterations", lm.MaxIterations.String())
}

func TestFitParError(t *testing.T) {
	// straight line through n points, J rows are d/da = 1, d/db = t
	n := 11
	J := mat.NewDense(2, n, nil)
	r := make([]float64, n)
	for i := 0; i < n; i++ {
		J.Set(0, i, 1)
		J.Set(1, i, float64(i))
		if i%2 == 0 {
			r[i] = 0.1
		} else {
			r[i] = -0.1
		}
	}
	errs, sigma := lm.FitParError(J, r)
	require.Len(t, errs, 2)
	assert.Greater(t, sigma, 0.)
	// var(a) for a line fit is sum(t²)/(n sum(t²) - (sum t)²)
	st, st2 := 0., 0.
	for i := 0; i < n; i++ {
		st += float64(i)
		st2 += float64(i * i)
	}
	det := float64(n)*st2 - st*st
	assert.InDelta(t, math.Sqrt(st2/det)*sigma, errs[0], 1e-12)
	assert.InDelta(t, math.Sqrt(float64(n)/det)*sigma, errs[1], 1e-12)
}

func TestFitParErrorSingular(t *testing.T) {
	J := mat.NewDense(2, 3, []float64{1, 1, 1, 0, 0, 0})
	errs, _ := lm.FitParError(J, []float64{1, -1, 0.5})
	require.Len(t, errs, 2)
	for _, e := range errs {
		assert.False(t, math.IsNaN(e))
	}
	assert.Equal(t, 0., errs[1])
}

func TestLeastSquares(t *testing.T) {
	a := mat.NewDense(3, 2, []float64{1, 0, 0, 1, 1, 1})
	b := mat.NewVecDense(3, []float64{1, 2, 3})
	x := mat.NewVecDense(2, nil)
	lm.LeastSquares(x, a, b)
	assert.InDelta(t, 1, x.AtVec(0), 1e-12)
	assert.InDelta(t, 2, x.AtVec(1), 1e-12)
}
