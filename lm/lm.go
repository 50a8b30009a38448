/*Package lm implements a Levenberg-Marquardt solver for nonlinear least squares.

The damping strategy follows Madsen, Nielsen and Tingleff, "Methods for
non-linear least squares problems" (2004), algorithm 3.16.

Jacobians are shaped (parameters x residuals): row i holds the derivative of
every residual with respect to parameter i.  The normal equations are therefore
(J Jᵀ + μI) h = -J f.
*/
package lm

import (
	"log"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
)

// DefaultTau is the default initial damping, relative to the largest diagonal entry of J Jᵀ
const DefaultTau = 1e-3

// Status describes why the solver stopped
type Status int

const (
	// MaxIterations means the iteration budget was used up
	MaxIterations Status = iota

	// SmallGradient means the infinity norm of the gradient fell below Eps1
	SmallGradient

	// SmallStep means the relative step fell below Eps2
	SmallStep
)

func (s Status) String() string {
	switch s {
	case SmallGradient:
		return "small gradient"
	case SmallStep:
		return "small step"
	default:
		return "max iterations"
	}
}

// Problem is a least squares problem.
//
// F returns the residual vector at p.  J returns the Jacobian at p; the solver
// only calls J at a point it has just evaluated F at, so J may reuse work F did.
type Problem struct {
	F func(p []float64) []float64
	J func(p []float64) *mat.Dense
}

// FJ evaluates both residual and Jacobian in one call
type FJ func(p []float64) ([]float64, *mat.Dense)

// Problem adapts a combined residual+Jacobian function to a Problem.
// Both are computed on every evaluation.
func (fj FJ) Problem() Problem {
	var last *mat.Dense
	return Problem{
		F: func(p []float64) []float64 {
			f, J := fj(p)
			last = J
			return f
		},
		J: func(p []float64) *mat.Dense {
			return last
		},
	}
}

// Settings controls termination of the solver
type Settings struct {
	// KMax is the maximum number of iterations
	KMax int

	// Eps1 is the tolerance on the infinity norm of the gradient
	Eps1 float64

	// Eps2 is the tolerance on the step size relative to the parameter norm
	Eps2 float64

	// Tau scales the initial damping.  Zero means DefaultTau
	Tau float64

	// Verbose logs every iteration
	Verbose bool
}

// Result holds the output of a solve
type Result struct {
	// X is the final parameter vector
	X []float64

	// J is the Jacobian at X
	J *mat.Dense

	// F is the residual at X
	F []float64

	// Iterations is the number of iterations performed
	Iterations int

	// Status is the reason the solver stopped
	Status Status

	// Singular counts the steps that needed the least squares fallback
	Singular int
}

// Solve runs Levenberg-Marquardt from x0.  There is no convergence guarantee;
// a result is always returned and callers must sanity check it.
func Solve(prob Problem, x0 []float64, s Settings) Result {
	tau := s.Tau
	if tau == 0 {
		tau = DefaultTau
	}
	n := len(x0)
	x := append([]float64(nil), x0...)
	f := prob.F(x)
	J := prob.J(x)
	A, g := normal(J, f)

	res := Result{Status: MaxIterations}
	cost := 0.5 * floats.Dot(f, f)
	mu := 0.
	for i := 0; i < n; i++ {
		mu = math.Max(mu, A.At(i, i))
	}
	mu *= tau
	nu := 2.

	found := floats.Norm(g, math.Inf(1)) <= s.Eps1
	if found {
		res.Status = SmallGradient
	}
	k := 0
	h := make([]float64, n)
	xnew := make([]float64, n)
	for !found && k < s.KMax {
		k++
		singular := solveDamped(h, A, g, mu)
		if singular {
			res.Singular++
			log.Printf("lm: damped normal equations singular at iteration %d, using least squares\n", k)
		}
		if floats.Norm(h, 2) <= s.Eps2*(floats.Norm(x, 2)+s.Eps2) {
			found = true
			res.Status = SmallStep
			break
		}
		floats.AddTo(xnew, x, h)
		fnew := prob.F(xnew)
		costNew := 0.5 * floats.Dot(fnew, fnew)

		// predicted decrease L(0)-L(h) = hᵀ(μh - g)/2
		pred := 0.
		for i := range h {
			pred += h[i] * (mu*h[i] - g[i])
		}
		pred *= 0.5
		rho := -1.
		if pred > 0 {
			rho = (cost - costNew) / pred
		}
		if s.Verbose {
			log.Printf("lm: k=%d cost=%g new=%g mu=%g rho=%g\n", k, cost, costNew, mu, rho)
		}
		if rho > 0 && !math.IsNaN(costNew) {
			copy(x, xnew)
			f = fnew
			cost = costNew
			J = prob.J(x)
			A, g = normal(J, f)
			if floats.Norm(g, math.Inf(1)) <= s.Eps1 {
				found = true
				res.Status = SmallGradient
			}
			mu *= math.Max(1./3, 1-math.Pow(2*rho-1, 3))
			nu = 2
		} else {
			mu *= nu
			nu *= 2
		}
	}
	res.X = x
	res.J = J
	res.F = f
	res.Iterations = k
	return res
}

// normal forms J Jᵀ and the gradient J f
func normal(J *mat.Dense, f []float64) (*mat.SymDense, []float64) {
	r, _ := J.Dims()
	A := mat.NewSymDense(r, nil)
	A.SymOuterK(1, J)
	g := mat.NewVecDense(r, nil)
	g.MulVec(J, mat.NewVecDense(len(f), f))
	return A, g.RawVector().Data
}

// solveDamped solves (A + μI) h = -g into h.  It reports whether the
// Cholesky factorization failed and a least squares solve was used instead.
func solveDamped(h []float64, A *mat.SymDense, g []float64, mu float64) bool {
	n := A.SymmetricDim()
	D := mat.NewSymDense(n, nil)
	D.CopySym(A)
	for i := 0; i < n; i++ {
		D.SetSym(i, i, D.At(i, i)+mu)
	}
	rhs := mat.NewVecDense(n, nil)
	rhs.ScaleVec(-1, mat.NewVecDense(n, g))
	dst := mat.NewVecDense(n, h)

	var chol mat.Cholesky
	if chol.Factorize(D) {
		if err := chol.SolveVecTo(dst, rhs); err == nil {
			return false
		}
	}
	LeastSquares(dst, D, rhs)
	return true
}

// LeastSquares writes the minimum norm least squares solution of a x = b into dst,
// using a truncated singular value decomposition.  It never fails; rank deficient
// directions are dropped.
func LeastSquares(dst *mat.VecDense, a mat.Matrix, b mat.Vector) {
	var svd mat.SVD
	if !svd.Factorize(a, mat.SVDThin) {
		dst.Zero()
		return
	}
	rank := svd.Rank(1e-15)
	if rank == 0 {
		dst.Zero()
		return
	}
	svd.SolveVecTo(dst, b, rank)
}

// FitParError estimates parameter standard errors from the Jacobian J
// (parameters x residuals) and the residual r at the solution.
//
// errs[i] = sqrt(((J Jᵀ)⁻¹)_ii) · sigma, where sigma is the sample standard
// deviation of the residuals.  A singular J Jᵀ falls back to the pseudo-inverse.
func FitParError(J *mat.Dense, r []float64) (errs []float64, sigma float64) {
	sigma = residualStd(r)
	n, _ := J.Dims()
	A := mat.NewSymDense(n, nil)
	A.SymOuterK(1, J)

	diag := make([]float64, n)
	var chol mat.Cholesky
	inv := mat.NewSymDense(n, nil)
	if chol.Factorize(A) && chol.InverseTo(inv) == nil {
		for i := range diag {
			diag[i] = inv.At(i, i)
		}
	} else {
		log.Println("lm: singular covariance, using pseudo-inverse for parameter errors")
		pinvDiag(diag, A)
	}
	errs = make([]float64, n)
	for i, d := range diag {
		errs[i] = math.Sqrt(math.Abs(d)) * sigma
	}
	return errs, sigma
}

// pinvDiag writes the diagonal of the pseudo-inverse of the symmetric matrix a into dst
func pinvDiag(dst []float64, a *mat.SymDense) {
	var svd mat.SVD
	if !svd.Factorize(a, mat.SVDThin) {
		return
	}
	rank := svd.Rank(1e-15)
	vals := svd.Values(nil)
	var u, v mat.Dense
	svd.UTo(&u)
	svd.VTo(&v)
	for i := range dst {
		sum := 0.
		for k := 0; k < rank; k++ {
			sum += v.At(i, k) * u.At(i, k) / vals[k]
		}
		dst[i] = sum
	}
}

// residualStd is the sample standard deviation of r, zero for fewer than two residuals
func residualStd(r []float64) float64 {
	if len(r) < 2 {
		return 0
	}
	return stat.StdDev(r, nil)
}
