package fitting

import (
	"log"

	"github.com/coldatoms/siscam/lm"

	"gonum.org/v1/gonum/mat"
)

// settingsReduced are the solver settings of the variable projection fits
var settingsReduced = lm.Settings{KMax: 30, Eps1: 1e-5, Eps2: 5e-5, Tau: 1e-3}

// basis evaluates the k linear basis functions of a separable model at the
// points (x[i], y[i]) for nonlinear parameters p.  F is k x n.  When deriv is
// set, Fd[j] is the derivative of F with respect to p[j]; only its rows listed
// in nonzero[j] may be nonzero.
type basis interface {
	eval(p, x, y []float64, deriv bool) (F *mat.Dense, Fd []*mat.Dense)
	nonzero() [][]int
}

// reduced is the variable projection of a separable least squares problem.
// The linear coefficients c minimize |cᵀF - v|² for the current nonlinear
// parameters; the solver only sees the nonlinear ones.
type reduced struct {
	b basis
	x []float64
	y []float64
	v []float64

	// project forces negative coefficients to zero, see projectNonNegative
	project bool

	last    memo
	lastF   *mat.Dense
	lastFd  []*mat.Dense
	lastC   []float64
	lastFtF *mat.SymDense
}

// state evaluates the basis at p and solves for the coefficients, reusing the
// previous evaluation if p has not changed
func (r *reduced) state(p []float64) (F *mat.Dense, Fd []*mat.Dense, c []float64, FtF *mat.SymDense) {
	if _, ok := r.last.get(p); ok {
		return r.lastF, r.lastFd, r.lastC, r.lastFtF
	}
	F, Fd = r.b.eval(p, r.x, r.y, true)
	FtF = gram(F)
	c = solveLinear(F, FtF, r.v)
	if r.project {
		c = projectNonNegative(F, r.v, c)
	}
	r.last.put(p)
	r.lastF, r.lastFd, r.lastC, r.lastFtF = F, Fd, c, FtF
	return F, Fd, c, FtF
}

// residual is cᵀF - v at p, along with c and F
func (r *reduced) residual(p []float64) (res, c []float64, F *mat.Dense) {
	F, _, c, _ = r.state(p)
	res = combine(F, c)
	for i := range res {
		res[i] -= r.v[i]
	}
	return res, c, F
}

// jacobian is the exact derivative of the reduced residual with respect to
// the nonlinear parameters, including the change of the coefficients
func (r *reduced) jacobian(p []float64) *mat.Dense {
	F, Fd, c, FtF := r.state(p)
	res, _, _ := r.residual(p)
	k, n := F.Dims()
	nz := r.b.nonzero()
	Jr := mat.NewDense(len(p), n, nil)

	var chol mat.Cholesky
	ok := chol.Factorize(FtF)

	resV := mat.NewVecDense(n, res)
	cFdj := mat.NewVecDense(n, nil)
	tmp := mat.NewVecDense(n, nil)
	rm := mat.NewVecDense(k, nil)
	Frm := mat.NewVecDense(k, nil)
	cd := mat.NewVecDense(k, nil)
	for j := range p {
		cFdj.Zero()
		rm.Zero()
		for _, i := range nz[j] {
			row := Fd[j].RowView(i)
			cFdj.AddScaledVec(cFdj, c[i], row)
			rm.SetVec(i, -mat.Dot(row, resV))
		}
		Frm.MulVec(F, cFdj)
		rm.SubVec(rm, Frm)

		solved := ok && chol.SolveVecTo(cd, rm) == nil
		if !solved {
			log.Println("fitting: singular matrix in reduced Jacobian, using least squares")
			lm.LeastSquares(cd, F.T(), cFdj)
			cd.ScaleVec(-1, cd)
		}
		tmp.MulVec(F.T(), cd)
		tmp.AddVec(tmp, cFdj)
		Jr.SetRow(j, tmp.RawVector().Data)
	}
	return Jr
}

func (r *reduced) problem() lm.Problem {
	return lm.Problem{
		F: func(p []float64) []float64 {
			res, _, _ := r.residual(p)
			return res
		},
		J: r.jacobian,
	}
}

// fit solves the reduced problem from p0 and returns the nonlinear parameters,
// the coefficients, and standard errors of the coefficients followed by the
// nonlinear parameters
func (r *reduced) fit(p0 []float64) (p, c, errs []float64, sigma float64) {
	sol := lm.Solve(r.problem(), p0, settingsReduced)
	p = sol.X
	res, c, F := r.residual(p)

	k, n := F.Dims()
	full := mat.NewDense(k+len(p), n, nil)
	full.Slice(0, k, 0, n).(*mat.Dense).Copy(F)
	full.Slice(k, k+len(p), 0, n).(*mat.Dense).Copy(sol.J)
	errs, sigma = lm.FitParError(full, res)
	return p, c, errs, sigma
}

// gram is F Fᵀ
func gram(F *mat.Dense) *mat.SymDense {
	k, _ := F.Dims()
	s := mat.NewSymDense(k, nil)
	s.SymOuterK(1, F)
	return s
}

// solveLinear solves the normal equations F Fᵀ c = F v, falling back to
// least squares on Fᵀ c = v if they are singular
func solveLinear(F *mat.Dense, FtF *mat.SymDense, v []float64) []float64 {
	k, n := F.Dims()
	vv := mat.NewVecDense(n, v)
	Fv := mat.NewVecDense(k, nil)
	Fv.MulVec(F, vv)
	c := mat.NewVecDense(k, nil)

	var chol mat.Cholesky
	if chol.Factorize(FtF) && chol.SolveVecTo(c, Fv) == nil {
		return c.RawVector().Data
	}
	log.Println("fitting: normal equations singular, using least squares")
	lm.LeastSquares(c, F.T(), vv)
	return c.RawVector().Data
}

// lstsqRows solves Fᵀ c = v using only the listed rows of F, returning a
// full length coefficient vector that is zero elsewhere
func lstsqRows(F *mat.Dense, rows []int, v []float64) []float64 {
	k, n := F.Dims()
	sub := mat.NewDense(n, len(rows), nil)
	for j, i := range rows {
		sub.SetCol(j, mat.Row(nil, i, F))
	}
	cm := mat.NewVecDense(len(rows), nil)
	lm.LeastSquares(cm, sub, mat.NewVecDense(n, v))
	c := make([]float64, k)
	for j, i := range rows {
		c[i] = cm.AtVec(j)
	}
	return c
}

// projectNonNegative re-solves the bimodal coefficients [thermal, condensate,
// offset] when an amplitude is negative.  A negative condensate amplitude is
// fixed to zero first, then a negative thermal amplitude.
func projectNonNegative(F *mat.Dense, v, c []float64) []float64 {
	if c[1] < 0 {
		c = lstsqRows(F, []int{0, 2}, v)
	}
	if c[0] < 0 {
		c = lstsqRows(F, []int{1, 2}, v)
	}
	return c
}
