package fitting

import (
	"math"

	"github.com/coldatoms/siscam/fitpars"
	"github.com/coldatoms/siscam/imaging"
	"github.com/coldatoms/siscam/special"

	"gonum.org/v1/gonum/mat"
)

// gaussian evaluates exp(-(x-mx)²/2sx² - (y-my)²/2sy²) at every point
func gaussian(mx, my, sx, sy float64, x, y []float64) []float64 {
	g := make([]float64, len(x))
	for i := range x {
		dx, dy := x[i]-mx, y[i]-my
		g[i] = math.Exp(-dx*dx/(2*sx*sx) - dy*dy/(2*sy*sy))
	}
	return g
}

// boseBasis is [g2(G), 1] for the nonlinear parameters p = [mx, my, sx, sy]
type boseBasis struct{}

func (boseBasis) nonzero() [][]int { return [][]int{{0}, {0}, {0}, {0}} }

func (boseBasis) eval(p, x, y []float64, deriv bool) (*mat.Dense, []*mat.Dense) {
	mx, my, sx, sy := p[0], p[1], p[2], p[3]
	n := len(x)
	G := gaussian(mx, my, sx, sy, x, y)
	F := mat.NewDense(2, n, nil)
	g2 := F.RawRowView(0)
	special.G2Slice(g2, G)
	for i := range G {
		F.Set(1, i, 1)
	}
	if !deriv {
		return F, nil
	}
	Fd := make([]*mat.Dense, 4)
	for j := range Fd {
		Fd[j] = mat.NewDense(2, n, nil)
	}
	dg2 := make([]float64, n)
	special.DG2Slice(dg2, G)
	for i := range G {
		dx, dy := x[i]-mx, y[i]-my
		gd := G[i] * dg2[i]
		Fd[0].Set(0, i, gd*dx/(sx*sx))
		Fd[1].Set(0, i, gd*dy/(sy*sy))
		Fd[2].Set(0, i, gd*dx*dx/(sx*sx*sx))
		Fd[3].Set(0, i, gd*dy*dy/(sy*sy*sy))
	}
	return F, Fd
}

// GaussBose2d fits a Bose enhanced Gaussian A g2(G) + offset, where G is an
// elliptical Gaussian of unit height
type GaussBose2d struct {
	Imaging imaging.ImagingPars
}

// Name is "gaussbose2d"
func (GaussBose2d) Name() string { return "gaussbose2d" }

// DoFit solves for [mx, my, sx, sy] by variable projection, A and offset follow
func (s GaussBose2d) DoFit(img *imaging.Image, roi imaging.ROI) (Result, error) {
	g, err := NewGrid(img, roi)
	if err != nil {
		return Result{}, err
	}
	px, py := profileStarts(g)
	r := &reduced{b: boseBasis{}, x: g.X, y: g.Y, v: g.V}
	p, c, e, sigma := r.fit([]float64{px[1], py[1], px[2], py[2]})

	full := []float64{c[0], p[0], p[1], p[2], p[3], c[1]}
	ferr := []float64{e[0], e[2], e[3], e[4], e[5], e[1]}
	pars, err := fitpars.NewGaussBose2d(full, ferr, sigma, s.Imaging)
	if err != nil {
		return Result{}, err
	}
	check{amps: c[:1], mx: p[0], my: p[1], wx: p[2:3], wy: p[3:4]}.apply(pars, g.ROI)

	F, _ := boseBasis{}.eval(p, g.AllX, g.AllY, false)
	return Result{
		Images:     []*imaging.Image{g.Image(combine(F, c))},
		Background: []float64{c[1]},
		Pars:       pars,
		ROI:        g.ROI,
	}, nil
}

// combine is cᵀF
func combine(F *mat.Dense, c []float64) []float64 {
	_, n := F.Dims()
	out := mat.NewVecDense(n, nil)
	out.MulVec(F.T(), mat.NewVecDense(len(c), c))
	return out.RawVector().Data
}
