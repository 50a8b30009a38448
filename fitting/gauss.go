package fitting

import (
	"math"

	"github.com/coldatoms/siscam/fitpars"
	"github.com/coldatoms/siscam/imaging"
	"github.com/coldatoms/siscam/lm"

	"gonum.org/v1/gonum/mat"
)

var (
	sqrt2pi = math.Sqrt(2 * math.Pi)

	settingsDirect = lm.Settings{KMax: 30, Eps1: 1e-6, Eps2: 1e-6}
)

// gauss2dModel is A exp(-(x-mx)²/2sx² - (y-my)²/2sy²) + offset
// with p = [A, mx, my, sx, sy, offset]
type gauss2dModel struct {
	cache memo
}

func (m *gauss2dModel) NParams() int { return 6 }

// core returns the unit Gaussian at every point
func (m *gauss2dModel) core(p, x, y []float64) []float64 {
	key := p[1:5]
	if v, ok := m.cache.get(key); ok && len(v[0]) == len(x) {
		return v[0]
	}
	g := gaussian(p[1], p[2], p[3], p[4], x, y)
	m.cache.put(key, g)
	return g
}

func (m *gauss2dModel) Forward(p, x, y, dst []float64) {
	g := m.core(p, x, y)
	for i := range dst {
		dst[i] = p[0]*g[i] + p[5]
	}
}

func (m *gauss2dModel) Jacobian(p, x, y []float64, J *mat.Dense) {
	g := m.core(p, x, y)
	A, mx, my, sx, sy := p[0], p[1], p[2], p[3], p[4]
	for i := range x {
		dx, dy := x[i]-mx, y[i]-my
		f := A * g[i]
		J.Set(0, i, g[i])
		J.Set(1, i, f*dx/(sx*sx))
		J.Set(2, i, f*dy/(sy*sy))
		J.Set(3, i, f*dx*dx/(sx*sx*sx))
		J.Set(4, i, f*dy*dy/(sy*sy*sy))
		J.Set(5, i, 1)
	}
}

func (m *gauss2dModel) StartParams(g *Grid) []float64 {
	px, py := profileStarts(g)
	return []float64{px[0] / (py[2] * sqrt2pi), px[1], py[1], px[2], py[2], 0}
}

// Gauss2d fits an elliptical Gaussian with axes along x and y
type Gauss2d struct {
	Imaging imaging.ImagingPars
}

// Name is "gauss2d"
func (Gauss2d) Name() string { return "gauss2d" }

// DoFit fits p = [A, mx, my, sx, sy, offset] directly
func (s Gauss2d) DoFit(img *imaging.Image, roi imaging.ROI) (Result, error) {
	g, err := NewGrid(img, roi)
	if err != nil {
		return Result{}, err
	}
	m := &gauss2dModel{}
	p, perr, sigma := fitDirect(m, g, m.StartParams(g), settingsDirect)

	pars, err := fitpars.NewGauss2d(p, perr, sigma, s.Imaging)
	if err != nil {
		return Result{}, err
	}
	check{amps: p[:1], mx: p[1], my: p[2], wx: p[3:4], wy: p[4:5]}.apply(pars, g.ROI)

	fit := make([]float64, len(g.AllX))
	m.Forward(p, g.AllX, g.AllY, fit)
	return Result{
		Images:     []*imaging.Image{g.Image(fit)},
		Background: []float64{p[5]},
		Pars:       pars,
		ROI:        g.ROI,
	}, nil
}

// gaussSym2dModel is A exp(-((x-mx)²+(y-my)²)/2s²) + offset
// with p = [A, mx, my, s, offset]
type gaussSym2dModel struct {
	cache memo
}

func (m *gaussSym2dModel) NParams() int { return 5 }

func (m *gaussSym2dModel) core(p, x, y []float64) []float64 {
	key := p[1:4]
	if v, ok := m.cache.get(key); ok && len(v[0]) == len(x) {
		return v[0]
	}
	mx, my, s := p[1], p[2], p[3]
	g := make([]float64, len(x))
	for i := range x {
		dx, dy := x[i]-mx, y[i]-my
		g[i] = math.Exp(-(dx*dx + dy*dy) / (2 * s * s))
	}
	m.cache.put(key, g)
	return g
}

func (m *gaussSym2dModel) Forward(p, x, y, dst []float64) {
	g := m.core(p, x, y)
	for i := range dst {
		dst[i] = p[0]*g[i] + p[4]
	}
}

func (m *gaussSym2dModel) Jacobian(p, x, y []float64, J *mat.Dense) {
	g := m.core(p, x, y)
	A, mx, my, s := p[0], p[1], p[2], p[3]
	s2, s3 := s*s, s*s*s
	for i := range x {
		dx, dy := x[i]-mx, y[i]-my
		f := A * g[i]
		J.Set(0, i, g[i])
		J.Set(1, i, f*dx/s2)
		J.Set(2, i, f*dy/s2)
		J.Set(3, i, f*(dx*dx+dy*dy)/s3)
		J.Set(4, i, 1)
	}
}

func (m *gaussSym2dModel) StartParams(g *Grid) []float64 {
	px, py := profileStarts(g)
	return []float64{px[0] / (py[2] * sqrt2pi), px[1], py[1], (px[2] + py[2]) / 2, 0}
}

// GaussSym2d fits a rotationally symmetric Gaussian.  The result is reported
// as a Gauss2d with equal widths.
type GaussSym2d struct {
	Imaging imaging.ImagingPars
}

// Name is "gausssym2d"
func (GaussSym2d) Name() string { return "gausssym2d" }

// DoFit fits p = [A, mx, my, s, offset] directly
func (s GaussSym2d) DoFit(img *imaging.Image, roi imaging.ROI) (Result, error) {
	g, err := NewGrid(img, roi)
	if err != nil {
		return Result{}, err
	}
	m := &gaussSym2dModel{}
	p, perr, sigma := fitDirect(m, g, m.StartParams(g), settingsDirect)

	expand := func(v []float64) []float64 {
		return []float64{v[0], v[1], v[2], v[3], v[3], v[4]}
	}
	pars, err := fitpars.NewGauss2d(expand(p), expand(perr), sigma, s.Imaging)
	if err != nil {
		return Result{}, err
	}
	check{amps: p[:1], mx: p[1], my: p[2], wx: p[3:4], wy: p[3:4]}.apply(pars, g.ROI)

	fit := make([]float64, len(g.AllX))
	m.Forward(p, g.AllX, g.AllY, fit)
	return Result{
		Images:     []*imaging.Image{g.Image(fit)},
		Background: []float64{p[4]},
		Pars:       pars,
		ROI:        g.ROI,
	}, nil
}
