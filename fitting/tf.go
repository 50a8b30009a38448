package fitting

import (
	"github.com/coldatoms/siscam/fitpars"
	"github.com/coldatoms/siscam/imaging"

	"gonum.org/v1/gonum/mat"
)

// tfModel is B b³ + offset, b the Thomas-Fermi parabola, with
// p = [mx, my, offset, B, rx, ry]
type tfModel struct {
	cache memo
}

func (m *tfModel) NParams() int { return 6 }

func (m *tfModel) core(p, x, y []float64) []float64 {
	key := []float64{p[0], p[1], p[4], p[5]}
	if v, ok := m.cache.get(key); ok && len(v[0]) == len(x) {
		return v[0]
	}
	b := parabola(p[0], p[1], p[4], p[5], x, y)
	m.cache.put(key, b)
	return b
}

func (m *tfModel) Forward(p, x, y, dst []float64) {
	b := m.core(p, x, y)
	for i := range dst {
		dst[i] = p[3]*b[i]*b[i]*b[i] + p[2]
	}
}

func (m *tfModel) Jacobian(p, x, y []float64, J *mat.Dense) {
	b := m.core(p, x, y)
	mx, my, B, rx, ry := p[0], p[1], p[3], p[4], p[5]
	for i := range x {
		dx, dy := x[i]-mx, y[i]-my
		f := 3 * B * b[i]
		J.Set(0, i, f*dx/(rx*rx))
		J.Set(1, i, f*dy/(ry*ry))
		J.Set(2, i, 1)
		J.Set(3, i, b[i]*b[i]*b[i])
		J.Set(4, i, f*dx*dx/(rx*rx*rx))
		J.Set(5, i, f*dy*dy/(ry*ry*ry))
	}
}

func (m *tfModel) StartParams(g *Grid) []float64 {
	px, py := profileStarts(g)
	A := py[0] / (sqrt2pi * px[2])
	off := 0.5 * (px[3]/float64(len(g.Ys)) + py[3]/float64(len(g.Xs)))
	return []float64{px[1], py[1], off, 0.8 * A, 0.5 * px[2], 0.5 * py[2]}
}

// ThomasFermi2d fits a pure condensate, an integrated inverted parabola
type ThomasFermi2d struct {
	Imaging imaging.ImagingPars
}

// Name is "thomasfermi2d"
func (ThomasFermi2d) Name() string { return "thomasfermi2d" }

// DoFit fits p = [mx, my, offset, B, rx, ry] directly
func (s ThomasFermi2d) DoFit(img *imaging.Image, roi imaging.ROI) (Result, error) {
	g, err := NewGrid(img, roi)
	if err != nil {
		return Result{}, err
	}
	m := &tfModel{}
	p, perr, sigma := fitDirect(m, g, m.StartParams(g), settingsDirect)

	pars, err := fitpars.NewTF2d(p, perr, sigma, s.Imaging)
	if err != nil {
		return Result{}, err
	}
	check{amps: p[3:4], mx: p[0], my: p[1], wx: p[4:5], wy: p[5:6]}.apply(pars, g.ROI)

	fit := make([]float64, len(g.AllX))
	m.Forward(p, g.AllX, g.AllY, fit)
	return Result{
		Images:     []*imaging.Image{g.Image(fit)},
		Background: []float64{p[2]},
		Pars:       pars,
		ROI:        g.ROI,
	}, nil
}
