package fitting

import (
	"log"
	"math"

	"github.com/coldatoms/siscam/fitpars"
	"github.com/coldatoms/siscam/imaging"
	"github.com/coldatoms/siscam/special"

	"gonum.org/v1/gonum/mat"
)

// parabola evaluates max(0, 1 - ((x-mx)/rx)² - ((y-my)/ry)²)^(1/2) at every point
func parabola(mx, my, rx, ry float64, x, y []float64) []float64 {
	b := make([]float64, len(x))
	for i := range x {
		u, v := (x[i]-mx)/rx, (y[i]-my)/ry
		b[i] = math.Sqrt(math.Max(0, 1-u*u-v*v))
	}
	return b
}

// bimodalBasis is [G, b³, 1], or [g2(G), b³, 1] when bose is set, for the
// nonlinear parameters p = [mx, my, sx, sy, rx, ry]
type bimodalBasis struct {
	bose bool
}

func (bimodalBasis) nonzero() [][]int {
	return [][]int{{0, 1}, {0, 1}, {0}, {0}, {1}, {1}}
}

func (bb bimodalBasis) eval(p, x, y []float64, deriv bool) (*mat.Dense, []*mat.Dense) {
	mx, my, sx, sy, rx, ry := p[0], p[1], p[2], p[3], p[4], p[5]
	n := len(x)
	G := gaussian(mx, my, sx, sy, x, y)
	b := parabola(mx, my, rx, ry, x, y)

	F := mat.NewDense(3, n, nil)
	if bb.bose {
		special.G2Slice(F.RawRowView(0), G)
	} else {
		copy(F.RawRowView(0), G)
	}
	for i := range b {
		F.Set(1, i, b[i]*b[i]*b[i])
		F.Set(2, i, 1)
	}
	if !deriv {
		return F, nil
	}

	// thermal rows carry dG, scaled by dg2(G) for the Bose variant
	gd := G
	if bb.bose {
		gd = make([]float64, n)
		special.DG2Slice(gd, G)
		for i := range gd {
			gd[i] *= G[i]
		}
	}
	Fd := make([]*mat.Dense, 6)
	for j := range Fd {
		Fd[j] = mat.NewDense(3, n, nil)
	}
	for i := range x {
		dx, dy := x[i]-mx, y[i]-my
		Fd[0].Set(0, i, gd[i]*dx/(sx*sx))
		Fd[1].Set(0, i, gd[i]*dy/(sy*sy))
		Fd[2].Set(0, i, gd[i]*dx*dx/(sx*sx*sx))
		Fd[3].Set(0, i, gd[i]*dy*dy/(sy*sy*sy))

		b3 := 3 * b[i]
		Fd[0].Set(1, i, b3*dx/(rx*rx))
		Fd[1].Set(1, i, b3*dy/(ry*ry))
		Fd[4].Set(1, i, b3*dx*dx/(rx*rx*rx))
		Fd[5].Set(1, i, b3*dy*dy/(ry*ry*ry))
	}
	return F, Fd
}

// bimodalStarts are the two start points tried by the bimodal fits: the
// condensate as large as the thermal cloud, and both twice as wide as the
// profiles suggest
func bimodalStarts(px, py [4]float64) [][]float64 {
	mx, my, sx, sy := px[1], py[1], px[2], py[2]
	return [][]float64{
		{mx, my, sx, sy, sx, sy},
		{mx, my, 2 * sx, 2 * sy, 2 * sx, 2 * sy},
	}
}

// attempt is the outcome of one bimodal start
type attempt struct {
	p, c, errs []float64
	sigma      float64
}

// raceStarts fits r from each start, best residual first, and returns the
// first attempt with positive thermal and condensate amplitudes.  If none has,
// the last attempt is returned.
func raceStarts(r *reduced, starts [][]float64) attempt {
	ss := make([]float64, len(starts))
	for i, s := range starts {
		res, _, _ := r.residual(s)
		ss[i] = residualSS(res)
	}
	order := make([]int, len(starts))
	for i := range order {
		order[i] = i
	}
	if len(order) == 2 && ss[1] < ss[0] {
		order[0], order[1] = 1, 0
	}

	var a attempt
	for _, i := range order {
		a.p, a.c, a.errs, a.sigma = r.fit(starts[i])
		if a.c[0] > 0 && a.c[1] > 0 {
			return a
		}
		log.Printf("fitting: bimodal start %d gave amplitudes %.3g, %.3g\n", i, a.c[0], a.c[1])
	}
	return a
}

// fitBimodal runs the bimodal race on img and packages the result with ctor
func fitBimodal(bose bool, img *imaging.Image, roi imaging.ROI,
	ctor func(p, perr []float64, sigma float64) (fitpars.FitPars, error)) (Result, error) {
	g, err := NewGrid(img, roi)
	if err != nil {
		return Result{}, err
	}
	px, py := profileStarts(g)
	bb := bimodalBasis{bose: bose}
	r := &reduced{b: bb, x: g.X, y: g.Y, v: g.V, project: true}
	a := raceStarts(r, bimodalStarts(px, py))
	p, c, e := a.p, a.c, a.errs

	full := []float64{c[0], p[0], p[1], p[2], p[3], c[2], c[1], p[4], p[5]}
	ferr := []float64{e[0], e[3], e[4], e[5], e[6], e[2], e[1], e[7], e[8]}
	pars, err := ctor(full, ferr, a.sigma)
	if err != nil {
		return Result{}, err
	}
	widthsX, widthsY := []float64{p[2], p[4]}, []float64{p[3], p[5]}
	check{amps: c[:2], mx: p[0], my: p[1], wx: widthsX, wy: widthsY}.apply(pars, g.ROI)

	F, _ := bb.eval(p, g.AllX, g.AllY, false)
	thermal := []float64{c[0], 0, c[2]}
	return Result{
		Images:     []*imaging.Image{g.Image(combine(F, c)), g.Image(combine(F, thermal))},
		Background: []float64{c[2]},
		Pars:       pars,
		ROI:        g.ROI,
	}, nil
}

// Bimodal2d fits a thermal Gaussian plus a Thomas-Fermi condensate sharing a
// common center.  The amplitudes are kept non-negative.
type Bimodal2d struct {
	Imaging imaging.ImagingPars
}

// Name is "bimodal2d"
func (Bimodal2d) Name() string { return "bimodal2d" }

// DoFit fits the model.  The first image is the full fit, the second only the
// thermal cloud and the offset.
func (s Bimodal2d) DoFit(img *imaging.Image, roi imaging.ROI) (Result, error) {
	return fitBimodal(false, img, roi, func(p, perr []float64, sigma float64) (fitpars.FitPars, error) {
		return fitpars.NewBimodal2d(p, perr, sigma, s.Imaging)
	})
}

// BoseBimodal2d is Bimodal2d with a Bose enhanced thermal cloud
type BoseBimodal2d struct {
	Imaging imaging.ImagingPars
}

// Name is "bosebimodal2d"
func (BoseBimodal2d) Name() string { return "bosebimodal2d" }

// DoFit fits the model.  The first image is the full fit, the second only the
// thermal cloud and the offset.
func (s BoseBimodal2d) DoFit(img *imaging.Image, roi imaging.ROI) (Result, error) {
	return fitBimodal(true, img, roi, func(p, perr []float64, sigma float64) (fitpars.FitPars, error) {
		return fitpars.NewBoseBimodal2d(p, perr, sigma, s.Imaging)
	})
}
