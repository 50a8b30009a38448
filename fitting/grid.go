package fitting

import (
	"math"

	"github.com/coldatoms/siscam/imaging"
	"github.com/coldatoms/siscam/lm"

	"gonum.org/v1/gonum/mat"
)

// Grid holds the pixels of a clipped ROI.  Coordinates are absolute image
// pixel indices.
type Grid struct {
	// ROI is the clipped ROI
	ROI imaging.ROI

	// Xs and Ys are the axis coordinates of the ROI columns and rows
	Xs, Ys []float64

	// X, Y and V are the coordinates and values of the unmasked pixels, row-major
	X, Y, V []float64

	// AllX and AllY are the coordinates of every ROI pixel, row-major
	AllX, AllY []float64

	// ProfX is the filled ROI summed over y, ProfY summed over x
	ProfX, ProfY []float64
}

// NewGrid extracts the pixels of img inside roi.  Masked pixels are left out
// of X, Y and V and replaced by the fill value in the profiles.  ErrNoPixels is
// returned if every pixel in the ROI is masked.
func NewGrid(img *imaging.Image, roi imaging.ROI) (*Grid, error) {
	if img == nil {
		return nil, ErrNilImage
	}
	c := roi.Clip(img)
	if c.Empty() {
		return nil, ErrEmptyROI
	}
	w, h := c.Width(), c.Height()
	g := &Grid{
		ROI:   c,
		Xs:    make([]float64, w),
		Ys:    make([]float64, h),
		AllX:  make([]float64, 0, w*h),
		AllY:  make([]float64, 0, w*h),
		ProfX: make([]float64, w),
		ProfY: make([]float64, h),
	}
	for i := range g.Xs {
		g.Xs[i] = float64(c.XMin + i)
	}
	for j := range g.Ys {
		g.Ys[j] = float64(c.YMin + j)
	}
	filled := img.Filled()
	for j := 0; j < h; j++ {
		for i := 0; i < w; i++ {
			px, py := c.XMin+i, c.YMin+j
			v := filled.At(px, py)
			g.AllX = append(g.AllX, g.Xs[i])
			g.AllY = append(g.AllY, g.Ys[j])
			if !img.Masked(px, py) {
				g.X = append(g.X, g.Xs[i])
				g.Y = append(g.Y, g.Ys[j])
				g.V = append(g.V, v)
			}
			g.ProfX[i] += v
			g.ProfY[j] += v
		}
	}
	if len(g.V) == 0 {
		return nil, ErrNoPixels
	}
	return g, nil
}

// Image wraps row-major values over the full ROI as an image
func (g *Grid) Image(vals []float64) *imaging.Image {
	img, _ := imaging.New(g.ROI.Width(), g.ROI.Height(), vals)
	return img
}

// memo is a single slot cache keyed by a parameter vector.  It lets the
// Jacobian reuse what the residual at the same point already computed.
type memo struct {
	key []float64
	val [][]float64
}

func (m *memo) get(key []float64) ([][]float64, bool) {
	if m.key == nil || len(key) != len(m.key) {
		return nil, false
	}
	for i := range key {
		if key[i] != m.key[i] {
			return nil, false
		}
	}
	return m.val, true
}

func (m *memo) put(key []float64, val ...[]float64) {
	m.key = append(m.key[:0], key...)
	m.val = val
}

// fitDirect fits m to the unmasked pixels of g from p0 and returns the
// parameters, their standard errors and the residual standard deviation
func fitDirect(m Model, g *Grid, p0 []float64, s lm.Settings) (p, perr []float64, sigma float64) {
	n := len(g.V)
	np := m.NParams()
	prob := lm.Problem{
		F: func(p []float64) []float64 {
			f := make([]float64, n)
			m.Forward(p, g.X, g.Y, f)
			for i := range f {
				f[i] -= g.V[i]
			}
			return f
		},
		J: func(p []float64) *mat.Dense {
			J := mat.NewDense(np, n, nil)
			m.Jacobian(p, g.X, g.Y, J)
			return J
		},
	}
	res := lm.Solve(prob, p0, s)
	perr, sigma = lm.FitParError(res.J, res.F)
	return res.X, perr, sigma
}

// residualSS is the sum of squared residuals
func residualSS(r []float64) float64 {
	ss := 0.
	for _, v := range r {
		ss += v * v
	}
	return ss
}

func finite(x float64) bool {
	return !math.IsNaN(x) && !math.IsInf(x, 0)
}
