/*Package fitpars converts raw fit coefficients into physical quantities.

Every model has its own result type.  Widths and radii are reported in µm as
|pixels| x pixel size, atom numbers in thousands, temperatures in µK.

Errors are propagated by independent quadrature of the parameter standard
errors.  Correlations between parameters are ignored, so the error bars are an
approximation.
*/
package fitpars

import (
	"errors"
	"fmt"
	"math"

	"github.com/coldatoms/siscam/imaging"
	"github.com/coldatoms/siscam/special"
)

const (
	// kB is the Boltzmann constant in J/K, to the precision used on the experiment
	kB = 1.38e-23

	// gaussIntegral is the 2D integral of a unit Gaussian per sx·sy
	gaussIntegral = 2 * math.Pi

	// boseIntegral is the 2D integral of the Bose enhanced Gaussian per sx·sy
	boseIntegral = 0.5 * 4.885 * math.Pi

	// tfIntegral is the 2D integral of the column-integrated Thomas-Fermi profile per rx·ry
	tfIntegral = 1.25
)

// ErrParams is generated when a parameter vector is too short for its model
var ErrParams = errors.New("parameter vector too short for model")

// FitPars is the result of one fit attempt
type FitPars interface {
	// Valid is false if the fit failed a sanity check or was never performed
	Valid() bool

	// Invalidate marks the result invalid.  It is idempotent
	Invalidate()

	// Description names the model
	Description() string

	// Names lists the reported quantities, in display order
	Names() []string

	// Units lists the unit of each entry of Names
	Units() []string

	// Values maps every entry of Names to its value
	Values() map[string]float64

	// Params is the model description and imaging parameters
	Params() string

	String() string
}

type validity struct {
	invalid bool
}

// Valid is false once Invalidate has been called
func (v *validity) Valid() bool { return !v.invalid }

// Invalidate marks the result invalid
func (v *validity) Invalidate() { v.invalid = true }

// unpack copies n entries of p and perr, a nil perr means zero errors
func unpack(p, perr []float64, n int) ([]float64, []float64, error) {
	if len(p) < n || (perr != nil && len(perr) < n) {
		return nil, nil, ErrParams
	}
	if perr == nil {
		perr = make([]float64, n)
	}
	return p[:n], perr[:n], nil
}

func values(names []string, vals ...float64) map[string]float64 {
	m := make(map[string]float64, len(names))
	for i, n := range names {
		m[n] = vals[i]
	}
	return m
}

// NoFit is the result of a skipped fit.  It is always invalid
type NoFit struct{}

func (NoFit) Valid() bool                { return false }
func (NoFit) Invalidate()                {}
func (NoFit) Description() string        { return "no fit" }
func (NoFit) Names() []string            { return nil }
func (NoFit) Units() []string            { return nil }
func (NoFit) Values() map[string]float64 { return map[string]float64{} }
func (NoFit) Params() string             { return "no fit" }
func (NoFit) String() string             { return "no fit" }

var (
	gaussNames = []string{"OD", "ODerr", "sx", "sxerr", "sy", "syerr", "mx", "mxerr", "my", "myerr", "T", "N", "Nerr", "sigma"}
	gaussUnits = []string{"", "", "µm", "µm", "µm", "µm", "px", "px", "px", "px", "µK", "10^3", "10^3", ""}
)

// Gauss2d is the result of a 2D Gaussian fit
type Gauss2d struct {
	validity

	// A is the peak optical density
	A, Mx, My, SxPx, SyPx, Offset float64

	AErr, MxErr, MyErr, SxPxErr, SyPxErr, OffsetErr float64

	// Sigma is the standard deviation of the fit residual
	Sigma float64

	Imaging imaging.ImagingPars
}

// NewGauss2d builds a result from p = [A, mx, my, sx, sy, offset] and its errors
func NewGauss2d(p, perr []float64, sigma float64, ip imaging.ImagingPars) (*Gauss2d, error) {
	p, perr, err := unpack(p, perr, 6)
	if err != nil {
		return nil, err
	}
	return &Gauss2d{
		A: p[0], Mx: p[1], My: p[2], SxPx: p[3], SyPx: p[4], Offset: p[5],
		AErr: perr[0], MxErr: perr[1], MyErr: perr[2], SxPxErr: perr[3], SyPxErr: perr[4], OffsetErr: perr[5],
		Sigma: sigma, Imaging: ip,
	}, nil
}

// Sx is the width in µm
func (g *Gauss2d) Sx() float64 { return math.Abs(g.SxPx) * g.Imaging.PixelSize }

// Sy is the width in µm
func (g *Gauss2d) Sy() float64 { return math.Abs(g.SyPx) * g.Imaging.PixelSize }

// SxErr is the error of Sx in µm
func (g *Gauss2d) SxErr() float64 { return math.Abs(g.SxPxErr) * g.Imaging.PixelSize }

// SyErr is the error of Sy in µm
func (g *Gauss2d) SyErr() float64 { return math.Abs(g.SyPxErr) * g.Imaging.PixelSize }

// OD is the peak optical density
func (g *Gauss2d) OD() float64 { return g.A }

// ODErr is the error of OD
func (g *Gauss2d) ODErr() float64 { return g.AErr }

// N is the atom number in thousands
func (g *Gauss2d) N() float64 { return g.number(gaussIntegral) }

// NErr is the error of N
func (g *Gauss2d) NErr() float64 { return g.numberErr(gaussIntegral) }

func (g *Gauss2d) number(integral float64) float64 {
	return 1e-3 * integral * g.A * g.Sx() * 1e-6 * g.Sy() * 1e-6 / g.Imaging.Sigma0
}

func (g *Gauss2d) numberErr(integral float64) float64 {
	sx, sy := g.Sx(), g.Sy()
	a := g.AErr * sx * sy
	b := g.A * g.SxErr() * sy
	c := g.A * sx * g.SyErr()
	return 1e-3 * integral / g.Imaging.Sigma0 * 1e-12 * math.Sqrt(a*a+b*b+c*c)
}

// T is the temperature in µK from ballistic expansion, zero without an expansion time
func (g *Gauss2d) T() float64 {
	t := g.Imaging.ExpansionTime
	if t == 0 {
		return 0
	}
	sx, sy := g.Sx()*1e-6, g.Sy()*1e-6
	return 0.5 * (sx*sx + sy*sy) / ((t * 1e-3) * (t * 1e-3)) * g.Imaging.Mass / kB * 1e6
}

// TErr is the error of T
func (g *Gauss2d) TErr() float64 {
	t := g.Imaging.ExpansionTime
	if t == 0 {
		return 0
	}
	a := g.Sx() * g.SyErr()
	b := g.SxErr() * g.Sy()
	return math.Sqrt(a*a+b*b) / ((t * 1e-3) * (t * 1e-3)) * g.Imaging.Mass / kB * 1e6 * 1e-12
}

func (g *Gauss2d) Description() string { return "Gauss2d" }
func (g *Gauss2d) Names() []string     { return gaussNames }
func (g *Gauss2d) Units() []string     { return gaussUnits }

// Values maps the reported quantities to their values
func (g *Gauss2d) Values() map[string]float64 {
	return g.values(g.OD(), g.ODErr(), g.N(), g.NErr())
}

func (g *Gauss2d) values(od, oderr, n, nerr float64) map[string]float64 {
	return values(gaussNames,
		od, oderr,
		g.Sx(), g.SxErr(),
		g.Sy(), g.SyErr(),
		g.Mx, g.MxErr,
		g.My, g.MyErr,
		g.T(),
		n, nerr,
		g.Sigma)
}

func (g *Gauss2d) Params() string { return params(g.Description(), g.Imaging) }

func (g *Gauss2d) String() string { return g.format(g.OD(), g.ODErr(), g.N(), g.NErr()) }

func (g *Gauss2d) format(od, oderr, n, nerr float64) string {
	return fmt.Sprintf("OD: %6.2f\n"+
		"     ±%3.2f\n"+
		"mx: %5.1f px\n"+
		"     ±%3.2f\n"+
		"my: %5.1f px\n"+
		"     ±%3.2f\n"+
		"sx: %5.1f µm\n"+
		"     ±%3.2f\n"+
		"sy: %5.1f µm\n"+
		"     ±%3.2f\n"+
		"T : %5.3f µK\n"+
		"   ±%5.3f\n"+
		"N : %5.1f k\n"+
		"    ±%3.2f",
		od, oderr,
		g.Mx, g.MxErr,
		g.My, g.MyErr,
		g.Sx(), g.SxErr(),
		g.Sy(), g.SyErr(),
		g.T(), g.TErr(),
		n, nerr)
}

func params(desc string, ip imaging.ImagingPars) string {
	return fmt.Sprintf("%s, %s", desc, ip)
}

// GaussBose2d is the result of a Bose enhanced Gaussian fit.  A is the
// amplitude of the g2 term, so the peak optical density is A·g2(1).
type GaussBose2d struct {
	Gauss2d
}

// NewGaussBose2d builds a result from p = [A, mx, my, sx, sy, offset] and its errors
func NewGaussBose2d(p, perr []float64, sigma float64, ip imaging.ImagingPars) (*GaussBose2d, error) {
	g, err := NewGauss2d(p, perr, sigma, ip)
	if err != nil {
		return nil, err
	}
	return &GaussBose2d{*g}, nil
}

// OD is the peak optical density
func (g *GaussBose2d) OD() float64 { return g.A * special.G2(1) }

// ODErr is the error of OD
func (g *GaussBose2d) ODErr() float64 { return g.AErr * special.G2(1) }

// N is the atom number in thousands
func (g *GaussBose2d) N() float64 { return g.number(boseIntegral) }

// NErr is the error of N
func (g *GaussBose2d) NErr() float64 { return g.numberErr(boseIntegral) }

func (g *GaussBose2d) Description() string { return "GaussBose2d" }

func (g *GaussBose2d) Values() map[string]float64 {
	return g.values(g.OD(), g.ODErr(), g.N(), g.NErr())
}

func (g *GaussBose2d) Params() string { return params(g.Description(), g.Imaging) }

func (g *GaussBose2d) String() string { return g.format(g.OD(), g.ODErr(), g.N(), g.NErr()) }
