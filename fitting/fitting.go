/*Package fitting fits density models of cold atom clouds to absorption images.

Each model is a Strategy.  A strategy clips the region of interest to the
image, estimates start parameters from the summed profiles along x and y, runs
Levenberg-Marquardt, then packages the result as fit images, a background level
and a fitpars.FitPars.

The Bose enhanced and bimodal models use variable projection: only centers,
widths and radii are optimized by the nonlinear solver, the amplitudes and the
offset are solved for exactly at every step.

Strategies keep no state between calls and may be shared between goroutines.
Convergence is not guaranteed; a result that fails the sanity checks is
returned with Valid() == false rather than as an error.
*/
package fitting

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/coldatoms/siscam/fitpars"
	"github.com/coldatoms/siscam/imaging"

	"gonum.org/v1/gonum/mat"
)

const (
	// centerMargin is how far, in pixels, a fitted center may lie outside the ROI
	centerMargin = 100

	// maxExtent is the largest allowed width or radius, in units of the ROI extent
	maxExtent = 3
)

var (
	// ErrNilImage is generated when DoFit is called without an image
	ErrNilImage = errors.New("nil image")

	// ErrEmptyROI is generated when the ROI does not overlap the image
	ErrEmptyROI = errors.New("ROI does not overlap the image")

	// ErrNoPixels is generated when every pixel inside the ROI is masked
	ErrNoPixels = errors.New("no unmasked pixels inside ROI")

	// ErrUnknownModel is generated by New for an unregistered model name
	ErrUnknownModel = errors.New("unknown fit model")
)

// Result is the output of one fit attempt
type Result struct {
	// Images are the fitted model over the clipped ROI.  The bimodal models
	// add a second image holding only the thermal part
	Images []*imaging.Image

	// Background is the fitted offset, a single element
	Background []float64

	// Pars holds the physical quantities derived from the fit
	Pars fitpars.FitPars

	// ROI is the clipped ROI the images cover
	ROI imaging.ROI
}

// Strategy fits one model to an image region
type Strategy interface {
	// Name is the registry name of the model
	Name() string

	// DoFit fits the model to the pixels of img inside roi.  An error is only
	// returned for unusable input, a failed fit is reported through Pars.Valid
	DoFit(img *imaging.Image, roi imaging.ROI) (Result, error)
}

// Model is a forward model with an analytic Jacobian, fit directly on all of
// its parameters
type Model interface {
	// NParams is the length of the parameter vector
	NParams() int

	// Forward writes the model at the points (x[i], y[i]) into dst
	Forward(p, x, y, dst []float64)

	// Jacobian writes the derivatives at (x[i], y[i]) into J, one row per
	// parameter.  It is only called at the p of the preceding Forward call
	Jacobian(p, x, y []float64, J *mat.Dense)

	// StartParams estimates a parameter vector from the profiles of g
	StartParams(g *Grid) []float64
}

var registry = map[string]func(imaging.ImagingPars) Strategy{
	"nofit":         func(ip imaging.ImagingPars) Strategy { return NoFit{} },
	"gauss2d":       func(ip imaging.ImagingPars) Strategy { return Gauss2d{Imaging: ip} },
	"gausssym2d":    func(ip imaging.ImagingPars) Strategy { return GaussSym2d{Imaging: ip} },
	"gaussbose2d":   func(ip imaging.ImagingPars) Strategy { return GaussBose2d{Imaging: ip} },
	"bimodal2d":     func(ip imaging.ImagingPars) Strategy { return Bimodal2d{Imaging: ip} },
	"bosebimodal2d": func(ip imaging.ImagingPars) Strategy { return BoseBimodal2d{Imaging: ip} },
	"thomasfermi2d": func(ip imaging.ImagingPars) Strategy { return ThomasFermi2d{Imaging: ip} },
}

// New returns the strategy registered under name, case insensitive
func New(name string, ip imaging.ImagingPars) (Strategy, error) {
	ctor, ok := registry[strings.ToLower(name)]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownModel, name)
	}
	return ctor(ip), nil
}

// Models lists the registered model names, sorted
func Models() []string {
	out := make([]string, 0, len(registry))
	for k := range registry {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// NoFit skips fitting.  Its result is always invalid
type NoFit struct{}

// Name is "nofit"
func (NoFit) Name() string { return "nofit" }

// DoFit returns no images, a zero background and an invalid result
func (NoFit) DoFit(img *imaging.Image, roi imaging.ROI) (Result, error) {
	if img != nil {
		roi = roi.Clip(img)
	}
	return Result{Images: []*imaging.Image{}, Background: []float64{0}, Pars: fitpars.NoFit{}, ROI: roi}, nil
}

// check holds the fitted quantities the sanity checks look at
type check struct {
	amps   []float64
	mx, my float64
	wx, wy []float64
}

// apply invalidates res if any quantity is not finite, an amplitude is negative,
// a center lies more than centerMargin outside roi, or the magnitude of a width
// exceeds maxExtent times the ROI extent.  roi is the ROI clipped to the image,
// so the bounds follow the pixels actually fit.  Thomas-Fermi radii are passed
// in wx and wy next to the Gaussian widths and are bounded the same way.
func (c check) apply(res fitpars.FitPars, roi imaging.ROI) {
	all := append([]float64{c.mx, c.my}, c.amps...)
	all = append(append(all, c.wx...), c.wy...)
	for _, v := range all {
		if !finite(v) {
			res.Invalidate()
		}
	}
	for _, a := range c.amps {
		if a < 0 {
			res.Invalidate()
		}
	}
	if c.mx < float64(roi.XMin-centerMargin) || c.mx > float64(roi.XMax+centerMargin) {
		res.Invalidate()
	}
	if c.my < float64(roi.YMin-centerMargin) || c.my > float64(roi.YMax+centerMargin) {
		res.Invalidate()
	}
	for _, w := range c.wx {
		if abs(w) > maxExtent*float64(roi.Width()) {
			res.Invalidate()
		}
	}
	for _, w := range c.wy {
		if abs(w) > maxExtent*float64(roi.Height()) {
			res.Invalidate()
		}
	}
}

func abs(x float64) float64 {
	if x < 0 {
		return -x
	}
	return x
}
